package bluetooth

import (
	"context"
	"os"
	"sync"

	"github.com/rapidaai/audiod/internal/audioformat"
	"github.com/rapidaai/audiod/internal/iodev"
	"github.com/rapidaai/audiod/internal/node"
)

// A2DPDevice streams PCM to a Bluetooth A2DP sink over a transport fd
// acquired from a TransportProvider. The fd is expected to already carry
// SBC-or-whatever-codec-negotiated bytes; this core treats codec framing as
// an external collaborator (§1) and just does the write.
type A2DPDevice struct {
	*iodev.Base

	mu       sync.Mutex
	file     *os.File
	writeMTU int
}

// NewA2DPDevice constructs an unattached A2DP backend; call Attach once the
// provider reports TransportAcquired for this device.
func NewA2DPDevice(id uint32, name string) *A2DPDevice {
	d := &A2DPDevice{Base: iodev.NewBase(id, iodev.Output)}
	n := node.New(id, name, node.TypeBluetooth, node.NewSimpleStep(-2000, 100))
	n.Plugged = true
	n.SoftwareVolume = true
	d.AddNode(n)
	return d
}

// Attach binds the device to a live transport fd and MTU, clamped per §9.
func (d *A2DPDevice) Attach(fd, readMTU, writeMTU int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file != nil {
		d.file.Close()
	}
	d.file = os.NewFile(uintptr(fd), "a2dp-transport")
	d.writeMTU = ClampMTU(writeMTU)
	_ = readMTU // A2DP sinks are playback-only; capture MTU unused here.
}

// Detach releases the transport fd without touching the logical device
// identity, used when the provider reports TransportReleased ahead of a
// possible re-Attach.
func (d *A2DPDevice) Detach() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file != nil {
		d.file.Close()
		d.file = nil
	}
}

func (d *A2DPDevice) SupportedFormats() []audioformat.Format {
	return []audioformat.Format{{
		Rate:     48000,
		Channels: 2,
		Sample:   audioformat.S16LE,
		Layout:   audioformat.StereoLayout(),
	}}
}

func (d *A2DPDevice) Configure(_ context.Context, format audioformat.Format, bufferFrames int) error {
	d.Bind(format, bufferFrames)
	d.SetState(iodev.StateOpened)
	return nil
}

func (d *A2DPDevice) Start() error {
	d.SetState(iodev.StateRunning)
	return nil
}

func (d *A2DPDevice) Close() error {
	d.Detach()
	d.SetState(iodev.StateClosed)
	return nil
}

func (d *A2DPDevice) FramesQueued() (int, error) { return 0, nil }
func (d *A2DPDevice) DelayFrames() (int, error)  { return d.BufferFrames(), nil }

func (d *A2DPDevice) GetBuffer(maxFrames int) (*audioformat.Area, int, error) {
	format := d.Format()
	frames := maxFrames
	if frames*format.FrameBytes() > d.writeMTU && d.writeMTU > 0 {
		frames = d.writeMTU / format.FrameBytes()
	}
	buf := make([]byte, frames*format.FrameBytes())
	return audioformat.NewInterleavedArea(buf, format, frames), 0, nil
}

// PutBuffer writes the mixed frames straight to the transport fd. A write
// error (peer gone, fd closed) is backend-unrecoverable: the device must be
// torn down and its streams reattached elsewhere (§7).
func (d *A2DPDevice) PutBuffer(framesWritten int) error {
	d.mu.Lock()
	file := d.file
	d.mu.Unlock()
	if file == nil {
		return &iodev.ErrUnrecoverable{Device: d.ID(), Err: os.ErrClosed}
	}
	buf := make([]byte, framesWritten*d.Format().FrameBytes())
	if _, err := file.Write(buf); err != nil {
		return &iodev.ErrUnrecoverable{Device: d.ID(), Err: err}
	}
	return nil
}

func (d *A2DPDevice) FlushBuffer() error         { return nil }
func (d *A2DPDevice) NoStream() error            { return nil }
func (d *A2DPDevice) UpdateChannelLayout() error { return nil }
func (d *A2DPDevice) UpdateActiveNode() error    { return nil }

// Manager enforces §9's "destroy older on add" policy for simultaneous
// A2DP devices: the source behavior this spec's Open Questions section
// documents rather than guesses at. It listens to a TransportProvider and
// keeps at most one A2DPDevice alive at a time.
type Manager struct {
	provider TransportProvider
	onAdd    func(*A2DPDevice)
	onRemove func(uint32)

	mu      sync.Mutex
	active  *A2DPDevice
	nextID  uint32
}

// NewManager constructs a Manager that calls onAdd when a new A2DP device
// should be routed in and onRemove (with the old device's id) when it's
// being destroyed to make room for a newer one.
func NewManager(provider TransportProvider, onAdd func(*A2DPDevice), onRemove func(uint32)) *Manager {
	return &Manager{provider: provider, onAdd: onAdd, onRemove: onRemove, nextID: 1}
}

// Run consumes provider events until ctx is canceled. Intended to run on
// the optional BT IPC thread mentioned in §5, not the engine thread.
func (m *Manager) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-m.provider.Events():
			if !ok {
				return
			}
			m.handle(ev)
		}
	}
}

func (m *Manager) handle(ev TransportEvent) {
	switch ev.Kind {
	case TransportAcquired:
		m.mu.Lock()
		old := m.active
		id := m.nextID
		m.nextID++
		dev := NewA2DPDevice(id, "Bluetooth A2DP")
		dev.Attach(ev.FD, ev.ReadMTU, ev.WriteMTU)
		m.active = dev
		m.mu.Unlock()

		if old != nil {
			old.Close()
			if m.onRemove != nil {
				m.onRemove(old.ID())
			}
		}
		if m.onAdd != nil {
			m.onAdd(dev)
		}
	case TransportReleased:
		m.mu.Lock()
		dev := m.active
		m.active = nil
		m.mu.Unlock()
		if dev != nil {
			dev.Close()
			if m.onRemove != nil {
				m.onRemove(dev.ID())
			}
		}
	}
}
