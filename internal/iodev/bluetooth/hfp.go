package bluetooth

import (
	"context"
	"os"
	"sync"

	"github.com/rapidaai/audiod/internal/audioformat"
	"github.com/rapidaai/audiod/internal/iodev"
	"github.com/rapidaai/audiod/internal/node"
)

// hfpFormat is the narrowband CVSD rate HFP negotiates by default; the
// codec framing itself (CVSD/mSBC) is an external collaborator per §1, so
// this backend only moves already-decoded/to-be-encoded 16-bit PCM across
// the SCO socket.
func hfpFormat() audioformat.Format {
	return audioformat.Format{Rate: 8000, Channels: 1, Sample: audioformat.S16LE, Layout: audioformat.MonoLayout()}
}

// HFPDevice is one direction (speaker or mic) of an HFP/SCO call audio
// path. A call has exactly one SCO socket shared by both directions; the
// device list owns a pair of HFPDevice values pointed at the same
// transport.
type HFPDevice struct {
	*iodev.Base

	mu   sync.Mutex
	file *os.File
	mtu  int
}

// NewHFPDevice constructs one direction of an HFP call path.
func NewHFPDevice(id uint32, dir iodev.Direction, name string) *HFPDevice {
	d := &HFPDevice{Base: iodev.NewBase(id, dir)}
	typ := node.TypeBluetooth
	n := node.New(id, name, typ, node.NewSimpleStep(-2000, 100))
	n.Plugged = true
	n.SoftwareVolume = true
	d.AddNode(n)
	return d
}

// Attach binds both HFP directions to the same SCO fd; call it once on
// each HFPDevice sharing the call.
func (d *HFPDevice) Attach(fd, mtu int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file != nil {
		d.file.Close()
	}
	d.file = os.NewFile(uintptr(fd), "hfp-sco")
	d.mtu = mtu
}

func (d *HFPDevice) Detach() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file != nil {
		d.file.Close()
		d.file = nil
	}
}

func (d *HFPDevice) SupportedFormats() []audioformat.Format {
	return []audioformat.Format{hfpFormat()}
}

func (d *HFPDevice) Configure(_ context.Context, format audioformat.Format, bufferFrames int) error {
	d.Bind(format, bufferFrames)
	d.SetState(iodev.StateOpened)
	return nil
}

func (d *HFPDevice) Start() error {
	d.SetState(iodev.StateRunning)
	return nil
}

func (d *HFPDevice) Close() error {
	d.Detach()
	d.SetState(iodev.StateClosed)
	return nil
}

func (d *HFPDevice) FramesQueued() (int, error) { return 0, nil }
func (d *HFPDevice) DelayFrames() (int, error)  { return d.BufferFrames(), nil }

func (d *HFPDevice) GetBuffer(maxFrames int) (*audioformat.Area, int, error) {
	format := d.Format()
	frames := maxFrames
	if d.Direction() == iodev.Input {
		d.mu.Lock()
		file := d.file
		mtu := d.mtu
		d.mu.Unlock()
		if file == nil {
			return audioformat.NewInterleavedArea(nil, format, 0), 0, nil
		}
		if mtu > 0 && frames*format.FrameBytes() > mtu {
			frames = mtu / format.FrameBytes()
		}
		buf := make([]byte, frames*format.FrameBytes())
		n, err := file.Read(buf)
		if err != nil {
			return nil, 0, &iodev.ErrUnrecoverable{Device: d.ID(), Err: err}
		}
		framesRead := n / format.FrameBytes()
		return audioformat.NewInterleavedArea(buf[:n], format, framesRead), 0, nil
	}

	d.mu.Lock()
	mtu := d.mtu
	d.mu.Unlock()
	if mtu > 0 && frames*format.FrameBytes() > mtu {
		frames = mtu / format.FrameBytes()
	}
	buf := make([]byte, frames*format.FrameBytes())
	return audioformat.NewInterleavedArea(buf, format, frames), 0, nil
}

func (d *HFPDevice) PutBuffer(framesWritten int) error {
	if d.Direction() == iodev.Input {
		return nil // capture side: frames were already consumed by GetBuffer's Read.
	}
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

func (d *HFPDevice) FlushBuffer() error         { return nil }
func (d *HFPDevice) NoStream() error            { return nil }
func (d *HFPDevice) UpdateChannelLayout() error { return nil }
func (d *HFPDevice) UpdateActiveNode() error    { return nil }
