package iodev

import (
	"context"
	"sync"

	"github.com/rapidaai/audiod/internal/audioformat"
	"github.com/rapidaai/audiod/internal/node"
)

// TestDevice is an in-memory Device used by other packages' unit tests
// (engine scheduling, mixer, device list routing) to drive the Device
// interface without real hardware. It records every buffer handed out and
// lets tests inject recoverable/unrecoverable errors on demand.
type TestDevice struct {
	*Base

	mu sync.Mutex

	supported []audioformat.Format
	buf       []byte

	queuedFrames int
	delayFrames  int

	failNextGetBuffer error
	failNextPutBuffer error

	putHistory []int // frame counts passed to PutBuffer, for assertions
	noStreamN  int
}

// NewTestDevice builds a TestDevice advertising a single format.
func NewTestDevice(id uint32, dir Direction, format audioformat.Format) *TestDevice {
	d := &TestDevice{
		Base:      NewBase(id, dir),
		supported: []audioformat.Format{format},
	}
	typ := node.TypeSpeaker
	if dir == Input {
		typ = node.TypeMic
	}
	n := node.New(id, "test-node", typ, node.NewSimpleStep(0, 100))
	n.Plugged = true
	d.AddNode(n)
	return d
}

func (d *TestDevice) SupportedFormats() []audioformat.Format { return d.supported }

func (d *TestDevice) Configure(_ context.Context, format audioformat.Format, bufferFrames int) error {
	d.bind(format, bufferFrames)
	d.mu.Lock()
	d.buf = make([]byte, bufferFrames*format.FrameBytes())
	d.mu.Unlock()
	d.setState(StateOpened)
	return nil
}

func (d *TestDevice) Start() error {
	d.setState(StateRunning)
	return nil
}

func (d *TestDevice) Close() error {
	d.setState(StateClosed)
	return nil
}

func (d *TestDevice) FramesQueued() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.queuedFrames, nil
}

func (d *TestDevice) DelayFrames() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.delayFrames, nil
}

// SetQueuedFrames lets a test pin the reported hardware occupancy.
func (d *TestDevice) SetQueuedFrames(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queuedFrames = n
}

// FailNextGetBuffer arms a one-shot error returned by the next GetBuffer.
func (d *TestDevice) FailNextGetBuffer(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failNextGetBuffer = err
}

// FailNextPutBuffer arms a one-shot error returned by the next PutBuffer.
func (d *TestDevice) FailNextPutBuffer(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failNextPutBuffer = err
}

func (d *TestDevice) GetBuffer(maxFrames int) (*audioformat.Area, int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.failNextGetBuffer; err != nil {
		d.failNextGetBuffer = nil
		return nil, 0, err
	}
	frames := maxFrames
	if n := len(d.buf) / d.format.FrameBytes(); frames > n {
		frames = n
	}
	return audioformat.NewInterleavedArea(d.buf, d.format, frames), 0, nil
}

func (d *TestDevice) PutBuffer(framesWritten int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.failNextPutBuffer; err != nil {
		d.failNextPutBuffer = nil
		return err
	}
	d.putHistory = append(d.putHistory, framesWritten)
	if d.direction == Output {
		d.queuedFrames += framesWritten
	} else if d.queuedFrames >= framesWritten {
		d.queuedFrames -= framesWritten
	}
	n := framesWritten * d.format.FrameBytes()
	if n > len(d.buf) {
		n = len(d.buf)
	}
	d.InvokeHooks(d.buf[:n], d.format)
	return nil
}

func (d *TestDevice) FlushBuffer() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queuedFrames = 0
	return nil
}

func (d *TestDevice) NoStream() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.noStreamN++
	return nil
}

func (d *TestDevice) UpdateChannelLayout() error { return nil }
func (d *TestDevice) UpdateActiveNode() error    { return nil }

// PutHistory returns the frame counts passed to every PutBuffer call so far.
func (d *TestDevice) PutHistory() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]int, len(d.putHistory))
	copy(out, d.putHistory)
	return out
}

// NoStreamCalls returns how many times NoStream has been invoked.
func (d *TestDevice) NoStreamCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.noStreamN
}
