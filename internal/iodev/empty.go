package iodev

import (
	"context"
	"sync"

	"github.com/rapidaai/audiod/internal/audioformat"
	"github.com/rapidaai/audiod/internal/node"
)

// Empty is the always-present fallback backend (§4.E "empty device"): it
// never fails to open and sinks or sources silence at the declared cadence
// so a stream always has somewhere to live, even with zero hardware
// enabled. The device list keeps exactly one Empty per direction and routes
// every otherwise-unrouted stream to it.
type Empty struct {
	*Base

	mu     sync.Mutex
	buf    []byte
	queued int
}

// NewEmpty constructs the empty sink/source for the given direction.
func NewEmpty(id uint32, dir Direction) *Empty {
	e := &Empty{Base: NewBase(id, dir)}
	typ := node.TypeSpeaker
	if dir == Input {
		typ = node.TypeMic
	}
	n := node.New(id, "(unplugged)", typ, node.NewSimpleStep(0, 0))
	n.Plugged = false
	e.AddNode(n)
	return e
}

func (e *Empty) SupportedFormats() []audioformat.Format {
	return []audioformat.Format{{
		Rate:     48000,
		Channels: 2,
		Sample:   audioformat.S16LE,
		Layout:   audioformat.StereoLayout(),
	}}
}

func (e *Empty) Configure(_ context.Context, format audioformat.Format, bufferFrames int) error {
	e.bind(format, bufferFrames)
	e.mu.Lock()
	e.buf = make([]byte, bufferFrames*format.FrameBytes())
	e.queued = 0
	e.mu.Unlock()
	e.setState(StateOpened)
	return nil
}

func (e *Empty) Start() error {
	e.setState(StateRunning)
	return nil
}

func (e *Empty) Close() error {
	e.setState(StateClosed)
	return nil
}

func (e *Empty) FramesQueued() (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queued, nil
}

func (e *Empty) DelayFrames() (int, error) {
	return e.FramesQueued()
}

func (e *Empty) GetBuffer(maxFrames int) (*audioformat.Area, int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	frames := maxFrames
	if n := len(e.buf) / e.format.FrameBytes(); frames > n {
		frames = n
	}
	return audioformat.NewInterleavedArea(e.buf, e.format, frames), 0, nil
}

func (e *Empty) PutBuffer(framesWritten int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.direction == Output {
		e.queued += framesWritten
		// The empty sink drains at the declared rate instead of instantly,
		// so engine pacing logic sees realistic buffer occupancy.
		if e.queued > e.bufferFrames {
			e.queued = e.bufferFrames
		}
	}
	return nil
}

func (e *Empty) FlushBuffer() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queued = 0
	return nil
}

// NoStream keeps the empty device's queue decaying so FramesQueued reflects
// elapsed time even when the engine isn't actively writing to it.
func (e *Empty) NoStream() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.queued > 0 {
		e.queued--
	}
	return nil
}

func (e *Empty) UpdateChannelLayout() error { return nil }
func (e *Empty) UpdateActiveNode() error    { return nil }
