package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rapidaai/audiod/internal/audioformat"
	"github.com/rapidaai/audiod/internal/devicelist"
	"github.com/rapidaai/audiod/internal/iodev"
	"github.com/rapidaai/audiod/internal/node"
	"github.com/rapidaai/audiod/internal/stream"
	"github.com/rapidaai/audiod/pkg/commons"
)

type noopLogger struct{}

func (noopLogger) Debug(args ...interface{})  {}
func (noopLogger) Debugf(string, ...interface{}) {}
func (noopLogger) Debugw(string, ...interface{}) {}
func (noopLogger) Info(args ...interface{})   {}
func (noopLogger) Infof(string, ...interface{}) {}
func (noopLogger) Infow(string, ...interface{}) {}
func (noopLogger) Warn(args ...interface{})   {}
func (noopLogger) Warnf(string, ...interface{}) {}
func (noopLogger) Warnw(string, ...interface{}) {}
func (noopLogger) Error(args ...interface{})  {}
func (noopLogger) Errorf(string, ...interface{}) {}
func (noopLogger) Errorw(string, ...interface{}) {}
func (noopLogger) With(keysAndValues ...interface{}) commons.Logger { return noopLogger{} }

func stereo48k() audioformat.Format {
	return audioformat.Format{Rate: 48000, Channels: 2, Sample: audioformat.S16LE, Layout: audioformat.StereoLayout()}
}

func newTestOutputDevice(id uint32) *iodev.TestDevice {
	dev := iodev.NewTestDevice(id, iodev.Output, stereo48k())
	dev.AddNode(node.New(id, "speaker", node.TypeSpeaker, node.NewSimpleStep(0, 0)))
	return dev
}

func TestServiceOutputNeverCommitsMoreThanFreeSpace(t *testing.T) {
	list := devicelist.New()
	e := New(list, noopLogger{}, 480)

	dev := newTestOutputDevice(1)
	list.AddDevice(dev)
	require.NoError(t, list.AddActiveNode(iodev.Output, dev.Nodes()[0].ID))

	id := stream.NewID(1, 1)
	rs, err := stream.NewRstream(id, 1, iodev.Output, stream.ClientPlayback, stereo48k(), 64, 32, stream.EffectNone, 0)
	require.NoError(t, err)
	list.Attach(rs)

	windows := rs.Ring.AcquireWrite(64)
	n := 0
	for _, w := range windows {
		for i := range w {
			w[i] = 1
		}
		n += len(w)
	}
	rs.Ring.CommitWrite(64, 0)

	dev.SetQueuedFrames(10)
	snap := list.Snapshot()
	e.serviceOutput(dev, snap)

	history := dev.PutHistory()
	require.NotEmpty(t, history)
	freeSpace := dev.BufferFrames() - 10
	for _, committed := range history {
		require.GreaterOrEqual(t, committed, 0)
		require.LessOrEqual(t, committed, freeSpace)
	}
}

func TestServiceOutputCallsNoStreamWhenNothingAttached(t *testing.T) {
	list := devicelist.New()
	e := New(list, noopLogger{}, 480)
	dev := newTestOutputDevice(1)
	list.AddDevice(dev)
	require.NoError(t, list.AddActiveNode(iodev.Output, dev.Nodes()[0].ID))

	snap := list.Snapshot()
	e.serviceOutput(dev, snap)
	require.Equal(t, 1, dev.NoStreamCalls())
}

func TestDumpReportsAttachedStreamIDs(t *testing.T) {
	list := devicelist.New()
	e := New(list, noopLogger{}, 480)
	dev := newTestOutputDevice(1)
	list.AddDevice(dev)
	require.NoError(t, list.AddActiveNode(iodev.Output, dev.Nodes()[0].ID))

	id := stream.NewID(1, 1)
	rs, err := stream.NewRstream(id, 1, iodev.Output, stream.ClientPlayback, stereo48k(), 64, 32, stream.EffectNone, 0)
	require.NoError(t, err)
	list.Attach(rs)

	d := e.dump()
	require.Len(t, d.Devices, 1)
	require.Contains(t, d.Devices[0].Streams, rs.ID)
}

func TestRunServicesEmptyDeviceFallback(t *testing.T) {
	list := devicelist.New()
	e := New(list, noopLogger{}, 480)

	id := stream.NewID(1, 1)
	rs, err := stream.NewRstream(id, 1, iodev.Output, stream.ClientPlayback, stereo48k(), 64, 32, stream.EffectNone, 0)
	require.NoError(t, err)
	windows := rs.Ring.AcquireWrite(64)
	for _, w := range windows {
		for i := range w {
			w[i] = 1
		}
	}
	rs.Ring.CommitWrite(64, 0)

	// No device is enabled for iodev.Output, so Attach routes this stream to
	// the empty device (§4.E rule 4).
	list.Attach(rs)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	require.Eventually(t, func() bool {
		return rs.Ring.FramesQueued() == 0
	}, time.Second, time.Millisecond, "empty device never drained the attached stream")

	cancel()
	<-done
}

func TestRunProcessesAddDevCommandBeforeContextCancel(t *testing.T) {
	list := devicelist.New()
	e := New(list, noopLogger{}, 480)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	dev := newTestOutputDevice(1)
	e.Submit(Command{Kind: CmdAddDev, Device: dev})

	require.Eventually(t, func() bool {
		return len(list.Snapshot().Devices) == 1
	}, time.Second, time.Millisecond)

	cancel()
	<-done
}
