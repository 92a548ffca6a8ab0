package stream

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rapidaai/audiod/internal/audioformat"
	"github.com/rapidaai/audiod/internal/iodev"
)

func mono48k() audioformat.Format {
	return audioformat.Format{Rate: 48000, Channels: 1, Sample: audioformat.S16LE, Layout: audioformat.MonoLayout()}
}

func stereo48k() audioformat.Format {
	return audioformat.Format{Rate: 48000, Channels: 2, Sample: audioformat.S16LE, Layout: audioformat.StereoLayout()}
}

func writeIntoWindows(windows [][]byte, data []byte) {
	n := 0
	for _, w := range windows {
		n += copy(w, data[n:])
	}
}

func newTestRstream(t *testing.T, format audioformat.Format, bufferFrames int) *Rstream {
	t.Helper()
	id := NewID(1, 1)
	rs, err := NewRstream(id, 1, iodev.Output, ClientPlayback, format, bufferFrames, bufferFrames/2, EffectNone, 0)
	require.NoError(t, err)
	return rs
}

func TestDevStreamPassthroughWhenFormatsMatch(t *testing.T) {
	rs := newTestRstream(t, stereo48k(), 64)
	ds := NewDevStream(rs, stereo48k(), []audioformat.Layout{audioformat.StereoLayout()}, false)
	require.False(t, ds.NeedsConversion())

	windows := rs.Ring.AcquireWrite(4)
	writeIntoWindows(windows, []byte{1, 0, 2, 0, 3, 0, 4, 0, 5, 0, 6, 0, 7, 0, 8, 0})
	rs.Ring.CommitWrite(4, 0)

	out := make([]byte, 64)
	frames, err := ds.Fetch(4, out)
	require.NoError(t, err)
	require.Equal(t, 4, frames)
	require.Equal(t, 4, ds.LastFetched())
}

func TestDevStreamUpmixesMonoToStereo(t *testing.T) {
	rs := newTestRstream(t, mono48k(), 64)
	ds := NewDevStream(rs, stereo48k(), []audioformat.Layout{audioformat.StereoLayout()}, false)
	require.True(t, ds.NeedsConversion())

	windows := rs.Ring.AcquireWrite(2)
	writeIntoWindows(windows, []byte{0x00, 0x10, 0x00, 0x20})
	rs.Ring.CommitWrite(2, 0)

	out := make([]byte, 64)
	frames, err := ds.Fetch(2, out)
	require.NoError(t, err)
	require.Equal(t, 2, frames)
}

func TestDevStreamResamplesWhenRatesDiffer(t *testing.T) {
	srcFormat := audioformat.Format{Rate: 8000, Channels: 1, Sample: audioformat.S16LE, Layout: audioformat.MonoLayout()}
	dstFormat := audioformat.Format{Rate: 16000, Channels: 1, Sample: audioformat.S16LE, Layout: audioformat.MonoLayout()}
	rs := newTestRstream(t, srcFormat, 64)
	ds := NewDevStream(rs, dstFormat, []audioformat.Layout{audioformat.MonoLayout()}, false)
	require.True(t, ds.NeedsConversion())

	windows := rs.Ring.AcquireWrite(4)
	writeIntoWindows(windows, []byte{0, 0, 10, 0, 20, 0, 30, 0})
	rs.Ring.CommitWrite(4, 0)

	out := make([]byte, 64)
	frames, err := ds.Fetch(4, out)
	require.NoError(t, err)
	require.Greater(t, frames, 4)
}
