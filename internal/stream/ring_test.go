package stream_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/audiod/internal/stream"
)

func TestNewRingRejectsOddUsedSize(t *testing.T) {
	_, err := stream.NewRing(9, 4)
	assert.ErrorIs(t, err, stream.ErrOddUsedSize)
}

func TestRingWriteReadRoundTrip(t *testing.T) {
	r, err := stream.NewRing(960, 4) // 240 frames of 4 bytes each
	require.NoError(t, err)

	windows := r.AcquireWrite(100)
	n := 0
	for _, w := range windows {
		for i := range w {
			w[i] = byte(i)
		}
		n += len(w)
	}
	r.CommitWrite(100, 1)

	assert.Equal(t, 100, r.FramesQueued())
	assert.Equal(t, 140, r.FreeFrames())

	readWindows := r.AcquireRead(100)
	readBytes := 0
	for _, w := range readWindows {
		readBytes += len(w)
	}
	assert.Equal(t, n, readBytes)
	r.CommitRead(100, 2)

	assert.Equal(t, 0, r.FramesQueued())
	assert.Equal(t, 240, r.FreeFrames())
}

func TestRingNeverOverrunsOnAcquireWrite(t *testing.T) {
	r, err := stream.NewRing(40, 4) // 10 frames
	require.NoError(t, err)

	windows := r.AcquireWrite(100)
	total := 0
	for _, w := range windows {
		total += len(w) / 4
	}
	assert.Equal(t, 10, total, "AcquireWrite must clamp to free space")
	r.CommitWrite(total, 1)

	assert.Equal(t, 0, r.FreeFrames())
	assert.Nil(t, r.AcquireWrite(1))
}

func TestRingWraparoundSplitsIntoTwoWindows(t *testing.T) {
	r, err := stream.NewRing(40, 4) // 10 frames
	require.NoError(t, err)

	r.CommitWrite(8, 1)
	r.CommitRead(8, 1)

	windows := r.AcquireWrite(5)
	require.Len(t, windows, 2, "a write window crossing the end of the buffer must split")
	total := 0
	for _, w := range windows {
		total += len(w)
	}
	assert.Equal(t, 20, total)
}
