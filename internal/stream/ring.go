// Package stream implements the client-facing shared-memory ring protocol
// (§3, §4.C): the rstream record, its backing ring buffer, client id
// allocation, and the dev_stream adapter the engine uses to pull/push
// frames through a resampler on the way to or from a device.
package stream

import (
	"errors"
	"sync/atomic"
)

// ErrOddUsedSize is returned when a stream is created with an odd
// used_size; §8's boundary invariant requires it be rejected outright.
var ErrOddUsedSize = errors.New("stream: used_size must be even")

// Ring is the bounded byte ring shared between a client (producer for
// playback, consumer for capture) and the engine (the mirror). It models
// the §3 "shared-memory ring": two monotonically increasing frame
// counters, a configuration header, and a timestamp field. In this
// in-process Go port the "shared memory" is a plain byte slice guarded by
// atomics on the offsets — the memory-mapping and cross-process visibility
// concerns are pushed into internal/shm (§4.C's client handshake), not
// into the ring discipline itself.
type Ring struct {
	buf       []byte
	frameSize int // bytes per frame
	usedSize  int // bytes; one full buffer's worth, NOT the double-buffer allocation

	// writeOffset/readOffset are free-running frame counts, per §4.C
	// ("stored as free-running frame counts; the actual index is offset
	// mod used_size"). Accessed with atomic load/store so the engine and
	// the owning side never need a mutex for the hot path.
	writeOffset uint64
	readOffset  uint64

	writeTS uint64 // nanoseconds, written by whichever side just transferred
	readTS  uint64
}

// NewRing allocates a ring sized usedSizeBytes, rejecting odd sizes per
// §8. frameBytes is the size of one frame in this stream's bound format.
func NewRing(usedSizeBytes, frameBytes int) (*Ring, error) {
	if usedSizeBytes%2 != 0 {
		return nil, ErrOddUsedSize
	}
	return &Ring{
		buf:       make([]byte, usedSizeBytes),
		frameSize: frameBytes,
		usedSize:  usedSizeBytes,
	}, nil
}

// UsedSize is the ring's byte capacity.
func (r *Ring) UsedSize() int { return r.usedSize }

// FramesCapacity is the ring's capacity in frames.
func (r *Ring) FramesCapacity() int { return r.usedSize / r.frameSize }

// WriteOffset/ReadOffset are the free-running frame counters, loaded with
// acquire-like semantics (atomic.Load) so a reader on the other side of
// the handshake observes a consistent snapshot (§8: "write_offset -
// read_offset ∈ [0, used_size] at all times observable from either side
// after an acquire load").
func (r *Ring) WriteOffset() uint64 { return atomic.LoadUint64(&r.writeOffset) }
func (r *Ring) ReadOffset() uint64  { return atomic.LoadUint64(&r.readOffset) }

// FramesQueued is the number of frames the producer has written that the
// consumer hasn't yet read.
func (r *Ring) FramesQueued() int {
	return int(r.WriteOffset() - r.ReadOffset())
}

// FreeFrames is the number of frames the producer may still write without
// overrunning the consumer.
func (r *Ring) FreeFrames() int {
	return r.FramesCapacity() - r.FramesQueued()
}

// AcquireWrite returns a writable window of up to wantFrames frames,
// split into at most two contiguous slices across the ring's wraparound
// boundary. The caller must call CommitWrite with however many frames it
// actually filled.
func (r *Ring) AcquireWrite(wantFrames int) [][]byte {
	free := r.FreeFrames()
	if wantFrames > free {
		wantFrames = free
	}
	if wantFrames <= 0 {
		return nil
	}
	start := int(r.WriteOffset()%uint64(r.FramesCapacity())) * r.frameSize
	return r.slice(start, wantFrames*r.frameSize)
}

// CommitWrite advances the write offset by framesWritten and stamps the
// write timestamp. framesWritten must not exceed the frames returned by
// the preceding AcquireWrite.
func (r *Ring) CommitWrite(framesWritten int, nowNanos uint64) {
	if framesWritten <= 0 {
		return
	}
	atomic.AddUint64(&r.writeOffset, uint64(framesWritten))
	atomic.StoreUint64(&r.writeTS, nowNanos)
}

// AcquireRead returns a readable window of up to wantFrames queued
// frames, split across the wraparound boundary as needed.
func (r *Ring) AcquireRead(wantFrames int) [][]byte {
	queued := r.FramesQueued()
	if wantFrames > queued {
		wantFrames = queued
	}
	if wantFrames <= 0 {
		return nil
	}
	start := int(r.ReadOffset()%uint64(r.FramesCapacity())) * r.frameSize
	return r.slice(start, wantFrames*r.frameSize)
}

// CommitRead advances the read offset by framesRead and stamps the read
// timestamp.
func (r *Ring) CommitRead(framesRead int, nowNanos uint64) {
	if framesRead <= 0 {
		return
	}
	atomic.AddUint64(&r.readOffset, uint64(framesRead))
	atomic.StoreUint64(&r.readTS, nowNanos)
}

// slice returns byte windows starting at byte offset start, length
// lengthBytes, split in two if it wraps past the end of buf.
func (r *Ring) slice(start, lengthBytes int) [][]byte {
	start = start % len(r.buf)
	if start+lengthBytes <= len(r.buf) {
		return [][]byte{r.buf[start : start+lengthBytes]}
	}
	first := r.buf[start:]
	remaining := lengthBytes - len(first)
	return [][]byte{first, r.buf[:remaining]}
}

// WriteTimestamp/ReadTimestamp expose the last transfer's wall-clock stamp
// (nanoseconds since an arbitrary epoch chosen by the caller), per §3's
// "a timestamp the consumer writes when it finishes a transfer".
func (r *Ring) WriteTimestamp() uint64 { return atomic.LoadUint64(&r.writeTS) }
func (r *Ring) ReadTimestamp() uint64  { return atomic.LoadUint64(&r.readTS) }
