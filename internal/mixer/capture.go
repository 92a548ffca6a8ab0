package mixer

import (
	"github.com/rapidaai/audiod/internal/audioformat"
	"github.com/rapidaai/audiod/internal/stream"
)

// CaptureSink is one attached capture stream receiving frames pulled from
// a device in a capture service cycle.
type CaptureSink struct {
	Ring      *stream.Ring
	Resampler *stream.LinearResampler // nil when the sink's format matches the device's
	Matrix    [][]float64             // nil when no channel conversion is needed
}

// SplitCapture fans the frames the engine just read from a device out to
// every attached capture stream, converting per-sink as needed (§4.D:
// capture streams may each request a different format from the one thing
// a device actually captures in). Frames a sink's ring has no room for are
// dropped, matching §4.C's "a slow capture client loses frames rather than
// stalling the device".
func SplitCapture(deviceFormat audioformat.Format, in []byte, frames int, sinks []CaptureSink) {
	decoded := decodeDeviceFrames(in, frames, deviceFormat)
	for _, sink := range sinks {
		out := decoded
		if sink.Matrix != nil {
			out = applyMatrix(out, sink.Matrix)
		}
		if sink.Resampler != nil {
			out = sink.Resampler.Process(out, nil)
		}
		writeToRing(sink.Ring, out, deviceFormat)
	}
}

func decodeDeviceFrames(buf []byte, frames int, format audioformat.Format) [][]int32 {
	frameBytes := format.FrameBytes()
	sampleBytes := format.Sample.BytesPerSample()
	out := make([][]int32, 0, frames)
	for f := 0; f < frames; f++ {
		off := f * frameBytes
		if off+frameBytes > len(buf) {
			break
		}
		frame := make([]int32, format.Channels)
		for ch := 0; ch < format.Channels; ch++ {
			frame[ch] = stream.DecodeSample(buf[off+ch*sampleBytes:], format.Sample)
		}
		out = append(out, frame)
	}
	return out
}

func writeToRing(ring *stream.Ring, frames [][]int32, format audioformat.Format) {
	if len(frames) == 0 {
		return
	}
	windows := ring.AcquireWrite(len(frames))
	avail := 0
	for _, w := range windows {
		avail += len(w) / format.FrameBytes()
	}
	if avail < len(frames) {
		frames = frames[:avail]
	}

	sampleBytes := format.Sample.BytesPerSample()
	frameBytes := format.FrameBytes()
	idx := 0
	for _, w := range windows {
		for off := 0; off+frameBytes <= len(w) && idx < len(frames); off += frameBytes {
			frame := frames[idx]
			for ch := 0; ch < format.Channels && ch < len(frame); ch++ {
				stream.EncodeSample(w[off+ch*sampleBytes:], format.Saturate(frame[ch]), format.Sample)
			}
			idx++
		}
	}
	ring.CommitWrite(idx, 0)
}
