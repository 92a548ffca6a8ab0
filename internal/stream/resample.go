package stream

// LinearResampler converts a stream of per-channel int32 sample frames from
// one rate to another via linear interpolation, carrying the fractional
// input position and the last input frame of the previous call across chunk
// boundaries so that resampling a stream piecewise produces the exact same
// output as resampling it in one call. This determinism (same input bytes
// in the same order always produce the same output bytes) is what §4.D
// requires and a third-party resampler's unverified internal state would
// not obviously guarantee without reading its source (see DESIGN.md for why
// this is implemented directly rather than via the teacher's dependency).
type LinearResampler struct {
	fromRate int
	toRate   int
	channels int

	pos  float64 // fractional position of the next output sample, relative to tail[0]
	tail []int32 // last input frame carried from the previous call, or nil before the first
}

// NewLinearResampler constructs a resampler converting fromRate to toRate
// for a fixed channel count.
func NewLinearResampler(fromRate, toRate, channels int) *LinearResampler {
	return &LinearResampler{fromRate: fromRate, toRate: toRate, channels: channels}
}

// Reset drops carried state, used when a stream underruns and the next
// input frame is no longer contiguous with the last one seen.
func (r *LinearResampler) Reset() {
	r.pos = 0
	r.tail = nil
}

// Process consumes in (frames of r.channels int32 samples each) and appends
// resampled frames to out, returning the extended slice.
func (r *LinearResampler) Process(in [][]int32, out [][]int32) [][]int32 {
	if r.fromRate == r.toRate {
		return append(out, in...)
	}
	if len(in) == 0 {
		return out
	}

	virtual := in
	if r.tail != nil {
		virtual = make([][]int32, 0, len(in)+1)
		virtual = append(virtual, r.tail)
		virtual = append(virtual, in...)
	}

	step := float64(r.fromRate) / float64(r.toRate)
	for {
		i0 := int(r.pos)
		if i0+1 >= len(virtual) {
			break
		}
		frac := r.pos - float64(i0)
		frame := make([]int32, r.channels)
		a, b := virtual[i0], virtual[i0+1]
		for ch := 0; ch < r.channels; ch++ {
			frame[ch] = int32(float64(a[ch]) + (float64(b[ch])-float64(a[ch]))*frac)
		}
		out = append(out, frame)
		r.pos += step
	}

	consumedIdx := int(r.pos)
	if consumedIdx >= len(virtual) {
		consumedIdx = len(virtual) - 1
	}
	r.tail = append([]int32(nil), virtual[consumedIdx]...)
	r.pos -= float64(consumedIdx)
	return out
}
