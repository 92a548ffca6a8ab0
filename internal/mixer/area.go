package mixer

import "github.com/rapidaai/audiod/internal/audioformat"

// AreaBytes returns the contiguous interleaved byte window an Area
// describes, starting at offsetFrames for frames frames. Every backend in
// this repo builds its areas via audioformat.NewInterleavedArea, so channel
// 0's Buf/Offset/Step always describes the whole interleaved frame; ok is
// false if area doesn't have that shape (a future non-interleaved backend
// would need its own path here rather than silently mixing garbage).
func AreaBytes(area *audioformat.Area, format audioformat.Format, offsetFrames, frames int) ([]byte, bool) {
	if area == nil || len(area.Channels) != format.Channels {
		return nil, false
	}
	ch0 := area.Channels[0]
	frameBytes := format.FrameBytes()
	if ch0.Offset != 0 || ch0.Step != frameBytes {
		return nil, false
	}
	start := offsetFrames * frameBytes
	end := start + frames*frameBytes
	if end > len(ch0.Buf) {
		return nil, false
	}
	return ch0.Buf[start:end], true
}
