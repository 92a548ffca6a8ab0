// Package audioformat describes the rate/channel/sample-format tuples the
// engine negotiates with devices and streams, plus the saturation and
// full-scale helpers the mixer needs to sum without wrapping.
package audioformat

import "fmt"

// SampleFormat identifies the on-the-wire PCM sample layout. Only the
// formats the engine actually mixes in are enumerated; device backends are
// responsible for converting their native format to one of these before
// frames reach a dev_stream.
type SampleFormat int

const (
	S16LE SampleFormat = iota
	S24LE
	S32LE
	Float32LE
)

// BytesPerSample returns the on-wire size of one sample in this format.
func (f SampleFormat) BytesPerSample() int {
	switch f {
	case S16LE:
		return 2
	case S24LE:
		return 3
	case S32LE, Float32LE:
		return 4
	default:
		return 2
	}
}

// FullScale is the maximum magnitude representable in this format, used by
// the mixer to saturate instead of wrap on overflow.
func (f SampleFormat) FullScale() int32 {
	switch f {
	case S16LE:
		return 1<<15 - 1
	case S24LE:
		return 1<<23 - 1
	case S32LE:
		return 1<<31 - 1
	default:
		return 1<<15 - 1
	}
}

// MaxChannels is the largest channel count any node or stream may declare.
// CRAS-style channel layouts are fixed-width arrays of this size.
const MaxChannels = 8

// Channel identifies a logical audio channel position within a layout, e.g.
// front-left, front-right, LFE. -1 in a Layout slot means "not present".
type Channel int

const (
	ChannelFL Channel = iota
	ChannelFR
	ChannelRL
	ChannelRR
	ChannelFC
	ChannelLFE
	ChannelSL
	ChannelSR
	numChannels
)

// Layout maps each Channel to its index within an interleaved frame, or -1
// if that channel isn't present. Index len(Layout) == numChannels.
type Layout [numChannels]int8

// Unset is the sentinel for "this channel isn't present in the layout".
const Unset int8 = -1

// NewLayout builds a Layout with every channel unset.
func NewLayout() Layout {
	var l Layout
	for i := range l {
		l[i] = Unset
	}
	return l
}

// StereoLayout is the common 2-channel front L/R layout.
func StereoLayout() Layout {
	l := NewLayout()
	l[ChannelFL] = 0
	l[ChannelFR] = 1
	return l
}

// MonoLayout places a single channel at index 0 and leaves every CRAS
// channel position unset except front-left, which stands in for "the"
// channel — mirroring how CRAS-style engines model mono sources.
func MonoLayout() Layout {
	l := NewLayout()
	l[ChannelFL] = 0
	return l
}

// Format is a concrete, bound audio format: rate, channel count and sample
// representation. Two Formats are compatible for direct summation only if
// they're identical; anything else must go through a dev_stream converter.
type Format struct {
	Rate     int
	Channels int
	Sample   SampleFormat
	Layout   Layout
}

func (f Format) String() string {
	return fmt.Sprintf("%dHz/%dch/%v", f.Rate, f.Channels, f.Sample)
}

// FrameBytes is the number of bytes occupied by one frame (all channels) of
// this format.
func (f Format) FrameBytes() int {
	return f.Channels * f.Sample.BytesPerSample()
}

// Equal reports whether two formats are bit-for-bit identical (rate,
// channels and sample representation — layout is compared separately since
// two formats can be mix-compatible with different but reconcilable
// layouts).
func (f Format) Equal(o Format) bool {
	return f.Rate == o.Rate && f.Channels == o.Channels && f.Sample == o.Sample
}

// ChannelArea describes one channel's interleaving within an Area: its
// byte offset from the start of the buffer and the stride (in bytes)
// between successive samples of that channel.
type ChannelArea struct {
	Buf    []byte
	Offset int
	Step   int
}

// Area describes the interleaving of a window of frames, mirroring the
// cras_audio_area descriptors dev_stream adapters carry (§3). For the
// common interleaved case every channel shares the same underlying Buf
// with Offset = sampleBytes*channelIndex and Step = frameBytes.
type Area struct {
	Channels []ChannelArea
	Frames   int
}

// NewInterleavedArea builds an Area over a single interleaved buffer for
// the given format, covering frames frames starting at buf[0].
func NewInterleavedArea(buf []byte, format Format, frames int) *Area {
	sampleBytes := format.Sample.BytesPerSample()
	frameBytes := format.FrameBytes()
	a := &Area{Frames: frames, Channels: make([]ChannelArea, format.Channels)}
	for ch := 0; ch < format.Channels; ch++ {
		a.Channels[ch] = ChannelArea{
			Buf:    buf,
			Offset: ch * sampleBytes,
			Step:   frameBytes,
		}
	}
	return a
}

// Saturate clamps a 32-bit accumulator value to the format's full-scale
// range, used by the mixer after summing multiple streams.
func (f Format) Saturate(v int32) int32 {
	max := f.Sample.FullScale()
	min := -max - 1
	if v > max {
		return max
	}
	if v < min {
		return min
	}
	return v
}
