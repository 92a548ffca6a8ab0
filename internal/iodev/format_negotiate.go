package iodev

import (
	"context"
	"fmt"

	"github.com/rapidaai/audiod/internal/audioformat"
)

// DefaultBufferFrames is the period-frame hint used when a device is opened
// without a caller-supplied buffer geometry (§4.E "open the owning device if
// not open").
const DefaultBufferFrames = 480

// EnsureConfigured opens dev with a negotiated format if it is still closed,
// a no-op otherwise. This is §4.E's add_active_node step 1 ("open the
// owning device if not open"), factored out so every call site that can
// newly route streams to a device (AddActiveNode, a pinned CONNECT_STREAM,
// a loopback tap registered at startup) goes through the same negotiation.
func EnsureConfigured(ctx context.Context, dev Device, requested []audioformat.Format, bufferFrames int) error {
	if dev.State() != StateClosed {
		return nil
	}
	format, ok := NegotiateFormat(dev.SupportedFormats(), requested)
	if !ok {
		return fmt.Errorf("iodev: no viable format for device %d", dev.ID())
	}
	return dev.Configure(ctx, format, bufferFrames)
}

// NegotiateFormat picks the highest-priority backend format that satisfies
// the union of formats requested by currently attached (or about-to-attach)
// streams (§4.B). supported is backend-priority-ordered, highest first.
// requested is the set of formats streams need; an empty requested set
// means "no streams yet, pick the backend's top choice".
func NegotiateFormat(supported []audioformat.Format, requested []audioformat.Format) (audioformat.Format, bool) {
	if len(supported) == 0 {
		return audioformat.Format{}, false
	}
	if len(requested) == 0 {
		return supported[0], true
	}

	// Prefer a supported format that exactly matches rate+channels+sample
	// of at least one requested format, in backend priority order, so
	// streams needing no conversion get it.
	for _, sup := range supported {
		for _, req := range requested {
			if sup.Equal(req) {
				return sup, true
			}
		}
	}
	// No exact match: every attached stream will need rate/channel
	// conversion regardless, so just take the backend's top choice.
	return supported[0], true
}

// ChannelMapStrategy identifies which of the five §4.B channel-map
// selection rules produced a given mapping, for diagnostics and tests.
type ChannelMapStrategy int

const (
	StrategyExactLayout ChannelMapStrategy = iota
	StrategyReorder
	StrategyPairSwap
	StrategyConversionMatrix
	StrategyFirstMatchingCount
)

// SelectChannelMap implements §4.B's five-step channel-map selection:
// (1) exact layout match, (2) layout match up to reorder if the backend
// allows variable positions, (3) pair-swap match, (4) best-effort via a
// conversion matrix, (5) for capture, first format with a matching channel
// count. variablePositions indicates the backend can freely reorder
// channels (as opposed to fixed wiring).
func SelectChannelMap(
	want audioformat.Layout,
	candidates []audioformat.Layout,
	variablePositions bool,
	direction Direction,
) (audioformat.Layout, ChannelMapStrategy, bool) {
	for _, cand := range candidates {
		if cand == want {
			return cand, StrategyExactLayout, true
		}
	}

	if variablePositions {
		for _, cand := range candidates {
			if sameChannelSet(want, cand) {
				return cand, StrategyReorder, true
			}
		}
	}

	for _, cand := range candidates {
		if isPairSwap(want, cand) {
			return cand, StrategyPairSwap, true
		}
	}

	if len(candidates) > 0 {
		// Best-effort: a conversion matrix can always be built against the
		// first candidate, so that's the fallback target.
		return candidates[0], StrategyConversionMatrix, true
	}

	if direction == Input {
		// No layout candidates at all: capture only needs a channel count
		// match, handled by the caller via the format's Channels field.
		return audioformat.Layout{}, StrategyFirstMatchingCount, false
	}

	return audioformat.Layout{}, StrategyExactLayout, false
}

func sameChannelSet(a, b audioformat.Layout) bool {
	present := func(l audioformat.Layout) map[int]bool {
		m := map[int]bool{}
		for _, idx := range l {
			if idx != audioformat.Unset {
				m[int(idx)] = true
			}
		}
		return m
	}
	pa, pb := present(a), present(b)
	if len(pa) != len(pb) {
		return false
	}
	for k := range pa {
		if !pb[k] {
			return false
		}
	}
	return true
}

// isPairSwap reports whether b is a equal to a with front L/R (or any two
// populated positions) swapped — a common backend quirk.
func isPairSwap(a, b audioformat.Layout) bool {
	diffs := 0
	for i := range a {
		if a[i] != b[i] {
			diffs++
		}
	}
	if diffs != 2 {
		return false
	}
	for i := range a {
		for j := i + 1; j < len(a); j++ {
			if a[i] == b[j] && a[j] == b[i] && a[i] != audioformat.Unset && a[j] != audioformat.Unset {
				return true
			}
		}
	}
	return false
}

// BuildConversionMatrix constructs a |to.Channels| x |from.Channels|
// best-effort mixing matrix mapping a source layout to a destination
// layout (§4.D). Channels present in both layouts get a 1.0 passthrough
// weight; a destination channel with no corresponding source channel is
// synthesized from the mean of all source channels so nothing is dropped
// to silence by default.
func BuildConversionMatrix(from, to audioformat.Layout, fromChannels, toChannels int) [][]float64 {
	m := make([][]float64, toChannels)
	for i := range m {
		m[i] = make([]float64, fromChannels)
	}

	for cras := range from {
		srcIdx := from[cras]
		dstIdx := to[cras]
		if srcIdx == audioformat.Unset || dstIdx == audioformat.Unset {
			continue
		}
		if int(dstIdx) < toChannels && int(srcIdx) < fromChannels {
			m[dstIdx][srcIdx] = 1.0
		}
	}

	for dst := 0; dst < toChannels; dst++ {
		allZero := true
		for src := 0; src < fromChannels; src++ {
			if m[dst][src] != 0 {
				allZero = false
				break
			}
		}
		if allZero && fromChannels > 0 {
			w := 1.0 / float64(fromChannels)
			for src := 0; src < fromChannels; src++ {
				m[dst][src] = w
			}
		}
	}
	return m
}
