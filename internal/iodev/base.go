package iodev

import (
	"reflect"
	"sync"

	"github.com/rapidaai/audiod/internal/audioformat"
	"github.com/rapidaai/audiod/internal/node"
)

// Base implements the bookkeeping every backend needs (nodes, active node,
// state, sample hooks) so concrete backends only write the hardware-facing
// methods. Embed it and override what differs.
type Base struct {
	mu sync.Mutex

	id        uint32
	direction Direction
	state     State

	nodes      []*node.Node
	activeNode *node.Node

	format       audioformat.Format
	bufferFrames int

	keyedHooks []KeyedHook
}

// NewBase constructs a Base with the given identity and direction.
func NewBase(id uint32, dir Direction) *Base {
	return &Base{id: id, direction: dir, state: StateClosed}
}

func (b *Base) ID() uint32           { return b.id }
func (b *Base) Direction() Direction { return b.direction }

func (b *Base) Nodes() []*node.Node {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*node.Node, len(b.nodes))
	copy(out, b.nodes)
	return out
}

func (b *Base) AddNode(n *node.Node) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nodes = append(b.nodes, n)
	if b.activeNode == nil {
		b.activeNode = n
	}
}

func (b *Base) ActiveNode() *node.Node {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.activeNode
}

func (b *Base) SetActiveNode(n *node.Node) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.activeNode = n
}

func (b *Base) Format() audioformat.Format { return b.format }
func (b *Base) BufferFrames() int          { return b.bufferFrames }
func (b *Base) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Base) setState(s State) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = s
}

func (b *Base) bind(format audioformat.Format, bufferFrames int) {
	b.format = format
	b.bufferFrames = bufferFrames
}

// SetState is the exported form of setState for backends that live in a
// subpackage (alsa, loopback, bluetooth) and so can't reach Base's
// unexported fields directly.
func (b *Base) SetState(s State) { b.setState(s) }

// Bind is the exported form of bind, see SetState.
func (b *Base) Bind(format audioformat.Format, bufferFrames int) { b.bind(format, bufferFrames) }

// KeyedHook pairs a hook with an opaque key so it can be removed later —
// Go func values aren't comparable with ==, so identity must be tracked
// explicitly alongside the closure.
type KeyedHook struct {
	Key  interface{}
	Hook SampleHook
}

// RegisterSampleHook installs h, keyed by its own func value via
// reflect.Value.Pointer() so RemoveSampleHook can find it again. Loopback
// taps that need a stable key across re-registration should use
// RegisterKeyedHook instead.
func (b *Base) RegisterSampleHook(h SampleHook) {
	b.RegisterKeyedHook(reflect.ValueOf(h).Pointer(), h)
}

// RemoveSampleHook removes a hook previously installed by RegisterSampleHook
// with the identical func value.
func (b *Base) RemoveSampleHook(h SampleHook) {
	b.RemoveKeyedHook(reflect.ValueOf(h).Pointer())
}

// RegisterKeyedHook installs h under key, replacing any previous hook
// registered under the same key.
func (b *Base) RegisterKeyedHook(key interface{}, h SampleHook) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.keyedHooks = append(removeKeyed(b.keyedHooks, key), KeyedHook{Key: key, Hook: h})
}

// RemoveKeyedHook removes the hook registered under key, if any.
func (b *Base) RemoveKeyedHook(key interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.keyedHooks = removeKeyed(b.keyedHooks, key)
}

func removeKeyed(hooks []KeyedHook, key interface{}) []KeyedHook {
	out := hooks[:0:0]
	for _, kh := range hooks {
		if kh.Key != key {
			out = append(out, kh)
		}
	}
	return out
}

// InvokeHooks calls every registered hook with the finished mix. Errors
// from a hook are not possible by design (hooks are best-effort copies,
// §4.F); this never blocks the engine on a slow consumer.
func (b *Base) InvokeHooks(frames []byte, format audioformat.Format) {
	b.mu.Lock()
	hooks := make([]KeyedHook, len(b.keyedHooks))
	copy(hooks, b.keyedHooks)
	b.mu.Unlock()
	for _, kh := range hooks {
		kh.Hook(frames, format)
	}
}
