// Package node models the logical sub-endpoints (speaker, headphone,
// internal mic, loopback taps, …) that live on an iodev, and the volume
// curves that translate a user-facing 0..100 step into a linear scalar.
package node

import "hash/fnv"

// Type enumerates the kinds of node the engine knows how to route to.
type Type int

const (
	TypeUnknown Type = iota
	TypeSpeaker
	TypeHeadphone
	TypeHDMI
	TypeUSB
	TypeInternalMic
	TypeMic
	TypeBluetooth
	TypeLoopbackPostMix
	TypeLoopbackPostDSP
)

func (t Type) String() string {
	switch t {
	case TypeSpeaker:
		return "SPEAKER"
	case TypeHeadphone:
		return "HEADPHONE"
	case TypeHDMI:
		return "HDMI"
	case TypeUSB:
		return "USB"
	case TypeInternalMic:
		return "INTERNAL_MIC"
	case TypeMic:
		return "MIC"
	case TypeBluetooth:
		return "BLUETOOTH"
	case TypeLoopbackPostMix:
		return "POST_MIX_LOOPBACK"
	case TypeLoopbackPostDSP:
		return "POST_DSP_LOOPBACK"
	default:
		return "UNKNOWN"
	}
}

// ID is a stable node identity, derived from a content hash of the node's
// name so that the same physical endpoint gets the same id across
// reconnects of the owning device.
type ID uint32

// HashName derives a stable ID from a node's display name via FNV-1a,
// truncated to 32 bits. Collisions are tolerated — node ids are identifiers
// for routing and logging, not security tokens.
func HashName(name string) ID {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	sum := h.Sum64()
	return ID(uint32(sum) ^ uint32(sum>>32))
}

// Node is one logical endpoint on a Device: a speaker among several, a mic,
// or a loopback tap. Created at device discovery, mutated by the control
// plane, destroyed with the owning device.
type Node struct {
	ID              ID
	DeviceID        uint32
	Name            string
	Type            Type
	Plugged         bool
	UIGain          float64 // user-facing gain scaler, multiplied in after the volume curve
	Curve           VolumeCurve
	VolumeStep      int // 0..100, last value applied via SET_NODE_ATTR / SET_SYSTEM_VOLUME
	Muted           bool
	LeftRightSwap   bool
	SoftwareVolume  bool // true if this node has no hardware volume control
}

// New creates a Node with its ID derived from name and sane defaults (50%
// volume, no swap, hardware volume assumed present).
func New(deviceID uint32, name string, typ Type, curve VolumeCurve) *Node {
	return &Node{
		ID:         HashName(name),
		DeviceID:   deviceID,
		Name:       name,
		Type:       typ,
		UIGain:     1.0,
		Curve:      curve,
		VolumeStep: 50,
	}
}

// Scalar returns the linear gain this node currently contributes: the
// volume-curve dB value at VolumeStep converted to a linear scalar, times
// UIGain.
func (n *Node) Scalar() float64 {
	if n.Muted {
		return 0
	}
	return n.Curve.Scalar(n.VolumeStep) * n.UIGain
}
