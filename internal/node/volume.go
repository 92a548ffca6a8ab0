package node

import "math"

// CurveKind distinguishes the two volume-curve shapes a card config section
// can declare (§6: volume_curve = simple_step | explicit).
type CurveKind int

const (
	CurveSimpleStep CurveKind = iota
	CurveExplicit
)

// steps is the fixed resolution of every volume curve: 101 steps, 0..100.
const steps = 101

// VolumeCurve maps a 0..100 user-facing step to a dBFS attenuation, either
// computed from a linear per-step dB slope (simple_step) or read from an
// explicit 101-entry table. dB values are stored as dBFS*100 integers to
// match the card-config file's integer units and avoid float round-trip
// drift when the config is parsed then re-emitted (§8 round-trip property).
type VolumeCurve struct {
	Kind CurveKind

	// simple_step fields
	MaxDBFSCenti  int // dBFS * 100 at step 100
	StepDBCenti   int // dB * 100 attenuation per step below 100

	// explicit field: dBFS*100 at each step, index 0..100
	Explicit [steps]int
}

// NewSimpleStep builds a simple-step curve: maxDBFSCenti is the dBFS value
// (times 100) at step 100, stepDBCenti is the per-step attenuation (times
// 100, positive) subtracted for every step below 100.
func NewSimpleStep(maxDBFSCenti, stepDBCenti int) VolumeCurve {
	return VolumeCurve{Kind: CurveSimpleStep, MaxDBFSCenti: maxDBFSCenti, StepDBCenti: stepDBCenti}
}

// NewExplicit builds an explicit 101-point curve.
func NewExplicit(dbfsCenti [steps]int) VolumeCurve {
	return VolumeCurve{Kind: CurveExplicit, Explicit: dbfsCenti}
}

// DBFSCenti returns the dBFS*100 value for a given 0..100 step, clamping
// step into range.
func (c VolumeCurve) DBFSCenti(step int) int {
	if step < 0 {
		step = 0
	}
	if step > 100 {
		step = 100
	}
	switch c.Kind {
	case CurveExplicit:
		return c.Explicit[step]
	default:
		return c.MaxDBFSCenti - (100-step)*c.StepDBCenti
	}
}

// Scalar converts the curve's dBFS value at step into a linear amplitude
// scalar suitable for multiplying PCM samples.
func (c VolumeCurve) Scalar(step int) float64 {
	dbfs := float64(c.DBFSCenti(step)) / 100.0
	return math.Pow(10, dbfs/20.0)
}
