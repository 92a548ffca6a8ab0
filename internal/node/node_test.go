package node

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimpleStepCurve(t *testing.T) {
	c := NewSimpleStep(-300, 75)
	assert.Equal(t, -300, c.DBFSCenti(100))
	assert.Equal(t, -7800, c.DBFSCenti(0))
}

func TestSimpleStepCurveScalar(t *testing.T) {
	c := NewSimpleStep(0, 0)
	require.InDelta(t, 1.0, c.Scalar(100), 1e-9)
}

func TestExplicitCurve(t *testing.T) {
	var table [steps]int
	table[0] = -8000
	table[100] = 0
	c := NewExplicit(table)
	assert.Equal(t, -8000, c.DBFSCenti(0))
	assert.Equal(t, 0, c.DBFSCenti(100))
}

func TestHashNameStable(t *testing.T) {
	a := HashName("Speaker")
	b := HashName("Speaker")
	c := HashName("Headphone")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestNodeScalarAppliesUIGain(t *testing.T) {
	n := New(1, "Speaker", TypeSpeaker, NewSimpleStep(0, 0))
	n.VolumeStep = 100
	n.UIGain = 0.5
	require.InDelta(t, 0.5, n.Scalar(), 1e-9)
}
