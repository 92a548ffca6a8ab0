package config

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/audiod/internal/node"
)

func writeCardConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "card.ini")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestParseSimpleStepSection(t *testing.T) {
	path := writeCardConfig(t, "[Speaker]\nvolume_curve = simple_step\nmax_volume = -300\nvolume_step = 75\n\n")
	cfg, errs := ParseCardConfig(path)
	require.Empty(t, errs)

	curve, ok := cfg.Curve("Speaker")
	require.True(t, ok)
	assert.Equal(t, node.CurveSimpleStep, curve.Kind)
	assert.Equal(t, -300, curve.DBFSCenti(100))
	assert.Equal(t, -7800, curve.DBFSCenti(0))
}

func TestParseExplicitSection(t *testing.T) {
	body := "[Headphone]\nvolume_curve = explicit\n"
	for i := 0; i <= 100; i++ {
		body += "dB_at_" + strconv.Itoa(i) + " = -100\n"
	}
	path := writeCardConfig(t, body)
	cfg, errs := ParseCardConfig(path)
	require.Empty(t, errs)

	curve, ok := cfg.Curve("Headphone")
	require.True(t, ok)
	assert.Equal(t, node.CurveExplicit, curve.Kind)
	assert.Equal(t, -100, curve.DBFSCenti(50))
}

func TestUnknownCurveKindIsAnError(t *testing.T) {
	path := writeCardConfig(t, "[Mic]\nvolume_curve = bogus\n")
	_, errs := ParseCardConfig(path)
	require.Len(t, errs, 1)
}

func TestCardConfigRoundTrip(t *testing.T) {
	cfg := NewCardConfig()
	cfg.Set("Speaker", node.NewSimpleStep(-300, 75))
	var table [101]int
	table[100] = 0
	cfg.Set("Headphone", node.NewExplicit(table))

	emitted := cfg.Emit()
	path := writeCardConfig(t, emitted)

	reparsed, errs := ParseCardConfig(path)
	require.Empty(t, errs)
	assert.Equal(t, emitted, reparsed.Emit())
	assert.Equal(t, []string{"Speaker", "Headphone"}, reparsed.Sections())
}
