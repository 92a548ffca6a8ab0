package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeBlocklist(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "blocklist.ini")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestBlocklistMissingFileIsEmpty(t *testing.T) {
	bl, err := LoadBlocklist(filepath.Join(t.TempDir(), "does-not-exist.ini"))
	require.NoError(t, err)
	assert.False(t, bl.Check(0x0d8c, 0x0008, "00000012", 0))
}

func TestBlocklistCheckSymmetric(t *testing.T) {
	path := writeBlocklist(t, "[USB_Outputs]\n0d8c_0008_00000012_0 = 1\n")
	bl, err := LoadBlocklist(path)
	require.NoError(t, err)

	assert.True(t, bl.Check(0x0d8c, 0x0008, "00000012", 0))
	// neighbors: different vendor/product/checksum/index must all miss.
	assert.False(t, bl.Check(0x0d8d, 0x0008, "00000012", 0))
	assert.False(t, bl.Check(0x0d8c, 0x0009, "00000012", 0))
	assert.False(t, bl.Check(0x0d8c, 0x0008, "00000013", 0))
	assert.False(t, bl.Check(0x0d8c, 0x0008, "00000012", 1))
}

func TestBlocklistZeroValueIgnored(t *testing.T) {
	path := writeBlocklist(t, "[USB_Outputs]\n0d8c_0008_00000012_0 = 0\n")
	bl, err := LoadBlocklist(path)
	require.NoError(t, err)
	assert.False(t, bl.Check(0x0d8c, 0x0008, "00000012", 0))
}

func TestParseChecksumValidation(t *testing.T) {
	_, err := ParseChecksum("12")
	assert.Error(t, err)
	_, err = ParseChecksum("zzzzzzzz")
	assert.Error(t, err)
	norm, err := ParseChecksum("00ABCDEF")
	require.NoError(t, err)
	assert.Equal(t, "00abcdef", norm)
}
