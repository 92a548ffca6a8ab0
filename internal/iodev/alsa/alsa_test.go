package alsa_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rapidaai/audiod/internal/audioformat"
	"github.com/rapidaai/audiod/internal/iodev"
	"github.com/rapidaai/audiod/internal/iodev/alsa"
	"github.com/rapidaai/audiod/internal/node"
)

func TestSupportedFormatsAreS16LEOnly(t *testing.T) {
	d := alsa.New(1, iodev.Output, "default", []*node.Node{
		node.New(1, "Speaker", node.TypeSpeaker, node.NewSimpleStep(0, 100)),
	}, nil)

	for _, f := range d.SupportedFormats() {
		assert.Equal(t, audioformat.S16LE, f.Sample)
		assert.Equal(t, 2, f.Channels)
	}
}

func TestConfigureRejectsNonS16LE(t *testing.T) {
	d := alsa.New(2, iodev.Output, "default", nil, nil)
	err := d.Configure(nil, audioformat.Format{Rate: 48000, Channels: 2, Sample: audioformat.Float32LE}, 480)
	assert.Error(t, err)
}
