package bluetooth_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/audiod/internal/iodev/bluetooth"
)

func TestClampMTU(t *testing.T) {
	assert.Equal(t, 100, bluetooth.ClampMTU(100))
	assert.Equal(t, bluetooth.A2DPFixPacketSize, bluetooth.ClampMTU(5*bluetooth.A2DPFixPacketSize))
}

type fakeProvider struct {
	events chan bluetooth.TransportEvent
}

func newFakeProvider() *fakeProvider { return &fakeProvider{events: make(chan bluetooth.TransportEvent, 4)} }

func (p *fakeProvider) Events() <-chan bluetooth.TransportEvent { return p.events }
func (p *fakeProvider) AcquireTransport(uint32) error           { return nil }
func (p *fakeProvider) ReleaseTransport(uint32) error           { return nil }

func pipeFD(t *testing.T) int {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return int(w.Fd())
}

func TestManagerDestroysOlderA2DPOnAdd(t *testing.T) {
	provider := newFakeProvider()

	var added []*bluetooth.A2DPDevice
	var removed []uint32
	mgr := bluetooth.NewManager(provider,
		func(d *bluetooth.A2DPDevice) { added = append(added, d) },
		func(id uint32) { removed = append(removed, id) },
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mgr.Run(ctx)

	provider.events <- bluetooth.TransportEvent{Kind: bluetooth.TransportAcquired, FD: pipeFD(t), ReadMTU: 100, WriteMTU: 100}
	provider.events <- bluetooth.TransportEvent{Kind: bluetooth.TransportAcquired, FD: pipeFD(t), ReadMTU: 100, WriteMTU: 100}

	require.Eventually(t, func() bool { return len(added) == 2 }, time.Second, time.Millisecond)
	assert.Len(t, removed, 1, "adding a second A2DP transport must destroy the first")
	assert.Equal(t, added[0].ID(), removed[0])
}
