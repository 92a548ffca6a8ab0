package devicelist

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/rapidaai/audiod/internal/iodev"
	"github.com/rapidaai/audiod/pkg/commons"
)

// LoopbackMigrator is satisfied by loopback.Device; kept as an interface
// here so devicelist doesn't import the bluetooth/alsa/loopback backend
// packages directly.
type LoopbackMigrator interface {
	Migrate(newSender iodev.Device)
}

// WireLoopbackMigration implements §4.F's "on the sender becoming
// disabled, the tap migrates to the new first-enabled output": it
// subscribes tap to this list's output enabled-hook so any AddActiveNode
// call on the output direction re-targets the tap automatically.
func (l *List) WireLoopbackMigration(tap LoopbackMigrator) {
	l.OnDeviceEnabled(func(dir iodev.Direction, dev iodev.Device) {
		if dir == iodev.Output {
			tap.Migrate(dev)
		}
	})
}

// EventKind identifies a device-list change published to the event bus.
type EventKind string

const (
	EventDeviceEnabled  EventKind = "device_enabled"
	EventDeviceDisabled EventKind = "device_disabled"
)

// Event is the wire shape published on the distributed event channel, for
// deployments running more than one audiod instance behind a shared
// debug/monitoring surface (mirroring the multi-instance assumption that
// already justifies internal/stream's RedisClientIDAllocator).
type Event struct {
	Kind      EventKind       `json:"kind"`
	Direction iodev.Direction `json:"direction"`
	DeviceID  uint32          `json:"device_id"`
}

// RedisEventBus publishes devicelist hook firings to a Redis pub/sub
// channel so a central dashboard can observe routing changes across every
// audiod instance without polling each one's debug HTTP surface.
type RedisEventBus struct {
	client  *redis.Client
	channel string
	logger  commons.Logger
}

// NewRedisEventBus constructs a bus publishing on the given channel.
func NewRedisEventBus(client *redis.Client, channel string, logger commons.Logger) *RedisEventBus {
	return &RedisEventBus{client: client, channel: channel, logger: logger}
}

// Attach wires enabled/disabled hooks on l to publish Events on the bus.
// Publish failures are logged and otherwise ignored — the event bus is an
// observability aid, not on the engine's critical path.
func (b *RedisEventBus) Attach(l *List) {
	l.OnDeviceEnabled(func(dir iodev.Direction, dev iodev.Device) {
		b.publish(Event{Kind: EventDeviceEnabled, Direction: dir, DeviceID: dev.ID()})
	})
	l.OnDeviceDisabled(func(dir iodev.Direction, dev iodev.Device) {
		b.publish(Event{Kind: EventDeviceDisabled, Direction: dir, DeviceID: dev.ID()})
	})
}

func (b *RedisEventBus) publish(ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		b.logger.Error("devicelist: failed to marshal event", "error", err)
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		b.logger.Warn("devicelist: failed to publish event", "error", err)
	}
}

// Subscribe returns a channel of decoded Events for a dashboard process to
// consume; it owns the underlying pub/sub connection until ctx is done.
func Subscribe(ctx context.Context, client *redis.Client, channel string) (<-chan Event, error) {
	sub := client.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		return nil, fmt.Errorf("devicelist: failed to subscribe to %q: %w", channel, err)
	}

	out := make(chan Event)
	go func() {
		defer close(out)
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub.Channel():
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
