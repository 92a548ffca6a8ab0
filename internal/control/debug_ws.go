package control

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rapidaai/audiod/internal/devicelist"
	"github.com/rapidaai/audiod/pkg/commons"
)

// metricsUpgrader mirrors the teacher's websocket executor's use of
// gorilla/websocket, here on the accept side instead of as a client.
var metricsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// metricsTick is one periodic push to a connected debug-metrics client.
type metricsTick struct {
	Devices []metricsDevice `json:"devices"`
}

type metricsDevice struct {
	ID        uint32 `json:"id"`
	Direction string `json:"direction"`
	State     string `json:"state"`
	Streams   int    `json:"streams"`
}

// MetricsHandler returns an http.HandlerFunc that upgrades to a websocket
// and pushes a metricsTick every interval until the client disconnects.
// Wire it directly into net/http's default mux or a gin raw handler —
// gorilla's Upgrader works against the stdlib http.ResponseWriter either
// way, so this surface doesn't need gin itself.
func MetricsHandler(list *devicelist.List, logger commons.Logger, interval time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := metricsUpgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warnw("control: websocket upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		go drainClientReads(conn, cancel)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				tick := buildMetricsTick(list)
				b, err := json.Marshal(tick)
				if err != nil {
					continue
				}
				if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
					return
				}
			}
		}
	}
}

// drainClientReads discards whatever the client sends (this is a
// server-push-only feed) and cancels ctx once the connection closes, which
// is the only way gorilla surfaces a client-initiated disconnect.
func drainClientReads(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func buildMetricsTick(list *devicelist.List) metricsTick {
	snap := list.Snapshot()
	tick := metricsTick{Devices: make([]metricsDevice, 0, len(snap.Devices))}
	for _, dev := range snap.Devices {
		tick.Devices = append(tick.Devices, metricsDevice{
			ID:        dev.ID(),
			Direction: dev.Direction().String(),
			State:     dev.State().String(),
			Streams:   len(snap.StreamsForDevice(dev.ID())),
		})
	}
	return tick
}
