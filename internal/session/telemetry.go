package session

import (
	"fmt"
	"log/slog"
	"net/http"

	ws "github.com/gorilla/websocket"

	"github.com/jdbcrew/devicebridge/internal/codec"
	"github.com/jdbcrew/devicebridge/internal/hub"
	"github.com/jdbcrew/devicebridge/internal/observability"
	"github.com/jdbcrew/devicebridge/pkg/telemetry"
)

// Simulation is the slice of the simulator a telemetry session needs.
type Simulation interface {
	Step() telemetry.Snapshot
	Latest() (telemetry.Snapshot, bool)
}

// TelemetryHandler upgrades viewers onto the telemetry push stream.
type TelemetryHandler struct {
	sim      Simulation
	enc      codec.Encoder
	reg      *hub.Registry
	cfg      Config
	logger   *slog.Logger
	metrics  *observability.Collector
	upgrader ws.Upgrader
}

// NewTelemetryHandler creates the /ws/telemetry handler. metrics may be nil.
func NewTelemetryHandler(
	sim Simulation,
	enc codec.Encoder,
	reg *hub.Registry,
	cfg Config,
	logger *slog.Logger,
	metrics *observability.Collector,
) *TelemetryHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &TelemetryHandler{
		sim:      sim,
		enc:      enc,
		reg:      reg,
		cfg:      cfg.withDefaults(),
		logger:   logger,
		metrics:  metrics,
		upgrader: newUpgrader(),
	}
}

// ServeHTTP runs one viewer's lifecycle: register, greet, wait for closure, remove.
func (h *TelemetryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Telemetry WebSocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	sess := newSession(conn, observability.StreamTelemetry, h.cfg, h.logger)
	go sess.writeLoop()

	h.metrics.ConnectionEvent(observability.StreamTelemetry, "open")
	sess.logger.Info("Telemetry WebSocket connected", "remote", r.RemoteAddr)

	if err := h.Connect(sess); err != nil {
		sess.logger.Warn("Initial snapshot not delivered", "error", err)
	}

	// inbound frames on this stream carry no meaning
	readErr := sess.readLoop(nil)

	h.Disconnect(sess)
	code, reason := closeReason(readErr)
	sess.logger.Info("Telemetry WebSocket closed", "code", code, "reason", reason)
}

// Connect registers sub and sends it one snapshot of its own. A failed
// greeting leaves sub registered; it still receives the next tick.
func (h *TelemetryHandler) Connect(sub hub.Subscriber) error {
	h.reg.Add(sub)
	h.metrics.SetSubscribers(h.reg.Len())

	snap := h.greeting()
	payload, err := codec.Encode(h.enc, snap)
	if err != nil {
		return err
	}

	if err := sub.Send(payload); err != nil {
		h.metrics.ObserveDeliveries(0, 1)
		return fmt.Errorf("%w: session %s: %w", hub.ErrDeliveryFailure, sub.ID(), err)
	}
	h.metrics.ObserveDeliveries(1, 0)
	return nil
}

// Disconnect removes sub from the registry and closes it if it can be closed.
func (h *TelemetryHandler) Disconnect(sub hub.Subscriber) {
	removed := h.reg.Remove(sub.ID())
	h.metrics.SetSubscribers(h.reg.Len())
	if removed {
		h.metrics.ConnectionEvent(observability.StreamTelemetry, "close")
	}
	if c, ok := sub.(interface{ Close() }); ok {
		c.Close()
	}
}

func (h *TelemetryHandler) greeting() telemetry.Snapshot {
	if !h.cfg.AdvanceOnConnect {
		if snap, ok := h.sim.Latest(); ok {
			return snap
		}
	}
	return h.sim.Step()
}
