package session

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	ws "github.com/gorilla/websocket"

	"github.com/jdbcrew/devicebridge/internal/dispatcher"
	"github.com/jdbcrew/devicebridge/internal/observability"
	"github.com/jdbcrew/devicebridge/pkg/control"
)

// Control frame outcomes recorded in metrics.
const (
	FrameAccepted  = "accepted"
	FrameMalformed = "malformed"
	FrameFailed    = "failed"
	FrameIgnored   = "ignored"
)

// Dispatcher routes decoded control frames.
type Dispatcher interface {
	Dispatch(e dispatcher.Event) (any, error)
}

// ControlHandler upgrades viewers onto the inbound control stream.
type ControlHandler struct {
	dispatch Dispatcher
	cfg      Config
	logger   *slog.Logger
	metrics  *observability.Collector
	upgrader ws.Upgrader
	now      func() time.Time
}

// NewControlHandler creates the /ws/control handler. metrics may be nil.
func NewControlHandler(d Dispatcher, cfg Config, logger *slog.Logger, metrics *observability.Collector) *ControlHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ControlHandler{
		dispatch: d,
		cfg:      cfg.withDefaults(),
		logger:   logger,
		metrics:  metrics,
		upgrader: newUpgrader(),
		now:      time.Now,
	}
}

// ServeHTTP reads frames until the viewer disconnects. Bad frames are logged
// and skipped; they never close the connection.
func (h *ControlHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Control WebSocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	sess := newSession(conn, observability.StreamControl, h.cfg, h.logger)
	go sess.writeLoop()

	h.metrics.ConnectionEvent(observability.StreamControl, "open")
	sess.logger.Info("Control WebSocket connected", "remote", r.RemoteAddr)

	readErr := sess.readLoop(func(mt int, data []byte) {
		if mt != ws.TextMessage {
			h.metrics.ControlFrame(FrameIgnored)
			sess.logger.Debug("Ignoring non-text control frame", "type", mt)
			return
		}
		if err := h.HandleFrame(sess.ID(), data); err != nil {
			sess.logger.Warn("Control frame rejected", "error", err)
		}
	})

	sess.Close()
	h.metrics.ConnectionEvent(observability.StreamControl, "close")
	code, reason := closeReason(readErr)
	sess.logger.Info("Control WebSocket closed", "code", code, "reason", reason)
}

// HandleFrame decodes one text frame and dispatches it by kind.
func (h *ControlHandler) HandleFrame(sessionID string, data []byte) error {
	kind, err := control.Kind(data)
	if err != nil {
		h.metrics.ControlFrame(FrameMalformed)
		return err
	}

	_, err = h.dispatch.Dispatch(dispatcher.Event{
		Kind:      kind,
		Session:   sessionID,
		Payload:   append([]byte(nil), data...),
		Timestamp: h.now(),
	})
	switch {
	case err == nil:
		h.metrics.ControlFrame(FrameAccepted)
	case errors.Is(err, control.ErrMalformedFrame):
		h.metrics.ControlFrame(FrameMalformed)
	default:
		h.metrics.ControlFrame(FrameFailed)
	}
	return err
}
