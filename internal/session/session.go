// Package session serves the telemetry and control websocket streams.
package session

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"

	"github.com/jdbcrew/devicebridge/internal/channel"
)

const (
	maxFrameSize = 64 * 1024

	// DefaultSendBuffer is the per-session outbound queue length.
	DefaultSendBuffer = 16
	// DefaultWriteTimeout bounds one websocket write.
	DefaultWriteTimeout = 2 * time.Second
)

// ErrSendBufferFull is returned by Send when the viewer is not keeping up.
var ErrSendBufferFull = errors.New("send buffer full")

// ErrSessionClosed is returned by Send after the session closed.
var ErrSessionClosed = errors.New("session closed")

// Config tunes every session a handler opens.
type Config struct {
	SendBuffer   int
	WriteTimeout time.Duration
	// PingInterval enables keepalive pings; the peer must answer within two
	// intervals. Zero disables pings and read deadlines.
	PingInterval time.Duration
	// AdvanceOnConnect steps the simulation for the greeting snapshot. When
	// false the latest snapshot is reused once one exists.
	AdvanceOnConnect bool
}

func (c Config) withDefaults() Config {
	if c.SendBuffer <= 0 {
		c.SendBuffer = DefaultSendBuffer
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.PingInterval < 0 {
		c.PingInterval = 0
	}
	return c
}

func newUpgrader() ws.Upgrader {
	return ws.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		// viewers are served from any origin
		CheckOrigin: func(*http.Request) bool { return true },
	}
}

// Session is one websocket viewer. Outbound frames queue on a bounded buffer
// drained by a single writer goroutine.
type Session struct {
	id     string
	stream string
	conn   *ws.Conn
	queue  *channel.Buffered[[]byte]
	cfg    Config
	logger *slog.Logger

	done      chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool
}

func newSession(conn *ws.Conn, stream string, cfg Config, logger *slog.Logger) *Session {
	id := uuid.NewString()
	return &Session{
		id:     id,
		stream: stream,
		conn:   conn,
		queue:  channel.NewBuffered[[]byte](cfg.SendBuffer),
		cfg:    cfg,
		logger: logger.With("session", id, "stream", stream),
		done:   make(chan struct{}),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Closed reports whether the session has shut down.
func (s *Session) Closed() bool {
	return s.closed.Load()
}

// Send queues payload without blocking.
func (s *Session) Send(payload []byte) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	if !s.queue.TrySend(payload) {
		return ErrSendBufferFull
	}
	return nil
}

// Pending returns the number of queued frames.
func (s *Session) Pending() int {
	return s.queue.Len()
}

// Close sends a close frame and releases the connection. Safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.done)
		_ = s.conn.WriteControl(
			ws.CloseMessage,
			ws.FormatCloseMessage(ws.CloseNormalClosure, ""),
			time.Now().Add(s.cfg.WriteTimeout),
		)
		_ = s.conn.Close()
	})
}

// writeLoop drains the queue and writes messages to the websocket.
// It returns on write error or shutdown.
func (s *Session) writeLoop() {
	var ping <-chan time.Time
	if s.cfg.PingInterval > 0 {
		ticker := time.NewTicker(s.cfg.PingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case <-s.done:
			return
		case data := <-s.queue.Receive():
			if err := s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
				s.logger.Warn("WebSocket SetWriteDeadline error", "error", err)
				s.Close()
				return
			}
			if err := s.conn.WriteMessage(ws.TextMessage, data); err != nil {
				// a timed out write leaves the connection unusable
				s.logger.Warn("WebSocket write error", "error", err)
				s.Close()
				return
			}
		case <-ping:
			if err := s.conn.WriteControl(ws.PingMessage, nil, time.Now().Add(s.cfg.WriteTimeout)); err != nil {
				s.logger.Warn("WebSocket ping error", "error", err)
				s.Close()
				return
			}
		}
	}
}

// readLoop blocks until the peer disconnects, handing each inbound frame to
// onMessage. It always returns a non-nil error describing the closure.
func (s *Session) readLoop(onMessage func(messageType int, data []byte)) error {
	s.conn.SetReadLimit(maxFrameSize)

	extend := func() {}
	if s.cfg.PingInterval > 0 {
		wait := 2 * s.cfg.PingInterval
		extend = func() { _ = s.conn.SetReadDeadline(time.Now().Add(wait)) }
		extend()
		s.conn.SetPongHandler(func(string) error {
			extend()
			return nil
		})
	}

	for {
		mt, data, err := s.conn.ReadMessage()
		if err != nil {
			return err
		}
		extend()
		if onMessage != nil {
			onMessage(mt, data)
		}
	}
}

// closeReason extracts the websocket close code from a read loop error.
// Errors without a close frame count as abnormal closure.
func closeReason(err error) (code int, reason string) {
	var ce *ws.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text
	}
	if err == nil {
		return ws.CloseNormalClosure, ""
	}
	return ws.CloseAbnormalClosure, err.Error()
}
