// Package api serves the bridge's REST surface next to the websocket streams.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jdbcrew/devicebridge/internal/dispatcher"
	"github.com/jdbcrew/devicebridge/internal/geo"
	"github.com/jdbcrew/devicebridge/internal/monitor"
	"github.com/jdbcrew/devicebridge/pkg/control"
	"github.com/jdbcrew/devicebridge/pkg/telemetry"
)

const maxBodySize = 64 * 1024

// Simulation is what the REST handlers read from the simulator.
type Simulation interface {
	Step() telemetry.Snapshot
	Position() (latitude, longitude float64)
}

// Dispatcher routes control payloads.
type Dispatcher interface {
	Dispatch(e dispatcher.Event) (any, error)
}

// StatusProvider reports runtime status.
type StatusProvider interface {
	Status() monitor.Status
}

// Dependencies holds everything the router serves.
type Dependencies struct {
	Simulation Simulation
	Dispatcher Dispatcher
	Status     StatusProvider
	Tokens     *TokenIssuer
	Telemetry  http.Handler // websocket upgrade for /ws/telemetry
	Control    http.Handler // websocket upgrade for /ws/control
	Metrics    http.Handler
	Logger     *slog.Logger
}

// Server holds the REST handlers.
type Server struct {
	deps Dependencies
	now  func() time.Time
}

// NewServer creates the REST server.
func NewServer(deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Server{deps: deps, now: time.Now}
}

// Handler returns the routed handler wrapped in request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return s.logRequests(mux)
}

// RegisterRoutes registers every endpoint on mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	if s.deps.Telemetry != nil {
		mux.Handle("GET /ws/telemetry", s.deps.Telemetry)
	}
	if s.deps.Control != nil {
		mux.Handle("GET /ws/control", s.deps.Control)
	}
	if s.deps.Metrics != nil {
		mux.Handle("GET /metrics", s.deps.Metrics)
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/telemetry", s.handleTelemetry)
	mux.HandleFunc("GET /api/position", s.handlePosition)
	mux.HandleFunc("POST /api/control", s.handleControl)
	mux.HandleFunc("POST /api/mode", s.handleKind(control.KindMode))
	mux.HandleFunc("POST /api/steering", s.handleKind(control.KindSteering))
	mux.HandleFunc("POST /api/auth/login", s.handleLogin)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "ok")
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.Status == nil {
		writeError(w, http.StatusServiceUnavailable, "status not available")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Status.Status())
}

// handleTelemetry steps the shared state like any other consumer would.
func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Simulation.Step())
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	lat, lon := s.deps.Simulation.Position()
	pos, err := geo.Project(lat, lon)
	if err != nil {
		s.deps.Logger.Warn("Position projection failed", "latitude", lat, "longitude", lon, "error", err)
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	kind, err := control.Kind(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.dispatch(w, r, kind, body)
}

func (s *Server) handleKind(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, ok := s.readBody(w, r)
		if !ok {
			return
		}
		if !json.Valid(body) {
			writeError(w, http.StatusBadRequest, control.ErrMalformedFrame.Error())
			return
		}
		s.dispatch(w, r, kind, body)
	}
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, kind string, body []byte) {
	_, err := s.deps.Dispatcher.Dispatch(dispatcher.Event{
		Kind:      kind,
		Session:   "http:" + r.RemoteAddr,
		Payload:   body,
		Timestamp: s.now(),
	})
	switch {
	case err == nil:
		w.WriteHeader(http.StatusAccepted)
	case errors.Is(err, control.ErrMalformedFrame):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, dispatcher.ErrQueueFull):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.deps.Logger.Error("Control dispatch failed", "kind", kind, "error", err)
		writeError(w, http.StatusInternalServerError, "control command not processed")
	}
}

// LoginRequest is the mock login body.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse carries the issued token and its lifetime in seconds.
type LoginResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expiresIn"`
}

// handleLogin accepts any non-blank credentials.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	var req LoginRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed login request")
		return
	}
	if strings.TrimSpace(req.Username) == "" || strings.TrimSpace(req.Password) == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}
	if s.deps.Tokens == nil {
		writeError(w, http.StatusServiceUnavailable, "login disabled")
		return
	}

	token, err := s.deps.Tokens.Issue(req.Username)
	if err != nil {
		s.deps.Logger.Error("Token issue failed", "error", err)
		writeError(w, http.StatusInternalServerError, "token not issued")
		return
	}
	s.deps.Logger.Info("Mock login", "username", req.Username)
	writeJSON(w, http.StatusOK, LoginResponse{
		Token:     token,
		ExpiresIn: int64(s.deps.Tokens.TTL().Seconds()),
	})
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "unreadable request body")
		return nil, false
	}
	return body, true
}

// statusRecorder captures the response code for access logs.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/ws/") {
			// websocket handlers log their own lifecycle and need the raw writer
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.deps.Logger.Debug("HTTP request",
			"method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", time.Since(start))
	})
}
