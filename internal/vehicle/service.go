// Package vehicle accepts viewer commands for the simulated car. There is no
// actuator behind it yet; commands are validated, logged and remembered.
package vehicle

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jdbcrew/devicebridge/internal/dispatcher"
	"github.com/jdbcrew/devicebridge/pkg/control"
)

// Service records the latest command of each kind.
type Service struct {
	logger *slog.Logger

	mu           sync.RWMutex
	driveMode    string
	steeringMode string
	lastCommand  *control.Command
	lastCamera   *control.CameraAdjustment
	received     map[string]uint64
	lastActivity time.Time
}

// State is a read-only copy of what the service has seen.
type State struct {
	DriveMode    string                    `json:"driveMode,omitempty"`
	SteeringMode string                    `json:"steeringMode,omitempty"`
	LastCommand  *control.Command          `json:"lastCommand,omitempty"`
	LastCamera   *control.CameraAdjustment `json:"lastCamera,omitempty"`
	Received     map[string]uint64         `json:"received"`
	LastActivity *time.Time                `json:"lastActivity,omitempty"`
}

// NewService creates a vehicle command service.
func NewService(logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		logger:   logger,
		received: make(map[string]uint64),
	}
}

// Register wires every control kind into d.
func (s *Service) Register(d *dispatcher.Dispatcher, opts ...dispatcher.Option) {
	d.Register(control.KindCommand, s.HandleCommand, opts...)
	d.Register(control.KindCamera, s.HandleCamera, opts...)
	d.Register(control.KindMode, s.HandleMode, opts...)
	d.Register(control.KindSteering, s.HandleSteering, opts...)
}

// HandleCommand logs a drive command.
func (s *Service) HandleCommand(e dispatcher.Event) (any, error) {
	c, err := control.DecodeCommand(e.Payload)
	if err != nil {
		return nil, err
	}

	attrs := []any{"session", e.Session, "source", c.Source, "command", c.Command}
	if c.Value != nil {
		attrs = append(attrs, "value", *c.Value)
	}
	s.logger.Info("Control command received", attrs...)

	s.mu.Lock()
	s.lastCommand = &c
	s.touch(control.KindCommand, e.Timestamp)
	s.mu.Unlock()
	return "accepted", nil
}

// HandleCamera logs a camera pan/tilt adjustment.
func (s *Service) HandleCamera(e dispatcher.Event) (any, error) {
	c, err := control.DecodeCamera(e.Payload)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Camera pan/tilt adjustment received",
		"session", e.Session, "panDelta", c.PanDelta, "tiltDelta", c.TiltDelta)

	s.mu.Lock()
	s.lastCamera = &c
	s.touch(control.KindCamera, e.Timestamp)
	s.mu.Unlock()
	return "accepted", nil
}

// HandleMode switches the drive mode. A request without a mode is noted and
// leaves the current mode in place.
func (s *Service) HandleMode(e dispatcher.Event) (any, error) {
	mode, err := decodeMode(e)
	if err != nil {
		return nil, err
	}

	if mode == "" {
		s.logger.Info("Drive mode request noted without a mode", "session", e.Session)
	} else {
		s.logger.Info("Drive mode changed", "mode", mode, "session", e.Session)
	}

	s.mu.Lock()
	if mode != "" {
		s.driveMode = mode
	}
	s.touch(control.KindMode, e.Timestamp)
	s.mu.Unlock()
	return "accepted", nil
}

// HandleSteering switches the steering mode, with the same blank handling as
// HandleMode.
func (s *Service) HandleSteering(e dispatcher.Event) (any, error) {
	mode, err := decodeMode(e)
	if err != nil {
		return nil, err
	}

	if mode == "" {
		s.logger.Info("Steering mode request noted without a mode", "session", e.Session)
	} else {
		s.logger.Info("Steering mode changed", "mode", mode, "session", e.Session)
	}

	s.mu.Lock()
	if mode != "" {
		s.steeringMode = mode
	}
	s.touch(control.KindSteering, e.Timestamp)
	s.mu.Unlock()
	return "accepted", nil
}

func decodeMode(e dispatcher.Event) (string, error) {
	m, err := control.DecodeMode(e.Payload)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(m.Mode), nil
}

// touch must be called with mu held.
func (s *Service) touch(kind string, at time.Time) {
	s.received[kind]++
	if at.IsZero() {
		at = time.Now()
	}
	s.lastActivity = at
}

// State returns a copy of the recorded commands.
func (s *Service) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := State{
		DriveMode:    s.driveMode,
		SteeringMode: s.steeringMode,
		Received:     make(map[string]uint64, len(s.received)),
	}
	if s.lastCommand != nil {
		c := *s.lastCommand
		st.LastCommand = &c
	}
	if s.lastCamera != nil {
		c := *s.lastCamera
		st.LastCamera = &c
	}
	for k, v := range s.received {
		st.Received[k] = v
	}
	if !s.lastActivity.IsZero() {
		t := s.lastActivity
		st.LastActivity = &t
	}
	return st
}
