// Package monitor reports bridge runtime status and mirrors it to a status file.
package monitor

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/jdbcrew/devicebridge/internal/vehicle"
)

// Scheduler is the broadcast loop as seen by the monitor.
type Scheduler interface {
	IsRunning() bool
	Ticks() uint64
	Interval() time.Duration
	LastTickDuration() time.Duration
}

// Subscribers counts registered telemetry viewers.
type Subscribers interface {
	Len() int
}

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	Scheduler   Scheduler
	Subscribers Subscribers
	Vehicle     *vehicle.Service
	Logger      *slog.Logger
	StatusFile  string
	Version     string
	StartedAt   time.Time
	Now         func() time.Time
}

// Status is a point-in-time view of the bridge.
type Status struct {
	Version            string         `json:"version"`
	Time               time.Time      `json:"time"`
	StartedAt          time.Time      `json:"startedAt"`
	UptimeSeconds      float64        `json:"uptimeSeconds"`
	SchedulerRunning   bool           `json:"schedulerRunning"`
	TickIntervalMs     int64          `json:"tickIntervalMs"`
	Ticks              uint64         `json:"ticks"`
	LastTickDurationMs float64        `json:"lastTickDurationMs"`
	Subscribers        int            `json:"subscribers"`
	Vehicle            *vehicle.State `json:"vehicle,omitempty"`
}

// Service manages status monitoring
type Service struct {
	deps      Dependencies
	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}
	doneChan  chan struct{}
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.StartedAt.IsZero() {
		deps.StartedAt = deps.Now()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Service{
		deps:     deps,
		stopChan: make(chan struct{}),
	}
}

// IsRunning returns whether the status monitor is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Status returns the current program status
func (s *Service) Status() Status {
	now := s.deps.Now()
	st := Status{
		Version:       s.deps.Version,
		Time:          now.UTC(),
		StartedAt:     s.deps.StartedAt.UTC(),
		UptimeSeconds: now.Sub(s.deps.StartedAt).Seconds(),
	}
	if sch := s.deps.Scheduler; sch != nil {
		st.SchedulerRunning = sch.IsRunning()
		st.TickIntervalMs = sch.Interval().Milliseconds()
		st.Ticks = sch.Ticks()
		st.LastTickDurationMs = float64(sch.LastTickDuration().Microseconds()) / 1000
	}
	if s.deps.Subscribers != nil {
		st.Subscribers = s.deps.Subscribers.Len()
	}
	if s.deps.Vehicle != nil {
		v := s.deps.Vehicle.State()
		st.Vehicle = &v
	}
	return st
}

// WriteStatusFile replaces the status file with the current status.
func (s *Service) WriteStatusFile() error {
	if s.deps.StatusFile == "" {
		return nil
	}
	data, err := json.MarshalIndent(s.Status(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	tmp := s.deps.StatusFile + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write status file: %w", err)
	}
	if err := os.Rename(tmp, s.deps.StatusFile); err != nil {
		return fmt.Errorf("replace status file: %w", err)
	}
	return nil
}

// Start starts the status monitor goroutine
func (s *Service) Start(interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("monitor interval must be positive, got %s", interval)
	}

	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.doneChan = make(chan struct{})
	stop, done := s.stopChan, s.doneChan
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			s.isRunning = false
			s.mu.Unlock()
			close(done)
		}()

		logger := s.deps.Logger
		logger.Debug("Starting status monitor goroutine", "interval", interval, "file", s.deps.StatusFile)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := s.WriteStatusFile(); err != nil {
					logger.Error("Error writing status file", "error", err)
				}
			}
		}
	}()

	return nil
}

// Stop stops the status monitor and waits for it to exit
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	select {
	case <-s.stopChan:
	default:
		close(s.stopChan)
	}
	done := s.doneChan
	s.mu.Unlock()

	<-done
}
