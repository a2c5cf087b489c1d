// Package broadcast drives the simulation clock and fans each tick out to
// every telemetry subscriber.
package broadcast

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jdbcrew/devicebridge/internal/codec"
	"github.com/jdbcrew/devicebridge/internal/hub"
	"github.com/jdbcrew/devicebridge/internal/observability"
	"github.com/jdbcrew/devicebridge/pkg/telemetry"
)

// DefaultInterval is the tick period used when none is configured.
const DefaultInterval = time.Second

// ErrStopped is returned by Start on a scheduler whose context is already done.
var ErrStopped = errors.New("scheduler stopped")

// Stepper advances shared state by one tick.
type Stepper interface {
	Step() telemetry.Snapshot
}

// Scheduler runs one Step, one Encode and one fan-out per tick. Ticks run on
// a single goroutine so they never overlap.
type Scheduler struct {
	sim      Stepper
	enc      codec.Encoder
	reg      *hub.Registry
	interval time.Duration
	logger   *slog.Logger
	metrics  *observability.Collector

	mu        sync.Mutex
	isRunning bool
	cancel    context.CancelFunc
	done      chan struct{}

	ticks        atomic.Uint64
	lastDuration atomic.Int64
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithInterval sets the tick period. Non-positive values keep DefaultInterval.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics attaches a Prometheus collector.
func WithMetrics(c *observability.Collector) Option {
	return func(s *Scheduler) {
		s.metrics = c
	}
}

// New creates a stopped scheduler.
func New(sim Stepper, enc codec.Encoder, reg *hub.Registry, opts ...Option) *Scheduler {
	s := &Scheduler{
		sim:      sim,
		enc:      enc,
		reg:      reg,
		interval: DefaultInterval,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the tick loop. The first tick fires immediately. Calling
// Start on a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return errors.Join(ErrStopped, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return nil
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.isRunning = true

	go s.run(loopCtx, done)

	s.logger.Info("Broadcast scheduler started", "interval", s.interval)
	return nil
}

// Stop halts the loop and waits for an in-flight tick to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
	s.logger.Info("Broadcast scheduler stopped", "ticks", s.ticks.Load())
}

// IsRunning reports whether the loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

// Interval returns the tick period.
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

// Ticks returns the number of ticks run so far.
func (s *Scheduler) Ticks() uint64 {
	return s.ticks.Load()
}

// LastTickDuration returns how long the most recent tick took.
func (s *Scheduler) LastTickDuration() time.Duration {
	return time.Duration(s.lastDuration.Load())
}

func (s *Scheduler) run(ctx context.Context, done chan struct{}) {
	defer func() {
		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()
		close(done)
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Tick()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			s.Tick()
		}
	}
}

// Tick runs one step and fan-out synchronously. The state always advances;
// an encoding failure skips the fan-out for this tick only.
func (s *Scheduler) Tick() (hub.Report, error) {
	start := time.Now()
	snap := s.sim.Step()
	n := s.ticks.Add(1)

	payload, err := codec.Encode(s.enc, snap)
	if err != nil {
		elapsed := time.Since(start)
		s.lastDuration.Store(int64(elapsed))
		s.metrics.ObserveTick(elapsed, 0, 0, true)
		s.logger.Error("Skipping broadcast", "tick", n, "error", err)
		return hub.Report{}, err
	}

	rep := s.reg.Broadcast(payload)
	for _, ferr := range rep.Failures {
		s.logger.Warn("Telemetry push failed", "tick", n, "error", ferr)
	}

	elapsed := time.Since(start)
	s.lastDuration.Store(int64(elapsed))
	s.metrics.ObserveTick(elapsed, rep.Delivered, rep.Failed(), false)
	s.logger.Debug("Tick broadcast", "tick", n, "delivered", rep.Delivered, "failed", rep.Failed(), "duration", elapsed)
	return rep, nil
}
