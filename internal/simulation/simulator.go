// Package simulation holds the single shared vehicle state and its random walk.
package simulation

import (
	"sync"
	"time"

	"github.com/jdbcrew/devicebridge/pkg/telemetry"
)

// Seed values the state starts from.
const (
	StartLatitude  = 52.52
	StartLongitude = 13.405

	DefaultHistorySize = 20
)

// Simulator is the process-wide vehicle state. Step is the only mutator and
// is serialized by mu, so history windows never see interleaved pushes.
type Simulator struct {
	mu  sync.Mutex
	src Source
	now func() time.Time

	heading float64
	roll    float64
	pitch   float64
	yaw     float64

	latitude  float64
	longitude float64

	acceleration *Window
	braking      *Window

	last  *telemetry.Snapshot
	steps uint64
}

// Option configures a Simulator.
type Option func(*Simulator)

// WithSource injects the random source.
func WithSource(src Source) Option {
	return func(s *Simulator) {
		if src != nil {
			s.src = src
		}
	}
}

// WithClock injects the wall clock used for snapshot timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Simulator) {
		if now != nil {
			s.now = now
		}
	}
}

// WithHistorySize sets the sliding window length. Values below 1 keep the default.
func WithHistorySize(n int) Option {
	return func(s *Simulator) {
		if n > 0 {
			s.acceleration = NewWindow(n)
			s.braking = NewWindow(n)
		}
	}
}

// New creates a Simulator at the fixed seed position.
func New(opts ...Option) *Simulator {
	s := &Simulator{
		src:          NewSource(0),
		now:          time.Now,
		latitude:     StartLatitude,
		longitude:    StartLongitude,
		acceleration: NewWindow(DefaultHistorySize),
		braking:      NewWindow(DefaultHistorySize),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Step advances the state by one tick and returns the resulting snapshot.
// The snapshot owns its slices; callers may encode it without holding any lock.
func (s *Simulator) Step() telemetry.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.heading = wrapAngle(s.heading + uniform(s.src, 0, 5))
	s.roll = wrapAngle(s.roll + uniform(s.src, -2, 2))
	s.pitch = wrapAngle(s.pitch + uniform(s.src, -1.5, 1.5))
	s.yaw = wrapAngle(s.yaw + uniform(s.src, -3, 3))

	s.latitude += uniform(s.src, -0.0002, 0.0002)
	s.longitude += uniform(s.src, -0.0002, 0.0002)

	throttle := clamp(uniform(s.src, 0, 1), 0, 1)
	brake := clamp(uniform(s.src, 0, 0.4), 0, 1)

	s.acceleration.Push(round(throttle*9, 2))
	s.braking.Push(round(brake*7, 2))

	temps := []telemetry.TemperatureReading{
		{Label: telemetry.LabelTemp1, Value: round(uniform(s.src, 30, 40), 2)},
		{Label: telemetry.LabelTemp3, Value: round(uniform(s.src, 28, 38), 2)},
	}

	snap := telemetry.Snapshot{
		GPS: telemetry.GPS{
			Latitude:  round(s.latitude, 6),
			Longitude: round(s.longitude, 6),
		},
		Heading: roundAngle(s.heading),
		Orientation: telemetry.Orientation{
			Roll:  roundAngle(s.roll),
			Pitch: roundAngle(s.pitch),
			Yaw:   roundAngle(s.yaw),
		},
		Throttle:            round(throttle, 2),
		Brake:               round(brake, 2),
		Temps:               temps,
		AccelerationHistory: s.acceleration.Values(),
		BrakingHistory:      s.braking.Values(),
		Timestamp:           s.now().UnixMilli(),
	}

	s.steps++
	kept := clone(snap)
	s.last = &kept
	return snap
}

func clone(snap telemetry.Snapshot) telemetry.Snapshot {
	snap.Temps = append([]telemetry.TemperatureReading(nil), snap.Temps...)
	snap.AccelerationHistory = append([]float64(nil), snap.AccelerationHistory...)
	snap.BrakingHistory = append([]float64(nil), snap.BrakingHistory...)
	return snap
}

// Latest returns the most recent snapshot without advancing the state.
// ok is false until the first Step.
func (s *Simulator) Latest() (snap telemetry.Snapshot, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return telemetry.Snapshot{}, false
	}
	return clone(*s.last), true
}

// Position reports the unrounded current coordinates.
func (s *Simulator) Position() (latitude, longitude float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latitude, s.longitude
}

// Steps returns how many times the state has advanced.
func (s *Simulator) Steps() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.steps
}

// HistorySize returns the sliding window length.
func (s *Simulator) HistorySize() int {
	return s.acceleration.Len()
}
