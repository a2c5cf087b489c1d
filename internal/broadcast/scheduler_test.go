package broadcast

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdbcrew/devicebridge/internal/codec"
	"github.com/jdbcrew/devicebridge/internal/hub"
	"github.com/jdbcrew/devicebridge/internal/observability"
	"github.com/jdbcrew/devicebridge/pkg/telemetry"
)

type countingStepper struct {
	steps atomic.Int64
}

func (c *countingStepper) Step() telemetry.Snapshot {
	n := c.steps.Add(1)
	return telemetry.Snapshot{Timestamp: n}
}

type recordingSubscriber struct {
	id string

	mu       sync.Mutex
	payloads [][]byte
	fail     bool
}

func (r *recordingSubscriber) ID() string   { return r.id }
func (r *recordingSubscriber) Closed() bool { return false }

func (r *recordingSubscriber) Send(p []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("buffer full")
	}
	r.payloads = append(r.payloads, p)
	return nil
}

func (r *recordingSubscriber) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.payloads)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTick_OneStepOneEncodeOneFanOut(t *testing.T) {
	sim := &countingStepper{}
	var encodes atomic.Int64
	enc := codec.EncoderFunc(func(s telemetry.Snapshot) ([]byte, error) {
		encodes.Add(1)
		return codec.NewJSONEncoder().Encode(s)
	})

	reg := hub.NewRegistry()
	a := &recordingSubscriber{id: "a"}
	b := &recordingSubscriber{id: "b"}
	reg.Add(a)
	reg.Add(b)

	s := New(sim, enc, reg, WithLogger(quietLogger()))
	rep, err := s.Tick()
	require.NoError(t, err)

	assert.Equal(t, 2, rep.Delivered)
	assert.Equal(t, int64(1), sim.steps.Load())
	assert.Equal(t, int64(1), encodes.Load())
	assert.Equal(t, a.payloads, b.payloads)
	assert.Equal(t, uint64(1), s.Ticks())
}

func TestTick_AdvancesWithoutSubscribers(t *testing.T) {
	sim := &countingStepper{}
	s := New(sim, codec.NewJSONEncoder(), hub.NewRegistry(), WithLogger(quietLogger()))

	for i := 0; i < 3; i++ {
		rep, err := s.Tick()
		require.NoError(t, err)
		assert.Zero(t, rep.Delivered)
	}
	assert.Equal(t, int64(3), sim.steps.Load())
}

func TestTick_EncodingFailureSkipsFanOut(t *testing.T) {
	sim := &countingStepper{}
	enc := codec.EncoderFunc(func(telemetry.Snapshot) ([]byte, error) {
		return nil, errors.New("bad float")
	})
	reg := hub.NewRegistry()
	sub := &recordingSubscriber{id: "a"}
	reg.Add(sub)

	metrics, err := observability.NewCollector(prometheus.NewRegistry())
	require.NoError(t, err)

	s := New(sim, enc, reg, WithLogger(quietLogger()), WithMetrics(metrics))
	_, err = s.Tick()

	require.Error(t, err)
	assert.ErrorIs(t, err, codec.ErrEncodingFailure)
	assert.Equal(t, int64(1), sim.steps.Load())
	assert.Zero(t, sub.count())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.EncodeFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Ticks))
}

func TestTick_FailedDeliveryDoesNotRemove(t *testing.T) {
	reg := hub.NewRegistry()
	bad := &recordingSubscriber{id: "bad", fail: true}
	good := &recordingSubscriber{id: "good"}
	reg.Add(bad)
	reg.Add(good)

	s := New(&countingStepper{}, codec.NewJSONEncoder(), reg, WithLogger(quietLogger()))
	rep, err := s.Tick()
	require.NoError(t, err)

	assert.Equal(t, 1, rep.Delivered)
	assert.Equal(t, 1, rep.Failed())
	assert.ErrorIs(t, rep.Failures[0], hub.ErrDeliveryFailure)
	assert.Equal(t, 2, reg.Len())
	assert.Equal(t, 1, good.count())
}

func TestStart_TicksImmediatelyThenPeriodically(t *testing.T) {
	sim := &countingStepper{}
	reg := hub.NewRegistry()
	sub := &recordingSubscriber{id: "a"}
	reg.Add(sub)

	s := New(sim, codec.NewJSONEncoder(), reg,
		WithInterval(20*time.Millisecond), WithLogger(quietLogger()))
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.Eventually(t, func() bool { return sub.count() >= 1 }, time.Second, time.Millisecond)
	assert.Eventually(t, func() bool { return sub.count() >= 4 }, time.Second, 5*time.Millisecond)
	assert.True(t, s.IsRunning())
}

// slowStepper takes longer than the tick interval and records how many
// Step calls ever ran at once.
type slowStepper struct {
	delay    time.Duration
	steps    atomic.Int64
	inFlight atomic.Int64
	peak     atomic.Int64
}

func (s *slowStepper) Step() telemetry.Snapshot {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(s.delay)
	return telemetry.Snapshot{Timestamp: s.steps.Add(1)}
}

func TestStart_SlowStepNeverOverlaps(t *testing.T) {
	sim := &slowStepper{delay: 30 * time.Millisecond}
	reg := hub.NewRegistry()
	sub := &recordingSubscriber{id: "a"}
	reg.Add(sub)

	s := New(sim, codec.NewJSONEncoder(), reg,
		WithInterval(5*time.Millisecond), WithLogger(quietLogger()))
	require.NoError(t, s.Start(context.Background()))

	require.Eventually(t, func() bool { return sim.steps.Load() >= 4 }, 2*time.Second, time.Millisecond)
	s.Stop()

	assert.Equal(t, int64(1), sim.peak.Load())
	assert.Equal(t, int64(0), sim.inFlight.Load())
	assert.Equal(t, s.Ticks(), uint64(sim.steps.Load()))
	assert.Equal(t, int(sim.steps.Load()), sub.count())
}

func TestStart_LateSubscriberJoinsNextTick(t *testing.T) {
	const interval = 100 * time.Millisecond
	sim := &countingStepper{}
	reg := hub.NewRegistry()
	early := &recordingSubscriber{id: "early"}
	reg.Add(early)

	s := New(sim, codec.NewJSONEncoder(), reg,
		WithInterval(interval), WithLogger(quietLogger()))
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	require.Eventually(t, func() bool { return early.count() == 1 }, time.Second, time.Millisecond)
	time.Sleep(interval / 2)
	late := &recordingSubscriber{id: "late"}
	reg.Add(late)
	assert.Equal(t, 0, late.count())

	require.Eventually(t, func() bool { return early.count() >= 4 }, 2*time.Second, 5*time.Millisecond)
	s.Stop()

	early.mu.Lock()
	late.mu.Lock()
	defer early.mu.Unlock()
	defer late.mu.Unlock()
	require.Len(t, late.payloads, len(early.payloads)-1)
	assert.Equal(t, early.payloads[1:], late.payloads)
}

func TestStop_HaltsTicks(t *testing.T) {
	sim := &countingStepper{}
	s := New(sim, codec.NewJSONEncoder(), hub.NewRegistry(),
		WithInterval(5*time.Millisecond), WithLogger(quietLogger()))
	require.NoError(t, s.Start(context.Background()))

	assert.Eventually(t, func() bool { return sim.steps.Load() >= 2 }, time.Second, time.Millisecond)
	s.Stop()
	assert.False(t, s.IsRunning())

	stopped := sim.steps.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stopped, sim.steps.Load())
}

func TestStart_Idempotent(t *testing.T) {
	sim := &countingStepper{}
	s := New(sim, codec.NewJSONEncoder(), hub.NewRegistry(),
		WithInterval(time.Hour), WithLogger(quietLogger()))
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.Eventually(t, func() bool { return sim.steps.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int64(1), sim.steps.Load())
}

func TestStart_RestartAfterStop(t *testing.T) {
	sim := &countingStepper{}
	s := New(sim, codec.NewJSONEncoder(), hub.NewRegistry(),
		WithInterval(time.Hour), WithLogger(quietLogger()))

	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool { return sim.steps.Load() == 1 }, time.Second, time.Millisecond)
	s.Stop()

	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool { return sim.steps.Load() == 2 }, time.Second, time.Millisecond)
	s.Stop()
}

func TestStart_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := New(&countingStepper{}, codec.NewJSONEncoder(), hub.NewRegistry(), WithLogger(quietLogger()))
	err := s.Start(ctx)
	assert.ErrorIs(t, err, ErrStopped)
	assert.False(t, s.IsRunning())
}

func TestStart_ParentCancelStopsLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := New(&countingStepper{}, codec.NewJSONEncoder(), hub.NewRegistry(),
		WithInterval(5*time.Millisecond), WithLogger(quietLogger()))
	require.NoError(t, s.Start(ctx))

	cancel()
	assert.Eventually(t, func() bool { return !s.IsRunning() }, time.Second, time.Millisecond)
}

func TestWithInterval_IgnoresNonPositive(t *testing.T) {
	s := New(&countingStepper{}, codec.NewJSONEncoder(), hub.NewRegistry(), WithInterval(0))
	assert.Equal(t, DefaultInterval, s.Interval())
}
