// Package observability exposes Prometheus metrics for telemetry fan-out.
package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Stream labels.
const (
	StreamTelemetry = "telemetry"
	StreamControl   = "control"
)

// Collector bundles the broadcast and session metrics. A nil *Collector is
// valid and records nothing.
type Collector struct {
	gatherer prometheus.Gatherer

	Ticks             prometheus.Counter
	EncodeFailures    prometheus.Counter
	Deliveries        *prometheus.CounterVec
	BroadcastDuration prometheus.Histogram
	Subscribers       prometheus.Gauge
	Connections       *prometheus.CounterVec
	ControlFrames     *prometheus.CounterVec
}

// NewCollector registers metrics against reg, defaulting to the global
// Prometheus registry when nil.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	ticks, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "telemetry_ticks_total",
		Help: "Simulation ticks driven by the broadcast scheduler.",
	}), "telemetry_ticks_total")
	if err != nil {
		return nil, err
	}

	encodeFailures, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "telemetry_encode_failures_total",
		Help: "Ticks whose snapshot could not be serialized.",
	}), "telemetry_encode_failures_total")
	if err != nil {
		return nil, err
	}

	deliveries, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "telemetry_deliveries_total",
		Help: "Snapshot pushes to subscribers, labeled by result.",
	}, []string{"result"}), "telemetry_deliveries_total")
	if err != nil {
		return nil, err
	}

	duration, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "telemetry_broadcast_duration_seconds",
		Help:    "Time spent stepping, encoding and fanning out one tick.",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}), "telemetry_broadcast_duration_seconds")
	if err != nil {
		return nil, err
	}

	subscribers, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "telemetry_subscribers",
		Help: "Sessions currently registered for telemetry pushes.",
	}), "telemetry_subscribers")
	if err != nil {
		return nil, err
	}

	connections, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "websocket_connections_total",
		Help: "Websocket lifecycle events, labeled by stream and event.",
	}, []string{"stream", "event"}), "websocket_connections_total")
	if err != nil {
		return nil, err
	}

	frames, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "control_frames_total",
		Help: "Inbound control frames, labeled by result.",
	}, []string{"result"}), "control_frames_total")
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:          gatherer,
		Ticks:             ticks,
		EncodeFailures:    encodeFailures,
		Deliveries:        deliveries,
		BroadcastDuration: duration,
		Subscribers:       subscribers,
		Connections:       connections,
		ControlFrames:     frames,
	}, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ObserveTick records one scheduler tick.
func (c *Collector) ObserveTick(elapsed time.Duration, delivered, failed int, encodeFailed bool) {
	if c == nil {
		return
	}
	c.Ticks.Inc()
	if encodeFailed {
		c.EncodeFailures.Inc()
	}
	c.ObserveDeliveries(delivered, failed)
	c.BroadcastDuration.Observe(elapsed.Seconds())
}

// ObserveDeliveries records push outcomes outside the regular tick, such as
// the immediate snapshot on connect.
func (c *Collector) ObserveDeliveries(delivered, failed int) {
	if c == nil {
		return
	}
	if delivered > 0 {
		c.Deliveries.WithLabelValues("ok").Add(float64(delivered))
	}
	if failed > 0 {
		c.Deliveries.WithLabelValues("failed").Add(float64(failed))
	}
}

// SetSubscribers sets the registered session count.
func (c *Collector) SetSubscribers(n int) {
	if c == nil {
		return
	}
	c.Subscribers.Set(float64(n))
}

// ConnectionEvent counts an open or close on the given stream.
func (c *Collector) ConnectionEvent(stream, event string) {
	if c == nil {
		return
	}
	c.Connections.WithLabelValues(stream, event).Inc()
}

// ControlFrame counts one inbound control frame.
func (c *Collector) ControlFrame(result string) {
	if c == nil {
		return
	}
	c.ControlFrames.WithLabelValues(result).Inc()
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogram(reg prometheus.Registerer, h prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(h); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return h, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
