// Package telemetry exports station health as Prometheus metrics.
package telemetry

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "radio_telescope"

const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"

	ReasonTimeout = "timeout"
	ReasonFailure = "failure"

	ResetSoft       = "reset"
	ResetPowerCycle = "power_cycle"
)

// Collector bundles the station metrics. All methods are safe to call on a
// nil Collector, which records nothing.
type Collector struct {
	gatherer prometheus.Gatherer

	Cycles          *prometheus.CounterVec
	CycleDurations  prometheus.Histogram
	CaptureFailures *prometheus.CounterVec
	DeviceResets    *prometheus.CounterVec
	LastPower       prometheus.Gauge
	LastCycle       prometheus.Gauge

	Renders         *prometheus.CounterVec
	RenderDurations prometheus.Histogram
}

// New registers the station metrics against the provided registerer,
// defaulting to the global Prometheus registry when nil.
func New(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	cycles, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cycles_total",
		Help:      "Acquisition cycles, labeled by outcome.",
	}, []string{"outcome"}), "cycles_total")
	if err != nil {
		return nil, err
	}

	durations, err := register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "cycle_duration_seconds",
		Help:      "Wall-clock duration of successful acquisition cycles, retries included.",
		Buckets:   []float64{30, 60, 120, 300, 330, 360, 600, 900, 1800, 3600},
	}), "cycle_duration_seconds")
	if err != nil {
		return nil, err
	}

	failures, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "capture_failures_total",
		Help:      "Failed captures, labeled by channel and reason.",
	}, []string{"channel", "reason"}), "capture_failures_total")
	if err != nil {
		return nil, err
	}

	resets, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "device_resets_total",
		Help:      "USB recovery actions, labeled by kind and outcome.",
	}, []string{"kind", "outcome"}), "device_resets_total")
	if err != nil {
		return nil, err
	}

	lastPower, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_power_db",
		Help:      "Edge-trimmed mean power of the last fused sample in dB.",
	}), "last_power_db")
	if err != nil {
		return nil, err
	}

	lastCycle, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_cycle_timestamp_seconds",
		Help:      "Unix time of the last persisted sample.",
	}), "last_cycle_timestamp_seconds")
	if err != nil {
		return nil, err
	}

	renders, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "renders_total",
		Help:      "Rendered frames, labeled by outcome.",
	}, []string{"outcome"}), "renders_total")
	if err != nil {
		return nil, err
	}

	renderDurations, err := register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "render_duration_seconds",
		Help:      "Time to render one frame.",
		Buckets:   prometheus.DefBuckets,
	}), "render_duration_seconds")
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:        gatherer,
		Cycles:          cycles,
		CycleDurations:  durations,
		CaptureFailures: failures,
		DeviceResets:    resets,
		LastPower:       lastPower,
		LastCycle:       lastCycle,
		Renders:         renders,
		RenderDurations: renderDurations,
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

// CycleCompleted records a persisted sample.
func (c *Collector) CycleCompleted(duration time.Duration, timestamp time.Time, power float64) {
	if c == nil {
		return
	}
	c.Cycles.WithLabelValues(OutcomeSuccess).Inc()
	c.CycleDurations.Observe(duration.Seconds())
	c.LastCycle.Set(float64(timestamp.Unix()))
	c.LastPower.Set(power)
}

// CycleFailed records a cycle aborted by a non-recoverable error.
func (c *Collector) CycleFailed() {
	if c == nil {
		return
	}
	c.Cycles.WithLabelValues(OutcomeError).Inc()
}

// CaptureFailed records a failed capture on a channel.
func (c *Collector) CaptureFailed(channel string, timeout bool) {
	if c == nil {
		return
	}
	reason := ReasonFailure
	if timeout {
		reason = ReasonTimeout
	}
	c.CaptureFailures.WithLabelValues(channel, reason).Inc()
}

// DeviceReset records a USB recovery action.
func (c *Collector) DeviceReset(kind string, err error) {
	if c == nil {
		return
	}
	c.DeviceResets.WithLabelValues(kind, outcome(err)).Inc()
}

// Rendered records a rendered frame.
func (c *Collector) Rendered(duration time.Duration, err error) {
	if c == nil {
		return
	}
	c.Renders.WithLabelValues(outcome(err)).Inc()
	if err == nil {
		c.RenderDurations.Observe(duration.Seconds())
	}
}

func outcome(err error) string {
	if err != nil {
		return OutcomeError
	}
	return OutcomeSuccess
}

func register[T prometheus.Collector](reg prometheus.Registerer, collector T, name string) (T, error) {
	if err := reg.Register(collector); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
			var zero T
			return zero, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		var zero T
		return zero, err
	}
	return collector, nil
}
