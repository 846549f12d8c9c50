package acquisition

import (
	"log/slog"
	"time"

	"github.com/roman-kulish/radio-telescope/internal/spectrum"
	"github.com/roman-kulish/radio-telescope/internal/telemetry"
	"github.com/roman-kulish/radio-telescope/internal/usb"
)

// WithLogger sets the logger for the loop
func WithLogger(logger *slog.Logger) func(l *Loop) {
	return func(l *Loop) {
		l.logger = logger.With(slog.String("component", "acquisition"))
	}
}

// WithBackground captures the background from a second receiver.
func WithBackground(c Capturer) func(l *Loop) {
	return func(l *Loop) {
		l.background = c
	}
}

// WithBaseline subtracts a fixed baseline record instead of a live
// background capture.
func WithBaseline(sample *spectrum.Sample) func(l *Loop) {
	return func(l *Loop) {
		l.baseline = sample
	}
}

// WithSelector sets which USB devices are recovered after failed captures.
func WithSelector(sel usb.Selector) func(l *Loop) {
	return func(l *Loop) {
		l.selector = sel
	}
}

// WithCaptureTimeout bounds each pair of concurrent captures.
func WithCaptureTimeout(timeout time.Duration) func(l *Loop) {
	return func(l *Loop) {
		l.captureTimeout = timeout
	}
}

// WithSettleDelay sets the wait after a device recovery. A multiplier above
// 1 grows the delay on consecutive failures within a cycle, up to maxDelay.
func WithSettleDelay(delay time.Duration, multiplier float64, maxDelay time.Duration) func(l *Loop) {
	return func(l *Loop) {
		l.settleDelay = delay
		l.multiplier = multiplier
		l.maxDelay = maxDelay
	}
}

// WithMaxAttempts bounds the capture attempts per cycle. Zero keeps retrying
// until the context is cancelled.
func WithMaxAttempts(n int) func(l *Loop) {
	return func(l *Loop) {
		l.maxAttempts = n
	}
}

// WithMetrics records cycle outcomes and recoveries.
func WithMetrics(c *telemetry.Collector) func(l *Loop) {
	return func(l *Loop) {
		l.metrics = c
	}
}
