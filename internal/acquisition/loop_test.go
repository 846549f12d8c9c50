package acquisition

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/roman-kulish/radio-telescope/internal/spectrum"
	"github.com/roman-kulish/radio-telescope/internal/storage"
	"github.com/roman-kulish/radio-telescope/internal/telemetry"
	"github.com/roman-kulish/radio-telescope/internal/usb"
)

var cycleStart = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// scriptedCapturer replays one step per call, repeating the last one.
type scriptedCapturer struct {
	mu    sync.Mutex
	steps []func(ctx context.Context) ([]byte, error)
	calls int
}

func (c *scriptedCapturer) Capture(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	step := c.steps[min(c.calls, len(c.steps)-1)]
	c.calls++
	c.mu.Unlock()

	return step(ctx)
}

func (c *scriptedCapturer) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func output(dbs ...float64) func(ctx context.Context) ([]byte, error) {
	return outputAt(1420000000, dbs...)
}

// outputAt prints dbs on a 100kHz grid starting at start Hz.
func outputAt(start int, dbs ...float64) func(ctx context.Context) ([]byte, error) {
	return func(ctx context.Context) ([]byte, error) {
		var b strings.Builder
		b.WriteString("Found 1 device(s)\n")
		for i, db := range dbs {
			fmt.Fprintf(&b, "%d %v\n", start+i*100000, db)
		}
		return []byte(b.String()), nil
	}
}

func hang(ctx context.Context) ([]byte, error) {
	<-ctx.Done()
	return nil, fmt.Errorf("capture interrupted: %w", ctx.Err())
}

func fail(ctx context.Context) ([]byte, error) {
	return nil, errors.New("usb_claim_interface error -6")
}

func script(steps ...func(ctx context.Context) ([]byte, error)) *scriptedCapturer {
	return &scriptedCapturer{steps: steps}
}

type fakeResetter struct {
	mu          sync.Mutex
	resets      int
	powerCycles int
	err         error
}

func (r *fakeResetter) Reset(ctx context.Context, sel usb.Selector) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resets++
	return r.err
}

func (r *fakeResetter) PowerCycle(ctx context.Context, sel usb.Selector) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.powerCycles++
	return r.err
}

type harness struct {
	store    *storage.FileStore
	resetter *fakeResetter
	metrics  *telemetry.Collector
	sleeps   []time.Duration
}

func newLoop(t *testing.T, sky Capturer, options ...func(l *Loop)) (*Loop, *harness) {
	t.Helper()

	store, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	metrics, err := telemetry.New(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("creating metrics: %v", err)
	}

	h := &harness{store: store, resetter: &fakeResetter{}, metrics: metrics}

	options = append([]func(l *Loop){
		WithMetrics(metrics),
		WithCaptureTimeout(100 * time.Millisecond),
	}, options...)

	l, err := New(sky, store, h.resetter, options...)
	if err != nil {
		t.Fatalf("creating loop: %v", err)
	}

	l.now = func() time.Time { return cycleStart }
	l.sleep = func(ctx context.Context, d time.Duration) error {
		h.sleeps = append(h.sleeps, d)
		return ctx.Err()
	}

	return l, h
}

func TestLoop_RunCycle(t *testing.T) {
	sky := script(output(-5, -6, -7, -5, -5, -5, -5))
	background := script(output(-1, -2, -3.5, -1, -1, -1, -1))

	l, h := newLoop(t, sky, WithBackground(background))

	filename, err := l.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if filename != storage.FileName(cycleStart) {
		t.Errorf("unexpected filename: %s", filename)
	}

	record, err := h.store.Read(filename)
	if err != nil {
		t.Fatalf("reading record: %v", err)
	}

	expected := []float64{-4, -4, -3.5}
	for i := range expected {
		if math.Abs(record.Decibels[i]-expected[i]) > 1e-9 {
			t.Errorf("bin %d: expected %v, got %v", i, expected[i], record.Decibels[i])
		}
	}
	if record.Frequencies[0] != 1420000000 || !record.Timestamp.Equal(cycleStart) {
		t.Errorf("unexpected record: %v at %s", record.Frequencies, record.Timestamp)
	}

	if h.resetter.resets+h.resetter.powerCycles != 0 {
		t.Error("no recovery expected for a clean cycle")
	}
	if got := testutil.ToFloat64(h.metrics.Cycles.WithLabelValues(telemetry.OutcomeSuccess)); got != 1 {
		t.Errorf("cycles_total{success} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(h.metrics.LastPower); math.Abs(got-(-4)) > 1e-9 {
		t.Errorf("last_power_db = %v, want -4", got)
	}
}

func TestLoop_TimeoutResetsAndRetries(t *testing.T) {
	sky := script(hang, output(-5, -6))
	background := script(output(-1, -2))

	l, h := newLoop(t, sky, WithBackground(background))

	if _, err := l.RunCycle(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if h.resetter.resets != 1 || h.resetter.powerCycles != 0 {
		t.Errorf("expected one soft reset, got %d resets and %d power-cycles", h.resetter.resets, h.resetter.powerCycles)
	}
	if sky.Calls() != 2 || background.Calls() != 2 {
		t.Errorf("expected both captures to be relaunched, got %d/%d calls", sky.Calls(), background.Calls())
	}
	if len(h.sleeps) != 1 || h.sleeps[0] != DefaultSettleDelay {
		t.Errorf("expected one settle delay of %s, got %v", DefaultSettleDelay, h.sleeps)
	}
	if got := testutil.ToFloat64(h.metrics.CaptureFailures.WithLabelValues(ChannelSky, telemetry.ReasonTimeout)); got != 1 {
		t.Errorf("capture_failures_total{sky,timeout} = %v, want 1", got)
	}
}

func TestLoop_FailurePowerCycles(t *testing.T) {
	sky := script(hang, output(-5, -6))
	background := script(fail, output(-1, -2))

	l, h := newLoop(t, sky, WithBackground(background), WithCaptureTimeout(10*time.Second))

	if _, err := l.RunCycle(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if h.resetter.powerCycles != 1 || h.resetter.resets != 0 {
		t.Errorf("expected one power-cycle, got %d resets and %d power-cycles", h.resetter.resets, h.resetter.powerCycles)
	}
	if got := testutil.ToFloat64(h.metrics.CaptureFailures.WithLabelValues(ChannelBackground, telemetry.ReasonFailure)); got != 1 {
		t.Errorf("capture_failures_total{background,failure} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(h.metrics.CaptureFailures.WithLabelValues(ChannelSky, telemetry.ReasonFailure)); got != 0 {
		t.Errorf("the cancelled sibling must not count as failure, got %v", got)
	}
}

func TestLoop_EmptyCapturePowerCycles(t *testing.T) {
	sky := script(output(), output(-5))
	background := script(output(-1))

	l, h := newLoop(t, sky, WithBackground(background))

	if _, err := l.RunCycle(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.resetter.powerCycles != 1 {
		t.Errorf("expected one power-cycle, got %d", h.resetter.powerCycles)
	}
}

func TestLoop_MaxAttempts(t *testing.T) {
	sky := script(fail)
	background := script(output(-1))

	l, h := newLoop(t, sky, WithBackground(background), WithMaxAttempts(3))
	h.resetter.err = errors.New("permission denied")

	_, err := l.RunCycle(context.Background())
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("expected ErrRetriesExhausted, got %v", err)
	}
	if sky.Calls() != 3 {
		t.Errorf("expected 3 attempts, got %d", sky.Calls())
	}
	if h.resetter.powerCycles != 2 {
		t.Errorf("expected 2 recoveries between attempts, got %d", h.resetter.powerCycles)
	}
	if got := testutil.ToFloat64(h.metrics.DeviceResets.WithLabelValues(telemetry.ResetPowerCycle, telemetry.OutcomeError)); got != 2 {
		t.Errorf("device_resets_total{power_cycle,error} = %v, want 2", got)
	}
}

func TestLoop_SettleBackoff(t *testing.T) {
	sky := script(fail, fail, fail, fail, output(-5))
	background := script(output(-1))

	l, h := newLoop(t, sky, WithBackground(background), WithSettleDelay(time.Second, 2, 3*time.Second))

	if _, err := l.RunCycle(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := []time.Duration{time.Second, 2 * time.Second, 3 * time.Second, 3 * time.Second}
	if len(h.sleeps) != len(expected) {
		t.Fatalf("expected delays %v, got %v", expected, h.sleeps)
	}
	for i := range expected {
		if h.sleeps[i] != expected[i] {
			t.Errorf("delay %d: expected %s, got %s", i, expected[i], h.sleeps[i])
		}
	}
}

func TestLoop_SizeMismatchIsFatal(t *testing.T) {
	sky := script(output(-5, -6, -7))
	background := script(output(-1, -2))

	l, h := newLoop(t, sky, WithBackground(background))

	_, err := l.RunCycle(context.Background())
	if !errors.Is(err, spectrum.ErrSizeMismatch) {
		t.Fatalf("expected ErrSizeMismatch, got %v", err)
	}
	if sky.Calls() != 1 || h.resetter.resets+h.resetter.powerCycles != 0 {
		t.Error("a size mismatch must not be retried")
	}

	if err = l.Run(context.Background()); !errors.Is(err, spectrum.ErrSizeMismatch) {
		t.Errorf("expected Run to abort with ErrSizeMismatch, got %v", err)
	}
	if got := testutil.ToFloat64(h.metrics.Cycles.WithLabelValues(telemetry.OutcomeError)); got != 1 {
		t.Errorf("cycles_total{error} = %v, want 1", got)
	}
}

func TestLoop_GridMismatchIsFatal(t *testing.T) {
	sky := script(output(-5, -6, -7))
	background := script(outputAt(1430000000, -1, -1, -1))

	l, h := newLoop(t, sky, WithBackground(background))

	_, err := l.RunCycle(context.Background())
	if !errors.Is(err, ErrGridMismatch) {
		t.Fatalf("expected ErrGridMismatch, got %v", err)
	}
	if sky.Calls() != 1 || h.resetter.resets+h.resetter.powerCycles != 0 {
		t.Error("a grid mismatch must not be retried")
	}

	ds, err := h.store.ReadAll(context.Background())
	if err != nil {
		t.Fatalf("reading records: %v", err)
	}
	if ds.Len() != 0 {
		t.Errorf("expected no record to be written, got %d", ds.Len())
	}

	if err = l.Run(context.Background()); !errors.Is(err, ErrGridMismatch) {
		t.Errorf("expected Run to abort with ErrGridMismatch, got %v", err)
	}
}

func TestLoop_BaselineGridMismatch(t *testing.T) {
	baseline, err := spectrum.NewSample(cycleStart, []float64{1420000000, 1420200000}, []float64{-2, -3})
	if err != nil {
		t.Fatalf("creating baseline: %v", err)
	}

	l, _ := newLoop(t, script(output(-5, -6)), WithBaseline(baseline))
	if _, err = l.RunCycle(context.Background()); !errors.Is(err, ErrGridMismatch) {
		t.Errorf("expected ErrGridMismatch, got %v", err)
	}
}

func TestLoop_Baseline(t *testing.T) {
	baseline, err := spectrum.NewSample(cycleStart, []float64{1420000000, 1420100000}, []float64{-2, -3})
	if err != nil {
		t.Fatalf("creating baseline: %v", err)
	}

	sky := script(output(-5, -6))
	l, h := newLoop(t, sky, WithBaseline(baseline))

	filename, err := l.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	record, err := h.store.Read(filename)
	if err != nil {
		t.Fatalf("reading record: %v", err)
	}
	if record.Decibels[0] != -3 || record.Decibels[1] != -3 {
		t.Errorf("unexpected fused values: %v", record.Decibels)
	}
}

func TestLoop_RunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	sky := script(func(ctx context.Context) ([]byte, error) {
		cancel()
		return hang(ctx)
	})
	background := script(hang)

	l, _ := newLoop(t, sky, WithBackground(background), WithCaptureTimeout(time.Minute))

	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not stop after cancellation")
	}
}

func TestNew_Validation(t *testing.T) {
	store, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	sky := script(output(-1))
	baseline := &spectrum.Sample{}

	testCases := []struct {
		name    string
		options []func(l *Loop)
	}{
		{"no background", nil},
		{"background and baseline", []func(l *Loop){WithBackground(sky), WithBaseline(baseline)}},
		{"zero timeout", []func(l *Loop){WithBackground(sky), WithCaptureTimeout(0)}},
		{"negative attempts", []func(l *Loop){WithBackground(sky), WithMaxAttempts(-1)}},
		{"shrinking backoff", []func(l *Loop){WithBackground(sky), WithSettleDelay(time.Second, 0.5, time.Second)}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(sky, store, &fakeResetter{}, tc.options...); err == nil {
				t.Error("expected error")
			}
		})
	}
}
