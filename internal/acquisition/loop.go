// Package acquisition runs the observing loop: concurrent sky and background
// captures, recovery of hung receivers, fusion and persistence of the result.
package acquisition

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/roman-kulish/radio-telescope/internal/sdr"
	"github.com/roman-kulish/radio-telescope/internal/spectrum"
	"github.com/roman-kulish/radio-telescope/internal/telemetry"
	"github.com/roman-kulish/radio-telescope/internal/usb"
)

const (
	DefaultCaptureTimeout = 600 * time.Second
	DefaultSettleDelay    = 5 * time.Second

	ChannelSky        = "sky"
	ChannelBackground = "background"

	gridTolerance = 1.0
)

var (
	// ErrRetriesExhausted is returned when a cycle failed more often than the
	// configured maximum number of attempts.
	ErrRetriesExhausted = errors.New("capture retries exhausted")

	// ErrEmptyCapture is returned when a capture succeeded but produced no data lines.
	ErrEmptyCapture = errors.New("capture produced no data")

	// ErrGridMismatch is returned when the sky and background spectra have
	// the same number of bins at different frequencies.
	ErrGridMismatch = errors.New("sky and background frequency grids differ")
)

// Capturer runs one bounded measurement and returns the raw tool output.
type Capturer interface {
	Capture(ctx context.Context) ([]byte, error)
}

// SampleWriter persists a fused sample and returns the record filename.
type SampleWriter interface {
	Write(sample *spectrum.Sample) (string, error)
}

// Loop is the acquisition state machine. A Loop must not run more than one
// cycle at a time.
type Loop struct {
	sky        Capturer
	background Capturer
	baseline   *spectrum.Sample

	store    SampleWriter
	resetter usb.Resetter
	selector usb.Selector

	captureTimeout time.Duration
	settleDelay    time.Duration
	multiplier     float64
	maxDelay       time.Duration
	maxAttempts    int

	metrics *telemetry.Collector
	logger  *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Loop. Exactly one of WithBackground and WithBaseline must be
// given.
func New(sky Capturer, store SampleWriter, resetter usb.Resetter, options ...func(l *Loop)) (*Loop, error) {
	l := Loop{
		sky:            sky,
		store:          store,
		resetter:       resetter,
		selector:       usb.Selector{VendorID: usb.RTLVendorID, ProductID: usb.RTLProductID},
		captureTimeout: DefaultCaptureTimeout,
		settleDelay:    DefaultSettleDelay,
		multiplier:     1,
		logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:            time.Now,
		sleep:          sleep,
	}

	for _, option := range options {
		option(&l)
	}

	switch {
	case l.sky == nil:
		return nil, errors.New("acquisition: sky capturer is required")
	case l.store == nil:
		return nil, errors.New("acquisition: sample writer is required")
	case l.resetter == nil:
		return nil, errors.New("acquisition: usb resetter is required")
	case l.background == nil && l.baseline == nil:
		return nil, errors.New("acquisition: either a background capturer or a baseline is required")
	case l.background != nil && l.baseline != nil:
		return nil, errors.New("acquisition: background capturer and baseline are mutually exclusive")
	case l.captureTimeout <= 0:
		return nil, fmt.Errorf("acquisition: capture timeout must be positive: %s", l.captureTimeout)
	case l.settleDelay < 0:
		return nil, fmt.Errorf("acquisition: settle delay must not be negative: %s", l.settleDelay)
	case l.multiplier < 1:
		return nil, fmt.Errorf("acquisition: backoff multiplier must be at least 1: %v", l.multiplier)
	case l.maxAttempts < 0:
		return nil, fmt.Errorf("acquisition: max attempts must not be negative: %d", l.maxAttempts)
	}

	if l.maxDelay < l.settleDelay {
		l.maxDelay = l.settleDelay
	}

	return &l, nil
}

// Run executes cycles until ctx is cancelled, which is a clean shutdown, or
// a cycle fails with a non-recoverable error.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("running data acquisition loop...",
		slog.Duration("captureTimeout", l.captureTimeout),
		slog.Duration("settleDelay", l.settleDelay),
		slog.Int("maxAttempts", l.maxAttempts),
		slog.Bool("baseline", l.baseline != nil))

	for {
		if _, err := l.RunCycle(ctx); err != nil {
			if ctx.Err() != nil {
				l.logger.Info("data acquisition loop stopped")
				return nil
			}

			l.metrics.CycleFailed()
			return err
		}
	}
}

// RunCycle captures, fuses and persists one sample, retrying captures with
// device recovery in between. It returns the record filename.
func (l *Loop) RunCycle(ctx context.Context) (string, error) {
	logger := l.logger.With(slog.String("cycle", uuid.NewString()))
	startedAt := l.now()

	delays := &backoff.ExponentialBackOff{
		InitialInterval:     l.settleDelay,
		RandomizationFactor: 0,
		Multiplier:          l.multiplier,
		MaxInterval:         l.maxDelay,
	}
	delays.Reset()

	var (
		timestamp time.Time
		freqs     []float64
		bgFreqs   []float64
		skyDBs    []float64
		bgDBs     []float64
	)

	for attempt := 1; ; attempt++ {
		timestamp = l.now().UTC()

		skyOut, bgOut, timedOut, err := l.capture(ctx, logger)
		if err == nil {
			freqs, skyDBs, bgFreqs, bgDBs, err = l.parse(skyOut, bgOut)
		}
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		logger.Warn("capture attempt failed",
			slog.Int("attempt", attempt),
			slog.Bool("timeout", timedOut),
			slog.String("error", err.Error()))

		if l.maxAttempts > 0 && attempt >= l.maxAttempts {
			return "", fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempt, err)
		}

		l.recover(ctx, timedOut, logger)

		delay := delays.NextBackOff()
		logger.Info("waiting for devices to settle", slog.Duration("delay", delay))
		if err = l.sleep(ctx, delay); err != nil {
			return "", err
		}
	}

	if err := checkGrid(freqs, bgFreqs); err != nil {
		return "", err
	}
	fused, err := spectrum.Fuse(skyDBs, bgDBs)
	if err != nil {
		return "", err
	}

	sample, err := spectrum.NewSample(timestamp, freqs, fused)
	if err != nil {
		return "", fmt.Errorf("creating sample: %w", err)
	}

	filename, err := l.store.Write(sample)
	if err != nil {
		return "", fmt.Errorf("persisting sample: %w", err)
	}

	_, trimmed := spectrum.TrimEdges(sample.Frequencies, sample.Decibels)
	power := spectrum.AggregatePower(trimmed, spectrum.Mean)

	elapsed := l.now().Sub(startedAt)
	l.metrics.CycleCompleted(elapsed, sample.Timestamp, power)

	logger.Info("sample persisted",
		slog.String("file", filename),
		slog.Int("bins", sample.Len()),
		slog.String("band", humanize.SIWithDigits(sample.FrequencyStart(), 3, "Hz")+" - "+humanize.SIWithDigits(sample.FrequencyEnd(), 3, "Hz")),
		slog.Float64("power", power),
		slog.Duration("elapsed", elapsed.Round(time.Second)))

	return filename, nil
}

type channel struct {
	name     string
	capturer Capturer
}

// capture runs the sky and background captures concurrently under a shared
// deadline. A failure of either capture cancels the other; both are always
// joined before returning, so no capture is in flight afterwards.
func (l *Loop) capture(ctx context.Context, logger *slog.Logger) (sky, background []byte, timedOut bool, err error) {
	captureCtx, cancel := context.WithTimeout(ctx, l.captureTimeout)
	defer cancel()

	type result struct {
		channel string
		out     []byte
		err     error
	}

	channels := []channel{{ChannelSky, l.sky}}
	if l.background != nil {
		channels = append(channels, channel{ChannelBackground, l.background})
	}

	results := make(chan result, len(channels))
	for _, ch := range channels {
		go func() {
			out, err := ch.capturer.Capture(captureCtx)
			if err != nil {
				cancel()
			}
			results <- result{ch.name, out, err}
		}()
	}

	logger.Debug("captures started", slog.Int("channels", len(channels)))

	collected := make(map[string]result, len(channels))
	for range channels {
		r := <-results
		collected[r.channel] = r
	}

	deadline := errors.Is(captureCtx.Err(), context.DeadlineExceeded)

	var errs []error
	for _, ch := range channels {
		r := collected[ch.name]
		if r.err == nil {
			continue
		}
		// cancelled because the sibling failed first
		if errors.Is(r.err, context.Canceled) && ctx.Err() == nil {
			continue
		}

		isTimeout := deadline || errors.Is(r.err, sdr.ErrTimeout)
		timedOut = timedOut || isTimeout
		l.metrics.CaptureFailed(ch.name, isTimeout)

		errs = append(errs, fmt.Errorf("%s capture: %w", ch.name, r.err))
	}

	if len(errs) > 0 {
		return nil, nil, timedOut, errors.Join(errs...)
	}

	return collected[ChannelSky].out, collected[ChannelBackground].out, false, nil
}

// parse turns the raw outputs into aligned decibel sequences. With a
// baseline configured the background comes from the baseline record.
func (l *Loop) parse(skyOut, bgOut []byte) (freqs, skyDBs, bgFreqs, bgDBs []float64, err error) {
	freqs, skyDBs = spectrum.ParseOutput(skyOut)
	if len(freqs) == 0 {
		return nil, nil, nil, nil, fmt.Errorf("%s: %w", ChannelSky, ErrEmptyCapture)
	}

	if l.baseline != nil {
		return freqs, skyDBs, l.baseline.Frequencies, l.baseline.Decibels, nil
	}

	bgFreqs, bgDBs = spectrum.ParseOutput(bgOut)
	if len(bgFreqs) == 0 {
		return nil, nil, nil, nil, fmt.Errorf("%s: %w", ChannelBackground, ErrEmptyCapture)
	}

	return freqs, skyDBs, bgFreqs, bgDBs, nil
}

// checkGrid requires equal-length grids to agree bin by bin within
// gridTolerance Hz. Length differences are left to spectrum.Fuse.
func checkGrid(sky, background []float64) error {
	if len(sky) != len(background) {
		return nil
	}
	for i := range sky {
		if math.Abs(sky[i]-background[i]) > gridTolerance {
			return fmt.Errorf("%w: bin %d is at %.0f Hz in the sky spectrum and %.0f Hz in the background",
				ErrGridMismatch, i, sky[i], background[i])
		}
	}
	return nil
}

// recover resets the devices after a timeout and power-cycles them after
// any other failure. Recovery errors are logged, the next attempt decides
// whether the devices came back.
func (l *Loop) recover(ctx context.Context, timedOut bool, logger *slog.Logger) {
	kind, action := telemetry.ResetSoft, l.resetter.Reset
	if !timedOut {
		kind, action = telemetry.ResetPowerCycle, l.resetter.PowerCycle
	}

	logger.Info("recovering usb devices", slog.String("kind", kind), slog.String("selector", l.selector.String()))

	err := action(ctx, l.selector)
	l.metrics.DeviceReset(kind, err)
	if err != nil {
		logger.Error("usb recovery failed", slog.String("kind", kind), slog.String("error", err.Error()))
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
