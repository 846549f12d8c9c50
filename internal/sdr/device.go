package sdr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
)

const (
	// DefaultWaitDelay bounds how long a killed capture may keep its output
	// pipes open, e.g. when the tool left child processes behind.
	DefaultWaitDelay = 5 * time.Second
)

// WithLogger sets the logger for the device
func WithLogger(logger *slog.Logger) func(d *Device) {
	return func(d *Device) {
		d.logger = logger.With(
			slog.String("device", d.handler.Device()),
			slog.String("channel", d.channel),
		)
	}
}

// WithTimeout bounds every capture. Zero disables the bound.
func WithTimeout(timeout time.Duration) func(d *Device) {
	return func(d *Device) {
		d.timeout = timeout
	}
}

// WithWaitDelay overrides DefaultWaitDelay.
func WithWaitDelay(delay time.Duration) func(d *Device) {
	return func(d *Device) {
		d.waitDelay = delay
	}
}

// Device represents an SDR channel that captures one spectrum per Capture call.
type Device struct {
	channel string
	handler Handler

	timeout   time.Duration
	waitDelay time.Duration

	isCapturing atomic.Bool

	logger *slog.Logger
}

// NewDevice creates a new Device instance with a discard logger
func NewDevice(channel string, h Handler, options ...func(d *Device)) *Device {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // nil logger

	d := Device{
		channel:   channel,
		handler:   h,
		waitDelay: DefaultWaitDelay,
		logger:    logger,
	}

	for _, option := range options {
		option(&d)
	}

	return &d
}

// Channel returns the channel name the device was created with.
func (d *Device) Channel() string {
	return d.channel
}

// IsCapturing returns true while a capture is in flight
func (d *Device) IsCapturing() bool {
	return d.isCapturing.Load()
}

// Capture runs the capture tool once and returns its complete standard
// output. Standard error is logged line by line at warn level.
//
// ErrTimeout is returned when the device timeout expires. Cancellation of
// ctx itself is reported as the context error, and any other failure of the
// tool wraps ErrCaptureFailed.
func (d *Device) Capture(ctx context.Context) ([]byte, error) {
	if !d.isCapturing.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer d.isCapturing.Store(false)

	captureCtx, cancel := ctx, context.CancelFunc(func() {})
	if d.timeout > 0 {
		captureCtx, cancel = context.WithTimeout(ctx, d.timeout)
	}
	defer cancel()

	var stdout bytes.Buffer
	stderr := &lineLogger{logger: d.logger, device: d.handler.Device()}

	cmd := d.handler.Cmd(captureCtx)
	cmd.Stdout = &stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = d.waitDelay

	startedAt := time.Now()
	d.logger.Debug("starting capture", slog.String("cmd", cmd.String()))

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: error starting command: %w", ErrCaptureFailed, err)
	}

	err := cmd.Wait()
	stderr.Flush()

	switch {
	case ctx.Err() != nil:
		return nil, fmt.Errorf("capture interrupted: %w", ctx.Err())
	case errors.Is(captureCtx.Err(), context.DeadlineExceeded):
		d.logger.Warn("capture timed out", slog.Duration("timeout", d.timeout))
		return nil, fmt.Errorf("%w after %s", ErrTimeout, d.timeout)
	case err != nil:
		return nil, fmt.Errorf("%w: command exited with error: %w", ErrCaptureFailed, err)
	}

	d.logger.Debug("capture finished",
		slog.Int("bytes", stdout.Len()),
		slog.Duration("elapsed", time.Since(startedAt).Round(time.Millisecond)))

	return stdout.Bytes(), nil
}

// lineLogger is an io.Writer logging every complete line written to it.
type lineLogger struct {
	logger  *slog.Logger
	device  string
	partial []byte
}

func (l *lineLogger) Write(p []byte) (int, error) {
	l.partial = append(l.partial, p...)

	for {
		i := bytes.IndexByte(l.partial, '\n')
		if i < 0 {
			break
		}

		l.log(string(l.partial[:i]))
		l.partial = l.partial[i+1:]
	}

	return len(p), nil
}

// Flush logs a trailing line without a newline terminator.
func (l *lineLogger) Flush() {
	if len(l.partial) > 0 {
		l.log(string(l.partial))
		l.partial = nil
	}
}

func (l *lineLogger) log(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}

	l.logger.Warn(fmt.Sprintf("%s >> %s", l.device, line)) // simple logging here
}
