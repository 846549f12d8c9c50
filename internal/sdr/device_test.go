package sdr

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"strings"
	"testing"
	"time"
)

type shellHandler struct {
	script string
}

func (h shellHandler) Cmd(ctx context.Context) *exec.Cmd {
	return exec.CommandContext(ctx, "sh", "-c", h.script)
}

func (h shellHandler) Device() string {
	return "test-sdr"
}

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestDevice_Capture(t *testing.T) {
	requireShell(t)

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	d := NewDevice("sky", shellHandler{script: `echo "# header"; echo "1420000000 -12.5"; echo "diagnostic" >&2; printf "no newline" >&2`}, WithLogger(logger))

	out, err := d.Capture(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := "# header\n1420000000 -12.5\n"
	if string(out) != expected {
		t.Errorf("expected output %q, got %q", expected, string(out))
	}
	if !strings.Contains(logs.String(), "test-sdr >> diagnostic") {
		t.Errorf("expected stderr to be logged, got %q", logs.String())
	}
	if !strings.Contains(logs.String(), "test-sdr >> no newline") {
		t.Errorf("expected trailing stderr line to be logged, got %q", logs.String())
	}
	if d.IsCapturing() {
		t.Error("expected device to be idle after capture")
	}
}

func TestDevice_CaptureTimeout(t *testing.T) {
	requireShell(t)

	d := NewDevice("sky", shellHandler{script: "exec sleep 10"},
		WithTimeout(100*time.Millisecond),
		WithWaitDelay(100*time.Millisecond))

	start := time.Now()
	_, err := d.Capture(context.Background())
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("capture was not terminated in time: %s", elapsed)
	}
}

func TestDevice_CaptureFailure(t *testing.T) {
	requireShell(t)

	d := NewDevice("background", shellHandler{script: "exit 3"})

	_, err := d.Capture(context.Background())
	if !errors.Is(err, ErrCaptureFailed) {
		t.Fatalf("expected ErrCaptureFailed, got %v", err)
	}
	if errors.Is(err, ErrTimeout) {
		t.Error("a failed exit must not be reported as timeout")
	}
}

func TestDevice_CaptureCancelled(t *testing.T) {
	requireShell(t)

	ctx, cancel := context.WithCancel(context.Background())
	d := NewDevice("sky", shellHandler{script: "exec sleep 10"}, WithWaitDelay(100*time.Millisecond))

	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	_, err := d.Capture(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if errors.Is(err, ErrTimeout) {
		t.Error("cancellation must not be reported as timeout")
	}
}
