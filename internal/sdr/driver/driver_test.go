//go:build !windows

package driver

import (
	"errors"
	"os/exec"
	"testing"
)

func TestFindRuntime_NotFound(t *testing.T) {
	_, err := FindRuntime("definitely-not-a-capture-tool-42")
	if err == nil {
		t.Fatal("expected error for missing runtime")
	}

	var runtimeErr *RuntimeError
	if !errors.As(err, &runtimeErr) {
		t.Fatalf("expected RuntimeError, got %T", err)
	}
	if !errors.Is(err, exec.ErrNotFound) {
		t.Errorf("expected wrapped exec.ErrNotFound, got %v", err)
	}
}

func TestFindRuntime_Shell(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	binPath, err := FindRuntime("sh")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if binPath == "" {
		t.Error("expected a binary path")
	}
}
