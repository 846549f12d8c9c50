// Package sdr runs external spectrum capture tools and collects their output.
package sdr

import (
	"context"
	"errors"
	"os/exec"
)

var (
	// ErrTimeout is returned when a capture does not finish within its time budget.
	ErrTimeout = errors.New("capture timed out")

	// ErrCaptureFailed is returned when the capture tool exits with an error.
	ErrCaptureFailed = errors.New("capture failed")

	// ErrBusy is returned when a capture is requested while another one is
	// still running on the same device.
	ErrBusy = errors.New("device is already capturing")
)

// Handler interface defines the methods required for handling a device
type Handler interface {
	// Cmd builds the command for one capture. The command must terminate
	// on its own once the measurement is complete.
	Cmd(ctx context.Context) *exec.Cmd

	// Device is the human-readable device name used in logs.
	Device() string
}
