package rtl

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/roman-kulish/radio-telescope/internal/sdr"
	"github.com/roman-kulish/radio-telescope/internal/sdr/driver"
)

const (
	Runtime = "rtl_power_fftw"
	Device  = "RTL-SDR"
)

// handler struct represents an RTL-SDR handler
type handler struct {
	binPath string
	args    []string
}

// New creates a new RTL-SDR handler
func New(config *Config) (sdr.Handler, error) {
	args, err := config.Args()
	if err != nil {
		return nil, driver.NewConfigError(fmt.Sprintf("error creating args: %s", err))
	}

	binPath, err := driver.FindRuntime(config.runtime())
	if err != nil {
		return nil, fmt.Errorf("error finding runtime: %w", err)
	}

	return &handler{binPath, args}, nil
}

// Cmd returns an exec.Cmd for the RTL-SDR handler
func (h handler) Cmd(ctx context.Context) *exec.Cmd {
	return exec.CommandContext(ctx, h.binPath, h.args...)
}

func (h handler) Device() string {
	return Device
}
