package usb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// CommandResetter delegates recovery to external commands, e.g. usbreset
// or uhubctl. The selector is passed to the commands in the USB_VENDOR_ID,
// USB_PRODUCT_ID and USB_SELECTOR environment variables, and every
// occurrence of "{selector}" within an argument is replaced with it.
type CommandResetter struct {
	ResetCommand      []string
	PowerCycleCommand []string

	Logger *slog.Logger
}

// Reset runs ResetCommand.
func (r *CommandResetter) Reset(ctx context.Context, sel Selector) error {
	return r.run(ctx, "reset", r.ResetCommand, sel)
}

// PowerCycle runs PowerCycleCommand, or ResetCommand when no power-cycle
// command is configured.
func (r *CommandResetter) PowerCycle(ctx context.Context, sel Selector) error {
	if len(r.PowerCycleCommand) == 0 {
		return r.run(ctx, "power-cycle", r.ResetCommand, sel)
	}
	return r.run(ctx, "power-cycle", r.PowerCycleCommand, sel)
}

func (r *CommandResetter) run(ctx context.Context, kind string, command []string, sel Selector) error {
	if len(command) == 0 {
		return errors.New("usb: no " + kind + " command configured")
	}

	args := make([]string, len(command)-1)
	for i, arg := range command[1:] {
		args[i] = strings.ReplaceAll(arg, "{selector}", sel.String())
	}

	cmd := exec.CommandContext(ctx, command[0], args...)
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("USB_VENDOR_ID=%04x", sel.VendorID),
		fmt.Sprintf("USB_PRODUCT_ID=%04x", sel.ProductID),
		"USB_SELECTOR="+sel.String(),
	)

	logger := r.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	logger.Info("running usb "+kind+" command", slog.String("cmd", cmd.String()))

	out, err := cmd.CombinedOutput()
	if len(out) > 0 {
		logger.Debug(strings.TrimSpace(string(out)), slog.String("kind", kind))
	}
	if err != nil {
		return fmt.Errorf("usb %s command failed: %w", kind, err)
	}

	return nil
}
