package usb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

const defaultPowerOffDelay = time.Second

// WithLogger sets the logger for the resetter
func WithLogger(logger *slog.Logger) func(r *SysfsResetter) {
	return func(r *SysfsResetter) {
		r.logger = logger.With(slog.String("component", "usb"))
	}
}

// WithRoots overrides the sysfs and usbfs roots.
func WithRoots(sysfsRoot, devRoot string) func(r *SysfsResetter) {
	return func(r *SysfsResetter) {
		r.sysfsRoot = sysfsRoot
		r.devRoot = devRoot
	}
}

// WithPowerOffDelay sets how long a device stays disconnected during a power-cycle.
func WithPowerOffDelay(delay time.Duration) func(r *SysfsResetter) {
	return func(r *SysfsResetter) {
		r.powerOffDelay = delay
	}
}

// SysfsResetter resets devices through usbfs and power-cycles them by
// toggling their sysfs authorization. Both operations need write access to
// the device, usually root or a matching udev rule.
type SysfsResetter struct {
	sysfsRoot     string
	devRoot       string
	powerOffDelay time.Duration

	logger *slog.Logger
}

// NewSysfsResetter creates a SysfsResetter with a discard logger.
func NewSysfsResetter(options ...func(r *SysfsResetter)) *SysfsResetter {
	r := SysfsResetter{
		sysfsRoot:     DefaultSysfsRoot,
		devRoot:       DefaultDevRoot,
		powerOffDelay: defaultPowerOffDelay,
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&r)
	}

	return &r
}

// Reset issues a usbfs reset to every matching device.
func (r *SysfsResetter) Reset(ctx context.Context, sel Selector) error {
	devices, err := FindDevices(r.sysfsRoot, sel)
	if err != nil {
		return err
	}

	var errs []error
	for _, device := range devices {
		if err = ctx.Err(); err != nil {
			return err
		}

		node := device.NodePath(r.devRoot)
		r.logger.Info("resetting usb device", slog.String("selector", sel.String()), slog.String("node", node))

		if err = resetNode(node); err != nil {
			errs = append(errs, fmt.Errorf("resetting %s: %w", node, err))
		}
	}

	return errors.Join(errs...)
}

// PowerCycle deauthorizes every matching device, waits for the power-off
// delay and authorizes them again.
func (r *SysfsResetter) PowerCycle(ctx context.Context, sel Selector) error {
	devices, err := FindDevices(r.sysfsRoot, sel)
	if err != nil {
		return err
	}

	var errs []error
	var disconnected []Device
	for _, device := range devices {
		r.logger.Info("disconnecting usb device", slog.String("selector", sel.String()), slog.String("path", device.SysfsPath))

		if err = writeAuthorized(device.SysfsPath, false); err != nil {
			errs = append(errs, fmt.Errorf("disconnecting %s: %w", device.SysfsPath, err))
			continue
		}
		disconnected = append(disconnected, device)
	}

	timer := time.NewTimer(r.powerOffDelay)
	select {
	case <-ctx.Done():
		timer.Stop()
	case <-timer.C:
	}

	// devices are always reconnected, even when ctx is done
	for _, device := range disconnected {
		r.logger.Info("reconnecting usb device", slog.String("path", device.SysfsPath))

		if err = writeAuthorized(device.SysfsPath, true); err != nil {
			errs = append(errs, fmt.Errorf("reconnecting %s: %w", device.SysfsPath, err))
		}
	}

	return errors.Join(errs...)
}

func writeAuthorized(dir string, authorized bool) error {
	value := "0"
	if authorized {
		value = "1"
	}
	return os.WriteFile(filepath.Join(dir, "authorized"), []byte(value), 0)
}
