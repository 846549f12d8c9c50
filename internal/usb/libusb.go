//go:build libusb

package usb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/gousb"
)

// LibusbAvailable reports whether LibusbResetter is compiled in.
const LibusbAvailable = true

// LibusbResetter finds and resets devices through libusb. libusb cannot
// power-cycle a device, so PowerCycle toggles the sysfs authorization.
type LibusbResetter struct {
	sysfs  *SysfsResetter
	logger *slog.Logger
}

// NewLibusbResetter accepts the SysfsResetter options used for power-cycling.
func NewLibusbResetter(options ...func(r *SysfsResetter)) (*LibusbResetter, error) {
	sysfs := NewSysfsResetter(options...)
	return &LibusbResetter{sysfs: sysfs, logger: sysfs.logger}, nil
}

// Reset opens every matching device and issues a port reset.
func (r *LibusbResetter) Reset(ctx context.Context, sel Selector) error {
	usbCtx := gousb.NewContext()
	defer usbCtx.Close()

	devices, err := usbCtx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Vendor == gousb.ID(sel.VendorID) && desc.Product == gousb.ID(sel.ProductID)
	})
	defer func() {
		for _, device := range devices {
			_ = device.Close()
		}
	}()

	if len(devices) == 0 {
		if err != nil {
			return fmt.Errorf("opening usb devices: %w", err)
		}
		return fmt.Errorf("%w: %s", ErrNoDevices, sel)
	}

	var errs []error
	if err != nil {
		errs = append(errs, fmt.Errorf("opening usb devices: %w", err))
	}
	for _, device := range devices {
		if err = ctx.Err(); err != nil {
			return err
		}

		r.logger.Info("resetting usb device",
			slog.String("selector", sel.String()),
			slog.Int("bus", device.Desc.Bus),
			slog.Int("address", device.Desc.Address))

		// the device re-enumerates after a successful reset
		if err = device.Reset(); err != nil && !errors.Is(err, gousb.ErrorNotFound) {
			errs = append(errs, fmt.Errorf("resetting %s: %w", device, err))
		}
	}

	return errors.Join(errs...)
}

// PowerCycle deauthorizes and reauthorizes every matching device in sysfs.
func (r *LibusbResetter) PowerCycle(ctx context.Context, sel Selector) error {
	return r.sysfs.PowerCycle(ctx, sel)
}
