// Package usb finds USB devices by vendor and product identity and recovers
// hung receivers by resetting or power-cycling them.
package usb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	// DefaultSysfsRoot lists every USB device known to the kernel.
	DefaultSysfsRoot = "/sys/bus/usb/devices"

	// DefaultDevRoot holds the usbfs device nodes as <bus>/<device>.
	DefaultDevRoot = "/dev/bus/usb"

	// RTL2832U dongles as shipped by most vendors.
	RTLVendorID  = 0x0bda
	RTLProductID = 0x2838
)

var (
	// ErrNoDevices is returned when no attached device matches the selector.
	ErrNoDevices = errors.New("no matching usb devices")

	// ErrUnsupported is returned by reset methods unavailable on this platform.
	ErrUnsupported = errors.New("usb reset is not supported on this platform")
)

// Selector matches USB devices by vendor and product identity.
type Selector struct {
	VendorID  uint16
	ProductID uint16
}

// ParseSelector parses "vvvv:pppp" with hexadecimal ids, as printed by lsusb.
func ParseSelector(s string) (Selector, error) {
	vendor, product, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return Selector{}, fmt.Errorf("invalid usb selector %q: expected vendor:product", s)
	}

	v, err := strconv.ParseUint(vendor, 16, 16)
	if err != nil {
		return Selector{}, fmt.Errorf("invalid usb vendor id %q: %w", vendor, err)
	}

	p, err := strconv.ParseUint(product, 16, 16)
	if err != nil {
		return Selector{}, fmt.Errorf("invalid usb product id %q: %w", product, err)
	}

	return Selector{VendorID: uint16(v), ProductID: uint16(p)}, nil
}

func (s Selector) String() string {
	return fmt.Sprintf("%04x:%04x", s.VendorID, s.ProductID)
}

// Resetter recovers every attached device matching a selector. Both
// operations affect all matching devices, so no capture may be running on
// any of them while a reset is in progress.
type Resetter interface {
	// Reset performs a soft reset, equivalent to unplugging and replugging
	// the device at the protocol level.
	Reset(ctx context.Context, sel Selector) error

	// PowerCycle is the coarser recovery: the device is disconnected from
	// the bus and reconnected.
	PowerCycle(ctx context.Context, sel Selector) error
}

// Device is an attached USB device as seen in sysfs.
type Device struct {
	SysfsPath string
	Bus       int
	Address   int
	VendorID  uint16
	ProductID uint16
}

// NodePath returns the usbfs device node of d under devRoot.
func (d Device) NodePath(devRoot string) string {
	return filepath.Join(devRoot, fmt.Sprintf("%03d", d.Bus), fmt.Sprintf("%03d", d.Address))
}

// FindDevices lists the devices under the sysfs root matching sel. Interface
// entries and devices with unreadable attributes are skipped.
func FindDevices(sysfsRoot string, sel Selector) ([]Device, error) {
	entries, err := os.ReadDir(sysfsRoot)
	if err != nil {
		return nil, fmt.Errorf("listing usb devices: %w", err)
	}

	var devices []Device
	for _, entry := range entries {
		dir := filepath.Join(sysfsRoot, entry.Name())

		vendor, err := readHexAttr(dir, "idVendor")
		if err != nil {
			continue // interfaces and hubs without ids
		}
		product, err := readHexAttr(dir, "idProduct")
		if err != nil {
			continue
		}
		if uint16(vendor) != sel.VendorID || uint16(product) != sel.ProductID {
			continue
		}

		bus, err := readIntAttr(dir, "busnum")
		if err != nil {
			continue
		}
		address, err := readIntAttr(dir, "devnum")
		if err != nil {
			continue
		}

		devices = append(devices, Device{
			SysfsPath: dir,
			Bus:       bus,
			Address:   address,
			VendorID:  uint16(vendor),
			ProductID: uint16(product),
		})
	}

	if len(devices) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoDevices, sel)
	}

	return devices, nil
}

func readAttr(dir, name string) (string, error) {
	b, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

func readHexAttr(dir, name string) (uint64, error) {
	v, err := readAttr(dir, name)
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(v, 16, 16)
}

func readIntAttr(dir, name string) (int, error) {
	v, err := readAttr(dir, name)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(v)
}
