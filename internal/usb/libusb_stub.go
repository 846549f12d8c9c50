//go:build !libusb

package usb

import (
	"context"
	"fmt"
)

// LibusbAvailable reports whether LibusbResetter is compiled in.
const LibusbAvailable = false

var errNoLibusb = fmt.Errorf("%w: built without the libusb tag", ErrUnsupported)

// LibusbResetter is unavailable in this build.
type LibusbResetter struct{}

func NewLibusbResetter(...func(r *SysfsResetter)) (*LibusbResetter, error) {
	return nil, errNoLibusb
}

func (*LibusbResetter) Reset(context.Context, Selector) error {
	return errNoLibusb
}

func (*LibusbResetter) PowerCycle(context.Context, Selector) error {
	return errNoLibusb
}
