//go:build linux

package usb

import (
	"os"

	"golang.org/x/sys/unix"
)

// usbdevfsReset is USBDEVFS_RESET, _IO('U', 20).
const usbdevfsReset = 0x5514

func resetNode(node string) error {
	f, err := os.OpenFile(node, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()

	return unix.IoctlSetInt(int(f.Fd()), usbdevfsReset, 0)
}
