//go:build !linux

package usb

func resetNode(string) error {
	return ErrUnsupported
}
