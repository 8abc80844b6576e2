package usbserial

import "errors"

var (
	ErrUnsupportedDevice = errors.New("usbserial: unsupported device")
	ErrNotOpen           = errors.New("usbserial: device not open")
	ErrTransferTimeout   = errors.New("usbserial: outbound transfer timed out")
	ErrTransportClosed   = errors.New("usbserial: transport closed")
	ErrBufferTooLarge    = errors.New("usbserial: buffer too large")
	ErrNoLineControl     = errors.New("usbserial: no line control configured")
)
