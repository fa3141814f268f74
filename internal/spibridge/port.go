package spibridge

import (
	"io"
	"time"

	"go.bug.st/serial"
)

// SerialPorter defines the minimal interface needed for a serial port.
// This abstraction enables unit testing without real serial hardware.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}

// TimeoutSerialPorter extends SerialPorter with timeout capabilities.
// A Read that times out returns 0 bytes and a nil error.
type TimeoutSerialPorter interface {
	SerialPorter
	SetReadTimeout(timeout time.Duration) error
}

// inputResetter is implemented by ports that can discard unread input.
type inputResetter interface {
	ResetInputBuffer() error
}

// PortOpener opens a serial port. OpenWith takes one so tests can replace
// serial.Open.
type PortOpener func(path string, mode *serial.Mode) (SerialPorter, error)

func openSerial(path string, mode *serial.Mode) (SerialPorter, error) {
	return serial.Open(path, mode)
}
