// Package serial opens the serial port used by the RTU transport,
// wrapping github.com/goburrow/serial so the root package doesn't need to
// depend on a platform-specific cgo-free serial driver directly.
package serial

import (
	"io"
	"time"

	"github.com/goburrow/serial"
)

// Config describes how to open an RTU serial link (spec.md §6).
type Config struct {
	// Address is the device path, e.g. "/dev/ttyUSB0" or "COM3".
	Address string
	BaudRate int
	DataBits int
	Parity   string
	StopBits int
	Timeout  time.Duration
}

// Open opens the configured serial port for use as an RTU transport.
func Open(cfg Config) (io.ReadWriteCloser, error) {
	return serial.Open(&serial.Config{
		Address:  cfg.Address,
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
		Parity:   cfg.Parity,
		StopBits: cfg.StopBits,
		Timeout:  cfg.Timeout,
	})
}
