package serial

import (
	"io"
	"time"

	"go.uber.org/multierr"
)

// Port is a serial port carrying framed ADC packets.
// Implementations:
// - Native serial (github.com/tarm/serial)
// - Pipe (tests and the simulated tile)
type Port interface {
	io.ReadWriteCloser

	// Flush flushes any buffered data
	Flush() error
}

// Config holds serial port configuration
type Config struct {
	// Device path (e.g., "/dev/ttyUSB0", "COM3")
	Device string

	// Baud rate
	Baud int

	// Read timeout (0 = blocking)
	ReadTimeout time.Duration
}

// DefaultBaud is the rate the tile's UART bridge runs at.
const DefaultBaud = 115200

// DefaultConfig returns the default configuration for device.
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        DefaultBaud,
		ReadTimeout: 0,
	}
}

// pipePort joins a reader and a writer into a Port.
type pipePort struct {
	io.Reader
	io.Writer
	closers []io.Closer
}

// Pipe returns two connected ports, as if joined by a null modem cable.
func Pipe() (Port, Port) {
	ar, bw := io.Pipe()
	br, aw := io.Pipe()
	a := &pipePort{Reader: ar, Writer: aw, closers: []io.Closer{ar, aw}}
	b := &pipePort{Reader: br, Writer: bw, closers: []io.Closer{br, bw}}
	return a, b
}

func (p *pipePort) Close() error {
	var err error
	for _, c := range p.closers {
		err = multierr.Append(err, c.Close())
	}
	return err
}

func (p *pipePort) Flush() error {
	return nil
}
