//go:build !wasm

package serial

import (
	"github.com/pkg/errors"
	"github.com/tarm/serial"
)

// ErrNoDevice is returned by Open when the configuration names no device.
var ErrNoDevice = errors.New("no serial device configured")

// ttyPort is a Port on an operating system serial device.
type ttyPort struct {
	*serial.Port
	device string
}

// Open opens the device named by cfg.
func Open(cfg *Config) (Port, error) {
	if cfg == nil || cfg.Device == "" {
		return nil, ErrNoDevice
	}
	if cfg.Baud <= 0 {
		return nil, errors.Errorf("invalid baud rate %d for %s", cfg.Baud, cfg.Device)
	}
	p, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", cfg.Device)
	}
	return &ttyPort{Port: p, device: cfg.Device}, nil
}

// Close releases the device.
func (p *ttyPort) Close() error {
	return errors.Wrapf(p.Port.Close(), "closing %s", p.device)
}
