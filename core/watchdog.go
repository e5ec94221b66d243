package core

import (
	"encoding/binary"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// WatchdogMaxTimeout is the longest timeout the 16 bit counter holds, in
// milliseconds.
const WatchdogMaxTimeout = 0xFFFF

// Watchdog controls the watchdog timer. On overflow it resets the digital
// tile only; the analog tile keeps running. It is disabled at power on.
type Watchdog struct {
	mu      sync.Mutex
	periph  Periph
	logger  *zap.SugaredLogger
	enabled bool
}

func newWatchdog(p Periph, logger *zap.SugaredLogger) *Watchdog {
	return &Watchdog{periph: p, logger: logger}
}

// Enable starts the watchdog.
func (w *Watchdog) Enable() error {
	return w.setEnabled(true)
}

// Disable stops the watchdog.
func (w *Watchdog) Disable() error {
	return w.setEnabled(false)
}

func (w *Watchdog) setEnabled(on bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	var v byte
	if on {
		v = 1
	}
	if err := w.periph.WritePeriph8(PeriphRTC, RegWDTEnable, []byte{v}); err != nil {
		return errors.Wrap(err, "watchdog enable")
	}
	w.enabled = on
	w.logger.Debugw("watchdog", "enabled", on)
	return nil
}

// Enabled reports whether the watchdog was last enabled through this handle.
func (w *Watchdog) Enabled() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enabled
}

// SetTimeout sets the overflow time, counted from now. The counter is
// cleared.
func (w *Watchdog) SetTimeout(ms uint16) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], ms)
	if err := w.periph.WritePeriph8(PeriphRTC, RegWDTTimeout, buf[:]); err != nil {
		return errors.Wrap(err, "watchdog timeout")
	}
	if err := w.periph.WritePeriph8(PeriphRTC, RegWDTCount, []byte{0, 0}); err != nil {
		return errors.Wrap(err, "watchdog clear")
	}
	return nil
}

// Kick restarts the count and returns the milliseconds that had elapsed, so
// callers can see how close they came to a reset.
func (w *Watchdog) Kick() (uint16, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	var buf [2]byte
	if err := w.periph.ReadPeriph8(PeriphRTC, RegWDTCount, buf[:]); err != nil {
		return 0, errors.Wrap(err, "watchdog count")
	}
	if err := w.periph.WritePeriph8(PeriphRTC, RegWDTCount, []byte{0, 0}); err != nil {
		return 0, errors.Wrap(err, "watchdog kick")
	}
	return binary.LittleEndian.Uint16(buf[:]), nil
}
