// Package core is the tile API for the analog tile: ADC sampling and
// packetization, the watchdog, deep sleep and the RTC.
//
// Platform code supplies a Periph, the access port to the tile's peripheral
// registers, and opens the tile once per process:
//
//	tile, err := core.Open(periph, core.WithLogger(logger))
//	...
//	err = tile.ADC.Enable(ch, triggerPin, &cfg)
package core

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// DefaultTriggerHold is how long each level of a trigger pulse is held.
const DefaultTriggerHold = time.Microsecond

// ErrAlreadyOpen is returned by Open while another handle is open.
var ErrAlreadyOpen = errors.New("analog tile already open; close it first")

var (
	openMu   sync.Mutex
	openTile *Tile
)

// Tile is the handle to the analog tile. It owns the ADC, the watchdog and
// the sleep controller.
type Tile struct {
	ADC      *ADC
	Watchdog *Watchdog
	Sleep    *Sleep

	periph Periph
	logger *zap.SugaredLogger
}

type options struct {
	logger *zap.SugaredLogger
	clk    clock.Clock
	hold   time.Duration
}

// Option configures Open.
type Option func(*options)

// WithLogger sets the logger. The default is the package logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithClock sets the clock used to time trigger pulses.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.clk = c
	}
}

// WithTriggerHold sets the time each trigger level is held. Zero skips the
// wait; the pulse is then as short as the port allows.
func WithTriggerHold(d time.Duration) Option {
	return func(o *options) {
		o.hold = d
	}
}

// Open returns the tile handle. Only one handle may be open at a time. A
// nil p selects the port registered with SetPeriph.
func Open(p Periph, opts ...Option) (*Tile, error) {
	if p == nil {
		p = periph
	}
	if p == nil {
		return nil, errors.New("analog tile needs a peripheral port")
	}
	o := options{logger: logger, clk: clock.New(), hold: DefaultTriggerHold}
	for _, opt := range opts {
		opt(&o)
	}

	openMu.Lock()
	defer openMu.Unlock()
	if openTile != nil {
		return nil, ErrAlreadyOpen
	}
	sleep, err := newSleep(p, o.logger)
	if err != nil {
		return nil, errors.Wrap(err, "creating sleep controller")
	}
	t := &Tile{
		ADC:      newADC(p, o.clk, o.hold, o.logger),
		Watchdog: newWatchdog(p, o.logger),
		Sleep:    sleep,
		periph:   p,
		logger:   o.logger,
	}
	openTile = t
	return t, nil
}

// Close disables the ADC, stops the watchdog if it was started through
// this handle and releases the tile for another Open.
func (t *Tile) Close() error {
	openMu.Lock()
	defer openMu.Unlock()
	if openTile != t {
		return nil
	}
	openTile = nil

	var err error
	if t.ADC.Enabled() {
		err = multierr.Append(err, t.ADC.DisableAll())
	}
	if t.Watchdog.Enabled() {
		err = multierr.Append(err, t.Watchdog.Disable())
	}
	if err != nil {
		t.logger.Warnw("closing analog tile", "error", err)
	}
	return err
}
