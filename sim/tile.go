// Package sim implements a simulated analog tile. It stands behind the
// core.Periph port so the tile API, the host tool and tests can run without
// hardware.
package sim

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"analogtile/core"
)

// ErrBadAddress is returned for an access outside the register map.
var ErrBadAddress = errors.New("no such peripheral register")

// ErrAsleep is returned for register access while the tile is asleep.
var ErrAsleep = errors.New("tile is asleep")

// Tile is a simulated analog tile: ADC array, RTC, watchdog and power
// controller. It implements core.Periph.
type Tile struct {
	mu     sync.Mutex
	clk    clock.Clock
	logger *zap.SugaredLogger
	src    Source

	adc   adcState
	rtc   rtcState
	wdt   wdtState
	power powerState

	pin *TriggerPin

	work    chan struct{}
	cancel  context.CancelFunc
	workers sync.WaitGroup
}

var _ core.Periph = (*Tile)(nil)

// Option configures New.
type Option func(*Tile)

// WithClock sets the clock that drives the RTC and the watchdog.
func WithClock(c clock.Clock) Option {
	return func(t *Tile) {
		t.clk = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(t *Tile) {
		t.logger = l
	}
}

// WithSource sets what the ADC inputs read.
func WithSource(s Source) Option {
	return func(t *Tile) {
		t.src = s
	}
}

// New returns a tile in its power on state and starts its sample producer.
// Close stops it.
func New(opts ...Option) *Tile {
	t := &Tile{
		clk:    clock.New(),
		logger: zap.NewNop().Sugar(),
		src:    ChannelSource,
		work:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.pin = &TriggerPin{tile: t, name: "ADC_TRIGGER"}
	t.powerOn()

	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.workers.Add(1)
	go func() {
		defer t.workers.Done()
		t.produce(ctx)
	}()
	return t
}

// Close stops the sample producer.
func (t *Tile) Close() error {
	t.cancel()
	t.workers.Wait()
	return nil
}

// TriggerPin returns the port wired to the ADC trigger input.
func (t *Tile) TriggerPin() *TriggerPin {
	return t.pin
}

// SetSource changes what the ADC inputs read.
func (t *Tile) SetSource(s Source) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.src = s
}

// ReadPeriph32 implements core.Periph.
func (t *Tile) ReadPeriph32(dev core.PeriphID, addr uint32, data []uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.power.asleep {
		return ErrAsleep
	}
	for i := range data {
		v, err := t.read32(dev, addr+4*uint32(i))
		if err != nil {
			return err
		}
		data[i] = v
	}
	return nil
}

// WritePeriph32 implements core.Periph.
func (t *Tile) WritePeriph32(dev core.PeriphID, addr uint32, data []uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.power.asleep {
		return ErrAsleep
	}
	for i, v := range data {
		if err := t.write32(dev, addr+4*uint32(i), v); err != nil {
			return err
		}
	}
	return nil
}

// ReadPeriph8 implements core.Periph.
func (t *Tile) ReadPeriph8(dev core.PeriphID, addr uint32, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.power.asleep {
		return ErrAsleep
	}
	switch {
	case dev == core.PeriphPWR && addr >= core.RegDeepSleepMem:
		off := int(addr - core.RegDeepSleepMem)
		if off+len(data) > core.SleepMemorySize {
			return errors.Wrapf(ErrBadAddress, "deep sleep memory %d+%d", off, len(data))
		}
		copy(data, t.power.mem[off:])
		return nil
	case dev == core.PeriphPWR && addr == core.RegPwrGeneral && len(data) == 1:
		data[0] = 0
		if t.power.memValid {
			data[0] = core.PwrGeneralMemValid
		}
		return nil
	case dev == core.PeriphRTC && addr == core.RegWDTEnable && len(data) == 1:
		data[0] = 0
		if t.wdt.enabled {
			data[0] = 1
		}
		return nil
	case dev == core.PeriphRTC && addr == core.RegWDTTimeout && len(data) == 2:
		binary.LittleEndian.PutUint16(data, t.wdt.timeout)
		return nil
	case dev == core.PeriphRTC && addr == core.RegWDTCount && len(data) == 2:
		binary.LittleEndian.PutUint16(data, t.wdtCount())
		return nil
	}
	return errors.Wrapf(ErrBadAddress, "8 bit read of %d bytes at %#x on %#x", len(data), addr, dev)
}

// WritePeriph8 implements core.Periph.
func (t *Tile) WritePeriph8(dev core.PeriphID, addr uint32, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.power.asleep {
		return ErrAsleep
	}
	switch {
	case dev == core.PeriphPWR && addr >= core.RegDeepSleepMem:
		off := int(addr - core.RegDeepSleepMem)
		if off+len(data) > core.SleepMemorySize {
			return errors.Wrapf(ErrBadAddress, "deep sleep memory %d+%d", off, len(data))
		}
		copy(t.power.mem[off:], data)
		return nil
	case dev == core.PeriphPWR && addr == core.RegPwrGeneral && len(data) == 1:
		t.power.memValid = data[0]&core.PwrGeneralMemValid != 0
		return nil
	case dev == core.PeriphRTC && addr == core.RegWDTEnable && len(data) == 1:
		t.setWatchdog(data[0]&1 != 0)
		return nil
	case dev == core.PeriphRTC && addr == core.RegWDTTimeout && len(data) == 2:
		t.wdt.timeout = binary.LittleEndian.Uint16(data)
		return nil
	case dev == core.PeriphRTC && addr == core.RegWDTCount && len(data) == 2:
		if binary.LittleEndian.Uint16(data) == 0 {
			t.wdt.start = t.clk.Now()
		}
		return nil
	}
	return errors.Wrapf(ErrBadAddress, "8 bit write of %d bytes at %#x on %#x", len(data), addr, dev)
}

func (t *Tile) read32(dev core.PeriphID, addr uint32) (uint32, error) {
	switch dev {
	case core.PeriphADC:
		return t.adcRead(addr)
	case core.PeriphRTC:
		switch addr {
		case core.RegRTCLow:
			// reading the low word latches the high word
			t.rtc.latch = t.rtcClocks()
			return uint32(t.rtc.latch), nil
		case core.RegRTCHigh:
			return uint32(t.rtc.latch >> 32), nil
		}
	case core.PeriphPWR:
		switch addr {
		case core.RegPwrCtrl:
			return t.power.ctrl, nil
		case core.RegWakeTimeLow:
			return uint32(t.power.wakeTime), nil
		case core.RegWakeTimeHigh:
			return uint32(t.power.wakeTime >> 32), nil
		}
	}
	return 0, errors.Wrapf(ErrBadAddress, "32 bit read at %#x on %#x", addr, dev)
}

func (t *Tile) write32(dev core.PeriphID, addr, v uint32) error {
	switch dev {
	case core.PeriphADC:
		return t.adcWrite(addr, v)
	case core.PeriphRTC:
		switch addr {
		case core.RegRTCLow:
			t.setRTC(t.rtcClocks()&^0xFFFFFFFF | uint64(v))
			return nil
		case core.RegRTCHigh:
			t.setRTC(t.rtcClocks()&0xFFFFFFFF | uint64(v)<<32)
			return nil
		}
	case core.PeriphPWR:
		switch addr {
		case core.RegPwrCtrl:
			t.writePwrCtrl(v)
			return nil
		case core.RegWakeTimeLow:
			t.power.wakeTime = t.power.wakeTime&^0xFFFFFFFF | uint64(v)
			return nil
		case core.RegWakeTimeHigh:
			t.power.wakeTime = t.power.wakeTime&0xFFFFFFFF | uint64(v)<<32
			return nil
		}
	}
	return errors.Wrapf(ErrBadAddress, "32 bit write at %#x on %#x", addr, dev)
}
