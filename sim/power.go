package sim

import (
	"time"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3/gpio"

	"analogtile/core"
)

// ErrAwake is returned by Wake when the tile is not asleep.
var ErrAwake = errors.New("tile is not asleep")

const sleepClockHz = uint64(core.SleepClockHz)

type rtcState struct {
	base   time.Time
	offset uint64
	latch  uint64
}

type wdtState struct {
	enabled bool
	timeout uint16
	start   time.Time
}

type powerState struct {
	ctrl     uint32
	wakeTime uint64
	memValid bool
	mem      [core.SleepMemorySize]byte

	asleep    bool
	sleptAt   uint64
	resets    int
	wdtResets int
}

// powerOn puts every block in its power on state. Callers hold t.mu or
// have not published t yet.
func (t *Tile) powerOn() {
	t.power = powerState{ctrl: core.DefaultMinSleepExponent << core.PwrMinSleepShift}
	t.rtc = rtcState{base: t.clk.Now()}
	t.resetPeripherals()
}

// resetPeripherals models the chip reset that follows a wake. The ADC and
// the watchdog return to power on state; the RTC, the power controller and
// deep sleep memory are kept.
func (t *Tile) resetPeripherals() {
	t.adc = adcState{gen: t.adc.gen + 1, calibrated: t.adc.calibrated, conversions: t.adc.conversions}
	t.wdt = wdtState{start: t.clk.Now()}
	t.pin.level = gpio.Low
}

// PowerOnReset models removing and restoring power. Deep sleep memory
// becomes invalid.
func (t *Tile) PowerOnReset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.powerOn()
	t.logger.Debug("sim power on reset")
}

// Reset models a chip reset with power kept on, as after a wake.
func (t *Tile) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetPeripherals()
	t.power.resets++
}

func (t *Tile) rtcClocks() uint64 {
	elapsed := t.clk.Since(t.rtc.base)
	secs, frac := uint64(elapsed/time.Second), uint64(elapsed%time.Second)
	return t.rtc.offset + secs*sleepClockHz + frac*sleepClockHz/uint64(time.Second)
}

func (t *Tile) setRTC(clocks uint64) {
	t.rtc = rtcState{base: t.clk.Now(), offset: clocks}
}

// RTC returns the RTC in sleep clocks.
func (t *Tile) RTC() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rtcClocks()
}

func (t *Tile) setWatchdog(on bool) {
	if on && !t.wdt.enabled {
		t.wdt.start = t.clk.Now()
	}
	t.wdt.enabled = on
}

func (t *Tile) wdtCount() uint16 {
	ms := t.clk.Since(t.wdt.start) / time.Millisecond
	if ms > core.WatchdogMaxTimeout {
		return core.WatchdogMaxTimeout
	}
	return uint16(ms)
}

// CheckWatchdog reports whether the watchdog has overflowed. An overflow
// resets the digital tile only, so the simulated analog tile just counts it
// and restarts the count.
func (t *Tile) CheckWatchdog() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.wdt.enabled || t.wdtCount() < t.wdt.timeout {
		return false
	}
	t.logger.Warnw("watchdog overflow", "timeout_ms", t.wdt.timeout)
	t.wdt.start = t.clk.Now()
	t.power.wdtResets++
	return true
}

func (t *Tile) writePwrCtrl(v uint32) {
	t.power.ctrl = v &^ core.PwrSleepRequest
	if v&core.PwrSleepRequest != 0 {
		t.power.asleep = true
		t.power.sleptAt = t.rtcClocks()
		t.logger.Debugw("sim tile asleep", "rtc", t.power.sleptAt, "ctrl", t.power.ctrl)
	}
}

// Asleep reports whether the tile is in deep sleep.
func (t *Tile) Asleep() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.power.asleep
}

// Resets returns the number of chip resets since New, not counting
// watchdog overflows.
func (t *Tile) Resets() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.power.resets
}

// WatchdogResets returns the number of watchdog overflows.
func (t *Tile) WatchdogResets() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.power.wdtResets
}

func (t *Tile) minSleepClocks() uint64 {
	exp := (t.power.ctrl & core.PwrMinSleepMask) >> core.PwrMinSleepShift
	return uint64(1) << exp
}

// WakeDue reports whether the RTC alarm would wake the tile now: RTC wake
// is enabled, the wake time has passed and the tile has slept for at least
// the minimum sleep time.
func (t *Tile) WakeDue() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.wakeDue()
}

func (t *Tile) wakeDue() bool {
	if !t.power.asleep || t.power.ctrl&core.PwrWakeRTC == 0 {
		return false
	}
	now := t.rtcClocks()
	return now >= t.power.wakeTime && now-t.power.sleptAt >= t.minSleepClocks()
}

// DriveWakePin sets the level on the wake pin. It wakes the tile if pin
// wake is enabled with that polarity and the minimum sleep time has passed.
func (t *Tile) DriveWakePin(l gpio.Level) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.power.asleep || t.power.ctrl&core.PwrWakePin == 0 {
		return false
	}
	if bool(l) != (t.power.ctrl&core.PwrWakePinHigh != 0) {
		return false
	}
	if t.rtcClocks()-t.power.sleptAt < t.minSleepClocks() {
		return false
	}
	t.wake()
	return true
}

// Wake ends deep sleep through the reset the hardware performs on wake.
func (t *Tile) Wake() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.power.asleep {
		return ErrAwake
	}
	t.wake()
	return nil
}

func (t *Tile) wake() {
	t.power.asleep = false
	t.resetPeripherals()
	t.power.resets++
	t.logger.Debugw("sim tile awake", "rtc", t.rtcClocks())
}
