package core_test

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap/zaptest"
	"go.viam.com/test"
	"periph.io/x/conn/v3/gpio"

	"analogtile/core"
)

type bootState struct {
	Boots    uint32
	LastRTC  uint32
	Readings []uint16
}

func TestSleepMemoryValidity(t *testing.T) {
	h := newHarness(t)
	sl := h.tile.Sleep

	valid, err := sl.MemoryIsValid()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, valid, test.ShouldBeFalse)
	test.That(t, errors.Is(sl.MemoryValidate(), core.ErrMemoryNotWritten), test.ShouldBeTrue)

	state := bootState{Boots: 3, LastRTC: 1234, Readings: []uint16{1, 2, 3}}
	test.That(t, sl.MemoryWrite(state), test.ShouldBeNil)
	valid, err = sl.MemoryIsValid()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, valid, test.ShouldBeFalse)

	test.That(t, sl.MemoryValidate(), test.ShouldBeNil)
	valid, err = sl.MemoryIsValid()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, valid, test.ShouldBeTrue)

	var got bootState
	test.That(t, sl.MemoryRead(&got), test.ShouldBeNil)
	test.That(t, got, test.ShouldResemble, state)

	test.That(t, sl.MemoryInvalidate(), test.ShouldBeNil)
	valid, err = sl.MemoryIsValid()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, valid, test.ShouldBeFalse)
}

func TestSleepMemorySurvivesReset(t *testing.T) {
	h := newHarness(t)
	test.That(t, h.tile.Sleep.MemoryWriteBytes([]byte("keep me")), test.ShouldBeNil)
	test.That(t, h.tile.Sleep.MemoryValidate(), test.ShouldBeNil)
	test.That(t, h.tile.Close(), test.ShouldBeNil)

	h.sim.Reset()
	tile, err := core.Open(h.sim, core.WithLogger(zaptest.NewLogger(t).Sugar()))
	test.That(t, err, test.ShouldBeNil)
	h.tile = tile

	valid, err := tile.Sleep.MemoryIsValid()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, valid, test.ShouldBeTrue)
	buf := make([]byte, 7)
	test.That(t, tile.Sleep.MemoryReadBytes(buf), test.ShouldBeNil)
	test.That(t, string(buf), test.ShouldEqual, "keep me")
	// already valid, so a fresh handle may validate without writing
	test.That(t, tile.Sleep.MemoryValidate(), test.ShouldBeNil)

	h.sim.PowerOnReset()
	valid, err = tile.Sleep.MemoryIsValid()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, valid, test.ShouldBeFalse)
}

func TestSleepMemoryBounds(t *testing.T) {
	h := newHarness(t)
	sl := h.tile.Sleep

	test.That(t, errors.Is(sl.MemoryWriteBytes(make([]byte, core.SleepMemorySize+1)), core.ErrMemoryTooLarge), test.ShouldBeTrue)
	test.That(t, errors.Is(sl.MemoryReadBytes(make([]byte, core.SleepMemorySize+1)), core.ErrMemoryTooLarge), test.ShouldBeTrue)
	test.That(t, errors.Is(sl.MemoryWrite(make([]byte, core.SleepMemorySize)), core.ErrMemoryTooLarge), test.ShouldBeTrue)
	test.That(t, sl.MemoryWriteBytes(make([]byte, core.SleepMemorySize)), test.ShouldBeNil)
}

func TestWakeSources(t *testing.T) {
	h := newHarness(t)
	sl := h.tile.Sleep

	enabled := func(src core.WakeSource) bool {
		on, err := sl.WakeSourceEnabled(src)
		test.That(t, err, test.ShouldBeNil)
		return on
	}

	test.That(t, sl.EnableWakeSource(core.WakeRTC), test.ShouldBeNil)
	test.That(t, sl.EnableWakeSource(core.WakePinLow), test.ShouldBeNil)
	test.That(t, enabled(core.WakeRTC), test.ShouldBeTrue)
	test.That(t, enabled(core.WakePinLow), test.ShouldBeTrue)

	// the pin polarities exclude each other
	test.That(t, sl.EnableWakeSource(core.WakePinHigh), test.ShouldBeNil)
	test.That(t, enabled(core.WakePinHigh), test.ShouldBeTrue)
	test.That(t, enabled(core.WakePinLow), test.ShouldBeFalse)
	test.That(t, enabled(core.WakeRTC), test.ShouldBeTrue)

	// disabling either polarity turns pin wake off
	test.That(t, sl.DisableWakeSource(core.WakePinLow), test.ShouldBeNil)
	test.That(t, enabled(core.WakePinHigh), test.ShouldBeFalse)
	test.That(t, enabled(core.WakePinLow), test.ShouldBeFalse)

	test.That(t, sl.DisableWakeSource(core.WakeRTC), test.ShouldBeNil)
	test.That(t, enabled(core.WakeRTC), test.ShouldBeFalse)

	err := sl.EnableWakeSource(core.WakeSource(7))
	test.That(t, errors.Is(err, core.ErrUnknownWakeSource), test.ShouldBeTrue)
}

func TestRTC(t *testing.T) {
	h := newHarness(t)
	sl := h.tile.Sleep

	h.clk.Add(10 * time.Second)
	ms, err := sl.RTCRead()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ms, test.ShouldEqual, uint32(10000))

	test.That(t, sl.RTCReset(), test.ShouldBeNil)
	h.clk.Add(1500 * time.Millisecond)
	ms, err = sl.RTCRead()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ms, test.ShouldEqual, uint32(1500))

	// the millisecond value wraps after 2^32 ms, about 49.7 days
	test.That(t, sl.RTCReset(), test.ShouldBeNil)
	h.clk.Add(time.Duration(1<<32)*time.Millisecond + 20*time.Millisecond)
	ms, err = sl.RTCRead()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ms, test.ShouldEqual, uint32(20))
}

func TestSleepAndWakeOnRTC(t *testing.T) {
	h := newHarness(t)
	sl := h.tile.Sleep

	test.That(t, sl.RTCReset(), test.ShouldBeNil)
	test.That(t, sl.SetWakeTime(3000), test.ShouldBeNil)
	test.That(t, sl.SetMinSleepTime(100), test.ShouldBeNil)
	test.That(t, sl.EnableWakeSource(core.WakeRTC), test.ShouldBeNil)
	test.That(t, sl.MemoryWrite(bootState{Boots: 1}), test.ShouldBeNil)
	test.That(t, sl.MemoryValidate(), test.ShouldBeNil)

	test.That(t, sl.SleepNow(), test.ShouldBeNil)
	test.That(t, h.sim.Asleep(), test.ShouldBeTrue)
	_, err := sl.RTCRead()
	test.That(t, err, test.ShouldNotBeNil)

	h.clk.Add(2 * time.Second)
	test.That(t, h.sim.WakeDue(), test.ShouldBeFalse)
	h.clk.Add(1500 * time.Millisecond)
	test.That(t, h.sim.WakeDue(), test.ShouldBeTrue)
	test.That(t, h.sim.Wake(), test.ShouldBeNil)
	test.That(t, h.sim.Asleep(), test.ShouldBeFalse)
	test.That(t, h.sim.Resets(), test.ShouldEqual, 1)

	var state bootState
	test.That(t, sl.MemoryRead(&state), test.ShouldBeNil)
	test.That(t, state.Boots, test.ShouldEqual, uint32(1))
	ms, err := sl.RTCRead()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ms, test.ShouldEqual, uint32(3500))
}

func TestWakeOnPin(t *testing.T) {
	h := newHarness(t)
	sl := h.tile.Sleep

	test.That(t, sl.SetMinSleepTime(0), test.ShouldBeNil)
	test.That(t, sl.EnableWakeSource(core.WakePinHigh), test.ShouldBeNil)
	test.That(t, sl.SleepNow(), test.ShouldBeNil)

	h.clk.Add(time.Millisecond)
	test.That(t, h.sim.DriveWakePin(gpio.Low), test.ShouldBeFalse)
	test.That(t, h.sim.Asleep(), test.ShouldBeTrue)
	test.That(t, h.sim.DriveWakePin(gpio.High), test.ShouldBeTrue)
	test.That(t, h.sim.Asleep(), test.ShouldBeFalse)
}
