package core

import (
	"context"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap/zaptest"
	"go.viam.com/test"
	"periph.io/x/conn/v3/gpio"

	"analogtile/protocol"
)

func newTestADC(t *testing.T) (*ADC, *fakePeriph) {
	t.Helper()
	p := newFakePeriph()
	return newADC(p, clock.NewMock(), 0, zaptest.NewLogger(t).Sugar()), p
}

func TestADCEnableProgramsRegisters(t *testing.T) {
	adc, p := newTestADC(t)
	ch := NewChanend(16)
	defer ch.Close()
	pin := &fakePin{}
	cfg := ADCConfig{InputEnable: inputs(0, 2), BitsPerSample: BPS32, SamplesPerPacket: 2, CalibrationMode: true}

	test.That(t, adc.Enable(ch, pin, &cfg), test.ShouldBeNil)
	test.That(t, adc.Enabled(), test.ShouldBeTrue)
	test.That(t, pin.pulses, test.ShouldEqual, CalibrationTriggers)
	test.That(t, pin.level, test.ShouldEqual, gpio.Low)

	dest := ch.ID()<<ADCChanDestShift | ADCChanEnable
	test.That(t, p.reg(PeriphADC, adcChannelReg(0)), test.ShouldEqual, dest)
	test.That(t, p.reg(PeriphADC, adcChannelReg(1)), test.ShouldEqual, uint32(0))
	test.That(t, p.reg(PeriphADC, adcChannelReg(2)), test.ShouldEqual, dest)
	test.That(t, p.reg(PeriphADC, RegADCGeneral), test.ShouldEqual,
		uint32(3<<ADCGenBPSShift|2<<ADCGenSPPShift|ADCGenCalibration|ADCGenEnable))

	// calibration leaves nothing for the reader
	test.That(t, adc.State(), test.ShouldEqual, Idle)
	test.That(t, len(ch.Tokens()), test.ShouldEqual, 0)
}

func TestADCInvalidConfig(t *testing.T) {
	adc, p := newTestADC(t)
	ch := NewChanend(16)
	defer ch.Close()
	pin := &fakePin{}
	cfg := ADCConfig{InputEnable: inputs(0, 1, 2, 3, 4, 5, 6, 7), BitsPerSample: BPS16, SamplesPerPacket: 6}

	err := adc.Enable(ch, pin, &cfg)
	var cerr *ConfigError
	test.That(t, errors.As(err, &cerr), test.ShouldBeTrue)
	test.That(t, errors.Is(err, ErrInvalidSamplesPerPacket), test.ShouldBeTrue)
	test.That(t, p.writeCount(), test.ShouldEqual, 0)
	test.That(t, pin.pulses, test.ShouldEqual, 0)
	test.That(t, adc.Enabled(), test.ShouldBeFalse)

	var trapped error
	SetTrapHandler(func(err error) { trapped = err })
	defer SetTrapHandler(func(err error) { panic(err) })
	adc.MustEnable(ch, pin, &cfg)
	test.That(t, errors.Is(trapped, ErrInvalidSamplesPerPacket), test.ShouldBeTrue)
	test.That(t, p.writeCount(), test.ShouldEqual, 0)
}

func TestADCEnableConfigSpace(t *testing.T) {
	adc, p := newTestADC(t)
	ch := NewChanend(16)
	defer ch.Close()
	pin := &fakePin{}

	configSpace(func(cfg ADCConfig, valid bool) {
		writes, pulses := p.writeCount(), pin.pulses
		err := adc.Enable(ch, pin, &cfg)
		if !valid {
			test.That(t, err, test.ShouldNotBeNil)
			test.That(t, p.writeCount(), test.ShouldEqual, writes)
			test.That(t, pin.pulses, test.ShouldEqual, pulses)
			test.That(t, adc.Enabled(), test.ShouldBeFalse)
			return
		}
		test.That(t, err, test.ShouldBeNil)
		test.That(t, pin.pulses-pulses, test.ShouldEqual, CalibrationTriggers)
		test.That(t, adc.DisableAll(), test.ShouldBeNil)
	})
}

func TestADCMustEnablePanics(t *testing.T) {
	adc, _ := newTestADC(t)
	ch := NewChanend(16)
	defer ch.Close()
	cfg := ADCConfig{InputEnable: inputs(0), BitsPerSample: 2, SamplesPerPacket: 1}

	defer func() {
		r := recover()
		test.That(t, r, test.ShouldNotBeNil)
		err, ok := r.(error)
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, errors.Is(err, ErrInvalidBitsPerSample), test.ShouldBeTrue)
	}()
	adc.MustEnable(ch, &fakePin{}, &cfg)
	t.Fatal("MustEnable returned")
}

func TestADCDisableAllIdempotent(t *testing.T) {
	adc, p := newTestADC(t)
	ch := NewChanend(16)
	defer ch.Close()
	cfg := ADCConfig{InputEnable: inputs(1), BitsPerSample: BPS16, SamplesPerPacket: 1}
	test.That(t, adc.Enable(ch, &fakePin{}, &cfg), test.ShouldBeNil)

	snapshot := func() []uint32 {
		var regs []uint32
		for i := 0; i < MaxNumADC; i++ {
			regs = append(regs, p.reg(PeriphADC, adcChannelReg(i)))
		}
		return append(regs, p.reg(PeriphADC, RegADCGeneral))
	}

	test.That(t, adc.DisableAll(), test.ShouldBeNil)
	once := snapshot()
	test.That(t, adc.DisableAll(), test.ShouldBeNil)
	test.That(t, snapshot(), test.ShouldResemble, once)
	test.That(t, once, test.ShouldResemble, make([]uint32, MaxNumADC+1))
	test.That(t, adc.Enabled(), test.ShouldBeFalse)

	// disabling a handle that was never enabled is also fine
	fresh, _ := newTestADC(t)
	test.That(t, fresh.DisableAll(), test.ShouldBeNil)
}

func TestADCRequiresEnable(t *testing.T) {
	adc, _ := newTestADC(t)
	cfg := ADCConfig{InputEnable: inputs(0), BitsPerSample: BPS16, SamplesPerPacket: 1}

	test.That(t, errors.Is(adc.Trigger(), ErrNotEnabled), test.ShouldBeTrue)
	_, err := adc.Read(context.Background(), &cfg)
	test.That(t, errors.Is(err, ErrNotEnabled), test.ShouldBeTrue)
	test.That(t, adc.Ready(), test.ShouldBeNil)
	test.That(t, adc.SamplesRead(), test.ShouldEqual, uint64(0))
}

func TestADCConfigMismatch(t *testing.T) {
	adc, _ := newTestADC(t)
	ch := NewChanend(16)
	defer ch.Close()
	cfg := ADCConfig{InputEnable: inputs(0, 1), BitsPerSample: BPS16, SamplesPerPacket: 2}
	test.That(t, adc.Enable(ch, &fakePin{}, &cfg), test.ShouldBeNil)

	other := cfg
	other.BitsPerSample = BPS8
	_, err := adc.Read(context.Background(), &other)
	test.That(t, errors.Is(err, ErrConfigMismatch), test.ShouldBeTrue)
	test.That(t, errors.Is(adc.TriggerPacket(&other), ErrConfigMismatch), test.ShouldBeTrue)
	_, err = adc.Read(context.Background(), nil)
	test.That(t, errors.Is(err, ErrConfigMismatch), test.ShouldBeTrue)

	// a copy of the enabled configuration is accepted
	same := cfg
	_, ok, err := adc.TryRead(&same)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ok, test.ShouldBeFalse)
}

func TestADCTriggerAndRead(t *testing.T) {
	adc, _ := newTestADC(t)
	ch := NewChanend(64)
	defer ch.Close()
	cfg := ADCConfig{InputEnable: inputs(0, 1), BitsPerSample: BPS16, SamplesPerPacket: 2}

	// the pin stands in for the ADC: after calibration every rising edge
	// queues one sample
	pin := &fakePin{}
	var produced []uint32
	pin.onRise = func() {
		if pin.pulses <= CalibrationTriggers {
			return
		}
		w := uint32(pin.pulses) << 4
		produced = append(produced, w)
		toks := protocol.AppendSample(nil, uint8(cfg.BitsPerSample), w)
		if len(produced)%int(cfg.SamplesPerPacket) == 0 {
			toks = append(toks, protocol.End())
		}
		for _, tok := range toks {
			test.That(t, ch.Send(context.Background(), tok), test.ShouldBeNil)
		}
	}
	test.That(t, adc.Enable(ch, pin, &cfg), test.ShouldBeNil)

	test.That(t, adc.TriggerPacket(&cfg), test.ShouldBeNil)
	test.That(t, adc.State(), test.ShouldEqual, AwaitingSamples)

	buf := make([]Sample, 4)
	test.That(t, adc.ReadPacket(context.Background(), &cfg, buf), test.ShouldBeNil)
	test.That(t, []uint32{uint32(buf[0]), uint32(buf[1])}, test.ShouldResemble, produced)
	test.That(t, adc.State(), test.ShouldEqual, Idle)
	test.That(t, adc.SamplesRead(), test.ShouldEqual, uint64(2))

	test.That(t, adc.TriggerPacket(&cfg), test.ShouldBeNil)
	ok, err := adc.TryReadPacket(&cfg, buf)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, []uint32{uint32(buf[0]), uint32(buf[1])}, test.ShouldResemble, produced[2:])
}

func TestADCEvents(t *testing.T) {
	ClearEvents()
	defer ClearEvents()
	adc, _ := newTestADC(t)
	ch := NewChanend(16)
	defer ch.Close()
	cfg := ADCConfig{InputEnable: inputs(5), BitsPerSample: BPS8, SamplesPerPacket: 1}
	test.That(t, adc.Enable(ch, &fakePin{}, &cfg), test.ShouldBeNil)

	var types []EventType
	for _, evt := range Events() {
		types = append(types, evt.Type)
	}
	test.That(t, types, test.ShouldResemble, []EventType{
		EvtEnable,
		EvtCalibrate, EvtCalibrate, EvtCalibrate,
		EvtCalibrate, EvtCalibrate, EvtCalibrate,
	})
	test.That(t, Events()[0].Value1, test.ShouldEqual, uint32(1<<5))
	DumpEvents(zaptest.NewLogger(t).Sugar())
}
