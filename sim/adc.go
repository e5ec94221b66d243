package sim

import (
	"context"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"

	"analogtile/core"
	"analogtile/protocol"
)

// FIFODepth is the number of converted samples the ADC holds before the
// channel takes them.
const FIFODepth = core.MaxSamplesPerPacket

// Source returns the 12 bit conversion of input ch. In calibration mode
// the inputs read the internal reference instead.
type Source func(ch int, calibration bool) uint16

// ReferenceRaw is the conversion of the 0.8V calibration reference.
const ReferenceRaw = core.ReferenceMillivolts * 0xFFF / core.FullScaleMillivolts

// ChannelSource reads 0x100 * (ch+1) on input ch, and the reference in
// calibration mode.
func ChannelSource(ch int, calibration bool) uint16 {
	if calibration {
		return ReferenceRaw
	}
	return uint16(0x100 * (ch + 1))
}

type conversion struct {
	gen    uint64
	sample core.Sample
	bps    core.BitsPerSample
	spp    uint
	dest   *core.Chanend
}

type adcState struct {
	chans   [core.MaxNumADC]uint32
	general uint32
	gen     uint64

	enabled     bool
	calibLeft   int
	next        int
	fifo        []conversion
	calibrated  int
	overruns    int
	conversions [core.MaxNumADC]int
}

func (t *Tile) adcRead(addr uint32) (uint32, error) {
	switch {
	case addr == core.RegADCGeneral:
		return t.adc.general, nil
	case addr < core.RegADCGeneral && addr%4 == 0:
		return t.adc.chans[addr/4], nil
	}
	return 0, ErrBadAddress
}

func (t *Tile) adcWrite(addr, v uint32) error {
	switch {
	case addr == core.RegADCGeneral:
		t.adc.general = v
		t.adc.gen++
		t.adc.fifo = t.adc.fifo[:0]
		t.adc.next = 0
		t.adc.enabled = v&core.ADCGenEnable != 0
		if t.adc.enabled {
			t.adc.calibLeft = core.CalibrationTriggers
			t.logger.Debugw("sim ADC enabled", "general", v)
		}
		return nil
	case addr < core.RegADCGeneral && addr%4 == 0:
		t.adc.chans[addr/4] = v
		return nil
	}
	return ErrBadAddress
}

// convert handles a rising edge on the trigger input. Callers hold t.mu.
func (t *Tile) convert() {
	a := &t.adc
	if !a.enabled || t.power.asleep {
		return
	}
	if a.calibLeft > 0 {
		a.calibLeft--
		a.calibrated++
		return
	}
	ch := -1
	for i := 0; i < core.MaxNumADC; i++ {
		c := (a.next + i) % core.MaxNumADC
		if a.chans[c]&core.ADCChanEnable != 0 {
			ch = c
			break
		}
	}
	if ch < 0 {
		return
	}
	a.next = ch + 1
	a.conversions[ch]++

	dest, ok := core.ChanendByID(a.chans[ch] >> core.ADCChanDestShift)
	if !ok {
		t.logger.Warnw("ADC input has no destination", "input", ch)
		return
	}
	if len(a.fifo) >= FIFODepth {
		a.overruns++
		t.logger.Warnw("ADC FIFO overrun", "input", ch, "overruns", a.overruns)
		return
	}
	bps := core.BitsPerSample((a.general & core.ADCGenBPSMask) >> core.ADCGenBPSShift)
	a.fifo = append(a.fifo, conversion{
		gen:    a.gen,
		sample: core.PlaceSample(t.src(ch, a.general&core.ADCGenCalibration != 0), bps),
		bps:    bps,
		spp:    uint((a.general & core.ADCGenSPPMask) >> core.ADCGenSPPShift),
		dest:   dest,
	})
	select {
	case t.work <- struct{}{}:
	default:
	}
}

// produce moves conversions from the FIFO onto their channel, closing each
// packet with a boundary token.
func (t *Tile) produce(ctx context.Context) {
	var gen uint64
	var inPacket uint
	var buf []protocol.Token
	for {
		t.mu.Lock()
		if len(t.adc.fifo) == 0 {
			t.mu.Unlock()
			select {
			case <-t.work:
				continue
			case <-ctx.Done():
				return
			}
		}
		c := t.adc.fifo[0]
		t.adc.fifo = t.adc.fifo[1:]
		t.mu.Unlock()

		if c.gen != gen {
			gen = c.gen
			inPacket = 0
		}
		buf = protocol.AppendSample(buf[:0], uint8(c.bps), uint32(c.sample))
		inPacket++
		if inPacket >= c.spp {
			buf = append(buf, protocol.End())
			inPacket = 0
		}
		for _, tok := range buf {
			if err := c.dest.Send(ctx, tok); err != nil {
				if ctx.Err() != nil {
					return
				}
				t.logger.Debugw("dropping sample", "error", err)
				break
			}
		}
	}
}

// Calibrations returns the number of trigger pulses absorbed by
// calibration since power on.
func (t *Tile) Calibrations() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.adc.calibrated
}

// Conversions returns the number of samples converted on input ch.
func (t *Tile) Conversions(ch int) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.adc.conversions[ch]
}

// Overruns returns the number of conversions lost to a full FIFO.
func (t *Tile) Overruns() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.adc.overruns
}

// ADCEnabled reports whether the general enable bit is set.
func (t *Tile) ADCEnabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.adc.enabled
}

// ADCRegisters returns the channel registers and the general register.
func (t *Tile) ADCRegisters() ([core.MaxNumADC]uint32, uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.adc.chans, t.adc.general
}

// TriggerPin is the ADC trigger input. A rising edge starts a conversion.
type TriggerPin struct {
	tile   *Tile
	name   string
	level  gpio.Level
	pulses int
}

var _ gpio.PinOut = (*TriggerPin)(nil)

func (p *TriggerPin) String() string   { return p.name }
func (p *TriggerPin) Name() string     { return p.name }
func (p *TriggerPin) Number() int      { return -1 }
func (p *TriggerPin) Function() string { return "Out" }
func (p *TriggerPin) Halt() error      { return nil }

// Out drives the trigger input.
func (p *TriggerPin) Out(l gpio.Level) error {
	t := p.tile
	t.mu.Lock()
	defer t.mu.Unlock()
	if l == gpio.High && p.level == gpio.Low {
		p.pulses++
		t.convert()
	}
	p.level = l
	return nil
}

// PWM is not supported on the trigger input.
func (p *TriggerPin) PWM(gpio.Duty, physic.Frequency) error {
	return errors.Errorf("%s: PWM not supported", p.name)
}

// Read returns the level last driven.
func (p *TriggerPin) Read() gpio.Level {
	p.tile.mu.Lock()
	defer p.tile.mu.Unlock()
	return p.level
}

// Pulses returns the number of rising edges seen since power on.
func (p *TriggerPin) Pulses() int {
	p.tile.mu.Lock()
	defer p.tile.mu.Unlock()
	return p.pulses
}
