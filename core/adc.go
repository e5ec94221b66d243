package core

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"periph.io/x/conn/v3/gpio"

	"analogtile/protocol"
)

var (
	ErrNotEnabled     = errors.New("ADC not enabled")
	ErrConfigMismatch = errors.New("configuration differs from the one the ADC was enabled with")
)

// ADC drives the ADC array of the analog tile: the trigger port on the
// producer side and the sample reader on the consumer side.
//
// Enable and DisableAll change global hardware state and must not run while
// trigger/read cycles are outstanding.
type ADC struct {
	mu     sync.Mutex
	periph Periph
	clk    clock.Clock
	hold   time.Duration
	logger *zap.SugaredLogger

	trigger gpio.PinOut
	ch      *Chanend
	cfg     ADCConfig
	enabled bool
	reader  *Reader
}

func newADC(p Periph, clk clock.Clock, hold time.Duration, logger *zap.SugaredLogger) *ADC {
	return &ADC{periph: p, clk: clk, hold: hold, logger: logger}
}

// Enable validates cfg, programs the inputs to send their samples to ch and
// runs the calibration pulses on trigger. It returns once calibration is
// complete. An invalid configuration is rejected before any register is
// written.
func (a *ADC) Enable(ch *Chanend, trigger gpio.PinOut, cfg *ADCConfig) error {
	if err := ValidateADCConfig(cfg); err != nil {
		return err
	}
	if ch == nil || trigger == nil {
		return errors.New("ADC enable needs a channel end and a trigger port")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := trigger.Out(gpio.Low); err != nil {
		return errors.Wrapf(err, "driving trigger %s low", trigger)
	}
	for i, en := range cfg.InputEnable {
		var v uint32
		if en {
			v = ch.ID()<<ADCChanDestShift | ADCChanEnable
		}
		if err := a.periph.WritePeriph32(PeriphADC, adcChannelReg(i), []uint32{v}); err != nil {
			return errors.Wrapf(err, "programming ADC input %d", i)
		}
	}
	gen := uint32(cfg.BitsPerSample)<<ADCGenBPSShift |
		uint32(cfg.SamplesPerPacket)<<ADCGenSPPShift |
		ADCGenEnable
	if cfg.CalibrationMode {
		gen |= ADCGenCalibration
	}
	if err := a.periph.WritePeriph32(PeriphADC, RegADCGeneral, []uint32{gen}); err != nil {
		return errors.Wrap(err, "programming ADC general control")
	}

	a.trigger = trigger
	a.ch = ch
	a.cfg = *cfg
	a.reader = NewReader(ch)
	a.enabled = true
	RecordEvent(EvtEnable, uint32(cfg.EnabledMask()), gen)

	for i := 0; i < CalibrationTriggers; i++ {
		if err := a.pulse(); err != nil {
			a.enabled = false
			return errors.Wrapf(err, "calibration pulse %d", i)
		}
		RecordEvent(EvtCalibrate, uint32(i), 0)
	}
	a.logger.Debugw("ADC enabled",
		"inputs", cfg.EnabledChannels(),
		"bps", cfg.BitsPerSample,
		"samples_per_packet", cfg.SamplesPerPacket,
		"calibration_mode", cfg.CalibrationMode,
		"chanend", ch.ID())
	return nil
}

// MustEnable is Enable for firmware call sites: any error traps.
func (a *ADC) MustEnable(ch *Chanend, trigger gpio.PinOut, cfg *ADCConfig) {
	if err := a.Enable(ch, trigger, cfg); err != nil {
		Trap(err)
	}
}

// DisableAll powers down every input. Calling it again has no further
// effect.
func (a *ADC) DisableAll() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := 0; i < MaxNumADC; i++ {
		if err := a.periph.WritePeriph32(PeriphADC, adcChannelReg(i), []uint32{0}); err != nil {
			return errors.Wrapf(err, "disabling ADC input %d", i)
		}
	}
	if err := a.periph.WritePeriph32(PeriphADC, RegADCGeneral, []uint32{0}); err != nil {
		return errors.Wrap(err, "disabling ADC")
	}
	if a.enabled {
		a.logger.Debug("ADC disabled")
	}
	a.enabled = false
	RecordEvent(EvtDisable, 0, 0)
	return nil
}

// Enabled reports whether Enable has completed and DisableAll has not been
// called since.
func (a *ADC) Enabled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.enabled
}

// Trigger pulses the trigger port once; the ADC converts the next enabled
// input. It does not wait for the sample.
func (a *ADC) Trigger() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.enabled {
		return ErrNotEnabled
	}
	n := a.reader.noteTrigger()
	if err := a.pulse(); err != nil {
		a.reader.pending.Add(-1)
		return errors.Wrap(err, "trigger")
	}
	RecordEvent(EvtTrigger, uint32(n), 0)
	return nil
}

// TriggerPacket triggers once per sample of a packet.
func (a *ADC) TriggerPacket(cfg *ADCConfig) error {
	if _, err := a.readerFor(cfg); err != nil {
		return err
	}
	for i := uint(0); i < cfg.SamplesPerPacket; i++ {
		if err := a.Trigger(); err != nil {
			return err
		}
	}
	return nil
}

// Read blocks until one sample is available. A trigger must already have
// been issued; otherwise Read waits until one is, or ctx is done.
func (a *ADC) Read(ctx context.Context, cfg *ADCConfig) (Sample, error) {
	r, err := a.readerFor(cfg)
	if err != nil {
		return 0, err
	}
	return r.Read(ctx, cfg)
}

// TryRead returns a sample if one is waiting, without blocking otherwise.
func (a *ADC) TryRead(cfg *ADCConfig) (Sample, bool, error) {
	r, err := a.readerFor(cfg)
	if err != nil {
		return 0, false, err
	}
	return r.TryRead(cfg)
}

// ReadPacket reads one packet into buf, which must hold at least
// cfg.SamplesPerPacket samples, and consumes the boundary token.
func (a *ADC) ReadPacket(ctx context.Context, cfg *ADCConfig, buf []Sample) error {
	r, err := a.readerFor(cfg)
	if err != nil {
		return err
	}
	return r.ReadPacket(ctx, cfg, buf)
}

// TryReadPacket reads a packet if its first sample is waiting.
func (a *ADC) TryReadPacket(cfg *ADCConfig, buf []Sample) (bool, error) {
	r, err := a.readerFor(cfg)
	if err != nil {
		return false, err
	}
	return r.TryReadPacket(cfg, buf)
}

// Ready returns the channel to include in a select. It is nil, and so never
// ready, while the ADC is disabled.
func (a *ADC) Ready() <-chan protocol.Token {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.enabled {
		return nil
	}
	return a.reader.Ready()
}

// ReadSelected completes a read started by receiving first from Ready.
func (a *ADC) ReadSelected(ctx context.Context, first protocol.Token, cfg *ADCConfig) (Sample, bool, error) {
	r, err := a.readerFor(cfg)
	if err != nil {
		return 0, false, err
	}
	return r.ReadSelected(ctx, first, cfg)
}

// State returns the consumer side state.
func (a *ADC) State() ReaderState {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.reader == nil {
		return Idle
	}
	return a.reader.State()
}

// SamplesRead returns the number of samples read since Enable.
func (a *ADC) SamplesRead() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.reader == nil {
		return 0
	}
	return a.reader.Delivered()
}

// readerFor checks cfg against the enabled configuration.
func (a *ADC) readerFor(cfg *ADCConfig) (*Reader, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.enabled {
		return nil, ErrNotEnabled
	}
	if cfg == nil || *cfg != a.cfg {
		a.logger.Warnw("ADC used with a different configuration", "enabled", a.cfg, "got", cfg)
		return nil, ErrConfigMismatch
	}
	return a.reader, nil
}

// pulse drives one trigger pulse. Callers hold a.mu.
func (a *ADC) pulse() error {
	if err := a.trigger.Out(gpio.High); err != nil {
		return err
	}
	if a.hold > 0 {
		a.clk.Sleep(a.hold)
	}
	if err := a.trigger.Out(gpio.Low); err != nil {
		return err
	}
	if a.hold > 0 {
		a.clk.Sleep(a.hold)
	}
	return nil
}
