package core

import (
	"bytes"
	"math/bits"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"periph.io/x/conn/v3/physic"
)

const (
	// SleepMemorySize is the size of the memory that survives deep sleep.
	SleepMemorySize = 128

	// SiOscillatorFreq31K is the on chip oscillator that clocks the RTC and
	// the power controller while asleep.
	SiOscillatorFreq31K = 31250 * physic.Hertz
	// SiOscillatorFreq20M is the on chip oscillator used while awake when
	// the crystal is off.
	SiOscillatorFreq20M = 20 * physic.MegaHertz
	// SiOscStabilisation is the longest the 20MHz oscillator takes to
	// settle.
	SiOscStabilisation = 15 * time.Millisecond
	// VCOStepMax is the largest VCO change, in percent, for which the
	// crystal and the 20MHz oscillator can be swapped without a reset.
	VCOStepMax = 30

	// DefaultMinSleepExponent is the power on minimum sleep time, 2^16
	// sleep clocks or about two seconds.
	DefaultMinSleepExponent = 16
	DefaultMinSleepClocks   = 1 << DefaultMinSleepExponent

	// SleepClockHz is the RTC tick rate.
	SleepClockHz = int64(SiOscillatorFreq31K / physic.Hertz)
)

var (
	ErrMemoryTooLarge    = errors.New("data does not fit in deep sleep memory")
	ErrMemoryNotWritten  = errors.New("deep sleep memory validated before it was written")
	ErrUnknownWakeSource = errors.New("unknown wake source")
)

// WakeSource is something that can wake the chip from deep sleep. WakeRTC
// combines with either pin source, but WakePinLow and WakePinHigh exclude
// each other.
type WakeSource int

const (
	WakeRTC WakeSource = iota
	WakePinLow
	WakePinHigh
)

func (w WakeSource) String() string {
	switch w {
	case WakeRTC:
		return "rtc"
	case WakePinLow:
		return "pin-low"
	case WakePinHigh:
		return "pin-high"
	}
	return "unknown"
}

// Sleep controls deep sleep, the wake sources, the RTC and the memory that
// survives sleep.
type Sleep struct {
	mu      sync.Mutex
	periph  Periph
	logger  *zap.SugaredLogger
	written bool

	enc cbor.EncMode
	dec cbor.DecMode
}

func newSleep(p Periph, logger *zap.SugaredLogger) (*Sleep, error) {
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, err
	}
	dec, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		return nil, err
	}
	return &Sleep{periph: p, logger: logger, enc: enc, dec: dec}, nil
}

// MemoryWriteBytes copies data to the start of deep sleep memory.
func (s *Sleep) MemoryWriteBytes(data []byte) error {
	if len(data) > SleepMemorySize {
		return errors.Wrapf(ErrMemoryTooLarge, "%d bytes", len(data))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.periph.WritePeriph8(PeriphPWR, RegDeepSleepMem, data); err != nil {
		return errors.Wrap(err, "writing deep sleep memory")
	}
	s.written = true
	return nil
}

// MemoryReadBytes fills data from the start of deep sleep memory.
func (s *Sleep) MemoryReadBytes(data []byte) error {
	if len(data) > SleepMemorySize {
		return errors.Wrapf(ErrMemoryTooLarge, "%d bytes", len(data))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return errors.Wrap(s.periph.ReadPeriph8(PeriphPWR, RegDeepSleepMem, data), "reading deep sleep memory")
}

// MemoryWrite encodes v as CBOR and stores it in deep sleep memory. The
// encoding must fit in SleepMemorySize bytes.
func (s *Sleep) MemoryWrite(v interface{}) error {
	data, err := s.enc.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "encoding deep sleep state")
	}
	return s.MemoryWriteBytes(data)
}

// MemoryRead decodes the value stored by MemoryWrite into v. Check
// MemoryIsValid first; memory that was never written does not decode.
func (s *Sleep) MemoryRead(v interface{}) error {
	var buf [SleepMemorySize]byte
	if err := s.MemoryReadBytes(buf[:]); err != nil {
		return err
	}
	if err := s.dec.NewDecoder(bytes.NewReader(buf[:])).Decode(v); err != nil {
		return errors.Wrap(err, "decoding deep sleep state")
	}
	return nil
}

// MemoryIsValid reports whether the memory has been validated since power
// on.
func (s *Sleep) MemoryIsValid() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var b [1]byte
	if err := s.periph.ReadPeriph8(PeriphPWR, RegPwrGeneral, b[:]); err != nil {
		return false, errors.Wrap(err, "reading sleep memory flag")
	}
	return b[0]&PwrGeneralMemValid != 0, nil
}

// MemoryValidate marks the memory contents valid. While the memory is
// invalid it must have been written first.
func (s *Sleep) MemoryValidate() error {
	return s.updateGeneral(func(v byte) (byte, error) {
		if v&PwrGeneralMemValid == 0 && !s.written {
			return v, ErrMemoryNotWritten
		}
		return v | PwrGeneralMemValid, nil
	})
}

// MemoryInvalidate marks the memory contents invalid.
func (s *Sleep) MemoryInvalidate() error {
	return s.updateGeneral(func(v byte) (byte, error) {
		return v &^ PwrGeneralMemValid, nil
	})
}

func (s *Sleep) updateGeneral(f func(byte) (byte, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var b [1]byte
	if err := s.periph.ReadPeriph8(PeriphPWR, RegPwrGeneral, b[:]); err != nil {
		return errors.Wrap(err, "reading sleep memory flag")
	}
	v, err := f(b[0])
	if err != nil {
		return err
	}
	return errors.Wrap(s.periph.WritePeriph8(PeriphPWR, RegPwrGeneral, []byte{v}), "writing sleep memory flag")
}

// EnableWakeSource lets src wake the chip. Enabling one pin polarity
// disables the other.
func (s *Sleep) EnableWakeSource(src WakeSource) error {
	return s.updateCtrl(func(v uint32) (uint32, error) {
		switch src {
		case WakeRTC:
			return v | PwrWakeRTC, nil
		case WakePinLow:
			return (v | PwrWakePin) &^ PwrWakePinHigh, nil
		case WakePinHigh:
			return v | PwrWakePin | PwrWakePinHigh, nil
		}
		return v, errors.Wrapf(ErrUnknownWakeSource, "%d", src)
	})
}

// DisableWakeSource stops src from waking the chip. Disabling either pin
// source disables wake from the pin.
func (s *Sleep) DisableWakeSource(src WakeSource) error {
	return s.updateCtrl(func(v uint32) (uint32, error) {
		switch src {
		case WakeRTC:
			return v &^ PwrWakeRTC, nil
		case WakePinLow, WakePinHigh:
			return v &^ PwrWakePin, nil
		}
		return v, errors.Wrapf(ErrUnknownWakeSource, "%d", src)
	})
}

// WakeSourceEnabled reports whether src is currently armed.
func (s *Sleep) WakeSourceEnabled(src WakeSource) (bool, error) {
	v, err := s.readCtrl()
	if err != nil {
		return false, err
	}
	switch src {
	case WakeRTC:
		return v&PwrWakeRTC != 0, nil
	case WakePinLow:
		return v&PwrWakePin != 0 && v&PwrWakePinHigh == 0, nil
	case WakePinHigh:
		return v&PwrWakePin != 0 && v&PwrWakePinHigh != 0, nil
	}
	return false, errors.Wrapf(ErrUnknownWakeSource, "%d", src)
}

// SetWakeTime sets the RTC alarm to an absolute time in milliseconds. Reset
// the RTC first if the application has been up for long, the RTC wraps
// after about 49 days.
func (s *Sleep) SetWakeTime(ms uint32) error {
	ticks := msToSleepClocks(ms)
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.periph.WritePeriph32(PeriphPWR, RegWakeTimeLow, []uint32{uint32(ticks), uint32(ticks >> 32)})
	return errors.Wrap(err, "setting wake time")
}

// SetMinSleepTime sets the shortest time the chip stays asleep. The
// hardware holds a power of two number of sleep clocks, so ms is rounded to
// the nearest one.
func (s *Sleep) SetMinSleepTime(ms uint32) error {
	exp := MinSleepExponent(ms)
	return s.updateCtrl(func(v uint32) (uint32, error) {
		return v&^PwrMinSleepMask | uint32(exp)<<PwrMinSleepShift, nil
	})
}

// MinSleepExponent returns the power of two number of sleep clocks nearest
// to ms milliseconds.
func MinSleepExponent(ms uint32) uint {
	clocks := msToSleepClocks(ms)
	if clocks <= 1 {
		return 0
	}
	exp := uint(bits.Len64(clocks) - 1)
	lower := uint64(1) << exp
	if clocks-lower > lower<<1-clocks {
		exp++
	}
	if exp > PwrMinSleepMask>>PwrMinSleepShift {
		exp = PwrMinSleepMask >> PwrMinSleepShift
	}
	return exp
}

// SleepNow puts the chip to sleep. Peripherals should already be shut
// down; on hardware the call never returns and the chip wakes through a
// full reset, so use deep sleep memory to carry state across.
func (s *Sleep) SleepNow() error {
	if err := s.updateCtrl(func(v uint32) (uint32, error) {
		return v | PwrSleepRequest, nil
	}); err != nil {
		return err
	}
	s.logger.Info("entering deep sleep")
	halt()
	return nil
}

// RTCRead returns the RTC in milliseconds. The value wraps after 2^32 ms.
func (s *Sleep) RTCRead() (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var w [2]uint32
	if err := s.periph.ReadPeriph32(PeriphRTC, RegRTCLow, w[:]); err != nil {
		return 0, errors.Wrap(err, "reading RTC")
	}
	return sleepClocksToMs(uint64(w[1])<<32 | uint64(w[0])), nil
}

// RTCReset sets the RTC to zero.
func (s *Sleep) RTCReset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return errors.Wrap(s.periph.WritePeriph32(PeriphRTC, RegRTCLow, []uint32{0, 0}), "resetting RTC")
}

func (s *Sleep) readCtrl() (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var w [1]uint32
	if err := s.periph.ReadPeriph32(PeriphPWR, RegPwrCtrl, w[:]); err != nil {
		return 0, errors.Wrap(err, "reading power control")
	}
	return w[0], nil
}

// updateCtrl read-modify-writes the power control register with interrupts
// off, so a concurrent update cannot be lost.
func (s *Sleep) updateCtrl(f func(uint32) (uint32, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := disableInterrupts()
	defer restoreInterrupts(state)

	var w [1]uint32
	if err := s.periph.ReadPeriph32(PeriphPWR, RegPwrCtrl, w[:]); err != nil {
		return errors.Wrap(err, "reading power control")
	}
	v, err := f(w[0])
	if err != nil {
		return err
	}
	return errors.Wrap(s.periph.WritePeriph32(PeriphPWR, RegPwrCtrl, []uint32{v}), "writing power control")
}

func msToSleepClocks(ms uint32) uint64 {
	return uint64(ms) * uint64(SleepClockHz) / 1000
}

func sleepClocksToMs(clocks uint64) uint32 {
	return uint32(clocks * 1000 / uint64(SleepClockHz))
}
