package core

import (
	"fmt"

	"github.com/pkg/errors"
)

const (
	// MaxNumADC is the number of ADC inputs on the analog tile.
	MaxNumADC = 8

	// MaxSamplesPerPacket is the guaranteed hardware buffer depth. A larger
	// packet can lock up ReadPacket, so use several reads to cover more than
	// five inputs.
	MaxSamplesPerPacket = 5

	// CalibrationTriggers is the number of trigger pulses the ADC needs
	// after enable before it produces data.
	CalibrationTriggers = 6
)

// BitsPerSample selects the width of the word each 12 bit conversion is
// placed in. The values are the hardware codes.
type BitsPerSample uint8

const (
	BPS8  BitsPerSample = 0 // truncated to the top 8 bits
	BPS16 BitsPerSample = 1 // 12 bits in the MSBs of a half word
	BPS32 BitsPerSample = 3 // 12 bits in the MSBs of a word
)

// Valid reports whether b is one of the three hardware codes.
func (b BitsPerSample) Valid() bool {
	return b == BPS8 || b == BPS16 || b == BPS32
}

// Bits returns the word width, or 0 for an invalid code.
func (b BitsPerSample) Bits() int {
	switch b {
	case BPS8:
		return 8
	case BPS16:
		return 16
	case BPS32:
		return 32
	}
	return 0
}

func (b BitsPerSample) String() string {
	if !b.Valid() {
		return fmt.Sprintf("BitsPerSample(%d)", uint8(b))
	}
	return fmt.Sprintf("%dbps", b.Bits())
}

// BitsPerSampleFromWidth maps 8, 16 or 32 to its code.
func BitsPerSampleFromWidth(bits int) (BitsPerSample, error) {
	switch bits {
	case 8:
		return BPS8, nil
	case 16:
		return BPS16, nil
	case 32:
		return BPS32, nil
	}
	return 0, errors.Wrapf(ErrInvalidBitsPerSample, "%d bits", bits)
}

// ADCConfig is the configuration of the ADC array. It is comparable, so two
// configurations can be checked for equality with ==.
type ADCConfig struct {
	// InputEnable selects which inputs are converted.
	InputEnable [MaxNumADC]bool
	// BitsPerSample selects the sample word width.
	BitsPerSample BitsPerSample
	// SamplesPerPacket is the number of samples between boundary tokens,
	// 1 to min(MaxSamplesPerPacket, enabled inputs).
	SamplesPerPacket uint
	// CalibrationMode samples the internal 0.8V reference instead of the
	// external pins.
	CalibrationMode bool
}

// EnabledCount returns the number of enabled inputs.
func (c *ADCConfig) EnabledCount() int {
	n := 0
	for _, en := range c.InputEnable {
		if en {
			n++
		}
	}
	return n
}

// EnabledChannels returns the enabled inputs in conversion order.
func (c *ADCConfig) EnabledChannels() []int {
	var chans []int
	for i, en := range c.InputEnable {
		if en {
			chans = append(chans, i)
		}
	}
	return chans
}

// EnabledMask returns the enabled inputs as a bit mask.
func (c *ADCConfig) EnabledMask() uint8 {
	var m uint8
	for i, en := range c.InputEnable {
		if en {
			m |= 1 << uint(i)
		}
	}
	return m
}

var (
	ErrInvalidBitsPerSample    = errors.New("bits per sample must be 8, 16 or 32")
	ErrInvalidSamplesPerPacket = errors.New("samples per packet out of range")
	ErrNoChannelsEnabled       = errors.New("no ADC inputs enabled")
)

// ConfigError describes why an ADCConfig was rejected.
type ConfigError struct {
	Config ADCConfig
	Err    error
}

func (e *ConfigError) Error() string {
	return "invalid ADC configuration: " + e.Err.Error()
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// ValidateADCConfig checks cfg against the hardware limits. It has no side
// effects.
func ValidateADCConfig(cfg *ADCConfig) error {
	if cfg == nil {
		return &ConfigError{Err: errors.New("nil configuration")}
	}
	if !cfg.BitsPerSample.Valid() {
		return &ConfigError{Config: *cfg, Err: errors.Wrapf(ErrInvalidBitsPerSample, "code %d", cfg.BitsPerSample)}
	}
	enabled := cfg.EnabledCount()
	if enabled == 0 {
		return &ConfigError{Config: *cfg, Err: ErrNoChannelsEnabled}
	}
	limit := uint(MaxSamplesPerPacket)
	if uint(enabled) < limit {
		limit = uint(enabled)
	}
	if cfg.SamplesPerPacket < 1 || cfg.SamplesPerPacket > limit {
		return &ConfigError{Config: *cfg, Err: errors.Wrapf(ErrInvalidSamplesPerPacket,
			"%d not in [1, %d] with %d inputs enabled", cfg.SamplesPerPacket, limit, enabled)}
	}
	return nil
}
