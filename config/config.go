// Package config loads the JSON configuration of an analog tile
// application.
package config

import (
	"encoding/json"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"analogtile/core"
)

// TileConfig is the top level configuration.
type TileConfig struct {
	ADC      ADCConfig      `json:"adc"`
	Watchdog WatchdogConfig `json:"watchdog"`
	Sleep    SleepConfig    `json:"sleep"`
	Serial   SerialConfig   `json:"serial"`
}

// ADCConfig selects the sampled inputs and the packet format.
type ADCConfig struct {
	Channels         []int `json:"channels"`
	BitsPerSample    int   `json:"bits_per_sample"`
	SamplesPerPacket uint  `json:"samples_per_packet"`
	CalibrationMode  bool  `json:"calibration_mode"`
}

// WatchdogConfig configures the watchdog. A zero timeout leaves it alone.
type WatchdogConfig struct {
	Enabled   bool   `json:"enabled"`
	TimeoutMs uint16 `json:"timeout_ms"`
}

// SleepConfig configures deep sleep.
type SleepConfig struct {
	WakeSources []string `json:"wake_sources"` // "rtc", "pin-low", "pin-high"
	WakeTimeMs  uint32   `json:"wake_time_ms"`
	MinSleepMs  uint32   `json:"min_sleep_ms"`
}

// SerialConfig is the port packets are streamed over.
type SerialConfig struct {
	Device string `json:"device"`
	Baud   int    `json:"baud"`
}

// Defaults
const (
	DefaultBitsPerSample    = 16
	DefaultSamplesPerPacket = 1
	DefaultBaud             = 115200
)

// LoadConfig parses a JSON configuration and fills in defaults.
func LoadConfig(jsonData []byte) (*TileConfig, error) {
	var config TileConfig

	if err := json.Unmarshal(jsonData, &config); err != nil {
		return nil, errors.Wrap(err, "parsing tile configuration")
	}
	applyDefaults(&config)

	if _, err := config.ADCConfig(); err != nil {
		return nil, err
	}
	if _, err := config.WakeSources(); err != nil {
		return nil, err
	}
	return &config, nil
}

// applyDefaults fills in missing configuration values
func applyDefaults(config *TileConfig) {
	if len(config.ADC.Channels) == 0 {
		config.ADC.Channels = []int{0}
	}
	if config.ADC.BitsPerSample == 0 {
		config.ADC.BitsPerSample = DefaultBitsPerSample
	}
	if config.ADC.SamplesPerPacket == 0 {
		config.ADC.SamplesPerPacket = DefaultSamplesPerPacket
	}
	if config.Sleep.MinSleepMs == 0 {
		config.Sleep.MinSleepMs = uint32(core.DefaultMinSleepClocks * 1000 / core.SleepClockHz)
	}
	if config.Serial.Baud == 0 {
		config.Serial.Baud = DefaultBaud
	}
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *TileConfig {
	var config TileConfig
	applyDefaults(&config)
	return &config
}

// ADCConfig converts the ADC section to the tile API form and validates
// it.
func (c *TileConfig) ADCConfig() (core.ADCConfig, error) {
	bps, err := core.BitsPerSampleFromWidth(c.ADC.BitsPerSample)
	if err != nil {
		return core.ADCConfig{}, err
	}
	cfg := core.ADCConfig{
		BitsPerSample:    bps,
		SamplesPerPacket: c.ADC.SamplesPerPacket,
		CalibrationMode:  c.ADC.CalibrationMode,
	}
	for _, ch := range c.ADC.Channels {
		if ch < 0 || ch >= core.MaxNumADC {
			return core.ADCConfig{}, errors.Errorf("ADC channel %d out of range 0-%d", ch, core.MaxNumADC-1)
		}
		cfg.InputEnable[ch] = true
	}
	if err := core.ValidateADCConfig(&cfg); err != nil {
		return core.ADCConfig{}, err
	}
	return cfg, nil
}

// WakeSources parses the configured wake sources.
func (c *TileConfig) WakeSources() ([]core.WakeSource, error) {
	var srcs []core.WakeSource
	for _, name := range c.Sleep.WakeSources {
		var src core.WakeSource
		switch name {
		case "rtc":
			src = core.WakeRTC
		case "pin-low":
			src = core.WakePinLow
		case "pin-high":
			src = core.WakePinHigh
		default:
			return nil, errors.Errorf("unknown wake source %q", name)
		}
		srcs = append(srcs, src)
	}
	return srcs, nil
}

// ApplyPower programs the watchdog and the sleep controller of tile from
// the configuration.
func (c *TileConfig) ApplyPower(tile *core.Tile) error {
	srcs, err := c.WakeSources()
	if err != nil {
		return err
	}
	if c.Watchdog.TimeoutMs != 0 {
		err = multierr.Append(err, tile.Watchdog.SetTimeout(c.Watchdog.TimeoutMs))
	}
	if c.Watchdog.Enabled {
		err = multierr.Append(err, tile.Watchdog.Enable())
	}
	for _, src := range srcs {
		err = multierr.Append(err, tile.Sleep.EnableWakeSource(src))
	}
	if c.Sleep.WakeTimeMs != 0 {
		err = multierr.Append(err, tile.Sleep.SetWakeTime(c.Sleep.WakeTimeMs))
	}
	return multierr.Append(err, tile.Sleep.SetMinSleepTime(c.Sleep.MinSleepMs))
}
