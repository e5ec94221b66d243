package core

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"tinygo.org/x/drivers"
)

// DefaultVoltmeterTimeout bounds one Update.
const DefaultVoltmeterTimeout = 100 * time.Millisecond

// Voltmeter presents the enabled ADC inputs as a tinygo drivers.Sensor.
// Each Update triggers one conversion of every enabled input and caches the
// results.
type Voltmeter struct {
	adc     *ADC
	cfg     ADCConfig
	timeout time.Duration

	microvolts [MaxNumADC]int32
}

// NewVoltmeter returns a sensor over adc, which must already be enabled
// with cfg. Nothing else may read the ADC while the voltmeter is in use.
func NewVoltmeter(adc *ADC, cfg ADCConfig) *Voltmeter {
	return &Voltmeter{adc: adc, cfg: cfg, timeout: DefaultVoltmeterTimeout}
}

// SetTimeout changes the time one Update may wait for samples.
func (v *Voltmeter) SetTimeout(d time.Duration) {
	v.timeout = d
}

var _ drivers.Sensor = (*Voltmeter)(nil)

// Update reads every enabled input when which includes drivers.Voltage.
func (v *Voltmeter) Update(which drivers.Measurement) error {
	if which&drivers.Voltage == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), v.timeout)
	defer cancel()

	chans := v.cfg.EnabledChannels()
	for range chans {
		// Conversions rotate through the enabled inputs, so the count of
		// samples already read says which input comes next.
		ch := chans[v.adc.SamplesRead()%uint64(len(chans))]
		if err := v.adc.Trigger(); err != nil {
			return err
		}
		s, err := v.adc.Read(ctx, &v.cfg)
		if err != nil {
			return errors.Wrapf(err, "reading input %d", ch)
		}
		v.microvolts[ch] = int32(int64(s.Raw(v.cfg.BitsPerSample)) * FullScaleMillivolts * 1000 / rawMax)
	}
	return nil
}

// Voltage returns the last reading of input ch in microvolts.
func (v *Voltmeter) Voltage(ch int) int32 {
	if ch < 0 || ch >= MaxNumADC {
		return 0
	}
	return v.microvolts[ch]
}
