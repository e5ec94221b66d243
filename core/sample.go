package core

// Full scale input voltage and the calibration reference, in millivolts.
const (
	FullScaleMillivolts = 3300
	ReferenceMillivolts = 800
	rawMax              = 0xFFF
)

// Sample is one 12 bit conversion placed in the most significant bits of an
// 8, 16 or 32 bit word.
type Sample uint32

// PlaceSample positions a 12 bit conversion in its word the way the ADC
// does.
func PlaceSample(raw uint16, bps BitsPerSample) Sample {
	raw &= rawMax
	switch bps {
	case BPS8:
		return Sample(raw >> 4)
	case BPS16:
		return Sample(uint32(raw) << 4)
	case BPS32:
		return Sample(uint32(raw) << 20)
	}
	return 0
}

// Raw recovers the 12 bit conversion. An 8 bit sample has lost its low
// nibble.
func (s Sample) Raw(bps BitsPerSample) uint16 {
	switch bps {
	case BPS8:
		return uint16(s&0xFF) << 4
	case BPS16:
		return uint16(s>>4) & rawMax
	case BPS32:
		return uint16(s>>20) & rawMax
	}
	return 0
}

// Millivolts converts the sample to an input voltage.
func (s Sample) Millivolts(bps BitsPerSample) int {
	return int(s.Raw(bps)) * FullScaleMillivolts / rawMax
}
