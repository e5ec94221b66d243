package core

// PeriphID selects a peripheral block on the analog tile.
type PeriphID uint8

const (
	PeriphADC PeriphID = 0x02
	PeriphRTC PeriphID = 0x03
	PeriphPWR PeriphID = 0x04
)

// Periph is the access port to the analog tile's peripheral registers.
// Platform code provides it; on hardware each call is a transaction over the
// tile's configuration channel.
type Periph interface {
	// ReadPeriph32 reads len(data) consecutive 32 bit registers from addr.
	ReadPeriph32(dev PeriphID, addr uint32, data []uint32) error

	// WritePeriph32 writes len(data) consecutive 32 bit registers at addr.
	WritePeriph32(dev PeriphID, addr uint32, data []uint32) error

	// ReadPeriph8 reads len(data) bytes starting at addr.
	ReadPeriph8(dev PeriphID, addr uint32, data []byte) error

	// WritePeriph8 writes len(data) bytes starting at addr.
	WritePeriph8(dev PeriphID, addr uint32, data []byte) error
}

// ADC block registers.
const (
	// RegADCChannel0 is the control register of input 0; input i is at
	// RegADCChannel0 + 4*i.
	RegADCChannel0 uint32 = 0x00
	// RegADCGeneral holds bits per sample, samples per packet, calibration
	// mode and the global enable.
	RegADCGeneral uint32 = 0x20
)

// ADC channel register fields.
const (
	ADCChanEnable     = 1 << 0
	ADCChanDestShift  = 8
	ADCGenEnable      = 1 << 0
	ADCGenBPSShift    = 8
	ADCGenBPSMask     = 0x3 << ADCGenBPSShift
	ADCGenSPPShift    = 16
	ADCGenSPPMask     = 0x7 << ADCGenSPPShift
	ADCGenCalibration = 1 << 24
)

// RTC block registers. The watchdog lives in the same block.
const (
	RegRTCLow     uint32 = 0x00
	RegRTCHigh    uint32 = 0x04
	RegWDTEnable  uint32 = 0x10
	RegWDTTimeout uint32 = 0x14
	RegWDTCount   uint32 = 0x18
)

// Power controller registers.
const (
	RegPwrCtrl      uint32 = 0x00
	RegWakeTimeLow  uint32 = 0x08
	RegWakeTimeHigh uint32 = 0x0C
	RegPwrGeneral   uint32 = 0x10
	RegDeepSleepMem uint32 = 0x100
)

// Power controller fields.
const (
	PwrWakeRTC         = 1 << 0
	PwrWakePin         = 1 << 1
	PwrWakePinHigh     = 1 << 2
	PwrSleepRequest    = 1 << 8
	PwrMinSleepShift   = 16
	PwrMinSleepMask    = 0x1F << PwrMinSleepShift
	PwrGeneralMemValid = 1 << 0
)

func adcChannelReg(i int) uint32 {
	return RegADCChannel0 + 4*uint32(i)
}

// Peripheral port registered by platform code.
var periph Periph

// SetPeriph is called by platform code to register its peripheral port.
func SetPeriph(p Periph) {
	periph = p
}

// MustPeriph returns the registered port or panics if none is.
func MustPeriph() Periph {
	if periph == nil {
		panic("analog tile peripheral port not configured")
	}
	return periph
}
