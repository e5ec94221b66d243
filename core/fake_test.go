package core

import (
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
)

type regWrite struct {
	dev  PeriphID
	addr uint32
	val  uint32
}

// fakePeriph is a register file that records every write.
type fakePeriph struct {
	mu     sync.Mutex
	regs   map[PeriphID]map[uint32]uint32
	bytes  map[PeriphID]map[uint32]byte
	writes []regWrite
}

func newFakePeriph() *fakePeriph {
	return &fakePeriph{
		regs:  map[PeriphID]map[uint32]uint32{},
		bytes: map[PeriphID]map[uint32]byte{},
	}
}

func (f *fakePeriph) ReadPeriph32(dev PeriphID, addr uint32, data []uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range data {
		data[i] = f.regs[dev][addr+4*uint32(i)]
	}
	return nil
}

func (f *fakePeriph) WritePeriph32(dev PeriphID, addr uint32, data []uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.regs[dev] == nil {
		f.regs[dev] = map[uint32]uint32{}
	}
	for i, v := range data {
		a := addr + 4*uint32(i)
		f.regs[dev][a] = v
		f.writes = append(f.writes, regWrite{dev, a, v})
	}
	return nil
}

func (f *fakePeriph) ReadPeriph8(dev PeriphID, addr uint32, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range data {
		data[i] = f.bytes[dev][addr+uint32(i)]
	}
	return nil
}

func (f *fakePeriph) WritePeriph8(dev PeriphID, addr uint32, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bytes[dev] == nil {
		f.bytes[dev] = map[uint32]byte{}
	}
	for i, v := range data {
		a := addr + uint32(i)
		f.bytes[dev][a] = v
		f.writes = append(f.writes, regWrite{dev, a, uint32(v)})
	}
	return nil
}

func (f *fakePeriph) reg(dev PeriphID, addr uint32) uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.regs[dev][addr]
}

func (f *fakePeriph) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

// fakePin counts rising edges.
type fakePin struct {
	level  gpio.Level
	pulses int
	onRise func()
}

func (p *fakePin) String() string   { return "fake" }
func (p *fakePin) Name() string     { return "fake" }
func (p *fakePin) Number() int      { return 0 }
func (p *fakePin) Function() string { return "Out" }
func (p *fakePin) Halt() error      { return nil }

func (p *fakePin) Out(l gpio.Level) error {
	if l == gpio.High && p.level == gpio.Low {
		p.pulses++
		if p.onRise != nil {
			p.onRise()
		}
	}
	p.level = l
	return nil
}

func (p *fakePin) PWM(gpio.Duty, physic.Frequency) error {
	return nil
}
