package core

import (
	"go.uber.org/zap"
)

// EventType identifies an entry in the ADC event ring.
type EventType uint8

// Event type codes
const (
	EvtEnable       EventType = 1 // ADC enabled; Value1 = enabled channel mask
	EvtCalibrate    EventType = 2 // calibration pulse; Value1 = pulse index
	EvtTrigger      EventType = 3 // trigger pulse; Value1 = triggers outstanding
	EvtSample       EventType = 4 // sample delivered; Value1 = sample, Value2 = index in packet
	EvtBoundary     EventType = 5 // boundary token consumed
	EvtStrayControl EventType = 6 // control token discarded outside a boundary
	EvtDisable      EventType = 7 // all inputs disabled
)

func (e EventType) String() string {
	switch e {
	case EvtEnable:
		return "ENABLE"
	case EvtCalibrate:
		return "CALIBRATE"
	case EvtTrigger:
		return "TRIGGER"
	case EvtSample:
		return "SAMPLE"
	case EvtBoundary:
		return "BOUNDARY"
	case EvtStrayControl:
		return "STRAY_CT!"
	case EvtDisable:
		return "DISABLE"
	default:
		return "UNKNOWN"
	}
}

// Event is one entry of the post-mortem ring.
type Event struct {
	Type   EventType
	Seq    uint32
	Value1 uint32
	Value2 uint32
}

const EventRingSize = 32

var (
	logger = zap.NewNop().Sugar()

	eventRing     [EventRingSize]Event
	eventRingHead uint8
	eventSeq      uint32
	eventsEnabled = true
)

// SetLogger sets the package logger used by handles that were not given
// one explicitly.
func SetLogger(l *zap.SugaredLogger) {
	if l == nil {
		l = zap.NewNop().Sugar()
	}
	logger = l
}

// SetEventsEnabled turns event capture on or off.
func SetEventsEnabled(enabled bool) {
	state := disableInterrupts()
	eventsEnabled = enabled
	restoreInterrupts(state)
}

// RecordEvent captures an event in the ring. It never blocks for longer
// than the critical section.
func RecordEvent(t EventType, value1, value2 uint32) {
	state := disableInterrupts()
	defer restoreInterrupts(state)
	if !eventsEnabled {
		return
	}
	eventSeq++
	eventRing[eventRingHead] = Event{Type: t, Seq: eventSeq, Value1: value1, Value2: value2}
	eventRingHead = (eventRingHead + 1) % EventRingSize
}

// Events returns the captured events, oldest first.
func Events() []Event {
	state := disableInterrupts()
	defer restoreInterrupts(state)
	out := make([]Event, 0, EventRingSize)
	for i := uint8(0); i < EventRingSize; i++ {
		evt := eventRing[(eventRingHead+i)%EventRingSize]
		if evt.Type == 0 {
			continue
		}
		out = append(out, evt)
	}
	return out
}

// DumpEvents logs the ring, typically after a read timed out.
func DumpEvents(l *zap.SugaredLogger) {
	if l == nil {
		l = logger
	}
	for _, evt := range Events() {
		l.Infow("adc event", "type", evt.Type.String(), "seq", evt.Seq, "v1", evt.Value1, "v2", evt.Value2)
	}
}

// ClearEvents empties the ring.
func ClearEvents() {
	state := disableInterrupts()
	defer restoreInterrupts(state)
	for i := range eventRing {
		eventRing[i] = Event{}
	}
	eventRingHead = 0
}
