//go:build !tinygo

package core

import "sync"

// State is the saved critical section state. On a hosted build interrupts
// are modelled by a single lock.
type State uintptr

var critical sync.Mutex

// disableInterrupts enters the critical section. Sections do not nest.
func disableInterrupts() State {
	critical.Lock()
	return 0
}

func restoreInterrupts(state State) {
	critical.Unlock()
}
