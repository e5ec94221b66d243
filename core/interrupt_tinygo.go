//go:build tinygo

package core

import "runtime/interrupt"

// disableInterrupts enters the critical section. Sections do not nest.
func disableInterrupts() interrupt.State {
	return interrupt.Disable()
}

func restoreInterrupts(state interrupt.State) {
	interrupt.Restore(state)
}
