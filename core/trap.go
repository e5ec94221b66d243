package core

// TrapHandler is called for errors the firmware treats as fatal.
type TrapHandler func(err error)

var trapHandler TrapHandler = func(err error) {
	panic(err)
}

// SetTrapHandler replaces the trap handler. The default panics, which is the
// closest a hosted build gets to a hardware trap.
func SetTrapHandler(h TrapHandler) {
	trapHandler = h
}

// Trap raises err as a fatal error.
func Trap(err error) {
	trapHandler(err)
}
