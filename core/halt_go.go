//go:build !tinygo

package core

// halt returns on hosted builds; the simulated tile models the power down.
func halt() {}
