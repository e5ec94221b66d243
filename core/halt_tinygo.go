//go:build tinygo

package core

// halt waits for the power controller to remove power. The tile resumes
// from reset, never from here.
func halt() {
	for {
	}
}
