// Package led drives a tally light that mirrors the capture state.
package led

// Patterns understood by every Controller.
const (
	PatternSolid     = "solid"
	PatternBlink     = "blink"
	PatternHeartbeat = "heartbeat"
)

// Controller abstracts LED hardware.
type Controller interface {
	// Set switches the named LED on or off. An empty pattern leaves the
	// current trigger alone.
	Set(name string, enabled bool, pattern string) error

	// Available returns the LED names this controller can drive.
	Available() []string

	// Patterns returns the patterns this controller supports.
	Patterns() []string
}

// noop is used when no LED is configured.
type noop struct{}

func (noop) Set(string, bool, string) error { return nil }
func (noop) Available() []string { return []string{} }
func (noop) Patterns() []string { return []string{} }
