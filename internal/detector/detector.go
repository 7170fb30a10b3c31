package detector

// Detector is a strategy that determines if a process is running.
// The supervisor dials a loopback port; tests plug in Func.
// It must be safe for concurrent use.
type Detector interface {
	// Alive returns true if the process is detected as running.
	Alive() (bool, error)
	// Describe returns a human-readable description of the detection method.
	Describe() string
}

// Func adapts a plain predicate to Detector. Useful for tests and embedders.
type Func func() bool

func (f Func) Alive() (bool, error) { return f(), nil }
func (f Func) Describe() string     { return "func" }
