package detect

// Detector is a strategy that determines whether a service's process is
// already running. Implementations may check a PID file, a port owner, or
// the process table. It must be safe for concurrent use.
type Detector interface {
	// Alive returns true if a matching process is detected as running.
	Alive() (bool, error)
	// Describe returns a human-readable description of the detection method.
	Describe() string
}

// PIDResolver is implemented by detectors that can also name the matching
// process. The supervisor uses it to adopt an already-running instance
// instead of spawning a second one.
type PIDResolver interface {
	// ResolvePID returns the PID of the matching process, or false when no
	// match exists or the method cannot resolve one.
	ResolvePID() (int, bool)
}
