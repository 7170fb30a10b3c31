package supervisor

// State is a step of the readiness state machine.
type State int32

const (
	StateUnstarted State = iota
	StateProbingExisting
	StateSkippedSpawn
	StateSpawning
	StatePollingReady
	StateReady
	StateTimedOut
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StateProbingExisting:
		return "probing_existing"
	case StateSkippedSpawn:
		return "skipped_spawn"
	case StateSpawning:
		return "spawning"
	case StatePollingReady:
		return "polling_ready"
	case StateReady:
		return "ready"
	case StateTimedOut:
		return "timed_out"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions follow.
func (s State) Terminal() bool {
	return s == StateReady || s == StateTimedOut || s == StateFailed
}
