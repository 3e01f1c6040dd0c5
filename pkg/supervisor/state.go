package supervisor

// State is the lifecycle state of the supervised process
type State string

const (
	StateNotStarted State = "not_started" // No process spawned yet
	StateRunning    State = "running"     // Spawn confirmed by the OS
	StateStopping   State = "stopping"    // Shutdown directive or signal in flight
	StateTerminated State = "terminated"  // Process exited; absorbing
)

// canStartFromState validates if starting is allowed from the current state
func canStartFromState(state State) bool {
	switch state {
	case StateNotStarted:
		return true
	default:
		return false
	}
}

// canStopFromState validates if stopping is allowed from the current state
func canStopFromState(state State) bool {
	return state == StateRunning
}

func (s State) IsActive() bool {
	return s == StateRunning || s == StateStopping
}
