// Package lifecycle runs a long-lived process, such as the gateway's HTTP
// listener, through a validated state machine with start and stop hooks.
//
// The flow for a healthy service is:
//
//	Unknown → Starting → Running → Stopping → Stopped
//
// Any non-terminal state may move to Failed when a hook errors. Only
// Running reports healthy, so readiness checks fail as soon as shutdown
// begins and before in-flight requests drain.
package lifecycle

// State is the lifecycle position of a [Service].
type State string

const (
	// StateUnknown is the state of a service that was never started.
	StateUnknown State = "unknown"

	// StateStarting is set while start hooks run.
	StateStarting State = "starting"

	// StateRunning means every start hook succeeded.
	StateRunning State = "running"

	// StateStopping is set while stop hooks run.
	StateStopping State = "stopping"

	// StateStopped is terminal after a clean shutdown.
	StateStopped State = "stopped"

	// StateFailed is terminal after a hook error.
	StateFailed State = "failed"
)

func (s State) String() string {
	return string(s)
}

// Valid reports whether s is a recognized state.
func (s State) Valid() bool {
	switch s {
	case StateUnknown, StateStarting, StateRunning, StateStopping, StateStopped, StateFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether s is Stopped or Failed.
func (s State) IsTerminal() bool {
	return s == StateStopped || s == StateFailed
}

// Transition matrix:
//
//	Unknown  → Starting, Failed
//	Starting → Running, Stopping, Failed
//	Running  → Stopping, Failed
//	Stopping → Stopped, Failed
//	Stopped  → Starting
//	Failed   → Starting
var validTransitions = map[State][]State{
	StateUnknown:  {StateStarting, StateFailed},
	StateStarting: {StateRunning, StateStopping, StateFailed},
	StateRunning:  {StateStopping, StateFailed},
	StateStopping: {StateStopped, StateFailed},
	StateStopped:  {StateStarting},
	StateFailed:   {StateStarting},
}

// ValidTransition reports whether from may move to to. Same-state
// transitions are rejected.
func ValidTransition(from, to State) bool {
	if from == to {
		return false
	}
	for _, t := range validTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}
