package models

// Stage is a pipeline state. A request moves strictly forward through the
// stages, or to [StageFailed] from any non-terminal stage.
//
//	Received → Authenticated → Authorized → AdmittedByRateLimit
//	         → ConfigurationResolved → Executed → Responded
type Stage string

const (
	StageReceived              Stage = "received"
	StageAuthenticated         Stage = "authenticated"
	StageAuthorized            Stage = "authorized"
	StageAdmittedByRateLimit   Stage = "admitted_by_rate_limit"
	StageConfigurationResolved Stage = "configuration_resolved"
	StageExecuted              Stage = "executed"
	StageResponded             Stage = "responded"
	StageFailed                Stage = "failed"
)

// String returns the string representation of the stage.
func (s Stage) String() string {
	return string(s)
}

// Valid reports whether the stage is recognized.
func (s Stage) Valid() bool {
	_, ok := validTransitions[s]
	return ok
}

// IsTerminal reports whether no further transition is possible.
func (s Stage) IsTerminal() bool {
	return s == StageResponded || s == StageFailed
}

// validTransitions lists the forward edge of each stage. Every non-terminal
// stage may also move to Failed.
var validTransitions = map[Stage][]Stage{
	StageReceived:              {StageAuthenticated},
	StageAuthenticated:         {StageAuthorized},
	StageAuthorized:            {StageAdmittedByRateLimit},
	StageAdmittedByRateLimit:   {StageConfigurationResolved},
	StageConfigurationResolved: {StageExecuted},
	StageExecuted:              {StageResponded},
	StageResponded:             nil,
	StageFailed:                nil,
}

// ValidTransition reports whether moving from one stage to another is
// allowed. Same-stage transitions and retries are always rejected.
func ValidTransition(from, to Stage) bool {
	if from == to || from.IsTerminal() {
		return false
	}
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	if to == StageFailed {
		return true
	}
	for _, t := range targets {
		if t == to {
			return true
		}
	}
	return false
}
