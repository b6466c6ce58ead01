package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Outcome classifies a terminal pipeline result for audit consumers.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeFailure  Outcome = "failure"
	OutcomeSecurity Outcome = "security"
)

// Event is the audit record written exactly once per request when it
// reaches a terminal stage.
type Event struct {
	RequestID string `json:"request_id"`

	// ClientID is nil when authentication did not resolve a caller.
	ClientID   *int64 `json:"client_id,omitempty"`
	ClientName string `json:"client_name,omitempty"`

	// Function is the requested identifier; FunctionID is set once the
	// target was resolved.
	Function   string `json:"function,omitempty"`
	FunctionID *int64 `json:"function_id,omitempty"`

	// Stage is the last stage reached before the terminal one.
	Stage   Stage   `json:"stage"`
	Outcome Outcome `json:"outcome"`
	Status  int     `json:"status"`
	Code    string  `json:"code,omitempty"`
	Message string  `json:"message,omitempty"`

	RemoteAddr string        `json:"remote_addr,omitempty"`
	Elapsed    time.Duration `json:"elapsed"`
	Time       time.Time     `json:"time"`
}

// NewRequestID returns a new random request identifier.
func NewRequestID() string {
	return uuid.New().String()
}

// Validate checks that the event carries the fields every sink relies on.
func (e *Event) Validate() error {
	var errs []error
	if _, err := uuid.Parse(e.RequestID); err != nil {
		errs = append(errs, errors.New("event: request_id must be a UUID"))
	}
	if !e.Stage.Valid() {
		errs = append(errs, errors.New("event: stage is not recognized"))
	}
	if e.Status < 100 || e.Status > 599 {
		errs = append(errs, errors.New("event: status must be an HTTP status"))
	}
	return errors.Join(errs...)
}

// IsSecurity reports whether the event must be routed as a security event.
func (e *Event) IsSecurity() bool {
	return e.Outcome == OutcomeSecurity
}
