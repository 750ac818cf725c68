package domain

import "errors"

// Common domain errors
var (
	// ErrFeedUnavailable marks a transient feed outage; the scheduler
	// responds with a short-delay retry instead of waiting a full interval.
	ErrFeedUnavailable = errors.New("feed source unavailable")
	// ErrDuplicateChange is returned by stores when a change with the same
	// derived id already exists. The ledger treats it as an expected no-op.
	ErrDuplicateChange = errors.New("duplicate change")
	// ErrInvalidTransition marks an illegal change-state transition.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrValidationPending blocks communication of a critical change until a
	// human validator has signed off. Expected, not a failure.
	ErrValidationPending = errors.New("manual validation pending")
	// ErrConcurrentRunRejected is returned when a manual cycle trigger
	// arrives while another cycle is running.
	ErrConcurrentRunRejected = errors.New("concurrent run rejected")
	// ErrNotFound is returned for unknown change or run identifiers.
	ErrNotFound = errors.New("not found")
)

// DomainError wraps errors with a stable machine-readable code for the
// admin API.
//
//nolint:revive // Name is intentionally verbose to distinguish domain-layer errors
type DomainError struct {
	Err     error
	Code    string
	Message string
	Details map[string]any
}

func (e *DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Err.Error()
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// ErrorResponse defines the standard JSON error model returned by the admin
// API. It avoids exposing internals while providing a stable code. TraceID
// carries the current OpenTelemetry trace identifier when available.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	TraceID string `json:"trace_id,omitempty"`
}
