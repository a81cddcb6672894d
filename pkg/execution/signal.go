package execution

import (
	"errors"
	"fmt"
)

// ErrInterrupted signals a cooperative stop of a chain. Whatever response was
// already set on the context is the one sent to the client.
var ErrInterrupted = errors.New("execution interrupted")

// ExecutionFailure is the structured payload of an interrupt-with-failure.
type ExecutionFailure struct {
	StatusCode  int
	Key         string
	Message     string
	ContentType string
	Parameters  map[string]any
}

// FailureError carries an ExecutionFailure through error returns. It matches
// ErrInterrupted with errors.Is, since it is an interruption too.
type FailureError struct {
	Failure ExecutionFailure
}

// NewFailure builds a FailureError for status, key and message.
func NewFailure(status int, key, message string) *FailureError {
	return &FailureError{Failure: ExecutionFailure{StatusCode: status, Key: key, Message: message}}
}

func (e *FailureError) Error() string {
	if e.Failure.Key != "" {
		return fmt.Sprintf("execution interrupted with failure %d %s: %s", e.Failure.StatusCode, e.Failure.Key, e.Failure.Message)
	}
	return fmt.Sprintf("execution interrupted with failure %d: %s", e.Failure.StatusCode, e.Failure.Message)
}

// Is makes errors.Is(err, ErrInterrupted) hold for failures.
func (e *FailureError) Is(target error) bool {
	return target == ErrInterrupted
}

// Outcome classifies how a unit of work ended.
type Outcome string

const (
	OutcomeCompleted     Outcome = "completed"
	OutcomeInterrupted   Outcome = "interrupted"
	OutcomeInterruptWith Outcome = "interrupted_with_failure"
	OutcomeError         Outcome = "error"
)

// Classify maps an error returned by a unit of work to its Outcome.
func Classify(err error) Outcome {
	if err == nil {
		return OutcomeCompleted
	}
	var failure *FailureError
	if errors.As(err, &failure) {
		return OutcomeInterruptWith
	}
	if errors.Is(err, ErrInterrupted) {
		return OutcomeInterrupted
	}
	return OutcomeError
}

// AsFailure extracts the failure payload from err, if any.
func AsFailure(err error) (ExecutionFailure, bool) {
	var failure *FailureError
	if errors.As(err, &failure) {
		return failure.Failure, true
	}
	return ExecutionFailure{}, false
}
