package api

import (
	"errors"
	"fmt"
	"time"
)

type (
	// ErrorType classifies why an execution ended unsuccessfully
	ErrorType string

	// ConflictError reports a succeeded step being rewritten with a
	// different result, which means the program replayed non-deterministically
	ConflictError struct {
		ExecutionID ExecutionID
		Step        StepName
	}

	// DuplicateTokenError reports a callback token minted twice
	DuplicateTokenError struct {
		Token Token
	}

	// UnknownTokenError reports a resolution for a token that was never
	// created
	UnknownTokenError struct {
		Token Token
	}

	// StepExhaustedError reports a step that failed on every permitted
	// attempt. LastError is the failure of the final attempt
	StepExhaustedError struct {
		Step      StepName
		Attempts  int
		LastError string
	}

	// TimeoutError reports a callback that expired before it was resolved
	TimeoutError struct {
		Token     Token
		Label     Label
		TimeoutAt time.Time
	}

	// CallbackRejectedError reports a callback settled through rejection
	CallbackRejectedError struct {
		Token  Token
		Label  Label
		Reason string
	}
)

const (
	ErrorTypeProgram   ErrorType = "program"
	ErrorTypeExhausted ErrorType = "step_exhausted"
	ErrorTypeTimeout   ErrorType = "timeout"
	ErrorTypeCancelled ErrorType = "cancelled"
	ErrorTypeRejected  ErrorType = "callback_rejected"
	ErrorTypeConflict  ErrorType = "conflict"
	ErrorTypeInvalid   ErrorType = "validation"
	ErrorTypePanic     ErrorType = "panic"
)

var (
	ErrConflict         = errors.New("step result conflict")
	ErrDuplicateToken   = errors.New("duplicate callback token")
	ErrUnknownToken     = errors.New("unknown callback token")
	ErrStepExhausted    = errors.New("step retries exhausted")
	ErrTimeout          = errors.New("callback timed out")
	ErrCallbackRejected = errors.New("callback rejected")
	ErrValidation       = errors.New("validation failed")

	ErrExecutionNotFound  = errors.New("execution not found")
	ErrExecutionExists    = errors.New("execution exists")
	ErrExecutionCancelled = errors.New("execution cancelled")
	ErrExecutionTimedOut  = errors.New("execution deadline exceeded")
)

// ValidationError wraps a caller-supplied precondition violation
func ValidationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: step %q in execution %s already succeeded "+
		"with a different result", ErrConflict, e.Step, e.ExecutionID)
}

func (e *ConflictError) Unwrap() error {
	return ErrConflict
}

func (e *DuplicateTokenError) Error() string {
	return fmt.Sprintf("%s: %s", ErrDuplicateToken, e.Token)
}

func (e *DuplicateTokenError) Unwrap() error {
	return ErrDuplicateToken
}

func (e *UnknownTokenError) Error() string {
	return fmt.Sprintf("%s: %s", ErrUnknownToken, e.Token)
}

func (e *UnknownTokenError) Unwrap() error {
	return ErrUnknownToken
}

func (e *StepExhaustedError) Error() string {
	return fmt.Sprintf("%s: step %q failed after %d attempt(s): %s",
		ErrStepExhausted, e.Step, e.Attempts, e.LastError)
}

func (e *StepExhaustedError) Unwrap() error {
	return ErrStepExhausted
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: callback %q expired at %s",
		ErrTimeout, e.Label, e.TimeoutAt.Format(time.RFC3339Nano))
}

func (e *TimeoutError) Unwrap() error {
	return ErrTimeout
}

func (e *CallbackRejectedError) Error() string {
	return fmt.Sprintf("%s: callback %q: %s",
		ErrCallbackRejected, e.Label, e.Reason)
}

func (e *CallbackRejectedError) Unwrap() error {
	return ErrCallbackRejected
}

// ClassifyError maps a program error onto the terminal status and error type
// recorded for its execution
func ClassifyError(err error) (ExecutionStatus, ErrorType) {
	switch {
	case errors.Is(err, ErrExecutionCancelled):
		return ExecutionFailed, ErrorTypeCancelled
	case errors.Is(err, ErrTimeout), errors.Is(err, ErrExecutionTimedOut):
		return ExecutionTimedOut, ErrorTypeTimeout
	case errors.Is(err, ErrStepExhausted):
		return ExecutionFailed, ErrorTypeExhausted
	case errors.Is(err, ErrCallbackRejected):
		return ExecutionFailed, ErrorTypeRejected
	case errors.Is(err, ErrConflict):
		return ExecutionFailed, ErrorTypeConflict
	case errors.Is(err, ErrValidation):
		return ExecutionFailed, ErrorTypeInvalid
	default:
		return ExecutionFailed, ErrorTypeProgram
	}
}
