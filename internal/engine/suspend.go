package engine

import (
	"errors"
	"fmt"
	"time"
)

// SuspendedError ends an ephemeral invocation at an operation that cannot
// complete yet. ResumeAt is zero when only a callback settlement can wake
// the execution
type SuspendedError struct {
	ResumeAt time.Time
	Reason   string
}

// ErrSuspended is the control signal matched by every SuspendedError. It
// must be returned by programs unchanged
var ErrSuspended = errors.New("execution suspended")

func (e *SuspendedError) Error() string {
	if e.ResumeAt.IsZero() {
		return fmt.Sprintf("%s: %s", ErrSuspended, e.Reason)
	}
	return fmt.Sprintf("%s until %s: %s",
		ErrSuspended, e.ResumeAt.Format(time.RFC3339Nano), e.Reason)
}

func (e *SuspendedError) Unwrap() error {
	return ErrSuspended
}

func asSuspended(err error) (*SuspendedError, bool) {
	var s *SuspendedError
	if errors.As(err, &s) {
		return s, true
	}
	return nil, false
}
