package api

import (
	"maps"
	"time"
)

type (
	// ExecutionStatus represents the lifecycle position of an execution
	ExecutionStatus string

	// ExecutionState is the durable record of one program run, aggregated
	// from the events of its journal
	ExecutionState struct {
		CreatedAt   time.Time                `json:"created_at"`
		UpdatedAt   time.Time                `json:"updated_at"`
		CompletedAt time.Time                `json:"completed_at,omitzero"`
		Deadline    time.Time                `json:"deadline,omitzero"`
		ResumeAt    time.Time                `json:"resume_at,omitzero"`
		Input       Payload                  `json:"input"`
		Result      *Payload                 `json:"result,omitempty"`
		Steps       map[StepName]*StepRecord `json:"steps"`
		Callbacks   map[Label]*CallbackRef   `json:"callbacks"`
		ID          ExecutionID              `json:"id"`
		Program     ProgramName              `json:"program"`
		Status      ExecutionStatus          `json:"status"`
		Error       string                   `json:"error,omitempty"`
		ErrorType   ErrorType                `json:"error_type,omitempty"`
		Archive     string                   `json:"archive,omitempty"`
	}

	// CallbackRef records the token minted for a labeled callback so that
	// replay hands back the same token
	CallbackRef struct {
		Token     Token     `json:"token"`
		TimeoutAt time.Time `json:"timeout_at"`
	}
)

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionSuspended ExecutionStatus = "suspended"
	ExecutionSucceeded ExecutionStatus = "succeeded"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionTimedOut  ExecutionStatus = "timed-out"
)

// Exists reports whether the execution has been started
func (st *ExecutionState) Exists() bool {
	return st != nil && st.ID != ""
}

// IsTerminal reports whether the execution reached a final status
func (st *ExecutionState) IsTerminal() bool {
	switch st.Status {
	case ExecutionSucceeded, ExecutionFailed, ExecutionTimedOut:
		return true
	default:
		return false
	}
}

// SetStatus returns a new ExecutionState with the given status
func (st *ExecutionState) SetStatus(s ExecutionStatus) *ExecutionState {
	res := *st
	res.Status = s
	return &res
}

// SetResult returns a new ExecutionState holding the program result
func (st *ExecutionState) SetResult(p Payload) *ExecutionState {
	res := *st
	res.Result = &p
	return &res
}

// SetError returns a new ExecutionState with the failure recorded
func (st *ExecutionState) SetError(typ ErrorType, msg string) *ExecutionState {
	res := *st
	res.ErrorType = typ
	res.Error = msg
	return &res
}

// SetResumeAt returns a new ExecutionState with the scheduled resume time
func (st *ExecutionState) SetResumeAt(t time.Time) *ExecutionState {
	res := *st
	res.ResumeAt = t
	return &res
}

// SetUpdatedAt returns a new ExecutionState with the update timestamp set
func (st *ExecutionState) SetUpdatedAt(t time.Time) *ExecutionState {
	res := *st
	res.UpdatedAt = t
	return &res
}

// SetCompletedAt returns a new ExecutionState with the completion time set
func (st *ExecutionState) SetCompletedAt(t time.Time) *ExecutionState {
	res := *st
	res.CompletedAt = t
	return &res
}

// SetArchive returns a new ExecutionState marked as archived at location
func (st *ExecutionState) SetArchive(location string) *ExecutionState {
	res := *st
	res.Archive = location
	return &res
}

// SetStep returns a new ExecutionState with the step record replaced
func (st *ExecutionState) SetStep(
	name StepName, rec *StepRecord,
) *ExecutionState {
	res := *st
	res.Steps = maps.Clone(st.Steps)
	if res.Steps == nil {
		res.Steps = map[StepName]*StepRecord{}
	}
	res.Steps[name] = rec
	return &res
}

// SetCallback returns a new ExecutionState with the labeled callback set
func (st *ExecutionState) SetCallback(
	label Label, ref *CallbackRef,
) *ExecutionState {
	res := *st
	res.Callbacks = maps.Clone(st.Callbacks)
	if res.Callbacks == nil {
		res.Callbacks = map[Label]*CallbackRef{}
	}
	res.Callbacks[label] = ref
	return &res
}
