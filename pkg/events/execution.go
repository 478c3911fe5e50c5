package events

import (
	"time"

	"github.com/kode4food/timebox"

	"github.com/kode4food/tollgate/pkg/api"
)

const ExecutionPrefix = "execution"

var emptyTime time.Time

// ExecutionAppliers contains the event applier functions for execution events
var ExecutionAppliers = makeExecutionAppliers()

// NewExecutionState creates an empty execution state with initialized maps
func NewExecutionState() *api.ExecutionState {
	return &api.ExecutionState{
		Steps:     map[api.StepName]*api.StepRecord{},
		Callbacks: map[api.Label]*api.CallbackRef{},
	}
}

// ExecutionKey returns the aggregate ID for an execution
func ExecutionKey[T ~string](id T) timebox.AggregateID {
	return timebox.NewAggregateID(ExecutionPrefix, timebox.ID(id))
}

// IsExecutionEvent returns true if the event belongs to an execution
func IsExecutionEvent(ev *timebox.Event) bool {
	return len(ev.AggregateID) >= 2 && ev.AggregateID[0] == ExecutionPrefix
}

func makeExecutionAppliers() timebox.Appliers[*api.ExecutionState] {
	return MakeAppliers(map[api.EventType]timebox.Applier[*api.ExecutionState]{
		api.EventTypeExecutionStarted:   timebox.MakeApplier(executionStarted),
		api.EventTypeExecutionResumed:   timebox.MakeApplier(executionResumed),
		api.EventTypeExecutionSuspended: timebox.MakeApplier(executionSuspended),
		api.EventTypeExecutionSucceeded: timebox.MakeApplier(executionSucceeded),
		api.EventTypeExecutionFailed:    timebox.MakeApplier(executionFailed),
		api.EventTypeExecutionArchived:  timebox.MakeApplier(executionArchived),
		api.EventTypeStepClaimed:        timebox.MakeApplier(stepClaimed),
		api.EventTypeStepRenewed:        timebox.MakeApplier(stepRenewed),
		api.EventTypeStepSucceeded:      timebox.MakeApplier(stepSucceeded),
		api.EventTypeStepFailed:         timebox.MakeApplier(stepFailed),
		api.EventTypeCallbackRegistered: timebox.MakeApplier(callbackRegistered),
	})
}

func executionStarted(
	_ *api.ExecutionState, ev *timebox.Event, data api.ExecutionStartedEvent,
) *api.ExecutionState {
	return &api.ExecutionState{
		ID:        data.ExecutionID,
		Program:   data.Program,
		Status:    api.ExecutionRunning,
		Input:     data.Input,
		Deadline:  data.Deadline,
		Steps:     map[api.StepName]*api.StepRecord{},
		Callbacks: map[api.Label]*api.CallbackRef{},
		CreatedAt: ev.Timestamp,
		UpdatedAt: ev.Timestamp,
	}
}

func executionResumed(
	st *api.ExecutionState, ev *timebox.Event, _ api.ExecutionResumedEvent,
) *api.ExecutionState {
	return st.
		SetStatus(api.ExecutionRunning).
		SetResumeAt(emptyTime).
		SetUpdatedAt(ev.Timestamp)
}

func executionSuspended(
	st *api.ExecutionState, ev *timebox.Event, data api.ExecutionSuspendedEvent,
) *api.ExecutionState {
	return st.
		SetStatus(api.ExecutionSuspended).
		SetResumeAt(data.ResumeAt).
		SetUpdatedAt(ev.Timestamp)
}

func executionSucceeded(
	st *api.ExecutionState, ev *timebox.Event, data api.ExecutionSucceededEvent,
) *api.ExecutionState {
	return st.
		SetStatus(api.ExecutionSucceeded).
		SetResult(data.Result).
		SetResumeAt(emptyTime).
		SetCompletedAt(ev.Timestamp).
		SetUpdatedAt(ev.Timestamp)
}

func executionFailed(
	st *api.ExecutionState, ev *timebox.Event, data api.ExecutionFailedEvent,
) *api.ExecutionState {
	return st.
		SetStatus(data.Status).
		SetError(data.ErrorType, data.Error).
		SetResumeAt(emptyTime).
		SetCompletedAt(ev.Timestamp).
		SetUpdatedAt(ev.Timestamp)
}

func executionArchived(
	st *api.ExecutionState, ev *timebox.Event, data api.ExecutionArchivedEvent,
) *api.ExecutionState {
	return st.
		SetArchive(data.Location).
		SetUpdatedAt(ev.Timestamp)
}

func stepClaimed(
	st *api.ExecutionState, ev *timebox.Event, data api.StepClaimedEvent,
) *api.ExecutionState {
	rec, ok := st.Steps[data.Step]
	if !ok {
		rec = &api.StepRecord{Name: data.Step}
	}
	return st.
		SetStep(data.Step, rec.
			SetStatus(api.StepPending).
			SetAttempt(data.Attempt, data.At).
			SetLease(data.Owner, data.LeaseUntil),
		).
		SetUpdatedAt(ev.Timestamp)
}

func stepRenewed(
	st *api.ExecutionState, ev *timebox.Event, data api.StepRenewedEvent,
) *api.ExecutionState {
	rec, ok := st.Steps[data.Step]
	if !ok {
		return st
	}
	return st.
		SetStep(data.Step, rec.SetLease(data.Owner, data.LeaseUntil)).
		SetUpdatedAt(ev.Timestamp)
}

func stepSucceeded(
	st *api.ExecutionState, ev *timebox.Event, data api.StepSucceededEvent,
) *api.ExecutionState {
	rec, ok := st.Steps[data.Step]
	if !ok {
		rec = (&api.StepRecord{Name: data.Step}).
			SetAttempt(data.Attempt, ev.Timestamp)
	}
	return st.
		SetStep(data.Step, rec.
			SetStatus(api.StepSucceeded).
			SetResult(data.Result).
			SetLease("", emptyTime),
		).
		SetUpdatedAt(ev.Timestamp)
}

func stepFailed(
	st *api.ExecutionState, ev *timebox.Event, data api.StepFailedEvent,
) *api.ExecutionState {
	rec, ok := st.Steps[data.Step]
	if !ok {
		rec = (&api.StepRecord{Name: data.Step}).
			SetAttempt(data.Attempt, ev.Timestamp)
	}
	return st.
		SetStep(data.Step, rec.
			SetStatus(api.StepFailed).
			SetError(data.Error, data.NextAttemptAt).
			SetLease("", emptyTime),
		).
		SetUpdatedAt(ev.Timestamp)
}

func callbackRegistered(
	st *api.ExecutionState, ev *timebox.Event,
	data api.CallbackRegisteredEvent,
) *api.ExecutionState {
	return st.
		SetCallback(data.Label, &api.CallbackRef{
			Token:     data.Token,
			TimeoutAt: data.TimeoutAt,
		}).
		SetUpdatedAt(ev.Timestamp)
}
