package api_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kode4food/tollgate/pkg/api"
)

func TestExecutionSettersDoNotMutate(t *testing.T) {
	base := &api.ExecutionState{
		ID:     "e-1",
		Status: api.ExecutionRunning,
		Steps: map[api.StepName]*api.StepRecord{
			"a": {Name: "a", Status: api.StepSucceeded},
		},
	}

	next := base.
		SetStatus(api.ExecutionSuspended).
		SetStep("b", &api.StepRecord{Name: "b", Status: api.StepPending}).
		SetCallback("wait", &api.CallbackRef{Token: "t"})

	assert.Equal(t, api.ExecutionRunning, base.Status)
	assert.Len(t, base.Steps, 1)
	assert.Nil(t, base.Callbacks)

	assert.Equal(t, api.ExecutionSuspended, next.Status)
	assert.Len(t, next.Steps, 2)
	assert.Equal(t, api.Token("t"), next.Callbacks["wait"].Token)
}

func TestExecutionIsTerminal(t *testing.T) {
	for status, terminal := range map[api.ExecutionStatus]bool{
		api.ExecutionRunning:   false,
		api.ExecutionSuspended: false,
		api.ExecutionSucceeded: true,
		api.ExecutionFailed:    true,
		api.ExecutionTimedOut:  true,
	} {
		st := &api.ExecutionState{ID: "e", Status: status}
		assert.Equal(t, terminal, st.IsTerminal(), string(status))
	}
	assert.False(t, (&api.ExecutionState{}).Exists())
}

func TestStepRecordLease(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := (&api.StepRecord{Name: "s", Status: api.StepPending}).
		SetAttempt(1, now).
		SetLease("owner", now.Add(time.Minute))

	assert.False(t, rec.LeaseExpired(now))
	assert.True(t, rec.LeaseExpired(now.Add(time.Minute)))
	assert.False(t, rec.SetStatus(api.StepFailed).LeaseExpired(now.Add(time.Hour)))
}

func TestCallbackRecordOutcome(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := &api.CallbackRecord{
		Token: "t", Label: "approval", Status: api.CallbackAwaiting,
		TimeoutAt: at,
	}

	assert.False(t, rec.IsTerminal())
	assert.False(t, rec.Overdue(at.Add(-time.Nanosecond)))
	assert.True(t, rec.Overdue(at))
	assert.NoError(t, rec.Err())

	expired := rec.SetStatus(api.CallbackExpired)
	var timeout *api.TimeoutError
	assert.ErrorAs(t, expired.Err(), &timeout)
	assert.Equal(t, at, timeout.TimeoutAt)
	assert.False(t, expired.Overdue(at))

	failed := rec.SetStatus(api.CallbackFailed).SetError("nope")
	assert.ErrorIs(t, failed.Err(), api.ErrCallbackRejected)

	resolved := rec.SetStatus(api.CallbackResolved).
		SetPayload(api.NewApproval(true))
	assert.NoError(t, resolved.Err())
	assert.Equal(t, api.CallbackResolved, resolved.Resolution().Status)
}
