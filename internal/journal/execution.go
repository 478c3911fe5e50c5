package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/kode4food/tollgate/pkg/api"
)

// StartExecution records a new execution. When the execution already exists
// its current state is returned untouched and created is false
func (j *Journal) StartExecution(
	ctx context.Context, ev api.ExecutionStartedEvent,
) (st *api.ExecutionState, created bool, err error) {
	if err := api.ValidateName("execution id", ev.ExecutionID); err != nil {
		return nil, false, err
	}
	if err := api.ValidateName("program", ev.Program); err != nil {
		return nil, false, err
	}

	cmd := func(st *api.ExecutionState, tx *ExecutionTx) error {
		if st.Exists() {
			return nil
		}
		if err := tx.Raise(api.EventTypeExecutionStarted, ev); err != nil {
			return err
		}
		tx.OnSuccess(func(*api.ExecutionState) {
			created = true
		})
		j.notifyExecution(tx)
		return nil
	}

	st, err = j.execExecution(ctx, ev.ExecutionID, cmd)
	if err != nil {
		return nil, false, err
	}
	return st, created, nil
}

// GetExecution returns the current state of an execution as stored,
// including changes committed by other processes
func (j *Journal) GetExecution(
	ctx context.Context, id api.ExecutionID,
) (*api.ExecutionState, error) {
	st, err := j.readExecution(ctx, id)
	if err != nil {
		return nil, err
	}
	if !st.Exists() {
		return nil, fmt.Errorf("%w: %s", api.ErrExecutionNotFound, id)
	}
	return st, nil
}

// ResumeExecution moves a suspended execution back to running. A running
// execution is left as is and resumed is false. Terminal executions yield
// ErrExecutionTerminal
func (j *Journal) ResumeExecution(
	ctx context.Context, id api.ExecutionID,
) (st *api.ExecutionState, resumed bool, err error) {
	return j.transitionExecution(ctx, id, api.ExecutionRunning,
		func(tx *ExecutionTx) error {
			return tx.Raise(api.EventTypeExecutionResumed,
				api.ExecutionResumedEvent{ExecutionID: id},
			)
		},
	)
}

// SuspendExecution records that the current invocation ended at an
// unresolved operation. A zero resumeAt means only a callback settlement
// can wake the execution
func (j *Journal) SuspendExecution(
	ctx context.Context, id api.ExecutionID, resumeAt time.Time, reason string,
) (*api.ExecutionState, error) {
	st, _, err := j.transitionExecution(ctx, id, api.ExecutionSuspended,
		func(tx *ExecutionTx) error {
			return tx.Raise(api.EventTypeExecutionSuspended,
				api.ExecutionSuspendedEvent{
					ExecutionID: id,
					ResumeAt:    resumeAt,
					Reason:      reason,
				},
			)
		},
	)
	return st, err
}

// CompleteExecution records the result of a program that returned normally
func (j *Journal) CompleteExecution(
	ctx context.Context, id api.ExecutionID, result api.Payload,
) (*api.ExecutionState, error) {
	st, _, err := j.transitionExecution(ctx, id, api.ExecutionSucceeded,
		func(tx *ExecutionTx) error {
			return tx.Raise(api.EventTypeExecutionSucceeded,
				api.ExecutionSucceededEvent{
					ExecutionID: id,
					Result:      result,
				},
			)
		},
	)
	return st, err
}

// FailExecution records the terminal failure of an execution. When the
// execution is already terminal nothing is written and applied is false
func (j *Journal) FailExecution(
	ctx context.Context, id api.ExecutionID, status api.ExecutionStatus,
	typ api.ErrorType, msg string,
) (st *api.ExecutionState, applied bool, err error) {
	if status != api.ExecutionFailed && status != api.ExecutionTimedOut {
		return nil, false, fmt.Errorf("%w: %s", ErrInvalidTransition, status)
	}

	cmd := func(st *api.ExecutionState, tx *ExecutionTx) error {
		if !st.Exists() {
			return fmt.Errorf("%w: %s", api.ErrExecutionNotFound, id)
		}
		if st.IsTerminal() {
			return nil
		}
		if err := tx.Raise(api.EventTypeExecutionFailed,
			api.ExecutionFailedEvent{
				ExecutionID: id,
				Status:      status,
				ErrorType:   typ,
				Error:       msg,
			},
		); err != nil {
			return err
		}
		tx.OnSuccess(func(*api.ExecutionState) {
			applied = true
		})
		j.notifyExecution(tx)
		return nil
	}

	st, err = j.execExecution(ctx, id, cmd)
	if err != nil {
		return nil, false, err
	}
	return st, applied, nil
}

// ArchiveExecution marks a terminal execution as copied to location
func (j *Journal) ArchiveExecution(
	ctx context.Context, id api.ExecutionID, location string,
) (*api.ExecutionState, error) {
	cmd := func(st *api.ExecutionState, tx *ExecutionTx) error {
		if !st.Exists() {
			return fmt.Errorf("%w: %s", api.ErrExecutionNotFound, id)
		}
		if !st.IsTerminal() {
			return fmt.Errorf("%w: %s is %s",
				ErrInvalidTransition, id, st.Status)
		}
		if st.Archive != "" {
			return nil
		}
		if err := tx.Raise(api.EventTypeExecutionArchived,
			api.ExecutionArchivedEvent{
				ExecutionID: id,
				Location:    location,
			},
		); err != nil {
			return err
		}
		j.notifyExecution(tx)
		return nil
	}
	return j.execExecution(ctx, id, cmd)
}

// RegisterCallback binds label to token within the execution. The first
// registration of a label wins; the returned reference holds the token that
// is now in effect, which may differ from the one offered
func (j *Journal) RegisterCallback(
	ctx context.Context, id api.ExecutionID, label api.Label, token api.Token,
	timeoutAt time.Time,
) (*api.CallbackRef, error) {
	cmd := func(st *api.ExecutionState, tx *ExecutionTx) error {
		if !st.Exists() {
			return fmt.Errorf("%w: %s", api.ErrExecutionNotFound, id)
		}
		if st.IsTerminal() {
			return fmt.Errorf("%w: %s", ErrExecutionTerminal, id)
		}
		if _, ok := st.Callbacks[label]; ok {
			return nil
		}
		if err := tx.Raise(api.EventTypeCallbackRegistered,
			api.CallbackRegisteredEvent{
				ExecutionID: id,
				Label:       label,
				Token:       token,
				TimeoutAt:   timeoutAt,
			},
		); err != nil {
			return err
		}
		j.notifyExecution(tx)
		return nil
	}

	st, err := j.execExecution(ctx, id, cmd)
	if err != nil {
		return nil, err
	}
	return st.Callbacks[label], nil
}

func (j *Journal) transitionExecution(
	ctx context.Context, id api.ExecutionID, to api.ExecutionStatus,
	raise func(*ExecutionTx) error,
) (st *api.ExecutionState, applied bool, err error) {
	cmd := func(st *api.ExecutionState, tx *ExecutionTx) error {
		if !st.Exists() {
			return fmt.Errorf("%w: %s", api.ErrExecutionNotFound, id)
		}
		if st.IsTerminal() {
			return fmt.Errorf("%w: %s is %s",
				ErrExecutionTerminal, id, st.Status)
		}
		if st.Status == to {
			return nil
		}
		if !executionTransitions.CanTransition(st.Status, to) {
			return fmt.Errorf("%w: %s -> %s",
				ErrInvalidTransition, st.Status, to)
		}
		if err := raise(tx); err != nil {
			return err
		}
		tx.OnSuccess(func(*api.ExecutionState) {
			applied = true
		})
		j.notifyExecution(tx)
		return nil
	}

	st, err = j.execExecution(ctx, id, cmd)
	if err != nil {
		return nil, false, err
	}
	return st, applied, nil
}
