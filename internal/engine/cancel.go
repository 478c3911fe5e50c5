package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kode4food/tollgate/pkg/api"
	"github.com/kode4food/tollgate/pkg/log"
)

// Cancel ends an execution as failed. Its awaiting callbacks are expired
// and its running invocation is interrupted; succeeded steps keep their
// results. Cancelling a finished execution yields ErrExecutionTerminal
func (e *Engine) Cancel(
	ctx context.Context, id api.ExecutionID,
) (*api.ExecutionState, error) {
	st, applied, err := e.abort(ctx, id, api.ExecutionFailed,
		api.ErrorTypeCancelled, api.ErrExecutionCancelled.Error(),
	)
	if err != nil {
		return nil, err
	}
	if !applied {
		return st, fmt.Errorf("%w: %s is %s",
			ErrExecutionTerminal, id, st.Status)
	}
	return st, nil
}

// timeoutExecution ends an execution whose deadline has passed
func (e *Engine) timeoutExecution(
	ctx context.Context, id api.ExecutionID,
) error {
	st, err := e.journal.GetExecution(ctx, id)
	if err != nil {
		return err
	}
	if st.IsTerminal() {
		return e.index.MarkTerminal(ctx, id, st.CompletedAt)
	}
	if st.Deadline.IsZero() || e.Now().Before(st.Deadline) {
		return nil
	}
	_, _, err = e.abort(ctx, id, api.ExecutionTimedOut,
		api.ErrorTypeTimeout, api.ErrExecutionTimedOut.Error(),
	)
	return err
}

func (e *Engine) abort(
	ctx context.Context, id api.ExecutionID, status api.ExecutionStatus,
	typ api.ErrorType, msg string,
) (*api.ExecutionState, bool, error) {
	st, applied, err := e.journal.FailExecution(ctx, id, status, typ, msg)
	if err != nil {
		return nil, false, err
	}
	if applied {
		e.interrupt(id)
		slog.Info("Execution aborted",
			log.ExecutionID(id),
			log.Status(status),
			log.ErrorString(msg))
	}
	return st, applied, e.terminated(ctx, st)
}
