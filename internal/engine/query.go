package engine

import (
	"context"

	"github.com/kode4food/timebox"

	"github.com/kode4food/tollgate/pkg/api"
)

// GetExecution returns the current state of an execution, including its
// step and callback records
func (e *Engine) GetExecution(
	ctx context.Context, id api.ExecutionID,
) (*api.ExecutionState, error) {
	return e.journal.GetExecution(ctx, id)
}

// GetCallback returns the record of a callback token
func (e *Engine) GetCallback(
	ctx context.Context, token api.Token,
) (*api.CallbackRecord, error) {
	return e.journal.GetCallback(ctx, token)
}

// GetExecutionEvents returns the journal events of an execution starting at
// fromSeq
func (e *Engine) GetExecutionEvents(
	ctx context.Context, id api.ExecutionID, fromSeq int64,
) ([]*timebox.Event, error) {
	if _, err := e.journal.GetExecution(ctx, id); err != nil {
		return nil, err
	}
	return e.journal.ExecutionEvents(ctx, id, fromSeq)
}

// ResolveCallback settles a callback with a payload on behalf of an
// external resolver. A callback that already settled is reported through
// Settled rather than as an error
func (e *Engine) ResolveCallback(
	ctx context.Context, token api.Token, payload api.Payload,
) (*Settled, error) {
	return e.broker.Resolve(ctx, token, payload)
}

// RejectCallback settles a callback with an error on behalf of an external
// resolver
func (e *Engine) RejectCallback(
	ctx context.Context, token api.Token, msg string,
) (*Settled, error) {
	return e.broker.Reject(ctx, token, msg)
}
