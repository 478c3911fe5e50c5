package journal

import (
	"context"
	"errors"

	"github.com/kode4food/timebox"

	"github.com/kode4food/tollgate/pkg/api"
	"github.com/kode4food/tollgate/pkg/events"
)

type (
	// Journal records execution and callback state in a timebox store
	Journal struct {
		executions *aggregate[*api.ExecutionState]
		callbacks  *aggregate[*api.CallbackRecord]
		observers  []Observer
	}

	// Observer is told about every committed change. Calls happen after the
	// commit and must not block
	Observer interface {
		ExecutionChanged(*api.ExecutionState)
		CallbackChanged(*api.CallbackRecord)
	}

	// ExecutionTx is the transaction of a command against an execution
	ExecutionTx = Tx[*api.ExecutionState]

	// CallbackTx is the transaction of a command against a callback
	CallbackTx = Tx[*api.CallbackRecord]
)

var (
	ErrExecutionTerminal = errors.New("execution is terminal")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// New creates a Journal over a timebox store
func New(store *timebox.Store, observers ...Observer) *Journal {
	return &Journal{
		executions: newAggregate(
			store, events.NewExecutionState, events.ExecutionAppliers,
		),
		callbacks: newAggregate(
			store, events.NewCallbackRecord, events.CallbackAppliers,
		),
		observers: observers,
	}
}

// Observe registers an additional observer. It must be called before the
// journal is shared between goroutines
func (j *Journal) Observe(o Observer) {
	j.observers = append(j.observers, o)
}

// SaveSnapshot persists a snapshot of an execution aggregate so the next
// load does not replay its full event history
func (j *Journal) SaveSnapshot(ctx context.Context, id api.ExecutionID) error {
	return j.executions.saveSnapshot(ctx, events.ExecutionKey(id))
}

// ExecutionEvents returns the raw event history of an execution starting
// from the specified sequence number
func (j *Journal) ExecutionEvents(
	ctx context.Context, id api.ExecutionID, fromSeq int64,
) ([]*timebox.Event, error) {
	return j.executions.store.GetEvents(
		ctx, events.ExecutionKey(id), fromSeq,
	)
}

// CallbackEvents returns the raw event history of a callback
func (j *Journal) CallbackEvents(
	ctx context.Context, token api.Token,
) ([]*timebox.Event, error) {
	return j.callbacks.store.GetEvents(ctx, events.CallbackKey(token), 0)
}

func (j *Journal) execExecution(
	ctx context.Context, id api.ExecutionID, cmd Command[*api.ExecutionState],
) (*api.ExecutionState, error) {
	return j.executions.exec(ctx, events.ExecutionKey(id), cmd)
}

func (j *Journal) readExecution(
	ctx context.Context, id api.ExecutionID,
) (*api.ExecutionState, error) {
	st, _, err := j.executions.load(ctx, events.ExecutionKey(id))
	return st, err
}

func (j *Journal) execCallback(
	ctx context.Context, token api.Token, cmd Command[*api.CallbackRecord],
) (*api.CallbackRecord, error) {
	return j.callbacks.exec(ctx, events.CallbackKey(token), cmd)
}

func (j *Journal) readCallback(
	ctx context.Context, token api.Token,
) (*api.CallbackRecord, error) {
	rec, _, err := j.callbacks.load(ctx, events.CallbackKey(token))
	return rec, err
}

func (j *Journal) notifyExecution(tx *ExecutionTx) {
	if len(j.observers) == 0 {
		return
	}
	tx.OnSuccess(func(st *api.ExecutionState) {
		for _, o := range j.observers {
			o.ExecutionChanged(st)
		}
	})
}

func (j *Journal) notifyCallback(tx *CallbackTx) {
	if len(j.observers) == 0 {
		return
	}
	tx.OnSuccess(func(rec *api.CallbackRecord) {
		for _, o := range j.observers {
			o.CallbackChanged(rec)
		}
	})
}
