package journal

import (
	"context"
	"errors"

	"github.com/kode4food/timebox"

	"github.com/kode4food/tollgate/pkg/api"
	"github.com/kode4food/tollgate/pkg/events"
)

type (
	// Tx wraps the aggregator of one journal command. Functions registered
	// with OnSuccess run with the committed state, and only when the
	// command's events were appended
	Tx[T any] struct {
		*timebox.Aggregator[T]
		onSuccess []func(T)
	}

	// Command inspects the current state of an aggregate and raises events
	// through the transaction. Returning an error aborts it
	Command[T any] func(T, *Tx[T]) error

	// aggregate runs commands through a timebox executor and reads state
	// straight from the store. The executor keeps a per-process projection
	// that only catches up on a version conflict, so commands are checked
	// against the stored sequence before they run
	aggregate[T any] struct {
		executor  *timebox.Executor[T]
		store     *timebox.Store
		construct func() T
		appliers  timebox.Appliers[T]
	}
)

// eventTypeRefresh marks an event that is raised only to bring a lagging
// projection up to date. It is never appended
const eventTypeRefresh timebox.EventType = "projection_refresh"

var ErrStaleProjection = errors.New("journal projection is behind the store")

// Raise enqueues an event on the aggregate
func (tx *Tx[T]) Raise(typ api.EventType, event any) error {
	return events.Raise(tx.Aggregator, typ, event)
}

// OnSuccess registers fn to run once the transaction is committed
func (tx *Tx[T]) OnSuccess(fn func(T)) {
	tx.onSuccess = append(tx.onSuccess, fn)
}

func newAggregate[T any](
	store *timebox.Store, cons func() T, apps timebox.Appliers[T],
) *aggregate[T] {
	return &aggregate[T]{
		executor:  timebox.NewExecutor(store, cons, apps),
		store:     store,
		construct: cons,
		appliers:  apps,
	}
}

// load builds the state of an aggregate from its stored snapshot and the
// events that follow it. The returned sequence is the next one to append
func (a *aggregate[T]) load(
	ctx context.Context, id timebox.AggregateID,
) (T, int64, error) {
	st := a.construct()
	snap, err := a.store.GetSnapshot(ctx, id, &st)
	if err != nil {
		var zero T
		return zero, 0, err
	}
	for _, ev := range snap.AdditionalEvents {
		if apply, ok := a.appliers[ev.Type]; ok {
			st = apply(st, ev)
		}
	}
	return st, snap.NextSequence + int64(len(snap.AdditionalEvents)), nil
}

// exec runs cmd against state at least as recent as the store at the time
// of the call
func (a *aggregate[T]) exec(
	ctx context.Context, id timebox.AggregateID, cmd Command[T],
) (T, error) {
	var zero T
	_, seq, err := a.load(ctx, id)
	if err != nil {
		return zero, err
	}

	var tx *Tx[T]
	st, err := a.executor.Exec(ctx, id,
		func(st T, ag *timebox.Aggregator[T]) error {
			tx = nil
			if ag.NextSequence() < seq {
				// appending at a sequence the store has passed always
				// conflicts, and the conflict refreshes the projection
				return timebox.Raise(ag, eventTypeRefresh, seq)
			}
			tx = &Tx[T]{Aggregator: ag}
			return cmd(st, tx)
		},
	)
	if err != nil {
		return zero, err
	}
	if tx == nil {
		return zero, ErrStaleProjection
	}
	for _, fn := range tx.onSuccess {
		fn(st)
	}
	return st, nil
}

func (a *aggregate[T]) saveSnapshot(
	ctx context.Context, id timebox.AggregateID,
) error {
	st, seq, err := a.load(ctx, id)
	if err != nil {
		return err
	}
	if seq == 0 {
		return nil
	}
	return a.store.PutSnapshot(ctx, id, st, seq)
}
