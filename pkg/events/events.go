package events

import (
	"github.com/kode4food/timebox"

	"github.com/kode4food/tollgate/pkg/api"
)

// MakeAppliers converts a table keyed by api.EventType into timebox appliers
func MakeAppliers[T any](
	app map[api.EventType]timebox.Applier[T],
) timebox.Appliers[T] {
	res := map[timebox.EventType]timebox.Applier[T]{}
	for et, fn := range app {
		res[timebox.EventType(et)] = fn
	}
	return res
}

// Raise enqueues an event of the given api.EventType on the aggregator
func Raise[T, E any](
	ag *timebox.Aggregator[T], eventType api.EventType, event E,
) error {
	return timebox.Raise(ag, timebox.EventType(eventType), event)
}
