package events

import (
	"github.com/kode4food/timebox"

	"github.com/kode4food/tollgate/pkg/api"
)

const CallbackPrefix = "callback"

// CallbackAppliers contains the event applier functions for callback events
var CallbackAppliers = makeCallbackAppliers()

// NewCallbackRecord creates an empty callback record
func NewCallbackRecord() *api.CallbackRecord {
	return &api.CallbackRecord{}
}

// CallbackKey returns the aggregate ID for a callback token
func CallbackKey[T ~string](token T) timebox.AggregateID {
	return timebox.NewAggregateID(CallbackPrefix, timebox.ID(token))
}

// IsCallbackEvent returns true if the event belongs to a callback
func IsCallbackEvent(ev *timebox.Event) bool {
	return len(ev.AggregateID) >= 2 && ev.AggregateID[0] == CallbackPrefix
}

func makeCallbackAppliers() timebox.Appliers[*api.CallbackRecord] {
	return MakeAppliers(map[api.EventType]timebox.Applier[*api.CallbackRecord]{
		api.EventTypeCallbackCreated:  timebox.MakeApplier(callbackCreated),
		api.EventTypeCallbackResolved: timebox.MakeApplier(callbackResolved),
		api.EventTypeCallbackFailed:   timebox.MakeApplier(callbackFailed),
		api.EventTypeCallbackExpired:  timebox.MakeApplier(callbackExpired),
	})
}

func callbackCreated(
	_ *api.CallbackRecord, _ *timebox.Event, data api.CallbackCreatedEvent,
) *api.CallbackRecord {
	return &api.CallbackRecord{
		Token:       data.Token,
		ExecutionID: data.ExecutionID,
		Label:       data.Label,
		Status:      api.CallbackAwaiting,
		CreatedAt:   data.At,
		TimeoutAt:   data.TimeoutAt,
	}
}

func callbackResolved(
	rec *api.CallbackRecord, _ *timebox.Event, data api.CallbackResolvedEvent,
) *api.CallbackRecord {
	return rec.
		SetStatus(api.CallbackResolved).
		SetPayload(data.Payload).
		SetSettledAt(data.At)
}

func callbackFailed(
	rec *api.CallbackRecord, _ *timebox.Event, data api.CallbackFailedEvent,
) *api.CallbackRecord {
	return rec.
		SetStatus(api.CallbackFailed).
		SetError(data.Error).
		SetSettledAt(data.At)
}

func callbackExpired(
	rec *api.CallbackRecord, _ *timebox.Event, data api.CallbackExpiredEvent,
) *api.CallbackRecord {
	return rec.
		SetStatus(api.CallbackExpired).
		SetError(data.Reason).
		SetSettledAt(data.At)
}
