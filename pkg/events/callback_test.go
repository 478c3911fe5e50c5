package events_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/kode4food/timebox"
	"github.com/stretchr/testify/assert"

	"github.com/kode4food/tollgate/pkg/api"
	"github.com/kode4food/tollgate/pkg/events"
)

func TestCallbackCreatedAndResolved(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	rec := applyCallback(t, events.NewCallbackRecord(),
		api.EventTypeCallbackCreated, api.CallbackCreatedEvent{
			Token:       "tok",
			ExecutionID: "e-1",
			Label:       "approval",
			At:          now,
			TimeoutAt:   now.Add(3 * time.Minute),
		},
	)
	assert.Equal(t, api.CallbackAwaiting, rec.Status)
	assert.Equal(t, api.ExecutionID("e-1"), rec.ExecutionID)
	assert.True(t, rec.CreatedAt.Equal(now))

	settled := now.Add(time.Minute)
	rec = applyCallback(t, rec, api.EventTypeCallbackResolved,
		api.CallbackResolvedEvent{
			Token: "tok", Payload: api.NewApproval(true), At: settled,
		},
	)
	assert.Equal(t, api.CallbackResolved, rec.Status)
	assert.True(t, rec.Payload.Equal(api.NewApproval(true)))
	assert.True(t, rec.SettledAt.Equal(settled))
}

func TestCallbackFailedAndExpired(t *testing.T) {
	base := &api.CallbackRecord{Token: "tok", Status: api.CallbackAwaiting}

	failed := applyCallback(t, base, api.EventTypeCallbackFailed,
		api.CallbackFailedEvent{Token: "tok", Error: "transport down"},
	)
	assert.Equal(t, api.CallbackFailed, failed.Status)
	assert.Equal(t, "transport down", failed.Error)

	expired := applyCallback(t, base, api.EventTypeCallbackExpired,
		api.CallbackExpiredEvent{Token: "tok"},
	)
	assert.Equal(t, api.CallbackExpired, expired.Status)
	assert.Equal(t, api.CallbackAwaiting, base.Status)
}

func applyCallback(
	t *testing.T, rec *api.CallbackRecord, typ api.EventType, data any,
) *api.CallbackRecord {
	t.Helper()
	raw, err := json.Marshal(data)
	assert.NoError(t, err)

	ev := &timebox.Event{
		Timestamp:   time.Now(),
		AggregateID: events.CallbackKey("tok"),
		Type:        timebox.EventType(typ),
		Data:        raw,
	}
	applier, ok := events.CallbackAppliers[ev.Type]
	assert.True(t, ok)
	return applier(rec, ev)
}
