package scheduler_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kode4food/tollgate/internal/engine/scheduler"
)

func TestQueueKeyedOrderAndRemovePrefix(t *testing.T) {
	now := time.Date(2026, 2, 27, 12, 0, 0, 0, time.UTC)
	q := scheduler.NewQueue()
	noop := func() error { return nil }
	insert := func(key scheduler.Key, at time.Time) {
		q.Insert(&scheduler.Task{Key: key, At: at, Func: noop})
	}

	insert(scheduler.Key{"a"}, now.Add(3*time.Second))
	insert(scheduler.Key{"b"}, now.Add(2*time.Second))
	insert(scheduler.Key{"a"}, now.Add(time.Second))
	assert.Equal(t, 2, q.Len())

	next := q.Next()
	if assert.NotNil(t, next) {
		assert.Equal(t, "a", next.Key.String())
		assert.True(t, next.At.Equal(now.Add(time.Second)))
	}

	q.Remove(scheduler.Key{"a"})
	next = q.Next()
	if assert.NotNil(t, next) {
		assert.Equal(t, "b", next.Key.String())
	}

	insert(scheduler.Key{"execution", "e1", "resume"}, now)
	insert(scheduler.Key{"execution", "e1", "callback", "t1"}, now)
	insert(scheduler.Key{"execution", "e2", "resume"}, now)

	q.RemovePrefix(scheduler.Key{"execution", "e1"})
	assert.Equal(t, 2, q.Len())

	due := q.PopDue(now)
	if assert.Len(t, due, 1) {
		assert.Equal(t, "execution:e2:resume", due[0].Key.String())
	}
	assert.Equal(t, 1, q.Len())
}

func TestQueueUnkeyedAndInvalid(t *testing.T) {
	now := time.Date(2026, 2, 27, 12, 0, 0, 0, time.UTC)
	q := scheduler.NewQueue()
	noop := func() error { return nil }

	q.Insert(nil)
	q.Insert(&scheduler.Task{At: now})
	q.Insert(&scheduler.Task{Func: noop})
	assert.Equal(t, 0, q.Len())

	q.Insert(&scheduler.Task{At: now.Add(time.Second), Func: noop})
	q.Insert(&scheduler.Task{At: now, Func: noop})
	assert.Equal(t, 2, q.Len())

	assert.Empty(t, q.PopDue(now.Add(-time.Second)))
	assert.Len(t, q.PopDue(now), 1)
	assert.NotNil(t, q.Pop())
	assert.Nil(t, q.Pop())
	assert.Nil(t, q.Next())
}
