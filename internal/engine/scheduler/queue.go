package scheduler

import (
	"container/heap"
	"strings"
	"time"

	"github.com/kode4food/tollgate/pkg/util"
)

type (
	// Task is a function scheduled to run at a point in time. Tasks with a
	// Key replace any earlier task registered under the same Key
	Task struct {
		Func  TaskFunc
		At    time.Time
		Key   Key
		id    string
		index int
	}

	// Key identifies a scheduled task, for example ("callback", token).
	// Keys form a hierarchy, so every task under a prefix can be removed
	Key []string

	// Queue orders tasks by run time and indexes keyed tasks
	Queue struct {
		items taskItems
		byID  map[string]*Task
		byKey *util.PathTree[*Task]
	}

	taskItems []*Task
)

// NewQueue creates an empty task queue
func NewQueue() *Queue {
	return &Queue{
		byID:  map[string]*Task{},
		byKey: util.NewPathTree[*Task](),
	}
}

// String renders the key as a colon-joined path
func (k Key) String() string {
	return strings.Join(k, ":")
}

// Insert adds a task or reschedules the task sharing its Key
func (q *Queue) Insert(t *Task) {
	if t == nil || t.Func == nil || t.At.IsZero() {
		return
	}
	if len(t.Key) == 0 {
		heap.Push(&q.items, t)
		return
	}

	t.id = keyID(t.Key)
	if old, ok := q.byID[t.id]; ok {
		old.Func = t.Func
		old.At = t.At
		heap.Fix(&q.items, old.index)
		return
	}
	heap.Push(&q.items, t)
	q.byID[t.id] = t
	q.byKey.Insert(t.Key, t)
}

// Next returns the earliest task without removing it
func (q *Queue) Next() *Task {
	if len(q.items) == 0 {
		return nil
	}
	return q.items[0]
}

// Pop removes and returns the earliest task
func (q *Queue) Pop() *Task {
	if len(q.items) == 0 {
		return nil
	}
	t := heap.Pop(&q.items).(*Task)
	q.unindex(t)
	return t
}

// PopDue removes and returns every task whose time is at or before now, in
// run order
func (q *Queue) PopDue(now time.Time) []*Task {
	var res []*Task
	for len(q.items) > 0 && !q.items[0].At.After(now) {
		res = append(res, q.Pop())
	}
	return res
}

// Remove drops the task registered under key
func (q *Queue) Remove(key Key) {
	if len(key) == 0 {
		return
	}
	t, ok := q.byID[keyID(key)]
	if !ok {
		return
	}
	heap.Remove(&q.items, t.index)
	q.unindex(t)
}

// RemovePrefix drops every keyed task under prefix
func (q *Queue) RemovePrefix(prefix Key) {
	if len(prefix) == 0 {
		return
	}
	q.byKey.DetachWith(prefix, func(t *Task) {
		delete(q.byID, t.id)
		heap.Remove(&q.items, t.index)
	})
}

// Len returns the number of queued tasks
func (q *Queue) Len() int {
	return len(q.items)
}

func (q *Queue) unindex(t *Task) {
	if t.id == "" {
		return
	}
	delete(q.byID, t.id)
	q.byKey.Remove(t.Key)
}

func (h taskItems) Len() int {
	return len(h)
}

func (h taskItems) Less(i, j int) bool {
	return h[i].At.Before(h[j].At)
}

func (h taskItems) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskItems) Push(x any) {
	t := x.(*Task)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *taskItems) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	t.index = -1
	return t
}

func keyID(key Key) string {
	return strings.Join(key, "\x00")
}
