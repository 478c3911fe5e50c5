package engine

import (
	"sync"

	"github.com/kode4food/tollgate/internal/journal"
	"github.com/kode4food/tollgate/pkg/api"
)

type (
	// watchHub fans journal changes out to in-process subscribers. Execution
	// watchers receive the latest state; token waiters are woken once per
	// change of the callback
	watchHub struct {
		executions map[api.ExecutionID]map[uint64]chan *api.ExecutionState
		tokens     map[api.Token]map[uint64]chan struct{}
		next       uint64
		mu         sync.Mutex
	}
)

var _ journal.Observer = (*watchHub)(nil)

func newWatchHub() *watchHub {
	return &watchHub{
		executions: map[api.ExecutionID]map[uint64]chan *api.ExecutionState{},
		tokens:     map[api.Token]map[uint64]chan struct{}{},
	}
}

// Watch subscribes to the state changes of an execution committed by this
// process. Slow readers only see the most recent state. The returned func
// ends the subscription and closes the channel
func (e *Engine) Watch(
	id api.ExecutionID,
) (<-chan *api.ExecutionState, func()) {
	return e.watchers.watchExecution(id)
}

// ExecutionChanged implements journal.Observer
func (h *watchHub) ExecutionChanged(st *api.ExecutionState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.executions[st.ID] {
		replaceLatest(ch, st)
	}
}

// CallbackChanged implements journal.Observer
func (h *watchHub) CallbackChanged(rec *api.CallbackRecord) {
	h.notifyToken(rec.Token)
}

func (h *watchHub) watchExecution(
	id api.ExecutionID,
) (<-chan *api.ExecutionState, func()) {
	ch := make(chan *api.ExecutionState, 1)

	h.mu.Lock()
	h.next++
	sub := h.next
	subs, ok := h.executions[id]
	if !ok {
		subs = map[uint64]chan *api.ExecutionState{}
		h.executions[id] = subs
	}
	subs[sub] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(subs, sub)
			if len(subs) == 0 {
				delete(h.executions, id)
			}
			close(ch)
		})
	}
}

func (h *watchHub) awaitToken(token api.Token) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	h.mu.Lock()
	h.next++
	sub := h.next
	subs, ok := h.tokens[token]
	if !ok {
		subs = map[uint64]chan struct{}{}
		h.tokens[token] = subs
	}
	subs[sub] = ch
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(subs, sub)
		if len(subs) == 0 {
			delete(h.tokens, token)
		}
	}
}

func (h *watchHub) notifyToken(token api.Token) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.tokens[token] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func replaceLatest(ch chan *api.ExecutionState, st *api.ExecutionState) {
	for {
		select {
		case ch <- st:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
