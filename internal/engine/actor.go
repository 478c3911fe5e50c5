package engine

import (
	"context"
	"sync"
	"time"

	"github.com/kode4food/tollgate/pkg/api"
)

type (
	// executionActor serializes the invocations of one execution. It exits
	// after a short idle period and is recreated on demand
	executionActor struct {
		engine *Engine
		id     api.ExecutionID
		reqs   chan *invocation
		done   chan struct{}
		cancel context.CancelFunc
		mu     sync.Mutex
	}

	invocation struct {
		reply chan invokeResult
		force bool
	}

	invokeResult struct {
		state *api.ExecutionState
		err   error
	}
)

const actorIdleTimeout = 100 * time.Millisecond

// dispatch queues an invocation with the execution's actor, starting one
// when none is running
func (e *Engine) dispatch(
	ctx context.Context, id api.ExecutionID, inv *invocation,
) error {
	for {
		if e.ctx.Err() != nil {
			return ErrEngineStopped
		}
		a := e.actorFor(id)
		select {
		case a.reqs <- inv:
			return nil
		case <-a.done:
			// exited while idle; the next pass starts a fresh actor
		case <-ctx.Done():
			return ctx.Err()
		case <-e.ctx.Done():
			return ErrEngineStopped
		}
	}
}

// interrupt cancels the running invocation of an execution, if any
func (e *Engine) interrupt(id api.ExecutionID) {
	if a, ok := e.actors.Load(id); ok {
		a.(*executionActor).interrupt()
	}
}

func (e *Engine) actorFor(id api.ExecutionID) *executionActor {
	if a, ok := e.actors.Load(id); ok {
		return a.(*executionActor)
	}
	a := &executionActor{
		engine: e,
		id:     id,
		reqs:   make(chan *invocation),
		done:   make(chan struct{}),
	}
	if existing, loaded := e.actors.LoadOrStore(id, a); loaded {
		return existing.(*executionActor)
	}
	e.wg.Add(1)
	go a.run()
	return a
}

func (a *executionActor) run() {
	defer a.engine.wg.Done()
	defer close(a.done)
	defer a.engine.actors.CompareAndDelete(a.id, a)

	idleTimer := time.NewTimer(actorIdleTimeout)
	defer idleTimer.Stop()

	for {
		select {
		case inv := <-a.reqs:
			a.handle(inv)
			idleTimer.Reset(actorIdleTimeout)

		case <-idleTimer.C:
			select {
			case inv := <-a.reqs:
				a.handle(inv)
				idleTimer.Reset(actorIdleTimeout)
			default:
				return
			}

		case <-a.engine.ctx.Done():
			return
		}
	}
}

func (a *executionActor) handle(inv *invocation) {
	ctx, cancel := context.WithCancel(a.engine.ctx)
	defer cancel()
	a.begin(cancel)
	defer a.end()

	st, err := a.engine.runInvocation(ctx, a.id, inv.force)
	inv.reply <- invokeResult{state: st, err: err}
}

func (a *executionActor) begin(cancel context.CancelFunc) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cancel = cancel
}

func (a *executionActor) end() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cancel = nil
}

func (a *executionActor) interrupt() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		a.cancel()
	}
}
