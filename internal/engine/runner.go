package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kode4food/tollgate/internal/config"
	"github.com/kode4food/tollgate/internal/journal"
	"github.com/kode4food/tollgate/pkg/api"
	"github.com/kode4food/tollgate/pkg/log"
)

type (
	// Runner executes named steps with at-most-once success semantics. A
	// succeeded step is never run again; an attempt interrupted by a crash
	// is run again once its lease lapses
	Runner struct {
		engine *Engine
		locks  *keyedMutex
	}

	// RunRequest describes one step invocation
	RunRequest struct {
		Work        Work
		ExecutionID api.ExecutionID
		Step        api.StepName
		Mode        config.Mode
		Policy      api.RetryPolicy
	}

	keyedMutex struct {
		locks map[string]*refMutex
		mu    sync.Mutex
	}

	refMutex struct {
		sync.Mutex
		refs int
	}

	leaseKeeper struct {
		done chan struct{}
		lost atomic.Bool
	}
)

// leaseRenewals is how many times a lease is renewed within its length
const leaseRenewals = 3

var ErrStepPanic = errors.New("step panicked")

func newRunner(e *Engine) *Runner {
	return &Runner{
		engine: e,
		locks:  &keyedMutex{locks: map[string]*refMutex{}},
	}
}

// Run returns the result of a step, running its work when no success is
// journaled. Concurrent calls for the same step in this process are
// serialized; a step leased by another process is waited on
func (r *Runner) Run(ctx context.Context, req RunRequest) (api.Payload, error) {
	key := string(req.ExecutionID) + "\x00" + string(req.Step)
	unlock := r.locks.lock(key)
	defer unlock()

	e := r.engine
	var floor time.Time
	for {
		// a timer may fire before the clock catches up with it
		now := latest(e.Now(), floor)
		claim, err := e.journal.ClaimStep(ctx, journal.ClaimRequest{
			ExecutionID: req.ExecutionID,
			Step:        req.Step,
			Owner:       e.owner,
			Lease:       e.config.StepLease,
			MaxAttempts: req.Policy.MaxAttempts,
			Now:         now,
		})
		if err != nil {
			return api.Payload{}, err
		}

		switch claim.Outcome {
		case journal.ClaimSucceeded:
			return *claim.Record.Result, nil

		case journal.ClaimExhausted:
			return api.Payload{}, &api.StepExhaustedError{
				Step:      req.Step,
				Attempts:  claim.Record.Attempts,
				LastError: claim.Record.Error,
			}

		case journal.ClaimBusy, journal.ClaimDelayed:
			until, reason := claim.Until, "retry backoff"
			if claim.Outcome == journal.ClaimBusy {
				reason = "lease held elsewhere"
				until = earliest(until, now.Add(e.config.PollInterval))
			}
			if err := r.wait(ctx, req, until, reason); err != nil {
				return api.Payload{}, err
			}
			floor = until

		case journal.ClaimAcquired:
			res, done, err := r.attempt(ctx, req, claim.Attempt)
			if done {
				return res, err
			}
		}
	}
}

func (r *Runner) attempt(
	ctx context.Context, req RunRequest, number int,
) (api.Payload, bool, error) {
	e := r.engine
	a := journal.StepAttempt{
		ExecutionID: req.ExecutionID,
		Step:        req.Step,
		Owner:       e.owner,
		Number:      number,
	}

	workCtx, cancel := context.WithCancel(ctx)
	lease := r.keepLease(workCtx, cancel, a)
	res, err := perform(workCtx, req.Work)
	cancel()
	<-lease.done
	if lease.lost.Load() {
		return r.leaseLost(a)
	}

	if err == nil {
		err = res.Validate()
	}
	if err == nil {
		_, err := e.journal.PutStepResult(ctx, a, res)
		if errors.Is(err, journal.ErrLeaseLost) {
			return r.leaseLost(a)
		}
		if err != nil {
			return api.Payload{}, true, err
		}
		return res, true, nil
	}

	if ctx.Err() != nil {
		return api.Payload{}, true, ctx.Err()
	}

	msg := err.Error()
	if req.Policy.CanRetry(number) {
		next := e.Now().Add(req.Policy.Delay(number))
		_, err := e.journal.PutStepFailure(ctx, a, msg, next)
		if errors.Is(err, journal.ErrLeaseLost) {
			return r.leaseLost(a)
		}
		if err != nil {
			return api.Payload{}, true, err
		}
		slog.Warn("Step attempt failed, retry scheduled",
			log.ExecutionID(req.ExecutionID),
			log.StepName(req.Step),
			log.Attempt(number),
			log.ErrorString(msg),
			slog.Time("next_attempt_at", next))
		return api.Payload{}, false, nil
	}

	_, err = e.journal.PutStepFailure(ctx, a, msg, time.Time{})
	if errors.Is(err, journal.ErrLeaseLost) {
		return r.leaseLost(a)
	}
	if err != nil {
		return api.Payload{}, true, err
	}
	slog.Error("Step exhausted its attempts",
		log.ExecutionID(req.ExecutionID),
		log.StepName(req.Step),
		log.Attempt(number),
		log.ErrorString(msg))
	return api.Payload{}, true, &api.StepExhaustedError{
		Step:      req.Step,
		Attempts:  number,
		LastError: msg,
	}
}

// keepLease renews the lease of a running attempt until ctx is done. When
// another owner has taken the step over, the attempt's context is cancelled
// and lost is set
func (r *Runner) keepLease(
	ctx context.Context, cancel context.CancelFunc, a journal.StepAttempt,
) *leaseKeeper {
	e := r.engine
	k := &leaseKeeper{done: make(chan struct{})}
	interval := max(e.config.StepLease/leaseRenewals, time.Millisecond)

	go func() {
		defer close(k.done)
		timer := e.makeTimer(interval)
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.Channel():
			}

			_, err := e.journal.RenewStep(ctx, a, e.Now(), e.config.StepLease)
			switch {
			case errors.Is(err, journal.ErrLeaseLost),
				errors.Is(err, journal.ErrExecutionTerminal):
				k.lost.Store(true)
				cancel()
				return
			case err != nil && ctx.Err() == nil:
				slog.Warn("Failed to renew step lease",
					log.ExecutionID(a.ExecutionID),
					log.StepName(a.Step),
					log.Error(err))
			}
			timer.Reset(interval)
		}
	}()
	return k
}

// leaseLost drops the outcome of an attempt that was taken over. The step
// is claimed again, which waits on or reuses whatever the new owner records
func (r *Runner) leaseLost(a journal.StepAttempt) (api.Payload, bool, error) {
	slog.Warn("Step lease lost, outcome discarded",
		log.ExecutionID(a.ExecutionID),
		log.StepName(a.Step),
		log.Attempt(a.Number))
	return api.Payload{}, false, nil
}

// wait blocks until the engine clock reaches until. In ephemeral mode a
// wait longer than the inline backoff bound ends the invocation instead
func (r *Runner) wait(
	ctx context.Context, req RunRequest, until time.Time, reason string,
) error {
	e := r.engine
	if req.Mode == config.ModeEphemeral &&
		until.Sub(e.Now()) > e.config.MaxInlineBackoff {
		return &SuspendedError{
			ResumeAt: until,
			Reason:   fmt.Sprintf("%s of step %q", reason, req.Step),
		}
	}
	return e.sleep(ctx, until)
}

func latest(a, b time.Time) time.Time {
	if a.Before(b) {
		return b
	}
	return a
}

func earliest(a, b time.Time) time.Time {
	if a.After(b) {
		return b
	}
	return a
}

func perform(ctx context.Context, work Work) (res api.Payload, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: %v", ErrStepPanic, rec)
		}
	}()
	return work(ctx)
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
