package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kode4food/tollgate/pkg/api"
	"github.com/kode4food/tollgate/pkg/log"
)

// Start begins processing executions. Executions left active by a previous
// process are recovered before Start returns
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return ErrAlreadyStarted
	}
	if e.ctx.Err() != nil {
		return ErrEngineStopped
	}

	slog.Info("Engine starting",
		slog.String("owner", e.owner),
		slog.String("mode", string(e.config.Mode)))

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.scheduler.Run(e.ctx)
	}()

	settled, err := e.index.SubscribeSettled(e.ctx)
	if err != nil {
		e.cancel()
		return fmt.Errorf("%w: %w", ErrRecoverExecutions, err)
	}
	e.wg.Add(1)
	go e.settledLoop(settled)

	if err := e.RecoverExecutions(e.ctx); err != nil {
		e.cancel()
		return fmt.Errorf("%w: %w", ErrRecoverExecutions, err)
	}

	e.wg.Add(1)
	go e.sweepLoop()
	if e.archive != nil {
		e.archive.Start()
	}
	e.started = true
	return nil
}

// RecoverExecutions rebuilds local timers for every active execution and
// re-invokes the ones whose last invocation never finished
func (e *Engine) RecoverExecutions(ctx context.Context) error {
	ids, err := e.index.ActiveExecutions(ctx)
	if err != nil {
		return err
	}

	var errs []error
	for _, id := range ids {
		if err := e.recoverExecution(ctx, id); err != nil {
			slog.Error("Failed to recover execution",
				log.ExecutionID(id), log.Error(err))
			errs = append(errs, err)
		}
	}
	if len(ids) > 0 {
		slog.Info("Executions recovered", slog.Int("count", len(ids)))
	}
	return errors.Join(errs...)
}

func (e *Engine) recoverExecution(
	ctx context.Context, id api.ExecutionID,
) error {
	st, err := e.journal.GetExecution(ctx, id)
	if errors.Is(err, api.ErrExecutionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if st.IsTerminal() {
		return e.index.MarkTerminal(ctx, id, st.CompletedAt)
	}

	e.trackDeadline(st)
	settled, err := e.recoverCallbacks(ctx, st)
	if err != nil {
		return err
	}

	switch {
	case st.Status == api.ExecutionRunning:
		e.goInvoke(id, true)
	case settled:
		e.Wake(id)
	case !st.ResumeAt.IsZero():
		if err := e.index.ScheduleResume(ctx, id, st.ResumeAt); err != nil {
			return err
		}
		e.trackResume(id, st.ResumeAt)
	}
	return nil
}

// recoverCallbacks re-arms the expiry timers of awaiting callbacks and
// reports whether any callback settled while nobody was listening
func (e *Engine) recoverCallbacks(
	ctx context.Context, st *api.ExecutionState,
) (bool, error) {
	settled := false
	for _, ref := range st.Callbacks {
		rec, err := e.journal.GetCallback(ctx, ref.Token)
		if errors.Is(err, api.ErrUnknownToken) {
			continue
		}
		if err != nil {
			return false, err
		}
		if rec.IsTerminal() {
			settled = true
			continue
		}
		e.broker.track(st.ID, rec.Token, rec.TimeoutAt)
	}
	return settled, nil
}

func (e *Engine) goTracked(fn func(context.Context)) {
	if e.ctx.Err() != nil {
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn(e.ctx)
	}()
}
