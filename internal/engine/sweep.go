package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/kode4food/tollgate/pkg/api"
	"github.com/kode4food/tollgate/pkg/log"
)

const sweepBatchSize = 100

// Sweep performs one pass over the index: it expires overdue callbacks,
// times out executions past their deadline, and wakes executions whose
// resume time has arrived. The sweep is authoritative; local timers only
// make it happen sooner
func (e *Engine) Sweep(ctx context.Context) error {
	now := e.Now()
	return errors.Join(
		e.sweepCallbacks(ctx, now),
		e.sweepDeadlines(ctx, now),
		e.sweepResumes(ctx, now),
	)
}

func (e *Engine) sweepCallbacks(ctx context.Context, now time.Time) error {
	tokens, err := e.index.DueCallbacks(ctx, now, sweepBatchSize)
	if err != nil {
		return err
	}

	var errs []error
	for _, token := range tokens {
		rec, applied, err := e.broker.Expire(ctx, token)
		switch {
		case errors.Is(err, api.ErrUnknownToken):
			// the record was never minted; a replay adds the entry back
			errs = append(errs, e.index.RemoveCallbackDeadline(ctx, token))
		case err != nil:
			errs = append(errs, err)
		case applied:
			slog.Info("Callback expired", log.Token(token),
				log.ExecutionID(rec.ExecutionID))
		case rec.IsTerminal():
			errs = append(errs, e.index.RemoveCallbackDeadline(ctx, token))
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) sweepDeadlines(ctx context.Context, now time.Time) error {
	ids, err := e.index.ExpiredExecutions(ctx, now, sweepBatchSize)
	if err != nil {
		return err
	}

	var errs []error
	for _, id := range ids {
		err := e.timeoutExecution(ctx, id)
		if errors.Is(err, api.ErrExecutionNotFound) {
			continue
		}
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (e *Engine) sweepResumes(ctx context.Context, now time.Time) error {
	ids, err := e.index.DueResumes(ctx, now, sweepBatchSize)
	if err != nil {
		return err
	}

	var errs []error
	for _, id := range ids {
		if err := e.index.ClearResume(ctx, id); err != nil {
			errs = append(errs, err)
			continue
		}
		e.Wake(id)
	}
	return errors.Join(errs...)
}

func (e *Engine) sweepLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			if err := e.Sweep(e.ctx); err != nil && e.ctx.Err() == nil {
				slog.Warn("Sweep incomplete", log.Error(err))
			}
		}
	}
}

// settledLoop reacts to settlements announced by any process
func (e *Engine) settledLoop(tokens <-chan api.Token) {
	defer e.wg.Done()

	for token := range tokens {
		e.onSettled(token)
	}
}

func (e *Engine) onSettled(token api.Token) {
	e.watchers.notifyToken(token)
	rec, err := e.journal.GetCallback(e.ctx, token)
	if err != nil {
		if e.ctx.Err() == nil {
			slog.Warn("Failed to read settled callback",
				log.Token(token), log.Error(err))
		}
		return
	}
	e.Wake(rec.ExecutionID)
}
