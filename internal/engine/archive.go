package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/kode4food/tollgate/internal/archive"
	"github.com/kode4food/tollgate/pkg/api"
	"github.com/kode4food/tollgate/pkg/log"
)

type (
	// Archiver stores the archived form of a finished execution and returns
	// the location it was written to
	Archiver interface {
		Archive(context.Context, *archive.Record) (string, error)
	}

	// ArchiveWorker copies terminal executions past the retention period
	// to the Archiver and marks them archived in the journal
	ArchiveWorker struct {
		engine   *Engine
		archiver Archiver
		ctx      context.Context
		cancel   context.CancelFunc
		wg       sync.WaitGroup
	}
)

const archiveBatchSize = 100

// NewArchiveWorker creates a worker that periodically archives executions
// that finished more than the retention period ago
func NewArchiveWorker(e *Engine, a Archiver) *ArchiveWorker {
	ctx, cancel := context.WithCancel(context.Background())
	return &ArchiveWorker{
		engine:   e,
		archiver: a,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins the archiving loop
func (w *ArchiveWorker) Start() {
	w.wg.Add(1)
	go w.run()
}

// Stop gracefully shuts down the archiving loop
func (w *ArchiveWorker) Stop() {
	w.cancel()
	w.wg.Wait()
}

// ArchiveDue archives one batch of executions whose retention period has
// passed and returns how many were archived
func (w *ArchiveWorker) ArchiveDue(ctx context.Context) (int, error) {
	e := w.engine
	cutoff := e.Now().Add(-e.config.RetentionPeriod)
	ids, err := e.index.TerminalBefore(ctx, cutoff, archiveBatchSize)
	if err != nil {
		return 0, err
	}

	count := 0
	var errs []error
	for _, id := range ids {
		if err := w.archiveExecution(ctx, id); err != nil {
			slog.Warn("Failed to archive execution",
				log.ExecutionID(id), log.Error(err))
			errs = append(errs, err)
			continue
		}
		count++
	}
	return count, errors.Join(errs...)
}

func (w *ArchiveWorker) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.engine.config.ArchiveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			if n, _ := w.ArchiveDue(w.ctx); n > 0 {
				slog.Info("Executions archived", slog.Int("count", n))
			}
		}
	}
}

func (w *ArchiveWorker) archiveExecution(
	ctx context.Context, id api.ExecutionID,
) error {
	e := w.engine
	st, err := e.journal.GetExecution(ctx, id)
	if errors.Is(err, api.ErrExecutionNotFound) {
		return e.index.RemoveTerminal(ctx, id)
	}
	if err != nil {
		return err
	}

	if st.Archive == "" {
		rec, err := w.buildRecord(ctx, st)
		if err != nil {
			return err
		}
		location, err := w.archiver.Archive(ctx, rec)
		if err != nil {
			return err
		}
		if _, err := e.journal.ArchiveExecution(
			ctx, id, location,
		); err != nil {
			return err
		}
		slog.Info("Execution archived",
			log.ExecutionID(id), slog.String("location", location))
	}
	return e.index.RemoveTerminal(ctx, id)
}

func (w *ArchiveWorker) buildRecord(
	ctx context.Context, st *api.ExecutionState,
) (*archive.Record, error) {
	e := w.engine
	evs, err := e.journal.ExecutionEvents(ctx, st.ID, 0)
	if err != nil {
		return nil, err
	}

	rec := &archive.Record{
		ArchivedAt: e.Now(),
		Execution:  st,
		Events:     evs,
	}
	for _, ref := range st.Callbacks {
		cb, err := e.journal.GetCallback(ctx, ref.Token)
		if errors.Is(err, api.ErrUnknownToken) {
			continue
		}
		if err != nil {
			return nil, err
		}
		cbEvents, err := e.journal.CallbackEvents(ctx, ref.Token)
		if err != nil {
			return nil, err
		}
		rec.Callbacks = append(rec.Callbacks, cb)
		rec.Events = append(rec.Events, cbEvents...)
	}
	return rec, nil
}

// ArchiveDue runs one archiving pass immediately. It is a no-op when the
// engine has no Archiver
func (e *Engine) ArchiveDue(ctx context.Context) (int, error) {
	if e.archive == nil {
		return 0, nil
	}
	return e.archive.ArchiveDue(ctx)
}
