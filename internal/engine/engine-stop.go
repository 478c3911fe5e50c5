package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/kode4food/tollgate/pkg/log"
)

const snapshotTimeout = 5 * time.Second

// Stop interrupts running invocations and waits for the engine's goroutines
// to finish. Invocations cut short are left running in the journal and are
// recovered by the next Start
func (e *Engine) Stop() error {
	if e.archive != nil {
		e.archive.Stop()
	}
	e.cancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(e.config.ShutdownTimeout):
		err = ErrShutdownTimeout
	}

	e.saveSnapshots()
	slog.Info("Engine stopped")
	return err
}

func (e *Engine) saveSnapshots() {
	ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
	defer cancel()

	ids, err := e.index.ActiveExecutions(ctx)
	if err != nil {
		slog.Error("Failed to list active executions", log.Error(err))
		return
	}
	saved := 0
	for _, id := range ids {
		if err := e.journal.SaveSnapshot(ctx, id); err != nil {
			slog.Warn("Failed to save execution snapshot",
				log.ExecutionID(id), log.Error(err))
			continue
		}
		saved++
	}
	if saved > 0 {
		slog.Info("Execution snapshots saved", slog.Int("count", saved))
	}
}
