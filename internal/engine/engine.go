package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kode4food/timebox"

	"github.com/kode4food/tollgate/internal/config"
	"github.com/kode4food/tollgate/internal/engine/scheduler"
	"github.com/kode4food/tollgate/internal/journal"
	"github.com/kode4food/tollgate/internal/notify"
)

type (
	// Engine drives program executions against the journal
	Engine struct {
		ctx       context.Context
		cancel    context.CancelFunc
		config    *config.Config
		journal   *journal.Journal
		index     *journal.Index
		notifier  notify.Notifier
		archiver  Archiver
		scheduler *scheduler.Scheduler
		clock     scheduler.Clock
		makeTimer scheduler.TimerConstructor
		runner    *Runner
		broker    *Broker
		watchers  *watchHub
		programs  sync.Map // map[api.ProgramName]*Program
		actors    sync.Map // map[api.ExecutionID]*executionActor
		archive   *ArchiveWorker
		owner     string
		wg        sync.WaitGroup
		started   bool
		mu        sync.Mutex
	}

	// Dependencies holds the collaborators an Engine is built from. Clock
	// and TimerConstructor default to the system implementations, Notifier
	// defaults to logging, and a nil Archiver disables retention archival
	Dependencies struct {
		Store            *timebox.Store
		Index            *journal.Index
		Notifier         notify.Notifier
		Archiver         Archiver
		Clock            scheduler.Clock
		TimerConstructor scheduler.TimerConstructor
	}
)

var (
	ErrMissingDependency = errors.New("missing engine dependency")
	ErrInvalidConfig     = errors.New("invalid engine configuration")
	ErrShutdownTimeout   = errors.New("shutdown timeout exceeded")
	ErrEngineStopped     = errors.New("engine stopped")
	ErrAlreadyStarted    = errors.New("engine already started")
	ErrRecoverExecutions = errors.New("failed to recover executions")

	// ErrExecutionTerminal is reported when an operation targets an
	// execution that has already finished
	ErrExecutionTerminal = journal.ErrExecutionTerminal
)

// New creates an engine from its configuration and dependencies
func New(cfg *config.Config, deps Dependencies) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("%w: store", ErrMissingDependency)
	}
	if deps.Index == nil {
		return nil, fmt.Errorf("%w: index", ErrMissingDependency)
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.TimerConstructor == nil {
		deps.TimerConstructor = scheduler.NewTimer
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.NewLogNotifier(nil)
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		ctx:       ctx,
		cancel:    cancel,
		config:    cfg,
		index:     deps.Index,
		notifier:  deps.Notifier,
		archiver:  deps.Archiver,
		clock:     deps.Clock,
		makeTimer: deps.TimerConstructor,
		scheduler: scheduler.New(deps.Clock, deps.TimerConstructor),
		watchers:  newWatchHub(),
		owner:     uuid.NewString(),
	}
	e.journal = journal.New(deps.Store, e.watchers)
	e.runner = newRunner(e)
	e.broker = newBroker(e)
	if e.archiver != nil {
		e.archive = NewArchiveWorker(e, e.archiver)
	}
	return e, nil
}

// Now returns the current time from the engine's configured clock
func (e *Engine) Now() time.Time {
	return e.clock()
}

// Owner identifies this engine instance in step leases
func (e *Engine) Owner() string {
	return e.owner
}

// Notifier returns the collaborator used to deliver approval requests
func (e *Engine) Notifier() notify.Notifier {
	return e.notifier
}

// Config returns the engine configuration
func (e *Engine) Config() *config.Config {
	return e.config
}

// Health checks connectivity with the journal's Redis
func (e *Engine) Health(ctx context.Context) error {
	return e.index.Ping(ctx)
}

// sleep blocks until the engine clock reaches until or ctx is done. The
// wait is driven by a timer from the configured constructor
func (e *Engine) sleep(ctx context.Context, until time.Time) error {
	delay := until.Sub(e.Now())
	if delay <= 0 {
		return ctx.Err()
	}
	timer := e.makeTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.Channel():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
