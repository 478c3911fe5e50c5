package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kode4food/tollgate/internal/config"
	"github.com/kode4food/tollgate/internal/notify"
	"github.com/kode4food/tollgate/pkg/api"
	"github.com/kode4food/tollgate/pkg/log"
	"github.com/kode4food/tollgate/pkg/util"
)

type (
	// Context is handed to a program for the duration of one invocation.
	// It carries the invocation's cancellation and is the only way for the
	// program to reach the journal
	Context struct {
		context.Context
		engine    *Engine
		state     *api.ExecutionState
		program   *Program
		logger    *slog.Logger
		names     util.Set[string]
		suspended *SuspendedError
		mode      config.Mode
		mu        sync.Mutex
	}

	// Pending identifies a created callback that can be awaited
	Pending struct {
		TimeoutAt   time.Time
		Token       api.Token
		ExecutionID api.ExecutionID
		Label       api.Label
	}
)

var ErrDuplicateOperation = errors.New(
	"operation name used more than once in one run",
)

func newContext(
	ctx context.Context, e *Engine, st *api.ExecutionState, p *Program,
) *Context {
	return &Context{
		Context: ctx,
		engine:  e,
		state:   st,
		program: p,
		mode:    e.config.Mode,
		names:   util.Set[string]{},
		logger: slog.Default().With(
			log.ExecutionID(st.ID),
			log.Program(st.Program),
		),
	}
}

// ExecutionID returns the id of the running execution
func (c *Context) ExecutionID() api.ExecutionID {
	return c.state.ID
}

// Program returns the name of the running program
func (c *Context) Program() api.ProgramName {
	return c.state.Program
}

// Logger returns a logger tagged with the execution. Log output has no
// durability contract and is emitted again when the program replays
func (c *Context) Logger() *slog.Logger {
	return c.logger
}

// Notifier returns the engine's approval delivery collaborator
func (c *Context) Notifier() notify.Notifier {
	return c.engine.notifier
}

// CreateCallback mints a callback token for label that expires after
// timeout. On replay the token minted by the first run is returned
func (c *Context) CreateCallback(
	label api.Label, timeout time.Duration,
) (api.Token, *Pending, error) {
	if err := api.ValidateName("callback label", label); err != nil {
		return "", nil, err
	}
	if timeout <= 0 {
		return "", nil, api.ValidationError(
			"callback %q requires a positive timeout", label,
		)
	}
	if err := c.begin("callback", string(label)); err != nil {
		return "", nil, err
	}

	p, err := c.engine.broker.Create(c, c.state.ID, label, timeout)
	if err != nil {
		return "", nil, c.observe(err)
	}
	c.logger.Debug("Callback created",
		log.Label(label), log.Token(p.Token))
	return p.Token, p, nil
}

// Await returns the resolution of a pending callback. An expired callback
// yields a TimeoutError and a rejected one a CallbackRejectedError. In
// ephemeral mode an unsettled callback ends the invocation
func (c *Context) Await(p *Pending) (*api.Resolution, error) {
	if p == nil {
		return nil, api.ValidationError("await requires a pending callback")
	}
	if err := c.pending(); err != nil {
		return nil, err
	}
	res, err := c.engine.broker.Await(c, p, c.mode)
	return res, c.observe(err)
}

// Run executes a named step with raw payloads. See Step for the typed form
func (c *Context) Run(
	name api.StepName, work Work, opts ...StepOption,
) (api.Payload, error) {
	if err := api.ValidateName("step", name); err != nil {
		return api.Payload{}, err
	}
	if err := c.begin("step", string(name)); err != nil {
		return api.Payload{}, err
	}

	so := &stepOptions{policy: c.engine.retryPolicy(c.program)}
	for _, opt := range opts {
		opt(so)
	}
	if err := so.policy.Validate(); err != nil {
		return api.Payload{}, err
	}

	res, err := c.engine.runner.Run(c, RunRequest{
		ExecutionID: c.state.ID,
		Step:        name,
		Work:        work,
		Policy:      so.policy,
		Mode:        c.mode,
	})
	return res, c.observe(err)
}

func (c *Context) begin(kind, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.suspended != nil {
		return c.suspended
	}
	key := kind + ":" + name
	if c.names.Contains(key) {
		return fmt.Errorf("%w: %w: %s %q",
			api.ErrValidation, ErrDuplicateOperation, kind, name)
	}
	c.names.Add(key)
	return nil
}

func (c *Context) pending() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.suspended != nil {
		return c.suspended
	}
	return nil
}

func (c *Context) observe(err error) error {
	if s, ok := asSuspended(err); ok {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.suspended == nil {
			c.suspended = s
		}
		return c.suspended
	}
	return err
}

func (c *Context) suspension() *SuspendedError {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.suspended
}
