package engine

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/kode4food/tollgate/pkg/api"
	"github.com/kode4food/tollgate/pkg/util/call"
)

type (
	// Program is a registered durable program. Run is replayed from the top
	// on every invocation, so everything it does outside of steps and
	// callbacks must be deterministic
	Program struct {
		Run     ProgramFunc
		Retry   *api.RetryPolicy
		Name    api.ProgramName
		Timeout time.Duration
	}

	// ProgramFunc is the body of a program
	ProgramFunc func(c *Context, input api.Payload) (api.Payload, error)
)

var (
	ErrProgramExists  = errors.New("program already registered")
	ErrUnknownProgram = errors.New("program not registered")
)

// Register adds a program to the engine. Executions can only be started or
// resumed for registered programs
func (e *Engine) Register(p *Program) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if _, loaded := e.programs.LoadOrStore(p.Name, p); loaded {
		return fmt.Errorf("%w: %s", ErrProgramExists, p.Name)
	}
	return nil
}

// Programs returns the names of every registered program, sorted
func (e *Engine) Programs() []api.ProgramName {
	var res []api.ProgramName
	e.programs.Range(func(k, _ any) bool {
		res = append(res, k.(api.ProgramName))
		return true
	})
	slices.Sort(res)
	return res
}

func (e *Engine) program(name api.ProgramName) (*Program, error) {
	p, ok := e.programs.Load(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProgram, name)
	}
	return p.(*Program), nil
}

func (e *Engine) retryPolicy(p *Program) api.RetryPolicy {
	if p.Retry != nil {
		return *p.Retry
	}
	return e.config.Retry
}

func (e *Engine) executionTimeout(p *Program) time.Duration {
	if p.Timeout > 0 {
		return p.Timeout
	}
	return e.config.ExecutionTimeout
}

// Validate checks that the program can be registered
func (p *Program) Validate() error {
	return call.Perform(
		call.WithArgs(api.ValidateName[api.ProgramName], "program", p.Name),
		p.validateBody,
		p.validateTimeout,
		p.validateRetry,
	)
}

func (p *Program) validateBody() error {
	if p.Run == nil {
		return api.ValidationError("program %q has no body", p.Name)
	}
	return nil
}

func (p *Program) validateTimeout() error {
	if p.Timeout < 0 {
		return api.ValidationError("program %q has negative timeout", p.Name)
	}
	return nil
}

func (p *Program) validateRetry() error {
	if p.Retry == nil {
		return nil
	}
	return p.Retry.Validate()
}
