package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kode4food/tollgate/internal/engine/scheduler"
	"github.com/kode4food/tollgate/pkg/api"
	"github.com/kode4food/tollgate/pkg/log"
)

// StartRequest names the program to run and its input. A blank ExecutionID
// is replaced by a freshly minted one
type StartRequest struct {
	Input       api.Payload
	ExecutionID api.ExecutionID
	Program     api.ProgramName
}

var ErrProgramPanic = errors.New("program panicked")

var nullInput = api.Payload{Schema: api.SchemaJSON, Data: []byte("null")}

// StartExecution records a new execution and invokes it in the background.
// Starting an id that already exists for the same program returns its
// current state
func (e *Engine) StartExecution(
	ctx context.Context, req StartRequest,
) (*api.ExecutionState, error) {
	st, err := e.startExecution(ctx, req)
	if err != nil {
		return nil, err
	}
	if !st.IsTerminal() {
		e.goInvoke(st.ID, true)
	}
	return st, nil
}

// RunExecution records a new execution and returns its state once the first
// invocation ends, either at a terminal status or at a suspension
func (e *Engine) RunExecution(
	ctx context.Context, req StartRequest,
) (*api.ExecutionState, error) {
	st, err := e.startExecution(ctx, req)
	if err != nil {
		return nil, err
	}
	if st.IsTerminal() {
		return st, nil
	}
	return e.invoke(ctx, st.ID, true)
}

// Resume invokes an execution again and returns its state once the
// invocation ends. Terminal executions are returned untouched
func (e *Engine) Resume(
	ctx context.Context, id api.ExecutionID,
) (*api.ExecutionState, error) {
	return e.invoke(ctx, id, true)
}

// Wake asks for a suspended execution to be invoked again. It returns
// immediately; the invocation is skipped when the execution is no longer
// suspended by then
func (e *Engine) Wake(id api.ExecutionID) {
	e.goInvoke(id, false)
}

func (e *Engine) goInvoke(id api.ExecutionID, force bool) {
	e.goTracked(func(ctx context.Context) {
		_, err := e.invoke(ctx, id, force)
		if err != nil && !errors.Is(err, ErrEngineStopped) &&
			!errors.Is(err, context.Canceled) {
			slog.Warn("Failed to invoke execution",
				log.ExecutionID(id), log.Error(err))
		}
	})
}

func (e *Engine) startExecution(
	ctx context.Context, req StartRequest,
) (*api.ExecutionState, error) {
	if e.ctx.Err() != nil {
		return nil, ErrEngineStopped
	}
	p, err := e.program(req.Program)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", api.ErrValidation, err)
	}
	id := req.ExecutionID
	if id == "" {
		id = api.NewExecutionID()
	}
	input := req.Input
	if input.IsZero() {
		input = nullInput
	}
	if err := input.Validate(); err != nil {
		return nil, err
	}

	st, created, err := e.journal.StartExecution(ctx,
		api.ExecutionStartedEvent{
			ExecutionID: id,
			Program:     p.Name,
			Input:       input,
			Deadline:    e.Now().Add(e.executionTimeout(p)),
		},
	)
	if err != nil {
		return nil, err
	}
	if !created {
		if st.Program != p.Name {
			return nil, fmt.Errorf("%w: %s runs %s",
				api.ErrExecutionExists, id, st.Program)
		}
		return st, nil
	}

	if err := e.index.AddActive(ctx, id, st.Deadline); err != nil {
		return nil, err
	}
	e.trackDeadline(st)
	slog.Info("Execution started",
		log.ExecutionID(id), log.Program(p.Name))
	return st, nil
}

// invoke hands an invocation to the execution's actor and waits for its
// outcome. Unless force is set, only a suspended execution is run
func (e *Engine) invoke(
	ctx context.Context, id api.ExecutionID, force bool,
) (*api.ExecutionState, error) {
	inv := &invocation{
		force: force,
		reply: make(chan invokeResult, 1),
	}
	if err := e.dispatch(ctx, id, inv); err != nil {
		return nil, err
	}
	select {
	case res := <-inv.reply:
		return res.state, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-e.ctx.Done():
		return nil, ErrEngineStopped
	}
}

// runInvocation performs one replay of the program from the top
func (e *Engine) runInvocation(
	ctx context.Context, id api.ExecutionID, force bool,
) (*api.ExecutionState, error) {
	st, err := e.journal.GetExecution(ctx, id)
	if err != nil {
		return nil, err
	}
	if st.IsTerminal() {
		return st, nil
	}
	p, err := e.program(st.Program)
	if err != nil {
		return nil, err
	}

	st, resumed, err := e.journal.ResumeExecution(ctx, id)
	if errors.Is(err, ErrExecutionTerminal) {
		return e.journal.GetExecution(ctx, id)
	}
	if err != nil {
		return nil, err
	}
	if !resumed && !force {
		return st, nil
	}
	if resumed {
		e.clearResume(ctx, id)
	}

	c := newContext(ctx, e, st, p)
	res, err := runProgram(c, p, st.Input)
	return e.finish(ctx, c, res, err)
}

func (e *Engine) finish(
	ctx context.Context, c *Context, res api.Payload, err error,
) (*api.ExecutionState, error) {
	id := c.ExecutionID()
	s := c.suspension()
	if s == nil {
		s, _ = asSuspended(err)
	}
	if s != nil {
		return e.suspend(ctx, id, s)
	}

	if ctx.Err() != nil {
		// stopped or cancelled; whoever interrupted the invocation owns
		// the outcome
		return e.journal.GetExecution(context.Background(), id)
	}

	if err == nil {
		if res.IsZero() {
			res = nullInput
		}
		st, err := e.journal.CompleteExecution(ctx, id, res)
		if errors.Is(err, ErrExecutionTerminal) {
			return e.journal.GetExecution(ctx, id)
		}
		if err != nil {
			return nil, err
		}
		slog.Info("Execution succeeded", log.ExecutionID(id))
		return st, e.terminated(ctx, st)
	}

	status, typ := api.ClassifyError(err)
	if errors.Is(err, ErrProgramPanic) {
		typ = api.ErrorTypePanic
	}
	st, applied, ferr := e.journal.FailExecution(
		ctx, id, status, typ, err.Error(),
	)
	if ferr != nil {
		return nil, ferr
	}
	if applied {
		slog.Warn("Execution failed",
			log.ExecutionID(id),
			log.Status(status),
			slog.String("error_type", string(typ)),
			log.Error(err))
	}
	return st, e.terminated(ctx, st)
}

func (e *Engine) suspend(
	ctx context.Context, id api.ExecutionID, s *SuspendedError,
) (*api.ExecutionState, error) {
	st, err := e.journal.SuspendExecution(ctx, id, s.ResumeAt, s.Reason)
	if errors.Is(err, ErrExecutionTerminal) {
		return e.journal.GetExecution(ctx, id)
	}
	if err != nil {
		return nil, err
	}
	if !s.ResumeAt.IsZero() {
		if err := e.index.ScheduleResume(ctx, id, s.ResumeAt); err != nil {
			return nil, err
		}
		e.trackResume(id, s.ResumeAt)
	}
	slog.Debug("Execution suspended",
		log.ExecutionID(id), slog.String("reason", s.Reason))
	return st, nil
}

// terminated releases everything a finished execution still holds
func (e *Engine) terminated(
	ctx context.Context, st *api.ExecutionState,
) error {
	err := e.broker.Cancel(ctx, st, "execution "+string(st.Status))
	e.scheduler.CancelPrefix(e.ctx, executionTaskKey(st.ID))
	return errors.Join(err, e.index.MarkTerminal(ctx, st.ID, e.Now()))
}

func (e *Engine) clearResume(ctx context.Context, id api.ExecutionID) {
	e.scheduler.Cancel(e.ctx, resumeTaskKey(id))
	if err := e.index.ClearResume(ctx, id); err != nil {
		slog.Warn("Failed to clear scheduled resume",
			log.ExecutionID(id), log.Error(err))
	}
}

func (e *Engine) trackResume(id api.ExecutionID, at time.Time) {
	e.scheduler.Schedule(e.ctx, resumeTaskKey(id), at, func() error {
		e.Wake(id)
		return nil
	})
}

func (e *Engine) trackDeadline(st *api.ExecutionState) {
	if st.Deadline.IsZero() {
		return
	}
	id := st.ID
	e.scheduler.Schedule(e.ctx, deadlineTaskKey(id), st.Deadline,
		func() error {
			e.goTracked(func(ctx context.Context) {
				if err := e.timeoutExecution(ctx, id); err != nil {
					slog.Warn("Failed to time out execution",
						log.ExecutionID(id), log.Error(err))
				}
			})
			return nil
		},
	)
}

func runProgram(
	c *Context, p *Program, input api.Payload,
) (res api.Payload, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: %v", ErrProgramPanic, rec)
		}
	}()
	return p.Run(c, input)
}

func executionTaskKey(id api.ExecutionID) scheduler.Key {
	return scheduler.Key{"execution", string(id)}
}

func resumeTaskKey(id api.ExecutionID) scheduler.Key {
	return scheduler.Key{"execution", string(id), "resume"}
}

func deadlineTaskKey(id api.ExecutionID) scheduler.Key {
	return scheduler.Key{"execution", string(id), "deadline"}
}
