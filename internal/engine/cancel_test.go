package engine_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kode4food/tollgate/internal/assert/helpers"
	"github.com/kode4food/tollgate/internal/config"
	"github.com/kode4food/tollgate/internal/engine"
	"github.com/kode4food/tollgate/pkg/api"
)

func TestCancelSuspended(t *testing.T) {
	helpers.WithStartedEngine(t, func(eng *engine.Engine) {
		ctx := context.Background()
		var calls atomic.Int32
		require.NoError(t, eng.Register(approvalProgram("approval", &calls)))

		st, err := eng.RunExecution(ctx, engine.StartRequest{
			ExecutionID: "cancel-1",
			Program:     "approval",
		})
		require.NoError(t, err)
		token := callbackToken(t, st)

		st, err = eng.Cancel(ctx, "cancel-1")
		require.NoError(t, err)
		assert.Equal(t, api.ExecutionFailed, st.Status)
		assert.Equal(t, api.ErrorTypeCancelled, st.ErrorType)
		assert.Equal(t, api.StepSucceeded, st.Steps["prepare"].Status)

		rec, err := eng.GetCallback(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, api.CallbackExpired, rec.Status)

		_, err = eng.Cancel(ctx, "cancel-1")
		assert.ErrorIs(t, err, engine.ErrExecutionTerminal)

		res, err := eng.ResolveCallback(ctx, token, api.NewApproval(true))
		require.NoError(t, err)
		assert.True(t, res.AlreadySettled())

		st, err = eng.Resume(ctx, "cancel-1")
		require.NoError(t, err)
		assert.Equal(t, api.ExecutionFailed, st.Status)
		assert.Equal(t, int32(1), calls.Load())
	})
}

func TestCancelBlocked(t *testing.T) {
	cfg := helpers.NewTestConfig()
	cfg.Mode = config.ModeBlocking
	env := helpers.NewTestEngineWithConfig(t, cfg)
	defer env.Cleanup()

	eng := env.Engine
	require.NoError(t, eng.Start())
	ctx := context.Background()

	started := make(chan struct{})
	var once atomic.Bool
	require.NoError(t, eng.Register(&engine.Program{
		Name: "hangs",
		Run: func(c *engine.Context, _ api.Payload) (api.Payload, error) {
			return c.Run("wait", func(ctx context.Context) (api.Payload, error) {
				if once.CompareAndSwap(false, true) {
					close(started)
				}
				<-ctx.Done()
				return api.Payload{}, ctx.Err()
			})
		},
	}))

	_, err := eng.StartExecution(ctx, engine.StartRequest{
		ExecutionID: "hangs-1",
		Program:     "hangs",
	})
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(waitTimeout):
		t.Fatal("step never started")
	}

	st, err := eng.Cancel(ctx, "hangs-1")
	require.NoError(t, err)
	assert.Equal(t, api.ExecutionFailed, st.Status)
	assert.Equal(t, api.ErrorTypeCancelled, st.ErrorType)
}

func TestCancelUnknown(t *testing.T) {
	helpers.WithStartedEngine(t, func(eng *engine.Engine) {
		_, err := eng.Cancel(context.Background(), "missing")
		assert.ErrorIs(t, err, api.ErrExecutionNotFound)
	})
}

func TestExecutionDeadline(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		eng := env.Engine
		require.NoError(t, eng.Start())
		ctx := context.Background()

		var calls atomic.Int32
		p := approvalProgram("deadline", &calls)
		p.Timeout = 30 * time.Minute
		require.NoError(t, eng.Register(p))

		st, err := eng.RunExecution(ctx, engine.StartRequest{
			ExecutionID: "deadline-1",
			Program:     "deadline",
		})
		require.NoError(t, err)
		assert.Equal(t, api.ExecutionSuspended, st.Status)
		assert.WithinDuration(t,
			st.CreatedAt.Add(30*time.Minute), st.Deadline, time.Second,
		)
		token := callbackToken(t, st)

		env.Clock.Advance(31 * time.Minute)
		st = waitForStatus(t, eng, "deadline-1", api.ExecutionTimedOut)
		assert.Equal(t, api.ErrorTypeTimeout, st.ErrorType)

		rec, err := eng.GetCallback(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, api.CallbackExpired, rec.Status)
	})
}
