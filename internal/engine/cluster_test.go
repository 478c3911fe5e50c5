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

func TestCrossProcessResolve(t *testing.T) {
	cfg := helpers.NewTestConfig()
	cfg.Mode = config.ModeBlocking
	env := helpers.NewTestEngineWithConfig(t, cfg)
	defer env.Cleanup()

	ctx := context.Background()
	var calls atomic.Int32

	first := env.Engine
	require.NoError(t, first.Register(approvalProgram("approval", &calls)))
	require.NoError(t, first.Start())

	_, err := first.StartExecution(ctx, engine.StartRequest{
		ExecutionID: "cluster-1",
		Program:     "approval",
	})
	require.NoError(t, err)

	var token api.Token
	assert.Eventually(t, func() bool {
		st, err := first.GetExecution(ctx, "cluster-1")
		if err != nil {
			return false
		}
		if ref, ok := st.Callbacks["approval"]; ok {
			token = ref.Token
		}
		return token != ""
	}, waitTimeout, 10*time.Millisecond)
	require.NotEmpty(t, token)

	assert.Eventually(t, func() bool {
		rec, err := first.GetCallback(ctx, token)
		return err == nil && rec.Status == api.CallbackAwaiting
	}, waitTimeout, 10*time.Millisecond)

	second := env.NewEngineInstance()
	require.NoError(t, second.Register(approvalProgram("approval", &calls)))
	require.NoError(t, second.Start())

	res, err := second.ResolveCallback(ctx, token, api.NewApproval(true))
	require.NoError(t, err)
	assert.True(t, res.Applied)

	rec, err := first.GetCallback(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, api.CallbackResolved, rec.Status)

	st := waitForStatus(t, first, "cluster-1", api.ExecutionSucceeded)
	var a api.Approval
	require.NoError(t, st.Result.Decode(&a))
	assert.True(t, a.Approved)

	waitForStatus(t, second, "cluster-1", api.ExecutionSucceeded)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRacingReplays(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		ctx := context.Background()

		started := make(chan struct{})
		release := make(chan struct{})
		var calls atomic.Int32
		program := func() *engine.Program {
			return &engine.Program{
				Name: "slow",
				Run: func(c *engine.Context, _ api.Payload) (api.Payload, error) {
					return c.Run("work",
						func(context.Context) (api.Payload, error) {
							if calls.Add(1) == 1 {
								close(started)
							}
							<-release
							return api.MustPayload(api.SchemaJSON, "done"), nil
						},
					)
				},
			}
		}

		first := env.Engine
		require.NoError(t, first.Register(program()))
		require.NoError(t, first.Start())

		_, err := first.StartExecution(ctx, engine.StartRequest{
			ExecutionID: "slow-1",
			Program:     "slow",
		})
		require.NoError(t, err)

		select {
		case <-started:
		case <-time.After(waitTimeout):
			t.Fatal("step never started")
		}

		// the original lease is now stale; the live attempt must renew it
		env.Clock.Advance(env.Config.StepLease + time.Second)
		assert.Eventually(t, func() bool {
			st, err := first.GetExecution(ctx, "slow-1")
			if err != nil {
				return false
			}
			rec, ok := st.Steps["work"]
			return ok && rec.LeaseUntil.After(env.Clock.Now())
		}, waitTimeout, 10*time.Millisecond)

		second := env.NewEngineInstance()
		require.NoError(t, second.Register(program()))
		require.NoError(t, second.Start())

		replayed := make(chan struct{})
		go func() {
			defer close(replayed)
			_, _ = second.Resume(ctx, "slow-1")
		}()

		close(release)

		st := waitForStatus(t, first, "slow-1", api.ExecutionSucceeded)
		assert.Equal(t, 1, st.Steps["work"].Attempts)
		waitForStatus(t, second, "slow-1", api.ExecutionSucceeded)

		select {
		case <-replayed:
		case <-time.After(waitTimeout):
			t.Fatal("replay never returned")
		}
		assert.Equal(t, int32(1), calls.Load())
	})
}
