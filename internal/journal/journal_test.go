package journal_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/kode4food/timebox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kode4food/tollgate/internal/config"
	"github.com/kode4food/tollgate/internal/journal"
	"github.com/kode4food/tollgate/pkg/api"
)

type (
	testEnv struct {
		Journal  *journal.Journal
		Index    *journal.Index
		Redis    *miniredis.Miniredis
		Observed *observer
		store    timebox.StoreConfig
	}

	observer struct {
		mu         sync.Mutex
		executions []*api.ExecutionState
		callbacks  []*api.CallbackRecord
	}
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func withJournal(t *testing.T, fn func(*testEnv)) {
	t.Helper()

	server, err := miniredis.Run()
	require.NoError(t, err)
	defer server.Close()

	tb, err := timebox.NewTimebox(timebox.Config{
		MaxRetries: timebox.DefaultMaxRetries,
		CacheSize:  100,
		Workers:    true,
	})
	require.NoError(t, err)
	defer func() { _ = tb.Close() }()

	cfg := config.NewDefaultConfig().Journal
	cfg.Addr = server.Addr()
	cfg.Prefix = "test-journal"
	store, err := tb.NewStore(cfg)
	require.NoError(t, err)

	obs := &observer{}
	idx := journal.NewIndex(cfg)
	defer func() { _ = idx.Close() }()

	fn(&testEnv{
		Journal:  journal.New(store, obs),
		Index:    idx,
		Redis:    server,
		Observed: obs,
		store:    cfg,
	})
}

// peer opens a second journal over the same Redis with its own timebox,
// the way another process would
func (e *testEnv) peer(t *testing.T) *journal.Journal {
	t.Helper()
	tb, err := timebox.NewTimebox(timebox.Config{
		MaxRetries: timebox.DefaultMaxRetries,
		CacheSize:  100,
		Workers:    true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tb.Close() })

	store, err := tb.NewStore(e.store)
	require.NoError(t, err)
	return journal.New(store)
}

func (e *testEnv) start(t *testing.T, id api.ExecutionID) {
	t.Helper()
	_, created, err := e.Journal.StartExecution(context.Background(),
		api.ExecutionStartedEvent{
			ExecutionID: id,
			Program:     "order",
			Input:       api.MustPayload(api.SchemaJSON, map[string]any{}),
		},
	)
	require.NoError(t, err)
	require.True(t, created)
}

func (o *observer) ExecutionChanged(st *api.ExecutionState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.executions = append(o.executions, st)
}

func (o *observer) CallbackChanged(rec *api.CallbackRecord) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.callbacks = append(o.callbacks, rec)
}

func (o *observer) counts() (int, int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.executions), len(o.callbacks)
}

func TestStartExecution(t *testing.T) {
	withJournal(t, func(env *testEnv) {
		ctx := context.Background()
		ev := api.ExecutionStartedEvent{
			ExecutionID: "exec-1",
			Program:     "order",
			Input:       api.MustPayload(api.SchemaJSON, map[string]any{"a": 1}),
			Deadline:    testNow.Add(time.Minute),
		}

		st, created, err := env.Journal.StartExecution(ctx, ev)
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, api.ExecutionRunning, st.Status)
		assert.Equal(t, api.ProgramName("order"), st.Program)
		assert.True(t, st.Deadline.Equal(ev.Deadline))

		ev.Program = "other"
		again, created, err := env.Journal.StartExecution(ctx, ev)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, api.ProgramName("order"), again.Program)

		execs, _ := env.Observed.counts()
		assert.Equal(t, 1, execs)
	})
}

func TestStartExecutionValidation(t *testing.T) {
	withJournal(t, func(env *testEnv) {
		_, _, err := env.Journal.StartExecution(context.Background(),
			api.ExecutionStartedEvent{Program: "order"},
		)
		assert.ErrorIs(t, err, api.ErrValidation)
	})
}

func TestGetExecutionNotFound(t *testing.T) {
	withJournal(t, func(env *testEnv) {
		_, err := env.Journal.GetExecution(context.Background(), "missing")
		assert.ErrorIs(t, err, api.ErrExecutionNotFound)
	})
}

func TestExecutionLifecycle(t *testing.T) {
	withJournal(t, func(env *testEnv) {
		ctx := context.Background()
		env.start(t, "exec-1")

		resumeAt := testNow.Add(time.Minute)
		st, err := env.Journal.SuspendExecution(
			ctx, "exec-1", resumeAt, "awaiting approval",
		)
		require.NoError(t, err)
		assert.Equal(t, api.ExecutionSuspended, st.Status)
		assert.True(t, st.ResumeAt.Equal(resumeAt))

		st, resumed, err := env.Journal.ResumeExecution(ctx, "exec-1")
		require.NoError(t, err)
		assert.True(t, resumed)
		assert.Equal(t, api.ExecutionRunning, st.Status)
		assert.True(t, st.ResumeAt.IsZero())

		_, resumed, err = env.Journal.ResumeExecution(ctx, "exec-1")
		require.NoError(t, err)
		assert.False(t, resumed)

		result := api.MustPayload(api.SchemaJSON, map[string]any{"ok": true})
		st, err = env.Journal.CompleteExecution(ctx, "exec-1", result)
		require.NoError(t, err)
		assert.Equal(t, api.ExecutionSucceeded, st.Status)
		assert.True(t, st.Result.Equal(result))
		assert.False(t, st.CompletedAt.IsZero())

		_, _, err = env.Journal.ResumeExecution(ctx, "exec-1")
		assert.ErrorIs(t, err, journal.ErrExecutionTerminal)

		_, applied, err := env.Journal.FailExecution(ctx, "exec-1",
			api.ExecutionFailed, api.ErrorTypeCancelled, "cancelled",
		)
		require.NoError(t, err)
		assert.False(t, applied)
	})
}

func TestFailExecution(t *testing.T) {
	withJournal(t, func(env *testEnv) {
		ctx := context.Background()
		env.start(t, "exec-1")

		st, applied, err := env.Journal.FailExecution(ctx, "exec-1",
			api.ExecutionTimedOut, api.ErrorTypeTimeout, "too slow",
		)
		require.NoError(t, err)
		assert.True(t, applied)
		assert.Equal(t, api.ExecutionTimedOut, st.Status)
		assert.Equal(t, api.ErrorTypeTimeout, st.ErrorType)
		assert.Equal(t, "too slow", st.Error)

		_, _, err = env.Journal.FailExecution(ctx, "exec-1",
			api.ExecutionSucceeded, api.ErrorTypeProgram, "nope",
		)
		assert.ErrorIs(t, err, journal.ErrInvalidTransition)
	})
}

func TestArchiveExecution(t *testing.T) {
	withJournal(t, func(env *testEnv) {
		ctx := context.Background()
		env.start(t, "exec-1")

		_, err := env.Journal.ArchiveExecution(ctx, "exec-1", "mem://x")
		assert.ErrorIs(t, err, journal.ErrInvalidTransition)

		_, err = env.Journal.CompleteExecution(
			ctx, "exec-1", api.MustPayload(api.SchemaJSON, 1),
		)
		require.NoError(t, err)

		st, err := env.Journal.ArchiveExecution(ctx, "exec-1", "mem://x")
		require.NoError(t, err)
		assert.Equal(t, "mem://x", st.Archive)

		st, err = env.Journal.ArchiveExecution(ctx, "exec-1", "mem://y")
		require.NoError(t, err)
		assert.Equal(t, "mem://x", st.Archive)
	})
}

func TestRegisterCallbackFirstWins(t *testing.T) {
	withJournal(t, func(env *testEnv) {
		ctx := context.Background()
		env.start(t, "exec-1")

		first := api.NewToken()
		ref, err := env.Journal.RegisterCallback(
			ctx, "exec-1", "approval", first, testNow.Add(time.Minute),
		)
		require.NoError(t, err)
		assert.Equal(t, first, ref.Token)

		ref, err = env.Journal.RegisterCallback(
			ctx, "exec-1", "approval", api.NewToken(), testNow,
		)
		require.NoError(t, err)
		assert.Equal(t, first, ref.Token)
	})
}

func TestExecutionEvents(t *testing.T) {
	withJournal(t, func(env *testEnv) {
		ctx := context.Background()
		env.start(t, "exec-1")
		_, err := env.Journal.SuspendExecution(ctx, "exec-1", testNow, "")
		require.NoError(t, err)

		evs, err := env.Journal.ExecutionEvents(ctx, "exec-1", 0)
		require.NoError(t, err)
		require.Len(t, evs, 2)
		assert.Equal(t,
			timebox.EventType(api.EventTypeExecutionStarted), evs[0].Type,
		)
		assert.Equal(t,
			timebox.EventType(api.EventTypeExecutionSuspended), evs[1].Type,
		)
	})
}

func TestPeerWritesVisible(t *testing.T) {
	withJournal(t, func(env *testEnv) {
		ctx := context.Background()
		env.start(t, "exec-1")
		other := env.peer(t)

		first := testNow.Add(time.Minute)
		_, err := env.Journal.SuspendExecution(ctx, "exec-1", first, "wait")
		require.NoError(t, err)

		st, resumed, err := other.ResumeExecution(ctx, "exec-1")
		require.NoError(t, err)
		assert.True(t, resumed)
		assert.Equal(t, api.ExecutionRunning, st.Status)

		st, err = env.Journal.GetExecution(ctx, "exec-1")
		require.NoError(t, err)
		assert.Equal(t, api.ExecutionRunning, st.Status)

		second := testNow.Add(time.Hour)
		st, err = env.Journal.SuspendExecution(ctx, "exec-1", second, "again")
		require.NoError(t, err)
		assert.Equal(t, api.ExecutionSuspended, st.Status)
		assert.True(t, st.ResumeAt.Equal(second))

		evs, err := other.ExecutionEvents(ctx, "exec-1", 0)
		require.NoError(t, err)
		assert.Len(t, evs, 4)
	})
}

func TestPeerStepClaims(t *testing.T) {
	withJournal(t, func(env *testEnv) {
		ctx := context.Background()
		env.start(t, "exec-1")
		other := env.peer(t)

		c, err := env.Journal.ClaimStep(ctx, claimReq(testNow))
		require.NoError(t, err)
		require.Equal(t, journal.ClaimAcquired, c.Outcome)

		_, err = other.PutStepResult(ctx, stepAttempt("worker-a", 1),
			api.MustPayload(api.SchemaJSON, "ok"),
		)
		require.NoError(t, err)

		req := claimReq(testNow.Add(time.Second))
		req.Owner = "worker-b"
		c, err = env.Journal.ClaimStep(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, journal.ClaimSucceeded, c.Outcome)
		require.NotNil(t, c.Record.Result)
		assert.True(t,
			c.Record.Result.Equal(api.MustPayload(api.SchemaJSON, "ok")),
		)
	})
}
