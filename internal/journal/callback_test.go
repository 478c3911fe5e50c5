package journal_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kode4food/tollgate/internal/journal"
	"github.com/kode4food/tollgate/pkg/api"
)

func (e *testEnv) createCallback(
	t *testing.T, timeoutAt time.Time,
) api.Token {
	t.Helper()
	token := api.NewToken()
	rec, err := e.Journal.CreateCallback(context.Background(),
		api.CallbackCreatedEvent{
			Token:       token,
			ExecutionID: "exec-1",
			Label:       "approval",
			At:          testNow,
			TimeoutAt:   timeoutAt,
		},
	)
	require.NoError(t, err)
	require.Equal(t, api.CallbackAwaiting, rec.Status)
	return token
}

func approval(approved bool) journal.Settlement {
	p := api.NewApproval(approved)
	return journal.Settlement{Payload: &p}
}

func TestCreateCallbackDuplicate(t *testing.T) {
	withJournal(t, func(env *testEnv) {
		token := env.createCallback(t, testNow.Add(time.Minute))

		_, err := env.Journal.CreateCallback(context.Background(),
			api.CallbackCreatedEvent{
				Token:       token,
				ExecutionID: "exec-1",
				TimeoutAt:   testNow.Add(time.Minute),
			},
		)
		assert.ErrorIs(t, err, api.ErrDuplicateToken)
	})
}

func TestCreateCallbackValidation(t *testing.T) {
	withJournal(t, func(env *testEnv) {
		ctx := context.Background()
		_, err := env.Journal.CreateCallback(ctx, api.CallbackCreatedEvent{
			Token:       "short",
			ExecutionID: "exec-1",
			TimeoutAt:   testNow,
		})
		assert.ErrorIs(t, err, api.ErrValidation)

		_, err = env.Journal.CreateCallback(ctx, api.CallbackCreatedEvent{
			Token:       api.NewToken(),
			ExecutionID: "exec-1",
		})
		assert.ErrorIs(t, err, api.ErrValidation)
	})
}

func TestGetCallbackUnknown(t *testing.T) {
	withJournal(t, func(env *testEnv) {
		_, err := env.Journal.GetCallback(context.Background(), api.NewToken())
		assert.ErrorIs(t, err, api.ErrUnknownToken)
	})
}

func TestResolveCallback(t *testing.T) {
	withJournal(t, func(env *testEnv) {
		ctx := context.Background()
		token := env.createCallback(t, testNow.Add(time.Minute))

		rec, applied, err := env.Journal.ResolveCallback(
			ctx, token, approval(true), testNow.Add(time.Second),
		)
		require.NoError(t, err)
		assert.True(t, applied)
		assert.Equal(t, api.CallbackResolved, rec.Status)
		assert.True(t, rec.SettledAt.Equal(testNow.Add(time.Second)))

		a, err := api.DecodeApproval(*rec.Payload)
		require.NoError(t, err)
		assert.True(t, a.Approved)

		rec, applied, err = env.Journal.ResolveCallback(
			ctx, token, approval(false), testNow.Add(2*time.Second),
		)
		require.NoError(t, err)
		assert.False(t, applied)
		assert.Equal(t, api.CallbackResolved, rec.Status)
	})
}

func TestRejectCallback(t *testing.T) {
	withJournal(t, func(env *testEnv) {
		token := env.createCallback(t, testNow.Add(time.Minute))

		rec, applied, err := env.Journal.ResolveCallback(
			context.Background(), token,
			journal.Settlement{Error: "delivery failed"}, testNow,
		)
		require.NoError(t, err)
		assert.True(t, applied)
		assert.Equal(t, api.CallbackFailed, rec.Status)
		assert.ErrorIs(t, rec.Err(), api.ErrCallbackRejected)
	})
}

func TestResolveCallbackInvalid(t *testing.T) {
	withJournal(t, func(env *testEnv) {
		ctx := context.Background()
		token := env.createCallback(t, testNow.Add(time.Minute))

		_, _, err := env.Journal.ResolveCallback(
			ctx, token, journal.Settlement{}, testNow,
		)
		assert.ErrorIs(t, err, journal.ErrInvalidSettlement)

		_, _, err = env.Journal.ResolveCallback(
			ctx, api.NewToken(), approval(true), testNow,
		)
		assert.ErrorIs(t, err, api.ErrUnknownToken)

		_, _, err = env.Journal.ResolveCallback(
			ctx, "", approval(true), testNow,
		)
		assert.ErrorIs(t, err, api.ErrValidation)
	})
}

func TestResolveCallbackOverdue(t *testing.T) {
	withJournal(t, func(env *testEnv) {
		timeoutAt := testNow.Add(time.Minute)
		token := env.createCallback(t, timeoutAt)

		rec, applied, err := env.Journal.ResolveCallback(
			context.Background(), token, approval(true), timeoutAt,
		)
		require.NoError(t, err)
		assert.False(t, applied)
		assert.Equal(t, api.CallbackExpired, rec.Status)
		assert.ErrorIs(t, rec.Err(), api.ErrTimeout)
	})
}

func TestExpireCallback(t *testing.T) {
	withJournal(t, func(env *testEnv) {
		ctx := context.Background()
		timeoutAt := testNow.Add(time.Minute)
		token := env.createCallback(t, timeoutAt)

		rec, applied, err := env.Journal.ExpireCallback(
			ctx, token, timeoutAt.Add(-time.Millisecond),
		)
		require.NoError(t, err)
		assert.False(t, applied)
		assert.Equal(t, api.CallbackAwaiting, rec.Status)

		rec, applied, err = env.Journal.ExpireCallback(ctx, token, timeoutAt)
		require.NoError(t, err)
		assert.True(t, applied)
		assert.Equal(t, api.CallbackExpired, rec.Status)
		assert.Equal(t, journal.ReasonExpired, rec.Error)

		_, applied, err = env.Journal.ExpireCallback(ctx, token, timeoutAt)
		require.NoError(t, err)
		assert.False(t, applied)

		_, _, err = env.Journal.ExpireCallback(ctx, api.NewToken(), timeoutAt)
		assert.ErrorIs(t, err, api.ErrUnknownToken)
	})
}

func TestCancelCallback(t *testing.T) {
	withJournal(t, func(env *testEnv) {
		ctx := context.Background()
		token := env.createCallback(t, testNow.Add(time.Hour))

		rec, applied, err := env.Journal.CancelCallback(
			ctx, token, "cancelled", testNow,
		)
		require.NoError(t, err)
		assert.True(t, applied)
		assert.Equal(t, api.CallbackExpired, rec.Status)
		assert.Equal(t, "cancelled", rec.Error)

		rec, _, err = env.Journal.ResolveCallback(
			ctx, token, approval(true), testNow,
		)
		require.NoError(t, err)
		assert.Equal(t, api.CallbackExpired, rec.Status)
	})
}

func TestConcurrentResolutionSettlesOnce(t *testing.T) {
	withJournal(t, func(env *testEnv) {
		token := env.createCallback(t, testNow.Add(time.Minute))

		var wg sync.WaitGroup
		var mu sync.Mutex
		applied := 0
		for i := range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, ok, err := env.Journal.ResolveCallback(
					context.Background(), token, approval(i%2 == 0), testNow,
				)
				assert.NoError(t, err)
				if ok {
					mu.Lock()
					applied++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, applied)

		evs, err := env.Journal.CallbackEvents(context.Background(), token)
		require.NoError(t, err)
		assert.Len(t, evs, 2)
	})
}

func TestPeerResolveVisible(t *testing.T) {
	withJournal(t, func(env *testEnv) {
		ctx := context.Background()
		token := env.createCallback(t, testNow.Add(time.Hour))
		other := env.peer(t)

		rec, err := env.Journal.GetCallback(ctx, token)
		require.NoError(t, err)
		require.Equal(t, api.CallbackAwaiting, rec.Status)

		rec, applied, err := other.ResolveCallback(
			ctx, token, approval(true), testNow,
		)
		require.NoError(t, err)
		assert.True(t, applied)
		assert.Equal(t, api.CallbackResolved, rec.Status)

		rec, err = env.Journal.GetCallback(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, api.CallbackResolved, rec.Status)

		rec, applied, err = env.Journal.ResolveCallback(
			ctx, token, approval(false), testNow,
		)
		require.NoError(t, err)
		assert.False(t, applied)
		assert.True(t, api.NewApproval(true).Equal(*rec.Payload))

		_, applied, err = env.Journal.ExpireCallback(
			ctx, token, testNow.Add(2*time.Hour),
		)
		require.NoError(t, err)
		assert.False(t, applied)
	})
}
