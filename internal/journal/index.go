package journal

import (
	"context"
	"strconv"
	"time"

	"github.com/kode4food/timebox"
	"github.com/redis/go-redis/v9"

	"github.com/kode4food/tollgate/pkg/api"
)

// Index keeps the Redis sorted sets that point sweeps at due work. It is a
// derived view: every entry can be rebuilt from the journal, and a lost or
// stale entry only delays work until the next repair
type Index struct {
	client *redis.Client
	prefix string
}

const (
	callbackDeadlinesKey  = "callback:deadlines"
	executionActiveKey    = "execution:active"
	executionDeadlinesKey = "execution:deadlines"
	executionResumeKey    = "execution:resume"
	executionTerminalKey  = "execution:terminal"
	settledChannel        = "settled"

	minScore = "-inf"
)

// NewIndex connects an Index to the Redis instance behind a journal store
func NewIndex(cfg timebox.StoreConfig) *Index {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewIndexWithClient(client, cfg.Prefix)
}

// NewIndexWithClient creates an Index over an existing Redis client
func NewIndexWithClient(client *redis.Client, prefix string) *Index {
	return &Index{
		client: client,
		prefix: prefix,
	}
}

// Ping checks connectivity with Redis
func (x *Index) Ping(ctx context.Context) error {
	return x.client.Ping(ctx).Err()
}

// Close releases the Redis connection
func (x *Index) Close() error {
	return x.client.Close()
}

// AddCallbackDeadline schedules the expiry check of a callback
func (x *Index) AddCallbackDeadline(
	ctx context.Context, token api.Token, at time.Time,
) error {
	return x.client.ZAdd(ctx, x.key(callbackDeadlinesKey), redis.Z{
		Score:  score(at),
		Member: string(token),
	}).Err()
}

// RemoveCallbackDeadline drops the expiry check of a settled callback
func (x *Index) RemoveCallbackDeadline(
	ctx context.Context, token api.Token,
) error {
	return x.client.ZRem(ctx, x.key(callbackDeadlinesKey), string(token)).Err()
}

// DueCallbacks returns up to limit tokens whose deadline is at or before now
func (x *Index) DueCallbacks(
	ctx context.Context, now time.Time, limit int,
) ([]api.Token, error) {
	res, err := x.due(ctx, callbackDeadlinesKey, now, limit)
	if err != nil {
		return nil, err
	}
	return toIDs[api.Token](res), nil
}

// AddActive records a non-terminal execution, with its deadline when set
func (x *Index) AddActive(
	ctx context.Context, id api.ExecutionID, deadline time.Time,
) error {
	_, err := x.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SAdd(ctx, x.key(executionActiveKey), string(id))
		if !deadline.IsZero() {
			p.ZAdd(ctx, x.key(executionDeadlinesKey), redis.Z{
				Score:  score(deadline),
				Member: string(id),
			})
		}
		return nil
	})
	return err
}

// ActiveExecutions returns every execution not yet recorded as terminal
func (x *Index) ActiveExecutions(
	ctx context.Context,
) ([]api.ExecutionID, error) {
	res, err := x.client.SMembers(ctx, x.key(executionActiveKey)).Result()
	if err != nil {
		return nil, err
	}
	return toIDs[api.ExecutionID](res), nil
}

// ExpiredExecutions returns up to limit executions whose deadline is at or
// before now
func (x *Index) ExpiredExecutions(
	ctx context.Context, now time.Time, limit int,
) ([]api.ExecutionID, error) {
	res, err := x.due(ctx, executionDeadlinesKey, now, limit)
	if err != nil {
		return nil, err
	}
	return toIDs[api.ExecutionID](res), nil
}

// ScheduleResume records the time a suspended execution should be invoked
func (x *Index) ScheduleResume(
	ctx context.Context, id api.ExecutionID, at time.Time,
) error {
	return x.client.ZAdd(ctx, x.key(executionResumeKey), redis.Z{
		Score:  score(at),
		Member: string(id),
	}).Err()
}

// ClearResume removes a scheduled resume
func (x *Index) ClearResume(ctx context.Context, id api.ExecutionID) error {
	return x.client.ZRem(ctx, x.key(executionResumeKey), string(id)).Err()
}

// DueResumes returns up to limit executions whose resume time has arrived
func (x *Index) DueResumes(
	ctx context.Context, now time.Time, limit int,
) ([]api.ExecutionID, error) {
	res, err := x.due(ctx, executionResumeKey, now, limit)
	if err != nil {
		return nil, err
	}
	return toIDs[api.ExecutionID](res), nil
}

// MarkTerminal moves an execution from the active set to the retention set
func (x *Index) MarkTerminal(
	ctx context.Context, id api.ExecutionID, at time.Time,
) error {
	_, err := x.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SRem(ctx, x.key(executionActiveKey), string(id))
		p.ZRem(ctx, x.key(executionDeadlinesKey), string(id))
		p.ZRem(ctx, x.key(executionResumeKey), string(id))
		p.ZAdd(ctx, x.key(executionTerminalKey), redis.Z{
			Score:  score(at),
			Member: string(id),
		})
		return nil
	})
	return err
}

// TerminalBefore returns up to limit terminal executions that completed at
// or before cutoff
func (x *Index) TerminalBefore(
	ctx context.Context, cutoff time.Time, limit int,
) ([]api.ExecutionID, error) {
	res, err := x.due(ctx, executionTerminalKey, cutoff, limit)
	if err != nil {
		return nil, err
	}
	return toIDs[api.ExecutionID](res), nil
}

// RemoveTerminal drops an archived execution from the retention set
func (x *Index) RemoveTerminal(ctx context.Context, id api.ExecutionID) error {
	return x.client.ZRem(ctx, x.key(executionTerminalKey), string(id)).Err()
}

// PublishSettled announces a callback settlement to every process
func (x *Index) PublishSettled(ctx context.Context, token api.Token) error {
	return x.client.Publish(ctx, x.key(settledChannel), string(token)).Err()
}

// SubscribeSettled streams the tokens of settled callbacks until ctx is
// done. The returned channel is closed when the subscription ends
func (x *Index) SubscribeSettled(
	ctx context.Context,
) (<-chan api.Token, error) {
	ps := x.client.Subscribe(ctx, x.key(settledChannel))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}

	res := make(chan api.Token)
	go func() {
		defer close(res)
		defer func() { _ = ps.Close() }()

		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case res <- api.Token(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return res, nil
}

func (x *Index) due(
	ctx context.Context, key string, now time.Time, limit int,
) ([]string, error) {
	return x.client.ZRangeByScore(ctx, x.key(key), &redis.ZRangeBy{
		Min:   minScore,
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
}

func (x *Index) key(name string) string {
	if x.prefix == "" {
		return name
	}
	return x.prefix + ":" + name
}

func score(t time.Time) float64 {
	return float64(t.UnixMilli())
}

func toIDs[T ~string](in []string) []T {
	res := make([]T, len(in))
	for i, s := range in {
		res[i] = T(s)
	}
	return res
}
