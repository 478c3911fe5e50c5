package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kode4food/tollgate/internal/config"
	"github.com/kode4food/tollgate/internal/engine/scheduler"
	"github.com/kode4food/tollgate/internal/journal"
	"github.com/kode4food/tollgate/pkg/api"
	"github.com/kode4food/tollgate/pkg/log"
)

type (
	// Broker mints callback tokens, waits for their settlement, and applies
	// resolutions delivered by external resolvers
	Broker struct {
		engine *Engine
	}

	// Settled reports the outcome of a resolution attempt. Applied is false
	// when the callback had already left the awaiting state, in which case
	// Record holds the outcome that won
	Settled struct {
		Record  *api.CallbackRecord
		Applied bool
	}
)

func newBroker(e *Engine) *Broker {
	return &Broker{engine: e}
}

// AlreadySettled reports whether the resolution found a terminal callback
func (s *Settled) AlreadySettled() bool {
	return !s.Applied
}

// Create registers a labeled callback for the execution and returns the
// pending handle. Replaying the same label returns the token and deadline
// minted by the first call
func (b *Broker) Create(
	ctx context.Context, id api.ExecutionID, label api.Label,
	timeout time.Duration,
) (*Pending, error) {
	e := b.engine
	now := e.Now()
	ref, err := e.journal.RegisterCallback(
		ctx, id, label, api.NewToken(), now.Add(timeout),
	)
	if err != nil {
		return nil, err
	}

	p := &Pending{
		Token:       ref.Token,
		TimeoutAt:   ref.TimeoutAt,
		ExecutionID: id,
		Label:       label,
	}
	rec, err := b.ensureRecord(ctx, p)
	if err != nil {
		return nil, err
	}
	if !rec.IsTerminal() {
		b.track(p.ExecutionID, p.Token, p.TimeoutAt)
	}
	return p, nil
}

// Await returns the resolution of a pending callback. In blocking mode it
// holds until the callback settles or expires; in ephemeral mode an
// unsettled callback yields a SuspendedError
func (b *Broker) Await(
	ctx context.Context, p *Pending, mode config.Mode,
) (*api.Resolution, error) {
	for {
		wake, stop := b.engine.watchers.awaitToken(p.Token)
		rec, err := b.current(ctx, p.Token)
		if err != nil {
			stop()
			return nil, err
		}
		if rec.IsTerminal() {
			stop()
			return rec.Resolution(), rec.Err()
		}
		if mode == config.ModeEphemeral {
			stop()
			return nil, &SuspendedError{
				Reason: fmt.Sprintf("awaiting callback %q", p.Label),
			}
		}
		err = b.block(ctx, wake, rec.TimeoutAt)
		stop()
		if err != nil {
			return nil, err
		}
	}
}

// Resolve settles a callback with a payload
func (b *Broker) Resolve(
	ctx context.Context, token api.Token, payload api.Payload,
) (*Settled, error) {
	return b.settle(ctx, token, journal.Settlement{Payload: &payload})
}

// Reject settles a callback with an error. The awaiting program observes a
// CallbackRejectedError carrying msg
func (b *Broker) Reject(
	ctx context.Context, token api.Token, msg string,
) (*Settled, error) {
	if msg == "" {
		return nil, api.ValidationError("rejection requires an error")
	}
	return b.settle(ctx, token, journal.Settlement{Error: msg})
}

// Expire moves an overdue callback to expired. It reports whether this
// call performed the transition
func (b *Broker) Expire(
	ctx context.Context, token api.Token,
) (*api.CallbackRecord, bool, error) {
	rec, applied, err := b.engine.journal.ExpireCallback(
		ctx, token, b.engine.Now(),
	)
	if err != nil {
		return nil, false, err
	}
	if applied {
		b.settled(rec)
	}
	return rec, applied, nil
}

// Cancel expires every awaiting callback registered by the execution
func (b *Broker) Cancel(
	ctx context.Context, st *api.ExecutionState, reason string,
) error {
	e := b.engine
	var errs []error
	for _, ref := range st.Callbacks {
		rec, applied, err := e.journal.CancelCallback(
			ctx, ref.Token, reason, e.Now(),
		)
		switch {
		case errors.Is(err, api.ErrUnknownToken):
			// registered but never created; there is nothing to expire
			b.untrack(st.ID, ref.Token)
		case err != nil:
			errs = append(errs, err)
		case applied:
			b.settled(rec)
		default:
			b.untrack(st.ID, ref.Token)
		}
	}
	return errors.Join(errs...)
}

func (b *Broker) settle(
	ctx context.Context, token api.Token, s journal.Settlement,
) (*Settled, error) {
	e := b.engine
	rec, applied, err := e.journal.ResolveCallback(ctx, token, s, e.Now())
	if err != nil {
		return nil, err
	}
	if applied || rec.Status == api.CallbackExpired {
		b.settled(rec)
	}
	if applied {
		slog.Info("Callback settled",
			log.Token(token),
			log.ExecutionID(rec.ExecutionID),
			log.Status(rec.Status))
	}
	return &Settled{Record: rec, Applied: applied}, nil
}

// ensureRecord creates the callback record when the first run crashed
// between registering the label and minting the token. The deadline index
// entry is written first so a crash never leaves an unswept record
func (b *Broker) ensureRecord(
	ctx context.Context, p *Pending,
) (*api.CallbackRecord, error) {
	e := b.engine
	rec, err := e.journal.GetCallback(ctx, p.Token)
	if err == nil || !errors.Is(err, api.ErrUnknownToken) {
		return rec, err
	}

	if err := e.index.AddCallbackDeadline(
		ctx, p.Token, p.TimeoutAt,
	); err != nil {
		return nil, err
	}
	rec, err = e.journal.CreateCallback(ctx, api.CallbackCreatedEvent{
		Token:       p.Token,
		ExecutionID: p.ExecutionID,
		Label:       p.Label,
		TimeoutAt:   p.TimeoutAt,
		At:          e.Now(),
	})
	if errors.Is(err, api.ErrDuplicateToken) {
		return e.journal.GetCallback(ctx, p.Token)
	}
	return rec, err
}

// current reads a callback record, expiring it first when overdue
func (b *Broker) current(
	ctx context.Context, token api.Token,
) (*api.CallbackRecord, error) {
	e := b.engine
	rec, err := e.journal.GetCallback(ctx, token)
	if err != nil {
		return nil, err
	}
	if !rec.Overdue(e.Now()) {
		return rec, nil
	}

	rec, applied, err := e.journal.ExpireCallback(ctx, token, e.Now())
	if err != nil {
		return nil, err
	}
	if applied {
		b.settled(rec)
	}
	return rec, nil
}

// block waits for a local notification, the callback deadline, the poll
// interval, or cancellation. The poll covers settlements announced while
// this process was not subscribed
func (b *Broker) block(
	ctx context.Context, wake <-chan struct{}, timeoutAt time.Time,
) error {
	e := b.engine
	now := e.Now()
	until := earliest(timeoutAt, now.Add(e.config.PollInterval))
	timer := e.makeTimer(max(until.Sub(now), 0))
	defer timer.Stop()

	select {
	case <-wake:
		return nil
	case <-timer.Channel():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// track schedules the local expiry of a callback at its deadline. The
// index sweep covers callbacks owned by processes that went away
func (b *Broker) track(id api.ExecutionID, token api.Token, at time.Time) {
	e := b.engine
	e.scheduler.Schedule(e.ctx, callbackTaskKey(id, token), at,
		func() error {
			e.goTracked(func(ctx context.Context) {
				if _, _, err := b.Expire(ctx, token); err != nil {
					slog.Warn("Failed to expire callback",
						log.Token(token), log.Error(err))
				}
			})
			return nil
		},
	)
}

func (b *Broker) untrack(id api.ExecutionID, token api.Token) {
	e := b.engine
	e.scheduler.Cancel(e.ctx, callbackTaskKey(id, token))
}

// settled runs the follow-up of a callback leaving the awaiting state:
// drop its deadline, announce it to every process, and wake its execution
func (b *Broker) settled(rec *api.CallbackRecord) {
	e := b.engine
	b.untrack(rec.ExecutionID, rec.Token)

	ctx := e.ctx
	if err := e.index.RemoveCallbackDeadline(ctx, rec.Token); err != nil {
		slog.Warn("Failed to remove callback deadline",
			log.Token(rec.Token), log.Error(err))
	}
	if err := e.index.PublishSettled(ctx, rec.Token); err != nil {
		slog.Warn("Failed to publish callback settlement",
			log.Token(rec.Token), log.Error(err))
	}
	e.watchers.notifyToken(rec.Token)
	e.Wake(rec.ExecutionID)
}

func callbackTaskKey(id api.ExecutionID, token api.Token) scheduler.Key {
	return scheduler.Key{"execution", string(id), "callback", string(token)}
}
