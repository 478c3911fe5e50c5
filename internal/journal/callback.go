package journal

import (
	"context"
	"errors"
	"time"

	"github.com/kode4food/tollgate/pkg/api"
)

// Settlement is the outcome an external resolver delivers for a callback.
// Exactly one of Payload or Error is set
type Settlement struct {
	Payload *api.Payload
	Error   string
}

// ReasonExpired is recorded when a callback passes its deadline
const ReasonExpired = "timeout elapsed"

var ErrInvalidSettlement = errors.New(
	"settlement requires exactly one of payload or error",
)

// CreateCallback mints the journal record of a callback token. A token
// that already exists yields a DuplicateTokenError
func (j *Journal) CreateCallback(
	ctx context.Context, ev api.CallbackCreatedEvent,
) (*api.CallbackRecord, error) {
	if err := api.ValidateToken(ev.Token); err != nil {
		return nil, err
	}
	if err := api.ValidateName("execution id", ev.ExecutionID); err != nil {
		return nil, err
	}
	if ev.TimeoutAt.IsZero() {
		return nil, api.ValidationError("callback timeout is required")
	}

	cmd := func(rec *api.CallbackRecord, tx *CallbackTx) error {
		if rec.Exists() {
			return &api.DuplicateTokenError{Token: ev.Token}
		}
		if err := tx.Raise(api.EventTypeCallbackCreated, ev); err != nil {
			return err
		}
		j.notifyCallback(tx)
		return nil
	}
	return j.execCallback(ctx, ev.Token, cmd)
}

// GetCallback reads the stored record of a token. Unknown tokens yield an
// UnknownTokenError
func (j *Journal) GetCallback(
	ctx context.Context, token api.Token,
) (*api.CallbackRecord, error) {
	if err := api.ValidateToken(token); err != nil {
		return nil, err
	}
	rec, err := j.readCallback(ctx, token)
	if err != nil {
		return nil, err
	}
	if !rec.Exists() {
		return nil, &api.UnknownTokenError{Token: token}
	}
	return rec, nil
}

// ResolveCallback settles an awaiting callback with a payload or an error.
// When the callback is already terminal nothing is written and applied is
// false. A callback found past its deadline is expired instead, so a late
// resolution never wins over the timeout
func (j *Journal) ResolveCallback(
	ctx context.Context, token api.Token, s Settlement, now time.Time,
) (rec *api.CallbackRecord, applied bool, err error) {
	if err := api.ValidateToken(token); err != nil {
		return nil, false, err
	}
	if (s.Payload == nil) == (s.Error == "") {
		return nil, false, ErrInvalidSettlement
	}
	if s.Payload != nil {
		if err := s.Payload.Validate(); err != nil {
			return nil, false, err
		}
	}

	cmd := func(rec *api.CallbackRecord, tx *CallbackTx) error {
		if !rec.Exists() {
			return &api.UnknownTokenError{Token: token}
		}
		if rec.IsTerminal() {
			return nil
		}
		if rec.Overdue(now) {
			return j.raiseExpired(tx, rec, ReasonExpired, now, nil)
		}

		var err error
		if s.Payload != nil {
			err = tx.Raise(api.EventTypeCallbackResolved,
				api.CallbackResolvedEvent{
					Token:   token,
					Payload: *s.Payload,
					At:      now,
				},
			)
		} else {
			err = tx.Raise(api.EventTypeCallbackFailed,
				api.CallbackFailedEvent{
					Token: token,
					Error: s.Error,
					At:    now,
				},
			)
		}
		if err != nil {
			return err
		}
		tx.OnSuccess(func(*api.CallbackRecord) {
			applied = true
		})
		j.notifyCallback(tx)
		return nil
	}

	rec, err = j.execCallback(ctx, token, cmd)
	if err != nil {
		return nil, false, err
	}
	return rec, applied, nil
}

// ExpireCallback moves an awaiting callback to expired when now has reached
// its deadline. It is a no-op for terminal or not yet overdue callbacks, and
// applied reports whether this call expired it
func (j *Journal) ExpireCallback(
	ctx context.Context, token api.Token, now time.Time,
) (rec *api.CallbackRecord, applied bool, err error) {
	cmd := func(rec *api.CallbackRecord, tx *CallbackTx) error {
		if !rec.Exists() {
			return &api.UnknownTokenError{Token: token}
		}
		if !rec.Overdue(now) {
			return nil
		}
		return j.raiseExpired(tx, rec, ReasonExpired, now, &applied)
	}
	rec, err = j.execCallback(ctx, token, cmd)
	if err != nil {
		return nil, false, err
	}
	return rec, applied, nil
}

// CancelCallback expires an awaiting callback regardless of its deadline
func (j *Journal) CancelCallback(
	ctx context.Context, token api.Token, reason string, now time.Time,
) (rec *api.CallbackRecord, applied bool, err error) {
	cmd := func(rec *api.CallbackRecord, tx *CallbackTx) error {
		if !rec.Exists() {
			return &api.UnknownTokenError{Token: token}
		}
		if rec.IsTerminal() {
			return nil
		}
		return j.raiseExpired(tx, rec, reason, now, &applied)
	}
	rec, err = j.execCallback(ctx, token, cmd)
	if err != nil {
		return nil, false, err
	}
	return rec, applied, nil
}

func (j *Journal) raiseExpired(
	tx *CallbackTx, rec *api.CallbackRecord, reason string,
	now time.Time, applied *bool,
) error {
	if !callbackTransitions.CanTransition(rec.Status, api.CallbackExpired) {
		return ErrInvalidTransition
	}
	if err := tx.Raise(api.EventTypeCallbackExpired,
		api.CallbackExpiredEvent{
			Token:  rec.Token,
			Reason: reason,
			At:     now,
		},
	); err != nil {
		return err
	}
	if applied != nil {
		tx.OnSuccess(func(*api.CallbackRecord) {
			*applied = true
		})
	}
	j.notifyCallback(tx)
	return nil
}
