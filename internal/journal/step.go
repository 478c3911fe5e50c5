package journal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kode4food/tollgate/pkg/api"
)

type (
	// ClaimRequest asks for permission to start the next attempt of a step
	ClaimRequest struct {
		Now         time.Time
		ExecutionID api.ExecutionID
		Step        api.StepName
		Owner       string
		Lease       time.Duration
		MaxAttempts int
	}

	// Claim describes what the caller of ClaimStep should do next
	Claim struct {
		Until   time.Time
		Record  *api.StepRecord
		Outcome ClaimOutcome
		Attempt int
	}

	// ClaimOutcome enumerates the results of a step claim
	ClaimOutcome int

	// StepAttempt identifies one attempt of a step by the owner that
	// claimed it
	StepAttempt struct {
		ExecutionID api.ExecutionID
		Step        api.StepName
		Owner       string
		Number      int
	}
)

const (
	// ClaimAcquired means the caller owns the attempt and must run the work
	ClaimAcquired ClaimOutcome = iota

	// ClaimSucceeded means the step already succeeded and Record holds the
	// journaled result
	ClaimSucceeded

	// ClaimBusy means another owner holds an unexpired lease. Until is the
	// lease expiry
	ClaimBusy

	// ClaimDelayed means the previous attempt failed and its backoff has
	// not elapsed. Until is the earliest time the next attempt may start
	ClaimDelayed

	// ClaimExhausted means no attempts remain. Record holds the last error
	ClaimExhausted
)

// LeaseExpiredError is recorded as the failure of an attempt whose owner
// stopped renewing it before reporting an outcome
const LeaseExpiredError = "step lease expired before the attempt completed"

// ErrLeaseLost is reported to an attempt whose lease was taken over by
// another owner or expired into a recorded failure
var ErrLeaseLost = errors.New("step lease lost")

var claimOutcomeNames = map[ClaimOutcome]string{
	ClaimAcquired:  "acquired",
	ClaimSucceeded: "succeeded",
	ClaimBusy:      "busy",
	ClaimDelayed:   "delayed",
	ClaimExhausted: "exhausted",
}

func (o ClaimOutcome) String() string {
	if name, ok := claimOutcomeNames[o]; ok {
		return name
	}
	return fmt.Sprintf("ClaimOutcome(%d)", int(o))
}

// GetStep returns the journaled record of a step, or nil when the step has
// never been attempted
func (j *Journal) GetStep(
	ctx context.Context, id api.ExecutionID, name api.StepName,
) (*api.StepRecord, error) {
	st, err := j.GetExecution(ctx, id)
	if err != nil {
		return nil, err
	}
	return st.Steps[name], nil
}

// ClaimStep decides, in a single aggregate command, whether the caller may
// start another attempt of a step. Acquiring an attempt journals it as
// pending under a lease so no other owner starts it concurrently
func (j *Journal) ClaimStep(
	ctx context.Context, req ClaimRequest,
) (*Claim, error) {
	if err := api.ValidateName("step", req.Step); err != nil {
		return nil, err
	}
	if req.MaxAttempts < 1 {
		return nil, api.ValidationError("max attempts must be at least 1")
	}

	var res *Claim
	cmd := func(st *api.ExecutionState, tx *ExecutionTx) error {
		if !st.Exists() {
			return fmt.Errorf("%w: %s", api.ErrExecutionNotFound,
				req.ExecutionID)
		}

		rec := st.Steps[req.Step]
		if rec != nil && rec.Status == api.StepSucceeded {
			res = &Claim{Outcome: ClaimSucceeded, Record: rec}
			return nil
		}
		if st.IsTerminal() {
			return fmt.Errorf("%w: %s is %s",
				ErrExecutionTerminal, req.ExecutionID, st.Status)
		}

		res = decideClaim(rec, req)
		switch res.Outcome {
		case ClaimAcquired:
			if err := raiseClaim(tx, req, res); err != nil {
				return err
			}
		case ClaimExhausted:
			if rec.Status != api.StepPending {
				return nil
			}
			// the lease of the final attempt lapsed
			if err := tx.Raise(api.EventTypeStepFailed,
				api.StepFailedEvent{
					ExecutionID: req.ExecutionID,
					Step:        req.Step,
					Error:       LeaseExpiredError,
					Attempt:     rec.Attempts,
				},
			); err != nil {
				return err
			}
		default:
			return nil
		}
		tx.OnSuccess(func(st *api.ExecutionState) {
			res.Record = st.Steps[req.Step]
		})
		j.notifyExecution(tx)
		return nil
	}

	if _, err := j.execExecution(ctx, req.ExecutionID, cmd); err != nil {
		return nil, err
	}
	return res, nil
}

// PutStepResult records the success of a step attempt. Writing an equal
// result over a succeeded record is a no-op; a different result is a
// ConflictError. An attempt that no longer holds the step's lease is
// rejected with ErrLeaseLost
func (j *Journal) PutStepResult(
	ctx context.Context, a StepAttempt, result api.Payload,
) (*api.StepRecord, error) {
	if err := result.Validate(); err != nil {
		return nil, err
	}

	cmd := func(st *api.ExecutionState, tx *ExecutionTx) error {
		if err := checkStepWritable(st, a.ExecutionID); err != nil {
			return err
		}
		rec := st.Steps[a.Step]
		if rec != nil && rec.Status == api.StepSucceeded {
			if rec.Result != nil && rec.Result.Equal(result) {
				return nil
			}
			return &api.ConflictError{
				ExecutionID: a.ExecutionID,
				Step:        a.Step,
			}
		}
		if err := checkHolder(rec, a); err != nil {
			return err
		}
		if rec != nil && !stepTransitions.CanTransition(
			rec.Status, api.StepSucceeded,
		) {
			return fmt.Errorf("%w: %s -> %s",
				ErrInvalidTransition, rec.Status, api.StepSucceeded)
		}
		if err := tx.Raise(api.EventTypeStepSucceeded,
			api.StepSucceededEvent{
				ExecutionID: a.ExecutionID,
				Step:        a.Step,
				Attempt:     a.Number,
				Result:      result,
			},
		); err != nil {
			return err
		}
		j.notifyExecution(tx)
		return nil
	}

	st, err := j.execExecution(ctx, a.ExecutionID, cmd)
	if err != nil {
		return nil, err
	}
	return st.Steps[a.Step], nil
}

// PutStepFailure records the failure of a step attempt, preserving its
// attempt count. nextAttemptAt is the earliest time a retry may start and
// is zero when no retry will follow. Failures reported for a succeeded step
// are ignored; those from an attempt that lost its lease yield ErrLeaseLost
func (j *Journal) PutStepFailure(
	ctx context.Context, a StepAttempt, msg string, nextAttemptAt time.Time,
) (*api.StepRecord, error) {
	cmd := func(st *api.ExecutionState, tx *ExecutionTx) error {
		if err := checkStepWritable(st, a.ExecutionID); err != nil {
			return err
		}
		rec := st.Steps[a.Step]
		if rec != nil && rec.Status == api.StepSucceeded {
			return nil
		}
		if err := checkHolder(rec, a); err != nil {
			return err
		}
		if err := tx.Raise(api.EventTypeStepFailed,
			api.StepFailedEvent{
				ExecutionID:   a.ExecutionID,
				Step:          a.Step,
				Attempt:       a.Number,
				Error:         msg,
				NextAttemptAt: nextAttemptAt,
			},
		); err != nil {
			return err
		}
		j.notifyExecution(tx)
		return nil
	}

	st, err := j.execExecution(ctx, a.ExecutionID, cmd)
	if err != nil {
		return nil, err
	}
	return st.Steps[a.Step], nil
}

// RenewStep extends the lease of a running attempt to now+lease. Only the
// owner of the current attempt may renew it, and only while it is pending
func (j *Journal) RenewStep(
	ctx context.Context, a StepAttempt, now time.Time, lease time.Duration,
) (*api.StepRecord, error) {
	cmd := func(st *api.ExecutionState, tx *ExecutionTx) error {
		if err := checkStepWritable(st, a.ExecutionID); err != nil {
			return err
		}
		rec := st.Steps[a.Step]
		if rec == nil || rec.Status != api.StepPending {
			return fmt.Errorf("%w: %s is not running", ErrLeaseLost, a.Step)
		}
		if err := checkHolder(rec, a); err != nil {
			return err
		}
		if err := tx.Raise(api.EventTypeStepRenewed,
			api.StepRenewedEvent{
				ExecutionID: a.ExecutionID,
				Step:        a.Step,
				Owner:       a.Owner,
				Attempt:     a.Number,
				LeaseUntil:  now.Add(lease),
			},
		); err != nil {
			return err
		}
		j.notifyExecution(tx)
		return nil
	}

	st, err := j.execExecution(ctx, a.ExecutionID, cmd)
	if err != nil {
		return nil, err
	}
	return st.Steps[a.Step], nil
}

func decideClaim(rec *api.StepRecord, req ClaimRequest) *Claim {
	if rec == nil {
		return &Claim{Outcome: ClaimAcquired, Attempt: 1}
	}

	switch rec.Status {
	case api.StepPending:
		if !rec.LeaseExpired(req.Now) {
			return &Claim{
				Outcome: ClaimBusy,
				Record:  rec,
				Attempt: rec.Attempts,
				Until:   rec.LeaseUntil,
			}
		}
	case api.StepFailed:
		if rec.Attempts < req.MaxAttempts &&
			req.Now.Before(rec.NextAttemptAt) {
			return &Claim{
				Outcome: ClaimDelayed,
				Record:  rec,
				Attempt: rec.Attempts,
				Until:   rec.NextAttemptAt,
			}
		}
	}

	if rec.Attempts >= req.MaxAttempts {
		return &Claim{
			Outcome: ClaimExhausted,
			Record:  rec,
			Attempt: rec.Attempts,
		}
	}
	return &Claim{Outcome: ClaimAcquired, Attempt: rec.Attempts + 1}
}

func raiseClaim(tx *ExecutionTx, req ClaimRequest, c *Claim) error {
	c.Until = req.Now.Add(req.Lease)
	return tx.Raise(api.EventTypeStepClaimed, api.StepClaimedEvent{
		ExecutionID: req.ExecutionID,
		Step:        req.Step,
		Owner:       req.Owner,
		Attempt:     c.Attempt,
		At:          req.Now,
		LeaseUntil:  c.Until,
	})
}

// checkHolder rejects a write from an attempt that has been superseded. A
// step nobody has claimed accepts any attempt
func checkHolder(rec *api.StepRecord, a StepAttempt) error {
	switch {
	case rec == nil:
		return nil
	case rec.Status == api.StepPending:
		if rec.Owner == a.Owner && rec.Attempts == a.Number {
			return nil
		}
	case rec.Attempts < a.Number:
		return nil
	}
	return fmt.Errorf("%w: %s attempt %d by %q",
		ErrLeaseLost, a.Step, a.Number, a.Owner)
}

func checkStepWritable(st *api.ExecutionState, id api.ExecutionID) error {
	if !st.Exists() {
		return fmt.Errorf("%w: %s", api.ErrExecutionNotFound, id)
	}
	if st.IsTerminal() {
		return fmt.Errorf("%w: %s is %s", ErrExecutionTerminal, id, st.Status)
	}
	return nil
}
