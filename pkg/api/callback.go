package api

import "time"

type (
	// CallbackStatus represents the state of a callback token
	CallbackStatus string

	// CallbackRecord is the journaled state of one callback token. It makes
	// exactly one transition out of awaiting
	CallbackRecord struct {
		CreatedAt   time.Time      `json:"created_at"`
		TimeoutAt   time.Time      `json:"timeout_at"`
		SettledAt   time.Time      `json:"settled_at,omitzero"`
		Payload     *Payload       `json:"payload,omitempty"`
		Token       Token          `json:"token"`
		ExecutionID ExecutionID    `json:"execution_id"`
		Label       Label          `json:"label"`
		Status      CallbackStatus `json:"status"`
		Error       string         `json:"error,omitempty"`
	}

	// Resolution is the settled outcome of a callback as seen by a program
	Resolution struct {
		Payload *Payload       `json:"payload,omitempty"`
		Status  CallbackStatus `json:"status"`
		Error   string         `json:"error,omitempty"`
	}
)

const (
	CallbackAwaiting CallbackStatus = "awaiting"
	CallbackResolved CallbackStatus = "resolved"
	CallbackFailed   CallbackStatus = "failed"
	CallbackExpired  CallbackStatus = "expired"
)

// Exists reports whether the callback was created
func (r *CallbackRecord) Exists() bool {
	return r != nil && r.Token != ""
}

// IsTerminal reports whether the callback left the awaiting state
func (r *CallbackRecord) IsTerminal() bool {
	return r.Status != CallbackAwaiting
}

// Overdue reports whether an awaiting callback has reached its deadline
func (r *CallbackRecord) Overdue(now time.Time) bool {
	return r.Status == CallbackAwaiting && !now.Before(r.TimeoutAt)
}

// Resolution returns the settled outcome of the callback
func (r *CallbackRecord) Resolution() *Resolution {
	return &Resolution{
		Status:  r.Status,
		Payload: r.Payload,
		Error:   r.Error,
	}
}

// Err converts an unsuccessful outcome into the error a program observes
// when awaiting it. A resolved callback yields nil
func (r *CallbackRecord) Err() error {
	switch r.Status {
	case CallbackExpired:
		return &TimeoutError{
			Token:     r.Token,
			Label:     r.Label,
			TimeoutAt: r.TimeoutAt,
		}
	case CallbackFailed:
		return &CallbackRejectedError{
			Token:  r.Token,
			Label:  r.Label,
			Reason: r.Error,
		}
	default:
		return nil
	}
}

// SetStatus returns a new CallbackRecord with the given status
func (r *CallbackRecord) SetStatus(s CallbackStatus) *CallbackRecord {
	res := *r
	res.Status = s
	return &res
}

// SetPayload returns a new CallbackRecord holding a resolution payload
func (r *CallbackRecord) SetPayload(p Payload) *CallbackRecord {
	res := *r
	res.Payload = &p
	return &res
}

// SetError returns a new CallbackRecord holding a resolution error
func (r *CallbackRecord) SetError(msg string) *CallbackRecord {
	res := *r
	res.Error = msg
	return &res
}

// SetSettledAt returns a new CallbackRecord with the settlement time set
func (r *CallbackRecord) SetSettledAt(t time.Time) *CallbackRecord {
	res := *r
	res.SettledAt = t
	return &res
}
