package api

import "time"

type (
	// StepStatus represents the state of a named step within an execution
	StepStatus string

	// StepRecord is the journaled outcome of a named step. A succeeded
	// record is immutable and its result is handed back verbatim on replay
	StepRecord struct {
		LastAttemptAt time.Time  `json:"last_attempt_at"`
		NextAttemptAt time.Time  `json:"next_attempt_at,omitzero"`
		LeaseUntil    time.Time  `json:"lease_until,omitzero"`
		Result        *Payload   `json:"result,omitempty"`
		Name          StepName   `json:"name"`
		Status        StepStatus `json:"status"`
		Error         string     `json:"error,omitempty"`
		Owner         string     `json:"owner,omitempty"`
		Attempts      int        `json:"attempts"`
	}
)

const (
	StepPending   StepStatus = "pending"
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"
)

// SetStatus returns a new StepRecord with the given status
func (r *StepRecord) SetStatus(s StepStatus) *StepRecord {
	res := *r
	res.Status = s
	return &res
}

// SetAttempt returns a new StepRecord for an attempt started at t
func (r *StepRecord) SetAttempt(n int, t time.Time) *StepRecord {
	res := *r
	res.Attempts = n
	res.LastAttemptAt = t
	return &res
}

// SetLease returns a new StepRecord leased to owner until t
func (r *StepRecord) SetLease(owner string, t time.Time) *StepRecord {
	res := *r
	res.Owner = owner
	res.LeaseUntil = t
	return &res
}

// SetResult returns a new StepRecord holding a success result. The error
// and retry fields are cleared
func (r *StepRecord) SetResult(p Payload) *StepRecord {
	res := *r
	res.Result = &p
	res.Error = ""
	res.NextAttemptAt = time.Time{}
	return &res
}

// SetError returns a new StepRecord holding the failure of its last attempt
// and the earliest time another attempt may start
func (r *StepRecord) SetError(msg string, next time.Time) *StepRecord {
	res := *r
	res.Error = msg
	res.NextAttemptAt = next
	return &res
}

// LeaseExpired reports whether a pending record's lease lapsed before now
func (r *StepRecord) LeaseExpired(now time.Time) bool {
	return r.Status == StepPending && !now.Before(r.LeaseUntil)
}
