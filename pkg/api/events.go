package api

import "time"

type (
	// ExecutionStartedEvent is emitted when a program run is first recorded
	ExecutionStartedEvent struct {
		Deadline    time.Time   `json:"deadline,omitzero"`
		Input       Payload     `json:"input"`
		ExecutionID ExecutionID `json:"execution_id"`
		Program     ProgramName `json:"program"`
	}

	// ExecutionResumedEvent is emitted when a suspended execution is
	// invoked again
	ExecutionResumedEvent struct {
		ExecutionID ExecutionID `json:"execution_id"`
	}

	// ExecutionSuspendedEvent is emitted when an ephemeral invocation ends
	// at an unresolved operation. ResumeAt is zero when only a callback
	// settlement can wake the execution
	ExecutionSuspendedEvent struct {
		ResumeAt    time.Time   `json:"resume_at,omitzero"`
		ExecutionID ExecutionID `json:"execution_id"`
		Reason      string      `json:"reason,omitempty"`
	}

	// ExecutionSucceededEvent is emitted when a program returns normally
	ExecutionSucceededEvent struct {
		Result      Payload     `json:"result"`
		ExecutionID ExecutionID `json:"execution_id"`
	}

	// ExecutionFailedEvent is emitted when a program ends with an error.
	// Status is either failed or timed-out
	ExecutionFailedEvent struct {
		ExecutionID ExecutionID     `json:"execution_id"`
		Status      ExecutionStatus `json:"status"`
		ErrorType   ErrorType       `json:"error_type"`
		Error       string          `json:"error"`
	}

	// ExecutionArchivedEvent is emitted once a terminal execution has been
	// copied to the archive
	ExecutionArchivedEvent struct {
		ExecutionID ExecutionID `json:"execution_id"`
		Location    string      `json:"location"`
	}

	// StepClaimedEvent is emitted when an attempt of a step begins
	StepClaimedEvent struct {
		At          time.Time   `json:"at"`
		LeaseUntil  time.Time   `json:"lease_until"`
		ExecutionID ExecutionID `json:"execution_id"`
		Step        StepName    `json:"step"`
		Owner       string      `json:"owner"`
		Attempt     int         `json:"attempt"`
	}

	// StepRenewedEvent extends the lease of a running attempt
	StepRenewedEvent struct {
		LeaseUntil  time.Time   `json:"lease_until"`
		ExecutionID ExecutionID `json:"execution_id"`
		Step        StepName    `json:"step"`
		Owner       string      `json:"owner"`
		Attempt     int         `json:"attempt"`
	}

	// StepSucceededEvent is emitted when an attempt of a step succeeds
	StepSucceededEvent struct {
		Result      Payload     `json:"result"`
		ExecutionID ExecutionID `json:"execution_id"`
		Step        StepName    `json:"step"`
		Attempt     int         `json:"attempt"`
	}

	// StepFailedEvent is emitted when an attempt of a step fails
	StepFailedEvent struct {
		NextAttemptAt time.Time   `json:"next_attempt_at,omitzero"`
		ExecutionID   ExecutionID `json:"execution_id"`
		Step          StepName    `json:"step"`
		Error         string      `json:"error"`
		Attempt       int         `json:"attempt"`
	}

	// CallbackRegisteredEvent binds a callback label of an execution to the
	// token minted for it
	CallbackRegisteredEvent struct {
		TimeoutAt   time.Time   `json:"timeout_at"`
		ExecutionID ExecutionID `json:"execution_id"`
		Label       Label       `json:"label"`
		Token       Token       `json:"token"`
	}

	// CallbackCreatedEvent is emitted when a callback token is minted
	CallbackCreatedEvent struct {
		At          time.Time   `json:"at"`
		TimeoutAt   time.Time   `json:"timeout_at"`
		Token       Token       `json:"token"`
		ExecutionID ExecutionID `json:"execution_id"`
		Label       Label       `json:"label"`
	}

	// CallbackResolvedEvent is emitted when a callback receives a payload
	CallbackResolvedEvent struct {
		At      time.Time `json:"at"`
		Payload Payload   `json:"payload"`
		Token   Token     `json:"token"`
	}

	// CallbackFailedEvent is emitted when a callback is rejected
	CallbackFailedEvent struct {
		At    time.Time `json:"at"`
		Token Token     `json:"token"`
		Error string    `json:"error"`
	}

	// CallbackExpiredEvent is emitted when a callback passes its deadline,
	// or is withdrawn because its execution was cancelled
	CallbackExpiredEvent struct {
		At     time.Time `json:"at"`
		Token  Token     `json:"token"`
		Reason string    `json:"reason,omitempty"`
	}

	// EventType identifies the type of event in the journal
	EventType string
)

const (
	EventTypeExecutionStarted   EventType = "execution_started"
	EventTypeExecutionResumed   EventType = "execution_resumed"
	EventTypeExecutionSuspended EventType = "execution_suspended"
	EventTypeExecutionSucceeded EventType = "execution_succeeded"
	EventTypeExecutionFailed    EventType = "execution_failed"
	EventTypeExecutionArchived  EventType = "execution_archived"
	EventTypeStepClaimed        EventType = "step_claimed"
	EventTypeStepRenewed        EventType = "step_renewed"
	EventTypeStepSucceeded      EventType = "step_succeeded"
	EventTypeStepFailed         EventType = "step_failed"
	EventTypeCallbackRegistered EventType = "callback_registered"
	EventTypeCallbackCreated    EventType = "callback_created"
	EventTypeCallbackResolved   EventType = "callback_resolved"
	EventTypeCallbackFailed     EventType = "callback_failed"
	EventTypeCallbackExpired    EventType = "callback_expired"
)
