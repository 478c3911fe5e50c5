package journal

import (
	"github.com/kode4food/tollgate/pkg/api"
	"github.com/kode4food/tollgate/pkg/util"
)

var (
	executionTransitions = util.StateTransitions[api.ExecutionStatus]{
		api.ExecutionRunning: util.SetOf(
			api.ExecutionSuspended,
			api.ExecutionSucceeded,
			api.ExecutionFailed,
			api.ExecutionTimedOut,
		),
		api.ExecutionSuspended: util.SetOf(
			api.ExecutionRunning,
			api.ExecutionFailed,
			api.ExecutionTimedOut,
		),
		api.ExecutionSucceeded: {},
		api.ExecutionFailed:    {},
		api.ExecutionTimedOut:  {},
	}

	stepTransitions = util.StateTransitions[api.StepStatus]{
		api.StepPending: util.SetOf(
			api.StepPending,
			api.StepSucceeded,
			api.StepFailed,
		),
		api.StepFailed: util.SetOf(
			api.StepPending,
			api.StepSucceeded,
			api.StepFailed,
		),
		api.StepSucceeded: {},
	}

	callbackTransitions = util.StateTransitions[api.CallbackStatus]{
		api.CallbackAwaiting: util.SetOf(
			api.CallbackResolved,
			api.CallbackFailed,
			api.CallbackExpired,
		),
		api.CallbackResolved: {},
		api.CallbackFailed:   {},
		api.CallbackExpired:  {},
	}
)
