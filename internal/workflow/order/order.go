// Package order implements the order approval program: validate an order,
// ask a human to approve it, and process it once approved
package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kode4food/tollgate/internal/engine"
	"github.com/kode4food/tollgate/internal/notify"
	"github.com/kode4food/tollgate/pkg/api"
	"github.com/kode4food/tollgate/pkg/log"
)

type (
	// Input is the order submitted for approval
	Input struct {
		OrderID string `json:"order_id"`
	}

	// Result is the outcome of validating or processing an order
	Result struct {
		Status  string `json:"status"`
		OrderID string `json:"orderId"`
	}

	// Sent records the delivery of an approval request
	Sent struct {
		Sent bool `json:"sent"`
	}

	// ProcessFunc performs the order processing side effect
	ProcessFunc func(ctx context.Context, orderID string) (*Result, error)

	// Options configures the order program. Zero values pick the defaults
	Options struct {
		Process         ProcessFunc
		Retry           *api.RetryPolicy
		ApprovalTimeout time.Duration
	}
)

const (
	// Name is the registered program name
	Name api.ProgramName = "order-approval"

	// ApprovalLabel labels the approval callback
	ApprovalLabel api.Label = "awaiting-approval"

	StepValidate api.StepName = "validate-order"
	StepSend     api.StepName = "send-for-approval"
	StepProcess  api.StepName = "process-order"

	StatusValidated = "validated"
	StatusProcessed = "processed"
	StatusRejected  = "rejected"

	DefaultApprovalTimeout = 3 * time.Minute
)

var (
	ErrValidationFailed = errors.New("order validation failed")
	ErrProcessingFailed = errors.New("order processing failed")
)

// ProcessRetry is the retry policy of the process-order step
var ProcessRetry = api.RetryPolicy{
	MaxAttempts: 3,
	BaseDelay:   time.Second,
	Multiplier:  2.0,
}

// Program builds the order approval program
func Program(opts Options) *engine.Program {
	if opts.Process == nil {
		opts.Process = processOrder
	}
	if opts.Retry == nil {
		retry := ProcessRetry
		opts.Retry = &retry
	}
	if opts.ApprovalTimeout <= 0 {
		opts.ApprovalTimeout = DefaultApprovalTimeout
	}
	return &engine.Program{
		Name: Name,
		Run: func(c *engine.Context, input api.Payload) (api.Payload, error) {
			res, err := run(c, opts, input)
			if err != nil {
				return api.Payload{}, err
			}
			return api.NewPayload(api.SchemaJSON, res)
		},
	}
}

// DecodeInput extracts the order input, requiring an order id
func DecodeInput(p api.Payload) (*Input, error) {
	var in Input
	if err := p.Decode(&in); err != nil {
		return nil, err
	}
	if in.OrderID == "" {
		return nil, api.ValidationError("order_id is required")
	}
	return &in, nil
}

func run(c *engine.Context, opts Options, input api.Payload) (*Result, error) {
	in, err := DecodeInput(input)
	if err != nil {
		return nil, err
	}
	orderID := in.OrderID
	logger := c.Logger()

	validated, err := engine.Step(c, StepValidate,
		func(context.Context) (*Result, error) {
			return validateOrder(orderID), nil
		},
	)
	if err != nil {
		return nil, err
	}
	if validated.Status != StatusValidated {
		return nil, ErrValidationFailed
	}
	logger.Info("Order validated", "order_id", orderID)

	token, pending, err := c.CreateCallback(ApprovalLabel, opts.ApprovalTimeout)
	if err != nil {
		return nil, err
	}

	notifier := c.Notifier()
	if _, err := engine.Step(c, StepSend,
		func(ctx context.Context) (*Sent, error) {
			err := notifier.SendApproval(ctx, &notify.ApprovalRequest{
				Token:       token,
				ExecutionID: c.ExecutionID(),
				Label:       ApprovalLabel,
				TimeoutAt:   pending.TimeoutAt,
				Subject:     fmt.Sprintf("Order %s", orderID),
				Summary: fmt.Sprintf(
					"Please approve order *%s*", orderID,
				),
			})
			if err != nil {
				return nil, err
			}
			return &Sent{Sent: true}, nil
		},
	); err != nil {
		return nil, err
	}
	logger.Info("Approval requested", log.Token(token))

	res, err := c.Await(pending)
	if err != nil {
		return nil, err
	}
	approval, err := api.DecodeApproval(*res.Payload)
	if err != nil {
		return nil, err
	}
	logger.Info("Approval received", "approved", approval.Approved)
	if !approval.Approved {
		return &Result{Status: StatusRejected, OrderID: orderID}, nil
	}

	processed, err := engine.Step(c, StepProcess,
		func(ctx context.Context) (*Result, error) {
			return opts.Process(ctx, orderID)
		},
		engine.WithRetry(*opts.Retry),
	)
	if err != nil {
		return nil, err
	}
	if processed.Status != StatusProcessed {
		return nil, ErrProcessingFailed
	}
	logger.Info("Order processed", "order_id", orderID)
	return processed, nil
}

func validateOrder(orderID string) *Result {
	return &Result{Status: StatusValidated, OrderID: orderID}
}

func processOrder(_ context.Context, orderID string) (*Result, error) {
	return &Result{Status: StatusProcessed, OrderID: orderID}, nil
}
