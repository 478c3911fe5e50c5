package engine

import (
	"context"

	"github.com/kode4food/tollgate/pkg/api"
)

type (
	// Work is the body of a step. It must be a pure function of its
	// declared inputs: a crash between the work finishing and its result
	// being journaled runs it again
	Work func(ctx context.Context) (api.Payload, error)

	// StepOption configures a single step invocation
	StepOption func(*stepOptions)

	stepOptions struct {
		policy api.RetryPolicy
		schema api.Schema
	}
)

// WithRetry sets the retry policy of a step
func WithRetry(p api.RetryPolicy) StepOption {
	return func(o *stepOptions) {
		o.policy = p
	}
}

// WithMaxAttempts overrides only the attempt bound of the retry policy
func WithMaxAttempts(n int) StepOption {
	return func(o *stepOptions) {
		o.policy.MaxAttempts = n
	}
}

// WithSchema tags the journaled result of a typed step
func WithSchema(s api.Schema) StepOption {
	return func(o *stepOptions) {
		o.schema = s
	}
}

// Step runs fn as a named step of the execution and returns its result.
// A step that already succeeded returns its journaled result without
// calling fn
func Step[T any](
	c *Context, name api.StepName, fn func(context.Context) (T, error),
	opts ...StepOption,
) (T, error) {
	var zero T
	so := &stepOptions{schema: api.SchemaJSON}
	for _, opt := range opts {
		opt(so)
	}

	p, err := c.Run(name, func(ctx context.Context) (api.Payload, error) {
		v, err := fn(ctx)
		if err != nil {
			return api.Payload{}, err
		}
		return api.NewPayload(so.schema, v)
	}, opts...)
	if err != nil {
		return zero, err
	}

	var res T
	if err := p.Decode(&res); err != nil {
		return zero, err
	}
	return res, nil
}
