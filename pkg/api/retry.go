package api

import (
	"math"
	"time"
)

// RetryPolicy bounds the attempts made for a single step. It is attached to
// a step invocation and never persisted
type RetryPolicy struct {
	MaxAttempts int           `json:"max_attempts"`
	BaseDelay   time.Duration `json:"base_delay"`
	Multiplier  float64       `json:"multiplier"`
	MaxDelay    time.Duration `json:"max_delay,omitempty"`
}

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
	DefaultMultiplier  = 2.0
)

// DefaultRetryPolicy returns the policy used when a step supplies none
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		Multiplier:  DefaultMultiplier,
	}
}

// NoRetry returns a policy permitting exactly one attempt
func NoRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1, Multiplier: 1}
}

// Validate checks the policy bounds
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return ValidationError("max attempts must be at least 1, got %d",
			p.MaxAttempts)
	}
	if p.BaseDelay < 0 {
		return ValidationError("base delay must not be negative")
	}
	if p.Multiplier < 1 {
		return ValidationError("multiplier must be at least 1, got %g",
			p.Multiplier)
	}
	if p.MaxDelay < 0 {
		return ValidationError("max delay must not be negative")
	}
	return nil
}

// Delay returns the wait before the attempt following a failed attempt:
// base × multiplier^(attempt-1), capped at MaxDelay when it is set
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// CanRetry reports whether another attempt may follow the given one
func (p RetryPolicy) CanRetry(attempt int) bool {
	return attempt < p.MaxAttempts
}
