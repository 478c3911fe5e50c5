package scheduler

import "time"

type (
	// Clock reads the engine's notion of now. Callback deadlines and step
	// leases are compared against it, so tests can move it forward without
	// waiting
	Clock func() time.Time

	// Timer fires once after a delay and can be rearmed. Lease heartbeats
	// and inline backoff waits are driven by one
	Timer interface {
		Channel() <-chan time.Time
		Reset(delay time.Duration) bool
		Stop() bool
	}

	// TimerConstructor makes a Timer. Engines take one as a dependency
	TimerConstructor func(delay time.Duration) Timer

	wallTimer struct {
		*time.Timer
	}
)

// NewTimer returns a Timer backed by the runtime's timers
func NewTimer(delay time.Duration) Timer {
	return &wallTimer{Timer: time.NewTimer(delay)}
}

func (t *wallTimer) Channel() <-chan time.Time {
	return t.C
}
