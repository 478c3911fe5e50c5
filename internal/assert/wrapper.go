package assert

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kode4food/tollgate/internal/config"
	"github.com/kode4food/tollgate/pkg/api"
)

// Wrapper wraps testify assertions with tollgate-specific helpers
type Wrapper struct {
	*testing.T
	*assert.Assertions
	Require *require.Assertions
}

// DefaultRetryInterval is the default polling interval for Eventually checks
const DefaultRetryInterval = 10 * time.Millisecond

// New creates a new test assertion wrapper with both assert and require from
// testify plus tollgate-specific helpers
func New(t *testing.T) *Wrapper {
	return &Wrapper{
		T:          t,
		Assertions: assert.New(t),
		Require:    require.New(t),
	}
}

// ExecutionStatus asserts the status of an execution
func (w *Wrapper) ExecutionStatus(
	st *api.ExecutionState, expected api.ExecutionStatus,
) {
	w.Helper()
	w.Require.NotNil(st)
	w.Equal(expected, st.Status, "execution %s error: %s", st.ID, st.Error)
}

// StepSucceeded asserts that the named step succeeded after the given number
// of attempts and returns its result
func (w *Wrapper) StepSucceeded(
	st *api.ExecutionState, name api.StepName, attempts int,
) *api.Payload {
	w.Helper()
	rec, ok := st.Steps[name]
	w.Require.True(ok, "step %s should be recorded", name)
	w.Equal(api.StepSucceeded, rec.Status)
	w.Equal(attempts, rec.Attempts)
	w.NotNil(rec.Result)
	return rec.Result
}

// StepAbsent asserts that the named step was never attempted
func (w *Wrapper) StepAbsent(st *api.ExecutionState, name api.StepName) {
	w.Helper()
	_, ok := st.Steps[name]
	w.False(ok, "step %s should not be recorded", name)
}

// CallbackStatus asserts the status of a callback record
func (w *Wrapper) CallbackStatus(
	rec *api.CallbackRecord, expected api.CallbackStatus,
) {
	w.Helper()
	w.Require.NotNil(rec)
	w.Equal(expected, rec.Status)
}

// ConfigValid asserts that a configuration is valid
func (w *Wrapper) ConfigValid(cfg *config.Config) {
	w.Helper()
	w.NoError(cfg.Validate())
	w.True(cfg.APIPort > 0 && cfg.APIPort <= config.MaxTCPPort)
	w.True(cfg.StepLease > 0)
}

// ConfigInvalid asserts that a configuration is invalid
func (w *Wrapper) ConfigInvalid(cfg *config.Config, contains string) {
	w.Helper()
	err := cfg.Validate()
	w.Require.Error(err)
	if contains != "" {
		w.Contains(err.Error(), contains)
	}
}

// Eventually runs a condition repeatedly until it passes or times out
func (w *Wrapper) Eventually(
	condition func() bool, timeout time.Duration, msg string, args ...any,
) {
	w.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(DefaultRetryInterval)
	}
	w.Fail(msg, args...)
}
