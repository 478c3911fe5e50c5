package log_test

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kode4food/tollgate/pkg/api"
	"github.com/kode4food/tollgate/pkg/log"
)

type errStub string

func TestExecutionID(t *testing.T) {
	attr := log.ExecutionID(api.ExecutionID("exec-123"))
	assertAttrEqual(t, attr, "execution_id", "exec-123")
}

func TestProgram(t *testing.T) {
	attr := log.Program(api.ProgramName("order"))
	assertAttrEqual(t, attr, "program", "order")
}

func TestStepName(t *testing.T) {
	attr := log.StepName(api.StepName("validate-order"))
	assertAttrEqual(t, attr, "step", "validate-order")
}

func TestLabel(t *testing.T) {
	attr := log.Label(api.Label("awaiting-approval"))
	assertAttrEqual(t, attr, "label", "awaiting-approval")
}

func TestStatus(t *testing.T) {
	attr := log.Status(api.ExecutionSucceeded)
	assertAttrEqual(t, attr, "status", "succeeded")
}

func TestToken(t *testing.T) {
	attr := log.Token(api.Token("token-xyz"))
	assertAttrEqual(t, attr, "token", "token-xyz")
}

func TestAttempt(t *testing.T) {
	attr := log.Attempt(3)
	assert.Equal(t, "attempt", attr.Key)
	assert.Equal(t, int64(3), attr.Value.Int64())
}

func TestError(t *testing.T) {
	attr := log.Error(nil)
	assertAttrEqual(t, attr, "error", "")

	attr = log.Error(errStub("boom"))
	assertAttrEqual(t, attr, "error", "boom")
}

func TestErrorString(t *testing.T) {
	attr := log.ErrorString("badness")
	assertAttrEqual(t, attr, "error", "badness")
}

func (e errStub) Error() string { return string(e) }

func assertAttrEqual(t *testing.T, attr slog.Attr, key, value string) {
	t.Helper()
	assert.Equal(t, key, attr.Key)
	assert.Equal(t, value, attr.Value.String())
}
