package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kode4food/tollgate/internal/assert/helpers"
	"github.com/kode4food/tollgate/internal/engine"
	"github.com/kode4food/tollgate/internal/server"
	"github.com/kode4food/tollgate/internal/workflow/gate"
	"github.com/kode4food/tollgate/pkg/api"
)

type testServerEnv struct {
	Server *server.Server
	Router *gin.Engine
	*helpers.TestEngineEnv
}

const waitTimeout = 5 * time.Second

func init() {
	gin.SetMode(gin.TestMode)
}

func TestHealthEndpoint(t *testing.T) {
	env := testServer(t)
	defer env.Cleanup()

	w := env.do(t, "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var res api.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "tollgate", res.Service)
	assert.Equal(t, api.HealthHealthy, res.Status)
}

func TestHealthUnhealthy(t *testing.T) {
	env := testServer(t)
	defer env.Cleanup()

	env.Redis.Close()

	w := env.do(t, "GET", "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var res api.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, api.HealthUnhealthy, res.Status)
	assert.NotEmpty(t, res.Error)
}

func TestListPrograms(t *testing.T) {
	env := testServer(t)
	defer env.Cleanup()

	w := env.do(t, "GET", "/programs", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var res api.ProgramsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, []api.ProgramName{gate.Name}, res.Programs)
	assert.Equal(t, 1, res.Count)
}

func TestStartExecution(t *testing.T) {
	env := testServer(t)
	defer env.Cleanup()

	st := env.start(t, "exec-1")
	assert.Equal(t, api.ExecutionID("exec-1"), st.ID)
	assert.Equal(t, gate.Name, st.Program)

	waitForStatus(t, env, "exec-1", api.ExecutionSuspended)
}

func TestStartExecutionInvalidJSON(t *testing.T) {
	env := testServer(t)
	defer env.Cleanup()

	w := env.do(t, "POST", "/executions", []byte("{not json"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStartExecutionValidation(t *testing.T) {
	env := testServer(t)
	defer env.Cleanup()

	for _, body := range []string{
		`{}`,
		`{"program":"missing"}`,
		`{"program":"approval-gate","execution_id":"bad id"}`,
	} {
		w := env.do(t, "POST", "/executions", []byte(body))
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}
}

func TestStartExecutionConflict(t *testing.T) {
	env := testServer(t)
	defer env.Cleanup()

	err := env.Engine.Register(&engine.Program{
		Name: "other",
		Run: func(*engine.Context, api.Payload) (api.Payload, error) {
			return api.Payload{}, nil
		},
	})
	require.NoError(t, err)

	env.start(t, "exec-1")
	body, _ := json.Marshal(api.StartExecutionRequest{
		Program:     "other",
		ExecutionID: "exec-1",
	})
	w := env.do(t, "POST", "/executions", body)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestGetExecution(t *testing.T) {
	env := testServer(t)
	defer env.Cleanup()

	env.start(t, "exec-1")
	st := waitForStatus(t, env, "exec-1", api.ExecutionSuspended)
	assert.Contains(t, st.Callbacks, gate.Label)

	w := env.do(t, "GET", "/executions/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetExecutionEvents(t *testing.T) {
	env := testServer(t)
	defer env.Cleanup()

	env.start(t, "exec-1")
	waitForStatus(t, env, "exec-1", api.ExecutionSuspended)

	w := env.do(t, "GET", "/executions/exec-1/events", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var res api.EventsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.NotEmpty(t, res.Events)
	assert.Equal(t, len(res.Events), res.Count)
	assert.Equal(t, api.EventTypeExecutionStarted, res.Events[0].Type)

	last := res.Events[len(res.Events)-1].Sequence
	w = env.do(t, "GET",
		"/executions/exec-1/events?from="+strconv.FormatInt(last, 10), nil,
	)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, 1, res.Count)

	w = env.do(t, "GET", "/executions/exec-1/events?from=abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, "GET", "/executions/missing/events", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestResolveCallback(t *testing.T) {
	env := testServer(t)
	defer env.Cleanup()

	env.start(t, "exec-1")
	token := waitForToken(t, env, "exec-1")

	body := []byte(`{"data":{"approved":true}}`)
	w := env.do(t, "POST", "/callbacks/"+string(token)+"/resolve", body)
	require.Equal(t, http.StatusOK, w.Code)

	var res api.SettledResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.False(t, res.AlreadySettled)
	assert.Equal(t, api.CallbackResolved, res.Callback.Status)

	st := waitForStatus(t, env, "exec-1", api.ExecutionSucceeded)
	var out gate.Outcome
	require.NoError(t, st.Result.Decode(&out))
	assert.True(t, out.Notified)

	w = env.do(t, "POST", "/callbacks/"+string(token)+"/resolve",
		[]byte(`{"data":{"approved":false}}`),
	)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.True(t, res.AlreadySettled)
	assert.JSONEq(t, `{"approved":true}`, string(res.Callback.Payload.Data))
}

func TestRejectCallback(t *testing.T) {
	env := testServer(t)
	defer env.Cleanup()

	env.start(t, "exec-1")
	token := waitForToken(t, env, "exec-1")

	w := env.do(t, "POST", "/callbacks/"+string(token)+"/reject",
		[]byte(`{"error":""}`),
	)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, "POST", "/callbacks/"+string(token)+"/reject",
		[]byte(`{"error":"UserRejection"}`),
	)
	require.Equal(t, http.StatusOK, w.Code)

	st := waitForStatus(t, env, "exec-1", api.ExecutionFailed)
	assert.Equal(t, api.ErrorTypeRejected, st.ErrorType)
	assert.Contains(t, st.Error, "UserRejection")
}

func TestCallbackErrors(t *testing.T) {
	env := testServer(t)
	defer env.Cleanup()

	unknown := string(api.NewToken())
	w := env.do(t, "GET", "/callbacks/"+unknown, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, "POST", "/callbacks/"+unknown+"/resolve",
		[]byte(`{"data":true}`),
	)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, "GET", "/callbacks/not-a-token", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, "POST", "/callbacks/"+unknown+"/resolve",
		[]byte(`{"data":`),
	)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, "POST", "/callbacks/"+unknown+"/resolve",
		[]byte(`{"schema":"json"}`),
	)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetCallback(t *testing.T) {
	env := testServer(t)
	defer env.Cleanup()

	env.start(t, "exec-1")
	token := waitForToken(t, env, "exec-1")

	w := env.do(t, "GET", "/callbacks/"+string(token), nil)
	require.Equal(t, http.StatusOK, w.Code)

	var rec api.CallbackRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.Equal(t, token, rec.Token)
	assert.Equal(t, api.ExecutionID("exec-1"), rec.ExecutionID)
	assert.Equal(t, api.CallbackAwaiting, rec.Status)
}

func TestResumeExecution(t *testing.T) {
	env := testServer(t)
	defer env.Cleanup()

	env.start(t, "exec-1")
	waitForStatus(t, env, "exec-1", api.ExecutionSuspended)

	w := env.do(t, "POST", "/executions/exec-1/resume", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var st api.ExecutionState
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.Equal(t, api.ExecutionSuspended, st.Status)

	w = env.do(t, "POST", "/executions/missing/resume", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCancelExecution(t *testing.T) {
	env := testServer(t)
	defer env.Cleanup()

	env.start(t, "exec-1")
	token := waitForToken(t, env, "exec-1")

	w := env.do(t, "POST", "/executions/exec-1/cancel", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var st api.ExecutionState
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.Equal(t, api.ExecutionFailed, st.Status)
	assert.Equal(t, api.ErrorTypeCancelled, st.ErrorType)

	w = env.do(t, "POST", "/executions/exec-1/cancel", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	rec, err := env.Engine.GetCallback(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, api.CallbackExpired, rec.Status)
}

func testServer(t *testing.T) *testServerEnv {
	t.Helper()
	return testServerWith(t, helpers.NewTestEngine(t))
}

func testServerWith(
	t *testing.T, env *helpers.TestEngineEnv,
) *testServerEnv {
	t.Helper()

	require.NoError(t, env.Engine.Register(gate.Program(time.Hour)))
	require.NoError(t, env.Engine.Start())

	srv := server.NewServer(env.Engine)
	return &testServerEnv{
		Server:        srv,
		Router:        srv.SetupRoutes(),
		TestEngineEnv: env,
	}
}

func (e *testServerEnv) do(
	t *testing.T, method, path string, body []byte,
) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}

func (e *testServerEnv) start(
	t *testing.T, id api.ExecutionID,
) *api.ExecutionState {
	t.Helper()
	body, err := json.Marshal(api.StartExecutionRequest{
		Program:     gate.Name,
		ExecutionID: id,
	})
	require.NoError(t, err)

	w := e.do(t, "POST", "/executions", body)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var st api.ExecutionState
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	return &st
}

func waitForStatus(
	t *testing.T, env *testServerEnv, id api.ExecutionID,
	status api.ExecutionStatus,
) *api.ExecutionState {
	t.Helper()
	var st api.ExecutionState
	assert.Eventually(t, func() bool {
		w := env.do(t, "GET", "/executions/"+string(id), nil)
		if w.Code != http.StatusOK {
			return false
		}
		if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
			return false
		}
		return st.Status == status
	}, waitTimeout, 10*time.Millisecond)
	require.Equal(t, status, st.Status)
	return &st
}

func waitForToken(
	t *testing.T, env *testServerEnv, id api.ExecutionID,
) api.Token {
	t.Helper()
	st := waitForStatus(t, env, id, api.ExecutionSuspended)
	ref, ok := st.Callbacks[gate.Label]
	require.True(t, ok)
	return ref.Token
}
