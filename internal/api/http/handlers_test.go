package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/ptyd/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/ptyd/internal/providers/terminal"
	"github.com/GriffinCanCode/ptyd/internal/providers/terminal/terminaltest"
	"github.com/GriffinCanCode/ptyd/internal/service"
)

type fixture struct {
	router   *gin.Engine
	sessions *terminal.Registry
	opener   *terminaltest.Opener
	metrics  *monitoring.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	opener := &terminaltest.Opener{}
	metrics := monitoring.NewMetrics(prometheus.NewRegistry())

	opts := terminal.DefaultOptions()
	opts.Open = opener.Open
	opts.GracePeriod = 50 * time.Millisecond
	opts.Observer = metrics
	sessions := terminal.NewRegistry(opts)
	t.Cleanup(func() { _ = sessions.Shutdown(context.Background()) })

	cmd := terminal.Command{Path: "/bin/sh"}
	services := service.NewRegistry()
	require.NoError(t, services.Register(terminal.NewProvider(sessions, cmd, terminal.DefaultSize())))

	h := NewHandlers(Config{
		Sessions: sessions,
		Services: services,
		Metrics:  metrics,
		Command:  cmd,
	})
	router := gin.New()
	h.Register(router)

	return &fixture{router: router, sessions: sessions, opener: opener, metrics: metrics}
}

func (f *fixture) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	var data map[string]interface{}
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &data), w.Body.String())
	}
	return w, data
}

func TestRootHealthKeys(t *testing.T) {
	f := newFixture(t)

	w, data := f.do(t, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "online", data["status"])

	w, data = f.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", data["status"])
	assert.EqualValues(t, 0, data["sessions"])

	w, data = f.do(t, http.MethodGet, "/keys", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, data["keys"], "ctrl_c")

	w, _ = f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ptyd_sessions_active")
}

func TestCreateSession(t *testing.T) {
	f := newFixture(t)

	w, data := f.do(t, http.MethodPost, "/sessions", "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	generated := data["id"].(string)
	assert.True(t, strings.HasPrefix(generated, "sess_"))
	assert.Equal(t, "/bin/sh", data["command"])
	assert.EqualValues(t, 24, data["rows"])

	w, data = f.do(t, http.MethodPost, "/sessions",
		`{"id":"py","command":"python3","args":["-q"],"env":{"A":"1"},"rows":40,"cols":100}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "py", data["id"])
	assert.EqualValues(t, 100, data["cols"])

	h, cmd := f.opener.Last()
	assert.Equal(t, terminal.Command{Path: "python3", Args: []string{"-q"}, Env: map[string]string{"A": "1"}}, cmd)
	assert.Equal(t, terminal.Size{Rows: 40, Cols: 100}, h.Size())

	w, data = f.do(t, http.MethodPost, "/sessions", `{"id":"big","rows":501}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_config", data["code"])

	w, _ = f.do(t, http.MethodPost, "/sessions", `{not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, data = f.do(t, http.MethodGet, "/sessions", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, data["count"])

	w, data = f.do(t, http.MethodGet, "/sessions/py", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "running", data["state"])
}

func TestWriteAndRead(t *testing.T) {
	f := newFixture(t)

	w, data := f.do(t, http.MethodPost, "/sessions/build/write", `{"text":"hello\n"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.EqualValues(t, 6, data["bytes"])
	assert.Equal(t, 1, f.opener.Count(), "write creates the session on demand")

	w, data = f.do(t, http.MethodGet, "/sessions/build/read?timeout_ms=1000", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "hello\n", data["text"])
	assert.Equal(t, "running", data["state"])

	w, data = f.do(t, http.MethodGet, "/sessions/build/read?timeout_ms=0", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "", data["text"])

	h, _ := f.opener.Last()
	assert.Equal(t, "hello\n", h.Input())
}

func TestSendKey(t *testing.T) {
	f := newFixture(t)

	w, data := f.do(t, http.MethodPost, "/sessions/k/keys", `{"key":"not_a_key"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_key", data["code"])
	assert.Equal(t, 0, f.opener.Count(), "unknown keys spawn nothing")

	w, _ = f.do(t, http.MethodPost, "/sessions/k/keys", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = f.do(t, http.MethodPost, "/sessions/k/keys", `{"key":"ctrl_c"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	h, _ := f.opener.Last()
	assert.Equal(t, "\x03", h.Input())
}

func TestReadErrors(t *testing.T) {
	f := newFixture(t)

	w, data := f.do(t, http.MethodGet, "/sessions/ghost/read", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "session_not_found", data["code"])

	_, _ = f.do(t, http.MethodPost, "/sessions", `{"id":"s"}`)

	w, _ = f.do(t, http.MethodGet, "/sessions/s/read?timeout_ms=soon", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, data = f.do(t, http.MethodGet, "/sessions/s/read?timeout_ms=60000", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_config", data["code"])

	w, data = f.do(t, http.MethodGet, "/sessions/s/read?max_bytes=10", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_config", data["code"])
}

func TestExitedSession(t *testing.T) {
	f := newFixture(t)

	_, _ = f.do(t, http.MethodPost, "/sessions/x/write", `{"text":"bye"}`)
	_, _ = f.do(t, http.MethodPost, "/sessions/x/keys", `{"key":"ctrl_d"}`)

	require.Eventually(t, func() bool {
		s, err := f.sessions.Get("x")
		if err != nil {
			return false
		}
		select {
		case <-s.Done():
			return true
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	w, data := f.do(t, http.MethodGet, "/sessions/x/read?timeout_ms=0", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "bye", data["text"])
	assert.Equal(t, "terminated", data["state"])

	w, data = f.do(t, http.MethodGet, "/sessions/x/read?timeout_ms=0", "")
	require.Equal(t, http.StatusGone, w.Code, w.Body.String())
	assert.Equal(t, "session_terminated", data["code"])
	assert.EqualValues(t, 0, data["exit_code"])
	assert.Equal(t, "completed", data["reason"])
	assert.Equal(t, "bye", data["final_output"])

	require.Eventually(t, func() bool {
		w, _ := f.do(t, http.MethodGet, "/sessions/x", "")
		return w.Code == http.StatusNotFound
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWriteToExitedSession(t *testing.T) {
	f := newFixture(t)

	w, _ := f.do(t, http.MethodPost, "/sessions/gone/write", `{"text":"out"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	h, _ := f.opener.Last()
	h.Exit(4)

	s, err := f.sessions.Get("gone")
	require.NoError(t, err)
	<-s.Done()

	w, data := f.do(t, http.MethodPost, "/sessions/gone/keys", `{"key":"enter"}`)
	require.Equal(t, http.StatusGone, w.Code, w.Body.String())
	assert.Equal(t, "session_terminated", data["code"])
	assert.EqualValues(t, 4, data["exit_code"])
	assert.Equal(t, "out", data["final_output"])
	assert.Equal(t, 1, f.opener.Count())
	assert.Equal(t, "out", h.Input())

	// Reported once; the id then starts a fresh session.
	w, _ = f.do(t, http.MethodPost, "/sessions/gone/write", `{"text":"again"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 2, f.opener.Count())
}

func TestResizeAndDelete(t *testing.T) {
	f := newFixture(t)
	_, _ = f.do(t, http.MethodPost, "/sessions", `{"id":"r"}`)
	h, _ := f.opener.Last()

	w, data := f.do(t, http.MethodPost, "/sessions/r/resize", `{"rows":30,"cols":0}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_config", data["code"])
	assert.Equal(t, terminal.DefaultSize(), h.Size())

	w, _ = f.do(t, http.MethodPost, "/sessions/r/resize", `{"rows":30,"cols":100}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, terminal.Size{Rows: 30, Cols: 100}, h.Size())

	w, data = f.do(t, http.MethodDelete, "/sessions/r", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, data["removed"])

	w, data = f.do(t, http.MethodDelete, "/sessions/r", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, data["removed"])

	w, _ = f.do(t, http.MethodPost, "/sessions/r/resize", `{"rows":30,"cols":100}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServices(t *testing.T) {
	f := newFixture(t)

	w, data := f.do(t, http.MethodGet, "/services", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, data["services"], 1)

	w, data = f.do(t, http.MethodGet, "/services?category=system", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, data["services"])

	w, data = f.do(t, http.MethodGet, "/services?intent=open+a+terminal+session&limit=3", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Len(t, data["services"], 1)
	assert.Equal(t, "terminal", data["services"].([]interface{})[0].(map[string]interface{})["id"])

	w, data = f.do(t, http.MethodGet, "/services?intent=paint+a+fence", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, data["services"])

	w, _ = f.do(t, http.MethodGet, "/services?intent=terminal&limit=0", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, data = f.do(t, http.MethodPost, "/services/execute", `{"tool_id":"terminal.list_keys"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, data["success"])

	w, data = f.do(t, http.MethodPost, "/services/execute",
		`{"tool_id":"terminal.write","params":{"session_id":"t","text":"x"}}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 1, f.opener.Count())

	w, data = f.do(t, http.MethodPost, "/services/execute", `{"tool_id":"terminal.read","params":{"session_id":"nope"}}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "session_not_found", data["code"])

	w, data = f.do(t, http.MethodPost, "/services/execute", `{"tool_id":"mail.send"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "service_not_found", data["code"])

	w, _ = f.do(t, http.MethodPost, "/services/execute", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{terminal.ErrSessionNotFound, http.StatusNotFound},
		{&terminal.TerminatedError{Reason: terminal.ReasonKilled}, http.StatusGone},
		{&terminal.TerminatedError{Reason: terminal.ReasonTimedOut}, http.StatusRequestTimeout},
		{terminal.ErrInvalidKey, http.StatusBadRequest},
		{terminal.ErrInvalidConfig, http.StatusBadRequest},
		{terminal.ErrInvalidCommand, http.StatusUnprocessableEntity},
		{terminal.ErrPermissionDenied, http.StatusForbidden},
		{terminal.ErrResourceLimit, http.StatusTooManyRequests},
		{terminal.ErrPTY, http.StatusInternalServerError},
		{terminal.ErrIO, http.StatusInternalServerError},
		{errors.New("other"), http.StatusInternalServerError},
		{service.ErrServiceNotFound, http.StatusNotFound},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusFor(tt.err), tt.err.Error())
	}
}

func TestErrorResponse(t *testing.T) {
	resp := NewErrorResponse(&terminal.TerminatedError{
		SessionID:   "a",
		Reason:      terminal.ReasonCompleted,
		Exit:        &terminal.ExitStatus{Code: 3},
		FinalOutput: "tail",
	})
	assert.Equal(t, "session_terminated", resp.Code)
	require.NotNil(t, resp.ExitCode)
	assert.Equal(t, 3, *resp.ExitCode)
	assert.Equal(t, "tail", resp.FinalOutput)

	resp = NewErrorResponse(terminal.ErrSessionNotFound)
	assert.Nil(t, resp.ExitCode)
	assert.Empty(t, resp.FinalOutput)
}
