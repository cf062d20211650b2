package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/nodeflow/config"
	"github.com/BaSui01/nodeflow/workflow"
)

const upperFlow = `{
	"id": "wf-upper",
	"nodes": [
		{"id": "start", "type": "trigger"},
		{"id": "up", "type": "action", "config": {"action": "uppercase"}}
	],
	"edges": [{"source": "start", "target": "up"}]
}`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Server.RateLimitRPS = 0
	cfg.Credentials.Key = "server test passphrase"
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	require.NoError(t, cfg.Validate())
	app, err := NewApp(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })
	return app
}

func newTestServer(t *testing.T, app *App) *httptest.Server {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	srv := httptest.NewServer(app.APIHandler(ctx))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return srv
}

type apiEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func call(t *testing.T, srv *httptest.Server, method, path, body string, header map[string]string) (*http.Response, apiEnvelope) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, srv.URL+path, rd)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var env apiEnvelope
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &env), string(raw))
	}
	return resp, env
}

func TestApp_ExecuteAndFetch(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, newTestApp(t, testConfig(t)))

	resp, env := call(t, srv, http.MethodPost, "/api/v1/workflows/execute", `{"workflow": `+upperFlow+`, "input": "hello"}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))

	var res workflow.ExecutionResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, workflow.StatusSuccess, res.Status)
	assert.Equal(t, "HELLO", res.FinalData)

	resp, env = call(t, srv, http.MethodGet, "/api/v1/executions/"+res.ExecutionID, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var st workflow.JobStatus
	require.NoError(t, json.Unmarshal(env.Data, &st))
	assert.Equal(t, workflow.StatusSuccess, st.Status)
}

func TestApp_HealthAndCatalog(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, newTestApp(t, testConfig(t)))

	resp, _ := call(t, srv, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = call(t, srv, http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, env := call(t, srv, http.MethodGet, "/api/v1/nodes", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var nodeTypes struct {
		Types []string `json:"types"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &nodeTypes))
	assert.Contains(t, nodeTypes.Types, "http")
	assert.Contains(t, nodeTypes.Types, "code")

	resp, env = call(t, srv, http.MethodGet, "/api/v1/tools", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(env.Data), "multiply")
}

func TestApp_APIKeyRequired(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.Server.APIKeys = []string{"secret-key"}
	srv := newTestServer(t, newTestApp(t, cfg))

	resp, env := call(t, srv, http.MethodGet, "/api/v1/nodes", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.NotNil(t, env.Error)
	assert.Equal(t, "UNAUTHORIZED", env.Error.Code)

	resp, _ = call(t, srv, http.MethodGet, "/api/v1/nodes", "", map[string]string{"X-API-Key": "secret-key"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = call(t, srv, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestApp_SQLStore(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.Store.Type = "sql"
	cfg.Database = config.DatabaseConfig{
		Driver: "sqlite",
		Name:   filepath.Join(t.TempDir(), "nodeflow.db"),
	}
	app := newTestApp(t, cfg)
	srv := newTestServer(t, app)

	resp, env := call(t, srv, http.MethodPost, "/api/v1/workflows/execute", `{"workflow": `+upperFlow+`, "input": "sql"}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var res workflow.ExecutionResult
	require.NoError(t, json.Unmarshal(env.Data, &res))

	stored, err := app.store.Get(context.Background(), res.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, "SQL", stored.FinalData)

	resp, _ = call(t, srv, http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestApp_RedisStore(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Store.Type = "redis"
	cfg.Redis.Addr = mr.Addr()
	app := newTestApp(t, cfg)
	srv := newTestServer(t, app)

	resp, env := call(t, srv, http.MethodPost, "/api/v1/workflows/execute", `{"workflow": `+upperFlow+`, "input": "redis"}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var res workflow.ExecutionResult
	require.NoError(t, json.Unmarshal(env.Data, &res))

	resp, env = call(t, srv, http.MethodGet, "/api/v1/executions/"+res.ExecutionID, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var st workflow.JobStatus
	require.NoError(t, json.Unmarshal(env.Data, &st))
	require.NotNil(t, st.Result)
	assert.Equal(t, "REDIS", st.Result.FinalData)

	mr.Close()
	resp, _ = call(t, srv, http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestApp_MetricsHandler(t *testing.T) {
	t.Parallel()
	app := newTestApp(t, testConfig(t))
	srv := newTestServer(t, app)
	call(t, srv, http.MethodGet, "/health", "", nil)

	w := httptest.NewRecorder()
	app.MetricsHandler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "nodeflow_http_requests_total")
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestApp_MongoCredentialsNeedKey(t *testing.T) {
	t.Parallel()
	a := &App{cfg: testConfig(t), logger: zap.NewNop()}
	a.cfg.Credentials.Backend = "mongo"
	a.cfg.Credentials.Key = ""
	_, err := a.credentialStore()
	assert.ErrorContains(t, err, "credentials.key is required")
}

func TestOriginPatterns(t *testing.T) {
	t.Parallel()
	got := originPatterns([]string{"https://editor.example.com", "http://localhost:3000", "::bad"})
	assert.Equal(t, []string{"editor.example.com", "localhost:3000"}, got)
}
