package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func okHandler(body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(body))
	})
}

func get(t *testing.T, addr string) string {
	t.Helper()
	resp, err := http.Get("http://" + addr + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	return string(body)
}

func TestDefaultConfig_Values(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	assert.Equal(t, 30*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 5*time.Minute, cfg.WriteTimeout)
	assert.Equal(t, 120*time.Second, cfg.IdleTimeout)
	assert.Equal(t, 1<<20, cfg.MaxHeaderBytes)
	assert.Equal(t, 15*time.Second, cfg.ShutdownTimeout)
}

func TestManager_ServesAllEndpoints(t *testing.T) {
	t.Parallel()
	m := NewManager(DefaultConfig(), zap.NewNop())
	m.Handle("api", "127.0.0.1:0", okHandler("api"))
	m.Handle("metrics", "127.0.0.1:0", okHandler("metrics"))

	require.NoError(t, m.Start())
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	assert.True(t, m.IsRunning())

	assert.Equal(t, "api", get(t, m.Addr("api")))
	assert.Equal(t, "metrics", get(t, m.Addr("metrics")))

	require.NoError(t, m.Shutdown(context.Background()))
	assert.False(t, m.IsRunning())
}

func TestManager_RunStopsOnCancel(t *testing.T) {
	t.Parallel()
	m := NewManager(DefaultConfig(), zap.NewNop())
	m.Handle("api", "127.0.0.1:0", okHandler("ok"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, m.IsRunning, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "ok", get(t, m.Addr("api")))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.False(t, m.IsRunning())
}

func TestManager_PortInUse(t *testing.T) {
	t.Parallel()
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = busy.Close() })

	m := NewManager(DefaultConfig(), zap.NewNop())
	m.Handle("api", "127.0.0.1:0", okHandler("ok"))
	m.Handle("metrics", busy.Addr().String(), okHandler("ok"))

	err = m.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "metrics")
	assert.False(t, m.IsRunning())
}

func TestManager_DoubleStart(t *testing.T) {
	t.Parallel()
	m := NewManager(DefaultConfig(), zap.NewNop())
	m.Handle("api", "127.0.0.1:0", okHandler("ok"))

	require.NoError(t, m.Start())
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })

	err := m.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already started")
}

func TestManager_NoEndpoints(t *testing.T) {
	t.Parallel()
	m := NewManager(DefaultConfig(), nil)
	assert.Error(t, m.Start())
}

func TestManager_ShutdownIdempotent(t *testing.T) {
	t.Parallel()
	m := NewManager(DefaultConfig(), zap.NewNop())
	m.Handle("api", "127.0.0.1:0", okHandler("ok"))
	require.NoError(t, m.Start())

	require.NoError(t, m.Shutdown(context.Background()))
	require.NoError(t, m.Shutdown(context.Background()))

	err := m.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closed")
}

func TestManager_Addr(t *testing.T) {
	t.Parallel()
	m := NewManager(DefaultConfig(), zap.NewNop())
	m.Handle("api", ":9999", okHandler("ok"))

	assert.Equal(t, ":9999", m.Addr("api"))
	assert.Empty(t, m.Addr("missing"))
}
