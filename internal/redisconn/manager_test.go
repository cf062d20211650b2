package redisconn

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/nodeflow/config"
)

func setupTestRedis(t *testing.T, opts Options) (*miniredis.Miniredis, *Manager) {
	t.Helper()
	mr := miniredis.RunT(t)
	m, err := NewManager(context.Background(), config.RedisConfig{Addr: mr.Addr(), PoolSize: 4}, opts, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return mr, m
}

func TestNewManager(t *testing.T) {
	t.Parallel()
	_, m := setupTestRedis(t, Options{})

	require.NoError(t, m.Ping(context.Background()))
	require.NoError(t, m.Client().Set(context.Background(), "k", "v", 0).Err())
	v, err := m.Client().Get(context.Background(), "k").Result()
	require.NoError(t, err)
	assert.Equal(t, "v", v)
}

func TestNewManager_Unreachable(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewManager(context.Background(), config.RedisConfig{Addr: addr}, Options{DialTimeout: 200 * time.Millisecond}, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to redis")
}

func TestManager_Close(t *testing.T) {
	t.Parallel()
	_, m := setupTestRedis(t, Options{HealthCheckInterval: 10 * time.Millisecond})

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	assert.ErrorIs(t, m.Ping(context.Background()), ErrClosed)
}

func TestManager_PingAfterServerStops(t *testing.T) {
	t.Parallel()
	mr, m := setupTestRedis(t, Options{})

	mr.Close()
	assert.Error(t, m.Ping(context.Background()))
}

func TestManager_GetStats(t *testing.T) {
	t.Parallel()
	_, m := setupTestRedis(t, Options{})

	require.NoError(t, m.Ping(context.Background()))
	stats := m.GetStats()
	assert.GreaterOrEqual(t, stats.TotalConns, uint32(1))
}
