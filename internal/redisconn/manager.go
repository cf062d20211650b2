package redisconn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/nodeflow/config"
)

// ErrClosed is returned by Ping after Close.
var ErrClosed = errors.New("redis connection is closed")

// =============================================================================
// 💾 Redis 连接管理器
// =============================================================================

// Manager 持有进程共享的 Redis 客户端，并周期性探活。
// 执行记录存储与就绪检查共用同一个客户端。
type Manager struct {
	client *redis.Client
	addr   string
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
	stop   chan struct{}
}

// Options 调整连接行为；零值使用默认
type Options struct {
	DialTimeout         time.Duration
	HealthCheckInterval time.Duration
}

// DefaultOptions 5 秒建连超时，30 秒探活一次
func DefaultOptions() Options {
	return Options{
		DialTimeout:         5 * time.Second,
		HealthCheckInterval: 30 * time.Second,
	}
}

// NewManager 建立连接并立即 Ping；不可达时返回错误且不保留客户端
func NewManager(ctx context.Context, cfg config.RedisConfig, opts Options, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultOptions()
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = def.DialTimeout
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  opts.DialTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis %s: %w", cfg.Addr, err)
	}

	m := &Manager{
		client: client,
		addr:   cfg.Addr,
		logger: logger.With(zap.String("component", "redis")),
		stop:   make(chan struct{}),
	}
	if opts.HealthCheckInterval > 0 {
		go m.healthCheckLoop(opts.HealthCheckInterval)
	}

	m.logger.Info("redis connected",
		zap.String("addr", cfg.Addr),
		zap.Int("pool_size", cfg.PoolSize),
	)
	return m, nil
}

// Client 返回共享客户端，调用方不得关闭它
func (m *Manager) Client() redis.UniversalClient {
	return m.client
}

// Ping 检查连接可用
func (m *Manager) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return m.client.Ping(ctx).Err()
}

// Close 停止探活并关闭客户端；重复调用无副作用
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	close(m.stop)
	m.logger.Info("closing redis connection", zap.String("addr", m.addr))
	return m.client.Close()
}

// healthCheckLoop 只记录日志，就绪状态由 /ready 实时探测
func (m *Manager) healthCheckLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := m.Ping(ctx); err != nil && !errors.Is(err, ErrClosed) {
				m.logger.Error("redis health check failed", zap.Error(err))
			}
			cancel()
		}
	}
}

// =============================================================================
// 📊 连接池统计
// =============================================================================

// Stats 连接池统计
type Stats struct {
	Hits       uint32 `json:"hits"`
	Misses     uint32 `json:"misses"`
	Timeouts   uint32 `json:"timeouts"`
	TotalConns uint32 `json:"total_conns"`
	IdleConns  uint32 `json:"idle_conns"`
	StaleConns uint32 `json:"stale_conns"`
}

// GetStats 返回客户端连接池统计
func (m *Manager) GetStats() Stats {
	s := m.client.PoolStats()
	return Stats{
		Hits:       s.Hits,
		Misses:     s.Misses,
		Timeouts:   s.Timeouts,
		TotalConns: s.TotalConns,
		IdleConns:  s.IdleConns,
		StaleConns: s.StaleConns,
	}
}
