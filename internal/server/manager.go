package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// 🌐 HTTP 服务器管理器
// =============================================================================

// Config 服务器配置，作用于 Manager 管理的所有监听端点
type Config struct {
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" json:"read_timeout"`

	// 写入超时（SSE 流受此限制）
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`

	// 空闲超时
	IdleTimeout time.Duration `yaml:"idle_timeout" json:"idle_timeout"`

	// 最大请求头大小
	MaxHeaderBytes int `yaml:"max_header_bytes" json:"max_header_bytes"`

	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// DefaultConfig 返回默认服务器配置
func DefaultConfig() Config {
	return Config{
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    5 * time.Minute,
		IdleTimeout:     120 * time.Second,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: 15 * time.Second,
	}
}

type endpoint struct {
	name     string
	addr     string
	server   *http.Server
	listener net.Listener
}

// Manager 管理一组命名的 HTTP 端点（API、metrics），统一启动与优雅关闭。
type Manager struct {
	config    Config
	logger    *zap.Logger
	endpoints []*endpoint

	mu      sync.Mutex
	started bool
	closed  bool
	group   *errgroup.Group
	failed  chan error
}

// NewManager 创建服务器管理器
func NewManager(config Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		config: config,
		logger: logger.With(zap.String("component", "http_server")),
		failed: make(chan error, 1),
	}
}

// Handle 注册一个端点；必须在 Start 之前调用。
func (m *Manager) Handle(name, addr string, handler http.Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.endpoints = append(m.endpoints, &endpoint{
		name: name,
		addr: addr,
		server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadTimeout:       m.config.ReadTimeout,
			ReadHeaderTimeout: m.config.ReadTimeout,
			WriteTimeout:      m.config.WriteTimeout,
			IdleTimeout:       m.config.IdleTimeout,
			MaxHeaderBytes:    m.config.MaxHeaderBytes,
		},
	})
}

// =============================================================================
// 🎯 核心方法
// =============================================================================

// Start 监听所有端点并在后台服务（非阻塞）。任一端口监听失败时已打开的监听器会被关闭。
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("server is closed")
	}
	if m.started {
		return fmt.Errorf("server already started")
	}
	if len(m.endpoints) == 0 {
		return fmt.Errorf("no endpoints registered")
	}

	for i, ep := range m.endpoints {
		ln, err := net.Listen("tcp", ep.addr)
		if err != nil {
			for _, prev := range m.endpoints[:i] {
				_ = prev.listener.Close()
				prev.listener = nil
			}
			return fmt.Errorf("failed to listen on %s (%s): %w", ep.addr, ep.name, err)
		}
		ep.listener = ln
	}

	m.group = new(errgroup.Group)
	for _, ep := range m.endpoints {
		ep := ep
		m.logger.Info("starting HTTP server",
			zap.String("endpoint", ep.name),
			zap.String("addr", ep.listener.Addr().String()),
		)
		m.group.Go(func() error {
			if err := ep.server.Serve(ep.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				m.logger.Error("HTTP server failed", zap.String("endpoint", ep.name), zap.Error(err))
				select {
				case m.failed <- fmt.Errorf("%s: %w", ep.name, err):
				default:
				}
				return err
			}
			return nil
		})
	}
	m.started = true
	return nil
}

// Run 启动所有端点并阻塞，直到 ctx 取消或某个端点异常退出，随后优雅关闭全部端点。
func (m *Manager) Run(ctx context.Context) error {
	if err := m.Start(); err != nil {
		return err
	}

	var runErr error
	select {
	case <-ctx.Done():
		m.logger.Info("shutdown requested")
	case runErr = <-m.failed:
		m.logger.Error("server exited unexpectedly", zap.Error(runErr))
	}

	if err := m.Shutdown(context.WithoutCancel(ctx)); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// Shutdown 在 ShutdownTimeout 内排空请求并关闭全部端点；重复调用无副作用。
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	started := m.started
	group := m.group
	m.mu.Unlock()

	if !started {
		return nil
	}

	m.logger.Info("shutting down HTTP servers")
	shutdownCtx, cancel := context.WithTimeout(ctx, m.config.ShutdownTimeout)
	defer cancel()

	var errs []error
	for _, ep := range m.endpoints {
		if err := ep.server.Shutdown(shutdownCtx); err != nil {
			m.logger.Error("HTTP server shutdown failed", zap.String("endpoint", ep.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", ep.name, err))
		}
	}
	// Serve 的错误已经通过 failed 通道上报
	_ = group.Wait()

	m.logger.Info("HTTP servers stopped")
	return errors.Join(errs...)
}

// =============================================================================
// 🔧 辅助方法
// =============================================================================

// Addr 返回端点的实际监听地址；未启动时返回配置地址。
func (m *Manager) Addr(name string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ep := range m.endpoints {
		if ep.name != name {
			continue
		}
		if ep.listener != nil {
			return ep.listener.Addr().String()
		}
		return ep.addr
	}
	return ""
}

// IsRunning 检查服务器是否运行中
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started && !m.closed
}
