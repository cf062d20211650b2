package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/BaSui01/nodeflow/agentic"
	"github.com/BaSui01/nodeflow/api/handlers"
	"github.com/BaSui01/nodeflow/config"
	"github.com/BaSui01/nodeflow/credentials"
	"github.com/BaSui01/nodeflow/internal/database"
	"github.com/BaSui01/nodeflow/internal/metrics"
	"github.com/BaSui01/nodeflow/internal/pool"
	"github.com/BaSui01/nodeflow/internal/redisconn"
	"github.com/BaSui01/nodeflow/internal/server"
	"github.com/BaSui01/nodeflow/internal/telemetry"
	"github.com/BaSui01/nodeflow/internal/tlsutil"
	"github.com/BaSui01/nodeflow/llm"
	"github.com/BaSui01/nodeflow/nodes"
	"github.com/BaSui01/nodeflow/persistence"
	"github.com/BaSui01/nodeflow/retry"
	"github.com/BaSui01/nodeflow/scheduler"
	"github.com/BaSui01/nodeflow/tools"
	"github.com/BaSui01/nodeflow/workflow"
)

// 不需要认证的路径
var skipAuthPaths = []string{"/health", "/ready", "/metrics"}

// =============================================================================
// 🖥️ App：一个进程内的全部组件
// =============================================================================

// App 持有共享连接与引擎。连接由 App 创建，也由 App 关闭。
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	telemetry *telemetry.Providers
	redis     *redisconn.Manager
	mongo     *mongo.Client
	db        *database.PoolManager

	store       persistence.ExecutionStore
	credentials credentials.Store
	tools       *tools.Registry
	nodes       *nodes.Registry
	engine      *workflow.Engine
	agents      *agentic.Builder
	runner      *agentic.Runner

	promRegistry *prometheus.Registry
	metrics      *metrics.Collector
}

// NewApp 按配置建立连接并组装引擎。失败时已建立的连接会被关闭。
func NewApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (app *App, err error) {
	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close(context.WithoutCancel(ctx))
		}
	}()

	providers, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		// 遥测不可用时继续运行
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	a.telemetry = providers

	if err := a.connect(ctx); err != nil {
		return nil, err
	}

	a.store, err = persistence.NewExecutionStore(storeConfig(cfg), persistence.Clients{
		Redis: a.redisClient(),
		Mongo: a.mongo,
		DB:    a.gormDB(),
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("execution store: %w", err)
	}

	if a.credentials, err = a.credentialStore(); err != nil {
		return nil, fmt.Errorf("credential store: %w", err)
	}

	httpClient := tlsutil.SecureHTTPClient(30 * time.Second)
	a.tools = tools.Defaults(tools.Options{
		HTTPClient:    httpClient,
		TavilyAPIKey:  cfg.Tools.TavilyAPIKey,
		TavilyBaseURL: cfg.Tools.TavilyBaseURL,
		SlackToken:    cfg.Tools.SlackToken,
		SlackBaseURL:  cfg.Tools.SlackBaseURL,
		SMTPHost:      cfg.Tools.SMTPHost,
		SMTPPort:      cfg.Tools.SMTPPort,
		SMTPUsername:  cfg.Tools.SMTPUsername,
		SMTPPassword:  cfg.Tools.SMTPPassword,
		SMTPFrom:      cfg.Tools.SMTPFrom,
	})

	llmClient := llm.NewClient(llm.Config{
		BaseURL: cfg.LLM.BaseURL,
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.LLM.Model,
		Timeout: cfg.LLM.Timeout,
	}, nil, logger)

	a.nodes, err = nodes.DefaultRegistry(nodes.Deps{
		HTTPClient: httpClient,
		LLM:        llmClient,
		Tools:      a.tools,
		Sandbox: nodes.SandboxConfig{
			Timeout:         cfg.Sandbox.Timeout,
			CallStackSize:   cfg.Sandbox.CallStackSize,
			RegistryMaxSize: cfg.Sandbox.RegistryMaxSize,
			MaxStringLength: cfg.Sandbox.MaxStringLength,
		},
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("node registry: %w", err)
	}

	a.promRegistry = prometheus.NewRegistry()
	a.promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = metrics.NewCollector("nodeflow", a.promRegistry, logger)

	a.engine = workflow.NewEngine(a.nodes, logger,
		workflow.WithRetryPolicy(&retry.Policy{
			MaxAttempts:  cfg.Engine.MaxAttempts,
			InitialDelay: cfg.Engine.RetryDelay,
			MaxDelay:     cfg.Engine.RetryDelay,
			Multiplier:   1.0,
		}),
		workflow.WithCredentialResolver(a.credentials),
		workflow.WithRecordStore(a.store),
		workflow.WithObserver(a.metrics),
		workflow.WithTracer(a.telemetry.Tracer()),
		workflow.WithNodeTimeout(cfg.Engine.NodeTimeout),
		workflow.WithMaxSteps(cfg.Engine.MaxSteps),
		workflow.WithPreviewLimit(cfg.Engine.PreviewLength),
		workflow.WithPersistSteps(cfg.Engine.PersistSteps),
		workflow.WithPoolConfig(pool.Config{
			Workers:   cfg.Engine.Workers,
			QueueSize: cfg.Engine.QueueSize,
		}),
	)

	a.agents = agentic.NewBuilder(a.tools, logger,
		agentic.WithCredentialResolver(a.credentials),
		agentic.WithProviderKey("groq", cfg.LLM.GroqAPIKey),
		agentic.WithProviderKey("openai", cfg.LLM.OpenAIAPIKey),
		agentic.WithProviderKey("anthropic", cfg.LLM.AnthropicAPIKey),
	)
	a.runner = agentic.NewRunner(llmClient, logger)

	logger.Info("application initialized",
		zap.String("store", cfg.Store.Type),
		zap.String("credentials", cfg.Credentials.Backend),
		zap.Strings("node_types", a.nodes.Types()),
	)
	return a, nil
}

// connect 只建立配置实际用到的连接
func (a *App) connect(ctx context.Context) error {
	cfg := a.cfg

	if cfg.Store.Type == string(persistence.StoreTypeRedis) {
		m, err := redisconn.NewManager(ctx, cfg.Redis, redisconn.DefaultOptions(), a.logger)
		if err != nil {
			return err
		}
		a.redis = m
	}

	if cfg.Store.Type == string(persistence.StoreTypeMongo) || cfg.Credentials.Backend == "mongo" {
		opts := options.Client().ApplyURI(cfg.Mongo.URI)
		if cfg.Mongo.ConnectTimeout > 0 {
			opts.SetConnectTimeout(cfg.Mongo.ConnectTimeout)
		}
		client, err := mongo.Connect(opts)
		if err != nil {
			return fmt.Errorf("connect mongo: %w", err)
		}
		a.mongo = client
		pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
			return fmt.Errorf("ping mongo: %w", err)
		}
		a.logger.Info("mongo connected", zap.String("database", cfg.Mongo.Database))
	}

	if cfg.Store.Type == string(persistence.StoreTypeSQL) {
		db, err := database.Open(cfg.Database, a.logger)
		if err != nil {
			return err
		}
		a.db = db
	}
	return nil
}

func (a *App) redisClient() redis.UniversalClient {
	if a.redis == nil {
		return nil
	}
	return a.redis.Client()
}

func (a *App) gormDB() *gorm.DB {
	if a.db == nil {
		return nil
	}
	return a.db.DB()
}

func storeConfig(cfg *config.Config) persistence.StoreConfig {
	return persistence.StoreConfig{
		Type: persistence.StoreType(cfg.Store.Type),
		Redis: persistence.RedisStoreConfig{
			KeyPrefix: cfg.Store.RedisKeyPrefix,
			TTL:       cfg.Store.RedisTTL,
		},
		Mongo: persistence.MongoStoreConfig{
			Database:   cfg.Mongo.Database,
			Collection: cfg.Store.MongoCollection,
			Timeout:    cfg.Store.OperationTimeout,
		},
	}
}

// credentialStore 未配置密钥时内存后端使用临时密钥，mongo 后端则拒绝启动
func (a *App) credentialStore() (credentials.Store, error) {
	key := a.cfg.Credentials.Key
	if key == "" {
		if a.cfg.Credentials.Backend == "mongo" {
			return nil, errors.New("credentials.key is required for the mongo backend")
		}
		generated, err := credentials.GenerateKey()
		if err != nil {
			return nil, err
		}
		key = generated
		a.logger.Warn("credentials key not configured, stored credentials will not survive a restart")
	}
	cipher, err := credentials.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if a.cfg.Credentials.Backend == "mongo" {
		return credentials.NewMongoStore(a.mongo, a.cfg.Mongo.Database, a.cfg.Credentials.Collection, cipher, a.logger), nil
	}
	return credentials.NewMemoryStore(cipher), nil
}

// Close 关闭引擎与全部连接，返回所有错误
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.engine != nil {
		errs = append(errs, a.engine.Close(ctx))
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.mongo != nil {
		errs = append(errs, a.mongo.Disconnect(ctx))
	}
	errs = append(errs, a.telemetry.Shutdown(ctx))
	return errors.Join(errs...)
}

// =============================================================================
// 🌐 HTTP 路由
// =============================================================================

// APIHandler 构建带中间件链的 API 路由。ctx 结束时停止限流器的清理协程。
func (a *App) APIHandler(ctx context.Context) http.Handler {
	cfg := a.cfg
	logger := a.logger

	health := handlers.NewHealthHandler(Version, logger)
	health.RegisterCheck(handlers.NewPingCheck("execution_store", a.store.Ping))
	if a.db != nil {
		health.RegisterCheck(handlers.NewPingCheck("database", a.db.Ping))
	}
	if a.redis != nil {
		health.RegisterCheck(handlers.NewPingCheck("redis", a.redis.Ping))
	}
	if a.mongo != nil {
		health.RegisterCheck(handlers.NewPingCheck("mongo", func(ctx context.Context) error {
			return a.mongo.Ping(ctx, readpref.Primary())
		}))
	}

	workflows := handlers.NewWorkflowHandler(a.engine, a.agents, a.nodes.Types(), logger)
	agents := handlers.NewAgentHandler(a.agents, a.runner, logger,
		handlers.WithAgentRecorder(a.metrics),
		handlers.WithOriginPatterns(originPatterns(cfg.Server.CORSAllowedOrigins)),
	)
	toolList := handlers.NewToolsHandler(a.tools)
	creds := handlers.NewCredentialsHandler(a.credentials, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", health.HandleHealth)
	mux.HandleFunc("GET /ready", health.HandleReady)

	mux.HandleFunc("POST /api/v1/workflows/execute", workflows.HandleExecute)
	mux.HandleFunc("POST /api/v1/workflows/execute-async", workflows.HandleExecuteAsync)
	mux.HandleFunc("POST /api/v1/workflows/validate", workflows.HandleValidate)
	mux.HandleFunc("GET /api/v1/executions/{id}", workflows.HandleGetExecution)
	mux.HandleFunc("GET /api/v1/nodes", workflows.HandleNodeTypes)
	mux.HandleFunc("GET /api/v1/tools", toolList.HandleList)

	mux.HandleFunc("POST /api/v1/agent/execute", agents.HandleExecute)
	mux.HandleFunc("GET /api/v1/agent/ws", agents.HandleWebSocket)

	mux.HandleFunc("POST /api/v1/credentials", creds.HandleCreate)
	mux.HandleFunc("GET /api/v1/credentials", creds.HandleList)
	mux.HandleFunc("DELETE /api/v1/credentials/{id}", creds.HandleDelete)

	chain := []Middleware{
		Recovery(logger),
		RequestID(),
		SecurityHeaders(),
		OTelTracing(),
		RequestLogger(logger),
		MetricsMiddleware(a.metrics),
		CORS(cfg.Server.CORSAllowedOrigins),
		BodyLimit(cfg.Server.MaxBodyBytes),
	}
	if cfg.Server.RateLimitRPS > 0 {
		chain = append(chain, RateLimiter(ctx, cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst, logger))
	}
	if len(cfg.Server.APIKeys) > 0 {
		chain = append(chain, APIKeyAuth(cfg.Server.APIKeys, skipAuthPaths, logger))
	}
	if cfg.Server.JWTSecret != "" {
		chain = append(chain, JWTAuth(cfg.Server.JWTSecret, cfg.Server.JWTIssuer, skipAuthPaths, logger))
	}
	return Chain(mux, chain...)
}

// MetricsHandler 暴露本进程的 Prometheus 注册表
func (a *App) MetricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.promRegistry, promhttp.HandlerOpts{Registry: a.promRegistry}))
	return mux
}

// originPatterns 将 CORS 来源转换为 websocket 的 host 模式
func originPatterns(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			out = append(out, u.Host)
		}
	}
	return out
}

// =============================================================================
// 🚀 运行
// =============================================================================

// Serve 启动 API 与 metrics 端点以及（可选的）调度器，直到 ctx 结束
func (a *App) Serve(ctx context.Context) error {
	cfg := a.cfg

	mgr := server.NewManager(server.Config{
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     2 * cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, a.logger)
	mgr.Handle("api", fmt.Sprintf(":%d", cfg.Server.HTTPPort), a.APIHandler(ctx))
	if cfg.Server.MetricsPort > 0 {
		mgr.Handle("metrics", fmt.Sprintf(":%d", cfg.Server.MetricsPort), a.MetricsHandler())
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return mgr.Run(gctx) })

	if cfg.Scheduler.Enabled {
		source, err := scheduler.LoadDir(cfg.Scheduler.WorkflowDir)
		if err != nil {
			return fmt.Errorf("load scheduled workflows: %w", err)
		}
		sched := scheduler.New(source, a.engine, scheduler.Config{
			Interval:    cfg.Scheduler.Interval,
			Concurrency: cfg.Scheduler.Concurrency,
		}, a.logger)
		g.Go(func() error {
			if err := sched.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
		a.logger.Info("scheduler started",
			zap.String("dir", cfg.Scheduler.WorkflowDir),
			zap.Duration("interval", cfg.Scheduler.Interval),
		)
	}

	a.logger.Info("NodeFlow serving",
		zap.Int("http_port", cfg.Server.HTTPPort),
		zap.Int("metrics_port", cfg.Server.MetricsPort),
	)
	return g.Wait()
}
