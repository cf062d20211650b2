// =============================================================================
// NodeFlow 主入口
// =============================================================================
// 服务入口点：HTTP API、调度器、健康检查、Prometheus 指标
//
// 使用方法:
//
//	nodeflow serve                              # 启动服务
//	nodeflow serve --config config.yaml         # 指定配置文件
//	nodeflow run -f workflow.yaml -input '{}'   # 本地执行一次工作流
//	nodeflow validate -f workflow.json          # 校验工作流定义
//	nodeflow version                            # 显示版本信息
//	nodeflow health                             # 健康检查
// =============================================================================

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/nodeflow/agentic"
	"github.com/BaSui01/nodeflow/config"
	"github.com/BaSui01/nodeflow/nodes"
	"github.com/BaSui01/nodeflow/tools"
	"github.com/BaSui01/nodeflow/workflow"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(1)
	}

	var code int
	switch os.Args[1] {
	case "serve":
		code = runServe(os.Args[2:])
	case "run":
		code = runWorkflow(os.Args[2:], os.Stdout)
	case "validate":
		code = runValidate(os.Args[2:], os.Stdout)
	case "version":
		printVersion(os.Stdout)
	case "health":
		code = runHealthCheck(os.Args[2:])
	case "help", "-h", "--help":
		printUsage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage(os.Stderr)
		code = 1
	}
	os.Exit(code)
}

// loadConfig 加载并校验配置
func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	if path != "" {
		loader = loader.WithConfigPath(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting NodeFlow",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)
	logger.Debug("effective configuration", zap.Stringer("config", cfg))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := NewApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize", zap.Error(err))
		return 1
	}

	serveErr := app.Serve(ctx)

	closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := app.Close(closeCtx); err != nil {
		logger.Warn("shutdown finished with errors", zap.Error(err))
	}

	if serveErr != nil {
		logger.Error("server failed", zap.Error(serveErr))
		return 1
	}
	logger.Info("NodeFlow stopped")
	return 0
}

// =============================================================================
// ▶️ run 命令：不启动 HTTP，直接执行一个定义文件
// =============================================================================

func runWorkflow(args []string, out io.Writer) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	file := fs.String("f", "", "Workflow definition (.json, .yaml, .yml)")
	rawInput := fs.String("input", "", "Initial input; parsed as JSON when possible")
	_ = fs.Parse(args)

	if *file == "" {
		fmt.Fprintln(os.Stderr, "run: -f is required")
		return 2
	}
	def, err := workflow.LoadFile(*file)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := NewApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize", zap.Error(err))
		return 1
	}
	defer func() { _ = app.Close(context.WithoutCancel(ctx)) }()

	res, err := app.engine.Execute(ctx, def, parseInput(*rawInput))
	if err != nil {
		logger.Warn("execution rejected or not persisted", zap.Error(err))
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if encErr := enc.Encode(res); encErr != nil {
		fmt.Fprintln(os.Stderr, encErr)
		return 1
	}
	if res.Status != workflow.StatusSuccess {
		return 1
	}
	return 0
}

// parseInput 合法 JSON 按 JSON 解析，否则作为字符串
func parseInput(raw string) any {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}

// =============================================================================
// ✅ validate 命令：不建立任何外部连接
// =============================================================================

func runValidate(args []string, out io.Writer) int {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	file := fs.String("f", "", "Workflow definition (.json, .yaml, .yml)")
	_ = fs.Parse(args)

	if *file == "" {
		fmt.Fprintln(os.Stderr, "validate: -f is required")
		return 2
	}
	def, err := workflow.LoadFile(*file)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	problems := validateDefinition(def)
	if len(problems) == 0 {
		fmt.Fprintln(out, "OK")
		return 0
	}
	for _, p := range problems {
		fmt.Fprintf(out, "- %s\n", p)
	}
	return 1
}

func validateDefinition(def *workflow.WorkflowDefinition) []string {
	logger := zap.NewNop()
	for _, n := range def.Nodes {
		if strings.EqualFold(n.Type, "agentic") {
			return agentic.NewBuilder(tools.Defaults(tools.Options{}), logger).Validate(def)
		}
	}
	reg, err := nodes.DefaultRegistry(nodes.Deps{Logger: logger})
	if err != nil {
		return []string{err.Error()}
	}
	return workflow.NewEngine(reg, logger).Validate(def)
}

// =============================================================================
// 🏥 健康检查命令
// =============================================================================

func runHealthCheck(args []string) int {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "Server address")
	ready := fs.Bool("ready", false, "Check /ready instead of /health")
	_ = fs.Parse(args)

	path := "/health"
	if *ready {
		path = "/ready"
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(strings.TrimRight(*addr, "/") + path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: status %d\n", resp.StatusCode)
		return 1
	}
	fmt.Println("OK")
	return 0
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "NodeFlow %s\n", Version)
	fmt.Fprintf(w, "  Build Time: %s\n", BuildTime)
	fmt.Fprintf(w, "  Git Commit: %s\n", GitCommit)
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `NodeFlow - visual workflow automation engine

Usage:
  nodeflow <command> [options]

Commands:
  serve     Start the HTTP API (and the scheduler when enabled)
  run       Execute a workflow definition once and print the result
  validate  Check a workflow definition without executing it
  version   Show version information
  health    Check server health
  help      Show this help message

Options for 'serve':
  --config <path>   Path to configuration file (YAML)

Options for 'run':
  -f <file>         Workflow definition (.json, .yaml, .yml)
  -input <value>    Initial input, JSON or plain text
  --config <path>   Path to configuration file (YAML)

Examples:
  nodeflow serve --config /etc/nodeflow/config.yaml
  nodeflow run -f flow.yaml -input '"hello"'
  nodeflow validate -f flow.json
  nodeflow health --addr http://localhost:8080 --ready`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	zapConfig := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       encoding == "console",
		Encoding:          encoding,
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
	}

	logger, err := zapConfig.Build()
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}
	return logger.With(zap.String("service", "nodeflow"))
}
