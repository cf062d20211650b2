// =============================================================================
// 📦 NodeFlow 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("NODEFLOW").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 旧部署的无前缀环境变量 → 带前缀的环境变量
// =============================================================================
package config

import (
	"fmt"
	"net/url"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 NodeFlow 的完整配置结构
type Config struct {
	Server      ServerConfig      `yaml:"server" env:"SERVER"`
	Engine      EngineConfig      `yaml:"engine" env:"ENGINE"`
	LLM         LLMConfig         `yaml:"llm" env:"LLM"`
	Store       StoreConfig       `yaml:"store" env:"STORE"`
	Redis       RedisConfig       `yaml:"redis" env:"REDIS"`
	Mongo       MongoConfig       `yaml:"mongo" env:"MONGO"`
	Database    DatabaseConfig    `yaml:"database" env:"DATABASE"`
	Credentials CredentialsConfig `yaml:"credentials" env:"CREDENTIALS"`
	Sandbox     SandboxConfig     `yaml:"sandbox" env:"SANDBOX"`
	Tools       ToolsConfig       `yaml:"tools" env:"TOOLS"`
	Scheduler   SchedulerConfig   `yaml:"scheduler" env:"SCHEDULER"`
	Log         LogConfig         `yaml:"log" env:"LOG"`
	Telemetry   TelemetryConfig   `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	HTTPPort        int           `yaml:"http_port" env:"HTTP_PORT"`
	MetricsPort     int           `yaml:"metrics_port" env:"METRICS_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 请求体上限（字节）
	MaxBodyBytes int64 `yaml:"max_body_bytes" env:"MAX_BODY_BYTES"`
	// 每个客户端 IP 的速率限制，RPS <= 0 表示关闭
	RateLimitRPS   float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// 允许的 CORS 来源，空表示不发送 CORS 头
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
	// 静态 API Key 认证（X-API-Key），为空则关闭
	APIKeys []string `yaml:"api_keys" env:"API_KEYS"`
	// HS256 JWT 认证，为空则关闭
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET"`
	JWTIssuer string `yaml:"jwt_issuer" env:"JWT_ISSUER"`
}

// EngineConfig 执行引擎配置
type EngineConfig struct {
	NodeTimeout   time.Duration `yaml:"node_timeout" env:"NODE_TIMEOUT"`
	MaxSteps      int           `yaml:"max_steps" env:"MAX_STEPS"`
	PreviewLength int           `yaml:"preview_length" env:"PREVIEW_LENGTH"`
	// 异步执行时是否每个节点后写入日志
	PersistSteps bool `yaml:"persist_steps" env:"PERSIST_STEPS"`
	// 重试策略：总尝试次数与固定间隔
	MaxAttempts int           `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	RetryDelay  time.Duration `yaml:"retry_delay" env:"RETRY_DELAY"`
	// 异步执行工作池
	Workers   int `yaml:"workers" env:"WORKERS"`
	QueueSize int `yaml:"queue_size" env:"QUEUE_SIZE"`
}

// LLMConfig LLM 配置
type LLMConfig struct {
	// 默认端点与密钥，llm 节点与未指定凭据的 agent 使用
	BaseURL string        `yaml:"base_url" env:"BASE_URL"`
	APIKey  string        `yaml:"api_key" env:"API_KEY"`
	Model   string        `yaml:"model" env:"MODEL"`
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// agent 模式下各 provider 的兜底密钥
	GroqAPIKey      string `yaml:"groq_api_key" env:"GROQ_API_KEY"`
	OpenAIAPIKey    string `yaml:"openai_api_key" env:"OPENAI_API_KEY"`
	AnthropicAPIKey string `yaml:"anthropic_api_key" env:"ANTHROPIC_API_KEY"`
}

// StoreConfig 执行记录存储配置
type StoreConfig struct {
	// 类型: memory, redis, mongo, sql
	Type             string        `yaml:"type" env:"TYPE"`
	RedisKeyPrefix   string        `yaml:"redis_key_prefix" env:"REDIS_KEY_PREFIX"`
	RedisTTL         time.Duration `yaml:"redis_ttl" env:"REDIS_TTL"`
	MongoCollection  string        `yaml:"mongo_collection" env:"MONGO_COLLECTION"`
	OperationTimeout time.Duration `yaml:"operation_timeout" env:"OPERATION_TIMEOUT"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addr         string `yaml:"addr" env:"ADDR"`
	Password     string `yaml:"password" env:"PASSWORD"`
	DB           int    `yaml:"db" env:"DB"`
	PoolSize     int    `yaml:"pool_size" env:"POOL_SIZE"`
	MinIdleConns int    `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
}

// MongoConfig MongoDB 配置
type MongoConfig struct {
	URI            string        `yaml:"uri" env:"URI"`
	Database       string        `yaml:"database" env:"DATABASE"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" env:"CONNECT_TIMEOUT"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动类型: postgres, mysql, sqlite
	Driver   string `yaml:"driver" env:"DRIVER"`
	Host     string `yaml:"host" env:"HOST"`
	Port     int    `yaml:"port" env:"PORT"`
	User     string `yaml:"user" env:"USER"`
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库名；sqlite 下为文件路径
	Name            string        `yaml:"name" env:"NAME"`
	SSLMode         string        `yaml:"ssl_mode" env:"SSL_MODE"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// CredentialsConfig 凭据存储配置
type CredentialsConfig struct {
	// 后端: memory, mongo
	Backend string `yaml:"backend" env:"BACKEND"`
	// AES-256 密钥（base64 的 32 字节）或口令
	Key        string `yaml:"key" env:"KEY"`
	Collection string `yaml:"collection" env:"COLLECTION"`
}

// SandboxConfig code 节点沙箱配置
type SandboxConfig struct {
	Timeout         time.Duration `yaml:"timeout" env:"TIMEOUT"`
	CallStackSize   int           `yaml:"call_stack_size" env:"CALL_STACK_SIZE"`
	RegistryMaxSize int           `yaml:"registry_max_size" env:"REGISTRY_MAX_SIZE"`
	MaxStringLength int           `yaml:"max_string_length" env:"MAX_STRING_LENGTH"`
}

// ToolsConfig 内置工具配置
type ToolsConfig struct {
	TavilyAPIKey  string `yaml:"tavily_api_key" env:"TAVILY_API_KEY"`
	TavilyBaseURL string `yaml:"tavily_base_url" env:"TAVILY_BASE_URL"`
	SlackToken    string `yaml:"slack_token" env:"SLACK_TOKEN"`
	SlackBaseURL  string `yaml:"slack_base_url" env:"SLACK_BASE_URL"`
	SMTPHost      string `yaml:"smtp_host" env:"SMTP_HOST"`
	SMTPPort      int    `yaml:"smtp_port" env:"SMTP_PORT"`
	SMTPUsername  string `yaml:"smtp_username" env:"SMTP_USERNAME"`
	SMTPPassword  string `yaml:"smtp_password" env:"SMTP_PASSWORD"`
	SMTPFrom      string `yaml:"smtp_from" env:"SMTP_FROM"`
}

// SchedulerConfig 间隔触发调度配置
type SchedulerConfig struct {
	Enabled     bool          `yaml:"enabled" env:"ENABLED"`
	WorkflowDir string        `yaml:"workflow_dir" env:"WORKFLOW_DIR"`
	Interval    time.Duration `yaml:"interval" env:"INTERVAL"`
	Concurrency int           `yaml:"concurrency" env:"CONCURRENCY"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format           string   `yaml:"format" env:"FORMAT"`
	OutputPaths      []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	EnableCaller     bool     `yaml:"enable_caller" env:"ENABLE_CALLER"`
	EnableStacktrace bool     `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// legacyAliases 旧部署使用的无前缀环境变量，优先级低于带前缀的变量
var legacyAliases = []struct {
	env string
	set func(*Config, string)
}{
	{"LLM_API_URL", func(c *Config, v string) { c.LLM.BaseURL = v }},
	{"LLM_API_KEY", func(c *Config, v string) { c.LLM.APIKey = v }},
	{"GROQ_API_KEY", func(c *Config, v string) { c.LLM.GroqAPIKey = v }},
	{"OPENAI_API_KEY", func(c *Config, v string) { c.LLM.OpenAIAPIKey = v }},
	{"ANTHROPIC_API_KEY", func(c *Config, v string) { c.LLM.AnthropicAPIKey = v }},
	{"TAVILY_API_KEY", func(c *Config, v string) { c.Tools.TavilyAPIKey = v }},
	{"SLACK_BOT_TOKEN", func(c *Config, v string) { c.Tools.SlackToken = v }},
	{"GMAIL_USER", func(c *Config, v string) {
		c.Tools.SMTPUsername = v
		if c.Tools.SMTPFrom == "" {
			c.Tools.SMTPFrom = v
		}
	}},
	{"GMAIL_APP_PASSWORD", func(c *Config, v string) { c.Tools.SMTPPassword = v }},
	{"MONGODB_URI", func(c *Config, v string) { c.Mongo.URI = v }},
	{"CREDENTIALS_KEY", func(c *Config, v string) { c.Credentials.Key = v }},
}

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	lookupEnv  func(string) (string, bool)
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "NODEFLOW",
		lookupEnv:  os.LookupEnv,
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithEnvLookup 替换环境变量来源，测试中使用
func (l *Loader) WithEnvLookup(fn func(string) (string, bool)) *Loader {
	if fn != nil {
		l.lookupEnv = fn
	}
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	l.applyLegacyAliases(cfg)
	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置，文件不存在时保留默认值
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct && field.Type() != reflect.TypeOf(time.Time{}) {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue, ok := l.lookupEnv(envKey)
		if !ok || envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

func (l *Loader) applyLegacyAliases(cfg *Config) {
	for _, a := range legacyAliases {
		if v, ok := l.lookupEnv(a.env); ok && v != "" {
			a.set(cfg, v)
		}
	}
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 支持逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			out := parts[:0]
			for _, p := range parts {
				if p = strings.TrimSpace(p); p != "" {
					out = append(out, p)
				}
			}
			field.Set(reflect.ValueOf(out))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv 仅从环境变量加载配置
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		errs = append(errs, "invalid metrics port")
	}
	if c.Server.MetricsPort != 0 && c.Server.MetricsPort == c.Server.HTTPPort {
		errs = append(errs, "metrics port must differ from HTTP port")
	}

	if c.Engine.MaxAttempts < 1 {
		errs = append(errs, "engine.max_attempts must be at least 1")
	}
	if c.Engine.NodeTimeout <= 0 {
		errs = append(errs, "engine.node_timeout must be positive")
	}
	if c.Engine.Workers <= 0 {
		errs = append(errs, "engine.workers must be positive")
	}

	switch c.Store.Type {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			errs = append(errs, "redis.addr is required for the redis store")
		}
	case "mongo":
		if c.Mongo.URI == "" {
			errs = append(errs, "mongo.uri is required for the mongo store")
		}
	case "sql":
		switch c.Database.Driver {
		case "postgres", "mysql", "sqlite":
		default:
			errs = append(errs, fmt.Sprintf("unsupported database driver: %s", c.Database.Driver))
		}
	default:
		errs = append(errs, fmt.Sprintf("unsupported store type: %s", c.Store.Type))
	}

	switch c.Credentials.Backend {
	case "memory":
	case "mongo":
		if c.Mongo.URI == "" {
			errs = append(errs, "mongo.uri is required for the mongo credential store")
		}
	default:
		errs = append(errs, fmt.Sprintf("unsupported credentials backend: %s", c.Credentials.Backend))
	}

	if c.LLM.BaseURL != "" {
		if u, err := url.Parse(c.LLM.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, "llm.base_url must be an absolute URL")
		}
	}

	if c.Scheduler.Enabled && c.Scheduler.WorkflowDir == "" {
		errs = append(errs, "scheduler.workflow_dir is required when the scheduler is enabled")
	}

	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, "telemetry.sample_rate must be between 0 and 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// DSN 返回数据库连接字符串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}

// String 输出脱敏后的配置摘要，用于启动日志
func (c *Config) String() string {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "***"
	}
	return fmt.Sprintf("Config{http_port=%d store=%s credentials=%s llm_base_url=%s llm_api_key=%s scheduler=%t}",
		c.Server.HTTPPort, c.Store.Type, c.Credentials.Backend, c.LLM.BaseURL, mask(c.LLM.APIKey), c.Scheduler.Enabled)
}
