// =============================================================================
// 📦 NodeFlow 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:      DefaultServerConfig(),
		Engine:      DefaultEngineConfig(),
		LLM:         DefaultLLMConfig(),
		Store:       DefaultStoreConfig(),
		Redis:       DefaultRedisConfig(),
		Mongo:       DefaultMongoConfig(),
		Database:    DefaultDatabaseConfig(),
		Credentials: DefaultCredentialsConfig(),
		Sandbox:     DefaultSandboxConfig(),
		Tools:       DefaultToolsConfig(),
		Scheduler:   DefaultSchedulerConfig(),
		Log:         DefaultLogConfig(),
		Telemetry:   DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    5 * time.Minute, // SSE 流式响应需要较长写超时
		ShutdownTimeout: 15 * time.Second,
		MaxBodyBytes:    1 << 20,
		RateLimitRPS:    50,
		RateLimitBurst:  100,
	}
}

// DefaultEngineConfig 返回默认引擎配置
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		NodeTimeout:   60 * time.Second,
		MaxSteps:      10000,
		PreviewLength: 500,
		PersistSteps:  true,
		MaxAttempts:   3,
		RetryDelay:    time.Second,
		Workers:       8,
		QueueSize:     256,
	}
}

// DefaultLLMConfig 返回默认 LLM 配置
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Model:   "llama3-8b-8192",
		Timeout: 2 * time.Minute,
	}
}

// DefaultStoreConfig 返回默认执行记录存储配置
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Type:             "memory",
		RedisKeyPrefix:   "nodeflow:execution:",
		RedisTTL:         7 * 24 * time.Hour,
		MongoCollection:  "executions",
		OperationTimeout: 5 * time.Second,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultMongoConfig 返回默认 MongoDB 配置
func DefaultMongoConfig() MongoConfig {
	return MongoConfig{
		Database:       "nodeflow",
		ConnectTimeout: 10 * time.Second,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "postgres",
		Host:            "localhost",
		Port:            5432,
		User:            "nodeflow",
		Name:            "nodeflow",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultCredentialsConfig 返回默认凭据存储配置
func DefaultCredentialsConfig() CredentialsConfig {
	return CredentialsConfig{
		Backend:    "memory",
		Collection: "credentials",
	}
}

// DefaultSandboxConfig 返回默认 code 节点沙箱限制
func DefaultSandboxConfig() SandboxConfig {
	return SandboxConfig{
		Timeout:         5 * time.Second,
		CallStackSize:   120,
		RegistryMaxSize: 1024 * 256,
		MaxStringLength: 1 << 20,
	}
}

// DefaultToolsConfig 返回默认工具配置
func DefaultToolsConfig() ToolsConfig {
	return ToolsConfig{
		SMTPHost: "smtp.gmail.com",
		SMTPPort: 587,
	}
}

// DefaultSchedulerConfig 返回默认调度配置
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Enabled:     false,
		Interval:    10 * time.Second,
		Concurrency: 4,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "nodeflow",
		SampleRate:   0.1,
	}
}
