package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/nodeflow/workflow"
	"github.com/google/uuid"
)

// Common errors
var (
	ErrNotFound      = workflow.ErrRecordNotFound
	ErrTerminal      = workflow.ErrRecordTerminal
	ErrAlreadyExists = errors.New("execution record already exists")
	ErrInvalidInput  = errors.New("invalid input")
)

// StoreType represents the type of storage backend
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeRedis  StoreType = "redis"
	StoreTypeMongo  StoreType = "mongo"
	StoreTypeSQL    StoreType = "sql"
)

// ExecutionStore is a RecordStore with a health check.
type ExecutionStore interface {
	workflow.RecordStore

	// Ping checks if the store is healthy
	Ping(ctx context.Context) error
}

// StoreConfig selects and tunes the execution store backend.
type StoreConfig struct {
	Type  StoreType        `json:"type" yaml:"type" env:"TYPE"`
	Redis RedisStoreConfig `json:"redis" yaml:"redis"`
	Mongo MongoStoreConfig `json:"mongo" yaml:"mongo"`
}

// RedisStoreConfig contains Redis-specific store settings. Connection
// settings live with the shared client.
type RedisStoreConfig struct {
	// KeyPrefix is the prefix for all Redis keys
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix" env:"KEY_PREFIX"`
	// TTL expires records; zero keeps them forever
	TTL time.Duration `json:"ttl" yaml:"ttl" env:"TTL"`
}

// MongoStoreConfig contains MongoDB-specific store settings.
type MongoStoreConfig struct {
	Database   string        `json:"database" yaml:"database" env:"DATABASE"`
	Collection string        `json:"collection" yaml:"collection" env:"COLLECTION"`
	Timeout    time.Duration `json:"timeout" yaml:"timeout" env:"TIMEOUT"`
}

// DefaultStoreConfig returns the default store configuration
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Type: StoreTypeMemory,
		Redis: RedisStoreConfig{
			KeyPrefix: "nodeflow:execution:",
			TTL:       7 * 24 * time.Hour,
		},
		Mongo: MongoStoreConfig{
			Database:   "nodeflow",
			Collection: "executions",
			Timeout:    5 * time.Second,
		},
	}
}

// prepare validates a record for Create and fills the id and timestamps.
func prepare(r *workflow.ExecutionResult) (*workflow.ExecutionResult, error) {
	if r == nil {
		return nil, ErrInvalidInput
	}
	out := r.Clone()
	if out.ExecutionID == "" {
		out.ExecutionID = uuid.NewString()
	}
	if out.Status == "" {
		out.Status = workflow.StatusPending
	}
	now := time.Now().UTC()
	if out.StartedAt.IsZero() {
		out.StartedAt = now
	}
	if out.Timestamp.IsZero() {
		out.Timestamp = now
	}
	if out.Logs == nil {
		out.Logs = []workflow.NodeLogEntry{}
	}
	return out, nil
}

// encodeJSON 将日志与 final_data 序列化为文本列。
func encodeJSON(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode: %w", err)
	}
	return string(b), nil
}

func decodeLogs(s string) ([]workflow.NodeLogEntry, error) {
	logs := []workflow.NodeLogEntry{}
	if s == "" {
		return logs, nil
	}
	if err := json.Unmarshal([]byte(s), &logs); err != nil {
		return nil, fmt.Errorf("decode logs: %w", err)
	}
	return logs, nil
}

func decodeValue(s string) (any, error) {
	if s == "" {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, fmt.Errorf("decode final data: %w", err)
	}
	return v, nil
}

var terminalStatuses = []string{string(workflow.StatusSuccess), string(workflow.StatusError)}
