package persistence

import (
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Clients are the process-wide connections a store may be built on.
// The store never closes them.
type Clients struct {
	Redis redis.UniversalClient
	Mongo *mongo.Client
	DB    *gorm.DB
}

// NewExecutionStore creates an ExecutionStore based on the configuration
func NewExecutionStore(cfg StoreConfig, clients Clients, logger *zap.Logger) (ExecutionStore, error) {
	switch cfg.Type {
	case StoreTypeMemory, "":
		return NewMemoryStore(), nil
	case StoreTypeRedis:
		if clients.Redis == nil {
			return nil, fmt.Errorf("redis execution store requires a redis client")
		}
		return NewRedisStore(clients.Redis, cfg.Redis, logger), nil
	case StoreTypeMongo:
		if clients.Mongo == nil {
			return nil, fmt.Errorf("mongo execution store requires a mongo client")
		}
		return NewMongoStore(clients.Mongo, cfg.Mongo, logger), nil
	case StoreTypeSQL:
		if clients.DB == nil {
			return nil, fmt.Errorf("sql execution store requires a database")
		}
		return NewSQLStore(clients.DB, logger)
	default:
		return nil, fmt.Errorf("unsupported execution store type: %s", cfg.Type)
	}
}
