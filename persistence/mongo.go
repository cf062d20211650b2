package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/nodeflow/workflow"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.uber.org/zap"
)

// MongoStore stores one document per execution. Logs and final data are
// kept as JSON text so that arbitrary node output round-trips unchanged.
type MongoStore struct {
	coll    *mongo.Collection
	timeout time.Duration
	logger  *zap.Logger
}

// Ensure it implements ExecutionStore.
var _ ExecutionStore = (*MongoStore)(nil)

// NewMongoStore creates a Mongo-backed store over a shared client.
func NewMongoStore(client *mongo.Client, cfg MongoStoreConfig, logger *zap.Logger) *MongoStore {
	def := DefaultStoreConfig().Mongo
	if cfg.Database == "" {
		cfg.Database = def.Database
	}
	if cfg.Collection == "" {
		cfg.Collection = def.Collection
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MongoStore{
		coll:    client.Database(cfg.Database).Collection(cfg.Collection),
		timeout: cfg.Timeout,
		logger:  logger.With(zap.String("component", "mongo_execution_store")),
	}
}

type executionDoc struct {
	ID         string     `bson:"_id"`
	WorkflowID string     `bson:"workflow_id"`
	Status     string     `bson:"status"`
	Logs       string     `bson:"logs"`
	FinalData  string     `bson:"final_data,omitempty"`
	Error      string     `bson:"error,omitempty"`
	Timestamp  time.Time  `bson:"timestamp"`
	StartedAt  time.Time  `bson:"started_at"`
	FinishedAt *time.Time `bson:"finished_at,omitempty"`
}

// EnsureIndexes creates the secondary indexes used for listing by workflow.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "workflow_id", Value: 1}, {Key: "started_at", Value: -1}}},
		{Keys: bson.D{{Key: "status", Value: 1}}},
	})
	return err
}

// Create implements workflow.RecordStore.
func (s *MongoStore) Create(ctx context.Context, r *workflow.ExecutionResult) (string, error) {
	rec, err := prepare(r)
	if err != nil {
		return "", err
	}
	logs, err := encodeJSON(rec.Logs)
	if err != nil {
		return "", err
	}
	final, err := encodeJSON(rec.FinalData)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err = s.coll.InsertOne(ctx, executionDoc{
		ID:         rec.ExecutionID,
		WorkflowID: rec.WorkflowID,
		Status:     string(rec.Status),
		Logs:       logs,
		FinalData:  final,
		Error:      rec.Error,
		Timestamp:  rec.Timestamp,
		StartedAt:  rec.StartedAt,
		FinishedAt: rec.FinishedAt,
	})
	if mongo.IsDuplicateKeyError(err) {
		return "", ErrAlreadyExists
	}
	if err != nil {
		return "", fmt.Errorf("mongo create %s: %w", rec.ExecutionID, err)
	}
	return rec.ExecutionID, nil
}

// Update implements workflow.RecordStore. The filter excludes terminal
// records so a finished execution can never be rewritten.
func (s *MongoStore) Update(ctx context.Context, id string, patch workflow.RecordPatch) error {
	set, err := patchFields(patch)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if len(set) == 0 {
		_, err := s.Get(ctx, id)
		return err
	}

	bsonSet := bson.M{}
	for k, v := range set {
		bsonSet[k] = v
	}
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": id, "status": bson.M{"$nin": terminalStatuses}},
		bson.M{"$set": bsonSet},
	)
	if err != nil {
		return fmt.Errorf("mongo update %s: %w", id, err)
	}
	if res.MatchedCount == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
		return ErrTerminal
	}
	return nil
}

// Get implements workflow.RecordStore.
func (s *MongoStore) Get(ctx context.Context, id string) (*workflow.ExecutionResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var doc executionDoc
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("mongo get %s: %w", id, err)
	}

	logs, err := decodeLogs(doc.Logs)
	if err != nil {
		return nil, err
	}
	final, err := decodeValue(doc.FinalData)
	if err != nil {
		return nil, err
	}
	return &workflow.ExecutionResult{
		ExecutionID: doc.ID,
		WorkflowID:  doc.WorkflowID,
		Status:      workflow.ExecutionStatus(doc.Status),
		Logs:        logs,
		FinalData:   final,
		Error:       doc.Error,
		Timestamp:   doc.Timestamp.UTC(),
		StartedAt:   doc.StartedAt.UTC(),
		FinishedAt:  utcPtr(doc.FinishedAt),
	}, nil
}

// Ping implements ExecutionStore.
func (s *MongoStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.coll.Database().Client().Ping(ctx, nil)
}

// patchFields 将 RecordPatch 转为待更新的列（mongo 与 SQL 共用列名）。
func patchFields(p workflow.RecordPatch) (map[string]any, error) {
	set := map[string]any{}
	if p.Status != "" {
		set["status"] = string(p.Status)
	}
	if p.Logs != nil {
		logs, err := encodeJSON(p.Logs)
		if err != nil {
			return nil, err
		}
		set["logs"] = logs
	}
	if p.FinalData != nil {
		final, err := encodeJSON(p.FinalData)
		if err != nil {
			return nil, err
		}
		set["final_data"] = final
	}
	if p.Error != "" {
		set["error"] = p.Error
	}
	if p.FinishedAt != nil {
		t := p.FinishedAt.UTC()
		set["finished_at"] = t
		set["timestamp"] = t
	}
	return set, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
