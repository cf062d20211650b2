package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/nodeflow/workflow"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// executionRecord is the gorm model of one execution.
type executionRecord struct {
	ID         string `gorm:"primaryKey;size:64"`
	WorkflowID string `gorm:"size:128;index"`
	Status     string `gorm:"size:16;index"`
	Logs       string `gorm:"type:text"`
	FinalData  string `gorm:"type:text"`
	Error      string `gorm:"type:text"`
	Timestamp  time.Time
	StartedAt  time.Time
	FinishedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// TableName overrides the gorm default.
func (executionRecord) TableName() string { return "workflow_executions" }

// SQLStore stores executions in a relational database through gorm.
type SQLStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Ensure it implements ExecutionStore.
var _ ExecutionStore = (*SQLStore)(nil)

// NewSQLStore migrates the executions table and returns the store.
func NewSQLStore(db *gorm.DB, logger *zap.Logger) (*SQLStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := db.AutoMigrate(&executionRecord{}); err != nil {
		return nil, fmt.Errorf("migrate workflow_executions: %w", err)
	}
	return &SQLStore{db: db, logger: logger.With(zap.String("component", "sql_execution_store"))}, nil
}

// Create implements workflow.RecordStore.
func (s *SQLStore) Create(ctx context.Context, r *workflow.ExecutionResult) (string, error) {
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

	row := executionRecord{
		ID:         rec.ExecutionID,
		WorkflowID: rec.WorkflowID,
		Status:     string(rec.Status),
		Logs:       logs,
		FinalData:  final,
		Error:      rec.Error,
		Timestamp:  rec.Timestamp,
		StartedAt:  rec.StartedAt,
		FinishedAt: rec.FinishedAt,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&executionRecord{}).Where("id = ?", row.ID).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return ErrAlreadyExists
		}
		return tx.Create(&row).Error
	})
	if err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return "", err
		}
		return "", fmt.Errorf("sql create %s: %w", row.ID, err)
	}
	return row.ID, nil
}

// Update implements workflow.RecordStore. Terminal rows are excluded by the
// WHERE clause.
func (s *SQLStore) Update(ctx context.Context, id string, patch workflow.RecordPatch) error {
	set, err := patchFields(patch)
	if err != nil {
		return err
	}
	if len(set) == 0 {
		_, err := s.Get(ctx, id)
		return err
	}

	res := s.db.WithContext(ctx).
		Model(&executionRecord{}).
		Where("id = ? AND status NOT IN ?", id, terminalStatuses).
		Updates(set)
	if res.Error != nil {
		return fmt.Errorf("sql update %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
		return ErrTerminal
	}
	return nil
}

// Get implements workflow.RecordStore.
func (s *SQLStore) Get(ctx context.Context, id string) (*workflow.ExecutionResult, error) {
	var row executionRecord
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sql get %s: %w", id, err)
	}

	logs, err := decodeLogs(row.Logs)
	if err != nil {
		return nil, err
	}
	final, err := decodeValue(row.FinalData)
	if err != nil {
		return nil, err
	}
	return &workflow.ExecutionResult{
		ExecutionID: row.ID,
		WorkflowID:  row.WorkflowID,
		Status:      workflow.ExecutionStatus(row.Status),
		Logs:        logs,
		FinalData:   final,
		Error:       row.Error,
		Timestamp:   row.Timestamp.UTC(),
		StartedAt:   row.StartedAt.UTC(),
		FinishedAt:  utcPtr(row.FinishedAt),
	}, nil
}

// Ping implements ExecutionStore.
func (s *SQLStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
