package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/BaSui01/nodeflow/config"
	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// =============================================================================
// 🧪 PoolManager 测试
// =============================================================================

func setupMockDB(t *testing.T) (sqlmock.Sqlmock, *gorm.DB) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB}), &gorm.Config{
		DisableAutomaticPing: true,
	})
	require.NoError(t, err)
	return mock, gormDB
}

func TestNewPoolManager(t *testing.T) {
	t.Parallel()
	_, gormDB := setupMockDB(t)

	cfg := PoolConfig{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 30 * time.Minute,
	}
	manager, err := NewPoolManager(gormDB, cfg, zap.NewNop())
	require.NoError(t, err)

	assert.Same(t, gormDB, manager.DB())
	assert.Equal(t, cfg, manager.config)
	assert.Equal(t, 10, manager.Stats().MaxOpenConnections)
}

func TestNewPoolManager_NilDB(t *testing.T) {
	t.Parallel()
	_, err := NewPoolManager(nil, DefaultPoolConfig(), nil)
	assert.Error(t, err)
}

func TestPoolManager_Ping(t *testing.T) {
	t.Parallel()
	mock, gormDB := setupMockDB(t)

	manager, err := NewPoolManager(gormDB, PoolConfig{MaxOpenConns: 1}, zap.NewNop())
	require.NoError(t, err)

	mock.ExpectPing()
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	assert.NoError(t, manager.Ping(context.Background()))
	assert.True(t, manager.Healthy())
	assert.Error(t, manager.Ping(context.Background()))
	assert.False(t, manager.Healthy())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolManager_Close(t *testing.T) {
	t.Parallel()
	mock, gormDB := setupMockDB(t)

	manager, err := NewPoolManager(gormDB, PoolConfig{HealthCheckInterval: time.Hour}, zap.NewNop())
	require.NoError(t, err)

	mock.ExpectClose()
	require.NoError(t, manager.Close())
	require.NoError(t, manager.Close(), "second close is a no-op")
	assert.NoError(t, mock.ExpectationsWereMet())

	assert.ErrorIs(t, manager.Ping(context.Background()), ErrClosed)
}

func TestPoolManager_HealthCheckLoop(t *testing.T) {
	t.Parallel()
	mock, gormDB := setupMockDB(t)
	mock.ExpectPing()

	manager, err := NewPoolManager(gormDB, PoolConfig{HealthCheckInterval: 20 * time.Millisecond}, zap.NewNop())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return mock.ExpectationsWereMet() == nil
	}, 2*time.Second, 10*time.Millisecond)

	mock.ExpectClose()
	require.NoError(t, manager.Close())
}

func TestPoolConfigFrom(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		cfg      config.DatabaseConfig
		wantOpen int
		wantIdle int
	}{
		{"postgres defaults", config.DatabaseConfig{Driver: "postgres"}, 50, 10},
		{"sqlite single writer", config.DatabaseConfig{Driver: "sqlite"}, 1, 1},
		{"explicit override", config.DatabaseConfig{Driver: "sqlite", MaxOpenConns: 4}, 4, 1},
		{"idle capped by open", config.DatabaseConfig{Driver: "mysql", MaxOpenConns: 5, MaxIdleConns: 8}, 5, 5},
	}
	for _, tt := range tests {
		pc := PoolConfigFrom(tt.cfg)
		assert.Equal(t, tt.wantOpen, pc.MaxOpenConns, tt.name)
		assert.Equal(t, tt.wantIdle, pc.MaxIdleConns, tt.name)
	}
}

// =============================================================================
// 🧪 Open / Dialector 测试
// =============================================================================

func TestDialector(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		cfg     config.DatabaseConfig
		want    string
		wantErr string
	}{
		{name: "postgres", cfg: config.DatabaseConfig{Driver: "postgres", Host: "db", Port: 5432}, want: "postgres"},
		{name: "mysql", cfg: config.DatabaseConfig{Driver: "mysql", Host: "db", Port: 3306}, want: "mysql"},
		{name: "sqlite", cfg: config.DatabaseConfig{Driver: "sqlite", Name: "nodeflow.db"}, want: "sqlite"},
		{name: "sqlite without file", cfg: config.DatabaseConfig{Driver: "sqlite"}, wantErr: "file name"},
		{name: "empty", cfg: config.DatabaseConfig{}, wantErr: "not configured"},
		{name: "unknown", cfg: config.DatabaseConfig{Driver: "oracle"}, wantErr: "unsupported database driver"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d, err := Dialector(tt.cfg)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.Name())
		})
	}
}

func TestOpen_SQLite(t *testing.T) {
	t.Parallel()
	cfg := config.DatabaseConfig{
		Driver:       "sqlite",
		Name:         filepath.Join(t.TempDir(), "nodeflow.db"),
		MaxOpenConns: 3,
	}
	manager, err := Open(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })

	require.NoError(t, manager.Ping(context.Background()))
	assert.Equal(t, 3, manager.Stats().MaxOpenConnections)

	var one int
	require.NoError(t, manager.DB().Raw("SELECT 1").Scan(&one).Error)
	assert.Equal(t, 1, one)
}
