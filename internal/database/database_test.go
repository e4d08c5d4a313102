package database

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/ragflow/config"
)

type testRecord struct {
	ID   uint   `gorm:"primaryKey"`
	Name string `gorm:"size:64"`
}

func openMemoryDB(t *testing.T) *PoolManager {
	t.Helper()

	pm, err := Open(config.DatabaseConfig{Driver: "sqlite", Name: ":memory:"}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { pm.Close() })

	require.NoError(t, pm.DB().AutoMigrate(&testRecord{}))
	return pm
}

func TestOpen_SQLiteDefault(t *testing.T) {
	// 空驱动默认 sqlite 内存库
	pm, err := Open(config.DatabaseConfig{}, zap.NewNop())
	require.NoError(t, err)
	defer pm.Close()

	assert.NoError(t, pm.Ping(context.Background()))
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(config.DatabaseConfig{Driver: "oracle"}, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database driver")
}

func TestPoolManager_Transaction(t *testing.T) {
	pm := openMemoryDB(t)
	ctx := context.Background()

	err := pm.WithTransaction(ctx, func(tx *gorm.DB) error {
		return tx.Create(&testRecord{Name: "entity-a"}).Error
	})
	require.NoError(t, err)

	var count int64
	require.NoError(t, pm.DB().Model(&testRecord{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestPoolManager_TransactionRollback(t *testing.T) {
	pm := openMemoryDB(t)
	ctx := context.Background()

	err := pm.WithTransaction(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(&testRecord{Name: "doomed"}).Error; err != nil {
			return err
		}
		return fmt.Errorf("abort")
	})
	require.Error(t, err)

	// 回滚后不可见
	var count int64
	require.NoError(t, pm.DB().Model(&testRecord{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestPoolManager_ClosedRejects(t *testing.T) {
	pm := openMemoryDB(t)
	require.NoError(t, pm.Close())

	assert.Error(t, pm.Ping(context.Background()))
	assert.Error(t, pm.WithTransaction(context.Background(), func(tx *gorm.DB) error { return nil }))
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		err       error
		retryable bool
	}{
		{nil, false},
		{fmt.Errorf("Deadlock found when trying to get lock"), true},
		{fmt.Errorf("ERROR: could not serialize access (SQLSTATE 40001)"), true},
		{fmt.Errorf("connection refused"), true},
		{fmt.Errorf("driver: bad connection"), true},
		{fmt.Errorf("syntax error"), false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.retryable, isRetryableError(tt.err), "%v", tt.err)
	}
}
