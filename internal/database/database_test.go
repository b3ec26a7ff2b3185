package database

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestNew_InMemory(t *testing.T) {
	db, err := New(":memory:", nil, nil)
	require.NoError(t, err)
	require.NotNil(t, db)
	defer db.Close()

	err = db.Ping(context.Background())
	assert.NoError(t, err)

	assert.Equal(t, ":memory:", db.Path())
}

func TestNew_CreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "assets", "jobs", "jobs.db")

	db, err := New(path, nil, &Options{PrepareStmt: true, LogLevel: "silent"})
	require.NoError(t, err)
	defer db.Close()

	err = db.Ping(context.Background())
	assert.NoError(t, err)
}

func TestDB_Ping(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	err := db.Ping(ctx)
	assert.NoError(t, err)
}

func TestDB_Ping_WithTimeout(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := db.Ping(ctx)
	assert.NoError(t, err)
}

func TestDB_Close(t *testing.T) {
	db := setupTestDB(t)

	err := db.Close()
	assert.NoError(t, err)

	// Ping should fail after close
	err = db.Ping(context.Background())
	assert.Error(t, err)
}

func TestDB_Stats(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	stats, err := db.Stats()
	require.NoError(t, err)
	require.NotNil(t, stats)

	// Verify expected keys exist
	assert.Contains(t, stats, "max_open_connections")
	assert.Contains(t, stats, "open_connections")
	assert.Contains(t, stats, "in_use")
	assert.Contains(t, stats, "idle")
}

func TestDB_WithContext(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	ctxDB := db.WithContext(ctx)

	assert.NotNil(t, ctxDB)
	assert.Equal(t, db.Path(), ctxDB.Path())
}

func TestDB_Transaction(t *testing.T) {
	db, err := New(":memory:", nil, &Options{PrepareStmt: false, LogLevel: "silent"})
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()

	type TxTestItem struct {
		ID    uint   `gorm:"primarykey"`
		Value string `gorm:"not null"`
	}

	err = db.Migrate(&TxTestItem{})
	require.NoError(t, err)

	// Successful transaction commits
	err = db.Transaction(ctx, func(tx *gorm.DB) error {
		return tx.Create(&TxTestItem{Value: "test1"}).Error
	})
	assert.NoError(t, err)

	var count int64
	err = db.DB.Model(&TxTestItem{}).Where("value = ?", "test1").Count(&count).Error
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	// Failed transaction rolls back
	testErr := fmt.Errorf("forced rollback error")
	err = db.Transaction(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(&TxTestItem{Value: "test2"}).Error; err != nil {
			return err
		}
		return testErr
	})
	assert.Error(t, err)
	assert.ErrorIs(t, err, testErr)

	err = db.DB.Model(&TxTestItem{}).Where("value = ?", "test2").Count(&count).Error
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestDB_SQLitePragmas(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pragmas.db")
	db, err := New(path, nil, &Options{PrepareStmt: true, LogLevel: "silent"})
	require.NoError(t, err)
	defer db.Close()

	// File-backed stores run in WAL mode
	var journalMode string
	err = db.DB.Raw("PRAGMA journal_mode").Scan(&journalMode).Error
	require.NoError(t, err)
	assert.Equal(t, "wal", journalMode)

	// Verify foreign keys are enabled
	var foreignKeys int
	err = db.DB.Raw("PRAGMA foreign_keys").Scan(&foreignKeys).Error
	require.NoError(t, err)
	assert.Equal(t, 1, foreignKeys)
}

// oldRecord and newRecord share a table to simulate a store created before
// the Notes field existed.
type oldRecord struct {
	ID    uint `gorm:"primarykey"`
	Title string
}

func (oldRecord) TableName() string { return "records" }

type newRecord struct {
	ID    uint `gorm:"primarykey"`
	Title string
	Notes string
}

func (newRecord) TableName() string { return "records" }

func TestDB_EnsureColumns(t *testing.T) {
	db, err := New(":memory:", nil, &Options{PrepareStmt: false, LogLevel: "silent"})
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Migrate(&oldRecord{}))
	require.NoError(t, db.DB.Create(&oldRecord{Title: "first"}).Error)

	err = db.EnsureColumns(&newRecord{}, "Notes")
	require.NoError(t, err)
	assert.True(t, db.DB.Migrator().HasColumn(&newRecord{}, "Notes"))

	// Existing rows survive and the new column reads empty
	var got newRecord
	require.NoError(t, db.DB.First(&got).Error)
	assert.Equal(t, "first", got.Title)
	assert.Empty(t, got.Notes)

	// Idempotent on a second run
	err = db.EnsureColumns(&newRecord{}, "Notes")
	require.NoError(t, err)
}

func TestBuildDSN(t *testing.T) {
	dsn := buildDSN("/data/jobs.db")
	assert.Contains(t, dsn, "/data/jobs.db?")
	assert.Contains(t, dsn, "_pragma=busy_timeout(30000)")
	assert.Contains(t, dsn, "_pragma=journal_mode(WAL)")
	assert.Contains(t, dsn, "_pragma=foreign_keys(ON)")

	// Existing query strings are extended, not duplicated
	dsn = buildDSN("file::memory:?cache=shared")
	assert.Contains(t, dsn, "cache=shared&_pragma=busy_timeout(30000)")
}

func TestGormLogLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected logger.LogLevel
	}{
		{"silent", logger.Silent},
		{"error", logger.Error},
		{"warn", logger.Warn},
		{"info", logger.Info},
		{"unknown", logger.Warn},
		{"", logger.Warn},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			result := gormLogLevel(tt.level)
			assert.Equal(t, tt.expected, result)
		})
	}
}

// setupTestDB creates an in-memory SQLite database for testing.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := New(":memory:", nil, &Options{PrepareStmt: true, LogLevel: "silent"})
	require.NoError(t, err)

	return db
}
