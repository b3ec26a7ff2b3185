// Package database provides SQLite connection management for storyloom.
// The service keeps two stores: the job store under assets/jobs and the
// scene-image cache index under assets/scene_cache. Both are opened through
// GORM with the pure Go SQLite driver, so no CGO toolchain is required.
package database

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

// DB wraps a GORM connection to one of the storyloom SQLite stores.
type DB struct {
	*gorm.DB
	path   string
	logger *slog.Logger
}

// Options contains optional configuration for database connections.
type Options struct {
	// PrepareStmt enables prepared statement caching. Default is true.
	// Set to false when using transactions in tests.
	PrepareStmt bool
	// LogLevel controls GORM query logging: silent, error, warn, info.
	// Defaults to warn.
	LogLevel string
}

// New opens the SQLite store at path, creating the parent directory if
// needed. Use ":memory:" for an ephemeral store in tests. Pass nil opts
// for defaults (PrepareStmt: true, LogLevel: warn).
func New(path string, log *slog.Logger, opts *Options) (*DB, error) {
	if opts == nil {
		opts = &Options{PrepareStmt: true, LogLevel: "warn"}
	}
	if log == nil {
		log = slog.Default()
	}

	if !isMemoryPath(path) {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	queryLog := newGormLogger(opts.LogLevel, log)

	gdb, err := gorm.Open(sqlite.Open(buildDSN(path)), &gorm.Config{
		Logger: queryLog,
		// Single statements do not need the implicit transaction wrapper.
		SkipDefaultTransaction: true,
		PrepareStmt:            opts.PrepareStmt,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("getting underlying sql.DB: %w", err)
	}
	queryLog.SetSQLDB(sqlDB)

	// In WAL mode concurrent readers are allowed but only one writer at a
	// time. Six connections covers the job workers, HTTP reads, and the
	// maintenance sweeps without piling up lock contention. An in-memory
	// store must stay on a single connection: every new connection to
	// ":memory:" would otherwise open a fresh empty database.
	maxOpen, maxIdle := 6, 3
	if isMemoryPath(path) {
		maxOpen, maxIdle = 1, 1
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(30 * time.Minute)

	db := &DB{DB: gdb, path: path, logger: log}
	db.logPragmas()
	return db, nil
}

func isMemoryPath(path string) bool {
	return strings.Contains(path, ":memory:") || strings.Contains(path, "mode=memory")
}

// buildDSN appends the SQLite PRAGMAs to the path. PRAGMAs travel in the DSN
// so every pooled connection gets them, not just the first.
func buildDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	pragmas := []string{
		"_pragma=busy_timeout(30000)",
		"_pragma=journal_mode(WAL)",
		"_pragma=synchronous(NORMAL)",
		"_pragma=foreign_keys(ON)",
	}
	return path + sep + strings.Join(pragmas, "&")
}

// Close closes the underlying connection pool.
func (db *DB) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return fmt.Errorf("getting underlying sql.DB: %w", err)
	}
	return sqlDB.Close()
}

// Ping verifies the store is reachable.
func (db *DB) Ping(ctx context.Context) error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return fmt.Errorf("getting underlying sql.DB: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// Path returns the filesystem path this store was opened with.
func (db *DB) Path() string {
	return db.path
}

// WithContext returns a DB bound to ctx.
func (db *DB) WithContext(ctx context.Context) *DB {
	return &DB{DB: db.DB.WithContext(ctx), path: db.path, logger: db.logger}
}

// Transaction runs fn inside a transaction, rolling back when fn errors.
func (db *DB) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return db.DB.WithContext(ctx).Transaction(fn)
}

// Migrate creates or updates the tables for the given models.
func (db *DB) Migrate(models ...any) error {
	if err := db.DB.AutoMigrate(models...); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

// EnsureColumns adds any of the named model fields that are missing from
// the table. Stores created before a field existed are upgraded in place
// without touching existing rows.
func (db *DB) EnsureColumns(model any, fields ...string) error {
	migrator := db.DB.Migrator()
	for _, field := range fields {
		if migrator.HasColumn(model, field) {
			continue
		}
		if err := migrator.AddColumn(model, field); err != nil {
			return fmt.Errorf("adding column %s: %w", field, err)
		}
	}
	return nil
}

// Stats returns connection pool statistics for the health endpoint.
func (db *DB) Stats() (map[string]any, error) {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return nil, fmt.Errorf("getting underlying sql.DB: %w", err)
	}

	stats := sqlDB.Stats()
	return map[string]any{
		"max_open_connections": stats.MaxOpenConnections,
		"open_connections":     stats.OpenConnections,
		"in_use":               stats.InUse,
		"idle":                 stats.Idle,
		"wait_count":           stats.WaitCount,
		"wait_duration":        stats.WaitDuration.String(),
		"max_idle_closed":      stats.MaxIdleClosed,
		"max_idle_time_closed": stats.MaxIdleTimeClosed,
		"max_lifetime_closed":  stats.MaxLifetimeClosed,
	}, nil
}

// logPragmas reads back the effective PRAGMA values so a misconfigured DSN
// shows up in debug logs.
func (db *DB) logPragmas() {
	var journalMode string
	var busyTimeout, foreignKeys int64

	_ = db.DB.Raw("PRAGMA journal_mode").Scan(&journalMode)
	_ = db.DB.Raw("PRAGMA busy_timeout").Scan(&busyTimeout)
	_ = db.DB.Raw("PRAGMA foreign_keys").Scan(&foreignKeys)

	db.logger.Debug("SQLite configuration",
		"path", db.path,
		"journal_mode", journalMode,
		"busy_timeout_ms", busyTimeout,
		"foreign_keys", foreignKeys,
	)
}
