package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm/logger"
)

const (
	slowQueryThreshold = 1 * time.Second

	// Payload rows carry the full request JSON, which can be hundreds of
	// kilobytes for a long novel, so logged SQL is cut short.
	maxSQLLogLength = 200
)

// slogGormLogger bridges GORM's query logging onto slog.
type slogGormLogger struct {
	logger *slog.Logger
	level  logger.LogLevel

	// pool stats are logged on lock contention, at most once a minute
	sqlDB        *sql.DB
	statsMu      sync.Mutex
	lastStatsLog time.Time
}

func newGormLogger(level string, log *slog.Logger) *slogGormLogger {
	return &slogGormLogger{logger: log, level: gormLogLevel(level)}
}

func gormLogLevel(level string) logger.LogLevel {
	switch level {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}

// SetSQLDB attaches the pool so contention errors can report its stats.
func (l *slogGormLogger) SetSQLDB(db *sql.DB) {
	l.sqlDB = db
}

func (l *slogGormLogger) LogMode(level logger.LogLevel) logger.Interface {
	return &slogGormLogger{logger: l.logger, level: level, sqlDB: l.sqlDB}
}

func (l *slogGormLogger) Info(ctx context.Context, msg string, args ...any) {
	if l.level >= logger.Info {
		l.logger.InfoContext(ctx, fmt.Sprintf(msg, args...))
	}
}

func (l *slogGormLogger) Warn(ctx context.Context, msg string, args ...any) {
	if l.level >= logger.Warn {
		l.logger.WarnContext(ctx, fmt.Sprintf(msg, args...))
	}
}

func (l *slogGormLogger) Error(ctx context.Context, msg string, args ...any) {
	if l.level >= logger.Error {
		l.logger.ErrorContext(ctx, fmt.Sprintf(msg, args...))
	}
}

func (l *slogGormLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	if l.level <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)
	isSlow := elapsed > slowQueryThreshold

	// fc() interpolates parameters into the full SQL string, which is
	// expensive for the big payload rows. Decide first, then call it.
	var willLog bool
	switch {
	case err != nil && l.level >= logger.Error:
		willLog = true
	case isSlow && l.level >= logger.Warn:
		willLog = l.logger.Enabled(ctx, slog.LevelWarn)
	case l.level >= logger.Info:
		willLog = l.logger.Enabled(ctx, slog.LevelDebug)
	}
	if !willLog {
		return
	}

	sqlStr, rows := fc()

	switch {
	case err != nil:
		l.logger.ErrorContext(ctx, "database error",
			"error_type", classifyError(err, l),
			"sql", truncateSQL(sqlStr),
			"rows", rows,
			"elapsed", elapsed,
			"error", err,
		)
	case isSlow:
		l.logger.WarnContext(ctx, "slow query",
			"sql", truncateSQL(sqlStr),
			"rows", rows,
			"elapsed", elapsed,
		)
	default:
		l.logger.DebugContext(ctx, "database query",
			"sql", truncateSQL(sqlStr),
			"rows", rows,
			"elapsed", elapsed,
		)
	}
}

// classifyError buckets query errors for log filtering; SQLITE_BUSY also
// triggers a pool stats dump.
func classifyError(err error, l *slogGormLogger) string {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "database is locked"):
		l.logContentionStats()
		return "SQLITE_BUSY"
	case strings.Contains(msg, "context canceled"):
		return "CONTEXT_CANCELED"
	case strings.Contains(msg, "context deadline exceeded"):
		return "TIMEOUT"
	case strings.Contains(msg, "record not found"):
		return "NOT_FOUND"
	}
	return "OTHER"
}

func (l *slogGormLogger) logContentionStats() {
	if l.sqlDB == nil {
		return
	}

	l.statsMu.Lock()
	defer l.statsMu.Unlock()
	if time.Since(l.lastStatsLog) < time.Minute {
		return
	}
	l.lastStatsLog = time.Now()

	stats := l.sqlDB.Stats()
	l.logger.Warn("SQLite connection pool stats on lock contention",
		"max_open_conns", stats.MaxOpenConnections,
		"open_conns", stats.OpenConnections,
		"in_use", stats.InUse,
		"idle", stats.Idle,
		"wait_count", stats.WaitCount,
		"wait_duration", stats.WaitDuration,
	)
}

func truncateSQL(sql string) string {
	if len(sql) <= maxSQLLogLength {
		return sql
	}
	return sql[:maxSQLLogLength] + "... (truncated)"
}
