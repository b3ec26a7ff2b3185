// Package repository defines data access interfaces for storyloom entities.
// All database access goes through these interfaces, enabling easy testing.
package repository

import (
	"context"
	"time"

	"github.com/storyloom/storyloom/internal/models"
)

// JobRepository defines operations for the durable job store: job rows, their
// serialized payloads and the cancel flags. Writes are serialized through a
// single mutex per process; reads may be concurrent.
type JobRepository interface {
	// Set upserts a job row. All mutable fields are written, updated_at is
	// set to now and created_at is preserved on update.
	Set(ctx context.Context, job *models.Job) error
	// Get retrieves the current job snapshot, nil when absent.
	Get(ctx context.Context, jobID string) (*models.Job, error)
	// ListRecent retrieves up to limit jobs (capped at 500), newest first.
	ListRecent(ctx context.Context, limit int) ([]*models.Job, error)
	// ListIncompleteJobIDs returns ids with status queued or running,
	// oldest first. Used at startup to enumerate recoverable jobs.
	ListIncompleteJobIDs(ctx context.Context) ([]string, error)
	// CountByStatus tallies jobs per status.
	CountByStatus(ctx context.Context) (map[models.JobStatus]int64, error)

	// SavePayload stores the serialized request for a job. Must succeed
	// before the job starts, else resume is impossible.
	SavePayload(ctx context.Context, jobID string, req *models.GenerateVideoRequest, baseURL string) error
	// LoadPayload retrieves the stored request and base URL. Returns
	// models.ErrJobPayloadMissing when no payload row exists.
	LoadPayload(ctx context.Context, jobID string) (*models.GenerateVideoRequest, string, error)

	// Cancel marks a job for cooperative cancellation.
	Cancel(ctx context.Context, jobID string) error
	// IsCancelled reports whether a cancel flag is set.
	IsCancelled(ctx context.Context, jobID string) (bool, error)
	// ClearCancel removes the cancel flag.
	ClearCancel(ctx context.Context, jobID string) error

	// Delete removes the job row, payload row and cancel flag atomically.
	Delete(ctx context.Context, jobID string) error
	// DeleteFinishedBefore removes terminal jobs last updated before the
	// given time, along with their payloads and cancel flags. Returns the
	// number of job rows removed.
	DeleteFinishedBefore(ctx context.Context, before time.Time) (int64, error)
}

// SceneCacheRepository defines unsynchronized data operations for the scene
// image cache index. The cache layer owns the mutex that serializes every
// mutation and shortlist read; this interface only shapes the SQL.
type SceneCacheRepository interface {
	// Insert stores a new entry with its reference bindings in one
	// transaction and fills in the assigned entry id.
	Insert(ctx context.Context, entry *models.SceneEntry, bindings []models.SceneRefBinding) error
	// Get retrieves one entry, nil when absent.
	Get(ctx context.Context, id int64) (*models.SceneEntry, error)
	// ListRecent retrieves up to limit entries, newest first; limit <= 0
	// lists all.
	ListRecent(ctx context.Context, limit int) ([]*models.SceneEntry, error)
	// ListByRefImageIDs retrieves entries bound to any of the reference
	// image ids, newest first.
	ListByRefImageIDs(ctx context.Context, refIDs []string) ([]*models.SceneEntry, error)
	// ListByRefPaths retrieves entries bound to any of the reference
	// paths, newest first.
	ListByRefPaths(ctx context.Context, refPaths []string) ([]*models.SceneEntry, error)
	// ListByCharacter retrieves entries whose indexed character name or
	// reference path matches, newest first.
	ListByCharacter(ctx context.Context, name, refPath string) ([]*models.SceneEntry, error)
	// Count returns the number of entries.
	Count(ctx context.Context) (int64, error)
	// CountBindings returns the number of binding rows.
	CountBindings(ctx context.Context) (int64, error)
	// InsertBindings stores binding rows (used by the backfill path).
	InsertBindings(ctx context.Context, bindings []models.SceneRefBinding) error
	// ReplaceBindings swaps an entry's bindings in one transaction.
	ReplaceBindings(ctx context.Context, entryID int64, bindings []models.SceneRefBinding) error
	// DeleteByIDs removes entries and their bindings, returning the number
	// of entries removed.
	DeleteByIDs(ctx context.Context, ids []int64) (int64, error)
	// Prune keeps only the newest keep entries, removing older rows and
	// their bindings. Returns the number of entries removed.
	Prune(ctx context.Context, keep int) (int64, error)
}
