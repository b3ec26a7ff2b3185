package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/storyloom/storyloom/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// jobMutableColumns are the columns Set overwrites on upsert. The id and
// created_at stay untouched so creation time survives progress writes.
var jobMutableColumns = []string{
	"status",
	"progress",
	"step",
	"message",
	"current_segment",
	"total_segments",
	"clip_count",
	"output_video_path",
	"output_video_url",
	"image_source_report_json",
	"updated_at",
}

// jobRepo implements JobRepository using GORM. A single mutex serializes
// writes; job writes are low-rate (one per segment) so contention is not a
// concern, and SQLite prefers one writer anyway.
type jobRepo struct {
	db *gorm.DB
	mu sync.Mutex
}

// NewJobRepository creates a new JobRepository.
func NewJobRepository(db *gorm.DB) *jobRepo {
	return &jobRepo{db: db}
}

// Set upserts a job row, preserving created_at on update.
func (r *jobRepo) Set(ctx context.Context, job *models.Job) error {
	if err := job.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	job.UpdatedAt = now
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns(jobMutableColumns),
	}).Create(job).Error
	if err != nil {
		return fmt.Errorf("setting job: %w", err)
	}
	return nil
}

// Get retrieves a job by ID.
func (r *jobRepo) Get(ctx context.Context, jobID string) (*models.Job, error) {
	var job models.Job
	if err := r.db.WithContext(ctx).Where("id = ?", jobID).First(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting job: %w", err)
	}
	return &job, nil
}

// ListRecent retrieves up to limit jobs, newest first. The limit is capped
// at 500.
func (r *jobRepo) ListRecent(ctx context.Context, limit int) ([]*models.Job, error) {
	if limit <= 0 || limit > 500 {
		limit = 500
	}

	var jobs []*models.Job
	err := r.db.WithContext(ctx).
		Order("created_at DESC, updated_at DESC").
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("listing recent jobs: %w", err)
	}
	return jobs, nil
}

// ListIncompleteJobIDs returns queued and running job ids, oldest first.
func (r *jobRepo) ListIncompleteJobIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&models.Job{}).
		Where("status IN (?, ?)", models.JobStatusQueued, models.JobStatusRunning).
		Order("created_at ASC").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("listing incomplete jobs: %w", err)
	}
	return ids, nil
}

// CountByStatus tallies jobs per status.
func (r *jobRepo) CountByStatus(ctx context.Context) (map[models.JobStatus]int64, error) {
	type row struct {
		Status models.JobStatus
		Count  int64
	}

	var rows []row
	err := r.db.WithContext(ctx).
		Model(&models.Job{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("counting jobs by status: %w", err)
	}

	counts := make(map[models.JobStatus]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}

// SavePayload stores the serialized request for a job.
func (r *jobRepo) SavePayload(ctx context.Context, jobID string, req *models.GenerateVideoRequest, baseURL string) error {
	payload := &models.JobPayload{
		JobID:     jobID,
		BaseURL:   baseURL,
		CreatedAt: time.Now(),
	}
	if err := payload.SetRequest(req); err != nil {
		return fmt.Errorf("serializing payload: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "job_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload_json", "base_url"}),
	}).Create(payload).Error
	if err != nil {
		return fmt.Errorf("saving payload: %w", err)
	}
	return nil
}

// LoadPayload retrieves the stored request and base URL for a job.
func (r *jobRepo) LoadPayload(ctx context.Context, jobID string) (*models.GenerateVideoRequest, string, error) {
	var payload models.JobPayload
	if err := r.db.WithContext(ctx).Where("job_id = ?", jobID).First(&payload).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, "", models.ErrJobPayloadMissing
		}
		return nil, "", fmt.Errorf("loading payload: %w", err)
	}

	req, err := payload.Request()
	if err != nil {
		return nil, "", fmt.Errorf("decoding payload: %w", err)
	}
	return req, payload.BaseURL, nil
}

// Cancel marks a job for cooperative cancellation. The flag is a separate
// row so it survives concurrent status writes.
func (r *jobRepo) Cancel(ctx context.Context, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	flag := &models.JobCancelFlag{JobID: jobID, RequestedAt: time.Now()}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "job_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"requested_at"}),
	}).Create(flag).Error
	if err != nil {
		return fmt.Errorf("setting cancel flag: %w", err)
	}
	return nil
}

// IsCancelled reports whether a cancel flag exists for the job.
func (r *jobRepo) IsCancelled(ctx context.Context, jobID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.JobCancelFlag{}).
		Where("job_id = ?", jobID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("checking cancel flag: %w", err)
	}
	return count > 0, nil
}

// ClearCancel removes the cancel flag for a job.
func (r *jobRepo) ClearCancel(ctx context.Context, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.db.WithContext(ctx).Where("job_id = ?", jobID).Delete(&models.JobCancelFlag{}).Error; err != nil {
		return fmt.Errorf("clearing cancel flag: %w", err)
	}
	return nil
}

// Delete removes the job row, payload row and cancel flag in one
// transaction.
func (r *jobRepo) Delete(ctx context.Context, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("job_id = ?", jobID).Delete(&models.JobCancelFlag{}).Error; err != nil {
			return err
		}
		if err := tx.Where("job_id = ?", jobID).Delete(&models.JobPayload{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", jobID).Delete(&models.Job{}).Error
	})
	if err != nil {
		return fmt.Errorf("deleting job: %w", err)
	}
	return nil
}

// DeleteFinishedBefore removes terminal jobs last updated before the given
// time, along with their payloads and cancel flags.
func (r *jobRepo) DeleteFinishedBefore(ctx context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []string
		err := tx.Model(&models.Job{}).
			Where("status IN (?, ?, ?) AND updated_at < ?",
				models.JobStatusCompleted, models.JobStatusFailed, models.JobStatusCancelled, before).
			Pluck("id", &ids).Error
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}

		if err := tx.Where("job_id IN ?", ids).Delete(&models.JobCancelFlag{}).Error; err != nil {
			return err
		}
		if err := tx.Where("job_id IN ?", ids).Delete(&models.JobPayload{}).Error; err != nil {
			return err
		}

		result := tx.Where("id IN ?", ids).Delete(&models.Job{})
		if result.Error != nil {
			return result.Error
		}
		removed = result.RowsAffected
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("deleting finished jobs: %w", err)
	}
	return removed, nil
}
