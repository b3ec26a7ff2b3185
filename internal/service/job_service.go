// Package service provides the high-level job operations the HTTP handlers
// and the offline render command share: submission, lifecycle transitions and
// artifact access, with the domain sentinels callers map to status codes.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/storyloom/storyloom/internal/models"
	"github.com/storyloom/storyloom/internal/observability"
	"github.com/storyloom/storyloom/internal/repository"
	"github.com/storyloom/storyloom/internal/storage"
)

// jobStarter is the slice of the scheduler the service needs.
type jobStarter interface {
	StartJob(jobID string) error
	IsRunning(jobID string) bool
}

// JobService provides high-level job management operations.
type JobService struct {
	jobs      repository.JobRepository
	workspace *storage.Workspace
	scheduler jobStarter
	logger    *slog.Logger
}

// NewJobService creates a JobService.
func NewJobService(jobs repository.JobRepository, workspace *storage.Workspace, scheduler jobStarter, logger *slog.Logger) *JobService {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobService{
		jobs:      jobs,
		workspace: workspace,
		scheduler: scheduler,
		logger:    observability.WithComponent(logger, "job-service"),
	}
}

// Create validates and submits a new generation job. The payload is persisted
// before the worker starts so a crash between the two never strands an
// unresumable job.
func (s *JobService) Create(ctx context.Context, req *models.GenerateVideoRequest, baseURL string) (*models.Job, error) {
	req.ApplyDefaults()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	job := models.NewJob()
	if err := s.jobs.Set(ctx, job); err != nil {
		return nil, fmt.Errorf("creating job row: %w", err)
	}
	if err := s.jobs.SavePayload(ctx, job.ID, req, baseURL); err != nil {
		return nil, fmt.Errorf("persisting job payload: %w", err)
	}
	if err := s.scheduler.StartJob(job.ID); err != nil {
		return nil, fmt.Errorf("starting job: %w", err)
	}

	s.logger.Info("job submitted", "job_id", job.ID, "text_len", len(req.Text))
	return job, nil
}

// Get retrieves a job snapshot. Returns models.ErrJobNotFound when absent.
func (s *JobService) Get(ctx context.Context, jobID string) (*models.Job, error) {
	if !models.IsJobID(jobID) {
		return nil, models.ErrJobIDInvalid
	}
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, models.ErrJobNotFound
	}
	return job, nil
}

// List retrieves recent jobs, newest first.
func (s *JobService) List(ctx context.Context, limit int) ([]*models.Job, error) {
	return s.jobs.ListRecent(ctx, limit)
}

// Cancel requests cooperative cancellation. A running worker stops at its
// next checkpoint; a job waiting for a slot is marked cancelled directly.
func (s *JobService) Cancel(ctx context.Context, jobID string) (*models.Job, error) {
	job, err := s.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.IsFinished() {
		return job, nil
	}

	if err := s.jobs.Cancel(ctx, jobID); err != nil {
		return nil, fmt.Errorf("setting cancel flag: %w", err)
	}
	if !s.scheduler.IsRunning(jobID) {
		job.MarkCancelled("cancelled before start")
		if err := s.jobs.Set(ctx, job); err != nil {
			return nil, fmt.Errorf("persisting cancellation: %w", err)
		}
	}

	s.logger.Info("job cancellation requested", "job_id", jobID)
	return job, nil
}

// Resume restarts an interrupted job from its persisted payload. Returns
// models.ErrJobAlreadyRunning when a worker holds the job and
// models.ErrJobPayloadMissing when the payload row is gone.
func (s *JobService) Resume(ctx context.Context, jobID string) (*models.Job, error) {
	job, err := s.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if s.scheduler.IsRunning(jobID) {
		return nil, models.ErrJobAlreadyRunning
	}
	if _, _, err := s.jobs.LoadPayload(ctx, jobID); err != nil {
		return nil, err
	}

	// A cancelled or failed job resumes as queued; finished clips on disk
	// are picked up by the worker.
	job.Status = models.JobStatusQueued
	job.Step = "queued"
	job.Message = "resume requested"
	if err := s.jobs.Set(ctx, job); err != nil {
		return nil, fmt.Errorf("requeueing job: %w", err)
	}
	if err := s.scheduler.StartJob(jobID); err != nil {
		return nil, err
	}

	s.logger.Info("job resumed", "job_id", jobID)
	return job, nil
}

// Delete removes the job rows and every artifact: the scratch tree with its
// clips and the published final video. Running jobs must be cancelled first.
func (s *JobService) Delete(ctx context.Context, jobID string) error {
	job, err := s.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if s.scheduler.IsRunning(jobID) {
		return models.ErrJobAlreadyRunning
	}

	if err := s.jobs.Delete(ctx, jobID); err != nil {
		return fmt.Errorf("deleting job rows: %w", err)
	}
	if err := s.workspace.RemoveJobWorkspace(jobID); err != nil {
		s.logger.Warn("failed to remove job workspace", "job_id", jobID, "error", err)
	}
	outputPath := job.OutputVideoPath
	if outputPath == "" {
		cfg := s.workspace.Config()
		outputPath = cfg.OutputVideoPath(jobID)
	}
	if err := os.Remove(outputPath); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("failed to remove output video", "job_id", jobID, "error", err)
	}

	s.logger.Info("job deleted", "job_id", jobID)
	return nil
}

// VideoPath returns the final video location for a completed job. Returns
// models.ErrVideoNotReady until the job completes and models.ErrVideoNotFound
// when the file has since disappeared from disk.
func (s *JobService) VideoPath(ctx context.Context, jobID string) (string, error) {
	job, err := s.Get(ctx, jobID)
	if err != nil {
		return "", err
	}
	if job.Status != models.JobStatusCompleted {
		return "", models.ErrVideoNotReady
	}

	path := job.OutputVideoPath
	if path == "" {
		cfg := s.workspace.Config()
		path = cfg.OutputVideoPath(jobID)
	}
	if stat, err := os.Stat(path); err != nil || stat.IsDir() {
		return "", models.ErrVideoNotFound
	}
	return path, nil
}

// Stats tallies jobs per status for the health surface.
func (s *JobService) Stats(ctx context.Context) (map[models.JobStatus]int64, error) {
	return s.jobs.CountByStatus(ctx)
}
