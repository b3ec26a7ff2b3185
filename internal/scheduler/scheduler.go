// Package scheduler runs video generation jobs: one worker goroutine per
// job, bounded by max_parallel_jobs, with crash recovery at startup and
// periodic maintenance driven by cron schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/storyloom/storyloom/internal/compose"
	"github.com/storyloom/storyloom/internal/config"
	"github.com/storyloom/storyloom/internal/imagegen"
	"github.com/storyloom/storyloom/internal/llm"
	"github.com/storyloom/storyloom/internal/models"
	"github.com/storyloom/storyloom/internal/observability"
	"github.com/storyloom/storyloom/internal/render"
	"github.com/storyloom/storyloom/internal/repository"
	"github.com/storyloom/storyloom/internal/scenecache"
	"github.com/storyloom/storyloom/internal/segmentation"
	"github.com/storyloom/storyloom/internal/storage"
	"github.com/storyloom/storyloom/internal/tts"
)

// promptClient is the slice of the LLM client the worker needs.
type promptClient interface {
	segmentation.SmartSegmenter
	SummarizeStoryWorld(ctx context.Context, text, modelID string) string
	BuildSegmentImageBundle(ctx context.Context, req llm.BundleRequest) llm.PromptBundle
}

// speechSynthesizer produces one narration audio file per segment.
type speechSynthesizer interface {
	SynthesizeSegment(ctx context.Context, text string, characterVoices []string, outPath string) (*tts.Result, error)
}

// imageResolver produces one image file per segment.
type imageResolver interface {
	Resolve(ctx context.Context, req imagegen.ResolveRequest) (*imagegen.Resolution, error)
}

// clipRenderer renders one per-segment clip.
type clipRenderer interface {
	RenderClip(ctx context.Context, req render.ClipRequest) error
}

// videoCompositor joins the clips into the final video.
type videoCompositor interface {
	Compose(ctx context.Context, req compose.Request) error
}

// Deps collects everything a Scheduler needs.
type Deps struct {
	Config     *config.Config
	Jobs       repository.JobRepository
	Workspace  *storage.Workspace
	Cache      *scenecache.Cache // optional, used by maintenance pruning
	LLM        promptClient
	Synth      speechSynthesizer
	Resolver   imageResolver
	Renderer   clipRenderer
	Compositor videoCompositor
	Logger     *slog.Logger
}

// Scheduler owns the per-job workers. A process-wide map from job id to run
// id guarantees at most one worker per job, across explicit starts, resume
// requests and startup recovery.
type Scheduler struct {
	cfg        *config.Config
	jobs       repository.JobRepository
	workspace  *storage.Workspace
	cache      *scenecache.Cache
	llm        promptClient
	synth      speechSynthesizer
	resolver   imageResolver
	renderer   clipRenderer
	compositor videoCompositor
	logger     *slog.Logger

	mu     sync.Mutex
	active map[string]string // job id -> run id (ULID)
	slots  chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	cron   *cron.Cron
}

// New creates a scheduler. Start must be called before jobs can run.
func New(deps Deps) *Scheduler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	parallel := deps.Config.Scheduler.MaxParallelJobs
	if parallel < 1 {
		parallel = 1
	}
	return &Scheduler{
		cfg:        deps.Config,
		jobs:       deps.Jobs,
		workspace:  deps.Workspace,
		cache:      deps.Cache,
		llm:        deps.LLM,
		synth:      deps.Synth,
		resolver:   deps.Resolver,
		renderer:   deps.Renderer,
		compositor: deps.Compositor,
		logger:     observability.WithComponent(logger, "scheduler"),
		active:     make(map[string]string),
		slots:      make(chan struct{}, parallel),
	}
}

// Start prepares the scheduler for work and launches the maintenance cron.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx != nil {
		return fmt.Errorf("scheduler already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	if err := s.startMaintenance(); err != nil {
		return fmt.Errorf("starting maintenance schedules: %w", err)
	}

	s.logger.Info("scheduler started",
		"max_parallel_jobs", cap(s.slots),
		"resume_on_start", s.cfg.Scheduler.ResumeOnStart,
	)
	return nil
}

// Stop cancels all workers and waits for them to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
	s.wg.Wait()

	s.mu.Lock()
	s.ctx = nil
	s.cancel = nil
	s.mu.Unlock()

	s.logger.Info("scheduler stopped")
}

// StartJob launches the worker for a job. Returns
// models.ErrJobAlreadyRunning when a worker already holds the job, and an
// error when the scheduler was never started.
func (s *Scheduler) StartJob(jobID string) error {
	if !models.IsJobID(jobID) {
		return models.ErrJobIDInvalid
	}

	s.mu.Lock()
	if s.ctx == nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler is not running")
	}
	if _, running := s.active[jobID]; running {
		s.mu.Unlock()
		return models.ErrJobAlreadyRunning
	}
	runID := models.NewULID().String()
	s.active[jobID] = runID
	ctx := s.ctx
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release(jobID, runID)

		select {
		case s.slots <- struct{}{}:
			defer func() { <-s.slots }()
		case <-ctx.Done():
			return
		}
		s.runJob(ctx, jobID, runID)
	}()
	return nil
}

// IsRunning reports whether a worker currently holds the job.
func (s *Scheduler) IsRunning(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, running := s.active[jobID]
	return running
}

// ActiveJobIDs snapshots the jobs with live workers.
func (s *Scheduler) ActiveJobIDs() map[string]struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make(map[string]struct{}, len(s.active))
	for id := range s.active {
		ids[id] = struct{}{}
	}
	return ids
}

// release drops the active-runner entry and clears any cancel flag so the
// next run of this job starts clean.
func (s *Scheduler) release(jobID, runID string) {
	s.mu.Lock()
	if s.active[jobID] == runID {
		delete(s.active, jobID)
	}
	s.mu.Unlock()

	if err := s.jobs.ClearCancel(context.Background(), jobID); err != nil {
		s.logger.Warn("failed to clear cancel flag", "job_id", jobID, "error", err)
	}
}

// RecoverIncomplete restarts every queued or running job, oldest first. Jobs
// whose payload row is gone are marked failed instead of restarted.
func (s *Scheduler) RecoverIncomplete(ctx context.Context) error {
	ids, err := s.jobs.ListIncompleteJobIDs(ctx)
	if err != nil {
		return fmt.Errorf("listing incomplete jobs: %w", err)
	}
	for _, jobID := range ids {
		if _, _, err := s.jobs.LoadPayload(ctx, jobID); err != nil {
			if errors.Is(err, models.ErrJobPayloadMissing) {
				s.failJob(ctx, jobID, "job payload missing, cannot resume")
				continue
			}
			return fmt.Errorf("loading payload for %s: %w", jobID, err)
		}
		if err := s.StartJob(jobID); err != nil && !errors.Is(err, models.ErrJobAlreadyRunning) {
			return fmt.Errorf("restarting job %s: %w", jobID, err)
		}
		s.logger.Info("recovered incomplete job", "job_id", jobID)
	}
	return nil
}

// failJob marks a job failed with a message, best effort.
func (s *Scheduler) failJob(ctx context.Context, jobID, message string) {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil || job == nil {
		s.logger.Warn("cannot mark job failed", "job_id", jobID, "error", err)
		return
	}
	job.MarkFailed(message)
	if err := s.jobs.Set(ctx, job); err != nil {
		s.logger.Warn("failed to persist job failure", "job_id", jobID, "error", err)
	}
}
