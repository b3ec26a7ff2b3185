package scheduler

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/storyloom/storyloom/internal/compose"
	"github.com/storyloom/storyloom/internal/config"
	"github.com/storyloom/storyloom/internal/imagegen"
	"github.com/storyloom/storyloom/internal/llm"
	"github.com/storyloom/storyloom/internal/models"
	"github.com/storyloom/storyloom/internal/render"
	"github.com/storyloom/storyloom/internal/repository"
	"github.com/storyloom/storyloom/internal/storage"
	"github.com/storyloom/storyloom/internal/tts"
)

type fakeLLM struct{}

func (f *fakeLLM) SegmentSmart(context.Context, string, string) ([]string, error) {
	return nil, errors.New("provider disabled")
}

func (f *fakeLLM) SummarizeStoryWorld(context.Context, string, string) string { return "" }

func (f *fakeLLM) BuildSegmentImageBundle(_ context.Context, req llm.BundleRequest) llm.PromptBundle {
	return llm.PromptBundle{
		Prompt: "anime scene: " + req.SegmentText,
		Assignment: llm.CharacterAssignment{
			PrimaryIndex:   req.DefaultPrimaryIndex,
			RelatedIndexes: req.DefaultRelatedIndexes,
		},
	}
}

type fakeSynth struct{}

func (f *fakeSynth) SynthesizeSegment(_ context.Context, _ string, _ []string, outPath string) (*tts.Result, error) {
	if err := os.WriteFile(outPath, []byte("audio"), 0640); err != nil {
		return nil, err
	}
	return &tts.Result{Path: outPath, Duration: 1.2}, nil
}

type fakeResolver struct {
	mu       sync.Mutex
	calls    int
	disallow [][]int64
	gate     chan struct{}
}

func (f *fakeResolver) Resolve(_ context.Context, req imagegen.ResolveRequest) (*imagegen.Resolution, error) {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	f.calls++
	id := int64(f.calls)
	f.disallow = append(f.disallow, req.Disallow)
	f.mu.Unlock()

	if err := os.WriteFile(req.OutPath, []byte("image"), 0640); err != nil {
		return nil, err
	}
	return &imagegen.Resolution{
		Path:         req.OutPath,
		Source:       imagegen.SourceCache,
		CacheEntryID: id,
	}, nil
}

type fakeRenderer struct {
	mu      sync.Mutex
	indexes []int
}

func (f *fakeRenderer) RenderClip(_ context.Context, req render.ClipRequest) error {
	f.mu.Lock()
	f.indexes = append(f.indexes, req.Index)
	f.mu.Unlock()
	return os.WriteFile(req.OutPath, []byte("clip"), 0640)
}

type fakeCompositor struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeCompositor) Compose(_ context.Context, req compose.Request) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	for _, clip := range req.ClipPaths {
		if _, err := os.Stat(clip); err != nil {
			return err
		}
	}
	return os.WriteFile(req.OutPath, bytes.Repeat([]byte{0xAB}, compose.MinFinalVideoSize), 0640)
}

type testHarness struct {
	sched      *Scheduler
	jobs       repository.JobRepository
	cfg        *config.Config
	resolver   *fakeResolver
	renderer   *fakeRenderer
	compositor *fakeCompositor
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Job{}, &models.JobPayload{}, &models.JobCancelFlag{}))
	jobs := repository.NewJobRepository(db)

	root := t.TempDir()
	cfg := &config.Config{
		Storage: config.StorageConfig{
			OutputDir: filepath.Join(root, "output"),
			TempDir:   filepath.Join(root, "temp"),
			AssetsDir: filepath.Join(root, "assets"),
		},
		TTS:        config.TTSConfig{NarratorVoice: "zh-CN-YunxiNeural"},
		Render:     config.RenderConfig{TTSGainDB: 6},
		SceneReuse: config.SceneReuseConfig{Enabled: true, NoRepeatWindow: 3, MaxEntries: 100},
		Scheduler:  config.SchedulerConfig{MaxParallelJobs: 2, ResumeOnStart: true},
	}

	testLogger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	workspace := storage.NewWorkspace(cfg.Storage, testLogger)
	require.NoError(t, workspace.Bootstrap())

	h := &testHarness{
		jobs:       jobs,
		cfg:        cfg,
		resolver:   &fakeResolver{},
		renderer:   &fakeRenderer{},
		compositor: &fakeCompositor{},
	}
	h.sched = New(Deps{
		Config:     cfg,
		Jobs:       jobs,
		Workspace:  workspace,
		LLM:        &fakeLLM{},
		Synth:      &fakeSynth{},
		Resolver:   h.resolver,
		Renderer:   h.renderer,
		Compositor: h.compositor,
		Logger:     testLogger,
	})
	require.NoError(t, h.sched.Start(context.Background()))
	t.Cleanup(h.sched.Stop)
	return h
}

func (h *testHarness) createJob(t *testing.T, req *models.GenerateVideoRequest) string {
	t.Helper()
	ctx := context.Background()
	job := models.NewJob()
	require.NoError(t, h.jobs.Set(ctx, job))
	require.NoError(t, h.jobs.SavePayload(ctx, job.ID, req, "http://example.test"))
	return job.ID
}

func (h *testHarness) waitForStatus(t *testing.T, jobID string, want models.JobStatus) *models.Job {
	t.Helper()
	var latest *models.Job
	require.Eventually(t, func() bool {
		job, err := h.jobs.Get(context.Background(), jobID)
		if err != nil || job == nil {
			return false
		}
		latest = job
		return job.Status == want
	}, 5*time.Second, 10*time.Millisecond, "job never reached status %s", want)
	return latest
}

func twoSegmentRequest() *models.GenerateVideoRequest {
	return &models.GenerateVideoRequest{
		Text:             "第一句。第二句。第三句。第四句。",
		SegmentMethod:    models.SegmentMethodSentence,
		SegmentsPerImage: 2,
		Characters:       []models.Character{{Name: "林若雪"}},
	}
}

func TestRunJobEndToEnd(t *testing.T) {
	h := newTestHarness(t)
	jobID := h.createJob(t, twoSegmentRequest())

	require.NoError(t, h.sched.StartJob(jobID))
	job := h.waitForStatus(t, jobID, models.JobStatusCompleted)

	assert.InDelta(t, 1.0, job.Progress, 0.001)
	assert.Equal(t, 2, job.TotalSegments)
	assert.Equal(t, 2, job.ClipCount)
	assert.Equal(t, h.cfg.Storage.OutputVideoPath(jobID), job.OutputVideoPath)
	assert.Equal(t, "http://example.test/api/jobs/"+jobID+"/video", job.OutputVideoURL)

	stat, err := os.Stat(job.OutputVideoPath)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, stat.Size(), int64(compose.MinFinalVideoSize))

	report, err := job.ImageSourceReport()
	require.NoError(t, err)
	assert.Equal(t, 2, report[models.ImageSourceCache])

	// The second segment's lookup must exclude the first reused entry.
	assert.Equal(t, [][]int64{nil, {1}}, h.resolver.disallow)

	// Per-segment intermediates are gone, clips survive.
	clipsDir := h.cfg.Storage.JobClipsDir(jobID)
	for _, name := range []string{"clip_0000.mp4", "clip_0001.mp4"} {
		_, err := os.Stat(filepath.Join(clipsDir, name))
		assert.NoError(t, err)
	}
	_, err = os.Stat(filepath.Join(h.cfg.Storage.JobTempDir(jobID), "segment_0000.png"))
	assert.True(t, os.IsNotExist(err))
}

func TestRunJobResumeSkipsExistingClips(t *testing.T) {
	h := newTestHarness(t)
	jobID := h.createJob(t, twoSegmentRequest())

	clipsDir := h.cfg.Storage.JobClipsDir(jobID)
	require.NoError(t, os.MkdirAll(clipsDir, 0750))
	existing := filepath.Join(clipsDir, "clip_0000.mp4")
	require.NoError(t, os.WriteFile(existing, []byte("clip"), 0640))
	before, err := os.Stat(existing)
	require.NoError(t, err)

	require.NoError(t, h.sched.StartJob(jobID))
	job := h.waitForStatus(t, jobID, models.JobStatusCompleted)

	assert.Equal(t, 2, job.ClipCount)
	assert.Equal(t, []int{1}, h.renderer.indexes)

	after, err := os.Stat(existing)
	require.NoError(t, err)
	assert.Equal(t, before.ModTime(), after.ModTime())
}

func TestRunJobSkipsComposeWhenFinalExists(t *testing.T) {
	h := newTestHarness(t)
	jobID := h.createJob(t, twoSegmentRequest())

	final := h.cfg.Storage.OutputVideoPath(jobID)
	require.NoError(t, os.WriteFile(final, bytes.Repeat([]byte{0xCD}, compose.MinFinalVideoSize), 0640))

	require.NoError(t, h.sched.StartJob(jobID))
	h.waitForStatus(t, jobID, models.JobStatusCompleted)

	assert.Zero(t, h.compositor.calls)
	assert.Empty(t, h.renderer.indexes)
}

func TestStartJobRejectsDuplicateRunner(t *testing.T) {
	h := newTestHarness(t)
	h.resolver.gate = make(chan struct{})
	jobID := h.createJob(t, twoSegmentRequest())

	require.NoError(t, h.sched.StartJob(jobID))
	require.Eventually(t, func() bool { return h.sched.IsRunning(jobID) },
		2*time.Second, 5*time.Millisecond, "worker never registered")

	err := h.sched.StartJob(jobID)
	assert.ErrorIs(t, err, models.ErrJobAlreadyRunning)

	close(h.resolver.gate)
	h.waitForStatus(t, jobID, models.JobStatusCompleted)
	assert.False(t, h.sched.IsRunning(jobID))
}

func TestCancelStopsBeforeNextSegment(t *testing.T) {
	h := newTestHarness(t)
	jobID := h.createJob(t, twoSegmentRequest())

	require.NoError(t, h.jobs.Cancel(context.Background(), jobID))
	require.NoError(t, h.sched.StartJob(jobID))

	job := h.waitForStatus(t, jobID, models.JobStatusCancelled)
	assert.Zero(t, h.compositor.calls)
	assert.Zero(t, job.ClipCount)
	assert.NotEmpty(t, job.Message)
}

func TestRecoverIncomplete(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	resumable := h.createJob(t, twoSegmentRequest())

	orphan := models.NewJob()
	require.NoError(t, h.jobs.Set(ctx, orphan))

	require.NoError(t, h.sched.RecoverIncomplete(ctx))

	h.waitForStatus(t, resumable, models.JobStatusCompleted)
	failed := h.waitForStatus(t, orphan.ID, models.JobStatusFailed)
	assert.Contains(t, failed.Message, "payload missing")
}

func TestRunJobFailsWithInvalidRange(t *testing.T) {
	h := newTestHarness(t)
	req := twoSegmentRequest()
	req.SegmentRange = "abc"
	jobID := h.createJob(t, req)

	require.NoError(t, h.sched.StartJob(jobID))
	job := h.waitForStatus(t, jobID, models.JobStatusFailed)
	assert.NotEmpty(t, job.Message)
}
