package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/storyloom/storyloom/internal/config"
	"github.com/storyloom/storyloom/internal/models"
	"github.com/storyloom/storyloom/internal/repository"
	"github.com/storyloom/storyloom/internal/service"
	"github.com/storyloom/storyloom/internal/storage"
)

type fakeStarter struct {
	started []string
	running map[string]bool
	err     error
}

func (f *fakeStarter) StartJob(jobID string) error {
	if f.err != nil {
		return f.err
	}
	f.started = append(f.started, jobID)
	return nil
}

func (f *fakeStarter) IsRunning(jobID string) bool {
	return f.running[jobID]
}

type jobsEnv struct {
	handler *JobsHandler
	jobs    repository.JobRepository
	starter *fakeStarter
	svc     *service.JobService
	cfg     config.StorageConfig
}

func newJobsEnv(t *testing.T) *jobsEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Job{}, &models.JobPayload{}, &models.JobCancelFlag{}))

	base := t.TempDir()
	cfg := config.StorageConfig{
		OutputDir: filepath.Join(base, "output"),
		TempDir:   filepath.Join(base, "temp"),
		AssetsDir: filepath.Join(base, "assets"),
	}
	workspace := storage.NewWorkspace(cfg, nil)
	require.NoError(t, workspace.Bootstrap())

	repo := repository.NewJobRepository(db)
	starter := &fakeStarter{running: make(map[string]bool)}
	svc := service.NewJobService(repo, workspace, starter, nil)

	return &jobsEnv{
		handler: NewJobsHandler(svc),
		jobs:    repo,
		starter: starter,
		svc:     svc,
		cfg:     cfg,
	}
}

func requireStatus(t *testing.T, err error, status int) {
	t.Helper()
	require.Error(t, err)
	var se huma.StatusError
	require.True(t, errors.As(err, &se), "expected a status error, got %v", err)
	assert.Equal(t, status, se.GetStatus())
}

func TestJobsHandler_GenerateVideo(t *testing.T) {
	env := newJobsEnv(t)
	ctx := context.Background()

	t.Run("queues valid request", func(t *testing.T) {
		input := &GenerateVideoInput{Host: "example.test"}
		input.Body = models.GenerateVideoRequest{Text: "第一句。第二句。"}

		out, err := env.handler.GenerateVideo(ctx, input)
		require.NoError(t, err)
		assert.Equal(t, http.StatusAccepted, out.Status)
		assert.True(t, models.IsJobID(out.Body.JobID))
		assert.Equal(t, string(models.JobStatusQueued), out.Body.Status)
		assert.Equal(t, []string{out.Body.JobID}, env.starter.started)
	})

	t.Run("rejects empty text", func(t *testing.T) {
		input := &GenerateVideoInput{}
		input.Body = models.GenerateVideoRequest{Text: "   "}

		_, err := env.handler.GenerateVideo(ctx, input)
		requireStatus(t, err, http.StatusBadRequest)
	})

	t.Run("rejects bad resolution", func(t *testing.T) {
		input := &GenerateVideoInput{}
		input.Body = models.GenerateVideoRequest{Text: "第一句。", Resolution: "123x45"}

		_, err := env.handler.GenerateVideo(ctx, input)
		requireStatus(t, err, http.StatusBadRequest)
	})
}

func TestJobsHandler_Get(t *testing.T) {
	env := newJobsEnv(t)
	ctx := context.Background()

	t.Run("returns a stored job", func(t *testing.T) {
		job := models.NewJob()
		require.NoError(t, env.jobs.Set(ctx, job))

		out, err := env.handler.Get(ctx, &JobIDInput{ID: job.ID})
		require.NoError(t, err)
		assert.Equal(t, job.ID, out.Body.JobID)
		assert.Equal(t, string(models.JobStatusQueued), out.Body.Status)
		assert.NotEmpty(t, out.Body.CreatedAt)
	})

	t.Run("invalid id is a bad request", func(t *testing.T) {
		_, err := env.handler.Get(ctx, &JobIDInput{ID: "nope"})
		requireStatus(t, err, http.StatusBadRequest)
	})

	t.Run("unknown id is not found", func(t *testing.T) {
		_, err := env.handler.Get(ctx, &JobIDInput{ID: models.NewJobID()})
		requireStatus(t, err, http.StatusNotFound)
	})
}

func TestJobsHandler_List(t *testing.T) {
	env := newJobsEnv(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, env.jobs.Set(ctx, models.NewJob()))
	}

	out, err := env.handler.List(ctx, &ListJobsInput{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, out.Body.Jobs, 2)
}

func TestJobsHandler_CancelAndResume(t *testing.T) {
	env := newJobsEnv(t)
	ctx := context.Background()

	job := models.NewJob()
	require.NoError(t, env.jobs.Set(ctx, job))
	req := &models.GenerateVideoRequest{Text: "第一句。"}
	req.ApplyDefaults()
	require.NoError(t, env.jobs.SavePayload(ctx, job.ID, req, ""))

	out, err := env.handler.Cancel(ctx, &JobIDInput{ID: job.ID})
	require.NoError(t, err)
	assert.Equal(t, string(models.JobStatusCancelled), out.Body.Status)

	out, err = env.handler.Resume(ctx, &JobIDInput{ID: job.ID})
	require.NoError(t, err)
	assert.Equal(t, string(models.JobStatusQueued), out.Body.Status)
	assert.Contains(t, env.starter.started, job.ID)
}

func TestJobsHandler_Delete(t *testing.T) {
	env := newJobsEnv(t)
	ctx := context.Background()

	job := models.NewJob()
	require.NoError(t, env.jobs.Set(ctx, job))

	out, err := env.handler.Delete(ctx, &JobIDInput{ID: job.ID})
	require.NoError(t, err)
	assert.True(t, out.Body.Deleted)

	_, err = env.handler.Get(ctx, &JobIDInput{ID: job.ID})
	requireStatus(t, err, http.StatusNotFound)
}

func TestJobsHandler_ServeVideo(t *testing.T) {
	env := newJobsEnv(t)
	ctx := context.Background()

	router := chi.NewRouter()
	env.handler.RegisterChiRoutes(router)

	t.Run("conflict before completion", func(t *testing.T) {
		job := models.NewJob()
		require.NoError(t, env.jobs.Set(ctx, job))

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/jobs/"+job.ID+"/video", nil))
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("streams the finished video", func(t *testing.T) {
		job := models.NewJob()
		path := env.cfg.OutputVideoPath(job.ID)
		require.NoError(t, os.WriteFile(path, []byte("mp4-bytes"), 0o644))
		job.MarkCompleted(path, "")
		require.NoError(t, env.jobs.Set(ctx, job))

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/jobs/"+job.ID+"/video", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "video/mp4", rec.Header().Get("Content-Type"))
		assert.Equal(t, "mp4-bytes", rec.Body.String())
	})

	t.Run("not found for an invalid id", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/jobs/nope/video", nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestBaseURLFromInput(t *testing.T) {
	assert.Equal(t, "", baseURLFromInput("https", ""))
	assert.Equal(t, "http://example.test", baseURLFromInput("", "example.test"))
	assert.Equal(t, "https://example.test", baseURLFromInput("https", "example.test"))
}
