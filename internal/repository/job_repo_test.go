package repository

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/storyloom/storyloom/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupJobTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	err = db.AutoMigrate(&models.Job{}, &models.JobPayload{}, &models.JobCancelFlag{})
	require.NoError(t, err)

	return db
}

func TestJobRepo_SetAndGet(t *testing.T) {
	db := setupJobTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	job := models.NewJob()
	require.NoError(t, repo.Set(ctx, job))
	assert.False(t, job.CreatedAt.IsZero())
	assert.False(t, job.UpdatedAt.IsZero())

	found, err := repo.Get(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, job.ID, found.ID)
	assert.Equal(t, models.JobStatusQueued, found.Status)
}

func TestJobRepo_Get_Missing(t *testing.T) {
	db := setupJobTestDB(t)
	repo := NewJobRepository(db)

	found, err := repo.Get(context.Background(), models.NewJobID())
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestJobRepo_Set_RejectsInvalidID(t *testing.T) {
	db := setupJobTestDB(t)
	repo := NewJobRepository(db)

	err := repo.Set(context.Background(), &models.Job{ID: "bogus"})
	assert.ErrorIs(t, err, models.ErrJobIDInvalid)
}

func TestJobRepo_Set_UpsertPreservesCreatedAt(t *testing.T) {
	db := setupJobTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	job := models.NewJob()
	require.NoError(t, repo.Set(ctx, job))

	first, err := repo.Get(ctx, job.ID)
	require.NoError(t, err)
	createdAt := first.CreatedAt

	time.Sleep(10 * time.Millisecond)

	job.MarkRunning("segment", "正在分段文本")
	job.Progress = 0.05
	require.NoError(t, repo.Set(ctx, job))

	second, err := repo.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, second.Status)
	assert.InDelta(t, 0.05, second.Progress, 1e-9)
	assert.Equal(t, createdAt.UTC(), second.CreatedAt.UTC(), "created_at survives upsert")
	assert.True(t, second.UpdatedAt.After(second.CreatedAt))
}

func TestJobRepo_ListRecent(t *testing.T) {
	db := setupJobTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		job := models.NewJob()
		job.CreatedAt = time.Now().Add(time.Duration(i) * time.Second)
		require.NoError(t, repo.Set(ctx, job))
		ids = append(ids, job.ID)
	}

	jobs, err := repo.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.Equal(t, ids[2], jobs[0].ID, "newest first")
	assert.Equal(t, ids[0], jobs[2].ID)

	t.Run("limit respected", func(t *testing.T) {
		jobs, err := repo.ListRecent(ctx, 2)
		require.NoError(t, err)
		assert.Len(t, jobs, 2)
	})

	t.Run("zero limit falls back to cap", func(t *testing.T) {
		jobs, err := repo.ListRecent(ctx, 0)
		require.NoError(t, err)
		assert.Len(t, jobs, 3)
	})
}

func TestJobRepo_ListIncompleteJobIDs(t *testing.T) {
	db := setupJobTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	oldest := models.NewJob()
	oldest.CreatedAt = time.Now().Add(-2 * time.Hour)
	require.NoError(t, repo.Set(ctx, oldest))

	running := models.NewJob()
	running.MarkRunning("render-segment", "")
	running.CreatedAt = time.Now().Add(-1 * time.Hour)
	require.NoError(t, repo.Set(ctx, running))

	done := models.NewJob()
	done.MarkCompleted("/out.mp4", "")
	require.NoError(t, repo.Set(ctx, done))

	failed := models.NewJob()
	failed.MarkFailed("boom")
	require.NoError(t, repo.Set(ctx, failed))

	ids, err := repo.ListIncompleteJobIDs(ctx)
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.Equal(t, oldest.ID, ids[0], "oldest first")
	assert.Equal(t, running.ID, ids[1])
}

func TestJobRepo_CountByStatus(t *testing.T) {
	db := setupJobTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		require.NoError(t, repo.Set(ctx, models.NewJob()))
	}
	done := models.NewJob()
	done.MarkCompleted("/out.mp4", "")
	require.NoError(t, repo.Set(ctx, done))

	counts, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[models.JobStatusQueued])
	assert.Equal(t, int64(1), counts[models.JobStatusCompleted])
}

func TestJobRepo_PayloadRoundtrip(t *testing.T) {
	db := setupJobTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	job := models.NewJob()
	require.NoError(t, repo.Set(ctx, job))

	req := &models.GenerateVideoRequest{
		Text: "山风吹过，旗帜猎猎作响。",
		Characters: []models.Character{
			{Name: "守旗人", SuggestedVoice: "zh-CN-YunyangNeural"},
		},
	}
	req.ApplyDefaults()

	require.NoError(t, repo.SavePayload(ctx, job.ID, req, "http://localhost:8080"))

	restored, baseURL, err := repo.LoadPayload(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", baseURL)
	assert.Equal(t, req.Text, restored.Text)
	assert.Equal(t, req.Characters, restored.Characters)

	t.Run("payload survives re-save", func(t *testing.T) {
		req.Text = "改写后的文本"
		require.NoError(t, repo.SavePayload(ctx, job.ID, req, "http://example.com"))

		restored, baseURL, err := repo.LoadPayload(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, "http://example.com", baseURL)
		assert.Equal(t, "改写后的文本", restored.Text)
	})

	t.Run("missing payload", func(t *testing.T) {
		_, _, err := repo.LoadPayload(ctx, models.NewJobID())
		assert.ErrorIs(t, err, models.ErrJobPayloadMissing)
	})
}

func TestJobRepo_CancelFlow(t *testing.T) {
	db := setupJobTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	job := models.NewJob()
	require.NoError(t, repo.Set(ctx, job))

	cancelled, err := repo.IsCancelled(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, cancelled)

	require.NoError(t, repo.Cancel(ctx, job.ID))

	cancelled, err = repo.IsCancelled(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, cancelled)

	// Cancel flag survives status writes.
	job.MarkRunning("render-segment", "")
	require.NoError(t, repo.Set(ctx, job))

	cancelled, err = repo.IsCancelled(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, cancelled)

	// Cancelling twice is fine.
	require.NoError(t, repo.Cancel(ctx, job.ID))

	require.NoError(t, repo.ClearCancel(ctx, job.ID))
	cancelled, err = repo.IsCancelled(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, cancelled)
}

func TestJobRepo_Delete_RemovesAllRows(t *testing.T) {
	db := setupJobTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	job := models.NewJob()
	require.NoError(t, repo.Set(ctx, job))
	require.NoError(t, repo.SavePayload(ctx, job.ID, &models.GenerateVideoRequest{Text: "文本"}, ""))
	require.NoError(t, repo.Cancel(ctx, job.ID))

	require.NoError(t, repo.Delete(ctx, job.ID))

	found, err := repo.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Nil(t, found)

	_, _, err = repo.LoadPayload(ctx, job.ID)
	assert.ErrorIs(t, err, models.ErrJobPayloadMissing)

	cancelled, err := repo.IsCancelled(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, cancelled)
}

func TestJobRepo_DeleteFinishedBefore(t *testing.T) {
	db := setupJobTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	oldDone := models.NewJob()
	oldDone.MarkCompleted("/old.mp4", "")
	require.NoError(t, repo.Set(ctx, oldDone))
	require.NoError(t, repo.SavePayload(ctx, oldDone.ID, &models.GenerateVideoRequest{Text: "旧"}, ""))
	// Push the update timestamp into the past.
	require.NoError(t, db.Model(&models.Job{}).Where("id = ?", oldDone.ID).
		Update("updated_at", time.Now().Add(-48*time.Hour)).Error)

	freshDone := models.NewJob()
	freshDone.MarkCompleted("/fresh.mp4", "")
	require.NoError(t, repo.Set(ctx, freshDone))

	active := models.NewJob()
	require.NoError(t, repo.Set(ctx, active))

	removed, err := repo.DeleteFinishedBefore(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	gone, err := repo.Get(ctx, oldDone.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)

	_, _, err = repo.LoadPayload(ctx, oldDone.ID)
	assert.ErrorIs(t, err, models.ErrJobPayloadMissing)

	kept, err := repo.Get(ctx, freshDone.ID)
	require.NoError(t, err)
	assert.NotNil(t, kept)

	stillActive, err := repo.Get(ctx, active.ID)
	require.NoError(t, err)
	assert.NotNil(t, stillActive)
}
