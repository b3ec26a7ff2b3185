package handlers

import (
	"time"

	"github.com/storyloom/storyloom/internal/models"
)

// JobResponse is the API shape of a job row.
type JobResponse struct {
	JobID           string  `json:"job_id"`
	Status          string  `json:"status"`
	Progress        float64 `json:"progress"`
	Step            string  `json:"step,omitempty"`
	Message         string  `json:"message,omitempty"`
	CurrentSegment  int     `json:"current_segment"`
	TotalSegments   int     `json:"total_segments"`
	ClipCount       int     `json:"clip_count"`
	OutputVideoURL  string  `json:"output_video_url,omitempty"`
	OutputVideoPath string  `json:"output_video_path,omitempty"`
	ImageSources    map[string]int `json:"image_sources,omitempty"`
	CreatedAt       string  `json:"created_at"`
	UpdatedAt       string  `json:"updated_at"`
}

// JobFromModel converts a job row into its API shape.
func JobFromModel(j *models.Job) JobResponse {
	resp := JobResponse{
		JobID:           j.ID,
		Status:          string(j.Status),
		Progress:        j.Progress,
		Step:            j.Step,
		Message:         j.Message,
		CurrentSegment:  j.CurrentSegment,
		TotalSegments:   j.TotalSegments,
		ClipCount:       j.ClipCount,
		OutputVideoURL:  j.OutputVideoURL,
		OutputVideoPath: j.OutputVideoPath,
		CreatedAt:       j.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:       j.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if report, err := j.ImageSourceReport(); err == nil && len(report) > 0 {
		resp.ImageSources = report
	}
	return resp
}

// SegmentItem is one segment of a segmentation preview.
type SegmentItem struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

// VideoInfo is one finished output video.
type VideoInfo struct {
	Name         string `json:"name"`
	SizeBytes    int64  `json:"size_bytes"`
	ModifiedAt   string `json:"modified_at"`
	URL          string `json:"url"`
	ThumbnailURL string `json:"thumbnail_url"`
}

// ModelInfo is one language model catalog entry.
type ModelInfo struct {
	ID        string `json:"id"`
	Provider  string `json:"provider"`
	Available bool   `json:"available"`
	Default   bool   `json:"default,omitempty"`
}

// VoiceInfo is one synthesis voice catalog entry.
type VoiceInfo struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Gender      string   `json:"gender"`
	Age         string   `json:"age"`
	Traits      []string `json:"traits,omitempty"`
	SuitableFor []string `json:"suitable_for,omitempty"`
}
