package models

import (
	"time"
)

// JobStatus represents the lifecycle state of a video generation job.
type JobStatus string

const (
	// JobStatusQueued indicates the job is waiting for a worker.
	JobStatusQueued JobStatus = "queued"
	// JobStatusRunning indicates a worker is driving the pipeline.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates the final video was produced.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the pipeline stopped with an error.
	JobStatusFailed JobStatus = "failed"
	// JobStatusCancelled indicates the job was cancelled by request.
	JobStatusCancelled JobStatus = "cancelled"
)

// Job represents one narrated-video generation run.
//
// The row is the durable face of the pipeline: workers persist progress after
// every segment so a crashed or restarted process can resume from the last
// rendered clip. Once a job is completed with an output file on disk, the
// artifacts are authoritative and the row is terminal.
type Job struct {
	// ID is an opaque 128-bit identifier rendered as 32 lowercase hex chars.
	ID string `gorm:"primarykey;size:32" json:"job_id"`

	// Status indicates the current lifecycle state.
	Status JobStatus `gorm:"not null;default:'queued';size:20;index" json:"status"`

	// Progress is the overall completion fraction in [0, 1].
	Progress float64 `gorm:"default:0" json:"progress"`

	// Step is a short machine-readable label for the current pipeline stage.
	Step string `gorm:"size:100" json:"step,omitempty"`

	// Message is the human-readable description of the current state. On
	// failure or cancellation it carries the reason.
	Message string `gorm:"size:2048" json:"message,omitempty"`

	// CurrentSegment is the index of the segment being processed (0-based).
	CurrentSegment int `gorm:"default:0" json:"current_segment"`

	// TotalSegments is the length of the segment vector for this job.
	TotalSegments int `gorm:"default:0" json:"total_segments"`

	// ClipCount is the number of per-segment clips rendered so far. Resume
	// counts pre-existing clips here without re-rendering them.
	ClipCount int `gorm:"default:0" json:"clip_count"`

	// OutputVideoPath is the on-disk path of the final video once composed.
	OutputVideoPath string `gorm:"size:1024" json:"output_video_path,omitempty"`

	// OutputVideoURL is the download URL for the final video.
	OutputVideoURL string `gorm:"size:1024" json:"output_video_url,omitempty"`

	// ImageSourceReportJSON is the serialized per-segment image provenance
	// tally. Persisted with the job so resumed runs keep accumulating into
	// the same totals. Use ImageSourceReport/SetImageSourceReport.
	ImageSourceReportJSON string `gorm:"column:image_source_report_json" json:"-"`

	// CreatedAt is when the job was created.
	CreatedAt time.Time `gorm:"index" json:"created_at"`

	// UpdatedAt is when the row was last written.
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the table name for Job.
func (Job) TableName() string {
	return "jobs"
}

// NewJob returns a queued job with a fresh identifier.
func NewJob() *Job {
	return &Job{
		ID:     NewJobID(),
		Status: JobStatusQueued,
		Step:   "queued",
	}
}

// Validate performs basic validation on the job.
func (j *Job) Validate() error {
	if !IsJobID(j.ID) {
		return ErrJobIDInvalid
	}
	return nil
}

// IsActive returns true while the job still needs a worker.
func (j *Job) IsActive() bool {
	return j.Status == JobStatusQueued || j.Status == JobStatusRunning
}

// IsFinished returns true once the job reached a terminal state.
func (j *Job) IsFinished() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed || j.Status == JobStatusCancelled
}

// MarkRunning transitions the job into the running state.
func (j *Job) MarkRunning(step, message string) {
	j.Status = JobStatusRunning
	j.Step = step
	j.Message = message
}

// MarkProgress records pipeline progress without changing status.
func (j *Job) MarkProgress(progress float64, step, message string) {
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}
	j.Progress = progress
	j.Step = step
	j.Message = message
}

// MarkCompleted marks the job as completed with its final video location.
func (j *Job) MarkCompleted(outputPath, outputURL string) {
	j.Status = JobStatusCompleted
	j.Progress = 1.0
	j.Step = "done"
	j.OutputVideoPath = outputPath
	j.OutputVideoURL = outputURL
}

// MarkFailed marks the job as failed with a human-readable reason.
func (j *Job) MarkFailed(message string) {
	j.Status = JobStatusFailed
	j.Step = "error"
	j.Message = message
}

// MarkCancelled marks the job as cancelled, keeping the current counters so
// partial clips on disk stay accounted for.
func (j *Job) MarkCancelled(message string) {
	j.Status = JobStatusCancelled
	j.Step = "cancelled"
	j.Message = message
}

// ImageSourceReport decodes the persisted image provenance tally.
// Returns an empty report when none was stored yet.
func (j *Job) ImageSourceReport() (ImageSourceReport, error) {
	return ParseImageSourceReport(j.ImageSourceReportJSON)
}

// SetImageSourceReport serializes and stores the image provenance tally.
func (j *Job) SetImageSourceReport(report ImageSourceReport) error {
	s, err := report.Encode()
	if err != nil {
		return err
	}
	j.ImageSourceReportJSON = s
	return nil
}
