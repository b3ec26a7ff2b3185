package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	"github.com/storyloom/storyloom/internal/models"
	"github.com/storyloom/storyloom/internal/service"
)

// JobsHandler handles job submission and lifecycle endpoints.
type JobsHandler struct {
	jobs *service.JobService
}

// NewJobsHandler creates a jobs handler.
func NewJobsHandler(jobs *service.JobService) *JobsHandler {
	return &JobsHandler{jobs: jobs}
}

// Register registers the job routes with the API.
func (h *JobsHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "generateVideo",
		Method:      "POST",
		Path:        "/api/generate-video",
		Summary:     "Submit a video generation job",
		Tags:        []string{"Jobs"},
	}, h.GenerateVideo)

	huma.Register(api, huma.Operation{
		OperationID: "listJobs",
		Method:      "GET",
		Path:        "/api/jobs",
		Summary:     "List recent jobs",
		Tags:        []string{"Jobs"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "getJob",
		Method:      "GET",
		Path:        "/api/jobs/{id}",
		Summary:     "Get job status",
		Tags:        []string{"Jobs"},
	}, h.Get)

	huma.Register(api, huma.Operation{
		OperationID: "cancelJob",
		Method:      "POST",
		Path:        "/api/jobs/{id}/cancel",
		Summary:     "Cancel a job",
		Description: "Requests cooperative cancellation; a running worker stops at its next checkpoint.",
		Tags:        []string{"Jobs"},
	}, h.Cancel)

	huma.Register(api, huma.Operation{
		OperationID: "resumeJob",
		Method:      "POST",
		Path:        "/api/jobs/{id}/resume",
		Summary:     "Resume an interrupted job",
		Description: "Restarts a failed or cancelled job from its persisted payload; finished clips are reused.",
		Tags:        []string{"Jobs"},
	}, h.Resume)

	huma.Register(api, huma.Operation{
		OperationID: "deleteJob",
		Method:      "DELETE",
		Path:        "/api/jobs/{id}",
		Summary:     "Delete a job and its artifacts",
		Tags:        []string{"Jobs"},
	}, h.Delete)
}

// RegisterChiRoutes registers the video download as a raw route so range
// requests and 409-before-body work.
func (h *JobsHandler) RegisterChiRoutes(router chi.Router) {
	router.Get("/api/jobs/{id}/video", h.serveVideo)
}

// GenerateVideoInput is the job submission payload.
type GenerateVideoInput struct {
	Host   string `header:"Host"`
	Scheme string `header:"X-Forwarded-Proto"`
	Body   models.GenerateVideoRequest
}

// GenerateVideoOutput acknowledges a queued job.
type GenerateVideoOutput struct {
	Status int
	Body   struct {
		JobID  string `json:"job_id"`
		Status string `json:"status"`
	}
}

// GenerateVideo validates and submits a generation job.
func (h *JobsHandler) GenerateVideo(ctx context.Context, input *GenerateVideoInput) (*GenerateVideoOutput, error) {
	req := input.Body
	job, err := h.jobs.Create(ctx, &req, baseURLFromInput(input.Scheme, input.Host))
	if err != nil {
		return nil, mapJobError(err)
	}

	out := &GenerateVideoOutput{Status: http.StatusAccepted}
	out.Body.JobID = job.ID
	out.Body.Status = string(job.Status)
	return out, nil
}

// ListJobsInput selects how many recent jobs to return.
type ListJobsInput struct {
	Limit int `query:"limit" default:"50" minimum:"1" maximum:"500" doc:"Maximum number of jobs"`
}

// ListJobsOutput is the recent-jobs listing.
type ListJobsOutput struct {
	Body struct {
		Jobs []JobResponse `json:"jobs"`
	}
}

// List returns recent jobs, newest first.
func (h *JobsHandler) List(ctx context.Context, input *ListJobsInput) (*ListJobsOutput, error) {
	jobs, err := h.jobs.List(ctx, input.Limit)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list jobs", err)
	}

	out := &ListJobsOutput{}
	out.Body.Jobs = make([]JobResponse, 0, len(jobs))
	for _, j := range jobs {
		out.Body.Jobs = append(out.Body.Jobs, JobFromModel(j))
	}
	return out, nil
}

// JobIDInput addresses one job.
type JobIDInput struct {
	ID string `path:"id" doc:"Job ID (32 hex characters)"`
}

// JobOutput wraps one job snapshot.
type JobOutput struct {
	Body JobResponse
}

// Get returns one job's status.
func (h *JobsHandler) Get(ctx context.Context, input *JobIDInput) (*JobOutput, error) {
	job, err := h.jobs.Get(ctx, input.ID)
	if err != nil {
		return nil, mapJobError(err)
	}
	return &JobOutput{Body: JobFromModel(job)}, nil
}

// Cancel requests cooperative cancellation.
func (h *JobsHandler) Cancel(ctx context.Context, input *JobIDInput) (*JobOutput, error) {
	job, err := h.jobs.Cancel(ctx, input.ID)
	if err != nil {
		return nil, mapJobError(err)
	}
	return &JobOutput{Body: JobFromModel(job)}, nil
}

// Resume restarts an interrupted job.
func (h *JobsHandler) Resume(ctx context.Context, input *JobIDInput) (*JobOutput, error) {
	job, err := h.jobs.Resume(ctx, input.ID)
	if err != nil {
		return nil, mapJobError(err)
	}
	return &JobOutput{Body: JobFromModel(job)}, nil
}

// DeleteJobOutput acknowledges a deletion.
type DeleteJobOutput struct {
	Body struct {
		Deleted bool `json:"deleted"`
	}
}

// Delete removes a job and every artifact.
func (h *JobsHandler) Delete(ctx context.Context, input *JobIDInput) (*DeleteJobOutput, error) {
	if err := h.jobs.Delete(ctx, input.ID); err != nil {
		return nil, mapJobError(err)
	}
	out := &DeleteJobOutput{}
	out.Body.Deleted = true
	return out, nil
}

// serveVideo streams the final video with range support.
func (h *JobsHandler) serveVideo(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	path, err := h.jobs.VideoPath(r.Context(), jobID)
	if err != nil {
		writeJobError(w, err)
		return
	}

	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Content-Disposition", `attachment; filename="`+jobID+`.mp4"`)
	http.ServeFile(w, r, path)
}

// baseURLFromInput reconstructs the externally visible base URL for download
// links. Empty pieces yield relative URLs.
func baseURLFromInput(scheme, host string) string {
	if host == "" {
		return ""
	}
	if scheme == "" {
		scheme = "http"
	}
	return scheme + "://" + host
}

// mapJobError converts domain sentinels into huma status errors.
func mapJobError(err error) error {
	switch {
	case errors.Is(err, models.ErrJobIDInvalid):
		return huma.Error400BadRequest(err.Error())
	case errors.Is(err, models.ErrJobNotFound),
		errors.Is(err, models.ErrJobPayloadMissing),
		errors.Is(err, models.ErrVideoNotFound):
		return huma.Error404NotFound(err.Error())
	case errors.Is(err, models.ErrJobAlreadyRunning),
		errors.Is(err, models.ErrVideoNotReady):
		return huma.Error409Conflict(err.Error())
	case isValidationError(err):
		return huma.Error400BadRequest(err.Error())
	}
	return huma.Error500InternalServerError("job operation failed", err)
}

// writeJobError is mapJobError for raw chi handlers.
func writeJobError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrJobIDInvalid):
		status = http.StatusBadRequest
	case errors.Is(err, models.ErrJobNotFound), errors.Is(err, models.ErrVideoNotFound):
		status = http.StatusNotFound
	case errors.Is(err, models.ErrVideoNotReady):
		status = http.StatusConflict
	}
	http.Error(w, err.Error(), status)
}

// isValidationError reports whether the error is one of the request
// validation sentinels.
func isValidationError(err error) bool {
	for _, sentinel := range []error{
		models.ErrTextRequired,
		models.ErrInvalidSegmentMethod,
		models.ErrInvalidSegmentRange,
		models.ErrMaxSegmentsOutOfRange,
		models.ErrSegmentsPerImageOutOfRange,
		models.ErrInvalidResolution,
		models.ErrInvalidSubtitleStyle,
		models.ErrInvalidCameraMotion,
		models.ErrInvalidRenderMode,
		models.ErrCharacterNameRequired,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}
