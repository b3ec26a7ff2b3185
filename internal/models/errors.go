package models

import (
	"errors"
	"fmt"
)

// ErrValidation represents a validation error with field and message.
type ErrValidation struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e ErrValidation) Error() string {
	return fmt.Sprintf("validation error on field %s: %s", e.Field, e.Message)
}

// Common validation and lookup errors for models.
var (
	// ErrTextRequired indicates the request text field is empty.
	ErrTextRequired = errors.New("text is required")

	// ErrJobIDInvalid indicates a malformed job identifier.
	ErrJobIDInvalid = errors.New("invalid job id")

	// ErrJobNotFound indicates a job row was not found.
	ErrJobNotFound = errors.New("job not found")

	// ErrJobPayloadMissing indicates a job exists but its payload row is gone,
	// so the job cannot be resumed.
	ErrJobPayloadMissing = errors.New("job payload missing")

	// ErrJobAlreadyRunning indicates a worker is already driving this job.
	ErrJobAlreadyRunning = errors.New("job is already running")

	// ErrVideoNotReady indicates the job has not produced its final video yet.
	ErrVideoNotReady = errors.New("video is not ready")

	// ErrVideoNotFound indicates the final video file is missing on disk.
	ErrVideoNotFound = errors.New("video file not found")

	// ErrNoSegmentsProduced indicates segmentation yielded an empty vector.
	ErrNoSegmentsProduced = errors.New("no text segments produced")

	// ErrInvalidSegmentRange indicates an unparseable segment range spec.
	ErrInvalidSegmentRange = errors.New("invalid segment range")

	// ErrInvalidSegmentMethod indicates an unknown segmentation method.
	ErrInvalidSegmentMethod = errors.New("invalid segment method: must be 'sentence', 'fixed' or 'smart'")

	// ErrMaxSegmentsOutOfRange indicates max_segments is outside [0, 10000].
	ErrMaxSegmentsOutOfRange = errors.New("max_segments must be between 0 and 10000")

	// ErrSegmentsPerImageOutOfRange indicates segments_per_image is outside [1, 50].
	ErrSegmentsPerImageOutOfRange = errors.New("segments_per_image must be between 1 and 50")

	// ErrInvalidResolution indicates a resolution string not of the form WIDTHxHEIGHT.
	ErrInvalidResolution = errors.New("invalid resolution: expected WIDTHxHEIGHT")

	// ErrInvalidSubtitleStyle indicates an unknown subtitle style.
	ErrInvalidSubtitleStyle = errors.New("invalid subtitle style")

	// ErrInvalidCameraMotion indicates an unknown camera motion preference.
	ErrInvalidCameraMotion = errors.New("invalid camera motion: must be 'vertical', 'horizontal' or 'auto'")

	// ErrInvalidRenderMode indicates an unknown render mode.
	ErrInvalidRenderMode = errors.New("invalid render mode: must be 'fast', 'balanced' or 'quality'")

	// ErrCharacterNameRequired indicates a character entry without a name.
	ErrCharacterNameRequired = errors.New("character name is required")

	// ErrEncoderNotFound indicates no usable ffmpeg binary was located.
	ErrEncoderNotFound = errors.New("ffmpeg binary not found")

	// ErrClipMissing indicates a per-segment clip expected on disk is absent.
	ErrClipMissing = errors.New("rendered clip is missing")

	// ErrImageGenerationFailed indicates generation failed and every cache
	// fallback was exhausted.
	ErrImageGenerationFailed = errors.New("image generation failed and no fallback produced an image")

	// ErrSceneEntryNotFound indicates a scene cache entry was not found.
	ErrSceneEntryNotFound = errors.New("scene cache entry not found")

	// ErrAliasCountOutOfRange indicates an alias request outside [1, 20].
	ErrAliasCountOutOfRange = errors.New("alias count must be between 1 and 20")
)
