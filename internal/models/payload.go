package models

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Segmentation methods accepted by GenerateVideoRequest.
const (
	SegmentMethodSentence = "sentence"
	SegmentMethodFixed    = "fixed"
	SegmentMethodSmart    = "smart"
)

// Subtitle styles accepted by GenerateVideoRequest. The first four are the
// legacy names; the color pairs are the newer explicit styles.
const (
	SubtitleStyleBasic      = "basic"
	SubtitleStyleHighlight  = "highlight"
	SubtitleStyleDanmaku    = "danmaku"
	SubtitleStyleCenter     = "center"
	SubtitleStyleWhiteBlack = "white_black"
	SubtitleStyleBlackWhite = "black_white"
	SubtitleStyleYellowBlk  = "yellow_black"
)

// Camera motion preferences.
const (
	CameraMotionVertical   = "vertical"
	CameraMotionHorizontal = "horizontal"
	CameraMotionAuto       = "auto"
)

// Render modes trading encode speed against quality.
const (
	RenderModeFast     = "fast"
	RenderModeBalanced = "balanced"
	RenderModeQuality  = "quality"
)

// Request bounds.
const (
	MaxSegmentsLimit        = 10000
	MaxSegmentsPerImage     = 50
	DefaultSegmentsPerImage = 5
	DefaultFixedSegmentSize = 120
	MinFixedSegmentSize     = 20
	DefaultFPS              = 30
	DefaultResolution       = "1080x1920"
)

// GenerateVideoRequest is the full serialized job request. It is persisted
// verbatim as the job payload so a restarted process can resume the job with
// the exact original parameters.
type GenerateVideoRequest struct {
	// Text is the story text to narrate.
	Text string `json:"text"`

	// Characters are the story characters driving voices and image prompts.
	Characters []Character `json:"characters,omitempty"`

	// SegmentMethod selects sentence, fixed or smart segmentation.
	SegmentMethod string `json:"segment_method,omitempty"`

	// SegmentsPerImage groups this many sentences per segment in [1, 50].
	SegmentsPerImage int `json:"segments_per_image,omitempty"`

	// FixedSegmentSize is the code-point slice length for the fixed method.
	// Zero selects the default; values below 20 are raised to 20.
	FixedSegmentSize int `json:"fixed_segment_size,omitempty"`

	// MaxSegments caps the segment vector length in [0, 10000]; 0 = no cap.
	MaxSegments int `json:"max_segments,omitempty"`

	// SegmentRange optionally selects segments like "3", "1-5" or "2,4-6"
	// using 1-based indexing.
	SegmentRange string `json:"segment_range,omitempty"`

	// Resolution is the output frame size as WIDTHxHEIGHT.
	Resolution string `json:"resolution,omitempty"`

	// SubtitleStyle selects the caption placement and colors.
	SubtitleStyle string `json:"subtitle_style,omitempty"`

	// CameraMotion selects the pan axis preference for clip motion.
	CameraMotion string `json:"camera_motion,omitempty"`

	// FPS is the output frame rate; 0 selects the default.
	FPS int `json:"fps,omitempty"`

	// ModelID overrides the image provider model.
	ModelID string `json:"model_id,omitempty"`

	// RenderMode selects the encode preset: fast, balanced or quality.
	RenderMode string `json:"render_mode,omitempty"`

	// EnableBGM toggles background music mixing; nil = enabled.
	EnableBGM *bool `json:"enable_bgm,omitempty"`

	// EnableWatermark toggles the traveling watermark; nil = enabled.
	EnableWatermark *bool `json:"enable_watermark,omitempty"`

	// WatermarkText is the watermark text when no image is configured.
	WatermarkText string `json:"watermark_text,omitempty"`

	// WatermarkImage is an optional watermark image path.
	WatermarkImage string `json:"watermark_image,omitempty"`

	// NovelAlias is the short title rendered in the top band of the final
	// video. Empty disables the band.
	NovelAlias string `json:"novel_alias,omitempty"`

	// SceneReuse toggles scene-cache lookups; nil = enabled.
	SceneReuse *bool `json:"scene_reuse,omitempty"`

	// SceneReuseNoRepeatWindow is the size of the no-repeat ring; nil uses
	// the configured default, 0 disables the window.
	SceneReuseNoRepeatWindow *int `json:"scene_reuse_no_repeat_window,omitempty"`

	// PrecomputedSegments carries client-side segmentation results.
	PrecomputedSegments []string `json:"precomputed_segments,omitempty"`

	// RequestSignature is the segmentation signature matching
	// PrecomputedSegments; reuse requires it to equal the recomputation.
	RequestSignature string `json:"request_signature,omitempty"`
}

var validSubtitleStyles = map[string]bool{
	SubtitleStyleBasic:      true,
	SubtitleStyleHighlight:  true,
	SubtitleStyleDanmaku:    true,
	SubtitleStyleCenter:     true,
	SubtitleStyleWhiteBlack: true,
	SubtitleStyleBlackWhite: true,
	SubtitleStyleYellowBlk:  true,
}

// ApplyDefaults fills unset request fields with their defaults.
func (r *GenerateVideoRequest) ApplyDefaults() {
	if r.SegmentMethod == "" {
		r.SegmentMethod = SegmentMethodSmart
	}
	if r.SegmentsPerImage == 0 {
		r.SegmentsPerImage = DefaultSegmentsPerImage
	}
	if r.Resolution == "" {
		r.Resolution = DefaultResolution
	}
	if r.SubtitleStyle == "" {
		r.SubtitleStyle = SubtitleStyleHighlight
	}
	if r.CameraMotion == "" {
		r.CameraMotion = CameraMotionVertical
	}
	if r.FPS <= 0 {
		r.FPS = DefaultFPS
	}
	if r.RenderMode == "" {
		r.RenderMode = RenderModeBalanced
	}
	for i := range r.Characters {
		r.Characters[i].ApplyDefaults()
	}
}

// Validate checks the request against its bounds. Call after ApplyDefaults.
func (r *GenerateVideoRequest) Validate() error {
	if strings.TrimSpace(r.Text) == "" {
		return ErrTextRequired
	}
	switch r.SegmentMethod {
	case SegmentMethodSentence, SegmentMethodFixed, SegmentMethodSmart:
	default:
		return ErrInvalidSegmentMethod
	}
	if r.MaxSegments < 0 || r.MaxSegments > MaxSegmentsLimit {
		return ErrMaxSegmentsOutOfRange
	}
	if r.SegmentsPerImage < 1 || r.SegmentsPerImage > MaxSegmentsPerImage {
		return ErrSegmentsPerImageOutOfRange
	}
	if _, _, err := ParseResolution(r.Resolution); err != nil {
		return err
	}
	if !validSubtitleStyles[r.SubtitleStyle] {
		return ErrInvalidSubtitleStyle
	}
	switch r.CameraMotion {
	case CameraMotionVertical, CameraMotionHorizontal, CameraMotionAuto:
	default:
		return ErrInvalidCameraMotion
	}
	switch r.RenderMode {
	case RenderModeFast, RenderModeBalanced, RenderModeQuality:
	default:
		return ErrInvalidRenderMode
	}
	for i := range r.Characters {
		if err := r.Characters[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// BGMEnabled reports whether background music mixing is on.
func (r *GenerateVideoRequest) BGMEnabled() bool {
	return BoolVal(r.EnableBGM)
}

// WatermarkEnabled reports whether the traveling watermark is on.
func (r *GenerateVideoRequest) WatermarkEnabled() bool {
	return BoolVal(r.EnableWatermark)
}

// SceneReuseEnabled reports whether scene-cache lookups are on.
func (r *GenerateVideoRequest) SceneReuseEnabled() bool {
	return BoolVal(r.SceneReuse)
}

// ParseResolution parses a WIDTHxHEIGHT string into its dimensions.
func ParseResolution(s string) (width, height int, err error) {
	parts := strings.SplitN(strings.ToLower(strings.TrimSpace(s)), "x", 2)
	if len(parts) != 2 {
		return 0, 0, ErrInvalidResolution
	}
	width, err = strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || width <= 0 {
		return 0, 0, ErrInvalidResolution
	}
	height, err = strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil || height <= 0 {
		return 0, 0, ErrInvalidResolution
	}
	return width, height, nil
}

// JobPayload stores the full serialized request for a job, 1:1 with the job
// row. It must be written before the job starts or resume is impossible.
type JobPayload struct {
	// JobID is the owning job's identifier.
	JobID string `gorm:"primarykey;size:32" json:"job_id"`

	// PayloadJSON is the serialized GenerateVideoRequest.
	PayloadJSON string `json:"-"`

	// BaseURL is the external base URL captured at submission time, used to
	// rebuild download URLs on resume.
	BaseURL string `gorm:"size:512" json:"base_url,omitempty"`

	// CreatedAt is when the payload was stored.
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the table name for JobPayload.
func (JobPayload) TableName() string {
	return "job_payloads"
}

// Request decodes the stored request.
func (p *JobPayload) Request() (*GenerateVideoRequest, error) {
	var req GenerateVideoRequest
	if err := json.Unmarshal([]byte(p.PayloadJSON), &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// SetRequest serializes and stores the request.
func (p *JobPayload) SetRequest(req *GenerateVideoRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	p.PayloadJSON = string(data)
	return nil
}

// JobCancelFlag marks a job for cooperative cancellation. Cancellation is a
// separate row so it survives status writes; the scheduler clears it when
// the worker exits.
type JobCancelFlag struct {
	// JobID is the job to cancel.
	JobID string `gorm:"primarykey;size:32" json:"job_id"`

	// RequestedAt is when cancellation was requested.
	RequestedAt time.Time `json:"requested_at"`
}

// TableName returns the table name for JobCancelFlag.
func (JobCancelFlag) TableName() string {
	return "job_cancel_flags"
}
