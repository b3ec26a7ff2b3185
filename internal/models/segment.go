package models

import (
	"encoding/json"
	"strings"
)

// Segment is one ordered narration unit produced by segmentation.
// The segment vector is immutable once a job starts; per-segment clip files
// are named by the 0-based index.
type Segment struct {
	// Index is the 0-based position in the segment vector.
	Index int `json:"index"`

	// Text is the narration text for this segment.
	Text string `json:"text"`

	// SentenceCount is the number of sentences grouped into this segment,
	// when the method tracked it.
	SentenceCount int `json:"sentence_count,omitempty"`
}

// Image source labels recorded in the per-job provenance report.
const (
	// ImageSourceCache means the strict scene-cache lookup hit.
	ImageSourceCache = "cache"
	// ImageSourceGenerated means the image provider produced a fresh image.
	ImageSourceGenerated = "generated"
	// ImageSourceFallbackLLM means the lenient LLM pick rescued a failure.
	ImageSourceFallbackLLM = "fallback_llm"
	// ImageSourceFallbackCache means a generic cache fallback was used.
	ImageSourceFallbackCache = "fallback_cache"
	// ImageSourceFallbackCharacterCache means a random same-character cache hit.
	ImageSourceFallbackCharacterCache = "fallback_character_cache"
	// ImageSourceFallbackSceneOnlyCache means a random scene-only cache hit.
	ImageSourceFallbackSceneOnlyCache = "fallback_scene_only_cache"
	// ImageSourceFallbackReference means the character reference image was copied.
	ImageSourceFallbackReference = "fallback_reference"
	// ImageSourceFallbackRandomCache means any live cache entry was used.
	ImageSourceFallbackRandomCache = "fallback_random_cache"
	// ImageSourceOther buckets labels this version does not know.
	ImageSourceOther = "other"
)

// knownImageSources is the closed label set persisted in reports.
var knownImageSources = map[string]bool{
	ImageSourceCache:                  true,
	ImageSourceGenerated:              true,
	ImageSourceFallbackLLM:            true,
	ImageSourceFallbackCache:          true,
	ImageSourceFallbackCharacterCache: true,
	ImageSourceFallbackSceneOnlyCache: true,
	ImageSourceFallbackReference:      true,
	ImageSourceFallbackRandomCache:    true,
	ImageSourceOther:                  true,
}

// CanonicalImageSource normalizes a resolver source label to a report key.
// Resolver labels use hyphens ("fallback-llm"); report keys use underscores.
// Labels outside the known set collapse to ImageSourceOther so totals stay
// meaningful across versions.
func CanonicalImageSource(source string) string {
	key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(source)), "-", "_")
	if knownImageSources[key] {
		return key
	}
	return ImageSourceOther
}

// ImageSourceReport tallies where each rendered segment's image came from.
// It is persisted with the job and restored on resume so repeated
// resumptions keep accumulating into the same totals.
type ImageSourceReport map[string]int

// NewImageSourceReport returns an empty report.
func NewImageSourceReport() ImageSourceReport {
	return make(ImageSourceReport)
}

// ParseImageSourceReport decodes a serialized report. An empty string yields
// an empty report.
func ParseImageSourceReport(s string) (ImageSourceReport, error) {
	report := NewImageSourceReport()
	if strings.TrimSpace(s) == "" {
		return report, nil
	}
	if err := json.Unmarshal([]byte(s), &report); err != nil {
		return nil, err
	}
	return report, nil
}

// Encode serializes the report for storage.
func (r ImageSourceReport) Encode() (string, error) {
	if len(r) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Add tallies one occurrence of the given source label.
func (r ImageSourceReport) Add(source string) {
	r[CanonicalImageSource(source)]++
}

// Merge adds every tally from other into the receiver.
func (r ImageSourceReport) Merge(other ImageSourceReport) {
	for key, count := range other {
		r[CanonicalImageSource(key)] += count
	}
}

// Total returns the sum of all tallies.
func (r ImageSourceReport) Total() int {
	total := 0
	for _, count := range r {
		total += count
	}
	return total
}

// SceneMetadata is the strict scene description an LLM bundle returns for a
// segment. It seeds both the image prompt and the scene-cache descriptor.
type SceneMetadata struct {
	// ActionHint is a short phrase describing what happens in the scene.
	ActionHint string `json:"action_hint,omitempty"`

	// LocationHint is a short phrase describing where the scene happens.
	LocationHint string `json:"location_hint,omitempty"`

	// SceneElements lists salient visual elements.
	SceneElements []string `json:"scene_elements,omitempty"`

	// ActionKeywords lists action-describing keywords.
	ActionKeywords []string `json:"action_keywords,omitempty"`

	// LocationKeywords lists location-describing keywords.
	LocationKeywords []string `json:"location_keywords,omitempty"`

	// Mood is the emotional tone of the scene.
	Mood string `json:"mood,omitempty"`

	// ShotType is the suggested camera framing.
	ShotType string `json:"shot_type,omitempty"`
}

// CharacterAssignment is the LLM's choice of which character anchors a
// segment. Indexes refer to the job's character list; a negative primary
// index means the model declined to override the default.
type CharacterAssignment struct {
	PrimaryIndex   int     `json:"primary_index"`
	RelatedIndexes []int   `json:"related_indexes,omitempty"`
	Confidence     float64 `json:"confidence,omitempty"`
	Reason         string  `json:"reason,omitempty"`
}

// SegmentImageBundle is the full prompt-builder output for one segment.
type SegmentImageBundle struct {
	// Prompt is the production-ready English image prompt, already wrapped
	// with the character identity guard and world-context clause.
	Prompt string `json:"prompt"`

	// Metadata is the strict scene description.
	Metadata SceneMetadata `json:"metadata"`

	// Assignment is the character assignment for the segment.
	Assignment CharacterAssignment `json:"character_assignment"`

	// Fallback is true when the bundle came from the deterministic local
	// builder rather than the LLM.
	Fallback bool `json:"-"`
}
