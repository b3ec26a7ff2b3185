package models

import (
	"encoding/json"
	"time"
)

// SceneMatchProfileSchemaVersion is the current match profile layout version.
const SceneMatchProfileSchemaVersion = 2

// SceneEntry is one cached scene image with its lookup metadata.
//
// The image file on disk is the source of truth: an entry whose file is gone
// is dead and gets filtered at read time. Descriptor and match profile are
// stored as JSON blobs; character name, reference path and created_at are
// also plain columns so the fallback queries stay indexed.
type SceneEntry struct {
	// ID is the auto-increment entry identifier.
	ID int64 `gorm:"primarykey;autoIncrement" json:"id"`

	// CreatedAt orders entries for pruning and recency ranking.
	CreatedAt time.Time `gorm:"index" json:"created_at"`

	// ImagePath is the cached image file under the cache directory.
	ImagePath string `gorm:"size:1024;not null" json:"image_path"`

	// Summary is the short scene summary ("location | action").
	Summary string `gorm:"size:512" json:"summary,omitempty"`

	// DescriptorJSON is the serialized SceneDescriptor.
	// Use Descriptor/SetDescriptor.
	DescriptorJSON string `json:"-"`

	// MatchProfileJSON is the serialized SceneMatchProfile.
	// Use MatchProfile/SetMatchProfile.
	MatchProfileJSON string `json:"-"`

	// CharacterName is the normalized character name for indexed fallback
	// queries.
	CharacterName string `gorm:"size:255;index" json:"character_name,omitempty"`

	// ReferenceImagePath is the first normalized reference path, if any.
	ReferenceImagePath string `gorm:"size:1024" json:"reference_image_path,omitempty"`
}

// TableName returns the table name for SceneEntry.
func (SceneEntry) TableName() string {
	return "scene_entries"
}

// Descriptor decodes the stored scene descriptor.
func (e *SceneEntry) Descriptor() (*SceneDescriptor, error) {
	var d SceneDescriptor
	if e.DescriptorJSON == "" {
		return &d, nil
	}
	if err := json.Unmarshal([]byte(e.DescriptorJSON), &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// SetDescriptor serializes and stores the scene descriptor.
func (e *SceneEntry) SetDescriptor(d *SceneDescriptor) error {
	data, err := json.Marshal(d)
	if err != nil {
		return err
	}
	e.DescriptorJSON = string(data)
	return nil
}

// MatchProfile decodes the stored match profile.
func (e *SceneEntry) MatchProfile() (*SceneMatchProfile, error) {
	var p SceneMatchProfile
	if e.MatchProfileJSON == "" {
		return &p, nil
	}
	if err := json.Unmarshal([]byte(e.MatchProfileJSON), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// SetMatchProfile serializes and stores the match profile.
func (e *SceneEntry) SetMatchProfile(p *SceneMatchProfile) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	e.MatchProfileJSON = string(data)
	return nil
}

// SceneDescriptor is the normalized description of a cached scene: who is in
// it, what happens, where, and which reference images anchored the face.
// All text is lowercased and whitespace-collapsed before storage.
type SceneDescriptor struct {
	// CharacterName is the primary character's normalized name.
	CharacterName string `json:"character_name,omitempty"`

	// CharacterRole is the character's role label.
	CharacterRole string `json:"character_role,omitempty"`

	// ReferenceImagePaths are the normalized reference image paths
	// (forward slashes, lowercase).
	ReferenceImagePaths []string `json:"reference_image_paths,omitempty"`

	// ReferenceImageIDs are derived from each path's basename suffix after
	// the last underscore; they change only when the file is replaced.
	ReferenceImageIDs []string `json:"reference_image_ids,omitempty"`

	// ActionHint is what happens in the scene, capped at 220 chars.
	ActionHint string `json:"action_hint,omitempty"`

	// LocationHint is where the scene happens, capped at 220 chars.
	LocationHint string `json:"location_hint,omitempty"`

	// SegmentText is the narration excerpt, capped at 700 chars.
	SegmentText string `json:"segment_text,omitempty"`

	// SceneElements lists salient visual elements, at most 12.
	SceneElements []string `json:"scene_elements,omitempty"`

	// ActionKeywords lists action keywords, at most 10.
	ActionKeywords []string `json:"action_keywords,omitempty"`

	// LocationKeywords lists location keywords, at most 8.
	LocationKeywords []string `json:"location_keywords,omitempty"`

	// Mood is the emotional tone, capped at 80 chars.
	Mood string `json:"mood,omitempty"`

	// ShotType is the camera framing, capped at 80 chars.
	ShotType string `json:"shot_type,omitempty"`

	// IsSceneOnly marks entries without a recognizable character, usable as
	// generic backdrops in the fallback cascade.
	IsSceneOnly bool `json:"is_scene_only,omitempty"`
}

// SceneMatchProfile is the precomputed lookup side of a descriptor: the
// normalized hints plus ordered token sets, so candidate scoring never
// re-tokenizes at query time.
type SceneMatchProfile struct {
	// SchemaVersion tracks the profile layout.
	SchemaVersion int `json:"schema_version,omitempty"`

	// CharacterKey is the md5 hex prefix of the first reference-image id,
	// else the first reference path, else the lowercase character name.
	CharacterKey string `json:"character_key,omitempty"`

	// CharacterName mirrors the descriptor for character matching.
	CharacterName string `json:"character_name,omitempty"`

	// CharacterRole mirrors the descriptor.
	CharacterRole string `json:"character_role,omitempty"`

	// ReferenceImagePaths mirror the descriptor for cross-checks.
	ReferenceImagePaths []string `json:"reference_image_paths,omitempty"`

	// ReferenceImageIDs mirror the descriptor for cross-checks.
	ReferenceImageIDs []string `json:"reference_image_ids,omitempty"`

	// ActionHint mirrors the descriptor.
	ActionHint string `json:"action_hint,omitempty"`

	// LocationHint mirrors the descriptor.
	LocationHint string `json:"location_hint,omitempty"`

	// SegmentText mirrors the descriptor.
	SegmentText string `json:"segment_text,omitempty"`

	// SceneElements mirror the descriptor.
	SceneElements []string `json:"scene_elements,omitempty"`

	// ActionKeywords mirror the descriptor.
	ActionKeywords []string `json:"action_keywords,omitempty"`

	// LocationKeywords mirror the descriptor.
	LocationKeywords []string `json:"location_keywords,omitempty"`

	// Mood mirrors the descriptor.
	Mood string `json:"mood,omitempty"`

	// ShotType mirrors the descriptor.
	ShotType string `json:"shot_type,omitempty"`

	// ActionTokens are ordered action tokens, at most 24.
	ActionTokens []string `json:"action_tokens,omitempty"`

	// LocationTokens are ordered location tokens, at most 16.
	LocationTokens []string `json:"location_tokens,omitempty"`

	// SceneTokens are ordered scene tokens, at most 40.
	SceneTokens []string `json:"scene_tokens,omitempty"`

	// SceneSummary is "location | action" or the segment excerpt, capped
	// at 220 chars.
	SceneSummary string `json:"scene_summary,omitempty"`
}

// SceneRefBinding indexes one (entry, reference image) relation so
// reference-scoped candidate queries hit an index instead of decoding every
// profile blob. Bindings are rebuilt from profiles when the table is empty.
type SceneRefBinding struct {
	// ID is the auto-increment binding identifier.
	ID int64 `gorm:"primarykey;autoIncrement" json:"id"`

	// EntryID is the owning scene entry.
	EntryID int64 `gorm:"not null;index" json:"entry_id"`

	// RefImageID is the derived reference-image id.
	RefImageID string `gorm:"size:255;index" json:"ref_image_id,omitempty"`

	// RefPath is the normalized reference path.
	RefPath string `gorm:"size:1024;index" json:"ref_path,omitempty"`
}

// TableName returns the table name for SceneRefBinding.
func (SceneRefBinding) TableName() string {
	return "scene_ref_bindings"
}

// SceneMatchType labels how a cache lookup matched.
type SceneMatchType string

const (
	// SceneMatchTextExact means action and location text were byte-equal.
	SceneMatchTextExact SceneMatchType = "text-exact"
	// SceneMatchSingleExact means the only candidate matched exactly.
	SceneMatchSingleExact SceneMatchType = "single-exact"
	// SceneMatchLLMSelect means the strict LLM selector picked the entry.
	SceneMatchLLMSelect SceneMatchType = "llm-select"
	// SceneMatchConservative means the byte-equal fallback accepted the
	// best-ranked candidate.
	SceneMatchConservative SceneMatchType = "conservative-exact"
	// SceneMatchLLMFallback means the lenient selector picked the entry.
	SceneMatchLLMFallback SceneMatchType = "llm-fallback"
)

// SceneMatch is the outcome of a successful cache lookup.
type SceneMatch struct {
	// Entry is the matched cache entry.
	Entry *SceneEntry `json:"entry"`

	// MatchType labels which rule accepted the entry.
	MatchType SceneMatchType `json:"match_type"`

	// Confidence is the selector's confidence, 1.0 for exact matches.
	Confidence float64 `json:"confidence"`
}
