package models

import "strings"

// Default values applied to characters the analyzer leaves unspecified.
const (
	// DefaultCharacterRole is the supporting-role label.
	DefaultCharacterRole = "配角"
	// DefaultCharacterImportance is the mid-scale importance score.
	DefaultCharacterImportance = 5
	// DefaultCharacterStyle is the rendering style keyword for prompts.
	DefaultCharacterStyle = "anime style"
)

// Character describes one story character as used across analysis, prompt
// building, speech synthesis and the scene cache.
//
// At most one character per job carries IsMainCharacter and at most one
// carries IsStorySelf; the analyzer post-processing enforces this.
type Character struct {
	// Name is the character's name as it appears in the text.
	Name string `json:"name"`

	// Role is a short label such as 主角 or 配角.
	Role string `json:"role,omitempty"`

	// Importance scores the character's narrative weight in [1, 10].
	Importance int `json:"importance,omitempty"`

	// IsMainCharacter marks the single protagonist of the story.
	IsMainCharacter bool `json:"is_main_character,omitempty"`

	// IsStorySelf marks the first-person narrator when the story has one.
	IsStorySelf bool `json:"is_story_self,omitempty"`

	// Appearance describes the character's looks for image prompts.
	Appearance string `json:"appearance,omitempty"`

	// Personality describes temperament; also drives voice recommendation.
	Personality string `json:"personality,omitempty"`

	// BasePrompt is a reusable prompt fragment for this character.
	BasePrompt string `json:"base_prompt,omitempty"`

	// SuggestedVoice is the TTS voice id from the catalog.
	SuggestedVoice string `json:"suggested_voice,omitempty"`

	// SuggestedStyle is the rendering style keyword.
	SuggestedStyle string `json:"suggested_style,omitempty"`

	// ReferenceImagePath points at an optional face reference image.
	ReferenceImagePath string `json:"reference_image_path,omitempty"`
}

// Validate checks the fields a character must carry.
func (c *Character) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return ErrCharacterNameRequired
	}
	return nil
}

// ApplyDefaults fills unset fields with their defaults and clamps importance
// into [1, 10].
func (c *Character) ApplyDefaults() {
	if strings.TrimSpace(c.Role) == "" {
		c.Role = DefaultCharacterRole
	}
	if c.Importance == 0 {
		c.Importance = DefaultCharacterImportance
	}
	if c.Importance < 1 {
		c.Importance = 1
	}
	if c.Importance > 10 {
		c.Importance = 10
	}
	if strings.TrimSpace(c.SuggestedStyle) == "" {
		c.SuggestedStyle = DefaultCharacterStyle
	}
}

// PromptSubject returns the text fragment describing this character in image
// prompts: the base prompt when present, else appearance, else the name.
func (c *Character) PromptSubject() string {
	if s := strings.TrimSpace(c.BasePrompt); s != "" {
		return s
	}
	if s := strings.TrimSpace(c.Appearance); s != "" {
		return s
	}
	return strings.TrimSpace(c.Name)
}

// HasReferenceImage reports whether a face reference image is configured.
func (c *Character) HasReferenceImage() bool {
	return strings.TrimSpace(c.ReferenceImagePath) != ""
}
