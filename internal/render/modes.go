// Package render turns one segment's image and narration audio into a short
// H.264/AAC clip: cover-fit scaling, a linear camera pan, and burned-in
// subtitles timed across the narration.
package render

import "strings"

// ModePreset maps a quality mode to encoder settings.
type ModePreset struct {
	// Name is the canonical mode name.
	Name string
	// Preset is the libx264 speed preset.
	Preset string
	// CRF is the constant rate factor.
	CRF int
}

// AudioBitrate is the fixed AAC bitrate for clips and final videos.
const AudioBitrate = "192k"

// Encoder quality modes. Fast favors turnaround, quality favors bitrate
// efficiency, balanced is the default.
var (
	ModeFast     = ModePreset{Name: "fast", Preset: "ultrafast", CRF: 29}
	ModeBalanced = ModePreset{Name: "balanced", Preset: "veryfast", CRF: 23}
	ModeQuality  = ModePreset{Name: "quality", Preset: "slow", CRF: 20}
)

// PresetFor resolves a mode name, defaulting to balanced.
func PresetFor(mode string) ModePreset {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "fast":
		return ModeFast
	case "quality":
		return ModeQuality
	default:
		return ModeBalanced
	}
}
