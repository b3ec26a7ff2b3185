package render

import (
	"strings"

	"github.com/storyloom/storyloom/internal/segmentation"
)

// SubtitleUnit is one timed caption: text shown from Start for Duration
// seconds of the clip.
type SubtitleUnit struct {
	Text     string
	Start    float64
	Duration float64
}

// minUnitDuration keeps very short captions readable.
const minUnitDuration = 0.6

// BuildSubtitleTimeline splits segment text into display units at sentence
// and clause punctuation (commas included) and distributes the clip duration
// across them proportionally to their visible rune counts. The split reuses
// the narration sentence rules, so captions and speech pause at the same
// places.
func BuildSubtitleTimeline(text string, total float64) []SubtitleUnit {
	if total <= 0 {
		return nil
	}
	parts := segmentation.SplitSentences(text)
	if len(parts) == 0 {
		trimmed := strings.TrimSpace(text)
		if trimmed == "" {
			return nil
		}
		parts = []string{trimmed}
	}

	weights := make([]int, len(parts))
	sum := 0
	for i, part := range parts {
		weights[i] = visibleRunes(part)
		if weights[i] < 1 {
			weights[i] = 1
		}
		sum += weights[i]
	}

	units := make([]SubtitleUnit, 0, len(parts))
	cursor := 0.0
	for i, part := range parts {
		share := total * float64(weights[i]) / float64(sum)
		if share < minUnitDuration && total > minUnitDuration*float64(len(parts)) {
			share = minUnitDuration
		}
		units = append(units, SubtitleUnit{Text: part, Start: cursor, Duration: share})
		cursor += share
	}

	// Proportional rounding can overshoot; pin the last unit to the clip end.
	if last := &units[len(units)-1]; last.Start < total {
		last.Duration = total - last.Start
	}
	return units
}

// visibleRunes counts non-whitespace runes.
func visibleRunes(s string) int {
	count := 0
	for _, r := range s {
		if r != ' ' && r != '\t' && r != '\n' && r != '\r' {
			count++
		}
	}
	return count
}

// StyleSpec is the drawable form of a subtitle style name.
type StyleSpec struct {
	FontColor   string
	BorderColor string
	// YRatio positions the first caption line as a fraction of frame height.
	YRatio float64
}

// subtitleStyles maps style names to their rendering parameters. The legacy
// names from earlier request formats stay accepted.
var subtitleStyles = map[string]StyleSpec{
	"white_black":  {FontColor: "white", BorderColor: "black", YRatio: 0.78},
	"black_white":  {FontColor: "black", BorderColor: "white", YRatio: 0.78},
	"yellow_black": {FontColor: "yellow", BorderColor: "black", YRatio: 0.78},

	// Legacy aliases.
	"basic":     {FontColor: "white", BorderColor: "black", YRatio: 0.78},
	"highlight": {FontColor: "yellow", BorderColor: "black", YRatio: 0.78},
	"danmaku":   {FontColor: "white", BorderColor: "black", YRatio: 0.18},
	"center":    {FontColor: "white", BorderColor: "black", YRatio: 0.45},
}

// ResolveStyle maps a subtitle style name to its spec, defaulting to
// white-on-black at the bottom band.
func ResolveStyle(name string) StyleSpec {
	if spec, ok := subtitleStyles[strings.ToLower(strings.TrimSpace(name))]; ok {
		return spec
	}
	return subtitleStyles["white_black"]
}
