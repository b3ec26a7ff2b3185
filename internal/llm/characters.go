package llm

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/storyloom/storyloom/internal/models"
	"github.com/storyloom/storyloom/internal/voice"
)

// AnalysisDepthDetailed asks for richer per-character fields; anything else
// keeps the concise default.
const AnalysisDepthDetailed = "detailed"

// CharacterAnalysis is the outcome of one character extraction run.
type CharacterAnalysis struct {
	Characters []models.Character
	Confidence float64
	Model      string
}

// firstPersonMarkers signal that the story is told in first person, in which
// case the protagonist doubles as the story self.
var firstPersonMarkers = []string{"我", "我们", "咱", "咱们", "I ", " I", "I'm", "I,"}

// AnalyzeCharacters extracts the story's characters with voice suggestions
// and identity flags. Unlike the prompt-bundle path this operation has no
// offline fallback: callers surface the error to the user.
func (c *Client) AnalyzeCharacters(ctx context.Context, text, depth, modelID string) (*CharacterAnalysis, error) {
	selectedModel := c.model(modelID)
	if !c.Enabled() {
		return nil, ErrDisabled
	}

	storyWorld := c.SummarizeStoryWorld(ctx, text, modelID)
	if storyWorld != "" {
		c.logger.Info("character analysis story world context", "summary", storyWorld)
	}

	content, err := c.chat(ctx, selectedModel, StrictJSONSystemPrompt, characterAnalysisPrompt(text, depth, storyWorld), 0.2, analysisTimeout)
	if err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			return nil, fmt.Errorf("llm character analysis failed (%d): %s", statusErr.StatusCode, statusErr.Detail)
		}
		return nil, fmt.Errorf("llm character analysis failed: %w", err)
	}

	parsed := ExtractJSONObject(content)
	if parsed == nil {
		return nil, ErrUnparseableResponse
	}

	rawItems, _ := parsed["characters"].([]any)
	characters := make([]models.Character, 0, len(rawItems))
	for _, raw := range rawItems {
		item, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		name := stringField(item, "name", "character")
		role := stringField(item, "role", "supporting")
		personality := stringField(item, "personality", "")
		characters = append(characters, models.Character{
			Name:            name,
			Role:            role,
			Importance:      clampInt(intField(item, "importance", 5), 1, 10),
			IsMainCharacter: boolField(item, "is_main_character", false),
			IsStorySelf:     boolField(item, "is_story_self", false),
			Appearance:      stringField(item, "appearance", ""),
			Personality:     personality,
			SuggestedVoice:  voice.Normalize(stringField(item, "voice_id", ""), role, personality),
			BasePrompt:      stringField(item, "base_prompt", name+" portrait"),
		})
	}
	if len(characters) == 0 {
		return nil, ErrEmptyCharacters
	}

	normalizeIdentityFlags(characters, text)

	return &CharacterAnalysis{
		Characters: characters,
		Confidence: clampFloat(floatField(parsed, "confidence", 0.75), 0, 1),
		Model:      selectedModel,
	}, nil
}

// characterAnalysisPrompt renders the extraction prompt with the voice
// catalog inlined so the model can only pick known voice ids.
func characterAnalysisPrompt(text, depth, storyWorldContext string) string {
	catalog := voice.Catalog()

	ids := make([]string, 0, len(catalog))
	voiceLines := make([]string, 0, len(catalog))
	for _, v := range catalog {
		ids = append(ids, v.ID)
		voiceLines = append(voiceLines, fmt.Sprintf("- %s | %s | %s/%s | %s", v.ID, v.Name, v.Gender, v.Age, v.Description()))
	}
	sort.Strings(ids)

	return buildCharacterAnalysisPrompt(text, depth, strings.Join(ids, ", "), strings.Join(voiceLines, "\n"), cleanText(storyWorldContext, 320))
}

// normalizeIdentityFlags enforces at most one main character and one story
// self, promotes the most important character to main when none is flagged,
// and marks the main character as the story self when the text reads in first
// person.
func normalizeIdentityFlags(characters []models.Character, sourceText string) {
	if len(characters) == 0 {
		return
	}

	var mainIndexes, selfIndexes []int
	for index, item := range characters {
		if item.IsMainCharacter {
			mainIndexes = append(mainIndexes, index)
		}
		if item.IsStorySelf {
			selfIndexes = append(selfIndexes, index)
		}
	}

	if len(mainIndexes) > 1 {
		for _, index := range mainIndexes[1:] {
			characters[index].IsMainCharacter = false
		}
		mainIndexes = mainIndexes[:1]
	}
	if len(selfIndexes) > 1 {
		for _, index := range selfIndexes[1:] {
			characters[index].IsStorySelf = false
		}
		selfIndexes = selfIndexes[:1]
	}

	if len(mainIndexes) == 0 {
		best := 0
		for index, item := range characters {
			if item.Importance > characters[best].Importance {
				best = index
			}
		}
		characters[best].IsMainCharacter = true
		mainIndexes = []int{best}
	}

	hasFirstPerson := false
	for _, marker := range firstPersonMarkers {
		if strings.Contains(sourceText, marker) {
			hasFirstPerson = true
			break
		}
	}
	if hasFirstPerson && len(selfIndexes) == 0 {
		characters[mainIndexes[0]].IsStorySelf = true
	}
}
