package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"regexp"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/storyloom/storyloom/internal/models"
)

// SceneMetadata summarizes the visual content of one segment. The scene cache
// matches on these fields when deciding whether an earlier image can be
// reused.
type SceneMetadata struct {
	ActionHint       string   `json:"action_hint"`
	LocationHint     string   `json:"location_hint"`
	SceneElements    []string `json:"scene_elements"`
	ActionKeywords   []string `json:"action_keywords"`
	LocationKeywords []string `json:"location_keywords"`
	Mood             string   `json:"mood"`
	ShotType         string   `json:"shot_type"`
}

// CharacterAssignment records which candidate characters a segment's image
// prompt targets. PrimaryIndex is -1 when unresolved.
type CharacterAssignment struct {
	PrimaryIndex   int     `json:"primary_index"`
	RelatedIndexes []int   `json:"related_indexes"`
	Confidence     float64 `json:"confidence"`
	Reason         string  `json:"reason"`
}

// PromptBundle is the full per-segment image prompt build result.
type PromptBundle struct {
	Prompt     string
	Metadata   SceneMetadata
	Assignment CharacterAssignment
}

// BundleRequest carries everything the bundle builder needs for one segment.
type BundleRequest struct {
	// Character is the default character when no candidates resolve.
	Character models.Character

	// Candidates are the selectable characters; index positions are the
	// assignment vocabulary. Empty falls back to just Character.
	Candidates []models.Character

	// SegmentText is the current segment's prose.
	SegmentText string

	// ModelID overrides the configured default model when non-empty.
	ModelID string

	// RelatedReferenceImagePaths are face reference images for this segment,
	// at most two are forwarded.
	RelatedReferenceImagePaths []string

	// StoryWorldContext is the one-sentence global setting summary.
	StoryWorldContext string

	// PreviousSegmentText and NextSegmentText give adjacent context so the
	// model can infer implied actors.
	PreviousSegmentText string
	NextSegmentText     string

	// DefaultPrimaryIndex is the heuristic speaker pick, -1 when unknown.
	DefaultPrimaryIndex int

	// DefaultRelatedIndexes are additional heuristic candidate picks.
	DefaultRelatedIndexes []int
}

type bundleCharacter struct {
	Name                       string   `json:"name"`
	Appearance                 string   `json:"appearance"`
	Personality                string   `json:"personality"`
	BasePrompt                 string   `json:"base_prompt"`
	HasReferenceImage          bool     `json:"has_reference_image"`
	RelatedReferenceImagePaths []string `json:"related_reference_image_paths"`
}

type bundleCandidate struct {
	Index             int    `json:"index"`
	Name              string `json:"name"`
	Role              string `json:"role"`
	Importance        int    `json:"importance"`
	IsMainCharacter   bool   `json:"is_main_character"`
	IsStorySelf       bool   `json:"is_story_self"`
	HasReferenceImage bool   `json:"has_reference_image"`
}

type bundleAdjacentContext struct {
	PreviousSegment string `json:"previous_segment"`
	NextSegment     string `json:"next_segment"`
}

type bundleAssignment struct {
	PrimaryIndex   int   `json:"primary_index"`
	RelatedIndexes []int `json:"related_indexes"`
}

type bundlePayload struct {
	Task                       string                `json:"task"`
	Rules                      []string              `json:"rules"`
	Character                  bundleCharacter       `json:"character"`
	StoryWorldContext          string                `json:"story_world_context"`
	CurrentSegment             string                `json:"current_segment"`
	AdjacentContext            bundleAdjacentContext `json:"adjacent_context"`
	CharacterCandidates        []bundleCandidate     `json:"character_candidates"`
	DefaultCharacterAssignment bundleAssignment      `json:"default_character_assignment"`
	OutputSchema               json.RawMessage       `json:"output_schema"`
}

var bundleOutputSchema = json.RawMessage(`{"primary_index":0,"related_indexes":[0],"character_confidence":0.0,"character_reason":"","prompt":"","action_hint":"","location_hint":"","scene_elements":[""],"action_keywords":[""],"location_keywords":[""],"mood":"","shot_type":""}`)

// BuildSegmentImageBundle produces the image prompt, scene metadata and
// character assignment for one segment. Without an API key, or when the
// provider fails or answers without a prompt, it returns a deterministic
// fallback bundle instead of an error.
func (c *Client) BuildSegmentImageBundle(ctx context.Context, req BundleRequest) PromptBundle {
	candidates := req.Candidates
	if len(candidates) == 0 {
		candidates = []models.Character{req.Character}
	}

	safePrimary := normalizeIndex(req.DefaultPrimaryIndex, len(candidates))
	safeRelated := normalizeIndexes(req.DefaultRelatedIndexes, len(candidates), 3)
	if safePrimary < 0 && len(safeRelated) > 0 {
		safePrimary = safeRelated[0]
	}
	if safePrimary < 0 {
		safePrimary = 0
	}
	if !slices.Contains(safeRelated, safePrimary) {
		safeRelated = append([]int{safePrimary}, safeRelated...)
	}

	fallback := fallbackBundle(req, safePrimary, safeRelated)
	sceneText := cleanText(req.SegmentText, 1200)
	worldContext := cleanText(req.StoryWorldContext, 320)
	if !c.Enabled() {
		return fallback
	}

	relatedPaths := make([]string, 0, 2)
	for _, item := range req.RelatedReferenceImagePaths {
		if strings.TrimSpace(item) == "" {
			continue
		}
		relatedPaths = append(relatedPaths, item)
		if len(relatedPaths) == 2 {
			break
		}
	}

	candidateEntries := make([]bundleCandidate, 0, len(candidates))
	for index, item := range candidates {
		importance := item.Importance
		if importance == 0 {
			importance = 5
		}
		candidateEntries = append(candidateEntries, bundleCandidate{
			Index:             index,
			Name:              cleanText(item.Name, 80),
			Role:              cleanText(item.Role, 80),
			Importance:        clampInt(importance, 1, 10),
			IsMainCharacter:   item.IsMainCharacter,
			IsStorySelf:       item.IsStorySelf,
			HasReferenceImage: item.HasReferenceImage(),
		})
	}

	payload := bundlePayload{
		Task:  "build_image_prompt_for_story_segment",
		Rules: segmentImageBundleRules,
		Character: bundleCharacter{
			Name:                       cleanText(req.Character.Name, 120),
			Appearance:                 cleanText(req.Character.Appearance, 800),
			Personality:                cleanText(req.Character.Personality, 400),
			BasePrompt:                 cleanText(req.Character.BasePrompt, 800),
			HasReferenceImage:          req.Character.HasReferenceImage(),
			RelatedReferenceImagePaths: relatedPaths,
		},
		StoryWorldContext: worldContext,
		CurrentSegment:    cleanText(req.SegmentText, 1800),
		AdjacentContext: bundleAdjacentContext{
			PreviousSegment: cleanText(req.PreviousSegmentText, 500),
			NextSegment:     cleanText(req.NextSegmentText, 500),
		},
		CharacterCandidates: candidateEntries,
		DefaultCharacterAssignment: bundleAssignment{
			PrimaryIndex:   safePrimary,
			RelatedIndexes: safeRelated,
		},
		OutputSchema: bundleOutputSchema,
	}

	userMessage, err := marshalNoEscape(payload)
	if err != nil {
		c.logger.Warn("image prompt bundle encode failed, using fallback bundle", "error", err)
		return fallback
	}

	content, err := c.chat(ctx, c.model(req.ModelID), StrictJSONSystemPrompt, string(userMessage), 0.15, bundleTimeout)
	if err != nil {
		c.logger.Warn("image prompt bundle build failed, using fallback bundle", "error", err)
		return fallback
	}

	parsed := ExtractJSONObject(content)
	candidate := ""
	if parsed != nil {
		candidate = cleanText(stringField(parsed, "prompt", ""), 2200)
	}
	if candidate == "" {
		return fallback
	}

	resolvedPrimary := normalizeIndexValue(parsed["primary_index"], len(candidates))
	resolvedRelated := normalizeIndexValues(parsed["related_indexes"], len(candidates), 3)
	if resolvedPrimary < 0 && len(resolvedRelated) > 0 {
		resolvedPrimary = resolvedRelated[0]
	}
	if resolvedPrimary < 0 {
		resolvedPrimary = safePrimary
	}
	if !slices.Contains(resolvedRelated, resolvedPrimary) {
		resolvedRelated = append([]int{resolvedPrimary}, resolvedRelated...)
	}

	promptCharacter := req.Character
	if resolvedPrimary >= 0 && resolvedPrimary < len(candidates) {
		promptCharacter = candidates[resolvedPrimary]
	}

	finalPrompt := buildFinalSegmentImagePrompt(characterIdentityGuard(promptCharacter), sceneText, candidate, worldContext)

	metadata := normalizeSceneMetadata(parsed)
	if metadata.ActionHint == "" || metadata.LocationHint == "" {
		derived := fallbackSceneMetadata(req.SegmentText, finalPrompt)
		if metadata.ActionHint == "" {
			metadata.ActionHint = derived.ActionHint
		}
		if metadata.LocationHint == "" {
			metadata.LocationHint = derived.LocationHint
		}
	}

	return PromptBundle{
		Prompt:   finalPrompt,
		Metadata: metadata,
		Assignment: CharacterAssignment{
			PrimaryIndex:   resolvedPrimary,
			RelatedIndexes: resolvedRelated,
			Confidence:     clampFloat(floatField(parsed, "character_confidence", 0), 0, 1),
			Reason:         cleanText(stringField(parsed, "character_reason", ""), 240),
		},
	}
}

func fallbackBundle(req BundleRequest, defaultPrimary int, defaultRelated []int) PromptBundle {
	prompt := fallbackSegmentImagePrompt(req.Character, req.SegmentText, req.StoryWorldContext, req.PreviousSegmentText, req.NextSegmentText)

	related := make([]int, 0, 3)
	for _, item := range defaultRelated {
		related = append(related, item)
		if len(related) == 3 {
			break
		}
	}

	return PromptBundle{
		Prompt:   prompt,
		Metadata: fallbackSceneMetadata(req.SegmentText, prompt),
		Assignment: CharacterAssignment{
			PrimaryIndex:   defaultPrimary,
			RelatedIndexes: related,
			Confidence:     0,
			Reason:         "fallback",
		},
	}
}

// characterIdentityGuard builds the identity-consistency clause for one
// character, anchored on appearance and base prompt.
func characterIdentityGuard(ch models.Character) string {
	name := cleanText(ch.Name, 80)
	if name == "" {
		name = "main character"
	}
	appearance := cleanText(ch.Appearance, 500)
	basePrompt := cleanText(ch.BasePrompt, 500)
	personality := cleanText(ch.Personality, 240)

	anchorParts := make([]string, 0, 2)
	if appearance != "" {
		anchorParts = append(anchorParts, appearance)
	}
	if basePrompt != "" {
		anchorParts = append(anchorParts, basePrompt)
	}
	if len(anchorParts) == 0 {
		anchorParts = append(anchorParts, name)
	}

	return buildCharacterIdentityGuard(name, strings.Join(anchorParts, "; "), personality, ch.HasReferenceImage())
}

// fallbackSegmentImagePrompt is the deterministic prompt used when the
// provider is unavailable. Adjacent segments are folded into the scene text
// so implied actors still carry over.
func fallbackSegmentImagePrompt(ch models.Character, segmentText, storyWorld, previousText, nextText string) string {
	guard := characterIdentityGuard(ch)
	current := cleanText(segmentText, 1200)
	previous := cleanText(previousText, 420)
	next := cleanText(nextText, 420)

	sceneText := current
	if previous != "" || next != "" {
		parts := []string{"Current segment: " + current}
		if previous != "" {
			parts = append(parts, "Previous segment context: "+previous)
		}
		if next != "" {
			parts = append(parts, "Next segment context: "+next)
		}
		sceneText = cleanText(strings.Join(parts, "\n"), 1900)
	}

	return buildFallbackSegmentImagePrompt(guard, sceneText, cleanText(storyWorld, 320))
}

var (
	scenePieceSplit = regexp.MustCompile(`[。！？；，,!?;]`)
	sceneTokenSplit = regexp.MustCompile(`[^\p{L}\p{N}_]+`)
	locationMarkers = []string{"在", "于", "到", "来到", "进入", "教室", "街", "学校", "公园", "森林", "办公室", "家", "医院", "车站"}
)

// fallbackSceneMetadata derives scene metadata from the segment and prompt
// text alone: first clause as action hint, first later clause carrying a
// location marker as location hint, leading distinct tokens as elements.
func fallbackSceneMetadata(segmentText, imagePrompt string) SceneMetadata {
	text := cleanText(segmentText, 1800)
	promptText := cleanText(imagePrompt, 1800)
	source := strings.TrimSpace(text + " " + promptText)

	pieces := make([]string, 0, 8)
	for _, piece := range scenePieceSplit.Split(source, -1) {
		if p := strings.TrimSpace(piece); p != "" {
			pieces = append(pieces, p)
		}
	}

	actionHint := truncateRunes(source, 220)
	if len(pieces) > 0 {
		actionHint = pieces[0]
	}

	locationHint := ""
	if len(pieces) > 1 {
		for _, part := range pieces[1:] {
			if containsAnyMarker(part) {
				locationHint = part
				break
			}
		}
	}

	keywordSource := cleanText(source, 2400)
	elements := make([]string, 0, 8)
	seen := make(map[string]bool, 8)
	for _, token := range sceneTokenSplit.Split(keywordSource, -1) {
		token = cleanText(token, 40)
		if utf8.RuneCountInString(token) < 2 {
			continue
		}
		lowered := strings.ToLower(token)
		if seen[lowered] {
			continue
		}
		seen[lowered] = true
		elements = append(elements, token)
		if len(elements) >= 8 {
			break
		}
	}

	actionKeywords := elements
	if len(actionKeywords) > 6 {
		actionKeywords = actionKeywords[:6]
	}
	locationKeywords := []string{}
	if locationHint != "" {
		locationKeywords = []string{locationHint}
	}

	return normalizeSceneMetadata(map[string]any{
		"action_hint":       actionHint,
		"location_hint":     locationHint,
		"scene_elements":    toAnyList(elements),
		"action_keywords":   toAnyList(actionKeywords),
		"location_keywords": toAnyList(locationKeywords),
		"mood":              "",
		"shot_type":         "",
	})
}

func containsAnyMarker(part string) bool {
	for _, marker := range locationMarkers {
		if strings.Contains(part, marker) {
			return true
		}
	}
	return false
}

// normalizeSceneMetadata applies the field caps to a parsed metadata object.
// "visual_elements" is accepted as an alias for "scene_elements".
func normalizeSceneMetadata(raw map[string]any) SceneMetadata {
	if raw == nil {
		raw = map[string]any{}
	}
	elementsValue := raw["scene_elements"]
	if !truthyJSON(elementsValue) {
		elementsValue = raw["visual_elements"]
	}
	return SceneMetadata{
		ActionHint:       cleanText(stringField(raw, "action_hint", ""), 220),
		LocationHint:     cleanText(stringField(raw, "location_hint", ""), 220),
		SceneElements:    normalizeKeywordList(elementsValue, 10),
		ActionKeywords:   normalizeKeywordList(raw["action_keywords"], 10),
		LocationKeywords: normalizeKeywordList(raw["location_keywords"], 8),
		Mood:             cleanText(stringField(raw, "mood", ""), 80),
		ShotType:         cleanText(stringField(raw, "shot_type", ""), 80),
	}
}

func toAnyList(items []string) []any {
	out := make([]any, len(items))
	for i, item := range items {
		out[i] = item
	}
	return out
}

// marshalNoEscape marshals without HTML escaping so CJK prompt text goes over
// the wire as written.
func marshalNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
