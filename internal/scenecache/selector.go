package scenecache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/storyloom/storyloom/internal/llm"
	"github.com/storyloom/storyloom/internal/models"
)

// selectorTimeout bounds one reuse-selector round trip.
const selectorTimeout = 45 * time.Second

// SelectorCandidate is one shortlist entry offered to the selector.
type SelectorCandidate struct {
	EntryID int64
	Profile *models.SceneMatchProfile
}

// SelectorDecision is the selector's verdict on a shortlist.
type SelectorDecision struct {
	ShouldReuse bool
	SelectedID  int64
	Confidence  float64
	Reason      string
}

// Selector decides whether any shortlisted cache entry is a safe reuse for
// the target scene.
type Selector interface {
	Select(ctx context.Context, target *models.SceneMatchProfile, candidates []SelectorCandidate, strict bool, modelID string) (*SelectorDecision, error)
}

// LLMSelector asks the text model, at temperature zero, to compare the target
// profile against the shortlist. The model's answer is advisory; the cache
// cross-checks the selected entry before trusting it.
type LLMSelector struct {
	client *llm.Client
}

// NewLLMSelector wraps a text-model client as a reuse selector.
func NewLLMSelector(client *llm.Client) *LLMSelector {
	return &LLMSelector{client: client}
}

// selectorProfile is the wire shape of one profile in the selector request.
type selectorProfile struct {
	ID                  string   `json:"id,omitempty"`
	CharacterKey        string   `json:"character_key,omitempty"`
	CharacterName       string   `json:"character_name,omitempty"`
	ReferenceImageIDs   []string `json:"reference_image_ids,omitempty"`
	ReferenceImagePaths []string `json:"reference_image_paths,omitempty"`
	ActionHint          string   `json:"action_hint,omitempty"`
	LocationHint        string   `json:"location_hint,omitempty"`
	SceneElements       []string `json:"scene_elements,omitempty"`
	Mood                string   `json:"mood,omitempty"`
	ShotType            string   `json:"shot_type,omitempty"`
	SceneSummary        string   `json:"scene_summary,omitempty"`
	IsSceneOnly         bool     `json:"is_scene_only"`
}

func toSelectorProfile(id int64, p *models.SceneMatchProfile) selectorProfile {
	sp := selectorProfile{
		CharacterKey:        p.CharacterKey,
		CharacterName:       p.CharacterName,
		ReferenceImageIDs:   p.ReferenceImageIDs,
		ReferenceImagePaths: p.ReferenceImagePaths,
		ActionHint:          p.ActionHint,
		LocationHint:        p.LocationHint,
		SceneElements:       p.SceneElements,
		Mood:                p.Mood,
		ShotType:            p.ShotType,
		SceneSummary:        p.SceneSummary,
		IsSceneOnly:         p.CharacterKey == "",
	}
	if id > 0 {
		sp.ID = strconv.FormatInt(id, 10)
	}
	return sp
}

// Select implements Selector.
func (s *LLMSelector) Select(ctx context.Context, target *models.SceneMatchProfile, candidates []SelectorCandidate, strict bool, modelID string) (*SelectorDecision, error) {
	if s.client == nil {
		return nil, fmt.Errorf("no selector model configured")
	}
	if len(candidates) == 0 {
		return &SelectorDecision{ShouldReuse: false, Reason: "no candidates"}, nil
	}

	wireCandidates := make([]selectorProfile, 0, len(candidates))
	for _, c := range candidates {
		wireCandidates = append(wireCandidates, toSelectorProfile(c.EntryID, c.Profile))
	}

	mode := "strict"
	if !strict {
		mode = "lenient"
	}
	request := map[string]any{
		"task":       "scene-image-reuse-selection",
		"mode":       mode,
		"rules":      llm.SceneReuseSelectorRules,
		"target":     toSelectorProfile(0, target),
		"candidates": wireCandidates,
		"output_schema": map[string]any{
			"should_reuse": false,
			"selected_id":  "",
			"confidence":   0.0,
			"reason":       "",
		},
	}
	payload, err := json.Marshal(request)
	if err != nil {
		return nil, err
	}

	result, err := s.client.CompleteJSON(ctx, llm.SceneReuseSelectorSystemPrompt, string(payload), modelID, 0, selectorTimeout)
	if err != nil {
		return nil, err
	}

	decision := &SelectorDecision{
		ShouldReuse: boolValue(result["should_reuse"]),
		SelectedID:  idValue(result["selected_id"]),
		Confidence:  floatValue(result["confidence"]),
		Reason:      stringValue(result["reason"]),
	}
	if decision.SelectedID <= 0 {
		decision.ShouldReuse = false
	}
	return decision, nil
}

func boolValue(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		b, _ := strconv.ParseBool(t)
		return b
	}
	return false
}

func floatValue(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case json.Number:
		f, _ := t.Float64()
		return f
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	}
	return 0
}

func stringValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func idValue(v any) int64 {
	switch t := v.(type) {
	case float64:
		return int64(t)
	case json.Number:
		n, _ := t.Int64()
		return n
	case string:
		n, _ := strconv.ParseInt(t, 10, 64)
		return n
	}
	return 0
}
