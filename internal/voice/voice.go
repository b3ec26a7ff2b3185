// Package voice embeds the speech-synthesis voice catalog and implements
// voice recommendation and per-character voice assignment cleanup.
//
// The catalog is a fixed set of zh-CN neural voices with casting hints
// (traits and suitable roles). Recommendation maps role and personality
// keywords onto a voice id; sanitization resolves the assignments of a whole
// character list so that ids are valid, distinct where possible, and the
// narrator voice stays reserved for narration.
package voice

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/storyloom/storyloom/internal/models"
)

// DefaultVoiceID is the catalog's first voice, used as the narrator default
// and as the last-resort assignment.
const DefaultVoiceID = "zh-CN-YunxiNeural"

//go:embed catalog.yaml
var catalogYAML []byte

// Voice is one synthesis voice with its casting hints.
type Voice struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	Gender      string   `yaml:"gender"`
	Age         string   `yaml:"age"`
	Traits      []string `yaml:"traits"`
	SuitableFor []string `yaml:"suitable_for"`
}

// Description renders the casting hints as a single prompt-friendly line.
func (v Voice) Description() string {
	traits := strings.Join(v.Traits, "、")
	if len(v.SuitableFor) == 0 {
		return traits
	}
	return fmt.Sprintf("%s（適合：%s）", traits, strings.Join(v.SuitableFor, "、"))
}

var (
	catalog   []Voice
	idIndex   map[string]Voice
	nameIndex map[string]string
)

func init() {
	var doc struct {
		Voices []Voice `yaml:"voices"`
	}
	if err := yaml.Unmarshal(catalogYAML, &doc); err != nil {
		panic(fmt.Sprintf("voice: parsing embedded catalog: %v", err))
	}
	if len(doc.Voices) == 0 {
		panic("voice: embedded catalog is empty")
	}
	catalog = doc.Voices
	idIndex = make(map[string]Voice, len(catalog))
	nameIndex = make(map[string]string, len(catalog))
	for _, v := range catalog {
		idIndex[v.ID] = v
		nameIndex[strings.ToLower(v.Name)] = v.ID
	}
}

// Catalog returns the voices in catalog order. Callers must not modify the
// returned entries.
func Catalog() []Voice {
	out := make([]Voice, len(catalog))
	copy(out, catalog)
	return out
}

// Lookup returns the catalog entry for id.
func Lookup(id string) (Voice, bool) {
	v, ok := idIndex[id]
	return v, ok
}

// IsKnown reports whether id is a catalog voice id.
func IsKnown(id string) bool {
	_, ok := idIndex[id]
	return ok
}

// Recommend picks a voice id from role and personality keywords. Unmatched
// input falls through to the default voice.
func Recommend(role, personality string) string {
	content := strings.ToLower(role + " " + personality)
	if containsAny(content, "女", "少女", "公主", "女主") {
		if containsAny(content, "活潑", "可愛", "俏皮") {
			return "zh-CN-XiaoyiNeural"
		}
		if containsAny(content, "冷", "理性", "專業") {
			return "zh-CN-XiaomoNeural"
		}
		return "zh-CN-XiaoxiaoNeural"
	}
	if containsAny(content, "長者", "師父", "權威", "反派") {
		return "zh-CN-YunjianNeural"
	}
	if containsAny(content, "少年", "熱血", "活力") {
		return "zh-CN-YunyangNeural"
	}
	return DefaultVoiceID
}

// Normalize resolves a raw voice reference to a catalog id: exact id, then
// voice name, then an id embedded in the text, then the role/personality
// recommendation, then the default voice.
func Normalize(raw, role, personality string) string {
	if id, ok := matchExplicit(raw); ok {
		return id
	}
	if rec := Recommend(role, personality); IsKnown(rec) {
		return rec
	}
	return catalog[0].ID
}

// matchExplicit resolves raw against the catalog without falling back to a
// recommendation. The second return reports whether raw named a voice at all.
func matchExplicit(raw string) (string, bool) {
	candidate := strings.TrimSpace(raw)
	if candidate == "" {
		return "", false
	}
	if _, ok := idIndex[candidate]; ok {
		return candidate, true
	}
	lowered := strings.ToLower(candidate)
	if id, ok := nameIndex[lowered]; ok {
		return id, true
	}
	for _, v := range catalog {
		if strings.Contains(lowered, strings.ToLower(v.ID)) {
			return v.ID, true
		}
	}
	return "", false
}

// Sanitize validates and deduplicates the voice assignments of a character
// list before rendering. Every returned character carries a catalog id; no
// two characters share an id while free voices remain; the narrator voice is
// assigned only to characters whose input explicitly named it. The input
// slice is not modified.
func Sanitize(characters []models.Character, narratorVoice string) []models.Character {
	out := make([]models.Character, len(characters))
	copy(out, characters)

	used := make(map[string]bool, len(out))
	for i := range out {
		ch := &out[i]
		requested, explicit := matchExplicit(ch.SuggestedVoice)
		id := Normalize(ch.SuggestedVoice, ch.Role, ch.Personality)
		requestedNarrator := explicit && requested == narratorVoice
		if (id == narratorVoice && !requestedNarrator) || used[id] {
			id = pickFree(used, narratorVoice, ch.Role, ch.Personality)
		}
		ch.SuggestedVoice = id
		used[id] = true
	}
	return out
}

// pickFree returns an unused non-narrator voice, preferring the
// role/personality recommendation, then catalog order. When every voice is
// taken the narrator voice is all that remains.
func pickFree(used map[string]bool, narratorVoice, role, personality string) string {
	if rec := Recommend(role, personality); rec != narratorVoice && !used[rec] {
		return rec
	}
	for _, v := range catalog {
		if v.ID == narratorVoice || used[v.ID] {
			continue
		}
		return v.ID
	}
	return narratorVoice
}

func containsAny(content string, tokens ...string) bool {
	for _, token := range tokens {
		if strings.Contains(content, token) {
			return true
		}
	}
	return false
}
