package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	codeFenceOpen  = regexp.MustCompile("^```(?:json)?")
	codeFenceClose = regexp.MustCompile("```$")
	jsonObjectExpr = regexp.MustCompile(`\{[\s\S]*\}`)
)

// ExtractJSONObject pulls a JSON object out of a chat completion reply.
// Models wrap answers in markdown fences or prose often enough that a plain
// unmarshal is not reliable: the first pass strips fences and parses the whole
// reply, the second grabs the outermost brace-to-brace span. Returns nil when
// neither pass yields an object.
func ExtractJSONObject(text string) map[string]any {
	content := strings.TrimSpace(text)
	if content == "" {
		return nil
	}
	if strings.HasPrefix(content, "```") {
		content = strings.TrimSpace(codeFenceOpen.ReplaceAllString(content, ""))
		content = strings.TrimSpace(codeFenceClose.ReplaceAllString(content, ""))
	}
	var parsed map[string]any
	if err := json.Unmarshal([]byte(content), &parsed); err == nil && parsed != nil {
		return parsed
	}
	match := jsonObjectExpr.FindString(content)
	if match == "" {
		return nil
	}
	parsed = nil
	if err := json.Unmarshal([]byte(match), &parsed); err == nil {
		return parsed
	}
	return nil
}

// cleanText collapses runs of whitespace to single spaces and caps the result
// at limit runes. limit <= 0 means no cap.
func cleanText(value string, limit int) string {
	cleaned := strings.Join(strings.Fields(value), " ")
	if limit > 0 {
		cleaned = truncateRunes(cleaned, limit)
	}
	return cleaned
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

// normalizeIndex validates a candidate index against a slice length, returning
// -1 for anything out of range.
func normalizeIndex(value, size int) int {
	if size <= 0 || value < 0 || value >= size {
		return -1
	}
	return value
}

// normalizeIndexValue is the loose variant for values coming straight out of
// parsed JSON. Floats truncate toward zero, numeric strings parse, booleans
// count as 0/1.
func normalizeIndexValue(value any, size int) int {
	if size <= 0 || value == nil {
		return -1
	}
	idx := -1
	switch v := value.(type) {
	case float64:
		idx = int(v)
	case int:
		idx = v
	case int64:
		idx = int(v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return -1
		}
		idx = int(f)
	case bool:
		if v {
			idx = 1
		}
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return -1
		}
		idx = n
	default:
		return -1
	}
	return normalizeIndex(idx, size)
}

func normalizeIndexValues(values any, size, limit int) []int {
	var items []any
	switch v := values.(type) {
	case nil:
		return []int{}
	case []any:
		items = v
	default:
		items = []any{v}
	}
	if limit < 1 {
		limit = 1
	}
	out := make([]int, 0, limit)
	seen := make(map[int]bool, limit)
	for _, item := range items {
		idx := normalizeIndexValue(item, size)
		if idx < 0 || seen[idx] {
			continue
		}
		seen[idx] = true
		out = append(out, idx)
		if len(out) >= limit {
			break
		}
	}
	return out
}

func normalizeIndexes(values []int, size, limit int) []int {
	if limit < 1 {
		limit = 1
	}
	out := make([]int, 0, limit)
	seen := make(map[int]bool, limit)
	for _, value := range values {
		idx := normalizeIndex(value, size)
		if idx < 0 || seen[idx] {
			continue
		}
		seen[idx] = true
		out = append(out, idx)
		if len(out) >= limit {
			break
		}
	}
	return out
}

var keywordSplitExpr = regexp.MustCompile(`[,，;；|/]`)

// normalizeKeywordList accepts either a JSON array or a delimited string and
// returns cleaned, case-insensitively deduplicated entries capped at limit.
// Anything else yields an empty list.
func normalizeKeywordList(value any, limit int) []string {
	var rawItems []string
	switch v := value.(type) {
	case string:
		rawItems = keywordSplitExpr.Split(v, -1)
	case []any:
		rawItems = make([]string, 0, len(v))
		for _, item := range v {
			rawItems = append(rawItems, stringify(item))
		}
	default:
		return []string{}
	}
	out := make([]string, 0, limit)
	seen := make(map[string]bool, limit)
	for _, raw := range rawItems {
		item := cleanText(raw, 80)
		if item == "" {
			continue
		}
		key := strings.ToLower(item)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, item)
		if len(out) >= limit {
			break
		}
	}
	return out
}

func stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// stringField reads a string out of a parsed JSON map, stringifying scalars
// and falling back to def when the key is absent or null.
func stringField(m map[string]any, key, def string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return def
	}
	return stringify(v)
}

func intField(m map[string]any, key string, def int) int {
	v, ok := m[key]
	if !ok || v == nil {
		return def
	}
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return def
		}
		return parsed
	default:
		return def
	}
}

func floatField(m map[string]any, key string, def float64) float64 {
	v, ok := m[key]
	if !ok || v == nil {
		return def
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return def
		}
		return parsed
	default:
		return def
	}
}

// truthyValues mirrors the accepted affirmative spellings for boolean-ish
// fields in model output.
var truthyValues = map[string]bool{
	"1": true, "true": true, "yes": true, "y": true, "on": true, "是": true,
}

func boolField(m map[string]any, key string, def bool) bool {
	v, ok := m[key]
	if !ok || v == nil {
		return def
	}
	switch b := v.(type) {
	case bool:
		return b
	case float64:
		return b != 0
	case int:
		return b != 0
	case string:
		return truthyValues[strings.ToLower(strings.TrimSpace(b))]
	default:
		return def
	}
}

func clampInt(value, low, high int) int {
	if value < low {
		return low
	}
	if value > high {
		return high
	}
	return value
}

func clampFloat(value, low, high float64) float64 {
	if value < low {
		return low
	}
	if value > high {
		return high
	}
	return value
}
