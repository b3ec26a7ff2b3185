package llm

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// aliasStopwords are overused genre words an alias must not contain.
var aliasStopwords = []string{
	"天下", "江湖", "苍生", "王朝", "帝国", "都市", "校园",
	"重生", "逆袭", "传奇", "神话", "风云", "山河", "春秋",
	"长安", "洛阳", "金陵", "燕京", "姑苏", "巴蜀", "中原",
}

var aliasShape = regexp.MustCompile(`^[\x{4e00}-\x{9fa5}]{4,8}$`)

// sanitizeAlias strips whitespace and everything outside the common Han
// range.
func sanitizeAlias(value string) string {
	var b strings.Builder
	for _, r := range value {
		if r >= 0x4e00 && r <= 0x9fa5 {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isAliasValid(alias string) bool {
	if !aliasShape.MatchString(alias) {
		return false
	}
	for _, stopword := range aliasStopwords {
		if strings.Contains(alias, stopword) {
			return false
		}
	}
	return true
}

// SuggestAliases asks the model for novel alias candidates: 4 to 8 common
// Han characters, no stopwords. Errors out when the model cannot produce the
// requested count of valid, distinct aliases. Returns the aliases and the
// model that produced them.
func (c *Client) SuggestAliases(ctx context.Context, text string, count int, modelID string) ([]string, string, error) {
	selectedModel := c.model(modelID)
	if count == 0 {
		count = 10
	}
	wanted := clampInt(count, 1, 20)

	if !c.Enabled() {
		return nil, "", ErrDisabled
	}

	content, err := c.chat(ctx, selectedModel, StrictJSONSystemPrompt, buildAliasPrompt(text, wanted), 0.85, aliasTimeout)
	if err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			return nil, "", fmt.Errorf("llm alias generation failed (%d): %s", statusErr.StatusCode, statusErr.Detail)
		}
		return nil, "", fmt.Errorf("llm alias generation failed: %w", err)
	}

	parsed := ExtractJSONObject(content)
	var rawAliases []any
	if parsed != nil {
		rawAliases, _ = parsed["aliases"].([]any)
	}

	normalized := make([]string, 0, wanted)
	seen := make(map[string]bool, wanted)
	for _, item := range rawAliases {
		cleaned := sanitizeAlias(stringify(item))
		if !isAliasValid(cleaned) || seen[cleaned] {
			continue
		}
		seen[cleaned] = true
		normalized = append(normalized, cleaned)
		if len(normalized) >= wanted {
			break
		}
	}

	if len(normalized) < wanted {
		return nil, "", fmt.Errorf("llm alias generation returned insufficient valid aliases (%d/%d)", len(normalized), wanted)
	}
	return normalized, selectedModel, nil
}
