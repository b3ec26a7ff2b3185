package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name string
		text string
		want map[string]any
	}{
		{"plain object", `{"a":1}`, map[string]any{"a": float64(1)}},
		{"whitespace padded", "\n  {\"a\":1}  \n", map[string]any{"a": float64(1)}},
		{"fenced", "```\n{\"a\":1}\n```", map[string]any{"a": float64(1)}},
		{"fenced with language tag", "```json\n{\"a\":1}\n```", map[string]any{"a": float64(1)}},
		{"prose wrapped", `Here is the result: {"a":1} hope it helps`, map[string]any{"a": float64(1)}},
		{"nested object", `{"outer":{"inner":2}}`, map[string]any{"outer": map[string]any{"inner": float64(2)}}},
		{"top level array", `[1,2,3]`, nil},
		{"top level null", `null`, nil},
		{"top level string", `"hello"`, nil},
		{"no json at all", "just words", nil},
		{"unbalanced braces", `{"a": `, nil},
		{"empty input", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractJSONObject(tt.text))
		})
	}

	t.Run("fenced prose falls through to brace scan", func(t *testing.T) {
		got := ExtractJSONObject("```json\nmodel says: {\"ok\":true}\n```")
		require.NotNil(t, got)
		assert.Equal(t, true, got["ok"])
	})
}

func TestCleanText(t *testing.T) {
	tests := []struct {
		name  string
		value string
		limit int
		want  string
	}{
		{"collapses whitespace", "a\t b\n\nc", 100, "a b c"},
		{"trims edges", "  hello  ", 100, "hello"},
		{"caps at limit", "abcdef", 3, "abc"},
		{"limit counts runes", "你好世界", 2, "你好"},
		{"zero limit means no cap", "abcdef", 0, "abcdef"},
		{"empty", "", 10, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cleanText(tt.value, tt.limit))
		})
	}
}

func TestNormalizeIndexValue(t *testing.T) {
	tests := []struct {
		name  string
		value any
		size  int
		want  int
	}{
		{"in range float", float64(2), 5, 2},
		{"float truncates", float64(2.9), 5, 2},
		{"numeric string", " 3 ", 5, 3},
		{"out of range", float64(5), 5, -1},
		{"negative", float64(-1), 5, -1},
		{"nil", nil, 5, -1},
		{"garbage string", "two", 5, -1},
		{"decimal string rejected", "2.5", 5, -1},
		{"bool true is one", true, 5, 1},
		{"zero size", float64(0), 0, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizeIndexValue(tt.value, tt.size))
		})
	}
}

func TestNormalizeIndexValues(t *testing.T) {
	t.Run("deduplicates and caps", func(t *testing.T) {
		got := normalizeIndexValues([]any{float64(1), float64(1), float64(0), float64(2), float64(3)}, 5, 3)
		assert.Equal(t, []int{1, 0, 2}, got)
	})

	t.Run("drops invalid entries", func(t *testing.T) {
		got := normalizeIndexValues([]any{"x", float64(9), float64(1)}, 3, 3)
		assert.Equal(t, []int{1}, got)
	})

	t.Run("scalar wraps to single entry", func(t *testing.T) {
		assert.Equal(t, []int{2}, normalizeIndexValues(float64(2), 5, 3))
	})

	t.Run("nil is empty", func(t *testing.T) {
		assert.Empty(t, normalizeIndexValues(nil, 5, 3))
	})
}

func TestNormalizeKeywordList(t *testing.T) {
	t.Run("splits delimited string", func(t *testing.T) {
		got := normalizeKeywordList("森林，夜晚;月光|小路/石桥", 10)
		assert.Equal(t, []string{"森林", "夜晚", "月光", "小路", "石桥"}, got)
	})

	t.Run("accepts list", func(t *testing.T) {
		got := normalizeKeywordList([]any{"sword", " lantern "}, 10)
		assert.Equal(t, []string{"sword", "lantern"}, got)
	})

	t.Run("case insensitive dedupe keeps first", func(t *testing.T) {
		got := normalizeKeywordList([]any{"Sword", "sword", "SWORD", "shield"}, 10)
		assert.Equal(t, []string{"Sword", "shield"}, got)
	})

	t.Run("caps at limit", func(t *testing.T) {
		got := normalizeKeywordList([]any{"a1", "b2", "c3", "d4"}, 2)
		assert.Equal(t, []string{"a1", "b2"}, got)
	})

	t.Run("non list non string is empty", func(t *testing.T) {
		assert.Empty(t, normalizeKeywordList(float64(3), 10))
		assert.Empty(t, normalizeKeywordList(nil, 10))
	})
}

func TestJSONFieldHelpers(t *testing.T) {
	m := map[string]any{
		"s":     "text",
		"n":     float64(7),
		"empty": "",
		"nul":   nil,
		"b":     true,
		"bs":    "是",
		"bn":    float64(0),
		"f":     "0.5",
	}

	t.Run("stringField", func(t *testing.T) {
		assert.Equal(t, "text", stringField(m, "s", "d"))
		assert.Equal(t, "", stringField(m, "empty", "d"))
		assert.Equal(t, "d", stringField(m, "missing", "d"))
		assert.Equal(t, "d", stringField(m, "nul", "d"))
		assert.Equal(t, "7", stringField(m, "n", "d"))
	})

	t.Run("intField", func(t *testing.T) {
		assert.Equal(t, 7, intField(m, "n", 1))
		assert.Equal(t, 1, intField(m, "s", 1))
		assert.Equal(t, 1, intField(m, "missing", 1))
	})

	t.Run("floatField", func(t *testing.T) {
		assert.Equal(t, 7.0, floatField(m, "n", 0.1))
		assert.Equal(t, 0.5, floatField(m, "f", 0.1))
		assert.Equal(t, 0.1, floatField(m, "missing", 0.1))
	})

	t.Run("boolField", func(t *testing.T) {
		assert.True(t, boolField(m, "b", false))
		assert.True(t, boolField(m, "bs", false))
		assert.False(t, boolField(m, "bn", true))
		assert.False(t, boolField(m, "missing", false))
	})
}
