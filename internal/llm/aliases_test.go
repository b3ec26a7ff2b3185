package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeAlias(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  string
	}{
		{"keeps han runes", "雾中焰心", "雾中焰心"},
		{"strips whitespace", "雾中 焰心", "雾中焰心"},
		{"strips latin and digits", "wu雾2中x焰心!", "雾中焰心"},
		{"strips punctuation", "雾中·焰心。", "雾中焰心"},
		{"empty input", "", ""},
		{"nothing survives", "abc 123", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sanitizeAlias(tt.value))
		})
	}
}

func TestIsAliasValid(t *testing.T) {
	tests := []struct {
		name  string
		alias string
		want  bool
	}{
		{"four runes", "雾中焰心", true},
		{"eight runes", "雾中焰心夜潮归人", true},
		{"too short", "雾心", false},
		{"too long", "雾中焰心夜潮归人雾", false},
		{"empty", "", false},
		{"stopword inside", "天下无双", false},
		{"stopword embedded", "风痕江湖冷", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isAliasValid(tt.alias))
		})
	}
}

func TestSuggestAliases(t *testing.T) {
	t.Run("returns sanitized aliases up to count", func(t *testing.T) {
		var captured map[string]any
		reply := `{"aliases":["雾中焰心","雾中 焰心","江湖恩怨","ab","夜潮归人","风痕未冷","烬海拾光"]}`
		server := chatServer(t, reply, &captured)
		defer server.Close()

		aliases, model, err := testClient(t, server.URL).SuggestAliases(context.Background(), "novel text", 3, "")
		require.NoError(t, err)
		assert.Equal(t, []string{"雾中焰心", "夜潮归人", "风痕未冷"}, aliases,
			"duplicates, stopwords and invalid entries are skipped")
		assert.Equal(t, "test-model", model)
		assert.InDelta(t, 0.85, captured["temperature"], 1e-9)
	})

	t.Run("zero count defaults to ten", func(t *testing.T) {
		var captured map[string]any
		server := chatServer(t, `{"aliases":[]}`, &captured)
		defer server.Close()

		_, _, err := testClient(t, server.URL).SuggestAliases(context.Background(), "text", 0, "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "(0/10)")

		prompt := captured["messages"].([]any)[1].(map[string]any)["content"].(string)
		assert.Contains(t, prompt, "一次输出10个")
	})

	t.Run("count clamps to twenty", func(t *testing.T) {
		var captured map[string]any
		server := chatServer(t, `{"aliases":[]}`, &captured)
		defer server.Close()

		_, _, err := testClient(t, server.URL).SuggestAliases(context.Background(), "text", 99, "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "(0/20)")

		prompt := captured["messages"].([]any)[1].(map[string]any)["content"].(string)
		assert.Contains(t, prompt, "一次输出20个")
	})

	t.Run("insufficient valid aliases errors", func(t *testing.T) {
		server := chatServer(t, `{"aliases":["雾中焰心","天下无双"]}`, nil)
		defer server.Close()

		_, _, err := testClient(t, server.URL).SuggestAliases(context.Background(), "text", 2, "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "insufficient valid aliases (1/2)")
	})

	t.Run("missing key errors", func(t *testing.T) {
		_, _, err := disabledClient(t).SuggestAliases(context.Background(), "text", 5, "")
		assert.ErrorIs(t, err, ErrDisabled)
	})
}
