package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyloom/storyloom/internal/models"
)

func TestAnalyzeCharacters(t *testing.T) {
	t.Run("parses characters with voice normalization", func(t *testing.T) {
		var captured map[string]any
		reply := `{"characters":[` +
			`{"name":"林雪","role":"主角","importance":9,"is_main_character":"yes",` +
			`"appearance":"silver hair","personality":"冷静","voice_id":"zh-CN-XiaomoNeural","base_prompt":"swordswoman"},` +
			`{"role":"配角","importance":20,"voice_id":"曉墨"}` +
			`],"confidence":"0.9"}`
		server := chatServer(t, reply, &captured)
		defer server.Close()

		analysis, err := testClient(t, server.URL).AnalyzeCharacters(context.Background(), "我看着林雪远去的背影。", "detailed", "")
		require.NoError(t, err)
		require.Len(t, analysis.Characters, 2)

		first := analysis.Characters[0]
		assert.Equal(t, "林雪", first.Name)
		assert.Equal(t, "主角", first.Role)
		assert.Equal(t, 9, first.Importance)
		assert.True(t, first.IsMainCharacter)
		assert.Equal(t, "zh-CN-XiaomoNeural", first.SuggestedVoice)
		assert.Equal(t, "swordswoman", first.BasePrompt)

		second := analysis.Characters[1]
		assert.Equal(t, "character", second.Name)
		assert.Equal(t, "supporting", second.Role, "missing role keeps the analysis default")
		assert.Equal(t, 10, second.Importance, "importance clamps into [1, 10]")
		assert.Equal(t, "zh-CN-XiaomoNeural", second.SuggestedVoice, "catalog name resolves to id")
		assert.Equal(t, "character portrait", second.BasePrompt)

		assert.True(t, first.IsStorySelf, "first person text marks the main character as story self")
		assert.False(t, second.IsStorySelf)

		assert.InDelta(t, 0.9, analysis.Confidence, 1e-9)
		assert.Equal(t, "test-model", analysis.Model)

		messages := captured["messages"].([]any)
		prompt := messages[1].(map[string]any)["content"].(string)
		assert.Contains(t, prompt, "Output detailed fields")
		assert.Contains(t, prompt, "Allowed voice IDs:")
		assert.Contains(t, prompt, "zh-CN-XiaohanNeural")
	})

	t.Run("missing key errors", func(t *testing.T) {
		_, err := disabledClient(t).AnalyzeCharacters(context.Background(), "text", "basic", "")
		assert.ErrorIs(t, err, ErrDisabled)
	})

	t.Run("upstream error carries detail", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"message": "quota exceeded"}})
		}))
		defer server.Close()

		_, err := testClient(t, server.URL).AnalyzeCharacters(context.Background(), "text", "basic", "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "llm character analysis failed (429): quota exceeded")
	})

	t.Run("unparseable reply errors", func(t *testing.T) {
		server := chatServer(t, "no json", nil)
		defer server.Close()

		_, err := testClient(t, server.URL).AnalyzeCharacters(context.Background(), "text", "basic", "")
		assert.ErrorIs(t, err, ErrUnparseableResponse)
	})

	t.Run("empty character list errors", func(t *testing.T) {
		server := chatServer(t, `{"characters":[],"confidence":0.9}`, nil)
		defer server.Close()

		_, err := testClient(t, server.URL).AnalyzeCharacters(context.Background(), "text", "basic", "")
		assert.ErrorIs(t, err, ErrEmptyCharacters)
	})

	t.Run("confidence clamps into unit range", func(t *testing.T) {
		server := chatServer(t, `{"characters":[{"name":"阿明"}],"confidence":3.2}`, nil)
		defer server.Close()

		analysis, err := testClient(t, server.URL).AnalyzeCharacters(context.Background(), "text", "basic", "")
		require.NoError(t, err)
		assert.Equal(t, 1.0, analysis.Confidence)
	})
}

func TestNormalizeIdentityFlags(t *testing.T) {
	t.Run("keeps first of duplicate mains", func(t *testing.T) {
		characters := []models.Character{
			{Name: "a", IsMainCharacter: true},
			{Name: "b", IsMainCharacter: true},
			{Name: "c", IsMainCharacter: true},
		}
		normalizeIdentityFlags(characters, "")
		assert.True(t, characters[0].IsMainCharacter)
		assert.False(t, characters[1].IsMainCharacter)
		assert.False(t, characters[2].IsMainCharacter)
	})

	t.Run("keeps first of duplicate selves", func(t *testing.T) {
		characters := []models.Character{
			{Name: "a", IsMainCharacter: true, IsStorySelf: true},
			{Name: "b", IsStorySelf: true},
		}
		normalizeIdentityFlags(characters, "")
		assert.True(t, characters[0].IsStorySelf)
		assert.False(t, characters[1].IsStorySelf)
	})

	t.Run("promotes highest importance to main", func(t *testing.T) {
		characters := []models.Character{
			{Name: "a", Importance: 3},
			{Name: "b", Importance: 8},
			{Name: "c", Importance: 8},
		}
		normalizeIdentityFlags(characters, "")
		assert.False(t, characters[0].IsMainCharacter)
		assert.True(t, characters[1].IsMainCharacter, "ties resolve to the earlier entry")
		assert.False(t, characters[2].IsMainCharacter)
	})

	t.Run("first person story marks main as self", func(t *testing.T) {
		characters := []models.Character{{Name: "a", IsMainCharacter: true}}
		normalizeIdentityFlags(characters, "我走在回家的路上。")
		assert.True(t, characters[0].IsStorySelf)
	})

	t.Run("third person story leaves self unset", func(t *testing.T) {
		characters := []models.Character{{Name: "a", IsMainCharacter: true}}
		normalizeIdentityFlags(characters, "他走在回家的路上。")
		assert.False(t, characters[0].IsStorySelf)
	})

	t.Run("existing self survives first person promotion", func(t *testing.T) {
		characters := []models.Character{
			{Name: "a", IsMainCharacter: true},
			{Name: "b", IsStorySelf: true},
		}
		normalizeIdentityFlags(characters, "我在这里。")
		assert.False(t, characters[0].IsStorySelf)
		assert.True(t, characters[1].IsStorySelf)
	})

	t.Run("empty slice is a no-op", func(t *testing.T) {
		normalizeIdentityFlags(nil, "我")
	})
}
