package voice

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyloom/storyloom/internal/models"
)

func TestCatalog(t *testing.T) {
	voices := Catalog()
	require.Len(t, voices, 10)

	assert.Equal(t, DefaultVoiceID, voices[0].ID)

	seen := make(map[string]bool)
	for _, v := range voices {
		assert.False(t, seen[v.ID], "duplicate voice id %s", v.ID)
		seen[v.ID] = true
		assert.NotEmpty(t, v.Name)
		assert.Contains(t, []string{"male", "female"}, v.Gender)
		assert.NotEmpty(t, v.Age)
		assert.NotEmpty(t, v.Traits)
		assert.NotEmpty(t, v.SuitableFor)
	}

	v, ok := Lookup("zh-CN-XiaomoNeural")
	require.True(t, ok)
	assert.Equal(t, "曉墨", v.Name)
	assert.Contains(t, v.Description(), "冷靜")
	assert.Contains(t, v.Description(), "女劍客")

	assert.True(t, IsKnown(DefaultVoiceID))
	assert.False(t, IsKnown("zh-CN-NobodyNeural"))
}

func TestRecommend(t *testing.T) {
	tests := []struct {
		name        string
		role        string
		personality string
		want        string
	}{
		{"lively girl", "少女", "活潑可愛", "zh-CN-XiaoyiNeural"},
		{"cold female lead", "女主", "冷靜理性", "zh-CN-XiaomoNeural"},
		{"professional woman", "女強人", "專業", "zh-CN-XiaomoNeural"},
		{"gentle female lead", "女主", "溫柔", "zh-CN-XiaoxiaoNeural"},
		{"princess", "公主", "", "zh-CN-XiaoxiaoNeural"},
		{"master", "師父", "沉穩", "zh-CN-YunjianNeural"},
		{"villain", "反派", "", "zh-CN-YunjianNeural"},
		{"hot-blooded boy", "少年主角", "熱血", "zh-CN-YunyangNeural"},
		{"personality drives pick", "配角", "活力十足", "zh-CN-YunyangNeural"},
		{"default", "主角", "沉穩", DefaultVoiceID},
		{"empty", "", "", DefaultVoiceID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Recommend(tt.role, tt.personality))
		})
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name        string
		raw         string
		role        string
		personality string
		want        string
	}{
		{"exact id", "zh-CN-XiaohanNeural", "", "", "zh-CN-XiaohanNeural"},
		{"catalog name", "曉曉", "", "", "zh-CN-XiaoxiaoNeural"},
		{"narrator name", "雲希", "", "", "zh-CN-YunxiNeural"},
		{"id embedded in text", "voice: zh-cn-xiaomoneural (cold)", "", "", "zh-CN-XiaomoNeural"},
		{"garbage falls to recommendation", "robot-9000", "少女", "活潑", "zh-CN-XiaoyiNeural"},
		{"empty falls to recommendation", "", "師父", "", "zh-CN-YunjianNeural"},
		{"everything empty", "", "", "", DefaultVoiceID},
		{"whitespace only", "   ", "反派", "", "zh-CN-YunjianNeural"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.raw, tt.role, tt.personality))
		})
	}
}

func TestSanitize(t *testing.T) {
	narrator := DefaultVoiceID

	t.Run("resolves duplicate assignments", func(t *testing.T) {
		chars := []models.Character{
			{Name: "甲", Role: "女主", SuggestedVoice: "zh-CN-XiaoxiaoNeural"},
			{Name: "乙", Role: "少女", Personality: "活潑", SuggestedVoice: "zh-CN-XiaoxiaoNeural"},
			{Name: "丙", Role: "公主", SuggestedVoice: "zh-CN-XiaoxiaoNeural"},
		}
		got := Sanitize(chars, narrator)
		require.Len(t, got, 3)

		assert.Equal(t, "zh-CN-XiaoxiaoNeural", got[0].SuggestedVoice)
		assert.Equal(t, "zh-CN-XiaoyiNeural", got[1].SuggestedVoice)

		seen := make(map[string]bool)
		for _, ch := range got {
			assert.True(t, IsKnown(ch.SuggestedVoice))
			assert.NotEqual(t, narrator, ch.SuggestedVoice)
			assert.False(t, seen[ch.SuggestedVoice], "voice %s assigned twice", ch.SuggestedVoice)
			seen[ch.SuggestedVoice] = true
		}
	})

	t.Run("keeps narrator voice only when explicitly requested", func(t *testing.T) {
		chars := []models.Character{
			{Name: "旁述者", SuggestedVoice: narrator},
			{Name: "主角", Role: "主角", Personality: "沉穩"},
		}
		got := Sanitize(chars, narrator)

		assert.Equal(t, narrator, got[0].SuggestedVoice)
		// The recommendation for the second character is the narrator voice,
		// which it never asked for, so it must land elsewhere.
		assert.NotEqual(t, narrator, got[1].SuggestedVoice)
		assert.True(t, IsKnown(got[1].SuggestedVoice))
	})

	t.Run("invalid ids are replaced with catalog ids", func(t *testing.T) {
		chars := []models.Character{
			{Name: "某人", SuggestedVoice: "not-a-voice", Role: "長者"},
		}
		got := Sanitize(chars, narrator)
		assert.Equal(t, "zh-CN-YunjianNeural", got[0].SuggestedVoice)
	})

	t.Run("narrator is the last resort when the catalog is exhausted", func(t *testing.T) {
		chars := make([]models.Character, 10)
		for i := range chars {
			chars[i] = models.Character{Name: "角色", Role: "配角"}
		}
		got := Sanitize(chars, narrator)

		seen := make(map[string]int)
		for _, ch := range got {
			seen[ch.SuggestedVoice]++
		}
		// Nine non-narrator voices exist, so exactly one character falls back
		// to the narrator voice.
		assert.Len(t, seen, 10)
		assert.Equal(t, 1, seen[narrator])
	})

	t.Run("does not modify the input slice", func(t *testing.T) {
		chars := []models.Character{
			{Name: "甲", SuggestedVoice: "bogus"},
		}
		Sanitize(chars, narrator)
		assert.Equal(t, "bogus", chars[0].SuggestedVoice)
	})
}
