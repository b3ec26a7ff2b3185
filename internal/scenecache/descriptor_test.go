package scenecache

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyloom/storyloom/internal/models"
)

func TestBuildDescriptorNormalization(t *testing.T) {
	char := &models.Character{
		Name:               "林若雪",
		Role:               "主角",
		ReferenceImagePath: `C:\Uploads\Refs\ref_林若雪_A1B2C3D4.PNG`,
	}
	in := DescriptorInput{
		Character:   char,
		SegmentText: "  她  推开   木门。 " + strings.Repeat("长", 800),
		Metadata: models.SceneMetadata{
			ActionHint:     "  Pushing  OPEN the Wooden DOOR " + strings.Repeat("x", 300),
			LocationHint:   "Old Courtyard",
			SceneElements:  append([]string{"door", "DOOR", "lantern"}, make([]string, 0)...),
			ActionKeywords: []string{"push", "open", "door", "push"},
			Mood:           "Tense",
			ShotType:       "Medium Shot",
		},
	}

	d := BuildDescriptor(in)
	assert.Equal(t, "林若雪", d.CharacterName)
	assert.Len(t, []rune(d.ActionHint), maxHintChars)
	assert.Len(t, []rune(d.SegmentText), maxSegmentTextChars)
	assert.Equal(t, []string{"door", "lantern"}, d.SceneElements)
	assert.Equal(t, []string{"push", "open", "door"}, d.ActionKeywords)
	assert.Equal(t, "tense", d.Mood)
	assert.False(t, d.IsSceneOnly)

	require.Len(t, d.ReferenceImagePaths, 1)
	assert.Equal(t, "c:/uploads/refs/ref_林若雪_a1b2c3d4.png", d.ReferenceImagePaths[0])
	require.Len(t, d.ReferenceImageIDs, 1)
	assert.Equal(t, "a1b2c3d4", d.ReferenceImageIDs[0])
}

func TestBuildDescriptorSceneOnlyWithoutCharacter(t *testing.T) {
	d := BuildDescriptor(DescriptorInput{
		SegmentText: "暴雨倾盆的街道",
		Metadata:    models.SceneMetadata{ActionHint: "rain falling"},
	})
	assert.True(t, d.IsSceneOnly)
	assert.Empty(t, CharacterKey(d))
}

func TestRefImageIDFromPath(t *testing.T) {
	assert.Equal(t, "a1b2c3d4", RefImageIDFromPath("refs/ref_林若雪_a1b2c3d4.png"))
	assert.Equal(t, "portrait", RefImageIDFromPath("refs/portrait.jpg"))
	assert.Equal(t, "", RefImageIDFromPath(""))
}

func TestCharacterKeyPrefersReferenceID(t *testing.T) {
	withRef := &models.SceneDescriptor{
		CharacterName:       "林若雪",
		ReferenceImagePaths: []string{"refs/ref_a_xyz.png"},
		ReferenceImageIDs:   []string{"xyz"},
	}
	renamed := &models.SceneDescriptor{
		CharacterName:       "别名",
		ReferenceImagePaths: []string{"other/dir/ref_b_xyz.png"},
		ReferenceImageIDs:   []string{"xyz"},
	}
	nameOnly := &models.SceneDescriptor{CharacterName: "林若雪"}

	assert.Equal(t, CharacterKey(withRef), CharacterKey(renamed))
	assert.NotEqual(t, CharacterKey(withRef), CharacterKey(nameOnly))
	assert.Len(t, CharacterKey(nameOnly), 16)
}

func TestTokenSet(t *testing.T) {
	t.Run("ascii words need two chars", func(t *testing.T) {
		tokens := tokenSet("a push open the door", 10)
		assert.Equal(t, []string{"push", "open", "the", "door"}, tokens)
	})

	t.Run("han runs emit run and bigrams", func(t *testing.T) {
		tokens := tokenSet("拔剑而起", 10)
		assert.Equal(t, []string{"拔剑而起", "拔剑", "剑而", "而起"}, tokens)
	})

	t.Run("full width folds to ascii", func(t *testing.T) {
		tokens := tokenSet("ｄｏｏｒ", 10)
		assert.Equal(t, []string{"door"}, tokens)
	})

	t.Run("limit caps the set", func(t *testing.T) {
		tokens := tokenSet("one two three four five", 3)
		assert.Len(t, tokens, 3)
	})
}

func TestBuildMatchProfile(t *testing.T) {
	d := &models.SceneDescriptor{
		CharacterName:  "林若雪",
		ActionHint:     "pushing open the wooden door",
		LocationHint:   "old courtyard",
		SegmentText:    "她推开木门，走进院子。",
		SceneElements:  []string{"door", "courtyard"},
		ActionKeywords: []string{"push", "open"},
		Mood:           "tense",
		ShotType:       "wide shot",
	}
	p := BuildMatchProfile(d)

	assert.Equal(t, models.SceneMatchProfileSchemaVersion, p.SchemaVersion)
	assert.NotEmpty(t, p.CharacterKey)
	assert.Contains(t, p.ActionTokens, "push")
	// Segment text feeds the action pool alongside the hint and keywords.
	assert.Contains(t, p.ActionTokens, "推开")
	assert.Contains(t, p.LocationTokens, "courtyard")
	assert.Contains(t, p.SceneTokens, "推开")
	// Mood and shot type feed the scene pool.
	assert.Contains(t, p.SceneTokens, "tense")
	assert.Contains(t, p.SceneTokens, "wide")
	assert.Equal(t, "old courtyard | pushing open the wooden door", p.SceneSummary)
	assert.LessOrEqual(t, len(p.ActionTokens), maxActionTokens)
	assert.LessOrEqual(t, len(p.SceneTokens), maxSceneTokens)
}
