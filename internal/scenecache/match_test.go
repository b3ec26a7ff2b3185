package scenecache

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/storyloom/storyloom/internal/models"
)

func matchProfile(action, location string, actionTokens, sceneTokens, elements []string) *models.SceneMatchProfile {
	return &models.SceneMatchProfile{
		CharacterKey:  "a1b2c3d4e5f60718",
		ActionHint:    action,
		LocationHint:  location,
		ActionTokens:  actionTokens,
		SceneTokens:   sceneTokens,
		SceneElements: elements,
	}
}

func TestVerdict(t *testing.T) {
	t.Run("exact action admits with empty token sets", func(t *testing.T) {
		target := matchProfile("pushing open the door", "", nil, nil, nil)
		candidate := matchProfile("pushing open the door", "", nil, nil, nil)
		assert.True(t, compareProfiles(target, candidate).Verdict())
	})

	t.Run("one shared action token is not enough", func(t *testing.T) {
		target := matchProfile("opening the door", "", []string{"open", "door"}, nil, nil)
		candidate := matchProfile("door slams shut", "", []string{"door", "slam", "shut"}, nil, nil)
		assert.False(t, compareProfiles(target, candidate).Verdict())
	})

	t.Run("two shared action tokens admit", func(t *testing.T) {
		target := matchProfile("opening the door", "", []string{"open", "door", "slowly"}, nil, nil)
		candidate := matchProfile("the door opens", "", []string{"open", "door", "creak"}, nil, nil)
		assert.True(t, compareProfiles(target, candidate).Verdict())
	})

	t.Run("long contained action admits", func(t *testing.T) {
		target := matchProfile("raising the sword", "", nil, nil, nil)
		candidate := matchProfile("slowly raising the sword overhead", "", nil, nil, nil)
		assert.True(t, compareProfiles(target, candidate).Verdict())
	})

	t.Run("short contained action does not admit", func(t *testing.T) {
		target := matchProfile("door", "", nil, nil, nil)
		candidate := matchProfile("open the door", "", nil, nil, nil)
		assert.False(t, compareProfiles(target, candidate).Verdict())
	})

	t.Run("disjoint locations reject", func(t *testing.T) {
		target := matchProfile("pushing open the door", "old courtyard", nil, nil, nil)
		candidate := matchProfile("pushing open the door", "throne room", nil, nil, nil)
		assert.False(t, compareProfiles(target, candidate).Verdict())
	})

	t.Run("contained location admits", func(t *testing.T) {
		target := matchProfile("pushing open the door", "courtyard", nil, nil, nil)
		candidate := matchProfile("pushing open the door", "old courtyard", nil, nil, nil)
		assert.True(t, compareProfiles(target, candidate).Verdict())
	})

	t.Run("one shared location token admits", func(t *testing.T) {
		target := matchProfile("pushing open the door", "courtyard gate",
			nil, nil, nil)
		target.LocationTokens = []string{"courtyard", "gate"}
		candidate := matchProfile("pushing open the door", "courtyard wall", nil, nil, nil)
		candidate.LocationTokens = []string{"courtyard", "wall"}
		assert.True(t, compareProfiles(target, candidate).Verdict())
	})

	t.Run("different character rejects everything", func(t *testing.T) {
		target := matchProfile("pushing open the door", "", nil, nil, nil)
		candidate := matchProfile("pushing open the door", "", nil, nil, nil)
		candidate.CharacterKey = "ffff0000ffff0000"
		assert.False(t, compareProfiles(target, candidate).Verdict())
	})
}

func TestTextExact(t *testing.T) {
	t.Run("equal action and location", func(t *testing.T) {
		target := matchProfile("pushing open the door", "old courtyard", nil, nil, nil)
		candidate := matchProfile("pushing open the door", "old courtyard", nil, nil, nil)
		assert.True(t, compareProfiles(target, candidate).TextExact())
	})

	t.Run("both locations empty", func(t *testing.T) {
		target := matchProfile("pushing open the door", "", nil, nil, nil)
		candidate := matchProfile("pushing open the door", "", nil, nil, nil)
		assert.True(t, compareProfiles(target, candidate).TextExact())
	})

	t.Run("location on one side only is not exact", func(t *testing.T) {
		target := matchProfile("pushing open the door", "old courtyard", nil, nil, nil)
		candidate := matchProfile("pushing open the door", "", nil, nil, nil)
		assert.False(t, compareProfiles(target, candidate).TextExact())
	})
}
