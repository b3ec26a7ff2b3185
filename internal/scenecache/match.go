package scenecache

import (
	"sort"
	"strings"

	"github.com/storyloom/storyloom/internal/models"
)

// matchDetails holds everything the verdict, ranking and precheck stages need
// about one target/candidate profile pair.
type matchDetails struct {
	CharacterMatch     bool
	BothSceneOnly      bool
	ExactAction        bool
	ActionContains     bool
	ExactLocation      bool
	LocationContains   bool
	LocationApplicable bool
	LocationTextSame   bool
	ActionCommon       int
	LocationCommon     int
	SceneCommon        int
	SceneElementCommon int
}

// Verdict reports whether the candidate is even admissible: same character,
// a matching action (exact, substring, or two shared tokens), compatible
// location when both sides name one, and scene overlap unless the action
// already matched.
func (m matchDetails) Verdict() bool {
	if !m.CharacterMatch {
		return false
	}
	actionMatch := m.ExactAction || m.ActionContains || m.ActionCommon >= 2
	if !actionMatch {
		return false
	}
	if m.LocationApplicable && !m.ExactLocation && !m.LocationContains && m.LocationCommon < 1 {
		return false
	}
	return m.SceneCommon >= 2 || m.SceneElementCommon >= 1 || actionMatch
}

// Rank orders admissible candidates: action overlap dominates, then location,
// then general scene overlap.
func (m matchDetails) Rank() int {
	return m.ActionCommon*100 + m.LocationCommon*10 + m.SceneCommon
}

// LenientRank is the relaxed ordering used by the forced LLM selection path.
// Character identity earns a large bonus so same-face candidates always sort
// ahead of scene-only ones.
func (m matchDetails) LenientRank() int {
	rank := m.ActionCommon*100 + m.LocationCommon*20 + m.SceneCommon
	if m.CharacterMatch && !m.BothSceneOnly {
		rank += 1000
	}
	return rank
}

// PassesPrecheck gates candidates before the strict LLM selector is asked:
// the action must match exactly or overlap heavily, and the scene must share
// tokens or elements. Weak candidates never reach the selector.
func (m matchDetails) PassesPrecheck() bool {
	if !m.ExactAction && m.ActionCommon < 3 {
		return false
	}
	return m.SceneCommon >= 2 || m.SceneElementCommon >= 1
}

// TextExact reports a byte-equal action and location with matching character,
// the highest-confidence reuse short circuit. Locations count as the same
// text only when both are empty or both carry the identical hint.
func (m matchDetails) TextExact() bool {
	return m.CharacterMatch && m.ExactAction && m.LocationTextSame
}

// compareProfiles computes the full match detail set for a candidate.
func compareProfiles(target, candidate *models.SceneMatchProfile) matchDetails {
	d := matchDetails{}

	targetSceneOnly := target.CharacterKey == ""
	candidateSceneOnly := candidate.CharacterKey == ""
	d.BothSceneOnly = targetSceneOnly && candidateSceneOnly

	switch {
	case d.BothSceneOnly:
		d.CharacterMatch = true
	case overlaps(target.ReferenceImageIDs, candidate.ReferenceImageIDs):
		d.CharacterMatch = true
	case overlaps(target.ReferenceImagePaths, candidate.ReferenceImagePaths):
		d.CharacterMatch = true
	case target.CharacterKey != "" && target.CharacterKey == candidate.CharacterKey:
		d.CharacterMatch = true
	}

	d.ExactAction = target.ActionHint != "" && target.ActionHint == candidate.ActionHint
	d.ActionContains = containsEither(target.ActionHint, candidate.ActionHint, 8)
	d.LocationApplicable = target.LocationHint != "" && candidate.LocationHint != ""
	d.ExactLocation = d.LocationApplicable && target.LocationHint == candidate.LocationHint
	d.LocationContains = containsEither(target.LocationHint, candidate.LocationHint, 6)
	d.LocationTextSame = target.LocationHint == candidate.LocationHint

	d.ActionCommon = commonCount(target.ActionTokens, candidate.ActionTokens)
	d.LocationCommon = commonCount(target.LocationTokens, candidate.LocationTokens)
	d.SceneCommon = commonCount(target.SceneTokens, candidate.SceneTokens)
	d.SceneElementCommon = commonCount(target.SceneElements, candidate.SceneElements)
	return d
}

// scoredCandidate ties an entry to its decoded profile and match details.
type scoredCandidate struct {
	Entry   *models.SceneEntry
	Profile *models.SceneMatchProfile
	Details matchDetails
}

// rankCandidates sorts candidates by rank descending, newest first on ties.
func rankCandidates(candidates []scoredCandidate, lenient bool) {
	sort.SliceStable(candidates, func(i, j int) bool {
		var ri, rj int
		if lenient {
			ri, rj = candidates[i].Details.LenientRank(), candidates[j].Details.LenientRank()
		} else {
			ri, rj = candidates[i].Details.Rank(), candidates[j].Details.Rank()
		}
		if ri != rj {
			return ri > rj
		}
		return candidates[i].Entry.CreatedAt.After(candidates[j].Entry.CreatedAt)
	})
}

// containsEither reports whether one hint contains the other; the contained
// hint must be at least minRunes runes long.
func containsEither(a, b string, minRunes int) bool {
	if a == "" || b == "" {
		return false
	}
	if len([]rune(a)) >= minRunes && strings.Contains(b, a) {
		return true
	}
	return len([]rune(b)) >= minRunes && strings.Contains(a, b)
}

// overlaps reports whether the two string sets share any element.
func overlaps(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	set := make(map[string]bool, len(a))
	for _, v := range a {
		if v != "" {
			set[v] = true
		}
	}
	for _, v := range b {
		if set[v] {
			return true
		}
	}
	return false
}

// commonCount counts elements present in both sets.
func commonCount(a, b []string) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	set := make(map[string]bool, len(a))
	for _, v := range a {
		if v != "" {
			set[v] = true
		}
	}
	count := 0
	for _, v := range b {
		if set[v] {
			count++
			set[v] = false
		}
	}
	return count
}
