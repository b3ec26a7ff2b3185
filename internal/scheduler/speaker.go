package scheduler

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/storyloom/storyloom/internal/models"
)

// speakerVerbs are the dialogue attribution markers scanned for right after
// a character name.
var speakerVerbs = []string{"说", "道", "喊", "问", "答", "笑道", "叫", "哭", "骂", "低声", ":", "："}

// firstPersonMarkers flag first-person narration outside quotes.
var firstPersonMarkers = []string{"我", "我们", "俺", "吾"}

// carryOverDialogueRatio is the share of quoted text above which a segment
// counts as predominantly dialogue and inherits the previous speaker.
const carryOverDialogueRatio = 0.5

// SpeakerInput carries the context for one speaker decision.
type SpeakerInput struct {
	// Current is the segment being rendered.
	Current string
	// Previous and Next give adjacent narrative context.
	Previous string
	Next     string
	// Characters is the job's character list; indexes are the vocabulary.
	Characters []models.Character
	// PreviousIndex is the previous segment's speaker, -1 when unknown.
	PreviousIndex int
}

// PickSpeaker chooses the default speaking character for a segment. The
// rules fire in order: explicit name mentions in the current segment,
// speaker-verb proximity when several names appear, first-person story-self
// narration, carry-over for dialogue-heavy segments, and finally a weighted
// score over the current and adjacent segments. Returns -1 when nothing
// identifies a speaker; related lists the other mentioned characters.
func PickSpeaker(in SpeakerInput) (primary int, related []int) {
	if len(in.Characters) == 0 {
		return -1, nil
	}

	mentions := nameMentions(in.Current, in.Characters)
	primary = pickFromMentions(in.Current, in.Characters, mentions)

	if primary < 0 {
		primary = pickStorySelf(in.Current, in.Characters)
	}
	if primary < 0 && in.PreviousIndex >= 0 && in.PreviousIndex < len(in.Characters) &&
		dialogueRatio(in.Current) >= carryOverDialogueRatio {
		primary = in.PreviousIndex
	}
	if primary < 0 {
		primary = pickWeighted(in)
	}

	for _, m := range mentions {
		if m.index != primary {
			related = append(related, m.index)
		}
		if len(related) == maxReferenceImages {
			break
		}
	}
	return primary, related
}

type mention struct {
	index    int
	position int
}

// nameMentions lists characters whose name appears in the text, ordered by
// first occurrence.
func nameMentions(text string, characters []models.Character) []mention {
	var mentions []mention
	for i, ch := range characters {
		name := strings.TrimSpace(ch.Name)
		if name == "" {
			continue
		}
		if pos := strings.Index(text, name); pos >= 0 {
			mentions = append(mentions, mention{index: i, position: pos})
		}
	}
	sort.SliceStable(mentions, func(a, b int) bool {
		return mentions[a].position < mentions[b].position
	})
	return mentions
}

// pickFromMentions resolves a speaker among the mentioned characters: a sole
// mention wins directly, several mentions prefer a name followed by a
// speaker verb, then the earliest position, then importance.
func pickFromMentions(text string, characters []models.Character, mentions []mention) int {
	switch len(mentions) {
	case 0:
		return -1
	case 1:
		return mentions[0].index
	}

	best := -1
	bestPos := -1
	for _, m := range mentions {
		pos := verbProximity(text, characters[m.index].Name)
		if pos < 0 {
			continue
		}
		if best < 0 || pos < bestPos {
			best = m.index
			bestPos = pos
		}
	}
	if best >= 0 {
		return best
	}

	best = mentions[0].index
	for _, m := range mentions[1:] {
		if m.position == mentions[0].position &&
			characters[m.index].Importance > characters[best].Importance {
			best = m.index
		}
	}
	return best
}

// verbProximity returns the position of the first occurrence of name that is
// immediately followed by a speaker verb, or -1.
func verbProximity(text, name string) int {
	name = strings.TrimSpace(name)
	if name == "" {
		return -1
	}
	offset := 0
	for {
		pos := strings.Index(text[offset:], name)
		if pos < 0 {
			return -1
		}
		abs := offset + pos
		tail := text[abs+len(name):]
		for _, verb := range speakerVerbs {
			if strings.HasPrefix(tail, verb) {
				return abs
			}
		}
		offset = abs + len(name)
	}
}

// pickStorySelf returns the story-self character when the narration outside
// quotes speaks in first person.
func pickStorySelf(text string, characters []models.Character) int {
	selfIdx := -1
	for i, ch := range characters {
		if ch.IsStorySelf {
			selfIdx = i
			break
		}
	}
	if selfIdx < 0 {
		return -1
	}
	narration := stripQuoted(text)
	for _, marker := range firstPersonMarkers {
		if strings.Contains(narration, marker) {
			return selfIdx
		}
	}
	return -1
}

// pickWeighted scores every character over the current and adjacent
// segments: current mentions weigh triple, adjacent single, importance adds
// a fraction, and the previous speaker gets a bonus when the segment leans
// dialogue. Returns -1 when nothing scores.
func pickWeighted(in SpeakerInput) int {
	best := -1
	bestScore := 0.0
	dialogueHeavy := dialogueRatio(in.Current) >= carryOverDialogueRatio

	for i, ch := range in.Characters {
		name := strings.TrimSpace(ch.Name)
		if name == "" {
			continue
		}
		score := 3.0*float64(strings.Count(in.Current, name)) +
			float64(strings.Count(in.Previous, name)) +
			float64(strings.Count(in.Next, name))
		if score == 0 {
			continue
		}
		score += float64(ch.Importance) / 10.0
		if dialogueHeavy && i == in.PreviousIndex {
			score += 2.0
		}
		if score > bestScore {
			best = i
			bestScore = score
		}
	}
	return best
}

// dialogueRatio measures the share of runes inside paired quotes.
func dialogueRatio(text string) float64 {
	total := utf8.RuneCountInString(text)
	if total == 0 {
		return 0
	}
	quoted := 0
	inQuote := false
	for _, r := range text {
		switch r {
		case '"':
			inQuote = !inQuote
			continue
		case '“': // left CJK quote
			inQuote = true
			continue
		case '”': // right CJK quote
			inQuote = false
			continue
		}
		if inQuote {
			quoted++
		}
	}
	return float64(quoted) / float64(total)
}

// stripQuoted removes everything inside paired quotes, leaving narration.
func stripQuoted(text string) string {
	var sb strings.Builder
	inQuote := false
	for _, r := range text {
		switch r {
		case '"':
			inQuote = !inQuote
			continue
		case '“':
			inQuote = true
			continue
		case '”':
			inQuote = false
			continue
		}
		if !inQuote {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// noRepeatRing remembers the most recent reused cache entry ids so strict
// lookups cannot return the same image for consecutive segments. A window of
// zero disables the ring.
type noRepeatRing struct {
	window int
	ids    []int64
}

func newNoRepeatRing(window int) *noRepeatRing {
	if window < 0 {
		window = 0
	}
	return &noRepeatRing{window: window}
}

// Add records a reused entry id, evicting the oldest beyond the window.
func (r *noRepeatRing) Add(id int64) {
	if r.window == 0 || id <= 0 {
		return
	}
	r.ids = append(r.ids, id)
	if len(r.ids) > r.window {
		r.ids = r.ids[len(r.ids)-r.window:]
	}
}

// IDs snapshots the currently blocked entry ids.
func (r *noRepeatRing) IDs() []int64 {
	if len(r.ids) == 0 {
		return nil
	}
	out := make([]int64, len(r.ids))
	copy(out, r.ids)
	return out
}
