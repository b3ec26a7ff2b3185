// Package scenecache stores previously generated scene images keyed by a
// normalized scene descriptor, so visually equivalent segments can reuse an
// image instead of paying for a fresh generation. Reuse is strict: the
// matcher prefers generating a new image over returning a wrong one.
package scenecache

import (
	"crypto/md5"
	"encoding/hex"
	"path/filepath"
	"strings"
	"unicode"

	"golang.org/x/text/width"

	"github.com/storyloom/storyloom/internal/models"
)

// Field caps applied during descriptor normalization.
const (
	maxHintChars        = 220
	maxSegmentTextChars = 700
	maxSceneElements    = 12
	maxActionKeywords   = 10
	maxLocationKeywords = 8
	maxMoodChars        = 80
	maxShotChars        = 80

	maxActionTokens   = 24
	maxLocationTokens = 16
	maxSceneTokens    = 40
)

// DescriptorInput collects everything the prompt stage knows about a segment
// when it asks the cache for a descriptor.
type DescriptorInput struct {
	Character   *models.Character
	RelatedRefs []string
	SegmentText string
	Metadata    models.SceneMetadata
	IsSceneOnly bool
}

// BuildDescriptor normalizes the raw scene facts into the stored form.
func BuildDescriptor(in DescriptorInput) *models.SceneDescriptor {
	d := &models.SceneDescriptor{
		ActionHint:       normalizeText(in.Metadata.ActionHint, maxHintChars),
		LocationHint:     normalizeText(in.Metadata.LocationHint, maxHintChars),
		SegmentText:      normalizeText(in.SegmentText, maxSegmentTextChars),
		SceneElements:    normalizeList(in.Metadata.SceneElements, maxSceneElements),
		ActionKeywords:   normalizeList(in.Metadata.ActionKeywords, maxActionKeywords),
		LocationKeywords: normalizeList(in.Metadata.LocationKeywords, maxLocationKeywords),
		Mood:             normalizeText(in.Metadata.Mood, maxMoodChars),
		ShotType:         normalizeText(in.Metadata.ShotType, maxShotChars),
		IsSceneOnly:      in.IsSceneOnly,
	}

	var refPaths []string
	if in.Character != nil {
		d.CharacterName = normalizeText(in.Character.Name, maxHintChars)
		d.CharacterRole = normalizeText(in.Character.Role, maxHintChars)
		if in.Character.HasReferenceImage() {
			refPaths = append(refPaths, in.Character.ReferenceImagePath)
		}
	}
	refPaths = append(refPaths, in.RelatedRefs...)

	seen := make(map[string]bool, len(refPaths))
	for _, p := range refPaths {
		norm := NormalizeRefPath(p)
		if norm == "" || seen[norm] {
			continue
		}
		seen[norm] = true
		d.ReferenceImagePaths = append(d.ReferenceImagePaths, norm)
		if id := RefImageIDFromPath(norm); id != "" {
			d.ReferenceImageIDs = append(d.ReferenceImageIDs, id)
		}
	}
	d.ReferenceImageIDs = dedupe(d.ReferenceImageIDs)

	if d.CharacterName == "" && len(d.ReferenceImagePaths) == 0 {
		d.IsSceneOnly = true
	}
	return d
}

// BuildMatchProfile precomputes the lookup side of a descriptor.
func BuildMatchProfile(d *models.SceneDescriptor) *models.SceneMatchProfile {
	p := &models.SceneMatchProfile{
		SchemaVersion:       models.SceneMatchProfileSchemaVersion,
		CharacterKey:        CharacterKey(d),
		CharacterName:       d.CharacterName,
		CharacterRole:       d.CharacterRole,
		ReferenceImagePaths: d.ReferenceImagePaths,
		ReferenceImageIDs:   d.ReferenceImageIDs,
		ActionHint:          d.ActionHint,
		LocationHint:        d.LocationHint,
		SegmentText:         d.SegmentText,
		SceneElements:       d.SceneElements,
		ActionKeywords:      d.ActionKeywords,
		LocationKeywords:    d.LocationKeywords,
		Mood:                d.Mood,
		ShotType:            d.ShotType,
	}

	p.ActionTokens = tokenSet(joinText(d.ActionHint, d.ActionKeywords)+" "+d.SegmentText, maxActionTokens)
	p.LocationTokens = tokenSet(joinText(d.LocationHint, d.LocationKeywords), maxLocationTokens)
	p.SceneTokens = tokenSet(joinText(d.SegmentText, d.SceneElements)+" "+d.Mood+" "+d.ShotType, maxSceneTokens)
	p.SceneSummary = sceneSummary(d)
	return p
}

// CharacterKey derives the stable character identity key: the md5 hex prefix
// of the first reference image id, else the first reference path, else the
// normalized character name. Scene-only descriptors get an empty key.
func CharacterKey(d *models.SceneDescriptor) string {
	var seed string
	switch {
	case len(d.ReferenceImageIDs) > 0:
		seed = d.ReferenceImageIDs[0]
	case len(d.ReferenceImagePaths) > 0:
		seed = d.ReferenceImagePaths[0]
	default:
		seed = strings.ToLower(strings.TrimSpace(d.CharacterName))
	}
	if seed == "" {
		return ""
	}
	sum := md5.Sum([]byte(seed))
	return hex.EncodeToString(sum[:])[:16]
}

// NormalizeRefPath canonicalizes a reference image path: forward slashes,
// trimmed, lowercase.
func NormalizeRefPath(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	return strings.ToLower(strings.ReplaceAll(path, "\\", "/"))
}

// RefImageIDFromPath derives the reference image id from the basename suffix
// after the last underscore, without the extension. Paths whose basename has
// no underscore yield the whole stem. Upload paths like
// "refs/ref_林若雪_a1b2c3d4.png" therefore keep a stable id across renames of
// the leading parts.
func RefImageIDFromPath(path string) string {
	base := filepath.Base(NormalizeRefPath(path))
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" || stem == "." {
		return ""
	}
	if i := strings.LastIndex(stem, "_"); i >= 0 {
		stem = stem[i+1:]
	}
	return strings.ToLower(strings.TrimSpace(stem))
}

// normalizeText lowercases, collapses whitespace and truncates to limit runes.
func normalizeText(s string, limit int) string {
	s = strings.ToLower(strings.Join(strings.Fields(s), " "))
	runes := []rune(s)
	if limit > 0 && len(runes) > limit {
		return string(runes[:limit])
	}
	return s
}

// normalizeList normalizes each item, drops empties and duplicates, and caps
// the list length.
func normalizeList(items []string, limit int) []string {
	var out []string
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		norm := normalizeText(item, maxHintChars)
		if norm == "" || seen[norm] {
			continue
		}
		seen[norm] = true
		out = append(out, norm)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// tokenSet splits text into an ordered set of comparison tokens. ASCII and
// other alphabetic runs become word tokens when at least two characters long;
// Han runs additionally contribute overlapping two-character tokens so short
// Chinese phrases still produce comparable units. Full-width forms are folded
// to their narrow equivalents first.
func tokenSet(text string, limit int) []string {
	text = width.Narrow.String(strings.ToLower(text))

	var tokens []string
	seen := make(map[string]bool)
	add := func(tok string) bool {
		if tok == "" || seen[tok] {
			return len(tokens) < limit
		}
		seen[tok] = true
		tokens = append(tokens, tok)
		return len(tokens) < limit
	}

	for _, run := range splitRuns(text) {
		if run.han {
			runes := []rune(run.text)
			if len(runes) >= 2 {
				if !add(run.text) {
					return tokens
				}
				for i := 0; i+2 <= len(runes); i++ {
					if !add(string(runes[i : i+2])) {
						return tokens
					}
				}
			}
			continue
		}
		if len([]rune(run.text)) >= 2 {
			if !add(run.text) {
				return tokens
			}
		}
	}
	return tokens
}

// textRun is one homogeneous run of token characters.
type textRun struct {
	text string
	han  bool
}

// splitRuns breaks text on anything that is not a word character or a Han
// rune, keeping Han and non-Han runs separate.
func splitRuns(text string) []textRun {
	var runs []textRun
	var current []rune
	currentHan := false

	flush := func() {
		if len(current) > 0 {
			runs = append(runs, textRun{text: string(current), han: currentHan})
			current = current[:0]
		}
	}

	for _, r := range text {
		isHan := unicode.Is(unicode.Han, r)
		isWord := r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
		if !isHan && !isWord {
			flush()
			continue
		}
		if len(current) > 0 && isHan != currentHan {
			flush()
		}
		currentHan = isHan
		current = append(current, r)
	}
	flush()
	return runs
}

// joinText merges a hint with its keyword list for tokenization.
func joinText(hint string, keywords []string) string {
	if len(keywords) == 0 {
		return hint
	}
	return hint + " " + strings.Join(keywords, " ")
}

// sceneSummary builds the "location | action" display summary, falling back
// to the segment excerpt.
func sceneSummary(d *models.SceneDescriptor) string {
	var parts []string
	if d.LocationHint != "" {
		parts = append(parts, d.LocationHint)
	}
	if d.ActionHint != "" {
		parts = append(parts, d.ActionHint)
	}
	summary := strings.Join(parts, " | ")
	if summary == "" {
		summary = d.SegmentText
	}
	return normalizeText(summary, maxHintChars)
}

// dedupe removes duplicates while preserving order.
func dedupe(items []string) []string {
	if len(items) < 2 {
		return items
	}
	seen := make(map[string]bool, len(items))
	out := items[:0]
	for _, item := range items {
		if item == "" || seen[item] {
			continue
		}
		seen[item] = true
		out = append(out, item)
	}
	return out
}
