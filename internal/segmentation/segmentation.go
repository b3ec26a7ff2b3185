// Package segmentation turns long-form prose into the ordered segment vector
// a job renders from. Splitting and grouping are deterministic; only the
// smart method consults a language model, and it degrades to sentence
// grouping when the model call fails.
package segmentation

import (
	"context"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/storyloom/storyloom/internal/models"
)

// smartFallbackGroupSize is the sentence run length used when the smart
// method cannot get a usable answer from the model.
const smartFallbackGroupSize = 5

var (
	// headingPattern matches chapter marker lines like "# 12（34 句）" that
	// novel exports interleave with the prose.
	headingPattern = regexp.MustCompile(`^\s*#\s*\d+\s*[（(]\s*\d+\s*句\s*[）)]\s*$`)

	// spaceRunPattern collapses horizontal whitespace runs.
	spaceRunPattern = regexp.MustCompile(`[ \t\f\v]+`)
)

var sentenceDelimiters = map[rune]bool{
	'。': true,
	'！': true,
	'？': true,
	'；': true,
	'.': true,
	'!': true,
	'?': true,
	';': true,
}

var clauseDelimiters = map[rune]bool{
	'，': true,
	',': true,
}

var openingMarks = map[rune]bool{
	'【': true,
	'「': true,
	'『': true,
	'“': true,
	'‘': true,
	'（': true,
	'(': true,
	'[': true,
	'{': true,
	'"': true,
	'\'': true,
}

var closingMarks = map[rune]bool{
	'】': true,
	']': true,
	'）': true,
	')': true,
	'」': true,
	'』': true,
	'”': true,
	'’': true,
	'}': true,
	'"': true,
	'\'': true,
}

// NormalizeText prepares prose for splitting: NFC-normalize, drop chapter
// marker lines, collapse whitespace runs, and merge the remaining lines into
// one stream.
func NormalizeText(text string) string {
	raw := norm.NFC.String(text)
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	raw = strings.ReplaceAll(raw, "\r", "\n")

	var kept []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(spaceRunPattern.ReplaceAllString(line, " "))
		if line == "" || headingPattern.MatchString(line) {
			continue
		}
		kept = append(kept, line)
	}

	merged := strings.Join(kept, " ")
	merged = spaceRunPattern.ReplaceAllString(merged, " ")
	return strings.TrimSpace(merged)
}

// SplitSentences splits text into sentences at sentence-ending and clause
// punctuation. Runs of delimiters, decimal points, damaged "??" runs, and
// delimiters directly followed by an opening quote never split; trailing
// closing quotes attach to the sentence they close.
func SplitSentences(text string) []string {
	clean := NormalizeText(text)
	if clean == "" {
		return nil
	}
	return splitClean(clean, true)
}

// SplitSentencesLoose splits only at sentence-ending punctuation, keeping
// comma-joined clauses together. Speech synthesis uses it where larger
// spoken units sound more natural.
func SplitSentencesLoose(text string) []string {
	clean := NormalizeText(text)
	if clean == "" {
		return nil
	}
	return splitClean(clean, false)
}

// CountSentences returns the number of sentences SplitSentences would yield.
func CountSentences(text string) int {
	return len(SplitSentences(text))
}

// splitClean walks the normalized text rune by rune. clauseSplit adds comma
// delimiters and the opening-quote guard on top of the base rules.
func splitClean(clean string, clauseSplit bool) []string {
	runes := []rune(clean)
	length := len(runes)

	var sentences []string
	var buffer []rune

	flush := func() {
		candidate := strings.TrimSpace(string(buffer))
		if candidate != "" {
			sentences = append(sentences, candidate)
		}
		buffer = buffer[:0]
	}

	isDelimiter := func(r rune) bool {
		if sentenceDelimiters[r] {
			return true
		}
		return clauseSplit && clauseDelimiters[r]
	}

	index := 0
	for index < length {
		char := runes[index]
		buffer = append(buffer, char)

		if !isDelimiter(char) {
			index++
			continue
		}

		var prev, next rune
		if index > 0 {
			prev = runes[index-1]
		}
		if index+1 < length {
			next = runes[index+1]
		}

		// A delimiter run stays together
		if isDelimiter(next) {
			index++
			continue
		}
		// Quoted speech opening right after the delimiter belongs to it
		if clauseSplit && openingMarks[next] {
			index++
			continue
		}
		// Decimal point
		if char == '.' && unicode.IsDigit(prev) && unicode.IsDigit(next) {
			index++
			continue
		}
		// Damaged-encoding question mark run
		if char == '?' && prev == '?' {
			index++
			continue
		}

		tail := index + 1
		for tail < length && closingMarks[runes[tail]] {
			buffer = append(buffer, runes[tail])
			tail++
		}
		flush()
		index = tail
	}

	flush()
	return sentences
}

// GroupSentences joins sentences into runs of perSegment, keeping order.
func GroupSentences(sentences []string, perSegment int) []string {
	count := perSegment
	if count < 1 {
		count = 1
	}

	var grouped []string
	for start := 0; start < len(sentences); start += count {
		end := start + count
		if end > len(sentences) {
			end = len(sentences)
		}
		grouped = append(grouped, strings.Join(sentences[start:end], ""))
	}
	return grouped
}

// FixedSlices cuts the normalized text every size code points. Zero size
// selects the default; sizes below the minimum are raised to it.
func FixedSlices(text string, size int) []string {
	clean := NormalizeText(text)
	if clean == "" {
		return nil
	}

	size = clampFixedSize(size)
	runes := []rune(clean)

	var out []string
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
	}
	return out
}

// CleanSegments trims each segment and drops empties.
func CleanSegments(items []string) []string {
	var cleaned []string
	for _, item := range items {
		if text := strings.TrimSpace(item); text != "" {
			cleaned = append(cleaned, text)
		}
	}
	return cleaned
}

// SmartSegmenter produces model-grouped segments for the smart method.
type SmartSegmenter interface {
	SegmentSmart(ctx context.Context, text, modelID string) ([]string, error)
}

// Plan is the segmentation outcome for one request.
type Plan struct {
	// Segments is the ordered segment vector.
	Segments []string

	// TotalSentences is the sentence count behind the plan; zero for the
	// fixed and smart methods.
	TotalSentences int

	// RequestSignature fingerprints the request that produced this plan.
	RequestSignature string
}

// PlanRequest carries the segmentation parameters of one job request.
type PlanRequest struct {
	Text                string
	Method              string
	SentencesPerSegment int
	FixedSize           int
	ModelID             string
}

// BuildPlan computes the segment vector for one request. Unknown methods
// fall back to sentence grouping; the smart method degrades to fixed runs of
// five sentences when the segmenter fails or returns nothing.
func BuildPlan(ctx context.Context, smart SmartSegmenter, req PlanRequest) *Plan {
	method := req.Method
	switch method {
	case models.SegmentMethodSentence, models.SegmentMethodFixed, models.SegmentMethodSmart:
	default:
		method = models.SegmentMethodSentence
	}

	signature := Signature(SignatureInput{
		Text:                req.Text,
		Method:              method,
		SentencesPerSegment: req.SentencesPerSegment,
		FixedSize:           req.FixedSize,
		ModelID:             req.ModelID,
	})

	switch method {
	case models.SegmentMethodFixed:
		return &Plan{
			Segments:         FixedSlices(req.Text, req.FixedSize),
			RequestSignature: signature,
		}
	case models.SegmentMethodSmart:
		return &Plan{
			Segments:         smartSegments(ctx, smart, req.Text, req.ModelID),
			RequestSignature: signature,
		}
	default:
		sentences := SplitSentences(req.Text)
		return &Plan{
			Segments:         GroupSentences(sentences, req.SentencesPerSegment),
			TotalSentences:   len(sentences),
			RequestSignature: signature,
		}
	}
}

func smartSegments(ctx context.Context, smart SmartSegmenter, text, modelID string) []string {
	clean := NormalizeText(text)
	if clean == "" {
		return nil
	}

	if smart != nil {
		segments, err := smart.SegmentSmart(ctx, clean, modelID)
		if err == nil {
			if cleaned := CleanSegments(segments); len(cleaned) > 0 {
				return cleaned
			}
		}
	}

	return GroupSentences(splitClean(clean, true), smartFallbackGroupSize)
}

func clampFixedSize(v int) int {
	if v == 0 {
		v = models.DefaultFixedSegmentSize
	}
	if v < models.MinFixedSegmentSize {
		return models.MinFixedSegmentSize
	}
	return v
}

func clampPerSegment(v int) int {
	if v < 1 {
		return 1
	}
	return v
}
