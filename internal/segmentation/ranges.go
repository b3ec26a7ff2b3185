package segmentation

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/storyloom/storyloom/internal/models"
)

// rangeNormalizer maps full-width punctuation accepted in range specs onto
// the ASCII forms the parser works with.
var rangeNormalizer = strings.NewReplacer(
	"，", ",",
	"－", "-",
	"～", "-",
	"　", " ",
)

// ParseSegmentRange parses a 1-based selection spec like "3", "1-5" or
// "2,4-6" against total segments and returns the selected 0-based indexes in
// ascending order. A lone number means "the first N segments". Upper bounds
// beyond total are clipped and reversed ranges are accepted. A nil result
// with nil error means no selection was requested.
func ParseSegmentRange(spec string, total int) ([]int, error) {
	normalized := strings.TrimSpace(rangeNormalizer.Replace(spec))
	if normalized == "" {
		return nil, nil
	}

	// A lone number selects the first N segments
	if n, err := strconv.Atoi(normalized); err == nil {
		if n < 1 {
			return nil, fmt.Errorf("%w: %q", models.ErrInvalidSegmentRange, spec)
		}
		if n > total {
			n = total
		}
		indexes := make([]int, 0, n)
		for i := 0; i < n; i++ {
			indexes = append(indexes, i)
		}
		return indexes, nil
	}

	selected := make(map[int]struct{})
	for _, part := range strings.Split(normalized, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		lo, hi, err := parseRangePart(part)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", models.ErrInvalidSegmentRange, spec)
		}

		if lo < 1 {
			lo = 1
		}
		if hi > total {
			hi = total
		}
		for i := lo; i <= hi; i++ {
			selected[i-1] = struct{}{}
		}
	}

	indexes := make([]int, 0, len(selected))
	for i := range selected {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)
	return indexes, nil
}

// parseRangePart parses "a-b" or a single index, returning an inclusive
// 1-based bound pair with lo <= hi.
func parseRangePart(part string) (lo, hi int, err error) {
	if before, after, found := strings.Cut(part, "-"); found {
		lo, err = strconv.Atoi(strings.TrimSpace(before))
		if err != nil {
			return 0, 0, err
		}
		hi, err = strconv.Atoi(strings.TrimSpace(after))
		if err != nil {
			return 0, 0, err
		}
		if lo > hi {
			lo, hi = hi, lo
		}
		return lo, hi, nil
	}

	n, err := strconv.Atoi(part)
	if err != nil {
		return 0, 0, err
	}
	return n, n, nil
}

// ApplySegmentRange filters segments by the selection spec. An empty spec
// returns the input unchanged.
func ApplySegmentRange(segments []string, spec string) ([]string, error) {
	indexes, err := ParseSegmentRange(spec, len(segments))
	if err != nil {
		return nil, err
	}
	if indexes == nil {
		return segments, nil
	}

	out := make([]string, 0, len(indexes))
	for _, i := range indexes {
		out = append(out, segments[i])
	}
	return out, nil
}
