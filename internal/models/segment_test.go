package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalImageSource(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"cache passes through", "cache", ImageSourceCache},
		{"generated passes through", "generated", ImageSourceGenerated},
		{"resolver hyphen label", "fallback-llm", ImageSourceFallbackLLM},
		{"character cache hyphen label", "fallback-character-cache", ImageSourceFallbackCharacterCache},
		{"scene only hyphen label", "fallback-scene-only-cache", ImageSourceFallbackSceneOnlyCache},
		{"reference hyphen label", "fallback-reference", ImageSourceFallbackReference},
		{"random cache hyphen label", "fallback-random-cache", ImageSourceFallbackRandomCache},
		{"underscore label unchanged", "fallback_cache", ImageSourceFallbackCache},
		{"mixed case", "Fallback-LLM", ImageSourceFallbackLLM},
		{"surrounding whitespace", "  cache  ", ImageSourceCache},
		{"unknown collapses to other", "experimental-source", ImageSourceOther},
		{"empty collapses to other", "", ImageSourceOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanonicalImageSource(tt.input))
		})
	}
}

func TestImageSourceReport_Add(t *testing.T) {
	report := NewImageSourceReport()
	report.Add("cache")
	report.Add("fallback-llm")
	report.Add("fallback-llm")
	report.Add("something-new")

	assert.Equal(t, 1, report[ImageSourceCache])
	assert.Equal(t, 2, report[ImageSourceFallbackLLM])
	assert.Equal(t, 1, report[ImageSourceOther])
	assert.Equal(t, 4, report.Total())
}

func TestImageSourceReport_Merge(t *testing.T) {
	base := ImageSourceReport{ImageSourceCache: 2, ImageSourceGenerated: 1}
	incoming := ImageSourceReport{"fallback-reference": 1, ImageSourceCache: 3}

	base.Merge(incoming)

	assert.Equal(t, 5, base[ImageSourceCache])
	assert.Equal(t, 1, base[ImageSourceGenerated])
	assert.Equal(t, 1, base[ImageSourceFallbackReference])
	assert.Equal(t, 7, base.Total())
}

func TestImageSourceReport_EncodeParse(t *testing.T) {
	t.Run("empty report", func(t *testing.T) {
		s, err := NewImageSourceReport().Encode()
		require.NoError(t, err)
		assert.Equal(t, "{}", s)

		parsed, err := ParseImageSourceReport(s)
		require.NoError(t, err)
		assert.Empty(t, parsed)
	})

	t.Run("blank string", func(t *testing.T) {
		parsed, err := ParseImageSourceReport("   ")
		require.NoError(t, err)
		assert.NotNil(t, parsed)
		assert.Empty(t, parsed)
	})

	t.Run("roundtrip", func(t *testing.T) {
		report := NewImageSourceReport()
		report.Add(ImageSourceCache)
		report.Add(ImageSourceFallbackRandomCache)

		s, err := report.Encode()
		require.NoError(t, err)

		parsed, err := ParseImageSourceReport(s)
		require.NoError(t, err)
		assert.Equal(t, report, parsed)
	})

	t.Run("invalid json", func(t *testing.T) {
		_, err := ParseImageSourceReport("not-json")
		assert.Error(t, err)
	})
}

func TestCharacterAssignment_ZeroValue(t *testing.T) {
	var a CharacterAssignment
	assert.Zero(t, a.PrimaryIndex)
	assert.Empty(t, a.RelatedIndexes)
}
