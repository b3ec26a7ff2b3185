package segmentation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignature(t *testing.T) {
	t.Run("known values", func(t *testing.T) {
		// Digests computed independently from the documented encoding:
		// sha256 of compact sorted-key JSON of the clamped parameters.
		assert.Equal(t,
			"6faf3255e072c6865088f34d1c8a48a681ed4b206fe122ec52d148f27c610e87",
			Signature(SignatureInput{Text: "A。B。C。D。", Method: "sentence", SentencesPerSegment: 2}))
		assert.Equal(t,
			"afcf066ca7ecc1efc6cc00d2417aca0b1412b8d540a0207b82ff531caf4fc103",
			Signature(SignatureInput{Text: "Hello world. Bye.", Method: "fixed", FixedSize: 80, ModelID: "gpt-x"}))
	})

	t.Run("deterministic", func(t *testing.T) {
		in := SignatureInput{Text: "一段文字。", Method: "smart", SentencesPerSegment: 3, FixedSize: 100, ModelID: "m1"}
		assert.Equal(t, Signature(in), Signature(in))
	})

	t.Run("hex shape", func(t *testing.T) {
		sig := Signature(SignatureInput{Text: "x"})
		require.Len(t, sig, 64)
		for _, r := range sig {
			assert.Contains(t, "0123456789abcdef", string(r))
		}
	})

	t.Run("parameter sensitivity", func(t *testing.T) {
		base := SignatureInput{Text: "文字。", Method: "sentence", SentencesPerSegment: 2, FixedSize: 120}
		baseSig := Signature(base)

		changedText := base
		changedText.Text = "别的文字。"
		assert.NotEqual(t, baseSig, Signature(changedText))

		changedMethod := base
		changedMethod.Method = "fixed"
		assert.NotEqual(t, baseSig, Signature(changedMethod))

		changedModel := base
		changedModel.ModelID = "gpt-x"
		assert.NotEqual(t, baseSig, Signature(changedModel))
	})

	t.Run("clamped parameters collapse", func(t *testing.T) {
		assert.Equal(t,
			Signature(SignatureInput{Text: "x", SentencesPerSegment: 0}),
			Signature(SignatureInput{Text: "x", SentencesPerSegment: 1}))
		assert.Equal(t,
			Signature(SignatureInput{Text: "x", FixedSize: 0}),
			Signature(SignatureInput{Text: "x", FixedSize: 120}))
		assert.Equal(t,
			Signature(SignatureInput{Text: "x", FixedSize: 5}),
			Signature(SignatureInput{Text: "x", FixedSize: 20}))
		assert.Equal(t,
			Signature(SignatureInput{Text: "x", Method: ""}),
			Signature(SignatureInput{Text: "x", Method: "sentence"}))
		assert.Equal(t,
			Signature(SignatureInput{Text: "  x  "}),
			Signature(SignatureInput{Text: "x"}))
	})
}

func TestResolvePrecomputed(t *testing.T) {
	in := SignatureInput{Text: "A。B。C。D。", Method: "sentence", SentencesPerSegment: 2}
	sig := Signature(in)

	t.Run("matching signature returns vector verbatim", func(t *testing.T) {
		got := ResolvePrecomputed(in, sig, []string{"A。B。", "C。D。"})
		assert.Equal(t, []string{"A。B。", "C。D。"}, got)
	})

	t.Run("vector entries are trimmed", func(t *testing.T) {
		got := ResolvePrecomputed(in, sig, []string{" A。B。 ", "", "C。D。"})
		assert.Equal(t, []string{"A。B。", "C。D。"}, got)
	})

	t.Run("mismatched signature ignored", func(t *testing.T) {
		assert.Nil(t, ResolvePrecomputed(in, "deadbeef", []string{"A。B。"}))
	})

	t.Run("empty signature ignored", func(t *testing.T) {
		assert.Nil(t, ResolvePrecomputed(in, "", []string{"A。B。"}))
		assert.Nil(t, ResolvePrecomputed(in, "   ", []string{"A。B。"}))
	})

	t.Run("empty vector ignored", func(t *testing.T) {
		assert.Nil(t, ResolvePrecomputed(in, sig, nil))
		assert.Nil(t, ResolvePrecomputed(in, sig, []string{"  ", ""}))
	})
}
