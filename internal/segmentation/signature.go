package segmentation

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/storyloom/storyloom/internal/models"
)

// SignatureInput carries the parameters that fingerprint one segmentation
// request.
type SignatureInput struct {
	Text                string
	Method              string
	SentencesPerSegment int
	FixedSize           int
	ModelID             string
}

// signaturePayload fields sit in alphabetical order so the encoded JSON
// keys come out sorted.
type signaturePayload struct {
	FixedSize           int    `json:"fixed_size"`
	Method              string `json:"method"`
	ModelID             string `json:"model_id"`
	SentencesPerSegment int    `json:"sentences_per_segment"`
	Text                string `json:"text"`
}

// Signature returns the stable SHA-256 fingerprint of one segmentation
// request: hex digest of the compact, sorted-key JSON encoding of the
// clamped parameters. Clients compute the same fingerprint to hand back
// precomputed segment vectors.
func Signature(in SignatureInput) string {
	method := strings.TrimSpace(in.Method)
	if method == "" {
		method = models.SegmentMethodSentence
	}

	payload := signaturePayload{
		FixedSize:           clampFixedSize(in.FixedSize),
		Method:              method,
		ModelID:             strings.TrimSpace(in.ModelID),
		SentencesPerSegment: clampPerSegment(in.SentencesPerSegment),
		Text:                strings.TrimSpace(in.Text),
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		return ""
	}

	packed := bytes.TrimRight(buf.Bytes(), "\n")
	sum := sha256.Sum256(packed)
	return hex.EncodeToString(sum[:])
}

// ResolvePrecomputed returns the cleaned precomputed segment vector when the
// provided signature matches the recomputed one, nil otherwise. A nil return
// means segmentation must run normally.
func ResolvePrecomputed(in SignatureInput, providedSignature string, precomputed []string) []string {
	provided := strings.TrimSpace(providedSignature)
	if provided == "" {
		return nil
	}
	if provided != Signature(in) {
		return nil
	}

	cleaned := CleanSegments(precomputed)
	if len(cleaned) == 0 {
		return nil
	}
	return cleaned
}
