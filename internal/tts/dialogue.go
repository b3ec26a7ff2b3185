package tts

import "strings"

// Piece is one synthesis unit: a run of text bound to a single voice.
type Piece struct {
	Text  string
	Voice string
}

// SplitDialogue parses paired quote blocks (ASCII `"` and CJK `“”`) out of
// segment text. Narration keeps the narrator voice; each dialogue block
// rotates through the character voices in order of appearance. Adjacent
// pieces that resolve to the same voice are merged. An unterminated quote
// runs to the end of the text.
func SplitDialogue(text, narratorVoice string, characterVoices []string) []Piece {
	voices := make([]string, 0, len(characterVoices))
	for _, v := range characterVoices {
		v = strings.TrimSpace(v)
		if v != "" && v != narratorVoice {
			voices = append(voices, v)
		}
	}

	var pieces []Piece
	var narration strings.Builder
	dialogIndex := 0

	flushNarration := func() {
		if content := strings.TrimSpace(narration.String()); content != "" {
			pieces = append(pieces, Piece{Text: content, Voice: narratorVoice})
		}
		narration.Reset()
	}

	runes := []rune(text)
	for i := 0; i < len(runes); {
		var closer rune
		switch runes[i] {
		case '“':
			closer = '”'
		case '"':
			closer = '"'
		default:
			narration.WriteRune(runes[i])
			i++
			continue
		}

		flushNarration()
		j := i + 1
		for j < len(runes) && runes[j] != closer {
			j++
		}
		if inner := strings.TrimSpace(string(runes[i+1 : j])); inner != "" {
			voice := narratorVoice
			if len(voices) > 0 {
				voice = voices[dialogIndex%len(voices)]
			}
			dialogIndex++
			pieces = append(pieces, Piece{Text: inner, Voice: voice})
		}
		if j < len(runes) {
			j++ // consume the closing quote
		}
		i = j
	}
	flushNarration()

	return mergeAdjacent(pieces)
}

// mergeAdjacent collapses consecutive pieces that share a voice.
func mergeAdjacent(pieces []Piece) []Piece {
	merged := make([]Piece, 0, len(pieces))
	for _, piece := range pieces {
		if n := len(merged); n > 0 && merged[n-1].Voice == piece.Voice {
			merged[n-1].Text += piece.Text
			continue
		}
		merged = append(merged, piece)
	}
	return merged
}
