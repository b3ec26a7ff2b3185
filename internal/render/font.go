package render

import (
	"os"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// systemCJKFonts are tried in order when no subtitle font is configured.
// Subtitles are predominantly Chinese, so CJK coverage comes first.
var systemCJKFonts = []string{
	"/usr/share/fonts/opentype/noto/NotoSansCJK-Regular.ttc",
	"/usr/share/fonts/noto-cjk/NotoSansCJK-Regular.ttc",
	"/usr/share/fonts/truetype/wqy/wqy-microhei.ttc",
	"/usr/share/fonts/wqy-microhei/wqy-microhei.ttc",
	"/usr/share/fonts/truetype/arphic/uming.ttc",
	"/System/Library/Fonts/PingFang.ttc",
	"/System/Library/Fonts/STHeiti Light.ttc",
	"C:\\Windows\\Fonts\\msyh.ttc",
	"C:\\Windows\\Fonts\\simhei.ttf",
}

// ResolveFontFile picks the subtitle font: the configured path when it
// exists, else the first present system CJK font, else empty. Rendering
// without a font file leaves glyph choice to the encoder's default, which
// usually cannot draw CJK, so callers should log when this returns "".
func ResolveFontFile(configured string) string {
	if configured != "" {
		if _, err := os.Stat(configured); err == nil {
			return configured
		}
	}
	for _, candidate := range systemCJKFonts {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// lineMeasurer measures subtitle lines in pixels for wrapping.
type lineMeasurer struct {
	face     font.Face
	fontSize int
}

// newLineMeasurer loads the font file into a measuring face. A nil face is
// returned on any failure; measurement then falls back to rune-width
// approximation, which is accurate enough for CJK-dominant text.
func newLineMeasurer(fontFile string, fontSize int) *lineMeasurer {
	m := &lineMeasurer{fontSize: fontSize}
	if fontFile == "" || strings.HasSuffix(strings.ToLower(fontFile), ".ttc") {
		// opentype cannot parse collection files; approximate instead.
		return m
	}
	data, err := os.ReadFile(fontFile)
	if err != nil {
		return m
	}
	parsed, err := opentype.Parse(data)
	if err != nil {
		return m
	}
	face, err := opentype.NewFace(parsed, &opentype.FaceOptions{
		Size:    float64(fontSize),
		DPI:     72,
		Hinting: font.HintingNone,
	})
	if err != nil {
		return m
	}
	m.face = face
	return m
}

// width returns the pixel width of a line.
func (m *lineMeasurer) width(line string) int {
	if m.face != nil {
		return font.MeasureString(m.face, line).Ceil()
	}
	// Approximation: CJK glyphs are one em wide, everything else half.
	w := fixed.I(0)
	for _, r := range line {
		if r < 0x2E80 {
			w += fixed.I(m.fontSize / 2)
		} else {
			w += fixed.I(m.fontSize)
		}
	}
	return w.Ceil()
}

// wrap greedily breaks text into lines no wider than maxWidth pixels, at
// most maxLines lines. Overflow past the last line is dropped with an
// ellipsis; subtitles must stay readable, not complete.
func (m *lineMeasurer) wrap(text string, maxWidth, maxLines int) []string {
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return nil
	}

	var lines []string
	var current []rune
	for _, r := range []rune(text) {
		candidate := append(current, r)
		if m.width(string(candidate)) > maxWidth && len(current) > 0 {
			lines = append(lines, string(current))
			if len(lines) == maxLines {
				last := lines[maxLines-1]
				runes := []rune(last)
				if len(runes) > 1 {
					lines[maxLines-1] = string(runes[:len(runes)-1]) + "…"
				}
				return lines
			}
			current = []rune{r}
			continue
		}
		current = candidate
	}
	if len(current) > 0 {
		lines = append(lines, string(current))
	}
	return lines
}
