// Package compose joins rendered segment clips into the final video and
// applies the finishing layer: a title band with the novel alias, a
// traveling watermark, and background music mixed under the narration.
package compose

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/storyloom/storyloom/internal/ffmpeg"
	"github.com/storyloom/storyloom/internal/models"
	"github.com/storyloom/storyloom/internal/observability"
	"github.com/storyloom/storyloom/internal/render"
)

// MinFinalVideoSize is the idempotence gate: an existing output at least
// this large is treated as a finished composition and kept.
const MinFinalVideoSize = 16 << 10

// watermarkCycleSeconds is one full rectangular travel of the watermark.
const watermarkCycleSeconds = 22.0

// defaultBGMVolume scales background music under the narration.
const defaultBGMVolume = 0.18

// Request describes one final composition.
type Request struct {
	// ClipPaths are the rendered per-segment clips, in order.
	ClipPaths []string
	// OutPath is the final video file.
	OutPath string

	Width  int
	Height int
	FPS    int

	// Mode selects fast stream-copy assembly (fast, balanced) or the single
	// full re-encode graph (quality).
	Mode string

	// TitleText is drawn in the top band; empty disables the band.
	TitleText string
	// WatermarkText travels the frame edge; empty disables it.
	WatermarkText string

	// BGMPath is the background music file; empty disables music.
	BGMPath string
	// BGMVolume scales the music; zero means the default.
	BGMVolume float64
	// PostGainDB is applied to the mixed audio.
	PostGainDB int
}

// Compositor assembles final videos with the system encoder.
type Compositor struct {
	bin      *ffmpeg.BinaryDetector
	fontFile string
	logger   *slog.Logger
}

// NewCompositor creates a compositor. fontFile is used for the title band
// and watermark text.
func NewCompositor(bin *ffmpeg.BinaryDetector, fontFile string, logger *slog.Logger) *Compositor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Compositor{bin: bin, fontFile: fontFile, logger: observability.WithComponent(logger, "compose")}
}

// Compose produces the final video. An existing plausible output is kept
// untouched so resumed jobs never redo a finished composition.
func (c *Compositor) Compose(ctx context.Context, req Request) error {
	if len(req.ClipPaths) == 0 {
		return fmt.Errorf("%w: no clips to compose", models.ErrClipMissing)
	}
	if stat, err := os.Stat(req.OutPath); err == nil && stat.Size() >= MinFinalVideoSize {
		c.logger.Info("final video already exists, skipping composition", "path", req.OutPath, "size", stat.Size())
		return nil
	}
	for _, clip := range req.ClipPaths {
		if stat, err := os.Stat(clip); err != nil || stat.Size() == 0 {
			return fmt.Errorf("%w: %s", models.ErrClipMissing, clip)
		}
	}

	info, err := c.bin.Detect(ctx)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(req.OutPath), 0750); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	if render.PresetFor(req.Mode).Name == "quality" {
		return c.composeSinglePass(ctx, info, req)
	}
	return c.composeFast(ctx, info, req)
}

// composeFast stream-copies the clips together, then runs one finishing pass
// for overlays and music. Without overlays or music the merged file is the
// final output.
func (c *Compositor) composeFast(ctx context.Context, info *ffmpeg.BinaryInfo, req Request) error {
	workDir, err := os.MkdirTemp(filepath.Dir(req.OutPath), "compose_")
	if err != nil {
		return fmt.Errorf("creating compose workspace: %w", err)
	}
	defer os.RemoveAll(workDir)

	needFinish := req.TitleText != "" || req.WatermarkText != "" || req.BGMPath != ""
	merged := req.OutPath
	if needFinish {
		merged = filepath.Join(workDir, "merged.mp4")
	}

	listPath := filepath.Join(workDir, "concat.txt")
	if err := writeConcatList(listPath, req.ClipPaths); err != nil {
		return err
	}
	if err := ffmpeg.Run(ctx, info.FFmpegPath,
		"-y", "-f", "concat", "-safe", "0",
		"-i", listPath,
		"-c", "copy",
		merged,
	); err != nil {
		return fmt.Errorf("joining clips: %w", err)
	}
	if !needFinish {
		return nil
	}

	args := c.buildFinishArgs(req, merged)
	if err := ffmpeg.Run(ctx, info.FFmpegPath, args...); err != nil {
		return fmt.Errorf("finishing pass: %w", err)
	}
	return nil
}

// buildFinishArgs assembles the overlay-and-music pass over a merged video.
func (c *Compositor) buildFinishArgs(req Request, merged string) []string {
	preset := render.PresetFor(req.Mode)

	args := []string{"-y", "-i", merged}
	if req.BGMPath != "" {
		args = append(args, "-stream_loop", "-1", "-i", req.BGMPath)
	}

	var graph []string
	videoLabel := "0:v"
	if overlay := c.buildOverlayChain(req); overlay != "" {
		graph = append(graph, fmt.Sprintf("[0:v]%s[v]", overlay))
		videoLabel = "[v]"
	}
	audioLabel := "0:a"
	if req.BGMPath != "" {
		graph = append(graph, fmt.Sprintf("[1:a]volume=%.3f[bgm]", bgmVolume(req)))
		graph = append(graph, fmt.Sprintf("[0:a][bgm]amix=inputs=2:duration=first%s[a]", postGainClause(req)))
		audioLabel = "[a]"
	} else if req.PostGainDB != 0 {
		graph = append(graph, fmt.Sprintf("[0:a]volume=%ddB[a]", req.PostGainDB))
		audioLabel = "[a]"
	}

	if len(graph) > 0 {
		args = append(args, "-filter_complex", strings.Join(graph, ";"))
	}
	args = append(args, "-map", videoLabel, "-map", audioLabel)

	if videoLabel == "0:v" {
		args = append(args, "-c:v", "copy")
	} else {
		args = append(args,
			"-c:v", "libx264",
			"-preset", preset.Preset,
			"-crf", fmt.Sprintf("%d", preset.CRF),
			"-pix_fmt", "yuv420p",
		)
	}
	args = append(args, "-c:a", "aac", "-b:a", render.AudioBitrate, "-shortest", req.OutPath)
	return args
}

// composeSinglePass re-encodes everything in one graph: concat filter across
// the clips, overlays, and the music mix. Slower but free of stream-copy
// compatibility edge cases.
func (c *Compositor) composeSinglePass(ctx context.Context, info *ffmpeg.BinaryInfo, req Request) error {
	preset := render.PresetFor(req.Mode)

	args := []string{"-y"}
	for _, clip := range req.ClipPaths {
		args = append(args, "-i", clip)
	}
	bgmIndex := -1
	if req.BGMPath != "" {
		bgmIndex = len(req.ClipPaths)
		args = append(args, "-stream_loop", "-1", "-i", req.BGMPath)
	}

	var sb strings.Builder
	for i := range req.ClipPaths {
		fmt.Fprintf(&sb, "[%d:v][%d:a]", i, i)
	}
	fmt.Fprintf(&sb, "concat=n=%d:v=1:a=1[cv][ca]", len(req.ClipPaths))

	videoLabel := "[cv]"
	if overlay := c.buildOverlayChain(req); overlay != "" {
		fmt.Fprintf(&sb, ";[cv]%s[v]", overlay)
		videoLabel = "[v]"
	}
	audioLabel := "[ca]"
	if bgmIndex >= 0 {
		fmt.Fprintf(&sb, ";[%d:a]volume=%.3f[bgm]", bgmIndex, bgmVolume(req))
		fmt.Fprintf(&sb, ";[ca][bgm]amix=inputs=2:duration=first%s[a]", postGainClause(req))
		audioLabel = "[a]"
	} else if req.PostGainDB != 0 {
		fmt.Fprintf(&sb, ";[ca]volume=%ddB[a]", req.PostGainDB)
		audioLabel = "[a]"
	}

	args = append(args,
		"-filter_complex", sb.String(),
		"-map", videoLabel,
		"-map", audioLabel,
		"-c:v", "libx264",
		"-preset", preset.Preset,
		"-crf", fmt.Sprintf("%d", preset.CRF),
		"-pix_fmt", "yuv420p",
		"-r", fmt.Sprintf("%d", req.FPS),
		"-c:a", "aac",
		"-b:a", render.AudioBitrate,
		"-shortest",
		req.OutPath,
	)
	if err := ffmpeg.Run(ctx, info.FFmpegPath, args...); err != nil {
		return fmt.Errorf("single-pass composition: %w", err)
	}
	return nil
}

// buildOverlayChain builds the title band and watermark filters, or "" when
// neither applies.
func (c *Compositor) buildOverlayChain(req Request) string {
	var filters []string
	if req.TitleText != "" {
		filters = append(filters, c.titleBandFilters(req)...)
	}
	if req.WatermarkText != "" {
		filters = append(filters, c.watermarkFilter(req))
	}
	return strings.Join(filters, ",")
}

// titleBandFilters draws a translucent band near the top with the title
// centered in it.
func (c *Compositor) titleBandFilters(req Request) []string {
	bandY := req.Height * 4 / 100
	bandH := req.Height * 75 / 1000
	fontSize := bandH * 62 / 100

	var text strings.Builder
	text.WriteString("drawtext=")
	if c.fontFile != "" {
		fmt.Fprintf(&text, "fontfile='%s':", escapeFilterText(c.fontFile))
	}
	fmt.Fprintf(&text, "text='%s':fontcolor=white:fontsize=%d:x=(w-text_w)/2:y=%d",
		escapeFilterText(req.TitleText), fontSize, bandY+(bandH-fontSize)/2)

	return []string{
		fmt.Sprintf("drawbox=x=0:y=%d:w=iw:h=%d:color=black@0.45:t=fill", bandY, bandH),
		text.String(),
	}
}

// watermarkFilter draws semi-transparent text that travels a rectangular
// path around the frame margins, completing one lap per cycle.
func (c *Compositor) watermarkFilter(req Request) string {
	marginX := req.Width * 4 / 100
	marginY := req.Height * 4 / 100
	fontSize := req.Width * 3 / 100
	if fontSize < 18 {
		fontSize = 18
	}
	edge := watermarkCycleSeconds / 4

	mod := fmt.Sprintf("mod(t\\,%.0f)", watermarkCycleSeconds)
	spanX := fmt.Sprintf("(w-text_w-%d)", 2*marginX)
	spanY := fmt.Sprintf("(h-text_h-%d)", 2*marginY)

	x := fmt.Sprintf(
		"if(lt(%[1]s\\,%[2].1f)\\,%[3]d+%[4]s*%[1]s/%[2].1f\\,"+
			"if(lt(%[1]s\\,%[5].1f)\\,w-text_w-%[3]d\\,"+
			"if(lt(%[1]s\\,%[6].1f)\\,w-text_w-%[3]d-%[4]s*(%[1]s-%[5].1f)/%[2].1f\\,%[3]d)))",
		mod, edge, marginX, spanX, 2*edge, 3*edge)
	y := fmt.Sprintf(
		"if(lt(%[1]s\\,%[2].1f)\\,%[3]d\\,"+
			"if(lt(%[1]s\\,%[4].1f)\\,%[3]d+%[5]s*(%[1]s-%[2].1f)/%[2].1f\\,"+
			"if(lt(%[1]s\\,%[6].1f)\\,h-text_h-%[3]d\\,"+
			"h-text_h-%[3]d-%[5]s*(%[1]s-%[6].1f)/%[2].1f)))",
		mod, edge, marginY, 2*edge, spanY, 3*edge)

	var sb strings.Builder
	sb.WriteString("drawtext=")
	if c.fontFile != "" {
		fmt.Fprintf(&sb, "fontfile='%s':", escapeFilterText(c.fontFile))
	}
	fmt.Fprintf(&sb, "text='%s':fontcolor=white@0.35:fontsize=%d:x='%s':y='%s'",
		escapeFilterText(req.WatermarkText), fontSize, x, y)
	return sb.String()
}

// bgmVolume returns the configured music volume or the default.
func bgmVolume(req Request) float64 {
	if req.BGMVolume > 0 {
		return req.BGMVolume
	}
	return defaultBGMVolume
}

// postGainClause appends the post-mix gain stage when configured.
func postGainClause(req Request) string {
	if req.PostGainDB == 0 {
		return ""
	}
	return fmt.Sprintf(",volume=%ddB", req.PostGainDB)
}

// escapeFilterText escapes characters the drawtext filter treats specially.
func escapeFilterText(s string) string {
	replacer := strings.NewReplacer(
		`\`, `\\`,
		`'`, `\'`,
		`:`, `\:`,
		`%`, `\%`,
		`,`, `\,`,
	)
	return replacer.Replace(s)
}

// writeConcatList writes an ffmpeg concat demuxer file list.
func writeConcatList(path string, files []string) error {
	var sb strings.Builder
	for _, f := range files {
		fmt.Fprintf(&sb, "file '%s'\n", strings.ReplaceAll(f, "'", `'\''`))
	}
	if err := os.WriteFile(path, []byte(sb.String()), 0640); err != nil {
		return fmt.Errorf("writing concat list: %w", err)
	}
	return nil
}
