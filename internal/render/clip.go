package render

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"
	"strings"

	// The resolver always writes PNG or JPEG segment images.
	_ "image/jpeg"
	_ "image/png"

	"github.com/storyloom/storyloom/internal/ffmpeg"
	"github.com/storyloom/storyloom/internal/observability"
)

// maxSubtitleLines bounds burned-in caption height.
const maxSubtitleLines = 2

// ClipRequest describes one segment clip to render.
type ClipRequest struct {
	// ImagePath is the still image backing the clip.
	ImagePath string
	// AudioPath is the narration audio; it defines the clip length.
	AudioPath string
	// Text is the segment text burned in as subtitles.
	Text string
	// OutPath is the clip file to produce.
	OutPath string
	// Duration is the narration length in seconds.
	Duration float64
	// Index is the segment index, used to alternate pan direction.
	Index int

	Width  int
	Height int
	FPS    int

	// Mode selects the encoder preset (fast, balanced, quality).
	Mode string
	// Motion selects the camera move ("none" disables the pan).
	Motion string
	// SubtitleStyle names the caption style.
	SubtitleStyle string
	// TTSGainDB boosts or cuts the narration track.
	TTSGainDB int
}

// Renderer renders segment clips with the system encoder.
type Renderer struct {
	bin      *ffmpeg.BinaryDetector
	fontFile string
	logger   *slog.Logger
}

// NewRenderer creates a clip renderer. fontFile may be empty; subtitles are
// then drawn with the encoder's default font.
func NewRenderer(bin *ffmpeg.BinaryDetector, fontFile string, logger *slog.Logger) *Renderer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Renderer{bin: bin, fontFile: fontFile, logger: observability.WithComponent(logger, "render")}
}

// FontFile returns the resolved subtitle font path, if any.
func (r *Renderer) FontFile() string {
	return r.fontFile
}

// RenderClip renders one segment clip. When the draw stage fails and a font
// file was in play, it retries once without the font so a broken font
// installation degrades captions instead of failing the job.
func (r *Renderer) RenderClip(ctx context.Context, req ClipRequest) error {
	if req.Duration <= 0 {
		return fmt.Errorf("clip duration must be positive")
	}
	info, err := r.bin.Detect(ctx)
	if err != nil {
		return err
	}

	srcW, srcH := imageSize(req.ImagePath, req.Width, req.Height)
	args := r.buildClipArgs(req, srcW, srcH, r.fontFile)
	if err := ffmpeg.Run(ctx, info.FFmpegPath, args...); err == nil {
		return nil
	} else if r.fontFile == "" || ctx.Err() != nil {
		return fmt.Errorf("rendering clip %s: %w", req.OutPath, err)
	} else {
		r.logger.Warn("clip render failed with font, retrying without", "font", r.fontFile, "error", err)
	}

	args = r.buildClipArgs(req, srcW, srcH, "")
	if err := ffmpeg.Run(ctx, info.FFmpegPath, args...); err != nil {
		return fmt.Errorf("rendering clip %s: %w", req.OutPath, err)
	}
	return nil
}

// buildClipArgs assembles the full encoder invocation for one clip.
func (r *Renderer) buildClipArgs(req ClipRequest, srcW, srcH int, fontFile string) []string {
	preset := PresetFor(req.Mode)

	args := []string{
		"-y",
		"-loop", "1",
		"-i", req.ImagePath,
		"-i", req.AudioPath,
		"-t", fmt.Sprintf("%.3f", req.Duration),
		"-filter_complex", r.buildVideoFilter(req, srcW, srcH, fontFile),
		"-map", "[v]",
		"-map", "1:a",
	}
	if req.TTSGainDB != 0 {
		args = append(args, "-af", fmt.Sprintf("volume=%ddB", req.TTSGainDB))
	}
	args = append(args,
		"-c:v", "libx264",
		"-preset", preset.Preset,
		"-crf", fmt.Sprintf("%d", preset.CRF),
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		"-b:a", AudioBitrate,
		"-shortest",
		req.OutPath,
	)
	return args
}

// buildVideoFilter assembles the scale/pan/caption filtergraph.
func (r *Renderer) buildVideoFilter(req ClipRequest, srcW, srcH int, fontFile string) string {
	plan := BuildPanPlan(srcW, srcH, req.Width, req.Height, req.Duration, req.Motion, req.Index)

	var sb strings.Builder
	fmt.Fprintf(&sb, "[0:v]scale=%d:%d,crop=%d:%d:x='%s':y='%s',fps=%d,format=yuv420p",
		plan.ScaleW, plan.ScaleH, req.Width, req.Height, plan.XExpr, plan.YExpr, req.FPS)

	for _, filter := range r.buildDrawtextFilters(req, fontFile) {
		sb.WriteString(",")
		sb.WriteString(filter)
	}
	sb.WriteString("[v]")
	return sb.String()
}

// buildDrawtextFilters produces one drawtext per caption line per timeline
// unit, each gated by an enable window.
func (r *Renderer) buildDrawtextFilters(req ClipRequest, fontFile string) []string {
	units := BuildSubtitleTimeline(req.Text, req.Duration)
	if len(units) == 0 {
		return nil
	}

	style := ResolveStyle(req.SubtitleStyle)
	fontSize := subtitleFontSize(req.Width)
	lineHeight := fontSize + fontSize/4
	baseY := int(float64(req.Height) * style.YRatio)
	measurer := newLineMeasurer(fontFile, fontSize)
	maxWidth := req.Width * 9 / 10

	var filters []string
	for _, unit := range units {
		lines := measurer.wrap(unit.Text, maxWidth, maxSubtitleLines)
		end := unit.Start + unit.Duration
		for lineIdx, line := range lines {
			var sb strings.Builder
			sb.WriteString("drawtext=")
			if fontFile != "" {
				fmt.Fprintf(&sb, "fontfile='%s':", escapeDrawtext(fontFile))
			}
			fmt.Fprintf(&sb, "text='%s'", escapeDrawtext(line))
			fmt.Fprintf(&sb, ":fontcolor=%s:fontsize=%d", style.FontColor, fontSize)
			fmt.Fprintf(&sb, ":borderw=%d:bordercolor=%s", fontSize/14+1, style.BorderColor)
			fmt.Fprintf(&sb, ":x=(w-text_w)/2:y=%d", baseY+lineIdx*lineHeight)
			fmt.Fprintf(&sb, ":enable='between(t\\,%.3f\\,%.3f)'", unit.Start, end)
			filters = append(filters, sb.String())
		}
	}
	return filters
}

// subtitleFontSize scales the caption size with frame width.
func subtitleFontSize(width int) int {
	size := width / 18
	if size < 28 {
		size = 28
	}
	return size
}

// escapeDrawtext escapes the characters the drawtext filter treats
// specially inside a quoted value.
func escapeDrawtext(s string) string {
	replacer := strings.NewReplacer(
		`\`, `\\`,
		`'`, `\'`,
		`:`, `\:`,
		`%`, `\%`,
		`,`, `\,`,
	)
	return replacer.Replace(s)
}

// imageSize probes the backing image dimensions, falling back to the target
// frame when the file cannot be decoded.
func imageSize(path string, fallbackW, fallbackH int) (int, int) {
	file, err := os.Open(path)
	if err != nil {
		return fallbackW, fallbackH
	}
	defer file.Close()
	cfg, _, err := image.DecodeConfig(file)
	if err != nil || cfg.Width < 1 || cfg.Height < 1 {
		return fallbackW, fallbackH
	}
	return cfg.Width, cfg.Height
}
