package cmd

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/dsnet/compress/bzip2"
	"github.com/spf13/cobra"
	"github.com/ulikunitz/xz"
	"gopkg.in/yaml.v3"

	"github.com/storyloom/storyloom/internal/models"
)

var renderCmd = &cobra.Command{
	Use:   "render <novel-file>",
	Short: "Render a video from a text file without the server",
	Long: `Render a narrated video from a novel text file.

The file may be plain text or compressed (.gz, .br, .xz, .bz2). The command
submits the job to the embedded scheduler, waits for completion and prints
the output video path. Interrupting leaves a resumable job behind; running
the same command again reuses the finished clips.`,
	Args: cobra.ExactArgs(1),
	RunE: runRender,
}

func init() {
	rootCmd.AddCommand(renderCmd)

	renderCmd.Flags().String("alias", "", "short title rendered in the top band")
	renderCmd.Flags().String("resolution", "", "output frame size as WIDTHxHEIGHT")
	renderCmd.Flags().Int("fps", 0, "output frame rate")
	renderCmd.Flags().String("segment-method", "", "segmentation method (sentence, fixed, smart)")
	renderCmd.Flags().Int("segments-per-image", 0, "sentences grouped per segment")
	renderCmd.Flags().Int("fixed-size", 0, "characters per segment for the fixed method")
	renderCmd.Flags().String("segment-range", "", "1-based segment selection like \"2,4-6\"")
	renderCmd.Flags().Int("max-segments", 0, "cap on the segment count (0 = no cap)")
	renderCmd.Flags().String("render-mode", "", "encode preset (fast, balanced, quality)")
	renderCmd.Flags().String("camera-motion", "", "pan axis preference")
	renderCmd.Flags().String("subtitle-style", "", "caption placement and colors")
	renderCmd.Flags().String("model", "", "image model override")
	renderCmd.Flags().Bool("no-bgm", false, "disable background music")
	renderCmd.Flags().Bool("no-watermark", false, "disable the traveling watermark")
	renderCmd.Flags().String("watermark-text", "", "watermark text")
	renderCmd.Flags().String("characters", "", "YAML file with the character list")
	renderCmd.Flags().String("resume", "", "resume an existing job id instead of submitting")
}

func runRender(cmd *cobra.Command, args []string) error {
	logger := slog.Default()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received interrupt, job stays resumable", "signal", sig.String())
		cancel()
	}()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.closeApp()

	var job *models.Job
	if resumeID, _ := cmd.Flags().GetString("resume"); resumeID != "" {
		job, err = a.service.Resume(ctx, resumeID)
		if err != nil {
			return fmt.Errorf("resuming job: %w", err)
		}
	} else {
		req, err := requestFromFlags(cmd, args[0])
		if err != nil {
			return err
		}
		job, err = a.service.Create(ctx, req, "")
		if err != nil {
			return fmt.Errorf("submitting job: %w", err)
		}
	}

	logger.Info("rendering", "job_id", job.ID)
	return waitForJob(ctx, a, job.ID)
}

// requestFromFlags builds the generation request from the novel file and
// the command line.
func requestFromFlags(cmd *cobra.Command, novelPath string) (*models.GenerateVideoRequest, error) {
	text, err := readNovel(novelPath)
	if err != nil {
		return nil, fmt.Errorf("reading novel: %w", err)
	}

	flags := cmd.Flags()
	req := &models.GenerateVideoRequest{Text: text}
	req.NovelAlias, _ = flags.GetString("alias")
	req.Resolution, _ = flags.GetString("resolution")
	req.FPS, _ = flags.GetInt("fps")
	req.SegmentMethod, _ = flags.GetString("segment-method")
	req.SegmentsPerImage, _ = flags.GetInt("segments-per-image")
	req.FixedSegmentSize, _ = flags.GetInt("fixed-size")
	req.SegmentRange, _ = flags.GetString("segment-range")
	req.MaxSegments, _ = flags.GetInt("max-segments")
	req.RenderMode, _ = flags.GetString("render-mode")
	req.CameraMotion, _ = flags.GetString("camera-motion")
	req.SubtitleStyle, _ = flags.GetString("subtitle-style")
	req.ModelID, _ = flags.GetString("model")
	req.WatermarkText, _ = flags.GetString("watermark-text")

	if noBGM, _ := flags.GetBool("no-bgm"); noBGM {
		off := false
		req.EnableBGM = &off
	}
	if noWM, _ := flags.GetBool("no-watermark"); noWM {
		off := false
		req.EnableWatermark = &off
	}

	if charFile, _ := flags.GetString("characters"); charFile != "" {
		characters, err := readCharacters(charFile)
		if err != nil {
			return nil, fmt.Errorf("reading characters: %w", err)
		}
		req.Characters = characters
	}

	return req, nil
}

// readNovel loads the novel text, transparently decompressing by extension.
func readNovel(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var r io.Reader = f
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gz":
		gz, err := gzip.NewReader(f)
		if err != nil {
			return "", fmt.Errorf("opening gzip stream: %w", err)
		}
		defer gz.Close()
		r = gz
	case ".br":
		r = brotli.NewReader(f)
	case ".xz":
		xr, err := xz.NewReader(f)
		if err != nil {
			return "", fmt.Errorf("opening xz stream: %w", err)
		}
		r = xr
	case ".bz2":
		br, err := bzip2.NewReader(f, nil)
		if err != nil {
			return "", fmt.Errorf("opening bzip2 stream: %w", err)
		}
		defer br.Close()
		r = br
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", fmt.Errorf("novel file is empty")
	}
	return text, nil
}

// readCharacters loads a YAML character list.
func readCharacters(path string) ([]models.Character, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var characters []models.Character
	if err := yaml.Unmarshal(data, &characters); err != nil {
		return nil, fmt.Errorf("parsing character list: %w", err)
	}
	return characters, nil
}

// waitForJob polls the job until it finishes, logging progress transitions.
func waitForJob(ctx context.Context, a *app, jobID string) error {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	lastStep := ""
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintf(os.Stderr, "interrupted; resume with: storyloom render --resume %s <novel-file>\n", jobID)
			return nil
		case <-ticker.C:
		}

		job, err := a.jobs.Get(ctx, jobID)
		if err != nil {
			return fmt.Errorf("polling job: %w", err)
		}
		if job == nil {
			return fmt.Errorf("job %s disappeared", jobID)
		}

		if job.Step != lastStep {
			lastStep = job.Step
			a.logger.Info("job progress",
				"job_id", jobID,
				"step", job.Step,
				"progress", job.Progress,
				"segment", job.CurrentSegment,
				"total_segments", job.TotalSegments,
			)
		}

		if !job.IsFinished() {
			continue
		}

		switch job.Status {
		case models.JobStatusCompleted:
			fmt.Println(job.OutputVideoPath)
			return nil
		case models.JobStatusCancelled:
			return fmt.Errorf("job was cancelled: %s", job.Message)
		default:
			return fmt.Errorf("job failed: %s", job.Message)
		}
	}
}
