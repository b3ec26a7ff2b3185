package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/storyloom/storyloom/internal/compose"
	"github.com/storyloom/storyloom/internal/imagegen"
	"github.com/storyloom/storyloom/internal/llm"
	"github.com/storyloom/storyloom/internal/models"
	"github.com/storyloom/storyloom/internal/observability"
	"github.com/storyloom/storyloom/internal/render"
	"github.com/storyloom/storyloom/internal/scenecache"
	"github.com/storyloom/storyloom/internal/segmentation"
	"github.com/storyloom/storyloom/internal/tts"
	"github.com/storyloom/storyloom/internal/voice"
)

// Pipeline progress weights. The per-segment loop fills the span between
// progressSegmented and progressComposing linearly.
const (
	progressStarted    = 0.05
	progressSegmented  = 0.10
	progressComposing  = 0.85
	progressComposed   = 0.95
	maxReferenceImages = 2
)

// runJob drives the whole pipeline for one job. Every persisted checkpoint
// is enough to resume from: the segment vector is recomputed from the stored
// payload and finished clips are detected on disk.
func (s *Scheduler) runJob(ctx context.Context, jobID, runID string) {
	logger := observability.WithJob(s.logger, jobID).With("run_id", runID)
	defer observability.TimedOperation(ctx, logger, "job pipeline")()

	job, err := s.jobs.Get(ctx, jobID)
	if err != nil || job == nil {
		logger.Error("job row unavailable", "error", err)
		return
	}
	req, baseURL, err := s.jobs.LoadPayload(ctx, jobID)
	if err != nil {
		job.MarkFailed("job payload missing, cannot run")
		s.persist(ctx, job)
		return
	}
	req.ApplyDefaults()

	if err := s.runPipeline(ctx, logger, job, req, baseURL); err != nil {
		if job.IsFinished() {
			return
		}
		logger.Error("job failed", "error", err)
		job.MarkFailed(err.Error())
		s.persist(ctx, job)
	}
}

// runPipeline executes the stages in order. It marks the job terminal itself
// for completion and cancellation; any returned error means failure.
func (s *Scheduler) runPipeline(ctx context.Context, logger *slog.Logger, job *models.Job, req *models.GenerateVideoRequest, baseURL string) error {
	outputPath := s.cfg.Storage.OutputVideoPath(job.ID)
	videoURL := buildVideoURL(baseURL, job.ID)

	// A plausible final video means an earlier run already finished the job.
	if finalVideoExists(outputPath) {
		logger.Info("final video already on disk, completing without work", "path", outputPath)
		job.MarkCompleted(outputPath, videoURL)
		s.persist(ctx, job)
		return nil
	}

	tempDir, err := s.workspace.EnsureJobWorkspace(job.ID)
	if err != nil {
		return fmt.Errorf("preparing job workspace: %w", err)
	}
	clipsDir := s.cfg.Storage.JobClipsDir(job.ID)

	job.MarkRunning("segmenting", "splitting text into segments")
	job.MarkProgress(progressStarted, "segmenting", "splitting text into segments")
	s.persist(ctx, job)

	segments, err := s.planSegments(ctx, req)
	if err != nil {
		return err
	}
	total := len(segments)

	width, height, err := models.ParseResolution(req.Resolution)
	if err != nil {
		return err
	}

	characters := voice.Sanitize(req.Characters, s.cfg.TTS.NarratorVoice)
	characterVoices := make([]string, 0, len(characters))
	for _, ch := range characters {
		if ch.SuggestedVoice != "" && ch.SuggestedVoice != s.cfg.TTS.NarratorVoice {
			characterVoices = append(characterVoices, ch.SuggestedVoice)
		}
	}

	worldContext := s.llm.SummarizeStoryWorld(ctx, req.Text, req.ModelID)

	report, err := job.ImageSourceReport()
	if err != nil {
		report = models.NewImageSourceReport()
	}
	ring := newNoRepeatRing(s.noRepeatWindow(req))

	job.TotalSegments = total
	job.MarkProgress(progressSegmented, "rendering", fmt.Sprintf("rendering %d segments", total))
	s.persist(ctx, job)

	prevSpeaker := -1
	for i, segText := range segments {
		if s.cancelled(ctx, job.ID) {
			job.MarkCancelled("cancelled before segment " + fmt.Sprint(i))
			s.persist(ctx, job)
			return nil
		}

		clipPath := filepath.Join(clipsDir, fmt.Sprintf("clip_%04d.mp4", i))
		if stat, err := os.Stat(clipPath); err == nil && stat.Size() > 0 {
			job.ClipCount++
			job.CurrentSegment = i + 1
			s.persistSegmentProgress(ctx, job, report, total)
			continue
		}

		primary, related := PickSpeaker(SpeakerInput{
			Current:       segText,
			Previous:      adjacentText(segments, i-1),
			Next:          adjacentText(segments, i+1),
			Characters:    characters,
			PreviousIndex: prevSpeaker,
		})
		refs := collectReferenceImages(characters, primary, related)

		bundleReq := llm.BundleRequest{
			Candidates:                 characters,
			SegmentText:                segText,
			ModelID:                    req.ModelID,
			RelatedReferenceImagePaths: refs,
			StoryWorldContext:          worldContext,
			PreviousSegmentText:        adjacentText(segments, i-1),
			NextSegmentText:            adjacentText(segments, i+1),
			DefaultPrimaryIndex:        primary,
			DefaultRelatedIndexes:      related,
		}
		if primary >= 0 && primary < len(characters) {
			bundleReq.Character = characters[primary]
		} else if len(characters) > 0 {
			bundleReq.Character = characters[0]
		}

		imagePath := filepath.Join(tempDir, fmt.Sprintf("segment_%04d.png", i))
		audioPath := filepath.Join(tempDir, fmt.Sprintf("segment_%04d.mp3", i))

		var bundle llm.PromptBundle
		var audio *tts.Result
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			bundle = s.llm.BuildSegmentImageBundle(gctx, bundleReq)
			return nil
		})
		g.Go(func() error {
			var synthErr error
			audio, synthErr = s.synth.SynthesizeSegment(gctx, segText, characterVoices, audioPath)
			return synthErr
		})
		if err := g.Wait(); err != nil {
			return fmt.Errorf("synthesizing segment %d: %w", i, err)
		}

		// The model's assignment wins over the heuristic pick when it
		// resolves to a real candidate.
		if idx := bundle.Assignment.PrimaryIndex; idx >= 0 && idx < len(characters) {
			primary = idx
			related = boundIndexes(bundle.Assignment.RelatedIndexes, len(characters))
			refs = collectReferenceImages(characters, primary, related)
		}
		prevSpeaker = primary

		var segCharacter *models.Character
		if primary >= 0 && primary < len(characters) {
			segCharacter = &characters[primary]
		}
		descriptor := scenecache.BuildDescriptor(scenecache.DescriptorInput{
			Character:   segCharacter,
			RelatedRefs: refs,
			SegmentText: segText,
			Metadata:    toModelMetadata(bundle.Metadata),
			IsSceneOnly: segCharacter == nil,
		})

		resolution, err := s.resolver.Resolve(ctx, imagegen.ResolveRequest{
			Descriptor:      descriptor,
			Prompt:          bundle.Prompt,
			RefImagePaths:   refs,
			AspectRatio:     aspectRatio(width, height),
			SelectorModelID: req.ModelID,
			Disallow:        ring.IDs(),
			ReuseEnabled:    req.SceneReuseEnabled() && s.cfg.SceneReuse.Enabled,
			OutPath:         imagePath,
		})
		if err != nil {
			return fmt.Errorf("resolving image for segment %d: %w", i, err)
		}
		report.Add(resolution.Source)
		if resolution.CacheEntryID > 0 {
			ring.Add(resolution.CacheEntryID)
		}

		if err := s.renderer.RenderClip(ctx, render.ClipRequest{
			ImagePath:     imagePath,
			AudioPath:     audio.Path,
			Text:          segText,
			OutPath:       clipPath,
			Duration:      audio.Duration,
			Index:         i,
			Width:         width,
			Height:        height,
			FPS:           req.FPS,
			Mode:          req.RenderMode,
			Motion:        req.CameraMotion,
			SubtitleStyle: req.SubtitleStyle,
			TTSGainDB:     s.cfg.Render.TTSGainDB,
		}); err != nil {
			return fmt.Errorf("rendering clip %d: %w", i, err)
		}

		// Per-segment intermediates are cheap to regenerate; clips are the
		// resume checkpoints and stay until the job is deleted.
		_ = os.Remove(imagePath)
		_ = os.Remove(audioPath)

		job.ClipCount++
		job.CurrentSegment = i + 1
		s.persistSegmentProgress(ctx, job, report, total)
	}

	if s.cancelled(ctx, job.ID) {
		job.MarkCancelled("cancelled before final composition")
		s.persist(ctx, job)
		return nil
	}

	clips := make([]string, total)
	for i := range clips {
		clips[i] = filepath.Join(clipsDir, fmt.Sprintf("clip_%04d.mp4", i))
	}

	if err := s.workspace.CheckFreeSpace(); err != nil {
		return err
	}

	job.MarkProgress(progressComposing, "composing", "composing final video")
	s.persist(ctx, job)

	stagedPath := filepath.Join(tempDir, "final.mp4")
	composeReq := compose.Request{
		ClipPaths: clips,
		OutPath:   stagedPath,
		Width:     width,
		Height:    height,
		FPS:       req.FPS,
		Mode:      req.RenderMode,
		TitleText: req.NovelAlias,
	}
	if req.WatermarkEnabled() {
		composeReq.WatermarkText = req.WatermarkText
		if composeReq.WatermarkText == "" {
			composeReq.WatermarkText = req.NovelAlias
		}
	}
	if req.BGMEnabled() {
		composeReq.BGMPath = compose.SelectBGM(s.cfg.Storage.CurrentBGM(), s.cfg.Storage.BGMDir())
	}
	if err := s.compositor.Compose(ctx, composeReq); err != nil {
		return fmt.Errorf("composing final video: %w", err)
	}

	if s.cancelled(ctx, job.ID) {
		job.MarkCancelled("cancelled before publishing final video")
		s.persist(ctx, job)
		return nil
	}

	job.MarkProgress(progressComposed, "publishing", "publishing final video")
	s.persist(ctx, job)

	published, err := s.workspace.PublishVideo(stagedPath, job.ID)
	if err != nil {
		return err
	}

	job.MarkCompleted(published, videoURL)
	s.persist(ctx, job)
	return nil
}

// planSegments computes the segment vector for a request: precomputed
// segments when the signature matches, otherwise a fresh plan, then range
// selection and the max-segments cap.
func (s *Scheduler) planSegments(ctx context.Context, req *models.GenerateVideoRequest) ([]string, error) {
	sigIn := segmentation.SignatureInput{
		Text:                req.Text,
		Method:              req.SegmentMethod,
		SentencesPerSegment: req.SegmentsPerImage,
		FixedSize:           req.FixedSegmentSize,
		ModelID:             req.ModelID,
	}

	segments := segmentation.ResolvePrecomputed(sigIn, req.RequestSignature, req.PrecomputedSegments)
	if len(segments) == 0 {
		plan := segmentation.BuildPlan(ctx, s.llm, segmentation.PlanRequest{
			Text:                req.Text,
			Method:              req.SegmentMethod,
			SentencesPerSegment: req.SegmentsPerImage,
			FixedSize:           req.FixedSegmentSize,
			ModelID:             req.ModelID,
		})
		segments = plan.Segments
	}

	if req.SegmentRange != "" {
		selected, err := segmentation.ApplySegmentRange(segments, req.SegmentRange)
		if err != nil {
			return nil, err
		}
		segments = selected
	}
	if req.MaxSegments > 0 && len(segments) > req.MaxSegments {
		segments = segments[:req.MaxSegments]
	}
	if len(segments) == 0 {
		return nil, models.ErrNoSegmentsProduced
	}
	return segments, nil
}

// persistSegmentProgress writes the per-segment checkpoint: counters,
// cumulative image-source report and the linear progress value.
func (s *Scheduler) persistSegmentProgress(ctx context.Context, job *models.Job, report models.ImageSourceReport, total int) {
	if err := job.SetImageSourceReport(report); err != nil {
		s.logger.Warn("failed to encode image source report", "job_id", job.ID, "error", err)
	}
	progress := progressSegmented
	if total > 0 {
		progress += (progressComposing - progressSegmented) * float64(job.CurrentSegment) / float64(total)
	}
	job.MarkProgress(progress, "rendering",
		fmt.Sprintf("rendered segment %d/%d", job.CurrentSegment, total))
	s.persist(ctx, job)
}

// persist writes the job row, logging instead of failing the pipeline on a
// checkpoint write error.
func (s *Scheduler) persist(ctx context.Context, job *models.Job) {
	if err := s.jobs.Set(ctx, job); err != nil {
		s.logger.Warn("failed to persist job checkpoint", "job_id", job.ID, "error", err)
	}
}

// cancelled reports whether the job's cancel flag is set. Read errors count
// as not cancelled so a transient store hiccup never kills a job.
func (s *Scheduler) cancelled(ctx context.Context, jobID string) bool {
	flagged, err := s.jobs.IsCancelled(ctx, jobID)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("failed to read cancel flag", "job_id", jobID, "error", err)
		return false
	}
	return flagged
}

// noRepeatWindow resolves the ring size: per-request override, else config.
func (s *Scheduler) noRepeatWindow(req *models.GenerateVideoRequest) int {
	if req.SceneReuseNoRepeatWindow != nil {
		return *req.SceneReuseNoRepeatWindow
	}
	return s.cfg.SceneReuse.NoRepeatWindow
}

// collectReferenceImages gathers the face references for a segment: the
// primary character's first, then related characters, at most two distinct.
func collectReferenceImages(characters []models.Character, primary int, related []int) []string {
	ordered := make([]int, 0, 1+len(related))
	if primary >= 0 && primary < len(characters) {
		ordered = append(ordered, primary)
	}
	ordered = append(ordered, related...)

	refs := make([]string, 0, maxReferenceImages)
	seen := make(map[string]bool, maxReferenceImages)
	for _, idx := range ordered {
		if idx < 0 || idx >= len(characters) {
			continue
		}
		path := strings.TrimSpace(characters[idx].ReferenceImagePath)
		if path == "" || seen[path] {
			continue
		}
		seen[path] = true
		refs = append(refs, path)
		if len(refs) == maxReferenceImages {
			break
		}
	}
	return refs
}

// boundIndexes keeps only indexes addressing a real candidate.
func boundIndexes(indexes []int, total int) []int {
	out := make([]int, 0, len(indexes))
	for _, idx := range indexes {
		if idx >= 0 && idx < total {
			out = append(out, idx)
		}
	}
	return out
}

// adjacentText returns the segment at index or "" when out of bounds.
func adjacentText(segments []string, index int) string {
	if index < 0 || index >= len(segments) {
		return ""
	}
	return segments[index]
}

// toModelMetadata bridges the prompt builder's metadata to the cache's type.
func toModelMetadata(m llm.SceneMetadata) models.SceneMetadata {
	return models.SceneMetadata{
		ActionHint:       m.ActionHint,
		LocationHint:     m.LocationHint,
		SceneElements:    m.SceneElements,
		ActionKeywords:   m.ActionKeywords,
		LocationKeywords: m.LocationKeywords,
		Mood:             m.Mood,
		ShotType:         m.ShotType,
	}
}

// aspectRatio reduces a frame size to its smallest ratio form, e.g. "9:16".
func aspectRatio(width, height int) string {
	if width <= 0 || height <= 0 {
		return ""
	}
	d := gcd(width, height)
	return fmt.Sprintf("%d:%d", width/d, height/d)
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// finalVideoExists applies the idempotence gate on the published output.
func finalVideoExists(path string) bool {
	stat, err := os.Stat(path)
	return err == nil && stat.Size() >= compose.MinFinalVideoSize
}

// buildVideoURL derives the job's video download URL from the base URL
// captured at submission time. An empty base yields a relative URL.
func buildVideoURL(baseURL, jobID string) string {
	return strings.TrimRight(baseURL, "/") + "/api/jobs/" + jobID + "/video"
}
