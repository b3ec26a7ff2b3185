package handlers

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	"github.com/storyloom/storyloom/internal/ffmpeg"
	"github.com/storyloom/storyloom/internal/imagegen"
	"github.com/storyloom/storyloom/internal/observability"
	"github.com/storyloom/storyloom/internal/storage"
)

const (
	thumbnailWidth  = 320
	thumbnailHeight = 180
	thumbnailOffset = "00:00:01"
)

// VideosHandler lists and serves finished output videos.
type VideosHandler struct {
	workspace *storage.Workspace
	detector  *ffmpeg.BinaryDetector
	logger    *slog.Logger
}

// NewVideosHandler creates a videos handler. The detector may be nil, in
// which case thumbnails return 503.
func NewVideosHandler(workspace *storage.Workspace, detector *ffmpeg.BinaryDetector, logger *slog.Logger) *VideosHandler {
	return &VideosHandler{
		workspace: workspace,
		detector:  detector,
		logger:    observability.WithComponent(logger, "videos-handler"),
	}
}

// Register registers the video listing with the API.
func (h *VideosHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listVideos",
		Method:      "GET",
		Path:        "/api/videos",
		Summary:     "List finished videos",
		Tags:        []string{"Videos"},
	}, h.List)
}

// RegisterChiRoutes registers the download and thumbnail routes as raw
// handlers so range requests work on the video bytes.
func (h *VideosHandler) RegisterChiRoutes(router chi.Router) {
	router.Get("/api/videos/{name}", h.serveVideo)
	router.Get("/api/videos/{name}/thumbnail", h.serveThumbnail)
}

// ListVideosOutput is the finished video listing, newest first.
type ListVideosOutput struct {
	Body struct {
		Videos []VideoInfo `json:"videos"`
	}
}

// List returns the finished videos in the output directory.
func (h *VideosHandler) List(ctx context.Context, _ *struct{}) (*ListVideosOutput, error) {
	files, err := h.workspace.ListOutputVideos()
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list videos", err)
	}

	out := &ListVideosOutput{}
	out.Body.Videos = make([]VideoInfo, 0, len(files))
	for _, f := range files {
		escaped := url.PathEscape(f.Name)
		out.Body.Videos = append(out.Body.Videos, VideoInfo{
			Name:         f.Name,
			SizeBytes:    f.Size,
			ModifiedAt:   f.ModTime.UTC().Format(time.RFC3339),
			URL:          "/api/videos/" + escaped,
			ThumbnailURL: "/api/videos/" + escaped + "/thumbnail",
		})
	}
	return out, nil
}

// serveVideo streams one output video with range support.
func (h *VideosHandler) serveVideo(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	path, err := h.resolveVideo(name)
	if err != nil {
		writeVideoError(w, err)
		return
	}

	w.Header().Set("Content-Type", "video/mp4")
	http.ServeFile(w, r, path)
}

// serveThumbnail extracts, downscales and caches a JPEG poster frame.
func (h *VideosHandler) serveThumbnail(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	videoPath, err := h.resolveVideo(name)
	if err != nil {
		writeVideoError(w, err)
		return
	}

	thumbPath, err := h.thumbnailFor(r.Context(), name, videoPath)
	if err != nil {
		h.logger.Warn("thumbnail generation failed", "video", name, "error", err)
		http.Error(w, "thumbnail unavailable", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	http.ServeFile(w, r, thumbPath)
}

// resolveVideo maps a flat file name onto the output directory and verifies
// the file exists.
func (h *VideosHandler) resolveVideo(name string) (string, error) {
	path, err := h.workspace.ResolveOutputFile(name)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", os.ErrNotExist
	}
	return path, nil
}

// thumbnailFor returns a cached thumbnail, generating it on first request.
// The cache key includes the video's mtime so replaced files refresh.
func (h *VideosHandler) thumbnailFor(ctx context.Context, name, videoPath string) (string, error) {
	if h.detector == nil {
		return "", errors.New("ffmpeg not configured")
	}

	info, err := os.Stat(videoPath)
	if err != nil {
		return "", err
	}

	cacheDir := filepath.Join(h.workspace.Config().TempDir, "thumbs")
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return "", fmt.Errorf("creating thumbnail cache: %w", err)
	}

	base := strings.TrimSuffix(name, filepath.Ext(name))
	thumbPath := filepath.Join(cacheDir, fmt.Sprintf("%s_%d.jpg", base, info.ModTime().Unix()))
	if _, err := os.Stat(thumbPath); err == nil {
		return thumbPath, nil
	}

	bins, err := h.detector.Detect(ctx)
	if err != nil {
		return "", fmt.Errorf("detecting ffmpeg: %w", err)
	}

	framePath := thumbPath + ".frame.png"
	defer os.Remove(framePath)

	if err := ffmpeg.Run(ctx, bins.FFmpegPath,
		"-ss", thumbnailOffset,
		"-i", videoPath,
		"-frames:v", "1",
		"-y", framePath,
	); err != nil {
		return "", fmt.Errorf("extracting poster frame: %w", err)
	}

	if err := h.encodeThumbnail(framePath, thumbPath); err != nil {
		return "", err
	}
	return thumbPath, nil
}

func (h *VideosHandler) encodeThumbnail(framePath, thumbPath string) error {
	f, err := os.Open(framePath)
	if err != nil {
		return err
	}
	img, _, err := image.Decode(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("decoding poster frame: %w", err)
	}

	scaled := imagegen.ScaleImage(img, thumbnailWidth, thumbnailHeight)

	tmp := thumbPath + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := jpeg.Encode(out, scaled, &jpeg.Options{Quality: 80}); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("encoding thumbnail: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, thumbPath)
}

func writeVideoError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrPathEscapes):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, os.ErrNotExist):
		http.Error(w, "video not found", http.StatusNotFound)
	default:
		http.Error(w, "failed to resolve video", http.StatusInternalServerError)
	}
}
