// Package storage manages the on-disk workspace for storyloom: the output,
// temp, and assets trees, atomic file publication, and the traversal guards
// used when serving files out of those trees.
package storage

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/disk"

	"github.com/storyloom/storyloom/internal/config"
	"github.com/storyloom/storyloom/internal/models"
)

// DefaultSweepAge is the minimum age a job scratch directory must reach
// before the orphan sweep may remove it. Young directories are left alone so
// a job created moments before the sweep is never removed mid-start.
const DefaultSweepAge = 1 * time.Hour

// ErrPathEscapes is returned when a requested file name would resolve outside
// the directory it is served from.
var ErrPathEscapes = errors.New("path escapes workspace")

// ErrLowDiskSpace is returned when free space falls below the configured floor.
var ErrLowDiskSpace = errors.New("insufficient free disk space")

// VideoFile describes one finished video in the output directory.
type VideoFile struct {
	Name    string    `json:"name"`
	Path    string    `json:"-"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modified_at"`
}

// Workspace owns the on-disk layout: output/ for finished videos, temp/ for
// per-job scratch space, and assets/ for the databases, the scene cache, the
// BGM library, and character reference images.
type Workspace struct {
	cfg    config.StorageConfig
	logger *slog.Logger
}

// NewWorkspace creates a Workspace over the configured directories.
// Nothing is created on disk until Bootstrap is called.
func NewWorkspace(cfg config.StorageConfig, logger *slog.Logger) *Workspace {
	if logger == nil {
		logger = slog.Default()
	}
	return &Workspace{cfg: cfg, logger: logger}
}

// Config returns the storage configuration backing this workspace.
func (w *Workspace) Config() config.StorageConfig {
	return w.cfg
}

// Bootstrap creates every directory the pipeline writes into.
// It is safe to call repeatedly.
func (w *Workspace) Bootstrap() error {
	dirs := []string{
		w.cfg.OutputDir,
		w.cfg.TempDir,
		w.cfg.JobsDir(),
		w.cfg.SceneCacheImagesDir(),
		w.cfg.BGMDir(),
	}
	if w.cfg.CharacterRefDir != "" {
		dirs = append(dirs, w.cfg.CharacterRefDir)
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}
	return nil
}

// EnsureJobWorkspace creates the scratch tree for one job, including the
// clips subdirectory that crash resume scans, and returns the job temp dir.
func (w *Workspace) EnsureJobWorkspace(jobID string) (string, error) {
	if !models.IsJobID(jobID) {
		return "", models.ErrJobIDInvalid
	}
	if err := os.MkdirAll(w.cfg.JobClipsDir(jobID), 0750); err != nil {
		return "", fmt.Errorf("creating job workspace: %w", err)
	}
	return w.cfg.JobTempDir(jobID), nil
}

// RemoveJobWorkspace deletes the scratch tree for one job.
// Missing directories are not an error.
func (w *Workspace) RemoveJobWorkspace(jobID string) error {
	if !models.IsJobID(jobID) {
		return models.ErrJobIDInvalid
	}
	if err := os.RemoveAll(w.cfg.JobTempDir(jobID)); err != nil {
		return fmt.Errorf("removing job workspace: %w", err)
	}
	return nil
}

// SweepOrphanTempDirs removes job scratch directories that no longer belong
// to a live job. A directory is removed only when its name is a well-formed
// job ID, the ID is absent from live, and the directory is older than maxAge
// (DefaultSweepAge when maxAge <= 0).
//
// Returns the number of directories removed and any error encountered.
func (w *Workspace) SweepOrphanTempDirs(live map[string]struct{}, maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(w.cfg.TempDir)
	if err != nil {
		if os.IsNotExist(err) {
			w.logger.Debug("temp directory does not exist, skipping sweep",
				"path", w.cfg.TempDir,
			)
			return 0, nil
		}
		return 0, fmt.Errorf("reading temp directory: %w", err)
	}

	if maxAge <= 0 {
		maxAge = DefaultSweepAge
	}
	cutoff := time.Now().Add(-maxAge)

	var removed int
	for _, entry := range entries {
		// Only job scratch directories are candidates
		if !entry.IsDir() || !models.IsJobID(entry.Name()) {
			continue
		}
		if _, ok := live[entry.Name()]; ok {
			continue
		}

		dirPath := filepath.Join(w.cfg.TempDir, entry.Name())

		info, err := entry.Info()
		if err != nil {
			w.logger.Warn("failed to get directory info",
				"path", dirPath,
				"error", err,
			)
			continue
		}

		if info.ModTime().After(cutoff) {
			w.logger.Debug("preserving recent temp directory",
				"path", dirPath,
				"age", time.Since(info.ModTime()).Round(time.Second),
			)
			continue
		}

		if err := os.RemoveAll(dirPath); err != nil {
			w.logger.Warn("failed to remove orphaned temp directory",
				"path", dirPath,
				"error", err,
			)
			continue
		}

		w.logger.Info("removed orphaned temp directory",
			"path", dirPath,
			"age", time.Since(info.ModTime()).Round(time.Second),
		)
		removed++
	}

	return removed, nil
}

// ResolveOutputFile resolves a flat file name inside the output directory.
// Absolute paths, subdirectory components, and anything that would resolve
// outside the output directory are rejected with ErrPathEscapes.
func (w *Workspace) ResolveOutputFile(name string) (string, error) {
	return resolveFlat(w.cfg.OutputDir, name)
}

// ResolveBGMFile resolves a flat file name inside the BGM library directory.
func (w *Workspace) ResolveBGMFile(name string) (string, error) {
	return resolveFlat(w.cfg.BGMDir(), name)
}

// resolveFlat joins a bare file name onto baseDir, rejecting anything that
// could escape the directory. Serving is flat on purpose: handlers only ever
// hand out files that live directly inside their directory.
func resolveFlat(baseDir, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: empty name", ErrPathEscapes)
	}
	if filepath.IsAbs(name) {
		return "", fmt.Errorf("%w: %s", ErrPathEscapes, name)
	}

	cleaned := filepath.Clean(name)
	if cleaned != filepath.Base(cleaned) {
		return "", fmt.Errorf("%w: %s", ErrPathEscapes, name)
	}

	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return "", fmt.Errorf("resolving base directory: %w", err)
	}

	fullPath := filepath.Join(absBase, cleaned)
	if !strings.HasPrefix(fullPath, absBase+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrPathEscapes, name)
	}
	return fullPath, nil
}

// ListOutputVideos returns the finished videos in the output directory,
// newest first.
func (w *Workspace) ListOutputVideos() ([]VideoFile, error) {
	entries, err := os.ReadDir(w.cfg.OutputDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading output directory: %w", err)
	}

	var videos []VideoFile
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".mp4") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		videos = append(videos, VideoFile{
			Name:    entry.Name(),
			Path:    filepath.Join(w.cfg.OutputDir, entry.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}

	sort.Slice(videos, func(i, j int) bool {
		if !videos[i].ModTime.Equal(videos[j].ModTime) {
			return videos[i].ModTime.After(videos[j].ModTime)
		}
		return videos[i].Name < videos[j].Name
	})
	return videos, nil
}

// PublishVideo moves a finished video from scratch space into the output
// directory under the job's final name and returns the destination path.
func (w *Workspace) PublishVideo(srcPath, jobID string) (string, error) {
	if !models.IsJobID(jobID) {
		return "", models.ErrJobIDInvalid
	}
	dest := w.cfg.OutputVideoPath(jobID)
	if err := PublishFile(srcPath, dest); err != nil {
		return "", fmt.Errorf("publishing video: %w", err)
	}
	return dest, nil
}

// DiskUsage reports filesystem usage for the output directory.
func (w *Workspace) DiskUsage() (*disk.UsageStat, error) {
	usage, err := disk.Usage(w.cfg.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("reading disk usage: %w", err)
	}
	return usage, nil
}

// CheckFreeSpace verifies the output filesystem has at least the configured
// minimum free space. A zero floor disables the check.
func (w *Workspace) CheckFreeSpace() error {
	floor := w.cfg.MinFreeSpace
	if floor <= 0 {
		return nil
	}
	usage, err := w.DiskUsage()
	if err != nil {
		// An unreadable filesystem is a soft pass; composition surfaces the
		// real error if the disk is actually unusable.
		w.logger.Warn("failed to read disk usage, skipping free space check",
			"path", w.cfg.OutputDir,
			"error", err,
		)
		return nil
	}
	if usage.Free < uint64(floor.Bytes()) {
		return fmt.Errorf("%w: %s free, %s required",
			ErrLowDiskSpace, config.ByteSize(usage.Free).String(), floor.String())
	}
	return nil
}
