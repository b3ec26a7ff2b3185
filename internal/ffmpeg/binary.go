// Package ffmpeg locates the FFmpeg and FFprobe binaries, runs encoder
// subprocesses, and probes rendered media files.
package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/storyloom/storyloom/internal/models"
	"github.com/storyloom/storyloom/internal/util"
)

// BinaryInfo describes the detected FFmpeg installation.
type BinaryInfo struct {
	FFmpegPath    string   `json:"ffmpeg_path"`
	FFprobePath   string   `json:"ffprobe_path"`
	Version       string   `json:"version"`
	MajorVersion  int      `json:"major_version"`
	MinorVersion  int      `json:"minor_version"`
	Configuration string   `json:"configuration,omitempty"`
	Encoders      []string `json:"encoders,omitempty"`
}

// HasEncoder reports whether the installation ships the named encoder.
func (info *BinaryInfo) HasEncoder(name string) bool {
	return slices.Contains(info.Encoders, name)
}

// SupportsMinVersion reports whether the installation is at least major.minor.
func (info *BinaryInfo) SupportsMinVersion(major, minor int) bool {
	if info.MajorVersion != major {
		return info.MajorVersion > major
	}
	return info.MinorVersion >= minor
}

// BinaryDetector finds the ffmpeg and ffprobe binaries and caches the result.
// Detection shells out to ffmpeg, so callers share one detector per process.
type BinaryDetector struct {
	mu           sync.RWMutex
	info         *BinaryInfo
	lastDetected time.Time
	cacheTTL     time.Duration
	ffmpegPath   string
	ffprobePath  string
}

// NewBinaryDetector creates a detector with a five minute cache.
func NewBinaryDetector() *BinaryDetector {
	return &BinaryDetector{cacheTTL: 5 * time.Minute}
}

// WithCacheTTL overrides how long a detection result is reused.
func (d *BinaryDetector) WithCacheTTL(ttl time.Duration) *BinaryDetector {
	d.cacheTTL = ttl
	return d
}

// WithConfiguredPaths pins explicit binary paths that take precedence over the
// environment and PATH search. Empty values keep auto-detection.
func (d *BinaryDetector) WithConfiguredPaths(ffmpegPath, ffprobePath string) *BinaryDetector {
	d.ffmpegPath = ffmpegPath
	d.ffprobePath = ffprobePath
	return d
}

// Detect returns the cached binary info, running detection when the cache is
// empty or stale.
func (d *BinaryDetector) Detect(ctx context.Context) (*BinaryInfo, error) {
	d.mu.RLock()
	info, fresh := d.info, time.Since(d.lastDetected) < d.cacheTTL
	d.mu.RUnlock()
	if info != nil && fresh {
		return info, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.info != nil && time.Since(d.lastDetected) < d.cacheTTL {
		return d.info, nil
	}

	info, err := d.detect(ctx)
	if err != nil {
		return nil, err
	}
	d.info = info
	d.lastDetected = time.Now()
	return info, nil
}

// Clear drops the cached result so the next Detect runs fresh.
func (d *BinaryDetector) Clear() {
	d.mu.Lock()
	d.info = nil
	d.mu.Unlock()
}

func (d *BinaryDetector) detect(ctx context.Context) (*BinaryInfo, error) {
	// Search order per binary: configured path, env var, working
	// directory, PATH.
	ffmpegPath, err := resolveBinary(d.ffmpegPath, "ffmpeg", "STORYLOOM_FFMPEG_BINARY")
	if err != nil {
		return nil, fmt.Errorf("%w: %s", models.ErrEncoderNotFound, err)
	}

	info := &BinaryInfo{FFmpegPath: ffmpegPath}

	// ffprobe is optional, duration probing has pure-Go fallbacks.
	if probePath, err := resolveBinary(d.ffprobePath, "ffprobe", "STORYLOOM_FFPROBE_BINARY"); err == nil {
		info.FFprobePath = probePath
	}

	versionOut, err := Output(ctx, ffmpegPath, "-version")
	if err != nil {
		return nil, fmt.Errorf("getting ffmpeg version: %w", err)
	}
	version, err := parseVersionOutput(versionOut)
	if err != nil {
		return nil, err
	}
	info.Version = version.Full
	info.MajorVersion = version.Major
	info.MinorVersion = version.Minor
	info.Configuration = version.Configuration

	if encodersOut, err := Output(ctx, ffmpegPath, "-encoders", "-hide_banner"); err == nil {
		info.Encoders = parseEncoderList(encodersOut)
	}
	return info, nil
}

// resolveBinary prefers an explicitly configured path over the search chain.
func resolveBinary(configured, name, envVar string) (string, error) {
	if configured == "" {
		return util.FindBinary(name, envVar)
	}
	if !isExecutable(configured) {
		return "", fmt.Errorf("configured %s path %q is not executable", name, configured)
	}
	return configured, nil
}

func isExecutable(path string) bool {
	stat, err := os.Stat(path)
	return err == nil && !stat.IsDir() && stat.Mode()&0111 != 0
}

// versionInfo is the parsed banner of `ffmpeg -version`.
type versionInfo struct {
	Full          string
	Major         int
	Minor         int
	Configuration string
}

// Matches "6.1.1" as well as git-build strings like "n7.0-2-gabcdef".
var versionExpr = regexp.MustCompile(`^n?(\d+)\.(\d+)`)

func parseVersionOutput(output []byte) (*versionInfo, error) {
	info := &versionInfo{}

	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "ffmpeg version"):
			fields := strings.Fields(line)
			if len(fields) < 3 {
				continue
			}
			info.Full = fields[2]
			if m := versionExpr.FindStringSubmatch(info.Full); m != nil {
				info.Major, _ = strconv.Atoi(m[1])
				info.Minor, _ = strconv.Atoi(m[2])
			}
		case strings.HasPrefix(line, "configuration:"):
			info.Configuration = strings.TrimSpace(strings.TrimPrefix(line, "configuration:"))
		}
	}

	if info.Full == "" {
		return nil, fmt.Errorf("failed to parse ffmpeg version")
	}
	return info, nil
}

// parseEncoderList extracts encoder names from `ffmpeg -encoders` output.
// The listing starts after a dashed separator; each entry is a flags column
// (first letter V, A or S for the media type) followed by the encoder name.
func parseEncoderList(output []byte) []string {
	var encoders []string
	seenSeparator := false

	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		if !seenSeparator {
			seenSeparator = strings.Contains(line, "------")
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		switch fields[0][0] {
		case 'V', 'A', 'S':
			encoders = append(encoders, fields[1])
		}
	}
	return encoders
}
