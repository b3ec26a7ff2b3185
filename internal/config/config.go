// Package config provides configuration management for storyloom using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort       = 8080
	defaultServerTimeout    = 30 * time.Second
	defaultIdleTimeout      = 120 * time.Second
	defaultShutdownTimeout  = 10 * time.Second
	defaultLLMTimeout       = 60 * time.Second
	defaultImageTimeout     = 45 * time.Second
	defaultImageAttempts    = 2
	defaultTTSRemoteTimeout = 90 * time.Second
	defaultTTSLocalTimeout  = 45 * time.Second
	defaultTTSLocalAttempts = 2
	defaultTTSRetryBackoff  = 350 * time.Millisecond
	defaultFPS              = 30
	defaultTTSGainDB        = 6
	defaultNoRepeatWindow   = 3
	defaultCacheMaxEntries  = 3000
	defaultMaxParallelJobs  = 2
	defaultJobRetention     = 7 * 24 * time.Hour
)

// Config holds all configuration for the application.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Storage     StorageConfig     `mapstructure:"storage"`
	LLM         LLMConfig         `mapstructure:"llm"`
	Image       ImageConfig       `mapstructure:"image"`
	TTS         TTSConfig         `mapstructure:"tts"`
	Render      RenderConfig      `mapstructure:"render"`
	SceneReuse  SceneReuseConfig  `mapstructure:"scene_reuse"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	FFmpeg      FFmpegConfig      `mapstructure:"ffmpeg"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host             string        `mapstructure:"host"`
	Port             int           `mapstructure:"port"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	IdleTimeout      time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout  time.Duration `mapstructure:"shutdown_timeout"`
	CORSAllowOrigins []string      `mapstructure:"cors_allow_origins"`
	// BaseURL is the externally visible URL prefix used when building
	// download links in job responses. Empty means relative URLs.
	BaseURL string `mapstructure:"base_url"`
}

// StorageConfig holds the on-disk workspace layout.
type StorageConfig struct {
	OutputDir        string `mapstructure:"output_dir"`
	TempDir          string `mapstructure:"temp_dir"`
	AssetsDir        string `mapstructure:"assets_dir"`
	CharacterRefDir  string `mapstructure:"character_ref_dir"`
	SubtitleFontPath string `mapstructure:"subtitle_font_path"`
	// MinFreeSpace is the free-space floor checked before final composition.
	// Supports human-readable values like "500MB", "1GB", or raw byte counts.
	MinFreeSpace ByteSize `mapstructure:"min_free_space"`
}

// LLMConfig holds the text-model provider settings.
type LLMConfig struct {
	APIKey  string        `mapstructure:"api_key" masq:"secret"`
	BaseURL string        `mapstructure:"base_url"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// ImageConfig holds the image-model provider settings.
type ImageConfig struct {
	APIKey         string        `mapstructure:"api_key" masq:"secret"`
	BaseURL        string        `mapstructure:"base_url"`
	Model          string        `mapstructure:"model"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`
	Attempts       int           `mapstructure:"attempts"`
}

// TTSConfig holds speech synthesis settings.
type TTSConfig struct {
	RemoteURL     string        `mapstructure:"remote_url"`
	RemoteTimeout time.Duration `mapstructure:"remote_timeout"`
	LocalTimeout  time.Duration `mapstructure:"local_timeout"`
	LocalAttempts int           `mapstructure:"local_attempts"`
	RetryBackoff  time.Duration `mapstructure:"retry_backoff"`
	NarratorVoice string        `mapstructure:"narrator_voice"`
}

// RenderConfig holds defaults for clip rendering and final composition.
type RenderConfig struct {
	FPS           int    `mapstructure:"fps"`
	Resolution    string `mapstructure:"resolution"` // WxH, e.g. 1080x1920
	Mode          string `mapstructure:"mode"`       // fast, balanced, quality
	CameraMotion  string `mapstructure:"camera_motion"`
	SubtitleStyle string `mapstructure:"subtitle_style"`
	TTSGainDB     int    `mapstructure:"tts_gain_db"`
}

// SceneReuseConfig holds scene-image cache settings.
type SceneReuseConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	NoRepeatWindow int  `mapstructure:"no_repeat_window"`
	MaxEntries     int  `mapstructure:"max_entries"`
}

// SchedulerConfig holds job worker settings.
type SchedulerConfig struct {
	MaxParallelJobs int  `mapstructure:"max_parallel_jobs"`
	ResumeOnStart   bool `mapstructure:"resume_on_start"`
}

// MaintenanceConfig holds retention and periodic cleanup settings.
// Cron expressions use six fields (seconds first).
type MaintenanceConfig struct {
	// JobRetention accepts extended duration syntax like "7d" or "2w".
	JobRetention       Duration `mapstructure:"job_retention"`
	TempSweepSchedule  string   `mapstructure:"temp_sweep_schedule"`
	CachePruneSchedule string   `mapstructure:"cache_prune_schedule"`
}

// FFmpegConfig holds encoder binary configuration.
type FFmpegConfig struct {
	BinaryPath string `mapstructure:"binary_path"` // Path to ffmpeg binary (empty = auto-detect)
	ProbePath  string `mapstructure:"probe_path"`  // Path to ffprobe binary (empty = auto-detect)
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // trace, debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with STORYLOOM_ and use underscores
// for nesting. Example: STORYLOOM_SERVER_PORT=8080.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	SetDefaults(v)

	// Config file settings
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/storyloom")
		v.AddConfigPath("$HOME/.storyloom")
	}

	// Environment variable settings
	v.SetEnvPrefix("STORYLOOM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - we'll use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file so defaults are in place.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.idle_timeout", defaultIdleTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_allow_origins", []string{"*"})
	v.SetDefault("server.base_url", "")

	// Storage defaults
	v.SetDefault("storage.output_dir", "output")
	v.SetDefault("storage.temp_dir", "temp")
	v.SetDefault("storage.assets_dir", "assets")
	v.SetDefault("storage.character_ref_dir", filepath.Join("assets", "character_refs"))
	v.SetDefault("storage.subtitle_font_path", "")
	v.SetDefault("storage.min_free_space", int64(500*1024*1024))

	// LLM provider defaults
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.timeout", defaultLLMTimeout)

	// Image provider defaults
	v.SetDefault("image.api_key", "")
	v.SetDefault("image.base_url", "https://api.poe.com/v1")
	v.SetDefault("image.model", "nano-banana")
	v.SetDefault("image.attempt_timeout", defaultImageTimeout)
	v.SetDefault("image.attempts", defaultImageAttempts)

	// TTS defaults
	v.SetDefault("tts.remote_url", "")
	v.SetDefault("tts.remote_timeout", defaultTTSRemoteTimeout)
	v.SetDefault("tts.local_timeout", defaultTTSLocalTimeout)
	v.SetDefault("tts.local_attempts", defaultTTSLocalAttempts)
	v.SetDefault("tts.retry_backoff", defaultTTSRetryBackoff)
	v.SetDefault("tts.narrator_voice", "zh-CN-YunxiNeural")

	// Render defaults
	v.SetDefault("render.fps", defaultFPS)
	v.SetDefault("render.resolution", "1080x1920")
	v.SetDefault("render.mode", "balanced")
	v.SetDefault("render.camera_motion", "vertical")
	v.SetDefault("render.subtitle_style", "white_black")
	v.SetDefault("render.tts_gain_db", defaultTTSGainDB)

	// Scene reuse defaults
	v.SetDefault("scene_reuse.enabled", true)
	v.SetDefault("scene_reuse.no_repeat_window", defaultNoRepeatWindow)
	v.SetDefault("scene_reuse.max_entries", defaultCacheMaxEntries)

	// Scheduler defaults
	v.SetDefault("scheduler.max_parallel_jobs", defaultMaxParallelJobs)
	v.SetDefault("scheduler.resume_on_start", true)

	// Maintenance defaults (6-field cron, seconds first)
	v.SetDefault("maintenance.job_retention", int64(defaultJobRetention))
	v.SetDefault("maintenance.temp_sweep_schedule", "0 30 3 * * *")
	v.SetDefault("maintenance.cache_prune_schedule", "0 0 4 * * *")

	// FFmpeg defaults
	v.SetDefault("ffmpeg.binary_path", "")
	v.SetDefault("ffmpeg.probe_path", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	// Server validation
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	// Storage validation
	if c.Storage.OutputDir == "" {
		return fmt.Errorf("storage.output_dir is required")
	}
	if c.Storage.TempDir == "" {
		return fmt.Errorf("storage.temp_dir is required")
	}
	if c.Storage.AssetsDir == "" {
		return fmt.Errorf("storage.assets_dir is required")
	}

	// Render validation
	if c.Render.FPS < 1 {
		return fmt.Errorf("render.fps must be at least 1")
	}
	if _, _, err := c.Render.ResolutionSize(); err != nil {
		return fmt.Errorf("render.resolution: %w", err)
	}
	validModes := map[string]bool{"fast": true, "balanced": true, "quality": true}
	if !validModes[c.Render.Mode] {
		return fmt.Errorf("render.mode must be one of: fast, balanced, quality")
	}
	validMotions := map[string]bool{"vertical": true, "horizontal": true, "auto": true}
	if !validMotions[c.Render.CameraMotion] {
		return fmt.Errorf("render.camera_motion must be one of: vertical, horizontal, auto")
	}

	// Provider validation
	if c.Image.Attempts < 1 {
		return fmt.Errorf("image.attempts must be at least 1")
	}
	if c.TTS.LocalAttempts < 1 {
		return fmt.Errorf("tts.local_attempts must be at least 1")
	}
	if c.TTS.NarratorVoice == "" {
		return fmt.Errorf("tts.narrator_voice is required")
	}

	// Scene reuse validation
	if c.SceneReuse.NoRepeatWindow < 0 {
		return fmt.Errorf("scene_reuse.no_repeat_window must not be negative")
	}
	if c.SceneReuse.MaxEntries < 1 {
		return fmt.Errorf("scene_reuse.max_entries must be at least 1")
	}

	// Scheduler validation
	if c.Scheduler.MaxParallelJobs < 1 {
		return fmt.Errorf("scheduler.max_parallel_jobs must be at least 1")
	}

	// Logging validation
	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: trace, debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// SceneCacheDir returns the scene cache root directory.
func (c *StorageConfig) SceneCacheDir() string {
	return filepath.Join(c.AssetsDir, "scene_cache")
}

// SceneCacheImagesDir returns the directory holding cached scene images.
func (c *StorageConfig) SceneCacheImagesDir() string {
	return filepath.Join(c.SceneCacheDir(), "images")
}

// SceneCacheDB returns the path to the scene cache index database.
func (c *StorageConfig) SceneCacheDB() string {
	return filepath.Join(c.SceneCacheDir(), "scene_cache.db")
}

// JobsDir returns the directory holding the job store database.
func (c *StorageConfig) JobsDir() string {
	return filepath.Join(c.AssetsDir, "jobs")
}

// JobsDB returns the path to the job store database.
func (c *StorageConfig) JobsDB() string {
	return filepath.Join(c.JobsDir(), "jobs.db")
}

// BGMDir returns the background music library directory.
func (c *StorageConfig) BGMDir() string {
	return filepath.Join(c.AssetsDir, "bgm")
}

// CurrentBGM returns the path of the "current BGM" pointer copy.
func (c *StorageConfig) CurrentBGM() string {
	return filepath.Join(c.AssetsDir, "bgm.mp3")
}

// JobTempDir returns the scratch directory for one job.
func (c *StorageConfig) JobTempDir(jobID string) string {
	return filepath.Join(c.TempDir, jobID)
}

// JobClipsDir returns the per-segment clip directory for one job.
func (c *StorageConfig) JobClipsDir(jobID string) string {
	return filepath.Join(c.TempDir, jobID, "clips")
}

// OutputVideoPath returns the final video path for one job.
func (c *StorageConfig) OutputVideoPath(jobID string) string {
	return filepath.Join(c.OutputDir, jobID+".mp4")
}

// ResolutionSize parses the WxH resolution string.
func (c *RenderConfig) ResolutionSize() (width, height int, err error) {
	parts := strings.SplitN(strings.ToLower(strings.TrimSpace(c.Resolution)), "x", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected WxH, got %q", c.Resolution)
	}
	width, err = strconv.Atoi(parts[0])
	if err != nil || width < 16 {
		return 0, 0, fmt.Errorf("invalid width in %q", c.Resolution)
	}
	height, err = strconv.Atoi(parts[1])
	if err != nil || height < 16 {
		return 0, 0, fmt.Errorf("invalid height in %q", c.Resolution)
	}
	return width, height, nil
}
