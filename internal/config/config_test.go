package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validTestConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080},
		Storage: StorageConfig{
			OutputDir: "output",
			TempDir:   "temp",
			AssetsDir: "assets",
		},
		Image: ImageConfig{Attempts: 2},
		TTS: TTSConfig{
			LocalAttempts: 2,
			NarratorVoice: "zh-CN-YunxiNeural",
		},
		Render: RenderConfig{
			FPS:          30,
			Resolution:   "1080x1920",
			Mode:         "balanced",
			CameraMotion: "vertical",
		},
		SceneReuse: SceneReuseConfig{NoRepeatWindow: 3, MaxEntries: 3000},
		Scheduler:  SchedulerConfig{MaxParallelJobs: 2},
		Logging:    LoggingConfig{Level: "info", Format: "json"},
	}
}

func TestLoad_Defaults(t *testing.T) {
	// Load without config file should use defaults
	cfg, err := Load("")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	// Server defaults
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSAllowOrigins)

	// Storage defaults
	assert.Equal(t, "output", cfg.Storage.OutputDir)
	assert.Equal(t, "temp", cfg.Storage.TempDir)
	assert.Equal(t, "assets", cfg.Storage.AssetsDir)

	// Provider defaults
	assert.Equal(t, "https://api.openai.com/v1", cfg.LLM.BaseURL)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.Equal(t, 60*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, "nano-banana", cfg.Image.Model)
	assert.Equal(t, 45*time.Second, cfg.Image.AttemptTimeout)
	assert.Equal(t, 2, cfg.Image.Attempts)

	// TTS defaults
	assert.Equal(t, 90*time.Second, cfg.TTS.RemoteTimeout)
	assert.Equal(t, 45*time.Second, cfg.TTS.LocalTimeout)
	assert.Equal(t, 350*time.Millisecond, cfg.TTS.RetryBackoff)
	assert.Equal(t, "zh-CN-YunxiNeural", cfg.TTS.NarratorVoice)

	// Render defaults
	assert.Equal(t, 30, cfg.Render.FPS)
	assert.Equal(t, "1080x1920", cfg.Render.Resolution)
	assert.Equal(t, "balanced", cfg.Render.Mode)
	assert.Equal(t, "vertical", cfg.Render.CameraMotion)

	// Scene reuse defaults
	assert.True(t, cfg.SceneReuse.Enabled)
	assert.Equal(t, 3, cfg.SceneReuse.NoRepeatWindow)
	assert.Equal(t, 3000, cfg.SceneReuse.MaxEntries)

	// Scheduler defaults
	assert.Equal(t, 2, cfg.Scheduler.MaxParallelJobs)
	assert.True(t, cfg.Scheduler.ResumeOnStart)

	// Maintenance defaults
	assert.Equal(t, 7*24*time.Hour, cfg.Maintenance.JobRetention.Duration())

	// Logging defaults
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_FromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  host: "127.0.0.1"
  port: 9090
  read_timeout: 60s

storage:
  output_dir: "/var/lib/storyloom/output"
  assets_dir: "/var/lib/storyloom/assets"

llm:
  base_url: "http://localhost:11434/v1"
  model: "qwen2.5"

render:
  mode: "quality"
  resolution: "720x1280"

logging:
  level: "debug"
  format: "text"
`
	err := os.WriteFile(configPath, []byte(configContent), 0o600)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 60*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "/var/lib/storyloom/output", cfg.Storage.OutputDir)
	assert.Equal(t, "/var/lib/storyloom/assets", cfg.Storage.AssetsDir)
	assert.Equal(t, "http://localhost:11434/v1", cfg.LLM.BaseURL)
	assert.Equal(t, "qwen2.5", cfg.LLM.Model)
	assert.Equal(t, "quality", cfg.Render.Mode)
	assert.Equal(t, "720x1280", cfg.Render.Resolution)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)

	// Unset values keep defaults
	assert.Equal(t, "temp", cfg.Storage.TempDir)
	assert.Equal(t, 30, cfg.Render.FPS)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("STORYLOOM_SERVER_PORT", "3000")
	t.Setenv("STORYLOOM_LLM_MODEL", "gpt-4o")
	t.Setenv("STORYLOOM_LOGGING_LEVEL", "warn")
	t.Setenv("STORYLOOM_SCENE_REUSE_NO_REPEAT_WINDOW", "5")

	cfg, err := Load("")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "gpt-4o", cfg.LLM.Model)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, 5, cfg.SceneReuse.NoRepeatWindow)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  port: 8080
llm:
  model: "gpt-4o-mini"
`
	err := os.WriteFile(configPath, []byte(configContent), 0o600)
	require.NoError(t, err)

	t.Setenv("STORYLOOM_SERVER_PORT", "9000")

	cfg, err := Load(configPath)
	require.NoError(t, err)

	// Env should override file
	assert.Equal(t, 9000, cfg.Server.Port)
	// File value should be preserved
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := validTestConfig()
	err := cfg.Validate()
	assert.NoError(t, err)
}

func TestValidate_InvalidPort(t *testing.T) {
	tests := []struct {
		name string
		port int
	}{
		{"zero port", 0},
		{"negative port", -1},
		{"port too high", 70000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validTestConfig()
			cfg.Server.Port = tt.port
			err := cfg.Validate()
			assert.Error(t, err)
			assert.Contains(t, err.Error(), "server.port")
		})
	}
}

func TestValidate_InvalidRender(t *testing.T) {
	tests := []struct {
		name        string
		modify      func(*Config)
		errContains string
	}{
		{"zero fps", func(c *Config) { c.Render.FPS = 0 }, "render.fps"},
		{"bad resolution", func(c *Config) { c.Render.Resolution = "wide" }, "render.resolution"},
		{"missing height", func(c *Config) { c.Render.Resolution = "1080" }, "render.resolution"},
		{"bad mode", func(c *Config) { c.Render.Mode = "turbo" }, "render.mode"},
		{"bad motion", func(c *Config) { c.Render.CameraMotion = "spiral" }, "render.camera_motion"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validTestConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			assert.Error(t, err)
			assert.Contains(t, err.Error(), tt.errContains)
		})
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := validTestConfig()
	cfg.Logging.Level = "invalid"
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "logging.level")
}

func TestValidate_InvalidLogFormat(t *testing.T) {
	cfg := validTestConfig()
	cfg.Logging.Format = "xml"
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "logging.format")
}

func TestValidate_SceneReuse(t *testing.T) {
	tests := []struct {
		name        string
		modify      func(*Config)
		errContains string
	}{
		{"negative window", func(c *Config) { c.SceneReuse.NoRepeatWindow = -1 }, "no_repeat_window"},
		{"zero max entries", func(c *Config) { c.SceneReuse.MaxEntries = 0 }, "max_entries"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validTestConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			assert.Error(t, err)
			assert.Contains(t, err.Error(), tt.errContains)
		})
	}
}

func TestValidate_Scheduler(t *testing.T) {
	cfg := validTestConfig()
	cfg.Scheduler.MaxParallelJobs = 0
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "max_parallel_jobs")
}

func TestServerConfig_Address(t *testing.T) {
	tests := []struct {
		name     string
		host     string
		port     int
		expected string
	}{
		{"localhost", "127.0.0.1", 8080, "127.0.0.1:8080"},
		{"all interfaces", "0.0.0.0", 3000, "0.0.0.0:3000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &ServerConfig{Host: tt.host, Port: tt.port}
			assert.Equal(t, tt.expected, cfg.Address())
		})
	}
}

func TestStorageConfig_Paths(t *testing.T) {
	cfg := &StorageConfig{
		OutputDir: "output",
		TempDir:   "temp",
		AssetsDir: "assets",
	}

	assert.Equal(t, filepath.Join("assets", "scene_cache"), cfg.SceneCacheDir())
	assert.Equal(t, filepath.Join("assets", "scene_cache", "images"), cfg.SceneCacheImagesDir())
	assert.Equal(t, filepath.Join("assets", "scene_cache", "scene_cache.db"), cfg.SceneCacheDB())
	assert.Equal(t, filepath.Join("assets", "jobs", "jobs.db"), cfg.JobsDB())
	assert.Equal(t, filepath.Join("assets", "bgm"), cfg.BGMDir())
	assert.Equal(t, filepath.Join("assets", "bgm.mp3"), cfg.CurrentBGM())
	assert.Equal(t, filepath.Join("temp", "abc123"), cfg.JobTempDir("abc123"))
	assert.Equal(t, filepath.Join("temp", "abc123", "clips"), cfg.JobClipsDir("abc123"))
	assert.Equal(t, filepath.Join("output", "abc123.mp4"), cfg.OutputVideoPath("abc123"))
}

func TestRenderConfig_ResolutionSize(t *testing.T) {
	tests := []struct {
		name       string
		resolution string
		wantW      int
		wantH      int
		wantErr    bool
	}{
		{"portrait", "1080x1920", 1080, 1920, false},
		{"landscape", "1920x1080", 1920, 1080, false},
		{"uppercase separator", "720X1280", 720, 1280, false},
		{"whitespace", " 1080x1920 ", 1080, 1920, false},
		{"missing height", "1080", 0, 0, true},
		{"not a number", "widextall", 0, 0, true},
		{"too small", "8x8", 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &RenderConfig{Resolution: tt.resolution}
			w, h, err := cfg.ResolutionSize()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantW, w)
			assert.Equal(t, tt.wantH, h)
		})
	}
}

func TestLoad_InvalidConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	invalidContent := `
server:
  port: "not a number"
  invalid yaml structure
`
	err := os.WriteFile(configPath, []byte(invalidContent), 0o600)
	require.NoError(t, err)

	_, err = Load(configPath)
	assert.Error(t, err)
}

func TestLoad_NonExistentFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}
