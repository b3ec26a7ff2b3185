package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/storyloom/storyloom/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Commands for managing storyloom configuration.`,
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the effective configuration",
	Long: `Dump the effective configuration values in YAML format.

Without a --config flag this shows the defaults merged with any discovered
config file and STORYLOOM_ environment variables. Redirect the output to a
file to create a configuration template:

  storyloom config dump > config.yaml

Environment variables use the STORYLOOM_ prefix and underscores for nesting.
Example: server.port -> STORYLOOM_SERVER_PORT`,
	RunE: runConfigDump,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

func runConfigDump(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(dumpView(cfg))
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	fmt.Println("# storyloom configuration")
	fmt.Println("#")
	fmt.Println("# Duration format: 30s, 5m, 1h; retention also accepts 7d, 2w")
	fmt.Println("# Size format: 500MB, 1GB")
	fmt.Println("# Cron schedules use six fields (seconds first)")
	fmt.Println("")
	fmt.Print(string(data))
	return nil
}

// dumpView rewrites the config for YAML output so durations and sizes come
// out human readable instead of as nanosecond and byte integers.
func dumpView(cfg *config.Config) map[string]any {
	return map[string]any{
		"server": map[string]any{
			"host":               cfg.Server.Host,
			"port":               cfg.Server.Port,
			"read_timeout":       cfg.Server.ReadTimeout.String(),
			"write_timeout":      cfg.Server.WriteTimeout.String(),
			"idle_timeout":       cfg.Server.IdleTimeout.String(),
			"shutdown_timeout":   cfg.Server.ShutdownTimeout.String(),
			"cors_allow_origins": cfg.Server.CORSAllowOrigins,
			"base_url":           cfg.Server.BaseURL,
		},
		"storage": map[string]any{
			"output_dir":         cfg.Storage.OutputDir,
			"temp_dir":           cfg.Storage.TempDir,
			"assets_dir":         cfg.Storage.AssetsDir,
			"character_ref_dir":  cfg.Storage.CharacterRefDir,
			"subtitle_font_path": cfg.Storage.SubtitleFontPath,
			"min_free_space":     cfg.Storage.MinFreeSpace.String(),
		},
		"llm": map[string]any{
			"api_key":  redact(cfg.LLM.APIKey),
			"base_url": cfg.LLM.BaseURL,
			"model":    cfg.LLM.Model,
			"timeout":  cfg.LLM.Timeout.String(),
		},
		"image": map[string]any{
			"api_key":         redact(cfg.Image.APIKey),
			"base_url":        cfg.Image.BaseURL,
			"model":           cfg.Image.Model,
			"attempt_timeout": cfg.Image.AttemptTimeout.String(),
			"attempts":        cfg.Image.Attempts,
		},
		"tts": map[string]any{
			"remote_url":     cfg.TTS.RemoteURL,
			"remote_timeout": cfg.TTS.RemoteTimeout.String(),
			"local_timeout":  cfg.TTS.LocalTimeout.String(),
			"local_attempts": cfg.TTS.LocalAttempts,
			"retry_backoff":  cfg.TTS.RetryBackoff.String(),
			"narrator_voice": cfg.TTS.NarratorVoice,
		},
		"render": map[string]any{
			"fps":            cfg.Render.FPS,
			"resolution":     cfg.Render.Resolution,
			"mode":           cfg.Render.Mode,
			"camera_motion":  cfg.Render.CameraMotion,
			"subtitle_style": cfg.Render.SubtitleStyle,
			"tts_gain_db":    cfg.Render.TTSGainDB,
		},
		"scene_reuse": map[string]any{
			"enabled":          cfg.SceneReuse.Enabled,
			"no_repeat_window": cfg.SceneReuse.NoRepeatWindow,
			"max_entries":      cfg.SceneReuse.MaxEntries,
		},
		"scheduler": map[string]any{
			"max_parallel_jobs": cfg.Scheduler.MaxParallelJobs,
			"resume_on_start":   cfg.Scheduler.ResumeOnStart,
		},
		"maintenance": map[string]any{
			"job_retention":        cfg.Maintenance.JobRetention.String(),
			"temp_sweep_schedule":  cfg.Maintenance.TempSweepSchedule,
			"cache_prune_schedule": cfg.Maintenance.CachePruneSchedule,
		},
		"ffmpeg": map[string]any{
			"binary_path": cfg.FFmpeg.BinaryPath,
			"probe_path":  cfg.FFmpeg.ProbePath,
		},
		"logging": map[string]any{
			"level":  cfg.Logging.Level,
			"format": cfg.Logging.Format,
		},
	}
}

func redact(secret string) string {
	if secret == "" {
		return ""
	}
	return "[REDACTED]"
}
