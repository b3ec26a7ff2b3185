// Package cmd implements the CLI commands for storyloom.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/storyloom/storyloom/internal/config"
	"github.com/storyloom/storyloom/internal/observability"
	"github.com/storyloom/storyloom/internal/version"
)

// cfgFile holds the config file path from the CLI flag.
var cfgFile string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "storyloom",
	Short:   "Narrated-video generation service",
	Version: version.Short(),
	Long: `storyloom turns story text into narrated videos: it segments the
text, synthesizes narration, generates or reuses scene images, renders
animated clips and composes them into a final video with background music,
subtitles and a watermark.

Run "storyloom serve" for the HTTP API or "storyloom render" to produce a
video from a text file without the server.`,
}

// Execute adds all child commands to the root command and runs it.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	rootCmd.PersistentPreRunE = func(_ *cobra.Command, _ []string) error {
		return initLogging()
	}

	// These flags are not bound to viper; loadConfig applies them only when
	// explicitly set so the flag default never shadows env or file values.
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ., ./configs, /etc/storyloom, $HOME/.storyloom)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (text, json)")
}

// loadConfig reads and validates the configuration from file and STORYLOOM_
// environment variables.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// initLogging configures the default slog logger with sensitive data
// redaction. CLI flags win over config and environment values.
func initLogging() error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	level := flagOverride(rootCmd.PersistentFlags(), "log-level", cfg.Logging.Level)
	format := flagOverride(rootCmd.PersistentFlags(), "log-format", cfg.Logging.Format)

	level = strings.ToLower(level)
	if level == "warning" {
		level = "warn"
	}

	logCfg := config.LoggingConfig{Level: level, Format: strings.ToLower(format)}
	logger := observability.NewLoggerWithWriter(logCfg, os.Stderr)
	observability.SetDefault(logger)
	return nil
}

// flagOverride returns the flag's value when it was set on the command line,
// otherwise the fallback. Flag defaults never shadow env or file values.
func flagOverride(fs *pflag.FlagSet, name, fallback string) string {
	if f := fs.Lookup(name); f != nil && f.Changed {
		return f.Value.String()
	}
	return fallback
}
