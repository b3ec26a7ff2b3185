package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	internalhttp "github.com/storyloom/storyloom/internal/http"
	"github.com/storyloom/storyloom/internal/http/handlers"
	"github.com/storyloom/storyloom/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the storyloom server",
	Long: `Start the storyloom HTTP server and API.

The server provides:
- REST API for submitting and managing video generation jobs
- Segmentation preview, character analysis and voice catalog endpoints
- Video downloads with range support and generated thumbnails
- Health check endpoint and OpenAPI documentation at /docs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "", "host to bind to (overrides config)")
	serveCmd.Flags().Int("port", 0, "port to listen on (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.Default()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.Server.Host = flagOverride(cmd.Flags(), "host", cfg.Server.Host)
	if cmd.Flags().Changed("port") {
		cfg.Server.Port, _ = cmd.Flags().GetInt("port")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.closeApp()

	if cfg.Scheduler.ResumeOnStart {
		if err := a.scheduler.RecoverIncomplete(ctx); err != nil {
			logger.Warn("startup job recovery failed", "error", err)
		}
	}

	server := internalhttp.NewServer(cfg.Server, logger, version.Version)

	healthHandler := handlers.NewHealthHandler(version.Version).
		WithDB(a.jobsDB).
		WithJobService(a.service).
		WithWorkspace(a.workspace).
		WithClientRegistry(a.registry)
	healthHandler.Register(server.API())

	jobsHandler := handlers.NewJobsHandler(a.service)
	jobsHandler.Register(server.API())
	jobsHandler.RegisterChiRoutes(server.Router())

	segmentationHandler := handlers.NewSegmentationHandler(a.llm)
	segmentationHandler.Register(server.API())

	charactersHandler := handlers.NewCharactersHandler(a.llm)
	charactersHandler.Register(server.API())

	modelsHandler := handlers.NewModelsHandler(a.llm)
	modelsHandler.Register(server.API())

	videosHandler := handlers.NewVideosHandler(a.workspace, a.detector, logger)
	videosHandler.Register(server.API())
	videosHandler.RegisterChiRoutes(server.Router())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
	}()

	logger.Info("starting storyloom server",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"version", version.Version,
	)

	if err := server.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("serving: %w", err)
	}
	return nil
}
