// Package main provides the entry point for the HDRP server: the HTTP API and
// the Temporal worker that executes refinery runs
package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog/log"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/Caia-Tech/hdrp/internal/api"
	"github.com/Caia-Tech/hdrp/internal/pipeline"
	"github.com/Caia-Tech/hdrp/internal/refinery"
	"github.com/Caia-Tech/hdrp/internal/storage"
	"github.com/Caia-Tech/hdrp/internal/temporal/activities"
	"github.com/Caia-Tech/hdrp/internal/temporal/workflows"
	"github.com/Caia-Tech/hdrp/pkg/logging"
	config "github.com/Caia-Tech/hdrp/pkg/pipeline"
)

func main() {
	cfg, err := config.LoadPipelineConfig(getEnv("HDRP_CONFIG", ""))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	applyEnv(cfg)

	logCloser, err := logging.SetupLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()

	if err := cfg.SetupDirectories(); err != nil {
		log.Fatal().Err(err).Msg("Failed to create data directories")
	}

	// Initialize Temporal client
	temporalClient, err := client.Dial(client.Options{
		HostPort: cfg.Server.TemporalHost,
	})
	if err != nil {
		log.Fatal().Err(err).Str("host", cfg.Server.TemporalHost).Msg("Failed to create Temporal client")
	}
	defer temporalClient.Close()

	// Artifact store
	metricsCollector := storage.NewSimpleMetricsCollector()
	store, err := storage.NewStore(cfg.Storage, metricsCollector)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.Storage.Backend).Msg("Failed to initialize artifact store")
	}

	// Run events feed the tracker behind GET /api/v1/runs
	bus := pipeline.NewEventBus(1024, 4)
	defer bus.Close()
	tracker := pipeline.NewRunTracker()
	if err := tracker.Attach(bus); err != nil {
		log.Fatal().Err(err).Msg("Failed to attach run tracker")
	}

	// Create worker for Temporal workflows
	w := worker.New(temporalClient, cfg.Server.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     10,
		MaxConcurrentWorkflowTaskExecutionSize: 10,
	})
	w.RegisterWorkflow(workflows.RefineryRunWorkflow)
	w.RegisterWorkflow(workflows.ScheduledRunWorkflow)
	w.RegisterActivity(activities.New(cfg, store, bus))

	// Start worker in background
	go func() {
		if err := w.Run(worker.InterruptCh()); err != nil {
			log.Fatal().Err(err).Msg("Failed to start worker")
		}
	}()

	ref, err := refinery.New(refinery.OptionsFromConfig(cfg.Refinery))
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid refinery configuration")
	}
	h, err := api.NewHandlers(temporalClient, cfg.Server.TaskQueue, tracker, ref)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize handlers")
	}
	storageHandler := api.NewStorageHandler(store, metricsCollector)

	app := fiber.New(fiber.Config{
		AppName:      "HDRP API",
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		BodyLimit:    cfg.Server.BodyLimit,
		ErrorHandler: api.ErrorHandler,
	})

	// Middleware
	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	app.Use(logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${ip} | ${method} | ${path} | ${error}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "UTC",
	}))

	app.Use(cors.New(cors.Config{
		AllowOrigins: getEnv("CORS_ORIGINS", "*"),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, OPTIONS",
	}))

	api.SetupRoutes(app, h, storageHandler)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info().Msg("Shutting down server...")
		if err := app.Shutdown(); err != nil {
			log.Error().Err(err).Msg("Server shutdown error")
		}
	}()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Info().
		Str("addr", addr).
		Str("task_queue", cfg.Server.TaskQueue).
		Str("storage", cfg.Storage.Backend).
		Msg("Starting HDRP server")
	if err := app.Listen(addr); err != nil {
		log.Fatal().Err(err).Msg("Failed to start server")
	}
}

// applyEnv lets the deployment environment override the config file
func applyEnv(cfg *config.PipelineConfig) {
	cfg.Server.TemporalHost = getEnv("TEMPORAL_HOST", cfg.Server.TemporalHost)
	cfg.Server.TaskQueue = getEnv("TASK_QUEUE", cfg.Server.TaskQueue)
	cfg.Storage.Backend = getEnv("STORAGE_BACKEND", cfg.Storage.Backend)
	cfg.Storage.GitRepoPath = getEnv("HDRP_REPO_PATH", cfg.Storage.GitRepoPath)
	cfg.Logging.Level = getEnv("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("LOG_FORMAT", cfg.Logging.Format)
	if port, err := strconv.Atoi(getEnv("PORT", "")); err == nil {
		cfg.Server.Port = port
	}
}

// getEnv retrieves an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
