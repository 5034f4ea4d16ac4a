package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"github.com/QCAY1145/Mashiro-Modmanager/internal/api"
	"github.com/QCAY1145/Mashiro-Modmanager/internal/app"
	"github.com/QCAY1145/Mashiro-Modmanager/internal/config"

	docs "github.com/QCAY1145/Mashiro-Modmanager/docs"
)

// @title Mashiro Modmanager API
// @version 1.0
// @description Package deployment, conflict resolution and bisection for a game mod library

// @contact.name Mashiro Modmanager

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @BasePath /
// @schemes http

// @tag.name Packages
// @tag.description Installed packages, manifests and flags

// @tag.name Deployment
// @tag.description Enabling, disabling and the deployment strategy

// @tag.name Conflicts
// @tag.description Shared paths and priority orders

// @tag.name Bisection
// @tag.description Finding a faulty package by halving the enabled set

// @tag.name System
// @tag.description Health, usage history and metrics

func main() {
	healthCheck := flag.Bool("health-check", false, "Perform health check and exit")
	flag.Parse()

	if *healthCheck {
		os.Exit(performHealthCheck())
	}

	setupLogger(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))

	log.Info().Msg("Mod manager starting...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	setupLogger(cfg.Logging.Level, cfg.Logging.Format)

	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatal().Err(err).Msg("Failed to create required directories")
	}

	docs.SwaggerInfo.Host = os.Getenv("DOMAIN")

	logStartupConfig(cfg)

	ctx := context.Background()
	service, err := app.Open(ctx, cfg, afero.NewOsFs())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open mod library")
	}

	if err := service.Engine.CheckTarget(); err != nil {
		log.Warn().Err(err).Msg("Target directory is not usable; deploys will fail until it is")
	}

	result := api.SetupRouterWithDeps(service.RouterDependencies(), service.RouterConfig())
	fiberApp := result.App

	fiberApp.Server().ReadTimeout = cfg.Server.ReadTimeout
	fiberApp.Server().WriteTimeout = cfg.Server.WriteTimeout

	setupGracefulShutdown(fiberApp, func() {
		result.Cleanup()
		if err := service.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing usage history")
		}
	})

	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Info().
		Int("port", cfg.Server.Port).
		Str("addr", serverAddr).
		Msg("Starting HTTP server")

	if err := fiberApp.Listen(serverAddr); err != nil {
		log.Fatal().Err(err).Msg("Failed to start HTTP server")
	}
}

func setupLogger(level, format string) {
	zerolog.TimeFieldFormat = time.RFC3339

	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	if format == "text" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

func logStartupConfig(cfg *config.Config) {
	log.Info().
		Str("server_host", cfg.Server.Host).
		Int("server_port", cfg.Server.Port).
		Dur("server_read_timeout", cfg.Server.ReadTimeout).
		Dur("server_write_timeout", cfg.Server.WriteTimeout).
		Int("server_body_limit", cfg.Server.BodyLimit).
		Str("deploy_target_dir", cfg.Deploy.TargetDir).
		Str("deploy_packages_dir", cfg.Deploy.PackagesDir).
		Str("deploy_strategy", cfg.Deploy.Strategy).
		Str("deploy_metadata_dir", cfg.Deploy.MetadataDir).
		Strs("deploy_ignore_patterns", cfg.Deploy.IgnorePatterns).
		Int("cache_max_size", cfg.Cache.MaxSize).
		Dur("cache_ttl", cfg.Cache.TTL).
		Str("storage_data_dir", cfg.Storage.DataDir).
		Strs("security_cors_origins", cfg.Security.CORSOrigins).
		Int("security_rate_limit_rps", cfg.Security.RateLimitRPS).
		Str("logging_level", cfg.Logging.Level).
		Str("logging_format", cfg.Logging.Format).
		Msg("Configuration loaded successfully")
}

func setupGracefulShutdown(app *fiber.App, cleanup func()) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-ctx.Done()
		stop()

		log.Info().Msg("Received shutdown signal, initiating graceful shutdown")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		// in-flight deploys finish before the stores close
		log.Info().Msg("Stopping HTTP server...")
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Error during HTTP server shutdown")
		}

		cleanup()

		log.Info().Msg("Graceful shutdown completed")
		os.Exit(0)
	}()
}

// performHealthCheck probes /health on the local server and returns the exit code
func performHealthCheck() int {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8765"
	}

	client := &http.Client{
		Timeout: 3 * time.Second,
	}

	resp, err := client.Get(fmt.Sprintf("http://localhost:%s/health", port))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		return 1
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: HTTP %d\n", resp.StatusCode)
		return 1
	}

	fmt.Println("Health check passed")
	return 0
}
