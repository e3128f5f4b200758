// Command codeforge-server runs the HTTP edge: webhook intake, job
// submission, and job-status lookups. Work is handed off to the
// queue; codeforge-worker is the process that actually runs it.
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

	"codeforge/internal/app"
	"codeforge/internal/config"
	"codeforge/internal/delivery/httpapi"
	"codeforge/internal/observability"
	"codeforge/internal/shared/logging"
)

func main() {
	configPath := flag.String("config", os.Getenv("CODEFORGE_CONFIG"), "path to a YAML config overlay")
	flag.Parse()

	logger := logging.NewComponentLogger("Main")
	logger.Info("Starting codeforge HTTP server...")

	if err := run(*configPath, logger); err != nil {
		logger.Error("server exited: %v", err)
		os.Exit(1)
	}
}

func run(configPath string, logger logging.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	container, err := app.Build(cfg, logger)
	if err != nil {
		return fmt.Errorf("build container: %w", err)
	}
	defer func() {
		if err := container.Close(); err != nil {
			logger.Warn("container close: %v", err)
		}
	}()

	metrics := observability.New()

	router := httpapi.NewRouter(
		httpapi.RouterDeps{
			Queue:                container.Queue,
			Installations:        container.Installations,
			IndexMeta:            container.IndexMeta,
			Metrics:              metrics,
			WebhookSecret:        cfg.Webhook.Secret,
			IncrementalThreshold: cfg.Webhook.IncrementalThreshold,
			Logger:               logger.With("component", "httpapi"),
		},
		httpapi.RouterConfig{
			Environment:    cfg.HTTP.Environment,
			AllowedOrigins: cfg.HTTP.AllowedOrigins,
		},
	)

	server := &http.Server{
		Addr:         ":" + cfg.HTTP.Port,
		Handler:      router,
		ReadTimeout:  5 * time.Minute,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return serveUntilSignal(server, logger)
}

func serveUntilSignal(server *http.Server, logger logging.Logger) error {
	logger = logging.OrNop(logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server listening on %s", server.Addr)
		errCh <- server.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		if err == nil || err == http.ErrServerClosed {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-quit:
		logger.Info("Shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		shutdownErr := server.Shutdown(ctx)

		serveErr := <-errCh
		if serveErr == http.ErrServerClosed {
			serveErr = nil
		}

		if shutdownErr != nil {
			return fmt.Errorf("shutdown: %w", shutdownErr)
		}
		if serveErr != nil {
			return fmt.Errorf("server error: %w", serveErr)
		}

		logger.Info("Server stopped")
		return nil
	}
}
