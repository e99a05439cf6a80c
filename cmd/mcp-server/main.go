// Package main provides the MCP server entry point for the narrative knowledge index.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/bull/narrative-knowledge/internal/app"
	"github.com/bull/narrative-knowledge/internal/config"
	"github.com/bull/narrative-knowledge/internal/logging"
	mcpserver "github.com/bull/narrative-knowledge/internal/mcp"
	"github.com/bull/narrative-knowledge/internal/metrics"
)

var version = "dev"

func main() {
	// Load .env file if present (local development), ignore if missing (production)
	envErr := godotenv.Load()

	// Create context that cancels on SIGTERM/SIGINT
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	cfg, err := config.Load(os.Getenv("KNOWLEDGE_CONFIG"))
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// stdout carries the MCP protocol in stdio mode, so logs go to stderr
	logger := logging.New(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)
	if envErr != nil {
		logger.Debug("No .env file found, using environment variables")
	}

	m := metrics.New()
	a, err := app.Build(ctx, cfg, logger, m)
	if err != nil {
		logger.Error("Failed to initialise knowledge index", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	backend := a.Service.Backend().Name()
	logger.Info("Knowledge index ready", "backend", backend, "projects", cfg.ProjectsFile)

	server := mcpserver.NewServer(&mcpserver.Config{
		Service:   a.Service,
		Assistant: a.Assistant,
		Rebuilder: a.Pipeline,
		Version:   version,
	})

	health := mcpserver.NewHealthHandler(a.Service, backend)
	mux := mcpserver.NewMux(server, health, m, nil)
	httpServer := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Server.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	if cfg.Server.HTTPMode {
		// HTTP mode: serve MCP over HTTP for remote clients
		logger.Info("Starting HTTP server", "addr", httpServer.Addr, "mcp", "/mcp", "health", "/health")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
		return
	}

	// Stdio mode: health and metrics stay reachable over HTTP in the background
	go func() {
		logger.Info("Starting health server", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("Health server error", "error", err)
		}
	}()

	logger.Info("Starting narrative knowledge MCP server (stdio mode)")
	if err := server.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("Server error", "error", err)
		os.Exit(1)
	}
}
