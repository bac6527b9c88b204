package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/terra-clan/apprentice-engine/internal/api"
	"github.com/terra-clan/apprentice-engine/internal/cleanup"
	"github.com/terra-clan/apprentice-engine/internal/config"
	"github.com/terra-clan/apprentice-engine/internal/events"
	"github.com/terra-clan/apprentice-engine/internal/session"
	"github.com/terra-clan/apprentice-engine/internal/storage"
	"github.com/terra-clan/apprentice-engine/internal/templates"
	"github.com/terra-clan/apprentice-engine/internal/upstream"
)

func main() {
	// Setup structured logging
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	level.Set(parseLevel(cfg.Server.LogLevel))

	slog.Info("starting apprentice-engine",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"events_backend", cfg.Events.Backend,
	)

	// Create context for initialization
	initCtx, initCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer initCancel()

	// Load placeholder milestones
	templateLoader := templates.NewLoader()
	if err := templateLoader.LoadFromDir(cfg.Templates.Dir); err != nil {
		slog.Warn("failed to load templates from dir", "dir", cfg.Templates.Dir, "error", err)
	}

	// Collaborator client
	opts := []upstream.Option{upstream.WithTimeout(cfg.Upstream.Timeout)}
	if cfg.Upstream.MilestonesMode == config.MilestonesPoll {
		opts = append(opts, upstream.WithPolling(cfg.Upstream.PollInterval, cfg.Upstream.PollMaxAttempts))
	}
	client := upstream.NewClient(upstream.Endpoints{
		Catalog:        cfg.Upstream.CatalogURL,
		Milestones:     cfg.Upstream.MilestonesURL,
		MilestonesPoll: cfg.Upstream.MilestonesPollURL,
		Review:         cfg.Upstream.ReviewURL,
		Company:        cfg.Upstream.CompanyURL,
	}, opts...)
	slog.Info("collaborator client configured", "milestones_mode", client.Mode(), "timeout", cfg.Upstream.Timeout)

	// Event bus
	var bus events.Bus
	switch cfg.Events.Backend {
	case config.EventsRedis:
		redisBus, err := events.NewRedisBus(initCtx, cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			slog.Error("failed to connect to redis", "address", cfg.Redis.Address, "error", err)
			os.Exit(1)
		}
		bus = redisBus
	default:
		bus = events.NewMemoryBus()
	}

	// Initialize session manager
	manager := session.NewManager(session.Options{
		PassScore: cfg.Workflow.PassScore,
		TTL:       cfg.Session.TTL,
	}, storage.NewMemoryRepository(), client, templateLoader, bus)

	// Initialize cleanup worker
	cleaner := cleanup.NewCleaner(manager, cfg.Cleanup.Interval)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start cleanup worker
	cleaner.Start(ctx)

	// Setup HTTP server. No write timeout: reviews and event streams are long-lived.
	server := api.NewServer(cfg.Server, manager)
	httpServer := &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:     server.Router(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		slog.Info("HTTP server starting", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down gracefully...")

	// Cancel context to stop background workers
	cancel()

	// Shutdown HTTP server with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	// Close manager (pending generations, sessions, event bus)
	if err := manager.Close(); err != nil {
		slog.Error("manager close error", "error", err)
	}

	slog.Info("apprentice-engine stopped")
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
