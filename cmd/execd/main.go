package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/sandrun-io/sandrun/internal/config"
	"github.com/sandrun-io/sandrun/internal/executor"
	"github.com/sandrun-io/sandrun/internal/handler"
	"github.com/sandrun-io/sandrun/internal/language"
	"github.com/sandrun-io/sandrun/internal/lifecycle"
	"github.com/sandrun-io/sandrun/internal/logger"
	"github.com/sandrun-io/sandrun/internal/middleware"
	"github.com/sandrun-io/sandrun/internal/pool"
	"github.com/sandrun-io/sandrun/internal/sandbox"
	"github.com/sandrun-io/sandrun/internal/sandbox/docker"
	"github.com/sandrun-io/sandrun/internal/sandbox/mock"
	"github.com/sandrun-io/sandrun/internal/session"
)

// executionGrace is how long the coordinator waits for a cancelled
// execution to unwind before abandoning the sandbox.
const executionGrace = 2 * time.Second

func main() {
	// Load .env file if present
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logg := logger.New(cfg.LogLevel, cfg.LogFormat)
	defer func() { _ = logg.Close() }()

	registry, err := language.NewRegistry(cfg.SupportedLanguages)
	if err != nil {
		log.Fatalf("Failed to build language registry: %v", err)
	}

	var provider sandbox.Provider
	switch cfg.SandboxProvider {
	case "docker":
		dp, err := docker.NewProvider(cfg.SandboxImage, logg)
		if err != nil {
			log.Fatalf("Failed to initialize docker provider: %v", err)
		}
		// Sweep containers orphaned by a previous process before warming.
		if removed, err := dp.CleanupStale(context.Background()); err != nil {
			logg.Warn("stale sandbox cleanup failed", "error", err)
		} else if removed > 0 {
			logg.Info("removed stale sandboxes", "count", removed)
		}
		provider = dp
	case "mock":
		// In-memory provider for local development and CI.
		provider = mock.NewProvider()
	default:
		log.Fatalf("Unknown sandbox provider %q", cfg.SandboxProvider)
	}

	p := pool.New(provider, cfg.MaxPoolSize, logg)
	sessions := session.NewRegistry(p, logg)
	coord := executor.New(p, sessions, registry, provider,
		cfg.DefaultTimeout, cfg.MaxTimeout, executionGrace, logg)
	controller := lifecycle.New(p, sessions, coord, cfg.SupportedLanguages, logg)

	// Pre-warm the pool; failures are logged and skipped.
	controller.Prewarm(context.Background(), cfg.InitialPoolSize)

	h := handler.New(coord, sessions, logg)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", h.Health)

	// Mutating endpoints require the internal auth token.
	r.Group(func(r chi.Router) {
		r.Use(middleware.InternalAuth(cfg.InternalAuthToken))
		r.Post("/execute", h.Execute)
		r.Post("/sessions", h.CreateSession)
		r.Delete("/sessions/{sessionID}", h.EndSession)
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}

	go func() {
		logg.Info("execution service starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logg.Info("shutting down")

	// Stop accepting requests, let in-flight executions finish up to the
	// grace period, then close the fleet.
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logg.Warn("server forced to shutdown", "error", err)
	}
	controller.Shutdown(ctx)

	logg.Info("stopped")
}
