// Eduflow assistant server: the guided onboarding conversation engine.
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

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/eduflowhq/eduflow/internal/api"
	"github.com/eduflowhq/eduflow/internal/config"
	"github.com/eduflowhq/eduflow/internal/engine"
	"github.com/eduflowhq/eduflow/internal/identity"
	"github.com/eduflowhq/eduflow/internal/llm"
	"github.com/eduflowhq/eduflow/internal/middleware"
	"github.com/eduflowhq/eduflow/internal/store"
	"github.com/eduflowhq/eduflow/internal/stream"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	completionClient, err := llm.NewHTTPClient(llm.HTTPClientConfig{
		Endpoint:       cfg.Completion.Endpoint,
		APIKey:         cfg.Completion.APIKey,
		RequestTimeout: cfg.Completion.RequestTimeout,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize completion client", "error", err)
		os.Exit(1)
	}

	hub := stream.NewHub()
	eng := engine.New(completionClient, repo, hub, engine.Options{
		Model:       cfg.Completion.Model,
		Temperature: cfg.Completion.Temperature,
		MaxTokens:   cfg.Completion.MaxTokens,
	}, logger)

	assistantHandler := api.NewHandler(eng, cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration)
	defer assistantHandler.Close()
	healthHandler := api.NewHealthHandler(repo)
	wsHandler := stream.NewWebSocketHandler(hub, cfg.FrontendURL, cfg.IsDevelopment())

	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))

	// Credentials only flow on an explicit origin, so the wildcard is a
	// dev-only fallback.
	corsOrigins := []string{"*"}
	if cfg.FrontendURL != "" {
		corsOrigins = []string{cfg.FrontendURL}
	}
	r.Use(middleware.CORS(corsOrigins))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	healthHandler.RegisterRoutes(r)
	assistantHandler.RegisterRoutes(r)
	r.Get("/ws/assistant", wsHandler.ServeHTTP)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Idle sessions are swept on the same cadence as their TTL.
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				deleted, err := repo.CleanupExpiredSessions(ctx, cfg.SessionTTL)
				if err != nil {
					slog.Error("Session cleanup failed", "error", err)
					continue
				}
				if deleted > 0 {
					slog.Info("Session cleanup complete", "sessions_deleted", deleted)
				}
			}
		}
	}()

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
