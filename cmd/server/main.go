// missiontalk - scenario conversation server
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

	"github.com/ashureev/missiontalk/internal/agent"
	"github.com/ashureev/missiontalk/internal/api"
	"github.com/ashureev/missiontalk/internal/config"
	"github.com/ashureev/missiontalk/internal/middleware"
	"github.com/ashureev/missiontalk/internal/realtime"
	"github.com/ashureev/missiontalk/internal/scenario"
	"github.com/ashureev/missiontalk/internal/session"
	"github.com/ashureev/missiontalk/internal/store"
	"github.com/ashureev/missiontalk/internal/telemetry"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const serviceName = "missiontalk"

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: serviceName,
	})
	if err != nil {
		slog.Error("Failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			slog.Error("Failed to flush traces", "error", err)
		}
	}()

	// Initialize dependencies.
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

	if err := repo.Ping(ctx); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected", "path", cfg.DBPath)

	if cfg.ScenarioDir != "" {
		imported, errs := scenario.ImportDir(ctx, repo, cfg.ScenarioDir, logger)
		for _, importErr := range errs {
			slog.Error("Scenario import failed", "error", importErr)
		}
		slog.Info("Scenario import complete", "dir", cfg.ScenarioDir, "imported", len(imported), "failed", len(errs))
	}

	agentSvc, err := agent.NewService(ctx, cfg.Agent(), logger)
	if err != nil {
		slog.Error("Failed to initialize generation backend", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := agentSvc.Close(); closeErr != nil {
			slog.Error("Failed to close generation backend", "error", closeErr)
		}
	}()
	slog.Info("Generation backend ready", "backend", cfg.Generation.Backend, "configured", agentSvc.Configured())

	conversationLogger, err := agent.NewConversationLogger(agent.ConversationLogConfig{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize conversation logger", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := conversationLogger.Close(); closeErr != nil {
			slog.Error("Failed to close conversation logger", "error", closeErr)
		}
	}()

	// Initialize services.
	orch := session.NewOrchestrator(agentSvc.Responder(), agentSvc.Analyzer(), cfg.Generation.Timeout, logger)
	sessions := session.NewService(repo, orch, conversationLogger, logger)
	limiter := api.NewRateLimiter(ctx, cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration)
	hub := realtime.NewHub()

	// Initialize handlers.
	conversationHandler := api.NewConversationHandler(sessions, limiter)
	healthHandler := api.NewHealthHandler(repo, agentSvc.Configured())
	wsHandler := realtime.NewWebSocketHandler(sessions, hub, limiter, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(middleware.AllowedOrigins(cfg.FrontendURL, cfg.IsDevelopment())))

	// Public routes.
	healthHandler.RegisterHealth(r)

	r.Group(func(r chi.Router) {
		r.Use(middleware.MaxBody(cfg.MaxRequestBodyBytes))
		conversationHandler.RegisterRoutes(r)
	})

	// WebSocket endpoint.
	wsHandler.RegisterRoutes(r)

	// Create server.
	// Chat sockets are long lived; turns are bounded by GENERATION_TIMEOUT instead.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelhttp.NewHandler(r, serviceName),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	// Start retention worker.
	session.StartRetentionWorker(ctx, repo, cfg.SessionRetention, session.DefaultRetentionInterval)
	slog.Info("Retention worker started", "session_retention", cfg.SessionRetention)

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			stop()
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")
	hub.CloseAll("server shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		return
	}

	slog.Info("Server stopped successfully")
}
