package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"github.com/joho/godotenv"

	"github.com/arturoeanton/ollama-chat/internal/adapter/ai"
	"github.com/arturoeanton/ollama-chat/internal/adapter/store"
	"github.com/arturoeanton/ollama-chat/internal/handler"
	"github.com/arturoeanton/ollama-chat/internal/middleware"
	"github.com/arturoeanton/ollama-chat/internal/observability"
	"github.com/arturoeanton/ollama-chat/internal/port"
	"github.com/arturoeanton/ollama-chat/internal/service"
	"github.com/arturoeanton/ollama-chat/pkg/config"
)

func main() {
	// ── Load .env file ───────────────────────────────────────────────────
	_ = godotenv.Load() // silently ignore if .env doesn't exist

	// ── Configuration ────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(newLogger(cfg))

	slog.Info("🚀 Starting "+cfg.AppName,
		"port", cfg.Port,
		"ollama", cfg.OllamaURL,
		"provider", cfg.LLMProvider,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ── Tracing ──────────────────────────────────────────────────────────
	if cfg.TelemetryURL != "" {
		tp, err := observability.Setup(ctx, cfg.TelemetryURL, cfg.AppName)
		if err != nil {
			slog.Error("failed to set up tracing", "error", err)
			os.Exit(1)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tp.Shutdown(shutdownCtx)
		}()
	}

	// ── Audit store ──────────────────────────────────────────────────────
	var auditWriter middleware.AuditWriter = middleware.LogAuditWriter{}
	var pgStore *store.PostgresStore
	if cfg.DatabaseURL != "" {
		pgStore, err = store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to connect to database", "dsn", cfg.DSN(), "error", err)
			os.Exit(1)
		}
		defer pgStore.Close()

		if err := pgStore.EnsureSchema(ctx); err != nil {
			slog.Error("failed to prepare database", "error", err)
			os.Exit(1)
		}
		auditWriter = pgStore
	}

	// ── Providers ────────────────────────────────────────────────────────
	registry := service.NewProviderRegistry(cfg.LLMProvider)
	registry.Register(ai.ProviderName, func() port.LLMProvider {
		return ai.NewOllamaProvider(ai.OllamaConfig{
			BaseURL:         cfg.OllamaURL,
			Token:           cfg.OllamaToken,
			DefaultModel:    cfg.OllamaDefaultModel,
			MaxStreamBuffer: cfg.MaxStreamBuffer,
		})
	})

	// ── Services ─────────────────────────────────────────────────────────
	chatService := service.NewChatService(registry, cfg.SystemPrompt)

	// ── Fiber App ────────────────────────────────────────────────────────
	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.WriteTimeout(),
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: []string{cfg.FrontendURL},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
	}))

	// Audit middleware (logs all requests)
	app.Use(middleware.AuditMiddleware(auditWriter))

	// ── Routes ───────────────────────────────────────────────────────────
	api := app.Group("/api")

	api.Get("/health", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":    "healthy",
			"app":       cfg.AppName,
			"providers": chatService.Providers(),
		})
	})

	handler.NewChatHandler(chatService).Register(api)
	handler.NewModelsHandler(chatService).Register(api)
	if pgStore != nil {
		handler.NewAuditHandler(pgStore).Register(api)
	}

	// ── Start ────────────────────────────────────────────────────────────
	go func() {
		<-ctx.Done()
		slog.Info("shutting down")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			slog.Error("shutdown failed", "error", err)
		}
	}()

	slog.Info("🌐 Fiber listening", "port", cfg.Port)
	if err := app.Listen(":"+cfg.Port, fiber.ListenConfig{DisableStartupMessage: true}); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
