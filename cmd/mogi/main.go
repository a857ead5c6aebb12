package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/joho/godotenv"

	"github.com/ashita-ai/mogi/api"
	"github.com/ashita-ai/mogi/internal/auth"
	"github.com/ashita-ai/mogi/internal/config"
	"github.com/ashita-ai/mogi/internal/engine"
	"github.com/ashita-ai/mogi/internal/mcp"
	"github.com/ashita-ai/mogi/internal/memstore"
	"github.com/ashita-ai/mogi/internal/provider"
	"github.com/ashita-ai/mogi/internal/ratelimit"
	"github.com/ashita-ai/mogi/internal/server"
	"github.com/ashita-ai/mogi/internal/storage"
	"github.com/ashita-ai/mogi/internal/telemetry"
	"github.com/ashita-ai/mogi/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

// defaultOrgName is the organization created for the seeded admin actor.
const defaultOrgName = "mogi"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("MOGI_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("mogi starting", "version", version, "port", cfg.Port, "storage", cfg.Storage)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	// Open the store. Postgres is the production path; the in-memory store
	// carries the same semantics for local development and demos.
	var store server.Store
	switch cfg.Storage {
	case "postgres":
		db, err := storage.New(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return fmt.Errorf("storage: %w", err)
		}
		defer db.Close()

		// Register connection pool OTEL metrics (after telemetry.Init).
		db.RegisterPoolMetrics()

		if err := db.RunMigrations(ctx, migrations.FS); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		store = db

	case "memory":
		logger.Warn("storage: in-memory (state is lost on restart)")
		store = memstore.New()

	default:
		return fmt.Errorf("unknown MOGI_STORAGE %q (want postgres or memory)", cfg.Storage)
	}

	// Create JWT manager.
	jwtMgr, err := auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	// Create the action provider and the run engine.
	prov := newActionProvider(cfg, logger)
	eng := engine.New(store, prov, logger, func(o *engine.Options) {
		if cfg.ProviderTimeout > 0 {
			o.ProviderTimeout = cfg.ProviderTimeout
		}
	})

	// Create SSE broker.
	broker := server.NewBroker(logger)

	// Create rate limiter.
	var limiter ratelimit.Limiter
	if cfg.RateLimitPerMinute > 0 {
		m := ratelimit.NewMemoryLimiter(float64(cfg.RateLimitPerMinute)/60.0, cfg.RateLimitPerMinute)
		defer func() { _ = m.Close() }()
		limiter = m
		logger.Info("rate limiting: memory (in-process token bucket)",
			"per_minute", cfg.RateLimitPerMinute)
	} else {
		limiter = ratelimit.NoopLimiter{}
		logger.Info("rate limiting: disabled")
	}

	// Create MCP server (mounted at /mcp behind HTTP auth).
	mcpSrv := mcp.New(store, eng, logger, version)

	srv := server.New(server.ServerConfig{
		Store:               store,
		Engine:              eng,
		JWTMgr:              jwtMgr,
		Logger:              logger,
		Limiter:             limiter,
		Broker:              broker,
		MCPServer:           mcpSrv.MCPServer(),
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		OpenAPISpec:         api.OpenAPISpec,
	})

	// Seed the initial admin actor.
	if cfg.AdminAPIKey != "" {
		if err := srv.Handlers().SeedAdmin(ctx, defaultOrgName, cfg.AdminAPIKey); err != nil {
			slog.Warn("admin seed failed", "error", err)
		}
	}

	// Start HTTP server in background.
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	// Graceful shutdown: stop accepting new HTTP requests and drain
	// in-flight steps. Run claims held by a killed process expire on
	// their own; nothing else needs flushing.
	slog.Info("mogi shutting down")

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer httpCancel()
	if err := srv.Shutdown(httpCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}

	slog.Info("mogi stopped")
	return nil
}

// newActionProvider creates an action provider based on configuration.
// Provider selection: "anthropic", "openai", "scripted", or "auto" (default).
// Auto mode picks Anthropic if a key is present, then OpenAI, else scripted.
// Scripted produces deterministic placeholder turns, which keeps local
// development and demos working with no API keys at all.
func newActionProvider(cfg config.Config, logger *slog.Logger) provider.ActionProvider {
	switch cfg.Provider {
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			logger.Error("ANTHROPIC_API_KEY required when MOGI_PROVIDER=anthropic")
			return provider.NewScripted(nil)
		}
		logger.Info("action provider: anthropic", "model", cfg.AnthropicModel)
		return newAnthropicProvider(cfg)

	case "openai":
		if cfg.OpenAIAPIKey == "" {
			logger.Error("OPENAI_API_KEY required when MOGI_PROVIDER=openai")
			return provider.NewScripted(nil)
		}
		logger.Info("action provider: openai", "model", cfg.OpenAIModel)
		return newOpenAIProvider(cfg)

	case "scripted":
		logger.Info("action provider: scripted (deterministic placeholder turns)")
		return provider.NewScripted(nil)

	case "auto":
		fallthrough
	default:
		if cfg.AnthropicAPIKey != "" {
			logger.Info("action provider: anthropic (auto-detected)", "model", cfg.AnthropicModel)
			return newAnthropicProvider(cfg)
		}
		if cfg.OpenAIAPIKey != "" {
			logger.Info("action provider: openai (auto-detected)", "model", cfg.OpenAIModel)
			return newOpenAIProvider(cfg)
		}
		logger.Warn("no provider API key found, using scripted (deterministic placeholder turns)")
		return provider.NewScripted(nil)
	}
}

func newAnthropicProvider(cfg config.Config) *provider.Anthropic {
	return provider.NewAnthropic(func(o *provider.AnthropicOptions) {
		o.APIKey = cfg.AnthropicAPIKey
		if cfg.AnthropicModel != "" {
			o.Model = anthropic.Model(cfg.AnthropicModel)
		}
	})
}

func newOpenAIProvider(cfg config.Config) *provider.OpenAI {
	return provider.NewOpenAI(func(o *provider.OpenAIOptions) {
		o.APIKey = cfg.OpenAIAPIKey
		if cfg.OpenAIModel != "" {
			o.Model = cfg.OpenAIModel
		}
	})
}
