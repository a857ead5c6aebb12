// Package mogi is the public API for embedding the Mogi simulation
// coordination server.
//
// Enterprise and plugin consumers import this package to construct and run
// the server without forking it:
//
//	app, err := mogi.New(
//	    mogi.WithVersion(version),
//	    mogi.WithLogger(logger),
//	    mogi.WithActionProvider(myProvider),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: mogi (root) imports
// internal/*, but internal/* never imports mogi (root). Public types
// (ActionRequest, Action, AgentSpec) are standalone structs with no internal
// imports; conversion helpers live here because this is the only file that
// sees both sides of the boundary.
package mogi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
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

// defaultOrgName is the organization created for the seeded admin actor.
const defaultOrgName = "mogi"

// App is the Mogi server lifecycle. Construct with New(), run with Run().
// App has no public fields; use New() options to configure it.
type App struct {
	cfg          config.Config
	db           *storage.DB // nil when storage is "memory"
	srv          *server.Server
	limiter      ratelimit.Limiter
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
}

// New initialises the Mogi server. It opens the store, runs migrations,
// wires all subsystems, and returns a ready-to-run App.
// It does NOT start any goroutines or accept HTTP connections; call Run().
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	// Load configuration (env vars), then apply option overrides.
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	if o.storage != "" {
		cfg.Storage = o.storage
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("mogi starting", "version", version, "port", cfg.Port, "storage", cfg.Storage)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	// Open the store.
	var store server.Store
	var db *storage.DB
	switch cfg.Storage {
	case "postgres":
		db, err = storage.New(context.Background(), cfg.DatabaseURL, logger)
		if err != nil {
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("storage: %w", err)
		}
		db.RegisterPoolMetrics()

		if err := db.RunMigrations(context.Background(), migrations.FS); err != nil {
			db.Close()
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("migrations: %w", err)
		}
		for i, extraFS := range o.extraMigrations {
			if err := db.RunMigrations(context.Background(), extraFS); err != nil {
				db.Close()
				_ = otelShutdown(context.Background())
				return nil, fmt.Errorf("extra migrations[%d]: %w", i, err)
			}
		}
		store = db

	case "memory":
		logger.Warn("storage: in-memory (state is lost on restart)")
		store = memstore.New()

	default:
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("unknown storage %q (want postgres or memory)", cfg.Storage)
	}

	// Create JWT manager.
	jwtMgr, err := auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration)
	if err != nil {
		closeStore(db)
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("auth: %w", err)
	}

	// Create the action provider: external override takes priority over
	// config-driven selection.
	var prov provider.ActionProvider
	if o.actionProvider != nil {
		prov = &providerAdapter{p: o.actionProvider}
		logger.Info("action provider: external", "name", o.actionProvider.Name())
	} else {
		prov = newActionProvider(cfg, logger)
	}

	eng := engine.New(store, prov, logger, func(eo *engine.Options) {
		if cfg.ProviderTimeout > 0 {
			eo.ProviderTimeout = cfg.ProviderTimeout
		}
	})

	// SSE broker.
	broker := server.NewBroker(logger)

	// Rate limiter.
	var limiter ratelimit.Limiter
	if cfg.RateLimitPerMinute > 0 {
		limiter = ratelimit.NewMemoryLimiter(float64(cfg.RateLimitPerMinute)/60.0, cfg.RateLimitPerMinute)
		logger.Info("rate limiting: memory (in-process token bucket)",
			"per_minute", cfg.RateLimitPerMinute)
	} else {
		limiter = ratelimit.NoopLimiter{}
		logger.Info("rate limiting: disabled")
	}

	// MCP server (mounted at /mcp behind HTTP auth).
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
		if err := srv.Handlers().SeedAdmin(context.Background(), defaultOrgName, cfg.AdminAPIKey); err != nil {
			closeStore(db)
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("admin seed: %w", err)
		}
	}

	return &App{
		cfg:          cfg,
		db:           db,
		srv:          srv,
		limiter:      limiter,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// Run starts the HTTP server and blocks until ctx is cancelled or a fatal
// server error occurs. On return, Shutdown is called automatically; callers
// should not call Shutdown separately.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	return a.Shutdown(context.Background())
}

// Shutdown stops accepting new HTTP requests, drains in-flight steps, then
// closes the rate limiter, OTEL providers, and the database pool. Run claims
// held by a killed process expire on their own; nothing else needs flushing.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("mogi shutting down")

	httpCtx, httpCancel := context.WithTimeout(ctx, 10*time.Second)
	defer httpCancel()
	if err := a.srv.Shutdown(httpCtx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}

	_ = a.limiter.Close()
	_ = a.otelShutdown(context.Background())
	closeStore(a.db)

	a.logger.Info("mogi stopped")
	return nil
}

// Handler returns the fully wired HTTP handler without starting a listener.
// Useful for embedding Mogi in an existing server or in tests.
func (a *App) Handler() http.Handler {
	return a.srv.Handler()
}

// Version returns the version string the App reports in logs and /health.
func (a *App) Version() string {
	return a.version
}

func closeStore(db *storage.DB) {
	if db != nil {
		db.Close()
	}
}

// newActionProvider creates an action provider based on configuration.
// Mirrors cmd/mogi: "anthropic", "openai", "scripted", or "auto" (default).
func newActionProvider(cfg config.Config, logger *slog.Logger) provider.ActionProvider {
	switch cfg.Provider {
	case "anthropic":
		logger.Info("action provider: anthropic", "model", cfg.AnthropicModel)
		return provider.NewAnthropic(func(o *provider.AnthropicOptions) {
			o.APIKey = cfg.AnthropicAPIKey
			if cfg.AnthropicModel != "" {
				o.Model = anthropic.Model(cfg.AnthropicModel)
			}
		})
	case "openai":
		logger.Info("action provider: openai", "model", cfg.OpenAIModel)
		return provider.NewOpenAI(func(o *provider.OpenAIOptions) {
			o.APIKey = cfg.OpenAIAPIKey
			if cfg.OpenAIModel != "" {
				o.Model = cfg.OpenAIModel
			}
		})
	case "scripted":
		logger.Info("action provider: scripted (deterministic placeholder turns)")
		return provider.NewScripted(nil)
	default:
		if cfg.AnthropicAPIKey != "" {
			logger.Info("action provider: anthropic (auto-detected)", "model", cfg.AnthropicModel)
			return provider.NewAnthropic(func(o *provider.AnthropicOptions) {
				o.APIKey = cfg.AnthropicAPIKey
				if cfg.AnthropicModel != "" {
					o.Model = anthropic.Model(cfg.AnthropicModel)
				}
			})
		}
		if cfg.OpenAIAPIKey != "" {
			logger.Info("action provider: openai (auto-detected)", "model", cfg.OpenAIModel)
			return provider.NewOpenAI(func(o *provider.OpenAIOptions) {
				o.APIKey = cfg.OpenAIAPIKey
				if cfg.OpenAIModel != "" {
					o.Model = cfg.OpenAIModel
				}
			})
		}
		logger.Warn("no provider API key found, using scripted (deterministic placeholder turns)")
		return provider.NewScripted(nil)
	}
}

// providerAdapter bridges the public ActionProvider interface to the
// internal provider boundary, converting internal model types to their
// public views.
type providerAdapter struct {
	p ActionProvider
}

func (a *providerAdapter) Name() string { return a.p.Name() }

func (a *providerAdapter) ProduceAction(ctx context.Context, req provider.Request) (provider.Action, error) {
	pub := ActionRequest{
		SimulationName:        req.Simulation.Name,
		SimulationDescription: req.Simulation.Description,
		Agent:                 AgentSpec{Role: req.Agent.Role, Brief: req.Agent.Brief},
		Seq:                   req.Seq,
	}
	for _, spec := range req.Simulation.Roster {
		pub.Roster = append(pub.Roster, AgentSpec{Role: spec.Role, Brief: spec.Brief})
	}
	for _, turn := range req.History {
		pub.History = append(pub.History, TranscriptTurn{Seq: turn.Seq, Role: turn.AgentRole, Content: turn.Content})
	}
	for _, fb := range req.Feedback {
		pub.Feedback = append(pub.Feedback, FeedbackNote{Author: fb.Author, Content: fb.Content})
	}

	action, err := a.p.ProduceAction(ctx, pub)
	if err != nil {
		return provider.Action{}, err
	}
	return provider.Action{Content: action.Content, Model: action.Model}, nil
}
