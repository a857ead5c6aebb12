package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/mogi/internal/auth"
	"github.com/ashita-ai/mogi/internal/engine"
	"github.com/ashita-ai/mogi/internal/model"
	"github.com/ashita-ai/mogi/internal/ratelimit"
)

// Server is the Mogi HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a
// Server. Optional fields (nil-safe): Limiter, Broker, MCPServer.
type ServerConfig struct {
	// Required dependencies.
	Store  Store
	Engine *engine.Controller
	JWTMgr *auth.JWTManager
	Logger *slog.Logger

	// Optional dependencies (nil = disabled).
	Limiter   ratelimit.Limiter
	Broker    *Broker
	MCPServer *mcpserver.MCPServer

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
	OpenAPISpec         []byte // Embedded OpenAPI YAML.
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		Store:               cfg.Store,
		Engine:              cfg.Engine,
		JWTMgr:              cfg.JWTMgr,
		Broker:              cfg.Broker,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		OpenAPISpec:         cfg.OpenAPISpec,
	})

	// Request ID extractor for rate limit error responses.
	reqIDFunc := func(r *http.Request) string {
		return RequestIDFromContext(r.Context())
	}

	actorRL := ratelimit.Middleware(cfg.Limiter, actorKeyFunc, reqIDFunc)
	authRL := ratelimit.Middleware(cfg.Limiter, ratelimit.IPKeyFunc, reqIDFunc)

	mux := http.NewServeMux()

	// Auth endpoints (no auth required, rate limited by IP).
	mux.Handle("POST /auth/token", authRL(http.HandlerFunc(h.HandleAuthToken)))
	mux.Handle("POST /auth/scoped-token", authRL(requireRole(model.RoleAdmin)(http.HandlerFunc(h.HandleScopedToken))))

	// Actor directory (admin-only; admins are exempt from rate limits).
	adminOnly := requireRole(model.RoleAdmin)
	mux.Handle("POST /v1/actors", adminOnly(http.HandlerFunc(h.HandleCreateActor)))
	mux.Handle("GET /v1/actors", adminOnly(http.HandlerFunc(h.HandleListActors)))
	mux.Handle("DELETE /v1/actors/{actor_id}", adminOnly(http.HandlerFunc(h.HandleDeleteActor)))

	// The simulation surface is feature-gated per organization.
	sims := h.requireFeature(model.FeatureSimulations)
	writeRole := requireRole(model.RoleOperator)
	readRole := requireRole(model.RoleReader)

	// Simulation definitions.
	mux.Handle("POST /v1/simulations", actorRL(writeRole(sims(http.HandlerFunc(h.HandleCreateSimulation)))))
	mux.Handle("GET /v1/simulations", actorRL(readRole(sims(http.HandlerFunc(h.HandleListSimulations)))))
	mux.Handle("GET /v1/simulations/{simulation_id}", actorRL(readRole(sims(http.HandlerFunc(h.HandleGetSimulation)))))
	mux.Handle("PATCH /v1/simulations/{simulation_id}", actorRL(writeRole(sims(http.HandlerFunc(h.HandleUpdateSimulation)))))
	mux.Handle("POST /v1/simulations/{simulation_id}/archive", actorRL(writeRole(sims(http.HandlerFunc(h.HandleArchiveSimulation)))))

	// Run lifecycle (operator+).
	mux.Handle("POST /v1/simulations/{simulation_id}/runs", actorRL(writeRole(sims(http.HandlerFunc(h.HandleStartRun)))))
	mux.Handle("POST /v1/runs/{run_id}/step", actorRL(writeRole(sims(http.HandlerFunc(h.HandleStepRun)))))
	mux.Handle("POST /v1/runs/{run_id}/drive", actorRL(writeRole(sims(http.HandlerFunc(h.HandleDriveRun)))))
	mux.Handle("POST /v1/runs/{run_id}/abort", actorRL(writeRole(sims(http.HandlerFunc(h.HandleAbortRun)))))
	mux.Handle("POST /v1/runs/{run_id}/feedback", actorRL(writeRole(sims(http.HandlerFunc(h.HandlePostFeedback)))))
	mux.Handle("POST /v1/runs/{run_id}/outcomes/summarize", actorRL(writeRole(sims(http.HandlerFunc(h.HandleSummarizeOutcomes)))))

	// Run reads (reader+).
	mux.Handle("GET /v1/simulations/{simulation_id}/runs", actorRL(readRole(sims(http.HandlerFunc(h.HandleListRuns)))))
	mux.Handle("GET /v1/runs/{run_id}", actorRL(readRole(sims(http.HandlerFunc(h.HandleGetRun)))))
	mux.Handle("GET /v1/runs/{run_id}/turns", actorRL(readRole(sims(http.HandlerFunc(h.HandleListTurns)))))
	mux.Handle("GET /v1/runs/{run_id}/digest", actorRL(readRole(sims(http.HandlerFunc(h.HandleGetRunDigest)))))
	mux.Handle("GET /v1/runs/{run_id}/metrics", actorRL(readRole(sims(http.HandlerFunc(h.HandleListMetrics)))))
	mux.Handle("GET /v1/runs/{run_id}/feedback", actorRL(readRole(sims(http.HandlerFunc(h.HandleListFeedback)))))
	mux.Handle("GET /v1/runs/{run_id}/outcomes", actorRL(readRole(sims(http.HandlerFunc(h.HandleListOutcomes)))))

	// Subscription endpoint (reader+, no rate limit; long-lived connection).
	mux.Handle("GET /v1/runs/{run_id}/subscribe", readRole(sims(http.HandlerFunc(h.HandleSubscribeRun))))

	// Audit trail (reader+).
	mux.Handle("GET /v1/audit", actorRL(readRole(http.HandlerFunc(h.HandleListAudit))))

	// MCP StreamableHTTP transport (auth required, reader+).
	if cfg.MCPServer != nil {
		mcpHTTP := mcpserver.NewStreamableHTTPServer(cfg.MCPServer)
		mux.Handle("/mcp", readRole(mcpHTTP))
	}

	// Health (no auth, no rate limit).
	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.HandleFunc("GET /openapi.yaml", h.HandleOpenAPISpec)

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → auth → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(cfg.JWTMgr, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// actorKeyFunc extracts the rate limit key from the request context.
// Returns empty string for admin+ roles (exempt from rate limits).
func actorKeyFunc(r *http.Request) string {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		return ""
	}
	if model.RoleAtLeast(claims.Role, model.RoleAdmin) {
		return ""
	}
	return "org:" + claims.OrgID.String() + ":actor:" + claims.ActorID
}

// Handlers returns the underlying Handlers for access to SeedAdmin etc.
func (s *Server) Handlers() *Handlers {
	return s.handlers
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
