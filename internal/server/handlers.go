package server

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/mogi/internal/auth"
	"github.com/ashita-ai/mogi/internal/engine"
	"github.com/ashita-ai/mogi/internal/model"
)

// Store is the persistence surface the HTTP layer reads from. It is the
// engine's store contract plus the organization and actor directory. Both
// internal/storage (Postgres) and internal/memstore implement it.
type Store interface {
	engine.Store

	Ping(ctx context.Context) error

	CreateOrganization(ctx context.Context, org model.Organization) (model.Organization, error)
	GetOrganization(ctx context.Context, id uuid.UUID) (model.Organization, error)
	GetOrganizationByName(ctx context.Context, name string) (model.Organization, error)
	UpdateOrganizationFeatures(ctx context.Context, id uuid.UUID, features []string) error

	CreateActor(ctx context.Context, actor model.Actor, audit []model.AuditEntry) (model.Actor, error)
	GetActorByActorID(ctx context.Context, orgID uuid.UUID, actorID string) (model.Actor, error)
	GetActorsByActorIDGlobal(ctx context.Context, actorID string) ([]model.Actor, error)
	ListActors(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]model.Actor, int, error)
	DeleteActor(ctx context.Context, orgID uuid.UUID, actorID string, audit []model.AuditEntry) error
}

// Handlers holds dependencies for all HTTP handlers. Mutations go through
// the engine Controller; reads go straight to the store.
type Handlers struct {
	store  Store
	eng    *engine.Controller
	jwtMgr *auth.JWTManager
	broker *Broker
	logger *slog.Logger

	version             string
	maxRequestBodyBytes int64
	openapiSpec         []byte
	startedAt           time.Time
}

// HandlersDeps bundles the dependencies for NewHandlers.
type HandlersDeps struct {
	Store               Store
	Engine              *engine.Controller
	JWTMgr              *auth.JWTManager
	Broker              *Broker
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
	OpenAPISpec         []byte
}

// NewHandlers creates the handler set.
func NewHandlers(deps HandlersDeps) *Handlers {
	return &Handlers{
		store:               deps.Store,
		eng:                 deps.Engine,
		jwtMgr:              deps.JWTMgr,
		broker:              deps.Broker,
		logger:              deps.Logger,
		version:             deps.Version,
		maxRequestBodyBytes: deps.MaxRequestBodyBytes,
		openapiSpec:         deps.OpenAPISpec,
		startedAt:           time.Now().UTC(),
	}
}

// pagination parses limit/offset query parameters with bounds.
func pagination(r *http.Request, defaultLimit int) (limit, offset int) {
	limit = defaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

// limitBody caps the request body size before JSON decoding.
func (h *Handlers) limitBody(w http.ResponseWriter, r *http.Request) {
	if h.maxRequestBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxRequestBodyBytes)
	}
}

// requireFeature gates a handler on an org feature entitlement.
func (h *Handlers) requireFeature(name string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFromContext(r.Context())
			if claims == nil {
				writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "no claims in context")
				return
			}
			org, err := h.store.GetOrganization(r.Context(), claims.OrgID)
			if err != nil {
				writeServiceError(w, r, err)
				return
			}
			if !org.HasFeature(name) {
				writeError(w, r, http.StatusForbidden, model.ErrCodeFeatureDisabled, "feature not enabled for organization")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// HandleHealth returns service liveness, storage connectivity, version and
// uptime. Returns 503 when the store is unreachable so load balancers can
// drain the instance.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	storageStatus := "connected"
	httpStatus := http.StatusOK

	if err := h.store.Ping(r.Context()); err != nil {
		status = "unhealthy"
		storageStatus = "disconnected"
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, r, httpStatus, model.HealthResponse{
		Status:  status,
		Version: h.version,
		Storage: storageStatus,
		Uptime:  int64(time.Since(h.startedAt).Seconds()),
	})
}

// HandleOpenAPISpec serves the embedded OpenAPI specification.
func (h *Handlers) HandleOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	if len(h.openapiSpec) == 0 {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(h.openapiSpec)
}

// HandleAuthToken exchanges an actor_id and API key for a JWT.
// The actor_id is not unique across orgs, so every matching identity is
// checked; the API key hash picks the right one.
func (h *Handlers) HandleAuthToken(w http.ResponseWriter, r *http.Request) {
	h.limitBody(w, r)
	var req model.AuthTokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if req.ActorID == "" || req.APIKey == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "actor_id and api_key are required")
		return
	}

	actors, err := h.store.GetActorsByActorIDGlobal(r.Context(), req.ActorID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	var matched *model.Actor
	for i := range actors {
		if actors[i].APIKeyHash == nil {
			continue
		}
		ok, err := auth.VerifyAPIKey(req.APIKey, *actors[i].APIKeyHash)
		if err == nil && ok {
			matched = &actors[i]
			break
		}
	}
	if matched == nil {
		// Burn the same hashing cost as a real verification so response
		// timing does not reveal whether the actor_id exists.
		auth.DummyVerify()
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	token, expiresAt, err := h.jwtMgr.IssueToken(*matched)
	if err != nil {
		h.logger.Error("issue token", "error", err, "actor_id", matched.ActorID)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to issue token")
		return
	}

	writeJSON(w, r, http.StatusOK, model.AuthTokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		ActorID:   matched.ActorID,
		OrgID:     matched.OrgID,
		Role:      matched.Role,
	})
}

// HandleScopedToken mints a short-lived token acting as another actor in the
// caller's org. Admin and above only; the issuer is recorded in the token.
func (h *Handlers) HandleScopedToken(w http.ResponseWriter, r *http.Request) {
	h.limitBody(w, r)
	claims := ClaimsFromContext(r.Context())

	var req model.ScopedTokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if req.ActorID == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "actor_id is required")
		return
	}

	target, err := h.store.GetActorByActorID(r.Context(), claims.OrgID, req.ActorID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	// Never mint a token that escalates past the issuer.
	if model.RoleRank(target.Role) > model.RoleRank(claims.Role) {
		writeError(w, r, http.StatusForbidden, model.ErrCodeForbidden, "target role exceeds issuer role")
		return
	}

	token, expiresAt, err := h.jwtMgr.IssueScopedToken(claims.ActorID, target, req.TTL.Std())
	if err != nil {
		h.logger.Error("issue scoped token", "error", err, "target", target.ActorID)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to issue token")
		return
	}

	writeJSON(w, r, http.StatusOK, model.AuthTokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		ActorID:   target.ActorID,
		OrgID:     target.OrgID,
		Role:      target.Role,
	})
}

// SeedAdmin bootstraps the default org and its org_owner actor from the
// configured admin API key. Idempotent: existing org and actor are reused.
func (h *Handlers) SeedAdmin(ctx context.Context, orgName, apiKey string) error {
	org, err := h.store.GetOrganizationByName(ctx, orgName)
	if err != nil {
		org, err = h.store.CreateOrganization(ctx, model.Organization{
			Name:     orgName,
			Features: []string{model.FeatureSimulations},
		})
		if err != nil {
			return err
		}
		h.logger.Info("seeded organization", "org", orgName, "org_id", org.ID)
	}

	if _, err := h.store.GetActorByActorID(ctx, org.ID, "admin"); err == nil {
		return nil
	}

	hash, err := auth.HashAPIKey(apiKey)
	if err != nil {
		return err
	}
	actor := model.Actor{
		ActorID:    "admin",
		OrgID:      org.ID,
		Name:       "Administrator",
		Role:       model.RoleOrgOwner,
		APIKeyHash: &hash,
	}
	created, err := h.store.CreateActor(ctx, actor, []model.AuditEntry{{
		ID:        uuid.New(),
		OrgID:     org.ID,
		EventType: model.AuditActorCreated,
		Actor:     "system",
		Payload:   map[string]any{"actor_id": "admin", "role": string(model.RoleOrgOwner)},
		CreatedAt: time.Now().UTC(),
	}})
	if err != nil {
		return err
	}
	h.logger.Info("seeded admin actor", "actor_id", created.ActorID, "org_id", org.ID)
	return nil
}
