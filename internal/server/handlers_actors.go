package server

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/mogi/internal/auth"
	"github.com/ashita-ai/mogi/internal/model"
)

// HandleCreateActor provisions a caller identity in the admin's org.
func (h *Handlers) HandleCreateActor(w http.ResponseWriter, r *http.Request) {
	h.limitBody(w, r)
	claims := ClaimsFromContext(r.Context())

	var req model.CreateActorRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if err := model.ValidateActorID(req.ActorID); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	switch req.Role {
	case model.RoleOrgOwner, model.RoleAdmin, model.RoleOperator, model.RoleReader:
	default:
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid role")
		return
	}
	// Admins cannot create identities above their own rank.
	if model.RoleRank(req.Role) > model.RoleRank(claims.Role) {
		writeError(w, r, http.StatusForbidden, model.ErrCodeForbidden, "role exceeds issuer role")
		return
	}
	if len(req.APIKey) < 16 {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "api_key must be at least 16 characters")
		return
	}

	if _, err := h.store.GetActorByActorID(r.Context(), claims.OrgID, req.ActorID); err == nil {
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict, "actor_id already exists")
		return
	}

	hash, err := auth.HashAPIKey(req.APIKey)
	if err != nil {
		h.logger.Error("hash api key", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to create actor")
		return
	}

	actor := model.Actor{
		ActorID:    req.ActorID,
		OrgID:      claims.OrgID,
		Name:       req.Name,
		Role:       req.Role,
		APIKeyHash: &hash,
	}
	created, err := h.store.CreateActor(r.Context(), actor, []model.AuditEntry{{
		ID:        uuid.New(),
		OrgID:     claims.OrgID,
		EventType: model.AuditActorCreated,
		Actor:     claims.ActorID,
		Payload:   map[string]any{"actor_id": req.ActorID, "role": string(req.Role)},
		CreatedAt: time.Now().UTC(),
	}})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusCreated, created)
}

// HandleDeleteActor removes a caller identity from the org. The seed admin
// created at startup is not deletable.
func (h *Handlers) HandleDeleteActor(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	actorID := r.PathValue("actor_id")
	if err := model.ValidateActorID(actorID); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	if actorID == "admin" {
		writeError(w, r, http.StatusForbidden, model.ErrCodeForbidden, "cannot delete the admin actor")
		return
	}

	target, err := h.store.GetActorByActorID(r.Context(), claims.OrgID, actorID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	// Admins cannot delete identities above their own rank.
	if model.RoleRank(target.Role) > model.RoleRank(claims.Role) {
		writeError(w, r, http.StatusForbidden, model.ErrCodeForbidden, "role exceeds issuer role")
		return
	}

	err = h.store.DeleteActor(r.Context(), claims.OrgID, actorID, []model.AuditEntry{{
		ID:        uuid.New(),
		OrgID:     claims.OrgID,
		EventType: model.AuditActorDeleted,
		Actor:     claims.ActorID,
		Payload:   map[string]any{"actor_id": actorID, "role": string(target.Role)},
		CreatedAt: time.Now().UTC(),
	}})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]any{
		"actor_id": actorID,
		"deleted":  true,
	})
}

// HandleListActors lists the org's actors, newest first.
func (h *Handlers) HandleListActors(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	limit, offset := pagination(r, 50)

	actors, total, err := h.store.ListActors(r.Context(), claims.OrgID, limit, offset)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if actors == nil {
		actors = []model.Actor{}
	}
	writeList(w, r, actors, total, limit, offset, len(actors))
}
