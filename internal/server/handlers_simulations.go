package server

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/ashita-ai/mogi/internal/model"
)

// pathUUID parses a path parameter as a UUID, writing a 400 on failure.
func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

// HandleCreateSimulation registers a new scenario definition.
func (h *Handlers) HandleCreateSimulation(w http.ResponseWriter, r *http.Request) {
	h.limitBody(w, r)
	claims := ClaimsFromContext(r.Context())

	var req model.CreateSimulationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}

	sim, err := h.eng.CreateSimulation(r.Context(), claims.OrgID, req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, sim)
}

// HandleGetSimulation returns one simulation by ID.
func (h *Handlers) HandleGetSimulation(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	id, ok := pathUUID(w, r, "simulation_id")
	if !ok {
		return
	}

	sim, err := h.store.GetSimulation(r.Context(), claims.OrgID, id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, sim)
}

// HandleUpdateSimulation patches a simulation definition. Rejected once any
// run references it.
func (h *Handlers) HandleUpdateSimulation(w http.ResponseWriter, r *http.Request) {
	h.limitBody(w, r)
	claims := ClaimsFromContext(r.Context())
	id, ok := pathUUID(w, r, "simulation_id")
	if !ok {
		return
	}

	var req model.UpdateSimulationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}

	sim, err := h.eng.UpdateSimulation(r.Context(), claims.OrgID, id, req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, sim)
}

// HandleArchiveSimulation retires a simulation from starting new runs.
func (h *Handlers) HandleArchiveSimulation(w http.ResponseWriter, r *http.Request) {
	h.limitBody(w, r)
	claims := ClaimsFromContext(r.Context())
	id, ok := pathUUID(w, r, "simulation_id")
	if !ok {
		return
	}

	var req model.ArchiveSimulationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}

	sim, err := h.eng.ArchiveSimulation(r.Context(), claims.OrgID, id, req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, sim)
}

// HandleListSimulations lists the org's simulations, newest first.
func (h *Handlers) HandleListSimulations(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	limit, offset := pagination(r, 50)

	sims, total, err := h.store.ListSimulations(r.Context(), claims.OrgID, limit, offset)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if sims == nil {
		sims = []model.Simulation{}
	}
	writeList(w, r, sims, total, limit, offset, len(sims))
}
