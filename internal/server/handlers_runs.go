package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/mogi/internal/integrity"
	"github.com/ashita-ai/mogi/internal/model"
)

// HandleStartRun creates and starts a run of the simulation.
func (h *Handlers) HandleStartRun(w http.ResponseWriter, r *http.Request) {
	h.limitBody(w, r)
	claims := ClaimsFromContext(r.Context())
	simID, ok := pathUUID(w, r, "simulation_id")
	if !ok {
		return
	}

	var req model.StartRunRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}

	run, err := h.eng.StartRun(r.Context(), claims.OrgID, simID, req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, run)
}

// HandleListRuns lists runs of a simulation, newest first.
func (h *Handlers) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	simID, ok := pathUUID(w, r, "simulation_id")
	if !ok {
		return
	}
	limit, offset := pagination(r, 50)

	runs, total, err := h.store.ListRuns(r.Context(), claims.OrgID, simID, limit, offset)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}
	writeList(w, r, runs, total, limit, offset, len(runs))
}

// HandleGetRun returns one run by ID.
func (h *Handlers) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	runID, ok := pathUUID(w, r, "run_id")
	if !ok {
		return
	}

	run, err := h.store.GetRun(r.Context(), claims.OrgID, runID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, run)
}

// HandleGetRunDigest returns a tamper-evident Merkle digest over the run's
// transcript. Recomputing the digest from an exported transcript and
// comparing roots proves the stored turns were not altered.
func (h *Handlers) HandleGetRunDigest(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	runID, ok := pathUUID(w, r, "run_id")
	if !ok {
		return
	}

	run, err := h.store.GetRun(r.Context(), claims.OrgID, runID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	turns, err := h.store.ListTurns(r.Context(), claims.OrgID, runID, 0, 0)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]any{
		"run_id":     run.ID,
		"turn_count": len(turns),
		"algorithm":  integrity.DigestAlgorithm,
		"root_hash":  integrity.TranscriptDigest(turns),
	})
}

// HandleStepRun executes exactly one step of the run.
func (h *Handlers) HandleStepRun(w http.ResponseWriter, r *http.Request) {
	h.limitBody(w, r)
	claims := ClaimsFromContext(r.Context())
	runID, ok := pathUUID(w, r, "run_id")
	if !ok {
		return
	}

	var req model.StepRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}

	res, err := h.eng.Step(r.Context(), claims.OrgID, runID, req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	if h.broker != nil && res.Turn != nil {
		h.broker.Publish(runID, "turn", res.Turn)
		if res.Run.State.Terminal() {
			h.broker.Publish(runID, "run", res.Run)
		}
	}
	writeJSON(w, r, http.StatusOK, res)
}

// HandleDriveRun steps the run until it reaches a terminal state or a
// caller-side cap fires.
func (h *Handlers) HandleDriveRun(w http.ResponseWriter, r *http.Request) {
	h.limitBody(w, r)
	claims := ClaimsFromContext(r.Context())
	runID, ok := pathUUID(w, r, "run_id")
	if !ok {
		return
	}

	var req model.DriveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}

	result, err := h.eng.RunUntilConverged(r.Context(), claims.OrgID, runID, req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	if h.broker != nil && result.Run.State.Terminal() {
		h.broker.Publish(runID, "run", result.Run)
	}
	writeJSON(w, r, http.StatusOK, result)
}

// HandleAbortRun aborts a run, immediately when idle or deferred to the
// in-flight step's checkpoint when busy.
func (h *Handlers) HandleAbortRun(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	runID, ok := pathUUID(w, r, "run_id")
	if !ok {
		return
	}

	run, err := h.eng.AbortRun(r.Context(), claims.OrgID, runID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	if h.broker != nil && run.State.Terminal() {
		h.broker.Publish(runID, "run", run)
	}
	// A deferred abort returns 202: the run is still running and will
	// terminate at the next step checkpoint.
	status := http.StatusOK
	if !run.State.Terminal() {
		status = http.StatusAccepted
	}
	writeJSON(w, r, status, run)
}

// HandlePostFeedback injects moderator feedback into the run's transcript
// stream. The next step delivers it to the acting agent.
func (h *Handlers) HandlePostFeedback(w http.ResponseWriter, r *http.Request) {
	h.limitBody(w, r)
	claims := ClaimsFromContext(r.Context())
	runID, ok := pathUUID(w, r, "run_id")
	if !ok {
		return
	}

	var req model.PostFeedbackRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}

	fb, err := h.eng.PostAgentFeedback(r.Context(), claims.OrgID, runID, req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	if h.broker != nil {
		h.broker.Publish(runID, "feedback", fb)
	}
	writeJSON(w, r, http.StatusCreated, fb)
}

// HandleListFeedback returns the run's feedback, oldest first.
func (h *Handlers) HandleListFeedback(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	runID, ok := pathUUID(w, r, "run_id")
	if !ok {
		return
	}

	afterTurn := int64(-1)
	if v := r.URL.Query().Get("after_turn"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid after_turn")
			return
		}
		afterTurn = n
	}

	items, err := h.store.ListFeedback(r.Context(), claims.OrgID, runID, afterTurn)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if items == nil {
		items = []model.Feedback{}
	}
	writeJSON(w, r, http.StatusOK, items)
}

// HandleListTurns pages through the run's transcript by sequence cursor.
func (h *Handlers) HandleListTurns(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	runID, ok := pathUUID(w, r, "run_id")
	if !ok {
		return
	}

	var afterSeq int64
	if v := r.URL.Query().Get("after_seq"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid after_seq")
			return
		}
		afterSeq = n
	}
	limit, _ := pagination(r, 100)

	turns, err := h.store.ListTurns(r.Context(), claims.OrgID, runID, afterSeq, limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if turns == nil {
		turns = []model.Turn{}
	}
	writeJSON(w, r, http.StatusOK, turns)
}

// HandleListMetrics returns per-turn metrics from a sequence cursor.
func (h *Handlers) HandleListMetrics(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	runID, ok := pathUUID(w, r, "run_id")
	if !ok {
		return
	}

	var afterSeq int64
	if v := r.URL.Query().Get("after_seq"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid after_seq")
			return
		}
		afterSeq = n
	}
	limit, _ := pagination(r, 0)

	metrics, err := h.store.ListMetrics(r.Context(), claims.OrgID, runID, afterSeq, limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if metrics == nil {
		metrics = []model.Metric{}
	}
	writeJSON(w, r, http.StatusOK, metrics)
}

// HandleListOutcomes returns the run's outcome records, oldest first.
func (h *Handlers) HandleListOutcomes(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	runID, ok := pathUUID(w, r, "run_id")
	if !ok {
		return
	}
	limit, offset := pagination(r, 50)

	outcomes, total, err := h.store.ListOutcomes(r.Context(), claims.OrgID, runID, limit, offset)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if outcomes == nil {
		outcomes = []model.Outcome{}
	}
	writeList(w, r, outcomes, total, limit, offset, len(outcomes))
}

// HandleSummarizeOutcomes generates (or reuses, for concurrent callers) a
// deterministic summary outcome for the run.
func (h *Handlers) HandleSummarizeOutcomes(w http.ResponseWriter, r *http.Request) {
	h.limitBody(w, r)
	claims := ClaimsFromContext(r.Context())
	runID, ok := pathUUID(w, r, "run_id")
	if !ok {
		return
	}

	var req model.SummarizeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}

	outcome, err := h.eng.SummarizeOutcomes(r.Context(), claims.OrgID, runID, req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, outcome)
}

// HandleListAudit lists the org's audit trail with optional filters.
func (h *Handlers) HandleListAudit(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	q := r.URL.Query()

	var filter model.AuditFilter
	filter.Limit, filter.Offset = pagination(r, 100)

	if v := q.Get("simulation_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid simulation_id")
			return
		}
		filter.SimulationID = &id
	}
	if v := q.Get("run_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid run_id")
			return
		}
		filter.RunID = &id
	}
	if v := q.Get("event_type"); v != "" {
		et := model.AuditEventType(v)
		filter.EventType = &et
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid since (want RFC3339)")
			return
		}
		filter.Since = &t
	}
	if v := q.Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid until (want RFC3339)")
			return
		}
		filter.Until = &t
	}

	entries, total, err := h.store.ListAudit(r.Context(), claims.OrgID, filter)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if entries == nil {
		entries = []model.AuditEntry{}
	}
	writeList(w, r, entries, total, filter.Limit, filter.Offset, len(entries))
}

// HandleSubscribeRun streams the run's turn and lifecycle events as SSE.
// Events published after the connection opens are delivered; the transcript
// so far comes from the turns endpoint.
func (h *Handlers) HandleSubscribeRun(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	runID, ok := pathUUID(w, r, "run_id")
	if !ok {
		return
	}
	if h.broker == nil {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "subscriptions not enabled")
		return
	}
	if _, err := h.store.GetRun(r.Context(), claims.OrgID, runID); err != nil {
		writeServiceError(w, r, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := h.broker.Subscribe(runID)
	defer h.broker.Unsubscribe(runID, ch)

	for {
		select {
		case <-r.Context().Done():
			return
		case event, open := <-ch:
			if !open {
				return
			}
			if _, err := w.Write(event); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
