package mogi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
)

// mockServer creates an httptest server that mimics the Mogi API.
func mockServer(t *testing.T, handlers map[string]http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	// Always register auth endpoint.
	if _, ok := handlers["POST /auth/token"]; !ok {
		mux.HandleFunc("POST /auth/token", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{
				"data": map[string]any{
					"token":      "test-token-xyz",
					"expires_at": time.Now().Add(1 * time.Hour).Format(time.RFC3339),
				},
			})
		})
	}

	for pattern, handler := range handlers {
		mux.HandleFunc(pattern, handler)
	}

	return httptest.NewServer(mux)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, serverURL string) *Client {
	t.Helper()
	c, err := NewClient(Config{
		BaseURL: serverURL,
		ActorID: "test-actor",
		APIKey:  "test-key",
		Timeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return c
}

func TestCreateSimulation(t *testing.T) {
	simID := uuid.New()

	var receivedBody CreateSimulationRequest
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /v1/simulations": func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer test-token-xyz" {
				writeJSON(w, http.StatusUnauthorized, map[string]any{
					"error": map[string]any{"code": "UNAUTHORIZED", "message": "bad token"},
				})
				return
			}
			if err := json.NewDecoder(r.Body).Decode(&receivedBody); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]any{
					"error": map[string]any{"code": "INVALID_INPUT", "message": err.Error()},
				})
				return
			}
			writeJSON(w, http.StatusCreated, map[string]any{
				"data": Simulation{
					ID:         simID,
					Name:       receivedBody.Name,
					Roster:     receivedBody.Roster,
					Policy:     receivedBody.Policy,
					StepBudget: receivedBody.StepBudget,
					Status:     SimulationActive,
				},
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	sim, err := client.CreateSimulation(context.Background(), CreateSimulationRequest{
		Name: "incident-review",
		Roster: []AgentSpec{
			{Role: "analyst", Brief: "investigate the incident"},
			{Role: "critic"},
		},
		Policy:     Policy{Kind: PolicyFixedTurnCount, TurnCount: 6},
		StepBudget: 20,
	})
	if err != nil {
		t.Fatalf("CreateSimulation failed: %v", err)
	}
	if sim.ID != simID {
		t.Errorf("expected simulation ID %s, got %s", simID, sim.ID)
	}
	if sim.Status != SimulationActive {
		t.Errorf("expected status active, got %q", sim.Status)
	}
	if receivedBody.Policy.Kind != PolicyFixedTurnCount {
		t.Errorf("expected policy kind fixed_turn_count on the wire, got %q", receivedBody.Policy.Kind)
	}
	if len(receivedBody.Roster) != 2 || receivedBody.Roster[0].Role != "analyst" {
		t.Errorf("unexpected roster on the wire: %+v", receivedBody.Roster)
	}
}

func TestListSimulations(t *testing.T) {
	var receivedQuery string
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /v1/simulations": func(w http.ResponseWriter, r *http.Request) {
			receivedQuery = r.URL.RawQuery
			writeJSON(w, http.StatusOK, map[string]any{
				"data":     []Simulation{{ID: uuid.New(), Name: "a"}, {ID: uuid.New(), Name: "b"}},
				"has_more": false,
				"limit":    10,
				"offset":   0,
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	sims, err := client.ListSimulations(context.Background(), &ListOptions{Limit: 10})
	if err != nil {
		t.Fatalf("ListSimulations failed: %v", err)
	}
	if len(sims) != 2 {
		t.Fatalf("expected 2 simulations, got %d", len(sims))
	}
	if receivedQuery != "limit=10" {
		t.Errorf("expected query 'limit=10', got %q", receivedQuery)
	}
}

func TestUpdateSimulationSendsOnlySetFields(t *testing.T) {
	simID := uuid.New()

	var receivedMethod string
	var receivedRaw map[string]json.RawMessage
	srv := mockServer(t, map[string]http.HandlerFunc{
		"PATCH /v1/simulations/" + simID.String(): func(w http.ResponseWriter, r *http.Request) {
			receivedMethod = r.Method
			if err := json.NewDecoder(r.Body).Decode(&receivedRaw); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]any{
					"error": map[string]any{"code": "INVALID_INPUT", "message": err.Error()},
				})
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"data": Simulation{ID: simID, Name: "renamed"},
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	name := "renamed"
	sim, err := client.UpdateSimulation(context.Background(), simID, UpdateSimulationRequest{Name: &name})
	if err != nil {
		t.Fatalf("UpdateSimulation failed: %v", err)
	}
	if sim.Name != "renamed" {
		t.Errorf("expected name 'renamed', got %q", sim.Name)
	}
	if receivedMethod != http.MethodPatch {
		t.Errorf("expected PATCH, got %s", receivedMethod)
	}
	if _, ok := receivedRaw["name"]; !ok {
		t.Error("expected 'name' in wire body")
	}
	for _, field := range []string{"roster", "policy", "step_budget", "description"} {
		if _, ok := receivedRaw[field]; ok {
			t.Errorf("unset field %q should be omitted from wire body", field)
		}
	}
}

func TestArchiveSimulation(t *testing.T) {
	simID := uuid.New()

	var receivedBody map[string]any
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /v1/simulations/" + simID.String() + "/archive": func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewDecoder(r.Body).Decode(&receivedBody)
			reason := "superseded"
			writeJSON(w, http.StatusOK, map[string]any{
				"data": Simulation{ID: simID, Status: SimulationArchived, ArchiveReason: &reason},
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	sim, err := client.ArchiveSimulation(context.Background(), simID, "superseded")
	if err != nil {
		t.Fatalf("ArchiveSimulation failed: %v", err)
	}
	if sim.Status != SimulationArchived {
		t.Errorf("expected archived status, got %q", sim.Status)
	}
	if receivedBody["reason"] != "superseded" {
		t.Errorf("expected reason 'superseded' on the wire, got %v", receivedBody["reason"])
	}
}

func TestStartRun(t *testing.T) {
	simID := uuid.New()
	runID := uuid.New()

	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /v1/simulations/" + simID.String() + "/runs": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusCreated, map[string]any{
				"data": Run{
					ID:              runID,
					SimulationID:    simID,
					State:           RunRunning,
					BudgetRemaining: 15,
				},
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	run, err := client.StartRun(context.Background(), simID, StartRunRequest{StepBudget: 15})
	if err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	if run.ID != runID {
		t.Errorf("expected run ID %s, got %s", runID, run.ID)
	}
	if run.State != RunRunning {
		t.Errorf("expected state running, got %q", run.State)
	}
	if run.BudgetRemaining != 15 {
		t.Errorf("expected budget 15, got %d", run.BudgetRemaining)
	}
}

func TestStepRun(t *testing.T) {
	runID := uuid.New()

	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /v1/runs/" + runID.String() + "/step": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{
				"data": StepResult{
					Run: Run{ID: runID, State: RunRunning, TurnCount: 1, BudgetRemaining: 9},
					Turn: &Turn{
						ID:        uuid.New(),
						RunID:     runID,
						Seq:       1,
						AgentRole: "analyst",
						Content:   "opening assessment",
					},
				},
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	res, err := client.StepRun(context.Background(), runID, StepRequest{})
	if err != nil {
		t.Fatalf("StepRun failed: %v", err)
	}
	if res.Turn == nil {
		t.Fatal("expected a turn")
	}
	if res.Turn.Seq != 1 || res.Turn.AgentRole != "analyst" {
		t.Errorf("unexpected turn: seq=%d role=%q", res.Turn.Seq, res.Turn.AgentRole)
	}
	if res.Run.BudgetRemaining != 9 {
		t.Errorf("expected budget 9, got %d", res.Run.BudgetRemaining)
	}
}

func TestStepRunConflict(t *testing.T) {
	runID := uuid.New()

	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /v1/runs/" + runID.String() + "/step": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusConflict, map[string]any{
				"error": map[string]any{"code": "RUN_BUSY", "message": "another step is in flight"},
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	_, err := client.StepRun(context.Background(), runID, StepRequest{})
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsConflict(err) {
		t.Errorf("expected IsConflict, got %v", err)
	}
}

func TestDriveRunSendsDurationsAsStrings(t *testing.T) {
	runID := uuid.New()

	var receivedRaw map[string]json.RawMessage
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /v1/runs/" + runID.String() + "/drive": func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewDecoder(r.Body).Decode(&receivedRaw)
			writeJSON(w, http.StatusOK, map[string]any{
				"data": DriveResult{
					Run:           Run{ID: runID, State: RunConverged, TurnCount: 6},
					StepsExecuted: 6,
					Turns:         6,
				},
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	res, err := client.DriveRun(context.Background(), runID, DriveRequest{
		MaxSteps:    50,
		MaxDuration: Duration(2 * time.Minute),
	})
	if err != nil {
		t.Fatalf("DriveRun failed: %v", err)
	}
	if res.Run.State != RunConverged {
		t.Errorf("expected converged, got %q", res.Run.State)
	}
	if res.StepsExecuted != 6 {
		t.Errorf("expected 6 steps, got %d", res.StepsExecuted)
	}
	if string(receivedRaw["max_duration"]) != `"2m0s"` {
		t.Errorf("expected max_duration as quoted duration string, got %s", receivedRaw["max_duration"])
	}
}

func TestAbortRunDeferred(t *testing.T) {
	runID := uuid.New()

	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /v1/runs/" + runID.String() + "/abort": func(w http.ResponseWriter, r *http.Request) {
			// A busy run defers the abort to the step checkpoint.
			writeJSON(w, http.StatusAccepted, map[string]any{
				"data": Run{ID: runID, State: RunRunning, AbortRequested: true},
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	run, err := client.AbortRun(context.Background(), runID)
	if err != nil {
		t.Fatalf("AbortRun failed: %v", err)
	}
	if run.State.Terminal() {
		t.Errorf("deferred abort should leave the run non-terminal, got %q", run.State)
	}
	if !run.AbortRequested {
		t.Error("expected AbortRequested to be set")
	}
}

func TestPostFeedback(t *testing.T) {
	runID := uuid.New()

	var receivedBody map[string]any
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /v1/runs/" + runID.String() + "/feedback": func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewDecoder(r.Body).Decode(&receivedBody)
			writeJSON(w, http.StatusCreated, map[string]any{
				"data": Feedback{
					ID:        uuid.New(),
					RunID:     runID,
					Seq:       1,
					AfterTurn: 3,
					Author:    "test-actor",
					Content:   "focus on the root cause",
				},
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	fb, err := client.PostFeedback(context.Background(), runID, "focus on the root cause")
	if err != nil {
		t.Fatalf("PostFeedback failed: %v", err)
	}
	if fb.AfterTurn != 3 {
		t.Errorf("expected after_turn 3, got %d", fb.AfterTurn)
	}
	if receivedBody["content"] != "focus on the root cause" {
		t.Errorf("unexpected wire content: %v", receivedBody["content"])
	}
}

func TestListTurnsQueryParams(t *testing.T) {
	runID := uuid.New()

	var receivedQuery string
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /v1/runs/" + runID.String() + "/turns": func(w http.ResponseWriter, r *http.Request) {
			receivedQuery = r.URL.RawQuery
			writeJSON(w, http.StatusOK, map[string]any{
				"data": []Turn{
					{RunID: runID, Seq: 3, AgentRole: "analyst"},
					{RunID: runID, Seq: 4, AgentRole: "critic"},
				},
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	turns, err := client.ListTurns(context.Background(), runID, 2, 50)
	if err != nil {
		t.Fatalf("ListTurns failed: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(turns))
	}
	if turns[0].Seq != 3 {
		t.Errorf("expected first seq 3, got %d", turns[0].Seq)
	}
	if !strings.Contains(receivedQuery, "after_seq=2") || !strings.Contains(receivedQuery, "limit=50") {
		t.Errorf("expected after_seq and limit in query, got %q", receivedQuery)
	}
}

func TestTranscriptPagesThroughTurns(t *testing.T) {
	runID := uuid.New()

	// 150 turns forces two pages at the client's page size of 100.
	makeTurns := func(from, to int64) []Turn {
		var out []Turn
		for seq := from; seq <= to; seq++ {
			out = append(out, Turn{RunID: runID, Seq: seq, AgentRole: "analyst"})
		}
		return out
	}

	var requests []string
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /v1/runs/" + runID.String() + "/turns": func(w http.ResponseWriter, r *http.Request) {
			requests = append(requests, r.URL.RawQuery)
			after := int64(0)
			if v := r.URL.Query().Get("after_seq"); v != "" {
				_ = json.Unmarshal([]byte(v), &after)
			}
			end := after + 100
			if end > 150 {
				end = 150
			}
			writeJSON(w, http.StatusOK, map[string]any{"data": makeTurns(after+1, end)})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	turns, err := client.Transcript(context.Background(), runID)
	if err != nil {
		t.Fatalf("Transcript failed: %v", err)
	}
	if len(turns) != 150 {
		t.Fatalf("expected 150 turns, got %d", len(turns))
	}
	if turns[149].Seq != 150 {
		t.Errorf("expected last seq 150, got %d", turns[149].Seq)
	}
	if len(requests) != 2 {
		t.Errorf("expected 2 page requests, got %d: %v", len(requests), requests)
	}
}

func TestListFeedbackAfterTurn(t *testing.T) {
	runID := uuid.New()

	var receivedQuery string
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /v1/runs/" + runID.String() + "/feedback": func(w http.ResponseWriter, r *http.Request) {
			receivedQuery = r.URL.RawQuery
			writeJSON(w, http.StatusOK, map[string]any{
				"data": []Feedback{{RunID: runID, Seq: 2, AfterTurn: 5}},
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	fbs, err := client.ListFeedback(context.Background(), runID, 4)
	if err != nil {
		t.Fatalf("ListFeedback failed: %v", err)
	}
	if len(fbs) != 1 || fbs[0].AfterTurn != 5 {
		t.Errorf("unexpected feedback: %+v", fbs)
	}
	if receivedQuery != "after_turn=4" {
		t.Errorf("expected query 'after_turn=4', got %q", receivedQuery)
	}
}

func TestListMetrics(t *testing.T) {
	runID := uuid.New()

	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /v1/runs/" + runID.String() + "/metrics": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{
				"data": []Metric{
					{RunID: runID, TurnSeq: 1, Name: "agreement", Value: 0.4},
					{RunID: runID, TurnSeq: 2, Name: "agreement", Value: 0.8},
				},
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	metrics, err := client.ListMetrics(context.Background(), runID, 0)
	if err != nil {
		t.Fatalf("ListMetrics failed: %v", err)
	}
	if len(metrics) != 2 {
		t.Fatalf("expected 2 metrics, got %d", len(metrics))
	}
	if metrics[1].Value != 0.8 {
		t.Errorf("expected value 0.8, got %v", metrics[1].Value)
	}
}

func TestSummarize(t *testing.T) {
	runID := uuid.New()

	var receivedBody map[string]any
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /v1/runs/" + runID.String() + "/outcomes/summarize": func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewDecoder(r.Body).Decode(&receivedBody)
			writeJSON(w, http.StatusCreated, map[string]any{
				"data": Outcome{
					ID:        uuid.New(),
					RunID:     runID,
					Trigger:   OutcomeTriggerSummarize,
					Converged: true,
					TurnCount: 6,
					Summary:   "6 turns across 2 roles",
				},
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	outcome, err := client.Summarize(context.Background(), runID, 10)
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}
	if outcome.Trigger != OutcomeTriggerSummarize {
		t.Errorf("expected summarize trigger, got %q", outcome.Trigger)
	}
	if receivedBody["max_turns"] != float64(10) {
		t.Errorf("expected max_turns 10 on the wire, got %v", receivedBody["max_turns"])
	}
}

func TestGetRunDigest(t *testing.T) {
	runID := uuid.New()

	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /v1/runs/" + runID.String() + "/digest": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{
				"data": RunDigest{
					RunID:     runID,
					TurnCount: 6,
					Algorithm: "sha256-merkle-v1",
					RootHash:  strings.Repeat("ab", 32),
				},
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	digest, err := client.GetRunDigest(context.Background(), runID)
	if err != nil {
		t.Fatalf("GetRunDigest failed: %v", err)
	}
	if digest.Algorithm != "sha256-merkle-v1" {
		t.Errorf("unexpected algorithm %q", digest.Algorithm)
	}
	if len(digest.RootHash) != 64 {
		t.Errorf("expected 64-char root hash, got %d chars", len(digest.RootHash))
	}
}

func TestListAuditFilters(t *testing.T) {
	runID := uuid.New()
	since := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	var receivedQuery map[string][]string
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /v1/audit": func(w http.ResponseWriter, r *http.Request) {
			receivedQuery = r.URL.Query()
			writeJSON(w, http.StatusOK, map[string]any{
				"data": []AuditEntry{
					{ID: uuid.New(), RunID: &runID, EventType: "run.converged", Actor: "test-actor"},
				},
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	entries, err := client.ListAudit(context.Background(), &AuditOptions{
		RunID:     &runID,
		EventType: "run.converged",
		Since:     since,
		Limit:     25,
	})
	if err != nil {
		t.Fatalf("ListAudit failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if got := receivedQuery["run_id"]; len(got) != 1 || got[0] != runID.String() {
		t.Errorf("expected run_id filter, got %v", got)
	}
	if got := receivedQuery["event_type"]; len(got) != 1 || got[0] != "run.converged" {
		t.Errorf("expected event_type filter, got %v", got)
	}
	if got := receivedQuery["since"]; len(got) != 1 || got[0] != "2026-03-01T00:00:00Z" {
		t.Errorf("expected RFC3339 since filter, got %v", got)
	}
	if got := receivedQuery["limit"]; len(got) != 1 || got[0] != "25" {
		t.Errorf("expected limit 25, got %v", got)
	}
}

func TestCreateActor(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /v1/actors": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusCreated, map[string]any{
				"data": Actor{
					ID:      uuid.New(),
					ActorID: "observer-1",
					Name:    "Observer",
					Role:    "reader",
				},
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	actor, err := client.CreateActor(context.Background(), CreateActorRequest{
		ActorID: "observer-1",
		Name:    "Observer",
		Role:    "reader",
		APIKey:  "observer-secret",
	})
	if err != nil {
		t.Fatalf("CreateActor failed: %v", err)
	}
	if actor.ActorID != "observer-1" || actor.Role != "reader" {
		t.Errorf("unexpected actor: %+v", actor)
	}
}

func TestDeleteActor(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"DELETE /v1/actors/svc-old": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{
				"data": map[string]any{"actor_id": "svc-old", "deleted": true},
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	result, err := client.DeleteActor(context.Background(), "svc-old")
	if err != nil {
		t.Fatalf("DeleteActor failed: %v", err)
	}
	if result.ActorID != "svc-old" || !result.Deleted {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestHealthNoAuth(t *testing.T) {
	var authCalls atomic.Int32
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /auth/token": func(w http.ResponseWriter, r *http.Request) {
			authCalls.Add(1)
			writeJSON(w, http.StatusOK, map[string]any{
				"data": map[string]any{
					"token":      "unused",
					"expires_at": time.Now().Add(time.Hour).Format(time.RFC3339),
				},
			})
		},
		"GET /health": func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "" {
				t.Error("health check should not send Authorization")
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"data": map[string]any{
					"status": "ok", "version": "1.2.3",
					"storage": "connected", "uptime_seconds": 42,
				},
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	health, err := client.Health(context.Background())
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if health.Status != "ok" || health.Version != "1.2.3" || health.Storage != "connected" {
		t.Errorf("unexpected health response: %+v", health)
	}
	if authCalls.Load() != 0 {
		t.Errorf("expected no auth calls for health, got %d", authCalls.Load())
	}
}

func TestTokenRefreshOnExpiry(t *testing.T) {
	var authCount atomic.Int32

	runID := uuid.New()
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /auth/token": func(w http.ResponseWriter, r *http.Request) {
			n := authCount.Add(1)
			token := "token-v1"
			if n > 1 {
				token = "token-v2"
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"data": map[string]any{
					"token": token,
					// Short expiry to force refresh.
					"expires_at": time.Now().Add(1 * time.Second).Format(time.RFC3339),
				},
			})
		},
		"GET /v1/runs/" + runID.String(): func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{
				"data": Run{ID: runID, State: RunRunning},
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	// First call fetches a token.
	if _, err := client.GetRun(context.Background(), runID); err != nil {
		t.Fatalf("first GetRun failed: %v", err)
	}
	if authCount.Load() != 1 {
		t.Errorf("expected 1 auth call, got %d", authCount.Load())
	}

	time.Sleep(1100 * time.Millisecond)

	// Second call should trigger a token refresh.
	if _, err := client.GetRun(context.Background(), runID); err != nil {
		t.Fatalf("second GetRun failed: %v", err)
	}
	if authCount.Load() != 2 {
		t.Errorf("expected 2 auth calls after expiry, got %d", authCount.Load())
	}
}

func TestErrorTypesMapCorrectly(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		code       string
		message    string
		checkFn    func(error) bool
		checkLabel string
	}{
		{
			name: "404", status: http.StatusNotFound,
			code: "NOT_FOUND", message: "run not found",
			checkFn: IsNotFound, checkLabel: "IsNotFound",
		},
		{
			name: "401", status: http.StatusUnauthorized,
			code: "UNAUTHORIZED", message: "token expired",
			checkFn: IsUnauthorized, checkLabel: "IsUnauthorized",
		},
		{
			name: "403", status: http.StatusForbidden,
			code: "FORBIDDEN", message: "operator role required",
			checkFn: IsForbidden, checkLabel: "IsForbidden",
		},
		{
			name: "409", status: http.StatusConflict,
			code: "ALREADY_TERMINAL", message: "run already converged",
			checkFn: IsConflict, checkLabel: "IsConflict",
		},
		{
			name: "429", status: http.StatusTooManyRequests,
			code: "RATE_LIMITED", message: "too many requests",
			checkFn: IsRateLimited, checkLabel: "IsRateLimited",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runID := uuid.New()
			srv := mockServer(t, map[string]http.HandlerFunc{
				"GET /v1/runs/" + runID.String(): func(w http.ResponseWriter, r *http.Request) {
					writeJSON(w, tt.status, map[string]any{
						"error": map[string]any{"code": tt.code, "message": tt.message},
					})
				},
			})
			defer srv.Close()

			client := newTestClient(t, srv.URL)
			_, err := client.GetRun(context.Background(), runID)
			if err == nil {
				t.Fatal("expected error")
			}
			if !tt.checkFn(err) {
				t.Errorf("%s returned false for %v", tt.checkLabel, err)
			}

			var apiErr *Error
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected *Error, got %T", err)
			}
			if apiErr.Code != tt.code {
				t.Errorf("expected code %q, got %q", tt.code, apiErr.Code)
			}
			if apiErr.Message != tt.message {
				t.Errorf("expected message %q, got %q", tt.message, apiErr.Message)
			}
		})
	}
}

func TestNewClientValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing base URL", Config{ActorID: "a", APIKey: "k"}},
		{"missing actor ID", Config{BaseURL: "http://x", APIKey: "k"}},
		{"missing API key", Config{BaseURL: "http://x", ActorID: "a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewClient(tt.cfg); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestBaseURLTrailingSlashTrimmed(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /health": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{
				"data": map[string]string{"status": "ok"},
			})
		},
	})
	defer srv.Close()

	client, err := NewClient(Config{
		BaseURL: srv.URL + "/",
		ActorID: "test-actor",
		APIKey:  "test-key",
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if _, err := client.Health(context.Background()); err != nil {
		t.Fatalf("Health failed: %v", err)
	}
}
