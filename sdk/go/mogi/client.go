package mogi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Config holds the settings needed to construct a Client.
type Config struct {
	// BaseURL is the root URL of the Mogi server (e.g. "http://localhost:8080").
	BaseURL string

	// ActorID identifies this caller for authentication and auditing.
	ActorID string

	// APIKey is the secret used to obtain a JWT token.
	APIKey string

	// HTTPClient is an optional custom HTTP client. If nil, a default client
	// with a 30-second timeout is used.
	HTTPClient *http.Client

	// Timeout applies to individual API requests. Defaults to 30 seconds.
	Timeout time.Duration
}

// Client is an HTTP client for the Mogi simulation coordination API.
// All methods are safe for concurrent use.
type Client struct {
	baseURL  string
	actorID  string
	client   *http.Client
	tokenMgr *tokenManager
}

// NewClient creates a Client from the given configuration.
// Returns an error if BaseURL, ActorID, or APIKey is empty.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("mogi: BaseURL is required")
	}
	if cfg.ActorID == "" {
		return nil, fmt.Errorf("mogi: ActorID is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("mogi: APIKey is required")
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL:  baseURL,
		actorID:  cfg.ActorID,
		client:   httpClient,
		tokenMgr: newTokenManager(baseURL, cfg.ActorID, cfg.APIKey, httpClient),
	}, nil
}

// ---------------------------------------------------------------------------
// Simulations
// ---------------------------------------------------------------------------

// CreateSimulation registers a new scenario definition.
func (c *Client) CreateSimulation(ctx context.Context, req CreateSimulationRequest) (*Simulation, error) {
	var resp Simulation
	if err := c.post(ctx, "/v1/simulations", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetSimulation retrieves a simulation by ID.
func (c *Client) GetSimulation(ctx context.Context, simulationID uuid.UUID) (*Simulation, error) {
	var resp Simulation
	if err := c.get(ctx, "/v1/simulations/"+simulationID.String(), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListOptions are pagination settings for list endpoints.
type ListOptions struct {
	Limit  int
	Offset int
}

// ListSimulations lists the organization's simulations, newest first.
func (c *Client) ListSimulations(ctx context.Context, opts *ListOptions) ([]Simulation, error) {
	path := "/v1/simulations" + pageQuery(opts)
	var resp []Simulation
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// UpdateSimulation applies a partial update to a simulation. Nil fields in
// the request are left unchanged. Updates are rejected once any run
// references the simulation.
func (c *Client) UpdateSimulation(ctx context.Context, simulationID uuid.UUID, req UpdateSimulationRequest) (*Simulation, error) {
	var resp Simulation
	if err := c.patch(ctx, "/v1/simulations/"+simulationID.String(), req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ArchiveSimulation retires a simulation. Archived simulations cannot start
// new runs but remain readable; archiving is idempotent.
func (c *Client) ArchiveSimulation(ctx context.Context, simulationID uuid.UUID, reason string) (*Simulation, error) {
	body := map[string]any{}
	if reason != "" {
		body["reason"] = reason
	}
	var resp Simulation
	if err := c.post(ctx, "/v1/simulations/"+simulationID.String()+"/archive", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ---------------------------------------------------------------------------
// Run lifecycle
// ---------------------------------------------------------------------------

// StartRun begins a new run of a simulation.
func (c *Client) StartRun(ctx context.Context, simulationID uuid.UUID, req StartRunRequest) (*Run, error) {
	var resp Run
	if err := c.post(ctx, "/v1/simulations/"+simulationID.String()+"/runs", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListRuns lists a simulation's runs, newest first.
func (c *Client) ListRuns(ctx context.Context, simulationID uuid.UUID, opts *ListOptions) ([]Run, error) {
	path := "/v1/simulations/" + simulationID.String() + "/runs" + pageQuery(opts)
	var resp []Run
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// GetRun retrieves a run by ID.
func (c *Client) GetRun(ctx context.Context, runID uuid.UUID) (*Run, error) {
	var resp Run
	if err := c.get(ctx, "/v1/runs/"+runID.String(), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// StepRun executes exactly one turn. Concurrent steps on the same run are
// rejected with a 409 conflict; use IsConflict to detect contention.
func (c *Client) StepRun(ctx context.Context, runID uuid.UUID, req StepRequest) (*StepResult, error) {
	var resp StepResult
	if err := c.post(ctx, "/v1/runs/"+runID.String()+"/step", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DriveRun steps the run repeatedly until it reaches a terminal state or a
// caller-side limit from the request is hit.
func (c *Client) DriveRun(ctx context.Context, runID uuid.UUID, req DriveRequest) (*DriveResult, error) {
	var resp DriveResult
	if err := c.post(ctx, "/v1/runs/"+runID.String()+"/drive", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// AbortRun terminates a run. An idle run aborts immediately; a run with a
// step in flight aborts at that step's checkpoint, in which case the
// returned run is still in the running state with AbortRequested set.
func (c *Client) AbortRun(ctx context.Context, runID uuid.UUID) (*Run, error) {
	var resp Run
	if err := c.post(ctx, "/v1/runs/"+runID.String()+"/abort", struct{}{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PostFeedback injects a moderator note into the run. The note becomes
// visible to turns produced after it; past turns are never rewritten.
func (c *Client) PostFeedback(ctx context.Context, runID uuid.UUID, content string) (*Feedback, error) {
	body := map[string]any{"content": content}
	var resp Feedback
	if err := c.post(ctx, "/v1/runs/"+runID.String()+"/feedback", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Summarize generates a summary outcome for the run. Concurrent calls for
// the same run share a single generation.
func (c *Client) Summarize(ctx context.Context, runID uuid.UUID, maxTurns int) (*Outcome, error) {
	body := map[string]any{}
	if maxTurns > 0 {
		body["max_turns"] = maxTurns
	}
	var resp Outcome
	if err := c.post(ctx, "/v1/runs/"+runID.String()+"/outcomes/summarize", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ---------------------------------------------------------------------------
// Run reads
// ---------------------------------------------------------------------------

// ListTurns pages through the run's transcript. afterSeq of 0 starts from
// the beginning; limit of 0 uses the server default page size.
func (c *Client) ListTurns(ctx context.Context, runID uuid.UUID, afterSeq int64, limit int) ([]Turn, error) {
	params := url.Values{}
	if afterSeq > 0 {
		params.Set("after_seq", strconv.FormatInt(afterSeq, 10))
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	path := "/v1/runs/" + runID.String() + "/turns"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}
	var resp []Turn
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Transcript retrieves the run's full transcript, paging as needed.
func (c *Client) Transcript(ctx context.Context, runID uuid.UUID) ([]Turn, error) {
	const pageSize = 100
	var all []Turn
	var afterSeq int64
	for {
		page, err := c.ListTurns(ctx, runID, afterSeq, pageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < pageSize {
			return all, nil
		}
		afterSeq = page[len(page)-1].Seq
	}
}

// ListFeedback returns the run's feedback, oldest first. afterTurn below 0
// means all feedback.
func (c *Client) ListFeedback(ctx context.Context, runID uuid.UUID, afterTurn int64) ([]Feedback, error) {
	path := "/v1/runs/" + runID.String() + "/feedback"
	if afterTurn >= 0 {
		path += "?after_turn=" + strconv.FormatInt(afterTurn, 10)
	}
	var resp []Feedback
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// ListMetrics returns per-turn metrics from a sequence cursor.
func (c *Client) ListMetrics(ctx context.Context, runID uuid.UUID, afterSeq int64) ([]Metric, error) {
	path := "/v1/runs/" + runID.String() + "/metrics"
	if afterSeq > 0 {
		path += "?after_seq=" + strconv.FormatInt(afterSeq, 10)
	}
	var resp []Metric
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// ListOutcomes returns the run's outcome records, oldest first.
func (c *Client) ListOutcomes(ctx context.Context, runID uuid.UUID, opts *ListOptions) ([]Outcome, error) {
	path := "/v1/runs/" + runID.String() + "/outcomes" + pageQuery(opts)
	var resp []Outcome
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// GetRunDigest retrieves the transcript tamper-evidence digest for a run.
// Recomputing the digest from the turns and comparing root hashes detects
// transcript mutation.
func (c *Client) GetRunDigest(ctx context.Context, runID uuid.UUID) (*RunDigest, error) {
	var resp RunDigest
	if err := c.get(ctx, "/v1/runs/"+runID.String()+"/digest", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ---------------------------------------------------------------------------
// Audit
// ---------------------------------------------------------------------------

// AuditOptions are optional filters for ListAudit.
type AuditOptions struct {
	SimulationID *uuid.UUID
	RunID        *uuid.UUID
	EventType    string
	Since        time.Time
	Until        time.Time
	Limit        int
	Offset       int
}

// ListAudit lists the organization's audit trail, newest first.
func (c *Client) ListAudit(ctx context.Context, opts *AuditOptions) ([]AuditEntry, error) {
	params := url.Values{}
	if opts != nil {
		if opts.SimulationID != nil {
			params.Set("simulation_id", opts.SimulationID.String())
		}
		if opts.RunID != nil {
			params.Set("run_id", opts.RunID.String())
		}
		if opts.EventType != "" {
			params.Set("event_type", opts.EventType)
		}
		if !opts.Since.IsZero() {
			params.Set("since", opts.Since.Format(time.RFC3339))
		}
		if !opts.Until.IsZero() {
			params.Set("until", opts.Until.Format(time.RFC3339))
		}
		if opts.Limit > 0 {
			params.Set("limit", strconv.Itoa(opts.Limit))
		}
		if opts.Offset > 0 {
			params.Set("offset", strconv.Itoa(opts.Offset))
		}
	}

	path := "/v1/audit"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}
	var resp []AuditEntry
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// ---------------------------------------------------------------------------
// Actors (admin-only) and health
// ---------------------------------------------------------------------------

// CreateActor creates a new actor identity. Requires admin role.
func (c *Client) CreateActor(ctx context.Context, req CreateActorRequest) (*Actor, error) {
	var resp Actor
	if err := c.post(ctx, "/v1/actors", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListActors lists the organization's actors. Requires admin role.
func (c *Client) ListActors(ctx context.Context, opts *ListOptions) ([]Actor, error) {
	path := "/v1/actors" + pageQuery(opts)
	var resp []Actor
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// DeleteActorResult reports the outcome of a DeleteActor call.
type DeleteActorResult struct {
	ActorID string `json:"actor_id"`
	Deleted bool   `json:"deleted"`
}

// DeleteActor removes a caller identity. Requires admin role; the seed
// admin actor cannot be deleted.
func (c *Client) DeleteActor(ctx context.Context, actorID string) (*DeleteActorResult, error) {
	var resp DeleteActorResult
	if err := c.delete(ctx, "/v1/actors/"+url.PathEscape(actorID), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Health checks the server's health status. This endpoint does not require
// authentication and will work even if the client has invalid credentials.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.getNoAuth(ctx, "/health", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func pageQuery(opts *ListOptions) string {
	if opts == nil {
		return ""
	}
	params := url.Values{}
	if opts.Limit > 0 {
		params.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		params.Set("offset", strconv.Itoa(opts.Offset))
	}
	if len(params) == 0 {
		return ""
	}
	return "?" + params.Encode()
}

// ---------------------------------------------------------------------------
// HTTP transport
// ---------------------------------------------------------------------------

// apiEnvelope is the server's standard response wrapper.
type apiEnvelope struct {
	Data json.RawMessage `json:"data"`
}

// apiErrorEnvelope is the server's standard error response wrapper.
type apiErrorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) post(ctx context.Context, path string, body any, dest any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("mogi: marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("mogi: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.doRequest(ctx, req, dest)
}

func (c *Client) get(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("mogi: create request: %w", err)
	}

	return c.doRequest(ctx, req, dest)
}

func (c *Client) delete(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("mogi: create request: %w", err)
	}

	return c.doRequest(ctx, req, dest)
}

func (c *Client) patch(ctx context.Context, path string, body any, dest any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("mogi: marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("mogi: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.doRequest(ctx, req, dest)
}

func (c *Client) getNoAuth(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("mogi: create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("mogi: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	return handleResponse(resp, dest)
}

func (c *Client) doRequest(ctx context.Context, req *http.Request, dest any) error {
	token, err := c.tokenMgr.getToken(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("mogi: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	return handleResponse(resp, dest)
}

func handleResponse(resp *http.Response, dest any) error {
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("mogi: read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return parseErrorResponse(resp.StatusCode, bodyBytes)
	}

	// 204 No Content, nothing to decode.
	if resp.StatusCode == http.StatusNoContent || dest == nil {
		return nil
	}

	// Unwrap the server's { "data": ... } envelope.
	var envelope apiEnvelope
	if err := json.Unmarshal(bodyBytes, &envelope); err != nil {
		return fmt.Errorf("mogi: decode response envelope: %w", err)
	}

	if envelope.Data == nil {
		// Fallback: some endpoints may not wrap in "data".
		return json.Unmarshal(bodyBytes, dest)
	}

	return json.Unmarshal(envelope.Data, dest)
}

func parseErrorResponse(statusCode int, body []byte) *Error {
	apiErr := &Error{StatusCode: statusCode}

	var envelope apiErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	} else {
		apiErr.Code = http.StatusText(statusCode)
		apiErr.Message = string(body)
	}

	return apiErr
}
