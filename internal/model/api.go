package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Field length limits for run-facing inputs.
const (
	MaxFeedbackLen = 32 * 1024 // 32 KB
	MaxTurnLen     = 256 * 1024
)

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// ListResponse is the standard envelope for paginated list endpoints.
type ListResponse struct {
	Data    any          `json:"data"`
	Total   *int         `json:"total,omitempty"`
	HasMore bool         `json:"has_more"`
	Limit   int          `json:"limit"`
	Offset  int          `json:"offset"`
	Meta    ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput    = "INVALID_INPUT"
	ErrCodeUnauthorized    = "UNAUTHORIZED"
	ErrCodeForbidden       = "FORBIDDEN"
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeConflict        = "CONFLICT"
	ErrCodeRunBusy         = "RUN_BUSY"
	ErrCodeAlreadyTerminal = "ALREADY_TERMINAL"
	ErrCodeFeatureDisabled = "FEATURE_DISABLED"
	ErrCodeProviderFailed  = "PROVIDER_FAILED"
	ErrCodeInternalError   = "INTERNAL_ERROR"
	ErrCodeRateLimited     = "RATE_LIMITED"
)

// CreateSimulationRequest is the request body for POST /v1/simulations.
type CreateSimulationRequest struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Roster      []AgentSpec `json:"roster"`
	Policy      Policy      `json:"policy"`
	StepBudget  int         `json:"step_budget"`
}

// UpdateSimulationRequest is the request body for PATCH /v1/simulations/{id}.
// Nil fields are left unchanged. Updates are rejected once any run
// references the simulation.
type UpdateSimulationRequest struct {
	Name        *string     `json:"name,omitempty"`
	Description *string     `json:"description,omitempty"`
	Roster      []AgentSpec `json:"roster,omitempty"`
	Policy      *Policy     `json:"policy,omitempty"`
	StepBudget  *int        `json:"step_budget,omitempty"`
}

// ArchiveSimulationRequest is the request body for POST /v1/simulations/{id}/archive.
type ArchiveSimulationRequest struct {
	Reason string `json:"reason,omitempty"`
}

// StartRunRequest is the request body for POST /v1/simulations/{id}/runs.
type StartRunRequest struct {
	// StepBudget overrides the simulation's default budget when positive.
	StepBudget int `json:"step_budget,omitempty"`
}

// StepRequest is the request body for POST /v1/runs/{id}/step.
type StepRequest struct {
	// ProviderTimeout bounds the action provider call for this step.
	// Zero means the server default.
	ProviderTimeout Duration `json:"provider_timeout,omitempty"`
}

// DriveRequest is the request body for POST /v1/runs/{id}/drive
// (run-to-completion). MaxSteps and MaxDuration are caller-side safety
// valves, distinct from the run's own step budget.
type DriveRequest struct {
	MaxSteps    int      `json:"max_steps,omitempty"`
	MaxDuration Duration `json:"max_duration,omitempty"`
	// ProviderTimeout applies to each step's action provider call.
	ProviderTimeout Duration `json:"provider_timeout,omitempty"`
}

// DriveResult is the response body for run-to-completion.
type DriveResult struct {
	Run           Run   `json:"run"`
	StepsExecuted int   `json:"steps_executed"`
	Turns         int64 `json:"turns"`
}

// PostFeedbackRequest is the request body for POST /v1/runs/{id}/feedback.
type PostFeedbackRequest struct {
	Content string `json:"content"`
}

// SummarizeRequest is the request body for POST /v1/runs/{id}/outcomes/summarize.
type SummarizeRequest struct {
	// MaxTurns caps how many trailing turns feed the summary. Zero means all.
	MaxTurns int `json:"max_turns,omitempty"`
}

// StepResult pairs the updated run with the turn the step produced.
type StepResult struct {
	Run  Run   `json:"run"`
	Turn *Turn `json:"turn,omitempty"`
}

// CreateActorRequest is the request body for POST /v1/actors.
type CreateActorRequest struct {
	ActorID string    `json:"actor_id"`
	Name    string    `json:"name"`
	Role    ActorRole `json:"role"`
	APIKey  string    `json:"api_key"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Storage string `json:"storage"` // "connected" or "disconnected"
	Uptime  int64  `json:"uptime_seconds"`
}

// ScopedTokenRequest is the request body for POST /auth/scoped-token.
// An admin mints a short-lived token that acts as the target actor.
type ScopedTokenRequest struct {
	ActorID string   `json:"actor_id"`
	TTL     Duration `json:"ttl,omitempty"`
}

// AuthTokenRequest is the request body for POST /auth/token.
type AuthTokenRequest struct {
	ActorID string `json:"actor_id"`
	APIKey  string `json:"api_key"`
}

// AuthTokenResponse is the response body for POST /auth/token.
type AuthTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	ActorID   string    `json:"actor_id"`
	OrgID     uuid.UUID `json:"org_id"`
	Role      ActorRole `json:"role"`
}

// Duration is a time.Duration that marshals as a Go duration string
// (e.g. "30s") in JSON payloads.
type Duration time.Duration

// MarshalJSON renders the duration as a quoted Go duration string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", time.Duration(d).String())), nil
}

// UnmarshalJSON accepts either a quoted duration string or a number of
// nanoseconds.
func (d *Duration) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		parsed, err := time.ParseDuration(string(b[1 : len(b)-1]))
		if err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}
		*d = Duration(parsed)
		return nil
	}
	var ns int64
	if _, err := fmt.Sscan(string(b), &ns); err != nil {
		return fmt.Errorf("invalid duration: %w", err)
	}
	*d = Duration(ns)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }
