// Package provider defines the agent action provider boundary: the external
// text-generation capability invoked once per acting agent per turn.
//
// The engine never depends on how an action is produced, only that the
// provider returns content (or an error) for the acting role given the run
// context. Adapters for Anthropic and OpenAI live alongside a deterministic
// scripted provider used in development and tests.
package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ashita-ai/mogi/internal/model"
)

// ErrEmptyAction is returned when a provider produced no usable content.
var ErrEmptyAction = errors.New("provider: empty action")

// Request carries everything an agent needs to act: the scenario, the
// acting role, the full turn history, and any feedback visible at this
// sequence position.
type Request struct {
	Simulation model.Simulation
	Agent      model.AgentSpec
	// Seq is the sequence number the produced turn will receive.
	Seq      int64
	History  []model.Turn
	Feedback []model.Feedback
}

// Action is the agent's produced output for one turn.
type Action struct {
	Content string
	// Model identifies what produced the action, recorded in audit payloads.
	Model string
}

// ActionProvider produces one agent action per call. Implementations must
// honor ctx cancellation; the engine bounds every call with a per-step
// timeout.
type ActionProvider interface {
	ProduceAction(ctx context.Context, req Request) (Action, error)
	Name() string
}

// Transcript renders the run history and visible feedback as a plain-text
// conversation log for prompt construction. Shared by the Anthropic and
// OpenAI adapters so both providers see an identical view of the run.
func Transcript(req Request) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Scenario: %s\n", req.Simulation.Name)
	if req.Simulation.Description != "" {
		fmt.Fprintf(&b, "%s\n", req.Simulation.Description)
	}
	b.WriteString("\nParticipants:\n")
	for _, a := range req.Simulation.Roster {
		fmt.Fprintf(&b, "- %s\n", a.Role)
	}

	if len(req.History) > 0 {
		b.WriteString("\nTranscript so far:\n")
		for _, turn := range req.History {
			fmt.Fprintf(&b, "[%d] %s: %s\n", turn.Seq, turn.AgentRole, turn.Content)
		}
	}

	if len(req.Feedback) > 0 {
		b.WriteString("\nModerator feedback to take into account:\n")
		for _, f := range req.Feedback {
			fmt.Fprintf(&b, "- %s\n", f.Content)
		}
	}

	fmt.Fprintf(&b, "\nYou are %q. Produce your next contribution (turn %d).", req.Agent.Role, req.Seq)
	return b.String()
}

// SystemPrompt renders the acting agent's role brief for the provider's
// system slot.
func SystemPrompt(req Request) string {
	if req.Agent.Brief != "" {
		return req.Agent.Brief
	}
	return fmt.Sprintf("You are the %q participant in a multi-agent scenario simulation. Respond with a single focused contribution; do not speak for other participants.", req.Agent.Role)
}
