package provider

import (
	"context"
	"fmt"
	"sync"
)

// Scripted is a deterministic action provider for development and tests.
// Each role cycles through its configured lines; roles without a script get
// a synthesized line derived from the role and sequence number, so output
// is reproducible either way.
type Scripted struct {
	mu      sync.Mutex
	scripts map[string][]string
	cursor  map[string]int
}

// NewScripted creates a scripted provider. scripts maps a roster role to
// the lines it will produce in order (wrapping when exhausted). A nil map
// is valid: every role falls back to synthesized lines.
func NewScripted(scripts map[string][]string) *Scripted {
	return &Scripted{
		scripts: scripts,
		cursor:  make(map[string]int),
	}
}

// Name identifies the provider in logs and audit payloads.
func (p *Scripted) Name() string { return "scripted" }

// ProduceAction returns the next scripted line for the acting role.
func (p *Scripted) ProduceAction(ctx context.Context, req Request) (Action, error) {
	if err := ctx.Err(); err != nil {
		return Action{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	lines := p.scripts[req.Agent.Role]
	if len(lines) == 0 {
		return Action{
			Content: fmt.Sprintf("%s contribution for turn %d", req.Agent.Role, req.Seq),
			Model:   "scripted",
		}, nil
	}

	i := p.cursor[req.Agent.Role]
	p.cursor[req.Agent.Role] = i + 1
	return Action{Content: lines[i%len(lines)], Model: "scripted"}, nil
}

// FuncProvider adapts a function to the ActionProvider interface. Tests use
// it to inject failures and timeouts without a separate mock type.
type FuncProvider func(ctx context.Context, req Request) (Action, error)

// ProduceAction calls the wrapped function.
func (f FuncProvider) ProduceAction(ctx context.Context, req Request) (Action, error) {
	return f(ctx, req)
}

// Name identifies the provider in logs and audit payloads.
func (f FuncProvider) Name() string { return "func" }
