package mogi

import "context"

// ActionProvider produces one agent action per call.
// When provided via WithActionProvider, it replaces the auto-detected
// provider (Anthropic/OpenAI/scripted). Implementations must honor ctx
// cancellation; the engine bounds every call with a per-step timeout.
//
// Uses public types rather than internal ones so external consumers never
// import internal packages. New() wraps it in an adapter for internal use.
type ActionProvider interface {
	ProduceAction(ctx context.Context, req ActionRequest) (Action, error)
	Name() string
}
