package engine

import "errors"

// Sentinel errors for the run engine. Store implementations return these so
// callers can branch without knowing the backend.
var (
	// ErrInvalidArgument rejects malformed input before any state change.
	ErrInvalidArgument = errors.New("engine: invalid argument")

	ErrSimulationNotFound = errors.New("engine: simulation not found")
	ErrSimulationArchived = errors.New("engine: simulation is archived")
	// ErrSimulationReferenced rejects definition updates once any run
	// references the simulation; the definition a run started under must
	// not change underneath it.
	ErrSimulationReferenced = errors.New("engine: simulation is referenced by runs")

	ErrRunNotFound = errors.New("engine: run not found")
	// ErrRunNotRunning rejects operations that require a live run.
	ErrRunNotRunning = errors.New("engine: run is not running")
	// ErrRunBusy means another caller holds the run's claim. Callers retry
	// or poll rather than queue.
	ErrRunBusy = errors.New("engine: run is claimed by another operation")
	// ErrRunAlreadyTerminal distinguishes "it already ended" from "I ended
	// it" for abort callers.
	ErrRunAlreadyTerminal = errors.New("engine: run already in a terminal state")

	// ErrSequenceGap reports a broken turn sequence. The engine is the only
	// writer, so seeing this means a claim was violated.
	ErrSequenceGap = errors.New("engine: turn sequence gap")
	// ErrClaimLost means a step mutation arrived holding a stale claim.
	ErrClaimLost = errors.New("engine: run claim lost")

	// ErrProviderFailure wraps action provider errors and timeouts. The
	// step fails; the run survives (budget permitting).
	ErrProviderFailure = errors.New("engine: action provider failed")

	// Directory entities live outside the Store contract but share the
	// sentinel vocabulary so both backends map errors identically.
	ErrOrganizationNotFound = errors.New("engine: organization not found")
	ErrActorNotFound        = errors.New("engine: actor not found")
)
