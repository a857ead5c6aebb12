// Package model defines the core domain types for Mogi.
//
// Types correspond directly to database tables and API payloads. Strong
// typing (UUIDs, time.Time, enums) is used throughout; map[string]any is
// reserved for open-ended audit payloads.
package model

import (
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// SimulationStatus is the lifecycle state of a simulation definition.
type SimulationStatus string

const (
	SimulationActive   SimulationStatus = "active"
	SimulationArchived SimulationStatus = "archived"
)

// Field length limits for simulation definitions. These cap what a caller
// can push into Postgres TEXT columns and provider prompts.
const (
	MaxSimulationNameLen = 200
	MaxRosterSize        = 32
	MaxBriefLen          = 16 * 1024 // 16 KB
	MaxStepBudget        = 10_000
)

// AgentSpec is one participating agent role in a simulation's roster.
// The roster order is the turn rotation order.
type AgentSpec struct {
	Role  string `json:"role"`
	Brief string `json:"brief,omitempty"` // role instructions passed to the action provider
}

// Simulation is an immutable-once-referenced scenario definition: the agent
// roster, the convergence policy, and the default step budget for its runs.
// Archiving is terminal for mutation but not for historical reads.
type Simulation struct {
	ID            uuid.UUID        `json:"id"`
	OrgID         uuid.UUID        `json:"org_id"`
	Name          string           `json:"name"`
	Description   string           `json:"description,omitempty"`
	Roster        []AgentSpec      `json:"roster"`
	Policy        Policy           `json:"policy"`
	StepBudget    int              `json:"step_budget"`
	Status        SimulationStatus `json:"status"`
	ArchiveReason *string          `json:"archive_reason,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
	ArchivedAt    *time.Time       `json:"archived_at,omitempty"`
}

// AgentAt returns the roster entry that acts at the given turn sequence
// number. Rotation is round-robin computed from the sequence itself rather
// than mutable state, so a replayed history always selects the same agents.
func (s Simulation) AgentAt(seq int64) AgentSpec {
	return s.Roster[(seq-1)%int64(len(s.Roster))]
}

var roleRe = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]{0,99}$`)

// ValidateRoster checks roster size, role format, and role uniqueness.
func ValidateRoster(roster []AgentSpec) error {
	if len(roster) == 0 {
		return fmt.Errorf("roster must contain at least one agent role")
	}
	if len(roster) > MaxRosterSize {
		return fmt.Errorf("roster exceeds maximum of %d agent roles", MaxRosterSize)
	}
	seen := make(map[string]bool, len(roster))
	for i, a := range roster {
		if !roleRe.MatchString(a.Role) {
			return fmt.Errorf("roster[%d].role %q is not a valid role identifier", i, a.Role)
		}
		if seen[a.Role] {
			return fmt.Errorf("roster[%d].role %q appears more than once", i, a.Role)
		}
		seen[a.Role] = true
		if len(a.Brief) > MaxBriefLen {
			return fmt.Errorf("roster[%d].brief exceeds maximum length of %d bytes", i, MaxBriefLen)
		}
	}
	return nil
}

// ValidateSimulation checks a simulation definition before it is created
// or updated. Rejected definitions never reach storage.
func ValidateSimulation(s Simulation) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Name) > MaxSimulationNameLen {
		return fmt.Errorf("name exceeds maximum length of %d characters", MaxSimulationNameLen)
	}
	if s.StepBudget <= 0 || s.StepBudget > MaxStepBudget {
		return fmt.Errorf("step_budget must be between 1 and %d", MaxStepBudget)
	}
	if err := ValidateRoster(s.Roster); err != nil {
		return err
	}
	return ValidatePolicy(s.Policy, s.Roster)
}
