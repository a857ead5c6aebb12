package model

import (
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// ActorRole represents the RBAC role assigned to an API caller.
type ActorRole string

const (
	RoleOrgOwner ActorRole = "org_owner"
	RoleAdmin    ActorRole = "admin"
	RoleOperator ActorRole = "operator"
	RoleReader   ActorRole = "reader"
)

// Actor is a caller identity: a human operator or a service account that
// starts and drives simulation runs. Not to be confused with the agent
// roles inside a simulation's roster.
type Actor struct {
	ID         uuid.UUID `json:"id"`
	ActorID    string    `json:"actor_id"`
	OrgID      uuid.UUID `json:"org_id"`
	Name       string    `json:"name"`
	Role       ActorRole `json:"role"`
	APIKeyHash *string   `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// RoleRank returns the numeric rank of a role (higher = more privileges).
// Only relative ordering matters; RoleAtLeast uses >= comparison.
func RoleRank(r ActorRole) int {
	switch r {
	case RoleOrgOwner:
		return 4
	case RoleAdmin:
		return 3
	case RoleOperator:
		return 2
	case RoleReader:
		return 1
	default:
		return 0
	}
}

// RoleAtLeast returns true if role r has at least the privileges of minRole.
func RoleAtLeast(r, minRole ActorRole) bool {
	return RoleRank(r) >= RoleRank(minRole)
}

var actorIDRe = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.@-]{0,254}$`)

// ValidateActorID checks that an actor_id conforms to the allowed format.
func ValidateActorID(id string) error {
	if !actorIDRe.MatchString(id) {
		return fmt.Errorf("actor_id must be 1-255 characters of [a-zA-Z0-9_.@-] starting with an alphanumeric")
	}
	return nil
}

// Organization is the tenancy boundary. Every entity is org-scoped and
// every query filters by org.
type Organization struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Features  []string  `json:"features"`
	CreatedAt time.Time `json:"created_at"`
}

// FeatureSimulations gates the entire /v1 simulation surface. An org
// without it gets FEATURE_DISABLED on every operation.
const FeatureSimulations = "simulations"

// HasFeature reports whether the org is entitled to a feature.
func (o Organization) HasFeature(name string) bool {
	for _, f := range o.Features {
		if f == name {
			return true
		}
	}
	return false
}
