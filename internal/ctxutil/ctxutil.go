// Package ctxutil provides shared context key accessors.
//
// This package exists to break the circular dependency between server and mcp:
// server imports mcp for MCP server setup, and mcp needs to read JWT claims
// from the context that server's auth middleware populates. Both packages
// import ctxutil instead of each other. The engine also reads the acting
// identity from here when building audit entries.
package ctxutil

import (
	"context"

	"github.com/google/uuid"

	"github.com/ashita-ai/mogi/internal/auth"
)

type contextKey string

const (
	keyClaims contextKey = "claims"
	keyOrgID  contextKey = "org_id"
	keyActor  contextKey = "actor"
)

// SystemActor is the audit actor recorded when no authenticated identity is
// present in the context (internal drivers, seed jobs, tests).
const SystemActor = "system"

// WithClaims returns a new context carrying the given claims.
func WithClaims(ctx context.Context, claims *auth.Claims) context.Context {
	ctx = context.WithValue(ctx, keyClaims, claims)
	ctx = context.WithValue(ctx, keyOrgID, claims.OrgID)
	ctx = context.WithValue(ctx, keyActor, claims.ActorID)
	return ctx
}

// ClaimsFromContext extracts the JWT claims from the context.
func ClaimsFromContext(ctx context.Context) *auth.Claims {
	if v, ok := ctx.Value(keyClaims).(*auth.Claims); ok {
		return v
	}
	return nil
}

// OrgIDFromContext extracts the org_id from the context.
func OrgIDFromContext(ctx context.Context) uuid.UUID {
	if v, ok := ctx.Value(keyOrgID).(uuid.UUID); ok {
		return v
	}
	return uuid.Nil
}

// WithActor returns a new context carrying an explicit actor identity.
// Used by entry points that act without JWT claims (MCP sessions, the
// run driver) so audit entries still name who triggered the mutation.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, keyActor, actor)
}

// ActorFromContext extracts the acting identity for audit entries,
// falling back to SystemActor when none was set.
func ActorFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(keyActor).(string); ok && v != "" {
		return v
	}
	return SystemActor
}
