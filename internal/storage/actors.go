package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/mogi/internal/engine"
	"github.com/ashita-ai/mogi/internal/model"
)

const actorColumns = `id, actor_id, org_id, name, role, api_key_hash, created_at, updated_at`

// CreateActor inserts an actor together with its audit entries.
func (db *DB) CreateActor(ctx context.Context, actor model.Actor, audit []model.AuditEntry) (model.Actor, error) {
	if actor.ID == uuid.Nil {
		actor.ID = uuid.New()
	}
	now := time.Now().UTC()
	if actor.CreatedAt.IsZero() {
		actor.CreatedAt = now
	}
	actor.UpdatedAt = now

	err := db.inTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO actors (id, actor_id, org_id, name, role, api_key_hash, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			actor.ID, actor.ActorID, actor.OrgID, actor.Name,
			string(actor.Role), actor.APIKeyHash, actor.CreatedAt, actor.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("storage: create actor: %w", err)
		}
		return insertAuditTx(ctx, tx, audit)
	})
	if err != nil {
		return model.Actor{}, err
	}
	return actor, nil
}

// GetActorByActorID retrieves an actor by its external identifier within an org.
func (db *DB) GetActorByActorID(ctx context.Context, orgID uuid.UUID, actorID string) (model.Actor, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+actorColumns+` FROM actors WHERE org_id = $1 AND actor_id = $2`, orgID, actorID)
	actor, err := scanActor(row)
	if err != nil {
		return model.Actor{}, mapNoRows(err, engine.ErrActorNotFound, "get actor")
	}
	return actor, nil
}

// GetActorsByActorIDGlobal returns all actors with the given actor_id across
// orgs. Token issuance uses it to find the candidate identities for an API
// key, then verifies the key hash against each.
func (db *DB) GetActorsByActorIDGlobal(ctx context.Context, actorID string) ([]model.Actor, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+actorColumns+` FROM actors WHERE actor_id = $1 ORDER BY created_at`, actorID)
	if err != nil {
		return nil, fmt.Errorf("storage: get actors by actor_id: %w", err)
	}
	defer rows.Close()

	var actors []model.Actor
	for rows.Next() {
		actor, err := scanActor(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan actor: %w", err)
		}
		actors = append(actors, actor)
	}
	return actors, rows.Err()
}

// DeleteActor removes an actor and records the deletion in the audit log.
func (db *DB) DeleteActor(ctx context.Context, orgID uuid.UUID, actorID string, audit []model.AuditEntry) error {
	return db.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`DELETE FROM actors WHERE org_id = $1 AND actor_id = $2`, orgID, actorID)
		if err != nil {
			return fmt.Errorf("storage: delete actor: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return engine.ErrActorNotFound
		}
		return insertAuditTx(ctx, tx, audit)
	})
}

// ListActors returns the org's actors, newest first.
func (db *DB) ListActors(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]model.Actor, int, error) {
	if limit <= 0 {
		limit = 50
	}

	var total int
	if err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM actors WHERE org_id = $1`, orgID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("storage: count actors: %w", err)
	}

	rows, err := db.pool.Query(ctx,
		`SELECT `+actorColumns+` FROM actors
		 WHERE org_id = $1
		 ORDER BY created_at DESC, id
		 LIMIT $2 OFFSET $3`,
		orgID, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: list actors: %w", err)
	}
	defer rows.Close()

	var actors []model.Actor
	for rows.Next() {
		actor, err := scanActor(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("storage: scan actor: %w", err)
		}
		actors = append(actors, actor)
	}
	return actors, total, rows.Err()
}

func scanActor(row pgx.Row) (model.Actor, error) {
	var (
		actor model.Actor
		role  string
	)
	err := row.Scan(
		&actor.ID, &actor.ActorID, &actor.OrgID, &actor.Name,
		&role, &actor.APIKeyHash, &actor.CreatedAt, &actor.UpdatedAt,
	)
	if err != nil {
		return model.Actor{}, err
	}
	actor.Role = model.ActorRole(role)
	return actor, nil
}
