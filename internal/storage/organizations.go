package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/mogi/internal/engine"
	"github.com/ashita-ai/mogi/internal/model"
)

// CreateOrganization inserts a new organization.
func (db *DB) CreateOrganization(ctx context.Context, org model.Organization) (model.Organization, error) {
	if org.ID == uuid.Nil {
		org.ID = uuid.New()
	}
	if org.CreatedAt.IsZero() {
		org.CreatedAt = time.Now().UTC()
	}
	if org.Features == nil {
		org.Features = []string{}
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO organizations (id, name, features, created_at)
		 VALUES ($1, $2, $3, $4)`,
		org.ID, org.Name, org.Features, org.CreatedAt,
	)
	if err != nil {
		return model.Organization{}, fmt.Errorf("storage: create organization: %w", err)
	}
	return org, nil
}

// GetOrganization retrieves an org by ID.
func (db *DB) GetOrganization(ctx context.Context, id uuid.UUID) (model.Organization, error) {
	var org model.Organization
	err := db.pool.QueryRow(ctx,
		`SELECT id, name, features, created_at FROM organizations WHERE id = $1`, id,
	).Scan(&org.ID, &org.Name, &org.Features, &org.CreatedAt)
	if err != nil {
		return model.Organization{}, mapNoRows(err, engine.ErrOrganizationNotFound, "get organization")
	}
	return org, nil
}

// GetOrganizationByName retrieves an org by its unique name.
func (db *DB) GetOrganizationByName(ctx context.Context, name string) (model.Organization, error) {
	var org model.Organization
	err := db.pool.QueryRow(ctx,
		`SELECT id, name, features, created_at FROM organizations WHERE name = $1`, name,
	).Scan(&org.ID, &org.Name, &org.Features, &org.CreatedAt)
	if err != nil {
		return model.Organization{}, mapNoRows(err, engine.ErrOrganizationNotFound, "get organization by name")
	}
	return org, nil
}

// UpdateOrganizationFeatures replaces the org's feature entitlements.
func (db *DB) UpdateOrganizationFeatures(ctx context.Context, id uuid.UUID, features []string) error {
	if features == nil {
		features = []string{}
	}
	tag, err := db.pool.Exec(ctx,
		`UPDATE organizations SET features = $1 WHERE id = $2`, features, id)
	if err != nil {
		return fmt.Errorf("storage: update organization features: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return engine.ErrOrganizationNotFound
	}
	return nil
}
