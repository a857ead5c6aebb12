package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/mogi/internal/engine"
	"github.com/ashita-ai/mogi/internal/model"
)

const simulationColumns = `id, org_id, name, description, roster, policy, step_budget,
	 status, archive_reason, created_at, updated_at, archived_at`

// CreateSimulation inserts a simulation definition together with its audit
// entries.
func (db *DB) CreateSimulation(ctx context.Context, sim model.Simulation, audit []model.AuditEntry) error {
	rosterJSON, policyJSON, err := marshalDefinition(sim)
	if err != nil {
		return err
	}
	return db.inTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO simulations (id, org_id, name, description, roster, policy, step_budget, status, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5::jsonb, $6::jsonb, $7, $8, $9, $10)`,
			sim.ID, sim.OrgID, sim.Name, sim.Description, rosterJSON, policyJSON,
			sim.StepBudget, string(sim.Status), sim.CreatedAt, sim.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("storage: create simulation: %w", err)
		}
		return insertAuditTx(ctx, tx, audit)
	})
}

// GetSimulation retrieves a simulation by ID, scoped to the given org.
func (db *DB) GetSimulation(ctx context.Context, orgID, id uuid.UUID) (model.Simulation, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+simulationColumns+` FROM simulations WHERE id = $1 AND org_id = $2`, id, orgID)
	sim, err := scanSimulation(row)
	if err != nil {
		return model.Simulation{}, mapNoRows(err, engine.ErrSimulationNotFound, "get simulation")
	}
	return sim, nil
}

// UpdateSimulation replaces the mutable definition fields. The simulation
// row is locked for the duration so the referenced-by-runs check and the
// write are atomic.
func (db *DB) UpdateSimulation(ctx context.Context, sim model.Simulation, audit []model.AuditEntry) error {
	rosterJSON, policyJSON, err := marshalDefinition(sim)
	if err != nil {
		return err
	}
	return db.inTx(ctx, func(tx pgx.Tx) error {
		var status string
		err := tx.QueryRow(ctx,
			`SELECT status FROM simulations WHERE id = $1 AND org_id = $2 FOR UPDATE`,
			sim.ID, sim.OrgID,
		).Scan(&status)
		if err != nil {
			return mapNoRows(err, engine.ErrSimulationNotFound, "update simulation")
		}
		if model.SimulationStatus(status) == model.SimulationArchived {
			return engine.ErrSimulationArchived
		}

		var refs int
		if err := tx.QueryRow(ctx,
			`SELECT COUNT(*) FROM runs WHERE simulation_id = $1`, sim.ID,
		).Scan(&refs); err != nil {
			return fmt.Errorf("storage: count referencing runs: %w", err)
		}
		if refs > 0 {
			return engine.ErrSimulationReferenced
		}

		_, err = tx.Exec(ctx,
			`UPDATE simulations
			 SET name = $1, description = $2, roster = $3::jsonb, policy = $4::jsonb,
			     step_budget = $5, updated_at = $6
			 WHERE id = $7 AND org_id = $8`,
			sim.Name, sim.Description, rosterJSON, policyJSON,
			sim.StepBudget, sim.UpdatedAt, sim.ID, sim.OrgID,
		)
		if err != nil {
			return fmt.Errorf("storage: update simulation: %w", err)
		}
		return insertAuditTx(ctx, tx, audit)
	})
}

// ArchiveSimulation moves an active simulation to archived. Fails with
// ErrSimulationArchived when it already is.
func (db *DB) ArchiveSimulation(ctx context.Context, orgID, id uuid.UUID, reason string, audit []model.AuditEntry) (model.Simulation, error) {
	var reasonParam *string
	if reason != "" {
		reasonParam = &reason
	}

	var sim model.Simulation
	err := db.inTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`UPDATE simulations
			 SET status = $1, archive_reason = $2, archived_at = now(), updated_at = now()
			 WHERE id = $3 AND org_id = $4 AND status = $5
			 RETURNING `+simulationColumns,
			string(model.SimulationArchived), reasonParam, id, orgID, string(model.SimulationActive),
		)
		var scanErr error
		sim, scanErr = scanSimulation(row)
		if scanErr != nil {
			if errors.Is(scanErr, pgx.ErrNoRows) {
				// Distinguish missing from already archived.
				var status string
				if err := tx.QueryRow(ctx,
					`SELECT status FROM simulations WHERE id = $1 AND org_id = $2`, id, orgID,
				).Scan(&status); err != nil {
					return mapNoRows(err, engine.ErrSimulationNotFound, "archive simulation")
				}
				return engine.ErrSimulationArchived
			}
			return fmt.Errorf("storage: archive simulation: %w", scanErr)
		}
		return insertAuditTx(ctx, tx, audit)
	})
	if err != nil {
		return model.Simulation{}, err
	}
	return sim, nil
}

// ListSimulations returns the org's simulations, newest first.
func (db *DB) ListSimulations(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]model.Simulation, int, error) {
	if limit <= 0 {
		limit = 50
	}

	var total int
	if err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM simulations WHERE org_id = $1`, orgID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("storage: count simulations: %w", err)
	}

	rows, err := db.pool.Query(ctx,
		`SELECT `+simulationColumns+` FROM simulations
		 WHERE org_id = $1
		 ORDER BY created_at DESC, id
		 LIMIT $2 OFFSET $3`,
		orgID, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: list simulations: %w", err)
	}
	defer rows.Close()

	var sims []model.Simulation
	for rows.Next() {
		sim, err := scanSimulation(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("storage: scan simulation: %w", err)
		}
		sims = append(sims, sim)
	}
	return sims, total, rows.Err()
}

func marshalDefinition(sim model.Simulation) (rosterJSON, policyJSON []byte, err error) {
	rosterJSON, err = json.Marshal(sim.Roster)
	if err != nil {
		return nil, nil, fmt.Errorf("storage: marshal roster: %w", err)
	}
	policyJSON, err = json.Marshal(sim.Policy)
	if err != nil {
		return nil, nil, fmt.Errorf("storage: marshal policy: %w", err)
	}
	return rosterJSON, policyJSON, nil
}

func scanSimulation(row pgx.Row) (model.Simulation, error) {
	var (
		sim        model.Simulation
		rosterJSON []byte
		policyJSON []byte
		status     string
	)
	err := row.Scan(
		&sim.ID, &sim.OrgID, &sim.Name, &sim.Description, &rosterJSON, &policyJSON,
		&sim.StepBudget, &status, &sim.ArchiveReason,
		&sim.CreatedAt, &sim.UpdatedAt, &sim.ArchivedAt,
	)
	if err != nil {
		return model.Simulation{}, err
	}
	sim.Status = model.SimulationStatus(status)
	if err := json.Unmarshal(rosterJSON, &sim.Roster); err != nil {
		return model.Simulation{}, fmt.Errorf("unmarshal roster: %w", err)
	}
	if err := json.Unmarshal(policyJSON, &sim.Policy); err != nil {
		return model.Simulation{}, fmt.Errorf("unmarshal policy: %w", err)
	}
	return sim, nil
}
