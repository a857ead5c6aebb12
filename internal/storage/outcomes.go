package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/mogi/internal/model"
)

func insertOutcomeTx(ctx context.Context, tx pgx.Tx, out model.Outcome) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO outcomes (id, run_id, org_id, trigger, converged, reason, turn_count, summary, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		out.ID, out.RunID, out.OrgID, string(out.Trigger), out.Converged,
		out.Reason, out.TurnCount, out.Summary, out.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: insert outcome: %w", err)
	}
	return nil
}

// CreateOutcome appends an outcome record with its audit entries. Outcomes
// are never updated or deleted; regenerated summaries become new rows.
func (db *DB) CreateOutcome(ctx context.Context, out model.Outcome, audit []model.AuditEntry) error {
	if _, err := db.GetRun(ctx, out.OrgID, out.RunID); err != nil {
		return err
	}
	return db.inTx(ctx, func(tx pgx.Tx) error {
		if err := insertOutcomeTx(ctx, tx, out); err != nil {
			return err
		}
		return insertAuditTx(ctx, tx, audit)
	})
}

// ListOutcomes returns a run's outcomes in creation order.
func (db *DB) ListOutcomes(ctx context.Context, orgID, runID uuid.UUID, limit, offset int) ([]model.Outcome, int, error) {
	if _, err := db.GetRun(ctx, orgID, runID); err != nil {
		return nil, 0, err
	}
	if limit <= 0 {
		limit = 50
	}

	var total int
	if err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM outcomes WHERE run_id = $1 AND org_id = $2`, runID, orgID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("storage: count outcomes: %w", err)
	}

	rows, err := db.pool.Query(ctx,
		`SELECT id, run_id, org_id, trigger, converged, reason, turn_count, summary, created_at
		 FROM outcomes
		 WHERE run_id = $1 AND org_id = $2
		 ORDER BY created_at, id
		 LIMIT $3 OFFSET $4`,
		runID, orgID, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: list outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []model.Outcome
	for rows.Next() {
		var (
			out     model.Outcome
			trigger string
		)
		if err := rows.Scan(
			&out.ID, &out.RunID, &out.OrgID, &trigger, &out.Converged,
			&out.Reason, &out.TurnCount, &out.Summary, &out.CreatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("storage: scan outcome: %w", err)
		}
		out.Trigger = model.OutcomeTrigger(trigger)
		outcomes = append(outcomes, out)
	}
	return outcomes, total, rows.Err()
}
