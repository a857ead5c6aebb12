package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/mogi/internal/engine"
	"github.com/ashita-ai/mogi/internal/model"
)

// CreateFeedback appends feedback to a live run. Seq and AfterTurn are
// assigned from the run row while it is locked, so the recorded visibility
// point cannot drift from what concurrent steps actually saw.
func (db *DB) CreateFeedback(ctx context.Context, fb model.Feedback, audit []model.AuditEntry) (model.Feedback, error) {
	err := db.inTx(ctx, func(tx pgx.Tx) error {
		var (
			state     string
			turnCount int64
		)
		err := tx.QueryRow(ctx,
			`SELECT state, turn_count FROM runs WHERE id = $1 AND org_id = $2 FOR UPDATE`,
			fb.RunID, fb.OrgID,
		).Scan(&state, &turnCount)
		if err != nil {
			return mapNoRows(err, engine.ErrRunNotFound, "create feedback")
		}
		runState := model.RunState(state)
		if runState != model.RunPending && runState != model.RunRunning {
			return engine.ErrRunNotRunning
		}

		if err := tx.QueryRow(ctx,
			`SELECT COALESCE(MAX(seq), 0) + 1 FROM feedback WHERE run_id = $1`, fb.RunID,
		).Scan(&fb.Seq); err != nil {
			return fmt.Errorf("storage: next feedback seq: %w", err)
		}
		fb.AfterTurn = turnCount

		_, err = tx.Exec(ctx,
			`INSERT INTO feedback (id, run_id, org_id, seq, after_turn, author, content, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			fb.ID, fb.RunID, fb.OrgID, fb.Seq, fb.AfterTurn, fb.Author, fb.Content, fb.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("storage: create feedback: %w", err)
		}
		return insertAuditTx(ctx, tx, audit)
	})
	if err != nil {
		return model.Feedback{}, err
	}
	return fb, nil
}

// ListFeedback returns a run's feedback with after_turn > afterTurn, in
// insertion order. afterTurn < 0 lists all.
func (db *DB) ListFeedback(ctx context.Context, orgID, runID uuid.UUID, afterTurn int64) ([]model.Feedback, error) {
	if _, err := db.GetRun(ctx, orgID, runID); err != nil {
		return nil, err
	}

	rows, err := db.pool.Query(ctx,
		`SELECT id, run_id, org_id, seq, after_turn, author, content, created_at
		 FROM feedback
		 WHERE run_id = $1 AND org_id = $2 AND ($3 < 0 OR after_turn > $3)
		 ORDER BY seq`,
		runID, orgID, afterTurn,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list feedback: %w", err)
	}
	defer rows.Close()

	var items []model.Feedback
	for rows.Next() {
		var fb model.Feedback
		if err := rows.Scan(
			&fb.ID, &fb.RunID, &fb.OrgID, &fb.Seq,
			&fb.AfterTurn, &fb.Author, &fb.Content, &fb.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("storage: scan feedback: %w", err)
		}
		items = append(items, fb)
	}
	return items, rows.Err()
}
