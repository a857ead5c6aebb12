package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ashita-ai/mogi/internal/model"
)

// ListTurns returns a run's turns with seq > afterSeq, in sequence order.
// The cursor is the sequence number itself, which stays stable under
// concurrent appends. limit <= 0 means no limit. Turn inserts happen only
// inside ApplyStep.
func (db *DB) ListTurns(ctx context.Context, orgID, runID uuid.UUID, afterSeq int64, limit int) ([]model.Turn, error) {
	if _, err := db.GetRun(ctx, orgID, runID); err != nil {
		return nil, err
	}

	query := `SELECT id, run_id, org_id, seq, agent_role, content, feedback_id, created_at
		 FROM turns
		 WHERE run_id = $1 AND org_id = $2 AND seq > $3
		 ORDER BY seq`
	args := []any{runID, orgID, afterSeq}
	if limit > 0 {
		query += ` LIMIT $4`
		args = append(args, limit)
	}

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list turns: %w", err)
	}
	defer rows.Close()

	var turns []model.Turn
	for rows.Next() {
		var turn model.Turn
		if err := rows.Scan(
			&turn.ID, &turn.RunID, &turn.OrgID, &turn.Seq,
			&turn.AgentRole, &turn.Content, &turn.FeedbackID, &turn.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("storage: scan turn: %w", err)
		}
		turns = append(turns, turn)
	}
	return turns, rows.Err()
}
