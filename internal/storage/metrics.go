package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ashita-ai/mogi/internal/model"
)

// ListMetrics returns a run's metrics with turn_seq > afterSeq, ordered by
// turn sequence then name. limit <= 0 means no limit. Metric inserts happen
// only inside ApplyStep; rows are immutable once written.
func (db *DB) ListMetrics(ctx context.Context, orgID, runID uuid.UUID, afterSeq int64, limit int) ([]model.Metric, error) {
	if _, err := db.GetRun(ctx, orgID, runID); err != nil {
		return nil, err
	}

	query := `SELECT run_id, org_id, turn_seq, name, value, label, created_at
		 FROM run_metrics
		 WHERE run_id = $1 AND org_id = $2 AND turn_seq > $3
		 ORDER BY turn_seq, name`
	args := []any{runID, orgID, afterSeq}
	if limit > 0 {
		query += ` LIMIT $4`
		args = append(args, limit)
	}

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list metrics: %w", err)
	}
	defer rows.Close()

	var out []model.Metric
	for rows.Next() {
		var m model.Metric
		if err := rows.Scan(&m.RunID, &m.OrgID, &m.TurnSeq, &m.Name, &m.Value, &m.Label, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan metric: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
