package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/mogi/internal/model"
)

// insertAuditTx appends audit entries within the caller's transaction. The
// audit_log table is append-only; entries commit or roll back together with
// the state transition they record.
func insertAuditTx(ctx context.Context, tx pgx.Tx, entries []model.AuditEntry) error {
	for _, e := range entries {
		payload := e.Payload
		if payload == nil {
			payload = map[string]any{}
		}
		payloadJSON, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("storage: marshal audit payload: %w", err)
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO audit_log (id, org_id, simulation_id, run_id, event_type, actor, payload, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8)`,
			e.ID, e.OrgID, e.SimulationID, e.RunID, string(e.EventType), e.Actor, payloadJSON, e.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("storage: insert audit entry: %w", err)
		}
	}
	return nil
}

// AppendAudit appends audit entries outside any other mutation.
func (db *DB) AppendAudit(ctx context.Context, entries []model.AuditEntry) error {
	return db.inTx(ctx, func(tx pgx.Tx) error {
		return insertAuditTx(ctx, tx, entries)
	})
}

// ListAudit returns audit entries matching the filter, oldest first so a
// replay reads in commit order.
func (db *DB) ListAudit(ctx context.Context, orgID uuid.UUID, filter model.AuditFilter) ([]model.AuditEntry, int, error) {
	where := []string{"org_id = $1"}
	args := []any{orgID}

	addCond := func(cond string, arg any) {
		args = append(args, arg)
		where = append(where, cond+" $"+strconv.Itoa(len(args)))
	}
	if filter.SimulationID != nil {
		addCond("simulation_id =", *filter.SimulationID)
	}
	if filter.RunID != nil {
		addCond("run_id =", *filter.RunID)
	}
	if filter.EventType != nil {
		addCond("event_type =", string(*filter.EventType))
	}
	if filter.Since != nil {
		addCond("created_at >=", *filter.Since)
	}
	if filter.Until != nil {
		addCond("created_at <=", *filter.Until)
	}
	whereSQL := strings.Join(where, " AND ")

	var total int
	if err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM audit_log WHERE `+whereSQL, args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("storage: count audit entries: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit, filter.Offset)
	rows, err := db.pool.Query(ctx,
		`SELECT id, org_id, simulation_id, run_id, event_type, actor, payload, created_at
		 FROM audit_log WHERE `+whereSQL+`
		 ORDER BY created_at, id
		 LIMIT $`+strconv.Itoa(len(args)-1)+` OFFSET $`+strconv.Itoa(len(args)),
		args...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []model.AuditEntry
	for rows.Next() {
		var (
			e           model.AuditEntry
			eventType   string
			payloadJSON []byte
		)
		if err := rows.Scan(&e.ID, &e.OrgID, &e.SimulationID, &e.RunID, &eventType, &e.Actor, &payloadJSON, &e.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("storage: scan audit entry: %w", err)
		}
		e.EventType = model.AuditEventType(eventType)
		if err := json.Unmarshal(payloadJSON, &e.Payload); err != nil {
			return nil, 0, fmt.Errorf("storage: unmarshal audit payload: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, total, rows.Err()
}
