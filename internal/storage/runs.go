package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/mogi/internal/engine"
	"github.com/ashita-ai/mogi/internal/model"
)

const runColumns = `id, org_id, simulation_id, state, turn_count, budget_remaining,
	 reason, abort_requested, started_at, ended_at, claim_owner, claimed_at`

// CreateRun inserts a run together with its lifecycle audit entries.
func (db *DB) CreateRun(ctx context.Context, run model.Run, audit []model.AuditEntry) error {
	return db.inTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO runs (id, org_id, simulation_id, state, turn_count, budget_remaining, abort_requested, started_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			run.ID, run.OrgID, run.SimulationID, string(run.State),
			run.TurnCount, run.BudgetRemaining, run.AbortRequested, run.StartedAt,
		)
		if err != nil {
			return fmt.Errorf("storage: create run: %w", err)
		}
		return insertAuditTx(ctx, tx, audit)
	})
}

// GetRun retrieves a run by ID, scoped to the given org.
func (db *DB) GetRun(ctx context.Context, orgID, id uuid.UUID) (model.Run, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = $1 AND org_id = $2`, id, orgID)
	run, err := scanRun(row)
	if err != nil {
		return model.Run{}, mapNoRows(err, engine.ErrRunNotFound, "get run")
	}
	return run, nil
}

// ListRuns returns a simulation's runs, newest first.
func (db *DB) ListRuns(ctx context.Context, orgID, simulationID uuid.UUID, limit, offset int) ([]model.Run, int, error) {
	if limit <= 0 {
		limit = 50
	}

	var total int
	if err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM runs WHERE org_id = $1 AND simulation_id = $2`, orgID, simulationID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("storage: count runs: %w", err)
	}

	rows, err := db.pool.Query(ctx,
		`SELECT `+runColumns+` FROM runs
		 WHERE org_id = $1 AND simulation_id = $2
		 ORDER BY started_at DESC, id
		 LIMIT $3 OFFSET $4`,
		orgID, simulationID, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: list runs: %w", err)
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("storage: scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, total, rows.Err()
}

// ClaimRun atomically acquires the run's exclusivity claim. The conditional
// UPDATE is the whole protocol: only a running row whose claim is free or
// past MaxClaimAge can be won, and concurrent claimants race on the same
// row version.
func (db *DB) ClaimRun(ctx context.Context, orgID, runID, owner uuid.UUID, now time.Time) (model.Run, error) {
	row := db.pool.QueryRow(ctx,
		`UPDATE runs SET claim_owner = $1, claimed_at = $2
		 WHERE id = $3 AND org_id = $4 AND state = $5
		   AND (claim_owner IS NULL OR claimed_at < $6)
		 RETURNING `+runColumns,
		owner, now, runID, orgID, string(model.RunRunning), now.Add(-engine.MaxClaimAge),
	)
	run, err := scanRun(row)
	if err == nil {
		return run, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return model.Run{}, fmt.Errorf("storage: claim run: %w", err)
	}

	// Lost the conditional update; report why.
	current, gerr := db.GetRun(ctx, orgID, runID)
	if gerr != nil {
		return model.Run{}, gerr
	}
	if current.State != model.RunRunning {
		return model.Run{}, engine.ErrRunNotRunning
	}
	return model.Run{}, engine.ErrRunBusy
}

// ReleaseRun drops the claim if owner still holds it. Releasing a claim
// someone else holds (or none) is a no-op.
func (db *DB) ReleaseRun(ctx context.Context, orgID, runID, owner uuid.UUID) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE runs SET claim_owner = NULL, claimed_at = NULL
		 WHERE id = $1 AND org_id = $2 AND claim_owner = $3`,
		runID, orgID, owner,
	)
	if err != nil {
		return fmt.Errorf("storage: release run: %w", err)
	}
	return nil
}

// RequestAbort flags a running run for abort without claiming it.
func (db *DB) RequestAbort(ctx context.Context, orgID, runID uuid.UUID, audit []model.AuditEntry) (model.Run, error) {
	var run model.Run
	err := db.inTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`UPDATE runs SET abort_requested = TRUE
			 WHERE id = $1 AND org_id = $2 AND state = $3
			 RETURNING `+runColumns,
			runID, orgID, string(model.RunRunning),
		)
		var scanErr error
		run, scanErr = scanRun(row)
		if scanErr != nil {
			if errors.Is(scanErr, pgx.ErrNoRows) {
				if _, gerr := db.GetRun(ctx, orgID, runID); gerr != nil {
					return gerr
				}
				return engine.ErrRunNotRunning
			}
			return fmt.Errorf("storage: request abort: %w", scanErr)
		}
		return insertAuditTx(ctx, tx, audit)
	})
	if err != nil {
		return model.Run{}, err
	}
	return run, nil
}

// FinishRun performs a terminal transition under an already-held claim and
// releases the claim in the same transaction.
func (db *DB) FinishRun(ctx context.Context, fin engine.FinishMutation) (model.Run, error) {
	var run model.Run
	err := db.inTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`UPDATE runs
			 SET state = $1, reason = $2, ended_at = $3, abort_requested = FALSE,
			     claim_owner = NULL, claimed_at = NULL
			 WHERE id = $4 AND org_id = $5 AND claim_owner = $6 AND state = $7
			 RETURNING `+runColumns,
			string(fin.State), fin.Reason, fin.EndedAt,
			fin.RunID, fin.OrgID, fin.Owner, string(model.RunRunning),
		)
		var scanErr error
		run, scanErr = scanRun(row)
		if scanErr != nil {
			if errors.Is(scanErr, pgx.ErrNoRows) {
				current, gerr := db.GetRun(ctx, fin.OrgID, fin.RunID)
				if gerr != nil {
					return gerr
				}
				if current.State.Terminal() {
					return engine.ErrRunAlreadyTerminal
				}
				return engine.ErrClaimLost
			}
			return fmt.Errorf("storage: finish run: %w", scanErr)
		}
		if fin.Outcome != nil {
			if err := insertOutcomeTx(ctx, tx, *fin.Outcome); err != nil {
				return err
			}
		}
		return insertAuditTx(ctx, tx, fin.Audit)
	})
	if err != nil {
		return model.Run{}, err
	}
	return run, nil
}

// ApplyStep applies one step's full effect atomically: turn append with
// gapless-sequence enforcement, metrics, run-state update, optional
// outcome, audit entries, and claim release. A pending abort is consumed
// here if the step would otherwise leave the run running.
func (db *DB) ApplyStep(ctx context.Context, mut engine.StepMutation) (model.Run, error) {
	var run model.Run
	err := db.inTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`SELECT `+runColumns+` FROM runs WHERE id = $1 AND org_id = $2 FOR UPDATE`,
			mut.RunID, mut.OrgID,
		)
		current, err := scanRun(row)
		if err != nil {
			return mapNoRows(err, engine.ErrRunNotFound, "apply step")
		}
		if current.Claim == nil || current.Claim.Owner != mut.Owner {
			return engine.ErrClaimLost
		}

		turnCount := current.TurnCount
		if mut.Turn != nil {
			if mut.Turn.Seq != current.TurnCount+1 {
				return engine.ErrSequenceGap
			}
			_, err = tx.Exec(ctx,
				`INSERT INTO turns (id, run_id, org_id, seq, agent_role, content, feedback_id, created_at)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				mut.Turn.ID, mut.Turn.RunID, mut.Turn.OrgID, mut.Turn.Seq,
				mut.Turn.AgentRole, mut.Turn.Content, mut.Turn.FeedbackID, mut.Turn.CreatedAt,
			)
			if err != nil {
				return fmt.Errorf("storage: insert turn: %w", err)
			}
			turnCount = mut.Turn.Seq
		}

		for _, m := range mut.Metrics {
			_, err = tx.Exec(ctx,
				`INSERT INTO run_metrics (run_id, org_id, turn_seq, name, value, label, created_at)
				 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				m.RunID, m.OrgID, m.TurnSeq, m.Name, m.Value, m.Label, m.CreatedAt,
			)
			if err != nil {
				return fmt.Errorf("storage: insert metric: %w", err)
			}
		}

		state := mut.State
		reason := mut.Reason
		endedAt := mut.EndedAt
		outcome := mut.Outcome
		auditEntries := mut.Audit

		if current.AbortRequested && state == model.RunRunning && mut.AbortOverride != nil {
			state = model.RunAborted
			r := mut.AbortOverride.Reason
			reason = &r
			t := time.Now().UTC()
			endedAt = &t
			outcome = mut.AbortOverride.Outcome
			auditEntries = append(auditEntries, mut.AbortOverride.Audit)
		}

		row = tx.QueryRow(ctx,
			`UPDATE runs
			 SET state = $1, turn_count = $2, budget_remaining = $3, reason = $4,
			     ended_at = $5, abort_requested = abort_requested AND NOT $6,
			     claim_owner = NULL, claimed_at = NULL
			 WHERE id = $7 AND org_id = $8
			 RETURNING `+runColumns,
			string(state), turnCount, mut.BudgetRemaining, reason,
			endedAt, state != model.RunRunning, mut.RunID, mut.OrgID,
		)
		run, err = scanRun(row)
		if err != nil {
			return fmt.Errorf("storage: apply step update: %w", err)
		}

		if outcome != nil {
			if err := insertOutcomeTx(ctx, tx, *outcome); err != nil {
				return err
			}
		}
		return insertAuditTx(ctx, tx, auditEntries)
	})
	if err != nil {
		return model.Run{}, err
	}
	return run, nil
}

func scanRun(row pgx.Row) (model.Run, error) {
	var (
		run        model.Run
		state      string
		claimOwner *uuid.UUID
		claimedAt  *time.Time
	)
	err := row.Scan(
		&run.ID, &run.OrgID, &run.SimulationID, &state, &run.TurnCount,
		&run.BudgetRemaining, &run.Reason, &run.AbortRequested,
		&run.StartedAt, &run.EndedAt, &claimOwner, &claimedAt,
	)
	if err != nil {
		return model.Run{}, err
	}
	run.State = model.RunState(state)
	if claimOwner != nil && claimedAt != nil {
		run.Claim = &model.RunClaim{Owner: *claimOwner, ClaimedAt: *claimedAt}
	}
	return run, nil
}
