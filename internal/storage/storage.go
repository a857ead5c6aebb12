// Package storage provides the PostgreSQL storage layer for Mogi.
//
// It manages connection pooling via pgxpool and implements engine.Store:
// org-scoped queries for all tables, and transactional application of the
// engine's bundled mutations so every state transition commits together
// with its audit entries.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ashita-ai/mogi/internal/engine"
)

// Transient-conflict retry parameters for the transactional mutations.
const (
	txMaxRetries = 3
	txBaseDelay  = 25 * time.Millisecond
)

// DB wraps a pgxpool.Pool. poolDSN may point at PgBouncer or directly to
// Postgres in dev.
type DB struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var _ engine.Store = (*DB)(nil)

// New creates a new DB with a connection pool and verifies connectivity.
func New(ctx context.Context, poolDSN string, logger *slog.Logger) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(poolDSN)
	if err != nil {
		return nil, fmt.Errorf("storage: parse pool DSN: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("storage: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping pool: %w", err)
	}

	return &DB{pool: pool, logger: logger}, nil
}

// Pool returns the underlying connection pool for use by other packages.
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// Ping checks connectivity to the database.
func (db *DB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// Close shuts down the connection pool.
func (db *DB) Close() {
	db.pool.Close()
}

// inTx runs fn inside a transaction, retrying on serialization failures and
// deadlocks.
func (db *DB) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return WithRetry(ctx, txMaxRetries, txBaseDelay, func() error {
		tx, err := db.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("storage: begin tx: %w", err)
		}
		defer func() { _ = tx.Rollback(ctx) }()

		if err := fn(tx); err != nil {
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("storage: commit tx: %w", err)
		}
		return nil
	})
}
