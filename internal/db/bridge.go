// Package db implements the Postgres-backed persistence layer: the
// single authority for allocation summaries, receipts, vouchers, and
// RAVs (spec.md §5 "Shared-resource policy"), modeled on the teacher's
// internal/repository/db bridge shape but rebuilt on
// github.com/jackc/pgx/v5 since the spec's DECIMAL columns and
// SQL-state-based retries can't be expressed over the teacher's
// mongo-driver.
package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/graphprotocol/indexer-agent/internal/logger"
)

// Bridge is the persistence handle threaded into C8/C9, analogous to
// the teacher's *MongoDbBridge.
type Bridge struct {
	pool *pgxpool.Pool
	log  logger.Logger
}

// New connects to Postgres at connString and ensures the schema exists.
func New(ctx context.Context, connString string, maxConns int32, log logger.Logger) (*Bridge, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("invalid database connection string: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	b := &Bridge{pool: pool, log: log}
	if err := b.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return b, nil
}

// Close releases the connection pool.
func (b *Bridge) Close() {
	b.log.Notice("database connection pool closing")
	b.pool.Close()
}
