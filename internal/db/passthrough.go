package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// indexing_agreements and indexing_vouchers are DIP tables: the logic
// that populates them is out of scope (spec.md §1), but the agent
// shares its database with the DIP surface, so the migration carries
// them and this bridge exposes the one write path they need —
// transfer creation — with the exact isolation and retry semantics
// spec.md §5 specifies for that path: REPEATABLE READ, retried on SQL
// state 40001 (serialization failure) or 23505 (unique violation), up
// to 20 attempts.
const maxTransferCreateAttempts = 20

// CreateIndexingVoucher inserts a passthrough indexing_vouchers row
// under REPEATABLE READ, retrying on transient conflicts per spec.md
// §5.
func (b *Bridge) CreateIndexingVoucher(ctx context.Context, network, id string) error {
	return b.withSerializableRetry(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO indexing_vouchers (id, protocol_network) VALUES ($1, $2)
			ON CONFLICT (protocol_network, id) DO NOTHING
		`, id, network)
		return err
	})
}

// withSerializableRetry runs fn inside a REPEATABLE READ transaction,
// retrying up to maxTransferCreateAttempts times when the driver
// reports SQL state 40001 or 23505.
func (b *Bridge) withSerializableRetry(ctx context.Context, fn func(tx pgx.Tx) error) error {
	var lastErr error

	for attempt := 0; attempt < maxTransferCreateAttempts; attempt++ {
		tx, err := b.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
		if err != nil {
			return err
		}

		if err := fn(tx); err != nil {
			tx.Rollback(ctx)
			if isRetryableSQLState(err) {
				lastErr = err
				b.log.Warningf("retrying transaction after SQL state conflict (attempt %d): %s", attempt+1, err.Error())
				time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
				continue
			}
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			if isRetryableSQLState(err) {
				lastErr = err
				continue
			}
			return err
		}
		return nil
	}

	return fmt.Errorf("transaction did not succeed after %d attempts: %w", maxTransferCreateAttempts, lastErr)
}

func isRetryableSQLState(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "23505"
	}
	return false
}
