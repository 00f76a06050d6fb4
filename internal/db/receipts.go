package db

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/graphprotocol/indexer-agent/internal/types"
)

// RememberAllocations upserts an AllocationSummary row for each
// allocation in a single transaction, per spec.md §4.6
// rememberAllocations. actionID is logged only; it carries no durable
// state of its own.
func (b *Bridge) RememberAllocations(ctx context.Context, actionID string, network string, ids []common.Address) error {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("rememberAllocations(%s): %w", actionID, err)
	}
	defer tx.Rollback(ctx)

	for _, id := range ids {
		_, err := tx.Exec(ctx, `
			INSERT INTO allocation_summaries (allocation, protocol_network, collected_fees, withdrawn_fees)
			VALUES ($1, $2, 0, 0)
			ON CONFLICT (protocol_network, allocation) DO NOTHING
		`, id.Hex(), network)
		if err != nil {
			return fmt.Errorf("rememberAllocations(%s): %w", actionID, err)
		}
	}

	return tx.Commit(ctx)
}

// CollectReceipts marks an allocation closed and fetches all its
// receipts ordered by id, in one transaction, per spec.md §4.6
// collectReceipts. found is false if there were no receipts to collect.
func (b *Bridge) CollectReceipts(ctx context.Context, network string, allocation common.Address, now time.Time) (receipts []types.AllocationReceipt, found bool, err error) {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		UPDATE allocation_summaries SET closed_at = $1
		WHERE protocol_network = $2 AND allocation = $3
	`, now.UnixMilli(), network, allocation.Hex())
	if err != nil {
		return nil, false, err
	}

	rows, err := tx.Query(ctx, `
		SELECT id, fees, signature FROM allocation_receipts
		WHERE protocol_network = $1 AND allocation = $2
		ORDER BY id
	`, network, allocation.Hex())
	if err != nil {
		return nil, false, err
	}

	for rows.Next() {
		var id string
		var fees string
		var sig []byte
		if err := rows.Scan(&id, &fees, &sig); err != nil {
			rows.Close()
			return nil, false, err
		}
		r := types.AllocationReceipt{ID: id, Allocation: allocation, ProtocolNetwork: network}
		r.Fees, _ = parseDecimal(fees)
		copy(r.Signature[:], sig)
		receipts = append(receipts, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, false, err
	}

	if len(receipts) == 0 {
		return nil, false, tx.Commit(ctx)
	}

	return receipts, true, tx.Commit(ctx)
}

// DeleteReceiptsAndRecordVoucher deletes the given receipt ids, adds
// fees to the allocation's collectedFees, and upserts the voucher, all
// in one transaction, per spec.md §4.6 obtainReceiptsVoucher.
func (b *Bridge) DeleteReceiptsAndRecordVoucher(ctx context.Context, network string, allocation common.Address, receiptIDs []string, voucher types.Voucher) error {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if len(receiptIDs) > 0 {
		_, err = tx.Exec(ctx, `
			DELETE FROM allocation_receipts
			WHERE protocol_network = $1 AND allocation = $2 AND id = ANY($3)
		`, network, allocation.Hex(), receiptIDs)
		if err != nil {
			return err
		}
	}

	_, err = tx.Exec(ctx, `
		UPDATE allocation_summaries SET collected_fees = collected_fees + $1
		WHERE protocol_network = $2 AND allocation = $3
	`, voucher.Amount, network, allocation.Hex())
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO vouchers (allocation, protocol_network, amount, signature)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (protocol_network, allocation) DO UPDATE SET amount = $3, signature = $4
	`, allocation.Hex(), network, voucher.Amount, voucher.Signature)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// PendingSummariesWithClosedAt loads every summary with a non-null
// closedAt, for restart recovery (spec.md §4.6
// queuePendingReceiptsFromDatabase).
func (b *Bridge) PendingSummariesWithClosedAt(ctx context.Context, network string) ([]types.AllocationSummary, error) {
	rows, err := b.pool.Query(ctx, `
		SELECT allocation, closed_at, collected_fees, withdrawn_fees
		FROM allocation_summaries
		WHERE protocol_network = $1 AND closed_at IS NOT NULL
	`, network)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.AllocationSummary
	for rows.Next() {
		var allocationHex string
		var closedAt int64
		var collected, withdrawn string
		if err := rows.Scan(&allocationHex, &closedAt, &collected, &withdrawn); err != nil {
			return nil, err
		}
		s := types.AllocationSummary{
			Allocation:      common.HexToAddress(allocationHex),
			ProtocolNetwork: network,
			ClosedAt:        &closedAt,
		}
		s.CollectedFees, _ = parseDecimal(collected)
		s.WithdrawnFees, _ = parseDecimal(withdrawn)
		out = append(out, s)
	}
	return out, rows.Err()
}

// ReceiptsForAllocation fetches all receipts for one allocation ordered
// by id, without closing it (used by restart recovery).
func (b *Bridge) ReceiptsForAllocation(ctx context.Context, network string, allocation common.Address) ([]types.AllocationReceipt, error) {
	rows, err := b.pool.Query(ctx, `
		SELECT id, fees, signature FROM allocation_receipts
		WHERE protocol_network = $1 AND allocation = $2
		ORDER BY id
	`, network, allocation.Hex())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.AllocationReceipt
	for rows.Next() {
		var id, fees string
		var sig []byte
		if err := rows.Scan(&id, &fees, &sig); err != nil {
			return nil, err
		}
		r := types.AllocationReceipt{ID: id, Allocation: allocation, ProtocolNetwork: network}
		r.Fees, _ = parseDecimal(fees)
		copy(r.Signature[:], sig)
		out = append(out, r)
	}
	return out, rows.Err()
}
