package db

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/graphprotocol/indexer-agent/internal/types"
)

// PendingVouchers fetches up to limit vouchers ordered by amount
// descending, per spec.md §4.6 voucher redemption step 1.
func (b *Bridge) PendingVouchers(ctx context.Context, network string, limit int) ([]types.Voucher, error) {
	rows, err := b.pool.Query(ctx, `
		SELECT allocation, amount, signature FROM vouchers
		WHERE protocol_network = $1
		ORDER BY amount DESC
		LIMIT $2
	`, network, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Voucher
	for rows.Next() {
		var v types.Voucher
		var allocationHex string
		if err := rows.Scan(&allocationHex, &v.Amount, &v.Signature); err != nil {
			return nil, err
		}
		v.Allocation = common.HexToAddress(allocationHex)
		v.ProtocolNetwork = network
		out = append(out, v)
	}
	return out, rows.Err()
}

// DeleteVoucher removes a single voucher row, used both when a voucher
// has already been redeemed on chain (spec.md §4.6 step 2) and after a
// successful batch redemption.
func (b *Bridge) DeleteVoucher(ctx context.Context, network string, allocation common.Address) error {
	_, err := b.pool.Exec(ctx, `
		DELETE FROM vouchers WHERE protocol_network = $1 AND allocation = $2
	`, network, allocation.Hex())
	return err
}

// AddWithdrawnFeesAndDeleteVouchers adds each voucher's amount to its
// allocation's withdrawnFees and deletes the voucher rows, in one
// transaction, per spec.md §4.6 voucher redemption step 4.
func (b *Bridge) AddWithdrawnFeesAndDeleteVouchers(ctx context.Context, network string, vouchers []types.Voucher) error {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, v := range vouchers {
		_, err := tx.Exec(ctx, `
			UPDATE allocation_summaries SET withdrawn_fees = withdrawn_fees + $1
			WHERE protocol_network = $2 AND allocation = $3
		`, v.Amount, network, v.Allocation.Hex())
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			DELETE FROM vouchers WHERE protocol_network = $1 AND allocation = $2
		`, network, v.Allocation.Hex())
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}
