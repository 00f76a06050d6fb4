package db

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/graphprotocol/indexer-agent/internal/types"
)

// PendingRAV is a RAV loaded for redemption consideration, carrying the
// redeem transaction hash the reorg-compensation check needs (spec.md
// §4.7 step 1) alongside the domain RAV record.
type PendingRAV struct {
	types.ReceiptAggregateVoucher
	RedeemTxHash *string
}

// UnredeemedFinalizedFalseRAVs loads RAVs with last=true, final=false,
// per spec.md §4.7 step 1.
func (b *Bridge) UnredeemedFinalizedFalseRAVs(ctx context.Context, network string) ([]PendingRAV, error) {
	rows, err := b.pool.Query(ctx, `
		SELECT allocation, sender, value_aggregate, signature, redeemed_at, redeem_tx_hash
		FROM scalar_tap_ravs
		WHERE protocol_network = $1 AND last = TRUE AND final = FALSE
	`, network)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PendingRAV
	for rows.Next() {
		var allocationHex, senderHex, valueAggregate string
		var sig []byte
		var redeemedAt *int64
		var redeemTxHash *string
		if err := rows.Scan(&allocationHex, &senderHex, &valueAggregate, &sig, &redeemedAt, &redeemTxHash); err != nil {
			return nil, err
		}

		r := PendingRAV{
			ReceiptAggregateVoucher: types.ReceiptAggregateVoucher{
				AllocationID:    common.HexToAddress(allocationHex),
				Sender:          common.HexToAddress(senderHex),
				ProtocolNetwork: network,
				Signature:       sig,
				Last:            true,
				Final:           false,
				RedeemedAt:      redeemedAt,
			},
			RedeemTxHash: redeemTxHash,
		}
		r.ValueAggregate, _ = parseDecimal(valueAggregate)
		out = append(out, r)
	}
	return out, rows.Err()
}

// UnredeemRAV clears redeemedAt/redeemTxHash, used on reorg compensation
// (spec.md §4.7 step 1) when a previously observed redeem transaction
// has vanished from the TAP subgraph.
func (b *Bridge) UnredeemRAV(ctx context.Context, network string, allocation common.Address) error {
	_, err := b.pool.Exec(ctx, `
		UPDATE scalar_tap_ravs SET redeemed_at = NULL, redeem_tx_hash = NULL
		WHERE protocol_network = $1 AND allocation = $2
	`, network, allocation.Hex())
	return err
}

// PromoteFinal marks a RAV final once its redemption is older than
// finalityTime, per spec.md §4.7 step 1.
func (b *Bridge) PromoteFinal(ctx context.Context, network string, allocation common.Address) error {
	_, err := b.pool.Exec(ctx, `
		UPDATE scalar_tap_ravs SET final = TRUE
		WHERE protocol_network = $1 AND allocation = $2
	`, network, allocation.Hex())
	return err
}

// MarkRedeemed records a successful on-chain redemption.
func (b *Bridge) MarkRedeemed(ctx context.Context, network string, allocation common.Address, at time.Time, txHash common.Hash) error {
	ms := at.Unix()
	hash := txHash.Hex()
	_, err := b.pool.Exec(ctx, `
		UPDATE scalar_tap_ravs SET redeemed_at = $1, redeem_tx_hash = $2
		WHERE protocol_network = $3 AND allocation = $4
	`, ms, hash, network, allocation.Hex())
	return err
}

// AddWithdrawnFeesForRAVs adds each RAV's valueAggregate to its
// allocation's withdrawnFees, in one transaction after all redemptions
// for the tick, per spec.md §4.7 step 5.
func (b *Bridge) AddWithdrawnFeesForRAVs(ctx context.Context, network string, ravs []types.ReceiptAggregateVoucher) error {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, r := range ravs {
		_, err := tx.Exec(ctx, `
			UPDATE allocation_summaries SET withdrawn_fees = withdrawn_fees + $1
			WHERE protocol_network = $2 AND allocation = $3
		`, r.ValueAggregate.String(), network, r.AllocationID.Hex())
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}
