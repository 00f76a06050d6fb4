package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ReceiptAggregateVoucher is a signed, monotonically increasing
// per-allocation escrow-channel aggregate produced by a TAP sender
// (spec.md §3 GLOSSARY "RAV"). Last is true for the most recent RAV of
// its allocation; Final is true once the post-redemption quiet period
// has elapsed. RAVs are owned exclusively by the database.
type ReceiptAggregateVoucher struct {
	AllocationID    common.Address
	Sender          common.Address
	ValueAggregate  *big.Int
	Signature       []byte
	Last            bool
	Final           bool
	RedeemedAt      *int64 // wall-clock epoch seconds, nil if not yet redeemed
	ProtocolNetwork string
}

// AllocationIDLowerHex returns the allocation ID formatted the way the
// scalar_tap_ravs table stores it: lowercase, no 0x prefix (spec.md §6).
func (r ReceiptAggregateVoucher) AllocationIDLowerHex() string {
	h := r.AllocationID.Hex()
	// common.Address.Hex() is "0x" + checksummed hex; normalize.
	lower := make([]byte, 0, len(h)-2)
	for i := 2; i < len(h); i++ {
		c := h[i]
		if c >= 'A' && c <= 'Z' {
			c = c - 'A' + 'a'
		}
		lower = append(lower, c)
	}
	return string(lower)
}
