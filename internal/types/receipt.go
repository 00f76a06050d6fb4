package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// AllocationReceipt is a signed off-chain fee accumulator for queries
// served against one allocation (spec.md §3). Receipts are owned
// exclusively by the database until they are exchanged for a Voucher
// or deleted.
type AllocationReceipt struct {
	ID              string
	Allocation      common.Address
	Fees            *big.Int // GRT wei, unsigned, serializes to 33 bytes big-endian
	Signature       [65]byte
	ProtocolNetwork string
}

// AllocationReceiptsBatch groups all receipts collected for one
// just-closed allocation, with the wall-clock timeout before which the
// gateway will not convert them into a voucher (the 20-minute grace
// period, spec.md §4.6). Batches are owned exclusively by the delay
// heap inside the receipt pipeline (C8).
type AllocationReceiptsBatch struct {
	Allocation common.Address
	Receipts   []AllocationReceipt
	Timeout    int64 // wall-clock epoch milliseconds
}

// ReceiptCollectDelayMillis is the mandatory gateway grace period (§6
// "RECEIPT_COLLECT_DELAY") before a just-closed allocation's receipts
// may be exchanged for a voucher.
const ReceiptCollectDelayMillis int64 = 1_200_000
