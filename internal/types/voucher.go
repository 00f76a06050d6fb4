package types

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Voucher is a gateway-signed collection artifact converting a bundle of
// per-query receipts into a single redeemable payment. At most one
// Voucher may exist per (allocation, network) — owned by the database.
type Voucher struct {
	Allocation      common.Address
	Amount          string // GRT wei, decimal string
	Signature       string // 0x-prefixed
	ProtocolNetwork string
}

// PartialVoucher is used when a receipts batch exceeds the gateway's
// single-shot capacity: the batch is split into chunks, each exchanged
// independently, then reconciled into one Voucher.
type PartialVoucher struct {
	Allocation   common.Address
	Fees         string
	Signature    string
	ReceiptIDMin string
	ReceiptIDMax string
}

// EncodePartialVouchers validates that a set of PartialVouchers is
// well-formed — every member shares the same allocation — and returns
// the common allocation. Violating this is a programmer error per
// spec.md §7 and §8 invariant 4.
func EncodePartialVouchers(vs []PartialVoucher) (common.Address, error) {
	if len(vs) == 0 {
		return common.Address{}, fmt.Errorf("partial vouchers set must not be empty")
	}

	unique := map[common.Address]struct{}{}
	for _, v := range vs {
		unique[v.Allocation] = struct{}{}
	}
	if len(unique) != 1 {
		return common.Address{}, fmt.Errorf(
			"partial vouchers set must be for a single allocation, '%d' unique allocations represented",
			len(unique),
		)
	}
	return vs[0].Allocation, nil
}
