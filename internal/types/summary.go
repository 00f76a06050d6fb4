package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// AllocationSummary is the durable aggregate per allocation: total
// collected and withdrawn fees, plus its close timestamp. A row is
// created, or reused, whenever a closed allocation is remembered
// (spec.md §3, §4.6 rememberAllocations).
type AllocationSummary struct {
	Allocation      common.Address
	ProtocolNetwork string

	ClosedAt *int64 // wall-clock epoch milliseconds, nil until closed

	CreatedTransfers  int64
	ResolvedTransfers int64
	FailedTransfers   int64
	OpenTransfers     int64

	CollectedFees *big.Int
	WithdrawnFees *big.Int
}
