package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// AllocationStatus is the lifecycle stage of an Allocation, per
// spec.md §3. Status only moves forward once Closed.
type AllocationStatus string

const (
	AllocationStatusActive    AllocationStatus = "Active"
	AllocationStatusClosed    AllocationStatus = "Closed"
	AllocationStatusFinalized AllocationStatus = "Finalized"
	AllocationStatusClaimed   AllocationStatus = "Claimed"
	AllocationStatusNull      AllocationStatus = "Null"
)

// Allocation is an on-chain commitment of stake by an indexer to a
// subgraph deployment for a bounded epoch range. Allocations are owned
// and published exclusively by the eligible-allocation monitor (C7);
// every other component holds a read-only snapshot.
type Allocation struct {
	ID                 common.Address
	Indexer            common.Address
	SubgraphDeployment SubgraphDeploymentID
	AllocatedTokens    *big.Int
	CreatedAtEpoch     uint64
	ClosedAtEpoch      uint64
	CreatedAtBlockHash common.Hash
	ClosedAtBlockHash  common.Hash
	POI                *[32]byte
	QueryFeeRebates    *big.Int
	QueryFeesCollected *big.Int
	Status             AllocationStatus
	ProtocolNetwork    string
}

// IsActive reports whether the allocation is still open, per the
// invariant that an Active allocation has ClosedAtEpoch == 0.
func (a Allocation) IsActive() bool {
	return a.Status == AllocationStatusActive && a.ClosedAtEpoch == 0
}
