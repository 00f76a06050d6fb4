package subgraphclient

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/graphprotocol/indexer-agent/internal/types"
)

// allocationsQuery is issued by the eligible-allocation monitor (C7)
// every tick, per spec.md §4.5: active allocations plus allocations
// closed within the last epoch.
const allocationsQuery = `query($indexer: String!, $sinceEpoch: Int!) {
  activeAllocations: allocations(where: { indexer: $indexer, status: Active }) {
    id indexer subgraphDeployment { id } allocatedTokens createdAtEpoch closedAtEpoch
    createdAtBlockHash closedAtBlockHash poi queryFeeRebates queryFeesCollected status
  }
  recentlyClosedAllocations: allocations(
    where: { indexer: $indexer, status: Closed, closedAtEpoch_gte: $sinceEpoch }
  ) {
    id indexer subgraphDeployment { id } allocatedTokens createdAtEpoch closedAtEpoch
    createdAtBlockHash closedAtBlockHash poi queryFeeRebates queryFeesCollected status
  }
}`

type allocationRow struct {
	ID                 string `json:"id"`
	Indexer            string `json:"indexer"`
	SubgraphDeployment struct {
		ID string `json:"id"`
	} `json:"subgraphDeployment"`
	AllocatedTokens    string  `json:"allocatedTokens"`
	CreatedAtEpoch     uint64  `json:"createdAtEpoch"`
	ClosedAtEpoch      uint64  `json:"closedAtEpoch"`
	CreatedAtBlockHash string  `json:"createdAtBlockHash"`
	ClosedAtBlockHash  string  `json:"closedAtBlockHash"`
	POI                *string `json:"poi"`
	QueryFeeRebates    string  `json:"queryFeeRebates"`
	QueryFeesCollected string  `json:"queryFeesCollected"`
	Status             string  `json:"status"`
}

type allocationsResponse struct {
	ActiveAllocations         []allocationRow `json:"activeAllocations"`
	RecentlyClosedAllocations []allocationRow `json:"recentlyClosedAllocations"`
}

// EligibleAllocations runs the C7 poll query and returns the
// concatenation of active and recently-closed allocations, parsed into
// types.Allocation records.
func (c *Client) EligibleAllocations(ctx context.Context, indexer common.Address, currentEpoch uint64, protocolNetwork string) ([]types.Allocation, error) {
	sinceEpoch := int64(currentEpoch) - 1
	if sinceEpoch < 0 {
		sinceEpoch = 0
	}

	var resp allocationsResponse
	err := c.CheckedQuery(ctx, allocationsQuery, map[string]interface{}{
		"indexer":    indexer.Hex(),
		"sinceEpoch": sinceEpoch,
	}, &resp)
	if err != nil {
		return nil, err
	}

	out := make([]types.Allocation, 0, len(resp.ActiveAllocations)+len(resp.RecentlyClosedAllocations))
	for _, row := range append(resp.ActiveAllocations, resp.RecentlyClosedAllocations...) {
		a, err := row.toAllocation(protocolNetwork)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func (r allocationRow) toAllocation(protocolNetwork string) (types.Allocation, error) {
	deploymentID, err := types.NewDeploymentID(r.SubgraphDeployment.ID)
	if err != nil {
		return types.Allocation{}, fmt.Errorf("invalid subgraph deployment id in allocation %s: %w", r.ID, err)
	}

	allocatedTokens, ok := new(big.Int).SetString(r.AllocatedTokens, 10)
	if !ok {
		return types.Allocation{}, fmt.Errorf("invalid allocatedTokens %q for allocation %s", r.AllocatedTokens, r.ID)
	}
	rebates, _ := new(big.Int).SetString(r.QueryFeeRebates, 10)
	if rebates == nil {
		rebates = new(big.Int)
	}
	collected, _ := new(big.Int).SetString(r.QueryFeesCollected, 10)
	if collected == nil {
		collected = new(big.Int)
	}

	var poi *[32]byte
	if r.POI != nil {
		h := common.HexToHash(*r.POI)
		b := [32]byte(h)
		poi = &b
	}

	return types.Allocation{
		ID:                 common.HexToAddress(r.ID),
		Indexer:            common.HexToAddress(r.Indexer),
		SubgraphDeployment: deploymentID,
		AllocatedTokens:    allocatedTokens,
		CreatedAtEpoch:     r.CreatedAtEpoch,
		ClosedAtEpoch:      r.ClosedAtEpoch,
		CreatedAtBlockHash: common.HexToHash(r.CreatedAtBlockHash),
		ClosedAtBlockHash:  common.HexToHash(r.ClosedAtBlockHash),
		POI:                poi,
		QueryFeeRebates:    rebates,
		QueryFeesCollected: collected,
		Status:             types.AllocationStatus(r.Status),
		ProtocolNetwork:    protocolNetwork,
	}, nil
}

// transactionQuery looks up a single on-chain transaction by hash in
// the TAP subgraph, used by the RAV pipeline's reorg compensation check
// (spec.md §4.7 step 1): a RAV's previously recorded redeem transaction
// that no longer appears there has been reorg'd out.
const transactionQuery = `query($id: ID!) {
  transaction(id: $id) {
    id
  }
}`

type transactionResponse struct {
	Transaction *struct {
		ID string `json:"id"`
	} `json:"transaction"`
}

// RedeemTransactionObserved implements rav.TAPObserver: it reports
// whether txHash is still visible in the TAP subgraph for allocation.
func (c *Client) RedeemTransactionObserved(ctx context.Context, allocation common.Address, txHash string) (bool, error) {
	var resp transactionResponse
	if err := c.CheckedQuery(ctx, transactionQuery, map[string]interface{}{"id": txHash}, &resp); err != nil {
		return false, err
	}
	return resp.Transaction != nil, nil
}

// currentEpochQuery reads the protocol's current epoch off the
// singleton GraphNetwork entity, used by the eligible-allocation
// monitor (C7) before each allocations poll, per spec.md §4.5.
const currentEpochQuery = `query {
  graphNetwork(id: "1") {
    currentEpoch
  }
}`

type currentEpochResponse struct {
	GraphNetwork struct {
		CurrentEpoch uint64 `json:"currentEpoch"`
	} `json:"graphNetwork"`
}

// CurrentEpoch implements allocations.EpochSource against the network
// subgraph.
func (c *Client) CurrentEpoch(ctx context.Context) (uint64, error) {
	var resp currentEpochResponse
	if err := c.CheckedQuery(ctx, currentEpochQuery, nil, &resp); err != nil {
		return 0, err
	}
	return resp.GraphNetwork.CurrentEpoch, nil
}

// allocationByIDQuery recovers a single Allocation by address, used by
// the RAV pipeline (C9 step 2) to join a RAV's allocationId against the
// network subgraph.
const allocationByIDQuery = `query($id: ID!) {
  allocation(id: $id) {
    id indexer subgraphDeployment { id } allocatedTokens createdAtEpoch closedAtEpoch
    createdAtBlockHash closedAtBlockHash poi queryFeeRebates queryFeesCollected status
  }
}`

type allocationByIDResponse struct {
	Allocation *allocationRow `json:"allocation"`
}

// AllocationByID looks up a single allocation by address. It returns
// (Allocation{}, false, nil) if no matching allocation exists — RAVs
// with no matching allocation are dropped silently per spec.md §4.7
// step 2.
func (c *Client) AllocationByID(ctx context.Context, id common.Address, protocolNetwork string) (types.Allocation, bool, error) {
	var resp allocationByIDResponse
	err := c.CheckedQuery(ctx, allocationByIDQuery, map[string]interface{}{
		"id": id.Hex(),
	}, &resp)
	if err != nil {
		return types.Allocation{}, false, err
	}
	if resp.Allocation == nil {
		return types.Allocation{}, false, nil
	}
	a, err := resp.Allocation.toAllocation(protocolNetwork)
	if err != nil {
		return types.Allocation{}, false, err
	}
	return a, true, nil
}
