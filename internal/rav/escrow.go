package rav

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/graphprotocol/indexer-agent/internal/db"
	"github.com/graphprotocol/indexer-agent/internal/ierrors"
	"github.com/graphprotocol/indexer-agent/internal/txmanager"
	"github.com/graphprotocol/indexer-agent/internal/types"
)

// escrowABIJSON declares only the redeem function this adapter calls,
// per spec.md §8 "Escrow RAV redeem (EVM)".
const escrowABIJSON = `[
  {"type":"function","name":"redeem","stateMutability":"nonpayable",
   "inputs":[
     {"name":"signedRAV","type":"tuple","components":[
       {"name":"allocationId","type":"address"},
       {"name":"sender","type":"address"},
       {"name":"valueAggregate","type":"uint256"},
       {"name":"signature","type":"bytes"}
     ]},
     {"name":"proof","type":"bytes"}
   ],
   "outputs":[]}
]`

// Escrow adapts the txmanager.Manager (C6) into the EscrowRedeemer
// interface the pipeline needs.
type Escrow struct {
	address common.Address
	abi     abi.ABI
	manager *txmanager.Manager
	wallet  txmanager.Wallet
}

// NewEscrow parses the adapter's ABI fragment once at construction.
func NewEscrow(address common.Address, manager *txmanager.Manager, wallet txmanager.Wallet) (*Escrow, error) {
	parsed, err := abi.JSON(strings.NewReader(escrowABIJSON))
	if err != nil {
		return nil, err
	}
	return &Escrow{address: address, abi: parsed, manager: manager, wallet: wallet}, nil
}

type onchainRAV struct {
	AllocationId   common.Address
	Sender         common.Address
	ValueAggregate *big.Int
	Signature      []byte
}

// Redeem implements spec.md §4.7 step 4, wired through the C6
// transaction manager.
func (e *Escrow) Redeem(ctx context.Context, r db.PendingRAV, proof []byte) (common.Hash, error) {
	signedRAV := onchainRAV{
		AllocationId:   r.AllocationID,
		Sender:         r.Sender,
		ValueAggregate: r.ValueAggregate,
		Signature:      r.Signature,
	}

	data, err := e.abi.Pack("redeem", signedRAV, proof)
	if err != nil {
		return common.Hash{}, ierrors.New("IE055", "failed to encode redeem call", err)
	}

	result, err := e.manager.Execute(ctx, txmanager.Estimate{GasLimit: 300_000}, func(cfg types.TransactionConfig) (*ethtypes.Transaction, error) {
		return txmanager.BuildTransaction(e.wallet, e.address, data, cfg)
	})
	if err != nil {
		return common.Hash{}, ierrors.New("IE055", "redeem transaction failed", err)
	}
	if result.Outcome != "" {
		return common.Hash{}, ierrors.New("IE055", "redeem was not submitted: "+string(result.Outcome), nil)
	}
	return result.Receipt.TxHash, nil
}
