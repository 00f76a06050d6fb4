// Package txmanager implements the transaction manager (C6): the single
// logical serializer per wallet that checks network-pause and operator
// preconditions, gates on a gas ceiling, and drives a send-confirm-retry
// loop with the gas-bump and nonce-reconciliation rules of spec.md §4.4.
package txmanager

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
)

// ChainBackend is the subset of *ethclient.Client this manager drives:
// fee estimation, nonce lookup, raw send, confirmation polling, and
// revert-reason replay.
type ChainBackend interface {
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*ethtypes.Header, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Wallet is a single signing key, satisfying spec.md §5's "critical
// section: only one transaction may be outstanding per wallet at a time"
// rule via the Manager's per-wallet mutex.
type Wallet struct {
	Address common.Address
	Signer  bind.SignerFn
}
