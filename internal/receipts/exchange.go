package receipts

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/graphprotocol/indexer-agent/internal/ierrors"
	"github.com/graphprotocol/indexer-agent/internal/txmanager"
	"github.com/graphprotocol/indexer-agent/internal/types"
)

// allocationExchangeABIJSON declares only the three functions this adapter
// calls; the indexer-agent has no need for the rest of the contract's
// surface, per spec.md §8 "Voucher redeem (EVM)".
const allocationExchangeABIJSON = `[
  {"type":"function","name":"allocationsRedeemed","stateMutability":"view",
   "inputs":[{"name":"allocationID","type":"address"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"redeemMany","stateMutability":"nonpayable",
   "inputs":[{"name":"vouchers","type":"tuple[]","components":[
     {"name":"allocationID","type":"address"},
     {"name":"amount","type":"uint256"},
     {"name":"signature","type":"bytes"}
   ]}],
   "outputs":[]},
  {"type":"function","name":"paused","stateMutability":"view",
   "inputs":[],
   "outputs":[{"name":"","type":"bool"}]}
]`

// Exchange adapts the txmanager.Manager (C6) and an ethereum.CallMsg-
// capable backend into the ExchangeRedeemer and AlreadyRedeemedChecker
// interfaces the pipeline needs.
type Exchange struct {
	address common.Address
	abi     abi.ABI
	manager *txmanager.Manager
	wallet  txmanager.Wallet
	backend txmanager.ChainBackend
}

// NewExchange parses the adapter's ABI fragment once at construction.
func NewExchange(address common.Address, manager *txmanager.Manager, wallet txmanager.Wallet, backend txmanager.ChainBackend) (*Exchange, error) {
	parsed, err := abi.JSON(strings.NewReader(allocationExchangeABIJSON))
	if err != nil {
		return nil, err
	}
	return &Exchange{address: address, abi: parsed, manager: manager, wallet: wallet, backend: backend}, nil
}

// AllocationsRedeemed implements spec.md §4.6 voucher redemption step 2.
func (e *Exchange) AllocationsRedeemed(ctx context.Context, allocation common.Address) (bool, error) {
	data, err := e.abi.Pack("allocationsRedeemed", allocation)
	if err != nil {
		return false, err
	}

	result, err := e.backend.CallContract(ctx, ethereum.CallMsg{To: &e.address, Data: data}, nil)
	if err != nil {
		return false, err
	}

	out, err := e.abi.Unpack("allocationsRedeemed", result)
	if err != nil || len(out) != 1 {
		return false, err
	}
	redeemed, _ := out[0].(bool)
	return redeemed, nil
}

// Paused reports the exchange contract's OZ-Pausable state, polled by
// the caller-owned 60s refresher that feeds the C6 transaction
// manager's Eventual[bool] precondition (spec.md §4.4).
func (e *Exchange) Paused(ctx context.Context) (bool, error) {
	data, err := e.abi.Pack("paused")
	if err != nil {
		return false, err
	}
	result, err := e.backend.CallContract(ctx, ethereum.CallMsg{To: &e.address, Data: data}, nil)
	if err != nil {
		return false, err
	}
	out, err := e.abi.Unpack("paused", result)
	if err != nil || len(out) != 1 {
		return false, err
	}
	paused, _ := out[0].(bool)
	return paused, nil
}

// onchainVoucher mirrors the exchange contract's Voucher tuple, per
// spec.md §8: address and signature must be 0x-prefixed, normalized
// before submission.
type onchainVoucher struct {
	AllocationID common.Address
	Amount       *big.Int
	Signature    []byte
}

// RedeemMany implements spec.md §4.6 voucher redemption step 4, wired
// through the C6 transaction manager.
func (e *Exchange) RedeemMany(ctx context.Context, vouchers []types.Voucher) error {
	onchain := make([]onchainVoucher, len(vouchers))
	for i, v := range vouchers {
		amount, ok := new(big.Int).SetString(v.Amount, 10)
		if !ok {
			return ierrors.New("IE055", "voucher amount is not a valid decimal integer", nil)
		}
		sig := common.FromHex(v.Signature)
		onchain[i] = onchainVoucher{AllocationID: v.Allocation, Amount: amount, Signature: sig}
	}

	data, err := e.abi.Pack("redeemMany", onchain)
	if err != nil {
		return ierrors.New("IE055", "failed to encode redeemMany call", err)
	}

	result, err := e.manager.Execute(ctx, txmanager.Estimate{GasLimit: 300_000}, func(cfg types.TransactionConfig) (*ethtypes.Transaction, error) {
		return txmanager.BuildTransaction(e.wallet, e.address, data, cfg)
	})
	if err != nil {
		return ierrors.New("IE055", "redeemMany transaction failed", err)
	}
	if result.Outcome != "" {
		return ierrors.New("IE055", "redeemMany was not submitted: "+string(result.Outcome), nil)
	}
	return nil
}
