package txmanager

import (
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/common"

	"github.com/graphprotocol/indexer-agent/internal/types"
)

// BuildTransaction constructs and signs an unsigned call to `to` carrying
// `data`, using the gas configuration already gated by Execute. Callers
// use this inside their SendFunc to avoid duplicating the
// legacy-vs-EIP1559 transaction construction in every contract adapter.
func BuildTransaction(wallet Wallet, to common.Address, data []byte, cfg types.TransactionConfig) (*ethtypes.Transaction, error) {
	var inner ethtypes.TxData

	switch cfg.Type {
	case types.TransactionTypeEIP1559:
		inner = &ethtypes.DynamicFeeTx{
			Nonce:     cfg.Nonce,
			To:        &to,
			Gas:       cfg.GasLimit,
			GasFeeCap: cfg.MaxFeePerGas,
			GasTipCap: cfg.MaxPriorityFeePerGas,
			Data:      data,
		}
	default:
		inner = &ethtypes.LegacyTx{
			Nonce:    cfg.Nonce,
			To:       &to,
			Gas:      cfg.GasLimit,
			GasPrice: cfg.GasPrice,
			Data:     data,
		}
	}

	tx := ethtypes.NewTx(inner)
	return wallet.Signer(wallet.Address, tx)
}
