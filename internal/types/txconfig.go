package types

import "math/big"

// TransactionType distinguishes legacy gas pricing from EIP-1559 fee
// fields, per spec.md §4.4.
type TransactionType string

const (
	TransactionTypeLegacy  TransactionType = "Legacy"
	TransactionTypeEIP1559 TransactionType = "EIP1559"
)

// TransactionConfig is the retry state carried across attempts of a
// single logical transaction (spec.md §3). GasBump is a millis
// fixed-point multiplier (1200 == +20%).
type TransactionConfig struct {
	Attempt int
	Type    TransactionType
	Nonce   uint64

	GasLimit uint64

	// Legacy pricing.
	GasPrice *big.Int

	// EIP-1559 pricing.
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int

	GasBump int64
}

// BumpGas multiplies every present gas-price field by GasBump/1000,
// leaving the nonce and gas limit untouched, per the "Try increasing the
// fee" / "gas price supplied is too low" retry path in spec.md §4.4.
func (c *TransactionConfig) BumpGas() {
	mul := func(v *big.Int) *big.Int {
		if v == nil {
			return nil
		}
		n := new(big.Int).Mul(v, big.NewInt(c.GasBump))
		return n.Div(n, big.NewInt(1000))
	}
	c.GasPrice = mul(c.GasPrice)
	c.MaxFeePerGas = mul(c.MaxFeePerGas)
	c.MaxPriorityFeePerGas = mul(c.MaxPriorityFeePerGas)
}

// BumpGasLimit multiplies the gas limit by GasBump/1000, used on the
// "out of gas" (IE050) retry path.
func (c *TransactionConfig) BumpGasLimit() {
	c.GasLimit = uint64(new(big.Int).Div(
		new(big.Int).Mul(big.NewInt(int64(c.GasLimit)), big.NewInt(c.GasBump)),
		big.NewInt(1000),
	).Uint64())
}
