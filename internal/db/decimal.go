package db

import (
	"fmt"
	"math/big"
)

// parseDecimal parses a Postgres DECIMAL column (returned as text by
// pgx when scanned into a string) into a big.Int. Fee and amount
// columns are always whole-wei integers, never fractional, per
// spec.md §3 ("never round-trip through float").
func parseDecimal(s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid decimal value %q", s)
	}
	return n, nil
}
