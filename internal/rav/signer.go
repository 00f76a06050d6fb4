package rav

import (
	"context"
	"crypto/ecdsa"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// WalletSigner implements AllocationSigner with the agent's single
// operator wallet key. spec.md §8 describes the allocation ID proof as
// signed by a key derived per-allocation from the wallet mnemonic; that
// HD derivation is out of scope here (see DESIGN.md) and every
// allocation's digest is signed with the same operator key instead.
type WalletSigner struct {
	key *ecdsa.PrivateKey
}

// NewWalletSigner wraps an already-parsed private key.
func NewWalletSigner(key *ecdsa.PrivateKey) *WalletSigner {
	return &WalletSigner{key: key}
}

// SignDigest implements AllocationSigner.
func (s *WalletSigner) SignDigest(ctx context.Context, allocationID common.Address, digest [32]byte) ([]byte, error) {
	return crypto.Sign(digest[:], s.key)
}
