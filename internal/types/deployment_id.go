// Package types holds the shared data model of the agent (spec.md §3):
// allocations, receipts, vouchers, RAVs, summaries, and subgraph
// lineage. These are read-only snapshots or DB-backed rows; ownership of
// each is documented on the type.
package types

import (
	"encoding/hex"
	"fmt"
)

// SubgraphDeploymentID is a validated, content-addressed identifier for
// an immutable subgraph deployment (spec.md GLOSSARY "Deployment"),
// parsed from either its IPFS hash ("Qm...") or its bytes32 hex form
// ("0x...") representation. This is the in-scope half of C2 (the other
// half, the rule evaluator, lives in internal/rules).
type SubgraphDeploymentID struct {
	// ipfsHash is the canonical base58 "Qm..." encoding.
	ipfsHash string
	// bytes32 is the 32-byte digest underlying the IPFS hash (the
	// multihash payload, stripped of its 2-byte prefix).
	bytes32 [32]byte
}

// multihashPrefix is the 2-byte sha2-256 multihash prefix ("Qm" hashes
// always use 0x1220).
var multihashPrefix = [2]byte{0x12, 0x20}

// NewDeploymentID parses a deployment ID given either form. It returns
// an error if the string is neither a well-formed IPFS hash nor a
// 32-byte hex digest.
func NewDeploymentID(s string) (SubgraphDeploymentID, error) {
	if len(s) > 1 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return deploymentIDFromHex(s)
	}
	return deploymentIDFromIPFSHash(s)
}

func deploymentIDFromIPFSHash(hash string) (SubgraphDeploymentID, error) {
	decoded, err := base58Decode(hash)
	if err != nil {
		return SubgraphDeploymentID{}, fmt.Errorf("invalid deployment id %q: %w", hash, err)
	}
	if len(decoded) != 34 || decoded[0] != multihashPrefix[0] || decoded[1] != multihashPrefix[1] {
		return SubgraphDeploymentID{}, fmt.Errorf("invalid deployment id %q: not a sha2-256 multihash", hash)
	}
	var b [32]byte
	copy(b[:], decoded[2:])
	return SubgraphDeploymentID{ipfsHash: hash, bytes32: b}, nil
}

func deploymentIDFromHex(s string) (SubgraphDeploymentID, error) {
	s = s[2:]
	if len(s) != 64 {
		return SubgraphDeploymentID{}, fmt.Errorf("invalid deployment id 0x%s: expected 32 bytes", s)
	}
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return SubgraphDeploymentID{}, fmt.Errorf("invalid deployment id 0x%s: %w", s, err)
	}
	var b [32]byte
	copy(b[:], decoded)
	payload := append(append([]byte{}, multihashPrefix[:]...), b[:]...)
	return SubgraphDeploymentID{ipfsHash: base58Encode(payload), bytes32: b}, nil
}

// IPFSHash returns the canonical "Qm..." representation.
func (id SubgraphDeploymentID) IPFSHash() string { return id.ipfsHash }

// Bytes32 returns the on-chain bytes32 digest.
func (id SubgraphDeploymentID) Bytes32() [32]byte { return id.bytes32 }

// String implements fmt.Stringer, returning the IPFS hash form.
func (id SubgraphDeploymentID) String() string { return id.ipfsHash }

// IsZero reports whether id is the unparsed zero value.
func (id SubgraphDeploymentID) IsZero() bool { return id.ipfsHash == "" }

// base58 alphabet used by IPFS (Bitcoin alphabet).
const b58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

func base58Decode(s string) ([]byte, error) {
	if s == "" {
		return nil, fmt.Errorf("empty string")
	}
	result := []byte{0}
	for _, r := range s {
		idx := indexByte(b58Alphabet, byte(r))
		if idx < 0 {
			return nil, fmt.Errorf("invalid base58 character %q", r)
		}
		carry := idx
		for i := 0; i < len(result); i++ {
			carry += int(result[i]) * 58
			result[i] = byte(carry & 0xff)
			carry >>= 8
		}
		for carry > 0 {
			result = append(result, byte(carry&0xff))
			carry >>= 8
		}
	}
	// leading zero bytes in the alphabet's first symbol
	for _, r := range s {
		if r != rune(b58Alphabet[0]) {
			break
		}
		result = append(result, 0)
	}
	// result accumulated little-endian; reverse to big-endian
	for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
		result[i], result[j] = result[j], result[i]
	}
	return result, nil
}

func base58Encode(b []byte) string {
	zeros := 0
	for _, c := range b {
		if c != 0 {
			break
		}
		zeros++
	}
	input := append([]byte{}, b...)
	var out []byte
	for len(input) > 0 {
		var remainder int
		var quotient []byte
		for _, c := range input {
			acc := remainder*256 + int(c)
			digit := acc / 58
			remainder = acc % 58
			if len(quotient) > 0 || digit != 0 {
				quotient = append(quotient, byte(digit))
			}
		}
		out = append(out, b58Alphabet[remainder])
		input = quotient
	}
	for i := 0; i < zeros; i++ {
		out = append(out, b58Alphabet[0])
	}
	// reverse
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return string(out)
}

func indexByte(s string, c byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == c {
			return i
		}
	}
	return -1
}
