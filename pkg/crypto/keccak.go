// Package crypto provides the Keccak-256 sponge used as the prover's
// Fiat-Shamir transcript: every challenge the memory-consistency engine
// derives (gamma, alpha, and the per-shard handoff challenges) is squeezed
// from this hash, absorbed in the fixed domain-separator order the
// verifier replays independently.
package crypto

import (
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/sha3"
)

// Hash is a 32-byte Keccak-256 digest.
type Hash [32]byte

// Hex renders the hash as a 0x-prefixed lowercase hex string.
func (h Hash) Hex() string {
	return "0x" + hex.EncodeToString(h[:])
}

func (h Hash) String() string { return h.Hex() }

// BytesToHash left-pads or truncates b to 32 bytes and returns the result.
func BytesToHash(b []byte) Hash {
	var h Hash
	if len(b) >= 32 {
		copy(h[:], b[len(b)-32:])
	} else {
		copy(h[32-len(b):], b)
	}
	return h
}

// HexToHash parses a hex string, with or without a 0x prefix, into a Hash.
func HexToHash(s string) Hash {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(fmt.Sprintf("crypto: invalid hex hash %q: %v", s, err))
	}
	return BytesToHash(b)
}

// Keccak256 absorbs every byte slice in data, in order, and returns the
// 32-byte digest. Multiple arguments are equivalent to concatenating them
// before hashing.
func Keccak256(data ...[]byte) []byte {
	d := sha3.NewLegacyKeccak256()
	for _, b := range data {
		d.Write(b)
	}
	return d.Sum(nil)
}

// Keccak256Hash is Keccak256 with its result wrapped as a Hash.
func Keccak256Hash(data ...[]byte) Hash {
	return BytesToHash(Keccak256(data...))
}
