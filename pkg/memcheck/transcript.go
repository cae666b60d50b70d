// Package memcheck implements the offline memory-checking engine: the
// multiset fingerprinting transcript, the grand-product circuits that
// re-derive RS/WS and scan IS/FS inside the folding driver, and the native
// equation check used to sanity-test a trace before it ever reaches a
// circuit.
package memcheck

import (
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"

	"github.com/eth2030/zkwasm/pkg/crypto"
)

// Transcript is the single Keccak sponge the memory-consistency engine
// absorbs commitments into and squeezes challenges from. The absorb order
// is fixed by the domain separator and label sequence below; the verifier
// replays the exact same sequence independently, so any reordering here is
// a soundness break, not a style choice.
type Transcript struct {
	state crypto.Hash
}

// NewTranscript seeds the sponge with the domain separator.
func NewTranscript() *Transcript {
	return &Transcript{state: crypto.Keccak256Hash([]byte("compute MCC challenges"))}
}

// Absorb folds a labelled byte string into the running state.
func (t *Transcript) Absorb(label string, data []byte) {
	t.state = crypto.Keccak256Hash(t.state[:], []byte(label), data)
}

// Squeeze advances the sponge under label and reduces the resulting digest
// into a field element.
func (t *Transcript) Squeeze(label string) fr.Element {
	t.state = crypto.Keccak256Hash(t.state[:], []byte(label))
	var e fr.Element
	e.SetBytes(t.state[:])
	return e
}

// Challenges holds the pair (gamma, alpha) a fingerprinting pass derives
// from the trace/IS/FS commitments.
type Challenges struct {
	Gamma fr.Element
	Alpha fr.Element
}

// DeriveChallenges absorbs IC_trace, IC_IS and IC_FS in the fixed order and
// squeezes gamma then alpha, exactly as the verifier must replay it.
func DeriveChallenges(icTrace, icIS, icFS crypto.Hash) Challenges {
	t := NewTranscript()
	t.Absorb("C_n", icTrace[:])
	t.Absorb("IC_IS", icIS[:])
	t.Absorb("IC_FS", icFS[:])
	return Challenges{
		Gamma: t.Squeeze("gamma"),
		Alpha: t.Squeeze("alpha"),
	}
}
