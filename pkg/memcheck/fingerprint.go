package memcheck

import (
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"

	"github.com/eth2030/zkwasm/pkg/crypto"
	"github.com/eth2030/zkwasm/pkg/wasmtrace"
	"github.com/eth2030/zkwasm/pkg/zkerrors"
)

// Fingerprint reduces a multiset to the single field element
// prod_{(a,v,t) in m} (a + v*gamma + t*gamma^2 - alpha), matching the
// grand-product the ops and scan circuits re-derive incrementally.
func Fingerprint(gamma, alpha fr.Element, m wasmtrace.Multiset) fr.Element {
	var gammaSq fr.Element
	gammaSq.Mul(&gamma, &gamma)

	h := fr.Element{}
	h.SetOne()

	for _, tup := range m {
		var a, v, t, term, vGamma, tGammaSq fr.Element
		a.SetUint64(tup.Addr)
		v.SetUint64(tup.Val)
		t.SetUint64(tup.TS)

		vGamma.Mul(&v, &gamma)
		tGammaSq.Mul(&t, &gammaSq)

		term.Add(&a, &vGamma)
		term.Add(&term, &tGammaSq)
		term.Sub(&term, &alpha)

		h.Mul(&h, &term)
	}
	return h
}

// Commitment is the trace/IS/FS incremental commitment IC: a running
// Keccak fold over each record's canonical byte encoding. It binds the
// sequence of witness records (or memory tuples) to a single digest without
// needing the folding primitive itself.
type Commitment struct {
	state [32]byte
}

// Fold absorbs one record's bytes into the commitment and returns the
// advanced commitment, in the append-friendly style the driver uses when
// walking a trace incrementally.
func (c Commitment) Fold(data []byte) Commitment {
	next := Commitment{}
	copy(next.state[:], crypto.Keccak256(c.state[:], data))
	return next
}

// Bytes returns the commitment's current digest.
func (c Commitment) Bytes() [32]byte { return c.state }

// CommitTrace folds every row of a trace into a single commitment, in row
// order. Two traces with the same rows in the same order commit identically
// regardless of how they were produced, which is what lets a shard's
// hand-off equality check compare commitments directly.
func CommitTrace(rows []wasmtrace.WitnessVM) Commitment {
	var c Commitment
	for _, r := range rows {
		c = c.Fold(encodeWitnessRow(r))
	}
	return c
}

// CommitMultiset folds every tuple of a multiset into a single commitment,
// in multiset order.
func CommitMultiset(m wasmtrace.Multiset) Commitment {
	var c Commitment
	for _, tup := range m {
		c = c.Fold(encodeTuple(tup))
	}
	return c
}

func encodeTuple(t wasmtrace.MemTuple) []byte {
	var b [24]byte
	putU64(b[0:8], t.Addr)
	putU64(b[8:16], t.Val)
	putU64(b[16:24], t.TS)
	return b[:]
}

func encodeWitnessRow(r wasmtrace.WitnessVM) []byte {
	b := make([]byte, 0, 16+len(r.Read)*24+len(r.Write)*24)
	var head [16]byte
	putU64(head[0:8], uint64(r.PC))
	putU64(head[8:16], uint64(r.Imm))
	b = append(b, head[:]...)
	for _, t := range r.Read {
		b = append(b, encodeTuple(t)...)
	}
	for _, t := range r.Write {
		b = append(b, encodeTuple(t)...)
	}
	return b
}

func putU64(dst []byte, v uint64) {
	for i := 0; i < 8; i++ {
		dst[i] = byte(v >> (56 - 8*i))
	}
}

// VerifyMultisetEquation checks IS (x) WS = RS (x) FS under (gamma, alpha).
// A single flipped tuple in any of the four sets makes the two products
// disagree with overwhelming probability, which is the property the
// compression wrapper's check (e) leans on.
func VerifyMultisetEquation(gamma, alpha fr.Element, is, ws, rs, fs wasmtrace.Multiset) error {
	lhs := Fingerprint(gamma, alpha, is)
	lhs.Mul(&lhs, ref(Fingerprint(gamma, alpha, ws)))

	rhs := Fingerprint(gamma, alpha, rs)
	rhs.Mul(&rhs, ref(Fingerprint(gamma, alpha, fs)))

	if !lhs.Equal(&rhs) {
		return fmt.Errorf("IS*WS != RS*FS: %w", zkerrors.MultisetVerificationFailure)
	}
	return nil
}

func ref(e fr.Element) *fr.Element { return &e }
