package folding

import (
	"fmt"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/test"

	"github.com/eth2030/zkwasm/pkg/crypto"
)

// KeccakChainBackend is the reference Backend: it folds by absorbing each
// step's commitment into a running Keccak digest rather than by invoking
// the curve-cycle accumulator a production Nova/SuperNova backend would
// use. The folding primitive itself is an external collaborator per the
// design (spec.md §1's "curve-cycle, polynomial-commitment, and folding
// library" is out of scope); this backend gives the driver something real
// to fold against so the rest of the pipeline (padding, batching, IC
// threading, cancellation) is exercised end-to-end.
//
// It does not provide succinctness: Instance.Commitment after n steps is
// H(H(...H(0, c_1)..., c_{n-1}), c_n), which is exactly the IC recurrence
// spec.md §3 describes ("IC_{i+1} = H(IC_i, round_i_advice)"), just without
// the accompanying proof that each fold was itself valid. A production
// backend plugs into the same interface and additionally produces that
// proof.
type KeccakChainBackend struct{}

var _ Backend = KeccakChainBackend{}

// Name identifies this backend in logs and test names.
func (KeccakChainBackend) Name() string { return "keccak-chain" }

// Fold checks witness against shape's arithmetised relation before
// absorbing stepCommitment into running's IC and advancing StepsDone. It
// does not produce a folding proof of that check — that recursive-proof
// step is the property it explicitly defers to a production backend — but
// it does reject a witness that fails the step circuit's own constraints,
// which a nil shape/witness pair (never checked) would let straight
// through.
func (KeccakChainBackend) Fold(running Instance, shape StepCircuit, witness StepCircuit, stepCommitment [32]byte) (Instance, error) {
	if shape != nil && witness != nil {
		if err := test.IsSolved(shape, witness, ecc.BN254.ScalarField()); err != nil {
			return Instance{}, fmt.Errorf("step circuit not solved: %w", err)
		}
	}

	next := crypto.Keccak256Hash(running.Commitment[:], stepCommitment[:])
	return Instance{
		Z:          running.Z,
		Commitment: next,
		StepsDone:  running.StepsDone + 1,
	}, nil
}

// Verify always succeeds: there is no independent check to run against a
// Keccak chain beyond recomputing it, which Fold already does
// incrementally. A production backend's Verify would instead re-derive the
// accumulator's final check equation.
func (KeccakChainBackend) Verify(running Instance) (bool, error) {
	return true, nil
}
