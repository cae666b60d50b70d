// Package folding drives the IVC-style folding recursion: it walks a
// padded, batched witness trace and folds one step at a time into a
// running instance, carrying the incremental commitments the
// memory-consistency engine needs at the end.
//
// The folding primitive itself (the curve-cycle accumulator that actually
// proves the fold) is treated as an external collaborator, reached through
// the narrow Backend interface below, the same way the teacher's node.Config
// reaches a pluggable consensus engine through an interface rather than a
// concrete type.
package folding

import "github.com/consensys/gnark/frontend"

// Instance is one running folded state: the public IO z-vector the step
// function carries forward, plus the incremental commitment that binds
// every step folded into it so far.
type Instance struct {
	Z          []frontend.Variable
	Commitment [32]byte
	StepsDone  int
}

// StepCircuit is anything foldable: a gnark circuit plus the concrete
// witness assignment for one step. Backend implementations compile it once
// and fold many witnesses against the same compiled shape.
type StepCircuit interface {
	frontend.Circuit
}

// Backend is the pluggable folding primitive. A real implementation would
// wrap a curve-cycle accumulator (e.g. a Nova/SuperNova-style scheme); the
// reference backend in this package (KeccakChainBackend) instead chains
// Keccak digests of the step commitments, checking each step's witness
// against its circuit with gnark's test.IsSolved rather than proving it.
type Backend interface {
	Name() string

	// Fold advances running by one step, given the compiled step circuit's
	// shape and the concrete witness for this step. It returns the new
	// running instance.
	Fold(running Instance, shape StepCircuit, witness StepCircuit, stepCommitment [32]byte) (Instance, error)

	// Verify independently checks a running instance's internal
	// consistency (not the full multiset equation, which is memcheck's
	// job) — used by the driver's sanity check after the last fold.
	Verify(running Instance) (bool, error)
}
