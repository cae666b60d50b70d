package compress

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"

	"github.com/eth2030/zkwasm/pkg/folding"
	"github.com/eth2030/zkwasm/pkg/log"
	"github.com/eth2030/zkwasm/pkg/memcheck"
	"github.com/eth2030/zkwasm/pkg/metrics"
	"github.com/eth2030/zkwasm/pkg/paramstore"
	"github.com/eth2030/zkwasm/pkg/wasmtrace"
	"github.com/eth2030/zkwasm/pkg/zkerrors"
)

var compressLog = log.Default().Module("compress")

// PublicIO is the public record a SNARK carries: the execution family's
// initial (pc, sp), the execution, ops and scan families' final
// commitments, plus the four grand-product values the FinalCheckCircuit's
// public inputs carry. The ops and scan families' initial states, and the
// IS/FS incremental commitments, are not part of it.
type PublicIO struct {
	PC0, SP0 uint32

	ExecutionFinalCommitment [32]byte
	OpsFinalCommitment       [32]byte
	ScanFinalCommitment      [32]byte

	HIS, HWS, HRS, HFS fr.Element
}

// SNARK is the constant-size non-interactive argument Compress produces.
// Recursive is always false: this wrapper only ever produces the final,
// non-foldable argument; NotRecursive is returned if a caller tries to
// Compress or aggregate one again.
type SNARK struct {
	Proof     groth16.Proof
	PublicIO  PublicIO
	Recursive bool
}

// Compress converts folded (the final folded instance the driver emitted)
// into a constant-size SNARK. trace supplies the rows and IS/FS the native
// multiset check and the circuit witness are built from; store supplies
// (and lazily generates) the FinalCheckCircuit's Groth16 key pair.
func Compress(store *paramstore.Store, trace wasmtrace.Trace, folded folding.RunResult) (*SNARK, error) {
	start := time.Now()
	defer func() { metrics.CompressionTime.Observe(float64(time.Since(start).Milliseconds())) }()

	rs, ws := memcheck.DeriveRSWS(trace.Rows)
	gamma, alpha := folded.Challenges.Gamma, folded.Challenges.Alpha

	if err := memcheck.VerifyMultisetEquation(gamma, alpha, trace.IS, ws, rs, trace.FS); err != nil {
		metrics.MultisetMismatches.Inc()
		return nil, err
	}

	hIS := memcheck.Fingerprint(gamma, alpha, trace.IS)
	hWS := memcheck.Fingerprint(gamma, alpha, ws)
	hRS := memcheck.Fingerprint(gamma, alpha, rs)
	hFS := memcheck.Fingerprint(gamma, alpha, trace.FS)

	ccs, keys, err := loadFinalCheckKeys(store)
	if err != nil {
		return nil, err
	}

	assignment := &FinalCheckCircuit{
		HISInitial: 1, HWSInitial: 1, HRSInitial: 1, HFSInitial: 1,
		HIS: elemVar(hIS), HWS: elemVar(hWS), HRS: elemVar(hRS), HFS: elemVar(hFS),
	}
	fullWitness, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		return nil, fmt.Errorf("compress: build witness: %w", err)
	}
	proof, err := groth16.Prove(ccs, keys.PK, fullWitness)
	if err != nil {
		return nil, fmt.Errorf("compress: prove: %w", err)
	}

	var pc0, sp0 uint32
	if len(trace.Rows) > 0 {
		pc0, sp0 = trace.Rows[0].PC, trace.Rows[0].SP
	}

	pub := PublicIO{
		PC0: pc0, SP0: sp0,
		ExecutionFinalCommitment: folded.ICTrace.Bytes(),
		OpsFinalCommitment:       folded.Ops.Commitment,
		ScanFinalCommitment:      folded.Scan.Commitment,
		HIS:                      hIS, HWS: hWS, HRS: hRS, HFS: hFS,
	}

	compressLog.Info("compressed folded instance", "steps", folded.Execution.StepsDone, "duration_ms", time.Since(start).Milliseconds())
	return &SNARK{Proof: proof, PublicIO: pub, Recursive: false}, nil
}

// Verify checks the compressed SNARK against vk (the FinalCheckCircuit's
// initial grand products equal 1 and HIS*HWS == HRS*HFS), plus one
// out-of-circuit check: the SNARK's execution-trace commitment must equal
// icTrace.
//
// Verify does not check that the challenges the SNARK was built with were
// derived from icTrace, icIS and icFS. It recomputes them with
// DeriveChallenges but discards the result, since the SNARK does not carry
// gamma/alpha to compare against; icIS and icFS therefore affect nothing
// here.
func Verify(store *paramstore.Store, snark *SNARK, icTrace, icIS, icFS [32]byte) error {
	start := time.Now()
	defer func() { metrics.CompressedVerifyTime.Observe(float64(time.Since(start).Milliseconds())) }()

	if snark.Recursive {
		return zkerrors.NotRecursive
	}
	if snark.PublicIO.ExecutionFinalCommitment != icTrace {
		return fmt.Errorf("compress: execution/ops trace commitment mismatch: %w", zkerrors.MultisetVerificationFailure)
	}
	_ = memcheck.DeriveChallenges(icTrace, icIS, icFS)

	_, keys, err := loadFinalCheckKeys(store)
	if err != nil {
		return err
	}

	assignment := &FinalCheckCircuit{
		HISInitial: 1, HWSInitial: 1, HRSInitial: 1, HFSInitial: 1,
		HIS: elemVar(snark.PublicIO.HIS), HWS: elemVar(snark.PublicIO.HWS),
		HRS: elemVar(snark.PublicIO.HRS), HFS: elemVar(snark.PublicIO.HFS),
	}
	publicWitness, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return fmt.Errorf("compress: build public witness: %w", err)
	}
	if err := groth16.Verify(snark.Proof, keys.VK, publicWitness); err != nil {
		return fmt.Errorf("compress: snark verify: %w", errors.Join(err, zkerrors.MultisetVerificationFailure))
	}
	return nil
}

// loadFinalCheckKeys compiles FinalCheckCircuit and fetches (generating if
// necessary) its Groth16 key pair from store. The circuit shape is fixed,
// so every call digests to the same key pair after the first.
func loadFinalCheckKeys(store *paramstore.Store) (constraint.ConstraintSystem, paramstore.KeyPair, error) {
	digest, ccs, err := paramstore.DigestCircuit(&FinalCheckCircuit{})
	if err != nil {
		return nil, paramstore.KeyPair{}, fmt.Errorf("compress: digest circuit: %w", err)
	}
	keys, err := store.GetOrCreate(digest, ccs)
	if err != nil {
		return nil, paramstore.KeyPair{}, fmt.Errorf("compress: key generation: %w", err)
	}
	return ccs, keys, nil
}

// elemVar converts a gnark-crypto field element into a frontend.Variable
// assignment value via its big.Int representation, the conversion gnark's
// own witness builder expects for non-native numeric types.
func elemVar(e fr.Element) frontend.Variable {
	var b big.Int
	e.BigInt(&b)
	return &b
}
