package shard

import (
	"fmt"

	"github.com/eth2030/zkwasm/pkg/compress"
	"github.com/eth2030/zkwasm/pkg/folding"
	"github.com/eth2030/zkwasm/pkg/memcheck"
	"github.com/eth2030/zkwasm/pkg/metrics"
	"github.com/eth2030/zkwasm/pkg/paramstore"
	"github.com/eth2030/zkwasm/pkg/wasmtrace"
	"github.com/eth2030/zkwasm/pkg/zkerrors"
)

// ShardProof is one shard's independently folded-and-compressed argument,
// plus the pieces the aggregator needs to check its hand-off against its
// neighbors: the Shard descriptor and the folding.RunResult it was proven
// against.
type ShardProof struct {
	Shard  Shard
	Folded folding.RunResult
	SNARK  *compress.SNARK
}

// ProveShard runs the same folding + compression pipeline Run/Compress use
// for a whole trace, but over one shard's slice in isolation: the shard's
// own IS and FS stand in for the whole trace's, so the step circuits see
// exactly the same shape of inputs a single-shard proof would.
func ProveShard(store *paramstore.Store, backend folding.Backend, step wasmtrace.StepSize, s Shard) (*ShardProof, error) {
	sub := wasmtrace.Trace{Rows: s.Rows, IS: s.IS, FS: s.FS}
	d := folding.NewDriver(backend, step)
	res, err := d.Run(sub)
	if err != nil {
		return nil, fmt.Errorf("shard %d: %w", s.Index, err)
	}
	snark, err := compress.Compress(store, sub, res)
	if err != nil {
		return nil, fmt.Errorf("shard %d: %w", s.Index, err)
	}
	return &ShardProof{Shard: s, Folded: res, SNARK: snark}, nil
}

// ProveAll proves every shard independently, in order. Shards have no data
// dependency on each other's proofs (only their IS/FS values, already fixed
// by Plan), so a production driver would run this loop concurrently; it
// stays sequential here to keep metrics and logging straightforward.
func ProveAll(store *paramstore.Store, backend folding.Backend, step wasmtrace.StepSize, shards []Shard) ([]*ShardProof, error) {
	proofs := make([]*ShardProof, len(shards))
	for i, s := range shards {
		p, err := ProveShard(store, backend, step, s)
		if err != nil {
			return nil, err
		}
		proofs[i] = p
	}
	return proofs, nil
}

// Aggregated is the single proof Aggregate folds a shard sequence into: one
// running commitment that absorbs every shard's SNARK, in order.
type Aggregated struct {
	Commitment [32]byte
	Shards     int
}

// Aggregate verifies every shard's SNARK on its own terms, checks the
// hand-off between adjacent shards, and folds the verified shards into one
// running commitment via backend — the same folding primitive Run uses for
// step circuits, applied one level up over shard proofs instead of step
// witnesses.
//
// The hand-off check covers contiguity (the previous shard's End equals
// the next shard's Start) and memory state (the previous shard's FS equals
// the next shard's IS tuple by tuple, and so do their multiset
// commitments). pc, sp and the incremental commitments are not compared
// across the boundary. All of these checks are plain Go comparisons done
// before any folding happens; there is no aggregator circuit.
func Aggregate(store *paramstore.Store, backend folding.Backend, proofs []*ShardProof) (*Aggregated, error) {
	if len(proofs) == 0 {
		return nil, &zkerrors.InvalidTraceSliceError{Reason: "no shards to aggregate"}
	}

	for _, p := range proofs {
		icTrace, icIS, icFS := p.Folded.ICTrace.Bytes(), p.Folded.ICIS.Bytes(), p.Folded.ICFS.Bytes()
		if err := compress.Verify(store, p.SNARK, icTrace, icIS, icFS); err != nil {
			return nil, fmt.Errorf("shard %d: %w", p.Shard.Index, err)
		}
	}

	for i := 1; i < len(proofs); i++ {
		prev, cur := proofs[i-1], proofs[i]
		if prev.Shard.End != cur.Shard.Start {
			metrics.ShardHandoffMismatches.Inc()
			return nil, handoffError(prev.Shard, cur.Shard, "non-contiguous shard boundary")
		}
		if !multisetEqual(prev.Shard.FS, cur.Shard.IS) {
			metrics.ShardHandoffMismatches.Inc()
			return nil, handoffError(prev.Shard, cur.Shard, "FS/IS hand-off mismatch")
		}
		if memcheck.CommitMultiset(prev.Shard.FS).Bytes() != memcheck.CommitMultiset(cur.Shard.IS).Bytes() {
			metrics.ShardHandoffMismatches.Inc()
			return nil, handoffError(prev.Shard, cur.Shard, "FS/IS commitment mismatch")
		}
	}

	running := folding.Instance{}
	for _, p := range proofs {
		commit := snarkCommitment(p)
		var err error
		running, err = backend.Fold(running, nil, nil, commit)
		if err != nil {
			return nil, &zkerrors.FoldingFailureError{Step: p.Shard.Index, Err: err}
		}
	}
	if ok, err := backend.Verify(running); err != nil || !ok {
		return nil, &zkerrors.FoldingFailureError{Step: len(proofs), Err: err}
	}

	shardLog.Info("aggregated shards", "count", len(proofs), "backend", backend.Name())
	return &Aggregated{Commitment: running.Commitment, Shards: len(proofs)}, nil
}

func handoffError(prev, cur Shard, reason string) error {
	return &zkerrors.InvalidTraceSliceError{
		Start: prev.Start, End: cur.End,
		Reason: fmt.Sprintf("shard %d -> %d: %s", prev.Index, cur.Index, reason),
	}
}

func multisetEqual(a, b wasmtrace.Multiset) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// snarkCommitment folds a shard's public IO into the 32-byte payload the
// second-level backend absorbs, binding the aggregate to every shard's
// exact final multiset state.
func snarkCommitment(p *ShardProof) [32]byte {
	var c memcheck.Commitment
	c = c.Fold(p.SNARK.PublicIO.ExecutionFinalCommitment[:])
	c = c.Fold(p.SNARK.PublicIO.OpsFinalCommitment[:])
	c = c.Fold(p.SNARK.PublicIO.ScanFinalCommitment[:])
	return c.Bytes()
}
