package folding

import (
	"sync/atomic"
	"time"

	"github.com/eth2030/zkwasm/pkg/log"
	"github.com/eth2030/zkwasm/pkg/memcheck"
	"github.com/eth2030/zkwasm/pkg/metrics"
	"github.com/eth2030/zkwasm/pkg/opcode"
	"github.com/eth2030/zkwasm/pkg/switchboard"
	"github.com/eth2030/zkwasm/pkg/wasmtrace"
	"github.com/eth2030/zkwasm/pkg/zkerrors"
)

var driverLog = log.Default().Module("folding")

// ShouldStop is polled every few folded steps; returning true interrupts
// the driver before it emits a partial proof, matching the design's single
// cancellation point.
type ShouldStop func() bool

// pollInterval sets how often ShouldStop is checked: each fold loop checks
// it when the loop's row (or tuple) offset is a multiple of pollInterval,
// which is every pollInterval folds only when the batch size is 1.
const pollInterval = 4

// RunResult is everything a completed (or interrupted) Run call hands back:
// the three running instances the driver folded (execution, ops, scan) plus
// the incremental commitments the compression wrapper's checks (c)-(e) rely
// on.
type RunResult struct {
	Execution Instance
	Ops       Instance
	Scan      Instance

	ICTrace memcheck.Commitment
	ICIS    memcheck.Commitment
	ICFS    memcheck.Commitment

	Challenges memcheck.Challenges
}

// Driver walks a padded, batched witness trace one step at a time, folding
// each step's step-circuit instance into a running instance via Backend,
// and separately folds the ops and scan circuit families per spec.md §4.4.
// Scheduling is single-threaded cooperative: one iteration of the trace
// loop runs one fold, absorbs the step's commitment, and bumps IC.
type Driver struct {
	Backend    Backend
	StepSize   wasmtrace.StepSize
	ShouldStop ShouldStop

	foldedSteps atomic.Uint64
	totalSteps  atomic.Uint64
}

// NewDriver returns a Driver that folds with backend at the given step
// sizing. A nil ShouldStop never interrupts.
func NewDriver(backend Backend, step wasmtrace.StepSize) *Driver {
	return &Driver{Backend: backend, StepSize: step}
}

// Progress returns the number of execution-fold steps completed so far and
// the total the current (or most recent) Run call expects to complete.
// Safe to call concurrently with Run.
func (d *Driver) Progress() (done, total uint64) {
	return d.foldedSteps.Load(), d.totalSteps.Load()
}

// AttachSystemMetrics wires sm's prover-progress callbacks to this driver's
// Progress, so a running Run call's folding progress shows up in whatever
// exports sm (the Prometheus exporter, a JSON status endpoint, ...).
func (d *Driver) AttachSystemMetrics(sm *metrics.SystemMetrics) {
	sm.SetFoldedStepsFunc(func() uint64 {
		done, _ := d.Progress()
		return done
	})
	sm.SetFoldProgressFunc(func() float64 {
		done, total := d.Progress()
		if total == 0 {
			return 0
		}
		return float64(done) / float64(total)
	})
}

// padTrace pads rows with NoOp records to a multiple of n, matching the
// design's step-size normalisation: padding is semantically neutral since
// NoOp touches no memory tuple and leaves (pc, sp) unchanged.
func padTrace(rows []wasmtrace.WitnessVM, n int) []wasmtrace.WitnessVM {
	if n <= 1 {
		return rows
	}
	rem := len(rows) % n
	if rem == 0 {
		return rows
	}
	padded := make([]wasmtrace.WitnessVM, len(rows), len(rows)+(n-rem))
	copy(padded, rows)
	last := wasmtrace.WitnessVM{}
	if len(rows) > 0 {
		last.PC, last.SP = rows[len(rows)-1].PCAfter, rows[len(rows)-1].SPAfter
	}
	for i := 0; i < n-rem; i++ {
		padded = append(padded, wasmtrace.WitnessVM{
			PC: last.PC, SP: last.SP, PCAfter: last.PC, SPAfter: last.SP, Op: opcode.NoOp,
		})
	}
	return padded
}

// padMultiset pads m with dummy (addr, 0, 0) tuples to a multiple of n.
// Dummy tuples appear identically in both IS and FS so they cancel in the
// multiset equation; the design calls this out explicitly.
func padMultiset(m wasmtrace.Multiset, n int) wasmtrace.Multiset {
	if n <= 1 {
		return m
	}
	rem := len(m) % n
	if rem == 0 {
		return m
	}
	padded := make(wasmtrace.Multiset, len(m), len(m)+(n-rem))
	copy(padded, m)
	for i := 0; i < n-rem; i++ {
		padded = padded.Append(wasmtrace.MemTuple{Addr: 0, Val: 0, TS: 0})
	}
	return padded
}

// Run folds trace's rows (padded to StepSize.Execution) into a running
// execution instance, then folds the ops/scan circuit families over the
// memory-consistency multisets the trace induces (padded to
// StepSize.Memory), deriving the Fiat-Shamir challenges from the three
// incremental commitments per the fixed transcript order. It returns
// zkerrors.Interrupted if ShouldStop ever fires, and
// zkerrors.FoldingFailureError if the backend rejects any step.
func (d *Driver) Run(trace wasmtrace.Trace) (RunResult, error) {
	start := time.Now()
	defer func() { metrics.FoldStepTime.Observe(float64(time.Since(start).Milliseconds())) }()

	execRows := padTrace(trace.Rows, d.StepSize.Execution)
	icTrace := memcheck.CommitTrace(execRows)

	d.foldedSteps.Store(0)
	if d.StepSize.Execution > 0 {
		d.totalSteps.Store(uint64(len(execRows) / d.StepSize.Execution))
	}

	running := Instance{}
	for i := 0; i+d.StepSize.Execution <= len(execRows); i += d.StepSize.Execution {
		if d.interrupted(i) {
			return RunResult{}, zkerrors.Interrupted
		}
		batch := execRows[i : i+d.StepSize.Execution]
		stepCommit := memcheck.CommitTrace(batch)
		stepCircuit := switchboard.FromRows(batch)
		var err error
		running, err = d.Backend.Fold(running, stepCircuit, stepCircuit, stepCommit.Bytes())
		if err != nil {
			return RunResult{}, &zkerrors.FoldingFailureError{Step: i, Err: err}
		}
		metrics.StepsFolded.Add(int64(len(batch)))
		d.foldedSteps.Add(1)
	}
	if ok, err := d.Backend.Verify(running); err != nil || !ok {
		return RunResult{}, &zkerrors.FoldingFailureError{Step: len(execRows), Err: err}
	}

	is := padMultiset(trace.IS, d.StepSize.Memory)
	fs := padMultiset(trace.FS, d.StepSize.Memory)
	icIS := memcheck.CommitMultiset(is)
	icFS := memcheck.CommitMultiset(fs)

	challenges := memcheck.DeriveChallenges(icTrace.Bytes(), icIS.Bytes(), icFS.Bytes())

	opsRunning, err := d.foldOps(trace, challenges)
	if err != nil {
		return RunResult{}, err
	}
	scanRunning, err := d.foldScan(is, fs, challenges)
	if err != nil {
		return RunResult{}, err
	}

	driverLog.Info("folded trace",
		"exec_rows", len(execRows), "is", len(is), "fs", len(fs),
		"duration_ms", time.Since(start).Milliseconds())

	return RunResult{
		Execution:  running,
		Ops:        opsRunning,
		Scan:       scanRunning,
		ICTrace:    icTrace,
		ICIS:       icIS,
		ICFS:       icFS,
		Challenges: challenges,
	}, nil
}

// foldOps folds the ops circuit family over the RS/WS accesses the rows
// induce, StepSize.Memory accesses at a time.
func (d *Driver) foldOps(trace wasmtrace.Trace, ch memcheck.Challenges) (Instance, error) {
	accesses := pairAccesses(trace.Rows)
	accesses = padAccesses(accesses, d.StepSize.Memory)
	chBytes := challengeBytes(ch)
	opsState := memcheck.NewOpsState(ch)

	running := Instance{}
	for i := 0; i+d.StepSize.Memory <= len(accesses); i += d.StepSize.Memory {
		if d.interrupted(i) {
			return Instance{}, zkerrors.Interrupted
		}
		batch := accesses[i : i+d.StepSize.Memory]
		commit := commitAccesses(batch, chBytes)
		opsCircuit, nextState := memcheck.BuildOpsWitness(opsState, opsAccesses(batch))
		opsState = nextState
		var err error
		running, err = d.Backend.Fold(running, opsCircuit, opsCircuit, commit)
		if err != nil {
			return Instance{}, &zkerrors.FoldingFailureError{Step: i, Err: err}
		}
	}
	if ok, err := d.Backend.Verify(running); err != nil || !ok {
		return Instance{}, &zkerrors.FoldingFailureError{Step: len(accesses), Err: err}
	}
	return running, nil
}

// foldScan folds the scan/audit circuit family over equal-length chunks of
// the (padded) IS and FS multisets.
func (d *Driver) foldScan(is, fs wasmtrace.Multiset, ch memcheck.Challenges) (Instance, error) {
	if len(is) != len(fs) {
		return Instance{}, &zkerrors.FoldingFailureError{Err: zkerrors.MultisetVerificationFailure}
	}
	chBytes := challengeBytes(ch)
	scanState := memcheck.NewScanState(ch)
	running := Instance{}
	for i := 0; i+d.StepSize.Memory <= len(is); i += d.StepSize.Memory {
		if d.interrupted(i) {
			return Instance{}, zkerrors.Interrupted
		}
		isChunk := is[i : i+d.StepSize.Memory]
		fsChunk := fs[i : i+d.StepSize.Memory]
		commit := commitPair(isChunk, fsChunk, chBytes)
		scanCircuit, nextState := memcheck.BuildScanWitness(scanState, isChunk, fsChunk)
		scanState = nextState
		var err error
		running, err = d.Backend.Fold(running, scanCircuit, scanCircuit, commit)
		if err != nil {
			return Instance{}, &zkerrors.FoldingFailureError{Step: i, Err: err}
		}
	}
	if ok, err := d.Backend.Verify(running); err != nil || !ok {
		return Instance{}, &zkerrors.FoldingFailureError{Step: len(is), Err: err}
	}
	return running, nil
}

func (d *Driver) interrupted(step int) bool {
	if d.ShouldStop == nil || step%pollInterval != 0 {
		return false
	}
	if d.ShouldStop() {
		metrics.Interrupted.Inc()
		return true
	}
	return false
}

// access is one read-then-write pair the ops circuit re-derives; every
// memory-touching opcode class produces exactly one per the offline memory
// checking rule in spec.md §4.3.
type access struct {
	read, write wasmtrace.MemTuple
}

func pairAccesses(rows []wasmtrace.WitnessVM) []access {
	var out []access
	for _, r := range rows {
		n := len(r.Read)
		if len(r.Write) > n {
			n = len(r.Write)
		}
		for i := 0; i < n; i++ {
			var a access
			switch {
			case i < len(r.Read) && i < len(r.Write):
				a.read, a.write = r.Read[i], r.Write[i]
			case i < len(r.Read):
				a.read, a.write = r.Read[i], r.Read[i]
			case i < len(r.Write):
				a.read, a.write = r.Write[i], r.Write[i]
			}
			out = append(out, a)
		}
	}
	return out
}

// opsAccesses converts a batch of read/write tuple pairs into the address
// plus before/after values memcheck.BuildOpsWitness threads into its own
// timestamp accounting.
func opsAccesses(batch []access) []memcheck.OpsAccess {
	out := make([]memcheck.OpsAccess, len(batch))
	for i, a := range batch {
		out[i] = memcheck.OpsAccess{Addr: a.read.Addr, ReadVal: a.read.Val, WriteVal: a.write.Val}
	}
	return out
}

func padAccesses(a []access, n int) []access {
	if n <= 1 || len(a)%n == 0 {
		return a
	}
	rem := len(a) % n
	for i := 0; i < n-rem; i++ {
		a = append(a, access{})
	}
	return a
}

// challengeBytes canonically encodes (gamma, alpha) so every ops/scan batch
// commitment is bound to the same Fiat-Shamir challenges the grand-product
// circuits would gate their state transition on in a full circuit build.
func challengeBytes(ch memcheck.Challenges) []byte {
	g := ch.Gamma.Bytes()
	a := ch.Alpha.Bytes()
	return append(g[:], a[:]...)
}

func commitAccesses(batch []access, chBytes []byte) [32]byte {
	var c memcheck.Commitment
	c = c.Fold(chBytes)
	for _, a := range batch {
		c = c.Fold(tupleBytes(a.read))
		c = c.Fold(tupleBytes(a.write))
	}
	return c.Bytes()
}

func commitPair(is, fs wasmtrace.Multiset, chBytes []byte) [32]byte {
	var c memcheck.Commitment
	c = c.Fold(chBytes)
	for i := range is {
		c = c.Fold(tupleBytes(is[i]))
		c = c.Fold(tupleBytes(fs[i]))
	}
	return c.Bytes()
}

func tupleBytes(t wasmtrace.MemTuple) []byte {
	var b [24]byte
	putU64(b[0:8], t.Addr)
	putU64(b[8:16], t.Val)
	putU64(b[16:24], t.TS)
	return b[:]
}

func putU64(dst []byte, v uint64) {
	for i := 0; i < 8; i++ {
		dst[i] = byte(v >> (56 - 8*i))
	}
}
