package wasmtrace

import (
	"github.com/eth2030/zkwasm/pkg/log"
	"github.com/eth2030/zkwasm/pkg/metrics"
	"github.com/eth2030/zkwasm/pkg/zkerrors"
)

var tracerLog = log.Default().Module("tracer")

// StepSize bounds how many rows one folding step may cover. execution caps
// how many WitnessVM rows feed one step of the execution-fold IVC;
// memory caps how many RS/WS tuples feed one step of the ops-fold IVC.
// Both default to 1, matching a per-instruction step count; batching
// raises them to amortize folding overhead across several instructions.
type StepSize struct {
	Execution int
	Memory    int
}

// DefaultStepSize folds one Wasm instruction per IVC step.
var DefaultStepSize = StepSize{Execution: 1, Memory: 1}

// WASMArgs is the fully resolved set of inputs to execution_trace: the
// decoded module, the entry point, its arguments, and the step sizing.
type WASMArgs struct {
	Module   *Module
	FuncName string
	Args     []int64
	Step     StepSize
}

// ArgsBuilder assembles a WASMArgs incrementally through chained With*
// calls, finished by Build.
type ArgsBuilder struct {
	args WASMArgs
}

// NewArgsBuilder decodes src and seeds a builder targeting funcName.
func NewArgsBuilder(src []byte, funcName string) (*ArgsBuilder, error) {
	mod, err := Decode(src)
	if err != nil {
		return nil, err
	}
	return &ArgsBuilder{args: WASMArgs{Module: mod, FuncName: funcName, Step: DefaultStepSize}}, nil
}

// WithArgs sets the entry point's call arguments.
func (b *ArgsBuilder) WithArgs(args ...int64) *ArgsBuilder {
	b.args.Args = args
	return b
}

// WithStepSize overrides the default per-instruction step sizing.
func (b *ArgsBuilder) WithStepSize(s StepSize) *ArgsBuilder {
	b.args.Step = s
	return b
}

// Build validates the entry point exists and returns the finished WASMArgs.
func (b *ArgsBuilder) Build() (WASMArgs, error) {
	if _, _, ok := b.args.Module.FuncByName(b.args.FuncName); !ok {
		return WASMArgs{}, &zkerrors.FuncNotFoundError{Name: b.args.FuncName}
	}
	return b.args, nil
}

// Trace is the full output of execution_trace: the per-step witness rows
// plus the initial and final memory-consistency multisets. RS and WS live
// on the runner only transiently; ExecutionTrace folds them into the rows
// themselves via WitnessVM.Read/Write, so only IS and FS need to survive
// past this call (RS/WS are always exactly the union of every row's
// Read/Write tuples, which memcheck recomputes from the trace it folds).
type Trace struct {
	Rows   []WitnessVM
	IS     Multiset
	FS     Multiset
	Result int64
}

// ExecutionTrace runs args.FuncName to completion (or to a trap) and
// returns the full witness trace plus the IS/FS multisets memcheck needs
// to verify IS⊎WS = RS⊎FS against the rows' own Read/Write tuples.
func ExecutionTrace(args WASMArgs) (Trace, error) {
	fn, _, ok := args.Module.FuncByName(args.FuncName)
	if !ok {
		return Trace{}, &zkerrors.FuncNotFoundError{Name: args.FuncName}
	}
	if len(args.Args) != len(fn.Type.Params) {
		return Trace{}, &zkerrors.FuncNotFoundError{Name: args.FuncName}
	}

	r := newRunner(args.Module)
	r.pushFrame(fn, args.Args)

	var result int64
	for {
		done, rv, err := r.step()
		if err != nil {
			metrics.TrapsEncountered.Inc()
			return Trace{}, err
		}
		if done {
			result = rv
			break
		}
	}
	r.finalize()

	metrics.StepsExecuted.Add(int64(len(r.trace)))
	metrics.MemoryAccessLogSize.Set(int64(r.RS.Len() + r.WS.Len()))
	tracerLog.Debug("execution trace built", "func", args.FuncName, "steps", len(r.trace), "result", result)

	return Trace{Rows: r.trace, IS: r.IS, FS: r.FS, Result: result}, nil
}

// TraceSliceValues names the half-open row range [Start, End) a shard of a
// longer trace is responsible for; used by pkg/shard to split a trace
// across independently-proven shards.
type TraceSliceValues struct {
	Start, End uint64
}

// Slice returns the rows in [s.Start, s.End), or an error if the range is
// empty or out of bounds.
func (t Trace) Slice(s TraceSliceValues) ([]WitnessVM, error) {
	if s.Start >= s.End {
		return nil, &zkerrors.InvalidTraceSliceError{Start: s.Start, End: s.End, Reason: "start >= end"}
	}
	if s.End > uint64(len(t.Rows)) {
		return nil, &zkerrors.InvalidTraceSliceError{Start: s.Start, End: s.End, Reason: "end beyond trace length"}
	}
	return t.Rows[s.Start:s.End], nil
}
