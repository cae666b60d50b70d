package wasmtrace

import "github.com/eth2030/zkwasm/pkg/opcode"

// MemTuple is one (address, value, timestamp) edit to the flattened address
// space (locals, globals, and linear memory all share one numbering; the
// operand stack is not memory-checked since its discipline is already
// fixed by the opcode's Shape at decode time). Every step produces zero,
// one, or two tuples: a read tuple and/or a write tuple, per the opcode.
type MemTuple struct {
	Addr uint64
	Val  uint64
	TS   uint64
}

// WitnessVM is one row of the execution trace: the full machine state
// before a step, the opcode class executed, and the memory tuples the step
// reads and writes. The switchboard circuit consumes exactly these fields
// to constrain one folding step.
type WitnessVM struct {
	PC       uint32
	SP       uint32
	PCAfter  uint32
	SPAfter  uint32
	Op       opcode.Tag
	Imm      int64
	Read     []MemTuple // RS contribution, in order
	Write    []MemTuple // WS contribution, in order
	Trapped  bool
	TrapInfo string

	// Op1/Op2/Op3 are the operands the step popped (Op1 is the operand
	// deepest in the stack for a binary op, Op3 is select's condition), and
	// Result is the value the step pushed. For local.set/local.tee/
	// global.set/store the value written to memory is carried in Op1, and
	// Result is left zero. The switchboard
	// circuit consumes these to constrain the opcode's arithmetic relation;
	// zero for opcode classes the circuit does not arithmetise.
	Op1, Op2, Op3, Result int64

	// WideLo/WideHi are the low and high 64 bits of the full 128-bit
	// product for I32Mul/I64Mul rows: operand_a * operand_b ==
	// WideLo + WideHi<<64. The switchboard step circuit re-derives this
	// decomposition in-field (the BN254 scalar field is wide enough that
	// no field overflow occurs for 64-bit operands) rather than trusting
	// the mod-2^64 result the interpreter pushes; zero for every other
	// opcode class.
	WideLo, WideHi uint64
}

// Multiset is the commitment-friendly representation of IS/WS/RS/FS: a
// slice of tuples whose fingerprint the memory-consistency engine folds
// into a running product. Order never matters for correctness, only for
// determinism of replay.
type Multiset []MemTuple

// Append adds a tuple and returns the (possibly reallocated) multiset, in
// the append-friendly style the interpreter uses when building IS/WS/RS/FS
// incrementally.
func (m Multiset) Append(t MemTuple) Multiset {
	return append(m, t)
}

// Len reports how many tuples the multiset carries.
func (m Multiset) Len() int { return len(m) }
