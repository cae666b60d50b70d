package wasmtrace

import "github.com/eth2030/zkwasm/pkg/opcode"

// ValType is a Wasm value type. The float types are represented so
// signatures and locals that mention them decode, but the switchboard
// arithmetises only the integer types; reference types are carried opaquely.
type ValType byte

const (
	ValI32 ValType = 0x7f
	ValI64 ValType = 0x7e
	ValF32 ValType = 0x7d
	ValF64 ValType = 0x7c
	ValRef ValType = 0x70
)

// FuncType is a function signature: parameter types followed by result
// types. The reference interpreter supports at most one result, matching
// Wasm 1.0 (Wasm 1.0 MVP disallows multi-value returns).
type FuncType struct {
	Params  []ValType
	Results []ValType
}

// Instr is one lowered instruction in a function's flat instruction
// stream. Control flow has already been lowered to absolute jump targets
// within the same function (see decodeCode): the interpreter and the
// switchboard never need to understand nested blocks.
type Instr struct {
	Op     opcode.Tag
	Imm    int64 // const value / local or global index / branch target pc
	Imm2   int64 // secondary immediate (e.g. store/load byte width)
	Offset uint32
	Align  uint32
	Table  []int64 // br_table targets
}

// Function is one decoded and lowered function body.
type Function struct {
	Type    FuncType
	Locals  []ValType // locals beyond the parameters, in declaration order
	Code    []Instr
	Name    string // export name, if any; used only for CLI display
}

// Global is a single mutable or immutable global with a constant
// initializer (the only initializer expression form Wasm 1.0 allows for
// globals read by the step size of this core).
type Global struct {
	Type    ValType
	Mutable bool
	Init    int64
}

// Export names a function exported from the module.
type Export struct {
	Name    string
	FuncIdx uint32
}

// Module is a fully decoded and control-flow-lowered Wasm module, ready to
// be handed to the interpreter.
type Module struct {
	Types     []FuncType
	Functions []*Function
	Globals   []Global
	Exports   map[string]uint32
	MemoryLen uint32 // linear memory size, in 64 KiB Wasm pages (memory.size's unit)
}

// FuncByName resolves an exported function by name.
func (m *Module) FuncByName(name string) (*Function, uint32, bool) {
	idx, ok := m.Exports[name]
	if !ok {
		return nil, 0, false
	}
	if int(idx) >= len(m.Functions) {
		return nil, 0, false
	}
	return m.Functions[idx], idx, true
}
