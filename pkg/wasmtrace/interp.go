package wasmtrace

import (
	"math/bits"
	"sort"

	"github.com/holiman/uint256"

	"github.com/eth2030/zkwasm/pkg/opcode"
	"github.com/eth2030/zkwasm/pkg/zkerrors"
)

// frameWindow reserves this many addresses for one call frame's locals and
// operand stack. Test fixtures never come close to exhausting it; a real
// prover would size this from the module's validated max stack depth.
const frameWindow = 1 << 16

// callFrame is one activation record on the interpreter's explicit call
// stack. Using an explicit stack, rather than Go recursion, keeps the step
// loop uniform across Call/Return so every step still produces exactly one
// WitnessVM row.
type callFrame struct {
	fn     *Function
	pc     int
	base   uint64 // address-space base for this invocation's locals+stack
	locals []int64
	stack  []int64
	sp     int // operand stack depth, mirrors len(stack)
}

func (f *callFrame) localAddr(i int64) uint64 { return f.base + uint64(i) }

func (f *callFrame) push(v int64) { f.stack = append(f.stack, v); f.sp = len(f.stack) }
func (f *callFrame) pop() int64 {
	v := f.stack[len(f.stack)-1]
	f.stack = f.stack[:len(f.stack)-1]
	f.sp = len(f.stack)
	return v
}
func (f *callFrame) peek() int64 { return f.stack[len(f.stack)-1] }

// runner carries the state shared across every step of one execution_trace
// call: the module, the call stack, the flattened memory-consistency state
// (current values + timestamps), and the accumulating IS/WS/RS/FS
// multisets.
type runner struct {
	mod *Module

	frames []*callFrame

	globalsBase uint64
	memBase     uint64
	nextFrame   uint64
	clock       uint64

	cur map[uint64]MemTuple // current (val, ts) per touched address
	IS  Multiset
	FS  Multiset
	RS  Multiset
	WS  Multiset

	trace []WitnessVM
}

func newRunner(mod *Module) *runner {
	r := &runner{
		mod:         mod,
		globalsBase: 0,
		cur:         make(map[uint64]MemTuple),
	}
	r.memBase = uint64(len(mod.Globals))
	r.nextFrame = r.memBase + uint64(mod.MemoryLen)*(65536/8) + 1
	for i, g := range mod.Globals {
		addr := r.globalsBase + uint64(i)
		t := MemTuple{Addr: addr, Val: uint64(g.Init), TS: 0}
		r.cur[addr] = t
		r.IS = r.IS.Append(t)
	}
	return r
}

// pushFrame allocates a fresh address-space window for fn's invocation and
// seeds every local slot (params, then declared locals) into the
// memory-checking map with a ZeroWrite pseudo-step: params get their
// argument value, declared locals get 0. Without this, the first LocalGet
// of a parameter would find nothing in r.cur and seed an IS entry of 0,
// silently losing the caller-supplied argument.
func (r *runner) pushFrame(fn *Function, args []int64) *callFrame {
	f := &callFrame{fn: fn, base: r.nextFrame}
	r.nextFrame += frameWindow
	numLocals := len(fn.Type.Params) + len(fn.Locals)
	f.locals = make([]int64, numLocals)
	copy(f.locals, args)
	r.frames = append(r.frames, f)

	for i := 0; i < numLocals; i++ {
		var v int64
		if i < len(args) {
			v = args[i]
		}
		t := r.writeTuple(f.localAddr(int64(i)), uint64(v))
		r.trace = append(r.trace, WitnessVM{
			PC:      uint32(f.pc),
			SP:      uint32(f.sp),
			PCAfter: uint32(f.pc),
			SPAfter: uint32(f.sp),
			Op:      opcode.ZeroWrite,
			Write:   []MemTuple{t},
		})
	}
	return f
}

// readTuple implements the offline-checking read rule: the old (value,
// timestamp) goes to RS, then the clock advances and the same value is
// re-stamped into WS (and FS, via r.cur) at the new timestamp. This keeps
// every touched address's timestamp strictly monotone across RS union WS,
// even when the access never changes the value.
func (r *runner) readTuple(addr uint64) MemTuple {
	old, ok := r.cur[addr]
	if !ok {
		old = MemTuple{Addr: addr, Val: 0, TS: 0}
		r.cur[addr] = old
		r.IS = r.IS.Append(old)
	}
	r.RS = r.RS.Append(old)

	r.clock++
	t := MemTuple{Addr: addr, Val: old.Val, TS: r.clock}
	r.cur[addr] = t
	r.WS = r.WS.Append(t)
	return old
}

// writeTuple implements the offline-checking write rule: same as
// readTuple, except the re-stamped WS/FS entry carries the new value
// instead of the old one. It also ensures addr has an IS entry, since every
// address ever written must also appear in the initial-state multiset
// (with its value before this write).
func (r *runner) writeTuple(addr uint64, val uint64) MemTuple {
	old, ok := r.cur[addr]
	if !ok {
		old = MemTuple{Addr: addr, Val: 0, TS: 0}
		r.cur[addr] = old
		r.IS = r.IS.Append(old)
	}
	r.RS = r.RS.Append(old)

	r.clock++
	t := MemTuple{Addr: addr, Val: val, TS: r.clock}
	r.cur[addr] = t
	r.WS = r.WS.Append(t)
	return t
}

// finalize snapshots every touched address's last tuple into FS. Called
// once execution completes. IS and FS are then sorted by address so the
// scan-fold circuit can pair them positionally (IS[i].Addr == FS[i].Addr):
// IS grows in first-touch order and FS walks r.cur, a Go map, so neither
// is address-ordered on its own.
func (r *runner) finalize() {
	for _, t := range r.cur {
		r.FS = r.FS.Append(t)
	}
	sort.Slice(r.IS, func(i, j int) bool { return r.IS[i].Addr < r.IS[j].Addr })
	sort.Slice(r.FS, func(i, j int) bool { return r.FS[i].Addr < r.FS[j].Addr })
}

// step executes exactly one lowered instruction on the top frame and
// appends the resulting WitnessVM row. It returns done=true once the
// top-level function has returned.
func (r *runner) step() (done bool, result int64, err error) {
	f := r.frames[len(r.frames)-1]
	if f.pc >= len(f.fn.Code) {
		return true, returnValue(f), nil
	}
	in := f.fn.Code[f.pc]
	row := WitnessVM{PC: uint32(f.pc), SP: uint32(f.sp), Op: in.Op, Imm: in.Imm}
	nextPC := f.pc + 1

	switch in.Op {
	case opcode.Unreachable:
		return false, 0, &zkerrors.TrapError{PC: row.PC, Reason: "unreachable instruction"}

	case opcode.NoOp:
		// no state change

	case opcode.ConstI32, opcode.ConstI64:
		f.push(in.Imm)
		row.Result = in.Imm

	case opcode.LocalGet:
		addr := f.localAddr(in.Imm)
		t := r.readTuple(addr)
		row.Read = []MemTuple{t}
		row.Result = int64(t.Val)
		f.push(int64(t.Val))

	case opcode.LocalSet, opcode.LocalTee:
		v := f.peek()
		row.Op1 = v
		if in.Op == opcode.LocalSet {
			f.pop()
		}
		addr := f.localAddr(in.Imm)
		t := r.writeTuple(addr, uint64(v))
		row.Write = []MemTuple{t}

	case opcode.GlobalGet:
		addr := r.globalsBase + uint64(in.Imm)
		t := r.readTuple(addr)
		row.Read = []MemTuple{t}
		row.Result = int64(t.Val)
		f.push(int64(t.Val))

	case opcode.GlobalSet:
		v := f.pop()
		row.Op1 = v
		addr := r.globalsBase + uint64(in.Imm)
		t := r.writeTuple(addr, uint64(v))
		row.Write = []MemTuple{t}

	case opcode.Eqz:
		v := f.pop()
		row.Op1 = v
		row.Result = boolInt(v == 0)
		f.push(row.Result)

	case opcode.I32Clz, opcode.I64Clz, opcode.I32Ctz, opcode.I64Ctz,
		opcode.I32Popcnt, opcode.I64Popcnt:
		v := f.pop()
		row.Op1 = v
		row.Result = aluUnary(in.Op, v)
		f.push(row.Result)

	case opcode.I32Add, opcode.I32Sub, opcode.I32Mul, opcode.I32DivS, opcode.I32DivU,
		opcode.I32RemS, opcode.I32RemU, opcode.I32And, opcode.I32Or, opcode.I32Xor,
		opcode.I32Shl, opcode.I32ShrS, opcode.I32ShrU, opcode.I32Rotl, opcode.I32Rotr,
		opcode.I64Add, opcode.I64Sub, opcode.I64Mul, opcode.I64DivS, opcode.I64DivU,
		opcode.I64RemS, opcode.I64RemU, opcode.I64And, opcode.I64Or, opcode.I64Xor,
		opcode.I64Shl, opcode.I64ShrS, opcode.I64ShrU, opcode.I64Rotl, opcode.I64Rotr:
		b := f.pop()
		a := f.pop()
		if (in.Op == opcode.I32DivS || in.Op == opcode.I32DivU || in.Op == opcode.I32RemS || in.Op == opcode.I32RemU ||
			in.Op == opcode.I64DivS || in.Op == opcode.I64DivU || in.Op == opcode.I64RemS || in.Op == opcode.I64RemU) && b == 0 {
			return false, 0, &zkerrors.TrapError{PC: row.PC, Reason: "integer divide by zero"}
		}
		if in.Op == opcode.I32Mul || in.Op == opcode.I64Mul {
			is64 := opcode.Is64(in.Op)
			row.WideLo, row.WideHi = wideMul(maskWidth64(a, is64), maskWidth64(b, is64))
		}
		row.Op1, row.Op2 = a, b
		row.Result = aluBinary(in.Op, a, b)
		f.push(row.Result)

	case opcode.Eq, opcode.Ne, opcode.LtS, opcode.LtU, opcode.GtS, opcode.GtU,
		opcode.LeS, opcode.LeU, opcode.GeS, opcode.GeU:
		b := f.pop()
		a := f.pop()
		row.Op1, row.Op2 = a, b
		row.Result = compare(in.Op, a, b)
		f.push(row.Result)

	case opcode.Select:
		c := f.pop()
		b := f.pop()
		a := f.pop()
		row.Op1, row.Op2, row.Op3 = a, b, c
		if c != 0 {
			row.Result = a
		} else {
			row.Result = b
		}
		f.push(row.Result)

	case opcode.Drop:
		f.pop()

	case opcode.Load:
		addrOperand := f.pop()
		cell := r.memBase + (uint64(addrOperand)+uint64(in.Offset))>>3
		t := r.readTuple(cell)
		row.Read = []MemTuple{t}
		row.Result = maskWidth(int64(t.Val), in.Imm2)
		f.push(row.Result)

	case opcode.Store:
		v := f.pop()
		row.Op1 = v
		addrOperand := f.pop()
		cell := r.memBase + (uint64(addrOperand)+uint64(in.Offset))>>3
		t := r.writeTuple(cell, uint64(v))
		row.Write = []MemTuple{t}

	case opcode.MemorySize:
		row.Result = int64(r.mod.MemoryLen)
		f.push(row.Result)

	case opcode.MemoryGrow:
		delta := f.pop()
		row.Op1 = delta
		old := r.mod.MemoryLen
		r.mod.MemoryLen += uint32(delta)
		row.Result = int64(old)
		f.push(row.Result)

	case opcode.Br:
		nextPC = int(in.Imm)

	case opcode.BrIfEqz:
		c := f.pop()
		row.Op1 = c
		if c == 0 {
			nextPC = int(in.Imm)
		}

	case opcode.BrIfNez:
		c := f.pop()
		row.Op1 = c
		if c != 0 {
			nextPC = int(in.Imm)
		}

	case opcode.BrTable:
		idx := f.pop()
		if idx < 0 || int(idx) >= len(in.Table)-1 {
			nextPC = int(in.Table[len(in.Table)-1])
		} else {
			nextPC = int(in.Table[idx])
		}

	case opcode.Return:
		nextPC = len(f.fn.Code)

	case opcode.Call:
		callee := r.mod.Functions[in.Imm]
		args := make([]int64, len(callee.Type.Params))
		for i := len(args) - 1; i >= 0; i-- {
			args[i] = f.pop()
		}
		f.pc = nextPC
		row.PCAfter, row.SPAfter = uint32(f.pc), uint32(f.sp)
		r.trace = append(r.trace, row)
		r.pushFrame(callee, args)
		return false, 0, nil

	default:
		return false, 0, &zkerrors.TrapError{PC: row.PC, Reason: "opcode not supported by this reference interpreter: " + in.Op.String()}
	}

	f.pc = nextPC
	row.PCAfter, row.SPAfter = uint32(f.pc), uint32(f.sp)
	r.trace = append(r.trace, row)

	if f.pc >= len(f.fn.Code) {
		rv := returnValue(f)
		r.frames = r.frames[:len(r.frames)-1]
		if len(r.frames) == 0 {
			return true, rv, nil
		}
		caller := r.frames[len(r.frames)-1]
		if len(f.fn.Type.Results) > 0 {
			caller.push(rv)
		}
	}
	return false, 0, nil
}

func returnValue(f *callFrame) int64 {
	if len(f.fn.Type.Results) == 0 || len(f.stack) == 0 {
		return 0
	}
	return f.stack[len(f.stack)-1]
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func compare(op opcode.Tag, a, b int64) int64 {
	switch op {
	case opcode.Eq:
		return boolInt(a == b)
	case opcode.Ne:
		return boolInt(a != b)
	case opcode.LtS:
		return boolInt(a < b)
	case opcode.LtU:
		return boolInt(uint64(a) < uint64(b))
	case opcode.GtS:
		return boolInt(a > b)
	case opcode.GtU:
		return boolInt(uint64(a) > uint64(b))
	case opcode.LeS:
		return boolInt(a <= b)
	case opcode.LeU:
		return boolInt(uint64(a) <= uint64(b))
	case opcode.GeS:
		return boolInt(a >= b)
	case opcode.GeU:
		return boolInt(uint64(a) >= uint64(b))
	}
	return 0
}

func maskWidth(v int64, width int64) int64 {
	if width == 4 {
		return int64(uint32(v))
	}
	return v
}

// wideMul returns the low and high 64 bits of the full 128-bit product of
// a and b: a*b == lo + hi<<64. Computed via uint256.Int rather than two
// uint64 multiplies plus manual carry propagation, since the switchboard
// circuit re-derives the same decomposition as a field identity and this
// keeps the native and in-circuit computations visibly the same shape.
func wideMul(a, b uint64) (lo, hi uint64) {
	product := new(uint256.Int).Mul(uint256.NewInt(a), uint256.NewInt(b))
	lo = product.Uint64()
	hi = new(uint256.Int).Rsh(product, 64).Uint64()
	return lo, hi
}

// aluBinary implements the integer ALU classes shared by i32 and i64; the
// width is carried by the tag range (Is64), so both sizes share one
// implementation and differ only in the truncation applied on push.
func aluBinary(op opcode.Tag, a, b int64) int64 {
	is64 := opcode.Is64(op)
	switch op {
	case opcode.I32Add, opcode.I64Add:
		return trunc(a+b, is64)
	case opcode.I32Sub, opcode.I64Sub:
		return trunc(a-b, is64)
	case opcode.I32Mul, opcode.I64Mul:
		return trunc(a*b, is64)
	case opcode.I32DivS, opcode.I64DivS:
		return trunc(a/b, is64)
	case opcode.I32DivU, opcode.I64DivU:
		return trunc(int64(uint64(a)/uint64(b)), is64)
	case opcode.I32RemS, opcode.I64RemS:
		return trunc(a%b, is64)
	case opcode.I32RemU, opcode.I64RemU:
		return trunc(int64(uint64(a)%uint64(b)), is64)
	case opcode.I32And, opcode.I64And:
		return a & b
	case opcode.I32Or, opcode.I64Or:
		return a | b
	case opcode.I32Xor, opcode.I64Xor:
		return a ^ b
	case opcode.I32Shl, opcode.I64Shl:
		return trunc(a<<(uint64(b)&shiftMask(is64)), is64)
	case opcode.I32ShrS, opcode.I64ShrS:
		return a >> (uint64(b) & shiftMask(is64))
	case opcode.I32ShrU, opcode.I64ShrU:
		if is64 {
			return int64(uint64(a) >> (uint64(b) & 63))
		}
		return int64(uint32(a) >> (uint64(b) & 31))
	case opcode.I32Rotl:
		return int64(bits.RotateLeft32(uint32(a), int(b)))
	case opcode.I64Rotl:
		return int64(bits.RotateLeft64(uint64(a), int(b)))
	case opcode.I32Rotr:
		return int64(bits.RotateLeft32(uint32(a), -int(b)))
	case opcode.I64Rotr:
		return int64(bits.RotateLeft64(uint64(a), -int(b)))
	}
	return 0
}

func aluUnary(op opcode.Tag, a int64) int64 {
	switch op {
	case opcode.I32Clz:
		return int64(bits.LeadingZeros32(uint32(a)))
	case opcode.I64Clz:
		return int64(bits.LeadingZeros64(uint64(a)))
	case opcode.I32Ctz:
		return int64(bits.TrailingZeros32(uint32(a)))
	case opcode.I64Ctz:
		return int64(bits.TrailingZeros64(uint64(a)))
	case opcode.I32Popcnt:
		return int64(bits.OnesCount32(uint32(a)))
	case opcode.I64Popcnt:
		return int64(bits.OnesCount64(uint64(a)))
	}
	return 0
}

func trunc(v int64, is64 bool) int64 {
	if is64 {
		return v
	}
	return int64(int32(v))
}

func shiftMask(is64 bool) uint64 {
	if is64 {
		return 63
	}
	return 31
}

// maskWidth64 reduces v's sign-extended int64 form to the unsigned bit
// pattern its declared width actually holds: the low 32 bits, zero-extended,
// for an i32 value (sign extension never touches those bits, so uint32(v)
// already carries the exact i32 pattern), or the raw 64-bit reinterpretation
// for an i64 value.
func maskWidth64(v int64, is64 bool) uint64 {
	if is64 {
		return uint64(v)
	}
	return uint64(uint32(v))
}
