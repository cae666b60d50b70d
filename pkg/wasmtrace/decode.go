package wasmtrace

import (
	"github.com/eth2030/zkwasm/pkg/opcode"
	"github.com/eth2030/zkwasm/pkg/zkerrors"
)

const (
	magic   = 0x6d736100 // "\0asm"
	version = 1

	secType     = 1
	secFunction = 3
	secMemory   = 5
	secGlobal   = 6
	secExport   = 7
	secCode     = 10
)

// raw Wasm opcodes this decoder understands. Unhandled opcodes decode to a
// WasmDecodeError rather than silently producing a wrong trace.
const (
	wUnreachable = 0x00
	wNop         = 0x01
	wBlock       = 0x02
	wLoop        = 0x03
	wIf          = 0x04
	wElse        = 0x05
	wEnd         = 0x0b
	wBr          = 0x0c
	wBrIf        = 0x0d
	wBrTable     = 0x0e
	wReturn      = 0x0f
	wCall        = 0x10
	wCallInd     = 0x11
	wDrop        = 0x1a
	wSelect      = 0x1b
	wLocalGet    = 0x20
	wLocalSet    = 0x21
	wLocalTee    = 0x22
	wGlobalGet   = 0x23
	wGlobalSet   = 0x24
	wI32Load     = 0x28
	wI64Load     = 0x29
	wI32Store    = 0x36
	wI64Store    = 0x37
	wMemSize     = 0x3f
	wMemGrow     = 0x40
	wI32Const    = 0x41
	wI64Const    = 0x42
	wI32Eqz      = 0x45
	wI32Eq       = 0x46
	wI32Ne       = 0x47
	wI32LtS      = 0x48
	wI32LtU      = 0x49
	wI32GtS      = 0x4a
	wI32GtU      = 0x4b
	wI32LeS      = 0x4c
	wI32LeU      = 0x4d
	wI32GeS      = 0x4e
	wI32GeU      = 0x4f
	wI64Eqz      = 0x50
	wI64Eq       = 0x51
	wI64Ne       = 0x52
	wI64LtS      = 0x53
	wI64LtU      = 0x54
	wI64GtS      = 0x55
	wI64GtU      = 0x56
	wI64LeS      = 0x57
	wI64LeU      = 0x58
	wI64GeS      = 0x59
	wI64GeU      = 0x5a
	wI32Clz      = 0x67
	wI32Ctz      = 0x68
	wI32Popcnt   = 0x69
	wI32Add      = 0x6a
	wI32Sub      = 0x6b
	wI32Mul      = 0x6c
	wI32DivS     = 0x6d
	wI32DivU     = 0x6e
	wI32RemS     = 0x6f
	wI32RemU     = 0x70
	wI32And      = 0x71
	wI32Or       = 0x72
	wI32Xor      = 0x73
	wI32Shl      = 0x74
	wI32ShrS     = 0x75
	wI32ShrU     = 0x76
	wI32Rotl     = 0x77
	wI32Rotr     = 0x78
	wI64Clz      = 0x79
	wI64Ctz      = 0x7a
	wI64Popcnt   = 0x7b
	wI64Add      = 0x7c
	wI64Sub      = 0x7d
	wI64Mul      = 0x7e
	wI64DivS     = 0x7f
	wI64DivU     = 0x80
	wI64RemS     = 0x81
	wI64RemU     = 0x82
	wI64And      = 0x83
	wI64Or       = 0x84
	wI64Xor      = 0x85
	wI64Shl      = 0x86
	wI64ShrS     = 0x87
	wI64ShrU     = 0x88
	wI64Rotl     = 0x89
	wI64Rotr     = 0x8a
)

var simpleOp = map[byte]opcode.Tag{
	wUnreachable: opcode.Unreachable,
	wI32Eqz:      opcode.Eqz,
	wI32Eq:       opcode.Eq,
	wI32Ne:       opcode.Ne,
	wI32LtS:      opcode.LtS,
	wI32LtU:      opcode.LtU,
	wI32GtS:      opcode.GtS,
	wI32GtU:      opcode.GtU,
	wI32LeS:      opcode.LeS,
	wI32LeU:      opcode.LeU,
	wI32GeS:      opcode.GeS,
	wI32GeU:      opcode.GeU,
	wI64Eqz:      opcode.Eqz,
	wI64Eq:       opcode.Eq,
	wI64Ne:       opcode.Ne,
	wI64LtS:      opcode.LtS,
	wI64LtU:      opcode.LtU,
	wI64GtS:      opcode.GtS,
	wI64GtU:      opcode.GtU,
	wI64LeS:      opcode.LeS,
	wI64LeU:      opcode.LeU,
	wI64GeS:      opcode.GeS,
	wI64GeU:      opcode.GeU,
	wI32Clz:      opcode.I32Clz,
	wI32Ctz:      opcode.I32Ctz,
	wI32Popcnt:   opcode.I32Popcnt,
	wI32Add:      opcode.I32Add,
	wI32Sub:      opcode.I32Sub,
	wI32Mul:      opcode.I32Mul,
	wI32DivS:     opcode.I32DivS,
	wI32DivU:     opcode.I32DivU,
	wI32RemS:     opcode.I32RemS,
	wI32RemU:     opcode.I32RemU,
	wI32And:      opcode.I32And,
	wI32Or:       opcode.I32Or,
	wI32Xor:      opcode.I32Xor,
	wI32Shl:      opcode.I32Shl,
	wI32ShrS:     opcode.I32ShrS,
	wI32ShrU:     opcode.I32ShrU,
	wI32Rotl:     opcode.I32Rotl,
	wI32Rotr:     opcode.I32Rotr,
	wI64Clz:      opcode.I64Clz,
	wI64Ctz:      opcode.I64Ctz,
	wI64Popcnt:   opcode.I64Popcnt,
	wI64Add:      opcode.I64Add,
	wI64Sub:      opcode.I64Sub,
	wI64Mul:      opcode.I64Mul,
	wI64DivS:     opcode.I64DivS,
	wI64DivU:     opcode.I64DivU,
	wI64RemS:     opcode.I64RemS,
	wI64RemU:     opcode.I64RemU,
	wI64And:      opcode.I64And,
	wI64Or:       opcode.I64Or,
	wI64Xor:      opcode.I64Xor,
	wI64Shl:      opcode.I64Shl,
	wI64ShrS:     opcode.I64ShrS,
	wI64ShrU:     opcode.I64ShrU,
	wI64Rotl:     opcode.I64Rotl,
	wI64Rotr:     opcode.I64Rotr,
	wDrop:        opcode.Drop,
	wSelect:      opcode.Select,
	wReturn:      opcode.Return,
	wMemSize:     opcode.MemorySize,
	wMemGrow:     opcode.MemoryGrow,
}

// Decode parses a binary Wasm module and lowers every function body's
// control flow to a flat instruction stream with resolved branch targets.
// Only the subset of Wasm 1.0 this core's switchboard understands is
// accepted: single-result functions, no multi-value blocks, no tables of
// funcrefs beyond call_indirect's type check.
func Decode(buf []byte) (*Module, error) {
	r := &byteReader{buf: buf}

	hdr, err := r.bytes(4)
	if err != nil {
		return nil, &zkerrors.WasmDecodeError{Reason: "truncated header", Err: err}
	}
	if uint32(hdr[0])|uint32(hdr[1])<<8|uint32(hdr[2])<<16|uint32(hdr[3])<<24 != magic {
		return nil, &zkerrors.WasmDecodeError{Reason: "bad magic"}
	}
	ver, err := r.bytes(4)
	if err != nil {
		return nil, &zkerrors.WasmDecodeError{Reason: "truncated version", Err: err}
	}
	if uint32(ver[0])|uint32(ver[1])<<8|uint32(ver[2])<<16|uint32(ver[3])<<24 != version {
		return nil, &zkerrors.WasmDecodeError{Reason: "unsupported version"}
	}

	m := &Module{Exports: make(map[string]uint32)}
	var funcTypeIdx []uint32
	var codeBodies [][]byte

	for !r.done() {
		id, err := r.byte()
		if err != nil {
			return nil, &zkerrors.WasmDecodeError{Reason: "truncated section id", Err: err}
		}
		size, err := r.uleb128()
		if err != nil {
			return nil, &zkerrors.WasmDecodeError{Reason: "truncated section size", Err: err}
		}
		body, err := r.bytes(int(size))
		if err != nil {
			return nil, &zkerrors.WasmDecodeError{Reason: "truncated section body", Err: err}
		}
		sr := &byteReader{buf: body}

		switch id {
		case secType:
			n, err := sr.uleb128()
			if err != nil {
				return nil, &zkerrors.WasmDecodeError{Reason: "bad type section", Err: err}
			}
			for i := uint64(0); i < n; i++ {
				ft, err := decodeFuncType(sr)
				if err != nil {
					return nil, err
				}
				m.Types = append(m.Types, ft)
			}
		case secFunction:
			n, err := sr.uleb128()
			if err != nil {
				return nil, &zkerrors.WasmDecodeError{Reason: "bad function section", Err: err}
			}
			for i := uint64(0); i < n; i++ {
				idx, err := sr.uleb128()
				if err != nil {
					return nil, &zkerrors.WasmDecodeError{Reason: "bad function type index", Err: err}
				}
				funcTypeIdx = append(funcTypeIdx, uint32(idx))
			}
		case secMemory:
			n, err := sr.uleb128()
			if err != nil {
				return nil, &zkerrors.WasmDecodeError{Reason: "bad memory section", Err: err}
			}
			if n > 0 {
				if _, err := sr.byte(); err != nil { // limits flags
					return nil, &zkerrors.WasmDecodeError{Reason: "bad memory limits", Err: err}
				}
				min, err := sr.uleb128()
				if err != nil {
					return nil, &zkerrors.WasmDecodeError{Reason: "bad memory min", Err: err}
				}
				m.MemoryLen = uint32(min)
			}
		case secGlobal:
			n, err := sr.uleb128()
			if err != nil {
				return nil, &zkerrors.WasmDecodeError{Reason: "bad global section", Err: err}
			}
			for i := uint64(0); i < n; i++ {
				g, err := decodeGlobal(sr)
				if err != nil {
					return nil, err
				}
				m.Globals = append(m.Globals, g)
			}
		case secExport:
			n, err := sr.uleb128()
			if err != nil {
				return nil, &zkerrors.WasmDecodeError{Reason: "bad export section", Err: err}
			}
			for i := uint64(0); i < n; i++ {
				name, err := sr.name()
				if err != nil {
					return nil, &zkerrors.WasmDecodeError{Reason: "bad export name", Err: err}
				}
				kind, err := sr.byte()
				if err != nil {
					return nil, &zkerrors.WasmDecodeError{Reason: "bad export kind", Err: err}
				}
				idx, err := sr.uleb128()
				if err != nil {
					return nil, &zkerrors.WasmDecodeError{Reason: "bad export index", Err: err}
				}
				if kind == 0x00 { // function export
					m.Exports[name] = uint32(idx)
				}
			}
		case secCode:
			n, err := sr.uleb128()
			if err != nil {
				return nil, &zkerrors.WasmDecodeError{Reason: "bad code section", Err: err}
			}
			for i := uint64(0); i < n; i++ {
				sz, err := sr.uleb128()
				if err != nil {
					return nil, &zkerrors.WasmDecodeError{Reason: "bad code entry size", Err: err}
				}
				b, err := sr.bytes(int(sz))
				if err != nil {
					return nil, &zkerrors.WasmDecodeError{Reason: "bad code entry body", Err: err}
				}
				codeBodies = append(codeBodies, b)
			}
		default:
			// Unknown or unhandled sections (imports, tables, elements,
			// data, custom) are skipped; this core has no imports and no
			// data segments in scope.
		}
	}

	if len(funcTypeIdx) != len(codeBodies) {
		return nil, &zkerrors.WasmDecodeError{Reason: "function and code section length mismatch"}
	}

	exportNames := make(map[uint32]string, len(m.Exports))
	for name, idx := range m.Exports {
		exportNames[idx] = name
	}

	for i, tidx := range funcTypeIdx {
		if int(tidx) >= len(m.Types) {
			return nil, &zkerrors.WasmDecodeError{Reason: "function type index out of range"}
		}
		fn, err := decodeCode(codeBodies[i], m.Types[tidx])
		if err != nil {
			return nil, err
		}
		fn.Name = exportNames[uint32(i)]
		m.Functions = append(m.Functions, fn)
	}

	return m, nil
}

func decodeValType(b byte) (ValType, error) {
	switch ValType(b) {
	case ValI32, ValI64, ValF32, ValF64, ValRef:
		return ValType(b), nil
	default:
		return 0, &zkerrors.WasmDecodeError{Reason: "unknown value type"}
	}
}

func decodeFuncType(r *byteReader) (FuncType, error) {
	form, err := r.byte()
	if err != nil || form != 0x60 {
		return FuncType{}, &zkerrors.WasmDecodeError{Reason: "expected func type form 0x60"}
	}
	np, err := r.uleb128()
	if err != nil {
		return FuncType{}, &zkerrors.WasmDecodeError{Reason: "bad param count", Err: err}
	}
	ft := FuncType{}
	for i := uint64(0); i < np; i++ {
		b, err := r.byte()
		if err != nil {
			return FuncType{}, &zkerrors.WasmDecodeError{Reason: "bad param type", Err: err}
		}
		vt, err := decodeValType(b)
		if err != nil {
			return FuncType{}, err
		}
		ft.Params = append(ft.Params, vt)
	}
	nr, err := r.uleb128()
	if err != nil {
		return FuncType{}, &zkerrors.WasmDecodeError{Reason: "bad result count", Err: err}
	}
	if nr > 1 {
		return FuncType{}, &zkerrors.WasmDecodeError{Reason: "multi-value results not supported"}
	}
	for i := uint64(0); i < nr; i++ {
		b, err := r.byte()
		if err != nil {
			return FuncType{}, &zkerrors.WasmDecodeError{Reason: "bad result type", Err: err}
		}
		vt, err := decodeValType(b)
		if err != nil {
			return FuncType{}, err
		}
		ft.Results = append(ft.Results, vt)
	}
	return ft, nil
}

func decodeGlobal(r *byteReader) (Global, error) {
	tb, err := r.byte()
	if err != nil {
		return Global{}, &zkerrors.WasmDecodeError{Reason: "bad global type", Err: err}
	}
	vt, err := decodeValType(tb)
	if err != nil {
		return Global{}, err
	}
	mb, err := r.byte()
	if err != nil {
		return Global{}, &zkerrors.WasmDecodeError{Reason: "bad global mutability", Err: err}
	}
	op, err := r.byte()
	if err != nil {
		return Global{}, &zkerrors.WasmDecodeError{Reason: "bad global init expr", Err: err}
	}
	var init int64
	switch op {
	case wI32Const:
		v, err := r.sleb128()
		if err != nil {
			return Global{}, &zkerrors.WasmDecodeError{Reason: "bad global init const", Err: err}
		}
		init = v
	case wI64Const:
		v, err := r.sleb128()
		if err != nil {
			return Global{}, &zkerrors.WasmDecodeError{Reason: "bad global init const", Err: err}
		}
		init = v
	default:
		return Global{}, &zkerrors.WasmDecodeError{Reason: "unsupported global initializer expression"}
	}
	if end, err := r.byte(); err != nil || end != wEnd {
		return Global{}, &zkerrors.WasmDecodeError{Reason: "missing end in global initializer"}
	}
	return Global{Type: vt, Mutable: mb == 1, Init: init}, nil
}

// patchSite names one branch target slot awaiting back-fill: either an
// instruction's Imm field (slot < 0) or one entry of a br_table's Table
// (slot >= 0).
type patchSite struct {
	instr int
	slot  int
}

// ctrlFrame tracks one open block/loop/if while lowering control flow to a
// flat instruction stream. patches records sites whose branch target must
// be back-filled once the frame's end pc is known.
type ctrlFrame struct {
	isLoop    bool
	loopStart int
	patches   []patchSite
	elsePatch int // index of the BrIfEqz emitted for `if`, or -1
}

// decodeCode lowers one function body's expression to a flat Instr stream.
// Blocks and ifs never appear in the output: br becomes Br, br_if becomes
// BrIfNez, br_table becomes BrTable, and `if` becomes BrIfEqz (plus a Br
// over the else arm), all with absolute indices into Code; no BrAdjust is
// emitted. Loops become a back-edge target recorded at their first instruction.
func decodeCode(body []byte, sig FuncType) (*Function, error) {
	r := &byteReader{buf: body}

	nLocalDecls, err := r.uleb128()
	if err != nil {
		return nil, &zkerrors.WasmDecodeError{Reason: "bad local decl count", Err: err}
	}
	fn := &Function{Type: sig}
	for i := uint64(0); i < nLocalDecls; i++ {
		cnt, err := r.uleb128()
		if err != nil {
			return nil, &zkerrors.WasmDecodeError{Reason: "bad local decl run", Err: err}
		}
		tb, err := r.byte()
		if err != nil {
			return nil, &zkerrors.WasmDecodeError{Reason: "bad local decl type", Err: err}
		}
		vt, err := decodeValType(tb)
		if err != nil {
			return nil, err
		}
		for j := uint64(0); j < cnt; j++ {
			fn.Locals = append(fn.Locals, vt)
		}
	}

	var frames []ctrlFrame
	emit := func(in Instr) int {
		fn.Code = append(fn.Code, in)
		return len(fn.Code) - 1
	}
	applyPatch := func(p patchSite, target int64) {
		if p.slot < 0 {
			fn.Code[p.instr].Imm = target
		} else {
			fn.Code[p.instr].Table[p.slot] = target
		}
	}

	for {
		op, err := r.byte()
		if err != nil {
			return nil, &zkerrors.WasmDecodeError{Reason: "truncated function body", Err: err}
		}

		switch op {
		case wBlock, wLoop, wIf:
			if _, err := r.byte(); err != nil { // block type, single-result only
				return nil, &zkerrors.WasmDecodeError{Reason: "bad block type", Err: err}
			}
			f := ctrlFrame{isLoop: op == wLoop, elsePatch: -1}
			if op == wLoop {
				f.loopStart = len(fn.Code)
			}
			if op == wIf {
				idx := emit(Instr{Op: opcode.BrIfEqz})
				f.elsePatch = idx
			}
			frames = append(frames, f)

		case wElse:
			if len(frames) == 0 || frames[len(frames)-1].elsePatch < 0 {
				return nil, &zkerrors.WasmDecodeError{Reason: "else without matching if"}
			}
			top := &frames[len(frames)-1]
			idx := emit(Instr{Op: opcode.Br})
			top.patches = append(top.patches, patchSite{instr: idx, slot: -1})
			fn.Code[top.elsePatch].Imm = int64(len(fn.Code))
			top.elsePatch = -1

		case wEnd:
			if len(frames) == 0 {
				// function-level end
				goto done
			}
			top := frames[len(frames)-1]
			if top.elsePatch >= 0 {
				fn.Code[top.elsePatch].Imm = int64(len(fn.Code))
			}
			for _, p := range top.patches {
				applyPatch(p, int64(len(fn.Code)))
			}
			frames = frames[:len(frames)-1]

		case wBr, wBrIf:
			depth, err := r.uleb128()
			if err != nil {
				return nil, &zkerrors.WasmDecodeError{Reason: "bad branch depth", Err: err}
			}
			if int(depth) >= len(frames) {
				return nil, &zkerrors.WasmDecodeError{Reason: "branch depth out of range"}
			}
			target := &frames[len(frames)-1-int(depth)]
			tag := opcode.Br
			if op == wBrIf {
				tag = opcode.BrIfNez
			}
			idx := emit(Instr{Op: tag})
			if target.isLoop {
				fn.Code[idx].Imm = int64(target.loopStart)
			} else {
				target.patches = append(target.patches, patchSite{instr: idx, slot: -1})
			}

		case wBrTable:
			n, err := r.uleb128()
			if err != nil {
				return nil, &zkerrors.WasmDecodeError{Reason: "bad br_table count", Err: err}
			}
			depths := make([]uint64, 0, n+1)
			for i := uint64(0); i < n; i++ {
				d, err := r.uleb128()
				if err != nil {
					return nil, &zkerrors.WasmDecodeError{Reason: "bad br_table target", Err: err}
				}
				depths = append(depths, d)
			}
			def, err := r.uleb128()
			if err != nil {
				return nil, &zkerrors.WasmDecodeError{Reason: "bad br_table default", Err: err}
			}
			depths = append(depths, def)
			idx := emit(Instr{Op: opcode.BrTable, Table: make([]int64, len(depths))})
			for i, d := range depths {
				if int(d) >= len(frames) {
					return nil, &zkerrors.WasmDecodeError{Reason: "br_table depth out of range"}
				}
				target := &frames[len(frames)-1-int(d)]
				if target.isLoop {
					fn.Code[idx].Table[i] = int64(target.loopStart)
				} else {
					target.patches = append(target.patches, patchSite{instr: idx, slot: i})
				}
			}

		case wReturn:
			emit(Instr{Op: opcode.Return})
		case wUnreachable:
			emit(Instr{Op: opcode.Unreachable})
		case wNop:
			emit(Instr{Op: opcode.NoOp})
		case wCall:
			idx, err := r.uleb128()
			if err != nil {
				return nil, &zkerrors.WasmDecodeError{Reason: "bad call index", Err: err}
			}
			emit(Instr{Op: opcode.Call, Imm: int64(idx)})
		case wCallInd:
			tidx, err := r.uleb128()
			if err != nil {
				return nil, &zkerrors.WasmDecodeError{Reason: "bad call_indirect type index", Err: err}
			}
			if _, err := r.byte(); err != nil { // table index, reserved 0x00
				return nil, &zkerrors.WasmDecodeError{Reason: "bad call_indirect table byte", Err: err}
			}
			emit(Instr{Op: opcode.CallIndirect, Imm: int64(tidx)})
		case wLocalGet, wLocalSet, wLocalTee:
			idx, err := r.uleb128()
			if err != nil {
				return nil, &zkerrors.WasmDecodeError{Reason: "bad local index", Err: err}
			}
			tag := opcode.LocalGet
			if op == wLocalSet {
				tag = opcode.LocalSet
			} else if op == wLocalTee {
				tag = opcode.LocalTee
			}
			emit(Instr{Op: tag, Imm: int64(idx)})
		case wGlobalGet, wGlobalSet:
			idx, err := r.uleb128()
			if err != nil {
				return nil, &zkerrors.WasmDecodeError{Reason: "bad global index", Err: err}
			}
			tag := opcode.GlobalGet
			if op == wGlobalSet {
				tag = opcode.GlobalSet
			}
			emit(Instr{Op: tag, Imm: int64(idx)})
		case wI32Load, wI64Load, wI32Store, wI64Store:
			align, err := r.uleb128()
			if err != nil {
				return nil, &zkerrors.WasmDecodeError{Reason: "bad mem align", Err: err}
			}
			off, err := r.uleb128()
			if err != nil {
				return nil, &zkerrors.WasmDecodeError{Reason: "bad mem offset", Err: err}
			}
			tag := opcode.Load
			width := int64(4)
			if op == wI32Store || op == wI64Store {
				tag = opcode.Store
			}
			if op == wI64Load || op == wI64Store {
				width = 8
			}
			emit(Instr{Op: tag, Imm2: width, Offset: uint32(off), Align: uint32(align)})
		case wI32Const:
			v, err := r.sleb128()
			if err != nil {
				return nil, &zkerrors.WasmDecodeError{Reason: "bad i32.const", Err: err}
			}
			emit(Instr{Op: opcode.ConstI32, Imm: v})
		case wI64Const:
			v, err := r.sleb128()
			if err != nil {
				return nil, &zkerrors.WasmDecodeError{Reason: "bad i64.const", Err: err}
			}
			emit(Instr{Op: opcode.ConstI64, Imm: v})
		case wMemSize, wMemGrow:
			if _, err := r.byte(); err != nil { // reserved 0x00
				return nil, &zkerrors.WasmDecodeError{Reason: "bad memory.size/grow reserved byte", Err: err}
			}
			tag := opcode.MemorySize
			if op == wMemGrow {
				tag = opcode.MemoryGrow
			}
			emit(Instr{Op: tag})
		default:
			tag, ok := simpleOp[op]
			if !ok {
				return nil, &zkerrors.WasmDecodeError{Reason: "unsupported opcode in function body"}
			}
			emit(Instr{Op: tag})
		}
	}

done:
	if len(frames) != 0 {
		return nil, &zkerrors.WasmDecodeError{Reason: "unbalanced block structure"}
	}
	return fn, nil
}
