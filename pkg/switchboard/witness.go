package switchboard

import (
	"github.com/eth2030/zkwasm/pkg/opcode"
	"github.com/eth2030/zkwasm/pkg/wasmtrace"
)

// maskOperand reduces v to the unsigned bit pattern the active opcode's
// width actually holds, mirroring wasmtrace's own maskWidth64: the
// interpreter keeps every value sign-extended into int64 regardless of its
// declared width, so an i32-width operand's low 32 bits already carry its
// exact bit pattern and only need zero-extending back out to a full
// uint64; an i64-width (or width-agnostic) operand is reinterpreted as-is.
func maskOperand(v int64, is64 bool) uint64 {
	if is64 {
		return uint64(v)
	}
	return uint64(uint32(v))
}

// FromRow converts one interpreter trace row into the step circuit's
// witness assignment. i32-width integer ALU opcodes (opcode.IsIntegerALU
// and not opcode.Is64) get their operands and result zero-extended; every other
// class keeps the interpreter's own 64-bit two's-complement encoding,
// which is what the ordering comparisons and the plain equality checks
// (eq/ne/eqz, local/global movement, load/store) are built to consume.
func FromRow(row wasmtrace.WitnessVM) StepWitness {
	is64 := opcode.Is64(row.Op)
	widthBound := opcode.IsIntegerALU(row.Op) && !is64

	mask := func(v int64) uint64 {
		if widthBound {
			return maskOperand(v, false)
		}
		return maskOperand(v, true)
	}

	w := StepWitness{
		PCBefore: row.PC,
		SPBefore: row.SP,
		PCAfter:  row.PCAfter,
		SPAfter:  row.SPAfter,
		Selector: Selector(row.Op),
		Imm:      mask(row.Imm),
		Op1:      mask(row.Op1),
		Op2:      mask(row.Op2),
		Op3:      mask(row.Op3),
		Result:   mask(row.Result),
		WideLo:   row.WideLo,
		WideHi:   row.WideHi,
		Quot:     0,
		Rem:      0,
		ReadAddr: 0, ReadVal: 0, ReadTS: 0,
		WriteAddr: 0, WriteVal: 0, WriteTS: 0,
	}

	if len(row.Read) > 0 {
		w.ReadAddr, w.ReadVal, w.ReadTS = row.Read[0].Addr, row.Read[0].Val, row.Read[0].TS
	}
	if len(row.Write) > 0 {
		w.WriteAddr, w.WriteVal, w.WriteTS = row.Write[0].Addr, row.Write[0].Val, row.Write[0].TS
	}

	if quot, rem, ok := divRemHint(row.Op, row.Op1, row.Op2); ok {
		w.Quot, w.Rem = quot, rem
	}

	return w
}

// divRemHint recomputes the quotient/remainder the switchboard's division
// gadgets need as a witnessed hint, from the same popped operands the
// interpreter already recorded — the circuit re-derives the opcode's
// pushed result from this hint rather than trusting aluBinary's.
func divRemHint(op opcode.Tag, a, b int64) (quot, rem uint64, ok bool) {
	switch op {
	case opcode.I32DivU, opcode.I32RemU:
		ua, ub := uint64(uint32(a)), uint64(uint32(b))
		if ub == 0 {
			return 0, 0, false
		}
		return ua / ub, ua % ub, true
	case opcode.I64DivU, opcode.I64RemU:
		ua, ub := uint64(a), uint64(b)
		if ub == 0 {
			return 0, 0, false
		}
		return ua / ub, ua % ub, true
	case opcode.I32DivS, opcode.I32RemS:
		sa, sb := int64(int32(a)), int64(int32(b))
		if sb == 0 {
			return 0, 0, false
		}
		q, r := sa/sb, sa%sb
		return absUnsigned(q, 32), absUnsigned(r, 32), true
	case opcode.I64DivS, opcode.I64RemS:
		if b == 0 {
			return 0, 0, false
		}
		q, r := a/b, a%b
		return absUnsigned(q, 64), absUnsigned(r, 64), true
	}
	return 0, 0, false
}

// absUnsigned returns |v|'s magnitude as an unsigned nbits-wide value; the
// circuit's signed division relation carries quotient and remainder as
// magnitudes and restores the sign separately.
func absUnsigned(v int64, nbits int) uint64 {
	if v >= 0 {
		return uint64(v)
	}
	if nbits == 32 {
		return uint64(uint32(-v))
	}
	return uint64(-v)
}

// FromRows converts a batch of trace rows into the step circuit covering
// that batch, in row order.
func FromRows(rows []wasmtrace.WitnessVM) *Circuit {
	c := &Circuit{Rows: make([]StepWitness, len(rows))}
	for i, row := range rows {
		c.Rows[i] = FromRow(row)
	}
	return c
}
