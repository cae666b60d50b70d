// Package switchboard implements the step circuit the execution-fold IVC
// folds once per Wasm instruction (or once per batch, when StepSize.Execution
// exceeds 1). One circuit handles every opcode class: a one-hot selector
// gates each class's relation so the constraint count never grows with the
// number of opcodes a module uses, unlike a design that swaps in a
// different circuit per opcode.
package switchboard

import (
	"math/big"

	"github.com/consensys/gnark/frontend"

	"github.com/eth2030/zkwasm/pkg/opcode"
)

// StepWitness is one row's public/private assignment to the step circuit.
// Gnark reflects this struct's exported fields; none carries a `gnark:"..."`
// tag, so PC/SP/the opcode selector and the memory tuples are all secret
// (gnark's default for an untagged field), with only the
// folding accumulator's public IO (not modeled here) crossing the
// public/private boundary.
type StepWitness struct {
	PCBefore frontend.Variable
	SPBefore frontend.Variable
	PCAfter  frontend.Variable
	SPAfter  frontend.Variable

	// Selector holds one frontend.Variable per opcode class, 1 at exactly
	// the executed opcode's index and 0 elsewhere. The circuit enforces
	// this at Define time; callers populate it from opcode.Tag via
	// Selector(tag).
	Selector [opcode.Count]frontend.Variable

	Imm frontend.Variable

	// Operands feeding the ALU/comparison gadgets. Stack-discipline opcodes
	// use Op1/Op2 as their two popped operands (Op2 unused when the shape
	// pops only one), Op3 as select's condition operand, and Result as the
	// pushed value. The classes whose tag fixes an i32 width encode their
	// operands and result zero-extended (uint64(uint32(v))) so the add/
	// sub/mul/bitwise/shift truncation relations can slice the low 32 bits
	// off a single 64-bit decomposition; every other class (i64-width ALU,
	// comparisons, memory movement) carries the interpreter's own 64-bit
	// two's-complement value (uint64(v)) unchanged, which is what the
	// ordering comparisons' sign-bias trick and the interpreter's own
	// int64 comparisons already agree on.
	Op1    frontend.Variable
	Op2    frontend.Variable
	Op3    frontend.Variable
	Result frontend.Variable

	// Quot/Rem are the witnessed quotient and remainder for the Div/Rem
	// classes: Op1 == Op2*Quot + Rem with 0 <= Rem < Op2 (unsigned, or
	// unsigned-on-magnitudes for the signed classes). Zero for every other
	// class.
	Quot, Rem frontend.Variable

	// Memory tuples: at most one read and one write per step for the
	// opcode classes the memcheck engine tracks (LocalGet/Set, GlobalGet/
	// Set, Load/Store). Addr/Val/TS are zero when the step's opcode class
	// does not touch memory.
	ReadAddr, ReadVal, ReadTS    frontend.Variable
	WriteAddr, WriteVal, WriteTS frontend.Variable

	// WideLo/WideHi are I32Mul/I64Mul's 128-bit product decomposition
	// (Op1*Op2 == WideLo + WideHi*2^64), witnessed outside the field via
	// wasmtrace.WitnessVM.WideLo/WideHi. Zero for every other class.
	WideLo, WideHi frontend.Variable
}

// Selector returns the one-hot assignment for tag, suitable for populating
// StepWitness.Selector when building a witness outside the circuit.
func Selector(tag opcode.Tag) [opcode.Count]frontend.Variable {
	var s [opcode.Count]frontend.Variable
	for i := range s {
		s[i] = 0
	}
	s[tag] = 1
	return s
}

// Circuit is the gnark frontend.Circuit for one (batch of) folding step(s).
// Rows is fixed at compile time by StepSize.Execution; a single-instruction
// step size uses Rows=1.
type Circuit struct {
	Rows []StepWitness
}

var _ frontend.Circuit = (*Circuit)(nil)

// Define wires the one-hot selector, the per-class relation table, and the
// (pc, sp) transition constraint for every row in the batch.
func (c *Circuit) Define(api frontend.API) error {
	for i := range c.Rows {
		row := &c.Rows[i]
		if err := assertOneHot(api, row.Selector[:]); err != nil {
			return err
		}
		if err := applyALU(api, row); err != nil {
			return err
		}
		if err := applyTransition(api, row); err != nil {
			return err
		}
	}
	return nil
}

// assertOneHot constrains sel to contain exactly one 1 and the rest 0: each
// entry is boolean, and their sum is 1. This is the switchboard's core
// gadget; every per-class relation below is gated by multiplying its
// constraint residual by the matching selector entry, so an inactive class
// contributes nothing regardless of what garbage values its Op1/Op2/Result
// fields hold.
func assertOneHot(api frontend.API, sel []frontend.Variable) error {
	sum := frontend.Variable(0)
	for _, s := range sel {
		api.AssertIsBoolean(s)
		sum = api.Add(sum, s)
	}
	api.AssertIsEqual(sum, 1)
	return nil
}

// gate returns residual multiplied by the selector entry for tag, so the
// constraint it feeds into api.AssertIsEqual(gated, 0) only bites when tag
// is the row's active opcode.
func gate(api frontend.API, row *StepWitness, tag opcode.Tag, residual frontend.Variable) frontend.Variable {
	return api.Mul(row.Selector[tag], residual)
}

var two64 = new(big.Int).Lsh(big.NewInt(1), 64)

func pow2Var(n int) *big.Int {
	return new(big.Int).Lsh(big.NewInt(1), uint(n))
}

// applyALU wires the arithmetic, comparison, and stack-movement relations
// for every opcode class this circuit knows about. assert gates a residual
// by its class's one-hot selector and asserts it zero directly (rather than
// summing many residuals into one running total): some classes below need
// more than one simultaneous constraint, and a summed total would let two
// nonzero residuals on the same active class cancel each other out.
func applyALU(api frontend.API, row *StepWitness) error {
	assert := func(tag opcode.Tag, residual frontend.Variable) {
		api.AssertIsEqual(gate(api, row, tag, residual), 0)
	}

	// Every operand reaches the circuit as an unsigned 64-bit bit pattern,
	// so decomposing Op1/Op2 to 64 bits is always a valid range check
	// regardless of which class is actually active on this row; every
	// relation below slices or recombines this single pair of
	// decompositions instead of re-decomposing a raw operand at a
	// narrower, class-specific width (which would reject rows whose
	// inactive classes carry a wider operand than the width being
	// checked).
	op1b := decompose64(api, row.Op1)
	op2b := decompose64(api, row.Op2)
	op1lo32, op2lo32 := op1b[:32], op2b[:32]

	// result == op1 + op2, truncated to the active width. sum never
	// exceeds 2^65 - 2 since each operand is < 2^64, so a 65-bit
	// decomposition is always safe.
	sumBits := decomposeN(api, api.Add(row.Op1, row.Op2), 65)
	assert(opcode.I32Add, api.Sub(row.Result, recompose(api, sumBits[:32])))
	assert(opcode.I64Add, api.Sub(row.Result, recompose(api, sumBits[:64])))

	// result == op1 - op2, truncated to the active width. Biasing by 2^64
	// keeps the decomposed value nonnegative; subtracting the bias back
	// out of the low bits recovers the correct wraparound difference.
	subBiased := api.Add(api.Sub(row.Op1, row.Op2), two64)
	subBits := decomposeN(api, subBiased, 65)
	assert(opcode.I32Sub, api.Sub(row.Result, recompose(api, subBits[:32])))
	assert(opcode.I64Sub, api.Sub(row.Result, recompose(api, subBits[:64])))

	// result == op1 * op2, truncated to the active width. WideLo/WideHi is
	// a prover-supplied 128-bit decomposition of the untruncated product;
	// both halves are range-checked to 64 bits (ruling out a forged
	// decomposition that wraps the field), bound to the actual operands,
	// and then WideLo itself supplies the truncated result.
	decompose64(api, row.WideHi)
	wideLoBits := decompose64(api, row.WideLo)
	wideProduct := api.Add(row.WideLo, api.Mul(row.WideHi, two64))
	mulActive := api.Add(row.Selector[opcode.I32Mul], row.Selector[opcode.I64Mul])
	api.AssertIsEqual(api.Mul(mulActive, api.Sub(wideProduct, api.Mul(row.Op1, row.Op2))), 0)
	assert(opcode.I32Mul, api.Sub(row.Result, recompose(api, wideLoBits[:32])))
	assert(opcode.I64Mul, api.Sub(row.Result, row.WideLo))

	// Bitwise and/or/xor: combine bit by bit, then truncate to the active
	// width the same way as add/sub/mul above.
	andBits := combineBits(api, op1b, op2b, func(x, y frontend.Variable) frontend.Variable { return bitAnd(api, x, y) })
	orBits := combineBits(api, op1b, op2b, func(x, y frontend.Variable) frontend.Variable { return bitOr(api, x, y) })
	xorBits := combineBits(api, op1b, op2b, func(x, y frontend.Variable) frontend.Variable { return bitXor(api, x, y) })
	assert(opcode.I32And, api.Sub(row.Result, recompose(api, andBits[:32])))
	assert(opcode.I64And, api.Sub(row.Result, recompose(api, andBits)))
	assert(opcode.I32Or, api.Sub(row.Result, recompose(api, orBits[:32])))
	assert(opcode.I64Or, api.Sub(row.Result, recompose(api, orBits)))
	assert(opcode.I32Xor, api.Sub(row.Result, recompose(api, xorBits[:32])))
	assert(opcode.I64Xor, api.Sub(row.Result, recompose(api, xorBits)))

	// Shifts and rotates: a barrel shifter over the active width's own bit
	// slice, masked by the low log2(width) bits of the shift-amount
	// operand — exactly amount mod width, which is how Wasm masks every
	// shift/rotate amount.
	amt32, amt64 := op2lo32[:5], op2b[:6]
	shl32 := barrelShift(api, op1lo32, amt32, false, false, 0)
	shl64 := barrelShift(api, op1b, amt64, false, false, 0)
	assert(opcode.I32Shl, api.Sub(row.Result, shl32))
	assert(opcode.I64Shl, api.Sub(row.Result, shl64))

	shru32 := barrelShift(api, op1lo32, amt32, true, false, 0)
	shru64 := barrelShift(api, op1b, amt64, true, false, 0)
	assert(opcode.I32ShrU, api.Sub(row.Result, shru32))
	assert(opcode.I64ShrU, api.Sub(row.Result, shru64))

	shrs32 := barrelShift(api, op1lo32, amt32, true, false, op1lo32[31])
	shrs64 := barrelShift(api, op1b, amt64, true, false, op1b[63])
	assert(opcode.I32ShrS, api.Sub(row.Result, shrs32))
	assert(opcode.I64ShrS, api.Sub(row.Result, shrs64))

	rotl32 := barrelShift(api, op1lo32, amt32, false, true, 0)
	rotl64 := barrelShift(api, op1b, amt64, false, true, 0)
	assert(opcode.I32Rotl, api.Sub(row.Result, rotl32))
	assert(opcode.I64Rotl, api.Sub(row.Result, rotl64))

	rotr32 := barrelShift(api, op1lo32, amt32, true, true, 0)
	rotr64 := barrelShift(api, op1b, amt64, true, true, 0)
	assert(opcode.I32Rotr, api.Sub(row.Result, rotr32))
	assert(opcode.I64Rotr, api.Sub(row.Result, rotr64))

	// Bit-counting classes, again computed once per width over the same
	// decompositions.
	assert(opcode.I32Popcnt, api.Sub(row.Result, popcountBits(api, op1lo32)))
	assert(opcode.I64Popcnt, api.Sub(row.Result, popcountBits(api, op1b)))
	assert(opcode.I32Ctz, api.Sub(row.Result, ctzBits(api, op1lo32)))
	assert(opcode.I64Ctz, api.Sub(row.Result, ctzBits(api, op1b)))
	assert(opcode.I32Clz, api.Sub(row.Result, clzBits(api, op1lo32)))
	assert(opcode.I64Clz, api.Sub(row.Result, clzBits(api, op1b)))

	// Unsigned division/remainder. The numeric relation and the Rem<Op2
	// range check never depend on which width is active: both operands
	// and the quotient are always < 2^64, and the true quotient of a
	// 64-bit-bounded division is itself always < 2^64 (range-checked via
	// decompose64 to rule out a quotient that forges the relation by
	// wrapping the field).
	decompose64(api, row.Quot)
	remLtOp2 := unsignedLess(api, row.Rem, row.Op2, 64)
	unsignedRel := api.Sub(row.Op1, api.Add(api.Mul(row.Op2, row.Quot), row.Rem))
	for _, t := range []opcode.Tag{opcode.I32DivU, opcode.I64DivU} {
		assert(t, unsignedRel)
		assert(t, api.Sub(row.Result, row.Quot))
		assert(t, api.Sub(1, remLtOp2))
	}
	for _, t := range []opcode.Tag{opcode.I32RemU, opcode.I64RemU} {
		assert(t, unsignedRel)
		assert(t, api.Sub(row.Result, row.Rem))
		assert(t, api.Sub(1, remLtOp2))
	}

	// Signed division/remainder, one width at a time: split each operand
	// into sign and magnitude, divide the magnitudes unsigned, then
	// re-apply Wasm's sign rule (quotient sign is the XOR of the operand
	// signs, remainder takes the dividend's sign).
	applySignedDivRem(api, row, op1lo32, op2lo32, 32, opcode.I32DivS, opcode.I32RemS)
	applySignedDivRem(api, row, op1b, op2b, 64, opcode.I64DivS, opcode.I64RemS)

	// const.i32 / const.i64: result == imm
	assert(opcode.ConstI32, api.Sub(row.Result, row.Imm))
	assert(opcode.ConstI64, api.Sub(row.Result, row.Imm))

	// local.get / global.get: result == the value read from memory
	assert(opcode.LocalGet, api.Sub(row.Result, row.ReadVal))
	assert(opcode.GlobalGet, api.Sub(row.Result, row.ReadVal))

	// local.set / global.set / store: the written value equals the popped
	// operand (Op1).
	assert(opcode.LocalSet, api.Sub(row.WriteVal, row.Op1))
	assert(opcode.GlobalSet, api.Sub(row.WriteVal, row.Op1))
	assert(opcode.Store, api.Sub(row.WriteVal, row.Op1))

	// load: result equals the value read from memory.
	assert(opcode.Load, api.Sub(row.Result, row.ReadVal))

	// eq/ne/eqz hold regardless of the active width: a value is the
	// field-element zero iff the narrower value it represents is also
	// zero, whatever width that value's own convention encodes it at.
	diff := api.Sub(row.Op1, row.Op2)
	isZero := api.IsZero(diff)
	assert(opcode.Eq, api.Sub(row.Result, isZero))
	assert(opcode.Ne, api.Sub(row.Result, api.Sub(1, isZero)))
	assert(opcode.Eqz, api.Sub(row.Result, api.IsZero(row.Op1)))

	// Ordering comparisons share one tag across both i32 and i64 sources
	// (opcode.Tag has no separate width for them): both operands carry
	// the interpreter's own 64-bit two's-complement value regardless of
	// the source width, the same convention the native interpreter's
	// compare() relies on, so a single 64-bit-wide comparison is correct
	// for either source width without needing to know which one it was.
	ltU := unsignedLess(api, row.Op1, row.Op2, 64)
	gtU := unsignedLess(api, row.Op2, row.Op1, 64)

	biasedA, biasedB := flipTopBit(api, op1b), flipTopBit(api, op2b)
	ltS := unsignedLess(api, biasedA, biasedB, 64)
	gtS := unsignedLess(api, biasedB, biasedA, 64)

	assert(opcode.LtU, api.Sub(row.Result, ltU))
	assert(opcode.GtU, api.Sub(row.Result, gtU))
	assert(opcode.LeU, api.Sub(row.Result, api.Sub(1, gtU)))
	assert(opcode.GeU, api.Sub(row.Result, api.Sub(1, ltU)))
	assert(opcode.LtS, api.Sub(row.Result, ltS))
	assert(opcode.GtS, api.Sub(row.Result, gtS))
	assert(opcode.LeS, api.Sub(row.Result, api.Sub(1, gtS)))
	assert(opcode.GeS, api.Sub(row.Result, api.Sub(1, ltS)))

	// select: wasm pops (cond, op2, op1) and pushes op1 if cond != 0, else
	// op2. Op3 carries cond; condNonzero is 1 - IsZero(cond).
	condNonzero := api.Sub(1, api.IsZero(row.Op3))
	sel := api.Select(condNonzero, row.Op1, row.Op2)
	assert(opcode.Select, api.Sub(row.Result, sel))

	return nil
}

// flipTopBit recomposes vb with its most-significant bit flipped: the
// standard trick for turning a two's-complement ordering into an unsigned
// one, since flipping the sign bit of both operands preserves their
// relative order under unsignedLess.
func flipTopBit(api frontend.API, vb []frontend.Variable) frontend.Variable {
	n := len(vb)
	out := make([]frontend.Variable, n)
	copy(out, vb)
	out[n-1] = api.Sub(1, vb[n-1])
	return recompose(api, out)
}

// applySignedDivRem wires I{32,64}DivS/RemS for one width: split each
// operand's own nbits-wide bit slice into sign and magnitude, divide the
// magnitudes unsigned (quot/rem shared with the unsigned classes, since
// nothing here depends on which class is actually active), then restore
// Wasm's sign convention (quotient sign is the dividend/divisor sign XOR;
// remainder keeps the dividend's sign).
func applySignedDivRem(api frontend.API, row *StepWitness, op1b, op2b []frontend.Variable, nbits int, divTag, remTag opcode.Tag) {
	assert := func(tag opcode.Tag, residual frontend.Variable) {
		api.AssertIsEqual(gate(api, row, tag, residual), 0)
	}

	signA, signB := op1b[nbits-1], op2b[nbits-1]
	vA, vB := recompose(api, op1b), recompose(api, op2b)
	magA := api.Select(signA, api.Sub(pow2Var(nbits), vA), vA)
	magB := api.Select(signB, api.Sub(pow2Var(nbits), vB), vB)

	// row.Rem is only known to fit nbits when this width's signed classes
	// are active; on every other row it is replaced by 0 before the
	// nbits-wide range check, so a wider remainder witnessed for another
	// class cannot make the check unsatisfiable.
	remIn := row.Rem
	if nbits < 64 {
		remIn = api.Mul(api.Add(row.Selector[divTag], row.Selector[remTag]), row.Rem)
	}
	remLtMagB := unsignedLess(api, remIn, magB, nbits)
	rel := api.Sub(magA, api.Add(api.Mul(magB, row.Quot), row.Rem))

	negQuot := api.Select(api.IsZero(row.Quot), row.Quot, api.Sub(pow2Var(nbits), row.Quot))
	negRem := api.Select(api.IsZero(row.Rem), row.Rem, api.Sub(pow2Var(nbits), row.Rem))
	quotSign := bitXor(api, signA, signB)
	quotResult := api.Select(quotSign, negQuot, row.Quot)
	remResult := api.Select(signA, negRem, row.Rem)

	assert(divTag, rel)
	assert(divTag, api.Sub(row.Result, quotResult))
	assert(divTag, api.Sub(1, remLtMagB))
	assert(remTag, rel)
	assert(remTag, api.Sub(row.Result, remResult))
	assert(remTag, api.Sub(1, remLtMagB))
}

// applyTransition constrains the (pc, sp) bookkeeping shared by every
// opcode class. sp moves by the active class's opcode.Shape-declared delta
// whenever that shape is fixed (classes with a data-dependent stack effect
// - calls, bulk memory ops - are left unconstrained here, same as
// opcode.ShapeOf reports them). pc advances by 1 on fallthrough, jumps to
// Imm for an unconditional branch or a conditional branch whose condition
// fires, and otherwise stays put for the pseudo-opcodes the interpreter
// synthesizes at a fixed (pc, sp).
func applyTransition(api frontend.API, row *StepWitness) error {
	sumSP := frontend.Variable(0)
	hasShape := frontend.Variable(0)
	for t := opcode.Tag(0); int(t) < opcode.Count; t++ {
		shape, ok := opcode.ShapeOf(t)
		if !ok {
			continue
		}
		delta := 0
		if shape.Pushes {
			delta++
		}
		delta -= shape.Pops
		target := api.Add(row.SPBefore, delta)
		sumSP = api.Add(sumSP, api.Mul(row.Selector[t], target))
		hasShape = api.Add(hasShape, row.Selector[t])
	}
	api.AssertIsEqual(api.Mul(hasShape, api.Sub(row.SPAfter, sumSP)), 0)

	isZeroOp1 := api.IsZero(row.Op1)
	takenEqz := isZeroOp1
	takenNez := api.Sub(1, isZeroOp1)
	condBranchTaken := api.Add(
		api.Mul(row.Selector[opcode.BrIfEqz], takenEqz),
		api.Mul(row.Selector[opcode.BrIfNez], takenNez),
	)
	unconditionalBranch := api.Add(row.Selector[opcode.Br], row.Selector[opcode.BrTable])
	jumps := api.Add(unconditionalBranch, condBranchTaken)

	stays := api.Add(row.Selector[opcode.ZeroWrite], row.Selector[opcode.MemoryCopyStep])
	stays = api.Add(stays, row.Selector[opcode.MemoryFillStep])
	stays = api.Add(stays, row.Selector[opcode.HostCallStep])
	stays = api.Add(stays, row.Selector[opcode.DropKeep])
	stays = api.Add(stays, row.Selector[opcode.NoOp])

	fallthroughOrStay := api.Select(stays, row.PCBefore, api.Add(row.PCBefore, 1))
	wantPC := api.Select(jumps, row.Imm, fallthroughOrStay)
	api.AssertIsEqual(row.PCAfter, wantPC)
	return nil
}
