package switchboard

import (
	"math/big"

	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/math/bits"
)

// pow2 returns 2^n as a *big.Int, suitable for use as a frontend.Variable
// constant.
func pow2(n int) *big.Int {
	return new(big.Int).Lsh(big.NewInt(1), uint(n))
}

// decomposeN range-checks v to nbits bits (LSB first). Call sites must know,
// by construction, that v already fits: this performs no width-specific
// masking of its own.
func decomposeN(api frontend.API, v frontend.Variable, nbits int) []frontend.Variable {
	return bits.ToBinary(api, v, bits.WithNbDigits(nbits))
}

// decompose64 range-checks v to 64 bits and returns its bits, LSB first.
// Every operand the interpreter hands the circuit is encoded as its
// unsigned 64-bit bit pattern (i32 values zero-extended), so this is always
// a valid range check regardless of which opcode class is actually active
// on the row; every gadget below slices or recombines this single
// decomposition instead of re-decomposing a raw operand at a narrower,
// opcode-specific width; a fixed-width-32 decomposition, called
// unconditionally on a switchboard row, would reject any row whose *other*,
// inactive classes happen to carry a wider operand.
func decompose64(api frontend.API, v frontend.Variable) []frontend.Variable {
	return bits.ToBinary(api, v, bits.WithNbDigits(64))
}

// recompose reassembles a bit slice (LSB first) into a field element.
func recompose(api frontend.API, b []frontend.Variable) frontend.Variable {
	return bits.FromBinary(api, b)
}

// reduceModPow2 decomposes v into nbits+1 bits and drops the top one,
// reducing v modulo 2^nbits. v must be known, by construction at the call
// site, to already lie in [0, 2^(nbits+1)) — every call site below biases a
// 64-bit-bounded value by at most one power of two, which satisfies this.
func reduceModPow2(api frontend.API, v frontend.Variable, nbits int) frontend.Variable {
	b := bits.ToBinary(api, v, bits.WithNbDigits(nbits+1))
	return recompose(api, b[:nbits])
}

// unsignedLess returns 1 iff a < b as nbits-wide unsigned integers, 0
// otherwise. a and b must be known, by construction, to already lie in
// [0, 2^nbits). This is the same shift-then-range-check technique
// pkg/memcheck/ops_circuit.go uses to prove a timestamp ordering: b - a - 1
// + 2^nbits lands at or above 2^nbits (bit nbits of its (nbits+1)-bit
// decomposition is 1) exactly when a < b.
func unsignedLess(api frontend.API, a, b frontend.Variable, nbits int) frontend.Variable {
	shifted := api.Add(api.Sub(api.Sub(b, a), 1), pow2(nbits))
	decomposed := bits.ToBinary(api, shifted, bits.WithNbDigits(nbits+1))
	return decomposed[nbits]
}

// combineBits combines two equal-length boolean bit slices element-wise via
// combine, which must return a boolean wire given two boolean wires.
func combineBits(api frontend.API, a, b []frontend.Variable, combine func(x, y frontend.Variable) frontend.Variable) []frontend.Variable {
	out := make([]frontend.Variable, len(a))
	for i := range a {
		out[i] = combine(a[i], b[i])
	}
	return out
}

func bitAnd(api frontend.API, x, y frontend.Variable) frontend.Variable { return api.Mul(x, y) }
func bitOr(api frontend.API, x, y frontend.Variable) frontend.Variable {
	return api.Sub(api.Add(x, y), api.Mul(x, y))
}
func bitXor(api frontend.API, x, y frontend.Variable) frontend.Variable {
	return api.Sub(api.Add(x, y), api.Mul(2, api.Mul(x, y)))
}

// popcountBits sums an already bit-constrained slice.
func popcountBits(api frontend.API, vb []frontend.Variable) frontend.Variable {
	acc := frontend.Variable(0)
	for _, b := range vb {
		acc = api.Add(acc, b)
	}
	return acc
}

// ctzBits returns vb's trailing-zero count (vb is LSB first), len(vb) when
// every bit is zero, matching Wasm's ctz(0) == bit width. It walks from the
// LSB tracking whether a 1 has been seen yet; the first unseen 1 contributes
// its index to the accumulator, and nothing contributes after that since
// the "not yet seen" indicator then drops to zero.
func ctzBits(api frontend.API, vb []frontend.Variable) frontend.Variable {
	seen := frontend.Variable(0)
	acc := frontend.Variable(0)
	for i, b := range vb {
		isFirst := api.Mul(b, api.Sub(1, seen))
		acc = api.Add(acc, api.Mul(isFirst, i))
		seen = api.Add(seen, isFirst)
	}
	return api.Add(acc, api.Mul(api.Sub(1, seen), len(vb)))
}

// clzBits is ctzBits walked from the MSB of vb instead.
func clzBits(api frontend.API, vb []frontend.Variable) frontend.Variable {
	n := len(vb)
	seen := frontend.Variable(0)
	acc := frontend.Variable(0)
	for k := 0; k < n; k++ {
		b := vb[n-1-k]
		isFirst := api.Mul(b, api.Sub(1, seen))
		acc = api.Add(acc, api.Mul(isFirst, k))
		seen = api.Add(seen, isFirst)
	}
	return api.Add(acc, api.Mul(api.Sub(1, seen), n))
}

// barrelShift shifts or rotates vb (LSB first, already bit-constrained) by
// the amount amountBits decodes (LSB first, log2(len(vb)) bits — exactly
// amount mod len(vb), which is how Wasm masks every shift/rotate amount to
// the operand's own bit width) and recomposes the result. right selects
// direction; rotate wraps vacated bits back in instead of filling with
// fillBit (0 for a logical shift, the operand's sign bit for an arithmetic
// right shift). It is a standard log-depth barrel shifter: stage i
// conditionally moves every bit by 2^i places, gated by the shift amount's
// i-th bit.
func barrelShift(api frontend.API, vb []frontend.Variable, amountBits []frontend.Variable, right, rotate bool, fillBit frontend.Variable) frontend.Variable {
	n := len(vb)
	cur := append([]frontend.Variable(nil), vb...)
	for stage, sel := range amountBits {
		k := 1 << stage
		next := make([]frontend.Variable, n)
		for j := 0; j < n; j++ {
			var filled frontend.Variable
			if right {
				src := j + k
				switch {
				case src < n:
					filled = cur[src]
				case rotate:
					filled = cur[src-n]
				default:
					filled = fillBit
				}
			} else {
				src := j - k
				switch {
				case src >= 0:
					filled = cur[src]
				case rotate:
					filled = cur[src+n]
				default:
					filled = frontend.Variable(0)
				}
			}
			next[j] = api.Select(sel, filled, cur[j])
		}
		cur = next
	}
	return recompose(api, cur)
}
