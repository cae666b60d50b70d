package wasmtrace

import (
	"encoding/hex"
	"strings"
	"testing"
)

// mustHex decodes a whitespace-separated hex byte listing into a []byte,
// the format the fixtures below are written in for easy manual review
// against the Wasm binary format spec.
func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(strings.Join(strings.Fields(s), ""))
	if err != nil {
		t.Fatalf("mustHex: %v", err)
	}
	return b
}

// constReturnWasm is `(module (func (export "main") (result i32) i32.const 7))`.
const constReturnWasm = `
00 61 73 6d 01 00 00 00
01 05 01 60 00 01 7f
03 02 01 00
07 08 01 04 6d 61 69 6e 00 00
0a 06 01 04 00 41 07 0b
`

// sumToNWasm is an iterative sum: (func (export "sum_to_n") (param i32) (result i32))
// with one i32 local (the accumulator), lowered by hand to:
//
//	block
//	  loop
//	    local.get 0
//	    i32.eqz
//	    br_if 1
//	    local.get 1
//	    local.get 0
//	    i32.add
//	    local.set 1
//	    local.get 0
//	    i32.const 1
//	    i32.sub
//	    local.set 0
//	    br 0
//	  end
//	end
//	local.get 1
const sumToNWasm = `
00 61 73 6d 01 00 00 00
01 06 01 60 01 7f 01 7f
03 02 01 00
07 0c 01 08 73 75 6d 5f 74 6f 5f 6e 00 00
0a 23 01 21 01 01 7f 02 40 03 40 20 00 45 0d 01 20 01 20 00 6a 21 01 20 00 41 01 6b 21 00 0c 00 0b 0b 20 01 0b
`
