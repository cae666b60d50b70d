package compress

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/eth2030/zkwasm/pkg/folding"
	"github.com/eth2030/zkwasm/pkg/paramstore"
	"github.com/eth2030/zkwasm/pkg/wasmtrace"
)

// sumToNWasm computes an iterative sum with a local-variable accumulator,
// giving the interpreter enough LocalGet/LocalSet traffic to populate a
// non-trivial IS/WS/RS/FS.
const sumToNWasm = `
00 61 73 6d 01 00 00 00
01 06 01 60 01 7f 01 7f
03 02 01 00
07 0c 01 08 73 75 6d 5f 74 6f 5f 6e 00 00
0a 23 01 21 01 01 7f 02 40 03 40 20 00 45 0d 01 20 01 20 00 6a 21 01 20 00 41 01 6b 21 00 0c 00 0b 0b 20 01 0b
`

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(strings.Join(strings.Fields(s), ""))
	if err != nil {
		t.Fatalf("mustHex: %v", err)
	}
	return b
}

func buildTraceAndFold(t *testing.T) (wasmtrace.Trace, folding.RunResult) {
	t.Helper()
	mod, err := wasmtrace.Decode(mustHex(t, sumToNWasm))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	tr, err := wasmtrace.ExecutionTrace(wasmtrace.WASMArgs{
		Module: mod, FuncName: "sum_to_n", Args: []int64{5}, Step: wasmtrace.DefaultStepSize,
	})
	if err != nil {
		t.Fatalf("ExecutionTrace: %v", err)
	}
	d := folding.NewDriver(folding.KeccakChainBackend{}, wasmtrace.DefaultStepSize)
	res, err := d.Run(tr)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return tr, res
}

func TestCompressThenVerifyAccepts(t *testing.T) {
	tr, res := buildTraceAndFold(t)
	store, err := paramstore.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	snark, err := Compress(store, tr, res)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if err := Verify(store, snark, res.ICTrace.Bytes(), res.ICIS.Bytes(), res.ICFS.Bytes()); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestCompressRejectsTamperedFinalState(t *testing.T) {
	tr, res := buildTraceAndFold(t)
	store, err := paramstore.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	if len(tr.FS) == 0 {
		t.Fatalf("expected a non-empty FS multiset")
	}
	tr.FS[0].Val ^= 1

	if _, err := Compress(store, tr, res); err == nil {
		t.Fatalf("Compress with tampered FS: expected an error, got nil")
	}
}

func TestVerifyRejectsWrongTraceCommitment(t *testing.T) {
	tr, res := buildTraceAndFold(t)
	store, err := paramstore.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	snark, err := Compress(store, tr, res)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}

	icTraceBytes := res.ICTrace.Bytes()
	var wrongIC [32]byte
	copy(wrongIC[:], icTraceBytes[:])
	wrongIC[0] ^= 1

	if err := Verify(store, snark, wrongIC, res.ICIS.Bytes(), res.ICFS.Bytes()); err == nil {
		t.Fatalf("Verify with mismatched trace commitment: expected an error, got nil")
	}
}
