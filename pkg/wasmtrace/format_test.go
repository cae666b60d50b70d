package wasmtrace

import (
	"strings"
	"testing"
)

func TestDisplayExportedFuncs(t *testing.T) {
	m, err := Decode(mustHex(t, sumToNWasm))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	out := DisplayExportedFuncs(m)
	if !strings.Contains(out, "sum_to_n") {
		t.Fatalf("expected output to mention sum_to_n, got %q", out)
	}
}

func TestFormatResults(t *testing.T) {
	b, _ := NewArgsBuilder(mustHex(t, constReturnWasm), "main")
	args, _ := b.Build()
	tr, err := ExecutionTrace(args)
	if err != nil {
		t.Fatalf("ExecutionTrace: %v", err)
	}
	out := FormatResults(tr)
	if !strings.Contains(out, "result: 7") {
		t.Fatalf("expected result line, got %q", out)
	}
}
