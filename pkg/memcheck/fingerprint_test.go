package memcheck

import (
	"testing"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"

	"github.com/eth2030/zkwasm/pkg/wasmtrace"
)

func testChallenges() (gamma, alpha fr.Element) {
	gamma.SetUint64(3)
	alpha.SetUint64(5)
	return
}

// honestScenario mirrors the runner's offline-checking rule by hand: a read
// of address 10 (initially 0) followed by a write of 7, both re-stamping
// the address's (value, timestamp) pair.
func honestScenario() (is, ws, rs, fs wasmtrace.Multiset) {
	is = wasmtrace.Multiset{{Addr: 10, Val: 0, TS: 0}}
	rs = wasmtrace.Multiset{
		{Addr: 10, Val: 0, TS: 0}, // read's old tuple
		{Addr: 10, Val: 0, TS: 1}, // write's old tuple
	}
	ws = wasmtrace.Multiset{
		{Addr: 10, Val: 0, TS: 1}, // read's re-stamp
		{Addr: 10, Val: 7, TS: 2}, // write's re-stamp
	}
	fs = wasmtrace.Multiset{{Addr: 10, Val: 7, TS: 2}}
	return
}

func TestVerifyMultisetEquationAcceptsHonestTrace(t *testing.T) {
	gamma, alpha := testChallenges()
	is, ws, rs, fs := honestScenario()
	if err := VerifyMultisetEquation(gamma, alpha, is, ws, rs, fs); err != nil {
		t.Fatalf("VerifyMultisetEquation: %v", err)
	}
}

func TestVerifyMultisetEquationRejectsTamperedWS(t *testing.T) {
	gamma, alpha := testChallenges()
	is, ws, rs, fs := honestScenario()
	ws[1].Val = 99 // flip a single WS tuple's value
	if err := VerifyMultisetEquation(gamma, alpha, is, ws, rs, fs); err == nil {
		t.Fatalf("expected VerifyMultisetEquation to reject a tampered WS")
	}
}

func TestVerifyMultisetEquationRejectsTamperedFS(t *testing.T) {
	gamma, alpha := testChallenges()
	is, ws, rs, fs := honestScenario()
	fs[0].TS = 999
	if err := VerifyMultisetEquation(gamma, alpha, is, ws, rs, fs); err == nil {
		t.Fatalf("expected VerifyMultisetEquation to reject a tampered FS")
	}
}

func TestCommitTraceIsOrderSensitive(t *testing.T) {
	rows := []wasmtrace.WitnessVM{
		{PC: 0, Imm: 1},
		{PC: 1, Imm: 2},
	}
	reversed := []wasmtrace.WitnessVM{rows[1], rows[0]}

	c1 := CommitTrace(rows)
	c2 := CommitTrace(reversed)
	if c1.Bytes() == c2.Bytes() {
		t.Fatalf("CommitTrace should be order-sensitive")
	}
	if CommitTrace(rows).Bytes() != c1.Bytes() {
		t.Fatalf("CommitTrace is not deterministic")
	}
}
