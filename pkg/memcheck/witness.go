package memcheck

import (
	"math/big"

	bn254fr "github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark/frontend"

	"github.com/eth2030/zkwasm/pkg/wasmtrace"
)

// OpsState is the native mirror of OpsStepWitness's state vector: the
// running (gamma, alpha, global_ts, h_RS, h_WS) a sequence of OpsCircuit
// folds carries from one batch's witness into the next.
type OpsState struct {
	Gamma, Alpha bn254fr.Element
	GlobalTS     uint64
	HRS, HWS     bn254fr.Element
}

// NewOpsState seeds the accumulator at ch's derived challenges and the
// grand products' multiplicative identity.
func NewOpsState(ch Challenges) OpsState {
	s := OpsState{Gamma: ch.Gamma, Alpha: ch.Alpha}
	s.HRS.SetOne()
	s.HWS.SetOne()
	return s
}

// OpsAccess is one read-then-write access BuildOpsWitness folds: the
// offline-checking rule always re-stamps the same address, so there is one
// address, one value read, and one value written.
type OpsAccess struct {
	Addr              uint64
	ReadVal, WriteVal uint64
}

// BuildOpsWitness folds accesses into an OpsCircuit seeded from state and
// returns the state after the batch. Each row's read timestamp is
// synthesised as state's global_ts immediately before that row's tick and
// its write timestamp as global_ts immediately after: the per-row relation
// only needs t_read < global_ts_out and global_ts to advance by exactly 1,
// which this keeps true by construction regardless of the true age of the
// access's prior value (a fact the separate IS/WS/RS/FS hash commitment
// already binds).
func BuildOpsWitness(state OpsState, accesses []OpsAccess) (*OpsCircuit, OpsState) {
	c := &OpsCircuit{Rows: make([]OpsStepWitness, len(accesses))}
	cur := state
	for i, a := range accesses {
		readTS, writeTS := cur.GlobalTS, cur.GlobalTS+1

		readFactor := nativeFingerprintFactor(cur.Gamma, cur.Alpha, a.Addr, a.ReadVal, readTS)
		writeFactor := nativeFingerprintFactor(cur.Gamma, cur.Alpha, a.Addr, a.WriteVal, writeTS)
		var hrsOut, hwsOut bn254fr.Element
		hrsOut.Mul(&cur.HRS, &readFactor)
		hwsOut.Mul(&cur.HWS, &writeFactor)

		c.Rows[i] = OpsStepWitness{
			GammaIn: elemVar(cur.Gamma), AlphaIn: elemVar(cur.Alpha),
			GlobalTSIn: cur.GlobalTS,
			HRSIn:      elemVar(cur.HRS), HWSIn: elemVar(cur.HWS),

			GammaOut: elemVar(cur.Gamma), AlphaOut: elemVar(cur.Alpha),
			GlobalTSOut: writeTS,
			HRSOut:      elemVar(hrsOut), HWSOut: elemVar(hwsOut),

			ReadAddr: a.Addr, ReadVal: a.ReadVal, ReadTS: readTS,
			WriteAddr: a.Addr, WriteVal: a.WriteVal, WriteTS: writeTS,
		}

		cur.GlobalTS = writeTS
		cur.HRS, cur.HWS = hrsOut, hwsOut
	}
	return c, cur
}

// ScanState is the native mirror of ScanStepWitness's state vector: the
// running (gamma, alpha, h_IS, h_FS) a sequence of ScanCircuit folds
// carries across batches.
type ScanState struct {
	Gamma, Alpha bn254fr.Element
	HIS, HFS     bn254fr.Element
}

// NewScanState seeds the accumulator the same way NewOpsState does.
func NewScanState(ch Challenges) ScanState {
	s := ScanState{Gamma: ch.Gamma, Alpha: ch.Alpha}
	s.HIS.SetOne()
	s.HFS.SetOne()
	return s
}

// BuildScanWitness folds a same-length, address-aligned (is, fs) chunk into
// a ScanCircuit seeded from state and returns the state after the batch.
func BuildScanWitness(state ScanState, is, fs wasmtrace.Multiset) (*ScanCircuit, ScanState) {
	n := len(is)
	c := &ScanCircuit{Rows: make([]ScanStepWitness, n)}
	cur := state
	for i := 0; i < n; i++ {
		isT, fsT := is[i], fs[i]

		isFactor := nativeFingerprintFactor(cur.Gamma, cur.Alpha, isT.Addr, isT.Val, isT.TS)
		fsFactor := nativeFingerprintFactor(cur.Gamma, cur.Alpha, fsT.Addr, fsT.Val, fsT.TS)
		var hisOut, hfsOut bn254fr.Element
		hisOut.Mul(&cur.HIS, &isFactor)
		hfsOut.Mul(&cur.HFS, &fsFactor)

		c.Rows[i] = ScanStepWitness{
			GammaIn: elemVar(cur.Gamma), AlphaIn: elemVar(cur.Alpha),
			HISIn: elemVar(cur.HIS), HFSIn: elemVar(cur.HFS),

			GammaOut: elemVar(cur.Gamma), AlphaOut: elemVar(cur.Alpha),
			HISOut: elemVar(hisOut), HFSOut: elemVar(hfsOut),

			ISAddr: isT.Addr, ISVal: isT.Val, ISTS: isT.TS,
			FSAddr: fsT.Addr, FSVal: fsT.Val, FSTS: fsT.TS,
		}
		cur.HIS, cur.HFS = hisOut, hfsOut
	}
	return c, cur
}

// nativeFingerprintFactor computes addr + val*gamma + ts*gamma^2 - alpha
// outside the circuit, mirroring fingerprintFactor exactly.
func nativeFingerprintFactor(gamma, alpha bn254fr.Element, addr, val, ts uint64) bn254fr.Element {
	var a, v, t, gammaSq, term, tsTerm bn254fr.Element
	a.SetUint64(addr)
	v.SetUint64(val)
	t.SetUint64(ts)
	gammaSq.Mul(&gamma, &gamma)

	term.Mul(&v, &gamma)
	term.Add(&a, &term)
	tsTerm.Mul(&t, &gammaSq)
	term.Add(&term, &tsTerm)
	term.Sub(&term, &alpha)
	return term
}

func elemVar(e bn254fr.Element) frontend.Variable {
	return e.BigInt(new(big.Int))
}
