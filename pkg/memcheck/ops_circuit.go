package memcheck

import (
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/math/bits"
)

// OpsStepWitness is one fold of the ops circuit: it re-derives the RS/WS
// contribution of a single access (the read-then-write pair every
// LocalGet/Set, GlobalGet/Set and Load/Store produces) inside arithmetic,
// and advances the running grand products h_RS, h_WS.
//
// The circuit's state vector has arity 5: (gamma, alpha, global_ts, h_RS,
// h_WS). Gamma and alpha never change across folds; global_ts, h_RS and
// h_WS do.
type OpsStepWitness struct {
	GammaIn, AlphaIn frontend.Variable
	GlobalTSIn       frontend.Variable
	HRSIn, HWSIn     frontend.Variable

	GammaOut, AlphaOut frontend.Variable
	GlobalTSOut        frontend.Variable
	HRSOut, HWSOut     frontend.Variable

	// ReadAddr/ReadVal/ReadTS is the RS tuple this access contributes;
	// WriteAddr/WriteVal/WriteTS is the WS tuple. ReadAddr == WriteAddr for
	// every real access (the offline-checking rule always re-stamps the
	// same address); the addresses are both witnessed to keep the relation
	// symmetric with the scan circuit's pair-shape.
	ReadAddr, ReadVal, ReadTS    frontend.Variable
	WriteAddr, WriteVal, WriteTS frontend.Variable
}

// OpsCircuit folds a batch of accesses. One instantiation compiles to the
// per-step circuit the folding driver invokes once per batch of
// StepSize.Memory accesses.
type OpsCircuit struct {
	Rows []OpsStepWitness
}

var _ frontend.Circuit = (*OpsCircuit)(nil)

// Define wires, for each row: the address equality between the read and
// write halves of the access, the timestamp ordering t_read < global_ts <=
// t_write, global_ts advancing by exactly 1, and the two grand products
// absorbing their respective tuples under (gamma, alpha).
func (c *OpsCircuit) Define(api frontend.API) error {
	for i := range c.Rows {
		row := &c.Rows[i]

		api.AssertIsEqual(row.GammaOut, row.GammaIn)
		api.AssertIsEqual(row.AlphaOut, row.AlphaIn)
		api.AssertIsEqual(row.ReadAddr, row.WriteAddr)

		api.AssertIsEqual(row.GlobalTSOut, api.Add(row.GlobalTSIn, 1))
		api.AssertIsEqual(row.WriteTS, row.GlobalTSOut)

		// t_read < global_ts_out: range-check global_ts_out - t_read - 1
		// into a 32-bit window, per the design's bounded-width timestamp
		// proof (neither counter exceeds the proven slice's op count).
		diff := api.Sub(api.Sub(row.GlobalTSOut, row.ReadTS), 1)
		bits.ToBinary(api, diff, bits.WithNbDigits(32))

		gammaSq := api.Mul(row.GammaIn, row.GammaIn)
		readTerm := fingerprintFactor(api, row.ReadAddr, row.ReadVal, row.ReadTS, row.GammaIn, gammaSq, row.AlphaIn)
		writeTerm := fingerprintFactor(api, row.WriteAddr, row.WriteVal, row.WriteTS, row.GammaIn, gammaSq, row.AlphaIn)

		api.AssertIsEqual(row.HRSOut, api.Mul(row.HRSIn, readTerm))
		api.AssertIsEqual(row.HWSOut, api.Mul(row.HWSIn, writeTerm))
	}
	return nil
}

// fingerprintFactor computes addr + val*gamma + ts*gamma^2 - alpha, the
// per-tuple factor every grand product (ops and scan alike) multiplies in.
func fingerprintFactor(api frontend.API, addr, val, ts, gamma, gammaSq, alpha frontend.Variable) frontend.Variable {
	term := api.Add(addr, api.Mul(val, gamma))
	term = api.Add(term, api.Mul(ts, gammaSq))
	return api.Sub(term, alpha)
}
