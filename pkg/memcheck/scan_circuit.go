package memcheck

import "github.com/consensys/gnark/frontend"

// ScanStepWitness is one fold of the scan/audit circuit: it takes one
// matched (IS, FS) pair for the same address and folds each tuple's
// fingerprint factor into the running h_IS/h_FS products.
//
// State vector arity is 4: (gamma, alpha, h_IS, h_FS).
type ScanStepWitness struct {
	GammaIn, AlphaIn frontend.Variable
	HISIn, HFSIn     frontend.Variable

	GammaOut, AlphaOut frontend.Variable
	HISOut, HFSOut     frontend.Variable

	ISAddr, ISVal, ISTS frontend.Variable
	FSAddr, FSVal, FSTS frontend.Variable
}

// ScanCircuit folds a batch of IS/FS pairs.
type ScanCircuit struct {
	Rows []ScanStepWitness
}

var _ frontend.Circuit = (*ScanCircuit)(nil)

// Define asserts the IS and FS entries of a row name the same address (the
// two multisets enumerate the same address universe in the same order, per
// the design's IS/FS invariant) and advances h_IS, h_FS by their tuple's
// fingerprint factor.
func (c *ScanCircuit) Define(api frontend.API) error {
	for i := range c.Rows {
		row := &c.Rows[i]

		api.AssertIsEqual(row.GammaOut, row.GammaIn)
		api.AssertIsEqual(row.AlphaOut, row.AlphaIn)
		api.AssertIsEqual(row.ISAddr, row.FSAddr)

		gammaSq := api.Mul(row.GammaIn, row.GammaIn)
		isTerm := fingerprintFactor(api, row.ISAddr, row.ISVal, row.ISTS, row.GammaIn, gammaSq, row.AlphaIn)
		fsTerm := fingerprintFactor(api, row.FSAddr, row.FSVal, row.FSTS, row.GammaIn, gammaSq, row.AlphaIn)

		api.AssertIsEqual(row.HISOut, api.Mul(row.HISIn, isTerm))
		api.AssertIsEqual(row.HFSOut, api.Mul(row.HFSIn, fsTerm))
	}
	return nil
}
