package memcheck

import "github.com/eth2030/zkwasm/pkg/wasmtrace"

// DeriveRSWS recomputes the read-set and write-set multisets from a trace's
// rows. Per spec.md §3, RS and WS are always exactly the union of every
// row's Read/Write tuples in row order; the tracer does not persist them
// separately (see wasmtrace.Trace's doc comment), so anything that needs
// them — the ops circuit's native sanity check, the compression wrapper's
// multiset-equation check — rebuilds them from the rows it already has.
func DeriveRSWS(rows []wasmtrace.WitnessVM) (rs, ws wasmtrace.Multiset) {
	for _, r := range rows {
		for _, t := range r.Read {
			rs = rs.Append(t)
		}
		for _, t := range r.Write {
			ws = ws.Append(t)
		}
	}
	return rs, ws
}
