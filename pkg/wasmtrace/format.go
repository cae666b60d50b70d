package wasmtrace

import (
	"fmt"
	"sort"
	"strings"
)

// DisplayExportedFuncs renders a module's exported function names and
// arities, sorted for deterministic CLI output.
func DisplayExportedFuncs(m *Module) string {
	names := make([]string, 0, len(m.Exports))
	for name := range m.Exports {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	fmt.Fprintf(&b, "exported functions (%d):\n", len(names))
	for _, name := range names {
		idx := m.Exports[name]
		fn := m.Functions[idx]
		fmt.Fprintf(&b, "  %s(%d params) -> %d results\n", name, len(fn.Type.Params), len(fn.Type.Results))
	}
	return b.String()
}

// FormatResults renders a Trace's summary: step count, IS/FS sizes, and
// the entry point's return value.
func FormatResults(t Trace) string {
	var b strings.Builder
	fmt.Fprintf(&b, "steps: %d\n", len(t.Rows))
	fmt.Fprintf(&b, "IS: %d tuples, FS: %d tuples\n", t.IS.Len(), t.FS.Len())
	fmt.Fprintf(&b, "result: %d\n", t.Result)
	return b.String()
}
