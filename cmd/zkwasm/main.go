// Command zkwasm proves and verifies faithful execution of a Wasm function
// under the zkwasm multiset-memory-checking + folding + compression
// pipeline.
//
// Usage:
//
//	zkwasm prove  --wasm=module.wasm --func=name [--args=1,2,3] [--keydir=dir] --out=proof.bin
//	zkwasm verify --proof=proof.bin [--keydir=dir]
//	zkwasm shard  --wasm=module.wasm --func=name [--args=1,2,3] --boundaries=0,10,20 [--keydir=dir]
//	zkwasm version
package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/eth2030/zkwasm/pkg/compress"
	"github.com/eth2030/zkwasm/pkg/folding"
	"github.com/eth2030/zkwasm/pkg/log"
	"github.com/eth2030/zkwasm/pkg/metrics"
	"github.com/eth2030/zkwasm/pkg/paramstore"
	"github.com/eth2030/zkwasm/pkg/shard"
	"github.com/eth2030/zkwasm/pkg/wasmtrace"
)

// Build-time version info, overridable with ldflags:
//
//	go build -ldflags "-X main.version=v0.2.0 -X main.commit=abc1234"
var (
	version = "v0.1.0-dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run is the actual entry point, returning an exit code. Accepts CLI
// arguments (without the program name) so it can be tested in isolation.
func run(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: zkwasm <prove|verify|shard|version> [flags]")
		return 2
	}

	log.SetDefault(log.New(slog.LevelInfo))

	switch args[0] {
	case "version":
		fmt.Printf("zkwasm %s (commit %s)\n", version, commit)
		return 0
	case "prove":
		return runProve(args[1:])
	case "verify":
		return runVerify(args[1:])
	case "shard":
		return runShard(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n", args[0])
		return 2
	}
}

type commonFlags struct {
	wasm        string
	fn          string
	argsCSV     string
	stepExe     int
	stepMem     int
	keydir      string
	metricsAddr string
}

func (c *commonFlags) register(fs *flagSet) {
	fs.StringVar(&c.wasm, "wasm", "", "path to the Wasm binary module")
	fs.StringVar(&c.fn, "func", "", "entry point function name")
	fs.StringVar(&c.argsCSV, "args", "", "comma-separated i64 arguments")
	fs.IntVar(&c.stepExe, "step-exec", wasmtrace.DefaultStepSize.Execution, "execution rows folded per IVC step")
	fs.IntVar(&c.stepMem, "step-mem", wasmtrace.DefaultStepSize.Memory, "memory tuples folded per IVC step")
	fs.StringVar(&c.keydir, "keydir", "zkwasm-params", "directory holding cached Groth16 key pairs")
	fs.StringVar(&c.metricsAddr, "metrics-addr", "", "if set, serve Prometheus metrics at http://<addr>/metrics while running")
}

// startMetricsServer serves metrics.DefaultRegistry over HTTP at addr in
// the background, returning immediately, plus a /status JSON endpoint over
// sm if sm is non-nil. Bind failures are logged, not fatal: a prove/shard
// run should not fail just because nothing could scrape it.
func startMetricsServer(addr string, sm *metrics.SystemMetrics) {
	if addr == "" {
		return
	}
	exporter := metrics.NewPrometheusExporter(metrics.DefaultRegistry, metrics.DefaultPrometheusConfig())
	mux := http.NewServeMux()
	mux.Handle("/metrics", exporter.Handler())
	if sm != nil {
		mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
			body, err := sm.ExportJSON()
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.Write(body)
		})
	}
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Default().Warn("metrics server stopped", "addr", addr, "err", err)
		}
	}()
	log.Default().Info("serving metrics", "addr", addr)
}

func (c *commonFlags) buildArgs() (wasmtrace.WASMArgs, error) {
	src, err := os.ReadFile(c.wasm)
	if err != nil {
		return wasmtrace.WASMArgs{}, fmt.Errorf("read %s: %w", c.wasm, err)
	}
	b, err := wasmtrace.NewArgsBuilder(src, c.fn)
	if err != nil {
		return wasmtrace.WASMArgs{}, err
	}
	callArgs, err := parseInt64CSV(c.argsCSV)
	if err != nil {
		return wasmtrace.WASMArgs{}, err
	}
	b.WithArgs(callArgs...).WithStepSize(wasmtrace.StepSize{Execution: c.stepExe, Memory: c.stepMem})
	return b.Build()
}

func parseInt64CSV(s string) ([]int64, error) {
	if s == "" {
		return nil, nil
	}
	fields := strings.Split(s, ",")
	out := make([]int64, len(fields))
	for i, f := range fields {
		n, err := strconv.ParseInt(strings.TrimSpace(f), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid argument %q: %w", f, err)
		}
		out[i] = n
	}
	return out, nil
}

func parseUint64CSV(s string) ([]uint64, error) {
	if s == "" {
		return nil, nil
	}
	fields := strings.Split(s, ",")
	out := make([]uint64, len(fields))
	for i, f := range fields {
		n, err := strconv.ParseUint(strings.TrimSpace(f), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid boundary %q: %w", f, err)
		}
		out[i] = n
	}
	return out, nil
}

func runProve(args []string) int {
	var c commonFlags
	var out string
	fs := newCustomFlagSet("zkwasm prove")
	c.register(fs)
	fs.StringVar(&out, "out", "proof.bin", "output path for the compressed proof bundle")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}

	wargs, err := c.buildArgs()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	trace, err := wasmtrace.ExecutionTrace(wargs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	store, err := paramstore.NewStore(c.keydir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	sm := metrics.NewSystemMetrics()
	startMetricsServer(c.metricsAddr, sm)

	driver := folding.NewDriver(folding.KeccakChainBackend{}, wargs.Step)
	driver.AttachSystemMetrics(sm)
	res, err := driver.Run(trace)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	snark, err := compress.Compress(store, trace, res)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	bundle := &proofBundle{SNARK: snark, ICIS: res.ICIS.Bytes(), ICFS: res.ICFS.Bytes()}
	if err := saveBundle(out, bundle); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	fmt.Printf("wrote %s (result=%d, steps=%d)\n", out, trace.Result, len(trace.Rows))
	return 0
}

func runVerify(args []string) int {
	var proofPath, keydir string
	fs := newCustomFlagSet("zkwasm verify")
	fs.StringVar(&proofPath, "proof", "proof.bin", "path to the compressed proof bundle")
	fs.StringVar(&keydir, "keydir", "zkwasm-params", "directory holding cached Groth16 key pairs")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}

	bundle, err := loadBundle(proofPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	store, err := paramstore.NewStore(keydir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	icTrace := bundle.SNARK.PublicIO.ExecutionFinalCommitment
	if err := compress.Verify(store, bundle.SNARK, icTrace, bundle.ICIS, bundle.ICFS); err != nil {
		fmt.Fprintf(os.Stderr, "verification failed: %v\n", err)
		return 1
	}
	fmt.Println("OK")
	return 0
}

func runShard(args []string) int {
	var c commonFlags
	var boundariesCSV string
	fs := newCustomFlagSet("zkwasm shard")
	c.register(fs)
	fs.StringVar(&boundariesCSV, "boundaries", "", "comma-separated shard boundary row indices, starting at 0 and ending at the trace length")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}

	wargs, err := c.buildArgs()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	trace, err := wasmtrace.ExecutionTrace(wargs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	boundaries, err := parseUint64CSV(boundariesCSV)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	if len(boundaries) == 0 {
		boundaries = []uint64{0, uint64(len(trace.Rows))}
	}

	shards, err := shard.Plan(trace, boundaries)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	store, err := paramstore.NewStore(c.keydir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	startMetricsServer(c.metricsAddr, nil)

	backend := folding.KeccakChainBackend{}
	proofs, err := shard.ProveAll(store, backend, wargs.Step, shards)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	agg, err := shard.Aggregate(store, backend, proofs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	fmt.Printf("aggregated %d shards, commitment=%x\n", agg.Shards, agg.Commitment)
	return 0
}
