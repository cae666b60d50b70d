package metrics

// Pre-defined metrics for the zkwasm prover. All metrics live in
// DefaultRegistry so they are globally accessible without passing a
// registry around.

var (
	// ---- Tracer metrics ----

	// StepsExecuted counts opcodes executed by the interpreter across all
	// traces produced this process.
	StepsExecuted = DefaultRegistry.Counter("tracer.steps_executed")
	// TraceBuildTime records the time spent producing one execution trace,
	// in milliseconds.
	TraceBuildTime = DefaultRegistry.Histogram("tracer.trace_build_ms")
	// MemoryAccessLogSize tracks the number of memory tuples recorded by
	// the most recent trace.
	MemoryAccessLogSize = DefaultRegistry.Gauge("tracer.memory_access_log_size")
	// TrapsEncountered counts interpreter aborts caused by a Wasm trap.
	TrapsEncountered = DefaultRegistry.Counter("tracer.traps")

	// ---- Memory-consistency metrics ----

	// FingerprintTime records the time to compute one multiset fingerprint,
	// in milliseconds.
	FingerprintTime = DefaultRegistry.Histogram("memcheck.fingerprint_ms")
	// MultisetMismatches counts IS⊎WS = RS⊎FS verification failures.
	MultisetMismatches = DefaultRegistry.Counter("memcheck.multiset_mismatches")

	// ---- Folding metrics ----

	// StepsFolded counts step-circuit instances absorbed into a running
	// instance across all folding drivers in this process.
	StepsFolded = DefaultRegistry.Counter("folding.steps_folded")
	// FoldStepTime records the duration of one fold step, in milliseconds.
	FoldStepTime = DefaultRegistry.Histogram("folding.fold_step_ms")
	// FoldingFailures counts folding steps rejected by the backend.
	FoldingFailures = DefaultRegistry.Counter("folding.failures")
	// Interrupted counts driver runs that stopped via should_stop.
	Interrupted = DefaultRegistry.Counter("folding.interrupted")

	// ---- Compression metrics ----

	// CompressionTime records the duration of the final SNARK compression
	// step, in milliseconds.
	CompressionTime = DefaultRegistry.Histogram("compress.compression_ms")
	// CompressedVerifyTime records verification time for a compressed
	// proof, in milliseconds.
	CompressedVerifyTime = DefaultRegistry.Histogram("compress.verify_ms")

	// ---- Sharding metrics ----

	// ShardsProven counts shards produced by shard.Plan; it is incremented
	// when the shards are planned, before any of them is proven.
	ShardsProven = DefaultRegistry.Counter("shard.shards_proven")
	// ShardHandoffMismatches counts adjacent-shard hand-off failures
	// (non-contiguous boundary, or FS/IS mismatch) that shard.Aggregate's
	// native checks reject.
	ShardHandoffMismatches = DefaultRegistry.Counter("shard.handoff_mismatches")
)
