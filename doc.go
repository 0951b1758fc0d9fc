// Package llama2 is an embeddable llama2-family transformer inference
// engine: it loads a pre-trained checkpoint and byte-pair tokenizer, then
// serves multiple concurrent inference sessions that share one set of
// read-only weights, round-robin stepping them one token at a time.
//
// # Reading Guide
//
// Start with these files to understand the engine:
//   - config.go: EngineConfig / QueryConfig, the public construction surface
//   - transformer.go: Transformer construction, teardown, shared worker pool
//   - session.go: per-query state machine (Queued/Running/Cancelled/Finished)
//   - scheduler.go: the round-robin stepper that drives every session forward
//   - forward.go: the single-token decoder step
//
// # Architecture
//
// This package defines the Transformer, Session and Scheduler; the
// computational subsystems each get a subpackage with its own tests and
// its own third-party dependencies, the same separation the teacher
// applies to things like its KV cache and latency model:
//   - weights/: the Weight Store (mmap, absolute, paged cache) and the
//     Model Descriptor that parses checkpoint headers into tensor shapes
//   - tokenizer/: byte-pair encode/decode and the chat-template overlay
//   - kernels/: RMSNorm, softmax, RoPE, SwiGLU, matrix-vector multiply
//     (float and INT8), and the worker pool that parallelizes them
//   - sampler/: temperature + top-p sampling over a seeded PRNG
//
// # Concurrency
//
// A Transformer's Scheduler is single-threaded cooperative: all Session
// state and KV caches are touched only by the goroutine that calls
// StepNext. Callers needing concurrent access must serialize externally.
// Within one forward pass, kernels/.Pool runs matrix-vector multiplies
// across a bounded set of goroutines, but no two forward passes ever run
// at once (see forward.go).
package llama2
