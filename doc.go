// Package orka provides a lightweight, embeddable durable-orchestration
// engine for Go.
//
// Orka runs long-lived, multi-step workflows that can suspend for arbitrary
// real time waiting on external input, survive process restarts without
// losing progress or repeating already-completed side effects, and reach a
// single terminal outcome exactly once. It runs fully in Go, supports
// multiple persistence backends, and integrates cleanly into existing
// codebases.
//
// # Core Concepts
//
// The programming model is intentionally small:
//
//  1. Engine
//  2. Orchestrator
//  3. Activity
//  4. External events
//  5. Worker
//
// # Engine
//
// The Engine owns instance state and history. It provides APIs to:
//   - start orchestration instances
//   - resume instances by replaying their history
//   - deliver external events
//   - read instance status and history
//
// Engines can be backed by different storage systems:
//
//   - In-memory (non-durable, best for tests)
//   - SQLite (embedded durability)
//   - Postgres
//   - Redis
//
// # Orchestrator
//
// An orchestrator is a plain Go function describing a workflow's control
// flow:
//
//	func(ctx *orka.OrchestrationContext) (any, error)
//
// It is re-executed from scratch against the instance's recorded history on
// every resume, so it must be deterministic: no wall-clock reads, no
// randomness, no direct I/O. Every side effect goes through CallActivity,
// and every external input through WaitForEvent. On replay, calls that
// already have a recorded result consume it from history instead of running
// again; the first call without one suspends the instance.
//
// # Activity
//
// An activity is a single unit of side-effecting work:
//
//	func(ctx context.Context, input any) (any, error)
//
// Activities execute at-least-once under failure and retry, so they should
// be idempotent. Their results are recorded into history exactly once.
//
// # External Events
//
// An orchestrator can suspend on a named event raised from outside, such as
// a human approval decision. Events that arrive before the orchestrator
// reaches its wait point are buffered, never dropped.
//
// # Worker
//
// Without a task queue, activities run inline during resume passes. With
// one, scheduled activities are dispatched to the queue and a Worker pool
// executes them and records results, which resumes the orchestration.
// Workers apply retry policies and can be scaled horizontally.
//
// # Summary
//
// Engines persist history, orchestrators describe control flow, activities
// do the work, events deliver outside input, and workers provide async
// execution. For a complete application, see the /examples directory.
package orka
