// Package worker provides the background worker implementation used to run
// orka activities.
//
// Workers consume activity tasks from a task queue, execute the registered
// activity function through the engine, and record the result back into the
// owning instance's history. Recording a result resumes the orchestration,
// so workers are what drive queued instances forward.
//
// # Delivery Semantics
//
// Task delivery is at-least-once. A task may be executed more than once when
// a process dies between execution and recording, so activities should be
// idempotent. Duplicate results are rejected against history and silently
// dropped by the worker.
//
// # Retries
//
// Transient activity failures are requeued with backoff until the attempt
// budget is exhausted, then recorded as a task failure. Permanent failures
// (see api.ActivityError) are recorded immediately without retry. When an
// activity was registered with its own retry policy, that policy's attempt
// cap and backoff schedule take precedence over the worker configuration.
//
// Multiple workers can safely operate on the same queue to scale processing.
package worker
