// Package workflow defines the in-memory workflow model (Workflow, Step,
// RetryPolicy), the dependency graph built from it, and the execution
// context steps render their templates against. It has no I/O: persistence
// lives in statestore, capability dispatch in capability, and scheduling in
// scheduler.
package workflow
