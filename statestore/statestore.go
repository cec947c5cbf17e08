// Package statestore defines the durable interface the scheduler and
// recovery controller use to persist workflow state and checkpoints, plus
// the domain types it operates on. Concrete backends live in
// subpackages: statestore/relational (GORM over postgres/mysql/sqlite) and
// statestore/redisstore (go-redis). An in-memory backend lives in this
// package for tests and the "embedded, no external process" deployment
// shape.
//
// Grounded on agent/persistence/store.go and agent/persistence/task_store.go:
// the same sentinel-error-plus-interface shape, generalized from "async
// task" to "workflow state" and extended with checkpointing.
package statestore

import (
	"context"
	"errors"
	"time"

	"github.com/llmdevops/orchestrator/workflow"
)

// Sentinel errors returned by every backend, matched with errors.Is.
var (
	// ErrNotFound is returned when a state_id, workflow_id, or checkpoint_id
	// has no corresponding row.
	ErrNotFound = errors.New("statestore: not found")

	// ErrConflict is returned by SaveWorkflowState when the caller's view of
	// updated_at is stale — another runner has advanced this state since it
	// was read. This is fatal for the calling runner instance, never retried
	// automatically.
	ErrConflict = errors.New("statestore: optimistic concurrency conflict")

	// ErrClosed is returned by MemoryStore's operations after Close. The
	// relational and redis backends return their driver's own error instead.
	ErrClosed = errors.New("statestore: store is closed")

	// ErrInvalidInput is returned when a required argument is nil or empty.
	ErrInvalidInput = errors.New("statestore: invalid input")
)

// WorkflowStatus is the lifecycle state of one workflow execution as
// recorded in the state store (distinct from workflow.StepStatus, which
// tracks individual steps within the in-memory execution context).
type WorkflowStatus string

const (
	StatusPending   WorkflowStatus = "pending"
	StatusRunning   WorkflowStatus = "running"
	StatusPaused    WorkflowStatus = "paused"
	StatusCompleted WorkflowStatus = "completed"
	StatusFailed    WorkflowStatus = "failed"
	StatusCancelled WorkflowStatus = "cancelled"
)

// IsActive reports whether status belongs to the active-workflow result
// set: pending, running, or paused.
func (s WorkflowStatus) IsActive() bool {
	switch s {
	case StatusPending, StatusRunning, StatusPaused:
		return true
	default:
		return false
	}
}

// WorkflowState is the persisted record of one workflow execution. Context
// carries the full execution context snapshot — inputs, per-step outputs,
// and per-step results — so a single row is sufficient to fully rehydrate
// an ExecutionContext; there is no separate step-level table in this
// implementation, since workflow.Snapshot already carries per-step results
// at the granularity a step-level table would.
type WorkflowState struct {
	StateID    string             `json:"state_id"`
	WorkflowID string             `json:"workflow_id"`
	Status     WorkflowStatus     `json:"status"`
	CreatedAt  time.Time          `json:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
	Context    workflow.Snapshot  `json:"context"`
	Error      string             `json:"error,omitempty"`
}

// Checkpoint is a durable, append-only snapshot of a WorkflowState taken at
// a specific step boundary. ParentID links a checkpoint to the one it
// superseded for the same StateID, a version-chain convention kept here to
// make retention pruning auditable, not exposed as a required operation in
// its own right.
type Checkpoint struct {
	CheckpointID string        `json:"checkpoint_id"`
	StateID      string        `json:"state_id"`
	StepID       string        `json:"step_id"`
	Timestamp    time.Time     `json:"timestamp"`
	ParentID     string        `json:"parent_id,omitempty"`
	State        WorkflowState `json:"state"`
}

// Store is the durable interface the scheduler and recovery controller
// use. Implementations must expose each operation as atomic with respect
// to its own row-set.
type Store interface {
	// SaveWorkflowState upserts state by StateID. If a row already exists,
	// the backend must reject the write with ErrConflict when the stored
	// row's UpdatedAt does not equal the UpdatedAt the caller last read
	// (optimistic concurrency) — callers pass the previously-read
	// UpdatedAt in state.UpdatedAt and receive a fresh one back via the
	// mutation of state.UpdatedAt on success.
	SaveWorkflowState(ctx context.Context, state *WorkflowState) error

	// LoadWorkflowState returns the state for stateID, or ErrNotFound.
	LoadWorkflowState(ctx context.Context, stateID string) (*WorkflowState, error)

	// LoadWorkflowStateByWorkflowID returns the (most recent) state for a
	// workflow id, or ErrNotFound.
	LoadWorkflowStateByWorkflowID(ctx context.Context, workflowID string) (*WorkflowState, error)

	// ListActiveWorkflows returns every state whose status is pending,
	// running, or paused.
	ListActiveWorkflows(ctx context.Context) ([]*WorkflowState, error)

	// CreateCheckpoint appends cp and prunes the oldest checkpoints for
	// cp.StateID beyond retention, in one atomic operation.
	CreateCheckpoint(ctx context.Context, cp *Checkpoint, retention int) error

	// GetLatestCheckpoint returns the most recent checkpoint for stateID,
	// or ErrNotFound if none exists.
	GetLatestCheckpoint(ctx context.Context, stateID string) (*Checkpoint, error)

	// RestoreFromCheckpoint returns the fully re-hydrated workflow state
	// captured by checkpointID.
	RestoreFromCheckpoint(ctx context.Context, checkpointID string) (*WorkflowState, error)

	// DeleteOldStates deletes every terminal (completed/failed/cancelled)
	// state whose UpdatedAt is older than olderThan, cascading to its
	// checkpoints. Returns the number of states deleted.
	DeleteOldStates(ctx context.Context, olderThan time.Time) (int, error)

	// CleanupOldCheckpoints prunes checkpoints for stateID beyond
	// keepCount, newest first. Returns the number of checkpoints deleted.
	CleanupOldCheckpoints(ctx context.Context, stateID string, keepCount int) (int, error)

	// GetHistory returns every checkpoint for stateID, newest first — a
	// read-only diagnostic operation, not part of the core recovery path.
	GetHistory(ctx context.Context, stateID string) ([]*Checkpoint, error)

	// HealthCheck verifies the backend is reachable and able to serve
	// requests.
	HealthCheck(ctx context.Context) error

	// Close releases any resources (connections, background loops) held
	// by the store.
	Close() error
}
