// Package recovery implements the recovery controller: on process
// start, or on demand, it enumerates non-terminal workflow executions,
// restores each to its latest checkpoint, and re-enters the scheduler at
// the resume frontier — steps whose dependencies are already terminal and
// whose own status is pending or (reset from) running.
//
// Grounded on workflow/checkpoint_enhanced.go's EnhancedCheckpointManager.
// ResumeFromCheckpoint (load latest, restore state, hand back to the
// executor) and generalized from "resume one thread" to "enumerate and
// resume every active execution against the scheduler's incremental
// admission loop" (package scheduler).
package recovery

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/llmdevops/orchestrator/scheduler"
	"github.com/llmdevops/orchestrator/statestore"
	"github.com/llmdevops/orchestrator/workflow"
)

// WorkflowProvider resolves a workflow_id to the workflow definition it was
// executed from. The state store persists only the serialized execution
// context, never the workflow definition itself — resolving it back to a
// runnable Dag is deferred to whatever keeps workflow definitions on this
// side (a file-backed registry, a config table, etc.), which is outside
// this package's concern.
type WorkflowProvider interface {
	WorkflowByID(ctx context.Context, workflowID string) (*workflow.Workflow, error)
}

// Controller drives the recovery algorithm against a Store and a Runner.
type Controller struct {
	store     statestore.Store
	runner    *scheduler.Runner
	workflows WorkflowProvider
	logger    *zap.Logger
}

// NewController wires a store, scheduler runner, and workflow lookup into a
// recovery controller.
func NewController(store statestore.Store, runner *scheduler.Runner, workflows WorkflowProvider, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		store:     store,
		runner:    runner,
		workflows: workflows,
		logger:    logger.With(zap.String("component", "recovery")),
	}
}

// Outcome is the result of attempting to resume one active execution.
type Outcome struct {
	StateID    string
	WorkflowID string
	Results    map[string]workflow.StepResult
	Err        error
}

// RecoverAll sweeps every currently active workflow state: list, restore,
// compute the resume frontier, and re-enter the scheduler loop. It returns
// one Outcome per state it attempted; a failure resuming one state does not
// stop the others from being attempted.
func (c *Controller) RecoverAll(ctx context.Context, opts scheduler.Options) ([]Outcome, error) {
	active, err := c.store.ListActiveWorkflows(ctx)
	if err != nil {
		return nil, fmt.Errorf("recovery: list active workflows: %w", err)
	}
	c.logger.Info("recovering active workflows", zap.Int("count", len(active)))

	outcomes := make([]Outcome, 0, len(active))
	for _, state := range active {
		outcomes = append(outcomes, c.recoverOne(ctx, state, opts))
	}
	return outcomes, nil
}

// RecoverOne resumes a single state_id, for callers that already know
// which execution needs resuming (e.g. a resume(state_id) API call) rather
// than sweeping every active state at startup.
func (c *Controller) RecoverOne(ctx context.Context, stateID string, opts scheduler.Options) (Outcome, error) {
	state, err := c.store.LoadWorkflowState(ctx, stateID)
	if err != nil {
		return Outcome{}, fmt.Errorf("recovery: load state %s: %w", stateID, err)
	}
	return c.recoverOne(ctx, state, opts), nil
}

func (c *Controller) recoverOne(ctx context.Context, state *statestore.WorkflowState, opts scheduler.Options) Outcome {
	outcome := Outcome{StateID: state.StateID, WorkflowID: state.WorkflowID}
	logger := c.logger.With(zap.String("state_id", state.StateID), zap.String("workflow_id", state.WorkflowID))

	snapshot := state.Context
	cp, err := c.store.GetLatestCheckpoint(ctx, state.StateID)
	switch {
	case err == nil:
		restored, restoreErr := c.store.RestoreFromCheckpoint(ctx, cp.CheckpointID)
		if restoreErr != nil {
			outcome.Err = fmt.Errorf("recovery: restore checkpoint %s: %w", cp.CheckpointID, restoreErr)
			return outcome
		}
		snapshot = restored.Context
		logger.Info("restored from checkpoint", zap.String("checkpoint_id", cp.CheckpointID), zap.String("step_id", cp.StepID))
	case err == statestore.ErrNotFound:
		logger.Info("no checkpoint found, resuming from last persisted state")
	default:
		outcome.Err = fmt.Errorf("recovery: get latest checkpoint: %w", err)
		return outcome
	}

	resetRunningToPending(&snapshot)

	wf, err := c.workflows.WorkflowByID(ctx, state.WorkflowID)
	if err != nil {
		outcome.Err = fmt.Errorf("recovery: resolve workflow %s: %w", state.WorkflowID, err)
		return outcome
	}

	runOpts := opts
	runOpts.ExecutionID = state.StateID
	runOpts.Resume = &snapshot

	results, err := c.runner.Execute(ctx, wf, snapshot.Inputs, runOpts)
	outcome.Results = results
	outcome.Err = err
	return outcome
}

// resetRunningToPending resets a step observed running at snapshot time back
// to pending before scheduling resumes, since the engine cannot know whether
// the prior attempt's effect was ever observed by the external capability it
// called (executions are at-least-once, not exactly-once). A step with no
// recorded result is already implicitly pending
// (workflow.ExecutionContext.Status), so resetting means removing its
// entry from the snapshot entirely rather than writing a "pending" status
// that has no representation.
func resetRunningToPending(snap *workflow.Snapshot) {
	for stepID, result := range snap.Results {
		if result.Status == workflow.StepStatusRunning {
			delete(snap.Results, stepID)
			delete(snap.Outputs, stepID)
		}
	}
}
