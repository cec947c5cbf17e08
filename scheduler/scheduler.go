// Package scheduler implements the scheduler/runner: the component
// that walks a Dag to a terminal outcome, admitting ready steps up to a
// concurrency bound, persisting state and a checkpoint after every step
// completion, and reacting to whichever admitted step finishes first rather
// than waiting for a whole parallel group to drain.
//
// Grounded on workflow/dag_executor.go's executeParallelNode: the same
// WaitGroup-plus-buffered-result-channel fan-out/fan-in shape, generalized
// from "launch every child of one node and wait for all of them" to "admit
// up to max_concurrency steps from the current ready set, react to the
// first one that finishes, and recompute the ready set incrementally" via
// Dag.ReadySuccessors.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/llmdevops/orchestrator/capability"
	"github.com/llmdevops/orchestrator/orcherr"
	"github.com/llmdevops/orchestrator/statestore"
	"github.com/llmdevops/orchestrator/workflow"
)

// DefaultMaxConcurrency bounds admission when Options.MaxConcurrency is unset.
const DefaultMaxConcurrency = 10

// DefaultCheckpointRetention bounds per-state checkpoint history when
// Options.CheckpointRetention is unset.
const DefaultCheckpointRetention = 10

// DrainWindow bounds how long Execute waits for already-admitted steps to
// finish after the workflow timeout or an external cancellation fires,
// before returning and leaving those goroutines to finish in the
// background. Effects already dispatched to a capability may still land
// after Execute returns (executions are at-least-once, not exactly-once) —
// the window only bounds the caller's wait, not the goroutines' lifetime.
const DrainWindow = 5 * time.Second

// CancellationToken is a cooperative cancellation signal a caller can hold
// onto across goroutines and cancel independently of the workflow timeout —
// the "cancel a running execution" knob the recovery controller and any
// external API surface need alongside the timeout-driven context.
type CancellationToken struct {
	mu        sync.Mutex
	cancelled bool
	done      chan struct{}
}

// NewCancellationToken returns a token in the not-cancelled state.
func NewCancellationToken() *CancellationToken {
	return &CancellationToken{done: make(chan struct{})}
}

// Cancel marks the token cancelled. Safe to call more than once.
func (t *CancellationToken) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.cancelled {
		t.cancelled = true
		close(t.done)
	}
}

// IsCancelled reports whether Cancel has been called.
func (t *CancellationToken) IsCancelled() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// WaitCancelled returns a channel closed when Cancel is called, suitable
// for a select alongside ctx.Done().
func (t *CancellationToken) WaitCancelled() <-chan struct{} {
	return t.done
}

// Options configures one Execute call.
type Options struct {
	// MaxConcurrency bounds how many steps may be in flight at once.
	// Defaults to DefaultMaxConcurrency.
	MaxConcurrency int
	// WorkflowTimeout overrides the workflow's own EffectiveTimeout for
	// this run. Zero means use the workflow's declared (or default) timeout.
	WorkflowTimeout time.Duration
	// CheckpointRetention bounds checkpoints kept per state_id. Defaults to
	// DefaultCheckpointRetention.
	CheckpointRetention int
	// CancellationToken, if set, lets a caller cancel the run from another
	// goroutine. A nil token means the run can only end via completion,
	// failure, or workflow timeout.
	CancellationToken *CancellationToken
	// ExecutionID, if set, is used as the state_id/execution id instead of
	// generating a new one — set by the recovery controller when resuming
	// a previously persisted execution.
	ExecutionID string
	// Resume, if set, seeds the execution context from a prior snapshot
	// instead of starting fresh. RestoreFromCheckpoint/recovery callers
	// populate this after resetting any running steps to pending.
	Resume *workflow.Snapshot
}

// Runner executes workflows to completion against a capability dispatcher,
// persisting progress through a statestore.Store as it goes.
type Runner struct {
	dispatcher *capability.Dispatcher
	store      statestore.Store
	logger     *zap.Logger
}

// NewRunner wires a dispatcher and state store into a scheduler. store may
// be nil for callers that only want in-process execution with no
// durability (e.g. validating a workflow definition); every persistence
// call is then skipped.
func NewRunner(dispatcher *capability.Dispatcher, store statestore.Store, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{dispatcher: dispatcher, store: store, logger: logger.With(zap.String("component", "scheduler"))}
}

// initialReadySet computes the steps eligible to run before any completion
// event has occurred: every step not already terminal whose dependencies
// are all terminal and none of them failed. For a fresh execution context
// this reduces to dag.Roots() (no step has recorded dependencies as
// terminal except the trivially-empty case). For a resumed execution
// context it also picks up steps whose dependencies finished in a prior
// attempt — the resume frontier, computed with the same terminality rule
// Dag.ReadySuccessors applies incrementally.
func initialReadySet(dag *workflow.Dag, wf *workflow.Workflow, terminalStatus func(stepID string) (workflow.StepStatus, bool)) []string {
	var ready []string
	for _, id := range dag.StepIDs() {
		if status, recorded := terminalStatus(id); recorded && status.IsTerminal() {
			continue
		}
		step, ok := wf.StepByID(id)
		if !ok {
			continue
		}
		allTerminal := true
		anyFailed := false
		for _, dep := range step.Dependencies {
			depStatus, depTerminal := terminalStatus(dep)
			if !depTerminal {
				allTerminal = false
				break
			}
			if depStatus == workflow.StepStatusFailed {
				anyFailed = true
			}
		}
		if allTerminal && !anyFailed {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)
	return ready
}

// completionEvent is what a step goroutine reports back to the controller.
type completionEvent struct {
	stepID string
	err    error
}

// Execute runs wf to a terminal outcome: every step either completes,
// fails, or is skipped, or the run ends early on workflow timeout,
// cancellation, or a step failure with no remaining steps eligible to run.
// It returns the step results recorded so far and, on a non-success
// ending, the terminal error.
func (r *Runner) Execute(ctx context.Context, wf *workflow.Workflow, inputs map[string]any, opts Options) (map[string]workflow.StepResult, error) {
	if err := wf.Validate(); err != nil {
		return nil, orcherr.New(orcherr.KindValidation, "workflow validation failed").WithCause(err)
	}
	dag, err := workflow.Build(wf)
	if err != nil {
		return nil, orcherr.New(orcherr.KindValidation, "dag build failed").WithCause(err)
	}

	maxConcurrency := opts.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultMaxConcurrency
	}
	retention := opts.CheckpointRetention
	if retention <= 0 {
		retention = DefaultCheckpointRetention
	}
	timeout := opts.WorkflowTimeout
	if timeout <= 0 {
		timeout = wf.EffectiveTimeout()
	}
	token := opts.CancellationToken
	if token == nil {
		token = NewCancellationToken()
	}

	executionID := opts.ExecutionID
	if executionID == "" {
		executionID = uuid.NewString()
	}

	var ec *workflow.ExecutionContext
	if opts.Resume != nil {
		ec = workflow.Restore(*opts.Resume)
	} else {
		ec = workflow.NewExecutionContext(executionID, wf.ID, inputs)
	}

	logger := r.logger.With(zap.String("execution_id", executionID), zap.String("workflow_id", wf.ID))

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	go func() {
		select {
		case <-token.WaitCancelled():
			cancel()
		case <-runCtx.Done():
		}
	}()

	if err := r.persistState(ctx, executionID, wf.ID, statestore.StatusRunning, ec, ""); err != nil {
		logger.Warn("failed to persist initial state", zap.Error(err))
	}

	sem := semaphore.NewWeighted(int64(maxConcurrency))
	stepIDs := dag.StepIDs()
	completions := make(chan completionEvent, len(stepIDs))
	var wg sync.WaitGroup

	terminalStatus := func(stepID string) (workflow.StepStatus, bool) {
		status, recorded := ec.Status(stepID)
		if !recorded {
			return status, false
		}
		return status, status.IsTerminal()
	}

	launch := func(stepID string) {
		step, ok := wf.StepByID(stepID)
		if !ok {
			sem.Release(1)
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			logger.Debug("admitting step", zap.String("step_id", stepID))
			err := r.dispatcher.Execute(runCtx, wf, *step, ec)
			completions <- completionEvent{stepID: stepID, err: err}
		}()
	}

	ready := initialReadySet(dag, wf, terminalStatus)
	launched := make(map[string]bool, len(stepIDs))
	inFlight := 0
	stopAdmitting := false
	var terminalErr error

	admitReady := func() {
		for !stopAdmitting && len(ready) > 0 {
			if !sem.TryAcquire(1) {
				return
			}
			stepID := ready[0]
			ready = ready[1:]
			launched[stepID] = true
			inFlight++
			launch(stepID)
		}
	}

	admitReady()

	doneCh := runCtx.Done()
	var drainDeadline <-chan time.Time
	for inFlight > 0 {
		select {
		case comp := <-completions:
			inFlight--
			status, _ := terminalStatus(comp.stepID)
			if err := r.persistState(ctx, executionID, wf.ID, statestore.StatusRunning, ec, ""); err != nil {
				logger.Warn("failed to persist step completion", zap.String("step_id", comp.stepID), zap.Error(err))
			}
			if err := r.checkpoint(ctx, executionID, comp.stepID, ec, retention); err != nil {
				logger.Warn("failed to checkpoint", zap.String("step_id", comp.stepID), zap.Error(err))
			}

			if status == workflow.StepStatusFailed && !stopAdmitting {
				stopAdmitting = true
				terminalErr = comp.err
				logger.Info("step failed, draining remaining in-flight steps", zap.String("step_id", comp.stepID), zap.Error(comp.err))
			}

			if !stopAdmitting {
				for _, nextID := range dag.ReadySuccessors(comp.stepID, terminalStatus) {
					if !launched[nextID] {
						ready = append(ready, nextID)
					}
				}
				admitReady()
			}

		case <-doneCh:
			stopAdmitting = true
			if terminalErr == nil {
				terminalErr = classifyContextErr(runCtx.Err(), token)
			}
			logger.Info("run ending on context cancellation, draining in-flight steps", zap.Error(terminalErr))
			doneCh = nil
			timer := time.NewTimer(DrainWindow)
			defer timer.Stop()
			drainDeadline = timer.C

		case <-drainDeadline:
			logger.Warn("drain window elapsed with steps still in flight; returning without waiting further", zap.Int("in_flight", inFlight))
			return r.finish(ctx, executionID, wf.ID, ec, terminalErr)
		}
	}

	wg.Wait()
	close(completions)
	for comp := range completions {
		// Any completions that arrived after the loop above stopped reading
		// (possible if the last iteration's admitReady() launched new steps
		// whose completions raced the inFlight==0 check) are drained here so
		// their outcomes are recorded before Execute returns.
		status, _ := terminalStatus(comp.stepID)
		if status == workflow.StepStatusFailed && terminalErr == nil {
			terminalErr = comp.err
		}
	}

	return r.finish(ctx, executionID, wf.ID, ec, terminalErr)
}

// firstRecordedFailure scans results (in step-id order, for determinism)
// for a failed step and synthesizes a terminal error describing it. Needed
// because a resumed execution can find a step already Failed in the
// restored snapshot without ever observing a completionEvent for it this
// run — the loop then exits with inFlight == 0 and no terminalErr of its
// own, but the run must still be reported (and persisted) as failed rather
// than completed.
func firstRecordedFailure(results map[string]workflow.StepResult) error {
	ids := make([]string, 0, len(results))
	for id := range results {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if results[id].Status != workflow.StepStatusFailed {
			continue
		}
		msg := "step failed"
		if results[id].Error != nil {
			msg = results[id].Error.Error()
		}
		return orcherr.New(orcherr.KindCapabilityPermanent, fmt.Sprintf("step %q failed: %s", id, msg)).WithStep(id)
	}
	return nil
}

// finish persists the terminal workflow state and returns the accumulated
// results alongside the terminal error, if any.
func (r *Runner) finish(ctx context.Context, executionID, workflowID string, ec *workflow.ExecutionContext, terminalErr error) (map[string]workflow.StepResult, error) {
	results := ec.AllResults()
	if terminalErr == nil {
		terminalErr = firstRecordedFailure(results)
	}
	status := statestore.StatusCompleted
	errMsg := ""
	if terminalErr != nil {
		errMsg = terminalErr.Error()
		switch orcherr.KindOf(terminalErr) {
		case orcherr.KindCancelled:
			status = statestore.StatusCancelled
		default:
			status = statestore.StatusFailed
		}
	}
	if err := r.persistState(ctx, executionID, workflowID, status, ec, errMsg); err != nil {
		r.logger.Warn("failed to persist final state", zap.Error(err))
	}
	return results, terminalErr
}

// persistState saves the current snapshot of ec into the store, detached
// from the workflow's own deadline so a timed-out or cancelled run context
// does not also abort its own bookkeeping writes.
func (r *Runner) persistState(ctx context.Context, executionID, workflowID string, status statestore.WorkflowStatus, ec *workflow.ExecutionContext, errMsg string) error {
	if r.store == nil {
		return nil
	}
	persistCtx := context.WithoutCancel(ctx)

	existing, err := r.store.LoadWorkflowState(persistCtx, executionID)
	state := &statestore.WorkflowState{
		StateID:    executionID,
		WorkflowID: workflowID,
		Status:     status,
		Context:    ec.Snapshot(),
		Error:      errMsg,
	}
	if err == nil {
		state.UpdatedAt = existing.UpdatedAt
		state.CreatedAt = existing.CreatedAt
	}
	return r.store.SaveWorkflowState(persistCtx, state)
}

// checkpoint records a checkpoint at the given step boundary, detached from
// the workflow's own deadline for the same reason as persistState.
func (r *Runner) checkpoint(ctx context.Context, executionID, stepID string, ec *workflow.ExecutionContext, retention int) error {
	if r.store == nil {
		return nil
	}
	persistCtx := context.WithoutCancel(ctx)
	cp := &statestore.Checkpoint{
		StateID: executionID,
		StepID:  stepID,
		State: statestore.WorkflowState{
			StateID: executionID,
			Context: ec.Snapshot(),
		},
	}
	return r.store.CreateCheckpoint(persistCtx, cp, retention)
}

// classifyContextErr maps a context error (and, where relevant, the
// cancellation token) to the orcherr taxonomy.
func classifyContextErr(ctxErr error, token *CancellationToken) error {
	if token != nil && token.IsCancelled() {
		return orcherr.New(orcherr.KindCancelled, "workflow execution cancelled")
	}
	return orcherr.New(orcherr.KindTimeout, fmt.Sprintf("workflow execution timed out: %v", ctxErr))
}
