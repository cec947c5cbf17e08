package recovery

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/llmdevops/orchestrator/capability"
	"github.com/llmdevops/orchestrator/retry"
	"github.com/llmdevops/orchestrator/scheduler"
	"github.com/llmdevops/orchestrator/statestore"
	"github.com/llmdevops/orchestrator/workflow"
)

type staticWorkflowProvider struct {
	workflows map[string]*workflow.Workflow
}

func (p staticWorkflowProvider) WorkflowByID(ctx context.Context, id string) (*workflow.Workflow, error) {
	wf, ok := p.workflows[id]
	if !ok {
		return nil, assert.AnError
	}
	return wf, nil
}

func chainWorkflow(id string) *workflow.Workflow {
	steps := []workflow.Step{
		{ID: "a", Kind: workflow.StepKindTransform, Outputs: []string{"v"}, Config: workflow.StepConfig{Function: "concat", Inputs: []string{"inputs.seed"}}},
		{ID: "b", Kind: workflow.StepKindTransform, Dependencies: []string{"a"}, Outputs: []string{"v"}, Config: workflow.StepConfig{Function: "concat", Inputs: []string{"outputs.a.v"}}},
	}
	return workflow.New(id, "1", "", steps, 0, nil)
}

func newTestRunner() *scheduler.Runner {
	dispatcher := capability.NewDispatcher(capability.NewRegistry(), retry.NewExecutor(zap.NewNop()), zap.NewNop())
	return scheduler.NewRunner(dispatcher, statestore.NewMemoryStore(), zap.NewNop())
}

func TestController_RecoverAll_NoActiveWorkflows(t *testing.T) {
	store := statestore.NewMemoryStore()
	dispatcher := capability.NewDispatcher(capability.NewRegistry(), retry.NewExecutor(zap.NewNop()), zap.NewNop())
	runner := scheduler.NewRunner(dispatcher, store, zap.NewNop())
	c := NewController(store, runner, staticWorkflowProvider{}, zap.NewNop())

	outcomes, err := c.RecoverAll(context.Background(), scheduler.Options{})
	require.NoError(t, err)
	assert.Empty(t, outcomes)
}

func TestController_RecoverAll_ResumesFromLatestCheckpoint(t *testing.T) {
	store := statestore.NewMemoryStore()
	wf := chainWorkflow("wf1")

	// Simulate a crashed run that completed step "a" and checkpointed, but
	// never got to "b" (as if the process died right after step a's
	// completion event was recorded and persisted).
	ec := workflow.NewExecutionContext("state1", "wf1", map[string]any{"seed": "x"})
	ec.RecordCompletion("a", map[string]any{"v": "x"}, 0)
	snap := ec.Snapshot()

	state := &statestore.WorkflowState{StateID: "state1", WorkflowID: "wf1", Status: statestore.StatusRunning, Context: snap}
	require.NoError(t, store.SaveWorkflowState(context.Background(), state))
	cp := &statestore.Checkpoint{StateID: "state1", StepID: "a", State: *state}
	require.NoError(t, store.CreateCheckpoint(context.Background(), cp, 10))

	dispatcher := capability.NewDispatcher(capability.NewRegistry(), retry.NewExecutor(zap.NewNop()), zap.NewNop())
	runner := scheduler.NewRunner(dispatcher, store, zap.NewNop())
	c := NewController(store, runner, staticWorkflowProvider{workflows: map[string]*workflow.Workflow{"wf1": wf}}, zap.NewNop())

	outcomes, err := c.RecoverAll(context.Background(), scheduler.Options{})
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	require.NoError(t, outcomes[0].Err)

	assert.Equal(t, workflow.StepStatusCompleted, outcomes[0].Results["a"].Status)
	assert.Equal(t, workflow.StepStatusCompleted, outcomes[0].Results["b"].Status)

	final, err := store.LoadWorkflowState(context.Background(), "state1")
	require.NoError(t, err)
	assert.Equal(t, statestore.StatusCompleted, final.Status)
}

func TestController_RecoverAll_ResetsRunningStepToPendingAndRetries(t *testing.T) {
	store := statestore.NewMemoryStore()
	wf := chainWorkflow("wf2")

	ec := workflow.NewExecutionContext("state2", "wf2", map[string]any{"seed": "y"})
	ec.RecordStart("a") // never completed before the simulated crash
	snap := ec.Snapshot()

	state := &statestore.WorkflowState{StateID: "state2", WorkflowID: "wf2", Status: statestore.StatusRunning, Context: snap}
	require.NoError(t, store.SaveWorkflowState(context.Background(), state))

	dispatcher := capability.NewDispatcher(capability.NewRegistry(), retry.NewExecutor(zap.NewNop()), zap.NewNop())
	runner := scheduler.NewRunner(dispatcher, store, zap.NewNop())
	c := NewController(store, runner, staticWorkflowProvider{workflows: map[string]*workflow.Workflow{"wf2": wf}}, zap.NewNop())

	outcome, err := c.RecoverOne(context.Background(), "state2", scheduler.Options{})
	require.NoError(t, err)
	require.NoError(t, outcome.Err)

	assert.Equal(t, workflow.StepStatusCompleted, outcome.Results["a"].Status)
	assert.Equal(t, workflow.StepStatusCompleted, outcome.Results["b"].Status)
}

func TestController_RecoverAll_UnresolvableWorkflowIsReportedPerState(t *testing.T) {
	store := statestore.NewMemoryStore()
	ec := workflow.NewExecutionContext("state3", "ghost-workflow", nil)
	state := &statestore.WorkflowState{StateID: "state3", WorkflowID: "ghost-workflow", Status: statestore.StatusPending, Context: ec.Snapshot()}
	require.NoError(t, store.SaveWorkflowState(context.Background(), state))

	c := NewController(store, newTestRunner(), staticWorkflowProvider{}, zap.NewNop())
	outcomes, err := c.RecoverAll(context.Background(), scheduler.Options{})
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Error(t, outcomes[0].Err)
}
