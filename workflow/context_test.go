package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutionContext_RecordCompletionPublishesOutputsAtomically(t *testing.T) {
	c := NewExecutionContext("exec1", "wf1", map[string]any{"name": "ada"})
	c.RecordStart("step1")
	status, ok := c.Status("step1")
	require.True(t, ok)
	assert.Equal(t, StepStatusRunning, status)

	c.RecordCompletion("step1", map[string]any{"greeting": "hello ada"}, 0)
	status, _ = c.Status("step1")
	assert.Equal(t, StepStatusCompleted, status)

	result, ok := c.Result("step1")
	require.True(t, ok)
	assert.Equal(t, "hello ada", result.Outputs["greeting"])
}

func TestExecutionContext_RecordFailureAndSkipped(t *testing.T) {
	c := NewExecutionContext("exec1", "wf1", nil)
	c.RecordStart("step1")
	c.RecordFailure("step1", assertErr("boom"), 2)
	result, ok := c.Result("step1")
	require.True(t, ok)
	assert.Equal(t, StepStatusFailed, result.Status)
	assert.Equal(t, 2, result.RetryCount)
	assert.EqualError(t, result.Error, "boom")

	c.RecordSkipped("step2")
	status, ok := c.Status("step2")
	require.True(t, ok)
	assert.Equal(t, StepStatusSkipped, status)
}

func TestExecutionContext_UnrecordedStepIsImplicitlyPending(t *testing.T) {
	c := NewExecutionContext("exec1", "wf1", nil)
	status, known := c.Status("never-run")
	assert.Equal(t, StepStatusPending, status)
	assert.False(t, known)
}

func TestExecutionContext_RenderResolvesAcrossAllThreeNamespaces(t *testing.T) {
	c := NewExecutionContext("exec1", "wf1", map[string]any{"topic": "go"})
	c.RecordCompletion("fetch", map[string]any{"title": "Effective Go"}, 0)

	out, err := c.Render("bare: {{ topic }} inputs: {{ inputs.topic }} outputs: {{ outputs.fetch.title }} steps: {{ steps.fetch.title }}")
	require.NoError(t, err)
	assert.Equal(t, "bare: go inputs: go outputs: Effective Go steps: Effective Go", out)
}

func TestExecutionContext_RenderErrorsOnUnresolvedField(t *testing.T) {
	c := NewExecutionContext("exec1", "wf1", nil)
	_, err := c.Render("{{ steps.missing.value }}")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "steps.missing.value")
}

func TestExecutionContext_EvaluateConditionTrueAndFalse(t *testing.T) {
	c := NewExecutionContext("exec1", "wf1", nil)
	c.RecordCompletion("check", map[string]any{"ok": true, "count": 3.0}, 0)

	ok, err := c.EvaluateCondition("steps.check.ok == true")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.EvaluateCondition("steps.check.count > 10")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExecutionContext_SnapshotRestoreRoundTrip(t *testing.T) {
	c := NewExecutionContext("exec1", "wf1", map[string]any{"name": "ada"})
	c.RecordCompletion("step1", map[string]any{"greeting": "hi"}, 1)
	c.RecordFailure("step2", assertErr("nope"), 0)

	snap := c.Snapshot()
	restored := Restore(snap)

	assert.Equal(t, c.ExecutionID, restored.ExecutionID)
	assert.Equal(t, c.WorkflowID, restored.WorkflowID)

	origAll := c.AllResults()
	restoredAll := restored.AllResults()
	require.Len(t, restoredAll, len(origAll))
	assert.Equal(t, origAll["step1"].Status, restoredAll["step1"].Status)
	assert.Equal(t, origAll["step1"].Outputs, restoredAll["step1"].Outputs)
	assert.Equal(t, origAll["step2"].Status, restoredAll["step2"].Status)

	out, err := restored.Render("{{ steps.step1.greeting }}")
	require.NoError(t, err)
	assert.Equal(t, "hi", out)
}

type simpleErr string

func (e simpleErr) Error() string { return string(e) }

func assertErr(msg string) error { return simpleErr(msg) }
