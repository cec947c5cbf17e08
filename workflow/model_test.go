package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func simpleTransformStep(id string, deps ...string) Step {
	return Step{
		ID:           id,
		Kind:         StepKindTransform,
		Dependencies: deps,
		Outputs:      []string{"result"},
		Config:       StepConfig{Function: "merge"},
	}
}

func TestWorkflow_ValidateRejectsUnknownKind(t *testing.T) {
	w := New("wf1", "1", "", []Step{{ID: "a", Kind: "bogus", Outputs: []string{"x"}}}, 0, nil)
	err := w.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown kind")
}

func TestWorkflow_ValidateRejectsEmptyOutputs(t *testing.T) {
	w := New("wf1", "1", "", []Step{{ID: "a", Kind: StepKindTransform, Config: StepConfig{Function: "merge"}}}, 0, nil)
	err := w.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one output")
}

func TestWorkflow_ValidateRejectsUnknownTransformFunction(t *testing.T) {
	w := New("wf1", "1", "", []Step{{ID: "a", Kind: StepKindTransform, Outputs: []string{"x"}, Config: StepConfig{Function: "frobnicate"}}}, 0, nil)
	err := w.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown transform function")
}

func TestWorkflow_ValidateRejectsUnresolvedDependency(t *testing.T) {
	w := New("wf1", "1", "", []Step{simpleTransformStep("a", "ghost")}, 0, nil)
	err := w.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown steps")
}

func TestWorkflow_ValidateRejectsDuplicateStepID(t *testing.T) {
	w := New("wf1", "1", "", []Step{simpleTransformStep("a"), simpleTransformStep("a")}, 0, nil)
	err := w.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate step id")
}

func TestWorkflow_ValidateRejectsOutOfRangeRetryPolicy(t *testing.T) {
	s := simpleTransformStep("a")
	s.RetryPolicy = &RetryPolicy{MaxAttempts: 0, Strategy: RetryFixed, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}
	w := New("wf1", "1", "", []Step{s}, 0, nil)
	err := w.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_attempts must be >= 1")
}

func TestWorkflow_EffectiveTimeoutDefaultsTo3600s(t *testing.T) {
	w := New("wf1", "1", "", []Step{simpleTransformStep("a")}, 0, nil)
	assert.Equal(t, DefaultWorkflowTimeout, w.EffectiveTimeout())
}

func TestWorkflow_EffectiveRetryPolicyPrecedence(t *testing.T) {
	stepPolicy := RetryPolicy{MaxAttempts: 5, Strategy: RetryFixed, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}
	wfPolicy := RetryPolicy{MaxAttempts: 3, Strategy: RetryFixed, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}

	withStepPolicy := simpleTransformStep("a")
	withStepPolicy.RetryPolicy = &stepPolicy
	w := New("wf1", "1", "", []Step{withStepPolicy}, 0, &wfPolicy)
	assert.Equal(t, stepPolicy, w.EffectiveRetryPolicy(withStepPolicy))

	withoutStepPolicy := simpleTransformStep("b")
	assert.Equal(t, wfPolicy, w.EffectiveRetryPolicy(withoutStepPolicy))

	noDefaults := New("wf2", "1", "", []Step{simpleTransformStep("a")}, 0, nil)
	assert.Equal(t, DefaultRetryPolicy(), noDefaults.EffectiveRetryPolicy(simpleTransformStep("a")))
}

func TestStep_HasCondition(t *testing.T) {
	unconditional := simpleTransformStep("a")
	assert.False(t, unconditional.HasCondition())

	conditional := simpleTransformStep("b")
	conditional.Condition = "steps.a.result == \"ok\""
	assert.True(t, conditional.HasCondition())
}
