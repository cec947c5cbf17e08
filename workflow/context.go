package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// StepStatus is the lifecycle state of a single step within one execution.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
)

// IsTerminal reports whether status is one of the terminal statuses
// (completed, failed, skipped).
func (s StepStatus) IsTerminal() bool {
	switch s {
	case StepStatusCompleted, StepStatusFailed, StepStatusSkipped:
		return true
	default:
		return false
	}
}

// StepResult is the recorded outcome of executing one step.
type StepResult struct {
	Status     StepStatus
	StartTime  *time.Time
	EndTime    *time.Time
	Outputs    map[string]any
	Error      error
	RetryCount int
}

// stepResultJSON is StepResult's wire shape: Error becomes a plain string
// since encoding/json cannot decode into a non-empty interface field.
// Restoring a persisted StepResult therefore loses the original error's
// orcherr.Kind classification — acceptable because a restored step that was
// merely "failed" (not "running") is never re-examined for its kind, only
// reported in the recovered per-step-result map, and a restored "running"
// step is reset to pending before the Error field is ever read (see the
// recovery controller).
type stepResultJSON struct {
	Status     StepStatus       `json:"status"`
	StartTime  *time.Time       `json:"start_time,omitempty"`
	EndTime    *time.Time       `json:"end_time,omitempty"`
	Outputs    map[string]any   `json:"outputs,omitempty"`
	Error      string           `json:"error,omitempty"`
	RetryCount int              `json:"retry_count"`
}

// MarshalJSON renders Error as its message string.
func (r StepResult) MarshalJSON() ([]byte, error) {
	j := stepResultJSON{
		Status:     r.Status,
		StartTime:  r.StartTime,
		EndTime:    r.EndTime,
		Outputs:    r.Outputs,
		RetryCount: r.RetryCount,
	}
	if r.Error != nil {
		j.Error = r.Error.Error()
	}
	return json.Marshal(j)
}

// UnmarshalJSON restores every field except the original error's structured
// kind, which does not round-trip (see stepResultJSON).
func (r *StepResult) UnmarshalJSON(data []byte) error {
	var j stepResultJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	r.Status = j.Status
	r.StartTime = j.StartTime
	r.EndTime = j.EndTime
	r.Outputs = j.Outputs
	r.RetryCount = j.RetryCount
	r.Error = nil
	if j.Error != "" {
		r.Error = errors.New(j.Error)
	}
	return nil
}

// ExecutionContext is the shared, mutable per-execution state: inputs,
// per-step outputs, step results, and classified errors. It is
// single-writer-per-step (record* methods take a lock for the duration of
// one step's update) and many-reader (Render/EvaluateCondition take a
// read lock to produce a point-in-time snapshot).
type ExecutionContext struct {
	ExecutionID string
	WorkflowID  string

	mu      sync.RWMutex
	inputs  map[string]any
	outputs map[string]map[string]any // stepID -> outputName -> value
	results map[string]*StepResult
}

// NewExecutionContext creates a fresh context for one execution.
func NewExecutionContext(executionID, workflowID string, inputs map[string]any) *ExecutionContext {
	if inputs == nil {
		inputs = map[string]any{}
	}
	return &ExecutionContext{
		ExecutionID: executionID,
		WorkflowID:  workflowID,
		inputs:      inputs,
		outputs:     make(map[string]map[string]any),
		results:     make(map[string]*StepResult),
	}
}

// RecordStart marks stepID running, initializing its result if absent.
func (c *ExecutionContext) RecordStart(stepID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	c.results[stepID] = &StepResult{Status: StepStatusRunning, StartTime: &now}
}

// RecordCompletion atomically publishes outputs for stepID and marks it
// completed. Outputs are write-once per execution attempt: a retry that
// eventually succeeds overwrites the step's own prior partial outputs in
// one atomic critical section, never leaving a half-written map visible to
// a concurrent reader: outputs are write-once per step execution.
func (c *ExecutionContext) RecordCompletion(stepID string, outputs map[string]any, retryCount int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	c.outputs[stepID] = outputs
	r, ok := c.results[stepID]
	if !ok {
		r = &StepResult{}
		c.results[stepID] = r
	}
	r.Status = StepStatusCompleted
	r.EndTime = &now
	r.Outputs = outputs
	r.RetryCount = retryCount
}

// RecordFailure marks stepID failed with a classified error.
func (c *ExecutionContext) RecordFailure(stepID string, err error, retryCount int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	r, ok := c.results[stepID]
	if !ok {
		r = &StepResult{}
		c.results[stepID] = r
	}
	r.Status = StepStatusFailed
	r.EndTime = &now
	r.Error = err
	r.RetryCount = retryCount
}

// RecordSkipped marks stepID skipped, publishing no outputs.
func (c *ExecutionContext) RecordSkipped(stepID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	c.results[stepID] = &StepResult{Status: StepStatusSkipped, EndTime: &now}
}

// Status returns the current status of stepID and whether it has been
// recorded at all (an un-recorded step is implicitly pending).
func (c *ExecutionContext) Status(stepID string) (StepStatus, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.results[stepID]
	if !ok {
		return StepStatusPending, false
	}
	return r.Status, true
}

// Result returns a copy of the recorded result for stepID, if any.
func (c *ExecutionContext) Result(stepID string) (StepResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.results[stepID]
	if !ok {
		return StepResult{}, false
	}
	return *r, true
}

// AllResults returns a shallow copy of every recorded step result, keyed by
// step id — the per-step-result map returned to callers of execute/resume.
func (c *ExecutionContext) AllResults() map[string]StepResult {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]StepResult, len(c.results))
	for k, v := range c.results {
		out[k] = *v
	}
	return out
}

// namespaces builds the three-namespace view (inputs/outputs/steps) used by
// Render and EvaluateCondition, under the read lock's point-in-time
// snapshot. Following original_source's context.rs: inputs are exposed both
// flattened at the root and under "inputs"; per-step output maps are
// exposed identically under both "outputs" and "steps" — "steps" is not a
// separately computed richer view, it is the same map under a second name.
func (c *ExecutionContext) namespaces() map[string]any {
	ns := make(map[string]any, len(c.inputs)+3)
	for k, v := range c.inputs {
		ns[k] = v
	}

	inputsCopy := make(map[string]any, len(c.inputs))
	for k, v := range c.inputs {
		inputsCopy[k] = v
	}
	ns["inputs"] = inputsCopy

	outputsCopy := make(map[string]any, len(c.outputs))
	for stepID, stepOutputs := range c.outputs {
		m := make(map[string]any, len(stepOutputs))
		for k, v := range stepOutputs {
			m[k] = v
		}
		outputsCopy[stepID] = m
	}
	ns["outputs"] = outputsCopy
	ns["steps"] = outputsCopy

	return ns
}

// Lookup resolves a dotted path (e.g. "outputs.step1.value") against the
// current namespaces. Used by the transform step executor to pull concrete
// values referenced by a step's config.Inputs list.
func (c *ExecutionContext) Lookup(path string) (any, bool) {
	c.mu.RLock()
	ns := c.namespaces()
	c.mu.RUnlock()
	return lookupPath(path, ns)
}

// Render renders a template string against the current namespaces. See
// render.go for the renderer itself.
func (c *ExecutionContext) Render(template string) (string, error) {
	c.mu.RLock()
	ns := c.namespaces()
	c.mu.RUnlock()
	out, err := renderTemplate(template, ns)
	if err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return out, nil
}

// EvaluateCondition evaluates step.Condition as a boolean expression over
// the current namespaces. A step with no condition configured is always
// true — that case is handled by the caller checking Step.HasCondition()
// before calling this; EvaluateCondition itself always evaluates the given
// non-empty expression.
func (c *ExecutionContext) EvaluateCondition(expression string) (bool, error) {
	c.mu.RLock()
	ns := c.namespaces()
	c.mu.RUnlock()
	return evaluateExpr(expression, ns)
}

// Snapshot produces a serializable copy of the context for checkpointing.
type Snapshot struct {
	ExecutionID string
	WorkflowID  string
	Inputs      map[string]any
	Outputs     map[string]map[string]any
	Results     map[string]StepResult
}

// Snapshot returns a deep-enough copy of the context suitable for
// persistence; Restore(Snapshot(c)) round-trips it up to map insertion
// order, which carries no meaning here.
func (c *ExecutionContext) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	inputs := make(map[string]any, len(c.inputs))
	for k, v := range c.inputs {
		inputs[k] = v
	}
	outputs := make(map[string]map[string]any, len(c.outputs))
	for stepID, m := range c.outputs {
		cp := make(map[string]any, len(m))
		for k, v := range m {
			cp[k] = v
		}
		outputs[stepID] = cp
	}
	results := make(map[string]StepResult, len(c.results))
	for k, v := range c.results {
		results[k] = *v
	}

	return Snapshot{
		ExecutionID: c.ExecutionID,
		WorkflowID:  c.WorkflowID,
		Inputs:      inputs,
		Outputs:     outputs,
		Results:     results,
	}
}

// Restore replaces the context's contents with snap. Used only by the
// recovery controller prior to re-entering the scheduler.
func Restore(snap Snapshot) *ExecutionContext {
	c := NewExecutionContext(snap.ExecutionID, snap.WorkflowID, snap.Inputs)
	for stepID, m := range snap.Outputs {
		c.outputs[stepID] = m
	}
	for stepID, r := range snap.Results {
		rCopy := r
		c.results[stepID] = &rCopy
	}
	return c
}
