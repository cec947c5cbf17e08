package workflow

import (
	"fmt"
	"sort"
	"time"
)

// StepKind enumerates the four step kinds the engine dispatches.
type StepKind string

const (
	StepKindLLM          StepKind = "llm"
	StepKindEmbed        StepKind = "embed"
	StepKindVectorSearch StepKind = "vector_search"
	StepKindTransform    StepKind = "transform"
)

// RetryStrategy enumerates the supported backoff shapes for a RetryPolicy.
type RetryStrategy string

const (
	RetryExponential RetryStrategy = "exponential"
	RetryLinear      RetryStrategy = "linear"
	RetryFixed       RetryStrategy = "fixed"
)

// DefaultWorkflowTimeout is applied when a Workflow does not declare one.
const DefaultWorkflowTimeout = 3600 * time.Second

// RetryPolicy controls how the retry executor (package retry) schedules
// reattempts of a failed capability invocation.
type RetryPolicy struct {
	MaxAttempts       int           `json:"max_attempts" yaml:"max_attempts"`
	Strategy          RetryStrategy `json:"strategy" yaml:"strategy"`
	InitialDelay      time.Duration `json:"initial_delay" yaml:"initial_delay"`
	MaxDelay          time.Duration `json:"max_delay" yaml:"max_delay"`
	BackoffMultiplier float64       `json:"backoff_multiplier" yaml:"backoff_multiplier"`
	Jitter            bool          `json:"jitter" yaml:"jitter"`
}

// DefaultRetryPolicy returns a conservative single-attempt policy used when
// neither a step nor its workflow declares one.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       1,
		Strategy:          RetryFixed,
		InitialDelay:      time.Second,
		MaxDelay:          time.Second,
		BackoffMultiplier: 1,
		Jitter:            false,
	}
}

func (p RetryPolicy) validate(stepID string) error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("step %q: retry_policy.max_attempts must be >= 1, got %d", stepID, p.MaxAttempts)
	}
	switch p.Strategy {
	case RetryExponential, RetryLinear, RetryFixed:
	default:
		return fmt.Errorf("step %q: unknown retry strategy %q", stepID, p.Strategy)
	}
	if p.InitialDelay < 0 {
		return fmt.Errorf("step %q: retry_policy.initial_delay_ms must be >= 0", stepID)
	}
	if p.MaxDelay < p.InitialDelay {
		return fmt.Errorf("step %q: retry_policy.max_delay_ms must be >= initial_delay_ms", stepID)
	}
	if p.Strategy == RetryExponential && p.BackoffMultiplier <= 0 {
		return fmt.Errorf("step %q: retry_policy.backoff_multiplier must be > 0 for exponential strategy", stepID)
	}
	return nil
}

// transformFunctions is the closed set of deterministic transform
// operations the core ships. An unknown function name is a validation
// error.
var transformFunctions = map[string]bool{
	"merge":  true,
	"filter": true,
	"concat": true,
}

// StepConfig is the kind-specific configuration of a Step. Exactly the
// fields relevant to Kind should be populated; validate() checks the
// combination.
type StepConfig struct {
	// llm / embed
	Provider        string  `json:"provider,omitempty" yaml:"provider,omitempty"`
	Model           string  `json:"model,omitempty" yaml:"model,omitempty"`
	PromptTemplate  string  `json:"prompt_template,omitempty" yaml:"prompt_template,omitempty"`
	SystemTemplate  string  `json:"system_template,omitempty" yaml:"system_template,omitempty"`
	InputTemplate   string  `json:"input_template,omitempty" yaml:"input_template,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	MaxTokens       *int    `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	StreamingHint   bool    `json:"streaming,omitempty" yaml:"streaming,omitempty"`

	// vector_search
	Database         string         `json:"database,omitempty" yaml:"database,omitempty"`
	Index            string         `json:"index,omitempty" yaml:"index,omitempty"`
	QueryTemplate    string         `json:"query_template,omitempty" yaml:"query_template,omitempty"`
	TopK             int            `json:"top_k,omitempty" yaml:"top_k,omitempty"`
	Namespace        string         `json:"namespace,omitempty" yaml:"namespace,omitempty"`
	Filter           map[string]any `json:"filter,omitempty" yaml:"filter,omitempty"`
	IncludeMetadata  bool           `json:"include_metadata,omitempty" yaml:"include_metadata,omitempty"`
	IncludeVectors   bool           `json:"include_vectors,omitempty" yaml:"include_vectors,omitempty"`

	// transform
	Function string   `json:"function,omitempty" yaml:"function,omitempty"`
	Inputs   []string `json:"inputs,omitempty" yaml:"inputs,omitempty"`
}

// Step is a single immutable node in a Workflow.
type Step struct {
	ID           string         `json:"id" yaml:"id"`
	Kind         StepKind       `json:"kind" yaml:"kind"`
	Dependencies []string       `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	Condition    string         `json:"condition,omitempty" yaml:"condition,omitempty"`
	Outputs      []string       `json:"outputs" yaml:"outputs"`
	Config       StepConfig     `json:"config" yaml:"config"`
	Timeout      time.Duration  `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	RetryPolicy  *RetryPolicy   `json:"retry_policy,omitempty" yaml:"retry_policy,omitempty"`
}

// HasCondition reports whether the step declares a condition at all. A step
// with no condition configured is unconditional — distinct from a condition
// that is present but renders to an empty string, which evaluates false
// (see workflow/context.go).
func (s Step) HasCondition() bool {
	return s.Condition != ""
}

func (s Step) validate() error {
	if s.ID == "" {
		return fmt.Errorf("step has empty id")
	}
	switch s.Kind {
	case StepKindLLM:
		if s.Config.Model == "" || s.Config.PromptTemplate == "" {
			return fmt.Errorf("step %q: llm config requires model and prompt_template", s.ID)
		}
	case StepKindEmbed:
		if s.Config.Model == "" || s.Config.InputTemplate == "" {
			return fmt.Errorf("step %q: embed config requires model and input_template", s.ID)
		}
	case StepKindVectorSearch:
		if s.Config.Index == "" || s.Config.QueryTemplate == "" || s.Config.TopK <= 0 {
			return fmt.Errorf("step %q: vector_search config requires index, query_template, and top_k > 0", s.ID)
		}
	case StepKindTransform:
		if !transformFunctions[s.Config.Function] {
			return fmt.Errorf("step %q: unknown transform function %q", s.ID, s.Config.Function)
		}
	default:
		return fmt.Errorf("step %q: unknown kind %q", s.ID, s.Kind)
	}
	if len(s.Outputs) == 0 {
		return fmt.Errorf("step %q: must declare at least one output", s.ID)
	}
	seen := make(map[string]bool, len(s.Outputs))
	for _, o := range s.Outputs {
		if seen[o] {
			return fmt.Errorf("step %q: duplicate output name %q", s.ID, o)
		}
		seen[o] = true
	}
	if s.RetryPolicy != nil {
		if err := s.RetryPolicy.validate(s.ID); err != nil {
			return err
		}
	}
	if s.Timeout < 0 {
		return fmt.Errorf("step %q: timeout must be >= 0", s.ID)
	}
	return nil
}

// Workflow is the immutable, validated definition of a DAG-shaped pipeline.
// Construct via New and always call Validate before deriving a Dag from it.
type Workflow struct {
	ID                 string
	Version            string
	Description        string
	Steps              []Step
	WorkflowTimeout     time.Duration
	DefaultRetryPolicy  *RetryPolicy

	byID map[string]*Step
}

// New constructs a Workflow from its definition fields. It does not
// validate — call Validate() before building a Dag from it.
func New(id, version, description string, steps []Step, workflowTimeout time.Duration, defaultRetryPolicy *RetryPolicy) *Workflow {
	w := &Workflow{
		ID:                 id,
		Version:            version,
		Description:        description,
		Steps:              steps,
		WorkflowTimeout:     workflowTimeout,
		DefaultRetryPolicy:  defaultRetryPolicy,
	}
	w.index()
	return w
}

func (w *Workflow) index() {
	w.byID = make(map[string]*Step, len(w.Steps))
	for i := range w.Steps {
		w.byID[w.Steps[i].ID] = &w.Steps[i]
	}
}

// StepByID looks up a step by id. The Workflow must have been constructed
// via New (and therefore indexed) before calling this.
func (w *Workflow) StepByID(id string) (*Step, bool) {
	if w.byID == nil {
		w.index()
	}
	s, ok := w.byID[id]
	return s, ok
}

// EffectiveTimeout returns the workflow's declared timeout, or
// DefaultWorkflowTimeout if unset.
func (w *Workflow) EffectiveTimeout() time.Duration {
	if w.WorkflowTimeout <= 0 {
		return DefaultWorkflowTimeout
	}
	return w.WorkflowTimeout
}

// EffectiveRetryPolicy resolves the retry policy that applies to step:
// the step's own policy if set, else the workflow default, else the
// package default.
func (w *Workflow) EffectiveRetryPolicy(step Step) RetryPolicy {
	if step.RetryPolicy != nil {
		return *step.RetryPolicy
	}
	if w.DefaultRetryPolicy != nil {
		return *w.DefaultRetryPolicy
	}
	return DefaultRetryPolicy()
}

// Validate performs the structural checks required before a Workflow may be
// built into a Dag: unique step ids, every dependency reference resolvable,
// non-empty outputs, known kinds/functions, retry fields in bounds. It does
// NOT check for cycles — that is DAG Builder's job (Build), since cycle
// detection requires graph traversal rather than a single pass.
func (w *Workflow) Validate() error {
	if w.ID == "" {
		return fmt.Errorf("workflow has empty id")
	}
	if len(w.Steps) == 0 {
		return fmt.Errorf("workflow %q has no steps", w.ID)
	}
	if w.WorkflowTimeout < 0 {
		return fmt.Errorf("workflow %q: workflow_timeout must be >= 0", w.ID)
	}
	if w.DefaultRetryPolicy != nil {
		if err := w.DefaultRetryPolicy.validate("<workflow-default>"); err != nil {
			return fmt.Errorf("workflow %q: %w", w.ID, err)
		}
	}

	seen := make(map[string]bool, len(w.Steps))
	for _, s := range w.Steps {
		if seen[s.ID] {
			return fmt.Errorf("workflow %q: duplicate step id %q", w.ID, s.ID)
		}
		seen[s.ID] = true
		if err := s.validate(); err != nil {
			return fmt.Errorf("workflow %q: %w", w.ID, err)
		}
	}

	ids := make(map[string]bool, len(w.Steps))
	for _, s := range w.Steps {
		ids[s.ID] = true
	}
	missing := map[string]bool{}
	for _, s := range w.Steps {
		for _, dep := range s.Dependencies {
			if !ids[dep] {
				missing[fmt.Sprintf("%s -> %s", s.ID, dep)] = true
			}
		}
	}
	if len(missing) > 0 {
		refs := make([]string, 0, len(missing))
		for r := range missing {
			refs = append(refs, r)
		}
		sort.Strings(refs)
		return fmt.Errorf("workflow %q: dependency references to unknown steps: %v", w.ID, refs)
	}

	w.index()
	return nil
}
