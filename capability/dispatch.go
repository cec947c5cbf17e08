package capability

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/llmdevops/orchestrator/orcherr"
	"github.com/llmdevops/orchestrator/retry"
	"github.com/llmdevops/orchestrator/workflow"
)

// Dispatcher evaluates a ready step's condition, renders its templates,
// wraps the capability invocation in the retry executor, and records the
// outcome into the execution context.
type Dispatcher struct {
	registry *Registry
	retryer  *retry.Executor
	logger   *zap.Logger
}

// NewDispatcher wires a registry and retry executor into a step dispatcher.
func NewDispatcher(registry *Registry, retryer *retry.Executor, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{registry: registry, retryer: retryer, logger: logger}
}

// Execute runs one ready step to a terminal outcome against ec: evaluate
// its condition, record its start, invoke the underlying capability under
// retry, then record completion or failure. It returns the terminal error,
// if any (also recorded into ec); a skipped step returns nil with no
// outputs recorded.
func (d *Dispatcher) Execute(ctx context.Context, wf *workflow.Workflow, step workflow.Step, ec *workflow.ExecutionContext) error {
	if step.HasCondition() {
		ok, err := ec.EvaluateCondition(step.Condition)
		if err != nil {
			wrapped := orcherr.New(orcherr.KindTemplate, "condition evaluation failed").WithStep(step.ID).WithCause(err)
			ec.RecordFailure(step.ID, wrapped, 0)
			return wrapped
		}
		if !ok {
			ec.RecordSkipped(step.ID)
			return nil
		}
	}

	ec.RecordStart(step.ID)
	policy := wf.EffectiveRetryPolicy(step)

	outputs, attempts, err := d.retryer.Run(ctx, step.ID, policy, func(ctx context.Context, attempt int) (map[string]any, error) {
		return d.invoke(ctx, step, ec)
	})
	retryCount := attempts - 1
	if retryCount < 0 {
		retryCount = 0
	}
	if err != nil {
		ec.RecordFailure(step.ID, err, retryCount)
		return err
	}
	ec.RecordCompletion(step.ID, outputs, retryCount)
	return nil
}

func (d *Dispatcher) invoke(ctx context.Context, step workflow.Step, ec *workflow.ExecutionContext) (map[string]any, error) {
	switch step.Kind {
	case workflow.StepKindLLM:
		return d.invokeLLM(ctx, step, ec)
	case workflow.StepKindEmbed:
		return d.invokeEmbed(ctx, step, ec)
	case workflow.StepKindVectorSearch:
		return d.invokeVectorSearch(ctx, step, ec)
	case workflow.StepKindTransform:
		return d.invokeTransform(step, ec)
	default:
		return nil, orcherr.New(orcherr.KindValidation, fmt.Sprintf("unknown step kind %q", step.Kind)).WithStep(step.ID)
	}
}

func renderField(ec *workflow.ExecutionContext, stepID, fieldName, template string) (string, error) {
	if template == "" {
		return "", nil
	}
	out, err := ec.Render(template)
	if err != nil {
		return "", orcherr.New(orcherr.KindTemplate, fmt.Sprintf("render %s", fieldName)).WithStep(stepID).WithCause(err)
	}
	return out, nil
}

func (d *Dispatcher) invokeLLM(ctx context.Context, step workflow.Step, ec *workflow.ExecutionContext) (map[string]any, error) {
	provider, ok := d.registry.LLM(step.Config.Provider)
	if !ok {
		return nil, orcherr.New(orcherr.KindNotFound, fmt.Sprintf("unknown llm provider %q", step.Config.Provider)).WithStep(step.ID)
	}
	prompt, err := renderField(ec, step.ID, "prompt_template", step.Config.PromptTemplate)
	if err != nil {
		return nil, err
	}
	system, err := renderField(ec, step.ID, "system_template", step.Config.SystemTemplate)
	if err != nil {
		return nil, err
	}

	resp, err := provider.Complete(ctx, LLMRequest{
		Model:       step.Config.Model,
		Prompt:      prompt,
		System:      system,
		Temperature: step.Config.Temperature,
		MaxTokens:   step.Config.MaxTokens,
	})
	if err != nil {
		return nil, err
	}

	usage := map[string]any{"input_tokens": resp.InputTokens, "output_tokens": resp.OutputTokens}
	return multiOutput(step.Outputs, resp.Text, resp.Model, usage, resp.RawMetadata, resp), nil
}

func (d *Dispatcher) invokeEmbed(ctx context.Context, step workflow.Step, ec *workflow.ExecutionContext) (map[string]any, error) {
	provider, ok := d.registry.Embedding(step.Config.Provider)
	if !ok {
		return nil, orcherr.New(orcherr.KindNotFound, fmt.Sprintf("unknown embedding provider %q", step.Config.Provider)).WithStep(step.ID)
	}
	input, err := renderField(ec, step.ID, "input_template", step.Config.InputTemplate)
	if err != nil {
		return nil, err
	}

	resp, err := provider.Embed(ctx, EmbedRequest{Model: step.Config.Model, Input: []string{input}})
	if err != nil {
		return nil, err
	}

	var primary any
	if len(resp.Vectors) == 1 {
		primary = resp.Vectors[0]
	} else {
		primary = resp.Vectors
	}
	return multiOutput(step.Outputs, primary, resp.Model, resp.TokenUsage, nil, resp), nil
}

func (d *Dispatcher) invokeVectorSearch(ctx context.Context, step workflow.Step, ec *workflow.ExecutionContext) (map[string]any, error) {
	store, ok := d.registry.VectorStore(step.Config.Database)
	if !ok {
		return nil, orcherr.New(orcherr.KindNotFound, fmt.Sprintf("unknown vector store %q", step.Config.Database)).WithStep(step.ID)
	}
	queryVector, err := resolveQueryVector(ec, step.ID, step.Config.QueryTemplate)
	if err != nil {
		return nil, err
	}

	resp, err := store.Search(ctx, VectorSearchRequest{
		Index:           step.Config.Index,
		QueryVector:     queryVector,
		TopK:            step.Config.TopK,
		Namespace:       step.Config.Namespace,
		Filter:          step.Config.Filter,
		IncludeMetadata: step.Config.IncludeMetadata,
		IncludeVectors:  step.Config.IncludeVectors,
	})
	if err != nil {
		return nil, err
	}

	return multiOutput(step.Outputs, resp.Hits, nil, nil, nil, resp), nil
}

func (d *Dispatcher) invokeTransform(step workflow.Step, ec *workflow.ExecutionContext) (map[string]any, error) {
	fn, ok := d.registry.Transform(step.Config.Function)
	if !ok {
		return nil, orcherr.New(orcherr.KindValidation, fmt.Sprintf("unknown transform function %q", step.Config.Function)).WithStep(step.ID)
	}

	values := make([]any, len(step.Config.Inputs))
	for i, path := range step.Config.Inputs {
		v, ok := ec.Lookup(path)
		if !ok {
			return nil, orcherr.New(orcherr.KindTemplate, fmt.Sprintf("unresolved transform input %q", path)).WithStep(step.ID)
		}
		values[i] = v
	}

	result, err := fn(values)
	if err != nil {
		return nil, orcherr.New(orcherr.KindSchemaViolation, "transform function failed").WithStep(step.ID).WithCause(err)
	}

	out := map[string]any{step.Outputs[0]: result}
	for _, name := range step.Outputs[1:] {
		out[name] = nil
	}
	return out, nil
}

// barePlaceholder matches a query_template that is, in its entirety, a
// single {{ path }} field reference — the only shape resolveQueryVector
// accepts, since a vector_search step's query must resolve to an actual
// vector (usually an upstream embed step's output), not a stringified
// template render.
var barePlaceholder = regexp.MustCompile(`^\{\{\s*([a-zA-Z0-9_.]+)\s*\}\}$`)

// resolveQueryVector resolves a vector_search step's query_template to a
// concrete []float64 by looking up the single field reference it must
// consist of, rather than rendering it as text (the renderer would
// stringify a vector value, which is never a useful query vector).
func resolveQueryVector(ec *workflow.ExecutionContext, stepID, template string) ([]float64, error) {
	m := barePlaceholder.FindStringSubmatch(strings.TrimSpace(template))
	if m == nil {
		return nil, orcherr.New(orcherr.KindTemplate, "query_template must be a single field reference to a vector output, e.g. \"{{ steps.embed.vector }}\"").WithStep(stepID)
	}
	val, ok := ec.Lookup(m[1])
	if !ok {
		return nil, orcherr.New(orcherr.KindTemplate, fmt.Sprintf("unresolved query_template field %q", m[1])).WithStep(stepID)
	}
	return toFloat64Slice(val, stepID)
}

func toFloat64Slice(val any, stepID string) ([]float64, error) {
	switch v := val.(type) {
	case []float64:
		return v, nil
	case []any:
		out := make([]float64, len(v))
		for i, e := range v {
			f, ok := e.(float64)
			if !ok {
				return nil, orcherr.New(orcherr.KindTemplate, "query_template field is not a numeric vector").WithStep(stepID)
			}
			out[i] = f
		}
		return out, nil
	default:
		return nil, orcherr.New(orcherr.KindTemplate, "query_template field is not a vector").WithStep(stepID)
	}
}

// multiOutput implements a step's multi-output fan-out: the first declared
// output receives the primary payload; subsequent outputs receive, in
// order, whatever of (model, usage, metadata) the capability provided;
// "_response" always carries the full raw response for debugging
// regardless of how many outputs were declared.
func multiOutput(outputNames []string, primary, model, usage, metadata any, rawResponse any) map[string]any {
	ordered := []any{primary, model, usage, metadata}
	out := make(map[string]any, len(outputNames)+1)
	for i, name := range outputNames {
		if i < len(ordered) {
			out[name] = ordered[i]
		} else {
			out[name] = nil
		}
	}
	out["_response"] = rawResponse
	return out
}
