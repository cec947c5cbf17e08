package capability

import (
	"fmt"

	"github.com/llmdevops/orchestrator/workflow/expr"
)

// builtinTransforms is the closed set of deterministic transform functions
// the core ships: merge, filter, concat. An unknown name is a configuration
// error caught at validation, not a dispatch-time failure. Each operates on
// the already context-resolved values named by a transform step's
// config.inputs, in declared order.
var builtinTransforms = map[string]TransformFunc{
	"merge":  transformMerge,
	"filter": transformFilter,
	"concat": transformConcat,
}

// transformMerge shallow-merges any number of map inputs into one map,
// later inputs overriding earlier ones on key collision.
func transformMerge(values []any) (any, error) {
	out := make(map[string]any)
	for i, v := range values {
		m, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("merge: input %d is not an object", i)
		}
		for k, val := range m {
			out[k] = val
		}
	}
	return out, nil
}

// transformFilter keeps elements of a list input for which a boolean
// condition expression evaluates true. values[0] must be a list; values[1]
// must be a condition string evaluated with the element exposed both as
// "item" and, when the element is itself a map, flattened at the root
// (mirroring the three-namespace convention used for template rendering).
func transformFilter(values []any) (any, error) {
	if len(values) != 2 {
		return nil, fmt.Errorf("filter: requires exactly 2 inputs (list, condition), got %d", len(values))
	}
	items, ok := values[0].([]any)
	if !ok {
		return nil, fmt.Errorf("filter: input 0 is not a list")
	}
	condition, ok := values[1].(string)
	if !ok {
		return nil, fmt.Errorf("filter: input 1 is not a condition string")
	}

	evaluator := &expr.Evaluator{}
	out := make([]any, 0, len(items))
	for _, item := range items {
		ns := map[string]any{"item": item}
		if m, ok := item.(map[string]any); ok {
			for k, v := range m {
				ns[k] = v
			}
		}
		keep, err := evaluator.Evaluate(condition, ns)
		if err != nil {
			return nil, fmt.Errorf("filter: condition: %w", err)
		}
		if keep {
			out = append(out, item)
		}
	}
	return out, nil
}

// transformConcat concatenates its inputs: all-string inputs join into one
// string; all-list inputs flatten into one list. Mixed kinds are a
// configuration error.
func transformConcat(values []any) (any, error) {
	if len(values) == 0 {
		return "", nil
	}
	if allStrings(values) {
		var out string
		for _, v := range values {
			out += v.(string)
		}
		return out, nil
	}
	if allLists(values) {
		var out []any
		for _, v := range values {
			out = append(out, v.([]any)...)
		}
		return out, nil
	}
	return nil, fmt.Errorf("concat: inputs must be all strings or all lists")
}

func allStrings(values []any) bool {
	for _, v := range values {
		if _, ok := v.(string); !ok {
			return false
		}
	}
	return true
}

func allLists(values []any) bool {
	for _, v := range values {
		if _, ok := v.([]any); !ok {
			return false
		}
	}
	return true
}
