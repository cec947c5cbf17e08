package workflow

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/llmdevops/orchestrator/workflow/expr"
)

// placeholderPattern matches {{ path.to.field }} placeholders. No
// third-party templating library in the reference corpus offers the bare
// (non-dot-prefixed) namespaced lookup this engine's three namespaces
// require — see DESIGN.md for the full justification of this stdlib-based
// renderer.
var placeholderPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.]+)\s*\}\}`)

// renderTemplate substitutes every {{ path }} placeholder in tmpl by
// resolving path against ns (a map built by ExecutionContext.namespaces).
// A placeholder whose path does not resolve is a template error — this
// engine never silently substitutes an empty string for a missing field.
func renderTemplate(tmpl string, ns map[string]any) (string, error) {
	var firstErr error
	out := placeholderPattern.ReplaceAllStringFunc(tmpl, func(match string) string {
		if firstErr != nil {
			return ""
		}
		path := strings.TrimSpace(placeholderPattern.FindStringSubmatch(match)[1])
		val, ok := lookupPath(path, ns)
		if !ok {
			firstErr = fmt.Errorf("unresolved template field %q", path)
			return ""
		}
		return stringify(val)
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

// lookupPath resolves a dotted path against a nested map[string]any,
// mirroring expr.resolveVar's traversal so templates and conditions agree
// on field resolution semantics.
func lookupPath(path string, ns map[string]any) (any, bool) {
	parts := strings.Split(path, ".")
	var current any = ns
	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// stringify renders a resolved value for template substitution. Objects
// (maps) render as "[object]" rather than their Go representation —
// callers that need nested fields of an object output must reference them
// by dotted path (e.g. {{ steps.step1.greeting }}), matching the
// original's own convention for whole-object references.
func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case map[string]any:
		return "[object]"
	default:
		return fmt.Sprintf("%v", t)
	}
}

var exprEvaluator = &expr.Evaluator{}

// evaluateExpr evaluates a boolean expression over ns using the
// comparison/logical-operator evaluator in workflow/expr, rather than
// rendering the expression as a template and string-sniffing the result
// (see SPEC_FULL.md "Condition evaluation" for why this reformulation was
// chosen over the original's approach).
func evaluateExpr(expression string, ns map[string]any) (bool, error) {
	return exprEvaluator.Evaluate(expression, ns)
}
