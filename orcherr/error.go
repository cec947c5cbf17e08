// Package orcherr defines the closed error-kind taxonomy used across the
// orchestration engine. Callers key control flow off Kind, never the
// message text.
package orcherr

import "fmt"

// Kind is a stable, enumerable classification of an orchestrator error.
type Kind string

const (
	// KindValidation covers malformed workflows: unknown step id references,
	// cycles, missing outputs, unknown transform functions, out-of-range
	// retry fields. Fatal before execution begins.
	KindValidation Kind = "validation"

	// KindTemplate covers template render or condition evaluation failures.
	// Non-retryable for the failing step.
	KindTemplate Kind = "template"

	// KindCapabilityTransient is the fallback bucket for a capability
	// failure a provider did not classify any more specifically than
	// "retryable". Prefer KindTransientNetwork, KindRateLimited, or
	// KindUpstream5xx when the provider knows which one applies.
	KindCapabilityTransient Kind = "capability_transient"

	// KindCapabilityPermanent is the fallback bucket for a capability
	// failure a provider did not classify any more specifically than
	// "non-retryable". Prefer KindAuth, KindInvalidRequest, KindNotFound,
	// or KindSchemaViolation when the provider knows which one applies.
	KindCapabilityPermanent Kind = "capability_permanent"

	// KindTransientNetwork covers connection resets, DNS failures, and
	// other transport-level errors reaching a capability. Retryable under
	// the step's retry policy at the policy's normal backoff.
	KindTransientNetwork Kind = "transient_network"

	// KindRateLimited covers a capability provider signalling that its
	// caller is being throttled (HTTP 429 or provider-specific quota
	// error). Retryable, but see BackoffScale: this kind gets a longer
	// delay than a generic transient error so a burst of retries doesn't
	// compound the throttling.
	KindRateLimited Kind = "rate_limited"

	// KindUpstream5xx covers a capability provider's own server-side
	// failure (HTTP 5xx or equivalent). Retryable under the step's retry
	// policy.
	KindUpstream5xx Kind = "upstream_5xx"

	// KindAuth covers a capability rejecting the caller's credentials.
	// Non-retryable: retrying with the same credentials cannot succeed.
	KindAuth Kind = "auth"

	// KindInvalidRequest covers a capability rejecting the shape or
	// content of the request itself (bad model name, malformed
	// parameters). Non-retryable.
	KindInvalidRequest Kind = "invalid_request"

	// KindNotFound covers a reference to a capability, provider, or
	// resource that does not exist — an unregistered LLM/embedding
	// provider or vector store name, or a missing remote resource.
	// Non-retryable.
	KindNotFound Kind = "not_found"

	// KindSchemaViolation covers a response or intermediate value that
	// does not match the shape a step's configuration expects (a
	// transform input of the wrong type, a query vector that isn't
	// numeric). Non-retryable.
	KindSchemaViolation Kind = "schema_violation"

	// KindTimeout covers a per-step or workflow-level deadline expiring.
	KindTimeout Kind = "timeout"

	// KindCancelled covers external cancellation observed at a suspension
	// point.
	KindCancelled Kind = "cancelled"

	// KindStateConflict covers an optimistic-concurrency conflict in the
	// state store: another runner already owns the state_id. Fatal for
	// this runner instance.
	KindStateConflict Kind = "state_conflict"

	// KindStateUnavailable covers state-store connectivity failures that
	// the store adapter could not resolve within its own retry envelope.
	KindStateUnavailable Kind = "state_unavailable"
)

// retryableByDefault captures whether a Kind is retryable absent any
// override.
var retryableByDefault = map[Kind]bool{
	KindValidation:          false,
	KindTemplate:            false,
	KindCapabilityTransient: true,
	KindCapabilityPermanent: false,
	KindTransientNetwork:    true,
	KindRateLimited:         true,
	KindUpstream5xx:         true,
	KindAuth:                false,
	KindInvalidRequest:      false,
	KindNotFound:            false,
	KindSchemaViolation:     false,
	KindTimeout:             true,
	KindCancelled:           false,
	KindStateConflict:       false,
	KindStateUnavailable:    true,
}

// backoffScale captures, per Kind, how much longer than the step's
// configured backoff a retry should wait. A rate-limited response means
// the caller is already being throttled; retrying at the same cadence as
// a generic transient failure just compounds it, so rate_limited gets a
// multiple of the policy's normal delay instead of 1x.
var backoffScale = map[Kind]float64{
	KindRateLimited: 4.0,
}

// BackoffScale returns the delay multiplier a retry executor should apply
// on top of a retry policy's normal backoff for the given Kind. Kinds with
// no specific entry scale by 1 (no adjustment).
func BackoffScale(kind Kind) float64 {
	if scale, ok := backoffScale[kind]; ok {
		return scale
	}
	return 1
}

// Error is the structured error type surfaced by every engine component.
type Error struct {
	Kind      Kind
	Message   string
	StepID    string
	Retryable bool
	Cause     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.StepID != "" && e.Cause != nil {
		return fmt.Sprintf("[%s] step %s: %s: %v", e.Kind, e.StepID, e.Message, e.Cause)
	}
	if e.StepID != "" {
		return fmt.Sprintf("[%s] step %s: %s", e.Kind, e.StepID, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates an Error of the given kind, defaulting Retryable from the
// kind's standard classification.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Retryable: retryableByDefault[kind]}
}

// WithStep attaches the originating step id.
func (e *Error) WithStep(stepID string) *Error {
	e.StepID = stepID
	return e
}

// WithCause attaches an underlying cause.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable overrides the default retryability for the kind, e.g. to
// mark a specific capability_transient error non-retryable because the
// step's attempt budget is already exhausted upstream.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// IsRetryable reports whether err is a retryable *Error. Non-*Error values
// are treated as non-retryable.
func IsRetryable(err error) bool {
	var oe *Error
	if e, ok := err.(*Error); ok {
		oe = e
	} else {
		return false
	}
	return oe.Retryable
}

// KindOf extracts the Kind from err, returning "" if err is not an *Error.
func KindOf(err error) Kind {
	if e, ok := err.(*Error); ok {
		return e.Kind
	}
	return ""
}
