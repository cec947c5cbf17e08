package orcherr

import (
	"errors"
	"testing"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("root")
	err := New(KindCapabilityTransient, "upstream failed").
		WithCause(root).
		WithStep("s1").
		WithRetryable(true)

	if KindOf(err) != KindCapabilityTransient {
		t.Fatalf("expected kind %s, got %s", KindCapabilityTransient, KindOf(err))
	}
	if !IsRetryable(err) {
		t.Fatalf("expected retryable")
	}
	if !errors.Is(err, root) {
		t.Fatalf("expected errors.Is unwrap to root")
	}
	if got := err.Error(); got == "" {
		t.Fatalf("expected non-empty error string")
	}
}

func TestError_DefaultRetryableByKind(t *testing.T) {
	t.Parallel()

	cases := []struct {
		kind      Kind
		retryable bool
	}{
		{KindValidation, false},
		{KindTemplate, false},
		{KindCapabilityTransient, true},
		{KindCapabilityPermanent, false},
		{KindTransientNetwork, true},
		{KindRateLimited, true},
		{KindUpstream5xx, true},
		{KindAuth, false},
		{KindInvalidRequest, false},
		{KindNotFound, false},
		{KindSchemaViolation, false},
		{KindTimeout, true},
		{KindCancelled, false},
		{KindStateConflict, false},
		{KindStateUnavailable, true},
	}

	for _, tc := range cases {
		err := New(tc.kind, "x")
		if err.Retryable != tc.retryable {
			t.Errorf("kind %s: expected retryable=%v, got %v", tc.kind, tc.retryable, err.Retryable)
		}
		if IsRetryable(err) != tc.retryable {
			t.Errorf("kind %s: IsRetryable mismatch", tc.kind)
		}
	}
}

func TestBackoffScale_RateLimitedIsLongerThanDefault(t *testing.T) {
	t.Parallel()

	if BackoffScale(KindRateLimited) <= BackoffScale(KindTransientNetwork) {
		t.Fatalf("expected rate_limited backoff scale to exceed transient_network, got %v <= %v",
			BackoffScale(KindRateLimited), BackoffScale(KindTransientNetwork))
	}
	if got := BackoffScale(KindUpstream5xx); got != 1 {
		t.Fatalf("expected upstream_5xx to use the default scale of 1, got %v", got)
	}
}

func TestError_NonOrchestratorErrorIsNotRetryable(t *testing.T) {
	t.Parallel()

	if IsRetryable(errors.New("plain")) {
		t.Fatalf("expected plain errors to be non-retryable")
	}
	if KindOf(errors.New("plain")) != "" {
		t.Fatalf("expected empty kind for plain errors")
	}
}
