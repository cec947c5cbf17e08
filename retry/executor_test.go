package retry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/llmdevops/orchestrator/orcherr"
	"github.com/llmdevops/orchestrator/workflow"
)

func fixedFastPolicy(maxAttempts int) workflow.RetryPolicy {
	return workflow.RetryPolicy{
		MaxAttempts:       maxAttempts,
		Strategy:          workflow.RetryFixed,
		InitialDelay:      time.Millisecond,
		MaxDelay:          10 * time.Millisecond,
		BackoffMultiplier: 1,
		Jitter:            false,
	}
}

func transientErr(msg string) error {
	return orcherr.New(orcherr.KindCapabilityTransient, msg)
}

func TestExecutor_SucceedsOnFirstAttempt(t *testing.T) {
	e := NewExecutor(zap.NewNop())
	calls := 0
	outputs, attempts, err := e.Run(context.Background(), "s1", fixedFastPolicy(3), func(ctx context.Context, attempt int) (map[string]any, error) {
		calls++
		return map[string]any{"ok": true}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, calls)
	assert.Equal(t, true, outputs["ok"])
}

func TestExecutor_RetriesTransientThenSucceeds(t *testing.T) {
	e := NewExecutor(zap.NewNop())
	calls := 0
	outputs, attempts, err := e.Run(context.Background(), "s1", fixedFastPolicy(5), func(ctx context.Context, attempt int) (map[string]any, error) {
		calls++
		if calls < 3 {
			return nil, transientErr("temporary")
		}
		return map[string]any{"done": true}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, calls)
	assert.Equal(t, true, outputs["done"])
}

func TestExecutor_NonRetryableFailsImmediately(t *testing.T) {
	e := NewExecutor(zap.NewNop())
	calls := 0
	permanentErr := orcherr.New(orcherr.KindCapabilityPermanent, "bad auth")
	_, attempts, err := e.Run(context.Background(), "s1", fixedFastPolicy(5), func(ctx context.Context, attempt int) (map[string]any, error) {
		calls++
		return nil, permanentErr
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, attempts)
	assert.Same(t, permanentErr, err)
}

func TestExecutor_ExhaustsAttemptsAndWrapsLastError(t *testing.T) {
	e := NewExecutor(zap.NewNop())
	calls := 0
	_, attempts, err := e.Run(context.Background(), "s1", fixedFastPolicy(3), func(ctx context.Context, attempt int) (map[string]any, error) {
		calls++
		return nil, transientErr("still failing")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 3, attempts)
	assert.Contains(t, err.Error(), "exhausted 3 attempts")
}

func TestExecutor_ContextCancelledDuringBackoff(t *testing.T) {
	e := NewExecutor(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	policy := workflow.RetryPolicy{
		MaxAttempts:       5,
		Strategy:          workflow.RetryFixed,
		InitialDelay:      50 * time.Millisecond,
		MaxDelay:          time.Second,
		BackoffMultiplier: 1,
	}
	calls := 0
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()
	_, _, err := e.Run(ctx, "s1", policy, func(ctx context.Context, attempt int) (map[string]any, error) {
		calls++
		return nil, transientErr("temporary")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retry wait cancelled")
	assert.Equal(t, 1, calls)
}

func TestCalculateDelay_ExponentialClampsToMaxDelay(t *testing.T) {
	policy := workflow.RetryPolicy{
		Strategy:          workflow.RetryExponential,
		InitialDelay:      100 * time.Millisecond,
		MaxDelay:          time.Second,
		BackoffMultiplier: 2.0,
	}
	assert.Equal(t, 100*time.Millisecond, calculateDelay(policy, 1, 1))
	assert.Equal(t, 200*time.Millisecond, calculateDelay(policy, 2, 1))
	assert.Equal(t, 400*time.Millisecond, calculateDelay(policy, 3, 1))
	assert.Equal(t, time.Second, calculateDelay(policy, 10, 1))
}

func TestCalculateDelay_LinearGrowsByRetryNumber(t *testing.T) {
	policy := workflow.RetryPolicy{
		Strategy:     workflow.RetryLinear,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
	}
	assert.Equal(t, 100*time.Millisecond, calculateDelay(policy, 1, 1))
	assert.Equal(t, 200*time.Millisecond, calculateDelay(policy, 2, 1))
	assert.Equal(t, 300*time.Millisecond, calculateDelay(policy, 3, 1))
}

func TestCalculateDelay_FixedIsConstant(t *testing.T) {
	policy := workflow.RetryPolicy{
		Strategy:     workflow.RetryFixed,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     time.Second,
	}
	assert.Equal(t, 50*time.Millisecond, calculateDelay(policy, 1, 1))
	assert.Equal(t, 50*time.Millisecond, calculateDelay(policy, 7, 1))
}

func TestCalculateDelay_JitterStaysWithinFiftyPercentBand(t *testing.T) {
	policy := workflow.RetryPolicy{
		Strategy:     workflow.RetryFixed,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Jitter:       true,
	}
	for i := 0; i < 50; i++ {
		d := calculateDelay(policy, 1, 1)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 150*time.Millisecond)
	}
}

func TestCalculateDelay_RateLimitedScalesUpDelay(t *testing.T) {
	policy := workflow.RetryPolicy{
		Strategy:     workflow.RetryFixed,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
	}
	assert.Equal(t, 100*time.Millisecond, calculateDelay(policy, 1, orcherr.BackoffScale(orcherr.KindTransientNetwork)))
	assert.Equal(t, 400*time.Millisecond, calculateDelay(policy, 1, orcherr.BackoffScale(orcherr.KindRateLimited)))
}

func TestExecutor_RateLimitedRetriesWithLongerBackoffThanTransient(t *testing.T) {
	e := NewExecutor(zap.NewNop())
	policy := workflow.RetryPolicy{
		MaxAttempts:       2,
		Strategy:          workflow.RetryFixed,
		InitialDelay:      10 * time.Millisecond,
		MaxDelay:          time.Second,
		BackoffMultiplier: 1,
	}
	calls := 0
	start := time.Now()
	_, attempts, err := e.Run(context.Background(), "s1", policy, func(ctx context.Context, attempt int) (map[string]any, error) {
		calls++
		if calls == 1 {
			return nil, orcherr.New(orcherr.KindRateLimited, "throttled")
		}
		return map[string]any{"ok": true}, nil
	})
	elapsed := time.Since(start)
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.GreaterOrEqual(t, elapsed, 40*time.Millisecond, "rate_limited retry should wait a scaled-up delay, not the raw 10ms policy delay")
}
