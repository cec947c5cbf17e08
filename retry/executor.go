// Package retry implements the retry executor: it wraps
// a single step attempt in exponential/linear/fixed backoff, classifies
// failures via orcherr's retryable-kind taxonomy rather than a fixed list of
// sentinel errors, and gives up once a step's retry policy is exhausted or a
// non-retryable error kind is returned.
//
// Adapted from llm/retry's backoffRetryer: same overall shape (attempt loop,
// select on ctx.Done vs time.After for the backoff sleep, zap logging around
// each attempt) but driven by workflow.RetryPolicy's three named strategies
// instead of a single hard-coded exponential curve, and classifying errors
// via orcherr.IsRetryable instead of an explicit RetryableErrors allowlist.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/llmdevops/orchestrator/orcherr"
	"github.com/llmdevops/orchestrator/workflow"
)

// AttemptFunc performs one attempt of a step's capability invocation. attempt
// is 1-based.
type AttemptFunc func(ctx context.Context, attempt int) (map[string]any, error)

// Executor runs an AttemptFunc under a workflow.RetryPolicy.
type Executor struct {
	logger *zap.Logger
}

// NewExecutor creates a retry executor. logger may not be nil in production
// wiring; tests may pass zap.NewNop().
func NewExecutor(logger *zap.Logger) *Executor {
	return &Executor{logger: logger}
}

// Run executes fn, retrying according to policy until it succeeds, a
// non-retryable error is returned, the policy's attempts are exhausted, or
// ctx is cancelled while waiting for the next backoff. It returns the
// successful outputs and the number of attempts used, or the last error
// (wrapped with the step id and attempt count on exhaustion).
func (e *Executor) Run(ctx context.Context, stepID string, policy workflow.RetryPolicy, fn AttemptFunc) (map[string]any, int, error) {
	var lastErr error

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := calculateDelay(policy, attempt-1, orcherr.BackoffScale(orcherr.KindOf(lastErr)))
			e.logger.Debug("retrying step",
				zap.String("step_id", stepID),
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", policy.MaxAttempts),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
			select {
			case <-ctx.Done():
				return nil, attempt - 1, fmt.Errorf("step %q: retry wait cancelled: %w", stepID, ctx.Err())
			case <-time.After(delay):
			}
		}

		outputs, err := fn(ctx, attempt)
		if err == nil {
			if attempt > 1 {
				e.logger.Info("step succeeded after retry", zap.String("step_id", stepID), zap.Int("attempt", attempt))
			}
			return outputs, attempt, nil
		}
		lastErr = err

		if !orcherr.IsRetryable(err) {
			e.logger.Debug("step failed with non-retryable error", zap.String("step_id", stepID), zap.Error(err))
			return nil, attempt, err
		}
		if attempt >= policy.MaxAttempts {
			break
		}
	}

	e.logger.Warn("step exhausted retry attempts", zap.String("step_id", stepID), zap.Int("attempts", policy.MaxAttempts), zap.Error(lastErr))
	return nil, policy.MaxAttempts, fmt.Errorf("step %q: exhausted %d attempts: %w", stepID, policy.MaxAttempts, lastErr)
}

// calculateDelay computes the backoff before the given retry number
// (1-based: 1 is the delay before the second overall attempt), following the
// strategy named by policy.Strategy, then scaled by scale (see
// orcherr.BackoffScale — 1 for most kinds, larger for e.g. rate_limited),
// clamped to policy.MaxDelay, with ±50% jitter when policy.Jitter is set.
func calculateDelay(policy workflow.RetryPolicy, retryNumber int, scale float64) time.Duration {
	var delay float64
	switch policy.Strategy {
	case workflow.RetryExponential:
		delay = float64(policy.InitialDelay) * math.Pow(policy.BackoffMultiplier, float64(retryNumber-1))
	case workflow.RetryLinear:
		delay = float64(policy.InitialDelay) * float64(retryNumber)
	case workflow.RetryFixed:
		delay = float64(policy.InitialDelay)
	default:
		delay = float64(policy.InitialDelay)
	}
	delay *= scale

	if maxDelay := float64(policy.MaxDelay); maxDelay > 0 && delay > maxDelay {
		delay = maxDelay
	}

	if policy.Jitter {
		jitter := delay * 0.5
		delay += (rand.Float64()*2 - 1) * jitter
	}
	if delay < 0 {
		delay = 0
	}

	return time.Duration(delay)
}
