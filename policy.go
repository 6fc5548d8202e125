package llmgateway

import (
	"math"
	"math/rand"
	"time"

	"github.com/ferro-labs/llm-gateway/providers"
)

// shouldRetry reports whether a failed attempt should be retried on the
// same chain entry. Only errors flagged retryable qualify, and each
// entry gets at most retryMax retries after the initial attempt.
// Violations are never retryable by construction.
func shouldRetry(err *providers.Error, attempt, retryMax int) bool {
	if err == nil || err.Violation || !err.Retryable {
		return false
	}
	return attempt <= retryMax
}

// backoffDelay computes the pause before retry number i (zero-based):
// base * 2^i plus a uniform jitter in [0, jitterMs). Never negative.
func backoffDelay(i, baseMs, jitterMs int) time.Duration {
	if baseMs < 0 {
		baseMs = 0
	}
	delay := float64(baseMs) * math.Pow(2, float64(i))
	if jitterMs > 0 {
		delay += rand.Float64() * float64(jitterMs) //nolint:gosec // jitter does not need crypto rand
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay * float64(time.Millisecond))
}
