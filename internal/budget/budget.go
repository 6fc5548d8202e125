// Package budget enforces completion-token and USD cost caps on a
// streaming call. The enforcer is consulted after every token event;
// when a cap is reached the attempt terminates with a budget abort,
// which is a successful return rather than an error.
package budget

import "strings"

// Reason identifies which cap triggered a budget abort.
type Reason string

// Abort reasons.
const (
	ReasonTokenCap Reason = "token_cap"
	ReasonCostCap  Reason = "cost_cap"
)

// Estimator approximates the token count of a text fragment. It is a
// named, swappable function because its accuracy directly affects cap
// behavior: providers that report exact usage override the estimate.
type Estimator func(text string) int

// WordCount is the default estimator: the whitespace-separated word
// count, which is zero only for blank text.
func WordCount(text string) int {
	return len(strings.Fields(text))
}

// Enforcer tracks running totals against configured caps.
type Enforcer struct {
	TokenCap *int
	CostCap  *float64
	Estimate Estimator
}

// NewEnforcer builds an enforcer from the global token cap, the caller's
// per-call max-tokens (the effective token cap is the minimum of the two
// when both are set), and the cost cap. A nil estimator defaults to
// WordCount.
func NewEnforcer(globalTokenCap, maxTokens *int, costCap *float64, estimate Estimator) *Enforcer {
	tokenCap := globalTokenCap
	if maxTokens != nil {
		if tokenCap == nil || *maxTokens < *tokenCap {
			v := *maxTokens
			tokenCap = &v
		}
	}
	if estimate == nil {
		estimate = WordCount
	}
	return &Enforcer{TokenCap: tokenCap, CostCap: costCap, Estimate: estimate}
}

// Check reports whether the running totals have reached a cap.
// The token cap is checked before the cost cap.
func (e *Enforcer) Check(completionTokens int, costUSD float64) (Reason, bool) {
	if e.TokenCap != nil && completionTokens >= *e.TokenCap {
		return ReasonTokenCap, true
	}
	if e.CostCap != nil && costUSD >= *e.CostCap {
		return ReasonCostCap, true
	}
	return "", false
}
