// Package policy evaluates retry rules for outbound processor calls. Rules
// are govaluate expressions over the attempt number and the failure shape,
// compiled once at construction.
package policy

import (
	"fmt"

	"github.com/Knetic/govaluate"
)

// Rule pairs an identifier with an expression over the parameters `attempt`
// (1-based), `status_code` (0 for transport failures) and `transient`.
type Rule struct {
	ID         string
	Expression string
}

// DefaultRules retry transport failures and 5xx/429 responses, three
// attempts in total.
func DefaultRules() []Rule {
	return []Rule{
		{ID: "transient_backoff", Expression: "attempt < 3 && (transient || status_code >= 500 || status_code == 429)"},
	}
}

type compiledRule struct {
	id   string
	expr *govaluate.EvaluableExpression
}

// RetryPolicy decides whether a failed processor call may be reattempted.
// The coordinator never consults it; retrying a confirm that may already
// have charged the card is the caller's decision, not the system's.
type RetryPolicy struct {
	rules []compiledRule
}

// NewRetryPolicy compiles the rule expressions up front so a malformed rule
// fails at construction, not mid-payment.
func NewRetryPolicy(rules []Rule) (*RetryPolicy, error) {
	compiled := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		if r.Expression == "" {
			return nil, fmt.Errorf("policy rule %q has an empty expression", r.ID)
		}
		expr, err := govaluate.NewEvaluableExpression(r.Expression)
		if err != nil {
			return nil, fmt.Errorf("failed to compile rule %q: %w", r.ID, err)
		}
		compiled = append(compiled, compiledRule{id: r.ID, expr: expr})
	}
	return &RetryPolicy{rules: compiled}, nil
}

// ShouldRetry reports whether any rule allows another attempt after attempt
// attempts have been made.
func (p *RetryPolicy) ShouldRetry(attempt, statusCode int, transient bool) bool {
	params := map[string]interface{}{
		"attempt":     attempt,
		"status_code": statusCode,
		"transient":   transient,
	}
	for _, r := range p.rules {
		result, err := r.expr.Evaluate(params)
		if err != nil {
			// A rule that cannot evaluate against these parameters simply
			// does not grant a retry.
			continue
		}
		if allowed, ok := result.(bool); ok && allowed {
			return true
		}
	}
	return false
}
