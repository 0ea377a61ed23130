package errpolicy

import (
	"math/rand/v2"
	"path"
	"sort"
	"time"
)

// Action is the closed set of recovery actions a resolved policy may pick.
type Action int

const (
	ActionRetry Action = iota
	ActionSkip
	ActionFallback
	ActionRollback
	ActionHalt
	ActionEscalate
	ActionCircuitBreaker
	ActionContinue
)

// String returns the action name.
func (a Action) String() string {
	switch a {
	case ActionRetry:
		return "retry"
	case ActionSkip:
		return "skip"
	case ActionFallback:
		return "fallback"
	case ActionRollback:
		return "rollback"
	case ActionHalt:
		return "halt"
	case ActionEscalate:
		return "escalate"
	case ActionCircuitBreaker:
		return "circuit_breaker"
	case ActionContinue:
		return "continue"
	default:
		return "unknown"
	}
}

// RetryStrategy selects how retry delays grow across attempts.
type RetryStrategy int

const (
	StrategyExponentialBackoff RetryStrategy = iota
	StrategyNoRetry
	StrategyFixedDelay
	StrategyLinearBackoff
	StrategyCustom
)

// DelayFunc computes the delay before the given attempt (1-based) for
// StrategyCustom.
type DelayFunc func(attempt int) time.Duration

// PolicyRule is the resolved decision for one failure: the recovery action
// plus the retry shape when the action is ActionRetry.
type PolicyRule struct {
	Action            Action
	MaxRetries        int
	RetryDelay        time.Duration
	BackoffMultiplier float64
	Jitter            bool
	Strategy          RetryStrategy
	CustomDelay       DelayFunc

	// RetryableKinds restricts retries to the listed kinds. Empty means
	// "any kind whose ErrorContext is transient".
	RetryableKinds []Kind

	// FallbackNodeID is the routing target for ActionFallback and the
	// post-open route for ActionCircuitBreaker.
	FallbackNodeID string

	// Priority orders rules when several match at the same tier; higher
	// wins.
	Priority int
}

// Delay returns the backoff before retry attempt (1-based). Jitter is
// full-jitter: a uniform draw over [0, computed].
func (r PolicyRule) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	var d time.Duration
	switch r.Strategy {
	case StrategyNoRetry:
		return 0
	case StrategyFixedDelay:
		d = r.RetryDelay
	case StrategyLinearBackoff:
		d = time.Duration(attempt) * r.RetryDelay
	case StrategyCustom:
		if r.CustomDelay != nil {
			d = r.CustomDelay(attempt)
		}
	default: // StrategyExponentialBackoff
		mult := r.BackoffMultiplier
		if mult <= 0 {
			mult = 2.0
		}
		d = r.RetryDelay
		for i := 1; i < attempt; i++ {
			d = time.Duration(float64(d) * mult)
		}
	}

	if d < 0 {
		d = 0
	}
	if r.Jitter && d > 0 {
		d = time.Duration(rand.Int64N(int64(d) + 1))
	}
	return d
}

// Retryable reports whether ec is eligible for another attempt under r.
func (r PolicyRule) Retryable(ec ErrorContext) bool {
	if r.Action != ActionRetry || r.Strategy == StrategyNoRetry {
		return false
	}
	if ec.Attempt > r.MaxRetries {
		return false
	}
	if len(r.RetryableKinds) == 0 {
		return ec.Transient
	}
	for _, k := range r.RetryableKinds {
		if k == ec.Kind {
			return true
		}
	}
	return false
}

// DefaultRule is the global fallback when nothing else matches: retry
// transient failures with exponential backoff, halt everything else. The
// split is applied by Resolve, which downgrades ActionRetry to ActionHalt
// for non-retryable contexts.
var DefaultRule = PolicyRule{
	Action:            ActionRetry,
	MaxRetries:        3,
	RetryDelay:        time.Second,
	BackoffMultiplier: 2.0,
	Jitter:            true,
	Strategy:          StrategyExponentialBackoff,
}

type nodeRule struct {
	node string
	rule PolicyRule
}

type patternRule struct {
	pattern string
	rule    PolicyRule
}

type kindRule struct {
	kind Kind
	rule PolicyRule
}

// Registry holds policy rules and resolves the highest-priority match for
// a classified failure. Resolution precedence: per-node, per-node-pattern,
// per-kind, then global.
type Registry struct {
	classifier *Classifier
	nodes      map[string][]PolicyRule
	patterns   []patternRule
	kinds      map[Kind][]PolicyRule
	global     PolicyRule
	globalSet  bool
}

// NewRegistry creates an empty policy registry with a fresh classifier.
func NewRegistry() *Registry {
	return &Registry{
		classifier: NewClassifier(),
		nodes:      make(map[string][]PolicyRule),
		kinds:      make(map[Kind][]PolicyRule),
	}
}

// Classifier exposes the registry's classifier for custom rules.
func (r *Registry) Classifier() *Classifier {
	return r.classifier
}

// Classify runs the registry's classifier.
func (r *Registry) Classify(err error, nodeID string, attempt int) ErrorContext {
	return r.classifier.Classify(err, nodeID, attempt)
}

// ForNode registers a rule that applies only to the named node.
func (r *Registry) ForNode(nodeID string, rule PolicyRule) *Registry {
	r.nodes[nodeID] = append(r.nodes[nodeID], rule)
	return r
}

// ForNodePattern registers a rule for nodes whose id matches a glob
// pattern (path.Match syntax, e.g. "llm-*").
func (r *Registry) ForNodePattern(pattern string, rule PolicyRule) *Registry {
	r.patterns = append(r.patterns, patternRule{pattern: pattern, rule: rule})
	return r
}

// ForKind registers a rule for every failure classified to the given kind.
func (r *Registry) ForKind(kind Kind, rule PolicyRule) *Registry {
	r.kinds[kind] = append(r.kinds[kind], rule)
	return r
}

// SetGlobal installs the catch-all rule, replacing DefaultRule.
func (r *Registry) SetGlobal(rule PolicyRule) *Registry {
	r.global = rule
	r.globalSet = true
	return r
}

// Resolve picks the policy rule for ec at nodeID. Non-retryable contexts
// resolved to ActionRetry are downgraded: BudgetExhausted and
// CircuitBreakerOpen route through fallback, Cancellation halts, and
// anything else halts.
func (r *Registry) Resolve(ec ErrorContext, nodeID string) PolicyRule {
	rule, ok := r.lookup(ec, nodeID)
	if !ok {
		rule = DefaultRule
		if r.globalSet {
			rule = r.global
		}
	}

	if rule.Action == ActionRetry && !rule.Retryable(ec) {
		switch ec.Kind {
		case KindBudgetExhausted, KindCircuitBreakerOpen:
			rule.Action = ActionFallback
		default:
			rule.Action = ActionHalt
		}
	}
	if ec.Kind == KindCancellation {
		rule.Action = ActionHalt
	}
	return rule
}

func (r *Registry) lookup(ec ErrorContext, nodeID string) (PolicyRule, bool) {
	if rules, ok := r.nodes[nodeID]; ok && len(rules) > 0 {
		return highestPriority(rules), true
	}

	var patMatches []PolicyRule
	for _, p := range r.patterns {
		if matched, err := path.Match(p.pattern, nodeID); err == nil && matched {
			patMatches = append(patMatches, p.rule)
		}
	}
	if len(patMatches) > 0 {
		return highestPriority(patMatches), true
	}

	if rules, ok := r.kinds[ec.Kind]; ok && len(rules) > 0 {
		return highestPriority(rules), true
	}

	if r.globalSet {
		return r.global, true
	}
	return PolicyRule{}, false
}

func highestPriority(rules []PolicyRule) PolicyRule {
	out := make([]PolicyRule, len(rules))
	copy(out, rules)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out[0]
}
