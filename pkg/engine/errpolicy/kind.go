package errpolicy

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	fgerrors "github.com/flowcraft/engine/pkg/engine/errors"
	"github.com/flowcraft/engine/pkg/engine/event"
	"github.com/sony/gobreaker"
)

// Kind is the closed classification of a failure. Classification happens
// once per failure and is immutable through the policy pipeline.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindNodeExecution
	KindTimeout
	KindNetwork
	KindServiceUnavailable
	KindRateLimit
	KindAuthentication
	KindResourceExhaustion
	KindGraphStructure
	KindCancellation
	KindCircuitBreakerOpen
	KindBudgetExhausted
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindUnknown:
		return "unknown"
	case KindValidation:
		return "validation"
	case KindNodeExecution:
		return "node_execution"
	case KindTimeout:
		return "timeout"
	case KindNetwork:
		return "network"
	case KindServiceUnavailable:
		return "service_unavailable"
	case KindRateLimit:
		return "rate_limit"
	case KindAuthentication:
		return "authentication"
	case KindResourceExhaustion:
		return "resource_exhaustion"
	case KindGraphStructure:
		return "graph_structure"
	case KindCancellation:
		return "cancellation"
	case KindCircuitBreakerOpen:
		return "circuit_breaker_open"
	case KindBudgetExhausted:
		return "budget_exhausted"
	default:
		return "unknown"
	}
}

// Transient reports the default retryability of the kind. Registered
// classification rules may override this per error.
func (k Kind) Transient() bool {
	switch k {
	case KindNetwork, KindServiceUnavailable, KindTimeout, KindRateLimit, KindResourceExhaustion:
		return true
	default:
		return false
	}
}

// DefaultSeverity returns the severity assigned when no rule overrides it.
func (k Kind) DefaultSeverity() Severity {
	switch k {
	case KindCancellation:
		return SeverityLow
	case KindRateLimit, KindTimeout, KindNetwork:
		return SeverityMedium
	case KindAuthentication, KindGraphStructure, KindResourceExhaustion, KindBudgetExhausted:
		return SeverityHigh
	case KindCircuitBreakerOpen:
		return SeverityHigh
	default:
		return SeverityMedium
	}
}

// Severity grades how serious a classified failure is.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// String returns the severity name.
func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ErrorContext carries everything the policy pipeline needs about one
// failure. It is built by Classifier.Classify and never mutated afterwards.
type ErrorContext struct {
	Err       error
	Kind      Kind
	Severity  Severity
	Transient bool
	Attempt   int
	NodeID    string
	Timestamp time.Time
}

// Sentinel errors the engine raises itself and the classifier recognizes
// by identity.
var (
	// ErrBudgetExhausted is returned before a resource-tagged node runs
	// when the execution's budget cannot cover its declared cost.
	ErrBudgetExhausted = errors.New("resource budget exhausted")

	// ErrLoopLimitExceeded is raised when a loop node exhausts its
	// maxIterations bound or the engine-wide step limit trips.
	ErrLoopLimitExceeded = errors.New("loop iteration limit exceeded")

	// ErrValidationFailed is raised when a node's declared inputs are
	// missing or violate type constraints.
	ErrValidationFailed = errors.New("node validation failed")
)

// ErrBreakerOpen is the short-circuit error raised while a node's breaker
// is open. It aliases gobreaker's sentinel so callers outside this package
// don't import the library directly.
var ErrBreakerOpen = gobreaker.ErrOpenState

// ClassifyRule maps errors matching a predicate to a kind, optionally
// overriding severity and transient-ness.
type ClassifyRule struct {
	Match     func(error) bool
	Kind      Kind
	Severity  *Severity
	Transient *bool
}

// Classifier turns raw errors into ErrorContexts. Rules added with AddRule
// are consulted before the built-in chain, in registration order.
type Classifier struct {
	rules []ClassifyRule
}

// NewClassifier creates a classifier with the built-in rule chain only.
func NewClassifier() *Classifier {
	return &Classifier{}
}

// AddRule adds a custom classification rule. Custom rules are consulted
// ahead of the built-ins, in registration order.
func (c *Classifier) AddRule(r ClassifyRule) {
	c.rules = append(c.rules, r)
}

// Classify maps err to an immutable ErrorContext for the given node and
// attempt. The chain is: registered rules, exact error types, message
// patterns, then KindNodeExecution for anything unmatched.
func (c *Classifier) Classify(err error, nodeID string, attempt int) ErrorContext {
	ec := ErrorContext{
		Err:       err,
		Attempt:   attempt,
		NodeID:    nodeID,
		Timestamp: time.Now().UTC(),
	}

	kind, sev, transient := c.classify(err)
	ec.Kind = kind
	ec.Severity = sev
	ec.Transient = transient
	return ec
}

func (c *Classifier) classify(err error) (Kind, Severity, bool) {
	for _, r := range c.rules {
		if r.Match != nil && r.Match(err) {
			sev := r.Kind.DefaultSeverity()
			if r.Severity != nil {
				sev = *r.Severity
			}
			transient := r.Kind.Transient()
			if r.Transient != nil {
				transient = *r.Transient
			}
			return r.Kind, sev, transient
		}
	}

	kind := classifyBuiltin(err)
	return kind, kind.DefaultSeverity(), kind.Transient()
}

// classifyBuiltin is the exact-type then message-pattern chain.
func classifyBuiltin(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	// Identity and exact-type checks first.
	switch {
	case errors.Is(err, ErrBudgetExhausted):
		return KindBudgetExhausted
	case errors.Is(err, ErrLoopLimitExceeded):
		return KindGraphStructure
	case errors.Is(err, ErrValidationFailed):
		return KindValidation
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return KindCircuitBreakerOpen
	case errors.Is(err, event.ErrStreamSaturated):
		return KindResourceExhaustion
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCancellation
	}

	var httpErr *fgerrors.HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.StatusCode == 401 || httpErr.StatusCode == 403:
			return KindAuthentication
		case httpErr.StatusCode == 429:
			return KindRateLimit
		case httpErr.StatusCode == 503:
			return KindServiceUnavailable
		case httpErr.StatusCode >= 500:
			return KindNetwork
		default:
			return KindNodeExecution
		}
	}

	var valErr *fgerrors.ValidationError
	if errors.As(err, &valErr) {
		return KindValidation
	}
	var toErr *fgerrors.TimeoutError
	if errors.As(err, &toErr) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindNetwork
	}

	// Message patterns, the coarse fallback tier.
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "too many requests"):
		return KindRateLimit
	case strings.Contains(msg, "unavailable"):
		return KindServiceUnavailable
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"):
		return KindTimeout
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "network"):
		return KindNetwork
	case strings.Contains(msg, "unauthorized"), strings.Contains(msg, "forbidden"), strings.Contains(msg, "authentication"):
		return KindAuthentication
	case strings.Contains(msg, "out of memory"), strings.Contains(msg, "resource exhausted"):
		return KindResourceExhaustion
	}

	return KindNodeExecution
}
