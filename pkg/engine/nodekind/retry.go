package nodekind

import (
	"context"
	"time"

	"github.com/flowcraft/engine/pkg/engine"
	"github.com/flowcraft/engine/pkg/engine/errpolicy"
	"github.com/flowcraft/engine/pkg/engine/state"
)

// RetryWrapperNode wraps any executable node with its own retry policy,
// independent of the run's policy registry. On failure it retries until
// success, retries are exhausted, or the classified kind is
// non-retryable.
type RetryWrapperNode struct {
	Base

	// Inner is the wrapped node.
	Inner engine.Node

	// Policy shapes the retries (MaxRetries, delay strategy, retryable
	// kinds).
	Policy errpolicy.PolicyRule

	classifier *errpolicy.Classifier
}

// NewRetryWrapperNode wraps inner under its own id with the given policy.
func NewRetryWrapperNode(id string, inner engine.Node, policy errpolicy.PolicyRule) *RetryWrapperNode {
	policy.Action = errpolicy.ActionRetry
	n := &RetryWrapperNode{
		Inner:      inner,
		Policy:     policy,
		classifier: errpolicy.NewClassifier(),
	}
	n.NodeID = id
	n.Inputs = inner.InputKeys()
	n.Outputs = inner.OutputKeys()
	return n
}

// Validate implements engine.Node, delegating to the wrapped node.
func (n *RetryWrapperNode) Validate(s *state.State) engine.ValidationResult {
	return n.Inner.Validate(s)
}

// ShouldExecute implements engine.Node.
func (n *RetryWrapperNode) ShouldExecute(s *state.State) bool {
	return n.Inner.ShouldExecute(s)
}

// Execute implements engine.Node: run the inner node's lifecycle with
// retries. BudgetExhausted is non-retryable here; the run-level policy
// decides whether it also trips a circuit.
func (n *RetryWrapperNode) Execute(ctx engine.Context, s *state.State) (engine.NodeResult, error) {
	var lastErr error

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return engine.NodeResult{}, err
		}

		if err := n.Inner.Before(ctx, s); err != nil {
			ctx.Logger().Warn("before hook failed", "node_id", n.Inner.ID(), "error", err)
		}
		result, err := n.Inner.Execute(ctx, s)
		if err == nil {
			if hookErr := n.Inner.After(ctx, s, result); hookErr != nil {
				ctx.Logger().Warn("after hook failed", "node_id", n.Inner.ID(), "error", hookErr)
			}
			return result, nil
		}
		lastErr = err
		if hookErr := n.Inner.OnFailure(ctx, s, err); hookErr != nil {
			ctx.Logger().Warn("onFailure hook failed", "node_id", n.Inner.ID(), "error", hookErr)
		}

		ecx := n.classifier.Classify(err, n.Inner.ID(), attempt)
		if !n.Policy.Retryable(ecx) {
			return engine.NodeResult{}, lastErr
		}

		if delay := n.Policy.Delay(attempt); delay > 0 {
			select {
			case <-ctx.Done():
				return engine.NodeResult{}, context.Cause(ctx)
			case <-time.After(delay):
			}
		}
	}
}
