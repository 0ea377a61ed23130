package nodekind

import (
	"fmt"
	"time"

	"github.com/flowcraft/engine/pkg/engine"
	"github.com/flowcraft/engine/pkg/engine/errpolicy"
	"github.com/flowcraft/engine/pkg/engine/expr"
	"github.com/flowcraft/engine/pkg/engine/state"
)

// WhileNode iterates back to its body while a predicate over state holds,
// bounded by a hard MaxIters (failing with the loop-limit error on
// exhaustion) and an optional wall-clock Timeout. The iteration counter
// lives in state metadata so it survives checkpoint round trips.
type WhileNode struct {
	Base

	// Predicate is the loop condition (expr syntax over state).
	Predicate string

	// Body is the first node of the loop body; the body routes back to
	// this node.
	Body string

	// Exit is where to go once the predicate fails. Empty terminates the
	// branch.
	Exit string

	// MaxIters is the hard iteration bound. Required (the validator
	// rejects unbounded cycles).
	MaxIters int

	// Timeout, when set, fails the loop once this much wall clock has
	// passed since the first iteration.
	Timeout time.Duration
}

// NewWhileNode builds a bounded while loop.
func NewWhileNode(id, predicate, body, exit string, maxIters int) *WhileNode {
	n := &WhileNode{Predicate: predicate, Body: body, Exit: exit, MaxIters: maxIters}
	n.NodeID = id
	return n
}

// MaxIterations implements engine.LoopBounded.
func (n *WhileNode) MaxIterations() int { return n.MaxIters }

// Execute implements engine.Node: it evaluates the predicate, enforces
// the bounds, and records the routing decision for NextNodes.
func (n *WhileNode) Execute(_ engine.Context, s *state.State) (engine.NodeResult, error) {
	count := int64(0)
	if v, ok := s.Metadata(loopMetaKey(n.NodeID)); ok {
		if c, err := state.As[int64](v); err == nil {
			count = c
		}
	}

	startKey := loopMetaKey(n.NodeID) + ":start"
	if n.Timeout > 0 {
		if v, ok := s.Metadata(startKey); ok {
			if started, err := state.As[time.Time](v); err == nil && time.Since(started) > n.Timeout {
				return engine.NodeResult{}, fmt.Errorf("while %s: %w after %s", n.NodeID, errpolicy.ErrLoopLimitExceeded, n.Timeout)
			}
		} else {
			s.SetMetadata(startKey, state.Time(time.Now().UTC()))
		}
	}

	ok, err := expr.Eval(n.Predicate, s.Vars())
	if err != nil {
		return engine.NodeResult{}, fmt.Errorf("while %s: evaluate %q: %w", n.NodeID, n.Predicate, err)
	}

	if !ok {
		s.SetMetadata(loopDecisionKey(n.NodeID), state.String(n.Exit))
		return engine.NodeResult{}, nil
	}
	if count >= int64(n.MaxIters) {
		return engine.NodeResult{}, fmt.Errorf("while %s: %w after %d iterations", n.NodeID, errpolicy.ErrLoopLimitExceeded, count)
	}

	s.SetMetadata(loopMetaKey(n.NodeID), state.Int64(count+1))
	s.SetMetadata(loopDecisionKey(n.NodeID), state.String(n.Body))
	return engine.NodeResult{}, nil
}

// NextNodes implements engine.Node, following the decision Execute
// recorded.
func (n *WhileNode) NextNodes(_ engine.NodeResult, s *state.State) ([]string, error) {
	v, ok := s.Metadata(loopDecisionKey(n.NodeID))
	if !ok {
		return nil, fmt.Errorf("while %s: no routing decision recorded", n.NodeID)
	}
	target, err := state.As[string](v)
	if err != nil {
		return nil, err
	}
	if target == "" {
		return []string{}, nil
	}
	return []string{target}, nil
}

// ForeachNode iterates over a list stored in state, binding each element
// to ItemKey for the loop body. Iteration stops at the collection's end or
// at MaxIters, whichever comes first.
type ForeachNode struct {
	Base

	// Collection is the state key holding the list to iterate.
	Collection string

	// ItemKey receives the current element on every iteration.
	ItemKey string

	// IndexKey, when non-empty, receives the current zero-based index.
	IndexKey string

	// Body is the first node of the loop body; Exit is the
	// post-iteration successor (empty terminates).
	Body string
	Exit string

	// MaxIters bounds the iteration count alongside the collection size.
	MaxIters int
}

// NewForeachNode builds a bounded foreach loop.
func NewForeachNode(id, collection, itemKey, body, exit string, maxIters int) *ForeachNode {
	n := &ForeachNode{Collection: collection, ItemKey: itemKey, Body: body, Exit: exit, MaxIters: maxIters}
	n.NodeID = id
	n.Inputs = []string{collection}
	return n
}

// MaxIterations implements engine.LoopBounded.
func (n *ForeachNode) MaxIterations() int { return n.MaxIters }

// Execute implements engine.Node.
func (n *ForeachNode) Execute(_ engine.Context, s *state.State) (engine.NodeResult, error) {
	items, err := state.Get[[]state.Value](s, n.Collection)
	if err != nil {
		return engine.NodeResult{}, fmt.Errorf("foreach %s: %w", n.NodeID, err)
	}

	idx := int64(0)
	if v, ok := s.Metadata(loopMetaKey(n.NodeID)); ok {
		if c, convErr := state.As[int64](v); convErr == nil {
			idx = c
		}
	}

	if idx >= int64(len(items)) || idx >= int64(n.MaxIters) {
		s.SetMetadata(loopDecisionKey(n.NodeID), state.String(n.Exit))
		return engine.NodeResult{}, nil
	}

	if err := s.Replace(n.ItemKey, items[idx]); err != nil {
		return engine.NodeResult{}, err
	}
	if n.IndexKey != "" {
		if err := s.Replace(n.IndexKey, state.Int64(idx)); err != nil {
			return engine.NodeResult{}, err
		}
	}
	s.SetMetadata(loopMetaKey(n.NodeID), state.Int64(idx+1))
	s.SetMetadata(loopDecisionKey(n.NodeID), state.String(n.Body))
	return engine.NodeResult{Value: items[idx], HasValue: true}, nil
}

// NextNodes implements engine.Node.
func (n *ForeachNode) NextNodes(_ engine.NodeResult, s *state.State) ([]string, error) {
	v, ok := s.Metadata(loopDecisionKey(n.NodeID))
	if !ok {
		return nil, fmt.Errorf("foreach %s: no routing decision recorded", n.NodeID)
	}
	target, err := state.As[string](v)
	if err != nil {
		return nil, err
	}
	if target == "" {
		return []string{}, nil
	}
	return []string{target}, nil
}
