package nodekind

import (
	"fmt"

	"github.com/flowcraft/engine/pkg/engine"
	"github.com/flowcraft/engine/pkg/engine/expr"
	"github.com/flowcraft/engine/pkg/engine/state"
)

// Branch is one arm of a ConditionalNode: a pure predicate over state and
// the node to route to when it holds.
type Branch struct {
	When   string
	Target string
}

// ConditionalNode is routing-only: it never executes, and its NextNodes
// picks exactly one successor by evaluating branch predicates in declared
// order, falling back to Default. With no Default and no match the branch
// terminates.
type ConditionalNode struct {
	Base

	Branches []Branch
	Default  string
}

// NewConditionalNode builds a conditional router.
func NewConditionalNode(id string, branches []Branch, defaultTarget string) *ConditionalNode {
	n := &ConditionalNode{Branches: branches, Default: defaultTarget}
	n.NodeID = id
	return n
}

// IsExecutable implements engine.Node: conditionals never execute.
func (n *ConditionalNode) IsExecutable() bool { return false }

// Execute implements engine.Node; the executor never calls it.
func (n *ConditionalNode) Execute(engine.Context, *state.State) (engine.NodeResult, error) {
	return engine.NodeResult{}, fmt.Errorf("conditional node %s is not executable", n.NodeID)
}

// NextNodes implements engine.Node.
func (n *ConditionalNode) NextNodes(_ engine.NodeResult, s *state.State) ([]string, error) {
	vars := s.Vars()
	for _, b := range n.Branches {
		ok, err := expr.Eval(b.When, vars)
		if err != nil {
			return nil, fmt.Errorf("conditional %s: evaluate %q: %w", n.NodeID, b.When, err)
		}
		if ok {
			return []string{b.Target}, nil
		}
	}
	if n.Default != "" {
		return []string{n.Default}, nil
	}
	return []string{}, nil
}

// SwitchCase is one labeled arm of a SwitchNode.
type SwitchCase struct {
	Value  string
	Target string
}

// SwitchNode routes on the string form of one state key across labeled
// cases with a default. Like ConditionalNode it is routing-only.
type SwitchNode struct {
	Base

	// Key is the state entry whose value selects the case.
	Key     string
	Cases   []SwitchCase
	Default string
}

// NewSwitchNode builds a switch router over the given state key.
func NewSwitchNode(id, key string, cases []SwitchCase, defaultTarget string) *SwitchNode {
	n := &SwitchNode{Key: key, Cases: cases, Default: defaultTarget}
	n.NodeID = id
	n.Inputs = []string{key}
	return n
}

// IsExecutable implements engine.Node.
func (n *SwitchNode) IsExecutable() bool { return false }

// Execute implements engine.Node; the executor never calls it.
func (n *SwitchNode) Execute(engine.Context, *state.State) (engine.NodeResult, error) {
	return engine.NodeResult{}, fmt.Errorf("switch node %s is not executable", n.NodeID)
}

// NextNodes implements engine.Node.
func (n *SwitchNode) NextNodes(_ engine.NodeResult, s *state.State) ([]string, error) {
	v, ok := s.TryGetValue(n.Key)
	if !ok {
		if n.Default != "" {
			return []string{n.Default}, nil
		}
		return nil, fmt.Errorf("switch %s: key %q absent and no default", n.NodeID, n.Key)
	}
	have := fmt.Sprint(v.Raw())
	for _, c := range n.Cases {
		if c.Value == have {
			return []string{c.Target}, nil
		}
	}
	if n.Default != "" {
		return []string{n.Default}, nil
	}
	return []string{}, nil
}
