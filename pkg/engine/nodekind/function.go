package nodekind

import (
	"github.com/flowcraft/engine/pkg/engine"
	"github.com/flowcraft/engine/pkg/engine/state"
)

// Func is a value-producing callable wrapped by FunctionNode.
type Func func(ctx engine.Context, s *state.State) (state.Value, error)

// FunctionNode runs a single callable and optionally stores its output
// under a declared key.
type FunctionNode struct {
	Base

	// Fn is the callable. Its error surfaces as a NodeExecution failure.
	Fn Func

	// OutputKey, when non-empty, receives the callable's value.
	OutputKey string

	// NodeCost is the resource weight for governor admission and budget
	// accounting. 0 means the default of 1.0.
	NodeCost float64
}

// NewFunctionNode wraps fn as a node storing its result under outputKey
// (empty for no stored output).
func NewFunctionNode(id string, fn Func, outputKey string) *FunctionNode {
	n := &FunctionNode{Fn: fn, OutputKey: outputKey}
	n.NodeID = id
	if outputKey != "" {
		n.Outputs = []string{outputKey}
	}
	return n
}

// Cost implements engine.Costed.
func (n *FunctionNode) Cost() float64 { return n.NodeCost }

// Execute implements engine.Node.
func (n *FunctionNode) Execute(ctx engine.Context, s *state.State) (engine.NodeResult, error) {
	v, err := n.Fn(ctx, s)
	if err != nil {
		return engine.NodeResult{}, err
	}
	if n.OutputKey != "" {
		if err := s.Set(n.OutputKey, v); err != nil {
			return engine.NodeResult{}, err
		}
	}
	return engine.NodeResult{Value: v, HasValue: true}, nil
}
