package nodekind

import (
	"github.com/flowcraft/engine/pkg/engine"
	"github.com/flowcraft/engine/pkg/engine/errpolicy"
	"github.com/flowcraft/engine/pkg/engine/state"
)

// ErrorHandlerNode is a no-op on the happy path. It receives control when
// a preceding node's policy resolves to Fallback or Escalate with this
// node as the target, and routes onward by the categorized kind of the
// most recent failure recorded in the execution history.
type ErrorHandlerNode struct {
	Base

	// Routes maps an error kind to a successor. A route matches when its
	// kind's String() equals the kind recorded in the history.
	Routes map[errpolicy.Kind]string

	// Default is the successor when a failure is recorded but no
	// kind-specific route matches. Empty, or no recorded failure, defers
	// to static edges.
	Default string
}

// NewErrorHandlerNode builds a kind-dispatching error handler.
func NewErrorHandlerNode(id string, routes map[errpolicy.Kind]string, defaultTarget string) *ErrorHandlerNode {
	n := &ErrorHandlerNode{Routes: routes, Default: defaultTarget}
	n.NodeID = id
	return n
}

// Execute implements engine.Node; the handler itself does nothing.
func (n *ErrorHandlerNode) Execute(engine.Context, *state.State) (engine.NodeResult, error) {
	return engine.NodeResult{}, nil
}

// NextNodes implements engine.Node, dispatching on the last recorded
// failure's kind.
func (n *ErrorHandlerNode) NextNodes(_ engine.NodeResult, s *state.State) ([]string, error) {
	history := s.History()
	failed := false
	for i := len(history) - 1; i >= 0; i-- {
		step := history[i]
		if step.ErrorKind == "" {
			continue
		}
		failed = true
		for kind, target := range n.Routes {
			if kind.String() == step.ErrorKind {
				return []string{target}, nil
			}
		}
		break
	}
	if failed && n.Default != "" {
		return []string{n.Default}, nil
	}
	return nil, nil
}
