package nodekind

import (
	"fmt"

	"github.com/flowcraft/engine/pkg/engine"
	"github.com/flowcraft/engine/pkg/engine/resttool"
	"github.com/flowcraft/engine/pkg/engine/state"
)

// RESTToolNode invokes a REST-described tool at the engine's I/O boundary.
// Declared input keys are read from state and become the tool's inputs;
// the JSON response is stored under OutputKey. Each call carries an
// idempotency key derived from the run and node so policy-driven retries
// are safe.
type RESTToolNode struct {
	Base

	// Tool describes the endpoint.
	Tool resttool.Schema

	// Client performs the calls. Required.
	Client *resttool.Client

	// OutputKey receives the response object.
	OutputKey string

	// NodeCost is the budget/governor weight of one call.
	NodeCost float64
}

// NewRESTToolNode builds a tool-invocation node reading the given state
// keys as inputs.
func NewRESTToolNode(id string, client *resttool.Client, tool resttool.Schema, inputKeys []string, outputKey string) *RESTToolNode {
	n := &RESTToolNode{Tool: tool, Client: client, OutputKey: outputKey}
	n.NodeID = id
	n.Inputs = inputKeys
	if outputKey != "" {
		n.Outputs = []string{outputKey}
	}
	return n
}

// Cost implements engine.Costed.
func (n *RESTToolNode) Cost() float64 { return n.NodeCost }

// Execute implements engine.Node.
func (n *RESTToolNode) Execute(ctx engine.Context, s *state.State) (engine.NodeResult, error) {
	if n.Client == nil {
		return engine.NodeResult{}, fmt.Errorf("rest tool %s: no client configured", n.NodeID)
	}

	inputs := make(map[string]any, len(n.Inputs))
	for _, key := range n.Inputs {
		v, ok := s.TryGetValue(key)
		if !ok {
			return engine.NodeResult{}, fmt.Errorf("rest tool %s: input %q absent", n.NodeID, key)
		}
		inputs[key] = v.Raw()
	}

	idempotencyKey := ctx.RunID() + ":" + n.NodeID
	outputs, err := n.Client.Call(ctx, n.Tool, inputs, idempotencyKey)
	if err != nil {
		return engine.NodeResult{}, err
	}

	raw := make(map[string]any, len(outputs))
	for k, v := range outputs {
		raw[k] = v
	}
	value, err := state.FromAny(raw)
	if err != nil {
		return engine.NodeResult{}, fmt.Errorf("rest tool %s: wrap response: %w", n.NodeID, err)
	}
	if n.OutputKey != "" {
		if err := s.Replace(n.OutputKey, value); err != nil {
			return engine.NodeResult{}, err
		}
	}
	return engine.NodeResult{Value: value, HasValue: true}, nil
}
