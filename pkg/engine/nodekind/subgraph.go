package nodekind

import (
	"context"
	"errors"
	"fmt"

	"github.com/flowcraft/engine/pkg/engine"
	"github.com/flowcraft/engine/pkg/engine/state"
)

// SubgraphNode composes a child graph. The child runs on a copy-on-write
// snapshot of the parent state (it never sees parent writes made after
// the snapshot), inherits the parent's cancellation, and its outputs merge
// back into the parent per the declared merge policy.
type SubgraphNode struct {
	Base

	// Child is the compiled graph to run.
	Child *engine.CompiledGraph

	// Merge reconciles the child's final state into the parent.
	Merge state.MergeOptions

	// RunOptions are forwarded to the child run (step limits, policies).
	RunOptions []engine.RunOption
}

// NewSubgraphNode composes child under the given id.
func NewSubgraphNode(id string, child *engine.CompiledGraph, merge state.MergeOptions) *SubgraphNode {
	n := &SubgraphNode{Child: child, Merge: merge}
	n.NodeID = id
	return n
}

// Execute implements engine.Node.
func (n *SubgraphNode) Execute(ctx engine.Context, s *state.State) (engine.NodeResult, error) {
	if n.Child == nil {
		return engine.NodeResult{}, fmt.Errorf("subgraph %s: no child graph", n.NodeID)
	}

	scoped := s.Snapshot()
	final, err := n.Child.Run(ctx, scoped, n.RunOptions...)
	if err != nil {
		return engine.NodeResult{}, fmt.Errorf("subgraph %s: %w", n.NodeID, err)
	}

	res, err := state.Merge(s, final, n.Merge)
	if err != nil {
		return engine.NodeResult{}, fmt.Errorf("subgraph %s: merge: %w", n.NodeID, err)
	}
	s.Restore(res.Merged)
	return engine.NodeResult{}, nil
}

// ErrRemoteUnsupported is returned by a RemoteSubgraphNode with no invoker
// wired; distributed execution is out of scope, only the hook exists.
var ErrRemoteUnsupported = errors.New("remote subgraph execution not configured")

// RemoteInvoker ships a serialized state to a remote engine and returns
// the serialized result. External collaborator.
type RemoteInvoker interface {
	Invoke(ctx context.Context, endpoint string, payload []byte) ([]byte, error)
}

// RemoteSubgraphNode is the placeholder for running a subgraph on another
// machine: it serializes state, hands it to the configured invoker, and
// merges the returned state. Without an invoker it fails with
// ErrRemoteUnsupported.
type RemoteSubgraphNode struct {
	Base

	Endpoint string
	Invoker  RemoteInvoker
	Merge    state.MergeOptions
}

// NewRemoteSubgraphNode builds the remote placeholder.
func NewRemoteSubgraphNode(id, endpoint string, invoker RemoteInvoker) *RemoteSubgraphNode {
	n := &RemoteSubgraphNode{Endpoint: endpoint, Invoker: invoker}
	n.NodeID = id
	return n
}

// Execute implements engine.Node.
func (n *RemoteSubgraphNode) Execute(ctx engine.Context, s *state.State) (engine.NodeResult, error) {
	if n.Invoker == nil {
		return engine.NodeResult{}, fmt.Errorf("remote subgraph %s: %w", n.NodeID, ErrRemoteUnsupported)
	}

	payload, err := s.Marshal()
	if err != nil {
		return engine.NodeResult{}, fmt.Errorf("remote subgraph %s: serialize: %w", n.NodeID, err)
	}
	result, err := n.Invoker.Invoke(ctx, n.Endpoint, payload)
	if err != nil {
		return engine.NodeResult{}, fmt.Errorf("remote subgraph %s: %w", n.NodeID, err)
	}
	remote, err := state.Unmarshal(result)
	if err != nil {
		return engine.NodeResult{}, fmt.Errorf("remote subgraph %s: decode: %w", n.NodeID, err)
	}

	res, err := state.Merge(s, remote, n.Merge)
	if err != nil {
		return engine.NodeResult{}, fmt.Errorf("remote subgraph %s: merge: %w", n.NodeID, err)
	}
	s.Restore(res.Merged)
	return engine.NodeResult{}, nil
}
