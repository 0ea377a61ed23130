// Package nodekind ships the node variants the engine's graphs are built
// from: function wrappers, conditional and switch routers, bounded loops,
// subgraphs, error handlers, retry wrappers, human approvals, and REST
// tool calls. Every variant embeds Base, which supplies identity, declared
// key schema, and no-op lifecycle defaults.
package nodekind

import (
	"fmt"

	"github.com/flowcraft/engine/pkg/engine"
	"github.com/flowcraft/engine/pkg/engine/state"
)

// Base carries the identity and declared schema every variant shares, and
// provides sane defaults for the full Node contract: validation checks
// declared inputs, hooks are no-ops, routing defers to static edges.
type Base struct {
	NodeID string
	Label  string
	Desc   string

	// Inputs and Outputs are the node's advisory key schema. Validate
	// fails when a declared input is absent from state.
	Inputs  []string
	Outputs []string
}

// ID implements engine.Node.
func (b *Base) ID() string { return b.NodeID }

// Name implements engine.Node, falling back to the node id.
func (b *Base) Name() string {
	if b.Label != "" {
		return b.Label
	}
	return b.NodeID
}

// Description implements engine.Node.
func (b *Base) Description() string { return b.Desc }

// InputKeys implements engine.Node.
func (b *Base) InputKeys() []string { return b.Inputs }

// OutputKeys implements engine.Node.
func (b *Base) OutputKeys() []string { return b.Outputs }

// IsExecutable implements engine.Node; routing-only variants override.
func (b *Base) IsExecutable() bool { return true }

// Validate checks every declared input key is present.
func (b *Base) Validate(s *state.State) engine.ValidationResult {
	var r engine.ValidationResult
	for _, key := range b.Inputs {
		if !s.Contains(key) {
			r.Errors = append(r.Errors, fmt.Sprintf("missing required input %q", key))
		}
	}
	return r
}

// ShouldExecute implements engine.Node.
func (b *Base) ShouldExecute(*state.State) bool { return true }

// Before implements engine.Node.
func (b *Base) Before(engine.Context, *state.State) error { return nil }

// After implements engine.Node.
func (b *Base) After(engine.Context, *state.State, engine.NodeResult) error { return nil }

// OnFailure implements engine.Node.
func (b *Base) OnFailure(engine.Context, *state.State, error) error { return nil }

// NextNodes implements engine.Node, deferring to static edges.
func (b *Base) NextNodes(engine.NodeResult, *state.State) ([]string, error) { return nil, nil }

// loopMetaKey keys a loop node's iteration counter in state metadata so
// the count survives checkpoints and never leaks across executions of
// different states.
func loopMetaKey(nodeID string) string { return "loop:" + nodeID }

// loopDecisionKey keys a loop node's routing decision between Execute and
// NextNodes.
func loopDecisionKey(nodeID string) string { return "loopnext:" + nodeID }
