package engine

import (
	"time"

	"github.com/flowcraft/engine/pkg/engine/state"
)

// END is the terminal node identifier.
// Use this as an edge target to indicate the graph should terminate.
const END = "__end__"

// NodeFunc is the signature for plain function nodes added with AddNode.
// Nodes receive the execution context and the current state, and return
// the updated state (or the same reference) and any error.
//
// Example:
//
//	func upper(ctx engine.Context, s *state.State) (*state.State, error) {
//	    in, _ := state.Get[string](s, "input")
//	    return s, s.Set("output", state.String(strings.ToUpper(in)))
//	}
type NodeFunc func(ctx Context, s *state.State) (*state.State, error)

// RouterFunc determines the next node based on state.
// It is used for conditional edges where the next node depends on runtime
// state. The router should return a valid node ID or engine.END.
type RouterFunc func(ctx Context, s *state.State) string

// ValidationResult collects the outcome of a node's pre-execution checks.
type ValidationResult struct {
	Errors   []string
	Warnings []string
}

// OK reports whether validation passed (warnings do not fail validation).
func (r ValidationResult) OK() bool {
	return len(r.Errors) == 0
}

// Suspend asks the engine to pause the current branch until an external
// response arrives for RequestID, or Deadline passes.
type Suspend struct {
	// RequestID keys the resume handle the engine registers.
	RequestID string

	// Prompt is shown to whoever answers the request.
	Prompt string

	// Deadline bounds how long the branch may stay suspended.
	Deadline time.Time
}

// NodeResult is what a node's Execute returns on the happy path: an
// optional output value and an optional suspension marker.
type NodeResult struct {
	// Value is the node's output, stored by variants that declare an
	// output key. HasValue distinguishes "no output" from a zero Value.
	Value    state.Value
	HasValue bool

	// Suspend, when non-nil, pauses the branch (human-in-the-loop).
	Suspend *Suspend
}

// Node is the uniform contract every graph node implements. Variants
// (function wrapper, conditional, loops, subgraph, approval, ...) live in
// the nodekind package; plain functions are wrapped automatically by
// Graph.AddNode.
//
// Semantics the executor relies on:
//   - Validate must not mutate state.
//   - ShouldExecute is deterministic and side-effect free.
//   - Execute is the only mutating operation and must honor ctx
//     cancellation.
//   - Before/After/OnFailure are advisory; their errors are recorded as
//     warnings and never change the run's outcome.
//   - NextNodes returning nil defers to the graph's static edges; an
//     empty non-nil slice terminates the branch.
type Node interface {
	ID() string
	Name() string
	Description() string

	InputKeys() []string
	OutputKeys() []string
	IsExecutable() bool

	Validate(s *state.State) ValidationResult
	ShouldExecute(s *state.State) bool
	Execute(ctx Context, s *state.State) (NodeResult, error)

	Before(ctx Context, s *state.State) error
	After(ctx Context, s *state.State, result NodeResult) error
	OnFailure(ctx Context, s *state.State, failErr error) error

	NextNodes(result NodeResult, s *state.State) ([]string, error)
}

// Costed is implemented by nodes that declare a non-default resource cost
// for governor admission and budget accounting.
type Costed interface {
	Cost() float64
}

// LoopBounded is implemented by loop nodes (while, foreach). The validator
// requires every node on a cycle to declare a positive bound.
type LoopBounded interface {
	MaxIterations() int
}

// funcNode adapts a NodeFunc to the Node interface. It defers all routing
// to the graph's static edges.
type funcNode struct {
	id string
	fn NodeFunc
}

func (n *funcNode) ID() string           { return n.id }
func (n *funcNode) Name() string         { return n.id }
func (n *funcNode) Description() string  { return "" }
func (n *funcNode) InputKeys() []string  { return nil }
func (n *funcNode) OutputKeys() []string { return nil }
func (n *funcNode) IsExecutable() bool   { return true }

func (n *funcNode) Validate(_ *state.State) ValidationResult { return ValidationResult{} }
func (n *funcNode) ShouldExecute(_ *state.State) bool        { return true }

func (n *funcNode) Execute(ctx Context, s *state.State) (NodeResult, error) {
	out, err := n.fn(ctx, s)
	if err != nil {
		return NodeResult{}, err
	}
	if out != nil && out != s {
		s.Restore(out)
	}
	return NodeResult{}, nil
}

func (n *funcNode) Before(Context, *state.State) error            { return nil }
func (n *funcNode) After(Context, *state.State, NodeResult) error { return nil }
func (n *funcNode) OnFailure(Context, *state.State, error) error  { return nil }
func (n *funcNode) NextNodes(NodeResult, *state.State) ([]string, error) {
	return nil, nil
}
