package engine

import (
	"github.com/flowcraft/engine/pkg/engine/state"
)

// Executor bundles a diagnostic name with default run options. The name
// appears in logs and traces; execution never mutates the Executor, so one
// instance is safe to share across concurrent runs of different graphs.
type Executor struct {
	name     string
	defaults []RunOption
}

// NewExecutor creates a named executor. The defaults are prepended to the
// options of every Execute call.
func NewExecutor(name string, defaults ...RunOption) *Executor {
	return &Executor{name: name, defaults: defaults}
}

// Name returns the executor's diagnostic identity.
func (e *Executor) Name() string {
	return e.name
}

// Execute runs a compiled graph to completion.
func (e *Executor) Execute(ctx Context, cg *CompiledGraph, st *state.State, opts ...RunOption) (*state.State, error) {
	all := make([]RunOption, 0, len(e.defaults)+len(opts)+1)
	all = append(all, withExecutorName(e.name))
	all = append(all, e.defaults...)
	all = append(all, opts...)
	return cg.Run(ctx, st, all...)
}

// ExecuteNode runs a single node through its full lifecycle (validate,
// hooks, execute) outside any graph. Useful for testing node
// implementations and for ad-hoc invocation.
func (e *Executor) ExecuteNode(ctx Context, n Node, st *state.State, opts ...RunOption) (*state.State, error) {
	return e.ExecuteSequence(ctx, []Node{n}, st, opts...)
}

// ExecuteSequence runs nodes in order against the shared state, outside
// any graph. Routing declarations on the nodes are ignored; the sequence
// is the declared order.
func (e *Executor) ExecuteSequence(ctx Context, nodes []Node, st *state.State, opts ...RunOption) (*state.State, error) {
	if ctx == nil {
		return st, ErrNilContext
	}
	if st == nil {
		st = state.New()
	}

	g := NewGraph()
	prev := ""
	for _, n := range nodes {
		g.AddNodeSpec(&sequenceNode{inner: n})
		if prev == "" {
			g.SetEntry(n.ID())
		} else {
			g.AddEdge(prev, n.ID())
		}
		prev = n.ID()
	}
	if prev != "" {
		g.AddEdge(prev, END)
	}

	cg, err := g.Compile()
	if err != nil {
		return st, err
	}
	return e.Execute(ctx, cg, st, opts...)
}

// sequenceNode wraps a node for ExecuteSequence, suppressing its own
// routing so the synthetic linear graph's edges win.
type sequenceNode struct {
	inner Node
}

func (s *sequenceNode) ID() string           { return s.inner.ID() }
func (s *sequenceNode) Name() string         { return s.inner.Name() }
func (s *sequenceNode) Description() string  { return s.inner.Description() }
func (s *sequenceNode) InputKeys() []string  { return s.inner.InputKeys() }
func (s *sequenceNode) OutputKeys() []string { return s.inner.OutputKeys() }
func (s *sequenceNode) IsExecutable() bool   { return s.inner.IsExecutable() }

func (s *sequenceNode) Validate(st *state.State) ValidationResult { return s.inner.Validate(st) }
func (s *sequenceNode) ShouldExecute(st *state.State) bool        { return s.inner.ShouldExecute(st) }

func (s *sequenceNode) Execute(ctx Context, st *state.State) (NodeResult, error) {
	return s.inner.Execute(ctx, st)
}

func (s *sequenceNode) Before(ctx Context, st *state.State) error { return s.inner.Before(ctx, st) }
func (s *sequenceNode) After(ctx Context, st *state.State, r NodeResult) error {
	return s.inner.After(ctx, st, r)
}
func (s *sequenceNode) OnFailure(ctx Context, st *state.State, err error) error {
	return s.inner.OnFailure(ctx, st, err)
}

func (s *sequenceNode) NextNodes(NodeResult, *state.State) ([]string, error) {
	return nil, nil
}
