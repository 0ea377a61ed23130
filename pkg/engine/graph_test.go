package engine

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddNode_Validation(t *testing.T) {
	assert.Panics(t, func() { NewGraph().AddNode("", increment) })
	assert.Panics(t, func() { NewGraph().AddNode("END", increment) })
	assert.Panics(t, func() { NewGraph().AddNode("__end__", increment) })
	assert.Panics(t, func() { NewGraph().AddNode("has space", increment) })
	assert.Panics(t, func() { NewGraph().AddNode("ok", nil) })
	assert.Panics(t, func() {
		NewGraph().AddNode("dup", increment).AddNode("dup", increment)
	})
}

func TestGraph_FrozenAfterCompile(t *testing.T) {
	g := NewGraph().
		AddNode("a", increment).
		AddEdge("a", END).
		SetEntry("a")

	_, err := g.Compile()
	require.NoError(t, err)

	assert.Panics(t, func() { g.AddNode("b", increment) })
	assert.Panics(t, func() { g.AddEdge("a", "b") })
	assert.Panics(t, func() { g.SetEntry("b") })
}

func TestGraph_MutationHook(t *testing.T) {
	var ops []string
	g := NewGraph().OnMutation(func(m GraphMutation) {
		ops = append(ops, m.Op)
	})

	g.AddNode("a", increment).
		AddEdge("a", END).
		SetEntry("a").
		MarkTerminal("a")

	assert.Equal(t, []string{"add_node", "add_edge", "set_entry", "mark_terminal"}, ops)
}

func TestCompile_Errors(t *testing.T) {
	t.Run("no entry", func(t *testing.T) {
		g := NewGraph().AddNode("a", increment).AddEdge("a", END)
		_, err := g.Compile()
		assert.ErrorIs(t, err, ErrNoEntryPoint)
	})

	t.Run("entry not found", func(t *testing.T) {
		g := NewGraph().AddNode("a", increment).AddEdge("a", END).SetEntry("ghost")
		_, err := g.Compile()
		assert.ErrorIs(t, err, ErrEntryNotFound)
	})

	t.Run("edge target missing", func(t *testing.T) {
		g := NewGraph().AddNode("a", increment).AddEdge("a", "ghost").SetEntry("a")
		_, err := g.Compile()
		assert.ErrorIs(t, err, ErrNodeNotFound)
	})

	t.Run("edge source missing", func(t *testing.T) {
		g := NewGraph().AddNode("a", increment).
			AddEdge("a", END).
			AddEdge("ghost", "a").
			SetEntry("a")
		_, err := g.Compile()
		assert.ErrorIs(t, err, ErrNodeNotFound)
	})

	t.Run("no path to end", func(t *testing.T) {
		g := NewGraph().
			AddNode("a", increment).
			AddNode("b", increment).
			AddEdge("a", "b").
			AddEdge("b", "a").
			SetEntry("a")
		_, err := g.Compile()
		assert.ErrorIs(t, err, ErrNoPathToEnd)
	})
}

func TestCompile_UnboundedCycleRejected(t *testing.T) {
	g := NewGraph().
		AddNode("a", increment).
		AddNode("b", increment).
		AddEdge("a", "b").
		AddEdge("b", "a").
		AddEdgeIf("b", END, "count > 10").
		SetEntry("a")

	_, err := g.Compile()
	assert.ErrorIs(t, err, ErrUnboundedCycle)
}

func TestCompile_TerminalNodeSatisfiesPath(t *testing.T) {
	g := NewGraph().
		AddNode("a", increment).
		AddNode("leaf", increment).
		AddEdge("a", "leaf").
		MarkTerminal("leaf").
		SetEntry("a")

	cg, err := g.Compile()
	require.NoError(t, err)
	assert.True(t, cg.IsTerminal("leaf"))
}

func TestValidate_InputCoverage(t *testing.T) {
	makeGraph := func(declareInitial bool) *Graph {
		consumer := &funcNode{id: "consumer", fn: noop}
		g := NewGraph().
			AddNodeSpec(&keyedNode{funcNode: consumer, inputs: []string{"seed"}}).
			AddEdge("consumer", END).
			SetEntry("consumer")
		if declareInitial {
			g.DeclareInitialKeys("other")
		}
		return g
	}

	// Without declared initial keys, a producer-less input is a warning.
	report := makeGraph(false).Validate()
	assert.True(t, report.OK())
	assert.NotEmpty(t, report.Warnings)

	// With declared initial keys the check is strict.
	report = makeGraph(true).Validate()
	assert.False(t, report.OK())
	assert.ErrorIs(t, report.Err(), ErrInputNotProduced)

	// Declaring the key itself satisfies it.
	g := makeGraph(false).DeclareInitialKeys("seed")
	assert.True(t, g.Validate().OK())
}

func TestValidate_Warnings(t *testing.T) {
	g := NewGraph().
		AddNode("a", increment).
		AddNode("island", increment).
		AddNode("dead", increment).
		AddEdge("a", "dead").
		AddEdge("island", END).
		AddEdgeIf("a", END, "count > 1").
		SetEntry("a")

	report := g.Validate()
	joined := ""
	for _, w := range report.Warnings {
		joined += w + "\n"
	}
	assert.Contains(t, joined, "island")
	assert.Contains(t, joined, "dead")
}

func TestValidate_PredicateGapWarning(t *testing.T) {
	g := NewGraph().
		AddNode("a", increment).
		AddNode("b", increment).
		AddEdgeIf("a", "b", "count > 1").
		AddEdgeIf("a", END, "count < 0").
		AddEdge("b", END).
		SetEntry("a")

	report := g.Validate()
	found := false
	for _, w := range report.Warnings {
		if strings.Contains(w, "unconditional default") {
			found = true
		}
	}
	assert.True(t, found, "expected routing-gap warning, got %v", report.Warnings)
}

func TestValidate_ComplementaryPredicatesSuppressGapWarning(t *testing.T) {
	g := NewGraph().
		AddNode("a", increment).
		AddNode("b", increment).
		AddEdgeIf("a", "b", "count >= 2").
		AddEdgeIf("a", END, "count < 2").
		AddEdge("b", END).
		SetEntry("a")

	report := g.Validate()
	for _, w := range report.Warnings {
		assert.NotContains(t, w, "unconditional default")
	}
}

// keyedNode decorates funcNode with declared input keys for validator
// tests.
type keyedNode struct {
	*funcNode
	inputs []string
}

func (k *keyedNode) InputKeys() []string { return k.inputs }

func TestCompiledGraph_Introspection(t *testing.T) {
	cg := mustCompile(t, func(g *Graph) {
		g.AddNode("a", increment).
			AddNode("b", increment).
			AddEdge("a", "b").
			AddEdge("b", END).
			SetEntry("a")
	})

	assert.Equal(t, "a", cg.EntryPoint())
	assert.ElementsMatch(t, []string{"a", "b"}, cg.NodeIDs())
	assert.True(t, cg.HasNode("a"))
	assert.False(t, cg.HasNode("ghost"))
	assert.Equal(t, []string{"b"}, cg.Successors("a"))
	assert.Equal(t, []string{"a"}, cg.Predecessors("b"))
	assert.False(t, cg.HasParallelExecution())
}

func TestCompile_ForkJoinDetection(t *testing.T) {
	cg := mustCompile(t, func(g *Graph) {
		g.AddNode("fork", increment).
			AddNode("left", increment).
			AddNode("right", increment).
			AddNode("join", increment).
			AddEdge("fork", "left").
			AddEdge("fork", "right").
			AddEdge("left", "join").
			AddEdge("right", "join").
			AddEdge("join", END).
			SetEntry("fork")
	})

	require.True(t, cg.IsForkNode("fork"))
	fork := cg.GetForkNode("fork")
	assert.Equal(t, []string{"left", "right"}, fork.Branches)
	assert.Equal(t, "join", fork.JoinNodeID)
	assert.True(t, cg.IsJoinNode("join"))
	assert.True(t, cg.HasParallelExecution())
}
