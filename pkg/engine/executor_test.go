package engine_test

import (
	"testing"

	"github.com/flowcraft/engine/pkg/engine"
	"github.com/flowcraft/engine/pkg/engine/nodekind"
	"github.com/flowcraft/engine/pkg/engine/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutor_Execute(t *testing.T) {
	cg := mustCompile(t, func(g *engine.Graph) {
		g.AddNode("a", increment).AddEdge("a", engine.END).SetEntry("a")
	})

	e := engine.NewExecutor("unit-tests", engine.WithMaxExecutionSteps(100))
	assert.Equal(t, "unit-tests", e.Name())

	result, err := e.Execute(testCtx(), cg, counterState(t, 0))
	require.NoError(t, err)
	count, _ := state.Get[int64](result, "count")
	assert.Equal(t, int64(1), count)
}

func TestExecutor_ExecuteNode(t *testing.T) {
	n := nodekind.NewFunctionNode("emit", func(engine.Context, *state.State) (state.Value, error) {
		return state.String("value"), nil
	}, "out")

	e := engine.NewExecutor("unit-tests")
	result, err := e.ExecuteNode(testCtx(), n, state.New())
	require.NoError(t, err)

	out, err := state.Get[string](result, "out")
	require.NoError(t, err)
	assert.Equal(t, "value", out)
}

func TestExecutor_ExecuteSequence(t *testing.T) {
	nodes := []engine.Node{
		nodekind.NewFunctionNode("first", func(_ engine.Context, s *state.State) (state.Value, error) {
			return state.Int64(1), nil
		}, "first_out"),
		nodekind.NewFunctionNode("second", func(_ engine.Context, s *state.State) (state.Value, error) {
			prev, err := state.Get[int64](s, "first_out")
			if err != nil {
				return state.Value{}, err
			}
			return state.Int64(prev + 1), nil
		}, "second_out"),
	}

	e := engine.NewExecutor("unit-tests")
	result, err := e.ExecuteSequence(testCtx(), nodes, state.New())
	require.NoError(t, err)

	out, err := state.Get[int64](result, "second_out")
	require.NoError(t, err)
	assert.Equal(t, int64(2), out)
}

// routesElsewhere is a function node whose own routing names a node that
// is not part of the sequence.
type routesElsewhere struct{ *nodekind.FunctionNode }

func (routesElsewhere) NextNodes(engine.NodeResult, *state.State) ([]string, error) {
	return []string{"elsewhere"}, nil
}

func TestExecutor_ExecuteSequenceIgnoresNodeRouting(t *testing.T) {
	// Node "one" routes to "elsewhere", which is not in the sequence; the
	// sequence wrapper suppresses that and runs "two" next.
	nodes := []engine.Node{
		routesElsewhere{nodekind.NewFunctionNode("one", func(engine.Context, *state.State) (state.Value, error) {
			return state.Bool(true), nil
		}, "one_done")},
		nodekind.NewFunctionNode("two", func(engine.Context, *state.State) (state.Value, error) {
			return state.Bool(true), nil
		}, "two_done"),
	}

	e := engine.NewExecutor("unit-tests")
	result, err := e.ExecuteSequence(testCtx(), nodes, state.New())
	require.NoError(t, err)
	assert.True(t, result.Contains("one_done"))
	assert.True(t, result.Contains("two_done"))
}

func TestExecutor_ExecuteSequenceEmptyNilContext(t *testing.T) {
	e := engine.NewExecutor("unit-tests")
	_, err := e.ExecuteSequence(nil, nil, state.New())
	assert.ErrorIs(t, err, engine.ErrNilContext)
}
