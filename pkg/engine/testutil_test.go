package engine

import (
	"context"
	"testing"

	"github.com/flowcraft/engine/pkg/engine/event"
	"github.com/flowcraft/engine/pkg/engine/state"
	"github.com/stretchr/testify/require"
)

// testCtx creates a minimal execution context for tests.
func testCtx() Context {
	return NewContext(context.Background())
}

// increment bumps the "count" entry by one.
func increment(_ Context, s *state.State) (*state.State, error) {
	n, _ := state.TryGet[int64](s, "count")
	return s, s.Set("count", state.Int64(n+1))
}

// setString returns a NodeFunc writing a fixed string under key.
func setString(key, value string) NodeFunc {
	return func(_ Context, s *state.State) (*state.State, error) {
		return s, s.Replace(key, state.String(value))
	}
}

// noop leaves state untouched.
func noop(_ Context, s *state.State) (*state.State, error) {
	return s, nil
}

// counterState builds a state with count initialized.
func counterState(t *testing.T, n int64) *state.State {
	t.Helper()
	s := state.New()
	require.NoError(t, s.Set("count", state.Int64(n)))
	return s
}

// mustCompile applies build to a new Graph and compiles it.
func mustCompile(t *testing.T, build func(*Graph)) *CompiledGraph {
	t.Helper()
	g := NewGraph()
	build(g)
	cg, err := g.Compile()
	require.NoError(t, err)
	return cg
}

// drainKinds empties the stream and returns the event kinds in order.
func drainKinds(s *event.Stream) []event.StreamKind {
	var kinds []event.StreamKind
	for _, evt := range s.Drain() {
		kinds = append(kinds, evt.Kind)
	}
	return kinds
}

// kindsOf filters drained events to the given node id.
func kindsOf(events []event.StreamEvent, nodeID string) []event.StreamKind {
	var kinds []event.StreamKind
	for _, evt := range events {
		if evt.NodeID == nodeID {
			kinds = append(kinds, evt.Kind)
		}
	}
	return kinds
}
