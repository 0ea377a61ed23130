package engine_test

import (
	"errors"
	"testing"
	"time"

	"github.com/flowcraft/engine/pkg/engine"
	"github.com/flowcraft/engine/pkg/engine/checkpoint"
	"github.com/flowcraft/engine/pkg/engine/nodekind"
	"github.com/flowcraft/engine/pkg/engine/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func linearGraph(t *testing.T) *engine.CompiledGraph {
	t.Helper()
	return mustCompile(t, func(g *engine.Graph) {
		g.AddNode("a", increment).
			AddNode("b", increment).
			AddNode("c", increment).
			AddEdge("a", "b").
			AddEdge("b", "c").
			AddEdge("c", engine.END).
			SetEntry("a")
	})
}

func TestRun_CheckpointsEveryNode(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	cg := linearGraph(t)

	_, err := cg.Run(testCtx(), counterState(t, 0),
		engine.WithCheckpointing(store, 1),
		engine.WithRunID("run-1"))
	require.NoError(t, err)

	infos, err := store.List("run-1")
	require.NoError(t, err)
	require.Len(t, infos, 3)
	assert.Equal(t, "a", infos[0].NodeID)
	assert.Equal(t, "c", infos[2].NodeID)
}

func TestRun_CheckpointCadence(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	cg := linearGraph(t)

	_, err := cg.Run(testCtx(), counterState(t, 0),
		engine.WithCheckpointing(store, 2),
		engine.WithRunID("run-2"))
	require.NoError(t, err)

	infos, err := store.List("run-2")
	require.NoError(t, err)
	// Nodes a..c complete; a snapshot lands after every second one.
	require.Len(t, infos, 1)
	assert.Equal(t, "b", infos[0].NodeID)
}

func TestRun_CheckpointPruning(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	cg := linearGraph(t)

	_, err := cg.Run(testCtx(), counterState(t, 0),
		engine.WithCheckpointing(store, 1),
		engine.WithMaxCheckpointsRetained(1),
		engine.WithRunID("run-3"))
	require.NoError(t, err)

	infos, err := store.List("run-3")
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "c", infos[0].NodeID)
}

func TestRun_CheckpointCarriesRunHeader(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	cg := linearGraph(t)

	_, err := cg.Run(testCtx(), counterState(t, 0),
		engine.WithCheckpointing(store, 1),
		engine.WithRunID("run-4"))
	require.NoError(t, err)

	data, err := store.Load("run-4", "b")
	require.NoError(t, err)
	cp, err := checkpoint.Unmarshal(data)
	require.NoError(t, err)

	assert.Equal(t, "run-4", cp.RunID)
	assert.Equal(t, "c", cp.NextNode)
	assert.Equal(t, []string{"c"}, cp.PendingSuccessors)
	assert.NotNil(t, cp.AttemptCounters)
	assert.False(t, cp.Compressed)

	st, err := state.Unmarshal(cp.State)
	require.NoError(t, err)
	count, err := state.Get[int64](st, "count")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestResume_ContinuesFromLatestCheckpoint(t *testing.T) {
	store := checkpoint.NewMemoryStore()

	// Fail at node c on the first run.
	fail := true
	cg := mustCompile(t, func(g *engine.Graph) {
		g.AddNode("a", increment).
			AddNode("b", increment).
			AddNode("c", func(_ engine.Context, s *state.State) (*state.State, error) {
				if fail {
					return s, errors.New("crash")
				}
				return increment(nil, s)
			}).
			AddEdge("a", "b").
			AddEdge("b", "c").
			AddEdge("c", engine.END).
			SetEntry("a")
	})

	_, err := cg.Run(testCtx(), counterState(t, 0),
		engine.WithCheckpointing(store, 1),
		engine.WithRunID("run-r"))
	require.Error(t, err)

	// The latest checkpoint is b's, pointing at c.
	fail = false
	result, err := cg.Resume(testCtx(), store, "run-r")
	require.NoError(t, err)

	count, err := state.Get[int64](result, "count")
	require.NoError(t, err)
	// a and b ran once before the crash, c once after resume.
	assert.Equal(t, int64(3), count)
}

func TestResume_NoCheckpointsFails(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	cg := linearGraph(t)

	_, err := cg.Resume(testCtx(), store, "unknown-run")
	assert.ErrorIs(t, err, engine.ErrNoCheckpoints)
}

func TestResumeFrom_SpecificNode(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	cg := linearGraph(t)

	_, err := cg.Run(testCtx(), counterState(t, 0),
		engine.WithCheckpointing(store, 1),
		engine.WithRunID("run-f"))
	require.NoError(t, err)

	// Resume from a's checkpoint re-runs b and c.
	result, err := cg.ResumeFrom(testCtx(), store, "run-f", "a")
	require.NoError(t, err)

	count, err := state.Get[int64](result, "count")
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestResume_AttemptCountersSurviveRoundTrip(t *testing.T) {
	store := checkpoint.NewMemoryStore()

	attempts := 0
	cg := mustCompile(t, func(g *engine.Graph) {
		g.AddNode("warm", increment).
			AddNode("flaky", func(_ engine.Context, s *state.State) (*state.State, error) {
				attempts++
				return s, errors.New("service unavailable")
			}).
			AddEdge("warm", "flaky").
			AddEdge("flaky", engine.END).
			SetEntry("warm")
	})

	_, err := cg.Run(testCtx(), counterState(t, 0),
		engine.WithCheckpointing(store, 1),
		engine.WithRunID("run-ac"))
	// Default policies are off; the failure halts the run. warm's
	// checkpoint, written before flaky ran, is the latest one.
	require.Error(t, err)
	require.Equal(t, 1, attempts)

	data, err := store.Load("run-ac", "warm")
	require.NoError(t, err)
	_, err = checkpoint.Unmarshal(data)
	require.NoError(t, err)

	// Resuming continues at flaky.
	_, err = cg.Resume(testCtx(), store, "run-ac")
	require.Error(t, err)
	assert.Equal(t, 2, attempts)
}

func TestRun_CompressedCheckpointRoundTrip(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	comp, err := state.NewCompressor(8)
	require.NoError(t, err)
	defer comp.Close()

	big := func(_ engine.Context, s *state.State) (*state.State, error) {
		text := make([]byte, 0, 8192)
		for i := 0; i < 1024; i++ {
			text = append(text, []byte("padding ")...)
		}
		return s, s.Replace("payload", state.String(string(text)))
	}

	cg := mustCompile(t, func(g *engine.Graph) {
		g.AddNode("big", big).AddEdge("big", engine.END).SetEntry("big")
	})

	_, err = cg.Run(testCtx(), state.New(),
		engine.WithCheckpointing(store, 1),
		engine.WithStateCompressor(comp),
		engine.WithRunID("run-z"))
	require.NoError(t, err)

	data, err := store.Load("run-z", "big")
	require.NoError(t, err)
	cp, err := checkpoint.Unmarshal(data)
	require.NoError(t, err)
	assert.True(t, cp.Compressed)

	result, err := cg.Resume(testCtx(), store, "run-z")
	require.NoError(t, err)
	payload, err := state.Get[string](result, "payload")
	require.NoError(t, err)
	assert.Len(t, payload, 8192)
}

func TestSuspend_CheckpointAndResumeApproval(t *testing.T) {
	store := checkpoint.NewMemoryStore()

	approvalGraph := func() *engine.CompiledGraph {
		return mustCompile(t, func(g *engine.Graph) {
			g.AddNode("draft", setString("draft", "v1")).
				AddNodeSpec(nodekind.NewHumanApprovalNode("approve", "ship it?", "approval", time.Hour)).
				AddNode("publish", setString("published", "yes")).
				AddEdge("draft", "approve").
				AddEdge("approve", "publish").
				AddEdge("publish", engine.END).
				SetEntry("draft")
		})
	}

	cg := approvalGraph()
	_, err := cg.Run(testCtx(), state.New(),
		engine.WithCheckpointing(store, 1),
		engine.WithRunID("run-s"))
	require.Error(t, err)

	var suspErr *engine.SuspendError
	require.ErrorAs(t, err, &suspErr)
	assert.ErrorIs(t, err, engine.ErrSuspended)
	assert.Equal(t, "approve", suspErr.NodeID)
	require.NotEmpty(t, suspErr.RequestID)

	// Simulate a process restart: a fresh graph instance resumes from
	// the persisted checkpoint with the delivered response.
	cg2 := approvalGraph()
	result, err := cg2.ResumeApproval(testCtx(), store, "run-s",
		suspErr.RequestID, state.String("granted"))
	require.NoError(t, err)

	approval, err := state.Get[string](result, "approval")
	require.NoError(t, err)
	assert.Equal(t, "granted", approval)
	published, err := state.Get[string](result, "published")
	require.NoError(t, err)
	assert.Equal(t, "yes", published)
}
