package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestState_SetAndGet(t *testing.T) {
	s := New()

	require.NoError(t, s.Set("name", String("alice")))
	require.NoError(t, s.Set("count", Int64(7)))
	require.NoError(t, s.Set("ratio", Float64(0.5)))
	require.NoError(t, s.Set("ok", Bool(true)))

	name, err := Get[string](s, "name")
	require.NoError(t, err)
	assert.Equal(t, "alice", name)

	count, err := Get[int64](s, "count")
	require.NoError(t, err)
	assert.Equal(t, int64(7), count)

	_, err = Get[string](s, "missing")
	var notFound *ErrKeyNotFound
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "missing", notFound.Key)
}

func TestState_EmptyKeyRejected(t *testing.T) {
	s := New()
	require.Error(t, s.Set("", String("x")))
	require.Error(t, s.Replace("", String("x")))
}

func TestState_ScalarTypeImmutable(t *testing.T) {
	s := New()
	require.NoError(t, s.Set("k", Int64(1)))

	err := s.Set("k", String("oops"))
	var typeErr *ErrTypeChanged
	require.ErrorAs(t, err, &typeErr)
	assert.Equal(t, KindInt64, typeErr.Was)
	assert.Equal(t, KindString, typeErr.Want)

	// Same-kind overwrite is fine.
	require.NoError(t, s.Set("k", Int64(2)))

	// Replace bypasses the rule.
	require.NoError(t, s.Replace("k", String("replaced")))
	v, err := Get[string](s, "k")
	require.NoError(t, err)
	assert.Equal(t, "replaced", v)
}

func TestState_KeysDeclarationOrder(t *testing.T) {
	s := New()
	for _, k := range []string{"c", "a", "b"} {
		require.NoError(t, s.Set(k, String(k)))
	}
	assert.Equal(t, []string{"c", "a", "b"}, s.Keys())

	s.Remove("a")
	assert.Equal(t, []string{"c", "b"}, s.Keys())
}

func TestState_TryGet(t *testing.T) {
	s := New()
	require.NoError(t, s.Set("n", Int64(3)))

	n, ok := TryGet[int64](s, "n")
	assert.True(t, ok)
	assert.Equal(t, int64(3), n)

	_, ok = TryGet[string](s, "n")
	assert.False(t, ok)

	_, ok = TryGet[int64](s, "absent")
	assert.False(t, ok)
}

func TestState_SnapshotIsolation(t *testing.T) {
	s := New()
	require.NoError(t, s.Set("k", Int64(1)))

	snap := s.Snapshot()
	require.NoError(t, s.Set("k", Int64(2)))
	require.NoError(t, s.Set("new", String("after")))

	v, err := Get[int64](snap, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
	assert.False(t, snap.Contains("new"))
	assert.Equal(t, s.StateId(), snap.StateId())
}

func TestState_Restore(t *testing.T) {
	s := New()
	require.NoError(t, s.Set("k", Int64(1)))
	snap := s.Snapshot()

	require.NoError(t, s.Set("k", Int64(99)))
	s.Restore(snap)

	v, err := Get[int64](s, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
}

func TestState_History_AppendOnly(t *testing.T) {
	s := New()
	s.AppendStep(ExecutionStep{NodeID: "a", Status: StepOK, Attempt: 1})
	s.AppendStep(ExecutionStep{NodeID: "b", Status: StepFailed, Attempt: 2, ErrorKind: "network"})

	h := s.History()
	require.Len(t, h, 2)
	assert.Equal(t, "a", h[0].NodeID)
	assert.Equal(t, StepFailed, h[1].Status)

	// Mutating the returned slice must not touch the stored history.
	h[0].NodeID = "mutated"
	assert.Equal(t, "a", s.History()[0].NodeID)
}

func TestState_Metadata(t *testing.T) {
	s := New()
	s.SetMetadata("attempt:x", Int64(2))

	v, ok := s.Metadata("attempt:x")
	require.True(t, ok)
	n, err := As[int64](v)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// Metadata is exempt from scalar-type immutability.
	s.SetMetadata("attempt:x", String("reset"))
	v, _ = s.Metadata("attempt:x")
	assert.Equal(t, KindString, v.Kind)
}

func TestState_Vars(t *testing.T) {
	s := New()
	require.NoError(t, s.Set("name", String("bob")))
	require.NoError(t, s.Set("count", Int64(2)))
	require.NoError(t, s.Set("tags", List(String("x"), String("y"))))

	vars := s.Vars()
	assert.Equal(t, "bob", vars["name"])
	assert.Equal(t, int64(2), vars["count"])
	assert.Equal(t, []any{"x", "y"}, vars["tags"])
}

func TestState_ValidateIntegrity(t *testing.T) {
	s := New()
	require.NoError(t, s.Set("a", String("1")))
	require.NoError(t, s.Set("b", String("2")))
	require.NoError(t, s.ValidateIntegrity())

	// Corrupt the order to simulate a bad restore.
	s.order = append(s.order, "dangling")
	require.Error(t, s.ValidateIntegrity())
}

func TestValue_Equal(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name string
		a, b Value
		want bool
	}{
		{"strings equal", String("x"), String("x"), true},
		{"strings differ", String("x"), String("y"), false},
		{"kind mismatch", String("1"), Int64(1), false},
		{"times equal", Time(now), Time(now), true},
		{"bytes equal", Bytes([]byte{1, 2}), Bytes([]byte{1, 2}), true},
		{"bytes differ", Bytes([]byte{1, 2}), Bytes([]byte{1, 3}), false},
		{"lists equal", List(Int64(1), Int64(2)), List(Int64(1), Int64(2)), true},
		{"lists differ", List(Int64(1)), List(Int64(2)), false},
		{"maps equal", Map(map[string]Value{"k": Bool(true)}), Map(map[string]Value{"k": Bool(true)}), true},
		{"maps differ", Map(map[string]Value{"k": Bool(true)}), Map(map[string]Value{"k": Bool(false)}), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.a.Equal(tc.b))
		})
	}
}

func TestValue_FromAny(t *testing.T) {
	v, err := FromAny(map[string]any{
		"s": "text",
		"n": float64(3.5),
		"l": []any{true, "x"},
	})
	require.NoError(t, err)
	require.Equal(t, KindMap, v.Kind)

	m, err := As[map[string]Value](v)
	require.NoError(t, err)
	assert.Equal(t, KindString, m["s"].Kind)
	assert.Equal(t, KindFloat64, m["n"].Kind)
	assert.Equal(t, KindList, m["l"].Kind)

	_, err = FromAny(struct{}{})
	require.Error(t, err)
}
