package state

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SemVer is a major.minor.patch version triple.
type SemVer struct {
	Major, Minor, Patch int
}

// String renders the version as "major.minor.patch".
func (v SemVer) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Less reports whether v sorts before o.
func (v SemVer) Less(o SemVer) bool {
	if v.Major != o.Major {
		return v.Major < o.Major
	}
	if v.Minor != o.Minor {
		return v.Minor < o.Minor
	}
	return v.Patch < o.Patch
}

// StepStatus is the outcome recorded for one execution step.
type StepStatus string

// The closed set of step outcomes appended to State.History.
const (
	StepOK       StepStatus = "ok"
	StepFailed   StepStatus = "failed"
	StepSkipped  StepStatus = "skipped"
	StepRetried  StepStatus = "retried"
	StepCanceled StepStatus = "canceled"
)

// ExecutionStep is one entry in a State's append-only history.
type ExecutionStep struct {
	NodeID     string        `json:"node_id"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Status     StepStatus    `json:"status"`
	Attempt    int           `json:"attempt"`
	Duration   time.Duration `json:"duration_ms"`
	ErrorKind  string        `json:"error_kind,omitempty"`
}

// ErrKeyNotFound is returned by Get when the key is absent.
type ErrKeyNotFound struct {
	Key string
}

func (e *ErrKeyNotFound) Error() string {
	return fmt.Sprintf("state: key %q not found", e.Key)
}

// ErrTypeChanged is returned by Set when a key's scalar Kind would change
// on a non-Replace write, per the "scalar type never changes" invariant.
type ErrTypeChanged struct {
	Key  string
	Was  Kind
	Want Kind
}

func (e *ErrTypeChanged) Error() string {
	return fmt.Sprintf("state: key %q is %s, cannot Set as %s (use Replace)", e.Key, e.Was, e.Want)
}

// State is an ordered, string-keyed container of tagged Values shared
// across a single execution. It is safe for concurrent reads; writes come
// through the handle the executor passes into one node at a time.
type State struct {
	mu sync.RWMutex

	id           string
	version      SemVer
	createdAt    time.Time
	lastModified time.Time

	entries  map[string]Value
	order    []string
	metadata map[string]Value
	history  []ExecutionStep
	txStack  []*Transaction
}

// New creates an empty State with a fresh StateId and Current version.
func New() *State {
	now := time.Now().UTC()
	return &State{
		id:           uuid.New().String(),
		version:      Current,
		createdAt:    now,
		lastModified: now,
		entries:      make(map[string]Value),
		metadata:     make(map[string]Value),
	}
}

// StateId returns the stable identifier for this State.
func (s *State) StateId() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

// Version returns the semantic version this State was created/loaded at.
func (s *State) Version() SemVer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// CreatedAt returns when the State was created.
func (s *State) CreatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.createdAt
}

// LastModified returns when the State was last mutated.
func (s *State) LastModified() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastModified
}

// History returns a copy of the append-only execution history.
func (s *State) History() []ExecutionStep {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ExecutionStep, len(s.history))
	copy(out, s.history)
	return out
}

// AppendStep appends an execution step to the history. Only the Executor
// calls this; node code never mutates history directly.
func (s *State) AppendStep(step ExecutionStep) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, step)
	s.lastModified = time.Now().UTC()
}

// Metadata returns the value stored under an engine/user metadata key.
func (s *State) Metadata(key string) (Value, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.metadata[key]
	return v, ok
}

// SetMetadata sets an engine/user metadata key. Metadata is not subject to
// the scalar-type-immutability invariant that applies to entries.
func (s *State) SetMetadata(key string, v Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metadata[key] = v
	s.lastModified = time.Now().UTC()
}

// MetadataKeys returns all metadata keys in insertion-independent sorted order.
func (s *State) MetadataKeys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.metadata))
	for k := range s.metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Contains reports whether key has been set.
func (s *State) Contains(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[key]
	return ok
}

// Keys returns all entry keys in declaration order.
func (s *State) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Set writes key with value v. key must be non-empty. If key already holds
// a value of a different Kind, Set fails with ErrTypeChanged; use Replace
// to bypass the first-write-wins scalar-type rule.
func (s *State) Set(key string, v Value) error {
	if key == "" {
		return fmt.Errorf("state: key must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.entries[key]; ok && existing.Kind != v.Kind {
		return &ErrTypeChanged{Key: key, Was: existing.Kind, Want: v.Kind}
	}
	if _, ok := s.entries[key]; !ok {
		s.order = append(s.order, key)
	}
	s.entries[key] = v
	s.lastModified = time.Now().UTC()
	return nil
}

// Replace writes key with v regardless of any prior Kind.
func (s *State) Replace(key string, v Value) error {
	if key == "" {
		return fmt.Errorf("state: key must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[key]; !ok {
		s.order = append(s.order, key)
	}
	s.entries[key] = v
	s.lastModified = time.Now().UTC()
	return nil
}

// Remove deletes key, if present.
func (s *State) Remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[key]; !ok {
		return
	}
	delete(s.entries, key)
	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.lastModified = time.Now().UTC()
}

// TryGetValue returns the raw Value for key without type conversion.
func (s *State) TryGetValue(key string) (Value, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.entries[key]
	return v, ok
}

// Get extracts a typed value of T from key, returning ErrKeyNotFound if
// absent or an As conversion error if the wrapped Kind doesn't match T.
func Get[T any](s *State, key string) (T, error) {
	var zero T
	v, ok := s.TryGetValue(key)
	if !ok {
		return zero, &ErrKeyNotFound{Key: key}
	}
	return As[T](v)
}

// TryGet is like Get but returns (zero, false) instead of an error when the
// key is absent or its type doesn't match T.
func TryGet[T any](s *State, key string) (T, bool) {
	v, err := Get[T](s, key)
	if err != nil {
		var zero T
		return zero, false
	}
	return v, true
}

// Vars flattens the entries into their raw Go representations, the form
// the expr and template packages evaluate predicates against.
func (s *State) Vars() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.entries))
	for k, v := range s.entries {
		out[k] = v.Raw()
	}
	return out
}

// Snapshot returns a copy of s with its own entry, order, metadata and
// history storage, suitable for a copy-on-write parallel branch or a
// checkpoint. Nested list, map and byte values are shared with s, not
// copied.
func (s *State) Snapshot() *State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := &State{
		id:           s.id,
		version:      s.version,
		createdAt:    s.createdAt,
		lastModified: s.lastModified,
		entries:      make(map[string]Value, len(s.entries)),
		order:        make([]string, len(s.order)),
		metadata:     make(map[string]Value, len(s.metadata)),
		history:      make([]ExecutionStep, len(s.history)),
	}
	for k, v := range s.entries {
		out.entries[k] = v
	}
	copy(out.order, s.order)
	for k, v := range s.metadata {
		out.metadata[k] = v
	}
	copy(out.history, s.history)
	return out
}

// Restore replaces s's contents in-place with snapshot's, used when
// resuming from a checkpoint into an existing State reference.
func (s *State) Restore(snapshot *State) {
	cp := snapshot.Snapshot()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = cp.id
	s.version = cp.version
	s.createdAt = cp.createdAt
	s.lastModified = cp.lastModified
	s.entries = cp.entries
	s.order = cp.order
	s.metadata = cp.metadata
	s.history = cp.history
}

// ValidateIntegrity re-checks structural invariants: keys are non-empty and
// every entry is reachable through the declared order, and that order has
// no duplicates or dangling references.
func (s *State) ValidateIntegrity() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool, len(s.order))
	for _, k := range s.order {
		if k == "" {
			return fmt.Errorf("state: empty key in order")
		}
		if seen[k] {
			return fmt.Errorf("state: duplicate key %q in order", k)
		}
		seen[k] = true
		if _, ok := s.entries[k]; !ok {
			return fmt.Errorf("state: key %q in order but missing from entries", k)
		}
	}
	if len(seen) != len(s.entries) {
		return fmt.Errorf("state: order/entries length mismatch")
	}
	return nil
}
