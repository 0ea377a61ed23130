// Package state implements the engine's shared, typed key/value container.
//
// State is the one thing every node, router, and merge policy in a run
// agrees on the shape of: an ordered, string-keyed map of tagged Values,
// carrying its own identity, version, and append-only execution history.
// It is designed to be cloned cheaply at fork points and reconciled
// deterministically at join points (see Merge), and to round-trip through
// a self-describing, checksummed serialization for checkpointing.
package state
