package engine

import (
	"time"

	"github.com/flowcraft/engine/pkg/engine/state"
)

// BranchHook provides lifecycle callbacks for fork/join execution.
// All methods are optional - the executor uses sensible defaults if nil.
//
// Hooks are called in this order:
//  1. OnFork - called once per branch, before branch execution starts
//  2. (branch nodes execute)
//  3. OnJoin - called once after all branches complete (or OnBranchError
//     if any failed)
//
// Hooks can modify state and abort execution by returning errors.
type BranchHook interface {
	// OnFork is called before each branch starts executing.
	// The returned state will be used as the initial state for that branch.
	// Return an error to abort the fork.
	OnFork(ctx Context, branchID string, s *state.State) (*state.State, error)

	// OnJoin is called after all branches complete successfully.
	// Use this to validate branch results before merging or to clean up.
	OnJoin(ctx Context, branchStates map[string]*state.State) error

	// OnBranchError is called when a branch fails.
	// This is for cleanup - the error has already been recorded.
	OnBranchError(ctx Context, branchID string, s *state.State, err error)
}

// ForkJoinConfig configures parallel execution behavior.
// All fields have sensible defaults (zero values are valid).
type ForkJoinConfig struct {
	// MaxConcurrency limits the number of branches executing
	// simultaneously. 0 falls back to the run's maxParallelNodes.
	MaxConcurrency int

	// FailFast stops all branches when any branch fails.
	// false = wait for all branches to complete (default).
	FailFast bool

	// MergeTimeout is the maximum time to wait for branch completion.
	// 0 = no timeout (wait indefinitely).
	MergeTimeout time.Duration

	// Merge decides how conflicting branch writes are reconciled at the
	// join point. The zero value defers to the run's WithMergeOptions,
	// whose own zero value is state.PreferBase applied to every key.
	Merge state.MergeOptions
}

// DefaultForkJoinConfig returns the default configuration.
func DefaultForkJoinConfig() ForkJoinConfig {
	return ForkJoinConfig{}
}

// ForkNode represents a point where execution splits into parallel
// branches. Computed during compilation from nodes with multiple outgoing
// unconditional edges.
type ForkNode struct {
	// NodeID is the ID of the fork node in the graph.
	NodeID string

	// Branches are the IDs of the first node in each branch, in declared
	// edge order. Declared order is also the deterministic merge order.
	Branches []string

	// JoinNodeID is where all branches must converge.
	// Computed using post-dominator analysis at compile time.
	JoinNodeID string
}

// JoinNode represents a point where parallel branches converge.
type JoinNode struct {
	// NodeID is the ID of the join node in the graph.
	NodeID string

	// ForkNodeID is the corresponding fork node.
	ForkNodeID string

	// ExpectedBranches are the branch entry nodes that must complete.
	ExpectedBranches []string
}

// BranchResult holds the outcome of a single branch execution.
type BranchResult struct {
	// BranchID identifies this branch (same as the first node ID).
	BranchID string

	// State is the final state when the branch reached the join point.
	// Nil if the branch failed before producing one.
	State *state.State

	// Error is set if the branch failed.
	Error error

	// Duration is how long the branch took to execute.
	Duration time.Duration
}
