package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/flowcraft/engine/pkg/engine/state"
)

// executeForkJoin handles parallel execution of a fork node.
// It snapshots state for each branch (copy-on-write isolation), executes
// branches in goroutines bounded by maxParallelNodes, waits for
// completion, and merges the results deterministically in declared branch
// order using the configured merge policy.
//
// Returns the merged state and the join node to continue from.
func (cg *CompiledGraph) executeForkJoin(
	ec *executionContext,
	forkNode *ForkNode,
	st *state.State,
	rs *runState,
) (mergedState *state.State, joinNode string, err error) {
	startTime := time.Now()
	cfg := rs.cfg
	hook := cg.getBranchHook()
	fjConfig := cg.getForkJoinConfig()

	maxConcurrency := fjConfig.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = cfg.maxParallelNodes
	}
	var sem chan struct{}
	if maxConcurrency > 0 {
		sem = make(chan struct{}, maxConcurrency)
	}

	// Derived context: fork timeout if configured, fail-fast cancellation
	// either way.
	branchCtx, cancelBranches := context.WithCancel(ec.Context)
	defer cancelBranches()
	if fjConfig.MergeTimeout > 0 {
		var cancelTimeout context.CancelFunc
		branchCtx, cancelTimeout = context.WithTimeout(branchCtx, fjConfig.MergeTimeout)
		defer cancelTimeout()
	}
	branchEC := ec.withInner(branchCtx)

	// Isolate each branch on a copy-on-write snapshot. Branches never
	// observe each other's intermediate writes.
	branchStates := make(map[string]*state.State, len(forkNode.Branches))
	for _, branchID := range forkNode.Branches {
		cloned := st.Snapshot()

		if hook != nil {
			var hookErr error
			cloned, hookErr = hook.OnFork(ec, branchID, cloned)
			if hookErr != nil {
				return st, "", fmt.Errorf("fork node %s: OnFork hook for branch %s: %w",
					forkNode.NodeID, branchID, hookErr)
			}
		}

		branchStates[branchID] = cloned
	}

	results := make(chan BranchResult, len(forkNode.Branches))
	var wg sync.WaitGroup

	for _, branchID := range forkNode.Branches {
		wg.Add(1)
		go func(bID string, bState *state.State) {
			defer wg.Done()

			if sem != nil {
				select {
				case sem <- struct{}{}:
					defer func() { <-sem }()
				case <-branchCtx.Done():
					results <- BranchResult{BranchID: bID, Error: branchCtx.Err()}
					return
				}
			}

			result := cg.executeBranch(branchEC, bID, bState, forkNode.JoinNodeID, rs)
			results <- result

			if result.Error != nil {
				if hook != nil {
					hook.OnBranchError(ec, bID, bState, result.Error)
				}
				if fjConfig.FailFast {
					cancelBranches()
				}
			}
		}(branchID, branchStates[branchID])
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(results)
		close(done)
	}()

	// Collect branch results. Once the context is canceled, in-flight
	// branches get a bounded drain window to observe the signal before
	// the fork is forced to terminate.
	branchResults := make(map[string]BranchResult, len(forkNode.Branches))
	var firstError error
	var firstErrorBranch string
collect:
	for {
		select {
		case result, ok := <-results:
			if !ok {
				break collect
			}
			branchResults[result.BranchID] = result
			if result.Error != nil && firstError == nil {
				firstError = result.Error
				firstErrorBranch = result.BranchID
			}
		case <-branchCtx.Done():
			select {
			case <-done:
				continue
			case <-time.After(cfg.drainWindow):
				if firstError == nil {
					firstError = fmt.Errorf("fork drain window exceeded: %w", context.Cause(branchCtx))
					firstErrorBranch = forkNode.Branches[0]
				}
				break collect
			}
		}
	}

	if firstError != nil {
		return st, "", &ForkJoinError{
			ForkNodeID: forkNode.NodeID,
			BranchID:   firstErrorBranch,
			Err:        firstError,
		}
	}

	successfulStates := make(map[string]*state.State, len(branchResults))
	for id, r := range branchResults {
		successfulStates[id] = r.State
	}
	if hook != nil {
		if joinErr := hook.OnJoin(ec, successfulStates); joinErr != nil {
			return st, "", fmt.Errorf("fork node %s: OnJoin hook: %w",
				forkNode.NodeID, joinErr)
		}
	}

	// Deterministic left-to-right merge in declared branch order:
	// merge(merge(base, O1), O2).
	mergeOpts := fjConfig.Merge
	if mergeOpts.Policy == state.PreferBase && mergeOpts.KeyPolicies == nil && mergeOpts.Reducer == nil && mergeOpts.Merger == nil {
		mergeOpts = cfg.merge
	}
	// Conflicts are judged against the fork-point state, so two branches
	// writing the same key both count as writes even when the values
	// coincide.
	mergeOpts.Ancestor = st.Snapshot()
	merged := st
	for _, branchID := range forkNode.Branches {
		res, mergeErr := state.Merge(merged, successfulStates[branchID], mergeOpts)
		if mergeErr != nil {
			return st, "", fmt.Errorf("fork node %s: merge branch %s: %w",
				forkNode.NodeID, branchID, mergeErr)
		}
		merged = res.Merged
	}

	duration := time.Since(startTime)
	ec.Logger().Info("fork/join completed",
		"fork_node", forkNode.NodeID,
		"join_node", forkNode.JoinNodeID,
		"branches", len(forkNode.Branches),
		"duration_ms", duration.Milliseconds())

	return merged, forkNode.JoinNodeID, nil
}

// executeBranch executes a single branch from its start node until it
// reaches the join node. Each branch is sequential; the shared step
// counter still bounds the whole execution.
func (cg *CompiledGraph) executeBranch(
	ec *executionContext,
	branchID string,
	st *state.State,
	joinNodeID string,
	rs *runState,
) BranchResult {
	startTime := time.Now()
	cfg := rs.cfg
	current := branchID

	for current != joinNodeID && current != END {
		if int(rs.steps.Add(1)) > cfg.maxExecutionSteps {
			return BranchResult{
				BranchID: branchID,
				Error: &MaxStepsError{
					Max:        cfg.maxExecutionSteps,
					LastNodeID: current,
					State:      st,
				},
				Duration: time.Since(startTime),
			}
		}

		select {
		case <-ec.Done():
			return BranchResult{
				BranchID: branchID,
				Error: &CancellationError{
					NodeID: current,
					State:  st,
					Cause:  context.Cause(ec),
				},
				Duration: time.Since(startTime),
			}
		default:
		}

		cfg.collector.RecordStep(cfg.runID, current)

		outcome, err := cg.executeStep(ec, ec, current, st, rs)
		if err != nil {
			return BranchResult{
				BranchID: branchID,
				State:    st,
				Error:    err,
				Duration: time.Since(startTime),
			}
		}

		var next string
		if outcome.forcedNext != "" {
			next = outcome.forcedNext
		} else {
			next, err = cg.nextNode(ec, st, current, outcome.result, rs)
			if err != nil {
				return BranchResult{
					BranchID: branchID,
					State:    st,
					Error:    err,
					Duration: time.Since(startTime),
				}
			}
		}

		current = next
	}

	return BranchResult{
		BranchID: branchID,
		State:    st,
		Duration: time.Since(startTime),
	}
}

// ForkJoinError represents an error during fork/join execution.
type ForkJoinError struct {
	ForkNodeID string
	BranchID   string
	Err        error
}

func (e *ForkJoinError) Error() string {
	return fmt.Sprintf("fork/join error at %s (branch %s): %v", e.ForkNodeID, e.BranchID, e.Err)
}

func (e *ForkJoinError) Unwrap() error {
	return e.Err
}
