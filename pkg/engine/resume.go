package engine

import (
	"fmt"
	"time"

	"github.com/flowcraft/engine/pkg/engine/checkpoint"
	"github.com/flowcraft/engine/pkg/engine/errpolicy"
	"github.com/flowcraft/engine/pkg/engine/event"
	"github.com/flowcraft/engine/pkg/engine/state"
)

// resumeConfig holds resume-specific options.
type resumeConfig struct {
	replayNode    bool
	stateOverride func(*state.State)
	validateState func(*state.State) error
	runOpts       []RunOption
}

// ResumeOption configures Resume behavior.
type ResumeOption func(*resumeConfig)

// WithReplayNode re-executes the checkpointed node instead of continuing
// from its successor.
func WithReplayNode() ResumeOption {
	return func(c *resumeConfig) {
		c.replayNode = true
	}
}

// WithStateOverride mutates the restored state before execution resumes.
func WithStateOverride(fn func(*state.State)) ResumeOption {
	return func(c *resumeConfig) {
		c.stateOverride = fn
	}
}

// WithStateValidation rejects a restored state that fails the check.
func WithStateValidation(fn func(*state.State) error) ResumeOption {
	return func(c *resumeConfig) {
		c.validateState = fn
	}
}

// WithRunOptions forwards execution options (event stream, policies,
// governor, ...) to the resumed run.
func WithRunOptions(opts ...RunOption) ResumeOption {
	return func(c *resumeConfig) {
		c.runOpts = append(c.runOpts, opts...)
	}
}

// Resume continues execution from the last checkpoint for a run.
// It loads the latest checkpoint, restores the state and the persisted
// attempt counters, and continues from the saved successor queue.
//
// Example:
//
//	// Previous run crashed after node B
//	// Resume continues from node C with state from B's checkpoint
//	result, err := compiled.Resume(ctx, store, "run-123")
func (cg *CompiledGraph) Resume(ctx Context, store checkpoint.Store, runID string, opts ...ResumeOption) (*state.State, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}

	infos, err := store.List(runID)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	if len(infos) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoCheckpoints, runID)
	}

	latest := infos[len(infos)-1]
	return cg.resumeFromCheckpoint(ctx, store, runID, latest.NodeID, opts, nil)
}

// ResumeFrom continues execution from a specific checkpoint.
// Unlike Resume, this loads the checkpoint at a specific node rather than
// the latest.
func (cg *CompiledGraph) ResumeFrom(ctx Context, store checkpoint.Store, runID, nodeID string, opts ...ResumeOption) (*state.State, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	return cg.resumeFromCheckpoint(ctx, store, runID, nodeID, opts, nil)
}

// ResumeApproval delivers a human-approval response for a suspended run
// and continues it. The suspended node is replayed; it observes the
// response in state metadata and completes instead of suspending again.
//
// The response is rejected when the recorded deadline has passed.
func (cg *CompiledGraph) ResumeApproval(ctx Context, store checkpoint.Store, runID, requestID string, response state.Value, opts ...ResumeOption) (*state.State, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}

	infos, err := store.List(runID)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	if len(infos) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoCheckpoints, runID)
	}
	latest := infos[len(infos)-1]

	var deadlineErr error
	inject := func(st *state.State, cp *checkpoint.Checkpoint) {
		if v, ok := st.Metadata(suspendMetaPrefix + cp.NodeID); ok {
			if m, err := state.As[map[string]state.Value](v); err == nil {
				if dl, err := state.As[time.Time](m["deadline"]); err == nil && time.Now().After(dl) {
					deadlineErr = fmt.Errorf("approval %s: deadline %s passed", requestID, dl.Format(time.RFC3339))
					return
				}
			}
		}
		st.SetMetadata(approvalMetaPrefix+cp.NodeID, state.Map(map[string]state.Value{
			"request_id": state.String(requestID),
			"response":   response,
			"at":         state.Time(time.Now().UTC()),
		}))
	}

	opts = append(opts, WithReplayNode())
	result, err := cg.resumeFromCheckpoint(ctx, store, runID, latest.NodeID, opts, inject)
	if deadlineErr != nil {
		return result, deadlineErr
	}
	return result, err
}

func (cg *CompiledGraph) resumeFromCheckpoint(
	ctx Context,
	store checkpoint.Store,
	runID, nodeID string,
	opts []ResumeOption,
	inject func(*state.State, *checkpoint.Checkpoint),
) (*state.State, error) {
	cfg := resumeConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	data, err := store.Load(runID, nodeID)
	if err != nil {
		if err == checkpoint.ErrNotFound {
			return nil, fmt.Errorf("%w: %s at node %s", ErrNoCheckpoints, runID, nodeID)
		}
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}

	cp, err := checkpoint.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeserializeState, err)
	}
	if cp.Version != checkpoint.Version {
		return nil, fmt.Errorf("%w: got %d, expected %d",
			ErrCheckpointVersionMismatch, cp.Version, checkpoint.Version)
	}

	stateBytes, compressed := cp.StateBytes()
	var st *state.State
	if compressed {
		comp, compErr := state.NewCompressor(0)
		if compErr != nil {
			return nil, compErr
		}
		defer comp.Close()
		st, err = comp.UnmarshalState(stateBytes, true)
	} else {
		st, err = state.Unmarshal(stateBytes)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeserializeState, err)
	}

	if inject != nil {
		inject(st, cp)
	}
	if cfg.stateOverride != nil {
		cfg.stateOverride(st)
	}
	if cfg.validateState != nil {
		if err := cfg.validateState(st); err != nil {
			return st, fmt.Errorf("state validation failed: %w", err)
		}
	}

	startNode := cp.NextNode
	if len(cp.PendingSuccessors) > 0 {
		startNode = cp.PendingSuccessors[0]
	}
	if cfg.replayNode {
		startNode = cp.NodeID
	}
	if startNode != END && !cg.HasNode(startNode) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidResumeNode, startNode)
	}

	runCfg := defaultRunConfig()
	for _, opt := range cfg.runOpts {
		opt(&runCfg)
	}
	runCfg.enableCheckpointing = true
	runCfg.checkpointStore = store
	runCfg.runID = runID
	runCfg.sequence = cp.Sequence
	if runCfg.policies == nil {
		runCfg.policies = errpolicy.NewRegistry()
	}
	if cp.AttemptCounters != nil {
		runCfg.attemptCounters = cp.AttemptCounters
	}

	rs := &runState{cfg: &runCfg, attempts: runCfg.attemptCounters, seq: cp.Sequence}
	ec := asExecutionContext(ctx)
	if runCfg.events != nil {
		ec = ec.withStream(runCfg.events)
	}

	if inject != nil {
		_ = rs.emit(event.KindResumed, cp.NodeID, map[string]any{"sequence": cp.Sequence})
	}

	result, _, err := cg.runFrom(ec, ec, st, startNode, rs)
	return result, err
}
