package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flowcraft/engine/pkg/engine/checkpoint"
	"github.com/flowcraft/engine/pkg/engine/errpolicy"
	"github.com/flowcraft/engine/pkg/engine/event"
	"github.com/flowcraft/engine/pkg/engine/expr"
	"github.com/flowcraft/engine/pkg/engine/observability"
	"github.com/flowcraft/engine/pkg/engine/state"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// MaxCheckpointSize is the maximum allowed size for a serialized
// checkpoint. This prevents memory exhaustion from extremely large state
// objects. If you need larger checkpoints, consider chunking your state.
const MaxCheckpointSize = 100 * 1024 * 1024 // 100MB

// AttemptMetaPrefix keys persisted per-node attempt counters inside state
// metadata, so retry counts survive checkpoint round trips.
const AttemptMetaPrefix = "attempt:"

// ApprovalMetaPrefix keys delivered human-approval responses inside state
// metadata (see ResumeApproval and nodekind.HumanApprovalNode).
const ApprovalMetaPrefix = "approval:"

// SuspendMetaPrefix keys pending suspension records (request id and
// deadline) inside state metadata.
const SuspendMetaPrefix = "suspend:"

const (
	attemptMetaPrefix  = AttemptMetaPrefix
	approvalMetaPrefix = ApprovalMetaPrefix
	suspendMetaPrefix  = SuspendMetaPrefix
)

// runState carries the mutable bookkeeping shared by every branch of one
// execution.
type runState struct {
	cfg   *runConfig
	steps atomic.Int64

	mu       sync.Mutex
	attempts map[string]int
	seq      int
}

func (rs *runState) attempt(nodeID string) int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.attempts[nodeID]
}

func (rs *runState) setAttempt(nodeID string, n int) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.attempts[nodeID] = n
}

func (rs *runState) attemptSnapshot() map[string]int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	out := make(map[string]int, len(rs.attempts))
	for k, v := range rs.attempts {
		out[k] = v
	}
	return out
}

func (rs *runState) nextSeq() int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.seq++
	return rs.seq
}

// emit publishes an event to the run's stream; a saturated stream for a
// lifecycle event surfaces as ResourceExhaustion through the error policy.
func (rs *runState) emit(kind event.StreamKind, nodeID string, payload map[string]any) error {
	if rs.cfg.events == nil {
		return nil
	}
	err := rs.cfg.events.Publish(event.StreamEvent{
		ExecutionID: rs.cfg.runID,
		Kind:        kind,
		NodeID:      nodeID,
		Payload:     payload,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", kind, err)
	}
	return nil
}

// stepOutcome is what one node step reports back to the branch walker.
type stepOutcome struct {
	result  NodeResult
	skipped bool

	// forcedNext overrides routing (fallback target after a recovery
	// action).
	forcedNext string
}

// Run executes the graph with the given initial state.
// Returns the final state and any error encountered.
//
// On success, returns the state after the last node executed before END.
// On error, returns the state at the point of failure (useful for
// debugging).
//
// Execution flow per branch:
//  1. Check shouldExecute; skip and route if false
//  2. Acquire a governor lease sized by the node's declared cost
//  3. Emit NodeStarted, run the before hook
//  4. Execute under min(node timeout, remaining run timeout)
//  5. On success run after, record metrics, emit NodeCompleted, maybe
//     checkpoint
//  6. On failure classify, consult the policy registry, apply the
//     recovery action
//  7. Route to the next node and repeat until END
func (cg *CompiledGraph) Run(ctx Context, st *state.State, opts ...RunOption) (result *state.State, runErr error) {
	if ctx == nil {
		return st, ErrNilContext
	}
	if st == nil {
		st = state.New()
	}

	cfg := defaultRunConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.enableCheckpointing && cfg.checkpointStore == nil {
		return st, ErrRunIDRequired
	}
	if cfg.runID == "" {
		cfg.runID = ctx.RunID()
	}
	if cfg.runID == "" {
		cfg.runID = uuid.New().String()
	}
	if cfg.policies == nil {
		cfg.policies = errpolicy.NewRegistry()
	}

	ec := asExecutionContext(ctx)
	if cfg.events != nil {
		ec = ec.withStream(cfg.events)
	}
	var cancel context.CancelFunc
	if cfg.executionTimeout > 0 {
		var inner context.Context
		inner, cancel = context.WithTimeout(ec.Context, cfg.executionTimeout)
		defer cancel()
		ec = ec.withInner(inner)
	}
	if cfg.breakers != nil {
		rsForNotify := &cfg
		cfg.breakers.SetNotify(func(sc errpolicy.StateChange) {
			cfg.collector.RecordCircuitTransition(sc.NodeID)
			if rsForNotify.events == nil {
				return
			}
			var kind event.StreamKind
			switch sc.To.String() {
			case "open":
				kind = event.KindCircuitOpened
			case "closed":
				kind = event.KindCircuitClosed
			default:
				return
			}
			_ = rsForNotify.events.Publish(event.StreamEvent{
				ExecutionID: rsForNotify.runID,
				Kind:        kind,
				NodeID:      sc.NodeID,
				Payload:     map[string]any{"from": sc.From.String(), "to": sc.To.String()},
			})
		})
	}

	rs := &runState{cfg: &cfg, attempts: cfg.attemptCounters}

	startTime := time.Now()
	observability.LogRunStart(cfg.logger, cfg.runID)
	cfg.collector.StartExecution(cfg.runID)
	if err := rs.emit(event.KindExecutionStarted, "", nil); err != nil {
		return st, &ExecutionError{Kind: errpolicy.KindResourceExhaustion, Severity: errpolicy.SeverityHigh, Err: err}
	}

	var execCtx context.Context = ec
	var runSpan trace.Span
	if cfg.tracingEnabled {
		execCtx, runSpan = cfg.spans.StartRunSpan(ec, cfg.executorName, cfg.runID)
		defer func() {
			cfg.spans.EndSpanWithError(runSpan, runErr)
		}()
	}

	var nodeCount int
	result, nodeCount, runErr = cg.runFrom(execCtx, ec, st, cg.entryPoint, rs)

	duration := time.Since(startTime)
	durationMs := float64(duration.Milliseconds())
	cfg.metrics.RecordGraphRun(ec, runErr == nil, duration)

	switch {
	case runErr == nil:
		cfg.collector.FinishExecution(cfg.runID, "completed")
		observability.LogRunComplete(cfg.logger, cfg.runID, durationMs, nodeCount)
		_ = rs.emit(event.KindExecutionCompleted, "", map[string]any{"nodes": nodeCount})
	case errors.Is(runErr, ErrSuspended):
		cfg.collector.FinishExecution(cfg.runID, "suspended")
		observability.LogRunComplete(cfg.logger, cfg.runID, durationMs, nodeCount)
	default:
		var cancelErr *CancellationError
		if errors.As(runErr, &cancelErr) {
			cfg.collector.FinishExecution(cfg.runID, "canceled")
			_ = rs.emit(event.KindExecutionCanceled, cancelErr.NodeID, nil)
		} else {
			cfg.collector.FinishExecution(cfg.runID, "failed")
			runErr = cg.asExecutionError(runErr, &cfg)
			_ = rs.emit(event.KindExecutionFailed, lastNodeOf(runErr), map[string]any{"error": runErr.Error()})
		}
		observability.LogRunError(cfg.logger, cfg.runID, runErr, durationMs, lastNodeOf(runErr))
	}

	return result, runErr
}

// asExecutionError wraps a raw failure into the user-visible
// {kind, severity, node, attempt} result, classifying it once.
func (cg *CompiledGraph) asExecutionError(err error, cfg *runConfig) error {
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		return err
	}
	nodeID := lastNodeOf(err)
	attempt := 1
	var nodeErr *NodeError
	if errors.As(err, &nodeErr) {
		nodeID = nodeErr.NodeID
	}
	ecx := cfg.policies.Classify(err, nodeID, attempt)
	return &ExecutionError{
		Kind:     ecx.Kind,
		Severity: ecx.Severity,
		NodeID:   nodeID,
		Attempt:  attempt,
		Err:      err,
	}
}

func lastNodeOf(err error) string {
	var nodeErr *NodeError
	if errors.As(err, &nodeErr) {
		return nodeErr.NodeID
	}
	var maxErr *MaxStepsError
	if errors.As(err, &maxErr) {
		return maxErr.LastNodeID
	}
	var cancelErr *CancellationError
	if errors.As(err, &cancelErr) {
		return cancelErr.NodeID
	}
	var suspErr *SuspendError
	if errors.As(err, &suspErr) {
		return suspErr.NodeID
	}
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		return execErr.NodeID
	}
	return ""
}

// runFrom executes the graph starting from a specific node until END.
// tracingCtx carries span context; ec is the engine Context.
func (cg *CompiledGraph) runFrom(tracingCtx context.Context, ec *executionContext, st *state.State, startNode string, rs *runState) (*state.State, int, error) {
	current := startNode
	prevNode := ""
	nodeCount := 0
	sinceCheckpoint := 0
	cfg := rs.cfg

	for current != END {
		if int(rs.steps.Add(1)) > cfg.maxExecutionSteps {
			return st, nodeCount, &MaxStepsError{
				Max:        cfg.maxExecutionSteps,
				LastNodeID: current,
				State:      st,
			}
		}

		select {
		case <-ec.Done():
			return st, nodeCount, &CancellationError{
				NodeID: current,
				State:  st,
				Cause:  context.Cause(ec),
			}
		default:
		}

		// Fork nodes run themselves, then their branches in parallel.
		if fork := cg.GetForkNode(current); fork != nil {
			outcome, err := cg.executeStep(tracingCtx, ec, current, st, rs)
			if err != nil {
				return st, nodeCount, err
			}
			if !outcome.skipped {
				nodeCount++
			}

			mergedState, joinNode, forkErr := cg.executeForkJoin(ec, fork, st, rs)
			if forkErr != nil {
				return st, nodeCount, forkErr
			}

			st.Restore(mergedState)

			// Fork/join boundaries always checkpoint.
			if cfg.enableCheckpointing {
				sinceCheckpoint = 0
				if err := cg.saveCheckpoint(ec, rs, current, prevNode, st, joinNode); err != nil {
					return st, nodeCount, err
				}
			}

			prevNode = current
			current = joinNode
			continue
		}

		cfg.collector.RecordStep(cfg.runID, current)

		nodeTracingCtx := tracingCtx
		var nodeSpan trace.Span
		if cfg.tracingEnabled {
			nodeTracingCtx, nodeSpan = cfg.spans.StartNodeSpan(tracingCtx, current)
		}

		outcome, err := cg.executeStep(nodeTracingCtx, ec, current, st, rs)
		if cfg.tracingEnabled {
			cfg.spans.EndSpanWithError(nodeSpan, err)
		}
		if err != nil {
			return st, nodeCount, err
		}
		if !outcome.skipped {
			nodeCount++
			sinceCheckpoint++
		}

		// Routing.
		var next string
		if outcome.forcedNext != "" {
			next = outcome.forcedNext
		} else {
			next, err = cg.nextNode(ec, st, current, outcome.result, rs)
			if err != nil {
				return st, nodeCount, err
			}
		}

		// Checkpoint cadence: every N completed nodes.
		if cfg.enableCheckpointing && sinceCheckpoint >= cfg.checkpointEveryN {
			sinceCheckpoint = 0
			if err := cg.saveCheckpoint(ec, rs, current, prevNode, st, next); err != nil {
				return st, nodeCount, err
			}
		}

		prevNode = current
		current = next
	}

	return st, nodeCount, nil
}

// executeStep runs one node through its full lifecycle, including the
// recovery pipeline. A returned error terminates the branch.
func (cg *CompiledGraph) executeStep(tracingCtx context.Context, ec *executionContext, nodeID string, st *state.State, rs *runState) (stepOutcome, error) {
	cfg := rs.cfg
	n, exists := cg.getNode(nodeID)
	if !exists {
		return stepOutcome{}, &NodeError{NodeID: nodeID, Op: "lookup", Err: fmt.Errorf("node not found: %s", nodeID)}
	}

	// Routing-only nodes (conditional, switch) never execute.
	if !n.IsExecutable() {
		return stepOutcome{skipped: true}, nil
	}

	if !n.ShouldExecute(st) {
		st.AppendStep(state.ExecutionStep{NodeID: nodeID, StartedAt: time.Now().UTC(), FinishedAt: time.Now().UTC(), Status: state.StepSkipped})
		if err := rs.emit(event.KindNodeSkipped, nodeID, nil); err != nil {
			return stepOutcome{}, err
		}
		return stepOutcome{skipped: true}, nil
	}

	cost := 1.0
	if c, ok := n.(Costed); ok && c.Cost() > 0 {
		cost = c.Cost()
	}

	// Budget check happens before any work.
	if cfg.budget != nil {
		if err := cfg.budget.Spend(cost); err != nil {
			_ = rs.emit(event.KindBudgetExceeded, nodeID, map[string]any{"cost": cost})
			if cfg.budget.TripBreaker && cfg.breakers != nil {
				cfg.breakers.ForceOpen(nodeID)
			}
			return cg.recoverStep(tracingCtx, ec, n, st, rs, &NodeError{NodeID: nodeID, Op: "budget", Err: err})
		}
	}

	// Admission control.
	if cfg.enableResourceGovernance && cfg.governor != nil {
		lease, err := cfg.governor.Acquire(ec, cost, cfg.defaultPriority)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return stepOutcome{}, &CancellationError{NodeID: nodeID, State: st, Cause: err}
			}
			return stepOutcome{}, &NodeError{NodeID: nodeID, Op: "acquire", Err: err}
		}
		defer lease.Release()
		if lease.Queued > 50*time.Millisecond {
			_ = rs.emit(event.KindRateLimited, nodeID, map[string]any{"queued_ms": lease.Queued.Milliseconds()})
		}
	}

	return cg.attemptLoop(tracingCtx, ec, n, st, rs)
}

// attemptLoop runs execute-with-lifecycle until success, a terminal
// failure, or a recovery action that redirects the walk.
func (cg *CompiledGraph) attemptLoop(tracingCtx context.Context, ec *executionContext, n Node, st *state.State, rs *runState) (stepOutcome, error) {
	cfg := rs.cfg
	nodeID := n.ID()
	attempt := rs.attempt(nodeID) + 1

	for {
		nodeCtx := ec.withNodeID(nodeID, attempt)
		started := time.Now()

		if err := rs.emit(event.KindNodeStarted, nodeID, map[string]any{"attempt": attempt}); err != nil {
			return stepOutcome{}, err
		}
		observability.LogNodeStart(cfg.logger, nodeID)

		if err := n.Before(nodeCtx, st); err != nil {
			cfg.logger.Warn("before hook failed", "node_id", nodeID, "error", err)
		}

		result, execErr := cg.executeOnce(nodeCtx, n, st, rs)
		elapsed := time.Since(started)

		if execErr == nil && result.Suspend != nil {
			return stepOutcome{}, cg.suspendStep(ec, rs, nodeID, st, result.Suspend)
		}

		if execErr == nil {
			if err := n.After(nodeCtx, st, result); err != nil {
				cfg.logger.Warn("after hook failed", "node_id", nodeID, "error", err)
			}
			st.AppendStep(state.ExecutionStep{
				NodeID: nodeID, StartedAt: started, FinishedAt: time.Now().UTC(),
				Status: state.StepOK, Attempt: attempt, Duration: elapsed,
			})
			cfg.metrics.RecordNodeExecution(tracingCtx, nodeID, elapsed, nil)
			cfg.collector.RecordNode(nodeID, elapsed, "")
			observability.LogNodeComplete(cfg.logger, nodeID, float64(elapsed.Milliseconds()))
			if err := rs.emit(event.KindNodeCompleted, nodeID, map[string]any{"attempt": attempt, "duration_ms": elapsed.Milliseconds()}); err != nil {
				return stepOutcome{}, err
			}
			return stepOutcome{result: result}, nil
		}

		// Failure path.
		if err := n.OnFailure(nodeCtx, st, execErr); err != nil {
			cfg.logger.Warn("onFailure hook failed", "node_id", nodeID, "error", err)
		}
		rs.setAttempt(nodeID, attempt)
		st.SetMetadata(attemptMetaPrefix+nodeID, state.Int64(int64(attempt)))

		ecx := cfg.policies.Classify(execErr, nodeID, attempt)
		cfg.metrics.RecordNodeExecution(tracingCtx, nodeID, elapsed, execErr)
		cfg.collector.RecordNode(nodeID, elapsed, ecx.Kind.String())

		if !cfg.enableErrorRecovery {
			st.AppendStep(state.ExecutionStep{
				NodeID: nodeID, StartedAt: started, FinishedAt: time.Now().UTC(),
				Status: state.StepFailed, Attempt: attempt, Duration: elapsed, ErrorKind: ecx.Kind.String(),
			})
			observability.LogNodeError(cfg.logger, nodeID, execErr)
			if err := rs.emit(event.KindNodeFailed, nodeID, map[string]any{"attempt": attempt, "kind": ecx.Kind.String()}); err != nil {
				return stepOutcome{}, err
			}
			return stepOutcome{}, execErr
		}

		rule := cfg.policies.Resolve(ecx, nodeID)

		if rule.Action == errpolicy.ActionRetry {
			st.AppendStep(state.ExecutionStep{
				NodeID: nodeID, StartedAt: started, FinishedAt: time.Now().UTC(),
				Status: state.StepRetried, Attempt: attempt, Duration: elapsed, ErrorKind: ecx.Kind.String(),
			})
			cfg.collector.RecordRetry(nodeID)
			if err := rs.emit(event.KindNodeRetried, nodeID, map[string]any{"attempt": attempt, "kind": ecx.Kind.String()}); err != nil {
				return stepOutcome{}, err
			}

			delay := rule.Delay(attempt)
			if delay > 0 {
				select {
				case <-ec.Done():
					return stepOutcome{}, &CancellationError{NodeID: nodeID, State: st, Cause: context.Cause(ec)}
				case <-time.After(delay):
				}
			}
			attempt++
			continue
		}

		// Terminal for this node: record the failure, then apply the
		// resolved action.
		st.AppendStep(state.ExecutionStep{
			NodeID: nodeID, StartedAt: started, FinishedAt: time.Now().UTC(),
			Status: state.StepFailed, Attempt: attempt, Duration: elapsed, ErrorKind: ecx.Kind.String(),
		})
		observability.LogNodeError(cfg.logger, nodeID, execErr)
		if err := rs.emit(event.KindNodeFailed, nodeID, map[string]any{"attempt": attempt, "kind": ecx.Kind.String()}); err != nil {
			return stepOutcome{}, err
		}

		return cg.applyRecovery(ec, rs, n, st, ecx, rule, execErr)
	}
}

// recoverStep is the entry to the recovery pipeline for failures that
// happen before the attempt loop (budget exhaustion).
func (cg *CompiledGraph) recoverStep(_ context.Context, ec *executionContext, n Node, st *state.State, rs *runState, failErr error) (stepOutcome, error) {
	cfg := rs.cfg
	nodeID := n.ID()
	attempt := rs.attempt(nodeID) + 1

	ecx := cfg.policies.Classify(failErr, nodeID, attempt)
	st.AppendStep(state.ExecutionStep{
		NodeID: nodeID, StartedAt: time.Now().UTC(), FinishedAt: time.Now().UTC(),
		Status: state.StepFailed, Attempt: attempt, ErrorKind: ecx.Kind.String(),
	})
	cfg.collector.RecordNode(nodeID, 0, ecx.Kind.String())
	if err := rs.emit(event.KindNodeFailed, nodeID, map[string]any{"kind": ecx.Kind.String()}); err != nil {
		return stepOutcome{}, err
	}
	if !cfg.enableErrorRecovery {
		return stepOutcome{}, failErr
	}
	rule := cfg.policies.Resolve(ecx, nodeID)
	return cg.applyRecovery(ec, rs, n, st, ecx, rule, failErr)
}

// applyRecovery translates a resolved policy action into control flow.
func (cg *CompiledGraph) applyRecovery(ec *executionContext, rs *runState, n Node, st *state.State, ecx errpolicy.ErrorContext, rule errpolicy.PolicyRule, failErr error) (stepOutcome, error) {
	cfg := rs.cfg
	nodeID := n.ID()

	halt := func() (stepOutcome, error) {
		return stepOutcome{}, &ExecutionError{
			Kind:     ecx.Kind,
			Severity: ecx.Severity,
			NodeID:   nodeID,
			Attempt:  ecx.Attempt,
			Err:      failErr,
		}
	}

	fallbackOrHalt := func() (stepOutcome, error) {
		target := rule.FallbackNodeID
		if target == "" {
			if fb, ok := n.(interface{ FallbackNode() string }); ok {
				target = fb.FallbackNode()
			}
		}
		if target == "" {
			return halt()
		}
		if target != END && !cg.HasNode(target) {
			return stepOutcome{}, &NodeError{NodeID: nodeID, Op: "fallback", Err: fmt.Errorf("%w: %s", ErrRouterTargetNotFound, target)}
		}
		return stepOutcome{forcedNext: target}, nil
	}

	switch rule.Action {
	case errpolicy.ActionSkip:
		if err := rs.emit(event.KindNodeSkipped, nodeID, map[string]any{"reason": "policy"}); err != nil {
			return stepOutcome{}, err
		}
		// Skip leaves the node's declared output keys absent.
		return stepOutcome{skipped: true}, nil

	case errpolicy.ActionContinue:
		// Proceed as if the node succeeded with no output.
		return stepOutcome{}, nil

	case errpolicy.ActionFallback:
		return fallbackOrHalt()

	case errpolicy.ActionRollback:
		if st.InTransaction() {
			// Roll back the innermost open transaction before re-routing.
			if err := st.RollbackInnermost(); err != nil {
				cfg.logger.Warn("rollback failed", "node_id", nodeID, "error", err)
			}
		}
		return fallbackOrHalt()

	case errpolicy.ActionCircuitBreaker:
		if cfg.breakers != nil {
			cfg.breakers.ForceOpen(nodeID)
		}
		return fallbackOrHalt()

	case errpolicy.ActionEscalate:
		deadline := time.Now().Add(24 * time.Hour)
		return stepOutcome{}, cg.suspendStep(ec, rs, nodeID, st, &Suspend{
			RequestID: uuid.New().String(),
			Prompt:    fmt.Sprintf("escalated failure at node %s: %v", nodeID, failErr),
			Deadline:  deadline,
		})

	default: // ActionHalt and anything unrecognized.
		return halt()
	}
}

// suspendStep persists a checkpoint and pauses the branch for external
// input. The suspended node is replayed on resume, observing the
// delivered response in state metadata.
func (cg *CompiledGraph) suspendStep(ec *executionContext, rs *runState, nodeID string, st *state.State, sus *Suspend) error {
	cfg := rs.cfg
	st.SetMetadata(suspendMetaPrefix+nodeID, state.Map(map[string]state.Value{
		"request_id": state.String(sus.RequestID),
		"deadline":   state.Time(sus.Deadline),
	}))
	if cfg.enableCheckpointing {
		if err := cg.saveCheckpoint(ec, rs, nodeID, "", st, nodeID); err != nil {
			return err
		}
	}
	_ = rs.emit(event.KindSuspended, nodeID, map[string]any{
		"request_id": sus.RequestID,
		"prompt":     sus.Prompt,
		"deadline":   sus.Deadline,
	})
	return &SuspendError{
		RequestID: sus.RequestID,
		NodeID:    nodeID,
		Prompt:    sus.Prompt,
		Deadline:  sus.Deadline,
	}
}

// executeOnce runs a node's execute exactly once: timeout scoping, breaker
// guard, and panic recovery.
func (cg *CompiledGraph) executeOnce(nodeCtx *executionContext, n Node, st *state.State, rs *runState) (result NodeResult, err error) {
	cfg := rs.cfg
	nodeID := n.ID()

	if vr := n.Validate(st); !vr.OK() {
		return NodeResult{}, &NodeError{
			NodeID: nodeID,
			Op:     "validate",
			Err:    fmt.Errorf("%w: %v", errpolicy.ErrValidationFailed, vr.Errors),
		}
	}

	// Per-node wall clock is min(node timeout, remaining run timeout);
	// the embedded context already carries the run deadline.
	runCtx := nodeCtx
	if cfg.nodeTimeout > 0 {
		inner, cancel := context.WithTimeout(nodeCtx.Context, cfg.nodeTimeout)
		defer cancel()
		runCtx = nodeCtx.withInner(inner)
	}

	defer func() {
		if r := recover(); r != nil {
			result = NodeResult{}
			err = &PanicError{NodeID: nodeID, Value: r, Stack: string(debug.Stack())}
		}
	}()

	if cfg.breakers != nil {
		if cfg.breakers.IsOpen(nodeID) {
			return NodeResult{}, &NodeError{NodeID: nodeID, Op: "execute", Err: errpolicy.ErrBreakerOpen}
		}
		out, cbErr := cfg.breakers.For(nodeID).Execute(func() (any, error) {
			r, execErr := n.Execute(runCtx, st)
			return r, execErr
		})
		if cbErr != nil {
			return NodeResult{}, &NodeError{NodeID: nodeID, Op: "execute", Err: cbErr}
		}
		return out.(NodeResult), nil
	}

	result, execErr := n.Execute(runCtx, st)
	if execErr != nil {
		return NodeResult{}, &NodeError{NodeID: nodeID, Op: "execute", Err: execErr}
	}
	return result, nil
}

// nextNode determines the next node after current. Order of precedence:
// the node's own routing, the dynamic router, conditional edge routers,
// then static edges evaluated first-match in declared order.
func (cg *CompiledGraph) nextNode(ec *executionContext, st *state.State, current string, result NodeResult, rs *runState) (next string, err error) {
	cfg := rs.cfg
	n, _ := cg.getNode(current)

	// 1. The node's own declared routing (loop nodes, conditionals).
	if n != nil {
		ids, nodeErr := n.NextNodes(result, st)
		if nodeErr != nil {
			return "", &NodeError{NodeID: current, Op: "routing", Err: nodeErr}
		}
		if ids != nil {
			if len(ids) == 0 {
				return END, nil
			}
			target := ids[0]
			if target != END && !cg.HasNode(target) {
				return "", &RouterError{FromNode: current, Returned: target, Err: ErrRouterTargetNotFound}
			}
			return target, nil
		}
	}

	// 2. Dynamic routing, consulted before static edges. A decision
	// outside the declared candidate set falls back to static routing
	// with a recorded warning.
	if cfg.enableDynamicRouting && cfg.router != nil {
		if target, ok, routeErr := cg.routeDynamic(ec, st, current, result, rs); routeErr != nil {
			return "", routeErr
		} else if ok {
			return target, nil
		}
	}

	// 3. Conditional edge router.
	if router, exists := cg.getRouter(current); exists {
		routerCtx := ec.withNodeID(current, ec.attempt)

		defer func() {
			if r := recover(); r != nil {
				next = ""
				err = &PanicError{NodeID: current, Value: r, Stack: string(debug.Stack())}
			}
		}()

		next = router(routerCtx, st)
		if next == "" {
			return "", &RouterError{FromNode: current, Returned: next, Err: ErrInvalidRouterResult}
		}
		if next != END && !cg.HasNode(next) {
			return "", &RouterError{FromNode: current, Returned: next, Err: ErrRouterTargetNotFound}
		}
		return next, nil
	}

	// 4. Static edges, first match in declared order.
	edges := cg.getEdges(current)
	if len(edges) == 0 {
		// A declared leaf ends the branch.
		return END, nil
	}
	for _, e := range edges {
		if e.Predicate == "" {
			return e.To, nil
		}
		match, evalErr := expr.Eval(e.Predicate, st.Vars())
		if evalErr != nil {
			return "", &RouterError{FromNode: current, Returned: e.To, Err: evalErr}
		}
		if match {
			return e.To, nil
		}
	}
	return "", &NodeError{NodeID: current, Op: "routing", Err: ErrNoMatchingEdge}
}

// routeDynamic consults the configured strategy. Returns (target, true)
// when the decision resolved to a declared edge target.
func (cg *CompiledGraph) routeDynamic(ec *executionContext, st *state.State, current string, result NodeResult, rs *runState) (string, bool, error) {
	cfg := rs.cfg

	edges := cg.getEdges(current)
	if len(edges) == 0 {
		return "", false, nil
	}
	candidates := make([]Candidate, 0, len(edges))
	valid := make(map[string]bool, len(edges))
	for _, e := range edges {
		candidates = append(candidates, Candidate{NodeID: e.To, Label: e.Label})
		valid[e.To] = true
	}

	router := cfg.router
	if pr, ok := router.(*ProbabilisticRouter); ok && pr.Seed == 0 && cfg.determinismSeed != 0 {
		seeded := *pr
		seeded.Seed = cfg.determinismSeed
		router = &seeded
	}

	decision, err := router.Route(ec, current, result, st, candidates)
	if err != nil {
		return "", false, &RouterError{FromNode: current, Returned: "", Err: err}
	}
	if decision.Passthrough || decision.Target == "" {
		return "", false, nil
	}
	if !valid[decision.Target] {
		cfg.logger.Warn("dynamic route target is not a declared edge; falling back to static routing",
			"node_id", current, "strategy", router.Name(), "target", decision.Target)
		_ = rs.emit(event.KindMetricSample, current, map[string]any{
			"sample":   "routing_fallback",
			"strategy": router.Name(),
			"target":   decision.Target,
		})
		return "", false, nil
	}
	return decision.Target, true, nil
}

// saveCheckpoint persists the current state plus the run header.
func (cg *CompiledGraph) saveCheckpoint(ec *executionContext, rs *runState, nodeID, prevNodeID string, st *state.State, nextNode string) error {
	cfg := rs.cfg
	if cfg.checkpointStore == nil {
		return nil
	}

	fail := func(op string, err error) error {
		if cfg.checkpointFailureFatal {
			return &CheckpointError{NodeID: nodeID, Op: op, Err: err}
		}
		observability.LogCheckpointError(cfg.logger, nodeID, op, err)
		return nil
	}

	var stateBytes []byte
	var compressed bool
	var err error
	if cfg.compressor != nil {
		stateBytes, compressed, err = cfg.compressor.MarshalState(st)
	} else {
		stateBytes, err = st.Marshal()
	}
	if err != nil {
		return fail("serialize", err)
	}
	if len(stateBytes) > MaxCheckpointSize {
		return fail("size_check", fmt.Errorf("checkpoint size %d exceeds limit %d", len(stateBytes), MaxCheckpointSize))
	}

	seq := rs.nextSeq()
	cp := checkpoint.New(cfg.runID, nodeID, seq, nil, nextNode).
		WithPrevNode(prevNodeID).
		WithAttempt(ec.attempt).
		WithPendingSuccessors([]string{nextNode}).
		WithAttemptCounters(rs.attemptSnapshot())
	if compressed {
		cp = cp.WithCompressedState(stateBytes)
	} else {
		cp.State = stateBytes
	}

	data, err := cp.Marshal()
	if err != nil {
		return fail("marshal", err)
	}
	if err := cfg.checkpointStore.Save(cfg.runID, nodeID, data); err != nil {
		return fail("save", err)
	}
	if cfg.maxCheckpointsRetained > 0 {
		if err := checkpoint.Prune(cfg.checkpointStore, cfg.runID, cfg.maxCheckpointsRetained); err != nil {
			return fail("prune", err)
		}
	}

	sizeBytes := len(data)
	observability.LogCheckpoint(cfg.logger, nodeID, sizeBytes)
	cfg.metrics.RecordCheckpoint(ec, nodeID, int64(sizeBytes))
	_ = rs.emit(event.KindCheckpointCreated, nodeID, map[string]any{"sequence": seq, "size_bytes": sizeBytes, "compressed": compressed})
	return nil
}
