package nodekind

import (
	"fmt"
	"time"

	"github.com/flowcraft/engine/pkg/engine"
	"github.com/flowcraft/engine/pkg/engine/saga"
	"github.com/flowcraft/engine/pkg/engine/state"
)

// SagaNode runs a registered saga definition as one workflow step: a
// sequence of compensable actions that rolls back on failure. The input
// is read from InputKey (or nil when empty); the saga's final output is
// stored under OutputKey. A compensated or failed saga surfaces as a node
// failure, so the run-level policy registry decides what happens next.
type SagaNode struct {
	Base

	// Orchestrator holds the registered definitions.
	Orchestrator *saga.Orchestrator

	// SagaName names the definition to start.
	SagaName string

	// InputKey, when non-empty, supplies the saga input from state.
	InputKey string

	// OutputKey, when non-empty, receives the last step's output.
	OutputKey string
}

// NewSagaNode builds a saga step.
func NewSagaNode(id string, orch *saga.Orchestrator, sagaName, inputKey, outputKey string) *SagaNode {
	n := &SagaNode{Orchestrator: orch, SagaName: sagaName, InputKey: inputKey, OutputKey: outputKey}
	n.NodeID = id
	if inputKey != "" {
		n.Inputs = []string{inputKey}
	}
	if outputKey != "" {
		n.Outputs = []string{outputKey}
	}
	return n
}

// Execute implements engine.Node.
func (n *SagaNode) Execute(ctx engine.Context, s *state.State) (engine.NodeResult, error) {
	if n.Orchestrator == nil {
		return engine.NodeResult{}, fmt.Errorf("saga %s: no orchestrator configured", n.NodeID)
	}

	var input any
	if n.InputKey != "" {
		v, ok := s.TryGetValue(n.InputKey)
		if !ok {
			return engine.NodeResult{}, fmt.Errorf("saga %s: input %q absent", n.NodeID, n.InputKey)
		}
		input = v.Raw()
	}

	started, err := n.Orchestrator.Start(ctx, n.SagaName, input)
	if err != nil {
		return engine.NodeResult{}, fmt.Errorf("saga %s: %w", n.NodeID, err)
	}

	// Start runs the steps asynchronously; wait for a terminal status.
	exec := started
	for {
		exec = n.Orchestrator.Get(started.ID)
		if exec == nil {
			return engine.NodeResult{}, fmt.Errorf("saga %s: execution %s disappeared", n.NodeID, started.ID)
		}
		if exec.Status != saga.StatusPending && exec.Status != saga.StatusRunning &&
			exec.Status != saga.StatusCompensating {
			break
		}
		select {
		case <-ctx.Done():
			return engine.NodeResult{}, ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}

	switch exec.Status {
	case saga.StatusCompleted:
	case saga.StatusCompensated:
		return engine.NodeResult{}, fmt.Errorf("saga %s: compensated: %s", n.NodeID, exec.Error)
	default:
		return engine.NodeResult{}, fmt.Errorf("saga %s: ended %s: %s", n.NodeID, exec.Status, exec.Error)
	}

	if n.OutputKey != "" {
		out := exec.Output
		value, convErr := state.FromAny(out)
		if convErr != nil {
			value = state.String(fmt.Sprint(out))
		}
		if err := s.Replace(n.OutputKey, value); err != nil {
			return engine.NodeResult{}, err
		}
		return engine.NodeResult{Value: value, HasValue: true}, nil
	}
	return engine.NodeResult{}, nil
}
