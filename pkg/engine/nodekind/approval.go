package nodekind

import (
	"fmt"
	"time"

	"github.com/flowcraft/engine/pkg/engine"
	"github.com/flowcraft/engine/pkg/engine/state"
	"github.com/google/uuid"
)

// TimeoutAction decides what a HumanApprovalNode does when its deadline
// passes without a response.
type TimeoutAction int

const (
	// TimeoutSkip treats the approval as skipped: no output is written
	// and the branch continues.
	TimeoutSkip TimeoutAction = iota
	// TimeoutFail fails the node.
	TimeoutFail
	// TimeoutEscalate suspends again with a fresh deadline.
	TimeoutEscalate
)

// HumanApprovalNode suspends its branch until a response is delivered via
// ResumeApproval. On the first visit it returns a Suspend marker; the
// engine checkpoints and pauses. When the run is resumed with a response,
// the node replays, finds the response in state metadata, stores it under
// OutputKey, and completes.
type HumanApprovalNode struct {
	Base

	// Prompt is shown to the approver.
	Prompt string

	// OutputKey receives the delivered response.
	OutputKey string

	// Window is how long the approval may stay pending.
	Window time.Duration

	// OnTimeout picks the behavior when the deadline passes.
	OnTimeout TimeoutAction
}

// NewHumanApprovalNode builds an approval gate.
func NewHumanApprovalNode(id, prompt, outputKey string, window time.Duration) *HumanApprovalNode {
	n := &HumanApprovalNode{Prompt: prompt, OutputKey: outputKey, Window: window}
	n.NodeID = id
	if outputKey != "" {
		n.Outputs = []string{outputKey}
	}
	return n
}

// Execute implements engine.Node.
func (n *HumanApprovalNode) Execute(_ engine.Context, s *state.State) (engine.NodeResult, error) {
	// A delivered response means we are replaying after resume.
	if v, ok := s.Metadata(engine.ApprovalMetaPrefix + n.NodeID); ok {
		record, err := state.As[map[string]state.Value](v)
		if err != nil {
			return engine.NodeResult{}, fmt.Errorf("approval %s: malformed response record: %w", n.NodeID, err)
		}
		response := record["response"]
		if n.OutputKey != "" {
			if err := s.Replace(n.OutputKey, response); err != nil {
				return engine.NodeResult{}, err
			}
		}
		return engine.NodeResult{Value: response, HasValue: true}, nil
	}

	// A pending suspension whose deadline has passed applies the timeout
	// policy.
	if v, ok := s.Metadata(engine.SuspendMetaPrefix + n.NodeID); ok {
		if record, err := state.As[map[string]state.Value](v); err == nil {
			if deadline, err := state.As[time.Time](record["deadline"]); err == nil && time.Now().After(deadline) {
				switch n.OnTimeout {
				case TimeoutFail:
					return engine.NodeResult{}, fmt.Errorf("approval %s: deadline passed without response", n.NodeID)
				case TimeoutEscalate:
					// Fall through to a fresh suspension below.
				default:
					return engine.NodeResult{}, nil
				}
			}
		}
	}

	window := n.Window
	if window <= 0 {
		window = 24 * time.Hour
	}
	return engine.NodeResult{Suspend: &engine.Suspend{
		RequestID: uuid.New().String(),
		Prompt:    n.Prompt,
		Deadline:  time.Now().Add(window),
	}}, nil
}
