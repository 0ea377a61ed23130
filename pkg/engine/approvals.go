package engine

import (
	"context"
	"fmt"

	"github.com/flowcraft/engine/pkg/engine/checkpoint"
	"github.com/flowcraft/engine/pkg/engine/signal"
	"github.com/flowcraft/engine/pkg/engine/state"
)

// ApprovalSignal is the signal name carrying human-approval responses.
const ApprovalSignal = "human.approval"

// ApprovalResult reports the outcome of one delivered approval.
type ApprovalResult struct {
	RunID      string
	RequestID  string
	FinalState *state.State
	Err        error
}

// ApprovalBroker is the human-interaction channel: external callers
// deliver approval responses as signals keyed by run id, and the broker
// resumes the matching suspended execution from its checkpoint.
//
//	broker := engine.NewApprovalBroker(compiled, store)
//	_ = broker.Deliver(ctx, runID, requestID, state.String("granted"))
//	result := <-broker.Results()
type ApprovalBroker struct {
	graph      *CompiledGraph
	store      checkpoint.Store
	registry   *signal.Registry
	dispatcher *signal.Dispatcher
	runOpts    []RunOption
	results    chan ApprovalResult
}

// NewApprovalBroker wires a broker for the given graph and checkpoint
// store. runOpts are forwarded to every resumed run.
func NewApprovalBroker(cg *CompiledGraph, store checkpoint.Store, runOpts ...RunOption) *ApprovalBroker {
	reg := signal.NewRegistry()
	sigStore := signal.NewMemoryStore()
	b := &ApprovalBroker{
		graph:      cg,
		store:      store,
		registry:   reg,
		dispatcher: signal.NewDispatcher(reg, sigStore),
		runOpts:    runOpts,
		results:    make(chan ApprovalResult, 16),
	}
	reg.MustRegister(ApprovalSignal, b.handle)
	return b
}

// Results delivers the outcome of each processed approval.
func (b *ApprovalBroker) Results() <-chan ApprovalResult {
	return b.results
}

// Deliver records a response for the given run and request and resumes
// the execution. The resumed run's final state (or error) arrives on
// Results.
func (b *ApprovalBroker) Deliver(ctx context.Context, runID, requestID string, response state.Value) error {
	sig := signal.NewSignal(ApprovalSignal, runID, map[string]any{
		"request_id": requestID,
		"response":   response.Raw(),
	})
	if err := b.dispatcher.Send(ctx, sig); err != nil {
		return err
	}
	return b.dispatcher.Process(ctx, runID)
}

func (b *ApprovalBroker) handle(ctx context.Context, targetID string, sig *signal.Signal) error {
	requestID, _ := sig.Payload["request_id"].(string)
	if requestID == "" {
		return fmt.Errorf("approval signal %s: missing request_id", sig.ID)
	}
	response, err := state.FromAny(sig.Payload["response"])
	if err != nil {
		return fmt.Errorf("approval signal %s: %w", sig.ID, err)
	}

	final, resumeErr := b.graph.ResumeApproval(NewContext(ctx), b.store, targetID,
		requestID, response, WithRunOptions(b.runOpts...))

	select {
	case b.results <- ApprovalResult{
		RunID:      targetID,
		RequestID:  requestID,
		FinalState: final,
		Err:        resumeErr,
	}:
	default:
		// A slow consumer must not wedge signal processing.
	}
	return resumeErr
}
