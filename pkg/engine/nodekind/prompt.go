package nodekind

import (
	"fmt"

	"github.com/flowcraft/engine/pkg/engine"
	"github.com/flowcraft/engine/pkg/engine/llm"
	"github.com/flowcraft/engine/pkg/engine/state"
	"github.com/flowcraft/engine/pkg/engine/template"
)

// PromptNode runs one LLM completion: the prompt template is expanded
// against state, sent through the context's LLM client, and the response
// text is stored under OutputKey. It is the chained-prompt building block
// of LLM pipelines.
type PromptNode struct {
	Base

	// PromptTemplate is expanded against the state's variables
	// (${key} syntax).
	PromptTemplate string

	// SystemPrompt, when non-empty, is sent as the system message.
	SystemPrompt string

	// Model overrides the client's default model.
	Model string

	// MaxTokens bounds the completion length. 0 uses the client default.
	MaxTokens int

	// OutputKey receives the completion text.
	OutputKey string

	// NodeCost is the budget weight of one completion. Defaults to 1.0
	// via the engine when zero.
	NodeCost float64
}

// NewPromptNode builds a single-completion node.
func NewPromptNode(id, promptTemplate, outputKey string) *PromptNode {
	n := &PromptNode{PromptTemplate: promptTemplate, OutputKey: outputKey}
	n.NodeID = id
	if outputKey != "" {
		n.Outputs = []string{outputKey}
	}
	return n
}

// Cost implements engine.Costed.
func (n *PromptNode) Cost() float64 { return n.NodeCost }

// Execute implements engine.Node.
func (n *PromptNode) Execute(ctx engine.Context, s *state.State) (engine.NodeResult, error) {
	client := ctx.LLM()
	if client == nil {
		return engine.NodeResult{}, fmt.Errorf("prompt %s: no LLM client configured", n.NodeID)
	}

	prompt, err := template.NewExpander().Expand(n.PromptTemplate, s.Vars())
	if err != nil {
		return engine.NodeResult{}, fmt.Errorf("prompt %s: expand template: %w", n.NodeID, err)
	}

	resp, err := client.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: n.SystemPrompt,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		Model:        n.Model,
		MaxTokens:    n.MaxTokens,
	})
	if err != nil {
		return engine.NodeResult{}, err
	}

	value := state.String(resp.Content)
	if n.OutputKey != "" {
		if err := s.Set(n.OutputKey, value); err != nil {
			return engine.NodeResult{}, err
		}
	}
	return engine.NodeResult{Value: value, HasValue: true}, nil
}
