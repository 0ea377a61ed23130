package nodekind

import "github.com/flowcraft/engine/pkg/engine"

// Compile-time checks that every variant satisfies the node contract.
var (
	_ engine.Node = (*FunctionNode)(nil)
	_ engine.Node = (*PromptNode)(nil)
	_ engine.Node = (*ConditionalNode)(nil)
	_ engine.Node = (*SwitchNode)(nil)
	_ engine.Node = (*WhileNode)(nil)
	_ engine.Node = (*ForeachNode)(nil)
	_ engine.Node = (*SubgraphNode)(nil)
	_ engine.Node = (*RemoteSubgraphNode)(nil)
	_ engine.Node = (*ErrorHandlerNode)(nil)
	_ engine.Node = (*RetryWrapperNode)(nil)
	_ engine.Node = (*HumanApprovalNode)(nil)
	_ engine.Node = (*RESTToolNode)(nil)
	_ engine.Node = (*SagaNode)(nil)

	_ engine.LoopBounded = (*WhileNode)(nil)
	_ engine.LoopBounded = (*ForeachNode)(nil)
	_ engine.Costed      = (*FunctionNode)(nil)
	_ engine.Costed      = (*PromptNode)(nil)
	_ engine.Costed      = (*RESTToolNode)(nil)
)
