package engine

// CompiledGraph is an immutable, executable graph.
// It is created by calling Compile() on a Graph builder.
//
// CompiledGraph is thread-safe and can be used concurrently for multiple
// Run() calls; per-execution state is never shared. The graph structure
// cannot be modified after compilation.
type CompiledGraph struct {
	nodes            map[string]Node
	nodeOrder        []string
	edges            map[string][]Edge
	conditionalEdges map[string]RouterFunc
	entryPoint       string
	terminals        map[string]bool

	// Pre-computed for efficient lookup
	successors    map[string][]string
	predecessors  map[string][]string
	isConditional map[string]bool

	// Parallel execution support
	branchHook     BranchHook
	forkJoinConfig ForkJoinConfig
	forkNodes      map[string]*ForkNode
	joinNodes      map[string]*JoinNode

	report *ValidationReport
}

// EntryPoint returns the entry node ID.
func (cg *CompiledGraph) EntryPoint() string {
	return cg.entryPoint
}

// Report returns the validation report produced at compile time,
// including warnings that did not block compilation.
func (cg *CompiledGraph) Report() *ValidationReport {
	return cg.report
}

// NodeIDs returns all node identifiers in declaration order.
func (cg *CompiledGraph) NodeIDs() []string {
	ids := make([]string, len(cg.nodeOrder))
	copy(ids, cg.nodeOrder)
	return ids
}

// HasNode checks if a node exists in the graph.
func (cg *CompiledGraph) HasNode(id string) bool {
	_, exists := cg.nodes[id]
	return exists
}

// Node returns the node registered under id.
func (cg *CompiledGraph) Node(id string) (Node, bool) {
	n, exists := cg.nodes[id]
	return n, exists
}

// Successors returns the node IDs that can be reached from the given node
// via static edges, in declared order. Returns nil for END or unknown
// nodes. Does not include targets of conditional edges (those are
// runtime-determined).
func (cg *CompiledGraph) Successors(id string) []string {
	if id == END {
		return nil
	}
	return cg.successors[id]
}

// Predecessors returns the node IDs that have edges to the given node.
func (cg *CompiledGraph) Predecessors(id string) []string {
	return cg.predecessors[id]
}

// IsConditional returns true if the node has a conditional edge.
func (cg *CompiledGraph) IsConditional(id string) bool {
	return cg.isConditional[id]
}

// IsTerminal returns true if the node was flagged as an intended leaf.
func (cg *CompiledGraph) IsTerminal(id string) bool {
	return cg.terminals[id]
}

// getNode returns the node for the given ID. Used internally by the
// executor.
func (cg *CompiledGraph) getNode(id string) (Node, bool) {
	n, exists := cg.nodes[id]
	return n, exists
}

// getRouter returns the router function for the given node.
func (cg *CompiledGraph) getRouter(id string) (RouterFunc, bool) {
	router, exists := cg.conditionalEdges[id]
	return router, exists
}

// getEdges returns the static edges leaving the given node, in declared
// order.
func (cg *CompiledGraph) getEdges(id string) []Edge {
	return cg.edges[id]
}

// IsForkNode returns true if the node is a detected fork point
// (has multiple outgoing unconditional edges requiring parallel execution).
func (cg *CompiledGraph) IsForkNode(id string) bool {
	_, exists := cg.forkNodes[id]
	return exists
}

// GetForkNode returns the fork information for a node, or nil if not a fork.
func (cg *CompiledGraph) GetForkNode(id string) *ForkNode {
	return cg.forkNodes[id]
}

// IsJoinNode returns true if the node is a detected join point.
func (cg *CompiledGraph) IsJoinNode(id string) bool {
	_, exists := cg.joinNodes[id]
	return exists
}

// GetJoinNode returns the join information for a node, or nil if not a join.
func (cg *CompiledGraph) GetJoinNode(id string) *JoinNode {
	return cg.joinNodes[id]
}

// ForkNodes returns all fork nodes in the graph.
func (cg *CompiledGraph) ForkNodes() []*ForkNode {
	result := make([]*ForkNode, 0, len(cg.forkNodes))
	for _, fn := range cg.forkNodes {
		result = append(result, fn)
	}
	return result
}

// HasParallelExecution returns true if the graph contains any fork/join
// structures.
func (cg *CompiledGraph) HasParallelExecution() bool {
	return len(cg.forkNodes) > 0
}

// getBranchHook returns the branch hook, or nil if not set.
func (cg *CompiledGraph) getBranchHook() BranchHook {
	return cg.branchHook
}

// getForkJoinConfig returns the fork/join configuration.
func (cg *CompiledGraph) getForkJoinConfig() ForkJoinConfig {
	return cg.forkJoinConfig
}
