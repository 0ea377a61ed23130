package engine

// Compile validates the graph and creates an executable CompiledGraph.
// Returns an error if validation fails. Multiple errors are joined
// together; warnings are carried on the compiled graph's Report.
//
// Compile freezes the builder: no node or edge may be added once a graph
// instance has been prepared for execution.
func (g *Graph) Compile() (*CompiledGraph, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	report := g.validateLocked()
	if err := report.Err(); err != nil {
		return nil, err
	}

	g.frozen = true
	return g.buildCompiledGraph(report), nil
}

// buildCompiledGraph creates the immutable CompiledGraph from the builder
// state. Caller holds g.mu.
func (g *Graph) buildCompiledGraph(report *ValidationReport) *CompiledGraph {
	nodes := make(map[string]Node, len(g.nodes))
	for id, n := range g.nodes {
		nodes[id] = n
	}
	nodeOrder := make([]string, len(g.nodeOrder))
	copy(nodeOrder, g.nodeOrder)

	edges := make(map[string][]Edge, len(g.edges))
	for from, es := range g.edges {
		edges[from] = make([]Edge, len(es))
		copy(edges[from], es)
	}

	conditionalEdges := make(map[string]RouterFunc, len(g.conditionalEdges))
	for from, router := range g.conditionalEdges {
		conditionalEdges[from] = router
	}

	terminals := make(map[string]bool, len(g.terminals))
	for id := range g.terminals {
		terminals[id] = true
	}

	// Plain successor lists (unconditional edges only) drive fork/join
	// detection; predicated edges are runtime decisions, not forks.
	plainSuccessors := make(map[string][]string)
	allSuccessors := make(map[string][]string)
	for from, es := range edges {
		for _, e := range es {
			allSuccessors[from] = append(allSuccessors[from], e.To)
			if e.Predicate == "" {
				plainSuccessors[from] = append(plainSuccessors[from], e.To)
			}
		}
	}

	predecessors := make(map[string][]string)
	for from, targets := range allSuccessors {
		for _, to := range targets {
			if to != END {
				predecessors[to] = append(predecessors[to], from)
			}
		}
	}

	isConditional := make(map[string]bool)
	for from := range conditionalEdges {
		isConditional[from] = true
	}

	forkNodes, joinNodes := detectForkJoinNodes(plainSuccessors, predecessors, isConditional)

	return &CompiledGraph{
		nodes:            nodes,
		nodeOrder:        nodeOrder,
		edges:            edges,
		conditionalEdges: conditionalEdges,
		entryPoint:       g.entryPoint,
		terminals:        terminals,
		successors:       allSuccessors,
		predecessors:     predecessors,
		isConditional:    isConditional,
		branchHook:       g.branchHook,
		forkJoinConfig:   g.forkJoinConfig,
		forkNodes:        forkNodes,
		joinNodes:        joinNodes,
		report:           report,
	}
}

// detectForkJoinNodes identifies fork and join nodes in the graph.
// A fork node has multiple outgoing unconditional edges. A join node is
// found using a simple post-dominator heuristic: the first node where all
// branches from a fork converge.
func detectForkJoinNodes(edges map[string][]string, predecessors map[string][]string, isConditional map[string]bool) (map[string]*ForkNode, map[string]*JoinNode) {
	forkNodes := make(map[string]*ForkNode)
	joinNodes := make(map[string]*JoinNode)

	for from, targets := range edges {
		if len(targets) > 1 && !isConditional[from] {
			fork := &ForkNode{
				NodeID:   from,
				Branches: make([]string, len(targets)),
			}
			copy(fork.Branches, targets)

			joinNodeID := findJoinNode(from, targets, edges, predecessors)
			fork.JoinNodeID = joinNodeID

			forkNodes[from] = fork

			if joinNodeID != "" && joinNodeID != END {
				joinNodes[joinNodeID] = &JoinNode{
					NodeID:           joinNodeID,
					ForkNodeID:       from,
					ExpectedBranches: fork.Branches,
				}
			}
		}
	}

	return forkNodes, joinNodes
}

// findJoinNode finds the join point for a fork using simplified
// post-dominator analysis: the closest node reachable from every branch.
func findJoinNode(forkNode string, branches []string, edges map[string][]string, predecessors map[string][]string) string {
	if len(branches) == 0 {
		return ""
	}

	branchReachable := make([]map[string]bool, len(branches))
	for i, branch := range branches {
		branchReachable[i] = computeReachable(branch, edges)
	}

	common := make(map[string]bool)
	for node := range branchReachable[0] {
		common[node] = true
	}
	for i := 1; i < len(branches); i++ {
		for node := range common {
			if !branchReachable[i][node] {
				delete(common, node)
			}
		}
	}
	if len(common) == 0 {
		return ""
	}

	return findClosestNode(branches[0], common, edges)
}

// computeReachable returns all nodes reachable from the given start node.
func computeReachable(start string, edges map[string][]string) map[string]bool {
	reachable := make(map[string]bool)
	queue := []string{start}
	reachable[start] = true

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, next := range edges[current] {
			if next != END && !reachable[next] {
				reachable[next] = true
				queue = append(queue, next)
			}
		}
	}

	return reachable
}

// findClosestNode finds the closest node in targets reachable from start
// using BFS.
func findClosestNode(start string, targets map[string]bool, edges map[string][]string) string {
	if targets[start] {
		return start
	}

	visited := make(map[string]bool)
	queue := []string{start}
	visited[start] = true

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, next := range edges[current] {
			if next == END {
				continue
			}
			if targets[next] {
				return next
			}
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}

	return ""
}
