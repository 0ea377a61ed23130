package engine

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/flowcraft/engine/pkg/engine/expr"
)

// ValidationReport is the outcome of the pre-flight graph integrity check.
// Errors block compilation; warnings are logged and surfaced but do not.
type ValidationReport struct {
	Errors   []error
	Warnings []string
}

// OK reports whether the graph passed validation.
func (r *ValidationReport) OK() bool {
	return len(r.Errors) == 0
}

// Err joins the errors into one, or returns nil when validation passed.
func (r *ValidationReport) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	return errors.Join(r.Errors...)
}

// Validate runs the pre-flight integrity check without compiling:
//
//   - the entry point is set and references an existing node
//   - every edge endpoint references an existing node or END
//   - a path from the entry to END (or a terminal node) exists
//   - required inputs of every node are produced by some ancestor or
//     declared initial (error when DeclareInitialKeys was used, warning
//     otherwise)
//   - every cycle passes through a node with a positive MaxIterations
//     bound
//
// Warnings: unreachable nodes, non-terminal nodes with no outgoing edges,
// and nodes whose outgoing edges are all predicated with no unconditional
// default (a possible routing gap).
func (g *Graph) Validate() *ValidationReport {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.validateLocked()
}

func (g *Graph) validateLocked() *ValidationReport {
	r := &ValidationReport{}

	// Entry point.
	if g.entryPoint == "" {
		r.Errors = append(r.Errors, ErrNoEntryPoint)
	} else if _, exists := g.nodes[g.entryPoint]; !exists {
		r.Errors = append(r.Errors, fmt.Errorf("%w: %s", ErrEntryNotFound, g.entryPoint))
	}

	// Edge endpoints.
	for from, edges := range g.edges {
		if from != END {
			if _, exists := g.nodes[from]; !exists {
				r.Errors = append(r.Errors, fmt.Errorf("%w: edge source '%s' does not exist", ErrNodeNotFound, from))
			}
		}
		for _, e := range edges {
			if e.To != END {
				if _, exists := g.nodes[e.To]; !exists {
					r.Errors = append(r.Errors, fmt.Errorf("%w: edge target '%s' does not exist", ErrNodeNotFound, e.To))
				}
			}
		}
	}
	for from := range g.conditionalEdges {
		if _, exists := g.nodes[from]; !exists {
			r.Errors = append(r.Errors, fmt.Errorf("%w: conditional edge source '%s' does not exist", ErrNodeNotFound, from))
		}
	}

	// Path to END from the entry.
	if g.entryPoint != "" {
		if _, exists := g.nodes[g.entryPoint]; exists {
			if !g.hasPathToEnd() {
				r.Errors = append(r.Errors, ErrNoPathToEnd)
			}
		}
	}

	g.checkInputCoverage(r)
	g.checkCycles(r)
	g.checkRoutingGaps(r)
	g.checkReachability(r)

	return r
}

// checkInputCoverage verifies every node's declared inputs are produced by
// some ancestor's declared outputs or promised as initial state.
func (g *Graph) checkInputCoverage(r *ValidationReport) {
	initial := make(map[string]bool, len(g.initialKeys))
	for _, k := range g.initialKeys {
		initial[k] = true
	}
	strict := len(g.initialKeys) > 0

	ancestors := g.ancestorSets()

	for _, id := range g.nodeOrder {
		n := g.nodes[id]
		for _, key := range n.InputKeys() {
			if initial[key] {
				continue
			}
			produced := false
			for anc := range ancestors[id] {
				for _, out := range g.nodes[anc].OutputKeys() {
					if out == key {
						produced = true
						break
					}
				}
				if produced {
					break
				}
			}
			if produced {
				continue
			}
			if strict {
				r.Errors = append(r.Errors, fmt.Errorf(
					"%w: node '%s' input %q is neither produced by a predecessor nor declared initial",
					ErrInputNotProduced, id, key))
			} else {
				r.Warnings = append(r.Warnings, fmt.Sprintf(
					"node '%s' input %q has no declared producer; it must be present in the initial state", id, key))
			}
		}
	}
}

// ancestorSets computes, per node, the set of nodes from which it is
// reachable. Conditional edges are treated as reaching every node.
func (g *Graph) ancestorSets() map[string]map[string]bool {
	// successor adjacency, conditional edges wildcard.
	succ := make(map[string][]string, len(g.nodes))
	for from, edges := range g.edges {
		for _, e := range edges {
			if e.To != END {
				succ[from] = append(succ[from], e.To)
			}
		}
	}
	for from := range g.conditionalEdges {
		for id := range g.nodes {
			if id != from {
				succ[from] = append(succ[from], id)
			}
		}
	}

	out := make(map[string]map[string]bool, len(g.nodes))
	for id := range g.nodes {
		out[id] = make(map[string]bool)
	}
	for start := range g.nodes {
		// BFS from start, marking start as an ancestor of everything hit.
		queue := []string{start}
		seen := map[string]bool{start: true}
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			for _, next := range succ[cur] {
				if seen[next] {
					continue
				}
				seen[next] = true
				out[next][start] = true
				queue = append(queue, next)
			}
		}
	}
	return out
}

// checkCycles rejects cycles that contain no loop-bounded node.
func (g *Graph) checkCycles(r *ValidationReport) {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(g.nodes))
	stack := []string{}

	var visit func(id string)
	visit = func(id string) {
		color[id] = gray
		stack = append(stack, id)
		for _, e := range g.edges[id] {
			if e.To == END {
				continue
			}
			if _, exists := g.nodes[e.To]; !exists {
				continue
			}
			switch color[e.To] {
			case white:
				visit(e.To)
			case gray:
				// Found a back-edge; extract the cycle from the stack.
				var cycle []string
				for i := len(stack) - 1; i >= 0; i-- {
					cycle = append(cycle, stack[i])
					if stack[i] == e.To {
						break
					}
				}
				if !g.cycleIsBounded(cycle) {
					r.Errors = append(r.Errors, fmt.Errorf(
						"%w: cycle through %v has no node declaring maxIterations", ErrUnboundedCycle, cycle))
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
	}

	for _, id := range g.nodeOrder {
		if color[id] == white {
			visit(id)
		}
	}
}

func (g *Graph) cycleIsBounded(cycle []string) bool {
	for _, id := range cycle {
		if lb, ok := g.nodes[id].(LoopBounded); ok && lb.MaxIterations() > 0 {
			return true
		}
	}
	return false
}

// checkRoutingGaps warns when a node's outgoing edges are all predicated
// and the predicates cannot be shown to cover every state: at runtime an
// unmatched predicate set is a routing failure, so the author either
// wants an unconditional default edge or a complementary predicate pair
// (e.g. "score >= 50" / "score < 50"), which static analysis accepts as
// exhaustive.
func (g *Graph) checkRoutingGaps(r *ValidationReport) {
	for from, edges := range g.edges {
		if len(edges) == 0 {
			continue
		}
		if _, hasRouter := g.conditionalEdges[from]; hasRouter {
			continue
		}
		predicates := make([]string, 0, len(edges))
		allPredicated := true
		for _, e := range edges {
			if e.Predicate == "" {
				allPredicated = false
				break
			}
			predicates = append(predicates, e.Predicate)
		}
		if !allPredicated {
			continue
		}
		if expr.ExhaustivePredicates(predicates) {
			continue
		}
		r.Warnings = append(r.Warnings, fmt.Sprintf(
			"node '%s' has only predicated edges with no provable coverage; add an unconditional default to avoid routing gaps", from))
	}
}

// checkReachability warns about unreachable nodes and dead ends.
func (g *Graph) checkReachability(r *ValidationReport) {
	if g.entryPoint == "" {
		return
	}
	reachable := g.findReachableNodes()
	for _, id := range g.nodeOrder {
		if !reachable[id] {
			r.Warnings = append(r.Warnings, fmt.Sprintf("node '%s' is unreachable from entry", id))
			slog.Warn("node is unreachable from entry", "node_id", id)
		}
		if len(g.edges[id]) == 0 {
			if _, hasRouter := g.conditionalEdges[id]; !hasRouter && !g.terminals[id] {
				r.Warnings = append(r.Warnings, fmt.Sprintf(
					"node '%s' has no outgoing edges and is not flagged terminal", id))
			}
		}
	}
}

// hasPathToEnd checks if there's a path from entry to END or a terminal
// node, using reverse reachability. Nodes with conditional edges are
// assumed to potentially reach END.
func (g *Graph) hasPathToEnd() bool {
	canReachEnd := make(map[string]bool)
	canReachEnd[END] = true
	for id := range g.terminals {
		canReachEnd[id] = true
	}

	changed := true
	for changed {
		changed = false
		for from, edges := range g.edges {
			if canReachEnd[from] {
				continue
			}
			for _, e := range edges {
				if canReachEnd[e.To] {
					canReachEnd[from] = true
					changed = true
					break
				}
			}
		}
		for from := range g.conditionalEdges {
			if !canReachEnd[from] {
				canReachEnd[from] = true
				changed = true
			}
		}
	}

	return canReachEnd[g.entryPoint]
}

// findReachableNodes returns the set of nodes reachable from the entry
// point. Conditional edges are assumed able to reach any node.
func (g *Graph) findReachableNodes() map[string]bool {
	reachable := make(map[string]bool)
	if g.entryPoint == "" {
		return reachable
	}

	queue := []string{g.entryPoint}
	reachable[g.entryPoint] = true

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, e := range g.edges[current] {
			if e.To != END && !reachable[e.To] {
				reachable[e.To] = true
				queue = append(queue, e.To)
			}
		}
		if _, hasRouter := g.conditionalEdges[current]; hasRouter {
			for id := range g.nodes {
				if !reachable[id] {
					reachable[id] = true
					queue = append(queue, id)
				}
			}
		}
	}

	return reachable
}
