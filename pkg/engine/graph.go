package engine

import (
	"fmt"
	"strings"
	"sync"
)

// Edge is a directed connection between two nodes. Predicate, when
// non-empty, is a pure expression over state (expr package syntax)
// evaluated at routing time; an empty predicate always matches. Label is
// advisory and feeds routing strategies (similarity, probabilistic
// weights).
type Edge struct {
	From      string
	To        string
	Predicate string
	Label     string
}

// GraphMutation describes one builder change, delivered to the hook set
// with OnMutation.
type GraphMutation struct {
	Op     string // "add_node", "add_edge", "set_entry", "mark_terminal"
	NodeID string
	Edge   *Edge
}

// Graph is a mutable builder for creating execution graphs.
// Use NewGraph to create a new graph, then chain AddNode, AddEdge,
// and SetEntry calls to define the workflow.
//
// Graph is NOT thread-safe during building. Use a single goroutine
// to construct the graph, then call Compile() to create an immutable
// CompiledGraph that can be safely shared. Once any Compile() has
// succeeded the builder is frozen: further mutation panics.
//
// Example:
//
//	graph := engine.NewGraph().
//	    AddNode("fetch", fetchNode).
//	    AddNode("process", processNode).
//	    AddEdge("fetch", "process").
//	    AddEdge("process", engine.END).
//	    SetEntry("fetch")
//
//	compiled, err := graph.Compile()
//
// For parallel execution (fork/join), add multiple unconditional edges
// from a single node; the compiler detects the fork and its join point.
type Graph struct {
	mu               sync.RWMutex
	nodes            map[string]Node
	nodeOrder        []string
	edges            map[string][]Edge
	conditionalEdges map[string]RouterFunc
	entryPoint       string
	terminals        map[string]bool
	initialKeys      []string
	branchHook       BranchHook
	forkJoinConfig   ForkJoinConfig
	mutationHook     func(GraphMutation)
	frozen           bool
}

// NewGraph creates a new graph builder.
func NewGraph() *Graph {
	return &Graph{
		nodes:            make(map[string]Node),
		edges:            make(map[string][]Edge),
		conditionalEdges: make(map[string]RouterFunc),
		terminals:        make(map[string]bool),
	}
}

func (g *Graph) checkFrozen() {
	if g.frozen {
		panic("engine: graph is frozen after Compile; no mutation after execution setup")
	}
}

func (g *Graph) notify(m GraphMutation) {
	if g.mutationHook != nil {
		g.mutationHook(m)
	}
}

// AddNode adds a plain function node to the graph.
// Returns the graph for method chaining.
//
// Panics if:
//   - id is empty, reserved ("END", "__end__"), or contains whitespace
//   - fn is nil
//   - id already exists in the graph
func (g *Graph) AddNode(id string, fn NodeFunc) *Graph {
	if fn == nil {
		panic("engine: node function cannot be nil")
	}
	return g.AddNodeSpec(&funcNode{id: id, fn: fn})
}

// AddNodeSpec adds a fully-specified Node (a nodekind variant or a custom
// implementation). Returns the graph for method chaining.
func (g *Graph) AddNodeSpec(n Node) *Graph {
	if n == nil {
		panic("engine: node cannot be nil")
	}
	id := n.ID()
	if id == "" {
		panic("engine: node ID cannot be empty")
	}
	idLower := strings.ToLower(id)
	if idLower == "end" || idLower == END {
		panic("engine: node ID cannot be reserved word 'END'")
	}
	if strings.ContainsAny(id, " \t\n\r") {
		panic("engine: node ID cannot contain whitespace")
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.checkFrozen()

	if _, exists := g.nodes[id]; exists {
		panic(fmt.Sprintf("engine: duplicate node ID: %s", id))
	}
	g.nodes[id] = n
	g.nodeOrder = append(g.nodeOrder, id)
	g.notify(GraphMutation{Op: "add_node", NodeID: id})
	return g
}

// AddEdge adds an unconditional edge from one node to another.
// The target can be a node ID or engine.END.
// Returns the graph for method chaining.
//
// Edge validation happens at Compile() time, not here.
func (g *Graph) AddEdge(from, to string) *Graph {
	return g.addEdge(Edge{From: from, To: to})
}

// AddEdgeIf adds a predicated edge. The predicate is an expression over
// state evaluated at routing time; outgoing predicated edges are tried in
// declared order and the first match wins.
func (g *Graph) AddEdgeIf(from, to, predicate string) *Graph {
	return g.addEdge(Edge{From: from, To: to, Predicate: predicate})
}

// AddLabeledEdge adds an edge carrying a routing label (used by dynamic
// routing strategies) and an optional predicate.
func (g *Graph) AddLabeledEdge(from, to, label, predicate string) *Graph {
	return g.addEdge(Edge{From: from, To: to, Label: label, Predicate: predicate})
}

func (g *Graph) addEdge(e Edge) *Graph {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.checkFrozen()

	g.edges[e.From] = append(g.edges[e.From], e)
	g.notify(GraphMutation{Op: "add_edge", Edge: &e})
	return g
}

// AddConditionalEdge adds a conditional edge where a RouterFunc
// determines the next node at runtime based on state.
// Returns the graph for method chaining.
//
// A node can have either static edges or a conditional edge, not both.
// If both are present, the conditional edge takes precedence.
func (g *Graph) AddConditionalEdge(from string, router RouterFunc) *Graph {
	if router == nil {
		panic("engine: router function cannot be nil")
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.checkFrozen()

	g.conditionalEdges[from] = router
	return g
}

// SetEntry designates the entry point node.
// This must be called before Compile().
// Returns the graph for method chaining.
func (g *Graph) SetEntry(id string) *Graph {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.checkFrozen()

	g.entryPoint = id
	g.notify(GraphMutation{Op: "set_entry", NodeID: id})
	return g
}

// MarkTerminal flags a node as an intended leaf. The validator then stops
// warning about its missing outgoing edges; a branch reaching it simply
// ends.
func (g *Graph) MarkTerminal(id string) *Graph {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.checkFrozen()

	g.terminals[id] = true
	g.notify(GraphMutation{Op: "mark_terminal", NodeID: id})
	return g
}

// DeclareInitialKeys tells the validator which state keys the caller
// promises to supply at Run time, so required-input checks can be enforced
// as errors rather than warnings.
func (g *Graph) DeclareInitialKeys(keys ...string) *Graph {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.checkFrozen()

	g.initialKeys = append(g.initialKeys, keys...)
	return g
}

// OnMutation installs a hook called for every builder change, useful for
// live visualization and audit.
func (g *Graph) OnMutation(hook func(GraphMutation)) *Graph {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.mutationHook = hook
	return g
}

// SetBranchHook sets the lifecycle hook for parallel branch execution.
// The hook is called during fork/join operations to allow custom setup,
// validation, and cleanup.
func (g *Graph) SetBranchHook(hook BranchHook) *Graph {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.checkFrozen()

	g.branchHook = hook
	return g
}

// SetForkJoinConfig sets the configuration for parallel execution.
// This controls concurrency limits, failure handling, merge policy, and
// timeouts.
func (g *Graph) SetForkJoinConfig(cfg ForkJoinConfig) *Graph {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.checkFrozen()

	g.forkJoinConfig = cfg
	return g
}
