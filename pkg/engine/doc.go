/*
Package engine provides a graph-based workflow engine for LLM-driven
pipelines: chained prompt functions, conditional branching, bounded
reasoning loops, fan-out/fan-in parallelism, human-in-the-loop approvals,
and REST tool invocations, all cooperating through a shared typed
key/value state.

# Overview

A workflow is a directed graph of nodes built with the Graph builder,
validated and frozen by Compile, and executed by Run:

	graph := engine.NewGraph().
	    AddNode("upper", upperNode).
	    AddEdge("upper", engine.END).
	    SetEntry("upper")

	compiled, err := graph.Compile()
	if err != nil {
	    log.Fatal(err)
	}

	ctx := engine.NewContext(context.Background())
	final, err := compiled.Run(ctx, initial)

State (package state) is an ordered, string-keyed container of tagged
values with versioned serialization, checksums, adaptive compression, and
deterministic merge semantics for parallel branches. Nodes mutate it only
through the handle the executor passes in, one node at a time.

# Nodes

Plain functions are wrapped by AddNode; richer variants (conditional,
switch, while, foreach, subgraph, retry wrapper, error handler, human
approval, REST tool) live in the nodekind package and are added with
AddNodeSpec. Every node implements the Node capability contract: validate,
shouldExecute, lifecycle hooks, execute, and successor selection.

# Routing

Static edges carry optional pure predicates evaluated in declared order;
the first match wins. Dynamic routing strategies (first-match,
probabilistic, similarity, history-based) can be enabled per run with
WithDynamicRouting and are consulted before static edges; a dynamic choice
outside the declared edge set falls back to static routing with a
recorded warning.

# Failure handling

Failures are classified once into a closed thirteen-kind taxonomy
(package errpolicy), resolved to a recovery action through a per-node ->
pattern -> per-kind -> global policy chain, and acted on by the executor:
retry with backoff, skip, fallback routing, transaction rollback, halt,
escalate to human approval, or circuit-breaking. Per-node circuit breakers
and per-execution resource budgets short-circuit work before it runs.

# Resources and events

The governor (package governor) admits node executions through a
priority-weighted token bucket with starvation protection and adaptive
CPU/memory throttling. Every run can publish an ordered, bounded event
stream (event.Stream) of lifecycle events that observers consume without
ever blocking producers indefinitely.

# Checkpointing

With WithCheckpointing enabled, the engine snapshots state plus a run
header (pending successors, attempt counters) every N completed nodes, at
fork/join boundaries, and before suspension. Resume, ResumeFrom, and
ResumeApproval rebuild the state and continue the walk, with retry
counters intact.
*/
package engine
