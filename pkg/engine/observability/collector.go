package observability

import (
	"math"
	"sort"
	"sync"
	"time"
)

// latencySampleCap bounds the per-node latency reservoir; percentile
// estimates over the most recent window are enough for routing and
// dashboards.
const latencySampleCap = 512

// NodeSnapshot is a point-in-time copy of one node's counters.
type NodeSnapshot struct {
	NodeID             string
	Executions         int64
	Successes          int64
	Retries            int64
	CircuitTransitions int64
	ErrorsByKind       map[string]int64
	P50                time.Duration
	P95                time.Duration
	P99                time.Duration
}

// ExecutionSnapshot is a point-in-time copy of one execution's progress.
type ExecutionSnapshot struct {
	ExecutionID string
	StartedAt   time.Time
	FinishedAt  time.Time
	Steps       int64
	Path        []string
	Status      string
	CPUSamples  []float64
}

type nodeStats struct {
	executions         int64
	successes          int64
	retries            int64
	circuitTransitions int64
	errorsByKind       map[string]int64
	latencies          []time.Duration
	latencyTotal       time.Duration
	latencyCount       int64
}

type executionStats struct {
	startedAt  time.Time
	finishedAt time.Time
	steps      int64
	path       []string
	status     string
	cpuSamples []float64
}

// Collector aggregates per-node and per-execution metrics in memory,
// queryable while executions are in flight. It complements the OTel
// MetricsRecorder: OTel gets the exported series, the Collector answers
// live snapshot queries and feeds history-based routing.
type Collector struct {
	mu         sync.RWMutex
	nodes      map[string]*nodeStats
	executions map[string]*executionStats
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{
		nodes:      make(map[string]*nodeStats),
		executions: make(map[string]*executionStats),
	}
}

func (c *Collector) node(id string) *nodeStats {
	ns, ok := c.nodes[id]
	if !ok {
		ns = &nodeStats{errorsByKind: make(map[string]int64)}
		c.nodes[id] = ns
	}
	return ns
}

// RecordNode folds one node execution into the counters. errKind is empty
// on success.
func (c *Collector) RecordNode(nodeID string, d time.Duration, errKind string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	ns := c.node(nodeID)
	ns.executions++
	if errKind == "" {
		ns.successes++
	} else {
		ns.errorsByKind[errKind]++
	}
	ns.latencyTotal += d
	ns.latencyCount++
	ns.latencies = append(ns.latencies, d)
	if len(ns.latencies) > latencySampleCap {
		ns.latencies = ns.latencies[len(ns.latencies)-latencySampleCap:]
	}
}

// RecordRetry counts one retry of nodeID.
func (c *Collector) RecordRetry(nodeID string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.node(nodeID).retries++
}

// RecordCircuitTransition counts one breaker state change for nodeID.
func (c *Collector) RecordCircuitTransition(nodeID string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.node(nodeID).circuitTransitions++
}

// StartExecution opens the per-execution record.
func (c *Collector) StartExecution(executionID string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.executions[executionID] = &executionStats{startedAt: time.Now().UTC(), status: "running"}
}

// RecordStep appends a node to the execution's path.
func (c *Collector) RecordStep(executionID, nodeID string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	es, ok := c.executions[executionID]
	if !ok {
		return
	}
	es.steps++
	es.path = append(es.path, nodeID)
}

// RecordCPUSample appends a CPU utilization sample to the execution.
func (c *Collector) RecordCPUSample(executionID string, pct float64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if es, ok := c.executions[executionID]; ok {
		es.cpuSamples = append(es.cpuSamples, pct)
	}
}

// FinishExecution closes the record with a final status
// ("completed", "failed", "canceled", "suspended").
func (c *Collector) FinishExecution(executionID, status string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if es, ok := c.executions[executionID]; ok {
		es.finishedAt = time.Now().UTC()
		es.status = status
	}
}

// ReleaseExecution drops the per-execution record once observers are done
// with it.
func (c *Collector) ReleaseExecution(executionID string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.executions, executionID)
}

// NodeSnapshot returns a copy of the counters for one node.
func (c *Collector) NodeSnapshot(nodeID string) (NodeSnapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ns, ok := c.nodes[nodeID]
	if !ok {
		return NodeSnapshot{}, false
	}
	return ns.snapshot(nodeID), true
}

// NodeSnapshots returns copies for every node seen so far.
func (c *Collector) NodeSnapshots() []NodeSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := make([]string, 0, len(c.nodes))
	for id := range c.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]NodeSnapshot, 0, len(ids))
	for _, id := range ids {
		out = append(out, c.nodes[id].snapshot(id))
	}
	return out
}

// ExecutionSnapshot returns a copy of one execution's progress, usable
// both mid-flight and after completion.
func (c *Collector) ExecutionSnapshot(executionID string) (ExecutionSnapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	es, ok := c.executions[executionID]
	if !ok {
		return ExecutionSnapshot{}, false
	}
	out := ExecutionSnapshot{
		ExecutionID: executionID,
		StartedAt:   es.startedAt,
		FinishedAt:  es.finishedAt,
		Steps:       es.steps,
		Status:      es.status,
		Path:        append([]string(nil), es.path...),
		CPUSamples:  append([]float64(nil), es.cpuSamples...),
	}
	return out, true
}

// NodeOutcome reports the success rate and average latency for a node,
// feeding history-based routing.
func (c *Collector) NodeOutcome(nodeID string) (successRate float64, avgLatency time.Duration, samples int64) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ns, ok := c.nodes[nodeID]
	if !ok || ns.executions == 0 {
		return 0, 0, 0
	}
	rate := float64(ns.successes) / float64(ns.executions)
	var avg time.Duration
	if ns.latencyCount > 0 {
		avg = ns.latencyTotal / time.Duration(ns.latencyCount)
	}
	return rate, avg, ns.executions
}

func (ns *nodeStats) snapshot(id string) NodeSnapshot {
	out := NodeSnapshot{
		NodeID:             id,
		Executions:         ns.executions,
		Successes:          ns.successes,
		Retries:            ns.retries,
		CircuitTransitions: ns.circuitTransitions,
		ErrorsByKind:       make(map[string]int64, len(ns.errorsByKind)),
	}
	for k, v := range ns.errorsByKind {
		out.ErrorsByKind[k] = v
	}
	if len(ns.latencies) > 0 {
		sorted := append([]time.Duration(nil), ns.latencies...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		out.P50 = percentile(sorted, 0.50)
		out.P95 = percentile(sorted, 0.95)
		out.P99 = percentile(sorted, 0.99)
	}
	return out
}

// percentile reads the nearest-rank percentile from a sorted sample.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
