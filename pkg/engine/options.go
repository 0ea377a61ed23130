package engine

import (
	"log/slog"
	"time"

	"github.com/flowcraft/engine/pkg/engine/checkpoint"
	"github.com/flowcraft/engine/pkg/engine/errpolicy"
	"github.com/flowcraft/engine/pkg/engine/event"
	"github.com/flowcraft/engine/pkg/engine/governor"
	"github.com/flowcraft/engine/pkg/engine/observability"
	"github.com/flowcraft/engine/pkg/engine/state"
)

// runConfig holds the immutable options snapshot for one execution. It is
// assembled at Run entry and never mutated afterwards except for the
// checkpoint sequence counter.
type runConfig struct {
	// Loop safety and time budgets.
	maxExecutionSteps int
	executionTimeout  time.Duration
	nodeTimeout       time.Duration
	drainWindow       time.Duration

	// Checkpointing.
	enableCheckpointing    bool
	checkpointStore        checkpoint.Store
	checkpointEveryN       int
	maxCheckpointsRetained int
	checkpointFailureFatal bool
	compressor             *state.Compressor
	runID                  string
	sequence               int

	// Observability.
	enableMetrics  bool
	metrics        observability.MetricsRecorder
	collector      *observability.Collector
	logger         *slog.Logger
	tracingEnabled bool
	spans          observability.SpanManager

	// Event stream.
	enableStreaming bool
	events          *event.Stream

	// Dynamic routing.
	enableDynamicRouting bool
	router               DynamicRouter

	// Resource governance.
	enableResourceGovernance bool
	governor                 *governor.Governor
	defaultPriority          governor.Priority
	budget                   *errpolicy.Budget

	// Error recovery.
	enableErrorRecovery bool
	policies            *errpolicy.Registry
	breakers            *errpolicy.BreakerSet

	// Parallelism and merge.
	maxParallelNodes int
	merge            state.MergeOptions

	// Determinism.
	determinismSeed uint64

	// Restored by Resume so retry counts survive a checkpoint round trip.
	attemptCounters map[string]int

	executorName string
}

// defaultRunConfig returns the default execution configuration.
func defaultRunConfig() runConfig {
	return runConfig{
		maxExecutionSteps: 1000,
		checkpointEveryN:  1,
		maxParallelNodes:  4,
		drainWindow:       5 * time.Second,
		defaultPriority:   governor.PriorityNormal,
		logger:            slog.Default(),
		metrics:           observability.NoopMetrics{},
		spans:             observability.NoopSpanManager{},
		attemptCounters:   make(map[string]int),
	}
}

// RunOption configures execution behavior.
type RunOption func(*runConfig)

// WithMaxExecutionSteps sets the engine-wide hard step limit.
// Default: 1000. Exceeding it fails the run with a MaxStepsError,
// independent of node-level loop bounds.
func WithMaxExecutionSteps(n int) RunOption {
	return func(c *runConfig) {
		if n > 0 {
			c.maxExecutionSteps = n
		}
	}
}

// WithExecutionTimeout bounds the whole run's wall clock.
func WithExecutionTimeout(d time.Duration) RunOption {
	return func(c *runConfig) {
		c.executionTimeout = d
	}
}

// WithNodeTimeout bounds each node's execute call. The effective budget is
// min(node timeout, remaining run timeout).
func WithNodeTimeout(d time.Duration) RunOption {
	return func(c *runConfig) {
		c.nodeTimeout = d
	}
}

// WithDrainWindow bounds how long cancellation waits for in-flight work
// before forcing termination. Default: 5s.
func WithDrainWindow(d time.Duration) RunOption {
	return func(c *runConfig) {
		if d > 0 {
			c.drainWindow = d
		}
	}
}

// WithCheckpointing enables periodic checkpointing to the given store.
// Checkpoints are keyed by the run id: WithRunID, else the context's run
// id, else a generated one. everyN controls how many completed nodes
// elapse between snapshots (minimum 1).
func WithCheckpointing(store checkpoint.Store, everyN int) RunOption {
	return func(c *runConfig) {
		c.enableCheckpointing = store != nil
		c.checkpointStore = store
		if everyN > 0 {
			c.checkpointEveryN = everyN
		}
	}
}

// WithMaxCheckpointsRetained prunes each run's checkpoints down to the
// newest n after every save. 0 disables pruning.
func WithMaxCheckpointsRetained(n int) RunOption {
	return func(c *runConfig) {
		c.maxCheckpointsRetained = n
	}
}

// WithCheckpointFailureFatal makes checkpoint save errors abort the run
// instead of being logged and skipped.
func WithCheckpointFailureFatal() RunOption {
	return func(c *runConfig) {
		c.checkpointFailureFatal = true
	}
}

// WithStateCompressor routes checkpoint state payloads through the
// adaptive compressor.
func WithStateCompressor(comp *state.Compressor) RunOption {
	return func(c *runConfig) {
		c.compressor = comp
	}
}

// WithRunID pins the execution id used for checkpoint keys, event
// attribution, and deterministic routing seeds. Auto-generated when
// absent.
func WithRunID(id string) RunOption {
	return func(c *runConfig) {
		c.runID = id
	}
}

// WithMetrics enables OTel metric recording.
func WithMetrics(rec observability.MetricsRecorder) RunOption {
	return func(c *runConfig) {
		c.enableMetrics = rec != nil
		if rec != nil {
			c.metrics = rec
		}
	}
}

// WithCollector attaches the in-memory metrics collector for live
// snapshot queries and history-based routing.
func WithCollector(col *observability.Collector) RunOption {
	return func(c *runConfig) {
		c.collector = col
	}
}

// WithRunLogger overrides the logger for this run.
func WithRunLogger(logger *slog.Logger) RunOption {
	return func(c *runConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithTracing enables OTel span creation per run and node.
func WithTracing(spans observability.SpanManager) RunOption {
	return func(c *runConfig) {
		c.tracingEnabled = spans != nil
		if spans != nil {
			c.spans = spans
		}
	}
}

// WithEventStream publishes execution events to the given stream.
func WithEventStream(s *event.Stream) RunOption {
	return func(c *runConfig) {
		c.enableStreaming = s != nil
		c.events = s
	}
}

// WithDynamicRouting consults the given strategy before static edges.
func WithDynamicRouting(r DynamicRouter) RunOption {
	return func(c *runConfig) {
		c.enableDynamicRouting = r != nil
		c.router = r
	}
}

// WithGovernor routes every node execution through the admission
// controller.
func WithGovernor(g *governor.Governor) RunOption {
	return func(c *runConfig) {
		c.enableResourceGovernance = g != nil
		c.governor = g
	}
}

// WithDefaultPriority sets the governor priority for nodes that don't
// declare one.
func WithDefaultPriority(p governor.Priority) RunOption {
	return func(c *runConfig) {
		c.defaultPriority = p
	}
}

// WithBudget caps the resource units the run may consume across
// cost-declaring nodes.
func WithBudget(b *errpolicy.Budget) RunOption {
	return func(c *runConfig) {
		c.budget = b
	}
}

// WithErrorPolicies enables the recovery pipeline with the given policy
// registry.
func WithErrorPolicies(reg *errpolicy.Registry) RunOption {
	return func(c *runConfig) {
		c.enableErrorRecovery = reg != nil
		c.policies = reg
	}
}

// WithCircuitBreakers guards node execution with per-node breakers.
func WithCircuitBreakers(b *errpolicy.BreakerSet) RunOption {
	return func(c *runConfig) {
		c.breakers = b
	}
}

// WithMaxParallelNodes caps sibling branches per fork. Default: 4.
func WithMaxParallelNodes(n int) RunOption {
	return func(c *runConfig) {
		if n > 0 {
			c.maxParallelNodes = n
		}
	}
}

// WithMergeOptions sets the run-level merge policy applied at join points
// when the graph's ForkJoinConfig doesn't override it.
func WithMergeOptions(m state.MergeOptions) RunOption {
	return func(c *runConfig) {
		c.merge = m
	}
}

// WithDeterminismSeed fixes the seed for probabilistic routing so runs
// are reproducible given identical inputs and adapter outputs.
func WithDeterminismSeed(seed uint64) RunOption {
	return func(c *runConfig) {
		c.determinismSeed = seed
	}
}

// withExecutorName stamps the executor's diagnostic identity on logs.
func withExecutorName(name string) RunOption {
	return func(c *runConfig) {
		c.executorName = name
	}
}
