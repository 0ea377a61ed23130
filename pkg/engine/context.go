package engine

import (
	"context"
	"log/slog"

	"github.com/flowcraft/engine/pkg/engine/checkpoint"
	"github.com/flowcraft/engine/pkg/engine/event"
	"github.com/flowcraft/engine/pkg/engine/llm"
	"github.com/google/uuid"
)

// Context provides execution context to nodes.
// It extends context.Context with engine-specific services and metadata.
//
// Context is immutable after creation. The executor creates derived
// contexts for each node with updated NodeID and enriched logger.
type Context interface {
	context.Context

	// Services

	// Logger returns the configured logger, enriched with run and node
	// context. Never returns nil - defaults to slog.Default() if not
	// configured.
	Logger() *slog.Logger

	// LLM returns the LLM client, or nil if not configured.
	// Nodes should check for nil before using.
	LLM() llm.Client

	// Checkpointer returns the checkpoint store, or nil if not configured.
	// Nodes should check for nil before using.
	Checkpointer() checkpoint.Store

	// Events returns the execution's event stream, or nil when streaming
	// is disabled. Nodes may publish their own progress (streamed LLM
	// chunks arrive this way).
	Events() *event.Stream

	// Metadata

	// RunID returns the unique identifier for this execution run.
	// Auto-generated if not configured.
	RunID() string

	// NodeID returns the current node being executed.
	// Empty string before execution starts.
	NodeID() string

	// Attempt returns the retry attempt number (1 = first attempt).
	Attempt() int
}

// executionContext is the internal implementation of Context.
type executionContext struct {
	context.Context

	logger       *slog.Logger
	llmClient    llm.Client
	checkpointer checkpoint.Store
	events       *event.Stream
	runID        string
	nodeID       string
	attempt      int
}

// Logger returns the configured logger.
func (c *executionContext) Logger() *slog.Logger {
	return c.logger
}

// LLM returns the LLM client.
func (c *executionContext) LLM() llm.Client {
	return c.llmClient
}

// Checkpointer returns the checkpoint store.
func (c *executionContext) Checkpointer() checkpoint.Store {
	return c.checkpointer
}

// Events returns the event stream.
func (c *executionContext) Events() *event.Stream {
	return c.events
}

// RunID returns the run identifier.
func (c *executionContext) RunID() string {
	return c.runID
}

// NodeID returns the current node identifier.
func (c *executionContext) NodeID() string {
	return c.nodeID
}

// Attempt returns the retry attempt number.
func (c *executionContext) Attempt() int {
	return c.attempt
}

// ContextOption configures a Context.
type ContextOption func(*executionContext)

// WithLogger sets the logger for the context.
// The logger will be enriched with run_id, node_id, and attempt during
// execution.
func WithLogger(logger *slog.Logger) ContextOption {
	return func(c *executionContext) {
		c.logger = logger
	}
}

// WithLLM sets the LLM client for the context.
func WithLLM(client llm.Client) ContextOption {
	return func(c *executionContext) {
		c.llmClient = client
	}
}

// WithCheckpointer sets the checkpoint store for the context.
func WithCheckpointer(store checkpoint.Store) ContextOption {
	return func(c *executionContext) {
		c.checkpointer = store
	}
}

// WithContextRunID sets the run identifier for the context.
// If not set, a UUID will be auto-generated.
// This is used for logging and tracing. For checkpointing, use
// WithRunID() as a RunOption with Run().
func WithContextRunID(id string) ContextOption {
	return func(c *executionContext) {
		c.runID = id
	}
}

// NewContext creates an execution context from a standard context.
// The returned Context wraps the provided context.Context and adds
// engine-specific services and metadata.
//
// Example:
//
//	ctx := engine.NewContext(context.Background(),
//	    engine.WithLogger(myLogger),
//	    engine.WithContextRunID("run-123"))
func NewContext(ctx context.Context, opts ...ContextOption) Context {
	ec := &executionContext{
		Context: ctx,
		logger:  slog.Default(),
		runID:   uuid.New().String(),
		attempt: 1,
	}

	for _, opt := range opts {
		opt(ec)
	}

	return ec
}

// withNodeID returns a new context with the given node ID and attempt set.
// Used internally by the executor to enrich the context per-node.
func (c *executionContext) withNodeID(nodeID string, attempt int) *executionContext {
	return &executionContext{
		Context:      c.Context,
		logger:       c.logger.With("run_id", c.runID, "node_id", nodeID, "attempt", attempt),
		llmClient:    c.llmClient,
		checkpointer: c.checkpointer,
		events:       c.events,
		runID:        c.runID,
		nodeID:       nodeID,
		attempt:      attempt,
	}
}

// withInner swaps the embedded context.Context (timeout or cancellation
// scope) keeping services and metadata.
func (c *executionContext) withInner(inner context.Context) *executionContext {
	out := *c
	out.Context = inner
	return &out
}

// withStream attaches the run's event stream.
func (c *executionContext) withStream(s *event.Stream) *executionContext {
	out := *c
	out.events = s
	return &out
}

// asExecutionContext normalizes any Context implementation into the
// internal type so the executor can derive scoped children.
func asExecutionContext(ctx Context) *executionContext {
	if ec, ok := ctx.(*executionContext); ok {
		return ec
	}
	return &executionContext{
		Context:      ctx,
		logger:       ctx.Logger(),
		llmClient:    ctx.LLM(),
		checkpointer: ctx.Checkpointer(),
		events:       ctx.Events(),
		runID:        ctx.RunID(),
		nodeID:       ctx.NodeID(),
		attempt:      ctx.Attempt(),
	}
}
