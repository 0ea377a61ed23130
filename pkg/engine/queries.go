package engine

import (
	"context"
	"fmt"

	"github.com/flowcraft/engine/pkg/engine/observability"
	"github.com/flowcraft/engine/pkg/engine/query"
)

// Query names answered by a MetricsQueryService.
const (
	// QueryNodeMetrics returns the observability.NodeSnapshot for the
	// node id passed as args (string), or every node when args is nil.
	QueryNodeMetrics = "metrics.node"

	// QueryExecutionMetrics returns the observability.ExecutionSnapshot
	// for the target execution id.
	QueryExecutionMetrics = "metrics.execution"
)

// MetricsQueryService exposes the in-memory collector through read-only
// query handlers, so callers can interrogate a running execution the same
// way they would query any workflow state.
type MetricsQueryService struct {
	registry  *query.Registry
	collector *observability.Collector
}

// NewMetricsQueryService registers the metrics handlers on a fresh query
// registry.
func NewMetricsQueryService(collector *observability.Collector) *MetricsQueryService {
	s := &MetricsQueryService{
		registry:  query.NewRegistry(),
		collector: collector,
	}
	s.registry.MustRegister(QueryNodeMetrics, s.nodeMetrics)
	s.registry.MustRegister(QueryExecutionMetrics, s.executionMetrics)
	return s
}

// Registry exposes the underlying query registry for composition with
// other handlers.
func (s *MetricsQueryService) Registry() *query.Registry {
	return s.registry
}

// Query answers one named query against the target execution.
func (s *MetricsQueryService) Query(ctx context.Context, executionID, name string, args any) (any, error) {
	handler, ok := s.registry.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", query.ErrQueryNotFound, name)
	}
	return handler(ctx, executionID, args)
}

func (s *MetricsQueryService) nodeMetrics(_ context.Context, _ string, args any) (any, error) {
	if args == nil {
		return s.collector.NodeSnapshots(), nil
	}
	nodeID, ok := args.(string)
	if !ok {
		return nil, fmt.Errorf("metrics.node: args must be a node id string, got %T", args)
	}
	snap, found := s.collector.NodeSnapshot(nodeID)
	if !found {
		return nil, fmt.Errorf("metrics.node: no data for node %q", nodeID)
	}
	return snap, nil
}

func (s *MetricsQueryService) executionMetrics(_ context.Context, executionID string, _ any) (any, error) {
	snap, found := s.collector.ExecutionSnapshot(executionID)
	if !found {
		return nil, fmt.Errorf("%w: %s", query.ErrTargetNotFound, executionID)
	}
	return snap, nil
}
