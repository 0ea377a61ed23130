package event

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// StreamKind names the execution events the engine publishes.
type StreamKind string

// The closed set of stream event kinds.
const (
	KindExecutionStarted   StreamKind = "execution_started"
	KindExecutionCompleted StreamKind = "execution_completed"
	KindExecutionFailed    StreamKind = "execution_failed"
	KindExecutionCanceled  StreamKind = "execution_canceled"
	KindNodeStarted        StreamKind = "node_started"
	KindNodeCompleted      StreamKind = "node_completed"
	KindNodeFailed         StreamKind = "node_failed"
	KindNodeRetried        StreamKind = "node_retried"
	KindNodeSkipped        StreamKind = "node_skipped"
	KindSuspended          StreamKind = "suspended"
	KindResumed            StreamKind = "resumed"
	KindCheckpointCreated  StreamKind = "checkpoint_created"
	KindCircuitOpened      StreamKind = "circuit_opened"
	KindCircuitClosed      StreamKind = "circuit_closed"
	KindBudgetExceeded     StreamKind = "budget_exceeded"
	KindRateLimited        StreamKind = "rate_limited"
	KindMetricSample       StreamKind = "metric_sample"
)

// lifecycle reports whether k is a lifecycle event the stream must never
// drop.
func (k StreamKind) lifecycle() bool {
	switch k {
	case KindExecutionStarted, KindExecutionCompleted, KindExecutionFailed,
		KindExecutionCanceled, KindNodeStarted, KindNodeCompleted, KindNodeFailed:
		return true
	default:
		return false
	}
}

// droppable reports whether k may be shed when the buffer is full: every
// kind that is not lifecycle. All droppable kinds are shed alike; there is
// no order among them.
func (k StreamKind) droppable() bool {
	return !k.lifecycle()
}

// StreamEvent is one ordered record on an execution's event stream.
type StreamEvent struct {
	ExecutionID string         `json:"execution_id"`
	Kind        StreamKind     `json:"kind"`
	NodeID      string         `json:"node_id,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	Sequence    uint64         `json:"sequence"`
	Payload     map[string]any `json:"payload,omitempty"`
}

// StreamConfig shapes a Stream.
type StreamConfig struct {
	// BufferSize is the channel capacity. Defaults to 256.
	BufferSize int

	// BackpressureWindow bounds how long a publish of a lifecycle event
	// may block before the stream gives up. Defaults to 5s.
	BackpressureWindow time.Duration

	// DeadLetter, when set, is the terminal path for events the drop
	// policy could not deliver: shed non-metric events and lifecycle
	// events that outlived the backpressure window are parked there
	// instead of vanishing. Metric samples are only counted.
	DeadLetter *DLQ
}

// ErrStreamSaturated is returned when a lifecycle event could not be
// delivered within the backpressure window. The engine maps it to
// ResourceExhaustion.
var ErrStreamSaturated = fmt.Errorf("event stream saturated")

// Stream is a bounded, ordered channel of execution events. Producers
// never block indefinitely: when the buffer is full, any non-lifecycle
// event is shed on arrival (counted, and parked in the dead-letter queue
// unless it is a MetricSample); events already buffered are never evicted
// to make room. Lifecycle events apply backpressure for a bounded window
// and then fail.
type Stream struct {
	ch     chan StreamEvent
	cfg    StreamConfig
	seq    atomic.Uint64
	drops  atomic.Uint64
	closed atomic.Bool
	mu     sync.Mutex
}

// NewStream creates a stream.
func NewStream(cfg StreamConfig) *Stream {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	if cfg.BackpressureWindow <= 0 {
		cfg.BackpressureWindow = 5 * time.Second
	}
	return &Stream{
		ch:  make(chan StreamEvent, cfg.BufferSize),
		cfg: cfg,
	}
}

// Publish stamps evt with the next sequence number and delivers it under
// the stream's drop policy. It is safe for concurrent producers; sequence
// numbers are globally ordered, per-branch order is preserved by each
// branch publishing from a single goroutine.
func (s *Stream) Publish(evt StreamEvent) error {
	if s == nil || s.closed.Load() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return nil
	}
	evt.Sequence = s.seq.Add(1)
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	select {
	case s.ch <- evt:
		return nil
	default:
	}

	// Buffer is full. Droppable events are shed immediately; everything
	// but metric samples is parked in the dead-letter queue when one is
	// attached.
	if evt.Kind.droppable() {
		s.drops.Add(1)
		if evt.Kind != KindMetricSample {
			s.cfg.DeadLetter.Add(evt, ReasonShed)
		}
		return nil
	}

	// Lifecycle events apply bounded backpressure, then land in the
	// dead-letter queue so the record of the transition survives the
	// failure.
	timer := time.NewTimer(s.cfg.BackpressureWindow)
	defer timer.Stop()
	select {
	case s.ch <- evt:
		return nil
	case <-timer.C:
		s.cfg.DeadLetter.Add(evt, ReasonSaturated)
		return ErrStreamSaturated
	}
}

// Next blocks until an event is available, the stream closes (ok=false),
// or ctx is done.
func (s *Stream) Next(ctx context.Context) (StreamEvent, bool) {
	select {
	case evt, ok := <-s.ch:
		return evt, ok
	case <-ctx.Done():
		return StreamEvent{}, false
	}
}

// Events exposes the receive side for range-style consumption.
func (s *Stream) Events() <-chan StreamEvent {
	return s.ch
}

// Drain consumes every event currently buffered without blocking.
func (s *Stream) Drain() []StreamEvent {
	var out []StreamEvent
	for {
		select {
		case evt, ok := <-s.ch:
			if !ok {
				return out
			}
			out = append(out, evt)
		default:
			return out
		}
	}
}

// Dropped reports how many droppable events were shed.
func (s *Stream) Dropped() uint64 {
	return s.drops.Load()
}

// Close stops the stream. Publish becomes a no-op; buffered events remain
// readable until drained.
func (s *Stream) Close() {
	if s.closed.CompareAndSwap(false, true) {
		s.mu.Lock()
		close(s.ch)
		s.mu.Unlock()
	}
}
