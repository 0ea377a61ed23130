package event

import "context"

// Sink receives execution events best-effort. Implementations must not
// block for longer than the stream's drain window and must not panic the
// pump; a panicking sink is isolated and skipped for that event.
type Sink interface {
	Emit(evt StreamEvent)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(evt StreamEvent)

// Emit implements Sink.
func (f SinkFunc) Emit(evt StreamEvent) {
	f(evt)
}

// Pump drains a stream into one or more telemetry sinks, in order, until
// the stream closes or ctx is done. Run it in its own goroutine:
//
//	go event.Pump(ctx, stream, metricsSink, auditSink)
//
// Sinks see every event the stream delivered, in stream order. A sink
// panic is swallowed per-event so one broken observer cannot stall the
// others or the producers.
func Pump(ctx context.Context, s *Stream, sinks ...Sink) error {
	for {
		evt, ok := s.Next(ctx)
		if !ok {
			return ctx.Err()
		}
		for _, sink := range sinks {
			emit(sink, evt)
		}
	}
}

func emit(sink Sink, evt StreamEvent) {
	defer func() {
		_ = recover()
	}()
	sink.Emit(evt)
}
