// Package event carries the engine's execution event surface: an ordered,
// bounded Stream the executor publishes lifecycle records through, a
// dead-letter queue (DLQ) parking what the drop policy could not deliver,
// and a best-effort Sink pump for fanning events out to telemetry.
//
// The drop policy is tiered by kind. When the buffer is full, every
// non-lifecycle event is shed on arrival: metric samples are only
// counted, other non-lifecycle events are counted and parked in the DLQ
// when one is attached. Events already buffered are never evicted to make
// room, so there is no order among the shed kinds. Lifecycle events - the *Started,
// *Completed, *Failed records observers reconstruct a run from - are
// never shed: producers apply bounded backpressure and, if the window
// expires, the event is parked and the publish fails so the engine can
// surface resource exhaustion.
package event
