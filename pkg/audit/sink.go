package audit

import "context"

// Sink is one audit delivery target. Write must not block the caller of
// Pipeline.Log for longer than it takes to enqueue; the pipeline owns the
// buffering and flush scheduling described in §4.6.
type Sink interface {
	Name() string
	Write(ctx context.Context, event Event) error
	Flush(ctx context.Context) error
	Close(ctx context.Context) error
}

// Durable sinks (file, postgres) get at-least-once delivery: a failed
// Write re-enqueues the event at the head of the buffer. Ephemeral sinks
// (console, memory) may drop events once the buffer exceeds its cap.
type Durable interface {
	Sink
	durable() bool
}
