package audit

import (
	"context"
	"sync"
)

// MemorySink is a bounded ring buffer, ephemeral, intended for tests and
// in-process inspection (e.g. a diagnostics endpoint).
type MemorySink struct {
	mu       sync.Mutex
	events   []Event
	capacity int
}

// NewMemorySink creates a MemorySink holding at most capacity events,
// dropping the oldest once full.
func NewMemorySink(capacity int) *MemorySink {
	if capacity <= 0 {
		capacity = DefaultBufferSize
	}
	return &MemorySink{capacity: capacity}
}

func (s *MemorySink) Name() string { return "memory" }

func (s *MemorySink) Write(ctx context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	if len(s.events) > s.capacity {
		s.events = s.events[len(s.events)-s.capacity:]
	}
	return nil
}

func (s *MemorySink) Flush(ctx context.Context) error { return nil }
func (s *MemorySink) Close(ctx context.Context) error { return nil }

// Events returns a snapshot of currently retained events, oldest first.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}
