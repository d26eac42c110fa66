package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultBufferSize is the per-sink bounded buffer capacity (§4.6).
	DefaultBufferSize = 100
	// DefaultFlushInterval is the per-sink flush timer period (§4.6).
	DefaultFlushInterval = 5 * time.Second
)

// Pipeline fans a single logical stream of events out to every configured
// sink, one worker goroutine per sink. Log is synchronous (the event is
// enqueued before it returns) but delivery is asynchronous, so Log never
// blocks on sink I/O — except as a last-resort back-pressure flush when a
// sink's buffer is already full (§4.6 Buffering).
type Pipeline struct {
	workers []*sinkWorker
	fatal   *slog.Logger // logs sink errors that have nowhere else to go
}

// Option configures a Pipeline at construction time.
type Option func(*Pipeline)

// WithFatalLogger overrides where sink errors are reported when no other
// sink can absorb them (defaults to slog.Default()).
func WithFatalLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.fatal = l }
}

// New builds a Pipeline over sinks, each with its own buffer and flush
// timer and, for durable sinks, at-least-once redelivery.
func New(sinks []Sink, opts ...Option) *Pipeline {
	p := &Pipeline{fatal: slog.Default()}
	for _, o := range opts {
		o(p)
	}
	for _, s := range sinks {
		w := newSinkWorker(s, p.onSinkError)
		p.workers = append(p.workers, w)
	}
	return p
}

// Log enqueues event on every sink. Events from a single caller reach each
// sink in the order Log was called (§4.6 Ordering); cross-caller ordering
// is left to each sink's worker.
func (p *Pipeline) Log(event Event) {
	for _, w := range p.workers {
		w.enqueue(event)
	}
}

// onSinkError reports a sink failure to every other sink as a critical
// audit event, never to the original caller (§4.6 Failure semantics).
func (p *Pipeline) onSinkError(failed Sink, event Event, err error) {
	p.fatal.Error("audit sink write failed", "sink", failed.Name(), "error", err)
	alert := New(CategorySystem, SeverityCritical, "audit sink write failed").
		WithData(map[string]any{"sink": failed.Name(), "error": err.Error()})
	for _, w := range p.workers {
		if w.sink.Name() == failed.Name() {
			continue
		}
		w.enqueue(alert)
	}
}

// Flush flushes every sink, returning the first error encountered (after
// attempting all of them).
func (p *Pipeline) Flush(ctx context.Context) error {
	var first error
	for _, w := range p.workers {
		if err := w.sink.Flush(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Close stops every worker and flushes within a bounded grace period;
// events still queued past the deadline are dropped (§4.6 Failure
// semantics: "on shutdown, close flushes within a bounded grace period").
func (p *Pipeline) Close(ctx context.Context) error {
	var wg sync.WaitGroup
	errs := make([]error, len(p.workers))
	for i, w := range p.workers {
		wg.Add(1)
		go func(i int, w *sinkWorker) {
			defer wg.Done()
			errs[i] = w.close(ctx)
		}(i, w)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// sinkWorker owns one sink's buffer, flush timer, and delivery goroutine.
type sinkWorker struct {
	sink     Sink
	onError  func(Sink, Event, error)
	mu       sync.Mutex
	buf      []Event
	capacity int
	flushEvery time.Duration
	wake     chan struct{}
	done     chan struct{}
}

func newSinkWorker(sink Sink, onError func(Sink, Event, error)) *sinkWorker {
	w := &sinkWorker{
		sink:       sink,
		onError:    onError,
		capacity:   DefaultBufferSize,
		flushEvery: DefaultFlushInterval,
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *sinkWorker) enqueue(event Event) {
	w.mu.Lock()
	full := len(w.buf) >= w.capacity
	if full {
		w.buf = append(w.buf, event)
	} else {
		w.buf = append(w.buf, event)
	}
	w.mu.Unlock()

	if full {
		// Buffer was already at capacity before this event: back-pressure,
		// flush synchronously in the caller's path as a last resort.
		_ = w.drain(context.Background())
		return
	}
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *sinkWorker) run() {
	ticker := time.NewTicker(w.flushEvery)
	defer ticker.Stop()
	for {
		select {
		case <-w.wake:
			_ = w.drain(context.Background())
		case <-ticker.C:
			_ = w.drain(context.Background())
			_ = w.sink.Flush(context.Background())
		case <-w.done:
			return
		}
	}
}

// drain writes every buffered event to the sink. A write failure leaves
// the failing event (and everything after it) at the head of the buffer
// for durable sinks, so the next drain retries it; ephemeral sinks drop it.
func (w *sinkWorker) drain(ctx context.Context) error {
	w.mu.Lock()
	pending := w.buf
	w.buf = nil
	w.mu.Unlock()

	d, isDurable := w.sink.(Durable)
	isDurable = isDurable && d.durable()

	for i, event := range pending {
		if err := w.sink.Write(ctx, event); err != nil {
			if isDurable {
				w.mu.Lock()
				w.buf = append(append([]Event{}, pending[i:]...), w.buf...)
				w.mu.Unlock()
			}
			if w.onError != nil {
				w.onError(w.sink, event, err)
			}
			return err
		}
	}
	return nil
}

func (w *sinkWorker) close(ctx context.Context) error {
	grace, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	err := w.drain(grace)
	close(w.done)
	if cerr := w.sink.Close(ctx); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
