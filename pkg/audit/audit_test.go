package audit

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySink_RingBufferDropsOldest(t *testing.T) {
	sink := NewMemorySink(2)
	ctx := context.Background()
	require.NoError(t, sink.Write(ctx, New(CategorySystem, SeverityInfo, "one")))
	require.NoError(t, sink.Write(ctx, New(CategorySystem, SeverityInfo, "two")))
	require.NoError(t, sink.Write(ctx, New(CategorySystem, SeverityInfo, "three")))

	events := sink.Events()
	require.Len(t, events, 2)
	assert.Equal(t, "two", events[0].Message)
	assert.Equal(t, "three", events[1].Message)
}

func TestFileSink_AppendsJSONLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.jsonl")
	sink, err := NewFileSink(path)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, sink.Write(ctx, New(CategoryPermission, SeverityWarn, "denied").WithAgent("agent-1")))
	require.NoError(t, sink.Flush(ctx))
	require.NoError(t, sink.Close(ctx))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"agentId":"agent-1"`)
	assert.Contains(t, string(data), `"message":"denied"`)
}

// recordingSink counts writes and can be forced to fail once.
type recordingSink struct {
	mu       sync.Mutex
	writes   []Event
	failNext bool
	isDurable bool
}

func (s *recordingSink) Name() string { return "recording" }
func (s *recordingSink) durable() bool { return s.isDurable }

func (s *recordingSink) Write(ctx context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext {
		s.failNext = false
		return assertErr
	}
	s.writes = append(s.writes, event)
	return nil
}

func (s *recordingSink) Flush(ctx context.Context) error { return nil }
func (s *recordingSink) Close(ctx context.Context) error { return nil }

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.writes)
}

var assertErr = errSentinel("sink write failed")

type errSentinel string

func (e errSentinel) Error() string { return string(e) }

func TestPipeline_LogDeliversToAllSinks(t *testing.T) {
	a := &recordingSink{}
	b := &recordingSink{}
	p := New([]Sink{a, b})
	defer p.Close(context.Background())

	p.Log(New(CategoryLifecycle, SeverityInfo, "created"))

	require.Eventually(t, func() bool { return a.count() == 1 && b.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestPipeline_DurableSinkRetriesOnFailure(t *testing.T) {
	s := &recordingSink{isDurable: true, failNext: true}
	p := New([]Sink{s})
	defer p.Close(context.Background())

	p.Log(New(CategoryError, SeverityError, "boom"))

	require.Eventually(t, func() bool { return s.count() == 1 }, 2*DefaultFlushInterval, 5*time.Millisecond)
}

func TestEvent_ToRecord_ProjectsActionAndDetails(t *testing.T) {
	e := New(CategoryPermission, SeverityWarn, "blocked write").
		WithAgent("agent-9").
		WithOutcome(OutcomeBlocked).
		WithData(map[string]any{"path": "/etc/passwd"})
	e.Sub = "file_write"

	rec := e.ToRecord("agent", "")
	assert.Equal(t, "permission.file_write", rec.Action)
	assert.Equal(t, "agent-9", rec.ResourceID)
	assert.Equal(t, OutcomeBlocked, rec.Outcome)
	assert.Equal(t, "/etc/passwd", rec.Details["path"])
	assert.Equal(t, "blocked write", rec.Details["message"])
}
