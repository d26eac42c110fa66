package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(t *testing.T, capacity, refillPerMinute float64) (*DefaultLimiter, *fakeClock) {
	t.Helper()
	l, err := NewDefaultLimiter(Config{Rules: []LimitRule{
		{Kind: BucketRequestsPerMinute, Capacity: capacity, RefillPerInterval: refillPerMinute},
	}}, NewMemoryStore())
	require.NoError(t, err)
	clock := &fakeClock{t: time.Now()}
	l.now = clock.now
	return l, clock
}

// TestTokenBucketRefill is scenario 4 from spec.md §8.
func TestTokenBucketRefill(t *testing.T) {
	l, clock := newTestLimiter(t, 5, 60) // capacity 5, 60 tokens/min = 1/sec

	result, err := l.TryConsume("agent-a", BucketRequestsPerMinute, 5)
	require.NoError(t, err)
	assert.True(t, result.Allowed)

	clock.advance(time.Second)

	result, err = l.TryConsume("agent-a", BucketRequestsPerMinute, 1)
	require.NoError(t, err)
	assert.True(t, result.Allowed, "1 token should have refilled after 1s")

	remaining, err := l.Peek("agent-a", BucketRequestsPerMinute)
	require.NoError(t, err)
	assert.InDelta(t, 0, remaining, 0.01)
}

func TestTryConsume_DeniesOverCapacity(t *testing.T) {
	l, _ := newTestLimiter(t, 5, 60)

	result, err := l.TryConsume("agent-a", BucketRequestsPerMinute, 10)
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.InDelta(t, 5, result.Remaining, 0.01)
}

func TestTryConsume_UnconfiguredKindAlwaysAllowed(t *testing.T) {
	l, err := NewDefaultLimiter(Config{}, NewMemoryStore())
	require.NoError(t, err)

	result, err := l.TryConsume("agent-a", BucketTokensPerMinute, 999999)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

func TestTryConsume_BucketsAreIndependent(t *testing.T) {
	l, err := NewDefaultLimiter(Config{Rules: []LimitRule{
		{Kind: BucketRequestsPerMinute, Capacity: 1, RefillPerInterval: 0},
		{Kind: BucketToolCallsPerMinute, Capacity: 10, RefillPerInterval: 0},
	}}, NewMemoryStore())
	require.NoError(t, err)

	r1, err := l.TryConsume("agent-a", BucketRequestsPerMinute, 1)
	require.NoError(t, err)
	assert.True(t, r1.Allowed)

	r2, err := l.TryConsume("agent-a", BucketToolCallsPerMinute, 10)
	require.NoError(t, err)
	assert.True(t, r2.Allowed, "tool-call bucket must be unaffected by requests bucket consumption")
}

func TestReset_ClearsBucketState(t *testing.T) {
	l, _ := newTestLimiter(t, 5, 0)

	_, err := l.TryConsume("agent-a", BucketRequestsPerMinute, 5)
	require.NoError(t, err)

	require.NoError(t, l.Reset("agent-a", BucketRequestsPerMinute))

	remaining, err := l.Peek("agent-a", BucketRequestsPerMinute)
	require.NoError(t, err)
	assert.Equal(t, float64(5), remaining, "reset bucket defaults back to full capacity")
}

func TestConfig_Validate_RejectsDuplicateKind(t *testing.T) {
	cfg := Config{Rules: []LimitRule{
		{Kind: BucketRequestsPerMinute, Capacity: 5, RefillPerInterval: 1},
		{Kind: BucketRequestsPerMinute, Capacity: 10, RefillPerInterval: 1},
	}}
	assert.Error(t, cfg.Validate())
}

func TestConfig_Validate_RejectsUnknownKind(t *testing.T) {
	cfg := Config{Rules: []LimitRule{{Kind: BucketKind("bogus"), Capacity: 1, RefillPerInterval: 1}}}
	assert.Error(t, cfg.Validate())
}

func TestConfig_Validate_RejectsNonPositiveCapacity(t *testing.T) {
	cfg := Config{Rules: []LimitRule{{Kind: BucketRequestsPerMinute, Capacity: 0, RefillPerInterval: 1}}}
	assert.Error(t, cfg.Validate())
}
