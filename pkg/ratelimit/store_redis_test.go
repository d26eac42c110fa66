package ratelimit

import (
	"context"
	"sync"
	"time"

	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCmdable is an in-memory stand-in for Cmdable, avoiding a live Redis
// server in unit tests (the same role miniredis would play, without
// adding a dependency nothing else in this repo needs).
type fakeCmdable struct {
	mu   sync.Mutex
	data map[string]string
}

func newFakeCmdable() *fakeCmdable { return &fakeCmdable{data: make(map[string]string)} }

func (f *fakeCmdable) Get(ctx context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := redis.NewStringCmd(ctx, "get", key)
	if v, ok := f.data[key]; ok {
		cmd.SetVal(v)
	} else {
		cmd.SetErr(redis.Nil)
	}
	return cmd
}

func (f *fakeCmdable) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch v := value.(type) {
	case string:
		f.data[key] = v
	case []byte:
		f.data[key] = string(v)
	}
	cmd := redis.NewStatusCmd(ctx, "set", key)
	cmd.SetVal("OK")
	return cmd
}

func (f *fakeCmdable) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			delete(f.data, k)
			n++
		}
	}
	cmd := redis.NewIntCmd(ctx, "del")
	cmd.SetVal(n)
	return cmd
}

func (f *fakeCmdable) Keys(ctx context.Context, pattern string) *redis.StringSliceCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	prefix := pattern[:len(pattern)-1]
	var matched []string
	for k := range f.data {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			matched = append(matched, k)
		}
	}
	cmd := redis.NewStringSliceCmd(ctx, "keys", pattern)
	cmd.SetVal(matched)
	return cmd
}

func TestRedisStore_SetGetRoundTrip(t *testing.T) {
	s := NewRedisStore(newFakeCmdable(), time.Hour)
	want := BucketState{Tokens: 3.5, LastRefill: time.Now().UTC().Truncate(time.Second)}
	require.NoError(t, s.Set("agent-a", BucketRequestsPerMinute, want))

	got, ok := s.Get("agent-a", BucketRequestsPerMinute)
	require.True(t, ok)
	assert.Equal(t, want.Tokens, got.Tokens)
	assert.True(t, want.LastRefill.Equal(got.LastRefill))
}

func TestRedisStore_GetMissingReturnsFalse(t *testing.T) {
	s := NewRedisStore(newFakeCmdable(), time.Hour)
	_, ok := s.Get("unknown", BucketRequestsPerMinute)
	assert.False(t, ok)
}

func TestRedisStore_DeleteSingleKind(t *testing.T) {
	s := NewRedisStore(newFakeCmdable(), time.Hour)
	require.NoError(t, s.Set("agent-a", BucketRequestsPerMinute, BucketState{Tokens: 1}))
	require.NoError(t, s.Set("agent-a", BucketTokensPerMinute, BucketState{Tokens: 2}))

	require.NoError(t, s.Delete("agent-a", BucketRequestsPerMinute))

	_, ok := s.Get("agent-a", BucketRequestsPerMinute)
	assert.False(t, ok)
	_, ok = s.Get("agent-a", BucketTokensPerMinute)
	assert.True(t, ok)
}

func TestRedisStore_DeleteAllKindsForAgent(t *testing.T) {
	s := NewRedisStore(newFakeCmdable(), time.Hour)
	require.NoError(t, s.Set("agent-a", BucketRequestsPerMinute, BucketState{Tokens: 1}))
	require.NoError(t, s.Set("agent-a", BucketTokensPerMinute, BucketState{Tokens: 2}))

	require.NoError(t, s.Delete("agent-a", ""))

	_, ok := s.Get("agent-a", BucketRequestsPerMinute)
	assert.False(t, ok)
	_, ok = s.Get("agent-a", BucketTokensPerMinute)
	assert.False(t, ok)
}
