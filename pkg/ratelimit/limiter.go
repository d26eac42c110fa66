package ratelimit

import (
	"sync"
	"time"

	"github.com/kadirpekel/agentkernel/pkg/errs"
)

// DefaultLimiter is the standard Limiter: one mutex per (agent, bucket
// kind) pair (§5), a pluggable Store, and a Config of per-kind
// capacity/refill rules. A kind with no configured rule is unlimited:
// TryConsume always allows and Peek returns -1.
type DefaultLimiter struct {
	mu     sync.Mutex // guards locks map only; bucket state itself is serialized per-key below
	locks  map[string]*sync.Mutex
	store  Store
	config Config
	now    func() time.Time
}

// NewDefaultLimiter validates cfg and constructs a DefaultLimiter backed
// by store. A nil store defaults to an in-memory MemoryStore.
func NewDefaultLimiter(cfg Config, store Store) (*DefaultLimiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errs.Wrap(errs.InvalidConfiguration, "invalid ratelimit config", err)
	}
	if store == nil {
		store = NewMemoryStore()
	}
	return &DefaultLimiter{
		locks:  make(map[string]*sync.Mutex),
		store:  store,
		config: cfg,
		now:    time.Now,
	}, nil
}

func (l *DefaultLimiter) lockFor(agentID string, kind BucketKind) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := key(agentID, kind)
	m, ok := l.locks[k]
	if !ok {
		m = &sync.Mutex{}
		l.locks[k] = m
	}
	return m
}

// refill computes the bucket state after continuous refill up to now,
// capped at capacity. A bucket with no prior state starts full, per the
// fail-open restart policy (§4.4 Persistence).
func refill(state BucketState, capacity, refillPerMinute float64, now time.Time) BucketState {
	if state.LastRefill.IsZero() {
		return BucketState{Tokens: capacity, LastRefill: now}
	}
	elapsedMs := float64(now.Sub(state.LastRefill).Milliseconds())
	if elapsedMs < 0 {
		elapsedMs = 0
	}
	accrued := elapsedMs * (refillPerMinute / 60000.0)
	tokens := state.Tokens + accrued
	if tokens > capacity {
		tokens = capacity
	}
	return BucketState{Tokens: tokens, LastRefill: now}
}

// TryConsume refills the bucket to now, then attempts to consume n
// tokens. On success the new state is persisted and CheckResult.Allowed
// is true; on failure the bucket is left at its refilled level (the
// attempt is not partially applied) and RetryAfterMs estimates how long
// until n tokens would be available.
func (l *DefaultLimiter) TryConsume(agentID string, kind BucketKind, n float64) (CheckResult, error) {
	rule := l.config.RuleFor(kind)
	if rule == nil {
		return CheckResult{Allowed: true, Remaining: -1}, nil
	}

	mu := l.lockFor(agentID, kind)
	mu.Lock()
	defer mu.Unlock()

	now := l.now()
	prior, _ := l.store.Get(agentID, kind)
	refilled := refill(prior, rule.Capacity, rule.RefillPerInterval, now)

	if refilled.Tokens < n {
		retryAfter := int64(0)
		if rule.RefillPerInterval > 0 {
			deficit := n - refilled.Tokens
			retryAfter = int64(deficit / (rule.RefillPerInterval / 60000.0))
		}
		if err := l.store.Set(agentID, kind, refilled); err != nil {
			return CheckResult{}, errs.Wrap(errs.StorageFailure, "persist bucket state", err)
		}
		return CheckResult{Allowed: false, Remaining: refilled.Tokens, RetryAfterMs: retryAfter}, nil
	}

	refilled.Tokens -= n
	if err := l.store.Set(agentID, kind, refilled); err != nil {
		return CheckResult{}, errs.Wrap(errs.StorageFailure, "persist bucket state", err)
	}
	return CheckResult{Allowed: true, Remaining: refilled.Tokens}, nil
}

// Peek reports the refilled-to-now token count without consuming.
func (l *DefaultLimiter) Peek(agentID string, kind BucketKind) (float64, error) {
	rule := l.config.RuleFor(kind)
	if rule == nil {
		return -1, nil
	}
	mu := l.lockFor(agentID, kind)
	mu.Lock()
	defer mu.Unlock()

	prior, _ := l.store.Get(agentID, kind)
	refilled := refill(prior, rule.Capacity, rule.RefillPerInterval, l.now())
	return refilled.Tokens, nil
}

// Reset clears bucket state for (agentID, kind); an empty kind clears
// every bucket kind for the agent.
func (l *DefaultLimiter) Reset(agentID string, kind BucketKind) error {
	mu := l.lockFor(agentID, kind)
	mu.Lock()
	defer mu.Unlock()
	if err := l.store.Delete(agentID, kind); err != nil {
		return errs.Wrap(errs.StorageFailure, "reset bucket state", err)
	}
	return nil
}
