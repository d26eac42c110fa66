package ratelimit

import "time"

// CheckResult is the outcome of a tryConsume call.
type CheckResult struct {
	Allowed      bool
	Remaining    float64
	RetryAfterMs int64
}

// Store persists bucket state keyed by (agentId, bucket kind). On
// restart, a backend that lost its state defaults buckets to full
// capacity (fail-open is preferable to over-counting after downtime,
// §4.4 Persistence).
type Store interface {
	// Get returns the current bucket state, or (zero value, false) if
	// none has been recorded yet for (agentID, kind).
	Get(agentID string, kind BucketKind) (BucketState, bool)
	// Set persists the bucket state for (agentID, kind).
	Set(agentID string, kind BucketKind, state BucketState) error
	// Delete removes bucket state. If kind is "", all kinds for agentID
	// are removed.
	Delete(agentID string, kind BucketKind) error
}

// BucketState is the persisted shape of one token bucket.
type BucketState struct {
	Tokens     float64   `json:"tokens"`
	LastRefill time.Time `json:"lastRefill"`
}

// Limiter is the admission-control contract (§4.4).
type Limiter interface {
	TryConsume(agentID string, kind BucketKind, n float64) (CheckResult, error)
	Peek(agentID string, kind BucketKind) (float64, error)
	Reset(agentID string, kind BucketKind) error
}

var (
	_ Limiter = (*DefaultLimiter)(nil)
	_ Store   = (*MemoryStore)(nil)
)
