// Package ratelimit implements per-agent admission control: independent
// token buckets keyed by (agentId, bucket kind), refilled continuously
// rather than on a discrete window boundary.
//
// On every check, elapsed-ms * (refillPerInterval/60000) tokens are
// added to the bucket (capped at its capacity) before the caller's
// consumption attempt is evaluated. This replaces the fixed-window
// counter-and-reset approach with a single continuous function of
// elapsed time, so a caller that checks at an awkward moment relative to
// a window boundary is never penalized or over-credited.
//
// Buckets are independent: consuming from one bucket kind never affects
// another, and consumption is not atomic across bucket kinds — callers
// that need multi-bucket atomicity must check all of them before
// consuming any (§4.4).
package ratelimit
