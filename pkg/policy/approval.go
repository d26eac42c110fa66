package policy

import (
	"context"
	"sync"
	"time"
)

// DefaultApprovalTimeout is how long an `approve` decision waits for its
// out-of-band callback before being treated as block (§4.3: "...return
// true within a timeout (default 30s) -- otherwise treated as block").
const DefaultApprovalTimeout = 30 * time.Second

// ApprovalRequest carries the evaluated Request plus the id an external
// approver resolves against.
type ApprovalRequest struct {
	Request
	ApprovalID string
}

// ApprovalCallback resolves a pending `approve` decision out-of-band. It
// must respect ctx's deadline; a non-nil error is treated the same as an
// explicit denial.
type ApprovalCallback func(ctx context.Context, req ApprovalRequest) (approved bool, err error)

// Resolve runs cb bounded by timeout (DefaultApprovalTimeout if <= 0)
// and reports whether the approval resolved to allowed. A cb of nil
// denies immediately, matching the "otherwise treated as block" default
// for a runtime with no approval path configured.
func Resolve(cb ApprovalCallback, timeout time.Duration, req ApprovalRequest) (bool, error) {
	if cb == nil {
		return false, nil
	}
	if timeout <= 0 {
		timeout = DefaultApprovalTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return cb(ctx, req)
}

// PendingApprovals is an in-memory wait/resolve registry backing the
// default ApprovalCallback: Authorize blocks on Callback() while an
// external approver (the HTTP approval endpoint, §6) calls Resolve with
// the same ApprovalID.
type PendingApprovals struct {
	mu      sync.Mutex
	waiters map[string]chan bool
}

// NewPendingApprovals returns an empty registry.
func NewPendingApprovals() *PendingApprovals {
	return &PendingApprovals{waiters: make(map[string]chan bool)}
}

// Callback returns an ApprovalCallback that registers req.ApprovalID and
// blocks until Resolve delivers a verdict or ctx is done.
func (p *PendingApprovals) Callback() ApprovalCallback {
	return func(ctx context.Context, req ApprovalRequest) (bool, error) {
		ch := make(chan bool, 1)
		p.mu.Lock()
		p.waiters[req.ApprovalID] = ch
		p.mu.Unlock()
		defer func() {
			p.mu.Lock()
			delete(p.waiters, req.ApprovalID)
			p.mu.Unlock()
		}()

		select {
		case approved := <-ch:
			return approved, nil
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
}

// PendingIDs returns the ApprovalIDs currently awaiting Resolve, for
// admin tooling (e.g. an approvals-listing endpoint) to surface.
func (p *PendingApprovals) PendingIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.waiters))
	for id := range p.waiters {
		ids = append(ids, id)
	}
	return ids
}

// Resolve delivers approved to the Callback-registered waiter for id, if
// any is still pending. It reports whether a waiter was found.
func (p *PendingApprovals) Resolve(id string, approved bool) bool {
	p.mu.Lock()
	ch, ok := p.waiters[id]
	p.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- approved:
	default:
	}
	return true
}
