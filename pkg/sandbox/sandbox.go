package sandbox

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/kadirpekel/agentkernel/pkg/errs"
	"github.com/kadirpekel/agentkernel/pkg/ids"
)

// CheckOptions narrows a capability check to a specific action instance.
// A nil/empty field means that axis is not being checked.
type CheckOptions struct {
	Path      string
	Host      string
	Operation string
}

// CheckResult is the outcome of a Check call.
type CheckResult struct {
	Allowed bool
	Reason  string
}

// Sandbox is the per-agent bundle of grants and constraint-checking
// primitives. Each AgentContext owns exactly one Sandbox; grants are
// registered at spawn (from the manifest) or at runtime (delegation).
// All methods are safe for concurrent use: grants are mutated only by
// the owning agent's task or by system-privileged grants, behind a
// per-sandbox mutex (§5).
type Sandbox struct {
	mu       sync.RWMutex
	agentID  string
	grants   map[string]*CapabilityGrant   // grantID -> grant
	byCap    map[Capability][]*CapabilityGrant
	children map[string][]string // grantID -> child grantIDs, for transitive revoke
	now      func() time.Time
}

// New creates an empty Sandbox for the given agent.
func New(agentID string) *Sandbox {
	return &Sandbox{
		agentID:  agentID,
		grants:   make(map[string]*CapabilityGrant),
		byCap:    make(map[Capability][]*CapabilityGrant),
		children: make(map[string][]string),
		now:      time.Now,
	}
}

// Grant registers a root grant. Root grants are system-only: callers
// outside the runtime's trusted boot path must go through Delegate.
func (s *Sandbox) Grant(capability Capability, constraints Constraints, delegatable bool, expiresAt *time.Time, grantedBy string) (*CapabilityGrant, error) {
	if !capability.Valid() {
		return nil, errs.New(errs.InvalidConfiguration, "unknown capability").WithDetail("capability", string(capability))
	}
	g := &CapabilityGrant{
		ID:          ids.NewGrantID(),
		Capability:  capability,
		Constraints: constraints,
		GrantedAt:   s.now(),
		ExpiresAt:   expiresAt,
		GrantedBy:   grantedBy,
		Delegatable: delegatable,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grants[g.ID] = g
	s.byCap[capability] = append(s.byCap[capability], g)
	return g, nil
}

// Delegate creates a child grant narrower than or equal to its parent's
// scope. The child's effective Constraints are the intersection of the
// parent's and the requested ones (§4.2 invariant P3). The parent must
// exist, be unexpired, and be delegatable.
func (s *Sandbox) Delegate(parentGrantID string, requested Constraints, toAgent string) (*CapabilityGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	parent, ok := s.grants[parentGrantID]
	if !ok {
		return nil, errs.New(errs.NotFound, "parent grant not found").WithDetail("grant_id", parentGrantID)
	}
	if parent.Expired(s.now()) {
		return nil, errs.New(errs.PermissionDenied, "parent grant expired").WithDetail("grant_id", parentGrantID)
	}
	if !parent.Delegatable {
		return nil, errs.New(errs.PermissionDenied, "grant is not delegatable").WithDetail("grant_id", parentGrantID)
	}

	effective := parent.Constraints.intersect(requested)
	if requestedNonEmpty(requested) && intersectionIsEmpty(effective, requested) {
		return nil, errs.New(errs.PermissionDenied, "requested scope exceeds parent grant").
			WithDetail("grant_id", parentGrantID).WithDetail("agent_id", toAgent)
	}

	child := &CapabilityGrant{
		ID:            ids.NewGrantID(),
		Capability:    parent.Capability,
		Constraints:   effective,
		GrantedAt:     s.now(),
		ExpiresAt:     parent.ExpiresAt,
		GrantedBy:     s.agentID,
		Delegatable:   parent.Delegatable,
		ParentGrantID: parent.ID,
	}
	s.grants[child.ID] = child
	s.byCap[child.Capability] = append(s.byCap[child.Capability], child)
	s.children[parent.ID] = append(s.children[parent.ID], child.ID)
	return child, nil
}

func requestedNonEmpty(c Constraints) bool {
	return len(c.PathPatterns) > 0 || len(c.HostPatterns) > 0 || len(c.Operations) > 0
}

// intersectionIsEmpty reports whether the delegation request asked for
// something the intersection dropped entirely (i.e. was refused).
func intersectionIsEmpty(effective, requested Constraints) bool {
	if len(requested.PathPatterns) > 0 && len(effective.PathPatterns) == 0 {
		return true
	}
	if len(requested.HostPatterns) > 0 && len(effective.HostPatterns) == 0 {
		return true
	}
	if len(requested.Operations) > 0 && len(effective.Operations) == 0 {
		return true
	}
	return false
}

// Revoke removes a grant and all of its descendants, transitively.
func (s *Sandbox) Revoke(grantID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revokeLocked(grantID)
}

func (s *Sandbox) revokeLocked(grantID string) {
	g, ok := s.grants[grantID]
	if !ok {
		return
	}
	for _, childID := range s.children[grantID] {
		s.revokeLocked(childID)
	}
	delete(s.children, grantID)
	delete(s.grants, grantID)
	list := s.byCap[g.Capability]
	for i, candidate := range list {
		if candidate.ID == grantID {
			s.byCap[g.Capability] = append(list[:i], list[i+1:]...)
			break
		}
	}
}

// Check looks up an active, unexpired grant for the capability and, if
// Options names a path/host/operation, verifies the grant's constraints
// additionally permit it.
func (s *Sandbox) Check(capability Capability, opts CheckOptions) CheckResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	for _, g := range s.byCap[capability] {
		if g.Expired(now) {
			continue
		}
		if opts.Path != "" && !checkPathConstraint(g, opts.Path) {
			continue
		}
		if opts.Host != "" && !checkHostConstraint(g, opts.Host) {
			continue
		}
		if opts.Operation != "" && !checkOperationConstraint(g, opts.Operation) {
			continue
		}
		return CheckResult{Allowed: true}
	}
	return CheckResult{Allowed: false, Reason: "no active grant covers this request"}
}

// checkPathConstraint resolves the path to an absolute, cleaned form and
// matches it against the grant's path patterns: allowed iff it equals or
// descends from at least one allowed pattern and matches none blocked.
// (The grant model carries only an allow-list today; a pattern prefixed
// with '!' is treated as a block rule, mirroring the teacher's
// allow/deny pairing in policy_loader-style configs.)
func checkPathConstraint(g *CapabilityGrant, path string) bool {
	if len(g.Constraints.PathPatterns) == 0 {
		return true
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	abs = resolveSymlinks(filepath.Clean(abs))

	matched := false
	for _, pattern := range g.Constraints.PathPatterns {
		if len(pattern) > 0 && pattern[0] == '!' {
			if matchPath(pattern[1:], abs) {
				return false
			}
			continue
		}
		if matchPath(pattern, abs) {
			matched = true
		}
	}
	return matched
}

// resolveSymlinks returns abs's real, symlink-free form (§4.2: "resolves
// symlinks, then matches against grant's pathPatterns"), closing the
// escape where a symlink inside a granted tree (e.g. /work/escape ->
// /etc/shadow) would otherwise pass the pattern match unresolved. abs
// must already be absolute and cleaned. A not-yet-existing path (or a
// not-yet-created descendant, as for a write target) resolves as far as
// its existing ancestor allows, then rejoins the remaining components
// unresolved, since filepath.EvalSymlinks requires every component to
// exist.
func resolveSymlinks(abs string) string {
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	dir, base := filepath.Split(abs)
	dir = filepath.Clean(dir)
	if dir == abs {
		return abs
	}
	return filepath.Join(resolveSymlinks(dir), base)
}

// checkHostConstraint normalizes host and tests it against the grant's
// host patterns plus the process-wide SSRF blocklist.
func checkHostConstraint(g *CapabilityGrant, host string) bool {
	if IsDefaultBlockedHost(host) {
		return false
	}
	if len(g.Constraints.HostPatterns) == 0 {
		return true
	}
	for _, pattern := range g.Constraints.HostPatterns {
		if len(pattern) > 0 && pattern[0] == '!' {
			if matchHost(pattern[1:], host) {
				return false
			}
			continue
		}
		if matchHost(pattern, host) {
			return true
		}
	}
	return false
}

func checkOperationConstraint(g *CapabilityGrant, op string) bool {
	if len(g.Constraints.Operations) == 0 {
		return true
	}
	for _, allowed := range g.Constraints.Operations {
		if allowed == op {
			return true
		}
	}
	return false
}

// Grants returns a snapshot of all currently held grants, for checkpoint
// serialization and diagnostics.
func (s *Sandbox) Grants() []*CapabilityGrant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*CapabilityGrant, 0, len(s.grants))
	for _, g := range s.grants {
		cp := *g
		out = append(out, &cp)
	}
	return out
}

// Restore re-populates the sandbox from a previously serialized grant
// list (§4.7 checkpoint recovery), rebuilding the parent/child index.
func (s *Sandbox) Restore(grants []*CapabilityGrant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grants = make(map[string]*CapabilityGrant, len(grants))
	s.byCap = make(map[Capability][]*CapabilityGrant)
	s.children = make(map[string][]string)
	for _, g := range grants {
		cp := *g
		s.grants[cp.ID] = &cp
		s.byCap[cp.Capability] = append(s.byCap[cp.Capability], &cp)
		if cp.ParentGrantID != "" {
			s.children[cp.ParentGrantID] = append(s.children[cp.ParentGrantID], cp.ID)
		}
	}
}
