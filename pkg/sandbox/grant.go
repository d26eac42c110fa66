package sandbox

import "time"

// Constraints narrows the scope of a grant: path globs an agent may
// touch for file capabilities, host globs it may reach for network
// capabilities, and the operation subset it may perform (read/write/
// delete/list, or a capability-specific verb). A nil/empty field means
// "unconstrained along that axis".
type Constraints struct {
	PathPatterns []string `json:"pathPatterns,omitempty"`
	HostPatterns []string `json:"hostPatterns,omitempty"`
	Operations   []string `json:"operations,omitempty"`
}

// intersect returns the narrower of two constraint sets: the result
// allows only what both c and other allow. Used when delegating a grant
// (§4.2 invariant: child scope ⊆ parent scope).
func (c Constraints) intersect(other Constraints) Constraints {
	return Constraints{
		PathPatterns: intersectPatterns(c.PathPatterns, other.PathPatterns),
		HostPatterns: intersectPatterns(c.HostPatterns, other.HostPatterns),
		Operations:   intersectOperations(c.Operations, other.Operations),
	}
}

// intersectPatterns combines two glob lists conservatively: if either
// side is unconstrained (empty), the other side wins; otherwise every
// pattern in the narrower request must also be covered by some parent
// pattern, and only the request's (narrower) patterns survive.
func intersectPatterns(parent, requested []string) []string {
	if len(parent) == 0 {
		return requested
	}
	if len(requested) == 0 {
		return parent
	}
	var out []string
	for _, r := range requested {
		for _, p := range parent {
			if matchPath(p, r) || r == p {
				out = append(out, r)
				break
			}
		}
	}
	return out
}

func intersectOperations(parent, requested []string) []string {
	if len(parent) == 0 {
		return requested
	}
	if len(requested) == 0 {
		return parent
	}
	allowed := make(map[string]struct{}, len(parent))
	for _, op := range parent {
		allowed[op] = struct{}{}
	}
	var out []string
	for _, op := range requested {
		if _, ok := allowed[op]; ok {
			out = append(out, op)
		}
	}
	return out
}

// CapabilityGrant is a record proving an agent holds a capability,
// optionally narrowed by Constraints and expiry. Grants form a forest:
// every delegated grant carries a ParentGrantID, and its effective scope
// is the intersection of the parent's scope with the requested scope.
type CapabilityGrant struct {
	ID            string       `json:"id"`
	Capability    Capability   `json:"capability"`
	Constraints   Constraints  `json:"constraints,omitempty"`
	GrantedAt     time.Time    `json:"grantedAt"`
	ExpiresAt     *time.Time   `json:"expiresAt,omitempty"`
	GrantedBy     string       `json:"grantedBy"`
	Delegatable   bool         `json:"delegatable"`
	ParentGrantID string       `json:"parentGrantId,omitempty"`
}

// Expired reports whether the grant is no longer valid at time now.
func (g *CapabilityGrant) Expired(now time.Time) bool {
	return g.ExpiresAt != nil && !g.ExpiresAt.After(now)
}
