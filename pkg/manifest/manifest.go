// Package manifest defines the agent manifest, the agent's mutable runtime
// context, and the resource usage counters tracked against it. It mirrors
// the teacher's config-struct conventions (yaml+json tags, a SetDefaults
// and a Validate method per struct) generalized from LLM-agent
// configuration to the runtime's own agent model.
package manifest

import (
	"fmt"
	"time"

	"github.com/kadirpekel/agentkernel/pkg/sandbox"
)

// TrustLevel controls how much autonomy an agent is granted by default.
type TrustLevel string

const (
	TrustAutonomous     TrustLevel = "autonomous"
	TrustSemiAutonomous TrustLevel = "semi-autonomous"
	TrustSupervised     TrustLevel = "supervised"
)

func (t TrustLevel) Valid() bool {
	switch t {
	case TrustAutonomous, TrustSemiAutonomous, TrustSupervised:
		return true
	default:
		return false
	}
}

// Limits bounds an agent's resource consumption. Zero means "no limit" for
// a given field; the rate limiter (pkg/ratelimit) is seeded from these.
type Limits struct {
	MaxTokensPerRequest int `yaml:"max_tokens_per_request,omitempty" json:"maxTokensPerRequest,omitempty"`
	RequestsPerMinute   int `yaml:"requests_per_minute,omitempty" json:"requestsPerMinute,omitempty"`
	ToolCallsPerMinute  int `yaml:"tool_calls_per_minute,omitempty" json:"toolCallsPerMinute,omitempty"`
}

// AgentManifest is the immutable, versioned-per-install definition of an
// agent: what it is, what it is allowed to ask for, and how much of the
// runtime's resources it may consume. Manifests are loaded once and never
// mutated; re-registering an id with a new manifest is a new install.
type AgentManifest struct {
	ID                  string               `yaml:"id" json:"id"`
	Name                string               `yaml:"name" json:"name"`
	Version             string               `yaml:"version" json:"version"`
	EntryPoint          string               `yaml:"entry_point" json:"entryPoint"`
	RequiredPermissions []sandbox.Capability `yaml:"required_permissions,omitempty" json:"requiredPermissions,omitempty"`
	TrustLevel          TrustLevel           `yaml:"trust_level" json:"trustLevel"`
	Limits              Limits               `yaml:"limits,omitempty" json:"limits,omitempty"`
}

// Validate checks the manifest is well-formed. It does not check that
// RequiredPermissions are grantable; that is the sandbox's concern at
// spawn time.
func (m *AgentManifest) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("manifest: id is required")
	}
	if m.Name == "" {
		return fmt.Errorf("manifest: name is required")
	}
	if m.Version == "" {
		return fmt.Errorf("manifest: version is required")
	}
	if m.EntryPoint == "" {
		return fmt.Errorf("manifest: entry_point is required")
	}
	if m.TrustLevel != "" && !m.TrustLevel.Valid() {
		return fmt.Errorf("manifest: invalid trust_level %q", m.TrustLevel)
	}
	for _, c := range m.RequiredPermissions {
		if !c.Valid() {
			return fmt.Errorf("manifest: unknown required permission %q", c)
		}
	}
	if m.Limits.MaxTokensPerRequest < 0 || m.Limits.RequestsPerMinute < 0 || m.Limits.ToolCallsPerMinute < 0 {
		return fmt.Errorf("manifest: limits must be non-negative")
	}
	return nil
}

// ResourceUsage holds monotonically updated counters for one agent.
// Resets occur only at an explicit minute-window rollover (see
// RolloverIfDue), never as a side effect of reading the counters.
type ResourceUsage struct {
	TokensIn          int64     `json:"tokensIn"`
	TokensOut         int64     `json:"tokensOut"`
	Requests          int64     `json:"requests"`
	ToolCalls         int64     `json:"toolCalls"`
	CostMicros        int64     `json:"costMicros"`
	MinuteWindowStart time.Time `json:"minuteWindowStart"`
}

// RolloverIfDue resets the per-minute-window-scoped fields when more than
// a minute has elapsed since MinuteWindowStart. Cumulative totals
// (TokensIn/TokensOut/CostMicros/Requests/ToolCalls) are never reset here;
// this only stamps a fresh window start for callers that track per-minute
// deltas separately (the rate limiter keeps its own bucket state instead).
func (u *ResourceUsage) RolloverIfDue(now time.Time) {
	if u.MinuteWindowStart.IsZero() || now.Sub(u.MinuteWindowStart) >= time.Minute {
		u.MinuteWindowStart = now
	}
}

// AgentContext is the mutable runtime context of one agent. It is owned
// exclusively by its owning runtime worker task; no other goroutine may
// mutate it (see the concurrency model's per-agent single-threaded rule).
type AgentContext struct {
	AgentID   string            `json:"agentId"`
	ParentID  string            `json:"parentId,omitempty"`
	Manifest  AgentManifest     `json:"manifest"`
	State     string            `json:"state"`
	Usage     ResourceUsage     `json:"usage"`
	Env       map[string]string `json:"env,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

// NewAgentContext constructs a freshly spawned context in the created
// state, per the data model's lifecycle rule ("AgentContext is created
// at spawn").
func NewAgentContext(agentID string, m AgentManifest, now time.Time) *AgentContext {
	return &AgentContext{
		AgentID:   agentID,
		Manifest:  m,
		State:     "created",
		Env:       make(map[string]string),
		CreatedAt: now,
	}
}
