// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package adapter normalizes foreign agent-framework configurations
// (LangGraph graphs, CrewAI crews, AutoGen conversations, OpenClaw skill
// sets) so they can run inside the runtime's sandbox and policy engine.
// Each adapter is itself a small state machine: idle -> loaded -> running
// -> stopped, with error reachable from any state.
package adapter

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/kadirpekel/agentkernel/pkg/errs"
	"github.com/kadirpekel/agentkernel/pkg/ids"
	"github.com/kadirpekel/agentkernel/pkg/policy"
	"github.com/kadirpekel/agentkernel/pkg/sandbox"
)

// PolicyEvaluator evaluates a domain request, mirroring policy.Evaluate's
// signature. Concrete adapters call it, alongside a sandbox check, before
// any side-effecting branch of HandleMessage (§4.5).
type PolicyEvaluator func(req policy.Request) policy.Result

// State is an adapter's lifecycle position.
type State string

const (
	StateIdle    State = "idle"
	StateLoaded  State = "loaded"
	StateRunning State = "running"
	StateStopped State = "stopped"
	StateError   State = "error"
)

// Message is a framework-specific payload dispatched to a running
// adapter. Kind discriminates the handler branch; Payload carries the
// decoded, framework-native content.
type Message struct {
	Kind    string
	Payload any
}

// Adapter bridges one foreign agent configuration into the runtime.
// Every branch of HandleMessage that performs a side-effectful action
// must check the sandbox and the policy engine before acting.
type Adapter interface {
	Load(ctx context.Context, config []byte) error
	Start(ctx context.Context, sb *sandbox.Sandbox) error
	HandleMessage(ctx context.Context, msg Message) error
	Stop(ctx context.Context) error
	GetRequiredCapabilities() []sandbox.Capability
	State() State
}

// Base implements the shared state machine and capability derivation
// that every concrete adapter embeds. Concrete adapters supply parseConfig
// (framework-specific decoding + tool list extraction) and their own
// HandleMessage.
type Base struct {
	mu           sync.RWMutex
	state        State
	requiredCaps []sandbox.Capability
	sandbox      *sandbox.Sandbox
	evaluate     PolicyEvaluator

	approval        policy.ApprovalCallback
	approvalTimeout time.Duration
}

// NewBase returns a Base in StateIdle. eval may be nil, in which case
// every request is treated as policy.DecisionAllow (no domain rules
// configured for this adapter). No ApprovalCallback is configured by
// default, so an `approve` decision is denied immediately (policy.Resolve
// with a nil callback) until SetApprovalCallback is called.
func NewBase(eval PolicyEvaluator) *Base {
	if eval == nil {
		eval = func(policy.Request) policy.Result { return policy.Result{Decision: policy.DecisionAllow} }
	}
	return &Base{state: StateIdle, evaluate: eval}
}

// SetApprovalCallback wires this adapter's `approve` decisions to cb,
// bounded by timeout (policy.DefaultApprovalTimeout if <= 0), the way
// runtime.WithApprovalCallback wires the core Runtime (§4.3). Typically
// called with the same callback the owning Runtime uses, via
// runtime.Runtime.Approvals, so both paths resolve against one registry.
func (b *Base) SetApprovalCallback(cb policy.ApprovalCallback, timeout time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.approval = cb
	b.approvalTimeout = timeout
}

// Authorize runs the capability check then the policy check, in that
// order (§4.5: "must call the sandbox and the policy engine first"), and
// returns a single error describing whichever gate refused.
func (b *Base) Authorize(cap sandbox.Capability, opts sandbox.CheckOptions, req policy.Request) error {
	sb, err := b.SandboxFor()
	if err != nil {
		return err
	}
	if res := sb.Check(cap, opts); !res.Allowed {
		return errs.New(errs.PermissionDenied, "sandbox denied capability").
			WithDetail("capability", string(cap)).WithDetail("reason", res.Reason)
	}
	res := b.evaluate(req)
	switch res.Decision {
	case policy.DecisionAllow:
		return nil
	case policy.DecisionApprove:
		approvalID := ids.NewApprovalID()
		b.mu.RLock()
		cb, timeout := b.approval, b.approvalTimeout
		b.mu.RUnlock()
		approved, approveErr := policy.Resolve(cb, timeout, policy.ApprovalRequest{Request: req, ApprovalID: approvalID})
		if approveErr != nil || !approved {
			return errs.New(errs.ApprovalRequired, "approval denied or timed out").
				WithDetail("approval_id", approvalID).WithDetail("reason", res.Reason).WithDetail("matchedRule", res.MatchedRule)
		}
		return nil
	default:
		return errs.New(errs.PolicyBlocked, "policy denied action").
			WithDetail("decision", string(res.Decision)).WithDetail("reason", res.Reason).
			WithDetail("matchedRule", res.MatchedRule)
	}
}

func (b *Base) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

func (b *Base) GetRequiredCapabilities() []sandbox.Capability {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]sandbox.Capability, len(b.requiredCaps))
	copy(out, b.requiredCaps)
	return out
}

// SetLoaded records the computed capability set and transitions idle ->
// loaded. Concrete adapters call this from Load after parsing.
func (b *Base) SetLoaded(caps []sandbox.Capability) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateIdle {
		b.state = StateError
		return errs.New(errs.InvalidState, "load requires idle state").WithDetail("state", string(b.state))
	}
	b.requiredCaps = caps
	b.state = StateLoaded
	return nil
}

// StartWithSandbox verifies sb grants every required capability, then transitions
// loaded -> running. Missing capabilities move the adapter to error.
func (b *Base) StartWithSandbox(sb *sandbox.Sandbox) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateLoaded {
		b.state = StateError
		return errs.New(errs.InvalidState, "start requires loaded state").WithDetail("state", string(b.state))
	}
	for _, c := range b.requiredCaps {
		if res := sb.Check(c, sandbox.CheckOptions{}); !res.Allowed {
			b.state = StateError
			return errs.New(errs.PermissionDenied, "sandbox does not grant required capability").
				WithDetail("capability", string(c)).WithDetail("reason", res.Reason)
		}
	}
	b.sandbox = sb
	b.state = StateRunning
	return nil
}

// RequireRunning fails fast if the adapter is not running; every
// HandleMessage implementation calls this first (§4.5: "no message can be
// handled outside running").
func (b *Base) RequireRunning() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.state != StateRunning {
		return errs.New(errs.InvalidState, "handleMessage requires running state").WithDetail("state", string(b.state))
	}
	return nil
}

// StopAdapter releases resources and moves to stopped. Idempotent: stopping an
// already-stopped adapter is a no-op, and stop is allowed from any
// non-terminal state (§4.5).
func (b *Base) StopAdapter() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateStopped {
		return nil
	}
	b.state = StateStopped
	b.sandbox = nil
	return nil
}

// SandboxFor returns the sandbox bound at Start, or an error if the
// adapter never reached running.
func (b *Base) SandboxFor() (*sandbox.Sandbox, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.sandbox == nil {
		return nil, errs.New(errs.InvalidState, "adapter has no bound sandbox")
	}
	return b.sandbox, nil
}

// capabilityTable maps known tool/skill names, as they appear across the
// supported frameworks, to the runtime's capability vocabulary. Keys are
// matched case-sensitively against the exact tool name first; unknown
// names fall back to inferCapability's substring dictionary.
var capabilityTable = map[string][]sandbox.Capability{
	"read_file":     {sandbox.CapFileRead},
	"write_file":    {sandbox.CapFileWrite},
	"delete_file":   {sandbox.CapFileDelete},
	"http_fetch":    {sandbox.CapNetworkHTTP},
	"http_request":  {sandbox.CapNetworkHTTP},
	"execute_code":  {sandbox.CapShellExecute},
	"run_shell":     {sandbox.CapShellExecute},
	"TavilySearch":  {sandbox.CapNetworkHTTP},
	"llm_chat":      {sandbox.CapLLMChat},
	"llm_stream":    {sandbox.CapLLMStream},
	"mcp_tool":      {sandbox.CapToolMCP},
	"memory_read":   {sandbox.CapMemoryRead},
	"memory_write":  {sandbox.CapMemoryWrite},
	"agent_message": {sandbox.CapAgentCommunicate},
}

// inferenceDictionary is the substring fallback used when a tool name is
// not an exact capabilityTable key (§4.5: "fall back to inference from
// the tool name, substring match over a fixed dictionary").
var inferenceDictionary = []struct {
	substr string
	caps   []sandbox.Capability
}{
	{"file", []sandbox.Capability{sandbox.CapFileRead}},
	{"write", []sandbox.Capability{sandbox.CapFileWrite}},
	{"delete", []sandbox.Capability{sandbox.CapFileDelete}},
	{"http", []sandbox.Capability{sandbox.CapNetworkHTTP}},
	{"fetch", []sandbox.Capability{sandbox.CapNetworkHTTP}},
	{"search", []sandbox.Capability{sandbox.CapNetworkHTTP}},
	{"shell", []sandbox.Capability{sandbox.CapShellExecute}},
	{"exec", []sandbox.Capability{sandbox.CapShellExecute}},
	{"code", []sandbox.Capability{sandbox.CapShellExecute}},
	{"mcp", []sandbox.Capability{sandbox.CapToolMCP}},
	{"memory", []sandbox.Capability{sandbox.CapMemoryRead, sandbox.CapMemoryWrite}},
	{"chat", []sandbox.Capability{sandbox.CapLLMChat}},
	{"llm", []sandbox.Capability{sandbox.CapLLMChat}},
	{"agent", []sandbox.Capability{sandbox.CapAgentCommunicate}},
}

// ToolDeclaredCapability is set by config authors for tools the table and
// inference dictionary cannot classify (§4.5: "unknown tools either carry
// a user-declared capability ... or fall back to inference").
type ToolDeclaredCapability struct {
	Tool         string
	Capabilities []sandbox.Capability
}

// deriveCapabilities computes the required capability set for a list of
// tool names, honoring explicit declarations first. A tool that cannot be
// classified by table, declaration, or inference is refused outright
// (§4.5: "require an explicit grant or are refused").
func deriveCapabilities(tools []string, declared []ToolDeclaredCapability) ([]sandbox.Capability, error) {
	declaredByName := make(map[string][]sandbox.Capability, len(declared))
	for _, d := range declared {
		declaredByName[d.Tool] = d.Capabilities
	}

	seen := make(map[sandbox.Capability]struct{})
	var out []sandbox.Capability
	add := func(caps []sandbox.Capability) {
		for _, c := range caps {
			if _, ok := seen[c]; !ok {
				seen[c] = struct{}{}
				out = append(out, c)
			}
		}
	}

	for _, tool := range tools {
		if caps, ok := declaredByName[tool]; ok && len(caps) > 0 {
			add(caps)
			continue
		}
		if caps, ok := capabilityTable[tool]; ok {
			add(caps)
			continue
		}
		if caps, ok := inferFromName(tool); ok {
			add(caps)
			continue
		}
		return nil, errs.New(errs.InvalidConfiguration, "tool cannot be classified to a capability").
			WithDetail("tool", tool)
	}
	return out, nil
}

func inferFromName(tool string) ([]sandbox.Capability, bool) {
	lower := strings.ToLower(tool)
	var matched []sandbox.Capability
	seen := make(map[sandbox.Capability]struct{})
	for _, entry := range inferenceDictionary {
		if strings.Contains(lower, entry.substr) {
			for _, c := range entry.caps {
				if _, ok := seen[c]; !ok {
					seen[c] = struct{}{}
					matched = append(matched, c)
				}
			}
		}
	}
	return matched, len(matched) > 0
}
