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

// Package runtime wires every core component (statemachine, sandbox,
// policy, ratelimit, adapter, audit, checkpoint) into a single handle,
// the way the teacher's pkg/runtime builds live agents from config: an
// explicit struct built by New, no package-level globals (§5 "no
// singletons"), with accessors instead of exported mutable fields.
package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/agentkernel/pkg/adapter"
	"github.com/kadirpekel/agentkernel/pkg/audit"
	"github.com/kadirpekel/agentkernel/pkg/checkpoint"
	"github.com/kadirpekel/agentkernel/pkg/errs"
	"github.com/kadirpekel/agentkernel/pkg/ids"
	"github.com/kadirpekel/agentkernel/pkg/manifest"
	"github.com/kadirpekel/agentkernel/pkg/metrics"
	"github.com/kadirpekel/agentkernel/pkg/policy"
	"github.com/kadirpekel/agentkernel/pkg/ratelimit"
	"github.com/kadirpekel/agentkernel/pkg/sandbox"
	"github.com/kadirpekel/agentkernel/pkg/statemachine"
)

// AgentHandle bundles the live components that make up one spawned
// agent: its manifest, mutable runtime context, lifecycle machine, and
// capability sandbox. A Runtime owns exactly one AgentHandle per agent
// id; callers reach it only through Runtime's methods, never directly,
// so every access goes through the policy/sandbox/ratelimit gate.
type AgentHandle struct {
	Manifest manifest.AgentManifest
	Context  *manifest.AgentContext
	Machine  *statemachine.Machine
	Sandbox  *sandbox.Sandbox
}

// Runtime is the explicit handle wiring together the lifecycle state
// machine, capability sandbox, policy engine, rate limiter, audit
// pipeline, and checkpoint manager for every spawned agent (§4, §5).
type Runtime struct {
	mu     sync.RWMutex
	agents map[string]*AgentHandle

	policy   *policy.PolicySet
	limiter  ratelimit.Limiter
	history  statemachine.HistoryStore
	audit    *audit.Pipeline
	ckpt     *checkpoint.Manager
	metrics  *metrics.Metrics
	adapters *adapter.Registry

	approval        policy.ApprovalCallback
	approvalTimeout time.Duration
	approvals       *policy.PendingApprovals

	now func() time.Time
}

// Option configures a Runtime at construction time.
type Option func(*Runtime)

// WithPolicy sets the initial PolicySet. Defaults to an always-block
// PolicySet with no rules if omitted, which is the fail-closed posture
// §4.3 requires when no policy has been configured.
func WithPolicy(ps *policy.PolicySet) Option {
	return func(r *Runtime) { r.policy = ps }
}

// WithLimiter sets the rate limiter. Defaults to an unlimited no-op
// limiter if omitted (see noLimiter below).
func WithLimiter(l ratelimit.Limiter) Option {
	return func(r *Runtime) { r.limiter = l }
}

// WithHistory sets the statemachine transition history backend. Defaults
// to nil (in-memory-only transitions, no persisted history) if omitted.
func WithHistory(h statemachine.HistoryStore) Option {
	return func(r *Runtime) { r.history = h }
}

// WithAudit sets the audit pipeline. Defaults to a pipeline with no
// sinks (events are dropped) if omitted.
func WithAudit(p *audit.Pipeline) Option {
	return func(r *Runtime) { r.audit = p }
}

// WithCheckpoints sets the checkpoint manager. Defaults to nil, which
// disables Checkpoint/Recover (callers must check for this with
// CheckpointingEnabled before relying on it).
func WithCheckpoints(m *checkpoint.Manager) Option {
	return func(r *Runtime) { r.ckpt = m }
}

// WithMetrics sets the metrics collector. A nil *metrics.Metrics is
// valid (every recording method no-ops), so this option may be omitted.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runtime) { r.metrics = m }
}

// WithClock overrides the time source, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(r *Runtime) { r.now = now }
}

// WithAdapters sets the adapter.Registry used to host foreign
// agent-framework configurations (LangGraph, CrewAI, AutoGen, OpenClaw)
// inside this runtime's sandbox and policy engine. Defaults to
// adapter.NewRegistry()'s stock set if omitted.
func WithAdapters(r *adapter.Registry) Option {
	return func(rt *Runtime) { rt.adapters = r }
}

// WithApprovalCallback overrides how `approve` policy decisions are
// resolved out-of-band (§4.3). timeout <= 0 keeps
// policy.DefaultApprovalTimeout. Defaults to a PendingApprovals-backed
// callback that the HTTP approval endpoint (pkg/server) resolves.
func WithApprovalCallback(cb policy.ApprovalCallback, timeout time.Duration) Option {
	return func(rt *Runtime) {
		rt.approval = cb
		rt.approvalTimeout = timeout
	}
}

// New builds a Runtime from options. With no WithPolicy option the
// Runtime starts with a fail-closed, rule-free PolicySet.
func New(opts ...Option) *Runtime {
	r := &Runtime{
		agents:  make(map[string]*AgentHandle),
		limiter: noLimiter{},
		audit:   audit.New(nil),
		now:     time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	if r.policy == nil {
		r.policy, _ = policy.Build(policy.DecisionBlock, nil, nil, nil, nil)
	}
	if r.adapters == nil {
		r.adapters = adapter.NewRegistry()
	}
	r.approvals = policy.NewPendingApprovals()
	if r.approval == nil {
		r.approval = r.approvals.Callback()
	}
	if r.approvalTimeout <= 0 {
		r.approvalTimeout = policy.DefaultApprovalTimeout
	}
	return r
}

// Adapters returns the adapter.Registry this Runtime hosts foreign
// framework configurations through.
func (r *Runtime) Adapters() *adapter.Registry {
	return r.adapters
}

// Approvals returns the PendingApprovals registry backing this
// Runtime's default ApprovalCallback, for the HTTP approval endpoint
// (pkg/server) to resolve against. Resolving against it has no effect
// when WithApprovalCallback overrode the callback with a different
// implementation.
func (r *Runtime) Approvals() *policy.PendingApprovals {
	return r.approvals
}

// PolicyEvaluator returns a closure over the Runtime's current PolicySet,
// in adapter.PolicyEvaluator's simpler shape, for adapters built via
// Adapters().Build to authorize their own domain requests (§4.5).
func (r *Runtime) PolicyEvaluator() adapter.PolicyEvaluator {
	return func(req policy.Request) policy.Result {
		r.mu.RLock()
		ps := r.policy
		r.mu.RUnlock()
		return policy.Evaluate(ps, req)
	}
}

// ReloadPolicy atomically swaps the active PolicySet, for config
// hot-reload (pkg/config.Watcher calls this from its onChange callback).
// In-flight Authorize calls see either the old or the new PolicySet,
// never a partially-updated one, since PolicySet itself is immutable
// after Build.
func (r *Runtime) ReloadPolicy(ps *policy.PolicySet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policy = ps
}

// Spawn registers a new agent: validates m, grants its declared
// RequiredPermissions in a fresh Sandbox, constructs a lifecycle
// Machine in StateCreated, and audits the spawn. The agent id is
// generated here, not supplied by the caller, matching spec.md's
// "AgentId is assigned at spawn" invariant.
func (r *Runtime) Spawn(ctx context.Context, m manifest.AgentManifest) (*AgentHandle, error) {
	if err := m.Validate(); err != nil {
		return nil, errs.Wrap(errs.InvalidConfiguration, "invalid agent manifest", err)
	}

	agentID := ids.NewAgentID()
	sb := sandbox.New(agentID)
	for _, c := range m.RequiredPermissions {
		if _, err := sb.Grant(c, sandbox.Constraints{}, false, nil, "system"); err != nil {
			return nil, errs.Wrap(errs.Internal, "grant required permission", err).WithDetail("capability", string(c))
		}
	}

	machine := statemachine.New(agentID, r.history)
	handle := &AgentHandle{
		Manifest: m,
		Context:  manifest.NewAgentContext(agentID, m, r.now()),
		Machine:  machine,
		Sandbox:  sb,
	}

	r.mu.Lock()
	r.agents[agentID] = handle
	r.mu.Unlock()

	r.audit.Log(audit.New(audit.CategoryLifecycle, audit.SeverityInfo, "agent spawned").
		WithAgent(agentID).WithData(map[string]any{"manifest_id": m.ID, "name": m.Name}))
	r.metrics.SetAgentsInState(string(statemachine.StateCreated), float64(r.countInState(statemachine.StateCreated)+1))

	return handle, nil
}

// Agent returns the handle for agentID, or (nil, false) if unknown.
func (r *Runtime) Agent(agentID string) (*AgentHandle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.agents[agentID]
	return h, ok
}

// Agents returns every currently known agent id, in no particular order.
func (r *Runtime) Agents() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.agents))
	for id := range r.agents {
		out = append(out, id)
	}
	return out
}

func (r *Runtime) countInState(s statemachine.State) int {
	n := 0
	for _, h := range r.agents {
		if h.Machine.State() == s {
			n++
		}
	}
	return n
}

// Transition drives agentID's lifecycle machine, recording the resulting
// state to metrics and auditing both the attempt and its outcome.
func (r *Runtime) Transition(agentID string, event statemachine.Event, reason string) error {
	h, ok := r.Agent(agentID)
	if !ok {
		return errs.New(errs.NotFound, "unknown agent").WithDetail("agent_id", agentID)
	}
	from := h.Machine.State()
	ok2, err := h.Machine.Transition(event, reason)
	if err == nil && !ok2 {
		err = errs.New(errs.InvalidState, "invalid state transition").
			WithDetail("from", string(from)).WithDetail("event", string(event))
	}
	if err != nil {
		r.audit.Log(audit.New(audit.CategoryLifecycle, audit.SeverityWarn, "state transition rejected").
			WithAgent(agentID).WithOutcome(audit.OutcomeDenied).
			WithData(map[string]any{"from": string(from), "event": string(event), "error": err.Error()}))
		return err
	}
	to := h.Machine.State()
	if ok2 {
		r.metrics.StateTransition(string(from), string(to), string(event))
		r.audit.Log(audit.New(audit.CategoryLifecycle, audit.SeverityInfo, "state transition").
			WithAgent(agentID).WithOutcome(audit.OutcomeSuccess).
			WithData(map[string]any{"from": string(from), "to": string(to), "event": string(event)}))
	}
	return nil
}

// Authorize is the combined sandbox-then-policy gate every side-effecting
// operation must pass through (§4.2, §4.3): the sandbox's capability
// grant is checked first (cheaper, purely local), then the policy engine
// evaluates the specific request. Both decisions are audited and
// reflected in metrics regardless of outcome.
func (r *Runtime) Authorize(agentID string, capability sandbox.Capability, opts sandbox.CheckOptions, req policy.Request) error {
	h, ok := r.Agent(agentID)
	if !ok {
		return errs.New(errs.NotFound, "unknown agent").WithDetail("agent_id", agentID)
	}

	sbRes := h.Sandbox.Check(capability, opts)
	r.metrics.SandboxCheck(string(capability), sbRes.Allowed)
	if !sbRes.Allowed {
		r.audit.Log(audit.New(audit.CategoryPermission, audit.SeverityWarn, "capability check denied").
			WithAgent(agentID).WithOutcome(audit.OutcomeDenied).
			WithData(map[string]any{"capability": string(capability), "reason": sbRes.Reason}))
		return errs.New(errs.PermissionDenied, "capability not granted").
			WithDetail("capability", string(capability)).WithDetail("reason", sbRes.Reason)
	}

	r.mu.RLock()
	ps := r.policy
	r.mu.RUnlock()
	req.AgentID = agentID
	res := policy.Evaluate(ps, req)
	r.metrics.PolicyDecision(string(req.Type), string(res.Decision))

	switch res.Decision {
	case policy.DecisionAllow:
		r.audit.Log(audit.New(audit.CategorySecurity, audit.SeverityInfo, "policy decision").
			WithAgent(agentID).WithOutcome(audit.OutcomeSuccess).
			WithData(map[string]any{"rule_type": string(req.Type), "decision": string(res.Decision), "matched_rule": res.MatchedRule}))
		return nil
	case policy.DecisionApprove:
		approvalID := ids.NewApprovalID()
		r.audit.Log(audit.New(audit.CategorySecurity, audit.SeverityWarn, "policy requires out-of-band approval").
			WithAgent(agentID).WithOutcome(audit.OutcomeDenied).
			WithData(map[string]any{"rule_type": string(req.Type), "reason": res.Reason, "approval_id": approvalID}))

		approved, approveErr := policy.Resolve(r.approval, r.approvalTimeout, policy.ApprovalRequest{Request: req, ApprovalID: approvalID})
		if approveErr != nil || !approved {
			r.audit.Log(audit.New(audit.CategorySecurity, audit.SeverityWarn, "approval denied or timed out").
				WithAgent(agentID).WithOutcome(audit.OutcomeDenied).
				WithData(map[string]any{"rule_type": string(req.Type), "approval_id": approvalID}))
			return errs.New(errs.ApprovalRequired, "approval denied or timed out").
				WithDetail("approval_id", approvalID).WithDetail("reason", res.Reason)
		}
		r.audit.Log(audit.New(audit.CategorySecurity, audit.SeverityInfo, "action approved out-of-band").
			WithAgent(agentID).WithOutcome(audit.OutcomeSuccess).
			WithData(map[string]any{"rule_type": string(req.Type), "approval_id": approvalID}))
		return nil
	default:
		r.audit.Log(audit.New(audit.CategorySecurity, audit.SeverityWarn, "policy decision blocked").
			WithAgent(agentID).WithOutcome(audit.OutcomeDenied).
			WithData(map[string]any{"rule_type": string(req.Type), "reason": res.Reason}))
		return errs.New(errs.PolicyBlocked, "blocked by policy").WithDetail("reason", res.Reason)
	}
}

// CheckRateLimit consumes n units of agentID's kind bucket, auditing and
// recording metrics for the outcome.
func (r *Runtime) CheckRateLimit(agentID string, kind ratelimit.BucketKind, n float64) error {
	res, err := r.limiter.TryConsume(agentID, kind, n)
	if err != nil {
		return errs.Wrap(errs.Internal, "rate limit check", err)
	}
	r.metrics.RateLimitDecision(string(kind), res.Allowed)
	if !res.Allowed {
		r.audit.Log(audit.New(audit.CategoryResource, audit.SeverityWarn, "rate limit exceeded").
			WithAgent(agentID).WithOutcome(audit.OutcomeDenied).
			WithData(map[string]any{"kind": string(kind), "retry_after_ms": res.RetryAfterMs}))
		return errs.New(errs.RateLimited, "rate limit exceeded").
			WithDetail("kind", string(kind)).WithDetail("retry_after_ms", fmt.Sprintf("%d", res.RetryAfterMs))
	}
	return nil
}

// Checkpoint saves agentID's current runtime state. It returns an error
// if no checkpoint.Manager was configured via WithCheckpoints.
func (r *Runtime) Checkpoint(ctx context.Context, agentID string) error {
	if r.ckpt == nil {
		return errs.New(errs.InvalidConfiguration, "checkpointing is not configured")
	}
	h, ok := r.Agent(agentID)
	if !ok {
		return errs.New(errs.NotFound, "unknown agent").WithDetail("agent_id", agentID)
	}
	c := &checkpoint.AgentCheckpoint{
		Version:      checkpoint.CurrentVersion,
		AgentID:      agentID,
		State:        h.Machine.State(),
		Usage:        h.Context.Usage,
		Manifest:     h.Manifest,
		Env:          h.Context.Env,
		ParentID:     h.Context.ParentID,
		CreatedAt:    h.Context.CreatedAt,
		Capabilities: grantsOf(h.Sandbox),
	}
	return r.ckpt.Save(ctx, c, r.now())
}

func grantsOf(sb *sandbox.Sandbox) []sandbox.CapabilityGrant {
	grants := sb.Grants()
	out := make([]sandbox.CapabilityGrant, 0, len(grants))
	for _, g := range grants {
		out = append(out, *g)
	}
	return out
}

// Recover loads every persisted checkpoint (if checkpointing is
// configured and auto-resume is enabled) and rebuilds an AgentHandle for
// each, restoring its lifecycle state and capability grants without
// replaying the transitions that produced them (§4.7). Handle
// construction (sandbox restore, context/machine rebuild) fans out one
// goroutine per checkpoint, the way the teacher's workflowagent runs
// independent branches concurrently under a single errgroup; only the
// final map insert is serialized.
func (r *Runtime) Recover(ctx context.Context) (int, error) {
	if r.ckpt == nil || !r.ckpt.AutoResumeEnabled() {
		return 0, nil
	}
	checkpoints, err := r.ckpt.RecoverAll(ctx, r.now())
	if err != nil {
		return 0, errs.Wrap(errs.StorageFailure, "recover checkpoints", err)
	}

	handles := make([]*AgentHandle, len(checkpoints))
	group, groupCtx := errgroup.WithContext(ctx)
	for i, c := range checkpoints {
		i, c := i, c
		group.Go(func() error {
			select {
			case <-groupCtx.Done():
				return groupCtx.Err()
			default:
			}
			sb := sandbox.New(c.AgentID)
			sb.Restore(toGrantPointers(c.Capabilities))
			handles[i] = &AgentHandle{
				Manifest: c.Manifest,
				Context: &manifest.AgentContext{
					AgentID:   c.AgentID,
					ParentID:  c.ParentID,
					Manifest:  c.Manifest,
					State:     string(c.State),
					Usage:     c.Usage,
					Env:       c.Env,
					CreatedAt: c.CreatedAt,
				},
				Machine: statemachine.Restore(c.AgentID, c.State, r.history),
				Sandbox: sb,
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return 0, errs.Wrap(errs.Internal, "rebuild recovered agent handles", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, h := range handles {
		r.agents[h.Context.AgentID] = h
		r.audit.Log(audit.New(audit.CategoryLifecycle, audit.SeverityInfo, "agent recovered from checkpoint").
			WithAgent(h.Context.AgentID).WithData(map[string]any{"state": h.Context.State}))
	}
	return len(checkpoints), nil
}

func toGrantPointers(grants []sandbox.CapabilityGrant) []*sandbox.CapabilityGrant {
	out := make([]*sandbox.CapabilityGrant, len(grants))
	for i := range grants {
		out[i] = &grants[i]
	}
	return out
}

// Shutdown flushes the audit pipeline and releases its sinks. It does
// not terminate agents; callers transition them to terminated first if
// that is the desired shutdown semantics.
func (r *Runtime) Shutdown(ctx context.Context) error {
	if err := r.audit.Flush(ctx); err != nil {
		return err
	}
	return r.audit.Close(ctx)
}

// noLimiter is the default Limiter when none is configured: every
// request is allowed, matching "Kinds with no configured rule are
// treated as unlimited" (pkg/ratelimit.Config's doc comment) lifted to
// the whole-limiter scope.
type noLimiter struct{}

func (noLimiter) TryConsume(string, ratelimit.BucketKind, float64) (ratelimit.CheckResult, error) {
	return ratelimit.CheckResult{Allowed: true}, nil
}
func (noLimiter) Peek(string, ratelimit.BucketKind) (float64, error) { return 0, nil }
func (noLimiter) Reset(string, ratelimit.BucketKind) error           { return nil }

var _ ratelimit.Limiter = noLimiter{}
