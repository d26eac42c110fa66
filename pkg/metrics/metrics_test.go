package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetrics_Handler_ExposesRegisteredFamilies(t *testing.T) {
	m := New()
	m.StateTransition("created", "initializing", "initialize")
	m.SandboxCheck("file:read", true)
	m.PolicyDecision("file", "allow")
	m.RateLimitDecision("requests-per-minute", false)
	m.AuditEvent("lifecycle", "info")
	m.CheckpointOp("save", "success", 0.012)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "agentkernel_statemachine_transitions_total")
	assert.Contains(t, body, "agentkernel_sandbox_checks_total")
	assert.Contains(t, body, "agentkernel_policy_decisions_total")
	assert.Contains(t, body, "agentkernel_ratelimit_decisions_total")
	assert.Contains(t, body, "agentkernel_audit_events_total")
	assert.Contains(t, body, "agentkernel_checkpoint_operations_total")
}

func TestMetrics_NilReceiver_IsNoOp(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.StateTransition("a", "b", "c")
		m.SandboxCheck("file:read", true)
		m.PolicyDecision("file", "allow")
		m.RateLimitDecision("requests-per-minute", true)
		m.AuditEvent("lifecycle", "info")
		m.CheckpointOp("load", "success", 0.001)
		m.SetAgentsInState("running", 1)
		m.SetAdaptersInState("langgraph", "running", 1)
		m.AuditBufferDepth("file", 3)
		m.AuditSinkFailure("postgres")
		m.RateLimitUtilization("agent-1", "tokens-per-minute", 0.5)
		m.PolicyEvaluateDuration(0.001)
		_ = m.Handler()
	})
}
