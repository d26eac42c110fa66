// Package ids generates the opaque identifiers used across agentkernel:
// agent ids, audit event ids, and trace ids. All are UUIDv4 strings,
// matching the id generation convention used throughout the corpus
// (google/uuid), prefixed so they stay distinguishable in logs.
package ids

import "github.com/google/uuid"

// NewAgentID returns a new opaque stable AgentId, assigned at registration.
func NewAgentID() string {
	return "agt_" + uuid.New().String()
}

// NewEventID returns a new unique AuditEvent id.
func NewEventID() string {
	return "evt_" + uuid.New().String()
}

// NewGrantID returns a new unique CapabilityGrant id.
func NewGrantID() string {
	return "grt_" + uuid.New().String()
}

// NewTraceID returns a new unique trace id for cross-component correlation.
func NewTraceID() string {
	return "trc_" + uuid.New().String()
}

// NewApprovalID returns a new unique id for a pending out-of-band
// approval (§4.3), used to correlate an Authorize call blocked on
// ApprovalCallback with the external approver's resolution request.
func NewApprovalID() string {
	return "apr_" + uuid.New().String()
}
