package audit

import (
	"time"

	"github.com/kadirpekel/agentkernel/pkg/ids"
)

// Category is the closed set of audit event categories (§4.6).
type Category string

const (
	CategoryLifecycle     Category = "lifecycle"
	CategoryState         Category = "state"
	CategoryPermission    Category = "permission"
	CategoryResource      Category = "resource"
	CategorySecurity      Category = "security"
	CategoryCommunication Category = "communication"
	CategoryTool          Category = "tool"
	CategoryError         Category = "error"
	CategorySystem        Category = "system"
)

// Severity orders events for filtering and alerting.
type Severity string

const (
	SeverityDebug    Severity = "debug"
	SeverityInfo     Severity = "info"
	SeverityWarn     Severity = "warn"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Outcome is the result a database sink projects an event to.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeDenied  Outcome = "denied"
	OutcomeBlocked Outcome = "blocked"
)

// Event is one audit record (spec.md §3 AuditEvent).
type Event struct {
	ID        string
	Timestamp time.Time
	Severity  Severity
	Category  Category
	Sub       string // optional sub-action, combined into Record.Action as "category.sub"
	Message   string
	AgentID   string
	TraceID   string
	Actor     string
	Outcome   Outcome
	Data      map[string]any
	Tags      []string
}

// New fills in ID and Timestamp and returns a ready-to-log Event.
func New(category Category, severity Severity, message string) Event {
	return Event{
		ID:        ids.NewEventID(),
		Timestamp: time.Now(),
		Severity:  severity,
		Category:  category,
		Message:   message,
	}
}

// WithAgent sets the AgentID and returns the event for chaining.
func (e Event) WithAgent(agentID string) Event {
	e.AgentID = agentID
	return e
}

// WithTrace sets the TraceID and returns the event for chaining.
func (e Event) WithTrace(traceID string) Event {
	e.TraceID = traceID
	return e
}

// WithData attaches the opaque structured payload.
func (e Event) WithData(data map[string]any) Event {
	e.Data = data
	return e
}

// WithOutcome sets the outcome and returns the event for chaining.
func (e Event) WithOutcome(outcome Outcome) Event {
	e.Outcome = outcome
	return e
}

// Record is the (action, resource_type, resource_id, actor_id, details,
// outcome) projection database sinks persist (spec.md §4.6, §6 audit_log).
type Record struct {
	Action       string
	ResourceType string
	ResourceID   string
	ActorID      string
	Details      map[string]any
	Outcome      Outcome
	CreatedAt    time.Time
}

// ToRecord projects the event for a database sink. resourceType/resourceID
// describe the entity the event is about, since Event itself carries no
// such fields (only AgentID, which becomes the resource id by default).
func (e Event) ToRecord(resourceType, resourceID string) Record {
	action := string(e.Category)
	if e.Sub != "" {
		action += "." + e.Sub
	}
	resID := resourceID
	if resID == "" {
		resID = e.AgentID
	}
	details := make(map[string]any, len(e.Data)+1)
	for k, v := range e.Data {
		details[k] = v
	}
	details["message"] = e.Message
	return Record{
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resID,
		ActorID:      e.Actor,
		Details:      details,
		Outcome:      e.Outcome,
		CreatedAt:    e.Timestamp,
	}
}
