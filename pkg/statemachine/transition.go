package statemachine

import "time"

// StateTransition is an append-only record of one successful transition.
type StateTransition struct {
	AgentID   string    `json:"agentId"`
	FromState State     `json:"fromState"`
	ToState   State     `json:"toState"`
	Event     Event     `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason,omitempty"`
}

// HistoryStore persists StateTransition rows. Implementations live in
// pkg/store; the machine only depends on this narrow interface so tests
// can supply an in-memory fake.
type HistoryStore interface {
	Append(agentID string, t StateTransition) error
	Load(agentID string, limit int, since time.Time) ([]StateTransition, error)
}
