package statemachine

import (
	"log/slog"
	"sync"
	"time"

	"github.com/kadirpekel/agentkernel/pkg/errs"
)

// Listener is notified after a successful transition. Listeners execute
// synchronously under the machine's mutex in registration order; a
// panicking listener is recovered and logged, never allowed to corrupt
// the machine's state or block the caller's transition.
type Listener func(agentID string, from, to State, event Event)

// Machine is the per-agent lifecycle state machine. One Machine is owned
// by exactly one agent's worker task.
type Machine struct {
	mu        sync.Mutex
	agentID   string
	state     State
	history   HistoryStore
	listeners []Listener
	now       func() time.Time
}

// New constructs a Machine in StateCreated, optionally backed by a
// HistoryStore for persisted transitions. A nil store means transitions
// are tracked in memory only (callers must document this choice).
func New(agentID string, history HistoryStore) *Machine {
	return &Machine{
		agentID: agentID,
		state:   StateCreated,
		history: history,
		now:     time.Now,
	}
}

// Restore constructs a Machine already sitting in state s (checkpoint
// recovery), without replaying the transitions that got it there.
func Restore(agentID string, s State, history HistoryStore) *Machine {
	m := New(agentID, history)
	m.state = s
	return m
}

// AddListener registers a listener, returning its index for later removal
// via RemoveListener (keyed-subscriber pattern, §9 Design Notes).
func (m *Machine) AddListener(l Listener) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
	return len(m.listeners) - 1
}

// RemoveListener unregisters a listener previously returned by
// AddListener. Out-of-range indices are ignored.
func (m *Machine) RemoveListener(index int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if index < 0 || index >= len(m.listeners) {
		return
	}
	m.listeners[index] = nil
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// CanTransition is a pure predicate over the machine's current state.
func (m *Machine) CanTransition(event Event) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return CanTransition(m.state, event)
}

// Transition attempts to apply event. On success it appends a
// StateTransition to the history store (best-effort: a persistence
// failure still updates in-memory state and is reported via the
// returned error's wrapped cause, per the documented Open Question
// resolution — see DESIGN.md "in-memory update on persistence
// failure"), then notifies listeners in registration order.
//
// On failure (invalid transition) the state is unchanged and no
// listener is notified.
func (m *Machine) Transition(event Event, reason string) (bool, error) {
	m.mu.Lock()

	target, ok := Target(m.state, event)
	if !ok {
		m.mu.Unlock()
		return false, nil
	}

	from := m.state
	m.state = target
	record := StateTransition{
		AgentID:   m.agentID,
		FromState: from,
		ToState:   target,
		Event:     event,
		Timestamp: m.now(),
		Reason:    reason,
	}

	var persistErr error
	if m.history != nil {
		persistErr = m.history.Append(m.agentID, record)
	}

	for _, l := range m.listeners {
		m.notify(l, from, target, event)
	}

	m.mu.Unlock()

	if persistErr != nil {
		return true, errs.Wrap(errs.StorageFailure, "failed to persist state transition", persistErr).
			WithDetail("agent_id", m.agentID)
	}
	return true, nil
}

// notify calls a single listener with panic recovery, matching the
// teacher's documented defensive-dispatch contract.
func (m *Machine) notify(l Listener, from, to State, event Event) {
	if l == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("statemachine: listener panicked", "agent_id", m.agentID, "panic", r)
		}
	}()
	l(m.agentID, from, to, event)
}

// LoadHistory returns persisted transitions for the machine's agent, in
// chronological order. limit <= 0 means no limit; a zero since means no
// lower bound.
func (m *Machine) LoadHistory(limit int, since time.Time) ([]StateTransition, error) {
	if m.history == nil {
		return nil, nil
	}
	return m.history.Load(m.agentID, limit, since)
}
