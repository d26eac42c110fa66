package statemachine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memHistory struct {
	mu   sync.Mutex
	rows map[string][]StateTransition
}

func newMemHistory() *memHistory {
	return &memHistory{rows: make(map[string][]StateTransition)}
}

func (m *memHistory) Append(agentID string, t StateTransition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[agentID] = append(m.rows[agentID], t)
	return nil
}

func (m *memHistory) Load(agentID string, limit int, since time.Time) ([]StateTransition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.rows[agentID]
	out := make([]StateTransition, 0, len(rows))
	for _, r := range rows {
		if !since.IsZero() && r.Timestamp.Before(since) {
			continue
		}
		out = append(out, r)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// TestHappyPathLifecycle is scenario 1 from spec.md §8.
func TestHappyPathLifecycle(t *testing.T) {
	history := newMemHistory()
	m := New("a", history)
	require.Equal(t, StateCreated, m.State())

	steps := []struct {
		event Event
		want  State
	}{
		{EventInitialize, StateInitializing},
		{EventReady, StateReady},
		{EventStart, StateRunning},
		{EventComplete, StateReady},
		{EventTerminate, StateTerminated},
	}
	for _, step := range steps {
		ok, err := m.Transition(step.event, "")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, step.want, m.State())
	}

	rows, err := m.LoadHistory(0, time.Time{})
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, StateCreated, rows[0].FromState)
	assert.Equal(t, StateTerminated, rows[len(rows)-1].ToState)
}

func TestTransition_InvalidLeavesStateUnchanged(t *testing.T) {
	m := New("a", nil)
	ok, err := m.Transition(EventStart, "")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, StateCreated, m.State())
}

func TestTransition_NotifiesListenersInOrder(t *testing.T) {
	m := New("a", nil)
	var calls []string
	m.AddListener(func(agentID string, from, to State, event Event) {
		calls = append(calls, "first")
	})
	m.AddListener(func(agentID string, from, to State, event Event) {
		calls = append(calls, "second")
	})

	_, err := m.Transition(EventInitialize, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, calls)
}

func TestTransition_PanickingListenerDoesNotCorruptState(t *testing.T) {
	m := New("a", nil)
	m.AddListener(func(agentID string, from, to State, event Event) {
		panic("boom")
	})

	ok, err := m.Transition(EventInitialize, "")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, StateInitializing, m.State())
}

func TestRemoveListener(t *testing.T) {
	m := New("a", nil)
	called := false
	idx := m.AddListener(func(agentID string, from, to State, event Event) {
		called = true
	})
	m.RemoveListener(idx)

	_, err := m.Transition(EventInitialize, "")
	require.NoError(t, err)
	assert.False(t, called)
}

// TestCanTransition_Property is a hand-rolled property check for P1.
func TestCanTransition_Property(t *testing.T) {
	allStates := []State{StateCreated, StateInitializing, StateReady, StateRunning, StatePaused, StateError, StateTerminated}
	allEvents := []Event{EventInitialize, EventReady, EventFail, EventTerminate, EventStart, EventPause, EventComplete, EventResume, EventRecover}

	for _, s := range allStates {
		for _, e := range allEvents {
			m := Restore("a", s, nil)
			canBefore := m.CanTransition(e)
			ok, err := m.Transition(e, "")
			require.NoError(t, err)
			require.Equal(t, canBefore, ok)
			if canBefore {
				want, _ := Target(s, e)
				assert.Equal(t, want, m.State())
			} else {
				assert.Equal(t, s, m.State())
			}
		}
	}
}

func TestTransition_PersistenceFailureStillUpdatesState(t *testing.T) {
	m := New("a", failingHistory{})
	ok, err := m.Transition(EventInitialize, "")
	assert.True(t, ok)
	assert.Error(t, err)
	assert.Equal(t, StateInitializing, m.State())
}

type failingHistory struct{}

func (failingHistory) Append(agentID string, t StateTransition) error {
	return assertError{}
}
func (failingHistory) Load(agentID string, limit int, since time.Time) ([]StateTransition, error) {
	return nil, nil
}

type assertError struct{}

func (assertError) Error() string { return "simulated storage failure" }
