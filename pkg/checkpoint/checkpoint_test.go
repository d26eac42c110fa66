package checkpoint

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/agentkernel/pkg/manifest"
	"github.com/kadirpekel/agentkernel/pkg/sandbox"
	"github.com/kadirpekel/agentkernel/pkg/statemachine"
)

// memStore is a minimal in-memory Store for tests.
type memStore struct {
	mu   sync.Mutex
	data map[string]*AgentCheckpoint
}

func newMemStore() *memStore { return &memStore{data: make(map[string]*AgentCheckpoint)} }

func (s *memStore) Save(ctx context.Context, c *AgentCheckpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.data[c.AgentID] = &cp
	return nil
}

func (s *memStore) Load(ctx context.Context, agentID string) (*AgentCheckpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.data[agentID]
	if !ok {
		return nil, assertNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *memStore) Delete(ctx context.Context, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, agentID)
	return nil
}

func (s *memStore) List(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.data))
	for id := range s.data {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *memStore) Exists(ctx context.Context, agentID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[agentID]
	return ok, nil
}

type notFoundErr string

func (e notFoundErr) Error() string { return string(e) }

var assertNotFound = notFoundErr("checkpoint not found")

func testManifest() manifest.AgentManifest {
	return manifest.AgentManifest{
		ID:         "agent-1",
		Name:       "test agent",
		Version:    "1.0.0",
		EntryPoint: "main.py",
		TrustLevel: manifest.TrustSupervised,
	}
}

// TestCheckpointRecovery is scenario 6 from spec.md §8.
func TestCheckpointRecovery(t *testing.T) {
	store := newMemStore()
	mgr := NewManager(Config{}, store)
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	history := []statemachine.StateTransition{
		{AgentID: "agent-1", FromState: statemachine.StateCreated, ToState: statemachine.StateInitializing, Event: statemachine.EventInitialize, Timestamp: now},
		{AgentID: "agent-1", FromState: statemachine.StateInitializing, ToState: statemachine.StateReady, Event: statemachine.EventReady, Timestamp: now},
		{AgentID: "agent-1", FromState: statemachine.StateReady, ToState: statemachine.StateRunning, Event: statemachine.EventStart, Timestamp: now},
	}
	grant := sandbox.CapabilityGrant{
		ID:         "grant-1",
		Capability: sandbox.CapLLMChat,
		GrantedAt:  now,
		GrantedBy:  "system",
	}
	checkpoint := &AgentCheckpoint{
		AgentID:      "agent-1",
		State:        statemachine.StateRunning,
		StateHistory: history,
		Usage:        manifest.ResourceUsage{TokensIn: 100},
		Manifest:     testManifest(),
		Capabilities: []sandbox.CapabilityGrant{grant},
	}

	require.NoError(t, mgr.Save(ctx, checkpoint, now))

	loaded, err := mgr.Load(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, statemachine.StateRunning, loaded.State)
	assert.Len(t, loaded.StateHistory, 3)
	assert.Len(t, loaded.Capabilities, 1)
	assert.Equal(t, int64(100), loaded.Usage.TokensIn)

	machine := statemachine.Restore(loaded.AgentID, loaded.State, nil)
	require.True(t, machine.CanTransition(statemachine.EventFail))
	ok, err := machine.Transition(statemachine.EventFail, "restarted")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, statemachine.StateError, machine.State())
}

func TestManager_RecoverAll_SkipsExpired(t *testing.T) {
	store := newMemStore()
	mgr := NewManager(Config{Recovery: RecoveryConfig{AutoResume: true, Timeout: time.Hour}}, store)
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	fresh := &AgentCheckpoint{AgentID: "fresh", State: statemachine.StateRunning, Manifest: testManifest(), CreatedAt: now.Add(-time.Minute)}
	stale := &AgentCheckpoint{AgentID: "stale", State: statemachine.StateRunning, Manifest: testManifest(), CreatedAt: now.Add(-2 * time.Hour)}
	require.NoError(t, mgr.Save(ctx, fresh, now))
	require.NoError(t, mgr.Save(ctx, stale, now))

	recovered, err := mgr.RecoverAll(ctx, now)
	require.NoError(t, err)
	require.Len(t, recovered, 1)
	assert.Equal(t, "fresh", recovered[0].AgentID)
	assert.True(t, mgr.AutoResumeEnabled())
}

func TestMigrate_RejectsFutureVersion(t *testing.T) {
	c := &AgentCheckpoint{Version: CurrentVersion + 1}
	err := Migrate(c)
	assert.Error(t, err)
}

func TestAgentCheckpoint_Validate_RequiresAgentID(t *testing.T) {
	c := &AgentCheckpoint{State: statemachine.StateCreated, Manifest: testManifest()}
	assert.Error(t, c.Validate())
}

func TestManager_Delete(t *testing.T) {
	store := newMemStore()
	mgr := NewManager(Config{}, store)
	ctx := context.Background()
	now := time.Now()

	c := &AgentCheckpoint{AgentID: "agent-2", State: statemachine.StateCreated, Manifest: testManifest()}
	require.NoError(t, mgr.Save(ctx, c, now))
	require.NoError(t, mgr.Delete(ctx, "agent-2"))

	exists, err := store.Exists(ctx, "agent-2")
	require.NoError(t, err)
	assert.False(t, exists)
}
