// Package store provides pluggable persistence backends for the state
// machine's transition history and agent checkpoints: memstore (tests and
// single-process mode), filestore (write-to-temp + rename), and pgstore
// (jackc/pgx/v5, schema managed by golang-migrate).
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kadirpekel/agentkernel/pkg/checkpoint"
	"github.com/kadirpekel/agentkernel/pkg/errs"
	"github.com/kadirpekel/agentkernel/pkg/statemachine"
)

// MemHistoryStore is an in-memory statemachine.HistoryStore, safe for
// concurrent use across agents (one mutex guards the whole map, since
// history appends are infrequent compared to sandbox/policy checks).
type MemHistoryStore struct {
	mu      sync.Mutex
	records map[string][]statemachine.StateTransition
}

// NewMemHistoryStore creates an empty MemHistoryStore.
func NewMemHistoryStore() *MemHistoryStore {
	return &MemHistoryStore{records: make(map[string][]statemachine.StateTransition)}
}

func (s *MemHistoryStore) Append(agentID string, t statemachine.StateTransition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[agentID] = append(s.records[agentID], t)
	return nil
}

func (s *MemHistoryStore) Load(agentID string, limit int, since time.Time) ([]statemachine.StateTransition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.records[agentID]
	out := make([]statemachine.StateTransition, 0, len(all))
	for _, t := range all {
		if !since.IsZero() && t.Timestamp.Before(since) {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// MemCheckpointStore is an in-memory checkpoint.Store.
type MemCheckpointStore struct {
	mu   sync.Mutex
	data map[string]*checkpoint.AgentCheckpoint
}

// NewMemCheckpointStore creates an empty MemCheckpointStore.
func NewMemCheckpointStore() *MemCheckpointStore {
	return &MemCheckpointStore{data: make(map[string]*checkpoint.AgentCheckpoint)}
}

func (s *MemCheckpointStore) Save(ctx context.Context, c *checkpoint.AgentCheckpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.data[c.AgentID] = &cp
	return nil
}

func (s *MemCheckpointStore) Load(ctx context.Context, agentID string) (*checkpoint.AgentCheckpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.data[agentID]
	if !ok {
		return nil, errs.New(errs.NotFound, "checkpoint not found for agent "+agentID)
	}
	cp := *c
	return &cp, nil
}

func (s *MemCheckpointStore) Delete(ctx context.Context, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, agentID)
	return nil
}

func (s *MemCheckpointStore) List(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.data))
	for id := range s.data {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemCheckpointStore) Exists(ctx context.Context, agentID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[agentID]
	return ok, nil
}

var (
	_ statemachine.HistoryStore = (*MemHistoryStore)(nil)
	_ checkpoint.Store          = (*MemCheckpointStore)(nil)
)
