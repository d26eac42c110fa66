package store

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kadirpekel/agentkernel/pkg/checkpoint"
	"github.com/kadirpekel/agentkernel/pkg/errs"
	"github.com/kadirpekel/agentkernel/pkg/statemachine"
)

// FileCheckpointStore persists one JSON file per agent under dir. Save is
// atomic: it writes to a temp file in the same directory and renames it
// over the target, so readers never observe a partial write (§4.7
// Consistency).
type FileCheckpointStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileCheckpointStore creates dir if needed and returns a store rooted
// there.
func NewFileCheckpointStore(dir string) (*FileCheckpointStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, errs.Wrap(errs.StorageFailure, "create checkpoint directory", err)
	}
	return &FileCheckpointStore{dir: dir}, nil
}

func (s *FileCheckpointStore) path(agentID string) string {
	return filepath.Join(s.dir, sanitize(agentID)+".json")
}

func (s *FileCheckpointStore) Save(ctx context.Context, c *checkpoint.AgentCheckpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(c)
	if err != nil {
		return errs.Wrap(errs.Internal, "marshal checkpoint", err)
	}

	target := s.path(c.AgentID)
	tmp, err := os.CreateTemp(s.dir, "checkpoint-*.tmp")
	if err != nil {
		return errs.Wrap(errs.StorageFailure, "create temp checkpoint file", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errs.Wrap(errs.StorageFailure, "write temp checkpoint file", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errs.Wrap(errs.StorageFailure, "sync temp checkpoint file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return errs.Wrap(errs.StorageFailure, "close temp checkpoint file", err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		os.Remove(tmpPath)
		return errs.Wrap(errs.StorageFailure, "rename checkpoint file into place", err)
	}
	return nil
}

func (s *FileCheckpointStore) Load(ctx context.Context, agentID string) (*checkpoint.AgentCheckpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(agentID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.New(errs.NotFound, "checkpoint not found for agent "+agentID)
		}
		return nil, errs.Wrap(errs.StorageFailure, "read checkpoint file", err)
	}
	var c checkpoint.AgentCheckpoint
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, errs.Wrap(errs.Internal, "unmarshal checkpoint file", err)
	}
	return &c, nil
}

func (s *FileCheckpointStore) Delete(ctx context.Context, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path(agentID)); err != nil && !os.IsNotExist(err) {
		return errs.Wrap(errs.StorageFailure, "delete checkpoint file", err)
	}
	return nil
}

func (s *FileCheckpointStore) List(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, errs.Wrap(errs.StorageFailure, "list checkpoint directory", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *FileCheckpointStore) Exists(ctx context.Context, agentID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := os.Stat(s.path(agentID))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errs.Wrap(errs.StorageFailure, "stat checkpoint file", err)
	}
	return true, nil
}

func sanitize(id string) string {
	return strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(id)
}

// FileHistoryStore appends StateTransition rows as JSON-lines, one file
// per agent, under dir. It is append-only per §6's agent_state_history
// table shape.
type FileHistoryStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileHistoryStore creates dir if needed and returns a store rooted
// there.
func NewFileHistoryStore(dir string) (*FileHistoryStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, errs.Wrap(errs.StorageFailure, "create history directory", err)
	}
	return &FileHistoryStore{dir: dir}, nil
}

func (s *FileHistoryStore) path(agentID string) string {
	return filepath.Join(s.dir, sanitize(agentID)+".jsonl")
}

func (s *FileHistoryStore) Append(agentID string, t statemachine.StateTransition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path(agentID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return errs.Wrap(errs.StorageFailure, "open history file", err)
	}
	defer f.Close()

	data, err := json.Marshal(t)
	if err != nil {
		return errs.Wrap(errs.Internal, "marshal state transition", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return errs.Wrap(errs.StorageFailure, "append state transition", err)
	}
	return f.Sync()
}

func (s *FileHistoryStore) Load(agentID string, limit int, since time.Time) ([]statemachine.StateTransition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path(agentID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errs.Wrap(errs.StorageFailure, "open history file", err)
	}
	defer f.Close()

	var out []statemachine.StateTransition
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var t statemachine.StateTransition
		if err := json.Unmarshal(scanner.Bytes(), &t); err != nil {
			continue
		}
		if !since.IsZero() && t.Timestamp.Before(since) {
			continue
		}
		out = append(out, t)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

var (
	_ checkpoint.Store          = (*FileCheckpointStore)(nil)
	_ statemachine.HistoryStore = (*FileHistoryStore)(nil)
)
