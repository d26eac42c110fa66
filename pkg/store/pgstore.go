package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kadirpekel/agentkernel/pkg/checkpoint"
	"github.com/kadirpekel/agentkernel/pkg/errs"
	"github.com/kadirpekel/agentkernel/pkg/statemachine"
)

// Pool is the subset of *pgxpool.Pool this package depends on, so tests
// can inject a mock pool (e.g. pgxmock) instead of a live database.
// *pgxpool.Pool satisfies it without adaptation.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ Pool = (*pgxpool.Pool)(nil)

// MigrateUp applies the agents/agent_state_history schema migrations
// found under migrationsPath (file://... source) to dsn, using
// golang-migrate with the pgx/v5 database driver (§4.7: "relational
// backends ... single transaction", schema managed monotonically).
func MigrateUp(dsn, migrationsPath string) error {
	m, err := migrate.New(migrationsPath, dsn)
	if err != nil {
		return errs.Wrap(errs.StorageFailure, "create migrate instance", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return errs.Wrap(errs.StorageFailure, "apply migrations", err)
	}
	return nil
}

// PgCheckpointStore persists AgentCheckpoint rows in the `agents` table
// (§6: `agents(id, state, manifest_json, created_at, updated_at)`,
// extended with the full checkpoint payload in checkpoint_json so
// Load round-trips history/usage/grants too).
type PgCheckpointStore struct {
	pool Pool
}

// NewPgCheckpointStore wraps an existing pool.
func NewPgCheckpointStore(pool Pool) *PgCheckpointStore {
	return &PgCheckpointStore{pool: pool}
}

func (s *PgCheckpointStore) Save(ctx context.Context, c *checkpoint.AgentCheckpoint) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return errs.Wrap(errs.Internal, "marshal checkpoint", err)
	}
	manifestJSON, err := json.Marshal(c.Manifest)
	if err != nil {
		return errs.Wrap(errs.Internal, "marshal manifest", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO agents (id, state, manifest_json, checkpoint_json, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			manifest_json = EXCLUDED.manifest_json,
			checkpoint_json = EXCLUDED.checkpoint_json,
			updated_at = EXCLUDED.updated_at`,
		c.AgentID, string(c.State), manifestJSON, payload, c.CreatedAt, c.Timestamp,
	)
	if err != nil {
		return errs.Wrap(errs.StorageFailure, "upsert agent checkpoint", err)
	}
	return nil
}

func (s *PgCheckpointStore) Load(ctx context.Context, agentID string) (*checkpoint.AgentCheckpoint, error) {
	row := s.pool.QueryRow(ctx, `SELECT checkpoint_json FROM agents WHERE id = $1`, agentID)
	var payload []byte
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.New(errs.NotFound, "checkpoint not found for agent "+agentID)
		}
		return nil, errs.Wrap(errs.StorageFailure, "query agent checkpoint", err)
	}
	var c checkpoint.AgentCheckpoint
	if err := json.Unmarshal(payload, &c); err != nil {
		return nil, errs.Wrap(errs.Internal, "unmarshal checkpoint", err)
	}
	return &c, nil
}

func (s *PgCheckpointStore) Delete(ctx context.Context, agentID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM agents WHERE id = $1`, agentID)
	if err != nil {
		return errs.Wrap(errs.StorageFailure, "delete agent checkpoint", err)
	}
	return nil
}

func (s *PgCheckpointStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM agents ORDER BY id`)
	if err != nil {
		return nil, errs.Wrap(errs.StorageFailure, "list agents", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errs.Wrap(errs.StorageFailure, "scan agent id", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PgCheckpointStore) Exists(ctx context.Context, agentID string) (bool, error) {
	row := s.pool.QueryRow(ctx, `SELECT 1 FROM agents WHERE id = $1`, agentID)
	var one int
	if err := row.Scan(&one); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, errs.Wrap(errs.StorageFailure, "check agent existence", err)
	}
	return true, nil
}

// PgHistoryStore appends to the append-only `agent_state_history` table
// (§6).
type PgHistoryStore struct {
	pool Pool
}

// NewPgHistoryStore wraps an existing pool.
func NewPgHistoryStore(pool Pool) *PgHistoryStore {
	return &PgHistoryStore{pool: pool}
}

func (s *PgHistoryStore) Append(agentID string, t statemachine.StateTransition) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO agent_state_history (agent_id, from_state, to_state, event, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		agentID, string(t.FromState), string(t.ToState), string(t.Event), t.Reason, t.Timestamp,
	)
	if err != nil {
		return errs.Wrap(errs.StorageFailure, "append state transition", err)
	}
	return nil
}

func (s *PgHistoryStore) Load(agentID string, limit int, since time.Time) ([]statemachine.StateTransition, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	query := `SELECT from_state, to_state, event, reason, created_at FROM agent_state_history WHERE agent_id = $1`
	args := []any{agentID}
	if !since.IsZero() {
		query += ` AND created_at >= $2`
		args = append(args, since)
	}
	query += ` ORDER BY created_at ASC`
	if limit > 0 {
		query += ` LIMIT $` + itoa(len(args)+1)
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errs.Wrap(errs.StorageFailure, "query state history", err)
	}
	defer rows.Close()

	var out []statemachine.StateTransition
	for rows.Next() {
		var t statemachine.StateTransition
		var from, to, event string
		if err := rows.Scan(&from, &to, &event, &t.Reason, &t.Timestamp); err != nil {
			return nil, errs.Wrap(errs.StorageFailure, "scan state transition", err)
		}
		t.AgentID = agentID
		t.FromState = statemachine.State(from)
		t.ToState = statemachine.State(to)
		t.Event = statemachine.Event(event)
		out = append(out, t)
	}
	return out, rows.Err()
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

var (
	_ checkpoint.Store          = (*PgCheckpointStore)(nil)
	_ statemachine.HistoryStore = (*PgHistoryStore)(nil)
)
