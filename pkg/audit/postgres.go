package audit

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSink appends events to the audit_log table (spec.md §6:
// `audit_log(id, action, resource_type, resource_id, actor_id,
// details_json, outcome, created_at)`, append-only, created_at indexed).
// It is durable: a write failure propagates so the pipeline retries.
type PostgresSink struct {
	pool         *pgxpool.Pool
	resourceType string
}

// NewPostgresSink wraps an existing pool. resourceType is the fixed
// resource_type value stamped on every record this sink writes (callers
// typically run one PostgresSink per resource type, or "agent" for a
// single shared sink).
func NewPostgresSink(pool *pgxpool.Pool, resourceType string) *PostgresSink {
	if resourceType == "" {
		resourceType = "agent"
	}
	return &PostgresSink{pool: pool, resourceType: resourceType}
}

func (s *PostgresSink) Name() string { return "postgres" }

func (s *PostgresSink) durable() bool { return true }

func (s *PostgresSink) Write(ctx context.Context, event Event) error {
	rec := event.ToRecord(s.resourceType, "")
	details, err := json.Marshal(rec.Details)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO audit_log (id, action, resource_type, resource_id, actor_id, details_json, outcome, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		event.ID, rec.Action, rec.ResourceType, rec.ResourceID, rec.ActorID, details, string(rec.Outcome), rec.CreatedAt,
	)
	return err
}

func (s *PostgresSink) Flush(ctx context.Context) error { return nil }

func (s *PostgresSink) Close(ctx context.Context) error {
	s.pool.Close()
	return nil
}

var _ Durable = (*PostgresSink)(nil)
