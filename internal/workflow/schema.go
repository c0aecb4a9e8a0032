package workflow

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema is applied idempotently at startup. The partial unique index on
// ticket_id enforces at most one non-terminal instance per ticket at the
// database level; the one on time_sessions enforces a single active session
// per instance.
const schema = `
CREATE TABLE IF NOT EXISTS workflow_instances (
	id            TEXT PRIMARY KEY,
	template_id   TEXT NOT NULL,
	ticket_id     TEXT NOT NULL,
	owner_id      TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL,
	current_step  INTEGER NOT NULL DEFAULT 0,
	version       INTEGER NOT NULL DEFAULT 1,
	started_at    TIMESTAMPTZ NOT NULL,
	completed_at  TIMESTAMPTZ,
	created_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS workflow_instances_active_ticket
	ON workflow_instances (ticket_id)
	WHERE status NOT IN ('completed', 'cancelled');

CREATE INDEX IF NOT EXISTS workflow_instances_status
	ON workflow_instances (status, started_at DESC);

CREATE TABLE IF NOT EXISTS step_results (
	id             TEXT PRIMARY KEY,
	instance_id    TEXT NOT NULL REFERENCES workflow_instances (id),
	step_index     INTEGER NOT NULL,
	status         TEXT NOT NULL,
	notes          TEXT NOT NULL DEFAULT '',
	actual_seconds BIGINT NOT NULL DEFAULT 0,
	gap_ratio      DOUBLE PRECISION,
	gap_class      TEXT,
	started_at     TIMESTAMPTZ NOT NULL DEFAULT 'epoch',
	completed_at   TIMESTAMPTZ,
	UNIQUE (instance_id, step_index)
);

CREATE TABLE IF NOT EXISTS time_sessions (
	id             TEXT PRIMARY KEY,
	instance_id    TEXT NOT NULL REFERENCES workflow_instances (id),
	step_index     INTEGER NOT NULL,
	started_at     TIMESTAMPTZ NOT NULL,
	paused_at      TIMESTAMPTZ,
	resumed_at     TIMESTAMPTZ,
	ended_at       TIMESTAMPTZ,
	paused_seconds BIGINT NOT NULL DEFAULT 0,
	is_active      BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE UNIQUE INDEX IF NOT EXISTS time_sessions_single_active
	ON time_sessions (instance_id)
	WHERE is_active;

CREATE TABLE IF NOT EXISTS workflow_events (
	id          TEXT PRIMARY KEY,
	instance_id TEXT NOT NULL REFERENCES workflow_instances (id),
	step_index  INTEGER NOT NULL,
	event       TEXT NOT NULL,
	actor_id    TEXT NOT NULL DEFAULT '',
	comment     TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS workflow_events_instance
	ON workflow_events (instance_id, created_at ASC);
`

// EnsureSchema creates the workflow tables and indexes if they do not exist.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply workflow schema: %w", err)
	}
	return nil
}
