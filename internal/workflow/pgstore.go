package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/qatrail/qatrail/model"
)

// PgStore is a PostgreSQL-backed Store using pgx/v5. Each Create and Update
// runs in a single transaction covering the instance row, its step results,
// its time sessions and the transition events, so a transition is either
// fully durable or absent.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a new PostgreSQL workflow store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// Create inserts a new aggregate and its initial events.
func (s *PgStore) Create(ctx context.Context, agg Aggregate, events []model.WorkflowEvent) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create: %w", err)
	}
	defer tx.Rollback(ctx)

	inst := agg.Instance
	_, err = tx.Exec(ctx, `
		INSERT INTO workflow_instances (
			id, template_id, ticket_id, owner_id,
			status, current_step, version,
			started_at, completed_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		inst.ID, inst.TemplateID, inst.TicketID, inst.OwnerID,
		inst.Status, inst.CurrentStep, inst.Version,
		inst.StartedAt, inst.CompletedAt, inst.CreatedAt, inst.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.NewConflictError(
				fmt.Sprintf("ticket %q already has an active workflow instance", inst.TicketID),
			)
		}
		return fmt.Errorf("insert workflow instance: %w", err)
	}

	if err := upsertSteps(ctx, tx, agg.Steps); err != nil {
		return err
	}
	if err := upsertSessions(ctx, tx, agg.Sessions); err != nil {
		return err
	}
	if err := insertEvents(ctx, tx, events); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Get retrieves an aggregate by instance ID.
func (s *PgStore) Get(ctx context.Context, instanceID string) (Aggregate, error) {
	var agg Aggregate

	err := s.pool.QueryRow(ctx, `
		SELECT id, template_id, ticket_id, owner_id,
		       status, current_step, version,
		       started_at, completed_at, created_at, updated_at
		FROM workflow_instances
		WHERE id = $1`,
		instanceID,
	).Scan(
		&agg.Instance.ID, &agg.Instance.TemplateID, &agg.Instance.TicketID, &agg.Instance.OwnerID,
		&agg.Instance.Status, &agg.Instance.CurrentStep, &agg.Instance.Version,
		&agg.Instance.StartedAt, &agg.Instance.CompletedAt, &agg.Instance.CreatedAt, &agg.Instance.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Aggregate{}, model.NewNotFoundError(
			fmt.Sprintf("workflow instance %q not found", instanceID),
		)
	}
	if err != nil {
		return Aggregate{}, fmt.Errorf("query workflow instance: %w", err)
	}

	if agg.Steps, err = s.querySteps(ctx, instanceID); err != nil {
		return Aggregate{}, err
	}
	if agg.Sessions, err = s.querySessions(ctx, instanceID); err != nil {
		return Aggregate{}, err
	}
	return agg, nil
}

// Update persists a mutated aggregate with optimistic locking.
func (s *PgStore) Update(ctx context.Context, agg Aggregate, events []model.WorkflowEvent) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin update: %w", err)
	}
	defer tx.Rollback(ctx)

	inst := agg.Instance
	tag, err := tx.Exec(ctx, `
		UPDATE workflow_instances SET
			status = $1,
			current_step = $2,
			completed_at = $3,
			version = $4,
			updated_at = $5
		WHERE id = $6 AND version = $7`,
		inst.Status, inst.CurrentStep, inst.CompletedAt, inst.Version+1,
		time.Now().UTC(),
		inst.ID, inst.Version,
	)
	if err != nil {
		return fmt.Errorf("update workflow instance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM workflow_instances WHERE id = $1)`, inst.ID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("check workflow instance: %w", err)
		}
		if !exists {
			return model.NewNotFoundError(
				fmt.Sprintf("workflow instance %q not found", inst.ID),
			)
		}
		return model.NewConflictError(
			fmt.Sprintf("workflow instance %q version conflict (expected %d)", inst.ID, inst.Version),
		)
	}

	if err := upsertSteps(ctx, tx, agg.Steps); err != nil {
		return err
	}
	if err := upsertSessions(ctx, tx, agg.Sessions); err != nil {
		return err
	}
	if err := insertEvents(ctx, tx, events); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// FindActiveByTicket returns the non-terminal instance for a ticket, or nil.
func (s *PgStore) FindActiveByTicket(ctx context.Context, ticketID string) (*model.WorkflowInstance, error) {
	var inst model.WorkflowInstance
	err := s.pool.QueryRow(ctx, `
		SELECT id, template_id, ticket_id, owner_id,
		       status, current_step, version,
		       started_at, completed_at, created_at, updated_at
		FROM workflow_instances
		WHERE ticket_id = $1 AND status NOT IN ('completed', 'cancelled')`,
		ticketID,
	).Scan(
		&inst.ID, &inst.TemplateID, &inst.TicketID, &inst.OwnerID,
		&inst.Status, &inst.CurrentStep, &inst.Version,
		&inst.StartedAt, &inst.CompletedAt, &inst.CreatedAt, &inst.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query active instance by ticket: %w", err)
	}
	return &inst, nil
}

// List returns aggregates matching the filters plus the total match count,
// newest first.
func (s *PgStore) List(ctx context.Context, filters model.ListFilters) ([]Aggregate, int, error) {
	where := " WHERE 1=1"
	var args []any
	argIdx := 1

	if filters.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filters.Status)
		argIdx++
	}
	if filters.TicketID != "" {
		where += fmt.Sprintf(" AND ticket_id = $%d", argIdx)
		args = append(args, filters.TicketID)
		argIdx++
	}
	if filters.OwnerID != "" {
		where += fmt.Sprintf(" AND owner_id = $%d", argIdx)
		args = append(args, filters.OwnerID)
		argIdx++
	}
	if filters.Since != nil {
		where += fmt.Sprintf(" AND started_at >= $%d", argIdx)
		args = append(args, *filters.Since)
		argIdx++
	}

	var total int
	if err := s.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM workflow_instances"+where, args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count workflow instances: %w", err)
	}

	query := `SELECT id, template_id, ticket_id, owner_id,
	                 status, current_step, version,
	                 started_at, completed_at, created_at, updated_at
	          FROM workflow_instances` + where + " ORDER BY started_at DESC"
	if filters.Page > 0 && filters.PageSize > 0 {
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
		args = append(args, filters.PageSize, (filters.Page-1)*filters.PageSize)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query workflow instances: %w", err)
	}
	defer rows.Close()

	var aggs []Aggregate
	for rows.Next() {
		var agg Aggregate
		if err := rows.Scan(
			&agg.Instance.ID, &agg.Instance.TemplateID, &agg.Instance.TicketID, &agg.Instance.OwnerID,
			&agg.Instance.Status, &agg.Instance.CurrentStep, &agg.Instance.Version,
			&agg.Instance.StartedAt, &agg.Instance.CompletedAt, &agg.Instance.CreatedAt, &agg.Instance.UpdatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("scan workflow instance: %w", err)
		}
		aggs = append(aggs, agg)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	for i := range aggs {
		if aggs[i].Steps, err = s.querySteps(ctx, aggs[i].Instance.ID); err != nil {
			return nil, 0, err
		}
		if aggs[i].Sessions, err = s.querySessions(ctx, aggs[i].Instance.ID); err != nil {
			return nil, 0, err
		}
	}
	return aggs, total, nil
}

// GetEvents retrieves the audit trail for an instance in order.
func (s *PgStore) GetEvents(ctx context.Context, instanceID string) ([]model.WorkflowEvent, error) {
	// Verify the instance exists so a missing ID is NOT_FOUND rather than
	// an empty trail.
	if _, err := s.Get(ctx, instanceID); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, instance_id, step_index, event, actor_id, comment, created_at
		FROM workflow_events
		WHERE instance_id = $1
		ORDER BY created_at ASC, id ASC`,
		instanceID,
	)
	if err != nil {
		return nil, fmt.Errorf("query workflow events: %w", err)
	}
	defer rows.Close()

	var events []model.WorkflowEvent
	for rows.Next() {
		var evt model.WorkflowEvent
		if err := rows.Scan(
			&evt.ID, &evt.InstanceID, &evt.StepIndex, &evt.Event,
			&evt.ActorID, &evt.Comment, &evt.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scan workflow event: %w", err)
		}
		events = append(events, evt)
	}
	return events, rows.Err()
}

// HealthCheck verifies database connectivity.
func (s *PgStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PgStore) querySteps(ctx context.Context, instanceID string) ([]model.StepResult, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, instance_id, step_index, status, notes,
		       actual_seconds, gap_ratio, gap_class, started_at, completed_at
		FROM step_results
		WHERE instance_id = $1
		ORDER BY step_index ASC`,
		instanceID,
	)
	if err != nil {
		return nil, fmt.Errorf("query step results: %w", err)
	}
	defer rows.Close()

	var steps []model.StepResult
	for rows.Next() {
		var sr model.StepResult
		var gapRatio *float64
		var gapClass *string
		if err := rows.Scan(
			&sr.ID, &sr.InstanceID, &sr.StepIndex, &sr.Status, &sr.Notes,
			&sr.ActualSeconds, &gapRatio, &gapClass, &sr.StartedAt, &sr.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("scan step result: %w", err)
		}
		if gapClass != nil {
			gap := model.GapReport{Class: model.GapClass(*gapClass)}
			if gapRatio != nil {
				gap.Ratio = *gapRatio
			}
			sr.Gap = &gap
		}
		steps = append(steps, sr)
	}
	return steps, rows.Err()
}

func (s *PgStore) querySessions(ctx context.Context, instanceID string) ([]model.TimeSession, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, instance_id, step_index, started_at,
		       paused_at, resumed_at, ended_at, paused_seconds, is_active
		FROM time_sessions
		WHERE instance_id = $1
		ORDER BY step_index ASC`,
		instanceID,
	)
	if err != nil {
		return nil, fmt.Errorf("query time sessions: %w", err)
	}
	defer rows.Close()

	var sessions []model.TimeSession
	for rows.Next() {
		var ts model.TimeSession
		if err := rows.Scan(
			&ts.ID, &ts.InstanceID, &ts.StepIndex, &ts.StartedAt,
			&ts.PausedAt, &ts.ResumedAt, &ts.EndedAt, &ts.PausedSeconds, &ts.Active,
		); err != nil {
			return nil, fmt.Errorf("scan time session: %w", err)
		}
		sessions = append(sessions, ts)
	}
	return sessions, rows.Err()
}

func upsertSteps(ctx context.Context, tx pgx.Tx, steps []model.StepResult) error {
	for _, sr := range steps {
		var gapRatio *float64
		var gapClass *string
		if sr.Gap != nil {
			r, c := sr.Gap.Ratio, string(sr.Gap.Class)
			gapRatio, gapClass = &r, &c
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO step_results (
				id, instance_id, step_index, status, notes,
				actual_seconds, gap_ratio, gap_class, started_at, completed_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (id) DO UPDATE SET
				status = EXCLUDED.status,
				notes = EXCLUDED.notes,
				actual_seconds = EXCLUDED.actual_seconds,
				gap_ratio = EXCLUDED.gap_ratio,
				gap_class = EXCLUDED.gap_class,
				started_at = EXCLUDED.started_at,
				completed_at = EXCLUDED.completed_at`,
			sr.ID, sr.InstanceID, sr.StepIndex, sr.Status, sr.Notes,
			sr.ActualSeconds, gapRatio, gapClass, sr.StartedAt, sr.CompletedAt,
		)
		if err != nil {
			return fmt.Errorf("upsert step result: %w", err)
		}
	}
	return nil
}

func upsertSessions(ctx context.Context, tx pgx.Tx, sessions []model.TimeSession) error {
	for _, ts := range sessions {
		_, err := tx.Exec(ctx, `
			INSERT INTO time_sessions (
				id, instance_id, step_index, started_at,
				paused_at, resumed_at, ended_at, paused_seconds, is_active
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (id) DO UPDATE SET
				paused_at = EXCLUDED.paused_at,
				resumed_at = EXCLUDED.resumed_at,
				ended_at = EXCLUDED.ended_at,
				paused_seconds = EXCLUDED.paused_seconds,
				is_active = EXCLUDED.is_active`,
			ts.ID, ts.InstanceID, ts.StepIndex, ts.StartedAt,
			ts.PausedAt, ts.ResumedAt, ts.EndedAt, ts.PausedSeconds, ts.Active,
		)
		if err != nil {
			return fmt.Errorf("upsert time session: %w", err)
		}
	}
	return nil
}

func insertEvents(ctx context.Context, tx pgx.Tx, events []model.WorkflowEvent) error {
	for _, evt := range events {
		_, err := tx.Exec(ctx, `
			INSERT INTO workflow_events (
				id, instance_id, step_index, event, actor_id, comment, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			evt.ID, evt.InstanceID, evt.StepIndex, evt.Event,
			evt.ActorID, evt.Comment, evt.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("insert workflow event: %w", err)
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
