package database

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/trailguard/trailguard/internal/domain/errors"
	"github.com/trailguard/trailguard/internal/domain/report"
)

// ScheduleRepository is the PostgreSQL report.ScheduleRepository. ClaimDue
// uses FOR UPDATE SKIP LOCKED so concurrent scheduler instances partition
// due schedules instead of double-running them.
type ScheduleRepository struct {
	db *pgxpool.Pool
}

// NewScheduleRepository builds the repository over a connection pool.
func NewScheduleRepository(db *pgxpool.Pool) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

const scheduleColumns = `
	id, organization_id, name, report_type, frequency, day_of_week,
	day_of_month, hour_of_day, minute_of_hour, timezone, format, deliveries,
	enabled, next_run, last_run, created_at, updated_at`

func (r *ScheduleRepository) Create(ctx context.Context, s *report.Schedule) error {
	if err := s.Validate(); err != nil {
		return err
	}
	deliveriesJSON, err := json.Marshal(s.Deliveries)
	if err != nil {
		return errors.NewInternalError("failed to marshal deliveries").WithCause(err)
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO scheduled_report (`+scheduleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
		        $13, $14, $15, $16, $17)`,
		s.ID, s.OrganizationID, s.Name, string(s.ReportType), string(s.Frequency),
		s.DayOfWeek, s.DayOfMonth, s.HourOfDay, s.MinuteOfHour, s.Timezone,
		s.Format, deliveriesJSON, s.Enabled, s.NextRun.UTC(), s.LastRun,
		s.CreatedAt.UTC(), s.UpdatedAt.UTC(),
	)
	if err != nil {
		return errors.NewDatabaseError("failed to create schedule").WithCause(err)
	}
	return nil
}

func (r *ScheduleRepository) Update(ctx context.Context, s *report.Schedule) error {
	if err := s.Validate(); err != nil {
		return err
	}
	deliveriesJSON, err := json.Marshal(s.Deliveries)
	if err != nil {
		return errors.NewInternalError("failed to marshal deliveries").WithCause(err)
	}

	tag, err := r.db.Exec(ctx, `
		UPDATE scheduled_report SET
			name = $3, report_type = $4, frequency = $5, day_of_week = $6,
			day_of_month = $7, hour_of_day = $8, minute_of_hour = $9,
			timezone = $10, format = $11, deliveries = $12, enabled = $13,
			next_run = $14, last_run = $15, updated_at = $16
		WHERE organization_id = $1 AND id = $2`,
		s.OrganizationID, s.ID, s.Name, string(s.ReportType), string(s.Frequency),
		s.DayOfWeek, s.DayOfMonth, s.HourOfDay, s.MinuteOfHour, s.Timezone,
		s.Format, deliveriesJSON, s.Enabled, s.NextRun.UTC(), s.LastRun,
		s.UpdatedAt.UTC(),
	)
	if err != nil {
		return errors.NewDatabaseError("failed to update schedule").WithCause(err)
	}
	if tag.RowsAffected() == 0 {
		return errors.NewNotFoundError("schedule")
	}
	return nil
}

func (r *ScheduleRepository) GetByID(ctx context.Context, organizationID string, id uuid.UUID) (*report.Schedule, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+scheduleColumns+` FROM scheduled_report
		 WHERE organization_id = $1 AND id = $2`, organizationID, id)
	s, err := scanSchedule(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errors.NewNotFoundError("schedule")
		}
		return nil, errors.NewDatabaseError("failed to load schedule").WithCause(err)
	}
	return s, nil
}

func (r *ScheduleRepository) Get(ctx context.Context, id uuid.UUID) (*report.Schedule, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+scheduleColumns+` FROM scheduled_report WHERE id = $1`, id)
	s, err := scanSchedule(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errors.NewNotFoundError("schedule")
		}
		return nil, errors.NewDatabaseError("failed to load schedule").WithCause(err)
	}
	return s, nil
}

func (r *ScheduleRepository) List(ctx context.Context, organizationID string) ([]*report.Schedule, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+scheduleColumns+` FROM scheduled_report
		 WHERE organization_id = $1 ORDER BY name`, organizationID)
	if err != nil {
		return nil, errors.NewDatabaseError("failed to list schedules").WithCause(err)
	}
	defer rows.Close()

	var schedules []*report.Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, errors.NewDatabaseError("failed to scan schedule").WithCause(err)
		}
		schedules = append(schedules, s)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewDatabaseError("schedule iteration failed").WithCause(err)
	}
	return schedules, nil
}

func (r *ScheduleRepository) Delete(ctx context.Context, organizationID string, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM scheduled_report WHERE organization_id = $1 AND id = $2`,
		organizationID, id)
	if err != nil {
		return errors.NewDatabaseError("failed to delete schedule").WithCause(err)
	}
	if tag.RowsAffected() == 0 {
		return errors.NewNotFoundError("schedule")
	}
	return nil
}

func (r *ScheduleRepository) ClaimDue(ctx context.Context, now time.Time, nextRun func(*report.Schedule) time.Time) ([]*report.Schedule, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, errors.NewDatabaseError("failed to begin claim transaction").WithCause(err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx,
		`SELECT `+scheduleColumns+` FROM scheduled_report
		 WHERE enabled AND next_run <= $1
		 ORDER BY next_run
		 FOR UPDATE SKIP LOCKED`, now.UTC())
	if err != nil {
		return nil, errors.NewDatabaseError("failed to select due schedules").WithCause(err)
	}

	var due []*report.Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			rows.Close()
			return nil, errors.NewDatabaseError("failed to scan due schedule").WithCause(err)
		}
		due = append(due, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, errors.NewDatabaseError("due schedule iteration failed").WithCause(err)
	}

	for _, s := range due {
		next := nextRun(s).UTC()
		last := now.UTC()
		if _, err := tx.Exec(ctx,
			`UPDATE scheduled_report SET next_run = $2, last_run = $3, updated_at = $3
			 WHERE id = $1`, s.ID, next, last); err != nil {
			return nil, errors.NewDatabaseError("failed to advance schedule").WithCause(err)
		}
		s.NextRun = next
		s.LastRun = &last
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.NewDatabaseError("failed to commit claim transaction").WithCause(err)
	}
	return due, nil
}

func scanSchedule(row rowScanner) (*report.Schedule, error) {
	var (
		s              report.Schedule
		reportType     string
		frequency      string
		deliveriesJSON []byte
	)
	err := row.Scan(
		&s.ID, &s.OrganizationID, &s.Name, &reportType, &frequency,
		&s.DayOfWeek, &s.DayOfMonth, &s.HourOfDay, &s.MinuteOfHour,
		&s.Timezone, &s.Format, &deliveriesJSON, &s.Enabled,
		&s.NextRun, &s.LastRun, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.ReportType = report.ReportType(reportType)
	s.Frequency = report.Frequency(frequency)
	s.NextRun = s.NextRun.UTC()
	if len(deliveriesJSON) > 0 {
		if err := json.Unmarshal(deliveriesJSON, &s.Deliveries); err != nil {
			return nil, err
		}
	}
	return &s, nil
}

// ExecutionRepository is the PostgreSQL report.ExecutionRepository.
type ExecutionRepository struct {
	db *pgxpool.Pool
}

// NewExecutionRepository builds the repository over a connection pool.
func NewExecutionRepository(db *pgxpool.Pool) *ExecutionRepository {
	return &ExecutionRepository{db: db}
}

func (r *ExecutionRepository) Record(ctx context.Context, e *report.Execution) error {
	deliveriesJSON, err := json.Marshal(e.Deliveries)
	if err != nil {
		return errors.NewInternalError("failed to marshal delivery results").WithCause(err)
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO report_execution (
			id, schedule_id, started_at, finished_at, status, error,
			deliveries, report_bytes
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.ScheduleID, e.StartedAt.UTC(), e.FinishedAt.UTC(),
		string(e.Status), nullable(e.Error), deliveriesJSON, e.ReportBytes,
	)
	if err != nil {
		return errors.NewDatabaseError("failed to record execution").WithCause(err)
	}
	return nil
}

func (r *ExecutionRepository) ListBySchedule(ctx context.Context, scheduleID uuid.UUID, limit int) ([]*report.Execution, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(ctx, `
		SELECT id, schedule_id, started_at, finished_at, status, error,
		       deliveries, report_bytes
		FROM report_execution WHERE schedule_id = $1
		ORDER BY started_at DESC LIMIT $2`, scheduleID, limit)
	if err != nil {
		return nil, errors.NewDatabaseError("failed to list executions").WithCause(err)
	}
	defer rows.Close()
	return collectExecutions(rows)
}

func (r *ExecutionRepository) ListFailedSince(ctx context.Context, cutoff time.Time) ([]*report.Execution, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, schedule_id, started_at, finished_at, status, error,
		       deliveries, report_bytes
		FROM report_execution
		WHERE status IN ('failed', 'partial') AND started_at >= $1
		ORDER BY started_at`, cutoff.UTC())
	if err != nil {
		return nil, errors.NewDatabaseError("failed to list failed executions").WithCause(err)
	}
	defer rows.Close()
	return collectExecutions(rows)
}

func collectExecutions(rows pgx.Rows) ([]*report.Execution, error) {
	var executions []*report.Execution
	for rows.Next() {
		var (
			e              report.Execution
			status         string
			execErr        *string
			deliveriesJSON []byte
		)
		if err := rows.Scan(
			&e.ID, &e.ScheduleID, &e.StartedAt, &e.FinishedAt, &status,
			&execErr, &deliveriesJSON, &e.ReportBytes,
		); err != nil {
			return nil, errors.NewDatabaseError("failed to scan execution").WithCause(err)
		}
		e.Status = report.ExecutionStatus(status)
		if execErr != nil {
			e.Error = *execErr
		}
		if len(deliveriesJSON) > 0 {
			if err := json.Unmarshal(deliveriesJSON, &e.Deliveries); err != nil {
				return nil, errors.NewDatabaseError("failed to decode delivery results").WithCause(err)
			}
		}
		executions = append(executions, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewDatabaseError("execution iteration failed").WithCause(err)
	}
	return executions, nil
}
