package database

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/trailguard/trailguard/internal/domain/alert"
	"github.com/trailguard/trailguard/internal/domain/errors"
)

// AlertRepository is the PostgreSQL alert.Repository. Every read is
// tenant-scoped on organization_id.
type AlertRepository struct {
	db *pgxpool.Pool
}

// NewAlertRepository builds the repository over a connection pool.
func NewAlertRepository(db *pgxpool.Pool) *AlertRepository {
	return &AlertRepository{db: db}
}

const alertColumns = `
	id, organization_id, severity, alert_type, status, title, description,
	source, correlation_id, metadata, created_at, updated_at,
	acknowledged_at, acknowledged_by, resolved_at, resolved_by,
	resolution_notes, tags`

func (r *AlertRepository) Insert(ctx context.Context, a *alert.Alert) error {
	metadataJSON, err := json.Marshal(a.Metadata)
	if err != nil {
		return errors.NewInternalError("failed to marshal alert metadata").WithCause(err)
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO alerts (`+alertColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
		        $13, $14, $15, $16, $17, $18)`,
		a.ID,
		a.OrganizationID,
		string(a.Severity),
		string(a.Type),
		string(a.Status),
		a.Title,
		a.Description,
		a.Source,
		nullable(a.CorrelationID),
		metadataJSON,
		a.CreatedAt.UTC(),
		a.UpdatedAt.UTC(),
		a.AcknowledgedAt,
		nullable(a.AcknowledgedBy),
		a.ResolvedAt,
		nullable(a.ResolvedBy),
		nullable(a.ResolutionNotes),
		a.Tags,
	)
	if err != nil {
		return errors.NewDatabaseError("failed to insert alert").WithCause(err)
	}
	return nil
}

func (r *AlertRepository) Update(ctx context.Context, a *alert.Alert) error {
	metadataJSON, err := json.Marshal(a.Metadata)
	if err != nil {
		return errors.NewInternalError("failed to marshal alert metadata").WithCause(err)
	}

	tag, err := r.db.Exec(ctx, `
		UPDATE alerts SET
			status = $3, metadata = $4, updated_at = $5,
			acknowledged_at = $6, acknowledged_by = $7,
			resolved_at = $8, resolved_by = $9, resolution_notes = $10,
			tags = $11
		WHERE organization_id = $1 AND id = $2`,
		a.OrganizationID,
		a.ID,
		string(a.Status),
		metadataJSON,
		a.UpdatedAt.UTC(),
		a.AcknowledgedAt,
		nullable(a.AcknowledgedBy),
		a.ResolvedAt,
		nullable(a.ResolvedBy),
		nullable(a.ResolutionNotes),
		a.Tags,
	)
	if err != nil {
		return errors.NewDatabaseError("failed to update alert").WithCause(err)
	}
	if tag.RowsAffected() == 0 {
		return errors.NewNotFoundError("alert")
	}
	return nil
}

func (r *AlertRepository) GetByID(ctx context.Context, organizationID string, id uuid.UUID) (*alert.Alert, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+alertColumns+` FROM alerts WHERE organization_id = $1 AND id = $2`,
		organizationID, id)
	a, err := scanAlert(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errors.NewNotFoundError("alert")
		}
		return nil, errors.NewDatabaseError("failed to load alert").WithCause(err)
	}
	return a, nil
}

func (r *AlertRepository) List(ctx context.Context, f alert.Filter) ([]*alert.Alert, int64, error) {
	conds := []string{"organization_id = $1"}
	args := []interface{}{f.OrganizationID}

	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if len(f.Statuses) > 0 {
		vals := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			vals[i] = string(s)
		}
		add("status = ANY($%d)", vals)
	}
	if len(f.Severities) > 0 {
		vals := make([]string, len(f.Severities))
		for i, s := range f.Severities {
			vals[i] = string(s)
		}
		add("severity = ANY($%d)", vals)
	}
	if len(f.Types) > 0 {
		vals := make([]string, len(f.Types))
		for i, tp := range f.Types {
			vals[i] = string(tp)
		}
		add("alert_type = ANY($%d)", vals)
	}
	if len(f.Sources) > 0 {
		add("source = ANY($%d)", f.Sources)
	}
	if !f.From.IsZero() {
		add("created_at >= $%d", f.From.UTC())
	}
	if !f.To.IsZero() {
		add("created_at <= $%d", f.To.UTC())
	}
	where := " WHERE " + strings.Join(conds, " AND ")

	var total int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM alerts`+where, args...).Scan(&total); err != nil {
		return nil, 0, errors.NewDatabaseError("failed to count alerts").WithCause(err)
	}

	sortCol := "created_at"
	switch f.SortBy {
	case "updatedAt":
		sortCol = "updated_at"
	case "severity":
		// CRITICAL first under the default descending-importance order.
		sortCol = `CASE severity
			WHEN 'CRITICAL' THEN 0 WHEN 'HIGH' THEN 1 WHEN 'MEDIUM' THEN 2
			WHEN 'LOW' THEN 3 ELSE 4 END`
	}
	dir := "DESC"
	if f.SortOrder == "asc" {
		dir = "ASC"
	}
	if f.SortBy == "severity" {
		// Severity rank ascends from CRITICAL, so flip the direction.
		if dir == "DESC" {
			dir = "ASC"
		} else {
			dir = "DESC"
		}
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(
		`SELECT %s FROM alerts%s ORDER BY %s %s, id LIMIT $%d OFFSET $%d`,
		alertColumns, where, sortCol, dir, len(args)+1, len(args)+2)
	args = append(args, limit, f.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, errors.NewDatabaseError("failed to list alerts").WithCause(err)
	}
	defer rows.Close()

	var alerts []*alert.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, 0, errors.NewDatabaseError("failed to scan alert").WithCause(err)
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.NewDatabaseError("alert list iteration failed").WithCause(err)
	}
	return alerts, total, nil
}

// CountActive counts non-terminal alerts across all tenants; the health
// checker is the only cross-tenant reader.
func (r *AlertRepository) CountActive(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM alerts WHERE status IN ('active', 'acknowledged')`).Scan(&count)
	if err != nil {
		return 0, errors.NewDatabaseError("failed to count active alerts").WithCause(err)
	}
	return count, nil
}

// Organizations lists every tenant holding at least one alert; the retention
// sweeper uses it to walk tenants for cleanup.
func (r *AlertRepository) Organizations(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT DISTINCT organization_id FROM alerts`)
	if err != nil {
		return nil, errors.NewDatabaseError("failed to list alert tenants").WithCause(err)
	}
	defer rows.Close()

	var orgs []string
	for rows.Next() {
		var org string
		if err := rows.Scan(&org); err != nil {
			return nil, errors.NewDatabaseError("failed to scan alert tenant").WithCause(err)
		}
		orgs = append(orgs, org)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewDatabaseError("alert tenant iteration failed").WithCause(err)
	}
	return orgs, nil
}

func (r *AlertRepository) Statistics(ctx context.Context, organizationID string) (*alert.Statistics, error) {
	stats := &alert.Statistics{
		OrganizationID: organizationID,
		ByStatus:       map[string]int64{},
		BySeverity:     map[string]int64{},
		ByType:         map[string]int64{},
		BySource:       map[string]int64{},
	}

	rows, err := r.db.Query(ctx, `
		SELECT status, severity, alert_type, source, COUNT(*)
		FROM alerts WHERE organization_id = $1
		GROUP BY status, severity, alert_type, source`, organizationID)
	if err != nil {
		return nil, errors.NewDatabaseError("failed to aggregate alerts").WithCause(err)
	}
	defer rows.Close()

	for rows.Next() {
		var status, severity, alertType, source string
		var count int64
		if err := rows.Scan(&status, &severity, &alertType, &source, &count); err != nil {
			return nil, errors.NewDatabaseError("failed to scan alert aggregate").WithCause(err)
		}
		stats.Total += count
		stats.ByStatus[status] += count
		stats.BySeverity[severity] += count
		stats.ByType[alertType] += count
		stats.BySource[source] += count
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewDatabaseError("alert aggregate iteration failed").WithCause(err)
	}

	trendRows, err := r.db.Query(ctx, `
		SELECT TO_CHAR(created_at AT TIME ZONE 'UTC', 'YYYY-MM-DD') AS day, COUNT(*)
		FROM alerts
		WHERE organization_id = $1 AND created_at >= NOW() - INTERVAL '30 days'
		GROUP BY day ORDER BY day`, organizationID)
	if err != nil {
		return nil, errors.NewDatabaseError("failed to load alert trend").WithCause(err)
	}
	defer trendRows.Close()

	for trendRows.Next() {
		var p alert.TrendPoint
		if err := trendRows.Scan(&p.Date, &p.Count); err != nil {
			return nil, errors.NewDatabaseError("failed to scan trend point").WithCause(err)
		}
		stats.Trend = append(stats.Trend, p)
	}
	if err := trendRows.Err(); err != nil {
		return nil, errors.NewDatabaseError("alert trend iteration failed").WithCause(err)
	}
	return stats, nil
}

func (r *AlertRepository) DeleteResolvedBefore(ctx context.Context, organizationID string, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM alerts
		WHERE organization_id = $1
		  AND status IN ('resolved', 'dismissed')
		  AND resolved_at < $2`,
		organizationID, cutoff.UTC())
	if err != nil {
		return 0, errors.NewDatabaseError("failed to delete resolved alerts").WithCause(err)
	}
	return tag.RowsAffected(), nil
}

func scanAlert(row rowScanner) (*alert.Alert, error) {
	var (
		a            alert.Alert
		severity     string
		alertType    string
		status       string
		correlation  *string
		metadataJSON []byte
		ackBy        *string
		resolvedBy   *string
		notes        *string
	)
	err := row.Scan(
		&a.ID,
		&a.OrganizationID,
		&severity,
		&alertType,
		&status,
		&a.Title,
		&a.Description,
		&a.Source,
		&correlation,
		&metadataJSON,
		&a.CreatedAt,
		&a.UpdatedAt,
		&a.AcknowledgedAt,
		&ackBy,
		&a.ResolvedAt,
		&resolvedBy,
		&notes,
		&a.Tags,
	)
	if err != nil {
		return nil, err
	}

	a.Severity = alert.Severity(severity)
	a.Type = alert.Type(alertType)
	a.Status = alert.LifecycleStatus(status)
	if correlation != nil {
		a.CorrelationID = *correlation
	}
	if ackBy != nil {
		a.AcknowledgedBy = *ackBy
	}
	if resolvedBy != nil {
		a.ResolvedBy = *resolvedBy
	}
	if notes != nil {
		a.ResolutionNotes = *notes
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &a.Metadata); err != nil {
			return nil, err
		}
	}
	return &a, nil
}
