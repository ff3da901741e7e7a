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

	"github.com/trailguard/trailguard/internal/domain/audit"
	"github.com/trailguard/trailguard/internal/domain/errors"
)

// AuditRepository is the PostgreSQL audit.EventRepository. The audit_log
// table is append-mostly: the only permitted updates are archival flags and
// the pseudonymization rewrite.
type AuditRepository struct {
	db *pgxpool.Pool
}

// NewAuditRepository builds the repository over a connection pool.
func NewAuditRepository(db *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{db: db}
}

const auditColumns = `
	id, ts, action, status, principal_id, organization_id,
	target_resource_type, target_resource_id, data_classification,
	outcome_description, session_context, details, correlation_id,
	retention_policy, hash, hash_algorithm, signature, signature_algorithm,
	archived_at`

func (r *AuditRepository) Store(ctx context.Context, event *audit.Event) error {
	if err := event.Validate(); err != nil {
		return err
	}

	sessionJSON, err := json.Marshal(event.SessionContext)
	if err != nil {
		return errors.NewInternalError("failed to marshal session context").WithCause(err)
	}
	var detailsJSON []byte
	if event.Details != nil {
		if detailsJSON, err = json.Marshal(event.Details); err != nil {
			return errors.NewInternalError("failed to marshal details").WithCause(err)
		}
	}

	query := `
		INSERT INTO audit_log (` + auditColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
		        $14, $15, $16, $17, $18, $19)
		ON CONFLICT (id) DO NOTHING`

	_, err = r.db.Exec(ctx, query,
		event.ID,
		event.Timestamp.UTC(),
		event.Action,
		string(event.Status),
		event.PrincipalID,
		event.OrganizationID,
		event.TargetResourceType,
		event.TargetResourceID,
		string(event.DataClassification),
		event.OutcomeDescription,
		sessionJSON,
		detailsJSON,
		nullable(event.CorrelationID),
		event.RetentionPolicy,
		event.Hash,
		event.HashAlgorithm,
		nullable(event.Signature),
		nullable(event.SignatureAlgorithm),
		event.ArchivedAt,
	)
	if err != nil {
		return errors.NewDatabaseError("failed to store audit event").WithCause(err)
	}
	return nil
}

func (r *AuditRepository) GetByID(ctx context.Context, id uuid.UUID) (*audit.Event, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+auditColumns+` FROM audit_log WHERE id = $1`, id)
	event, err := scanEvent(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errors.NewNotFoundError("audit event")
		}
		return nil, errors.NewDatabaseError("failed to load audit event").WithCause(err)
	}
	return event, nil
}

func (r *AuditRepository) Query(ctx context.Context, filter audit.EventFilter, page audit.PageRequest) (*audit.Page, error) {
	if err := page.Validate(); err != nil {
		return nil, err
	}
	page = page.Normalize()

	where, args := buildEventFilter(filter)

	var total int64
	countQuery := `SELECT COUNT(*) FROM audit_log` + where
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, errors.NewDatabaseError("failed to count audit events").WithCause(err)
	}

	// Stable (sort, id) ordering keeps pagination deterministic for
	// identical timestamps.
	sortCol := "ts"
	if page.SortBy == audit.SortByStatus {
		sortCol = "status"
	}
	dir := "DESC"
	if page.SortOrder == audit.SortAsc {
		dir = "ASC"
	}
	query := fmt.Sprintf(
		`SELECT %s FROM audit_log%s ORDER BY %s %s, id %s LIMIT $%d OFFSET $%d`,
		auditColumns, where, sortCol, dir, dir, len(args)+1, len(args)+2)
	args = append(args, page.Limit, page.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.NewDatabaseError("failed to query audit events").WithCause(err)
	}
	defer rows.Close()

	events := make([]*audit.Event, 0, page.Limit)
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, errors.NewDatabaseError("failed to scan audit event").WithCause(err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewDatabaseError("audit query iteration failed").WithCause(err)
	}
	return &audit.Page{Events: events, Total: total, Limit: page.Limit, Offset: page.Offset}, nil
}

func (r *AuditRepository) Stream(ctx context.Context, filter audit.EventFilter, fn func(*audit.Event) error) error {
	where, args := buildEventFilter(filter)
	query := `SELECT ` + auditColumns + ` FROM audit_log` + where + ` ORDER BY id`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return errors.NewDatabaseError("failed to stream audit events").WithCause(err)
	}
	defer rows.Close()

	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return errors.NewDatabaseError("failed to scan audit event").WithCause(err)
		}
		if err := fn(event); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return errors.NewDatabaseError("audit stream iteration failed").WithCause(err)
	}
	return nil
}

func (r *AuditRepository) CountByPrincipal(ctx context.Context, organizationID, principalID string) (int64, error) {
	var n int64
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM audit_log WHERE organization_id = $1 AND principal_id = $2`,
		organizationID, principalID).Scan(&n)
	if err != nil {
		return 0, errors.NewDatabaseError("failed to count principal events").WithCause(err)
	}
	return n, nil
}

func (r *AuditRepository) UpdatePseudonymized(ctx context.Context, organizationID, principalID, pseudonymID string, actions []string) (int64, error) {
	// The session network fields are scrubbed together with the principal;
	// everything hash-covered besides principalId stays untouched.
	query := `
		UPDATE audit_log
		SET principal_id = $3,
		    session_context = session_context - 'ipAddress' - 'userAgent'
		WHERE organization_id = $1 AND principal_id = $2`
	args := []interface{}{organizationID, principalID, pseudonymID}
	if len(actions) > 0 {
		query += ` AND action = ANY($4)`
		args = append(args, actions)
	}

	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return 0, errors.NewDatabaseError("failed to pseudonymize events").WithCause(err)
	}
	return tag.RowsAffected(), nil
}

func (r *AuditRepository) DeleteByPrincipal(ctx context.Context, organizationID, principalID string, keepActions []string) (int64, error) {
	query := `DELETE FROM audit_log WHERE organization_id = $1 AND principal_id = $2`
	args := []interface{}{organizationID, principalID}
	if len(keepActions) > 0 {
		query += ` AND NOT (action = ANY($3))`
		args = append(args, keepActions)
	}

	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return 0, errors.NewDatabaseError("failed to delete principal events").WithCause(err)
	}
	return tag.RowsAffected(), nil
}

func (r *AuditRepository) ArchiveOlderThan(ctx context.Context, cls audit.DataClassification, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE audit_log SET archived_at = NOW()
		WHERE data_classification = $1 AND archived_at IS NULL AND ts <= $2`,
		string(cls), cutoff.UTC())
	if err != nil {
		return 0, errors.NewDatabaseError("failed to archive events").WithCause(err)
	}
	return tag.RowsAffected(), nil
}

func (r *AuditRepository) DeleteArchivedOlderThan(ctx context.Context, cls audit.DataClassification, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM audit_log
		WHERE data_classification = $1 AND archived_at IS NOT NULL AND ts <= $2`,
		string(cls), cutoff.UTC())
	if err != nil {
		return 0, errors.NewDatabaseError("failed to delete archived events").WithCause(err)
	}
	return tag.RowsAffected(), nil
}

// buildEventFilter renders the WHERE clause for an EventFilter.
func buildEventFilter(f audit.EventFilter) (string, []interface{}) {
	var conds []string
	var args []interface{}

	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if !f.From.IsZero() {
		add("ts >= $%d", f.From.UTC())
	}
	if !f.To.IsZero() {
		add("ts <= $%d", f.To.UTC())
	}
	if len(f.PrincipalIDs) > 0 {
		add("principal_id = ANY($%d)", f.PrincipalIDs)
	}
	if len(f.OrganizationIDs) > 0 {
		add("organization_id = ANY($%d)", f.OrganizationIDs)
	}
	if len(f.Actions) > 0 {
		add("action = ANY($%d)", f.Actions)
	}
	if len(f.DataClassifications) > 0 {
		vals := make([]string, len(f.DataClassifications))
		for i, c := range f.DataClassifications {
			vals[i] = string(c)
		}
		add("data_classification = ANY($%d)", vals)
	}
	if len(f.Statuses) > 0 {
		vals := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			vals[i] = string(s)
		}
		add("status = ANY($%d)", vals)
	}
	if len(f.ResourceTypes) > 0 {
		add("target_resource_type = ANY($%d)", f.ResourceTypes)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row rowScanner) (*audit.Event, error) {
	var (
		event        audit.Event
		status       string
		cls          string
		sessionJSON  []byte
		detailsJSON  []byte
		correlation  *string
		signature    *string
		signatureAlg *string
	)
	err := row.Scan(
		&event.ID,
		&event.Timestamp,
		&event.Action,
		&status,
		&event.PrincipalID,
		&event.OrganizationID,
		&event.TargetResourceType,
		&event.TargetResourceID,
		&cls,
		&event.OutcomeDescription,
		&sessionJSON,
		&detailsJSON,
		&correlation,
		&event.RetentionPolicy,
		&event.Hash,
		&event.HashAlgorithm,
		&signature,
		&signatureAlg,
		&event.ArchivedAt,
	)
	if err != nil {
		return nil, err
	}

	event.Status = audit.Status(status)
	event.DataClassification = audit.DataClassification(cls)
	event.Timestamp = event.Timestamp.UTC()
	if correlation != nil {
		event.CorrelationID = *correlation
	}
	if signature != nil {
		event.Signature = *signature
	}
	if signatureAlg != nil {
		event.SignatureAlgorithm = *signatureAlg
	}
	if len(sessionJSON) > 0 {
		if err := json.Unmarshal(sessionJSON, &event.SessionContext); err != nil {
			return nil, err
		}
	}
	if len(detailsJSON) > 0 {
		if err := json.Unmarshal(detailsJSON, &event.Details); err != nil {
			return nil, err
		}
	}
	return &event, nil
}

// nullable maps empty strings to SQL NULL.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
