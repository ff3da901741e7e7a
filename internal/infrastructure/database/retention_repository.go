package database

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/trailguard/trailguard/internal/domain/audit"
	"github.com/trailguard/trailguard/internal/domain/errors"
)

// RetentionRepository is the PostgreSQL audit.RetentionPolicyRepository.
type RetentionRepository struct {
	db *pgxpool.Pool
}

// NewRetentionRepository builds the repository over a connection pool.
func NewRetentionRepository(db *pgxpool.Pool) *RetentionRepository {
	return &RetentionRepository{db: db}
}

func (r *RetentionRepository) Upsert(ctx context.Context, policy *audit.RetentionPolicy) error {
	if err := policy.Validate(); err != nil {
		return err
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO retention_policy (
			name, data_classification, retention_days,
			archive_after_days, delete_after_days, is_active
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (name) DO UPDATE SET
			data_classification = EXCLUDED.data_classification,
			retention_days = EXCLUDED.retention_days,
			archive_after_days = EXCLUDED.archive_after_days,
			delete_after_days = EXCLUDED.delete_after_days,
			is_active = EXCLUDED.is_active`,
		policy.Name,
		string(policy.DataClassification),
		policy.RetentionDays,
		policy.ArchiveAfterDays,
		policy.DeleteAfterDays,
		policy.IsActive,
	)
	if err != nil {
		return errors.NewDatabaseError("failed to upsert retention policy").WithCause(err)
	}
	return nil
}

func (r *RetentionRepository) GetByName(ctx context.Context, name string) (*audit.RetentionPolicy, error) {
	row := r.db.QueryRow(ctx, `
		SELECT name, data_classification, retention_days,
		       archive_after_days, delete_after_days, is_active
		FROM retention_policy WHERE name = $1`, name)
	policy, err := scanPolicy(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errors.NewNotFoundError("retention policy")
		}
		return nil, errors.NewDatabaseError("failed to load retention policy").WithCause(err)
	}
	return policy, nil
}

func (r *RetentionRepository) ListActive(ctx context.Context) ([]*audit.RetentionPolicy, error) {
	rows, err := r.db.Query(ctx, `
		SELECT name, data_classification, retention_days,
		       archive_after_days, delete_after_days, is_active
		FROM retention_policy WHERE is_active ORDER BY name`)
	if err != nil {
		return nil, errors.NewDatabaseError("failed to list retention policies").WithCause(err)
	}
	defer rows.Close()

	var policies []*audit.RetentionPolicy
	for rows.Next() {
		policy, err := scanPolicy(rows)
		if err != nil {
			return nil, errors.NewDatabaseError("failed to scan retention policy").WithCause(err)
		}
		policies = append(policies, policy)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewDatabaseError("retention policy iteration failed").WithCause(err)
	}
	return policies, nil
}

func scanPolicy(row rowScanner) (*audit.RetentionPolicy, error) {
	var policy audit.RetentionPolicy
	var cls string
	if err := row.Scan(
		&policy.Name, &cls, &policy.RetentionDays,
		&policy.ArchiveAfterDays, &policy.DeleteAfterDays, &policy.IsActive,
	); err != nil {
		return nil, err
	}
	policy.DataClassification = audit.DataClassification(cls)
	return &policy, nil
}
