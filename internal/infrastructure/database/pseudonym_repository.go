package database

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/trailguard/trailguard/internal/domain/errors"
	"github.com/trailguard/trailguard/internal/domain/gdpr"
)

// PseudonymRepository is the PostgreSQL gdpr.PseudonymRepository. Rows hold
// only encrypted original identifiers.
type PseudonymRepository struct {
	db *pgxpool.Pool
}

// NewPseudonymRepository builds the repository over a connection pool.
func NewPseudonymRepository(db *pgxpool.Pool) *PseudonymRepository {
	return &PseudonymRepository{db: db}
}

func (r *PseudonymRepository) Save(ctx context.Context, m *gdpr.PseudonymMapping) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO pseudonym_mapping (
			pseudonym_id, organization_id, encrypted_original, strategy, created_at
		) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (organization_id, pseudonym_id) DO UPDATE SET
			encrypted_original = EXCLUDED.encrypted_original,
			strategy = EXCLUDED.strategy`,
		m.PseudonymID,
		m.OrganizationID,
		m.EncryptedOriginal,
		string(m.Strategy),
		m.CreatedAt.UTC(),
	)
	if err != nil {
		return errors.NewDatabaseError("failed to save pseudonym mapping").WithCause(err)
	}
	return nil
}

func (r *PseudonymRepository) GetByPseudonym(ctx context.Context, organizationID, pseudonymID string) (*gdpr.PseudonymMapping, error) {
	var m gdpr.PseudonymMapping
	var strategy string
	err := r.db.QueryRow(ctx, `
		SELECT pseudonym_id, organization_id, encrypted_original, strategy, created_at
		FROM pseudonym_mapping
		WHERE organization_id = $1 AND pseudonym_id = $2`,
		organizationID, pseudonymID,
	).Scan(&m.PseudonymID, &m.OrganizationID, &m.EncryptedOriginal, &strategy, &m.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errors.NewNotFoundError("pseudonym mapping")
		}
		return nil, errors.NewDatabaseError("failed to load pseudonym mapping").WithCause(err)
	}
	m.Strategy = gdpr.Strategy(strategy)
	return &m, nil
}

func (r *PseudonymRepository) DeleteByPseudonym(ctx context.Context, organizationID, pseudonymID string) error {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM pseudonym_mapping
		WHERE organization_id = $1 AND pseudonym_id = $2`,
		organizationID, pseudonymID)
	if err != nil {
		return errors.NewDatabaseError("failed to delete pseudonym mapping").WithCause(err)
	}
	if tag.RowsAffected() == 0 {
		return errors.NewNotFoundError("pseudonym mapping")
	}
	return nil
}
