package database

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/trailguard/trailguard/internal/domain/audit"
	"github.com/trailguard/trailguard/internal/domain/errors"
)

// DLQRepository is the PostgreSQL audit.DLQRepository. The original event and
// retry history are stored as JSONB so the dead letter table survives event
// schema evolution.
type DLQRepository struct {
	db *pgxpool.Pool
}

// NewDLQRepository builds the repository over a connection pool.
func NewDLQRepository(db *pgxpool.Pool) *DLQRepository {
	return &DLQRepository{db: db}
}

func (r *DLQRepository) Add(ctx context.Context, entry *audit.DLQEntry) error {
	var eventJSON []byte
	var err error
	if entry.OriginalEvent != nil {
		if eventJSON, err = json.Marshal(entry.OriginalEvent); err != nil {
			return errors.NewInternalError("failed to marshal dead-lettered event").WithCause(err)
		}
	}
	historyJSON, err := json.Marshal(entry.RetryHistory)
	if err != nil {
		return errors.NewInternalError("failed to marshal retry history").WithCause(err)
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO dlq_entry (
			id, original_event, failure_reason, failure_count,
			first_failure_time, last_failure_time, error_stack,
			retry_history, archived_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.ID,
		eventJSON,
		entry.FailureReason,
		entry.FailureCount,
		entry.FirstFailureTime.UTC(),
		entry.LastFailureTime.UTC(),
		nullable(entry.ErrorStack),
		historyJSON,
		entry.ArchivedAt,
	)
	if err != nil {
		return errors.NewDatabaseError("failed to add dead letter entry").WithCause(err)
	}
	return nil
}

func (r *DLQRepository) List(ctx context.Context, limit int) ([]*audit.DLQEntry, error) {
	query := `
		SELECT id, original_event, failure_reason, failure_count,
		       first_failure_time, last_failure_time, error_stack,
		       retry_history, archived_at
		FROM dlq_entry ORDER BY first_failure_time`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.NewDatabaseError("failed to list dead letter entries").WithCause(err)
	}
	defer rows.Close()

	var entries []*audit.DLQEntry
	for rows.Next() {
		var (
			entry       audit.DLQEntry
			eventJSON   []byte
			historyJSON []byte
			stack       *string
		)
		if err := rows.Scan(
			&entry.ID, &eventJSON, &entry.FailureReason, &entry.FailureCount,
			&entry.FirstFailureTime, &entry.LastFailureTime, &stack,
			&historyJSON, &entry.ArchivedAt,
		); err != nil {
			return nil, errors.NewDatabaseError("failed to scan dead letter entry").WithCause(err)
		}
		if stack != nil {
			entry.ErrorStack = *stack
		}
		if len(eventJSON) > 0 {
			if err := json.Unmarshal(eventJSON, &entry.OriginalEvent); err != nil {
				return nil, errors.NewDatabaseError("failed to decode dead-lettered event").WithCause(err)
			}
		}
		if len(historyJSON) > 0 {
			if err := json.Unmarshal(historyJSON, &entry.RetryHistory); err != nil {
				return nil, errors.NewDatabaseError("failed to decode retry history").WithCause(err)
			}
		}
		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewDatabaseError("dead letter iteration failed").WithCause(err)
	}
	return entries, nil
}

func (r *DLQRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM dlq_entry`).Scan(&n); err != nil {
		return 0, errors.NewDatabaseError("failed to count dead letter entries").WithCause(err)
	}
	return n, nil
}

func (r *DLQRepository) Archive(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE dlq_entry SET archived_at = NOW()
		WHERE archived_at IS NULL AND last_failure_time < $1`,
		olderThan.UTC())
	if err != nil {
		return 0, errors.NewDatabaseError("failed to archive dead letter entries").WithCause(err)
	}
	return tag.RowsAffected(), nil
}

func (r *DLQRepository) Delete(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM dlq_entry WHERE last_failure_time < $1`, olderThan.UTC())
	if err != nil {
		return 0, errors.NewDatabaseError("failed to delete dead letter entries").WithCause(err)
	}
	return tag.RowsAffected(), nil
}

func (r *DLQRepository) Remove(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM dlq_entry WHERE id = $1`, id)
	if err != nil {
		return errors.NewDatabaseError("failed to remove dead letter entry").WithCause(err)
	}
	if tag.RowsAffected() == 0 {
		return errors.NewNotFoundError("dead letter entry")
	}
	return nil
}
