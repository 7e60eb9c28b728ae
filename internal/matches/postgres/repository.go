// Package postgres provides PostgreSQL implementation of the pending match repository.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/bissquit/job-alerts/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository implements matches.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// InsertBatch sends every insert in one round trip. Conflicting (owner, job)
// pairs are skipped.
func (r *Repository) InsertBatch(ctx context.Context, matches []domain.PendingMatch) (int, error) {
	if len(matches) == 0 {
		return 0, nil
	}

	query := `
		INSERT INTO pending_matches (
			owner_id, job_id, subscription_id, matched_subscription_ids, score, created_at, expires_at
		)
		VALUES ($1, $2, $3, $4::uuid[], $5, $6, $7)
		ON CONFLICT (owner_id, job_id) DO NOTHING
	`

	batch := &pgx.Batch{}
	for _, m := range matches {
		batch.Queue(query,
			m.OwnerID,
			m.JobID,
			m.SubscriptionID,
			m.MatchedSubscriptionIDs,
			m.Score,
			m.CreatedAt,
			m.ExpiresAt,
		)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	results := tx.SendBatch(ctx, batch)
	inserted := 0
	for range matches {
		tag, err := results.Exec()
		if err != nil {
			_ = results.Close()
			return 0, fmt.Errorf("insert pending match: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}
	if err := results.Close(); err != nil {
		return 0, fmt.Errorf("close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}
	return inserted, nil
}

// ListForSubscriptions returns pending matches for a digest run.
func (r *Repository) ListForSubscriptions(ctx context.Context, subscriptionIDs []string, createdBefore time.Time) ([]domain.PendingMatch, error) {
	if len(subscriptionIDs) == 0 {
		return nil, nil
	}

	query := `
		SELECT owner_id, job_id, subscription_id, matched_subscription_ids::text[], score, created_at, expires_at
		FROM pending_matches
		WHERE subscription_id = ANY($1::uuid[]) AND created_at <= $2
		ORDER BY created_at, job_id
	`
	rows, err := r.db.Query(ctx, query, subscriptionIDs, createdBefore)
	if err != nil {
		return nil, fmt.Errorf("list pending matches: %w", err)
	}
	defer rows.Close()

	var out []domain.PendingMatch
	for rows.Next() {
		var m domain.PendingMatch
		if err := rows.Scan(
			&m.OwnerID,
			&m.JobID,
			&m.SubscriptionID,
			&m.MatchedSubscriptionIDs,
			&m.Score,
			&m.CreatedAt,
			&m.ExpiresAt,
		); err != nil {
			return nil, fmt.Errorf("scan pending match: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending matches: %w", err)
	}
	return out, nil
}

// DeleteCollected removes exactly the rows a digest run listed. Rows
// inserted after the listing stay, whatever their created_at.
func (r *Repository) DeleteCollected(ctx context.Context, collected []domain.PendingMatch) (int64, error) {
	if len(collected) == 0 {
		return 0, nil
	}

	owners := make([]string, len(collected))
	jobs := make([]string, len(collected))
	subs := make([]string, len(collected))
	created := make([]time.Time, len(collected))
	for i, m := range collected {
		owners[i] = m.OwnerID
		jobs[i] = m.JobID
		subs[i] = m.SubscriptionID
		created[i] = m.CreatedAt
	}

	tag, err := r.db.Exec(ctx, `
		DELETE FROM pending_matches p
		USING unnest($1::text[], $2::uuid[], $3::uuid[], $4::timestamptz[])
			AS c(owner_id, job_id, subscription_id, created_at)
		WHERE p.owner_id = c.owner_id
		  AND p.job_id = c.job_id
		  AND p.subscription_id = c.subscription_id
		  AND p.created_at = c.created_at
	`, owners, jobs, subs, created)
	if err != nil {
		return 0, fmt.Errorf("delete pending matches: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteExpired removes matches past their expiry.
func (r *Repository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM pending_matches WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired pending matches: %w", err)
	}
	return tag.RowsAffected(), nil
}
