// Package postgres provides PostgreSQL implementation of the subscriptions repository.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bissquit/job-alerts/internal/domain"
	"github.com/bissquit/job-alerts/internal/subscriptions"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const selectColumns = `
	id, owner_id, keyword,
	province, district, category, employment_type, work_mode, experience_level, salary_bucket,
	frequency, delivery_method, active, last_notified_at, created_at, updated_at`

// Repository implements subscriptions.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Create inserts a subscription, enforcing the active limit under a
// transaction-scoped advisory lock keyed by owner.
func (r *Repository) Create(ctx context.Context, sub *domain.Subscription, maxActive int) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer rollback(ctx, tx)

	if sub.Active {
		if err := checkActiveLimit(ctx, tx, sub.OwnerID, "", maxActive); err != nil {
			return err
		}
	}

	query := `
		INSERT INTO job_alert_subscriptions (
			owner_id, keyword,
			province, district, category, employment_type, work_mode, experience_level, salary_bucket,
			frequency, delivery_method, active
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at, updated_at
	`
	err = tx.QueryRow(ctx, query,
		sub.OwnerID,
		sub.Keyword,
		sub.Criteria.Province.String(),
		sub.Criteria.District.String(),
		sub.Criteria.Category.String(),
		sub.Criteria.EmploymentType.String(),
		sub.Criteria.WorkMode.String(),
		sub.Criteria.ExperienceLevel.String(),
		string(sub.Criteria.SalaryBucket),
		string(sub.Frequency),
		string(sub.DeliveryMethod),
		sub.Active,
	).Scan(&sub.ID, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert subscription: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Update merges apply into the stored row while holding the owner lock and
// the row lock, so concurrent updates of one subscription serialize.
func (r *Repository) Update(
	ctx context.Context,
	id string,
	maxActive int,
	apply func(*domain.Subscription) error,
) (*domain.Subscription, *domain.Subscription, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer rollback(ctx, tx)

	var ownerID string
	err = tx.QueryRow(ctx, `SELECT owner_id FROM job_alert_subscriptions WHERE id = $1`, id).Scan(&ownerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, subscriptions.ErrSubscriptionNotFound
		}
		return nil, nil, fmt.Errorf("get subscription owner: %w", err)
	}

	// Lock ordering matches Create: owner lock first, then the row.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, ownerID); err != nil {
		return nil, nil, fmt.Errorf("lock owner: %w", err)
	}

	previous, err := scanSubscription(tx.QueryRow(ctx,
		`SELECT `+selectColumns+` FROM job_alert_subscriptions WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, subscriptions.ErrSubscriptionNotFound
		}
		return nil, nil, fmt.Errorf("get subscription for update: %w", err)
	}

	sub := *previous
	if err := apply(&sub); err != nil {
		return nil, nil, err
	}

	if sub.Active && !previous.Active {
		if err := countActive(ctx, tx, previous.OwnerID, previous.ID, maxActive); err != nil {
			return nil, nil, err
		}
	}

	query := `
		UPDATE job_alert_subscriptions
		SET keyword = $2,
			province = $3, district = $4, category = $5,
			employment_type = $6, work_mode = $7, experience_level = $8, salary_bucket = $9,
			frequency = $10, delivery_method = $11, active = $12,
			updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`
	err = tx.QueryRow(ctx, query,
		previous.ID,
		sub.Keyword,
		sub.Criteria.Province.String(),
		sub.Criteria.District.String(),
		sub.Criteria.Category.String(),
		sub.Criteria.EmploymentType.String(),
		sub.Criteria.WorkMode.String(),
		sub.Criteria.ExperienceLevel.String(),
		string(sub.Criteria.SalaryBucket),
		string(sub.Frequency),
		string(sub.DeliveryMethod),
		sub.Active,
	).Scan(&sub.UpdatedAt)
	if err != nil {
		return nil, nil, fmt.Errorf("update subscription: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("commit transaction: %w", err)
	}
	sub.ID, sub.OwnerID = previous.ID, previous.OwnerID
	return previous, &sub, nil
}

// Delete removes a subscription. Pending matches cascade.
func (r *Repository) Delete(ctx context.Context, id string) (*domain.Subscription, error) {
	sub, err := scanSubscription(r.db.QueryRow(ctx,
		`DELETE FROM job_alert_subscriptions WHERE id = $1 RETURNING `+selectColumns, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, subscriptions.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("delete subscription: %w", err)
	}
	return sub, nil
}

// GetByID retrieves a subscription by its ID.
func (r *Repository) GetByID(ctx context.Context, id string) (*domain.Subscription, error) {
	sub, err := scanSubscription(r.db.QueryRow(ctx,
		`SELECT `+selectColumns+` FROM job_alert_subscriptions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, subscriptions.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("get subscription by id: %w", err)
	}
	return sub, nil
}

// ListByOwner retrieves all subscriptions of an owner, oldest first.
func (r *Repository) ListByOwner(ctx context.Context, ownerID string) ([]domain.Subscription, error) {
	return r.list(ctx, "list subscriptions by owner",
		`SELECT `+selectColumns+` FROM job_alert_subscriptions
		WHERE owner_id = $1
		ORDER BY created_at, id`, ownerID)
}

// ListActiveByOwners retrieves the active subscriptions of the given owners.
func (r *Repository) ListActiveByOwners(ctx context.Context, ownerIDs []string) ([]domain.Subscription, error) {
	if len(ownerIDs) == 0 {
		return nil, nil
	}
	return r.list(ctx, "list active subscriptions by owners",
		`SELECT `+selectColumns+` FROM job_alert_subscriptions
		WHERE owner_id = ANY($1) AND active
		ORDER BY owner_id, created_at, id`, ownerIDs)
}

// ListActiveByFrequency retrieves all active subscriptions with a digest frequency.
func (r *Repository) ListActiveByFrequency(ctx context.Context, freq domain.Frequency) ([]domain.Subscription, error) {
	return r.list(ctx, "list active subscriptions by frequency",
		`SELECT `+selectColumns+` FROM job_alert_subscriptions
		WHERE frequency = $1 AND active
		ORDER BY owner_id, created_at, id`, string(freq))
}

// HasOtherActiveWithKeyword reports whether another active subscription of
// owner uses keyword.
func (r *Repository) HasOtherActiveWithKeyword(ctx context.Context, ownerID, keyword, excludeID string) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM job_alert_subscriptions
			WHERE owner_id = $1 AND keyword = $2 AND active AND id::text <> $3
		)
	`
	var exists bool
	if err := r.db.QueryRow(ctx, query, ownerID, keyword, excludeID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check keyword usage: %w", err)
	}
	return exists, nil
}

// StreamActiveKeywords calls fn for every distinct active (keyword, owner) pair.
func (r *Repository) StreamActiveKeywords(ctx context.Context, fn func(keyword, ownerID string) error) error {
	rows, err := r.db.Query(ctx, `
		SELECT DISTINCT keyword, owner_id
		FROM job_alert_subscriptions
		WHERE active
	`)
	if err != nil {
		return fmt.Errorf("query active keywords: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var keyword, ownerID string
		if err := rows.Scan(&keyword, &ownerID); err != nil {
			return fmt.Errorf("scan active keyword: %w", err)
		}
		if err := fn(keyword, ownerID); err != nil {
			return err
		}
	}
	return rows.Err()
}

// MarkNotified sets last_notified_at for the given subscriptions.
func (r *Repository) MarkNotified(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.Exec(ctx,
		`UPDATE job_alert_subscriptions SET last_notified_at = $2 WHERE id = ANY($1::uuid[])`,
		ids, at)
	if err != nil {
		return fmt.Errorf("mark subscriptions notified: %w", err)
	}
	return nil
}

func (r *Repository) list(ctx context.Context, op, query string, args ...any) ([]domain.Subscription, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var subs []domain.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		subs = append(subs, *sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: iterate: %w", op, err)
	}
	return subs, nil
}

func checkActiveLimit(ctx context.Context, tx pgx.Tx, ownerID, excludeID string, maxActive int) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, ownerID); err != nil {
		return fmt.Errorf("lock owner: %w", err)
	}
	return countActive(ctx, tx, ownerID, excludeID, maxActive)
}

func countActive(ctx context.Context, tx pgx.Tx, ownerID, excludeID string, maxActive int) error {
	var count int
	err := tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM job_alert_subscriptions
		WHERE owner_id = $1 AND active AND id::text <> $2
	`, ownerID, excludeID).Scan(&count)
	if err != nil {
		return fmt.Errorf("count active subscriptions: %w", err)
	}
	if count >= maxActive {
		return subscriptions.ErrActiveLimitExceeded
	}
	return nil
}

func scanSubscription(row pgx.Row) (*domain.Subscription, error) {
	var (
		sub                                                                     domain.Subscription
		province, district, category, employmentType, workMode, experience, sal string
		frequency, delivery                                                     string
	)
	err := row.Scan(
		&sub.ID,
		&sub.OwnerID,
		&sub.Keyword,
		&province,
		&district,
		&category,
		&employmentType,
		&workMode,
		&experience,
		&sal,
		&frequency,
		&delivery,
		&sub.Active,
		&sub.LastNotifiedAt,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	sub.Criteria = domain.Criteria{
		Province:        domain.ParseFilter(province),
		District:        domain.ParseFilter(district),
		Category:        domain.ParseFilter(category),
		EmploymentType:  domain.ParseFilter(employmentType),
		WorkMode:        domain.ParseFilter(workMode),
		ExperienceLevel: domain.ParseFilter(experience),
		SalaryBucket:    domain.SalaryBucket(sal),
	}
	sub.Frequency = domain.Frequency(frequency)
	sub.DeliveryMethod = domain.DeliveryMethod(delivery)
	return &sub, nil
}

func rollback(ctx context.Context, tx pgx.Tx) {
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		slog.Error("failed to rollback transaction", "error", err)
	}
}
