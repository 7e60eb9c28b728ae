package matches

import (
	"context"
	"time"

	"github.com/bissquit/job-alerts/internal/domain"
)

// Repository defines the interface for pending match storage.
type Repository interface {
	// InsertBatch inserts matches, ignoring (owner, job) pairs that already
	// exist, and returns how many rows were written.
	InsertBatch(ctx context.Context, matches []domain.PendingMatch) (int, error)
	// ListForSubscriptions returns matches whose primary subscription is in
	// subscriptionIDs and that were created at or before createdBefore,
	// oldest first.
	ListForSubscriptions(ctx context.Context, subscriptionIDs []string, createdBefore time.Time) ([]domain.PendingMatch, error)
	// DeleteCollected removes the given rows, matched on owner, job,
	// subscription and creation time. Other rows are untouched.
	DeleteCollected(ctx context.Context, collected []domain.PendingMatch) (int64, error)
	// DeleteExpired removes matches whose expiry is not after now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
