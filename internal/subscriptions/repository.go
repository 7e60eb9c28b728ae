package subscriptions

import (
	"context"
	"time"

	"github.com/bissquit/job-alerts/internal/domain"
)

// Repository defines the interface for subscription data operations.
type Repository interface {
	// Create inserts sub. When sub is active the owner's active count is
	// checked against maxActive under a per-owner lock; exceeding it returns
	// ErrActiveLimitExceeded.
	Create(ctx context.Context, sub *domain.Subscription, maxActive int) error
	// Update loads subscription id under a row lock, lets apply modify a
	// copy and stores the result. It returns the row before and after the
	// update. An error from apply aborts the update and is returned as is.
	// Activating a subscription is subject to the same limit as Create.
	Update(ctx context.Context, id string, maxActive int, apply func(*domain.Subscription) error) (previous, updated *domain.Subscription, err error)
	// Delete removes the subscription and returns the deleted row.
	Delete(ctx context.Context, id string) (*domain.Subscription, error)

	GetByID(ctx context.Context, id string) (*domain.Subscription, error)
	ListByOwner(ctx context.Context, ownerID string) ([]domain.Subscription, error)
	ListActiveByOwners(ctx context.Context, ownerIDs []string) ([]domain.Subscription, error)
	ListActiveByFrequency(ctx context.Context, freq domain.Frequency) ([]domain.Subscription, error)

	// HasOtherActiveWithKeyword reports whether owner has an active
	// subscription with keyword other than excludeID.
	HasOtherActiveWithKeyword(ctx context.Context, ownerID, keyword, excludeID string) (bool, error)
	StreamActiveKeywords(ctx context.Context, fn func(keyword, ownerID string) error) error

	MarkNotified(ctx context.Context, ids []string, at time.Time) error
}
