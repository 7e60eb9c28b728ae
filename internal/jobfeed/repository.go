package jobfeed

import (
	"context"
	"time"

	"github.com/bissquit/job-alerts/internal/domain"
)

// Feed is the durable, ordered job change log.
type Feed interface {
	// Check returns ErrFeedUnsupported if the change table or trigger is missing.
	Check(ctx context.Context) error
	// Subscribe opens a session that can wait for change notifications.
	Subscribe(ctx context.Context) (Session, error)
	// LoadCursor returns the position of the last processed event of
	// consumer. ok is false when the consumer has no cursor yet.
	LoadCursor(ctx context.Context, consumer string) (pos Position, ok bool, err error)
	SaveCursor(ctx context.Context, consumer string, pos Position) error
	// Head returns a position after every event of a finished transaction.
	Head(ctx context.Context) (Position, error)
	LatestEventID(ctx context.Context) (int64, error)
	// Pending counts events after pos, including those of running
	// transactions.
	Pending(ctx context.Context, after Position) (int64, error)
	// Trim deletes events every consumer has processed and that are older
	// than before.
	Trim(ctx context.Context, before time.Time) (int64, error)
}

// Session is a listening connection to the feed.
type Session interface {
	// Fetch returns up to limit events after the given position, in position
	// order, leaving out transactions that may still be running.
	Fetch(ctx context.Context, after Position, limit int) ([]Event, error)
	// Wait blocks until a notification arrives or timeout elapses. A timeout
	// is not an error.
	Wait(ctx context.Context, timeout time.Duration) error
	// Close stops listening and releases the connection.
	Close(ctx context.Context)
}

// JobReader reads jobs from the catalog.
type JobReader interface {
	GetJob(ctx context.Context, id string) (*domain.Job, error)
	// ListPublishable returns the publishable jobs among ids, in ids order.
	ListPublishable(ctx context.Context, ids []string) ([]domain.Job, error)
}
