package matches

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Purger deletes pending matches that outlived their TTL without being
// picked up by a digest.
type Purger struct {
	repo Repository
	now  func() time.Time
}

// NewPurger creates a new purger.
func NewPurger(repo Repository) *Purger {
	return &Purger{repo: repo, now: time.Now}
}

// Purge removes expired matches and returns how many were deleted.
func (p *Purger) Purge(ctx context.Context) (int64, error) {
	n, err := p.repo.DeleteExpired(ctx, p.now())
	if err != nil {
		return 0, fmt.Errorf("delete expired pending matches: %w", err)
	}
	expiredPurged.Add(float64(n))
	if n > 0 {
		slog.Info("expired pending matches purged", "count", n)
	}
	return n, nil
}
