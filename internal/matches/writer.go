// Package matches turns publishable jobs into pending matches.
package matches

import (
	"context"
	"fmt"
	"time"

	"github.com/bissquit/job-alerts/internal/dedup"
	"github.com/bissquit/job-alerts/internal/domain"
	"github.com/bissquit/job-alerts/internal/matching"
	"github.com/bissquit/job-alerts/internal/pkg/ctxlog"
)

// DefaultTTL is how long a pending match waits for a digest.
const DefaultTTL = 7 * 24 * time.Hour

// OwnerIndex resolves keywords to owners.
type OwnerIndex interface {
	Owners(ctx context.Context, keywords []string) ([]string, error)
}

// SubscriptionSource loads candidate subscriptions.
type SubscriptionSource interface {
	ListActiveByOwners(ctx context.Context, ownerIDs []string) ([]domain.Subscription, error)
}

// Config configures the writer.
type Config struct {
	Keywords matching.KeywordConfig
	TTL      time.Duration
}

// Result summarizes one ProcessJob call.
type Result struct {
	Keywords     int
	Candidates   int
	Evaluated    int
	Deduplicated int
	Matched      int
	Inserted     int
}

// Writer matches a job against indexed subscriptions and records hits.
type Writer struct {
	index  OwnerIndex
	subs   SubscriptionSource
	dedup  dedup.Cache
	repo   Repository
	scorer *matching.Scorer
	cfg    Config
	now    func() time.Time
}

// NewWriter creates a new pending match writer.
func NewWriter(idx OwnerIndex, subs SubscriptionSource, cache dedup.Cache, repo Repository, scorer *matching.Scorer, cfg Config) *Writer {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	return &Writer{
		index:  idx,
		subs:   subs,
		dedup:  cache,
		repo:   repo,
		scorer: scorer,
		cfg:    cfg,
		now:    time.Now,
	}
}

// ProcessJob records a pending match for every owner with an accepted
// subscription that has not already been notified about job.
func (w *Writer) ProcessJob(ctx context.Context, job *domain.Job) (*Result, error) {
	start := time.Now()
	defer func() { processDuration.Observe(time.Since(start).Seconds()) }()
	jobsProcessed.Inc()

	logger := ctxlog.FromContext(ctx).With("job_id", job.ID)
	result := &Result{}

	keywords := matching.ExtractKeywords(job, w.cfg.Keywords)
	result.Keywords = len(keywords)
	if len(keywords) == 0 {
		return result, nil
	}

	owners, err := w.index.Owners(ctx, keywords)
	if err != nil {
		return nil, fmt.Errorf("lookup owners: %w", err)
	}
	result.Candidates = len(owners)
	if len(owners) == 0 {
		return result, nil
	}

	subs, err := w.subs.ListActiveByOwners(ctx, owners)
	if err != nil {
		return nil, fmt.Errorf("load subscriptions: %w", err)
	}

	byOwner := groupByOwner(subs)
	prepared := matching.Prepare(job)
	now := w.now()

	var batch []domain.PendingMatch
	var pairs []dedup.Pair

	for _, ownerID := range owners {
		ownerSubs := byOwner[ownerID]
		if len(ownerSubs) == 0 {
			continue
		}
		result.Evaluated++

		notified, err := w.dedup.HasBeenNotified(ctx, ownerID, job.ID)
		if err != nil {
			logger.Warn("dedup lookup failed, evaluating anyway", "owner_id", ownerID, "error", err)
		} else if notified {
			result.Deduplicated++
			pairsEvaluated.WithLabelValues("deduplicated").Inc()
			continue
		}

		match, ok := w.scorer.Best(prepared, ownerSubs)
		if !ok {
			pairsEvaluated.WithLabelValues("rejected").Inc()
			continue
		}
		pairsEvaluated.WithLabelValues("matched").Inc()
		result.Matched++

		batch = append(batch, domain.PendingMatch{
			OwnerID:                ownerID,
			JobID:                  job.ID,
			SubscriptionID:         match.Primary.ID,
			MatchedSubscriptionIDs: match.AcceptedIDs,
			Score:                  match.Score,
			CreatedAt:              now,
			ExpiresAt:              now.Add(w.cfg.TTL),
		})
		pairs = append(pairs, dedup.Pair{OwnerID: ownerID, JobID: job.ID})
	}

	if len(batch) == 0 {
		return result, nil
	}

	inserted, err := w.repo.InsertBatch(ctx, batch)
	if err != nil {
		// no markers were set, the next change event re-evaluates this job
		return nil, fmt.Errorf("insert pending matches: %w", err)
	}
	result.Inserted = inserted

	if err := w.dedup.MarkNotified(ctx, pairs...); err != nil {
		logger.Warn("failed to set dedup markers", "count", len(pairs), "error", err)
	}

	logger.Info("job matched",
		"candidates", result.Candidates,
		"matched", result.Matched,
		"inserted", result.Inserted,
		"deduplicated", result.Deduplicated,
	)

	return result, nil
}

func groupByOwner(subs []domain.Subscription) map[string][]*domain.Subscription {
	out := make(map[string][]*domain.Subscription)
	for i := range subs {
		s := &subs[i]
		out[s.OwnerID] = append(out[s.OwnerID], s)
	}
	return out
}
