// Package digest rolls pending matches up into periodic notifications.
package digest

import (
	"context"
	"fmt"
	"time"

	"github.com/bissquit/job-alerts/internal/domain"
	"github.com/bissquit/job-alerts/internal/gateway"
	"github.com/bissquit/job-alerts/internal/pkg/ctxlog"
)

// State is the aggregator phase of a run.
type State int

// Aggregator states.
const (
	StateIdle State = iota
	StateCollecting
	StateDispatching
	StateCleaning
)

func (s State) String() string {
	switch s {
	case StateCollecting:
		return "collecting"
	case StateDispatching:
		return "dispatching"
	case StateCleaning:
		return "cleaning"
	default:
		return "idle"
	}
}

// SubscriptionStore lists digest recipients and records deliveries.
type SubscriptionStore interface {
	ListActiveByFrequency(ctx context.Context, freq domain.Frequency) ([]domain.Subscription, error)
	MarkNotified(ctx context.Context, ids []string, at time.Time) error
}

// MatchStore reads and clears pending matches.
type MatchStore interface {
	ListForSubscriptions(ctx context.Context, subscriptionIDs []string, createdBefore time.Time) ([]domain.PendingMatch, error)
	DeleteCollected(ctx context.Context, collected []domain.PendingMatch) (int64, error)
}

// JobCatalog resolves job IDs to publishable jobs.
type JobCatalog interface {
	ListPublishable(ctx context.Context, ids []string) ([]domain.Job, error)
}

// Config configures the aggregator.
type Config struct {
	MaxJobs     int
	RoutingKeys map[domain.Frequency]string
	LockTTL     time.Duration
}

// DefaultConfig returns default aggregator configuration.
func DefaultConfig() Config {
	return Config{
		MaxJobs: 20,
		RoutingKeys: map[domain.Frequency]string{
			domain.FrequencyDaily:  "job.alert.daily",
			domain.FrequencyWeekly: "job.alert.weekly",
		},
		LockTTL: 30 * time.Minute,
	}
}

// RunResult summarizes one digest run.
type RunResult struct {
	Frequency     domain.Frequency
	Subscriptions int
	Groups        int
	Published     int
	Skipped       int
	Failed        int
	Cleaned       int64
	Duration      time.Duration
}

// Aggregator collects pending matches per subscription, publishes one
// digest per group and clears the collected rows.
type Aggregator struct {
	subs      SubscriptionStore
	matches   MatchStore
	jobs      JobCatalog
	publisher gateway.Publisher
	locker    Locker
	local     *localLock
	cfg       Config
	now       func() time.Time
}

// NewAggregator creates a new digest aggregator. locker may be nil for a
// single-instance deployment.
func NewAggregator(subs SubscriptionStore, matches MatchStore, jobs JobCatalog, publisher gateway.Publisher, locker Locker, cfg Config) *Aggregator {
	def := DefaultConfig()
	if cfg.MaxJobs <= 0 {
		cfg.MaxJobs = def.MaxJobs
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = def.LockTTL
	}
	if cfg.RoutingKeys == nil {
		cfg.RoutingKeys = def.RoutingKeys
	}

	for _, f := range []domain.Frequency{domain.FrequencyDaily, domain.FrequencyWeekly} {
		runState.WithLabelValues(string(f)).Set(float64(StateIdle))
	}

	return &Aggregator{
		subs:      subs,
		matches:   matches,
		jobs:      jobs,
		publisher: publisher,
		locker:    locker,
		local:     newLocalLock(),
		cfg:       cfg,
		now:       time.Now,
	}
}

type group struct {
	sub    *domain.Subscription
	jobIDs []string
}

// Run executes one digest cycle for freq.
func (a *Aggregator) Run(ctx context.Context, freq domain.Frequency) (*RunResult, error) {
	if !freq.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidFrequency, freq)
	}

	key := "digest:" + string(freq)
	if !a.local.tryLock(key) {
		runsTotal.WithLabelValues(string(freq), "skipped").Inc()
		return nil, ErrRunInProgress
	}
	defer a.local.unlock(key)

	if a.locker != nil {
		release, err := a.locker.Acquire(ctx, key, a.cfg.LockTTL)
		if err != nil {
			runsTotal.WithLabelValues(string(freq), "skipped").Inc()
			return nil, err
		}
		defer release()
	}

	ctx = ctxlog.With(ctx, "frequency", string(freq))
	logger := ctxlog.FromContext(ctx)

	start := a.now()
	defer func() {
		a.setState(freq, StateIdle)
		runDuration.WithLabelValues(string(freq)).Observe(a.now().Sub(start).Seconds())
	}()

	result := &RunResult{Frequency: freq}

	a.setState(freq, StateCollecting)
	subs, err := a.subs.ListActiveByFrequency(ctx, freq)
	if err != nil {
		runsTotal.WithLabelValues(string(freq), "failed").Inc()
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	result.Subscriptions = len(subs)
	if len(subs) == 0 {
		result.Duration = a.now().Sub(start)
		runsTotal.WithLabelValues(string(freq), "success").Inc()
		return result, nil
	}

	subIDs := make([]string, 0, len(subs))
	byID := make(map[string]*domain.Subscription, len(subs))
	for i := range subs {
		subIDs = append(subIDs, subs[i].ID)
		byID[subs[i].ID] = &subs[i]
	}

	pending, err := a.matches.ListForSubscriptions(ctx, subIDs, start)
	if err != nil {
		runsTotal.WithLabelValues(string(freq), "failed").Inc()
		return nil, fmt.Errorf("list pending matches: %w", err)
	}

	groups := groupMatches(pending, byID)
	result.Groups = len(groups)

	a.setState(freq, StateDispatching)
	var notified []string
	for _, g := range groups {
		ok, err := a.dispatch(ctx, freq, g)
		switch {
		case err != nil:
			result.Failed++
			groupsTotal.WithLabelValues(string(freq), "failed").Inc()
			logger.Error("failed to dispatch digest",
				"owner_id", g.sub.OwnerID,
				"subscription_id", g.sub.ID,
				"error", err,
			)
		case !ok:
			result.Skipped++
			groupsTotal.WithLabelValues(string(freq), "skipped").Inc()
		default:
			result.Published++
			groupsTotal.WithLabelValues(string(freq), "published").Inc()
			notified = append(notified, g.sub.ID)
		}
	}

	if len(notified) > 0 {
		if err := a.subs.MarkNotified(ctx, notified, a.now()); err != nil {
			logger.Error("failed to record digest delivery", "count", len(notified), "error", err)
		}
	}

	// rows collected by this run go regardless of dispatch outcome; rows
	// written after the listing are left for the next run
	a.setState(freq, StateCleaning)
	cleanCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
	defer cancel()
	cleaned, err := a.matches.DeleteCollected(cleanCtx, pending)
	if err != nil {
		runsTotal.WithLabelValues(string(freq), "failed").Inc()
		return nil, fmt.Errorf("delete pending matches: %w", err)
	}
	result.Cleaned = cleaned
	result.Duration = a.now().Sub(start)

	runsTotal.WithLabelValues(string(freq), "success").Inc()
	logger.Info("digest run completed",
		"subscriptions", result.Subscriptions,
		"groups", result.Groups,
		"published", result.Published,
		"skipped", result.Skipped,
		"failed", result.Failed,
		"cleaned", result.Cleaned,
		"duration", result.Duration,
	)

	return result, nil
}

// dispatch publishes one group. It reports false when no job in the group
// is still publishable.
func (a *Aggregator) dispatch(ctx context.Context, freq domain.Frequency, g group) (bool, error) {
	ids := g.jobIDs
	if len(ids) > a.cfg.MaxJobs {
		ids = ids[:a.cfg.MaxJobs]
	}

	jobs, err := a.jobs.ListPublishable(ctx, ids)
	if err != nil {
		return false, fmt.Errorf("resolve jobs: %w", err)
	}
	if len(jobs) == 0 {
		ctxlog.FromContext(ctx).Debug("digest group has no publishable jobs",
			"owner_id", g.sub.OwnerID,
			"subscription_id", g.sub.ID,
		)
		return false, nil
	}

	jobIDs := make([]string, 0, len(jobs))
	for _, j := range jobs {
		jobIDs = append(jobIDs, j.ID)
	}

	payload := gateway.Payload{
		Type:        gateway.TypeJobAlert,
		RecipientID: g.sub.OwnerID,
		Data: gateway.Data{
			SubscriptionID:   g.sub.ID,
			JobIDs:           jobIDs,
			NotificationType: string(freq),
			DeliveryMethod:   string(g.sub.DeliveryMethod),
			Keyword:          g.sub.Keyword,
		},
	}

	if err := a.publisher.Publish(ctx, a.cfg.RoutingKeys[freq], payload); err != nil {
		return false, fmt.Errorf("publish: %w", err)
	}
	return true, nil
}

func (a *Aggregator) setState(freq domain.Frequency, s State) {
	runState.WithLabelValues(string(freq)).Set(float64(s))
}

// groupMatches groups pending matches by (owner, primary subscription) in
// order of first appearance, keeping distinct job IDs in creation order.
func groupMatches(pending []domain.PendingMatch, subs map[string]*domain.Subscription) []group {
	type key struct{ owner, sub string }

	index := make(map[key]int)
	seen := make(map[key]map[string]struct{})
	var groups []group

	for _, pm := range pending {
		sub, ok := subs[pm.SubscriptionID]
		if !ok {
			continue
		}
		k := key{owner: pm.OwnerID, sub: pm.SubscriptionID}
		i, ok := index[k]
		if !ok {
			i = len(groups)
			index[k] = i
			seen[k] = make(map[string]struct{})
			groups = append(groups, group{sub: sub})
		}
		if _, dup := seen[k][pm.JobID]; dup {
			continue
		}
		seen[k][pm.JobID] = struct{}{}
		groups[i].jobIDs = append(groups[i].jobIDs, pm.JobID)
	}
	return groups
}
