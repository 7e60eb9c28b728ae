package digest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bissquit/job-alerts/internal/domain"
	"github.com/bissquit/job-alerts/internal/gateway"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockSubs struct {
	subs     []domain.Subscription
	notified map[string]time.Time
}

func (m *mockSubs) ListActiveByFrequency(_ context.Context, freq domain.Frequency) ([]domain.Subscription, error) {
	var out []domain.Subscription
	for _, s := range m.subs {
		if s.Active && s.Frequency == freq {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *mockSubs) MarkNotified(_ context.Context, ids []string, at time.Time) error {
	if m.notified == nil {
		m.notified = make(map[string]time.Time)
	}
	for _, id := range ids {
		m.notified[id] = at
	}
	return nil
}

type mockMatches struct {
	mu   sync.Mutex
	rows []domain.PendingMatch
	// afterList runs once the listing has been taken, before the run
	// continues.
	afterList func()
}

func (m *mockMatches) ListForSubscriptions(_ context.Context, ids []string, before time.Time) ([]domain.PendingMatch, error) {
	m.mu.Lock()
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []domain.PendingMatch
	for _, r := range m.rows {
		if want[r.SubscriptionID] && !r.CreatedAt.After(before) {
			out = append(out, r)
		}
	}
	m.mu.Unlock()

	if m.afterList != nil {
		m.afterList()
	}
	return out, nil
}

func (m *mockMatches) DeleteCollected(_ context.Context, collected []domain.PendingMatch) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	type key struct {
		owner, job, sub string
		created         time.Time
	}
	del := make(map[key]bool, len(collected))
	for _, c := range collected {
		del[key{c.OwnerID, c.JobID, c.SubscriptionID, c.CreatedAt}] = true
	}

	var kept []domain.PendingMatch
	for _, r := range m.rows {
		if !del[key{r.OwnerID, r.JobID, r.SubscriptionID, r.CreatedAt}] {
			kept = append(kept, r)
		}
	}
	n := int64(len(m.rows) - len(kept))
	m.rows = kept
	return n, nil
}

func (m *mockMatches) insert(pm domain.PendingMatch) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, pm)
}

type mockCatalog struct {
	unpublished map[string]bool
}

func (m *mockCatalog) ListPublishable(_ context.Context, ids []string) ([]domain.Job, error) {
	var out []domain.Job
	for _, id := range ids {
		if !m.unpublished[id] {
			out = append(out, domain.Job{ID: id})
		}
	}
	return out, nil
}

type published struct {
	routingKey string
	payload    gateway.Payload
}

type mockPublisher struct {
	mu      sync.Mutex
	sent    []published
	err     error
	block   chan struct{}
	started chan struct{}
}

func (m *mockPublisher) Publish(_ context.Context, routingKey string, p gateway.Payload) error {
	if m.block != nil {
		m.started <- struct{}{}
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, published{routingKey: routingKey, payload: p})
	return nil
}

type mockLocker struct {
	held     map[string]bool
	released int
}

func (m *mockLocker) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	if m.held[key] {
		return nil, ErrRunInProgress
	}
	m.held[key] = true
	return func() {
		delete(m.held, key)
		m.released++
	}, nil
}

var runAt = time.Date(2025, 3, 3, 8, 0, 0, 0, time.UTC)

func dailySub(id, owner string) domain.Subscription {
	return domain.Subscription{
		ID:             id,
		OwnerID:        owner,
		Keyword:        "javascript",
		Criteria:       domain.AnyCriteria(),
		Frequency:      domain.FrequencyDaily,
		DeliveryMethod: domain.DeliveryEmail,
		Active:         true,
	}
}

func pending(owner, job, sub string, age time.Duration) domain.PendingMatch {
	return domain.PendingMatch{
		OwnerID:        owner,
		JobID:          job,
		SubscriptionID: sub,
		Score:          70,
		CreatedAt:      runAt.Add(-age),
		ExpiresAt:      runAt.Add(7*24*time.Hour - age),
	}
}

type fixture struct {
	agg       *Aggregator
	subs      *mockSubs
	matches   *mockMatches
	catalog   *mockCatalog
	publisher *mockPublisher
}

func newFixture(subs ...domain.Subscription) *fixture {
	f := &fixture{
		subs:      &mockSubs{subs: subs},
		matches:   &mockMatches{},
		catalog:   &mockCatalog{unpublished: map[string]bool{}},
		publisher: &mockPublisher{},
	}
	f.agg = NewAggregator(f.subs, f.matches, f.catalog, f.publisher, nil, DefaultConfig())
	f.agg.now = func() time.Time { return runAt }
	return f
}

func TestAggregator_Run_DailyDigest(t *testing.T) {
	f := newFixture(dailySub("sub-1", "user-1"))
	f.matches.rows = []domain.PendingMatch{
		pending("user-1", "job-1", "sub-1", 2*time.Hour),
		pending("user-1", "job-2", "sub-1", time.Hour),
	}

	res, err := f.agg.Run(context.Background(), domain.FrequencyDaily)
	require.NoError(t, err)

	require.Len(t, f.publisher.sent, 1)
	msg := f.publisher.sent[0]
	assert.Equal(t, "job.alert.daily", msg.routingKey)
	assert.Equal(t, gateway.Payload{
		Type:        gateway.TypeJobAlert,
		RecipientID: "user-1",
		Data: gateway.Data{
			SubscriptionID:   "sub-1",
			JobIDs:           []string{"job-1", "job-2"},
			NotificationType: "daily",
			DeliveryMethod:   "email",
			Keyword:          "javascript",
		},
	}, msg.payload)

	assert.Empty(t, f.matches.rows)
	assert.Equal(t, runAt, f.subs.notified["sub-1"])
	assert.Equal(t, &RunResult{
		Frequency:     domain.FrequencyDaily,
		Subscriptions: 1,
		Groups:        1,
		Published:     1,
		Cleaned:       2,
	}, res)

	res, err = f.agg.Run(context.Background(), domain.FrequencyDaily)
	require.NoError(t, err)
	assert.Zero(t, res.Published)
	assert.Len(t, f.publisher.sent, 1, "second run publishes nothing")
}

func TestAggregator_Run_CleansRegardlessOfDispatch(t *testing.T) {
	f := newFixture(dailySub("sub-1", "user-1"))
	f.publisher.err = errors.New("stream unavailable")
	f.matches.rows = []domain.PendingMatch{
		pending("user-1", "job-1", "sub-1", 2*time.Hour),
		pending("user-1", "job-2", "sub-1", time.Hour),
	}

	res, err := f.agg.Run(context.Background(), domain.FrequencyDaily)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, int64(2), res.Cleaned)
	assert.Empty(t, f.matches.rows)
	assert.Empty(t, f.subs.notified)
}

func TestAggregator_Run_LateArrivalSurvives(t *testing.T) {
	f := newFixture(dailySub("sub-1", "user-1"))
	f.matches.rows = []domain.PendingMatch{
		pending("user-1", "job-1", "sub-1", time.Hour),
		pending("user-1", "job-2", "sub-1", -time.Minute),
	}

	_, err := f.agg.Run(context.Background(), domain.FrequencyDaily)
	require.NoError(t, err)

	assert.Equal(t, []string{"job-1"}, f.publisher.sent[0].payload.Data.JobIDs)
	require.Len(t, f.matches.rows, 1)
	assert.Equal(t, "job-2", f.matches.rows[0].JobID)
}

func TestAggregator_Run_RowWrittenDuringRunSurvives(t *testing.T) {
	f := newFixture(dailySub("sub-1", "user-1"))
	f.matches.rows = []domain.PendingMatch{
		pending("user-1", "job-1", "sub-1", time.Hour),
	}
	// A writer whose clock lags commits a row stamped before the run start
	// after the run has listed.
	f.matches.afterList = func() {
		f.matches.insert(pending("user-1", "job-2", "sub-1", 30*time.Minute))
	}

	res, err := f.agg.Run(context.Background(), domain.FrequencyDaily)
	require.NoError(t, err)

	assert.Equal(t, []string{"job-1"}, f.publisher.sent[0].payload.Data.JobIDs)
	assert.Equal(t, int64(1), res.Cleaned)
	require.Len(t, f.matches.rows, 1)
	assert.Equal(t, "job-2", f.matches.rows[0].JobID)

	f.matches.afterList = nil
	_, err = f.agg.Run(context.Background(), domain.FrequencyDaily)
	require.NoError(t, err)
	require.Len(t, f.publisher.sent, 2)
	assert.Equal(t, []string{"job-2"}, f.publisher.sent[1].payload.Data.JobIDs)
	assert.Empty(t, f.matches.rows)
}

func TestAggregator_Run_GroupsAndSkips(t *testing.T) {
	weekly := dailySub("sub-w", "user-3")
	weekly.Frequency = domain.FrequencyWeekly

	f := newFixture(
		dailySub("sub-1", "user-1"),
		dailySub("sub-2", "user-2"),
		weekly,
	)
	f.catalog.unpublished["job-closed"] = true
	f.matches.rows = []domain.PendingMatch{
		pending("user-1", "job-1", "sub-1", 3*time.Hour),
		pending("user-2", "job-closed", "sub-2", 2*time.Hour),
		pending("user-3", "job-1", "sub-w", time.Hour),
	}

	res, err := f.agg.Run(context.Background(), domain.FrequencyDaily)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Groups)
	assert.Equal(t, 1, res.Published)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, int64(2), res.Cleaned)

	require.Len(t, f.matches.rows, 1, "weekly match is not touched by the daily run")
	assert.Equal(t, "sub-w", f.matches.rows[0].SubscriptionID)
	_, notified := f.subs.notified["sub-2"]
	assert.False(t, notified)
}

func TestAggregator_Run_MaxJobs(t *testing.T) {
	f := newFixture(dailySub("sub-1", "user-1"))
	f.agg.cfg.MaxJobs = 2
	f.matches.rows = []domain.PendingMatch{
		pending("user-1", "job-1", "sub-1", 3*time.Hour),
		pending("user-1", "job-2", "sub-1", 2*time.Hour),
		pending("user-1", "job-3", "sub-1", time.Hour),
	}

	_, err := f.agg.Run(context.Background(), domain.FrequencyDaily)
	require.NoError(t, err)
	assert.Equal(t, []string{"job-1", "job-2"}, f.publisher.sent[0].payload.Data.JobIDs)
}

func TestAggregator_Run_InvalidFrequency(t *testing.T) {
	f := newFixture()
	_, err := f.agg.Run(context.Background(), domain.Frequency("hourly"))
	assert.ErrorIs(t, err, ErrInvalidFrequency)
}

func TestAggregator_Run_SameFrequencyNeverOverlaps(t *testing.T) {
	f := newFixture(dailySub("sub-1", "user-1"))
	f.matches.rows = []domain.PendingMatch{pending("user-1", "job-1", "sub-1", time.Hour)}
	f.publisher.block = make(chan struct{})
	f.publisher.started = make(chan struct{}, 1)

	done := make(chan error, 1)
	go func() {
		_, err := f.agg.Run(context.Background(), domain.FrequencyDaily)
		done <- err
	}()
	<-f.publisher.started

	_, err := f.agg.Run(context.Background(), domain.FrequencyDaily)
	assert.ErrorIs(t, err, ErrRunInProgress)

	// another frequency is not blocked
	_, err = f.agg.Run(context.Background(), domain.FrequencyWeekly)
	assert.NoError(t, err)

	close(f.publisher.block)
	require.NoError(t, <-done)
}

func TestAggregator_Run_DistributedLock(t *testing.T) {
	f := newFixture(dailySub("sub-1", "user-1"))
	locker := &mockLocker{held: map[string]bool{"digest:daily": true}}
	f.agg.locker = locker

	_, err := f.agg.Run(context.Background(), domain.FrequencyDaily)
	assert.ErrorIs(t, err, ErrRunInProgress)

	delete(locker.held, "digest:daily")
	_, err = f.agg.Run(context.Background(), domain.FrequencyDaily)
	require.NoError(t, err)
	assert.Equal(t, 1, locker.released)
	assert.Empty(t, locker.held)
}

func TestGroupMatches_DistinctJobsInOrder(t *testing.T) {
	subs := map[string]*domain.Subscription{
		"sub-1": {ID: "sub-1", OwnerID: "user-1"},
	}
	groups := groupMatches([]domain.PendingMatch{
		{OwnerID: "user-1", JobID: "job-2", SubscriptionID: "sub-1"},
		{OwnerID: "user-1", JobID: "job-1", SubscriptionID: "sub-1"},
		{OwnerID: "user-1", JobID: "job-2", SubscriptionID: "sub-1"},
		{OwnerID: "user-1", JobID: "job-9", SubscriptionID: "unknown"},
	}, subs)

	require.Len(t, groups, 1)
	assert.Equal(t, []string{"job-2", "job-1"}, groups[0].jobIDs)
}
