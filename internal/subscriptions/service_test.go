package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/bissquit/job-alerts/internal/domain"
	"github.com/bissquit/job-alerts/internal/index"
	"github.com/bissquit/job-alerts/internal/matching"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockRepository struct {
	mu      sync.Mutex
	subs    map[string]*domain.Subscription
	nextID  int
	now     time.Time
	guardFn func() error
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		subs: make(map[string]*domain.Subscription),
		now:  time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (m *mockRepository) activeCount(ownerID string) int {
	n := 0
	for _, s := range m.subs {
		if s.OwnerID == ownerID && s.Active {
			n++
		}
	}
	return n
}

func (m *mockRepository) Create(_ context.Context, sub *domain.Subscription, maxActive int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sub.Active && m.activeCount(sub.OwnerID) >= maxActive {
		return ErrActiveLimitExceeded
	}
	m.nextID++
	m.now = m.now.Add(time.Second)
	sub.ID = uuid.NewString()
	sub.CreatedAt = m.now
	sub.UpdatedAt = m.now
	stored := *sub
	m.subs[sub.ID] = &stored
	return nil
}

func (m *mockRepository) Update(_ context.Context, id string, maxActive int, apply func(*domain.Subscription) error) (*domain.Subscription, *domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev, ok := m.subs[id]
	if !ok {
		return nil, nil, ErrSubscriptionNotFound
	}
	previous := *prev
	sub := *prev
	if err := apply(&sub); err != nil {
		return nil, nil, err
	}
	if sub.Active && !prev.Active && m.activeCount(sub.OwnerID) >= maxActive {
		return nil, nil, ErrActiveLimitExceeded
	}
	m.now = m.now.Add(time.Second)
	sub.UpdatedAt = m.now
	stored := sub
	m.subs[id] = &stored
	return &previous, &sub, nil
}

func (m *mockRepository) Delete(_ context.Context, id string) (*domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev, ok := m.subs[id]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	delete(m.subs, id)
	return prev, nil
}

func (m *mockRepository) GetByID(_ context.Context, id string) (*domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.subs[id]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	cp := *sub
	return &cp, nil
}

func (m *mockRepository) ListByOwner(_ context.Context, ownerID string) ([]domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.Subscription
	for _, s := range m.subs {
		if s.OwnerID == ownerID {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockRepository) ListActiveByOwners(_ context.Context, ownerIDs []string) ([]domain.Subscription, error) {
	return nil, nil
}

func (m *mockRepository) ListActiveByFrequency(context.Context, domain.Frequency) ([]domain.Subscription, error) {
	return nil, nil
}

func (m *mockRepository) HasOtherActiveWithKeyword(_ context.Context, ownerID, keyword, excludeID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.guardFn != nil {
		if err := m.guardFn(); err != nil {
			return false, err
		}
	}
	for _, s := range m.subs {
		if s.ID != excludeID && s.OwnerID == ownerID && s.Keyword == keyword && s.Active {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockRepository) StreamActiveKeywords(_ context.Context, fn func(keyword, ownerID string) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.subs {
		if s.Active {
			if err := fn(s.Keyword, s.OwnerID); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *mockRepository) MarkNotified(context.Context, []string, time.Time) error { return nil }

// expectedIndex derives the index contents implied by the store.
func (m *mockRepository) expectedIndex() map[string][]string {
	m.mu.Lock()
	defer m.mu.Unlock()

	sets := make(map[string]map[string]struct{})
	for _, s := range m.subs {
		if !s.Active {
			continue
		}
		if sets[s.Keyword] == nil {
			sets[s.Keyword] = make(map[string]struct{})
		}
		sets[s.Keyword][s.OwnerID] = struct{}{}
	}
	return flatten(sets)
}

type fakeIndex struct {
	mu       sync.Mutex
	sets     map[string]map[string]struct{}
	applyErr error
	applied  []index.Mutation
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{sets: make(map[string]map[string]struct{})}
}

func (f *fakeIndex) Apply(_ context.Context, m index.Mutation) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.applied = append(f.applied, m)
	if f.applyErr != nil {
		return f.applyErr
	}
	for _, kw := range m.Remove {
		delete(f.sets[kw], m.OwnerID)
		if len(f.sets[kw]) == 0 {
			delete(f.sets, kw)
		}
	}
	for _, kw := range m.Add {
		if f.sets[kw] == nil {
			f.sets[kw] = make(map[string]struct{})
		}
		f.sets[kw][m.OwnerID] = struct{}{}
	}
	return nil
}

func (f *fakeIndex) Owners(_ context.Context, keywords []string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	seen := make(map[string]struct{})
	var out []string
	for _, kw := range keywords {
		for o := range f.sets[kw] {
			if _, ok := seen[o]; !ok {
				seen[o] = struct{}{}
				out = append(out, o)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

func (f *fakeIndex) Members(ctx context.Context, keyword string) ([]string, error) {
	return f.Owners(ctx, []string{keyword})
}

func (f *fakeIndex) Replace(_ context.Context, entries map[string][]string) (index.ReplaceStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	removed := 0
	for kw := range f.sets {
		if _, ok := entries[kw]; !ok {
			removed++
		}
	}
	f.sets = make(map[string]map[string]struct{})
	for kw, owners := range entries {
		f.sets[kw] = make(map[string]struct{})
		for _, o := range owners {
			f.sets[kw][o] = struct{}{}
		}
	}
	return index.ReplaceStats{Keywords: len(entries), Removed: removed}, nil
}

func (f *fakeIndex) snapshot() map[string][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return flatten(f.sets)
}

func flatten(sets map[string]map[string]struct{}) map[string][]string {
	out := make(map[string][]string, len(sets))
	for kw, owners := range sets {
		if len(owners) == 0 {
			continue
		}
		list := make([]string, 0, len(owners))
		for o := range owners {
			list = append(list, o)
		}
		sort.Strings(list)
		out[kw] = list
	}
	return out
}

func newTestService() (*Service, *mockRepository, *fakeIndex) {
	return newTestServiceWith(ServiceConfig{MaxActive: 3, MinKeywordLength: 3})
}

func newTestServiceWith(cfg ServiceConfig) (*Service, *mockRepository, *fakeIndex) {
	repo := newMockRepository()
	idx := newFakeIndex()
	svc := NewService(repo, NewMaintainer(idx, repo, time.Second), cfg)
	return svc, repo, idx
}

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }

func validInput(owner, keyword string) CreateInput {
	return CreateInput{
		OwnerID:        owner,
		Keyword:        keyword,
		Frequency:      domain.FrequencyDaily,
		DeliveryMethod: domain.DeliveryEmail,
	}
}

func TestService_Create(t *testing.T) {
	svc, _, idx := newTestService()

	sub, err := svc.Create(context.Background(), CreateInput{
		OwnerID:        "owner-1",
		Keyword:        "  JavaScript ",
		Province:       "Ha Noi",
		District:       "",
		Category:       "ALL",
		SalaryBucket:   "from_10m_to_20m",
		Frequency:      domain.FrequencyWeekly,
		DeliveryMethod: domain.DeliveryBoth,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, sub.ID)
	assert.Equal(t, "javascript", sub.Keyword)
	assert.True(t, sub.Active)
	assert.Equal(t, "Ha Noi", sub.Criteria.Province.Value())
	assert.True(t, sub.Criteria.District.IsAny())
	assert.True(t, sub.Criteria.Category.IsAny())
	assert.Equal(t, domain.Salary10MTo20M, sub.Criteria.SalaryBucket)
	assert.Equal(t, map[string][]string{"javascript": {"owner-1"}}, idx.snapshot())
}

func TestService_Create_Validation(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*CreateInput)
		wantField string
	}{
		{name: "missing owner", mutate: func(in *CreateInput) { in.OwnerID = "" }, wantField: "owner_id"},
		{name: "short keyword", mutate: func(in *CreateInput) { in.Keyword = "go" }, wantField: "keyword"},
		{name: "long keyword", mutate: func(in *CreateInput) { in.Keyword = "abcdefghijklmnopqrstuvwxyzabcdefghijklmnopqrstuvwxyz" }, wantField: "keyword"},
		{name: "keyword with space", mutate: func(in *CreateInput) { in.Keyword = "ke toan" }, wantField: "keyword"},
		{name: "leading dot", mutate: func(in *CreateInput) { in.Keyword = ".net" }, wantField: "keyword"},
		{name: "slash", mutate: func(in *CreateInput) { in.Keyword = "ui/ux" }, wantField: "keyword"},
		{name: "trailing hyphen", mutate: func(in *CreateInput) { in.Keyword = "front-" }, wantField: "keyword"},
		{name: "punctuation only", mutate: func(in *CreateInput) { in.Keyword = "..." }, wantField: "keyword"},
		{name: "bad frequency", mutate: func(in *CreateInput) { in.Frequency = "monthly" }, wantField: "frequency"},
		{name: "bad delivery", mutate: func(in *CreateInput) { in.DeliveryMethod = "sms" }, wantField: "delivery_method"},
		{name: "bad salary bucket", mutate: func(in *CreateInput) { in.SalaryBucket = "LOTS" }, wantField: "salary_bucket"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, idx := newTestService()
			in := validInput("owner-1", "golang")
			tt.mutate(&in)

			_, err := svc.Create(context.Background(), in)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.wantField, verr.Field)
			assert.Empty(t, idx.snapshot())
		})
	}
}

func TestService_Create_KeywordMatchesTokenizer(t *testing.T) {
	tests := []struct {
		keyword string
		want    string
	}{
		{keyword: "C++", want: "c++"},
		{keyword: "F#", want: ""},
		{keyword: "Node.js", want: "node.js"},
		{keyword: "front-end", want: "front-end"},
		{keyword: "Kế toán", want: ""},
		{keyword: "Kế", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.keyword, func(t *testing.T) {
			svc, _, _ := newTestService()

			sub, err := svc.Create(context.Background(), validInput("owner-1", tt.keyword))
			if tt.want == "" {
				var verr *ValidationError
				require.ErrorAs(t, err, &verr)
				assert.Equal(t, "keyword", verr.Field)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, sub.Keyword)

			// a job mentioning the keyword yields it as a candidate
			job := &domain.Job{Title: "Senior " + tt.keyword + " engineer"}
			assert.Contains(t, matching.ExtractKeywords(job, matching.KeywordConfig{MinLength: 3}), sub.Keyword)
		})
	}
}

func TestService_Create_MinKeywordLengthFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		min     int
		keyword string
		wantErr bool
	}{
		{name: "default rejects two letters", min: 0, keyword: "go", wantErr: true},
		{name: "default accepts three letters", min: 0, keyword: "php"},
		{name: "min 2 accepts go", min: 2, keyword: "go"},
		{name: "min 5 rejects java", min: 5, keyword: "java", wantErr: true},
		{name: "min 5 accepts kotlin", min: 5, keyword: "kotlin"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, _ := newTestServiceWith(ServiceConfig{MinKeywordLength: tt.min})

			_, err := svc.Create(context.Background(), validInput("owner-1", tt.keyword))
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, "keyword", verr.Field)
			if tt.min > 0 {
				assert.Contains(t, verr.Reason, strconv.Itoa(tt.min))
			}
		})
	}
}

func TestService_Create_FourthActiveRejected(t *testing.T) {
	svc, repo, idx := newTestService()
	ctx := context.Background()

	for _, kw := range []string{"golang", "python", "rust"} {
		_, err := svc.Create(ctx, validInput("owner-1", kw))
		require.NoError(t, err)
	}
	storeBefore, _ := repo.ListByOwner(ctx, "owner-1")
	indexBefore := idx.snapshot()

	_, err := svc.Create(ctx, validInput("owner-1", "java"))

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.ErrorIs(t, err, ErrActiveLimitExceeded)
	assert.Equal(t, "active", verr.Field)

	storeAfter, _ := repo.ListByOwner(ctx, "owner-1")
	assert.Equal(t, storeBefore, storeAfter)
	assert.Equal(t, indexBefore, idx.snapshot())

	t.Run("inactive subscription still allowed", func(t *testing.T) {
		sub, err := svc.Create(ctx, CreateInput{
			OwnerID: "owner-1", Keyword: "java", Frequency: domain.FrequencyDaily,
			DeliveryMethod: domain.DeliveryEmail, Active: boolPtr(false),
		})
		require.NoError(t, err)
		assert.False(t, sub.Active)
		assert.NotContains(t, idx.snapshot(), "java")

		_, err = svc.Update(ctx, "owner-1", sub.ID, UpdateInput{Active: boolPtr(true)})
		assert.ErrorIs(t, err, ErrActiveLimitExceeded)
	})

	t.Run("other owners unaffected", func(t *testing.T) {
		_, err := svc.Create(ctx, validInput("owner-2", "java"))
		require.NoError(t, err)
	})
}

func TestService_Update_KeywordChange(t *testing.T) {
	svc, _, idx := newTestService()
	ctx := context.Background()

	sub, err := svc.Create(ctx, validInput("owner-1", "golang"))
	require.NoError(t, err)

	_, err = svc.Update(ctx, "owner-1", sub.ID, UpdateInput{Keyword: strPtr("Rust")})
	require.NoError(t, err)

	assert.Equal(t, map[string][]string{"rust": {"owner-1"}}, idx.snapshot())
	last := idx.applied[len(idx.applied)-1]
	assert.Equal(t, []string{"golang"}, last.Remove)
	assert.Equal(t, []string{"rust"}, last.Add, "removal and addition sent as one mutation")
}

func TestService_Update_Deactivate(t *testing.T) {
	svc, _, idx := newTestService()
	ctx := context.Background()

	sub, err := svc.Create(ctx, validInput("owner-1", "golang"))
	require.NoError(t, err)

	_, err = svc.Update(ctx, "owner-1", sub.ID, UpdateInput{Active: boolPtr(false)})
	require.NoError(t, err)
	assert.Empty(t, idx.snapshot())

	_, err = svc.Update(ctx, "owner-1", sub.ID, UpdateInput{Active: boolPtr(true)})
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{"golang": {"owner-1"}}, idx.snapshot())
}

func TestService_Update_ConcurrentPatchesKeepEveryField(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()

	sub, err := svc.Create(ctx, validInput("owner-1", "golang"))
	require.NoError(t, err)

	patches := []UpdateInput{
		{Keyword: strPtr("rust")},
		{Frequency: func() *domain.Frequency { f := domain.FrequencyWeekly; return &f }()},
		{DeliveryMethod: func() *domain.DeliveryMethod { d := domain.DeliveryBoth; return &d }()},
		{Province: strPtr("Ha Noi")},
		{WorkMode: strPtr("remote")},
	}

	var wg sync.WaitGroup
	start := make(chan struct{})
	for _, p := range patches {
		wg.Add(1)
		go func(p UpdateInput) {
			defer wg.Done()
			<-start
			_, err := svc.Update(ctx, "owner-1", sub.ID, p)
			assert.NoError(t, err)
		}(p)
	}
	close(start)
	wg.Wait()

	got, err := repo.GetByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, "rust", got.Keyword)
	assert.Equal(t, domain.FrequencyWeekly, got.Frequency)
	assert.Equal(t, domain.DeliveryBoth, got.DeliveryMethod)
	assert.Equal(t, "Ha Noi", got.Criteria.Province.Value())
	assert.Equal(t, "remote", got.Criteria.WorkMode.Value())
}

func TestService_Update_RejectedPatchLeavesRow(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()

	sub, err := svc.Create(ctx, validInput("owner-1", "golang"))
	require.NoError(t, err)

	_, err = svc.Update(ctx, "owner-1", sub.ID, UpdateInput{
		Keyword:   strPtr(".net"),
		Frequency: func() *domain.Frequency { f := domain.FrequencyWeekly; return &f }(),
	})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "keyword", verr.Field)

	got, err := repo.GetByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, "golang", got.Keyword)
	assert.Equal(t, domain.FrequencyDaily, got.Frequency)
}

func TestService_DuplicateKeywordKeepsIndexEntry(t *testing.T) {
	svc, _, idx := newTestService()
	ctx := context.Background()

	first, err := svc.Create(ctx, validInput("owner-1", "golang"))
	require.NoError(t, err)
	second := validInput("owner-1", "golang")
	second.Frequency = domain.FrequencyWeekly
	_, err = svc.Create(ctx, second)
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, "owner-1", first.ID))
	assert.Equal(t, map[string][]string{"golang": {"owner-1"}}, idx.snapshot())
}

func TestService_GuardFailureSkipsRemoval(t *testing.T) {
	svc, repo, idx := newTestService()
	ctx := context.Background()

	sub, err := svc.Create(ctx, validInput("owner-1", "golang"))
	require.NoError(t, err)

	repo.guardFn = func() error { return errors.New("db timeout") }
	require.NoError(t, svc.Delete(ctx, "owner-1", sub.ID))

	assert.Equal(t, map[string][]string{"golang": {"owner-1"}}, idx.snapshot(), "stale entry kept")
}

func TestService_IndexFailureDoesNotFailWrite(t *testing.T) {
	svc, repo, idx := newTestService()
	idx.applyErr = fmt.Errorf("apply: %w", index.ErrUnavailable)

	sub, err := svc.Create(context.Background(), validInput("owner-1", "golang"))
	require.NoError(t, err)

	stored, err := repo.GetByID(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, "golang", stored.Keyword)
}

func TestService_Ownership(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	sub, err := svc.Create(ctx, validInput("owner-1", "golang"))
	require.NoError(t, err)

	_, err = svc.Get(ctx, "owner-2", sub.ID)
	assert.ErrorIs(t, err, ErrSubscriptionNotOwned)

	_, err = svc.Update(ctx, "owner-2", sub.ID, UpdateInput{Active: boolPtr(false)})
	assert.ErrorIs(t, err, ErrSubscriptionNotOwned)

	assert.ErrorIs(t, svc.Delete(ctx, "owner-2", sub.ID), ErrSubscriptionNotOwned)

	_, err = svc.Get(ctx, "owner-1", "missing")
	assert.ErrorIs(t, err, ErrSubscriptionNotFound)
}

func TestService_IndexConsistencyProperty(t *testing.T) {
	keywords := []string{"golang", "python", "rust", "java"}
	owners := []string{"owner-1", "owner-2", "owner-3"}

	for seed := int64(1); seed <= 20; seed++ {
		t.Run(fmt.Sprintf("seed_%d", seed), func(t *testing.T) {
			rng := rand.New(rand.NewSource(seed))
			svc, repo, idx := newTestService()
			ctx := context.Background()

			var ids []struct{ owner, id string }

			for step := 0; step < 60; step++ {
				switch op := rng.Intn(4); {
				case op == 0 || len(ids) == 0:
					owner := owners[rng.Intn(len(owners))]
					in := validInput(owner, keywords[rng.Intn(len(keywords))])
					in.Active = boolPtr(rng.Intn(4) != 0)
					sub, err := svc.Create(ctx, in)
					if err == nil {
						ids = append(ids, struct{ owner, id string }{owner, sub.ID})
					} else {
						require.ErrorIs(t, err, ErrActiveLimitExceeded)
					}
				case op == 1:
					target := ids[rng.Intn(len(ids))]
					_, err := svc.Update(ctx, target.owner, target.id, UpdateInput{
						Keyword: strPtr(keywords[rng.Intn(len(keywords))]),
					})
					require.NoError(t, err)
				case op == 2:
					target := ids[rng.Intn(len(ids))]
					_, err := svc.Update(ctx, target.owner, target.id, UpdateInput{
						Active: boolPtr(rng.Intn(2) == 0),
					})
					if err != nil {
						require.ErrorIs(t, err, ErrActiveLimitExceeded)
					}
				default:
					i := rng.Intn(len(ids))
					require.NoError(t, svc.Delete(ctx, ids[i].owner, ids[i].id))
					ids = append(ids[:i], ids[i+1:]...)
				}

				require.Equal(t, repo.expectedIndex(), idx.snapshot(), "step %d", step)
			}

			for _, owner := range owners {
				subs, _ := repo.ListByOwner(ctx, owner)
				active := 0
				for _, s := range subs {
					if s.Active {
						active++
					}
				}
				assert.LessOrEqual(t, active, 3)
			}
		})
	}
}
