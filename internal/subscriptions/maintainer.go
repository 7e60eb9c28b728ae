package subscriptions

import (
	"context"
	"log/slog"
	"time"

	"github.com/bissquit/job-alerts/internal/domain"
	"github.com/bissquit/job-alerts/internal/index"
	"github.com/bissquit/job-alerts/internal/pkg/ctxlog"
)

// KeywordGuard answers whether removing an owner from a keyword set would
// drop a keyword still used by another of the owner's active subscriptions.
type KeywordGuard interface {
	HasOtherActiveWithKeyword(ctx context.Context, ownerID, keyword, excludeID string) (bool, error)
}

// Maintainer mirrors subscription writes into the keyword index.
//
// Index updates are best effort: they run on a context detached from the
// caller's cancellation, are bounded by a timeout, and their failures are
// logged and counted but never returned. A rebuild repairs any drift.
type Maintainer struct {
	index   index.Index
	guard   KeywordGuard
	timeout time.Duration
}

// NewMaintainer creates a new index maintainer.
func NewMaintainer(idx index.Index, guard KeywordGuard, timeout time.Duration) *Maintainer {
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	return &Maintainer{index: idx, guard: guard, timeout: timeout}
}

// OnSubscriptionCreated indexes an active subscription.
func (m *Maintainer) OnSubscriptionCreated(ctx context.Context, sub *domain.Subscription) {
	if !sub.Active {
		return
	}
	m.apply(ctx, index.Mutation{OwnerID: sub.OwnerID, Add: []string{sub.Keyword}})
}

// OnSubscriptionUpdated reconciles the index after an update.
func (m *Maintainer) OnSubscriptionUpdated(ctx context.Context, sub *domain.Subscription, oldKeyword string, oldActive bool) {
	ctx, cancel := m.detach(ctx)
	defer cancel()

	mut := index.Mutation{OwnerID: sub.OwnerID}

	switch {
	case oldKeyword != sub.Keyword:
		if m.canRemove(ctx, sub, oldKeyword) {
			mut.Remove = append(mut.Remove, oldKeyword)
		}
		if sub.Active {
			mut.Add = append(mut.Add, sub.Keyword)
		}
	case oldActive != sub.Active:
		if sub.Active {
			mut.Add = append(mut.Add, sub.Keyword)
		} else if m.canRemove(ctx, sub, sub.Keyword) {
			mut.Remove = append(mut.Remove, sub.Keyword)
		}
	case sub.Active:
		mut.Add = append(mut.Add, sub.Keyword)
	}

	m.applyDetached(ctx, mut)
}

// OnSubscriptionDeleted removes the owner from the keyword unless another
// active subscription still needs it.
func (m *Maintainer) OnSubscriptionDeleted(ctx context.Context, sub *domain.Subscription) {
	ctx, cancel := m.detach(ctx)
	defer cancel()

	if !m.canRemove(ctx, sub, sub.Keyword) {
		return
	}
	m.applyDetached(ctx, index.Mutation{OwnerID: sub.OwnerID, Remove: []string{sub.Keyword}})
}

func (m *Maintainer) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
}

// canRemove fails closed: if the guard cannot be consulted the owner stays
// indexed, because a stale entry only costs one extra scoring pass.
func (m *Maintainer) canRemove(ctx context.Context, sub *domain.Subscription, keyword string) bool {
	if m.guard == nil {
		return true
	}
	other, err := m.guard.HasOtherActiveWithKeyword(ctx, sub.OwnerID, keyword, sub.ID)
	if err != nil {
		indexMutationFailures.WithLabelValues("guard").Inc()
		ctxlog.FromContext(ctx).Warn("index removal skipped, keyword guard failed",
			"owner_id", sub.OwnerID,
			"subscription_id", sub.ID,
			"keyword", keyword,
			"error", err,
		)
		return false
	}
	return !other
}

func (m *Maintainer) apply(ctx context.Context, mut index.Mutation) {
	ctx, cancel := m.detach(ctx)
	defer cancel()
	m.applyDetached(ctx, mut)
}

func (m *Maintainer) applyDetached(ctx context.Context, mut index.Mutation) {
	if mut.IsEmpty() {
		return
	}

	if err := m.index.Apply(ctx, mut); err != nil {
		indexMutationFailures.WithLabelValues("apply").Inc()
		ctxlog.FromContext(ctx).Warn("index update failed",
			"owner_id", mut.OwnerID,
			"add", mut.Add,
			"remove", mut.Remove,
			"error", err,
		)
		return
	}

	indexMutations.Inc()
	slog.Debug("index updated", "owner_id", mut.OwnerID, "add", mut.Add, "remove", mut.Remove)
}
