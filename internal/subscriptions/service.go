// Package subscriptions owns candidate job-alert subscriptions and keeps the
// keyword index in step with them.
package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/bissquit/job-alerts/internal/domain"
	"github.com/bissquit/job-alerts/internal/matching"
	"github.com/bissquit/job-alerts/internal/pkg/ctxlog"
	"github.com/go-playground/validator/v10"
)

// DefaultMaxActive is the active subscription limit per owner.
const DefaultMaxActive = 3

// DefaultMinKeywordLength is the shortest keyword the job side extracts.
const DefaultMinKeywordLength = 3

// ServiceConfig contains subscription limits.
type ServiceConfig struct {
	MaxActive int
	// MinKeywordLength must match the job keyword extraction minimum, or
	// shorter keywords could never match.
	MinKeywordLength int
}

// CreateInput holds data for creating a subscription. Empty criteria fields
// and "ALL" mean any value.
type CreateInput struct {
	OwnerID         string
	Keyword         string
	Province        string
	District        string
	Category        string
	EmploymentType  string
	WorkMode        string
	ExperienceLevel string
	SalaryBucket    domain.SalaryBucket
	Frequency       domain.Frequency
	DeliveryMethod  domain.DeliveryMethod
	// Active defaults to true.
	Active *bool
}

// UpdateInput holds a partial update. Nil fields are left unchanged.
type UpdateInput struct {
	Keyword         *string
	Province        *string
	District        *string
	Category        *string
	EmploymentType  *string
	WorkMode        *string
	ExperienceLevel *string
	SalaryBucket    *domain.SalaryBucket
	Frequency       *domain.Frequency
	DeliveryMethod  *domain.DeliveryMethod
	Active          *bool
}

// Service implements subscription business logic.
type Service struct {
	repo       Repository
	maintainer *Maintainer
	validator  *validator.Validate
	maxActive  int
	minKeyword int
}

// NewService creates a new subscription service.
func NewService(repo Repository, maintainer *Maintainer, cfg ServiceConfig) *Service {
	if cfg.MaxActive <= 0 {
		cfg.MaxActive = DefaultMaxActive
	}
	if cfg.MinKeywordLength <= 0 {
		cfg.MinKeywordLength = DefaultMinKeywordLength
	}
	return &Service{
		repo:       repo,
		maintainer: maintainer,
		validator:  newValidator(),
		maxActive:  cfg.MaxActive,
		minKeyword: cfg.MinKeywordLength,
	}
}

// Create validates and stores a new subscription, then indexes it.
func (s *Service) Create(ctx context.Context, input CreateInput) (*domain.Subscription, error) {
	active := true
	if input.Active != nil {
		active = *input.Active
	}

	sub := &domain.Subscription{
		OwnerID: strings.TrimSpace(input.OwnerID),
		Keyword: matching.NormalizeKeyword(input.Keyword),
		Criteria: domain.Criteria{
			Province:        domain.ParseFilter(input.Province),
			District:        domain.ParseFilter(input.District),
			Category:        domain.ParseFilter(input.Category),
			EmploymentType:  domain.ParseFilter(input.EmploymentType),
			WorkMode:        domain.ParseFilter(input.WorkMode),
			ExperienceLevel: domain.ParseFilter(input.ExperienceLevel),
			SalaryBucket:    salaryBucketOrAny(input.SalaryBucket),
		},
		Frequency:      input.Frequency,
		DeliveryMethod: input.DeliveryMethod,
		Active:         active,
	}

	if err := s.validate(sub); err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, sub, s.maxActive); err != nil {
		return nil, s.limitError(err, "create subscription")
	}

	s.maintainer.OnSubscriptionCreated(ctx, sub)

	ctxlog.FromContext(ctx).Info("subscription created",
		"subscription_id", sub.ID,
		"owner_id", sub.OwnerID,
		"keyword", sub.Keyword,
		"active", sub.Active,
	)

	return sub, nil
}

// Update applies a partial update to an owner's subscription. The input is
// merged into the stored row under the repository's row lock.
func (s *Service) Update(ctx context.Context, ownerID, id string, input UpdateInput) (*domain.Subscription, error) {
	previous, sub, err := s.repo.Update(ctx, id, s.maxActive, func(sub *domain.Subscription) error {
		if sub.OwnerID != ownerID {
			return ErrSubscriptionNotOwned
		}
		input.apply(sub)
		return s.validate(sub)
	})
	if err != nil {
		return nil, s.limitError(err, "update subscription")
	}

	s.maintainer.OnSubscriptionUpdated(ctx, sub, previous.Keyword, previous.Active)

	return sub, nil
}

func (in UpdateInput) apply(sub *domain.Subscription) {
	if in.Keyword != nil {
		sub.Keyword = matching.NormalizeKeyword(*in.Keyword)
	}
	setFilter(&sub.Criteria.Province, in.Province)
	setFilter(&sub.Criteria.District, in.District)
	setFilter(&sub.Criteria.Category, in.Category)
	setFilter(&sub.Criteria.EmploymentType, in.EmploymentType)
	setFilter(&sub.Criteria.WorkMode, in.WorkMode)
	setFilter(&sub.Criteria.ExperienceLevel, in.ExperienceLevel)
	if in.SalaryBucket != nil {
		sub.Criteria.SalaryBucket = salaryBucketOrAny(*in.SalaryBucket)
	}
	if in.Frequency != nil {
		sub.Frequency = *in.Frequency
	}
	if in.DeliveryMethod != nil {
		sub.DeliveryMethod = *in.DeliveryMethod
	}
	if in.Active != nil {
		sub.Active = *in.Active
	}
}

// Delete removes an owner's subscription and its index entry.
func (s *Service) Delete(ctx context.Context, ownerID, id string) error {
	if _, err := s.Get(ctx, ownerID, id); err != nil {
		return err
	}

	deleted, err := s.repo.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}

	s.maintainer.OnSubscriptionDeleted(ctx, deleted)

	ctxlog.FromContext(ctx).Info("subscription deleted",
		"subscription_id", deleted.ID,
		"owner_id", deleted.OwnerID,
	)

	return nil
}

// Get returns a subscription if it belongs to ownerID.
func (s *Service) Get(ctx context.Context, ownerID, id string) (*domain.Subscription, error) {
	sub, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.OwnerID != ownerID {
		return nil, ErrSubscriptionNotOwned
	}
	return sub, nil
}

// ListByOwner returns all subscriptions of an owner.
func (s *Service) ListByOwner(ctx context.Context, ownerID string) ([]domain.Subscription, error) {
	subs, err := s.repo.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	return subs, nil
}

func (s *Service) validate(sub *domain.Subscription) error {
	if err := s.validator.Struct(fieldsOf(sub)); err != nil {
		return toValidationError(err)
	}
	if utf8.RuneCountInString(sub.Keyword) < s.minKeyword {
		return &ValidationError{
			Field:  "keyword",
			Reason: fmt.Sprintf("must be at least %d characters", s.minKeyword),
		}
	}
	return nil
}

func (s *Service) limitError(err error, op string) error {
	if errors.Is(err, ErrActiveLimitExceeded) {
		activeLimitRejections.Inc()
		return &ValidationError{
			Field:  "active",
			Reason: fmt.Sprintf("at most %d active subscriptions are allowed", s.maxActive),
			Err:    ErrActiveLimitExceeded,
		}
	}
	var verr *ValidationError
	if errors.Is(err, ErrSubscriptionNotFound) || errors.Is(err, ErrSubscriptionNotOwned) || errors.As(err, &verr) {
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}

func setFilter(dst *domain.Filter, value *string) {
	if value != nil {
		*dst = domain.ParseFilter(*value)
	}
}

func salaryBucketOrAny(b domain.SalaryBucket) domain.SalaryBucket {
	if b == "" {
		return domain.SalaryAny
	}
	return domain.SalaryBucket(strings.ToUpper(string(b)))
}
