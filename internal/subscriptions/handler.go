package subscriptions

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/bissquit/job-alerts/internal/domain"
	"github.com/bissquit/job-alerts/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Handler exposes subscription management to the job board backend.
type Handler struct {
	service *Service
}

// NewHandler creates a new subscriptions handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers the per-owner subscription routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/owners/{ownerID}/subscriptions", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Create)
		r.Get("/{id}", h.Get)
		r.Patch("/{id}", h.Update)
		r.Delete("/{id}", h.Delete)
	})
}

// CriteriaRequest carries filter values; omitted or "ALL" means any.
type CriteriaRequest struct {
	Province        string              `json:"province"`
	District        string              `json:"district"`
	Category        string              `json:"category"`
	EmploymentType  string              `json:"employment_type"`
	WorkMode        string              `json:"work_mode"`
	ExperienceLevel string              `json:"experience_level"`
	SalaryBucket    domain.SalaryBucket `json:"salary_bucket"`
}

// CreateRequest is the body of POST /subscriptions.
type CreateRequest struct {
	Keyword        string                `json:"keyword"`
	Criteria       CriteriaRequest       `json:"criteria"`
	Frequency      domain.Frequency      `json:"frequency"`
	DeliveryMethod domain.DeliveryMethod `json:"delivery_method"`
	Active         *bool                 `json:"active"`
}

// UpdateRequest is the body of PATCH /subscriptions/{id}.
type UpdateRequest struct {
	Keyword         *string                `json:"keyword"`
	Province        *string                `json:"province"`
	District        *string                `json:"district"`
	Category        *string                `json:"category"`
	EmploymentType  *string                `json:"employment_type"`
	WorkMode        *string                `json:"work_mode"`
	ExperienceLevel *string                `json:"experience_level"`
	SalaryBucket    *domain.SalaryBucket   `json:"salary_bucket"`
	Frequency       *domain.Frequency      `json:"frequency"`
	DeliveryMethod  *domain.DeliveryMethod `json:"delivery_method"`
	Active          *bool                  `json:"active"`
}

// SubscriptionResponse is the wire form of a subscription.
type SubscriptionResponse struct {
	ID             string            `json:"id"`
	OwnerID        string            `json:"owner_id"`
	Keyword        string            `json:"keyword"`
	Criteria       map[string]string `json:"criteria"`
	Frequency      string            `json:"frequency"`
	DeliveryMethod string            `json:"delivery_method"`
	Active         bool              `json:"active"`
	LastNotifiedAt *time.Time        `json:"last_notified_at"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

func toResponse(s *domain.Subscription) SubscriptionResponse {
	return SubscriptionResponse{
		ID:      s.ID,
		OwnerID: s.OwnerID,
		Keyword: s.Keyword,
		Criteria: map[string]string{
			"province":         s.Criteria.Province.String(),
			"district":         s.Criteria.District.String(),
			"category":         s.Criteria.Category.String(),
			"employment_type":  s.Criteria.EmploymentType.String(),
			"work_mode":        s.Criteria.WorkMode.String(),
			"experience_level": s.Criteria.ExperienceLevel.String(),
			"salary_bucket":    string(s.Criteria.SalaryBucket),
		},
		Frequency:      string(s.Frequency),
		DeliveryMethod: string(s.DeliveryMethod),
		Active:         s.Active,
		LastNotifiedAt: s.LastNotifiedAt,
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
	}
}

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrSubscriptionNotFound, Status: http.StatusNotFound, Message: "subscription not found"},
	// another owner's subscription is reported as missing
	{Error: ErrSubscriptionNotOwned, Status: http.StatusNotFound, Message: "subscription not found"},
}

func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	httputil.HandleError(r.Context(), w, err, errorMappings)
}

// subscriptionID returns the {id} path parameter in canonical form. An ID
// that is not a UUID cannot exist.
func subscriptionID(r *http.Request) (string, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return "", ErrSubscriptionNotFound
	}
	return id.String(), nil
}

// List handles GET /owners/{ownerID}/subscriptions.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	subs, err := h.service.ListByOwner(r.Context(), chi.URLParam(r, "ownerID"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	out := make([]SubscriptionResponse, 0, len(subs))
	for i := range subs {
		out = append(out, toResponse(&subs[i]))
	}
	httputil.Success(w, http.StatusOK, out)
}

// Create handles POST /owners/{ownerID}/subscriptions.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sub, err := h.service.Create(r.Context(), CreateInput{
		OwnerID:         chi.URLParam(r, "ownerID"),
		Keyword:         req.Keyword,
		Province:        req.Criteria.Province,
		District:        req.Criteria.District,
		Category:        req.Criteria.Category,
		EmploymentType:  req.Criteria.EmploymentType,
		WorkMode:        req.Criteria.WorkMode,
		ExperienceLevel: req.Criteria.ExperienceLevel,
		SalaryBucket:    req.Criteria.SalaryBucket,
		Frequency:       req.Frequency,
		DeliveryMethod:  req.DeliveryMethod,
		Active:          req.Active,
	})
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	httputil.Success(w, http.StatusCreated, toResponse(sub))
}

// Get handles GET /owners/{ownerID}/subscriptions/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := subscriptionID(r)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	sub, err := h.service.Get(r.Context(), chi.URLParam(r, "ownerID"), id)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	httputil.Success(w, http.StatusOK, toResponse(sub))
}

// Update handles PATCH /owners/{ownerID}/subscriptions/{id}.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := subscriptionID(r)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	var req UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sub, err := h.service.Update(r.Context(), chi.URLParam(r, "ownerID"), id, UpdateInput(req))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	httputil.Success(w, http.StatusOK, toResponse(sub))
}

// Delete handles DELETE /owners/{ownerID}/subscriptions/{id}.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := subscriptionID(r)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	if err := h.service.Delete(r.Context(), chi.URLParam(r, "ownerID"), id); err != nil {
		h.handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
