// Package admin exposes operator routes for the index, digests and the
// change feed.
package admin

import (
	"context"
	"net/http"

	"github.com/bissquit/job-alerts/internal/digest"
	"github.com/bissquit/job-alerts/internal/domain"
	"github.com/bissquit/job-alerts/internal/index"
	"github.com/bissquit/job-alerts/internal/jobfeed"
	"github.com/bissquit/job-alerts/internal/matching"
	"github.com/bissquit/job-alerts/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
)

// Rebuilder rebuilds the keyword index from the subscription store.
type Rebuilder interface {
	Rebuild(ctx context.Context) (*index.RebuildResult, error)
}

// KeywordLookup reads one keyword set.
type KeywordLookup interface {
	Members(ctx context.Context, keyword string) ([]string, error)
}

// FeedStatus reports the change feed consumer position.
type FeedStatus interface {
	Status(ctx context.Context) (*jobfeed.Status, error)
}

// Handler serves the admin API.
type Handler struct {
	rebuilder Rebuilder
	keywords  KeywordLookup
	digests   digest.Runner
	feed      FeedStatus
}

// NewHandler creates a new admin handler. feed may be nil when the listener
// is disabled.
func NewHandler(rebuilder Rebuilder, keywords KeywordLookup, digests digest.Runner, feed FeedStatus) *Handler {
	return &Handler{
		rebuilder: rebuilder,
		keywords:  keywords,
		digests:   digests,
		feed:      feed,
	}
}

// RegisterRoutes registers admin routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/index/rebuild", h.RebuildIndex)
	r.Get("/index/keywords/{keyword}", h.GetKeyword)
	r.Post("/digests/{frequency}/run", h.RunDigest)
	r.Get("/feed/cursor", h.GetFeedCursor)
}

var errorMappings = []httputil.ErrorMapping{
	{Error: index.ErrUnavailable, Status: http.StatusServiceUnavailable, Message: "subscription index unavailable"},
	{Error: digest.ErrInvalidFrequency, Status: http.StatusBadRequest, Message: "frequency must be daily or weekly"},
	{Error: digest.ErrRunInProgress, Status: http.StatusConflict},
}

// RebuildResponse is the result of an index rebuild.
type RebuildResponse struct {
	Keywords   int   `json:"keywords"`
	Entries    int   `json:"entries"`
	Removed    int   `json:"removed"`
	DurationMS int64 `json:"duration_ms"`
}

// RebuildIndex handles POST /index/rebuild.
func (h *Handler) RebuildIndex(w http.ResponseWriter, r *http.Request) {
	res, err := h.rebuilder.Rebuild(r.Context())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, RebuildResponse{
		Keywords:   res.Keywords,
		Entries:    res.Entries,
		Removed:    res.Removed,
		DurationMS: res.Duration.Milliseconds(),
	})
}

// KeywordResponse lists the owners indexed under a keyword.
type KeywordResponse struct {
	Keyword string   `json:"keyword"`
	Owners  []string `json:"owners"`
}

// GetKeyword handles GET /index/keywords/{keyword}.
func (h *Handler) GetKeyword(w http.ResponseWriter, r *http.Request) {
	keyword := matching.NormalizeKeyword(chi.URLParam(r, "keyword"))
	if keyword == "" {
		httputil.FieldError(w, "keyword", "is required")
		return
	}

	owners, err := h.keywords.Members(r.Context(), keyword)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	if owners == nil {
		owners = []string{}
	}

	httputil.Success(w, http.StatusOK, KeywordResponse{Keyword: keyword, Owners: owners})
}

// DigestRunResponse summarizes a digest run.
type DigestRunResponse struct {
	Frequency     string `json:"frequency"`
	Subscriptions int    `json:"subscriptions"`
	Groups        int    `json:"groups"`
	Published     int    `json:"published"`
	Skipped       int    `json:"skipped"`
	Failed        int    `json:"failed"`
	Cleaned       int64  `json:"cleaned"`
	DurationMS    int64  `json:"duration_ms"`
}

// RunDigest handles POST /digests/{frequency}/run. The run is synchronous.
func (h *Handler) RunDigest(w http.ResponseWriter, r *http.Request) {
	freq := domain.Frequency(chi.URLParam(r, "frequency"))

	res, err := h.digests.Run(r.Context(), freq)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, DigestRunResponse{
		Frequency:     string(res.Frequency),
		Subscriptions: res.Subscriptions,
		Groups:        res.Groups,
		Published:     res.Published,
		Skipped:       res.Skipped,
		Failed:        res.Failed,
		Cleaned:       res.Cleaned,
		DurationMS:    res.Duration.Milliseconds(),
	})
}

// FeedCursorResponse describes the change feed consumer position.
type FeedCursorResponse struct {
	Consumer   string `json:"consumer"`
	Cursor     int64  `json:"cursor"`
	CursorXact int64  `json:"cursor_xact"`
	Latest     int64  `json:"latest"`
	Lag        int64  `json:"lag"`
}

// GetFeedCursor handles GET /feed/cursor.
func (h *Handler) GetFeedCursor(w http.ResponseWriter, r *http.Request) {
	if h.feed == nil {
		httputil.Error(w, http.StatusServiceUnavailable, "job change listener is disabled")
		return
	}

	st, err := h.feed.Status(r.Context())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, FeedCursorResponse{
		Consumer:   st.Consumer,
		Cursor:     st.Cursor,
		CursorXact: st.CursorXact,
		Latest:     st.Latest,
		Lag:        st.Lag,
	})
}
