package httputil

import (
	"context"
	"errors"
	"net/http"

	"github.com/bissquit/job-alerts/internal/pkg/ctxlog"
)

// ErrorMapping defines how a domain error maps to an HTTP response.
type ErrorMapping struct {
	Error   error
	Status  int
	Message string // if empty, uses err.Error()
}

// InvalidField is implemented by input errors that name the offending field.
type InvalidField interface {
	error
	InvalidField() (field, reason string)
}

// HandleError writes the response for err. Errors implementing InvalidField
// become 400 with details, then mappings are tried in order. Anything else is
// logged and returned as 500, except a request that ran out of time (504).
func HandleError(ctx context.Context, w http.ResponseWriter, err error, mappings []ErrorMapping) {
	var fe InvalidField
	if errors.As(err, &fe) {
		field, reason := fe.InvalidField()
		FieldError(w, field, reason)
		return
	}

	for _, m := range mappings {
		if errors.Is(err, m.Error) {
			msg := m.Message
			if msg == "" {
				msg = err.Error()
			}
			Error(w, m.Status, msg)
			return
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		ctxlog.FromContext(ctx).Warn("request timed out", "error", err)
		Error(w, http.StatusGatewayTimeout, "request timed out")
		return
	}

	ctxlog.FromContext(ctx).Error("internal error", "error", err)
	Error(w, http.StatusInternalServerError, "internal error")
}
