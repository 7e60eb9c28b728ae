package httputil

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

type stubValidator struct {
	subject string
	role    Role
	err     error
}

func (s stubValidator) ValidateToken(context.Context, string) (string, Role, error) {
	return s.subject, s.role, s.err
}

func TestAuthMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		header     string
		validator  stubValidator
		wantStatus int
	}{
		{name: "missing header", wantStatus: http.StatusUnauthorized},
		{name: "not bearer", header: "Basic abc", wantStatus: http.StatusUnauthorized},
		{
			name:       "invalid token",
			header:     "Bearer bad",
			validator:  stubValidator{err: errors.New("expired")},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "not admin",
			header:     "Bearer ok",
			validator:  stubValidator{subject: "svc", role: "reader"},
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "admin",
			header:     "bearer ok",
			validator:  stubValidator{subject: "ops", role: RoleAdmin},
			wantStatus: http.StatusNoContent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotSubject string
			handler := AuthMiddleware(tt.validator)(RequireRole(RoleAdmin)(
				http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					gotSubject = GetSubject(r.Context())
					assert.Equal(t, RoleAdmin, GetRole(r.Context()))
					w.WriteHeader(http.StatusNoContent)
				}),
			))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusNoContent {
				assert.Equal(t, "ops", gotSubject)
			}
		})
	}
}

func TestRequireRole_WithoutAuth(t *testing.T) {
	handler := RequireRole(RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
