package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/HammerMeetNail/bingohall/internal/models"
	"github.com/HammerMeetNail/bingohall/internal/services"
)

type fakeAuthenticator struct {
	users map[string]*models.User
}

func (f *fakeAuthenticator) Authenticate(ctx context.Context, token string) (*models.User, error) {
	if u, ok := f.users[token]; ok {
		return u, nil
	}
	return nil, services.ErrInvalidToken
}

func TestAuthMiddleware_AttachesUser(t *testing.T) {
	user := &models.User{ID: uuid.New()}
	m := NewAuthMiddleware(&fakeAuthenticator{users: map[string]*models.User{"good": user}})

	var got *models.User
	handler := m.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetUserFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set("Authorization", "Bearer good")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if got == nil || got.ID != user.ID {
		t.Fatalf("expected user in context, got %+v", got)
	}

	got = nil
	req = httptest.NewRequest(http.MethodGet, "/ws/games/ABC123?token=good", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if got == nil {
		t.Fatal("expected query token to authenticate")
	}
}

func TestAuthMiddleware_InvalidTokenIsAnonymous(t *testing.T) {
	m := NewAuthMiddleware(&fakeAuthenticator{users: map[string]*models.User{}})

	called := false
	handler := m.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		if GetUserFromContext(r.Context()) != nil {
			t.Fatal("expected no user")
		}
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer bad")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if !called {
		t.Fatal("expected request to continue anonymously")
	}
}

func TestAuthMiddleware_RequireAuth(t *testing.T) {
	m := NewAuthMiddleware(nil)
	handler := m.RequireAuth(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithUser(req.Context(), &models.User{ID: uuid.New()}))
	rec = httptest.NewRecorder()
	handler(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
}

func TestTokenFromRequest(t *testing.T) {
	tests := []struct {
		name   string
		header string
		url    string
		want   string
	}{
		{"bearer", "Bearer abc", "/", "abc"},
		{"lowercase scheme", "bearer abc", "/", "abc"},
		{"other scheme", "Basic abc", "/?token=q", ""},
		{"query", "", "/?token=q", "q"},
		{"none", "", "/", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.url, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if got := TokenFromRequest(req); got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}
