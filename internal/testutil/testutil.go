// Package testutil holds request and response helpers shared by handler tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/HammerMeetNail/bingohall/internal/middleware"
	"github.com/HammerMeetNail/bingohall/internal/models"
)

func NewTestRequest(method, path string, body io.Reader) *http.Request {
	return httptest.NewRequest(method, path, body)
}

func NewTestRequestWithJSON(t *testing.T, method, path string, payload any) *http.Request {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal request body: %v", err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithUser returns req as if the auth middleware had accepted user.
func WithUser(req *http.Request, user *models.User) *http.Request {
	return req.WithContext(middleware.WithUser(req.Context(), user))
}

func ParseJSONResponse(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("parse json response %q: %v", body, err)
	}
	return out
}

func AssertStatusCode(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Fatalf("expected status %d, got %d (body %s)", want, rr.Code, rr.Body.String())
	}
}

func AssertJSONContains(t *testing.T, body []byte, key string, want any) {
	t.Helper()
	got := ParseJSONResponse(t, body)
	if got[key] != want {
		t.Fatalf("expected %s=%v, got %v", key, want, got[key])
	}
}

func RandomUUID() uuid.UUID {
	return uuid.New()
}

// RandomTelegramID returns a positive id in the range real accounts use.
func RandomTelegramID() int64 {
	return rand.Int64N(1<<40) + 1
}
