package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/HammerMeetNail/bingohall/internal/models"
)

type fakeEvaluator struct {
	counts map[string]int64
	keys   []string
	err    error
	value  interface{}
}

func (f *fakeEvaluator) Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	cmd := redis.NewCmd(ctx)
	f.keys = append(f.keys, keys[0])
	if f.err != nil {
		cmd.SetErr(f.err)
		return cmd
	}
	if f.value != nil {
		cmd.SetVal(f.value)
		return cmd
	}
	f.counts[keys[0]]++
	cmd.SetVal(f.counts[keys[0]])
	return cmd
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestRateLimiter_BlocksAfterLimit(t *testing.T) {
	eval := &fakeEvaluator{counts: map[string]int64{}}
	rl := NewRateLimiter(eval, 2, time.Minute, "ratelimit:draw:", nil, true)
	handler := rl.Middleware(okHandler())

	for i, want := range []int{http.StatusNoContent, http.StatusNoContent, http.StatusTooManyRequests} {
		req := httptest.NewRequest(http.MethodPost, "/api/games/ABC123/draw", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != want {
			t.Fatalf("request %d: expected %d, got %d", i, want, rec.Code)
		}
		if want == http.StatusTooManyRequests && rec.Header().Get("Retry-After") != "60" {
			t.Fatalf("expected Retry-After 60, got %q", rec.Header().Get("Retry-After"))
		}
	}
	if eval.keys[0] != "ratelimit:draw:10.0.0.1" {
		t.Fatalf("unexpected key %q", eval.keys[0])
	}
}

func TestRateLimiter_RedisErrorFailOpenAndClosed(t *testing.T) {
	tests := []struct {
		name     string
		failOpen bool
		want     int
	}{
		{"fail open", true, http.StatusNoContent},
		{"fail closed", false, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eval := &fakeEvaluator{err: errors.New("down")}
			handler := NewRateLimiter(eval, 5, time.Minute, "rl:", nil, tt.failOpen).Middleware(okHandler())
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, rec.Code)
			}
		})
	}
}

func TestRateLimiter_UnexpectedResultType(t *testing.T) {
	eval := &fakeEvaluator{value: "nope"}
	handler := NewRateLimiter(eval, 5, time.Minute, "rl:", nil, false).Middleware(okHandler())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestRateLimiter_NilRedisPassesThrough(t *testing.T) {
	handler := NewRateLimiter(nil, 1, time.Minute, "rl:", nil, false).Middleware(okHandler())
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
		if rec.Code != http.StatusNoContent {
			t.Fatalf("expected pass-through, got %d", rec.Code)
		}
	}
}

func TestUserOrIPKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	if got := UserOrIPKey(req); got != "ip:203.0.113.5" {
		t.Fatalf("unexpected anonymous key %q", got)
	}

	userID := uuid.New()
	req = req.WithContext(WithUser(req.Context(), &models.User{ID: userID}))
	if got := UserOrIPKey(req); got != "user:"+userID.String() {
		t.Fatalf("unexpected user key %q", got)
	}
}

func TestGetClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Real-IP", " 198.51.100.7 ")
	if got := GetClientIP(req); got != "198.51.100.7" {
		t.Fatalf("expected X-Real-IP, got %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:5555"
	if got := GetClientIP(req); got != "192.0.2.1" {
		t.Fatalf("expected remote addr host, got %q", got)
	}
}
