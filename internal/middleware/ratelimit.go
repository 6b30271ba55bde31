package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/HammerMeetNail/bingohall/internal/logging"
)

// Evaluator is the part of the redis client the limiter needs.
type Evaluator interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// incrWithExpiry atomically counts a hit and starts the window on the first one.
const incrWithExpiry = `
local current
current = redis.call("INCR", KEYS[1])
if current == 1 then
	redis.call("EXPIRE", KEYS[1], ARGV[1])
end
return current
`

type RateLimiter struct {
	redis  Evaluator
	limit  int64
	window time.Duration
	prefix string
	keyFn  func(r *http.Request) string
	// failOpen lets requests through when redis errors. Money-moving
	// endpoints set it to false.
	failOpen bool
}

func NewRateLimiter(redis Evaluator, limit int64, window time.Duration, prefix string, keyFn func(r *http.Request) string, failOpen bool) *RateLimiter {
	if keyFn == nil {
		keyFn = GetClientIP
	}
	return &RateLimiter{
		redis:    redis,
		limit:    limit,
		window:   window,
		prefix:   prefix,
		keyFn:    keyFn,
		failOpen: failOpen,
	}
}

func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl == nil || rl.redis == nil || rl.limit <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		keySuffix := rl.keyFn(r)
		if keySuffix == "" {
			keySuffix = GetClientIP(r)
		}
		key := fmt.Sprintf("%s%s", rl.prefix, keySuffix)

		ttlSeconds := int64(rl.window.Seconds())
		if ttlSeconds < 1 {
			ttlSeconds = 1
		}
		result, err := rl.redis.Eval(r.Context(), incrWithExpiry, []string{key}, ttlSeconds).Result()
		if err != nil {
			logging.Error("Rate limit Redis error", map[string]interface{}{"error": err.Error()})
			rl.unavailable(w, r, next)
			return
		}

		var count int64
		// Lua integers come back as int64, but be lenient with float64.
		switch v := result.(type) {
		case int64:
			count = v
		case float64:
			count = int64(v)
		default:
			logging.Error("Rate limit Redis script returned unexpected type", map[string]interface{}{"type": fmt.Sprintf("%T", result)})
			rl.unavailable(w, r, next)
			return
		}

		if count > rl.limit {
			w.Header().Set("Retry-After", strconv.FormatInt(ttlSeconds, 10))
			writeError(w, http.StatusTooManyRequests, "Rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Wrap is Middleware for a HandlerFunc, convenient when registering routes.
func (rl *RateLimiter) Wrap(next http.HandlerFunc) http.HandlerFunc {
	return rl.Middleware(next).ServeHTTP
}

func (rl *RateLimiter) unavailable(w http.ResponseWriter, r *http.Request, next http.Handler) {
	if rl.failOpen {
		next.ServeHTTP(w, r)
		return
	}
	writeError(w, http.StatusServiceUnavailable, "Rate limiting temporarily unavailable")
}

// UserOrIPKey keys the limiter by authenticated user, falling back to the
// client address for anonymous requests.
func UserOrIPKey(r *http.Request) string {
	if user := GetUserFromContext(r.Context()); user != nil {
		return "user:" + user.ID.String()
	}
	return "ip:" + GetClientIP(r)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// GetClientIP extracts the client IP from the request, respecting X-Forwarded-For
func GetClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// The first address is the client.
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
