package game

import (
	"cmp"
	"crypto/rand"
	"encoding/hex"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/HammerMeetNail/bingohall/internal/models"
)

const defaultCodeAttempts = 10

// RandomRoomCode returns six upper-case hex characters.
func RandomRoomCode() (string, error) {
	b := make([]byte, 3)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(b)), nil
}

func NormalizeRoomCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Registry maps room codes to live sessions.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	pending  map[string]struct{}

	newCode  func() (string, error)
	attempts int
}

func NewRegistry(newCode func() (string, error)) *Registry {
	if newCode == nil {
		newCode = RandomRoomCode
	}
	return &Registry{
		sessions: make(map[string]*Session),
		pending:  make(map[string]struct{}),
		newCode:  newCode,
		attempts: defaultCodeAttempts,
	}
}

func (r *Registry) Lookup(code string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[NormalizeRoomCode(code)]
	return s, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// reserveCode allocates a code no live or pending session uses. The caller
// must either add a session under it or release it.
func (r *Registry) reserveCode() (string, error) {
	for i := 0; i < r.attempts; i++ {
		code, err := r.newCode()
		if err != nil {
			return "", err
		}
		code = NormalizeRoomCode(code)
		r.mu.Lock()
		_, live := r.sessions[code]
		_, held := r.pending[code]
		if !live && !held && code != "" {
			r.pending[code] = struct{}{}
			r.mu.Unlock()
			return code, nil
		}
		r.mu.Unlock()
	}
	return "", ErrRoomCodeExhausted
}

func (r *Registry) release(code string) {
	r.mu.Lock()
	delete(r.pending, code)
	r.mu.Unlock()
}

// add publishes a session. An existing session is never replaced.
func (r *Registry) add(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, s.roomCode)
	if _, ok := r.sessions[s.roomCode]; ok {
		return false
	}
	r.sessions[s.roomCode] = s
	return true
}

// List returns summaries newest first, optionally filtered by status.
// Private rooms are left out.
func (r *Registry) List(status models.SessionStatus, page models.Page) []models.SessionSummary {
	page = page.Normalize()
	r.mu.RLock()
	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.mu.RUnlock()

	summaries := make([]models.SessionSummary, 0, len(all))
	for _, s := range all {
		sum := s.Summary()
		if sum.IsPrivate || (status != "" && sum.Status != status) {
			continue
		}
		summaries = append(summaries, sum)
	}
	slices.SortFunc(summaries, func(a, b models.SessionSummary) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.RoomCode, b.RoomCode)
	})
	if page.Offset >= len(summaries) {
		return []models.SessionSummary{}
	}
	summaries = summaries[page.Offset:]
	if len(summaries) > page.Limit {
		summaries = summaries[:page.Limit]
	}
	return summaries
}

// Retire forgets finished sessions that ended before the cutoff and returns
// how many were dropped.
func (r *Registry) Retire(before time.Time) int {
	r.mu.RLock()
	var stale []*Session
	for _, s := range r.sessions {
		stale = append(stale, s)
	}
	r.mu.RUnlock()

	dropped := 0
	for _, s := range stale {
		s.mu.Lock()
		done := s.status == models.StatusFinished && s.finishedAt != nil && s.finishedAt.Before(before)
		s.mu.Unlock()
		if !done {
			continue
		}
		r.mu.Lock()
		if r.sessions[s.roomCode] == s {
			delete(r.sessions, s.roomCode)
			dropped++
		}
		r.mu.Unlock()
	}
	return dropped
}
