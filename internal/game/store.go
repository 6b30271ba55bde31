package game

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/HammerMeetNail/bingohall/internal/models"
)

// Changeset is every durable effect of one operation. A Store applies it
// all-or-nothing.
type Changeset struct {
	// ReplaceDeck removes every stored card before NewCards are inserted.
	ReplaceDeck bool
	NewCards    []models.Card
	CardUpdates []CardUpdate

	NewUsers []models.User
	Accounts []AccountUpdate
	// Entries get their ID assigned by Apply.
	Entries []*models.LedgerEntry

	// Session is the row-level state of a room; Players is left empty and
	// the changed participants travel in Players below.
	Session *models.Session
	Players []PlayerRecord
}

type CardUpdate struct {
	Number int
	Used   bool
}

// AccountUpdate carries the cached totals of a user after the changeset.
type AccountUpdate struct {
	UserID      uuid.UUID
	Balance     decimal.Decimal
	GamesPlayed int
	Bingos      int
	TotalWon    decimal.Decimal
}

type PlayerRecord struct {
	SessionID uuid.UUID
	models.Participant
}

func (cs *Changeset) Empty() bool {
	return !cs.ReplaceDeck && len(cs.NewCards) == 0 && len(cs.CardUpdates) == 0 &&
		len(cs.NewUsers) == 0 && len(cs.Accounts) == 0 && len(cs.Entries) == 0 &&
		cs.Session == nil && len(cs.Players) == 0
}

// Snapshot is the state a Service is rebuilt from at startup. Sessions
// hold only rooms that are not finished.
type Snapshot struct {
	Cards    []models.Card
	Users    []models.User
	Sessions []models.Session
}

type Store interface {
	Apply(ctx context.Context, cs *Changeset) error
	History(ctx context.Context, userID uuid.UUID, page models.Page) ([]models.LedgerEntry, error)
}

type StateStore interface {
	Store
	Load(ctx context.Context) (*Snapshot, error)
}

// MemoryStore keeps everything in process. Used by tests and by the server
// when no database is configured.
type MemoryStore struct {
	mu       sync.Mutex
	nextID   int64
	cards    map[int]models.Card
	users    map[uuid.UUID]models.User
	entries  []models.LedgerEntry
	sessions map[uuid.UUID]models.Session
	players  map[uuid.UUID][]models.Participant
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cards:    make(map[int]models.Card),
		users:    make(map[uuid.UUID]models.User),
		sessions: make(map[uuid.UUID]models.Session),
		players:  make(map[uuid.UUID][]models.Participant),
	}
}

func (m *MemoryStore) Apply(ctx context.Context, cs *Changeset) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if cs.ReplaceDeck {
		m.cards = make(map[int]models.Card)
	}
	for _, c := range cs.NewCards {
		m.cards[c.Number] = c
	}
	for _, u := range cs.CardUpdates {
		c := m.cards[u.Number]
		c.Used = u.Used
		m.cards[u.Number] = c
	}
	for _, u := range cs.NewUsers {
		m.users[u.ID] = u
	}
	for _, a := range cs.Accounts {
		u := m.users[a.UserID]
		u.Balance = a.Balance
		u.GamesPlayed = a.GamesPlayed
		u.Bingos = a.Bingos
		u.TotalWon = a.TotalWon
		m.users[a.UserID] = u
	}
	for _, e := range cs.Entries {
		m.nextID++
		e.ID = m.nextID
		if e.CreatedAt.IsZero() {
			e.CreatedAt = time.Now().UTC()
		}
		m.entries = append(m.entries, *e)
	}
	if cs.Session != nil {
		s := *cs.Session
		s.Players = nil
		s.DrawnNumbers = slices.Clone(s.DrawnNumbers)
		m.sessions[s.ID] = s
	}
	for _, p := range cs.Players {
		m.upsertPlayer(p)
	}
	return nil
}

func (m *MemoryStore) upsertPlayer(p PlayerRecord) {
	part := p.Participant
	part.Marked = part.Marked.Clone()
	list := m.players[p.SessionID]
	for i := range list {
		if list[i].UserID == part.UserID {
			list[i] = part
			return
		}
	}
	m.players[p.SessionID] = append(list, part)
}

func (m *MemoryStore) History(ctx context.Context, userID uuid.UUID, page models.Page) ([]models.LedgerEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	page = page.Normalize()
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.LedgerEntry, 0, page.Limit)
	skipped := 0
	for i := len(m.entries) - 1; i >= 0; i-- {
		e := m.entries[i]
		if e.UserID != userID {
			continue
		}
		if skipped < page.Offset {
			skipped++
			continue
		}
		out = append(out, e)
		if len(out) == page.Limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) Load(ctx context.Context) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := &Snapshot{}
	for _, c := range m.cards {
		snap.Cards = append(snap.Cards, c)
	}
	slices.SortFunc(snap.Cards, func(a, b models.Card) int { return a.Number - b.Number })
	for _, u := range m.users {
		snap.Users = append(snap.Users, u)
	}
	for id, s := range m.sessions {
		if s.Status == models.StatusFinished {
			continue
		}
		s.Players = slices.Clone(m.players[id])
		snap.Sessions = append(snap.Sessions, s)
	}
	return snap, nil
}

// Entries returns every entry ever written for userID, oldest first.
func (m *MemoryStore) Entries(userID uuid.UUID) []models.LedgerEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.LedgerEntry
	for _, e := range m.entries {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out
}

func (m *MemoryStore) User(id uuid.UUID) (models.User, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	return u, ok
}

func (m *MemoryStore) StoredSession(id uuid.UUID) (models.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if ok {
		s.Players = slices.Clone(m.players[id])
	}
	return s, ok
}
