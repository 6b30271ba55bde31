package game

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/HammerMeetNail/bingohall/internal/models"
)

// Session is one bingo room. All fields are guarded by mu; the check*
// methods and the apply* methods that follow a successful commit must be
// called with it held.
type Session struct {
	mu sync.Mutex

	id         uuid.UUID
	roomCode   string
	status     models.SessionStatus
	drawn      []int
	drawnSet   models.NumberSet
	prizePool  decimal.Decimal
	creatorID  uuid.UUID
	isPrivate  bool
	winnerID   *uuid.UUID
	abandoned  bool
	players    map[uuid.UUID]*models.Participant
	order      []uuid.UUID
	createdAt  time.Time
	startedAt  *time.Time
	finishedAt *time.Time
}

func newSession(roomCode string, creatorID uuid.UUID, private bool, now time.Time) *Session {
	return &Session{
		id:        uuid.New(),
		roomCode:  roomCode,
		status:    models.StatusWaiting,
		drawnSet:  models.NewNumberSet(),
		prizePool: decimal.Zero,
		creatorID: creatorID,
		isPrivate: private,
		players:   make(map[uuid.UUID]*models.Participant),
		createdAt: now,
	}
}

// restoreSession rebuilds a room from its stored view.
func restoreSession(v models.Session) *Session {
	s := &Session{
		id:         v.ID,
		roomCode:   v.RoomCode,
		status:     v.Status,
		drawn:      slices.Clone(v.DrawnNumbers),
		drawnSet:   models.NewNumberSet(v.DrawnNumbers...),
		prizePool:  v.PrizePool,
		creatorID:  v.CreatorID,
		isPrivate:  v.IsPrivate,
		winnerID:   v.WinnerID,
		abandoned:  v.Abandoned,
		players:    make(map[uuid.UUID]*models.Participant, len(v.Players)),
		createdAt:  v.CreatedAt,
		startedAt:  v.StartedAt,
		finishedAt: v.FinishedAt,
	}
	players := slices.Clone(v.Players)
	slices.SortStableFunc(players, func(a, b models.Participant) int { return a.JoinedAt.Compare(b.JoinedAt) })
	for i := range players {
		p := players[i]
		if p.Marked == nil {
			p.Marked = models.NewNumberSet()
		}
		s.players[p.UserID] = &p
		s.order = append(s.order, p.UserID)
	}
	return s
}

func (s *Session) ID() uuid.UUID    { return s.id }
func (s *Session) RoomCode() string { return s.roomCode }

// Snapshot returns a consistent copy of the room.
func (s *Session) Snapshot() models.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view()
}

func (s *Session) Summary() models.SessionSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.SessionSummary{
		ID:          s.id,
		RoomCode:    s.roomCode,
		Status:      s.status,
		PrizePool:   s.prizePool,
		PlayerCount: len(s.order),
		DrawnCount:  len(s.drawn),
		IsPrivate:   s.isPrivate,
		CreatedAt:   s.createdAt,
	}
}

// record is the room state without participants, as persisted in the
// session row.
func (s *Session) record() models.Session {
	return models.Session{
		ID:           s.id,
		RoomCode:     s.roomCode,
		Status:       s.status,
		DrawnNumbers: slices.Clone(s.drawn),
		PrizePool:    s.prizePool,
		CreatorID:    s.creatorID,
		IsPrivate:    s.isPrivate,
		WinnerID:     s.winnerID,
		Abandoned:    s.abandoned,
		CreatedAt:    s.createdAt,
		StartedAt:    s.startedAt,
		FinishedAt:   s.finishedAt,
	}
}

func (s *Session) view() models.Session {
	v := s.record()
	if v.DrawnNumbers == nil {
		v.DrawnNumbers = []int{}
	}
	v.Players = make([]models.Participant, 0, len(s.order))
	for _, id := range s.order {
		p := *s.players[id]
		p.Marked = p.Marked.Clone()
		v.Players = append(v.Players, p)
	}
	return v
}

func (s *Session) player(userID uuid.UUID) (*models.Participant, bool) {
	p, ok := s.players[userID]
	return p, ok
}

func (s *Session) userIDs() []uuid.UUID {
	return slices.Clone(s.order)
}

func (s *Session) hasWinner() bool {
	for _, p := range s.players {
		if p.HasBingo {
			return true
		}
	}
	return false
}

func (s *Session) checkJoin(userID uuid.UUID, maxPlayers int) error {
	if s.status == models.StatusFinished {
		return ErrGameNotActive
	}
	if _, ok := s.players[userID]; ok {
		return ErrAlreadyJoined
	}
	if maxPlayers > 0 && len(s.order) >= maxPlayers {
		return ErrSessionFull
	}
	return nil
}

func (s *Session) checkStart(userID uuid.UUID, minPlayers int) error {
	if s.status != models.StatusWaiting {
		return ErrGameNotWaiting
	}
	if _, ok := s.players[userID]; !ok {
		return ErrNotInGame
	}
	if len(s.order) < minPlayers {
		return ErrNotEnoughPlayers
	}
	return nil
}

// remaining lists undrawn numbers in 1..top in ascending order.
func (s *Session) remaining(top int) []int {
	out := make([]int, 0, top-len(s.drawn))
	for n := 1; n <= top; n++ {
		if !s.drawnSet.Has(n) {
			out = append(out, n)
		}
	}
	return out
}

func (s *Session) checkDraw(top int) error {
	if s.status != models.StatusActive {
		return ErrGameNotActive
	}
	if len(s.drawn) >= top {
		return ErrAllNumbersDrawn
	}
	return nil
}

// checkMark validates a mark. In a room someone already won, late reports
// that the mark is accepted only if it completes a pattern for a player
// without a bingo yet.
func (s *Session) checkMark(userID uuid.UUID, number int, requireDrawn bool) (p *models.Participant, late bool, err error) {
	switch {
	case s.status == models.StatusActive:
	case s.status == models.StatusFinished && s.winnerID != nil && !s.abandoned:
		late = true
	default:
		return nil, false, ErrGameNotActive
	}
	p, ok := s.players[userID]
	if !ok {
		return nil, false, ErrNotInGame
	}
	if late && p.HasBingo {
		return nil, false, ErrGameNotActive
	}
	if !p.Card.Grid.Contains(number) {
		return nil, false, ErrNumberNotOnCard
	}
	if p.Marked.Has(number) {
		return nil, false, ErrAlreadyMarked
	}
	if requireDrawn && !s.drawnSet.Has(number) {
		return nil, false, ErrNumberNotDrawn
	}
	return p, late, nil
}

func (s *Session) checkAbandon(userID uuid.UUID) error {
	if s.status != models.StatusWaiting || len(s.drawn) > 0 {
		return ErrGameNotWaiting
	}
	if s.creatorID != userID {
		return ErrNotCreator
	}
	return nil
}

func (s *Session) addPlayer(p models.Participant, pool decimal.Decimal) {
	p.Marked = p.Marked.Clone()
	s.players[p.UserID] = &p
	s.order = append(s.order, p.UserID)
	s.prizePool = pool
}

func (s *Session) applyStart(at time.Time) {
	s.status = models.StatusActive
	s.startedAt = &at
}

func (s *Session) applyDraw(n int) {
	s.drawn = append(s.drawn, n)
	s.drawnSet.Add(n)
}

func (s *Session) applyMark(p *models.Participant, updated models.Participant) {
	*p = updated
	p.Marked = updated.Marked.Clone()
}

func (s *Session) applyFinish(at time.Time, winnerID *uuid.UUID, abandoned bool) {
	s.status = models.StatusFinished
	s.finishedAt = &at
	s.winnerID = winnerID
	s.abandoned = abandoned
	if abandoned {
		s.prizePool = decimal.Zero
	}
}
