package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type SessionStatus string

const (
	StatusWaiting  SessionStatus = "waiting"
	StatusActive   SessionStatus = "active"
	StatusFinished SessionStatus = "finished"
)

func (s SessionStatus) rank() int {
	switch s {
	case StatusWaiting:
		return 0
	case StatusActive:
		return 1
	case StatusFinished:
		return 2
	}
	return -1
}

// CanAdvanceTo reports whether moving from s to next keeps status monotonic.
func (s SessionStatus) CanAdvanceTo(next SessionStatus) bool {
	return s.rank() >= 0 && next.rank() > s.rank()
}

func ParseSessionStatus(v string) (SessionStatus, bool) {
	switch SessionStatus(v) {
	case StatusWaiting, StatusActive, StatusFinished:
		return SessionStatus(v), true
	}
	return "", false
}

// Participant is a read-only view of a player's state in one session.
type Participant struct {
	UserID      uuid.UUID       `json:"user_id"`
	FirstName   string          `json:"first_name,omitempty"`
	Card        Card            `json:"card"`
	Marked      NumberSet       `json:"marked_numbers"`
	HasBingo    bool            `json:"has_bingo"`
	PrizeAmount decimal.Decimal `json:"prize_amount"`
	JoinedAt    time.Time       `json:"joined_at"`
}

// Session is a read-only view of a room.
type Session struct {
	ID           uuid.UUID       `json:"id"`
	RoomCode     string          `json:"room_code"`
	Status       SessionStatus   `json:"status"`
	DrawnNumbers []int           `json:"drawn_numbers"`
	PrizePool    decimal.Decimal `json:"prize_pool"`
	CreatorID    uuid.UUID       `json:"created_by"`
	IsPrivate    bool            `json:"is_private"`
	WinnerID     *uuid.UUID      `json:"winner_id,omitempty"`
	Abandoned    bool            `json:"abandoned,omitempty"`
	Players      []Participant   `json:"players"`
	CreatedAt    time.Time       `json:"created_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	FinishedAt   *time.Time      `json:"finished_at,omitempty"`
}

// Player returns the participant for userID, if present.
func (s *Session) Player(userID uuid.UUID) (Participant, bool) {
	for _, p := range s.Players {
		if p.UserID == userID {
			return p, true
		}
	}
	return Participant{}, false
}

// SessionSummary is the list view; it omits per-player cards.
type SessionSummary struct {
	ID          uuid.UUID       `json:"id"`
	RoomCode    string          `json:"room_code"`
	Status      SessionStatus   `json:"status"`
	PrizePool   decimal.Decimal `json:"prize_pool"`
	PlayerCount int             `json:"player_count"`
	DrawnCount  int             `json:"drawn_count"`
	IsPrivate   bool            `json:"is_private"`
	CreatedAt   time.Time       `json:"created_at"`
}

type SelectCardParams struct {
	UserID     uuid.UUID
	CardNumber int
	RoomCode   string
	Private    bool
}
