package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type EventKind string

const (
	EventPlayerJoined  EventKind = "playerJoined"
	EventGameStarted   EventKind = "gameStarted"
	EventNumberDrawn   EventKind = "numberDrawn"
	EventBingo         EventKind = "bingo"
	EventGameAbandoned EventKind = "gameAbandoned"
)

// Event is a room-scoped notification describing one state change.
type Event struct {
	ID         uuid.UUID `json:"id"`
	Kind       EventKind `json:"event"`
	RoomCode   string    `json:"room_code"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload"`
}

type PlayerJoinedPayload struct {
	UserID      uuid.UUID       `json:"user_id"`
	FirstName   string          `json:"first_name,omitempty"`
	CardNumber  int             `json:"card_number"`
	PlayerCount int             `json:"player_count"`
	PrizePool   decimal.Decimal `json:"prize_pool"`
	Status      SessionStatus   `json:"status"`
	Created     bool            `json:"created"`
}

type GameStartedPayload struct {
	StartedBy   uuid.UUID       `json:"started_by"`
	PlayerCount int             `json:"player_count"`
	PrizePool   decimal.Decimal `json:"prize_pool"`
	StartedAt   time.Time       `json:"started_at"`
}

type NumberDrawnPayload struct {
	Number     int    `json:"number"`
	Label      string `json:"label"`
	TotalDrawn int    `json:"total_drawn"`
	Remaining  int    `json:"remaining"`
}

type BingoPayload struct {
	UserID      uuid.UUID       `json:"user_id"`
	CardNumber  int             `json:"card_number"`
	Winner      bool            `json:"winner"`
	Prize       decimal.Decimal `json:"prize"`
	Lines       []string        `json:"lines"`
	Status      SessionStatus   `json:"status"`
	DrawnCount  int             `json:"drawn_count"`
	MarkedCount int             `json:"marked_count"`
}

type GameAbandonedPayload struct {
	AbandonedBy uuid.UUID       `json:"abandoned_by"`
	Refunded    int             `json:"refunded"`
	RefundEach  decimal.Decimal `json:"refund_each"`
}
