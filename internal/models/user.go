package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type User struct {
	ID          uuid.UUID       `json:"id"`
	TelegramID  int64           `json:"telegram_id"`
	FirstName   string          `json:"first_name"`
	Balance     decimal.Decimal `json:"balance"`
	GamesPlayed int             `json:"games_played"`
	Bingos      int             `json:"bingos"`
	TotalWon    decimal.Decimal `json:"total_won"`
	CreatedAt   time.Time       `json:"created_at"`
}

type OpenAccountParams struct {
	TelegramID int64
	FirstName  string
}
