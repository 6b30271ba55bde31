package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type EntryKind string

const (
	EntryDeposit    EntryKind = "deposit"
	EntryWithdrawal EntryKind = "withdrawal"
	EntryFee        EntryKind = "entryFee"
	EntryPrize      EntryKind = "prize"
	EntryBonus      EntryKind = "bonus"
)

// Outbound kinds may never take a balance below zero.
func (k EntryKind) Outbound() bool {
	return k == EntryFee || k == EntryWithdrawal
}

func (k EntryKind) Valid() bool {
	switch k {
	case EntryDeposit, EntryWithdrawal, EntryFee, EntryPrize, EntryBonus:
		return true
	}
	return false
}

// LedgerEntry is immutable once written.
type LedgerEntry struct {
	ID           int64           `json:"id"`
	UserID       uuid.UUID       `json:"user_id"`
	Kind         EntryKind       `json:"kind"`
	Amount       decimal.Decimal `json:"amount"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	Description  string          `json:"description"`
	SessionID    *uuid.UUID      `json:"session_id,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

type Page struct {
	Limit  int
	Offset int
}

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// Normalize clamps a page to sane bounds.
func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}
