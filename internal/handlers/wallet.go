package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/HammerMeetNail/bingohall/internal/models"
)

type WalletHandler struct {
	games GameService
}

func NewWalletHandler(games GameService) *WalletHandler {
	return &WalletHandler{games: games}
}

type AmountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type BalanceResponse struct {
	Balance     decimal.Decimal `json:"balance"`
	GamesPlayed int             `json:"games_played"`
	Bingos      int             `json:"bingos"`
	TotalWon    decimal.Decimal `json:"total_won"`
}

type HistoryResponse struct {
	Entries []models.LedgerEntry `json:"entries"`
}

type EntryResponse struct {
	Entry   models.LedgerEntry `json:"entry"`
	Balance decimal.Decimal    `json:"balance"`
}

func (h *WalletHandler) Balance(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	acct, err := h.games.Account(user.ID)
	if err != nil {
		writeGameError(w, err, "load account")
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{
		Balance:     acct.Balance,
		GamesPlayed: acct.GamesPlayed,
		Bingos:      acct.Bingos,
		TotalWon:    acct.TotalWon,
	})
}

func (h *WalletHandler) History(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	page, ok := parsePage(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid pagination")
		return
	}
	entries, err := h.games.History(r.Context(), user.ID, page)
	if err != nil {
		writeGameError(w, err, "load history")
		return
	}
	writeJSON(w, http.StatusOK, HistoryResponse{Entries: entries})
}

func (h *WalletHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	h.move(w, r, h.games.Deposit, "deposit")
}

func (h *WalletHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.move(w, r, h.games.Withdraw, "withdraw")
}

type moneyOp func(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (models.LedgerEntry, error)

func (h *WalletHandler) move(w http.ResponseWriter, r *http.Request, op moneyOp, action string) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	var req AmountRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !req.Amount.IsPositive() {
		writeError(w, http.StatusBadRequest, "amount must be positive")
		return
	}

	entry, err := op(r.Context(), user.ID, req.Amount)
	if err != nil {
		writeGameError(w, err, action)
		return
	}
	writeJSON(w, http.StatusOK, EntryResponse{Entry: entry, Balance: entry.BalanceAfter})
}
