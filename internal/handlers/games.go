package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/HammerMeetNail/bingohall/internal/game"
	"github.com/HammerMeetNail/bingohall/internal/models"
)

// GameService is the engine surface the HTTP layer drives.
type GameService interface {
	SelectCard(ctx context.Context, params models.SelectCardParams) (*game.JoinResult, error)
	StartGame(ctx context.Context, roomCode string, userID uuid.UUID) (*game.StartResult, error)
	DrawNumber(ctx context.Context, roomCode string) (*game.DrawResult, error)
	MarkNumber(ctx context.Context, roomCode string, userID uuid.UUID, number int) (*game.MarkResult, error)
	Abandon(ctx context.Context, roomCode string, userID uuid.UUID) (*game.AbandonResult, error)
	Session(roomCode string) (models.Session, error)
	ListSessions(status models.SessionStatus, page models.Page) []models.SessionSummary
	AvailableCards(page models.Page) ([]models.Card, int)
	Card(number int) (models.Card, error)
	Account(userID uuid.UUID) (models.User, error)
	History(ctx context.Context, userID uuid.UUID, page models.Page) ([]models.LedgerEntry, error)
	Deposit(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (models.LedgerEntry, error)
	Withdraw(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (models.LedgerEntry, error)
}

var _ GameService = (*game.Service)(nil)

type GameHandler struct {
	games GameService
}

func NewGameHandler(games GameService) *GameHandler {
	return &GameHandler{games: games}
}

type SelectCardRequest struct {
	CardNumber int    `json:"card_number"`
	RoomCode   string `json:"room_code,omitempty"`
	Private    bool   `json:"private,omitempty"`
}

type SelectCardResponse struct {
	Session models.Session      `json:"session"`
	Card    models.Card         `json:"card"`
	Entry   *models.LedgerEntry `json:"entry,omitempty"`
	Created bool                `json:"created"`
}

type SessionResponse struct {
	Session models.Session `json:"session"`
}

type SessionListResponse struct {
	Sessions []models.SessionSummary `json:"sessions"`
}

type DrawResponse struct {
	Number       int    `json:"number"`
	Label        string `json:"label"`
	DrawnNumbers []int  `json:"drawn_numbers"`
	Remaining    int    `json:"remaining"`
}

type MarkRequest struct {
	Number int `json:"number"`
}

type MarkResponse struct {
	Marked   []int                `json:"marked_numbers"`
	HasBingo bool                 `json:"has_bingo"`
	Winner   bool                 `json:"winner"`
	Prize    decimal.Decimal      `json:"prize"`
	Lines    []string             `json:"lines,omitempty"`
	Status   models.SessionStatus `json:"status"`
}

type AbandonResponse struct {
	Session models.Session       `json:"session"`
	Refunds []models.LedgerEntry `json:"refunds"`
}

func (h *GameHandler) SelectCard(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req SelectCardRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.CardNumber <= 0 {
		writeError(w, http.StatusBadRequest, "card_number is required")
		return
	}

	res, err := h.games.SelectCard(r.Context(), models.SelectCardParams{
		UserID:     user.ID,
		CardNumber: req.CardNumber,
		RoomCode:   strings.TrimSpace(req.RoomCode),
		Private:    req.Private,
	})
	if err != nil {
		writeGameError(w, err, "select card")
		return
	}

	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, SelectCardResponse{
		Session: res.Session,
		Card:    res.Card,
		Entry:   res.Entry,
		Created: res.Created,
	})
}

func (h *GameHandler) List(w http.ResponseWriter, r *http.Request) {
	page, ok := parsePage(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid pagination")
		return
	}

	var status models.SessionStatus
	if v := r.URL.Query().Get("status"); v != "" {
		parsed, ok := models.ParseSessionStatus(v)
		if !ok {
			writeError(w, http.StatusBadRequest, "Invalid status")
			return
		}
		status = parsed
	}

	writeJSON(w, http.StatusOK, SessionListResponse{Sessions: h.games.ListSessions(status, page)})
}

func (h *GameHandler) Get(w http.ResponseWriter, r *http.Request) {
	session, err := h.games.Session(r.PathValue("room"))
	if err != nil {
		writeGameError(w, err, "load room")
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse{Session: session})
}

func (h *GameHandler) Start(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	res, err := h.games.StartGame(r.Context(), r.PathValue("room"), user.ID)
	if err != nil {
		writeGameError(w, err, "start game")
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse{Session: res.Session})
}

// Draw calls the next number. Only players in the room may call.
func (h *GameHandler) Draw(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	room := r.PathValue("room")
	session, err := h.games.Session(room)
	if err != nil {
		writeGameError(w, err, "load room")
		return
	}
	if _, ok := session.Player(user.ID); !ok {
		writeGameError(w, game.ErrNotInGame, "draw number")
		return
	}

	res, err := h.games.DrawNumber(r.Context(), room)
	if err != nil {
		writeGameError(w, err, "draw number")
		return
	}
	writeJSON(w, http.StatusOK, DrawResponse{
		Number:       res.Number,
		Label:        res.Label,
		DrawnNumbers: res.DrawnNumbers,
		Remaining:    res.Remaining,
	})
}

func (h *GameHandler) Mark(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req MarkRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Number <= 0 {
		writeError(w, http.StatusBadRequest, "number is required")
		return
	}

	res, err := h.games.MarkNumber(r.Context(), r.PathValue("room"), user.ID, req.Number)
	if err != nil {
		writeGameError(w, err, "mark number")
		return
	}
	writeJSON(w, http.StatusOK, MarkResponse{
		Marked:   res.Marked,
		HasBingo: res.HasBingo,
		Winner:   res.Winner,
		Prize:    res.Prize,
		Lines:    res.Lines,
		Status:   res.Status,
	})
}

func (h *GameHandler) Abandon(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	res, err := h.games.Abandon(r.Context(), r.PathValue("room"), user.ID)
	if err != nil {
		writeGameError(w, err, "abandon game")
		return
	}
	writeJSON(w, http.StatusOK, AbandonResponse{Session: res.Session, Refunds: res.Refunds})
}
