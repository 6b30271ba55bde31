package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/HammerMeetNail/bingohall/internal/game"
	"github.com/HammerMeetNail/bingohall/internal/logging"
	"github.com/HammerMeetNail/bingohall/internal/middleware"
	"github.com/HammerMeetNail/bingohall/internal/models"
)

const maxBodyBytes = 1 << 16

const userContextKey = middleware.UserContextKey

type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

func GetUserFromContext(ctx context.Context) *models.User {
	return middleware.GetUserFromContext(ctx)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// parsePage reads limit/offset query parameters.
func parsePage(r *http.Request) (models.Page, bool) {
	var page models.Page
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return page, false
		}
		page.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return page, false
		}
		page.Offset = n
	}
	return page.Normalize(), true
}

type errorMapping struct {
	err     error
	status  int
	message string
}

var gameErrors = []errorMapping{
	{game.ErrInvalidInput, http.StatusBadRequest, "Invalid request"},
	{game.ErrBelowMinimum, http.StatusBadRequest, "Amount is below the minimum"},
	{game.ErrNumberNotOnCard, http.StatusBadRequest, "Number is not on your card"},
	{game.ErrNumberNotDrawn, http.StatusBadRequest, "Number has not been drawn"},
	{game.ErrInsufficientFunds, http.StatusPaymentRequired, "Insufficient balance"},
	{game.ErrNotCreator, http.StatusForbidden, "Only the room creator can do that"},
	{game.ErrNotInGame, http.StatusForbidden, "You are not playing in this room"},
	{game.ErrUserNotFound, http.StatusNotFound, "User not found"},
	{game.ErrSessionNotFound, http.StatusNotFound, "Room not found"},
	{game.ErrCardNotFound, http.StatusNotFound, "Card not found"},
	{game.ErrCardUnavailable, http.StatusConflict, "Card is already taken"},
	{game.ErrAlreadyJoined, http.StatusConflict, "You already joined this room"},
	{game.ErrSessionFull, http.StatusConflict, "Room is full"},
	{game.ErrGameNotWaiting, http.StatusConflict, "Game has already started"},
	{game.ErrGameNotActive, http.StatusConflict, "Game is not active"},
	{game.ErrNotEnoughPlayers, http.StatusConflict, "Not enough players to start"},
	{game.ErrAllNumbersDrawn, http.StatusConflict, "All numbers have been drawn"},
	{game.ErrAlreadyMarked, http.StatusConflict, "Number already marked"},
	{game.ErrRoomCodeExhausted, http.StatusServiceUnavailable, "No room code available, try again"},
}

// writeGameError maps engine errors onto HTTP responses and logs anything
// unexpected.
func writeGameError(w http.ResponseWriter, err error, action string) {
	for _, m := range gameErrors {
		if errors.Is(err, m.err) {
			writeError(w, m.status, m.message)
			return
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		writeError(w, http.StatusServiceUnavailable, "Request cancelled")
		return
	}
	logging.Error("Failed to "+action, map[string]interface{}{"error": err.Error()})
	writeError(w, http.StatusInternalServerError, "Internal server error")
}
