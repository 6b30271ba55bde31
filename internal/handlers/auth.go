package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/HammerMeetNail/bingohall/internal/logging"
	"github.com/HammerMeetNail/bingohall/internal/middleware"
	"github.com/HammerMeetNail/bingohall/internal/models"
	"github.com/HammerMeetNail/bingohall/internal/services"
)

type AuthServiceInterface interface {
	Login(ctx context.Context, params models.OpenAccountParams) (*services.LoginResult, error)
	Logout(ctx context.Context, token string) error
}

type AuthHandler struct {
	authService AuthServiceInterface
}

func NewAuthHandler(authService AuthServiceInterface) *AuthHandler {
	return &AuthHandler{authService: authService}
}

// LoginRequest carries an identity the bot front end has already verified.
type LoginRequest struct {
	TelegramID int64  `json:"telegram_id"`
	FirstName  string `json:"first_name"`
}

type UserResponse struct {
	User *models.User `json:"user"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.TelegramID <= 0 {
		writeError(w, http.StatusBadRequest, "telegram_id is required")
		return
	}
	firstName := strings.TrimSpace(req.FirstName)
	if len(firstName) > 255 {
		writeError(w, http.StatusBadRequest, "first_name is too long")
		return
	}

	res, err := h.authService.Login(r.Context(), models.OpenAccountParams{
		TelegramID: req.TelegramID,
		FirstName:  firstName,
	})
	if errors.Is(err, services.ErrAuthDisabled) {
		writeError(w, http.StatusServiceUnavailable, "Login is not configured")
		return
	}
	if err != nil {
		writeGameError(w, err, "log in")
		return
	}

	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, res)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token := middleware.TokenFromRequest(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	err := h.authService.Logout(r.Context(), token)
	if errors.Is(err, services.ErrInvalidToken) || errors.Is(err, services.ErrSessionExpired) {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	if err != nil {
		logging.Error("Failed to log out", map[string]interface{}{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Logged out"})
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	writeJSON(w, http.StatusOK, UserResponse{User: user})
}
