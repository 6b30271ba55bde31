package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/HammerMeetNail/bingohall/internal/models"
	"github.com/HammerMeetNail/bingohall/internal/services"
)

type CardHandler struct {
	games GameService
}

func NewCardHandler(games GameService) *CardHandler {
	return &CardHandler{games: games}
}

type CardListResponse struct {
	Cards     []models.Card `json:"cards"`
	Available int           `json:"available"`
}

type CardResponse struct {
	Card models.Card `json:"card"`
}

func (h *CardHandler) List(w http.ResponseWriter, r *http.Request) {
	page, ok := parsePage(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid pagination")
		return
	}
	cards, available := h.games.AvailableCards(page)
	writeJSON(w, http.StatusOK, CardListResponse{Cards: cards, Available: available})
}

func (h *CardHandler) Get(w http.ResponseWriter, r *http.Request) {
	number, ok := cardNumber(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid card number")
		return
	}
	card, err := h.games.Card(number)
	if err != nil {
		writeGameError(w, err, "load card")
		return
	}
	writeJSON(w, http.StatusOK, CardResponse{Card: card})
}

// Image renders the card as a PNG. With ?room=CODE and an authenticated
// player holding this card, the room's marks and draws are painted on.
func (h *CardHandler) Image(w http.ResponseWriter, r *http.Request) {
	number, ok := cardNumber(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid card number")
		return
	}
	card, err := h.games.Card(number)
	if err != nil {
		writeGameError(w, err, "load card")
		return
	}

	opts := services.CardImageOptions{}
	cacheable := true
	if room := strings.TrimSpace(r.URL.Query().Get("room")); room != "" {
		session, err := h.games.Session(room)
		if err != nil {
			writeGameError(w, err, "load room")
			return
		}
		opts.Caption = "Room " + session.RoomCode
		user := GetUserFromContext(r.Context())
		if user != nil {
			if p, ok := session.Player(user.ID); ok && p.Card.Number == card.Number {
				card = p.Card
				opts.Marked = p.Marked
				opts.Drawn = models.NewNumberSet(session.DrawnNumbers...)
				if p.FirstName != "" {
					opts.Caption += " - " + p.FirstName
				}
			}
		}
		cacheable = false
	}

	data, err := services.RenderCardPNG(card, opts)
	if err != nil {
		writeGameError(w, err, "render card")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	if cacheable {
		// Card grids never change once generated.
		w.Header().Set("Cache-Control", "public, max-age=86400, immutable")
	} else {
		w.Header().Set("Cache-Control", "no-store")
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func cardNumber(r *http.Request) (int, bool) {
	n, err := strconv.Atoi(r.PathValue("number"))
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
