package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/HammerMeetNail/bingohall/internal/game"
	"github.com/HammerMeetNail/bingohall/internal/logging"
	"github.com/HammerMeetNail/bingohall/internal/middleware"
	"github.com/HammerMeetNail/bingohall/internal/models"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Clients only send control frames.
	maxMessageSize = 512

	sendBuffer = 64
)

// EventSnapshot is sent once to each new subscriber with the room's
// current state.
const EventSnapshot models.EventKind = "snapshot"

// RoomFinder resolves a room code to its current view.
type RoomFinder interface {
	Session(roomCode string) (models.Session, error)
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	room string
}

// Hub fans room events out to websocket subscribers. It implements
// game.Notifier; Publish never blocks the caller.
type Hub struct {
	rooms    RoomFinder
	logger   *logging.Logger
	upgrader websocket.Upgrader

	subscribers map[string]map[*client]bool

	broadcast  chan models.Event
	register   chan *client
	unregister chan *client
	done       chan struct{}
	dropped    atomic.Int64
}

var _ game.Notifier = (*Hub)(nil)

// NewHub builds a hub. An empty allowedOrigins accepts same-host requests
// only; "*" accepts any origin.
func NewHub(rooms RoomFinder, allowedOrigins []string, logger *logging.Logger) *Hub {
	if logger == nil {
		logger = logging.Default
	}
	h := &Hub{
		rooms:       rooms,
		logger:      logger,
		subscribers: make(map[string]map[*client]bool),
		broadcast:   make(chan models.Event, 256),
		register:    make(chan *client),
		unregister:  make(chan *client),
		done:        make(chan struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o != "" {
			set[strings.ToLower(o)] = true
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || set["*"] {
			return true
		}
		if set[strings.ToLower(origin)] {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return strings.EqualFold(u.Host, r.Host)
	}
}

// Run owns the subscriber table until ctx is cancelled, then closes every
// connection.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for room, clients := range h.subscribers {
				for c := range clients {
					close(c.send)
				}
				delete(h.subscribers, room)
			}
			return
		case c := <-h.register:
			h.subscribe(c)
		case c := <-h.unregister:
			h.remove(c)
		case ev := <-h.broadcast:
			h.deliver(ev)
		}
	}
}

// subscribe queues the room snapshot and adds c in one step of the run
// loop, so every event published after the snapshot was read reaches c.
func (h *Hub) subscribe(c *client) {
	session, err := h.rooms.Session(c.room)
	if err != nil {
		close(c.send)
		return
	}
	data, err := json.Marshal(models.Event{
		ID:         uuid.New(),
		Kind:       EventSnapshot,
		RoomCode:   c.room,
		OccurredAt: time.Now().UTC(),
		Payload:    session,
	})
	if err != nil {
		h.logger.Error("Failed to encode room snapshot", map[string]interface{}{
			"room_code": c.room,
			"error":     err.Error(),
		})
		close(c.send)
		return
	}
	c.send <- data
	h.add(c)
}

func (h *Hub) add(c *client) {
	if h.subscribers[c.room] == nil {
		h.subscribers[c.room] = make(map[*client]bool)
	}
	h.subscribers[c.room][c] = true
}

func (h *Hub) remove(c *client) {
	clients, ok := h.subscribers[c.room]
	if !ok || !clients[c] {
		return
	}
	delete(clients, c)
	close(c.send)
	if len(clients) == 0 {
		delete(h.subscribers, c.room)
	}
}

func (h *Hub) deliver(ev models.Event) {
	clients := h.subscribers[ev.RoomCode]
	if len(clients) == 0 {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("Failed to encode room event", map[string]interface{}{
			"room_code": ev.RoomCode,
			"error":     err.Error(),
		})
		return
	}
	for c := range clients {
		select {
		case c.send <- data:
		default:
			// Slow consumer; drop it rather than stall the room.
			h.remove(c)
		}
	}
}

// Publish queues ev for delivery to the room's subscribers.
func (h *Hub) Publish(ev models.Event) {
	select {
	case h.broadcast <- ev:
	default:
		h.dropped.Add(1)
		h.logger.Warn("Hub queue full, dropping event", map[string]interface{}{
			"room_code": ev.RoomCode,
			"event":     string(ev.Kind),
		})
	}
}

// ServeWS upgrades the request and subscribes it to the {room} path value.
// Private rooms only stream to their participants.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	if user == nil {
		http.Error(w, "Authentication required", http.StatusUnauthorized)
		return
	}
	room := game.NormalizeRoomCode(r.PathValue("room"))
	session, err := h.rooms.Session(room)
	if err != nil {
		http.Error(w, "Room not found", http.StatusNotFound)
		return
	}
	if session.IsPrivate && !isParticipant(session, user.ID) {
		http.Error(w, "Not a participant", http.StatusForbidden)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}

	c := &client{hub: h, conn: conn, send: make(chan []byte, sendBuffer), room: room}
	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

func isParticipant(session models.Session, userID uuid.UUID) bool {
	for _, p := range session.Players {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("WebSocket read error", map[string]interface{}{
					"room_code": c.room,
					"error":     err.Error(),
				})
			}
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
