package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/HammerMeetNail/bingohall/internal/game"
	"github.com/HammerMeetNail/bingohall/internal/logging"
	"github.com/HammerMeetNail/bingohall/internal/middleware"
	"github.com/HammerMeetNail/bingohall/internal/models"
)

type fakeRooms map[string]models.Session

func (f fakeRooms) Session(code string) (models.Session, error) {
	s, ok := f[code]
	if !ok {
		return models.Session{}, game.ErrSessionNotFound
	}
	return s, nil
}

func quietLogger() *logging.Logger {
	return logging.New().SetOutput(&bytes.Buffer{})
}

func TestHub_AddAndRemoveClients(t *testing.T) {
	hub := NewHub(fakeRooms{}, nil, quietLogger())
	a := &client{hub: hub, room: "ABC123", send: make(chan []byte, 1)}
	b := &client{hub: hub, room: "ABC123", send: make(chan []byte, 1)}

	hub.add(a)
	hub.add(b)
	if len(hub.subscribers["ABC123"]) != 2 {
		t.Fatalf("expected 2 subscribers, got %d", len(hub.subscribers["ABC123"]))
	}

	hub.remove(a)
	hub.remove(a)
	if !hub.subscribers["ABC123"][b] || len(hub.subscribers["ABC123"]) != 1 {
		t.Fatal("expected only b to remain")
	}
	if _, ok := <-a.send; ok {
		t.Fatal("expected removed client channel closed")
	}

	hub.remove(b)
	if _, exists := hub.subscribers["ABC123"]; exists {
		t.Fatal("expected empty room to be cleaned up")
	}
}

func TestHub_DeliverIsRoomScopedAndDropsSlowClients(t *testing.T) {
	hub := NewHub(fakeRooms{}, nil, quietLogger())
	fast := &client{hub: hub, room: "ABC123", send: make(chan []byte, 4)}
	slow := &client{hub: hub, room: "ABC123", send: make(chan []byte)}
	other := &client{hub: hub, room: "FFFFFF", send: make(chan []byte, 4)}
	hub.add(fast)
	hub.add(slow)
	hub.add(other)

	hub.deliver(models.Event{ID: uuid.New(), Kind: models.EventNumberDrawn, RoomCode: "ABC123"})

	select {
	case msg := <-fast.send:
		if !strings.Contains(string(msg), `"numberDrawn"`) {
			t.Fatalf("unexpected message %s", msg)
		}
	default:
		t.Fatal("expected fast client to receive the event")
	}
	if len(other.send) != 0 {
		t.Fatal("other rooms must not receive the event")
	}
	if hub.subscribers["ABC123"][slow] {
		t.Fatal("expected slow client to be dropped")
	}
}

func TestHub_PublishDropsWhenQueueFull(t *testing.T) {
	hub := NewHub(fakeRooms{}, nil, quietLogger())
	for i := 0; i < cap(hub.broadcast)+3; i++ {
		hub.Publish(models.Event{RoomCode: "ABC123"})
	}
	if got := hub.dropped.Load(); got != 3 {
		t.Fatalf("expected 3 dropped events, got %d", got)
	}
}

func TestOriginChecker(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		host    string
		want    bool
	}{
		{"no origin header", nil, "", "bingo.example", true},
		{"same host", nil, "https://bingo.example", "bingo.example", true},
		{"foreign host", nil, "https://evil.example", "bingo.example", false},
		{"allow listed", []string{"https://app.example/"}, "https://app.example", "bingo.example", true},
		{"wildcard", []string{"*"}, "https://evil.example", "bingo.example", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ws/games/ABC123", nil)
			req.Host = tt.host
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if got := originChecker(tt.allowed)(req); got != tt.want {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestHub_ServeWSStreamsSnapshotThenEvents(t *testing.T) {
	rooms := fakeRooms{"ABC123": {RoomCode: "ABC123", Status: models.StatusWaiting}}
	hub := NewHub(rooms, nil, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(wsRouter(hub, &models.User{ID: uuid.New()}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/games/abc123"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close() }()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first models.Event
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if first.Kind != EventSnapshot || first.RoomCode != "ABC123" {
		t.Fatalf("unexpected first event: %+v", first)
	}

	hub.Publish(models.Event{ID: uuid.New(), Kind: models.EventGameStarted, RoomCode: "ABC123"})

	var second map[string]any
	if err := conn.ReadJSON(&second); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if second["event"] != string(models.EventGameStarted) {
		raw, _ := json.Marshal(second)
		t.Fatalf("unexpected event: %s", raw)
	}
}

// wsRouter serves the hub with user attached to every request, or
// anonymously when user is nil.
func wsRouter(hub *Hub, user *models.User) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/games/{room}", hub.ServeWS)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user != nil {
			r = r.WithContext(middleware.WithUser(r.Context(), user))
		}
		mux.ServeHTTP(w, r)
	})
}

func TestHub_ServeWSRejections(t *testing.T) {
	member := &models.User{ID: uuid.New()}
	stranger := &models.User{ID: uuid.New()}
	rooms := fakeRooms{
		"AAAAAA": {RoomCode: "AAAAAA", IsPrivate: true, Players: []models.Participant{{UserID: member.ID}}},
	}
	hub := NewHub(rooms, nil, quietLogger())

	tests := []struct {
		name   string
		user   *models.User
		path   string
		status int
	}{
		{"anonymous", nil, "/ws/games/AAAAAA", http.StatusUnauthorized},
		{"unknown room", member, "/ws/games/NOPE00", http.StatusNotFound},
		{"private room stranger", stranger, "/ws/games/AAAAAA", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			wsRouter(hub, tt.user).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, rec.Code)
			}
		})
	}
}

func TestHub_ServeWSPrivateRoomMember(t *testing.T) {
	member := &models.User{ID: uuid.New()}
	rooms := fakeRooms{
		"AAAAAA": {RoomCode: "AAAAAA", IsPrivate: true, Players: []models.Participant{{UserID: member.ID}}},
	}
	hub := NewHub(rooms, nil, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(wsRouter(hub, member))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/games/AAAAAA", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close() }()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first models.Event
	if err := conn.ReadJSON(&first); err != nil || first.Kind != EventSnapshot {
		t.Fatalf("expected snapshot, got %+v %v", first, err)
	}
}

func TestHub_SubscribeQueuesSnapshotBeforeEvents(t *testing.T) {
	rooms := fakeRooms{"ABC123": {RoomCode: "ABC123", Status: models.StatusActive}}
	hub := NewHub(rooms, nil, quietLogger())
	c := &client{hub: hub, room: "ABC123", send: make(chan []byte, 4)}

	hub.subscribe(c)
	hub.deliver(models.Event{ID: uuid.New(), Kind: models.EventNumberDrawn, RoomCode: "ABC123"})

	if len(c.send) != 2 {
		t.Fatalf("expected snapshot and event queued, got %d", len(c.send))
	}
	if first := <-c.send; !strings.Contains(string(first), `"snapshot"`) {
		t.Fatalf("expected snapshot first, got %s", first)
	}
	if second := <-c.send; !strings.Contains(string(second), `"numberDrawn"`) {
		t.Fatalf("expected drawn event second, got %s", second)
	}
}

func TestHub_SubscribeToRetiredRoomClosesClient(t *testing.T) {
	hub := NewHub(fakeRooms{}, nil, quietLogger())
	c := &client{hub: hub, room: "GONE00", send: make(chan []byte, 1)}

	hub.subscribe(c)
	if _, ok := <-c.send; ok {
		t.Fatal("expected send channel closed")
	}
	if len(hub.subscribers) != 0 {
		t.Fatal("retired room must not gain subscribers")
	}
}
