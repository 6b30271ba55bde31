package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/HammerMeetNail/bingohall/internal/game"
	"github.com/HammerMeetNail/bingohall/internal/models"
)

func sampleGrid() models.Grid {
	var g models.Grid
	for col := 0; col < models.GridSize; col++ {
		lo, _ := models.ColumnRange(col, models.DefaultColumnSize)
		for row := 0; row < models.GridSize; row++ {
			g[row][col] = models.NumberCell(lo + row)
		}
	}
	g[models.CenterIndex][models.CenterIndex] = models.Free
	return g
}

type recordedQuery struct {
	sql  string
	args []any
}

// txRecorder captures statements run inside one transaction.
type txRecorder struct {
	queries    []recordedQuery
	committed  bool
	rolledBack bool
	failOn     string
	nextID     int64
}

func (r *txRecorder) tx() *fakeTx {
	return &fakeTx{
		ExecFunc: func(ctx context.Context, sql string, args ...any) (CommandTag, error) {
			r.queries = append(r.queries, recordedQuery{sql: sql, args: args})
			if r.failOn != "" && strings.Contains(sql, r.failOn) {
				return nil, errors.New("boom")
			}
			return fakeCommandTag{rowsAffected: 1}, nil
		},
		QueryRowFunc: func(ctx context.Context, sql string, args ...any) Row {
			r.queries = append(r.queries, recordedQuery{sql: sql, args: args})
			if strings.Contains(sql, "FOR UPDATE") {
				return rowFromValues(args[0])
			}
			r.nextID++
			return rowFromValues(r.nextID)
		},
		CommitFunc: func(ctx context.Context) error {
			r.committed = true
			return nil
		},
		RollbackFunc: func(ctx context.Context) error {
			r.rolledBack = true
			return nil
		},
	}
}

func (r *txRecorder) indexOf(fragment string) int {
	for i, q := range r.queries {
		if strings.Contains(q.sql, fragment) {
			return i
		}
	}
	return -1
}

func joinChangeset() *game.Changeset {
	userID := uuid.New()
	sessionID := uuid.New()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	card := models.Card{Number: 17, Grid: sampleGrid(), Used: true}
	return &game.Changeset{
		CardUpdates: []game.CardUpdate{{Number: 17, Used: true}},
		Accounts: []game.AccountUpdate{{
			UserID:      userID,
			Balance:     decimal.RequireFromString("15.00"),
			GamesPlayed: 1,
		}},
		Entries: []*models.LedgerEntry{{
			UserID:       userID,
			Kind:         models.EntryFee,
			Amount:       decimal.RequireFromString("-5.00"),
			BalanceAfter: decimal.RequireFromString("15.00"),
			SessionID:    &sessionID,
			CreatedAt:    now,
		}},
		Session: &models.Session{
			ID:        sessionID,
			RoomCode:  "A1B2C3",
			Status:    models.StatusWaiting,
			PrizePool: decimal.RequireFromString("4.00"),
			CreatorID: userID,
			CreatedAt: now,
		},
		Players: []game.PlayerRecord{{
			SessionID: sessionID,
			Participant: models.Participant{
				UserID:   userID,
				Card:     card,
				Marked:   models.NewNumberSet(),
				JoinedAt: now,
			},
		}},
	}
}

func TestGameStoreApply_EmptyChangesetSkipsTransaction(t *testing.T) {
	db := &fakeDB{BeginFunc: func(ctx context.Context) (Tx, error) {
		t.Fatal("no transaction expected")
		return nil, nil
	}}
	if err := NewGameStore(db).Apply(context.Background(), &game.Changeset{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestGameStoreApply_WritesChangesetInOrder(t *testing.T) {
	rec := &txRecorder{}
	db := &fakeDB{BeginFunc: func(ctx context.Context) (Tx, error) { return rec.tx(), nil }}
	cs := joinChangeset()

	if err := NewGameStore(db).Apply(context.Background(), cs); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !rec.committed {
		t.Fatal("expected commit")
	}
	if cs.Entries[0].ID != 1 {
		t.Fatalf("expected entry id assigned from RETURNING, got %d", cs.Entries[0].ID)
	}

	order := []string{
		"UPDATE bingo_cards",
		"FOR UPDATE",
		"INSERT INTO game_sessions",
		"INSERT INTO session_players",
		"UPDATE users",
		"INSERT INTO ledger_entries",
	}
	last := -1
	for _, fragment := range order {
		i := rec.indexOf(fragment)
		if i < 0 {
			t.Fatalf("expected statement containing %q", fragment)
		}
		if i < last {
			t.Fatalf("statement %q ran out of order", fragment)
		}
		last = i
	}

	session := rec.queries[rec.indexOf("INSERT INTO game_sessions")]
	if session.args[4] != "4" {
		t.Fatalf("expected prize pool passed as text, got %v", session.args[4])
	}
	player := rec.queries[rec.indexOf("INSERT INTO session_players")]
	var grid models.Grid
	if err := json.Unmarshal(player.args[4].([]byte), &grid); err != nil {
		t.Fatalf("expected card json, got %v", err)
	}
	if grid.Key() != sampleGrid().Key() {
		t.Fatal("player card did not round trip")
	}
}

func TestGameStoreApply_RollsBackOnFailure(t *testing.T) {
	rec := &txRecorder{failOn: "INSERT INTO session_players"}
	db := &fakeDB{BeginFunc: func(ctx context.Context) (Tx, error) { return rec.tx(), nil }}

	err := NewGameStore(db).Apply(context.Background(), joinChangeset())
	if err == nil || !strings.Contains(err.Error(), "saving player") {
		t.Fatalf("expected wrapped player error, got %v", err)
	}
	if rec.committed || !rec.rolledBack {
		t.Fatalf("expected rollback only, committed=%v rolledBack=%v", rec.committed, rec.rolledBack)
	}
	if rec.indexOf("INSERT INTO ledger_entries") >= 0 {
		t.Fatal("no entries should be written after a failure")
	}
}

func TestGameStoreApply_MissingUserMapsToNotFound(t *testing.T) {
	tx := &fakeTx{
		QueryRowFunc: func(ctx context.Context, sql string, args ...any) Row {
			return fakeRow{scanFunc: func(dest ...any) error { return pgx.ErrNoRows }}
		},
	}
	db := &fakeDB{BeginFunc: func(ctx context.Context) (Tx, error) { return tx, nil }}

	cs := &game.Changeset{Accounts: []game.AccountUpdate{{UserID: uuid.New()}}}
	if err := NewGameStore(db).Apply(context.Background(), cs); !errors.Is(err, game.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestGameStoreApply_NewDeckUsesBulkInsert(t *testing.T) {
	rec := &txRecorder{}
	db := &fakeDB{BeginFunc: func(ctx context.Context) (Tx, error) { return rec.tx(), nil }}
	cs := &game.Changeset{
		ReplaceDeck: true,
		NewCards: []models.Card{
			{Number: 1, Grid: sampleGrid()},
			{Number: 2, Grid: sampleGrid()},
		},
	}

	if err := NewGameStore(db).Apply(context.Background(), cs); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.indexOf("DELETE FROM bingo_cards") != 0 {
		t.Fatal("expected deck cleared first")
	}
	insert := rec.queries[rec.indexOf("INSERT INTO bingo_cards")]
	numbers := insert.args[0].([]int32)
	if len(numbers) != 2 || numbers[0] != 1 || numbers[1] != 2 {
		t.Fatalf("unexpected card numbers: %v", numbers)
	}
}

func TestGameStoreHistory_ParsesEntries(t *testing.T) {
	userID := uuid.New()
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	var gotArgs []any
	db := &fakeDB{QueryFunc: func(ctx context.Context, sql string, args ...any) (Rows, error) {
		gotArgs = args
		return &fakeRows{rows: [][]any{
			{int64(2), userID, "prize", "8.00", "21.00", "Bingo prize", nil, created},
			{int64(1), userID, "entryFee", "-5.00", "13.00", "Card 17", nil, created},
		}}, nil
	}}

	entries, err := NewGameStore(db).History(context.Background(), userID, models.Page{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotArgs[1] != models.DefaultPageLimit || gotArgs[2] != 0 {
		t.Fatalf("expected normalized page args, got %v", gotArgs)
	}
	if len(entries) != 2 || entries[0].ID != 2 || entries[0].Kind != models.EntryPrize {
		t.Fatalf("unexpected entries: %+v", entries)
	}
	if !entries[1].Amount.Equal(decimal.RequireFromString("-5")) {
		t.Fatalf("unexpected amount %s", entries[1].Amount)
	}
}

func TestGameStoreHistory_RejectsMalformedAmount(t *testing.T) {
	db := &fakeDB{QueryFunc: func(ctx context.Context, sql string, args ...any) (Rows, error) {
		return &fakeRows{rows: [][]any{
			{int64(1), uuid.New(), "deposit", "abc", "1.00", "", nil, time.Now()},
		}}, nil
	}}
	if _, err := NewGameStore(db).History(context.Background(), uuid.New(), models.Page{}); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestGameStoreLoad_AssemblesSnapshot(t *testing.T) {
	userID := uuid.New()
	sessionID := uuid.New()
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	gridJSON, _ := json.Marshal(sampleGrid())

	db := &fakeDB{QueryFunc: func(ctx context.Context, sql string, args ...any) (Rows, error) {
		switch {
		case strings.Contains(sql, "FROM bingo_cards"):
			return &fakeRows{rows: [][]any{{1, gridJSON, true}, {2, gridJSON, false}}}, nil
		case strings.Contains(sql, "FROM users"):
			return &fakeRows{rows: [][]any{{userID, int64(42), "Ada", "13.00", 1, 0, "0", created}}}, nil
		case strings.Contains(sql, "FROM session_players"):
			return &fakeRows{rows: [][]any{
				{sessionID, userID, "Ada", 1, gridJSON, []int32{1, 16}, false, "0", created},
			}}, nil
		case strings.Contains(sql, "FROM game_sessions"):
			return &fakeRows{rows: [][]any{
				{sessionID, "A1B2C3", "active", []int32{1, 16}, "8.00", userID, false, nil, false, created, &created, nil},
			}}, nil
		}
		t.Fatalf("unexpected query: %s", sql)
		return nil, nil
	}}

	snap, err := NewGameStore(db).Load(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(snap.Cards) != 2 || !snap.Cards[0].Used || snap.Cards[0].Grid.Key() != sampleGrid().Key() {
		t.Fatalf("unexpected cards: %+v", snap.Cards)
	}
	if len(snap.Users) != 1 || !snap.Users[0].Balance.Equal(decimal.NewFromInt(13)) {
		t.Fatalf("unexpected users: %+v", snap.Users)
	}
	if len(snap.Sessions) != 1 {
		t.Fatalf("expected one session, got %d", len(snap.Sessions))
	}
	sess := snap.Sessions[0]
	if sess.Status != models.StatusActive || len(sess.DrawnNumbers) != 2 || sess.StartedAt == nil {
		t.Fatalf("unexpected session: %+v", sess)
	}
	if len(sess.Players) != 1 || !sess.Players[0].Marked.Has(16) || !sess.Players[0].Card.Used {
		t.Fatalf("unexpected players: %+v", sess.Players)
	}
}

func TestGameStoreLoad_SkipsPlayersWhenNoOpenSessions(t *testing.T) {
	db := &fakeDB{QueryFunc: func(ctx context.Context, sql string, args ...any) (Rows, error) {
		if strings.Contains(sql, "FROM session_players") {
			t.Fatal("players should not be queried")
		}
		return &fakeRows{}, nil
	}}
	snap, err := NewGameStore(db).Load(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(snap.Sessions) != 0 || len(snap.Cards) != 0 {
		t.Fatalf("expected empty snapshot, got %+v", snap)
	}
}

func TestGameStoreLoad_WrapsQueryError(t *testing.T) {
	db := &fakeDB{QueryFunc: func(ctx context.Context, sql string, args ...any) (Rows, error) {
		return nil, errors.New("down")
	}}
	if _, err := NewGameStore(db).Load(context.Background()); err == nil || !strings.Contains(err.Error(), "querying cards") {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}
