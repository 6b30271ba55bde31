package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/HammerMeetNail/bingohall/internal/game"
	"github.com/HammerMeetNail/bingohall/internal/models"
)

// GameStore persists game state in PostgreSQL. Every changeset is written
// in a single transaction with the affected user rows locked.
type GameStore struct {
	db DB
}

func NewGameStore(db DB) *GameStore {
	return &GameStore{db: db}
}

var _ game.StateStore = (*GameStore)(nil)

func (s *GameStore) Apply(ctx context.Context, cs *game.Changeset) error {
	if cs == nil || cs.Empty() {
		return nil
	}
	return withTx(ctx, s.db, func(tx Tx) error {
		if err := s.applyCards(ctx, tx, cs); err != nil {
			return err
		}
		for _, u := range cs.NewUsers {
			if err := insertUser(ctx, tx, u); err != nil {
				return err
			}
		}

		ids := make([]uuid.UUID, 0, len(cs.Accounts))
		for _, a := range cs.Accounts {
			ids = append(ids, a.UserID)
		}
		if err := lockUsersForUpdate(ctx, tx, ids); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return game.ErrUserNotFound
			}
			return err
		}

		if cs.Session != nil {
			if err := upsertSession(ctx, tx, cs.Session); err != nil {
				return err
			}
		}
		for _, p := range cs.Players {
			if err := upsertPlayer(ctx, tx, p); err != nil {
				return err
			}
		}
		for _, a := range cs.Accounts {
			if err := updateAccount(ctx, tx, a); err != nil {
				return err
			}
		}
		for _, e := range cs.Entries {
			if err := insertEntry(ctx, tx, e); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *GameStore) applyCards(ctx context.Context, tx Tx, cs *game.Changeset) error {
	if cs.ReplaceDeck {
		if _, err := tx.Exec(ctx, `DELETE FROM bingo_cards`); err != nil {
			return fmt.Errorf("clearing deck: %w", err)
		}
	}

	if len(cs.NewCards) > 0 {
		numbers := make([]int32, len(cs.NewCards))
		grids := make([]string, len(cs.NewCards))
		used := make([]bool, len(cs.NewCards))
		for i, c := range cs.NewCards {
			data, err := json.Marshal(c.Grid)
			if err != nil {
				return fmt.Errorf("encoding card %d: %w", c.Number, err)
			}
			numbers[i] = int32(c.Number)
			grids[i] = string(data)
			used[i] = c.Used
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO bingo_cards (card_number, card_data, is_used)
			 SELECT n, d::jsonb, u FROM unnest($1::int[], $2::text[], $3::bool[]) AS t(n, d, u)
			 ON CONFLICT (card_number) DO UPDATE SET card_data = EXCLUDED.card_data, is_used = EXCLUDED.is_used`,
			numbers, grids, used,
		)
		if err != nil {
			return fmt.Errorf("inserting cards: %w", err)
		}
	}

	for _, u := range cs.CardUpdates {
		tag, err := tx.Exec(ctx, `UPDATE bingo_cards SET is_used = $2 WHERE card_number = $1`, u.Number, u.Used)
		if err != nil {
			return fmt.Errorf("updating card %d: %w", u.Number, err)
		}
		if tag.RowsAffected() == 0 {
			return game.ErrCardNotFound
		}
	}
	return nil
}

func insertUser(ctx context.Context, tx Tx, u models.User) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO users (id, telegram_id, first_name, balance, games_played, bingos, total_won, created_at)
		 VALUES ($1, $2, $3, $4::numeric, $5, $6, $7::numeric, $8)`,
		u.ID, u.TelegramID, u.FirstName, u.Balance.String(), u.GamesPlayed, u.Bingos, u.TotalWon.String(), u.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating user: %w", err)
	}
	return nil
}

func updateAccount(ctx context.Context, tx Tx, a game.AccountUpdate) error {
	tag, err := tx.Exec(ctx,
		`UPDATE users SET balance = $2::numeric, games_played = $3, bingos = $4, total_won = $5::numeric
		 WHERE id = $1`,
		a.UserID, a.Balance.String(), a.GamesPlayed, a.Bingos, a.TotalWon.String(),
	)
	if err != nil {
		return fmt.Errorf("updating account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return game.ErrUserNotFound
	}
	return nil
}

func upsertSession(ctx context.Context, tx Tx, s *models.Session) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO game_sessions (id, room_code, status, drawn_numbers, prize_pool, created_by, is_private,
		                            winner_id, abandoned, created_at, started_at, finished_at)
		 VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (id) DO UPDATE SET
		     status = EXCLUDED.status,
		     drawn_numbers = EXCLUDED.drawn_numbers,
		     prize_pool = EXCLUDED.prize_pool,
		     winner_id = EXCLUDED.winner_id,
		     abandoned = EXCLUDED.abandoned,
		     started_at = EXCLUDED.started_at,
		     finished_at = EXCLUDED.finished_at`,
		s.ID, s.RoomCode, string(s.Status), toInt32s(s.DrawnNumbers), s.PrizePool.String(), s.CreatorID, s.IsPrivate,
		s.WinnerID, s.Abandoned, s.CreatedAt, s.StartedAt, s.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("saving session %s: %w", s.RoomCode, err)
	}
	return nil
}

func upsertPlayer(ctx context.Context, tx Tx, p game.PlayerRecord) error {
	data, err := json.Marshal(p.Card.Grid)
	if err != nil {
		return fmt.Errorf("encoding card %d: %w", p.Card.Number, err)
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO session_players (session_id, user_id, first_name, card_number, card_data, marked_numbers,
		                              has_bingo, prize_amount, joined_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9)
		 ON CONFLICT (session_id, user_id) DO UPDATE SET
		     marked_numbers = EXCLUDED.marked_numbers,
		     has_bingo = EXCLUDED.has_bingo,
		     prize_amount = EXCLUDED.prize_amount`,
		p.SessionID, p.UserID, p.FirstName, p.Card.Number, data, toInt32s(p.Marked.Sorted()),
		p.HasBingo, p.PrizeAmount.String(), p.JoinedAt,
	)
	if err != nil {
		return fmt.Errorf("saving player: %w", err)
	}
	return nil
}

func insertEntry(ctx context.Context, tx Tx, e *models.LedgerEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	err := tx.QueryRow(ctx,
		`INSERT INTO ledger_entries (user_id, kind, amount, balance_after, description, session_id, created_at)
		 VALUES ($1, $2, $3::numeric, $4::numeric, $5, $6, $7)
		 RETURNING id`,
		e.UserID, string(e.Kind), e.Amount.String(), e.BalanceAfter.String(), e.Description, e.SessionID, e.CreatedAt,
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("inserting ledger entry: %w", err)
	}
	return nil
}

func (s *GameStore) History(ctx context.Context, userID uuid.UUID, page models.Page) ([]models.LedgerEntry, error) {
	page = page.Normalize()
	rows, err := s.db.Query(ctx,
		`SELECT id, user_id, kind, amount::text, balance_after::text, description, session_id, created_at
		 FROM ledger_entries
		 WHERE user_id = $1
		 ORDER BY id DESC
		 LIMIT $2 OFFSET $3`,
		userID, page.Limit, page.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("querying ledger: %w", err)
	}
	defer rows.Close()

	entries := make([]models.LedgerEntry, 0, page.Limit)
	for rows.Next() {
		var (
			e             models.LedgerEntry
			kind          string
			amount, after string
		)
		if err := rows.Scan(&e.ID, &e.UserID, &kind, &amount, &after, &e.Description, &e.SessionID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning ledger entry: %w", err)
		}
		e.Kind = models.EntryKind(kind)
		if e.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("parsing amount of entry %d: %w", e.ID, err)
		}
		if e.BalanceAfter, err = decimal.NewFromString(after); err != nil {
			return nil, fmt.Errorf("parsing balance of entry %d: %w", e.ID, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating ledger: %w", err)
	}
	return entries, nil
}

// Load reads the deck, every account, and the rooms that are not finished.
func (s *GameStore) Load(ctx context.Context) (*game.Snapshot, error) {
	snap := &game.Snapshot{}
	var err error
	if snap.Cards, err = s.loadCards(ctx); err != nil {
		return nil, err
	}
	if snap.Users, err = s.loadUsers(ctx); err != nil {
		return nil, err
	}
	if snap.Sessions, err = s.loadSessions(ctx); err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *GameStore) loadCards(ctx context.Context) ([]models.Card, error) {
	rows, err := s.db.Query(ctx, `SELECT card_number, card_data, is_used FROM bingo_cards ORDER BY card_number`)
	if err != nil {
		return nil, fmt.Errorf("querying cards: %w", err)
	}
	defer rows.Close()

	var cards []models.Card
	for rows.Next() {
		var (
			c    models.Card
			data []byte
		)
		if err := rows.Scan(&c.Number, &data, &c.Used); err != nil {
			return nil, fmt.Errorf("scanning card: %w", err)
		}
		if err := json.Unmarshal(data, &c.Grid); err != nil {
			return nil, fmt.Errorf("decoding card %d: %w", c.Number, err)
		}
		cards = append(cards, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating cards: %w", err)
	}
	return cards, nil
}

func (s *GameStore) loadUsers(ctx context.Context) ([]models.User, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, telegram_id, first_name, balance::text, games_played, bingos, total_won::text, created_at
		 FROM users`)
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var (
			u               models.User
			balance, totals string
		)
		if err := rows.Scan(&u.ID, &u.TelegramID, &u.FirstName, &balance, &u.GamesPlayed, &u.Bingos, &totals, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		if u.Balance, err = decimal.NewFromString(balance); err != nil {
			return nil, fmt.Errorf("parsing balance of %s: %w", u.ID, err)
		}
		if u.TotalWon, err = decimal.NewFromString(totals); err != nil {
			return nil, fmt.Errorf("parsing winnings of %s: %w", u.ID, err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating users: %w", err)
	}
	return users, nil
}

func (s *GameStore) loadSessions(ctx context.Context) ([]models.Session, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, room_code, status, drawn_numbers, prize_pool::text, created_by, is_private,
		        winner_id, abandoned, created_at, started_at, finished_at
		 FROM game_sessions
		 WHERE status <> 'finished'
		 ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.Session
	index := make(map[uuid.UUID]int)
	for rows.Next() {
		var (
			sess   models.Session
			status string
			drawn  []int32
			pool   string
		)
		if err := rows.Scan(&sess.ID, &sess.RoomCode, &status, &drawn, &pool, &sess.CreatorID, &sess.IsPrivate,
			&sess.WinnerID, &sess.Abandoned, &sess.CreatedAt, &sess.StartedAt, &sess.FinishedAt); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		sess.Status = models.SessionStatus(status)
		sess.DrawnNumbers = fromInt32s(drawn)
		if sess.PrizePool, err = decimal.NewFromString(pool); err != nil {
			return nil, fmt.Errorf("parsing prize pool of %s: %w", sess.RoomCode, err)
		}
		index[sess.ID] = len(sessions)
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sessions: %w", err)
	}
	rows.Close()

	if len(sessions) == 0 {
		return sessions, nil
	}

	players, err := s.db.Query(ctx,
		`SELECT sp.session_id, sp.user_id, sp.first_name, sp.card_number, sp.card_data, sp.marked_numbers,
		        sp.has_bingo, sp.prize_amount::text, sp.joined_at
		 FROM session_players sp
		 JOIN game_sessions gs ON gs.id = sp.session_id
		 WHERE gs.status <> 'finished'
		 ORDER BY sp.joined_at`)
	if err != nil {
		return nil, fmt.Errorf("querying players: %w", err)
	}
	defer players.Close()

	for players.Next() {
		var (
			sessionID uuid.UUID
			p         models.Participant
			data      []byte
			marked    []int32
			prize     string
		)
		if err := players.Scan(&sessionID, &p.UserID, &p.FirstName, &p.Card.Number, &data, &marked,
			&p.HasBingo, &prize, &p.JoinedAt); err != nil {
			return nil, fmt.Errorf("scanning player: %w", err)
		}
		if err := json.Unmarshal(data, &p.Card.Grid); err != nil {
			return nil, fmt.Errorf("decoding card %d: %w", p.Card.Number, err)
		}
		p.Card.Used = true
		p.Marked = models.NewNumberSet(fromInt32s(marked)...)
		if p.PrizeAmount, err = decimal.NewFromString(prize); err != nil {
			return nil, fmt.Errorf("parsing prize of %s: %w", p.UserID, err)
		}
		i, ok := index[sessionID]
		if !ok {
			continue
		}
		sessions[i].Players = append(sessions[i].Players, p)
	}
	if err := players.Err(); err != nil {
		return nil, fmt.Errorf("iterating players: %w", err)
	}
	return sessions, nil
}

func toInt32s(values []int) []int32 {
	out := make([]int32, len(values))
	for i, v := range values {
		out[i] = int32(v)
	}
	return out
}

func fromInt32s(values []int32) []int {
	out := make([]int, len(values))
	for i, v := range values {
		out[i] = int(v)
	}
	return out
}
