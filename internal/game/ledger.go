package game

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/HammerMeetNail/bingohall/internal/models"
)

// Ledger owns account balances. The cached balance of a user always equals
// the sum of that user's entries; both move in the same store commit.
type Ledger struct {
	store Store
	now   func() time.Time

	locks     keyedMutex[uuid.UUID]
	openLocks keyedMutex[int64]

	mu         sync.RWMutex
	users      map[uuid.UUID]*models.User
	byTelegram map[int64]uuid.UUID
}

func NewLedger(store Store, users []models.User, now func() time.Time) *Ledger {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	l := &Ledger{
		store:      store,
		now:        now,
		users:      make(map[uuid.UUID]*models.User, len(users)),
		byTelegram: make(map[int64]uuid.UUID, len(users)),
	}
	for i := range users {
		u := users[i]
		l.users[u.ID] = &u
		l.byTelegram[u.TelegramID] = u.ID
	}
	return l
}

func (l *Ledger) Account(userID uuid.UUID) (models.User, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	u, ok := l.users[userID]
	if !ok {
		return models.User{}, ErrUserNotFound
	}
	return *u, nil
}

func (l *Ledger) AccountByTelegram(telegramID int64) (models.User, error) {
	l.mu.RLock()
	id, ok := l.byTelegram[telegramID]
	l.mu.RUnlock()
	if !ok {
		return models.User{}, ErrUserNotFound
	}
	return l.Account(id)
}

// OpenAccount returns the account for a Telegram id, creating it with the
// welcome bonus on first sight. The bool reports whether it was created.
func (l *Ledger) OpenAccount(ctx context.Context, params models.OpenAccountParams, bonus decimal.Decimal) (models.User, bool, error) {
	if params.TelegramID <= 0 {
		return models.User{}, false, fmt.Errorf("%w: telegram id must be positive", ErrInvalidInput)
	}
	if err := ctx.Err(); err != nil {
		return models.User{}, false, err
	}
	unlock := l.openLocks.Lock(params.TelegramID)
	defer unlock()

	if u, err := l.AccountByTelegram(params.TelegramID); err == nil {
		return u, false, nil
	}

	now := l.now()
	user := models.User{
		ID:         uuid.New(),
		TelegramID: params.TelegramID,
		FirstName:  strings.TrimSpace(params.FirstName),
		Balance:    decimal.Zero,
		TotalWon:   decimal.Zero,
		CreatedAt:  now,
	}
	p := l.begin(now)
	p.adopt(user)
	if bonus.IsPositive() {
		if _, err := p.record(user.ID, models.EntryBonus, bonus, "Welcome bonus", nil); err != nil {
			return models.User{}, false, err
		}
	}
	cs := &Changeset{NewUsers: []models.User{user}}
	p.fill(cs)
	if err := l.store.Apply(ctx, cs); err != nil {
		return models.User{}, false, fmt.Errorf("applying changeset: %w", err)
	}
	l.commit(p)
	u, _ := l.Account(user.ID)
	return u, true, nil
}

// Record appends one entry and moves the cached balance with it.
func (l *Ledger) Record(ctx context.Context, userID uuid.UUID, kind models.EntryKind, amount decimal.Decimal, description string) (models.LedgerEntry, error) {
	if err := ctx.Err(); err != nil {
		return models.LedgerEntry{}, err
	}
	unlock := l.lockUsers(userID)
	defer unlock()

	p := l.begin(l.now())
	entry, err := p.record(userID, kind, amount, description, nil)
	if err != nil {
		return models.LedgerEntry{}, err
	}
	cs := &Changeset{}
	p.fill(cs)
	if err := l.store.Apply(ctx, cs); err != nil {
		return models.LedgerEntry{}, fmt.Errorf("applying changeset: %w", err)
	}
	l.commit(p)
	return *entry, nil
}

func (l *Ledger) History(ctx context.Context, userID uuid.UUID, page models.Page) ([]models.LedgerEntry, error) {
	if _, err := l.Account(userID); err != nil {
		return nil, err
	}
	entries, err := l.store.History(ctx, userID, page.Normalize())
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}
	return entries, nil
}

func (l *Ledger) lockUsers(ids ...uuid.UUID) func() {
	return lockSorted(&l.locks, ids, compareUUID)
}

func (l *Ledger) begin(now time.Time) *posting {
	return &posting{ledger: l, now: now, accounts: make(map[uuid.UUID]*models.User)}
}

func (l *Ledger) commit(p *posting) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, id := range p.order {
		u := *p.accounts[id]
		l.users[id] = &u
		l.byTelegram[u.TelegramID] = id
	}
}

// posting collects working copies of accounts and the entries against them
// for one operation. Callers hold the user locks for every account touched.
type posting struct {
	ledger   *Ledger
	now      time.Time
	accounts map[uuid.UUID]*models.User
	order    []uuid.UUID
	entries  []*models.LedgerEntry
}

func (p *posting) adopt(u models.User) *models.User {
	p.accounts[u.ID] = &u
	p.order = append(p.order, u.ID)
	return &u
}

func (p *posting) account(userID uuid.UUID) (*models.User, error) {
	if u, ok := p.accounts[userID]; ok {
		return u, nil
	}
	u, err := p.ledger.Account(userID)
	if err != nil {
		return nil, err
	}
	return p.adopt(u), nil
}

// record stages one entry. Outbound kinds carry a negative amount and every
// other kind a positive one.
func (p *posting) record(userID uuid.UUID, kind models.EntryKind, amount decimal.Decimal, description string, sessionID *uuid.UUID) (*models.LedgerEntry, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown entry kind %q", ErrInvalidInput, kind)
	}
	if amount.IsZero() {
		return nil, fmt.Errorf("%w: amount must not be zero", ErrInvalidInput)
	}
	if kind.Outbound() && amount.IsPositive() {
		return nil, fmt.Errorf("%w: %s amount must be negative", ErrInvalidInput, kind)
	}
	if !kind.Outbound() && amount.IsNegative() {
		return nil, fmt.Errorf("%w: %s amount must be positive", ErrInvalidInput, kind)
	}
	return p.post(userID, kind, amount, description, sessionID)
}

// refund stages a positive entryFee that returns a card price.
func (p *posting) refund(userID uuid.UUID, amount decimal.Decimal, description string, sessionID *uuid.UUID) (*models.LedgerEntry, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: refund must be positive", ErrInvalidInput)
	}
	return p.post(userID, models.EntryFee, amount, description, sessionID)
}

func (p *posting) post(userID uuid.UUID, kind models.EntryKind, amount decimal.Decimal, description string, sessionID *uuid.UUID) (*models.LedgerEntry, error) {
	u, err := p.account(userID)
	if err != nil {
		return nil, err
	}
	after := u.Balance.Add(amount)
	if kind.Outbound() && after.IsNegative() {
		return nil, ErrInsufficientFunds
	}
	u.Balance = after
	entry := &models.LedgerEntry{
		UserID:       userID,
		Kind:         kind,
		Amount:       amount,
		BalanceAfter: after,
		Description:  description,
		SessionID:    sessionID,
		CreatedAt:    p.now,
	}
	p.entries = append(p.entries, entry)
	return entry, nil
}

func (p *posting) fill(cs *Changeset) {
	cs.Entries = append(cs.Entries, p.entries...)
	for _, id := range p.order {
		u := p.accounts[id]
		cs.Accounts = append(cs.Accounts, AccountUpdate{
			UserID:      id,
			Balance:     u.Balance,
			GamesPlayed: u.GamesPlayed,
			Bingos:      u.Bingos,
			TotalWon:    u.TotalWon,
		})
	}
}
