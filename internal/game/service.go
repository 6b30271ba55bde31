package game

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/HammerMeetNail/bingohall/internal/logging"
	"github.com/HammerMeetNail/bingohall/internal/models"
)

var ErrDeckInUse = errors.New("deck has open sessions")

type Options struct {
	Notifier    Notifier
	Logger      *logging.Logger
	Now         func() time.Time
	Intn        func(n int) int
	NewRoomCode func() (string, error)
	// Rand seeds deck generation when the store holds no cards.
	Rand *rand.Rand
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = logging.Default
	}
	if o.Now == nil {
		o.Now = func() time.Time { return time.Now().UTC() }
	}
	if o.Intn == nil {
		o.Intn = rand.IntN
	}
	if o.NewRoomCode == nil {
		o.NewRoomCode = RandomRoomCode
	}
	return o
}

// Service runs every bingo operation. It is safe for concurrent use.
type Service struct {
	rules    Rules
	store    Store
	deck     *Deck
	ledger   *Ledger
	registry *Registry
	notifier Notifier
	logger   *logging.Logger
	now      func() time.Time
	intn     func(n int) int
}

func NewService(rules Rules, store Store, deck *Deck, ledger *Ledger, registry *Registry, opts Options) (*Service, error) {
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	if store == nil || deck == nil || ledger == nil || registry == nil {
		return nil, fmt.Errorf("%w: store, deck, ledger and registry are required", ErrInvalidInput)
	}
	opts = opts.withDefaults()
	return &Service{
		rules:    rules,
		store:    store,
		deck:     deck,
		ledger:   ledger,
		registry: registry,
		notifier: opts.Notifier,
		logger:   opts.Logger,
		now:      opts.Now,
		intn:     opts.Intn,
	}, nil
}

// Open rebuilds a Service from everything store holds, generating and
// persisting a deck first if there is none.
func Open(ctx context.Context, rules Rules, store StateStore, opts Options) (*Service, error) {
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	snap, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading state: %w", err)
	}
	cards := snap.Cards
	if len(cards) == 0 {
		cards, err = BuildDeck(ctx, rules, store, false, opts)
		if err != nil {
			return nil, err
		}
	}

	registry := NewRegistry(opts.NewRoomCode)
	for _, v := range snap.Sessions {
		registry.add(restoreSession(v))
	}
	ledger := NewLedger(store, snap.Users, opts.Now)
	opts.Logger.Info("Game state loaded", map[string]interface{}{
		"cards":    len(cards),
		"users":    len(snap.Users),
		"sessions": len(snap.Sessions),
	})
	return NewService(rules, store, NewDeck(cards), ledger, registry, opts)
}

// BuildDeck generates a deck and persists it. A partial deck is kept and
// the shortfall logged.
func BuildDeck(ctx context.Context, rules Rules, store Store, replace bool, opts Options) ([]models.Card, error) {
	opts = opts.withDefaults()
	cards, err := GenerateDeck(rules.DeckSize, GenerateOptions{
		ColumnSize: rules.ColumnSize,
		Attempts:   rules.GenerationAttempts,
		Rand:       opts.Rand,
	})
	var exhausted *ExhaustedError
	switch {
	case errors.As(err, &exhausted):
		opts.Logger.Warn("Deck generation skipped cards", map[string]interface{}{
			"requested": exhausted.Requested,
			"skipped":   exhausted.Skipped,
		})
	case err != nil:
		return nil, err
	}
	if err := store.Apply(ctx, &Changeset{ReplaceDeck: replace, NewCards: cards}); err != nil {
		return nil, fmt.Errorf("saving deck: %w", err)
	}
	opts.Logger.Info("Deck generated", map[string]interface{}{"cards": len(cards)})
	return cards, nil
}

// RebuildDeck regenerates the stored deck. It refuses while any room is
// open, and refuses to replace an existing deck unless force is set.
func RebuildDeck(ctx context.Context, rules Rules, store StateStore, force bool, opts Options) ([]models.Card, error) {
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	snap, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading state: %w", err)
	}
	if len(snap.Sessions) > 0 {
		return nil, ErrDeckInUse
	}
	if len(snap.Cards) > 0 && !force {
		return snap.Cards, nil
	}
	return BuildDeck(ctx, rules, store, true, opts)
}

func (svc *Service) Rules() Rules { return svc.rules }

func (svc *Service) publish(ev *models.Event) {
	if ev == nil || svc.notifier == nil {
		return
	}
	svc.notifier.Publish(*ev)
}

func (svc *Service) event(roomCode string, kind models.EventKind, at time.Time, payload any) *models.Event {
	return &models.Event{
		ID:         uuid.New(),
		Kind:       kind,
		RoomCode:   roomCode,
		OccurredAt: at,
		Payload:    payload,
	}
}

func (svc *Service) apply(ctx context.Context, op string, cs *Changeset) error {
	if err := svc.store.Apply(ctx, cs); err != nil {
		svc.logger.Error("Failed to apply changeset", map[string]interface{}{
			"op":    op,
			"error": err.Error(),
		})
		return fmt.Errorf("applying changeset: %w", err)
	}
	return nil
}

func (svc *Service) lookup(code string) (*Session, error) {
	code = NormalizeRoomCode(code)
	if code == "" {
		return nil, fmt.Errorf("%w: room code is required", ErrInvalidInput)
	}
	s, ok := svc.registry.Lookup(code)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

type JoinResult struct {
	Session models.Session
	Card    models.Card
	// Entry is nil when cards are free.
	Entry   *models.LedgerEntry
	Created bool
	Event   models.Event
}

// SelectCard buys a card in a room. A room code naming an open room joins
// it; anything else opens a new room owned by the caller.
func (svc *Service) SelectCard(ctx context.Context, params models.SelectCardParams) (*JoinResult, error) {
	if params.UserID == uuid.Nil || params.CardNumber <= 0 {
		return nil, fmt.Errorf("%w: user and card number are required", ErrInvalidInput)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res, err := svc.selectCard(ctx, params)
	if err != nil {
		return nil, err
	}
	svc.publish(&res.Event)
	return res, nil
}

func (svc *Service) selectCard(ctx context.Context, params models.SelectCardParams) (*JoinResult, error) {
	user, err := svc.ledger.Account(params.UserID)
	if err != nil {
		return nil, err
	}

	s, created, err := svc.resolveRoom(params)
	if err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	committed := false
	if created {
		defer func() {
			if !committed {
				svc.registry.release(s.roomCode)
			}
		}()
	}

	if err := s.checkJoin(user.ID, svc.rules.MaxPlayers); err != nil {
		return nil, err
	}

	unlockUser := svc.ledger.lockUsers(user.ID)
	defer unlockUser()
	card, hold, err := svc.deck.Reserve(params.CardNumber)
	if err != nil {
		return nil, err
	}
	defer hold.Unlock()

	now := svc.now()
	post := svc.ledger.begin(now)
	sessionID := s.id
	var entry *models.LedgerEntry
	if svc.rules.CardPrice.IsPositive() {
		desc := fmt.Sprintf("Card #%d in room %s", card.Number, s.roomCode)
		entry, err = post.record(user.ID, models.EntryFee, svc.rules.CardPrice.Neg(), desc, &sessionID)
		if err != nil {
			return nil, err
		}
	}
	acct, err := post.account(user.ID)
	if err != nil {
		return nil, err
	}
	acct.GamesPlayed++

	card.Used = true
	pool := s.prizePool.Add(svc.rules.PoolContribution())
	part := models.Participant{
		UserID:      user.ID,
		FirstName:   user.FirstName,
		Card:        card,
		Marked:      models.NewNumberSet(),
		PrizeAmount: decimal.Zero,
		JoinedAt:    now,
	}
	rec := s.record()
	rec.PrizePool = pool
	cs := &Changeset{
		CardUpdates: []CardUpdate{{Number: card.Number, Used: true}},
		Session:     &rec,
		Players:     []PlayerRecord{{SessionID: s.id, Participant: part}},
	}
	post.fill(cs)
	if err := svc.apply(ctx, "select_card", cs); err != nil {
		return nil, err
	}
	committed = true

	svc.ledger.commit(post)
	hold.Commit()
	s.addPlayer(part, pool)
	if created {
		svc.registry.add(s)
	}

	res := &JoinResult{
		Session: s.view(),
		Card:    card,
		Created: created,
	}
	if entry != nil {
		e := *entry
		res.Entry = &e
	}
	res.Event = *svc.event(s.roomCode, models.EventPlayerJoined, now, models.PlayerJoinedPayload{
		UserID:      user.ID,
		FirstName:   user.FirstName,
		CardNumber:  card.Number,
		PlayerCount: len(s.order),
		PrizePool:   pool,
		Status:      s.status,
		Created:     created,
	})
	return res, nil
}

// resolveRoom returns the room to join with its lock held.
func (svc *Service) resolveRoom(params models.SelectCardParams) (*Session, bool, error) {
	if code := NormalizeRoomCode(params.RoomCode); code != "" {
		if s, ok := svc.registry.Lookup(code); ok {
			s.mu.Lock()
			if s.status != models.StatusFinished {
				return s, false, nil
			}
			s.mu.Unlock()
		}
	}
	code, err := svc.registry.reserveCode()
	if err != nil {
		return nil, false, err
	}
	s := newSession(code, params.UserID, params.Private, svc.now())
	s.mu.Lock()
	return s, true, nil
}

type StartResult struct {
	Session models.Session
	Event   models.Event
}

// StartGame moves a waiting room to active. Any participant may start it.
func (svc *Service) StartGame(ctx context.Context, roomCode string, userID uuid.UUID) (*StartResult, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("%w: user is required", ErrInvalidInput)
	}
	s, err := svc.lookup(roomCode)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res, err := svc.startGame(ctx, s, userID)
	if err != nil {
		return nil, err
	}
	svc.publish(&res.Event)
	return res, nil
}

func (svc *Service) startGame(ctx context.Context, s *Session, userID uuid.UUID) (*StartResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkStart(userID, svc.rules.MinPlayersToStart); err != nil {
		return nil, err
	}

	now := svc.now()
	rec := s.record()
	rec.Status = models.StatusActive
	rec.StartedAt = &now
	if err := svc.apply(ctx, "start_game", &Changeset{Session: &rec}); err != nil {
		return nil, err
	}
	s.applyStart(now)

	return &StartResult{
		Session: s.view(),
		Event: *svc.event(s.roomCode, models.EventGameStarted, now, models.GameStartedPayload{
			StartedBy:   userID,
			PlayerCount: len(s.order),
			PrizePool:   s.prizePool,
			StartedAt:   now,
		}),
	}, nil
}

type DrawResult struct {
	Number       int
	Label        string
	DrawnNumbers []int
	Remaining    int
	Event        models.Event
}

// DrawNumber calls one number chosen uniformly from those not yet drawn.
func (svc *Service) DrawNumber(ctx context.Context, roomCode string) (*DrawResult, error) {
	s, err := svc.lookup(roomCode)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res, err := svc.drawNumber(ctx, s)
	if err != nil {
		return nil, err
	}
	svc.publish(&res.Event)
	return res, nil
}

func (svc *Service) drawNumber(ctx context.Context, s *Session) (*DrawResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	top := svc.rules.MaxNumber()
	if err := s.checkDraw(top); err != nil {
		return nil, err
	}

	remaining := s.remaining(top)
	n := remaining[svc.intn(len(remaining))]
	rec := s.record()
	rec.DrawnNumbers = append(rec.DrawnNumbers, n)
	if err := svc.apply(ctx, "draw_number", &Changeset{Session: &rec}); err != nil {
		return nil, err
	}
	s.applyDraw(n)

	label := models.ColumnLabel(n, svc.rules.ColumnSize)
	left := top - len(s.drawn)
	now := svc.now()
	return &DrawResult{
		Number:       n,
		Label:        label,
		DrawnNumbers: append([]int(nil), s.drawn...),
		Remaining:    left,
		Event: *svc.event(s.roomCode, models.EventNumberDrawn, now, models.NumberDrawnPayload{
			Number:     n,
			Label:      label,
			TotalDrawn: len(s.drawn),
			Remaining:  left,
		}),
	}, nil
}

type MarkResult struct {
	Marked   []int
	HasBingo bool
	// Winner is set only for the mark that finished the room.
	Winner bool
	Prize  decimal.Decimal
	Lines  []string
	Status models.SessionStatus
	// Event is nil unless the mark completed a line.
	Event *models.Event
}

// MarkNumber marks a number on the caller's card. The first completed
// pattern in a room wins the whole prize pool and finishes the room. Once
// a room is won, a mark is accepted only when it completes a pattern; it
// records the bingo without a prize.
func (svc *Service) MarkNumber(ctx context.Context, roomCode string, userID uuid.UUID, number int) (*MarkResult, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("%w: user is required", ErrInvalidInput)
	}
	if number < 1 || number > svc.rules.MaxNumber() {
		return nil, fmt.Errorf("%w: number must be between 1 and %d", ErrInvalidInput, svc.rules.MaxNumber())
	}
	s, err := svc.lookup(roomCode)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res, err := svc.markNumber(ctx, s, userID, number)
	if err != nil {
		return nil, err
	}
	svc.publish(res.Event)
	return res, nil
}

func (svc *Service) markNumber(ctx context.Context, s *Session, userID uuid.UUID, number int) (*MarkResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, late, err := s.checkMark(userID, number, svc.rules.RequireDrawnToMark)
	if err != nil {
		return nil, err
	}

	now := svc.now()
	updated := *p
	updated.Marked = p.Marked.Clone()
	updated.Marked.Add(number)
	wins := HasBingo(p.Card.Grid, updated.Marked, svc.rules.Patterns)
	if late && !wins {
		return nil, ErrGameNotActive
	}

	cs := &Changeset{}
	var post *posting
	first := false
	if wins {
		updated.HasBingo = true
		first = !s.hasWinner()
	}
	if first {
		unlockUser := svc.ledger.lockUsers(userID)
		defer unlockUser()

		prize := s.prizePool
		post = svc.ledger.begin(now)
		sessionID := s.id
		if prize.IsPositive() {
			desc := fmt.Sprintf("Bingo in room %s", s.roomCode)
			if _, err := post.record(userID, models.EntryPrize, prize, desc, &sessionID); err != nil {
				return nil, err
			}
		}
		acct, err := post.account(userID)
		if err != nil {
			return nil, err
		}
		acct.Bingos++
		acct.TotalWon = acct.TotalWon.Add(prize)
		updated.PrizeAmount = prize

		winner := userID
		rec := s.record()
		rec.Status = models.StatusFinished
		rec.FinishedAt = &now
		rec.WinnerID = &winner
		cs.Session = &rec
		post.fill(cs)
	}
	cs.Players = []PlayerRecord{{SessionID: s.id, Participant: updated}}
	if err := svc.apply(ctx, "mark_number", cs); err != nil {
		return nil, err
	}

	s.applyMark(p, updated)
	if first {
		svc.ledger.commit(post)
		winner := userID
		s.applyFinish(now, &winner, false)
		svc.logger.Info("Bingo prize paid", map[string]interface{}{
			"room_code": s.roomCode,
			"user_id":   userID.String(),
			"prize":     updated.PrizeAmount.StringFixed(2),
			"drawn":     len(s.drawn),
		})
	}

	res := &MarkResult{
		Marked:   updated.Marked.Sorted(),
		HasBingo: updated.HasBingo,
		Winner:   first,
		Prize:    updated.PrizeAmount,
		Status:   s.status,
	}
	if wins {
		res.Lines = WinningLines(p.Card.Grid, updated.Marked, svc.rules.Patterns)
		res.Event = svc.event(s.roomCode, models.EventBingo, now, models.BingoPayload{
			UserID:      userID,
			CardNumber:  p.Card.Number,
			Winner:      first,
			Prize:       updated.PrizeAmount,
			Lines:       res.Lines,
			Status:      s.status,
			DrawnCount:  len(s.drawn),
			MarkedCount: updated.Marked.Len(),
		})
	}
	return res, nil
}

type AbandonResult struct {
	Session models.Session
	Refunds []models.LedgerEntry
	Event   models.Event
}

// Abandon cancels a room nobody has drawn in yet. Every entry fee is
// refunded and every card goes back on sale.
func (svc *Service) Abandon(ctx context.Context, roomCode string, userID uuid.UUID) (*AbandonResult, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("%w: user is required", ErrInvalidInput)
	}
	s, err := svc.lookup(roomCode)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res, err := svc.abandon(ctx, s, userID)
	if err != nil {
		return nil, err
	}
	svc.publish(&res.Event)
	return res, nil
}

func (svc *Service) abandon(ctx context.Context, s *Session, userID uuid.UUID) (*AbandonResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkAbandon(userID); err != nil {
		return nil, err
	}

	ids := s.userIDs()
	numbers := make([]int, 0, len(ids))
	for _, id := range ids {
		numbers = append(numbers, s.players[id].Card.Number)
	}
	unlockUsers := svc.ledger.lockUsers(ids...)
	defer unlockUsers()
	hold, err := svc.deck.Release(numbers...)
	if err != nil {
		return nil, err
	}
	defer hold.Unlock()

	now := svc.now()
	post := svc.ledger.begin(now)
	sessionID := s.id
	refund := svc.rules.CardPrice
	cs := &Changeset{}
	for _, id := range ids {
		p := s.players[id]
		if refund.IsPositive() {
			desc := fmt.Sprintf("Refund for card #%d in room %s", p.Card.Number, s.roomCode)
			if _, err := post.refund(id, refund, desc, &sessionID); err != nil {
				return nil, err
			}
		}
		acct, err := post.account(id)
		if err != nil {
			return nil, err
		}
		if acct.GamesPlayed > 0 {
			acct.GamesPlayed--
		}
		cs.CardUpdates = append(cs.CardUpdates, CardUpdate{Number: p.Card.Number, Used: false})
	}
	rec := s.record()
	rec.Status = models.StatusFinished
	rec.Abandoned = true
	rec.PrizePool = decimal.Zero
	rec.FinishedAt = &now
	cs.Session = &rec
	post.fill(cs)
	if err := svc.apply(ctx, "abandon", cs); err != nil {
		return nil, err
	}

	svc.ledger.commit(post)
	hold.Commit()
	s.applyFinish(now, nil, true)

	refunds := make([]models.LedgerEntry, 0, len(post.entries))
	for _, e := range post.entries {
		refunds = append(refunds, *e)
	}
	return &AbandonResult{
		Session: s.view(),
		Refunds: refunds,
		Event: *svc.event(s.roomCode, models.EventGameAbandoned, now, models.GameAbandonedPayload{
			AbandonedBy: userID,
			Refunded:    len(refunds),
			RefundEach:  refund,
		}),
	}, nil
}

func (svc *Service) OpenAccount(ctx context.Context, params models.OpenAccountParams) (models.User, bool, error) {
	return svc.ledger.OpenAccount(ctx, params, svc.rules.WelcomeBonus)
}

func (svc *Service) Account(userID uuid.UUID) (models.User, error) {
	return svc.ledger.Account(userID)
}

func (svc *Service) History(ctx context.Context, userID uuid.UUID, page models.Page) ([]models.LedgerEntry, error) {
	return svc.ledger.History(ctx, userID, page)
}

func (svc *Service) Deposit(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (models.LedgerEntry, error) {
	if !amount.IsPositive() {
		return models.LedgerEntry{}, fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	if amount.LessThan(svc.rules.DepositMin) {
		return models.LedgerEntry{}, ErrBelowMinimum
	}
	return svc.ledger.Record(ctx, userID, models.EntryDeposit, amount.Round(2), "Deposit")
}

func (svc *Service) Withdraw(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (models.LedgerEntry, error) {
	if !amount.IsPositive() {
		return models.LedgerEntry{}, fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	if amount.LessThan(svc.rules.WithdrawalMin) {
		return models.LedgerEntry{}, ErrBelowMinimum
	}
	return svc.ledger.Record(ctx, userID, models.EntryWithdrawal, amount.Round(2).Neg(), "Withdrawal")
}

func (svc *Service) AvailableCards(page models.Page) ([]models.Card, int) {
	return svc.deck.Available(page), svc.deck.AvailableCount()
}

func (svc *Service) Card(number int) (models.Card, error) {
	c, ok := svc.deck.Card(number)
	if !ok {
		return models.Card{}, ErrCardNotFound
	}
	return c, nil
}

func (svc *Service) Session(roomCode string) (models.Session, error) {
	s, err := svc.lookup(roomCode)
	if err != nil {
		return models.Session{}, err
	}
	return s.Snapshot(), nil
}

func (svc *Service) ListSessions(status models.SessionStatus, page models.Page) []models.SessionSummary {
	return svc.registry.List(status, page)
}

// Retire drops finished rooms that ended before the cutoff.
func (svc *Service) Retire(before time.Time) int {
	n := svc.registry.Retire(before)
	if n > 0 {
		svc.logger.Info("Retired finished sessions", map[string]interface{}{"count": n})
	}
	return n
}
