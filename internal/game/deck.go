package game

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"sort"
	"sync"

	"github.com/HammerMeetNail/bingohall/internal/models"
)

// ExhaustedError reports card numbers that could not be given a unique grid.
type ExhaustedError struct {
	Requested int
	Skipped   []int
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: %d of %d cards skipped", ErrCardGenerationExhausted, len(e.Skipped), e.Requested)
}

func (e *ExhaustedError) Unwrap() error {
	return ErrCardGenerationExhausted
}

type GenerateOptions struct {
	ColumnSize int
	Attempts   int
	Rand       *rand.Rand
}

// GenerateGrid samples one card: five distinct sorted values per column,
// with the centre overwritten by FREE.
func GenerateGrid(r *rand.Rand, columnSize int) models.Grid {
	var g models.Grid
	for col := 0; col < models.GridSize; col++ {
		lo, _ := models.ColumnRange(col, columnSize)
		picks := r.Perm(columnSize)[:models.GridSize]
		sort.Ints(picks)
		for row, p := range picks {
			g[row][col] = models.NumberCell(lo + p)
		}
	}
	g[models.CenterIndex][models.CenterIndex] = models.Free
	return g
}

// GenerateDeck builds cards numbered 1..size with pairwise distinct grids.
// A card number that cannot get a unique grid within opts.Attempts tries is
// skipped; the returned cards are still usable and the error is an
// *ExhaustedError listing the gaps.
func GenerateDeck(size int, opts GenerateOptions) ([]models.Card, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: deck size must be positive", ErrInvalidInput)
	}
	if opts.ColumnSize == 0 {
		opts.ColumnSize = models.DefaultColumnSize
	}
	if opts.ColumnSize < models.GridSize {
		return nil, fmt.Errorf("%w: column size must be at least %d", ErrInvalidInput, models.GridSize)
	}
	if opts.Attempts <= 0 {
		opts.Attempts = 100
	}
	r := opts.Rand
	if r == nil {
		r = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	seen := make(map[string]struct{}, size)
	cards := make([]models.Card, 0, size)
	var skipped []int
	for n := 1; n <= size; n++ {
		placed := false
		for attempt := 0; attempt < opts.Attempts; attempt++ {
			g := GenerateGrid(r, opts.ColumnSize)
			key := g.Key()
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			cards = append(cards, models.Card{Number: n, Grid: g})
			placed = true
			break
		}
		if !placed {
			skipped = append(skipped, n)
		}
	}
	if len(skipped) > 0 {
		return cards, &ExhaustedError{Requested: size, Skipped: skipped}
	}
	return cards, nil
}

// Deck is the in-memory card inventory. Card.Used is the reservation flag.
type Deck struct {
	mu      sync.RWMutex
	cards   map[int]*models.Card
	numbers []int
	locks   keyedMutex[int]
}

func NewDeck(cards []models.Card) *Deck {
	d := &Deck{cards: make(map[int]*models.Card, len(cards))}
	for i := range cards {
		c := cards[i]
		d.cards[c.Number] = &c
		d.numbers = append(d.numbers, c.Number)
	}
	slices.Sort(d.numbers)
	return d
}

func (d *Deck) Size() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.cards)
}

func (d *Deck) Card(number int) (models.Card, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.cards[number]
	if !ok {
		return models.Card{}, false
	}
	return *c, true
}

// Available lists unused cards by ascending number.
func (d *Deck) Available(page models.Page) []models.Card {
	page = page.Normalize()
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]models.Card, 0, page.Limit)
	skipped := 0
	for _, n := range d.numbers {
		c := d.cards[n]
		if c.Used {
			continue
		}
		if skipped < page.Offset {
			skipped++
			continue
		}
		out = append(out, *c)
		if len(out) == page.Limit {
			break
		}
	}
	return out
}

func (d *Deck) AvailableCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	count := 0
	for _, c := range d.cards {
		if !c.Used {
			count++
		}
	}
	return count
}

// CardHold keeps card locks between checking a reservation and making it
// visible. Commit applies the change; Unlock must always be called.
type CardHold struct {
	deck    *Deck
	numbers []int
	used    bool
	unlock  func()
}

// Reserve locks an unused card. The card shows as used only after Commit.
func (d *Deck) Reserve(number int) (models.Card, *CardHold, error) {
	unlock := d.lock(number)
	c, err := d.unused(number)
	if err != nil {
		unlock()
		return models.Card{}, nil, err
	}
	return c, &CardHold{deck: d, numbers: []int{number}, used: true, unlock: unlock}, nil
}

// Release locks cards so they can be returned to the pool with Commit.
func (d *Deck) Release(numbers ...int) (*CardHold, error) {
	unlock := d.lock(numbers...)
	for _, n := range numbers {
		if _, ok := d.Card(n); !ok {
			unlock()
			return nil, ErrCardNotFound
		}
	}
	return &CardHold{deck: d, numbers: slices.Clone(numbers), used: false, unlock: unlock}, nil
}

func (h *CardHold) Commit() {
	for _, n := range h.numbers {
		h.deck.setUsed(n, h.used)
	}
}

func (h *CardHold) Unlock() { h.unlock() }

func (d *Deck) lock(numbers ...int) func() {
	return lockSorted(&d.locks, numbers, compareInt)
}

// unused must be called with the card lock held.
func (d *Deck) unused(number int) (models.Card, error) {
	c, ok := d.Card(number)
	if !ok || c.Used {
		return models.Card{}, ErrCardUnavailable
	}
	return c, nil
}

func (d *Deck) setUsed(number int, used bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.cards[number]; ok {
		c.Used = used
	}
}
