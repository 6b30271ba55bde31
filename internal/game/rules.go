package game

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/HammerMeetNail/bingohall/internal/models"
)

// Patterns is a bit set of recognised win patterns.
type Patterns uint8

const (
	PatternRows Patterns = 1 << iota
	PatternColumns
	PatternDiagonals
	PatternCorners
)

const DefaultPatterns = PatternRows | PatternColumns | PatternDiagonals

var patternNames = []struct {
	name    string
	pattern Patterns
}{
	{"rows", PatternRows},
	{"columns", PatternColumns},
	{"diagonals", PatternDiagonals},
	{"corners", PatternCorners},
}

// ParsePatterns turns names like "rows,corners" into a pattern set.
func ParsePatterns(names []string) (Patterns, error) {
	var out Patterns
	for _, raw := range names {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "" {
			continue
		}
		found := false
		for _, pn := range patternNames {
			if pn.name == name {
				out |= pn.pattern
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("%w: unknown win pattern %q", ErrInvalidInput, raw)
		}
	}
	if out == 0 {
		return 0, fmt.Errorf("%w: at least one win pattern is required", ErrInvalidInput)
	}
	return out, nil
}

func (p Patterns) Has(q Patterns) bool {
	return p&q == q
}

func (p Patterns) String() string {
	var names []string
	for _, pn := range patternNames {
		if p.Has(pn.pattern) {
			names = append(names, pn.name)
		}
	}
	return strings.Join(names, ",")
}

// Rules are the tunable parameters of a bingo hall.
type Rules struct {
	CardPrice          decimal.Decimal
	PrizePoolShare     decimal.Decimal
	DeckSize           int
	MinPlayersToStart  int
	MaxPlayers         int
	ColumnSize         int
	Patterns           Patterns
	GenerationAttempts int
	DepositMin         decimal.Decimal
	WithdrawalMin      decimal.Decimal
	WelcomeBonus       decimal.Decimal
	RequireDrawnToMark bool
}

func DefaultRules() Rules {
	return Rules{
		CardPrice:          decimal.RequireFromString("5.00"),
		PrizePoolShare:     decimal.RequireFromString("0.80"),
		DeckSize:           400,
		MinPlayersToStart:  2,
		MaxPlayers:         100,
		ColumnSize:         models.DefaultColumnSize,
		Patterns:           DefaultPatterns,
		GenerationAttempts: 100,
		DepositMin:         decimal.RequireFromString("10.00"),
		WithdrawalMin:      decimal.RequireFromString("20.00"),
		WelcomeBonus:       decimal.RequireFromString("10.00"),
	}
}

func (r Rules) Validate() error {
	switch {
	case r.CardPrice.IsNegative():
		return fmt.Errorf("%w: card price must not be negative", ErrInvalidInput)
	case r.PrizePoolShare.IsNegative() || r.PrizePoolShare.GreaterThan(decimal.NewFromInt(1)):
		return fmt.Errorf("%w: prize pool share must be between 0 and 1", ErrInvalidInput)
	case r.DeckSize <= 0:
		return fmt.Errorf("%w: deck size must be positive", ErrInvalidInput)
	case r.MinPlayersToStart < 1:
		return fmt.Errorf("%w: min players must be at least 1", ErrInvalidInput)
	case r.MaxPlayers < r.MinPlayersToStart:
		return fmt.Errorf("%w: max players must be at least min players", ErrInvalidInput)
	case r.ColumnSize < models.GridSize:
		return fmt.Errorf("%w: column size must be at least %d", ErrInvalidInput, models.GridSize)
	case r.Patterns == 0:
		return fmt.Errorf("%w: no win patterns enabled", ErrInvalidInput)
	case r.GenerationAttempts <= 0:
		return fmt.Errorf("%w: generation attempts must be positive", ErrInvalidInput)
	case r.WelcomeBonus.IsNegative():
		return fmt.Errorf("%w: welcome bonus must not be negative", ErrInvalidInput)
	}
	return nil
}

// MaxNumber is the size of the draw universe.
func (r Rules) MaxNumber() int {
	return models.MaxNumber(r.ColumnSize)
}

// PoolContribution is the part of one entry fee routed to the prize pool.
func (r Rules) PoolContribution() decimal.Decimal {
	return r.CardPrice.Mul(r.PrizePoolShare).Round(2)
}
