package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

const (
	GridSize          = 5
	CenterIndex       = GridSize / 2
	DefaultColumnSize = 15
)

// ColumnLetters labels the five grid columns.
const ColumnLetters = "BINGO"

// Cell is a single grid square: a positive number, or Free.
type Cell int

// Free is the centre square, always counted as marked.
const Free Cell = 0

const freeToken = "FREE"

func NumberCell(n int) Cell {
	return Cell(n)
}

func (c Cell) IsFree() bool {
	return c == Free
}

func (c Cell) Number() int {
	return int(c)
}

func (c Cell) String() string {
	if c.IsFree() {
		return freeToken
	}
	return strconv.Itoa(int(c))
}

func (c Cell) MarshalJSON() ([]byte, error) {
	if c.IsFree() {
		return []byte(`"` + freeToken + `"`), nil
	}
	return []byte(strconv.Itoa(int(c))), nil
}

func (c *Cell) UnmarshalJSON(data []byte) error {
	if string(data) == `"`+freeToken+`"` {
		*c = Free
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid cell %s", string(data))
	}
	if n <= 0 {
		return fmt.Errorf("invalid cell number %d", n)
	}
	*c = Cell(n)
	return nil
}

// Grid is a 5x5 card laid out row-major; Grid[row][col].
type Grid [GridSize][GridSize]Cell

// Key returns the canonical form used to detect duplicate grids.
func (g Grid) Key() string {
	var b strings.Builder
	for row := 0; row < GridSize; row++ {
		if row > 0 {
			b.WriteByte(';')
		}
		for col := 0; col < GridSize; col++ {
			if col > 0 {
				b.WriteByte(',')
			}
			b.WriteString(g[row][col].String())
		}
	}
	return b.String()
}

// Contains reports whether n is printed on the card.
func (g Grid) Contains(n int) bool {
	if n <= 0 {
		return false
	}
	for row := 0; row < GridSize; row++ {
		for col := 0; col < GridSize; col++ {
			if g[row][col] == Cell(n) {
				return true
			}
		}
	}
	return false
}

// Numbers returns every non-free value on the card in row-major order.
func (g Grid) Numbers() []int {
	out := make([]int, 0, GridSize*GridSize-1)
	for row := 0; row < GridSize; row++ {
		for col := 0; col < GridSize; col++ {
			if !g[row][col].IsFree() {
				out = append(out, g[row][col].Number())
			}
		}
	}
	return out
}

// Validate checks column ranges, the free centre and in-card uniqueness.
func (g Grid) Validate(columnSize int) error {
	seen := make(map[int]struct{}, GridSize*GridSize)
	for row := 0; row < GridSize; row++ {
		for col := 0; col < GridSize; col++ {
			cell := g[row][col]
			if row == CenterIndex && col == CenterIndex {
				if !cell.IsFree() {
					return fmt.Errorf("centre cell must be free")
				}
				continue
			}
			if cell.IsFree() {
				return fmt.Errorf("cell [%d][%d] is free", row, col)
			}
			lo, hi := ColumnRange(col, columnSize)
			if n := cell.Number(); n < lo || n > hi {
				return fmt.Errorf("cell [%d][%d]=%d outside column %c range %d-%d", row, col, n, ColumnLetters[col], lo, hi)
			}
			if _, dup := seen[cell.Number()]; dup {
				return fmt.Errorf("duplicate number %d", cell.Number())
			}
			seen[cell.Number()] = struct{}{}
		}
	}
	return nil
}

// ColumnRange returns the inclusive numeric range reserved for col.
func ColumnRange(col, columnSize int) (int, int) {
	return col*columnSize + 1, (col + 1) * columnSize
}

// MaxNumber is the top of the draw universe for a column size.
func MaxNumber(columnSize int) int {
	return GridSize * columnSize
}

// ColumnLabel renders a called number the way a caller reads it, e.g. "B7".
func ColumnLabel(n, columnSize int) string {
	if n <= 0 || columnSize <= 0 || n > MaxNumber(columnSize) {
		return strconv.Itoa(n)
	}
	return fmt.Sprintf("%c%d", ColumnLetters[(n-1)/columnSize], n)
}

type Card struct {
	Number int  `json:"card_number"`
	Grid   Grid `json:"card_data"`
	Used   bool `json:"is_used"`
}

// NumberSet is an unordered set of card numbers.
type NumberSet map[int]struct{}

func NewNumberSet(values ...int) NumberSet {
	s := make(NumberSet, len(values))
	for _, v := range values {
		s[v] = struct{}{}
	}
	return s
}

func (s NumberSet) Has(n int) bool {
	_, ok := s[n]
	return ok
}

func (s NumberSet) Add(n int) {
	s[n] = struct{}{}
}

func (s NumberSet) Len() int {
	return len(s)
}

func (s NumberSet) Clone() NumberSet {
	out := make(NumberSet, len(s)+1)
	for n := range s {
		out[n] = struct{}{}
	}
	return out
}

// Sorted returns the members in ascending order.
func (s NumberSet) Sorted() []int {
	out := make([]int, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

func (s NumberSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

func (s *NumberSet) UnmarshalJSON(data []byte) error {
	var values []int
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}
	*s = NewNumberSet(values...)
	return nil
}
