package game

import (
	"fmt"

	"github.com/HammerMeetNail/bingohall/internal/models"
)

type cell struct{ row, col int }

type line struct {
	name    string
	pattern Patterns
	cells   []cell
}

var winLines = buildLines()

func buildLines() []line {
	n := models.GridSize
	var out []line
	for row := 0; row < n; row++ {
		l := line{name: fmt.Sprintf("row %d", row+1), pattern: PatternRows}
		for col := 0; col < n; col++ {
			l.cells = append(l.cells, cell{row, col})
		}
		out = append(out, l)
	}
	for col := 0; col < n; col++ {
		l := line{name: fmt.Sprintf("column %c", models.ColumnLetters[col]), pattern: PatternColumns}
		for row := 0; row < n; row++ {
			l.cells = append(l.cells, cell{row, col})
		}
		out = append(out, l)
	}
	down := line{name: "diagonal down", pattern: PatternDiagonals}
	up := line{name: "diagonal up", pattern: PatternDiagonals}
	for i := 0; i < n; i++ {
		down.cells = append(down.cells, cell{i, i})
		up.cells = append(up.cells, cell{n - 1 - i, i})
	}
	out = append(out, down, up)
	out = append(out, line{
		name:    "four corners",
		pattern: PatternCorners,
		cells:   []cell{{0, 0}, {0, n - 1}, {n - 1, 0}, {n - 1, n - 1}},
	})
	return out
}

func (l line) complete(grid models.Grid, marked models.NumberSet) bool {
	for _, c := range l.cells {
		v := grid[c.row][c.col]
		if v.IsFree() {
			continue
		}
		if !marked.Has(v.Number()) {
			return false
		}
	}
	return true
}

// HasBingo reports whether marked completes any enabled pattern on grid.
// The free centre always counts as marked.
func HasBingo(grid models.Grid, marked models.NumberSet, patterns Patterns) bool {
	for _, l := range winLines {
		if patterns.Has(l.pattern) && l.complete(grid, marked) {
			return true
		}
	}
	return false
}

// WinningLines names every enabled line that marked completes.
func WinningLines(grid models.Grid, marked models.NumberSet, patterns Patterns) []string {
	var out []string
	for _, l := range winLines {
		if patterns.Has(l.pattern) && l.complete(grid, marked) {
			out = append(out, l.name)
		}
	}
	return out
}
