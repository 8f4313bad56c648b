package types

import "time"

// WorkAssignment is the ordered set of global row indices owned by one rank.
type WorkAssignment struct {
	Rank    int
	Workers int
	Rows    []int
}

// Len returns the number of rows assigned.
func (a WorkAssignment) Len() int { return len(a.Rows) }

// PartialResult holds the rows computed by one rank, keyed by global row
// index. It is not modified after the producing rank creates it.
type PartialResult struct {
	Rank int           `msgpack:"rank"`
	Rows map[int][]int `msgpack:"rows"`
}

// PerformanceSample is one rank's timing for its assigned-row loop.
type PerformanceSample struct {
	Rank    int           `msgpack:"rank" json:"rank"`
	Host    string        `msgpack:"host" json:"host"`
	Elapsed time.Duration `msgpack:"elapsed" json:"elapsed_ns"`
	Pixels  int64         `msgpack:"pixels" json:"pixels"`
}

// Report is the single payload a rank transmits to the coordinator. Grid and
// Strategy echo the run parameters the rank computed with so the coordinator
// can refuse rows from a rank that loaded a different config.
type Report struct {
	Partial  *PartialResult    `msgpack:"partial"`
	Sample   PerformanceSample `msgpack:"sample"`
	Grid     Grid              `msgpack:"grid"`
	Strategy string            `msgpack:"strategy"`
}

// FullResult is the assembled Height×Width matrix of iteration counts.
// Only the coordinator's assembler constructs one; callers get read-only
// access through its methods.
type FullResult struct {
	grid Grid
	rows [][]int
}

// NewFullResult wraps rows as a FullResult. rows must be Height slices of
// Width counts each; ownership passes to the FullResult.
func NewFullResult(g Grid, rows [][]int) *FullResult {
	return &FullResult{grid: g, rows: rows}
}

// Grid returns the descriptor the result was computed for.
func (f *FullResult) Grid() Grid { return f.grid }

// Width returns the number of columns.
func (f *FullResult) Width() int { return f.grid.Width }

// Height returns the number of rows.
func (f *FullResult) Height() int { return f.grid.Height }

// At returns the iteration count at (row, col).
func (f *FullResult) At(row, col int) int { return f.rows[row][col] }

// Row returns a copy of row.
func (f *FullResult) Row(row int) []int {
	out := make([]int, len(f.rows[row]))
	copy(out, f.rows[row])
	return out
}

// Rows returns a deep copy of the matrix.
func (f *FullResult) Rows() [][]int {
	out := make([][]int, len(f.rows))
	for i := range f.rows {
		out[i] = f.Row(i)
	}
	return out
}

// Equal reports whether f and o hold the same grid and the same counts.
func (f *FullResult) Equal(o *FullResult) bool {
	if f == nil || o == nil {
		return f == o
	}
	if f.grid != o.grid || len(f.rows) != len(o.rows) {
		return false
	}
	for i := range f.rows {
		if len(f.rows[i]) != len(o.rows[i]) {
			return false
		}
		for j := range f.rows[i] {
			if f.rows[i][j] != o.rows[i][j] {
				return false
			}
		}
	}
	return true
}
