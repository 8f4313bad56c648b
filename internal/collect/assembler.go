package collect

import (
	"errors"
	"sort"

	"github.com/meshfield/meshfield/pkg/types"
)

var errFinished = errors.New("collect: assembler already finished")

// Assembler places partial results into a Height×Width matrix.
type Assembler struct {
	grid    types.Grid
	rows    [][]int
	written int
	err     error
	done    bool
}

// NewAssembler returns an empty Assembler for g.
func NewAssembler(g types.Grid) *Assembler {
	return &Assembler{
		grid: g,
		rows: make([][]int, g.Height),
	}
}

// Written returns the number of rows placed so far.
func (a *Assembler) Written() int { return a.written }

// Place writes every row of p at its global index. Rows are checked in
// ascending index order so the reported error does not depend on map order.
func (a *Assembler) Place(p *types.PartialResult) error {
	if a.err != nil {
		return a.err
	}
	if a.done {
		return errFinished
	}

	idx := make([]int, 0, len(p.Rows))
	for row := range p.Rows {
		idx = append(idx, row)
	}
	sort.Ints(idx)

	for _, row := range idx {
		if err := a.check(p.Rank, row, p.Rows[row]); err != nil {
			a.err = err
			return err
		}
		a.rows[row] = append([]int(nil), p.Rows[row]...)
		a.written++
	}
	return nil
}

func (a *Assembler) check(rank, row int, counts []int) error {
	if row < 0 || row >= a.grid.Height {
		return &types.ConsistencyError{Kind: types.RowOutOfRange, Rank: rank, Row: row}
	}
	if a.rows[row] != nil {
		return &types.ConsistencyError{Kind: types.DuplicateRow, Rank: rank, Row: row}
	}
	if len(counts) != a.grid.Width {
		return &types.ConsistencyError{Kind: types.RowWidth, Rank: rank, Row: row}
	}
	for _, n := range counts {
		if n < 0 || n > a.grid.MaxIter {
			return &types.ConsistencyError{Kind: types.CountOutOfRange, Rank: rank, Row: row}
		}
	}
	return nil
}

// Finish freezes the matrix. It fails with MissingRows unless every row in
// [0, Height) was written exactly once.
func (a *Assembler) Finish() (*types.FullResult, error) {
	if a.err != nil {
		return nil, a.err
	}
	if a.done {
		return nil, errFinished
	}
	if a.written != a.grid.Height {
		var missing []int
		for i, r := range a.rows {
			if r == nil {
				missing = append(missing, i)
			}
		}
		a.err = &types.ConsistencyError{Kind: types.MissingRows, Rank: -1, Row: -1, Rows: missing}
		return nil, a.err
	}
	a.done = true
	rows := a.rows
	a.rows = nil
	return types.NewFullResult(a.grid, rows), nil
}
