package collect

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/meshfield/meshfield/internal/compute"
	"github.com/meshfield/meshfield/pkg/types"
)

func testGrid() types.Grid {
	return types.Grid{Width: 7, Height: 5, XMin: -2, XMax: 1, YMin: -1, YMax: 1, MaxIter: 30}
}

// partials computes every rank's partial result for g.
func partials(t *testing.T, g types.Grid, s compute.Strategy, workers int) []*types.PartialResult {
	t.Helper()
	out := make([]*types.PartialResult, workers)
	for r := 0; r < workers; r++ {
		a, err := compute.Assign(s, r, workers, g.Height)
		if err != nil {
			t.Fatalf("Assign(%d): %v", r, err)
		}
		p, _, err := compute.NewUnit(g, "test").Run(context.Background(), a)
		if err != nil {
			t.Fatalf("Run(%d): %v", r, err)
		}
		out[r] = p
	}
	return out
}

func assemble(t *testing.T, g types.Grid, ps []*types.PartialResult) *types.FullResult {
	t.Helper()
	asm := NewAssembler(g)
	for _, p := range ps {
		if err := asm.Place(p); err != nil {
			t.Fatalf("Place(rank %d): %v", p.Rank, err)
		}
	}
	res, err := asm.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	return res
}

func wantConsistency(t *testing.T, err error, kind types.ConsistencyKind) *types.ConsistencyError {
	t.Helper()
	var ce *types.ConsistencyError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want ConsistencyError", err)
	}
	if ce.Kind != kind {
		t.Fatalf("kind = %s, want %s", ce.Kind, kind)
	}
	return ce
}

func TestAssembler_OrderIndependence(t *testing.T) {
	g := testGrid()
	ps := partials(t, g, compute.Striped, 4)
	want := assemble(t, g, ps)

	reversed := make([]*types.PartialResult, len(ps))
	for i, p := range ps {
		reversed[len(ps)-1-i] = p
	}
	if got := assemble(t, g, reversed); !got.Equal(want) {
		t.Error("reverse order produced a different grid")
	}

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 5; i++ {
		shuffled := append([]*types.PartialResult(nil), ps...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		if got := assemble(t, g, shuffled); !got.Equal(want) {
			t.Errorf("shuffle %d produced a different grid", i)
		}
	}
}

func TestAssembler_MatchesKernel(t *testing.T) {
	g := testGrid()
	res := assemble(t, g, partials(t, g, compute.Contiguous, 2))
	for row := 0; row < g.Height; row++ {
		for col := 0; col < g.Width; col++ {
			want := compute.Escape(g.Point(row, col), g.MaxIter)
			if got := res.At(row, col); got != want {
				t.Fatalf("At(%d,%d) = %d, want %d", row, col, got, want)
			}
		}
	}
}

func TestAssembler_FatalOnGap(t *testing.T) {
	g := types.Grid{Width: 3, Height: 4, XMin: -2, XMax: 1, YMin: -1, YMax: 1, MaxIter: 10}
	asm := NewAssembler(g)
	err := asm.Place(&types.PartialResult{Rank: 0, Rows: map[int][]int{
		0: {1, 1, 1},
		1: {1, 1, 1},
		2: {1, 1, 1},
	}})
	if err != nil {
		t.Fatalf("Place: %v", err)
	}

	res, err := asm.Finish()
	if res != nil {
		t.Error("expected no result for an incomplete grid")
	}
	ce := wantConsistency(t, err, types.MissingRows)
	if len(ce.Rows) != 1 || ce.Rows[0] != 3 {
		t.Errorf("missing rows = %v, want [3]", ce.Rows)
	}
}

func TestAssembler_FatalConditions(t *testing.T) {
	g := types.Grid{Width: 3, Height: 4, XMin: -2, XMax: 1, YMin: -1, YMax: 1, MaxIter: 10}
	ok := []int{0, 5, 10}

	tests := []struct {
		name    string
		reports []*types.PartialResult
		kind    types.ConsistencyKind
		row     int
	}{
		{
			name: "duplicate row across ranks",
			reports: []*types.PartialResult{
				{Rank: 0, Rows: map[int][]int{0: ok, 1: ok}},
				{Rank: 1, Rows: map[int][]int{1: ok}},
			},
			kind: types.DuplicateRow,
			row:  1,
		},
		{
			name:    "row past height",
			reports: []*types.PartialResult{{Rank: 1, Rows: map[int][]int{4: ok}}},
			kind:    types.RowOutOfRange,
			row:     4,
		},
		{
			name:    "negative row",
			reports: []*types.PartialResult{{Rank: 1, Rows: map[int][]int{-1: ok}}},
			kind:    types.RowOutOfRange,
			row:     -1,
		},
		{
			name:    "short row",
			reports: []*types.PartialResult{{Rank: 2, Rows: map[int][]int{2: {1, 2}}}},
			kind:    types.RowWidth,
			row:     2,
		},
		{
			name:    "count above max_iter",
			reports: []*types.PartialResult{{Rank: 0, Rows: map[int][]int{0: {0, 11, 0}}}},
			kind:    types.CountOutOfRange,
			row:     0,
		},
		{
			name:    "negative count",
			reports: []*types.PartialResult{{Rank: 0, Rows: map[int][]int{3: {0, -1, 0}}}},
			kind:    types.CountOutOfRange,
			row:     3,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			asm := NewAssembler(g)
			var err error
			for _, p := range tc.reports {
				if err = asm.Place(p); err != nil {
					break
				}
			}
			ce := wantConsistency(t, err, tc.kind)
			if ce.Row != tc.row {
				t.Errorf("row = %d, want %d", ce.Row, tc.row)
			}

			// Poisoned: later placements and Finish keep failing.
			if err := asm.Place(&types.PartialResult{Rank: 3, Rows: map[int][]int{}}); err == nil {
				t.Error("Place after fatal error should fail")
			}
			res, err := asm.Finish()
			if res != nil || err == nil {
				t.Error("Finish after fatal error should return no result")
			}
			wantConsistency(t, err, tc.kind)
		})
	}
}

func TestAssembler_CopiesRows(t *testing.T) {
	g := types.Grid{Width: 2, Height: 1, XMin: 0, XMax: 1, YMin: 0, YMax: 0, MaxIter: 10}
	row := []int{3, 4}
	asm := NewAssembler(g)
	if err := asm.Place(&types.PartialResult{Rows: map[int][]int{0: row}}); err != nil {
		t.Fatalf("Place: %v", err)
	}
	row[0] = 9

	res, err := asm.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if res.At(0, 0) != 3 {
		t.Errorf("At(0,0) = %d, want 3", res.At(0, 0))
	}
}

func TestAssembler_FinishTwice(t *testing.T) {
	g := types.Grid{Width: 1, Height: 1, MaxIter: 1}
	asm := NewAssembler(g)
	asm.Place(&types.PartialResult{Rows: map[int][]int{0: {1}}}) //nolint:errcheck
	if _, err := asm.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if _, err := asm.Finish(); err == nil {
		t.Error("second Finish should fail")
	}
	if err := asm.Place(&types.PartialResult{Rows: map[int][]int{}}); err == nil {
		t.Error("Place after Finish should fail")
	}
}

func TestAssembler_EmptyPartialIsValid(t *testing.T) {
	g := types.Grid{Width: 1, Height: 1, MaxIter: 1}
	asm := NewAssembler(g)
	if err := asm.Place(&types.PartialResult{Rank: 3, Rows: map[int][]int{}}); err != nil {
		t.Fatalf("Place(empty): %v", err)
	}
	if asm.Written() != 0 {
		t.Errorf("Written = %d, want 0", asm.Written())
	}
}
