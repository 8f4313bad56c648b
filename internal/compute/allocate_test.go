package compute

import (
	"errors"
	"reflect"
	"testing"

	"github.com/meshfield/meshfield/pkg/types"
)

var strategies = []Strategy{Contiguous, Striped}

func TestAssign_Partition(t *testing.T) {
	for _, s := range strategies {
		for height := 0; height <= 37; height++ {
			for workers := 1; workers <= 9; workers++ {
				seen := make(map[int]int)
				for rank := 0; rank < workers; rank++ {
					a, err := Assign(s, rank, workers, height)
					if err != nil {
						t.Fatalf("%s Assign(%d,%d,%d): %v", s, rank, workers, height, err)
					}
					for _, r := range a.Rows {
						if prev, dup := seen[r]; dup {
							t.Fatalf("%s h=%d n=%d: row %d owned by ranks %d and %d", s, height, workers, r, prev, rank)
						}
						seen[r] = rank
					}
				}
				if len(seen) != height {
					t.Fatalf("%s h=%d n=%d: covered %d rows, want %d", s, height, workers, len(seen), height)
				}
				for r := 0; r < height; r++ {
					if _, ok := seen[r]; !ok {
						t.Fatalf("%s h=%d n=%d: row %d unassigned", s, height, workers, r)
					}
				}
			}
		}
	}
}

func TestAssign_StripedStride(t *testing.T) {
	const height, workers = 103, 7
	for rank := 0; rank < workers; rank++ {
		a, err := Assign(Striped, rank, workers, height)
		if err != nil {
			t.Fatal(err)
		}
		if len(a.Rows) == 0 || a.Rows[0] != rank {
			t.Fatalf("rank %d: rows start %v, want %d", rank, a.Rows, rank)
		}
		for i := 1; i < len(a.Rows); i++ {
			if a.Rows[i]-a.Rows[i-1] != workers {
				t.Fatalf("rank %d: step %d at %d, want %d", rank, a.Rows[i]-a.Rows[i-1], i, workers)
			}
		}
	}
}

func TestAssign_HeightFourTwoWorkers(t *testing.T) {
	tests := []struct {
		strategy Strategy
		want     [][]int
	}{
		{Contiguous, [][]int{{0, 1}, {2, 3}}},
		{Striped, [][]int{{0, 2}, {1, 3}}},
	}
	for _, tc := range tests {
		for rank, want := range tc.want {
			a, err := Assign(tc.strategy, rank, 2, 4)
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(a.Rows, want) {
				t.Errorf("%s rank %d: rows %v, want %v", tc.strategy, rank, a.Rows, want)
			}
		}
	}
}

func TestAssign_ContiguousRemainderGoesToLastRank(t *testing.T) {
	a, err := Assign(Contiguous, 2, 3, 11)
	if err != nil {
		t.Fatal(err)
	}
	if want := []int{6, 7, 8, 9, 10}; !reflect.DeepEqual(a.Rows, want) {
		t.Errorf("last rank rows = %v, want %v", a.Rows, want)
	}
}

func TestAssign_MoreWorkersThanRows(t *testing.T) {
	for _, s := range strategies {
		a, err := Assign(s, 4, 6, 3)
		if err != nil {
			t.Fatalf("%s: excess rank must not be an error: %v", s, err)
		}
		if s == Striped && a.Len() != 0 {
			t.Errorf("%s: rank 4 of 6 over 3 rows got %v, want empty", s, a.Rows)
		}
	}
	// Contiguous: per-rank block is zero, the last rank absorbs everything.
	a, _ := Assign(Contiguous, 5, 6, 3)
	if want := []int{0, 1, 2}; !reflect.DeepEqual(a.Rows, want) {
		t.Errorf("contiguous last rank = %v, want %v", a.Rows, want)
	}
}

func TestAssign_InvalidInputs(t *testing.T) {
	if _, err := Assign(Contiguous, 0, 0, 10); err == nil {
		t.Error("workers=0: expected error")
	}
	if _, err := Assign(Striped, 3, 3, 10); err == nil {
		t.Error("rank==workers: expected error")
	}
	if _, err := Assign("diagonal", 0, 1, 10); err == nil {
		t.Error("unknown strategy: expected error")
	}
}

func TestParseStrategy(t *testing.T) {
	if s, err := ParseStrategy("striped"); err != nil || s != Striped {
		t.Errorf("ParseStrategy(striped) = %q, %v", s, err)
	}
	_, err := ParseStrategy("spiral")
	var cfgErr *types.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Errorf("ParseStrategy(spiral) = %v, want *ConfigurationError", err)
	}
}
