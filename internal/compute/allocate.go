package compute

import (
	"fmt"

	"github.com/meshfield/meshfield/pkg/types"
)

// Strategy names a row partitioning scheme.
type Strategy string

const (
	// Contiguous gives each rank one block of ⌊height/workers⌋ rows; the last
	// rank also takes the remainder.
	Contiguous Strategy = "contiguous"

	// Striped deals rows round-robin: rank r owns r, r+workers, r+2·workers, …
	Striped Strategy = "striped"
)

// ParseStrategy maps a config value to a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case Contiguous, Striped:
		return Strategy(s), nil
	}
	return "", &types.ConfigurationError{Field: "run.strategy", Reason: fmt.Sprintf("unknown strategy %q", s)}
}

// Assign returns the rows owned by rank. Ranks beyond the available rows
// receive an empty assignment.
func Assign(strategy Strategy, rank, workers, height int) (types.WorkAssignment, error) {
	if workers < 1 {
		return types.WorkAssignment{}, fmt.Errorf("compute: assign: workers must be >= 1, got %d", workers)
	}
	if rank < 0 || rank >= workers {
		return types.WorkAssignment{}, fmt.Errorf("compute: assign: rank %d outside [0,%d)", rank, workers)
	}
	if height < 0 {
		return types.WorkAssignment{}, fmt.Errorf("compute: assign: negative height %d", height)
	}

	var rows []int
	switch strategy {
	case Contiguous:
		rows = contiguousRows(rank, workers, height)
	case Striped:
		rows = stripedRows(rank, workers, height)
	default:
		return types.WorkAssignment{}, fmt.Errorf("compute: assign: unknown strategy %q", strategy)
	}
	return types.WorkAssignment{Rank: rank, Workers: workers, Rows: rows}, nil
}

func contiguousRows(rank, workers, height int) []int {
	per := height / workers
	start := rank * per
	end := start + per
	if rank == workers-1 {
		end = height
	}
	rows := make([]int, 0, end-start)
	for r := start; r < end; r++ {
		rows = append(rows, r)
	}
	return rows
}

func stripedRows(rank, workers, height int) []int {
	rows := make([]int, 0, (height+workers-1)/workers)
	for r := rank; r < height; r += workers {
		rows = append(rows, r)
	}
	return rows
}
