package compute

import (
	"context"
	"time"

	"github.com/meshfield/meshfield/pkg/types"
)

// minElapsed floors a measured duration at the clock's resolution so that
// ratios derived from it stay defined.
const minElapsed = time.Nanosecond

// ProgressFunc receives progress notifications from Unit.Run. done rows out of
// total have been computed. It must not retain or modify anything it is given.
type ProgressFunc func(rank, done, total int)

// Unit computes the rows of one rank's assignment.
type Unit struct {
	grid types.Grid
	host string

	// ProgressEvery is the notification cadence as a percentage of the
	// assigned rows (1–100). Zero disables progress notifications.
	ProgressEvery int

	// Progress is called at the configured cadence. May be nil.
	Progress ProgressFunc

	now func() time.Time // injectable for deterministic tests
}

// NewUnit returns a Unit for grid g. host identifies the machine in the
// performance sample.
func NewUnit(g types.Grid, host string) *Unit {
	return &Unit{grid: g, host: host, now: time.Now}
}

// Run evaluates every assigned row and returns the partial result together
// with the rank's performance sample. The sample's Elapsed spans the whole
// row loop.
//
// ctx is checked between rows; a cancelled run returns ctx.Err().
func (u *Unit) Run(ctx context.Context, a types.WorkAssignment) (*types.PartialResult, types.PerformanceSample, error) {
	out := &types.PartialResult{
		Rank: a.Rank,
		Rows: make(map[int][]int, len(a.Rows)),
	}
	step := u.progressStep(len(a.Rows))

	start := u.now()
	for i, row := range a.Rows {
		if err := ctx.Err(); err != nil {
			return nil, types.PerformanceSample{}, err
		}
		if step > 0 && i%step == 0 && u.Progress != nil {
			u.Progress(a.Rank, i, len(a.Rows))
		}
		out.Rows[row] = u.computeRow(row)
	}
	elapsed := u.now().Sub(start)
	if elapsed < minElapsed {
		elapsed = minElapsed
	}
	if step > 0 && u.Progress != nil {
		u.Progress(a.Rank, len(a.Rows), len(a.Rows))
	}

	sample := types.PerformanceSample{
		Rank:    a.Rank,
		Host:    u.host,
		Elapsed: elapsed,
		Pixels:  int64(len(a.Rows)) * int64(u.grid.Width),
	}
	return out, sample, nil
}

// computeRow evaluates one grid row.
func (u *Unit) computeRow(row int) []int {
	counts := make([]int, u.grid.Width)
	y := u.grid.Imag(row)
	for col := range counts {
		counts[col] = Escape(complex(u.grid.Real(col), y), u.grid.MaxIter)
	}
	return counts
}

// progressStep converts the percentage cadence into a row interval.
func (u *Unit) progressStep(total int) int {
	if u.ProgressEvery <= 0 || total == 0 {
		return 0
	}
	pct := u.ProgressEvery
	if pct > 100 {
		pct = 100
	}
	step := total * pct / 100
	if step < 1 {
		step = 1
	}
	return step
}
