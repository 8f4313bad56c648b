package collect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/meshfield/meshfield/internal/comm"
	"github.com/meshfield/meshfield/internal/wire"
	"github.com/meshfield/meshfield/pkg/types"
)

// Mode selects how rank 0 receives reports.
type Mode string

const (
	// Gather accepts reports from any rank in arrival order.
	Gather Mode = "gather"
	// PointToPoint receives from rank 1, 2, … in order.
	PointToPoint Mode = "p2p"
)

// ParseMode validates a collect mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case Gather, PointToPoint:
		return m, nil
	}
	return "", &types.ConfigurationError{Field: "run.collect", Reason: fmt.Sprintf("unknown mode %q (want gather or p2p)", s)}
}

// errReportedOnly marks a transport failure confined to ranks whose report
// is already in.
var errReportedOnly = errors.New("collect: failed ranks already reported")

// Collector receives every rank's report on rank 0.
type Collector struct {
	comm    comm.Communicator
	mode    Mode
	timeout time.Duration
}

// NewCollector returns a Collector. A timeout > 0 bounds the whole exchange;
// zero waits indefinitely.
func NewCollector(c comm.Communicator, mode Mode, timeout time.Duration) *Collector {
	return &Collector{comm: c, mode: mode, timeout: timeout}
}

// Collect places own (rank 0's report) and one report from every other rank
// into asm. It returns the performance samples ordered by rank.
func (c *Collector) Collect(ctx context.Context, own *types.Report, asm *Assembler) ([]types.PerformanceSample, error) {
	if c.comm.Rank() != 0 {
		return nil, fmt.Errorf("collect: rank %d is not the coordinator", c.comm.Rank())
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	st := &collectState{
		grid:     own.Grid,
		strategy: own.Strategy,
		asm:      asm,
		received: make(map[int]bool, c.comm.Size()),
		samples:  make([]types.PerformanceSample, 0, c.comm.Size()),
	}
	if err := st.accept(0, own); err != nil {
		return nil, err
	}

	switch c.mode {
	case Gather:
		for len(st.received) < c.comm.Size() {
			err := c.receive(ctx, comm.AnySource, st)
			if errors.Is(err, errReportedOnly) {
				// Only ranks that already reported have gone; wait for the
				// rest by name.
				for _, r := range st.pending(c.comm.Size()) {
					if err := c.receive(ctx, r, st); err != nil {
						return nil, err
					}
				}
				break
			}
			if err != nil {
				return nil, err
			}
		}
	case PointToPoint:
		for r := 1; r < c.comm.Size(); r++ {
			if err := c.receive(ctx, r, st); err != nil {
				return nil, err
			}
		}
	default:
		return nil, fmt.Errorf("collect: unknown mode %q", c.mode)
	}

	sort.Slice(st.samples, func(i, j int) bool { return st.samples[i].Rank < st.samples[j].Rank })
	return st.samples, nil
}

func (c *Collector) receive(ctx context.Context, src int, st *collectState) error {
	env, err := c.comm.Receive(ctx, src, comm.TagReport)
	if err != nil {
		var ce *types.CommunicationError
		if errors.As(err, &ce) {
			return st.unreported(ce)
		}
		return types.NewCommunicationError(err, st.pending(c.comm.Size())...)
	}
	rep, err := wire.DecodeReport(env.Body)
	if err != nil {
		return types.NewCommunicationError(err, env.From)
	}
	slog.Debug("collect: report received", "from", env.From, "rows", len(rep.Partial.Rows))
	return st.accept(env.From, rep)
}

type collectState struct {
	grid     types.Grid
	strategy string
	asm      *Assembler
	received map[int]bool
	samples  []types.PerformanceSample
}

// accept checks that rep really comes from rank from and places it.
func (s *collectState) accept(from int, rep *types.Report) error {
	if rep == nil || rep.Partial == nil {
		return &types.ConsistencyError{Kind: types.RankMismatch, Rank: from, Row: -1}
	}
	if rep.Partial.Rank != from || rep.Sample.Rank != from {
		return &types.ConsistencyError{Kind: types.RankMismatch, Rank: from, Row: -1}
	}
	if s.received[from] {
		return &types.ConsistencyError{Kind: types.DuplicateReport, Rank: from, Row: -1}
	}
	if rep.Grid != s.grid || rep.Strategy != s.strategy {
		slog.Error("collect: rank ran with different parameters", "rank", from,
			"grid", rep.Grid, "strategy", rep.Strategy, "want_grid", s.grid, "want_strategy", s.strategy)
		return &types.ConsistencyError{Kind: types.ParamsMismatch, Rank: from, Row: -1}
	}
	s.received[from] = true
	if err := s.asm.Place(rep.Partial); err != nil {
		return err
	}
	s.samples = append(s.samples, rep.Sample)
	return nil
}

// pending lists the ranks whose report has not arrived.
func (s *collectState) pending(size int) []int {
	var out []int
	for r := 0; r < size; r++ {
		if !s.received[r] {
			out = append(out, r)
		}
	}
	return out
}

// unreported narrows a transport failure to the ranks that still owe a
// report. Ranks that failed after reporting are dropped.
func (s *collectState) unreported(ce *types.CommunicationError) error {
	var ranks []int
	for _, r := range ce.Ranks {
		if !s.received[r] {
			ranks = append(ranks, r)
		}
	}
	switch {
	case len(ce.Ranks) == 0:
		return ce
	case len(ranks) == 0:
		return errReportedOnly
	case len(ranks) == len(ce.Ranks):
		return ce
	}
	return types.NewCommunicationError(ce.Err, ranks...)
}
