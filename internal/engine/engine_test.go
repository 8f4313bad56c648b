package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/meshfield/meshfield/internal/collect"
	"github.com/meshfield/meshfield/internal/comm"
	"github.com/meshfield/meshfield/internal/compute"
	"github.com/meshfield/meshfield/internal/export"
	"github.com/meshfield/meshfield/internal/wire"
	"github.com/meshfield/meshfield/pkg/types"
)

// --- helpers ----------------------------------------------------------------

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func testOptions() Options {
	return Options{
		Grid:     types.Grid{Width: 24, Height: 17, XMin: -2.5, XMax: 1.5, YMin: -1.5, YMax: 1.5, MaxIter: 60},
		Strategy: compute.Contiguous,
		Collect:  collect.Gather,
		Host:     "test-host",
	}
}

func reference(t *testing.T, opts Options) *types.FullResult {
	t.Helper()
	out, err := RunLocal(testCtx(t), 1, opts)
	if err != nil {
		t.Fatalf("RunLocal(1): %v", err)
	}
	return out.Result
}

// runRanks runs Run for every comm concurrently and returns per-rank results.
func runRanks(ctx context.Context, comms []comm.Communicator, opts Options) ([]*Outcome, []error) {
	outs := make([]*Outcome, len(comms))
	errs := make([]error, len(comms))
	var wg sync.WaitGroup
	for i, c := range comms {
		i, c := i, c
		wg.Add(1)
		go func() {
			defer wg.Done()
			outs[i], errs[i] = Run(ctx, c, opts)
		}()
	}
	wg.Wait()
	return outs, errs
}

func wantAborted(t *testing.T, err error) {
	t.Helper()
	var ae *comm.AbortedError
	if !errors.As(err, &ae) {
		t.Errorf("peer err = %v, want AbortedError", err)
	}
}

// dropReports loses every report the wrapped rank sends.
type dropReports struct{ comm.Communicator }

func (d dropReports) Send(ctx context.Context, dest int, tag comm.Tag, body []byte) error {
	if tag == comm.TagReport {
		return nil
	}
	return d.Communicator.Send(ctx, dest, tag, body)
}

// claimRow adds an extra row to the wrapped rank's report.
type claimRow struct {
	comm.Communicator
	row int
}

func (c claimRow) Send(ctx context.Context, dest int, tag comm.Tag, body []byte) error {
	if tag == comm.TagReport {
		rep, err := wire.DecodeReport(body)
		if err != nil {
			return err
		}
		for _, counts := range rep.Partial.Rows {
			rep.Partial.Rows[c.row] = counts
			break
		}
		if body, err = wire.EncodeReport(rep); err != nil {
			return err
		}
	}
	return c.Communicator.Send(ctx, dest, tag, body)
}

// --- tests ------------------------------------------------------------------

func TestRunLocal_DeterministicAcrossWorkers(t *testing.T) {
	base := testOptions()
	want := reference(t, base)

	for _, workers := range []int{2, 3, 5, 17, 20} {
		for _, s := range []compute.Strategy{compute.Contiguous, compute.Striped} {
			for _, mode := range []collect.Mode{collect.Gather, collect.PointToPoint} {
				name := fmt.Sprintf("n=%d/%s/%s", workers, s, mode)
				t.Run(name, func(t *testing.T) {
					opts := base
					opts.Strategy, opts.Collect = s, mode
					out, err := RunLocal(testCtx(t), workers, opts)
					if err != nil {
						t.Fatalf("RunLocal: %v", err)
					}
					if !out.Result.Equal(want) {
						t.Error("grid differs from single-rank run")
					}
					if out.State != types.StateDone {
						t.Errorf("state = %s, want done", out.State)
					}
					if out.Summary.Output.Workers != workers {
						t.Errorf("workers = %d, want %d", out.Summary.Output.Workers, workers)
					}
				})
			}
		}
	}
}

func TestRunLocal_FourRowsTwoRanks(t *testing.T) {
	opts := testOptions()
	opts.Grid.Height = 4

	out, err := RunLocal(testCtx(t), 2, opts)
	if err != nil {
		t.Fatalf("RunLocal: %v", err)
	}

	samples := out.Summary.Samples
	if len(samples) != 2 {
		t.Fatalf("samples = %d, want 2", len(samples))
	}
	for _, s := range samples {
		if s.Pixels != int64(2*opts.Grid.Width) {
			t.Errorf("rank %d pixels = %d, want %d", s.Rank, s.Pixels, 2*opts.Grid.Width)
		}
		if s.Host != "test-host" {
			t.Errorf("rank %d host = %q", s.Rank, s.Host)
		}
	}
	if out.Summary.Output.TotalPixels != int64(4*opts.Grid.Width) {
		t.Errorf("total pixels = %d, want %d", out.Summary.Output.TotalPixels, 4*opts.Grid.Width)
	}

	g := opts.Grid
	for row := 0; row < g.Height; row++ {
		for col := 0; col < g.Width; col++ {
			if got, want := out.Result.At(row, col), compute.Escape(g.Point(row, col), g.MaxIter); got != want {
				t.Fatalf("At(%d,%d) = %d, want %d", row, col, got, want)
			}
		}
	}
}

func TestRunLocal_InvalidGrid(t *testing.T) {
	opts := testOptions()
	opts.Grid.MaxIter = 0

	out, err := RunLocal(testCtx(t), 3, opts)
	var ce *types.ConfigurationError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want ConfigurationError", err)
	}
	if out != nil {
		t.Error("expected no outcome for an invalid grid")
	}
}

func TestRun_VanishedPeer(t *testing.T) {
	ctx := testCtx(t)
	w := comm.NewLocalWorld(3)
	w.Fail(2) // rank 2 never starts

	outs, errs := runRanks(ctx, []comm.Communicator{w.Comm(0), w.Comm(1)}, testOptions())

	var ce *types.CommunicationError
	if !errors.As(errs[0], &ce) {
		t.Fatalf("rank 0 err = %v, want CommunicationError", errs[0])
	}
	if len(ce.Ranks) != 1 || ce.Ranks[0] != 2 {
		t.Errorf("ranks = %v, want [2]", ce.Ranks)
	}
	if outs[0] != nil {
		t.Error("rank 0 returned an outcome after a fatal error")
	}
	wantAborted(t, errs[1])
}

func TestRun_GatherTimeoutNamesSilentRank(t *testing.T) {
	ctx := testCtx(t)
	w := comm.NewLocalWorld(3)
	opts := testOptions()
	opts.GatherTimeout = 100 * time.Millisecond

	_, errs := runRanks(ctx, []comm.Communicator{w.Comm(0), w.Comm(1), dropReports{w.Comm(2)}}, opts)

	var ce *types.CommunicationError
	if !errors.As(errs[0], &ce) {
		t.Fatalf("rank 0 err = %v, want CommunicationError", errs[0])
	}
	if len(ce.Ranks) != 1 || ce.Ranks[0] != 2 {
		t.Errorf("ranks = %v, want [2]", ce.Ranks)
	}
	wantAborted(t, errs[1])
	wantAborted(t, errs[2])
}

func TestRun_DuplicateRowIsFatal(t *testing.T) {
	ctx := testCtx(t)
	w := comm.NewLocalWorld(2)
	opts := testOptions()

	var exported bool
	opts.Exporter = export.ExporterFunc(func(context.Context, export.Artifact) error {
		exported = true
		return nil
	})

	// Rank 1 also claims row 0, which belongs to rank 0.
	outs, errs := runRanks(ctx, []comm.Communicator{w.Comm(0), claimRow{w.Comm(1), 0}}, opts)

	var ce *types.ConsistencyError
	if !errors.As(errs[0], &ce) {
		t.Fatalf("rank 0 err = %v, want ConsistencyError", errs[0])
	}
	if ce.Kind != types.DuplicateRow || ce.Row != 0 {
		t.Errorf("got %s at row %d, want duplicate_row at row 0", ce.Kind, ce.Row)
	}
	if outs[0] != nil {
		t.Error("a grid was returned despite a consistency error")
	}
	if exported {
		t.Error("exporter ran despite a consistency error")
	}
	wantAborted(t, errs[1])
}

func TestRun_PeerWithDifferentGridIsFatal(t *testing.T) {
	opts := testOptions()
	exported := false
	opts.Exporter = export.ExporterFunc(func(context.Context, export.Artifact) error {
		exported = true
		return nil
	})
	peer := opts
	peer.Grid.XMin, peer.Grid.MaxIter = 0.3, 7

	ctx := testCtx(t)
	w := comm.NewLocalWorld(2)
	outs := make([]*Outcome, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for rank, o := range []Options{opts, peer} {
		rank, o := rank, o
		wg.Add(1)
		go func() {
			defer wg.Done()
			outs[rank], errs[rank] = Run(ctx, w.Comm(rank), o)
		}()
	}
	wg.Wait()

	var ce *types.ConsistencyError
	if !errors.As(errs[0], &ce) {
		t.Fatalf("rank 0 err = %v, want ConsistencyError", errs[0])
	}
	if ce.Kind != types.ParamsMismatch || ce.Rank != 1 {
		t.Errorf("got %s from rank %d, want params_mismatch from rank 1", ce.Kind, ce.Rank)
	}
	if outs[0] != nil {
		t.Error("a grid was returned despite mismatched parameters")
	}
	if exported {
		t.Error("exporter ran despite mismatched parameters")
	}
	wantAborted(t, errs[1])
}

func TestRun_ExportErrorKeepsResult(t *testing.T) {
	opts := testOptions()
	boom := errors.New("disk full")
	opts.Exporter = export.ExporterFunc(func(context.Context, export.Artifact) error { return boom })

	out, err := RunLocal(testCtx(t), 3, opts)
	var ee *types.ExportError
	if !errors.As(err, &ee) {
		t.Fatalf("err = %v, want ExportError", err)
	}
	if !errors.Is(err, boom) {
		t.Errorf("err should wrap the exporter's error")
	}
	if out == nil || out.Result == nil {
		t.Fatal("result discarded after export failure")
	}
	if !out.Result.Equal(reference(t, testOptions())) {
		t.Error("result kept after export failure differs from reference")
	}
}

func TestRun_ExporterReceivesResult(t *testing.T) {
	opts := testOptions()
	var got export.Artifact
	calls := 0
	opts.Exporter = export.ExporterFunc(func(_ context.Context, a export.Artifact) error {
		calls++
		got = a
		return nil
	})

	out, err := RunLocal(testCtx(t), 4, opts)
	if err != nil {
		t.Fatalf("RunLocal: %v", err)
	}
	if calls != 1 {
		t.Fatalf("exporter called %d times, want once", calls)
	}
	if !got.Result.Equal(out.Result) {
		t.Error("exporter saw a different grid")
	}
	if got.Result.Grid() != opts.Grid {
		t.Errorf("artifact grid = %+v, want %+v", got.Result.Grid(), opts.Grid)
	}
	if got.Summary.Output.Workers != 4 || len(got.Summary.Samples) != 4 {
		t.Errorf("artifact summary = %+v", got.Summary.Output)
	}
	if got.Finished.IsZero() {
		t.Error("artifact has no finish time")
	}
}

func TestRun_WebsocketMatchesLocal(t *testing.T) {
	ctx := testCtx(t)
	const size = 4
	opts := testOptions()
	opts.Strategy = compute.Striped
	opts.Collect = collect.PointToPoint

	hub := comm.NewHub(comm.HubOptions{Size: size, MaxMessageBytes: 1 << 20})
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	comms := []comm.Communicator{hub}
	for r := 1; r < size; r++ {
		c, err := comm.Dial(ctx, comm.DialOptions{URL: url, Rank: r, Size: size, Timeout: 2 * time.Second})
		if err != nil {
			t.Fatalf("dial rank %d: %v", r, err)
		}
		t.Cleanup(c.Close)
		comms = append(comms, c)
	}
	if err := hub.WaitReady(ctx); err != nil {
		t.Fatalf("WaitReady: %v", err)
	}

	outs, errs := runRanks(ctx, comms, opts)
	for r, err := range errs {
		if err != nil {
			t.Fatalf("rank %d: %v", r, err)
		}
	}
	if !outs[0].Result.Equal(reference(t, opts)) {
		t.Error("websocket run differs from single-rank run")
	}
	for r := 1; r < size; r++ {
		if outs[r].Result != nil {
			t.Errorf("rank %d holds a full result", r)
		}
		if outs[r].State != types.StateDone {
			t.Errorf("rank %d state = %s, want done", r, outs[r].State)
		}
	}
}
