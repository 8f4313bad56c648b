package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/meshfield/meshfield/internal/collect"
	"github.com/meshfield/meshfield/internal/comm"
	"github.com/meshfield/meshfield/internal/compute"
	"github.com/meshfield/meshfield/internal/export"
	"github.com/meshfield/meshfield/internal/metrics"
	"github.com/meshfield/meshfield/internal/wire"
	"github.com/meshfield/meshfield/pkg/types"
)

// abortTimeout bounds the best-effort abort broadcast.
const abortTimeout = 5 * time.Second

// Options are the run parameters every rank must agree on, plus per-rank
// identity.
type Options struct {
	Grid          types.Grid
	Strategy      compute.Strategy
	Collect       collect.Mode
	ProgressEvery int
	GatherTimeout time.Duration

	// Host names the machine in this rank's performance sample.
	Host string

	// Exporter receives the result on rank 0. Nil discards it.
	Exporter export.Exporter
}

// Outcome is what Run returns. Result and Summary are set on rank 0 only.
type Outcome struct {
	Rank    int
	State   types.State
	Sample  types.PerformanceSample
	Result  *types.FullResult
	Summary metrics.Summary
}

// Run executes one rank of a run over c. On rank 0 a non-nil Outcome is
// returned together with an *types.ExportError when only the export failed.
func Run(ctx context.Context, c comm.Communicator, opts Options) (*Outcome, error) {
	log := slog.Default().With("rank", c.Rank())
	r := &runner{
		comm: c,
		opts: opts,
		log:  log,
		lc:   newLifecycle(c.Rank(), log),
		out:  &Outcome{Rank: c.Rank()},
	}

	err := r.run(ctx)
	r.out.State = r.lc.state

	var exportErr *types.ExportError
	if err != nil && errors.As(err, &exportErr) {
		return r.out, err
	}
	if err != nil {
		if c.Rank() == 0 && c.Size() > 1 {
			actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), abortTimeout)
			comm.Abort(actx, c, err.Error())
			cancel()
		}
		log.Error("engine: run failed", "state", r.lc.state.String(), "err", err)
		return nil, err
	}
	return r.out, nil
}

type runner struct {
	comm comm.Communicator
	opts Options
	log  *slog.Logger
	lc   *lifecycle
	out  *Outcome
}

func (r *runner) run(ctx context.Context) error {
	if err := r.opts.Grid.Validate(); err != nil {
		return err
	}

	assignment, err := compute.Assign(r.opts.Strategy, r.comm.Rank(), r.comm.Size(), r.opts.Grid.Height)
	if err != nil {
		return err
	}
	if err := r.lc.advance(types.StateAssigned); err != nil {
		return err
	}
	r.log.Info("engine: assigned", "workers", r.comm.Size(), "rows", assignment.Len(), "strategy", string(r.opts.Strategy))

	if err := r.comm.Barrier(ctx); err != nil {
		return fmt.Errorf("engine: start barrier: %w", err)
	}

	if err := r.lc.advance(types.StateComputing); err != nil {
		return err
	}
	computeStart := time.Now()
	unit := compute.NewUnit(r.opts.Grid, r.opts.Host)
	unit.ProgressEvery = r.opts.ProgressEvery
	unit.Progress = r.progress
	partial, sample, err := unit.Run(ctx, assignment)
	if err != nil {
		return fmt.Errorf("engine: compute: %w", err)
	}
	r.out.Sample = sample
	r.log.Info("engine: computed", "rows", assignment.Len(), "pixels", sample.Pixels, "elapsed", sample.Elapsed)

	if err := r.lc.advance(types.StateReporting); err != nil {
		return err
	}
	report := &types.Report{
		Partial:  partial,
		Sample:   sample,
		Grid:     r.opts.Grid,
		Strategy: string(r.opts.Strategy),
	}

	if r.comm.Rank() != 0 {
		body, err := wire.EncodeReport(report)
		if err != nil {
			return err
		}
		if err := r.comm.Send(ctx, 0, comm.TagReport, body); err != nil {
			return fmt.Errorf("engine: send report: %w", err)
		}
		if err := r.lc.advance(types.StateDone); err != nil {
			return err
		}
		if err := r.comm.Barrier(ctx); err != nil {
			return fmt.Errorf("engine: final barrier: %w", err)
		}
		return nil
	}

	phases := metrics.Phases{Compute: time.Since(computeStart)}
	if err := r.coordinate(ctx, report, &phases); err != nil {
		return err
	}
	if err := r.lc.advance(types.StateDone); err != nil {
		return err
	}
	if err := r.comm.Barrier(ctx); err != nil {
		return fmt.Errorf("engine: final barrier: %w", err)
	}

	r.logSummary()
	return r.export(ctx)
}

// coordinate is rank 0's collect, assemble and aggregate phase.
func (r *runner) coordinate(ctx context.Context, own *types.Report, phases *metrics.Phases) error {
	if err := r.lc.advance(types.StateAssembling); err != nil {
		return err
	}
	asm := collect.NewAssembler(r.opts.Grid)

	start := time.Now()
	samples, err := collect.NewCollector(r.comm, r.opts.Collect, r.opts.GatherTimeout).Collect(ctx, own, asm)
	if err != nil {
		return err
	}
	phases.Gather = time.Since(start)

	start = time.Now()
	res, err := asm.Finish()
	if err != nil {
		return err
	}
	phases.Assemble = time.Since(start)

	if err := r.lc.advance(types.StateAggregating); err != nil {
		return err
	}
	out, err := metrics.Compute(samples)
	if err != nil {
		return err
	}

	r.out.Result = res
	r.out.Summary = metrics.Summary{Output: out, Samples: samples, Phases: *phases}
	return nil
}

func (r *runner) export(ctx context.Context) error {
	if r.opts.Exporter == nil {
		return nil
	}
	err := r.opts.Exporter.Export(ctx, export.Artifact{
		Result:   r.out.Result,
		Summary:  r.out.Summary,
		Finished: time.Now(),
	})
	if err == nil {
		return nil
	}
	var ee *types.ExportError
	if !errors.As(err, &ee) {
		err = &types.ExportError{Exporter: fmt.Sprintf("%T", r.opts.Exporter), Err: err}
	}
	r.log.Error("engine: export failed, result kept", "err", err)
	return err
}

func (r *runner) progress(rank, done, total int) {
	r.log.Info("engine: progress", "rows_done", done, "rows_total", total, "percent", done*100/total)
}

func (r *runner) logSummary() {
	o := r.out.Summary.Output
	r.log.Info("engine: run complete",
		"workers", o.Workers,
		"unique_hosts", o.UniqueHosts,
		"total_pixels", o.TotalPixels,
		"total_elapsed", o.TotalElapsed,
		"pixels_per_second", o.Throughput,
		"load_balance_pct", o.LoadBalanceEfficiency,
		"speedup", o.SpeedupEstimate,
		"parallel_efficiency_pct", o.ParallelEfficiency,
		"phase_compute", r.out.Summary.Phases.Compute,
		"phase_gather", r.out.Summary.Phases.Gather,
		"phase_assemble", r.out.Summary.Phases.Assemble,
	)
	for _, s := range r.out.Summary.Samples {
		r.log.Info("engine: rank breakdown",
			"worker", s.Rank,
			"host", s.Host,
			"pixels", s.Pixels,
			"elapsed", s.Elapsed,
		)
	}
}
