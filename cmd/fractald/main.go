package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/gops/agent"

	"github.com/meshfield/meshfield/internal/collect"
	"github.com/meshfield/meshfield/internal/comm"
	"github.com/meshfield/meshfield/internal/compute"
	"github.com/meshfield/meshfield/internal/config"
	"github.com/meshfield/meshfield/internal/engine"
	"github.com/meshfield/meshfield/internal/export"
	"github.com/meshfield/meshfield/internal/history"
	"github.com/meshfield/meshfield/internal/metrics"
	"github.com/meshfield/meshfield/pkg/types"
)

// cliFlags are the command-line settings that override or extend the config.
type cliFlags struct {
	config   string
	rank     int
	workers  int
	local    int
	watch    bool
	httpAddr string
	gops     bool
}

func parseFlags(args []string) (*cliFlags, error) {
	f := &cliFlags{}
	fs := flag.NewFlagSet("fractald", flag.ContinueOnError)
	fs.StringVar(&f.config, "config", "", "path to config file (default: built-in defaults)")
	fs.IntVar(&f.rank, "rank", -1, "this process's rank (default: launcher env, else 0)")
	fs.IntVar(&f.workers, "workers", -1, "world size (default: launcher env, else 1)")
	fs.IntVar(&f.local, "local", 0, "run N ranks as goroutines in this process instead of over the network")
	fs.BoolVar(&f.watch, "watch", false, "with -local, re-run whenever the config file changes")
	fs.StringVar(&f.httpAddr, "http", "", "serve /metrics on this address (rank 0 or -local)")
	fs.BoolVar(&f.gops, "gops", false, "start the gops diagnostics agent")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return f, nil
}

// loadConfig reads path, or returns the built-in defaults when path is empty.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	f, err := parseFlags(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		os.Exit(2)
	}
	cfg, err := loadConfig(f.config)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	// Re-install the handler at the configured level.
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Log.SlogLevel()})))

	slog.Info("fractald starting",
		"config", f.config,
		"width", cfg.Grid.Width,
		"height", cfg.Grid.Height,
		"max_iter", cfg.Grid.MaxIter,
		"strategy", cfg.Run.Strategy,
		"collect", cfg.Run.Collect,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if f.gops {
		if err := agent.Listen(agent.Options{}); err != nil {
			slog.Warn("gops agent not started", "err", err)
		} else {
			defer agent.Close()
		}
	}

	obs := newObserver(cfg)
	go obs.hist.Run(ctx)

	if f.local > 0 {
		err = runLocal(ctx, f.config, cfg, f.local, f.watch, f.httpAddr, obs)
	} else {
		err = runNetworked(ctx, cfg, f.rank, f.workers, f.httpAddr, obs)
	}
	if err != nil {
		slog.Error("fractald failed", "err", err)
		os.Exit(1)
	}
	slog.Info("fractald finished")
}

// options turns a validated config into engine options.
func options(cfg *config.Config) (engine.Options, error) {
	strategy, err := compute.ParseStrategy(cfg.Run.Strategy)
	if err != nil {
		return engine.Options{}, err
	}
	mode, err := collect.ParseMode(cfg.Run.Collect)
	if err != nil {
		return engine.Options{}, err
	}
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}

	var exp export.Exporter = export.Nop
	if cfg.Export.Dir != "" {
		exp = export.NewDir(cfg.Export)
	}

	return engine.Options{
		Grid:          cfg.Grid,
		Strategy:      strategy,
		Collect:       mode,
		ProgressEvery: cfg.Run.ProgressEvery,
		GatherTimeout: cfg.Run.GatherTimeout,
		Host:          host,
		Exporter:      exp,
	}, nil
}

// observer publishes finished runs on /metrics and /api/v1/runs.
type observer struct {
	pub  *metrics.Publisher
	hist *history.Store
}

func newObserver(cfg *config.Config) *observer {
	return &observer{pub: metrics.NewPublisher(), hist: history.New(cfg.History.TTL)}
}

func (o *observer) routes(mux *http.ServeMux) {
	mux.Handle("/metrics", o.pub)
	mux.Handle("/api/v1/", history.NewHandler(o.hist))
}

// record keeps a run that produced a grid, including one whose export failed.
func (o *observer) record(out *engine.Outcome, opts engine.Options) {
	if out == nil || out.Result == nil {
		return
	}
	o.pub.Set(out.Summary)
	id := o.hist.Add(&history.Run{
		Grid:     opts.Grid,
		Strategy: string(opts.Strategy),
		Collect:  string(opts.Collect),
		Summary:  out.Summary,
	})
	slog.Debug("run recorded", "id", id)
}

func runLocal(ctx context.Context, path string, cfg *config.Config, size int, watch bool, httpAddr string, obs *observer) error {
	if watch && path == "" {
		return errors.New("-watch needs -config")
	}
	if httpAddr != "" {
		mux := http.NewServeMux()
		obs.routes(mux)
		go serve(ctx, &http.Server{Addr: httpAddr, Handler: mux})
	}

	runOnce := func(ctx context.Context, cfg *config.Config) error {
		opts, err := options(cfg)
		if err != nil {
			return err
		}
		out, err := engine.RunLocal(ctx, size, opts)
		obs.record(out, opts)
		return err
	}

	err := runOnce(ctx, cfg)
	if !watch {
		return err
	}
	if err != nil {
		slog.Error("run failed, waiting for config change", "err", err)
	}
	return config.Watch(ctx, path, func(runCtx context.Context, updated *config.Config) {
		err := runOnce(runCtx, updated)
		switch {
		case err == nil:
		case runCtx.Err() != nil && ctx.Err() == nil:
			slog.Info("run superseded by newer config", "err", err)
		default:
			slog.Error("run failed, waiting for config change", "err", err)
		}
	})
}

func runNetworked(ctx context.Context, cfg *config.Config, rankFlag, workersFlag int, httpAddr string, obs *observer) error {
	rank, size, err := resolveWorld(rankFlag, workersFlag, os.Getenv)
	if err != nil {
		return err
	}
	opts, err := options(cfg)
	if err != nil {
		return err
	}
	slog.Info("fractald joining run", "rank", rank, "workers", size)

	if rank != 0 {
		c, err := comm.Dial(ctx, comm.DialOptions{
			URL:             cfg.Transport.Coordinator,
			Rank:            rank,
			Size:            size,
			Token:           cfg.Transport.Token(),
			Timeout:         cfg.Transport.DialTimeout,
			MaxMessageBytes: cfg.Transport.MaxMessageBytes,
		})
		if err != nil {
			return err
		}
		_, err = engine.Run(ctx, c, opts)
		c.CloseWithError(err)
		return err
	}

	hub := comm.NewHub(comm.HubOptions{
		Size:            size,
		Token:           cfg.Transport.Token(),
		MaxMessageBytes: cfg.Transport.MaxMessageBytes,
	})
	mux := http.NewServeMux()
	mux.Handle("/ws", hub)
	obs.routes(mux)
	srvCtx, stop := context.WithCancel(ctx)
	defer stop()
	go serve(srvCtx, &http.Server{Addr: cfg.Transport.Listen, Handler: mux})
	if httpAddr != "" && httpAddr != cfg.Transport.Listen {
		go serve(srvCtx, &http.Server{Addr: httpAddr, Handler: mux})
	}

	readyCtx, readyCancel := context.WithTimeout(ctx, cfg.Transport.DialTimeout)
	err = hub.WaitReady(readyCtx)
	readyCancel()
	if err != nil {
		return fmt.Errorf("waiting for peers: %w", err)
	}
	slog.Info("all peers connected", "workers", size)

	out, err := engine.Run(ctx, hub, opts)
	hub.Close()
	obs.record(out, opts)
	var ee *types.ExportError
	if errors.As(err, &ee) {
		slog.Warn("result computed but export failed", "exporter", ee.Exporter)
	}
	return err
}

// serve runs srv until ctx ends.
func serve(ctx context.Context, srv *http.Server) {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx) //nolint:errcheck
	}()
	slog.Info("http listening", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("http server stopped", "addr", srv.Addr, "err", err)
	}
}
