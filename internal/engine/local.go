package engine

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/meshfield/meshfield/internal/comm"
)

// RunLocal runs size ranks as goroutines in this process and returns rank
// 0's Outcome. A rank that fails is marked failed in the world so rank 0
// reports it instead of waiting. Rank 0's error wins over its peers'.
func RunLocal(ctx context.Context, size int, opts Options) (*Outcome, error) {
	world := comm.NewLocalWorld(size)

	var (
		g    errgroup.Group
		root *Outcome
		errs = make([]error, size)
	)
	for rank := 0; rank < size; rank++ {
		rank := rank
		g.Go(func() error {
			o, err := Run(ctx, world.Comm(rank), opts)
			if rank == 0 {
				root = o
			} else if err != nil {
				world.Fail(rank)
			}
			errs[rank] = err
			return err
		})
	}
	g.Wait() //nolint:errcheck // per-rank errors are ranked below

	for _, err := range errs {
		if err != nil {
			return root, err
		}
	}
	return root, nil
}
