package export

import (
	"context"
	"errors"
	"time"

	"github.com/meshfield/meshfield/internal/metrics"
	"github.com/meshfield/meshfield/pkg/types"
)

// Artifact is what an Exporter receives: the frozen grid plus the run's
// metrics. Grid bounds and max_iter travel inside Result.
type Artifact struct {
	Result   *types.FullResult
	Summary  metrics.Summary
	Finished time.Time
}

// Exporter publishes a finished run.
type Exporter interface {
	Export(ctx context.Context, a Artifact) error
}

// ExporterFunc adapts a function to Exporter.
type ExporterFunc func(ctx context.Context, a Artifact) error

func (f ExporterFunc) Export(ctx context.Context, a Artifact) error { return f(ctx, a) }

// Nop discards every artifact.
var Nop Exporter = ExporterFunc(func(context.Context, Artifact) error { return nil })

// Multi runs every exporter in order, even after one fails, and joins the
// errors.
type Multi []Exporter

func (m Multi) Export(ctx context.Context, a Artifact) error {
	var errs []error
	for _, e := range m {
		if err := e.Export(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
