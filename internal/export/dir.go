package export

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/bytedance/sonic"

	"github.com/meshfield/meshfield/internal/config"
	"github.com/meshfield/meshfield/internal/metrics"
	"github.com/meshfield/meshfield/internal/wire"
	"github.com/meshfield/meshfield/pkg/types"
)

// File names written by DirExporter.
const (
	ArtifactFile = "grid.msgpack"
	ReportFile   = "report.json"
	MetricsFile  = "metrics.prom"
)

// RunReport is the JSON document written to report.json.
type RunReport struct {
	Grid     types.Grid                `json:"grid"`
	Metrics  metrics.Output            `json:"metrics"`
	Phases   metrics.Phases            `json:"phases"`
	Ranks    []types.PerformanceSample `json:"ranks"`
	Finished time.Time                 `json:"finished"`
}

// DirExporter writes run files into a directory.
type DirExporter struct {
	cfg config.ExportConfig
}

// NewDir returns a DirExporter for cfg.
func NewDir(cfg config.ExportConfig) *DirExporter {
	return &DirExporter{cfg: cfg}
}

func (d *DirExporter) Export(ctx context.Context, a Artifact) error {
	if a.Result == nil {
		return &types.ExportError{Exporter: "dir", Err: fmt.Errorf("no result")}
	}
	if err := os.MkdirAll(d.cfg.Dir, 0o755); err != nil {
		return &types.ExportError{Exporter: "dir", Err: err}
	}

	type file struct {
		name    string
		enabled bool
		render  func() ([]byte, error)
	}
	files := []file{
		{ArtifactFile, d.cfg.Artifact, func() ([]byte, error) {
			var buf bytes.Buffer
			err := wire.WriteArtifact(&buf, a.Result)
			return buf.Bytes(), err
		}},
		{ReportFile, d.cfg.Report, func() ([]byte, error) {
			return sonic.ConfigStd.MarshalIndent(RunReport{
				Grid:     a.Result.Grid(),
				Metrics:  a.Summary.Output,
				Phases:   a.Summary.Phases,
				Ranks:    a.Summary.Samples,
				Finished: a.Finished,
			}, "", "  ")
		}},
		{MetricsFile, d.cfg.Metrics, func() ([]byte, error) {
			var buf bytes.Buffer
			err := metrics.WriteText(&buf, a.Summary)
			return buf.Bytes(), err
		}},
	}

	for _, f := range files {
		if !f.enabled {
			continue
		}
		if err := ctx.Err(); err != nil {
			return &types.ExportError{Exporter: "dir", Err: err}
		}
		data, err := f.render()
		if err != nil {
			return &types.ExportError{Exporter: "dir", Err: fmt.Errorf("render %s: %w", f.name, err)}
		}
		path := filepath.Join(d.cfg.Dir, f.name)
		if err := writeFile(path, data); err != nil {
			return &types.ExportError{Exporter: "dir", Err: err}
		}
		slog.Info("export: wrote file", "path", path, "bytes", len(data))
	}
	return nil
}

// writeFile replaces path atomically.
func writeFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // gone after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename into %s: %w", path, err)
	}
	return nil
}
