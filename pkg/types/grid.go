package types

import (
	"fmt"
	"math"
)

// Grid is the immutable descriptor of the sampled region of the complex plane.
// Rows run along the imaginary axis, columns along the real axis.
type Grid struct {
	Width   int     `yaml:"width" msgpack:"width" json:"width"`
	Height  int     `yaml:"height" msgpack:"height" json:"height"`
	XMin    float64 `yaml:"xmin" msgpack:"xmin" json:"xmin"`
	XMax    float64 `yaml:"xmax" msgpack:"xmax" json:"xmax"`
	YMin    float64 `yaml:"ymin" msgpack:"ymin" json:"ymin"`
	YMax    float64 `yaml:"ymax" msgpack:"ymax" json:"ymax"`
	MaxIter int     `yaml:"max_iter" msgpack:"max_iter" json:"max_iter"`
}

// Validate reports a *ConfigurationError when the grid cannot be computed.
func (g Grid) Validate() error {
	switch {
	case g.Width <= 0:
		return &ConfigurationError{Field: "grid.width", Reason: fmt.Sprintf("must be positive, got %d", g.Width)}
	case g.Height <= 0:
		return &ConfigurationError{Field: "grid.height", Reason: fmt.Sprintf("must be positive, got %d", g.Height)}
	case g.MaxIter <= 0:
		return &ConfigurationError{Field: "grid.max_iter", Reason: fmt.Sprintf("must be positive, got %d", g.MaxIter)}
	}
	bounds := []struct {
		name string
		v    float64
	}{{"grid.xmin", g.XMin}, {"grid.xmax", g.XMax}, {"grid.ymin", g.YMin}, {"grid.ymax", g.YMax}}
	for _, b := range bounds {
		if math.IsNaN(b.v) || math.IsInf(b.v, 0) {
			return &ConfigurationError{Field: b.name, Reason: "must be finite"}
		}
	}
	return nil
}

// Real returns the real coordinate of column col.
// A single-column grid maps to XMin.
func (g Grid) Real(col int) float64 {
	return lerp(g.XMin, g.XMax, col, g.Width)
}

// Imag returns the imaginary coordinate of row.
// A single-row grid maps to YMin.
func (g Grid) Imag(row int) float64 {
	return lerp(g.YMin, g.YMax, row, g.Height)
}

// Point returns the complex coordinate of (row, col).
func (g Grid) Point(row, col int) complex128 {
	return complex(g.Real(col), g.Imag(row))
}

// Pixels is the total number of grid points.
func (g Grid) Pixels() int64 {
	return int64(g.Width) * int64(g.Height)
}

func lerp(lo, hi float64, i, n int) float64 {
	if n <= 1 {
		return lo
	}
	return lo + (hi-lo)*float64(i)/float64(n-1)
}
