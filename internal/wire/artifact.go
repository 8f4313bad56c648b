package wire

import (
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/meshfield/meshfield/pkg/types"
)

// artifactVersion is bumped whenever the Artifact layout changes.
const artifactVersion = 1

// Artifact is the on-disk form of a completed grid: bounds, iteration cap and
// the row-major counts, for an external renderer to colour.
type Artifact struct {
	Version int        `msgpack:"version"`
	Grid    types.Grid `msgpack:"grid"`
	Counts  [][]int    `msgpack:"counts"`
}

// WriteArtifact encodes res to w.
func WriteArtifact(w io.Writer, res *types.FullResult) error {
	a := Artifact{Version: artifactVersion, Grid: res.Grid(), Counts: res.Rows()}
	if err := msgpack.NewEncoder(w).Encode(&a); err != nil {
		return fmt.Errorf("wire: write artifact: %w", err)
	}
	return nil
}

// ReadArtifact decodes an artifact written by WriteArtifact.
func ReadArtifact(r io.Reader) (*Artifact, error) {
	var a Artifact
	if err := msgpack.NewDecoder(r).Decode(&a); err != nil {
		return nil, fmt.Errorf("wire: read artifact: %w", err)
	}
	if a.Version != artifactVersion {
		return nil, fmt.Errorf("wire: read artifact: unsupported version %d", a.Version)
	}
	return &a, nil
}
