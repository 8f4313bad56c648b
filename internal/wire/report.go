package wire

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/meshfield/meshfield/pkg/types"
)

// EncodeReport serialises a rank's report.
func EncodeReport(r *types.Report) ([]byte, error) {
	if r == nil || r.Partial == nil {
		return nil, fmt.Errorf("wire: encode report: missing partial result")
	}
	b, err := msgpack.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("wire: encode report: %w", err)
	}
	return b, nil
}

// DecodeReport parses a report produced by EncodeReport.
func DecodeReport(b []byte) (*types.Report, error) {
	var r types.Report
	if err := msgpack.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("wire: decode report: %w", err)
	}
	if r.Partial == nil {
		return nil, fmt.Errorf("wire: decode report: missing partial result")
	}
	if r.Partial.Rows == nil {
		r.Partial.Rows = map[int][]int{}
	}
	return &r, nil
}
