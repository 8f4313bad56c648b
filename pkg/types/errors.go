package types

import (
	"fmt"
	"sort"
	"strings"
)

// ConfigurationError reports an invalid run parameter. It is raised before any
// rank starts computing.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s %s", e.Field, e.Reason)
}

// CommunicationError reports peers that failed to take part in an exchange.
// It is fatal for the run.
type CommunicationError struct {
	// Ranks lists the peers that did not report, ascending.
	Ranks []int
	Err   error
}

func (e *CommunicationError) Error() string {
	ranks := make([]string, len(e.Ranks))
	for i, r := range e.Ranks {
		ranks[i] = fmt.Sprint(r)
	}
	msg := "communication: rank(s) [" + strings.Join(ranks, ",") + "] failed to report"
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CommunicationError) Unwrap() error { return e.Err }

// NewCommunicationError sorts and deduplicates ranks.
func NewCommunicationError(err error, ranks ...int) *CommunicationError {
	seen := make(map[int]bool, len(ranks))
	out := make([]int, 0, len(ranks))
	for _, r := range ranks {
		if !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	sort.Ints(out)
	return &CommunicationError{Ranks: out, Err: err}
}

// ConsistencyKind classifies an assembly failure.
type ConsistencyKind string

const (
	DuplicateRow    ConsistencyKind = "duplicate_row"
	MissingRows     ConsistencyKind = "missing_rows"
	RowOutOfRange   ConsistencyKind = "row_out_of_range"
	RowWidth        ConsistencyKind = "row_width"
	CountOutOfRange ConsistencyKind = "count_out_of_range"
	DuplicateReport ConsistencyKind = "duplicate_report"
	RankMismatch    ConsistencyKind = "rank_mismatch"
	ParamsMismatch  ConsistencyKind = "params_mismatch"
)

// ConsistencyError reports that the assembled grid would be wrong. A grid
// that produced one is discarded and never exported.
type ConsistencyError struct {
	Kind ConsistencyKind
	Rank int   // reporting rank, -1 when not attributable
	Row  int   // offending row, -1 when not applicable
	Rows []int // missing rows for MissingRows
}

func (e *ConsistencyError) Error() string {
	switch e.Kind {
	case MissingRows:
		return fmt.Sprintf("consistency: %d row(s) never written, first %v", len(e.Rows), head(e.Rows, 8))
	case DuplicateReport, RankMismatch, ParamsMismatch:
		return fmt.Sprintf("consistency: %s from rank %d", e.Kind, e.Rank)
	default:
		return fmt.Sprintf("consistency: %s at row %d from rank %d", e.Kind, e.Row, e.Rank)
	}
}

// ExportError wraps a failure of the exporter. The FullResult it was handed
// stays valid.
type ExportError struct {
	Exporter string
	Err      error
}

func (e *ExportError) Error() string {
	return fmt.Sprintf("export %s: %v", e.Exporter, e.Err)
}

func (e *ExportError) Unwrap() error { return e.Err }

func head(rows []int, n int) []int {
	if len(rows) > n {
		return rows[:n]
	}
	return rows
}
