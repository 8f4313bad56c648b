// Package types defines the shared Go types used by every rank of a run:
// the Grid descriptor, per-rank work assignments, partial and full results,
// performance samples, the run lifecycle states, and the error kinds that
// cross package boundaries.
//
// These are the canonical in-memory representations, separate from the
// msgpack wire format in internal/wire.
package types
