// Package compute holds the per-rank computation of a run.
//
// kernel.go provides the pure Escape(c, maxIter) function: the escape-time
// iteration z ← z² + c from z = 0, stopped when |z|² > 4 or after maxIter
// updates. It returns the number of updates applied, so the origin returns
// maxIter and c = 2 returns 2.
//
// allocate.go partitions grid rows across ranks with either the contiguous
// (block) or striped (round-robin) strategy. Assign needs no communication.
//
// unit.go provides Unit, which applies the kernel to one rank's assigned rows,
// times the row loop, and optionally reports progress every N percent.
package compute
