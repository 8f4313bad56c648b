// Package engine drives one rank through a run:
//
//	Idle → Assigned → Computing → Reporting → [Assembling → Aggregating] → Done
//
// The bracketed states are entered by rank 0 only. Every rank takes its
// assignment, waits at a start barrier, computes its rows and sends one report
// to rank 0. Rank 0 collects and assembles the grid, derives metrics, and once
// all ranks have passed the final barrier hands the result to the exporter.
//
// Any fatal error on rank 0 is broadcast as an abort so that peers blocked in
// a barrier return instead of waiting forever.
//
// RunLocal runs every rank as a goroutine over an in-process world; the
// networked binary calls Run once per process.
package engine
