// Package metrics derives aggregate performance figures from the per-rank
// samples collected on rank 0 and exposes them in Prometheus text format.
//
// The figures are advisory. Nothing in a run reads them back: work is never
// reallocated based on a previous run's load balance.
//
// Definitions (n ranks, elapsed floored at 1ns):
//
//	total_elapsed           max(elapsed)
//	total_pixels            Σ pixels
//	throughput              total_pixels / total_elapsed      (pixels/s)
//	load_balance_efficiency min(elapsed) / max(elapsed) × 100 (0,100]
//	sequential_estimate     total_pixels / (Σ pixels / Σ elapsed)
//	speedup_estimate        sequential_estimate / total_elapsed
//	parallel_efficiency     speedup_estimate / n × 100
package metrics
