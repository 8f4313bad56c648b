// Package export hands a finished run to the outside world. The engine calls
// Exporter.Export once, on rank 0, with a FullResult that has already passed
// assembly. An export failure is reported as *types.ExportError and never
// invalidates that result.
//
// DirExporter writes up to three files into one directory:
//
//	grid.msgpack  bounds, max_iter and counts for an external renderer
//	report.json   run metrics, phase timings and per-rank samples
//	metrics.prom  Prometheus text exposition of the same figures
//
// Files are written to a temporary name and renamed into place, so a reader
// never sees a partial file.
package export
