// Package history keeps the summaries of recent runs in memory and serves
// them as JSON.
//
// Store is keyed by a monotonically increasing run ID. A background
// goroutine (Run) evicts runs older than the configured TTL. Handler exposes:
//
//	GET /api/v1/runs         every live run, newest first
//	GET /api/v1/runs/latest  the newest run
//	GET /api/v1/runs/{id}    one run
//
// In -watch mode every config change adds a run, so the history shows how
// load balance moves with strategy and worker count.
package history
