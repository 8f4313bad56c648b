// Package config loads and watches the run configuration file (config.yaml).
//
// Top-level types:
//   - Config{Grid, Run, Transport, Export, History, Log} — full config tree parsed from YAML
//   - types.Grid — width, height, xmin, xmax, ymin, ymax, max_iter
//   - RunConfig — strategy (contiguous|striped), collect (gather|p2p),
//     progress_every (percent of rows), gather_timeout (0 = wait forever)
//   - TransportConfig — listen address of rank 0, coordinator URL dialled by
//     the other ranks, dial_timeout, max_message_bytes, token_env; Token()
//     resolves the shared peer token from the environment
//   - ExportConfig — output dir and which artifacts to write
//   - HistoryConfig — ttl of finished runs kept for /api/v1/runs
//
// Load(path) reads the YAML file, applies defaults (800x600 over
// [-2.5,1.5]x[-1.5,1.5], 100 iterations, contiguous/gather), then validates.
// Grid violations are reported as *types.ConfigurationError before any rank
// starts computing.
//
// Watch(ctx, path, run) uses fsnotify to detect file changes, waits for a
// burst of writes to settle, then starts run with the newly parsed Config.
// Only one run is active; a newer valid config cancels it first. The watch
// is re-added after every reload so atomic-save editors (rename→create)
// keep working.
package config
