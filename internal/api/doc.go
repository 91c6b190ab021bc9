// Package api hosts the operator HTTP server that runs beside an indexing run.
// Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/run for the run report so far and queue counters.
//   - GET /v1/workers for the worker pool snapshot.
package api
