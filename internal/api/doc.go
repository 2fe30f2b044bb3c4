// Package api hosts the optional status server that runs alongside a
// harvest. Routes:
//   - GET /healthz and /readyz for health checks.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/progress for the live run snapshot.
//   - GET /v1/runs and /v1/runs/{run_id} for persisted run history.
package api
