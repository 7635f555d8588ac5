// Package api hosts the HTTP server, middleware and REST handlers. Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/apps/{key} for an on-demand fetch and ingest, or a stored read
//     with ?refresh=false. listed_at (RFC3339) and comment (JSON) annotate
//     the stored info row.
//   - GET /v1/runs for scheduler run history.
package api
