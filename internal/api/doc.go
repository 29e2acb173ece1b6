// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - /v1/channels for registering and editing tracked channels.
//   - POST /v1/crawl/backfill and /v1/crawl/incremental to trigger runs.
//   - /v1/quota for the shared Data API budget and credential.
//   - GET /v1/logs for the crawl audit trail.
package api
