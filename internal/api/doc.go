// Package api hosts the admin HTTP server, middleware, and REST handlers for
// operator access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes; readyz pings the queue store.
//   - GET /metrics for Prometheus scraping.
//   - /v1/workers for listing, pausing and resuming workers.
//   - /v1/queue for per-vendor queue inspection and seeding LIST jobs.
//   - /v1/session/{start,stop} for toggling the queue session flag.
package api
