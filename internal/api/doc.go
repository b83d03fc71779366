// Package api hosts the ops HTTP server of a worker process. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes; readyz pings the shared store.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/stats and /v1/faults for fleet-wide counters and recent faults.
//   - /v1/instances/{instance_id}/... to enqueue tasks and inspect one instance's
//     pools and counters.
package api
