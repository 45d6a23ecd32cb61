// Package api hosts the operator HTTP server of a sampling run. Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /status for a live progress snapshot.
//   - GET /metrics for Prometheus scraping.
package api
