// Package api hosts the operational HTTP listener of a planwatch process:
// GET /healthz and /readyz for probes and GET /metrics for Prometheus.
package api
