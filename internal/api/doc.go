// Package api hosts the HTTP trigger API. Routes:
//   - GET /healthz for liveness probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/harvest and POST /v1/normalize to queue a stage run.
//   - GET /v1/runs/{run_id} to poll a run.
package api
