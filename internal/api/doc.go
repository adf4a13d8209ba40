// Package api hosts the optional operator HTTP listener for a citation run.
// Routes:
//   - GET /healthz and /readyz for liveness probes.
//   - GET /metrics for Prometheus scraping of the run registry.
//   - GET /v1/status for the live run snapshot, including whether the run is
//     waiting on a manual captcha solve.
package api
