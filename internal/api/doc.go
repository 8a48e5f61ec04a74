// Package api hosts the ops HTTP server. Notable routes:
//   - GET /healthz and /readyz for probes; readyz pings the database.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/scans to queue a scan, GET /v1/scans/{scan_id} for its state and
//     GET /v1/scans/{scan_id}/pages for the pages it fetched.
//   - GET /v1/competitors/{competitor_id}/alerts for recent alerts.
//   - POST /v1/quickfetch for a one-off page summary.
package api
