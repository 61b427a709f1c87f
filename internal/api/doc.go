// Package api hosts the HTTP server, middleware, and read-only handlers for
// the ratings registry. Notable routes:
//   - GET /healthz and /readyz for liveness and store readiness.
//   - GET /metrics for Prometheus scraping.
//   - GET /api/ratings for filtered, paginated listings.
//   - GET /api/export for the same filters as a CSV attachment.
//   - GET /api/stats for totals, distinct years, and distinct ratings.
package api
