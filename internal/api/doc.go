// Package api hosts the read-only HTTP interface over the anime guide. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/anime-guide/... for airing dates, daily updates, weekday
//     listings and subject details.
//   - POST /v1/crawl/run to trigger a crawl cycle out of schedule.
package api
