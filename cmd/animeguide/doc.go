// Package main hosts the anime guide crawler entrypoint.
//
// Architecture overview:
//   - Scheduler: internal/scheduler fires a crawl cycle at 09:00 and 21:00 in the configured timezone and once at
//     startup. Overlapping triggers are skipped; the runner holds a single run lock.
//   - Crawl cycle: internal/pipeline reads the Bangumi airing calendar (primary domain, then bgm.tv, then an optional
//     headless render), upserts every sighted anime, then refreshes stale subject details and episode lists on a
//     bounded pool. Pages whose layout was not recognized are archived (memory/local/GCS) for inspection.
//   - Fetching: internal/fetch wraps colly with per-host rate limiting, bounded retries honoring Retry-After, TLS
//     options from BANGUMI_SSL_VERIFY / BANGUMI_CA_BUNDLE and an optional circuit breaker.
//   - Persistence: PostgreSQL via pgx. Every statement stands alone; merge rules keep known values when a page omits
//     them.
//   - Query API: internal/api serves the read-only guide (calendar dates, daily updates, weekday listings, details)
//     plus health, readiness, metrics and an on-demand crawl trigger.
//
// Quick checklist:
//   - DATABASE_URL is required. Everything else has defaults and may be overridden with ANIMEGUIDE_* variables or a
//     YAML file passed with -config. A .env file in the working directory is loaded first.
//   - Run locally: go run ./cmd/animeguide -config config.yaml
//   - One-shot crawl (cron jobs, backfills): go run ./cmd/animeguide -once
package main
