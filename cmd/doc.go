// Package cmd defines the CLI for the ytcrawler executable.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, channel management, crawl triggers, quota and the
//     audit log. Crawl triggers block until the run finishes and answer with a summary only.
//   - Orchestrator: internal/worker runs backfill (uninitialized channels, yearly windows, rollback on failure)
//     and incremental (initialized channels, stop at the first stored video) one channel at a time, because
//     the daily Data API quota is a single shared ledger loaded and persisted around every channel.
//   - Persistence: channels, raw videos, the quota ledger and the audit log live in Postgres (pgx, migrations
//     applied on start) or in memory for local runs. Raw search pages can be archived to GCS or a local
//     directory, and a Pub/Sub message is published per completed channel.
//   - Configuration & plumbing: Viper populates config from env/files; zap provides structured logging;
//     Prometheus metrics are exported via the metrics middleware and /metrics handler.
//
// Quick checklist:
//   - Configure env vars: CRAWLER_YOUTUBE_API_KEY (or `ytcrawler apikey set`), CRAWLER_STORAGE_BACKEND=postgres
//     with CRAWLER_DB_DSN, CRAWLER_ARCHIVE_BACKEND, CRAWLER_PUBSUB_ENABLED and CRAWLER_SCHEDULE_ENABLED.
//   - Run locally: go run . serve --config config.yaml
//   - One-shot runs: go run . crawl backfill / go run . crawl incremental
package cmd
