// Package main hosts the WRC decisions harvester entrypoint.
//
// Architecture overview:
//   - Harvest stage: the date window is split into calendar-month partitions, each searched per body category
//     through the decisions search form. Every listing is fetched, its attachments stored under
//     files/<MM-YYYY>/<DD-MM-YYYY>/<folder>/ in the raw bucket, and its metadata upserted into the case store.
//   - Normalize stage: stored cases inside a window are read back, their primary documents reduced to the decision
//     body, hashed, and written to the processed bucket plus the normalized collection.
//   - HTTP API: internal/api.Server accepts stage requests, records runs, and hands them to a bounded queue drained by
//     a fixed worker pool. Completed runs are published to Pub/Sub when enabled.
//   - Configuration & plumbing: Viper populates config from HARVESTER_* env vars and an optional file; zap provides
//     structured logging; Prometheus metrics are exported on /metrics.
//
// Quick checklist:
//   - Run one stage locally: go run ./cmd/harvester harvest --from 01/01/2025 --to 31/03/2025.
//   - Serve the API: go run ./cmd/harvester serve --config config.yaml (PORT overrides server.port).
//   - Storage backends: memory, local, gcs, minio. Metadata backends: memory, mongo, postgres.
package main
