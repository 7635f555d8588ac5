// Package main hosts the ingest CLI.
//
// Architecture overview:
//   - Discovery: a discovery.Source yields candidate keys (a sequential id range, an LCG random sample, the
//     neighborhood of stored ids, or a shuffled package list). The scheduler pulls fixed-size batches from it,
//     runs each batch concurrently, waits for the whole batch, then sleeps for the configured cooldown.
//   - Per candidate: the worker fetches the entity document, fetches the star rating unless the rating predicate
//     declines, and hands both to the change-aware store. Only projections that actually changed are written.
//   - Credentials: every remote call reads the shared credential. Refreshes are single-flight, and a run stops
//     after the current batch once no credential can be obtained.
//   - Fanout: a change appends a raw snapshot to the blob store (gcs/local/memory) and publishes a Pub/Sub event
//     when a project is configured. Progress events flow through the hub into run history, Prometheus and logs.
//
// Commands:
//   - discover <strategy>: one scheduler pass over sequential, random, neighborhood or packages.
//   - sync: one pass over the configured and stored package names.
//   - lookup <key>: fetch and ingest a single app id or package name and print the result.
//   - serve: HTTP API (/v1/apps/{key}, /v1/runs, /healthz, /readyz, /metrics), optionally with the periodic sync.
//   - migrate: create the Postgres schema.
//
// Quick checklist:
//   - Configure env vars: INGEST_DB_DSN for Postgres (in-memory otherwise), INGEST_STORAGE_BACKEND with
//     INGEST_STORAGE_GCS_BUCKET or INGEST_STORAGE_LOCAL_DIR, INGEST_PUBSUB_PROJECT_ID, INGEST_SCHEDULER_BATCH_SIZE.
//   - Run locally: go run ./cmd/ingest discover sequential --config config.yaml --max-batches 1
package main
