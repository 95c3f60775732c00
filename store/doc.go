// Package store defines checkpoint persistence for the scriptflow
// orchestrator.
//
// A Checkpoint captures the serialized workflow state after one stage
// transition. Checkpoints are keyed by thread id and chained through
// ParentID, which gives every thread an append-only history usable for
// resumption, rollback and audit.
//
// # Compare-and-swap
//
// The store is also the concurrency guard for workflow mutation. Every Save
// carries the parent checkpoint id the mutator loaded; the store accepts the
// write only while the thread head still equals that parent. Two mutators
// racing on the same thread therefore resolve to exactly one winner, and the
// loser observes ErrConflict and backs off. The check is per thread, so
// unrelated workflows never serialize against each other.
//
// # Backends
//
// Four interchangeable backends implement CheckpointStore:
//
//   - store/memory: volatile in-process map, for development and tests
//   - store/sqlite: file-based durable storage (mattn/go-sqlite3)
//   - store/postgres: production storage on jackc/pgx
//   - store/redis: redis/go-redis with optional TTL, CAS via a Lua script
//
// All backends serialize state as JSON and preserve the checkpoint chain.
package store
