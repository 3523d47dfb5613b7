// Package syncd is a multi-tenant sync pipeline for MSP integration data.
//
// External platforms (Microsoft 365 and friends) are fetched through
// connectors, normalized into canonical entities, linked into a
// relationship graph, and analyzed by a workflow engine that tags
// entities and raises alerts. Stages communicate over NATS JetStream and
// are idempotent, so any event can be replayed safely.
//
// The stages, in order:
//
//   - queue: Redis-backed job queue with priorities, retries with
//     backoff, visibility timeouts, and cron-style recurring schedules.
//   - adapter: runs a connector's paged fetch for a sync job and hashes
//     each record for change detection.
//   - processor: normalizes raw records and upserts entities, only
//     propagating records whose content hash changed.
//   - linker: resolves external-ID references into relationship edges.
//   - analysis/workflow: loads a tenant context and runs ordered
//     analysis nodes whose effects flush atomically.
//
// The syncd binary under cmd/syncd wires all stages into one process.
package syncd
