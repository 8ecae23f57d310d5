// Package cache implements the multi-tier caching core: named cache
// instances with eviction strategies, the policy-driven two-tier
// hierarchy, and the service façade that coordinates them.
//
// Architecture:
//
//	Service (façade)
//	├── instances: named entry maps with per-instance memory accounting
//	├── Hierarchy: policy-routed memory and durable tiers (fast path)
//	├── maintenance loop: periodic expiry and budget sweeps
//	└── persistence: best-effort snapshots through a BlobStore
//
// Each named instance owns its configuration, its entries, and a memory
// manager that enforces the admission budget. Eviction strategies (lru,
// lfu, fifo) pick victims deterministically so identical states always
// evict the same key.
//
// The hierarchy routes entries by policy priority: low numbers are hotter.
// Priorities 1..2 occupy the memory tier, 1..3 the durable tier; anything
// beyond is admitted nowhere. Reads probe memory first and promote durable
// hits whose policy still wants them cached.
//
// Persistence and telemetry are collaborators, not dependencies: a nil
// BlobStore disables snapshots, a nil TelemetrySink drops events, and
// neither can fail a cache operation.
package cache
