// Package types defines the shared value types and collaborator interfaces
// used across the poolcache subsystem: cache statistics, telemetry events,
// and the durable blob-store contract. Keeping these in a leaf package lets
// internal packages depend on them without import cycles.
package types
