package types

import (
	"context"
	"errors"
)

// ErrBlobNotFound is returned by BlobStore.ReadBlob when a namespace has no
// stored blob. Absence is an expected condition, not a storage failure.
var ErrBlobNotFound = errors.New("blob not found")

// BlobStore is the durable-storage collaborator consumed by the cache core.
// Two logical namespaces are used: one for the registry of persisted cache
// configs and one per cache name for its serialized entry array.
type BlobStore interface {
	ReadBlob(ctx context.Context, namespace string) ([]byte, error)
	WriteBlob(ctx context.Context, namespace string, data []byte) error
}

// TelemetrySink receives cache telemetry events. Implementations must be
// non-blocking from the caller's perspective; errors are swallowed by the
// emitter.
type TelemetrySink interface {
	Emit(event Event)
}

// StatsSink is an optional extension of TelemetrySink. Sinks that implement
// it receive a per-cache stats snapshot after every maintenance sweep.
type StatsSink interface {
	UpdateStats(cache string, stats CacheStats)
}
