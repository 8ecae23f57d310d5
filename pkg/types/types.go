package types

import "time"

// CacheStats represents performance statistics for one cache instance.
// Stats are derived counters, recomputed incrementally on every mutating
// operation; they are never the authoritative source of cache contents.
type CacheStats struct {
	Hits        uint64    `json:"hits"`
	Misses      uint64    `json:"misses"`
	Evictions   uint64    `json:"evictions"`
	Size        int       `json:"size"`
	MemoryBytes int64     `json:"memory_bytes"`
	HitRate     float64   `json:"hit_rate"`
	OldestEntry time.Time `json:"oldest_entry,omitempty"`
	NewestEntry time.Time `json:"newest_entry,omitempty"`
}

// Event is a telemetry event emitted by the cache core. Events are
// fire-and-forget: a slow or failing sink must never affect cache behavior.
type Event struct {
	Name      string `json:"name"`
	Cache     string `json:"cache"`
	Key       string `json:"key,omitempty"`
	Timestamp string `json:"timestamp"` // RFC 3339
}

// Telemetry event names.
const (
	EventCacheCreated  = "cache_created"
	EventCacheSet      = "cache_set"
	EventEntryRemoved  = "cache_entry_removed"
	EventCacheCleared  = "cache_cleared"
	EventAssetHit      = "cache_asset_hit"
	EventAssetMiss     = "cache_asset_miss"
	EventAPIHit        = "cache_api_hit"
	EventAPIMiss       = "cache_api_miss"
	EventEntryEvicted  = "cache_evicted"
	EventEntryExpired  = "cache_expired"
	EventSetDropped    = "cache_set_dropped"
	EventSnapshotError = "cache_snapshot_error"
)

// NewEvent builds an event stamped with the given time in RFC 3339 form.
func NewEvent(name, cache, key string, at time.Time) Event {
	return Event{
		Name:      name,
		Cache:     cache,
		Key:       key,
		Timestamp: at.UTC().Format(time.RFC3339Nano),
	}
}

// Sizer is implemented by values that can report their own storage cost.
// The memory manager prefers this over serialization-based estimation.
type Sizer interface {
	SizeBytes() int64
}
