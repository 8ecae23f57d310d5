package cache

import "time"

// Entry is a single cached item with its access metadata. Entries are
// mutated on every read (access count and recency) and fully replaced on
// write; the old entry's size is released before the new one is tracked.
type Entry[V any] struct {
	Key            string    `json:"key"`
	Value          V         `json:"value"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at,omitempty"` // zero means no expiry
	Tags           []string  `json:"tags,omitempty"`
	AccessCount    int64     `json:"access_count"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
	SizeBytes      int64     `json:"size_bytes"`
}

// Expired reports whether the entry's absolute expiry has passed.
func (e *Entry[V]) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// Touch records a read access.
func (e *Entry[V]) Touch(now time.Time) {
	e.AccessCount++
	e.LastAccessedAt = now
}

// Age returns the time since the entry was created.
func (e *Entry[V]) Age(now time.Time) time.Duration {
	return now.Sub(e.CreatedAt)
}

// HasAnyTag reports whether the entry's tag set intersects tags.
func (e *Entry[V]) HasAnyTag(tags []string) bool {
	if len(e.Tags) == 0 || len(tags) == 0 {
		return false
	}
	for _, want := range tags {
		for _, have := range e.Tags {
			if have == want {
				return true
			}
		}
	}
	return false
}
