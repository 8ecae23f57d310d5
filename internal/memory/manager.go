// Package memory provides per-cache-instance byte accounting and admission
// control. All operations are total functions over the observable state:
// size estimation never fails and release clamps at zero.
package memory

import (
	"encoding/json"

	"github.com/poolcache/poolcache/pkg/types"
)

// DefaultEstimateBytes is charged for values that cannot be serialized.
const DefaultEstimateBytes = 1024

// bytesPerChar reflects two-byte character cost for strings and canonical
// serialized forms.
const bytesPerChar = 2

// Manager tracks memory usage for one cache instance and decides whether a
// new entry may be admitted. A zero limit means unbounded admission, which
// always succeeds; bounded instances are strongly preferred since unbounded
// accounting defeats the purpose of admission control.
type Manager struct {
	limit int64
	usage int64
}

// NewManager creates a manager with the given limit in megabytes. A zero or
// negative limit disables admission control.
func NewManager(limitMB int64) *Manager {
	var limit int64
	if limitMB > 0 {
		limit = limitMB * 1024 * 1024
	}
	return &Manager{limit: limit}
}

// NewManagerBytes creates a manager with an exact byte limit.
func NewManagerBytes(limitBytes int64) *Manager {
	if limitBytes < 0 {
		limitBytes = 0
	}
	return &Manager{limit: limitBytes}
}

// EstimateSize estimates the storage cost of a value in bytes. Values
// implementing types.Sizer report their own cost; strings cost two bytes per
// rune; anything else costs two bytes per byte of its canonical JSON form.
// Raw []byte values are the exception to the two-byte pricing: they are
// already storage-shaped, so they cost exactly their length. Values that
// cannot be serialized fall back to DefaultEstimateBytes.
func EstimateSize(value any) int64 {
	switch v := value.(type) {
	case types.Sizer:
		if n := v.SizeBytes(); n >= 0 {
			return n
		}
		return DefaultEstimateBytes
	case string:
		return int64(len([]rune(v))) * bytesPerChar
	case []byte:
		return int64(len(v))
	case nil:
		return 0
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return DefaultEstimateBytes
		}
		return int64(len(data)) * bytesPerChar
	}
}

// CanStore reports whether an entry of the given size fits under the limit.
func (m *Manager) CanStore(bytes int64) bool {
	if m.limit <= 0 {
		return true
	}
	return m.usage+bytes <= m.limit
}

// TrackUsage records bytes as in use.
func (m *Manager) TrackUsage(bytes int64) {
	m.usage += bytes
}

// ReleaseMemory returns bytes to the pool, clamping at zero.
func (m *Manager) ReleaseMemory(bytes int64) {
	m.usage -= bytes
	if m.usage < 0 {
		m.usage = 0
	}
}

// CurrentUsage returns the tracked byte count.
func (m *Manager) CurrentUsage() int64 {
	return m.usage
}

// Limit returns the byte limit, zero meaning unbounded.
func (m *Manager) Limit() int64 {
	return m.limit
}

// OverBudget reports whether tracked usage exceeds the configured limit.
func (m *Manager) OverBudget() bool {
	return m.limit > 0 && m.usage > m.limit
}

// Reset zeroes the tracked usage. Used when an instance is cleared.
func (m *Manager) Reset() {
	m.usage = 0
}
