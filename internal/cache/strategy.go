package cache

import (
	"sort"

	"github.com/poolcache/poolcache/pkg/errors"
)

// Strategy selects which entry to evict when an instance must shed weight.
type Strategy string

const (
	// StrategyLRU evicts the entry with the oldest last access.
	StrategyLRU Strategy = "lru"
	// StrategyLFU evicts the entry with the smallest access count.
	StrategyLFU Strategy = "lfu"
	// StrategyFIFO evicts the entry created first.
	StrategyFIFO Strategy = "fifo"
)

// ParseStrategy validates a strategy name. The empty string defaults to LRU.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case "":
		return StrategyLRU, nil
	case StrategyLRU, StrategyLFU, StrategyFIFO:
		return Strategy(s), nil
	default:
		return "", errors.NewError(errors.ErrCodeInvalidConfig, "unknown invalidation strategy").
			WithContext("strategy", s)
	}
}

// SelectVictim returns the key to evict from entries under the given
// strategy, or the empty string when there is nothing to evict. Callers must
// treat the empty string as "halt the eviction loop".
//
// Keys are scanned in sorted order with a strictly-smaller comparison, so
// ties resolve to the lexically first key. That keeps victim selection
// deterministic regardless of map iteration order.
func SelectVictim[V any](s Strategy, entries map[string]*Entry[V]) string {
	if len(entries) == 0 {
		return ""
	}

	keys := make([]string, 0, len(entries))
	for key := range entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	victim := keys[0]
	for _, key := range keys[1:] {
		if lessEligible(s, entries[key], entries[victim]) {
			victim = key
		}
	}
	return victim
}

// lessEligible reports whether a should be evicted before b.
func lessEligible[V any](s Strategy, a, b *Entry[V]) bool {
	switch s {
	case StrategyLFU:
		return a.AccessCount < b.AccessCount
	case StrategyFIFO:
		return a.CreatedAt.Before(b.CreatedAt)
	default:
		return a.LastAccessedAt.Before(b.LastAccessedAt)
	}
}
