package cache

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/poolcache/poolcache/pkg/errors"
)

// Hierarchy is a policy-mediated two-tier store used as a fast-path
// accelerator in front of each instance's own entry map. The memory tier is
// checked first; hits in the durable tier are promoted into the memory tier
// when the policy admits them.
type Hierarchy[V any] struct {
	mu       sync.RWMutex
	memory   map[string]*Entry[V]
	storage  map[string]*Entry[V]
	policies map[string]Policy[V]
	clock    Clock
	logger   *slog.Logger
}

// NewHierarchy creates a hierarchy with the built-in policies registered.
func NewHierarchy[V any](clock Clock, logger *slog.Logger) *Hierarchy[V] {
	if clock == nil {
		clock = realClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hierarchy[V]{
		memory:   make(map[string]*Entry[V]),
		storage:  make(map[string]*Entry[V]),
		policies: builtinPolicies[V](),
		clock:    clock,
		logger:   logger.With("component", "hierarchy"),
	}
}

// AddPolicy registers or replaces a named policy.
func (h *Hierarchy[V]) AddPolicy(p Policy[V]) error {
	if err := p.Validate(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.policies[p.Name] = p
	return nil
}

// RemovePolicy unregisters a policy. Removing an unknown name is a no-op.
func (h *Hierarchy[V]) RemovePolicy(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.policies, name)
}

// Get probes the tiers in order under the named policy. The boolean result
// is false on a miss in both tiers; misses are not errors.
func (h *Hierarchy[V]) Get(key, policyName string) (V, bool, error) {
	var zero V

	h.mu.Lock()
	defer h.mu.Unlock()

	policy, ok := h.policies[policyName]
	if !ok {
		return zero, false, errors.NewError(errors.ErrCodePolicyNotFound, "policy not registered").
			WithComponent("hierarchy").
			WithContext("policy", policyName)
	}

	now := h.clock.Now()

	if entry, ok := h.memory[key]; ok {
		if entry.Expired(now) {
			delete(h.memory, key)
		} else {
			entry.Touch(now)
			if policy.OnHit != nil {
				policy.OnHit(key)
			}
			return entry.Value, true, nil
		}
	}

	if entry, ok := h.storage[key]; ok && entry.Expired(now) {
		delete(h.storage, key)
	} else if ok {
		entry.Touch(now)
		// Promote a copy into the hot tier if the policy admits it.
		if policy.ShouldCache(key, entry.Value) {
			promoted := *entry
			h.memory[key] = &promoted
		}
		if policy.OnHit != nil {
			policy.OnHit(key)
		}
		return entry.Value, true, nil
	}

	if policy.OnMiss != nil {
		policy.OnMiss(key)
	}
	return zero, false, nil
}

// Set writes a value into the tiers selected by the policy's priority band.
// A rejection by ShouldCache is a silent no-op.
func (h *Hierarchy[V]) Set(key string, value V, policyName string) error {
	return h.SetWithExpiry(key, value, policyName, time.Time{})
}

// SetWithExpiry is Set with an absolute expiry carried into the tier
// entries, so the fast path never serves a value past its TTL. A zero
// expiresAt means no expiry.
func (h *Hierarchy[V]) SetWithExpiry(key string, value V, policyName string, expiresAt time.Time) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	policy, ok := h.policies[policyName]
	if !ok {
		return errors.NewError(errors.ErrCodePolicyNotFound, "policy not registered").
			WithComponent("hierarchy").
			WithContext("policy", policyName)
	}

	if !policy.ShouldCache(key, value) {
		return nil
	}

	now := h.clock.Now()
	build := func() *Entry[V] {
		return &Entry[V]{
			Key:            key,
			Value:          value,
			CreatedAt:      now,
			ExpiresAt:      expiresAt,
			LastAccessedAt: now,
			AccessCount:    0,
		}
	}

	if policy.Priority <= HotBandMax {
		h.memory[key] = build()
	}
	if policy.Priority <= DurableBandMax {
		h.storage[key] = build()
	}
	return nil
}

// Evict removes every entry in every tier that the named policy deems
// evictable. This is a maintenance primitive, not a per-request operation.
func (h *Hierarchy[V]) Evict(policyName string) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	policy, ok := h.policies[policyName]
	if !ok {
		return 0, errors.NewError(errors.ErrCodePolicyNotFound, "policy not registered").
			WithComponent("hierarchy").
			WithContext("policy", policyName)
	}

	now := h.clock.Now()
	removed := 0
	for _, tier := range []map[string]*Entry[V]{h.memory, h.storage} {
		for key, entry := range tier {
			if policy.ShouldEvict(entry, now) {
				delete(tier, key)
				removed++
			}
		}
	}
	return removed, nil
}

// EvictAll runs Evict for every registered policy and returns the total
// number of removed entries.
func (h *Hierarchy[V]) EvictAll() int {
	h.mu.RLock()
	names := make([]string, 0, len(h.policies))
	for name := range h.policies {
		names = append(names, name)
	}
	h.mu.RUnlock()

	total := 0
	for _, name := range names {
		n, err := h.Evict(name)
		if err != nil {
			continue // policy removed concurrently
		}
		total += n
	}
	return total
}

// Remove drops a key from every tier.
func (h *Hierarchy[V]) Remove(key string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.memory, key)
	delete(h.storage, key)
}

// RemovePrefix drops every key with the given prefix from every tier. The
// service namespaces hierarchy keys per cache, so clearing one cache clears
// exactly its prefix.
func (h *Hierarchy[V]) RemovePrefix(prefix string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, tier := range []map[string]*Entry[V]{h.memory, h.storage} {
		for key := range tier {
			if strings.HasPrefix(key, prefix) {
				delete(tier, key)
			}
		}
	}
}

// Len returns the entry count per tier, memory first.
func (h *Hierarchy[V]) Len() (int, int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.memory), len(h.storage)
}
