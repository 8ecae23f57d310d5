package cache

import (
	"testing"
	"time"

	"github.com/poolcache/poolcache/pkg/errors"
)

// fakeClock lets tests advance time without sleeping.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func TestHierarchySetBands(t *testing.T) {
	tests := []struct {
		policy      string
		wantMemory  bool
		wantStorage bool
	}{
		{PolicyCritical, true, true},
		{PolicyFrequent, true, true},
		{PolicyTemporary, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.policy, func(t *testing.T) {
			h := NewHierarchy[string](newFakeClock(), nil)
			if err := h.Set("k", "v", tt.policy); err != nil {
				t.Fatalf("Set: %v", err)
			}

			_, inMemory := h.memory["k"]
			_, inStorage := h.storage["k"]
			if inMemory != tt.wantMemory {
				t.Errorf("memory tier presence = %v, want %v", inMemory, tt.wantMemory)
			}
			if inStorage != tt.wantStorage {
				t.Errorf("storage tier presence = %v, want %v", inStorage, tt.wantStorage)
			}
		})
	}
}

func TestHierarchyUnknownPolicy(t *testing.T) {
	h := NewHierarchy[string](newFakeClock(), nil)

	if err := h.Set("k", "v", "nope"); errors.CodeOf(err) != errors.ErrCodePolicyNotFound {
		t.Errorf("Set with unknown policy: got %v, want POLICY_NOT_FOUND", err)
	}
	if _, _, err := h.Get("k", "nope"); errors.CodeOf(err) != errors.ErrCodePolicyNotFound {
		t.Errorf("Get with unknown policy: got %v, want POLICY_NOT_FOUND", err)
	}
	if _, err := h.Evict("nope"); errors.CodeOf(err) != errors.ErrCodePolicyNotFound {
		t.Errorf("Evict with unknown policy: got %v, want POLICY_NOT_FOUND", err)
	}
}

func TestHierarchyGetMissIsNotError(t *testing.T) {
	h := NewHierarchy[string](newFakeClock(), nil)

	value, ok, err := h.Get("absent", PolicyCritical)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected miss")
	}
	if value != "" {
		t.Errorf("expected zero value, got %q", value)
	}
}

func TestHierarchyPromotionFromDurableTier(t *testing.T) {
	h := NewHierarchy[string](newFakeClock(), nil)

	// temporary writes only to the durable tier
	if err := h.Set("k", "v", PolicyTemporary); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, ok := h.memory["k"]; ok {
		t.Fatal("precondition: key must not be in memory tier")
	}

	value, ok, err := h.Get("k", PolicyTemporary)
	if err != nil || !ok {
		t.Fatalf("Get = (%v, %v), want hit", err, ok)
	}
	if value != "v" {
		t.Errorf("Get = %q, want %q", value, "v")
	}

	// hit in durable tier promotes a copy into the memory tier
	if _, ok := h.memory["k"]; !ok {
		t.Error("expected promotion into memory tier after durable hit")
	}
}

func TestHierarchyHooks(t *testing.T) {
	h := NewHierarchy[string](newFakeClock(), nil)

	var hits, misses []string
	err := h.AddPolicy(Policy[string]{
		Name:        "observed",
		Priority:    1,
		ShouldCache: func(string, string) bool { return true },
		ShouldEvict: func(*Entry[string], time.Time) bool { return false },
		OnHit:       func(key string) { hits = append(hits, key) },
		OnMiss:      func(key string) { misses = append(misses, key) },
	})
	if err != nil {
		t.Fatalf("AddPolicy: %v", err)
	}

	if _, _, err := h.Get("a", "observed"); err != nil {
		t.Fatal(err)
	}
	if err := h.Set("a", "1", "observed"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := h.Get("a", "observed"); err != nil {
		t.Fatal(err)
	}

	if len(misses) != 1 || misses[0] != "a" {
		t.Errorf("misses = %v, want [a]", misses)
	}
	if len(hits) != 1 || hits[0] != "a" {
		t.Errorf("hits = %v, want [a]", hits)
	}
}

func TestHierarchyShouldCacheRejection(t *testing.T) {
	h := NewHierarchy[string](newFakeClock(), nil)

	err := h.AddPolicy(Policy[string]{
		Name:        "selective",
		Priority:    1,
		ShouldCache: func(key string, _ string) bool { return key != "skip" },
		ShouldEvict: func(*Entry[string], time.Time) bool { return false },
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := h.Set("skip", "v", "selective"); err != nil {
		t.Fatalf("rejection must be a no-op, got %v", err)
	}
	if _, ok, _ := h.Get("skip", "selective"); ok {
		t.Error("rejected value must not be stored")
	}
}

func TestHierarchyEvictByPolicy(t *testing.T) {
	clk := newFakeClock()
	h := NewHierarchy[string](clk, nil)

	if err := h.Set("tmp", "v", PolicyTemporary); err != nil {
		t.Fatal(err)
	}
	if err := h.Set("crit", "v", PolicyCritical); err != nil {
		t.Fatal(err)
	}

	// temporary entries are evictable once older than 5 minutes
	clk.Advance(6 * time.Minute)

	removed, err := h.Evict(PolicyTemporary)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Errorf("Evict removed %d entries, want 1", removed)
	}
	if _, ok, _ := h.Get("tmp", PolicyTemporary); ok {
		t.Error("expected temporary entry to be gone")
	}
	if _, ok, _ := h.Get("crit", PolicyCritical); !ok {
		t.Error("critical entries are never evicted")
	}
}

func TestHierarchyFrequentEvictionRules(t *testing.T) {
	clk := newFakeClock()
	h := NewHierarchy[string](clk, nil)

	if err := h.Set("cold", "v", PolicyFrequent); err != nil {
		t.Fatal(err)
	}
	if err := h.Set("warm", "v", PolicyFrequent); err != nil {
		t.Fatal(err)
	}
	// warm accumulates enough accesses to survive
	for i := 0; i < 5; i++ {
		if _, ok, _ := h.Get("warm", PolicyFrequent); !ok {
			t.Fatal("expected hit while warming")
		}
	}

	clk.Advance(2 * time.Hour)

	if _, err := h.Evict(PolicyFrequent); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := h.Get("cold", PolicyFrequent); ok {
		t.Error("rarely-accessed old entry should be evicted")
	}
	if _, ok, _ := h.Get("warm", PolicyFrequent); !ok {
		t.Error("frequently-accessed entry should survive")
	}
}

func TestHierarchyAddPolicyValidation(t *testing.T) {
	h := NewHierarchy[string](newFakeClock(), nil)

	err := h.AddPolicy(Policy[string]{
		Name:        "zero",
		Priority:    0,
		ShouldCache: func(string, string) bool { return true },
		ShouldEvict: func(*Entry[string], time.Time) bool { return false },
	})
	if errors.CodeOf(err) != errors.ErrCodeInvalidConfig {
		t.Errorf("expected INVALID_CONFIG for priority below minimum, got %v", err)
	}
}

func TestHierarchyRemoveAndPrefix(t *testing.T) {
	h := NewHierarchy[string](newFakeClock(), nil)

	for _, key := range []string{"api:k1", "api:k2", "img:k1"} {
		if err := h.Set(key, "v", PolicyCritical); err != nil {
			t.Fatal(err)
		}
	}

	h.Remove("api:k1")
	if _, ok, _ := h.Get("api:k1", PolicyCritical); ok {
		t.Error("removed key still present")
	}

	h.RemovePrefix("api:")
	if _, ok, _ := h.Get("api:k2", PolicyCritical); ok {
		t.Error("prefix removal missed a key")
	}
	if _, ok, _ := h.Get("img:k1", PolicyCritical); !ok {
		t.Error("prefix removal removed an unrelated key")
	}
}
