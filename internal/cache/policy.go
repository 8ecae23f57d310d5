package cache

import (
	"time"

	"github.com/poolcache/poolcache/pkg/errors"
)

// Priority bands for the two-tier hierarchy. A policy with priority in the
// hot band writes to both tiers; one in the durable band writes only to the
// durable tier; priorities beyond the durable band are admitted nowhere.
const (
	// MinPriority is the highest-precedence priority a policy may carry.
	MinPriority = 1
	// HotBandMax is the largest priority still written to the memory tier.
	HotBandMax = 2
	// DurableBandMax is the largest priority still written to the durable tier.
	DurableBandMax = 3
)

// Policy governs admission, retention, and eviction eligibility for entries
// flowing through the hierarchy. Policies are looked up by name at call
// time; referencing an unregistered name is a configuration error.
type Policy[V any] struct {
	Name     string
	Priority int

	// ShouldCache decides whether a value is admitted at all.
	ShouldCache func(key string, value V) bool

	// ShouldEvict decides whether an entry is eligible for removal during a
	// maintenance sweep.
	ShouldEvict func(entry *Entry[V], now time.Time) bool

	// OnHit and OnMiss are optional telemetry hooks.
	OnHit  func(key string)
	OnMiss func(key string)
}

// Validate checks the policy is well formed.
func (p Policy[V]) Validate() error {
	if p.Name == "" {
		return errors.NewError(errors.ErrCodeInvalidConfig, "policy name must not be empty")
	}
	if p.Priority < MinPriority {
		return errors.NewError(errors.ErrCodeInvalidConfig, "policy priority below minimum").
			WithContext("policy", p.Name)
	}
	if p.ShouldCache == nil || p.ShouldEvict == nil {
		return errors.NewError(errors.ErrCodeInvalidConfig, "policy must define ShouldCache and ShouldEvict").
			WithContext("policy", p.Name)
	}
	return nil
}

// Built-in policy names, registered on every hierarchy.
const (
	PolicyCritical  = "critical"
	PolicyFrequent  = "frequent"
	PolicyTemporary = "temporary"
)

func builtinPolicies[V any]() map[string]Policy[V] {
	always := func(string, V) bool { return true }

	return map[string]Policy[V]{
		PolicyCritical: {
			Name:        PolicyCritical,
			Priority:    1,
			ShouldCache: always,
			ShouldEvict: func(*Entry[V], time.Time) bool { return false },
		},
		PolicyFrequent: {
			Name:        PolicyFrequent,
			Priority:    2,
			ShouldCache: always,
			ShouldEvict: func(e *Entry[V], now time.Time) bool {
				return e.AccessCount < 5 && e.Age(now) > time.Hour
			},
		},
		PolicyTemporary: {
			Name:        PolicyTemporary,
			Priority:    3,
			ShouldCache: always,
			ShouldEvict: func(e *Entry[V], now time.Time) bool {
				return e.Age(now) > 5*time.Minute
			},
		},
	}
}
