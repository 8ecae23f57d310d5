// Package health tracks the health of cache subsystem components and the
// overall degradation level: a failing durable store downgrades the
// subsystem to degraded (memory-only) rather than unavailable.
package health

import (
	"sync"
	"time"
)

// State represents the health state of a component
type State int

const (
	// StateHealthy indicates the component is fully operational
	StateHealthy State = iota

	// StateDegraded indicates the component is failing intermittently
	StateDegraded

	// StateUnavailable indicates the component is not operational
	StateUnavailable
)

// String returns the string representation of a health state
func (s State) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateDegraded:
		return "degraded"
	case StateUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// ComponentHealth is a snapshot of one component's health
type ComponentHealth struct {
	Name              string    `json:"name"`
	State             State     `json:"state"`
	LastStateChange   time.Time `json:"last_state_change"`
	ConsecutiveErrors int       `json:"consecutive_errors"`
	LastErrorMessage  string    `json:"last_error_message,omitempty"`
}

// StateChangeCallback is invoked when a component changes state
type StateChangeCallback func(component string, oldState, newState State)

// TrackerConfig configures health tracking behavior
type TrackerConfig struct {
	// DegradedThreshold is the number of consecutive errors before marking
	// a component degraded
	DegradedThreshold int `yaml:"degraded_threshold"`

	// UnavailableThreshold is the number of consecutive errors before
	// marking a component unavailable
	UnavailableThreshold int `yaml:"unavailable_threshold"`

	// RecoveryThreshold is the number of consecutive successes to recover
	RecoveryThreshold int `yaml:"recovery_threshold"`
}

// DefaultConfig returns the default tracker configuration
func DefaultConfig() TrackerConfig {
	return TrackerConfig{
		DegradedThreshold:    3,
		UnavailableThreshold: 10,
		RecoveryThreshold:    2,
	}
}

// Tracker tracks component health and derives overall subsystem health
type Tracker struct {
	mu         sync.RWMutex
	components map[string]*componentState
	config     TrackerConfig
	callbacks  []StateChangeCallback
}

type componentState struct {
	health    ComponentHealth
	successes int
}

// NewTracker creates a health tracker
func NewTracker(config TrackerConfig) *Tracker {
	if config.DegradedThreshold <= 0 {
		config.DegradedThreshold = DefaultConfig().DegradedThreshold
	}
	if config.UnavailableThreshold <= 0 {
		config.UnavailableThreshold = DefaultConfig().UnavailableThreshold
	}
	if config.RecoveryThreshold <= 0 {
		config.RecoveryThreshold = DefaultConfig().RecoveryThreshold
	}
	return &Tracker{
		components: make(map[string]*componentState),
		config:     config,
	}
}

// RegisterComponent starts tracking a component as healthy
func (t *Tracker) RegisterComponent(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.components[name]; exists {
		return
	}
	t.components[name] = &componentState{
		health: ComponentHealth{
			Name:            name,
			State:           StateHealthy,
			LastStateChange: time.Now(),
		},
	}
}

// RecordSuccess records a successful operation for a component
func (t *Tracker) RecordSuccess(component string) {
	t.mu.Lock()
	cs, ok := t.components[component]
	if !ok {
		t.mu.Unlock()
		return
	}

	cs.health.ConsecutiveErrors = 0
	cs.health.LastErrorMessage = ""
	cs.successes++

	var transition *stateTransition
	if cs.health.State != StateHealthy && cs.successes >= t.config.RecoveryThreshold {
		transition = t.transitionLocked(cs, StateHealthy)
	}
	t.mu.Unlock()

	t.notify(component, transition)
}

// RecordError records a failed operation for a component
func (t *Tracker) RecordError(component string, err error) {
	t.mu.Lock()
	cs, ok := t.components[component]
	if !ok {
		t.mu.Unlock()
		return
	}

	cs.successes = 0
	cs.health.ConsecutiveErrors++
	if err != nil {
		cs.health.LastErrorMessage = err.Error()
	}

	var transition *stateTransition
	switch {
	case cs.health.ConsecutiveErrors >= t.config.UnavailableThreshold:
		transition = t.transitionLocked(cs, StateUnavailable)
	case cs.health.ConsecutiveErrors >= t.config.DegradedThreshold:
		transition = t.transitionLocked(cs, StateDegraded)
	}
	t.mu.Unlock()

	t.notify(component, transition)
}

// SetState forces a component into a state, bypassing the thresholds. Used
// when an external signal such as a circuit breaker already made the call.
func (t *Tracker) SetState(component string, state State) {
	t.mu.Lock()
	cs, ok := t.components[component]
	if !ok {
		t.mu.Unlock()
		return
	}
	transition := t.transitionLocked(cs, state)
	t.mu.Unlock()

	t.notify(component, transition)
}

// GetState returns a component's current state, or StateUnavailable for an
// unknown component
func (t *Tracker) GetState(component string) State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	cs, ok := t.components[component]
	if !ok {
		return StateUnavailable
	}
	return cs.health.State
}

// GetComponentHealth returns a snapshot of one component's health
func (t *Tracker) GetComponentHealth(component string) (ComponentHealth, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	cs, ok := t.components[component]
	if !ok {
		return ComponentHealth{}, false
	}
	return cs.health, true
}

// GetAllComponents returns snapshots for every tracked component
func (t *Tracker) GetAllComponents() map[string]ComponentHealth {
	t.mu.RLock()
	defer t.mu.RUnlock()
	result := make(map[string]ComponentHealth, len(t.components))
	for name, cs := range t.components {
		result[name] = cs.health
	}
	return result
}

// GetOverallHealth returns the worst state across all components
func (t *Tracker) GetOverallHealth() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	overall := StateHealthy
	for _, cs := range t.components {
		if cs.health.State > overall {
			overall = cs.health.State
		}
	}
	return overall
}

// IsHealthy reports whether a component is fully operational
func (t *Tracker) IsHealthy(component string) bool {
	return t.GetState(component) == StateHealthy
}

// AddStateChangeCallback registers a callback for state transitions
func (t *Tracker) AddStateChangeCallback(callback StateChangeCallback) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.callbacks = append(t.callbacks, callback)
}

type stateTransition struct {
	old State
	new State
}

// transitionLocked changes a component's state. Callers hold t.mu.
func (t *Tracker) transitionLocked(cs *componentState, newState State) *stateTransition {
	if cs.health.State == newState {
		return nil
	}
	old := cs.health.State
	cs.health.State = newState
	cs.health.LastStateChange = time.Now()
	cs.successes = 0
	return &stateTransition{old: old, new: newState}
}

func (t *Tracker) notify(component string, transition *stateTransition) {
	if transition == nil {
		return
	}
	t.mu.RLock()
	callbacks := make([]StateChangeCallback, len(t.callbacks))
	copy(callbacks, t.callbacks)
	t.mu.RUnlock()

	for _, cb := range callbacks {
		cb(component, transition.old, transition.new)
	}
}
