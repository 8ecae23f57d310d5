// Package circuit provides a circuit breaker for the durable-store side
// channel. Persistence is best-effort: when the blob store fails repeatedly
// the breaker opens and snapshot writes are skipped until the store has had
// time to recover, so cache writes never stall behind a dead collaborator.
package circuit

import (
	"sync"
	"time"

	"github.com/poolcache/poolcache/pkg/errors"
)

// State represents the breaker state.
type State int

const (
	// StateClosed allows requests through.
	StateClosed State = iota
	// StateOpen rejects requests outright.
	StateOpen
	// StateHalfOpen admits a probe request to test recovery.
	StateHalfOpen
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config contains breaker configuration.
type Config struct {
	// FailureThreshold is the number of consecutive failures that trips the
	// breaker.
	FailureThreshold int `yaml:"failure_threshold"`

	// CoolDown is how long the breaker stays open before probing again.
	CoolDown time.Duration `yaml:"cool_down"`

	// OnStateChange is called when the state changes.
	OnStateChange func(name string, from, to State) `yaml:"-"`
}

// Breaker implements the circuit breaker pattern around a single
// collaborator.
type Breaker struct {
	name   string
	config Config

	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	openedAt            time.Time
}

// New creates a breaker, applying defaults for zero values.
func New(name string, config Config) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.CoolDown <= 0 {
		config.CoolDown = 30 * time.Second
	}
	return &Breaker{
		name:   name,
		config: config,
		state:  StateClosed,
	}
}

// Execute runs fn if the breaker admits it and records the outcome. When the
// breaker is open it returns a BREAKER_OPEN error without invoking fn.
func (b *Breaker) Execute(fn func() error) error {
	if err := b.beforeRequest(); err != nil {
		return err
	}

	err := fn()
	b.afterRequest(err == nil)
	return err
}

// State returns the current state, accounting for cool-down expiry.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpen()
	return b.state
}

func (b *Breaker) beforeRequest() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.maybeHalfOpen()

	if b.state == StateOpen {
		return errors.NewError(errors.ErrCodeBreakerOpen, "durable store breaker is open").
			WithComponent(b.name)
	}
	return nil
}

func (b *Breaker) afterRequest(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if success {
		b.consecutiveFailures = 0
		b.transition(StateClosed)
		return
	}

	b.consecutiveFailures++
	if b.state == StateHalfOpen || b.consecutiveFailures >= b.config.FailureThreshold {
		b.openedAt = time.Now()
		b.transition(StateOpen)
	}
}

// maybeHalfOpen moves an expired open breaker to half-open. Callers hold the
// lock.
func (b *Breaker) maybeHalfOpen() {
	if b.state == StateOpen && time.Since(b.openedAt) >= b.config.CoolDown {
		b.transition(StateHalfOpen)
	}
}

func (b *Breaker) transition(to State) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	if b.config.OnStateChange != nil {
		b.config.OnStateChange(b.name, from, to)
	}
}
