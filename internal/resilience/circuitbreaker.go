// Package resilience guards the embeddings providers behind the memory tools.
//
// A [Breaker] stops calling a backend after repeated failures and probes it
// again once a cool-down has passed. [Group] chains several backends of one
// type, each behind its own breaker, and [EmbeddingsFallback] applies that to
// [embeddings.Provider].
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [Breaker.Do] while the breaker rejects calls.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// State is the operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the cool-down ends.
	StateOpen

	// StateHalfOpen lets a bounded number of probe calls through. A failed
	// probe re-opens the breaker; enough successful probes close it.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a [Breaker]. Zero fields take their defaults.
type BreakerConfig struct {
	// Name labels log lines and state-change callbacks.
	Name string

	// MaxFailures is the run of consecutive failures that opens the breaker.
	// Default: 5.
	MaxFailures int

	// Cooldown is how long an open breaker waits before probing. Default: 30s.
	Cooldown time.Duration

	// Probes is how many successful half-open calls close the breaker.
	// Default: 1.
	Probes int

	// OnStateChange, if set, is called after every transition with the lock
	// released.
	OnStateChange func(name string, from, to State)
}

// Breaker is a three-state circuit breaker.
type Breaker struct {
	cfg BreakerConfig
	now func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	inFlight int
	passed   int
}

// NewBreaker returns a closed [Breaker].
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.Probes <= 0 {
		cfg.Probes = 1
	}
	return &Breaker{cfg: cfg, now: time.Now}
}

// Do runs fn unless the breaker is open, and records its outcome. Context
// cancellation by the caller is not counted as a backend failure.
func (b *Breaker) Do(fn func() error) error {
	probe, err := b.admit()
	if err != nil {
		return err
	}
	err = fn()
	b.record(probe, err)
	return err
}

// State reports the current state. An open breaker whose cool-down has
// passed reports [StateHalfOpen]; the transition itself happens on the next
// call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.cooled() {
		return StateHalfOpen
	}
	return b.state
}

// Reset closes the breaker and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.state, b.failures, b.inFlight, b.passed = StateClosed, 0, 0, 0
	b.mu.Unlock()
	b.notify(from, StateClosed)
}

func (b *Breaker) cooled() bool {
	return b.now().Sub(b.openedAt) >= b.cfg.Cooldown
}

// admit decides whether a call may proceed and whether it is a probe.
func (b *Breaker) admit() (probe bool, err error) {
	b.mu.Lock()
	from := b.state
	switch b.state {
	case StateOpen:
		if !b.cooled() {
			b.mu.Unlock()
			return false, ErrCircuitOpen
		}
		b.state, b.inFlight, b.passed = StateHalfOpen, 0, 0
	case StateHalfOpen:
		if b.inFlight >= b.cfg.Probes {
			b.mu.Unlock()
			return false, ErrCircuitOpen
		}
	}
	probe = b.state == StateHalfOpen
	if probe {
		b.inFlight++
	}
	to := b.state
	b.mu.Unlock()

	b.notify(from, to)
	return probe, nil
}

func (b *Breaker) record(probe bool, err error) {
	b.mu.Lock()
	from := b.state
	switch {
	case errors.Is(err, errCallerGone):
		if probe && b.state == StateHalfOpen {
			b.inFlight--
		}
	case probe && b.state != StateHalfOpen:
		// Another probe already decided the outcome.
	case probe && err != nil:
		b.trip()
	case probe:
		b.passed++
		if b.passed >= b.cfg.Probes {
			b.state, b.failures = StateClosed, 0
		}
	case err != nil:
		b.failures++
		if b.failures >= b.cfg.MaxFailures && b.state == StateClosed {
			b.trip()
		}
	default:
		b.failures = 0
	}
	to := b.state
	b.mu.Unlock()

	b.notify(from, to)
}

// trip opens the breaker. Must be called with b.mu held.
func (b *Breaker) trip() {
	b.state = StateOpen
	b.openedAt = b.now()
	b.inFlight, b.passed = 0, 0
}

func (b *Breaker) notify(from, to State) {
	if from == to {
		return
	}
	slog.Info("circuit breaker state changed", "name", b.cfg.Name, "from", from, "to", to)
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.cfg.Name, from, to)
	}
}
