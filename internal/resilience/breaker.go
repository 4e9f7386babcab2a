// Package resilience keeps a call alive when one of its speech or language
// backends misbehaves. Each backend sits behind a [Breaker] and a [Group]
// tries backends in priority order until one answers.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when a breaker is rejecting calls.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// State is the position of a [Breaker].
type State int

const (
	// StateClosed passes every call through.
	StateClosed State = iota
	// StateOpen rejects calls until the cool-down elapses.
	StateOpen
	// StateHalfOpen lets a limited number of probe calls through.
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
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// BreakerConfig tunes a [Breaker]. Zero fields take defaults.
type BreakerConfig struct {
	// Name labels the breaker in logs and metrics.
	Name string

	// Threshold is the number of consecutive failures that opens the
	// breaker. Default 5.
	Threshold int

	// Cooldown is how long the breaker stays open before probing.
	// Default 30s.
	Cooldown time.Duration

	// Probes is the number of successes required in half-open before the
	// breaker closes again. Default 2.
	Probes int

	// OnStateChange, if set, is called (without the breaker lock held)
	// whenever the state moves.
	OnStateChange func(name string, from, to State)
}

// Breaker is a three-state circuit breaker. Safe for concurrent use.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	probes    int
	notify    func(string, State, State)
	now       func() time.Time

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	inFlight  int
	openedAt  time.Time
}

// NewBreaker builds a closed [Breaker].
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.Probes <= 0 {
		cfg.Probes = 2
	}
	return &Breaker{
		name:      cfg.Name,
		threshold: cfg.Threshold,
		cooldown:  cfg.Cooldown,
		probes:    cfg.Probes,
		notify:    cfg.OnStateChange,
		now:       time.Now,
	}
}

// Name returns the configured label.
func (b *Breaker) Name() string { return b.name }

// State reports the current state, promoting open to half-open once the
// cool-down has passed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Do runs fn if the breaker admits it and records the outcome. Errors
// caused by ctx ending are passed through without counting as failures,
// since a hung-up caller says nothing about backend health.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := fn(ctx)
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		b.release()
		return err
	}
	b.record(err)
	return err
}

// Reset forces the breaker closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.state = StateClosed
	b.failures, b.successes, b.inFlight = 0, 0, 0
	b.mu.Unlock()
	b.changed(from, StateClosed)
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	from := b.state
	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			b.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrCircuitOpen, b.name)
		}
		b.state = StateHalfOpen
		b.successes, b.inFlight = 0, 0
	case StateHalfOpen:
		if b.inFlight >= b.probes {
			b.mu.Unlock()
			return fmt.Errorf("%w: %s (probing)", ErrCircuitOpen, b.name)
		}
	}
	if b.state == StateHalfOpen {
		b.inFlight++
	}
	to := b.state
	b.mu.Unlock()
	b.changed(from, to)
	return nil
}

func (b *Breaker) release() {
	b.mu.Lock()
	if b.state == StateHalfOpen && b.inFlight > 0 {
		b.inFlight--
	}
	b.mu.Unlock()
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	from := b.state
	switch b.state {
	case StateClosed:
		if err == nil {
			b.failures = 0
			break
		}
		b.failures++
		if b.failures >= b.threshold {
			b.trip()
		}
	case StateHalfOpen:
		if b.inFlight > 0 {
			b.inFlight--
		}
		if err != nil {
			b.trip()
			break
		}
		b.successes++
		if b.successes >= b.probes {
			b.state = StateClosed
			b.failures, b.successes = 0, 0
		}
	}
	to := b.state
	b.mu.Unlock()
	b.changed(from, to)
}

// trip must be called with mu held.
func (b *Breaker) trip() {
	b.state = StateOpen
	b.openedAt = b.now()
	b.failures, b.successes, b.inFlight = 0, 0, 0
}

func (b *Breaker) changed(from, to State) {
	if from != to && b.notify != nil {
		b.notify(b.name, from, to)
	}
}
