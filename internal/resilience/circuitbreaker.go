// Package resilience keeps the turn pipeline answering while its outbound
// providers misbehave. A caller holding a phone cannot wait out retries, so
// the breaker fails fast: once a provider (LLM backend, SMS gateway,
// calendar endpoint) trips its [Breaker], calls skip straight to the next
// entry in the [Chain] and the reply still lands inside the turn budget.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrBreakerOpen is returned by [Breaker.Do] while the breaker is open and
// the cooldown has not elapsed.
var ErrBreakerOpen = errors.New("resilience: breaker open")

// BreakerState is the breaker's operating mode.
type BreakerState int

const (
	// BreakerClosed forwards every call.
	BreakerClosed BreakerState = iota

	// BreakerOpen rejects calls with [ErrBreakerOpen] until the cooldown
	// elapses.
	BreakerOpen

	// BreakerHalfOpen lets a bounded number of trial calls through after
	// the cooldown; their outcome decides between closing and re-opening.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a [Breaker]. Zero values take defaults.
type BreakerConfig struct {
	// Name labels the breaker in logs ("openai", "twilio", ...).
	Name string

	// FailureThreshold is how many consecutive failures trip the breaker.
	// Default: 5.
	FailureThreshold int

	// Cooldown is how long a tripped breaker rejects calls before probing
	// again. Default: 30s.
	Cooldown time.Duration

	// TrialQuota is how many trial calls the half-open state allows; that
	// many successes close the breaker. Default: 3.
	TrialQuota int
}

// Breaker is a three-state circuit breaker (closed, open, half-open).
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	quota     int
	log       *slog.Logger

	// now is a clock hook for tests.
	now func() time.Time

	mu         sync.Mutex
	state      BreakerState
	failures   int
	trippedAt  time.Time
	trials     int
	trialFails int
}

// NewBreaker builds a closed [Breaker] from cfg.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.TrialQuota <= 0 {
		cfg.TrialQuota = 3
	}
	return &Breaker{
		name:      cfg.Name,
		threshold: cfg.FailureThreshold,
		cooldown:  cfg.Cooldown,
		quota:     cfg.TrialQuota,
		log:       slog.Default(),
		now:       time.Now,
		state:     BreakerClosed,
	}
}

// Do runs fn unless the breaker is open. Half-open admits at most the trial
// quota; any trial failure re-opens immediately.
func (b *Breaker) Do(fn func() error) error {
	b.mu.Lock()
	switch b.state {
	case BreakerOpen:
		if b.now().Sub(b.trippedAt) < b.cooldown {
			b.mu.Unlock()
			return ErrBreakerOpen
		}
		b.state = BreakerHalfOpen
		b.trials = 0
		b.trialFails = 0
		b.log.Info("breaker half-open, admitting trial calls", "provider", b.name)

	case BreakerHalfOpen:
		if b.trials >= b.quota {
			b.mu.Unlock()
			return ErrBreakerOpen
		}
	}

	trial := b.state == BreakerHalfOpen
	if trial {
		b.trials++
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.onFailure(trial)
	} else {
		b.onSuccess(trial)
	}
	return err
}

// onFailure runs with b.mu held.
func (b *Breaker) onFailure(trial bool) {
	b.trippedAt = b.now()

	if trial {
		b.trialFails++
		b.state = BreakerOpen
		b.failures = b.threshold
		b.log.Warn("breaker re-opened by failed trial call", "provider", b.name)
		return
	}

	b.failures++
	if b.failures >= b.threshold {
		b.state = BreakerOpen
		b.log.Warn("breaker tripped",
			"provider", b.name, "consecutiveFailures", b.failures)
	}
}

// onSuccess runs with b.mu held.
func (b *Breaker) onSuccess(trial bool) {
	if !trial {
		b.failures = 0
		return
	}
	if b.trials-b.trialFails >= b.quota {
		b.state = BreakerClosed
		b.failures = 0
		b.trials = 0
		b.trialFails = 0
		b.log.Info("breaker closed after clean trial calls", "provider", b.name)
	}
}

// State reports the effective state: an open breaker past its cooldown
// reads as half-open (the transition itself happens on the next [Do]).
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerOpen && b.now().Sub(b.trippedAt) >= b.cooldown {
		return BreakerHalfOpen
	}
	return b.state
}

// Reset forces the breaker closed and clears all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = BreakerClosed
	b.failures = 0
	b.trials = 0
	b.trialFails = 0
	b.log.Info("breaker manually reset", "provider", b.name)
}
