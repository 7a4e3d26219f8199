package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrProvidersExhausted is returned when every entry in a [Chain] failed or
// sat behind an open breaker.
var ErrProvidersExhausted = errors.New("resilience: all providers exhausted")

// FallbackConfig configures the per-entry breaker created for each provider
// in a [Chain].
type FallbackConfig struct {
	Breaker BreakerConfig
}

// chainEntry pairs a provider with its dedicated breaker.
type chainEntry[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// Chain orders a primary and its fallbacks of one provider type. Each entry
// carries its own [Breaker]; a failing or tripped primary is bypassed in
// favour of the next healthy entry, in registration order.
//
// Chain is safe for concurrent use once registration is done.
type Chain[T any] struct {
	entries []chainEntry[T]
	cfg     FallbackConfig
}

// NewChain builds a [Chain] with primary as the first entry.
func NewChain[T any](primary T, primaryName string, cfg FallbackConfig) *Chain[T] {
	bc := cfg.Breaker
	bc.Name = primaryName
	return &Chain[T]{
		entries: []chainEntry[T]{{
			name:    primaryName,
			value:   primary,
			breaker: NewBreaker(bc),
		}},
		cfg: cfg,
	}
}

// AddFallback appends a fallback provider, tried after everything already
// registered.
func (c *Chain[T]) AddFallback(name string, fallback T) {
	bc := c.cfg.Breaker
	bc.Name = name
	c.entries = append(c.entries, chainEntry[T]{
		name:    name,
		value:   fallback,
		breaker: NewBreaker(bc),
	})
}

// Execute tries fn against each entry in order until one succeeds. Entries
// behind an open breaker are skipped. Returns [ErrProvidersExhausted]
// wrapping the last error when none succeed.
func (c *Chain[T]) Execute(fn func(T) error) error {
	var lastErr error
	for i := range c.entries {
		entry := &c.entries[i]
		err := entry.breaker.Do(func() error {
			return fn(entry.value)
		})
		if err == nil {
			return nil
		}
		lastErr = err
		logChainMiss(entry.name, err)
	}
	return fmt.Errorf("%w: %v", ErrProvidersExhausted, lastErr)
}

// ChainResult tries fn against each entry until one succeeds and returns its
// result. A package-level function because Go has no method-level type
// parameters.
func ChainResult[T any, R any](c *Chain[T], fn func(T) (R, error)) (R, error) {
	var (
		lastErr error
		zero    R
	)
	for i := range c.entries {
		entry := &c.entries[i]
		var result R
		err := entry.breaker.Do(func() error {
			var innerErr error
			result, innerErr = fn(entry.value)
			return innerErr
		})
		if err == nil {
			return result, nil
		}
		lastErr = err
		logChainMiss(entry.name, err)
	}
	return zero, fmt.Errorf("%w: %v", ErrProvidersExhausted, lastErr)
}

func logChainMiss(name string, err error) {
	if errors.Is(err, ErrBreakerOpen) {
		slog.Debug("provider skipped, breaker open", "provider", name)
		return
	}
	slog.Warn("provider failed, trying next in chain",
		"provider", name, "error", err)
}
