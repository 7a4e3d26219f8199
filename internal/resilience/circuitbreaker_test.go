package resilience

import (
	"errors"
	"testing"
	"time"
)

var errProviderDown = errors.New("provider down")

// fakeClock drives the breaker's cooldown without sleeping.
type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(cfg BreakerConfig) (*Breaker, *fakeClock) {
	b := NewBreaker(cfg)
	clock := newFakeClock()
	b.now = clock.now
	return b, clock
}

func trip(t *testing.T, b *Breaker, failures int) {
	t.Helper()
	for i := 0; i < failures; i++ {
		_ = b.Do(func() error { return errProviderDown })
	}
}

func TestNewBreaker_Defaults(t *testing.T) {
	b := NewBreaker(BreakerConfig{Name: "openai"})
	if b.threshold != 5 {
		t.Errorf("threshold = %d, want 5", b.threshold)
	}
	if b.cooldown != 30*time.Second {
		t.Errorf("cooldown = %v, want 30s", b.cooldown)
	}
	if b.quota != 3 {
		t.Errorf("quota = %d, want 3", b.quota)
	}
	if b.State() != BreakerClosed {
		t.Errorf("initial state = %v, want closed", b.State())
	}
}

func TestBreaker_ClosedForwardsCalls(t *testing.T) {
	b, _ := newTestBreaker(BreakerConfig{Name: "openai", FailureThreshold: 3})
	called := false
	err := b.Do(func() error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("fn was not called")
	}
}

func TestBreaker_TripsAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(BreakerConfig{Name: "openai", FailureThreshold: 3})

	trip(t, b, 3)
	if b.State() != BreakerOpen {
		t.Fatalf("state = %v, want open after 3 failures", b.State())
	}

	err := b.Do(func() error { return nil })
	if !errors.Is(err, ErrBreakerOpen) {
		t.Fatalf("err = %v, want ErrBreakerOpen", err)
	}
}

func TestBreaker_SuccessResetsFailureStreak(t *testing.T) {
	b, _ := newTestBreaker(BreakerConfig{Name: "openai", FailureThreshold: 3})

	trip(t, b, 2)
	_ = b.Do(func() error { return nil })
	if b.State() != BreakerClosed {
		t.Fatalf("state = %v, want closed (success breaks the streak)", b.State())
	}

	trip(t, b, 2)
	if b.State() != BreakerClosed {
		t.Fatal("tripped on a non-consecutive failure count")
	}
}

func TestBreaker_CooldownLeadsToHalfOpen(t *testing.T) {
	b, clock := newTestBreaker(BreakerConfig{
		Name:             "openai",
		FailureThreshold: 2,
		Cooldown:         time.Minute,
		TrialQuota:       2,
	})

	trip(t, b, 2)
	if b.State() != BreakerOpen {
		t.Fatal("expected open")
	}

	clock.advance(61 * time.Second)
	if b.State() != BreakerHalfOpen {
		t.Fatalf("state = %v, want half-open past cooldown", b.State())
	}
}

func TestBreaker_CleanTrialsClose(t *testing.T) {
	b, clock := newTestBreaker(BreakerConfig{
		Name:             "openai",
		FailureThreshold: 2,
		Cooldown:         time.Minute,
		TrialQuota:       2,
	})

	trip(t, b, 2)
	clock.advance(2 * time.Minute)

	for i := 0; i < 2; i++ {
		if err := b.Do(func() error { return nil }); err != nil {
			t.Fatalf("trial %d: unexpected error: %v", i, err)
		}
	}
	if b.State() != BreakerClosed {
		t.Fatalf("state = %v, want closed after clean trials", b.State())
	}
}

func TestBreaker_FailedTrialReopens(t *testing.T) {
	b, clock := newTestBreaker(BreakerConfig{
		Name:             "openai",
		FailureThreshold: 2,
		Cooldown:         time.Minute,
		TrialQuota:       3,
	})

	trip(t, b, 2)
	clock.advance(2 * time.Minute)

	if err := b.Do(func() error { return errProviderDown }); err == nil {
		t.Fatal("expected error from failing trial call")
	}

	// Freshly re-tripped: the cooldown starts over.
	if err := b.Do(func() error { return nil }); !errors.Is(err, ErrBreakerOpen) {
		t.Fatalf("err = %v, want ErrBreakerOpen right after a failed trial", err)
	}
}

func TestBreaker_Reset(t *testing.T) {
	b, _ := newTestBreaker(BreakerConfig{
		Name:             "openai",
		FailureThreshold: 2,
		Cooldown:         time.Hour,
	})

	trip(t, b, 2)
	if b.State() != BreakerOpen {
		t.Fatal("expected open")
	}

	b.Reset()
	if b.State() != BreakerClosed {
		t.Fatalf("state = %v, want closed after reset", b.State())
	}
	if err := b.Do(func() error { return nil }); err != nil {
		t.Fatalf("unexpected error after reset: %v", err)
	}
}

func TestBreakerState_String(t *testing.T) {
	tests := []struct {
		state BreakerState
		want  string
	}{
		{BreakerClosed, "closed"},
		{BreakerOpen, "open"},
		{BreakerHalfOpen, "half-open"},
		{BreakerState(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("BreakerState(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
