package rewritegate

import (
	"sync"
	"time"
)

const defaultBreakerCooldown = time.Minute

// BreakerState is the state of a provider's breaker.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// Breaker remembers configuration failures per provider so that a missing
// credential is not re-resolved on every message. While open, Check returns
// the last failure. After the cooldown a single probe is let through.
type Breaker struct {
	mu        sync.RWMutex
	providers map[ProviderName]*providerHealth
	cooldown  time.Duration
	now       func() time.Time
}

type providerHealth struct {
	state    BreakerState
	lastErr  error
	openedAt time.Time
	probing  bool
}

// BreakerOption configures a Breaker.
type BreakerOption func(*Breaker)

// WithClock sets the time source.
func WithClock(now func() time.Time) BreakerOption {
	return func(b *Breaker) { b.now = now }
}

// NewBreaker creates a Breaker. A non-positive cooldown selects the default.
func NewBreaker(cooldown time.Duration, opts ...BreakerOption) *Breaker {
	if cooldown <= 0 {
		cooldown = defaultBreakerCooldown
	}
	b := &Breaker{
		providers: make(map[ProviderName]*providerHealth),
		cooldown:  cooldown,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// State returns the current state for provider.
func (b *Breaker) State(provider ProviderName) BreakerState {
	b.mu.RLock()
	ph, ok := b.providers[provider]
	b.mu.RUnlock()

	if !ok {
		return BreakerClosed
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance(ph)
	return ph.state
}

// Check returns nil when a build for provider may proceed, or the
// remembered failure cause while the breaker is open.
func (b *Breaker) Check(provider ProviderName) error {
	b.mu.RLock()
	ph, ok := b.providers[provider]
	b.mu.RUnlock()

	if !ok {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.advance(ph)
	switch ph.state {
	case BreakerOpen:
		return ph.lastErr
	case BreakerHalfOpen:
		if ph.probing {
			return ph.lastErr
		}
		ph.probing = true
	}
	return nil
}

// RecordSuccess closes the breaker for provider.
func (b *Breaker) RecordSuccess(provider ProviderName) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ph, ok := b.providers[provider]
	if !ok {
		return
	}
	ph.state = BreakerClosed
	ph.lastErr = nil
	ph.probing = false
}

// RecordFailure opens the breaker for provider.
func (b *Breaker) RecordFailure(provider ProviderName, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ph, ok := b.providers[provider]
	if !ok {
		ph = &providerHealth{}
		b.providers[provider] = ph
	}
	ph.state = BreakerOpen
	ph.lastErr = err
	ph.openedAt = b.now()
	ph.probing = false
}

// advance moves an open breaker to half-open once the cooldown elapsed.
// Callers hold b.mu.
func (b *Breaker) advance(ph *providerHealth) {
	if ph.state == BreakerOpen && b.now().Sub(ph.openedAt) >= b.cooldown {
		ph.state = BreakerHalfOpen
		ph.probing = false
	}
}
