// Package resilience provides a circuit breaker for backends that fail in
// bursts, such as native inference runtimes.
//
// A [Breaker] opens after a run of consecutive failures and rejects calls
// until its cool-down elapses. It then admits a single trial call: success closes
// it, failure re-opens it for another cool-down.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/genie/internal/health"
)

// ErrOpen is returned by [Breaker.Do] while the breaker rejects calls.
var ErrOpen = errors.New("resilience: breaker open")

// Defaults applied by [NewBreaker] for zero config fields.
const (
	DefaultMaxFailures = 5
	DefaultCoolDown    = 10 * time.Second
)

// State is the breaker mode.
type State int

const (
	// Closed forwards every call.
	Closed State = iota

	// Open rejects calls until the cool-down elapses.
	Open

	// Probing admits one call to decide between Closed and Open.
	Probing
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case Probing:
		return "probing"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a [Breaker].
type BreakerConfig struct {
	// Name labels log lines and health checks.
	Name string

	// MaxFailures is the number of consecutive failures that opens the
	// breaker.
	MaxFailures int

	// CoolDown is how long the breaker stays open before probing.
	CoolDown time.Duration

	// Now replaces time.Now.
	Now func() time.Time
}

// Breaker is safe for concurrent use.
type Breaker struct {
	name        string
	maxFailures int
	coolDown    time.Duration
	now         func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	lastErr  error
	inFlight bool
}

// NewBreaker returns a closed breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultMaxFailures
	}
	if cfg.CoolDown <= 0 {
		cfg.CoolDown = DefaultCoolDown
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Breaker{
		name:        cfg.Name,
		maxFailures: cfg.MaxFailures,
		coolDown:    cfg.CoolDown,
		now:         cfg.Now,
	}
}

// Do runs fn unless the breaker is open. It returns [ErrOpen] without
// calling fn when rejected, and fn's error otherwise.
func (b *Breaker) Do(fn func() error) error {
	if !b.allow() {
		return ErrOpen
	}
	err := fn()
	b.record(err)
	return err
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case Open:
		if b.now().Sub(b.openedAt) < b.coolDown {
			return false
		}
		b.state = Probing
		b.inFlight = true
		slog.Info("breaker probing", "name", b.name)
		return true
	case Probing:
		if b.inFlight {
			return false
		}
		b.inFlight = true
		return true
	}
	return true
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inFlight = false

	if err == nil {
		if b.state != Closed {
			slog.Info("breaker closed", "name", b.name)
		}
		b.state = Closed
		b.failures = 0
		b.lastErr = nil
		return
	}

	b.lastErr = err
	b.failures++
	if b.state == Probing || b.failures >= b.maxFailures {
		if b.state != Open {
			slog.Warn("breaker opened", "name", b.name, "failures", b.failures, "err", err)
		}
		b.state = Open
		b.openedAt = b.now()
	}
}

// State returns the current mode. An open breaker whose cool-down elapsed
// still reports Open until the next call tries it.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Checker reports the breaker as a readiness check that fails while open.
func (b *Breaker) Checker() health.Checker {
	return health.Checker{
		Name: b.name,
		Check: func(context.Context) error {
			b.mu.Lock()
			defer b.mu.Unlock()
			if b.state == Closed {
				return nil
			}
			return fmt.Errorf("%s after %d failures: %w", b.state, b.failures, b.lastErr)
		},
	}
}
