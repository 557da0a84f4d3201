package backend

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/arclight-os/core/internal/sched"
)

var (
	// ErrModuleOpen is returned while a module's circuit is open and
	// operations are shed without touching the wire.
	ErrModuleOpen = errors.New("backend: module circuit open")
	// ErrModuleProbing is returned when the half-open probe budget for a
	// recovering module is already spent.
	ErrModuleProbing = errors.New("backend: module probe in flight")
)

type circuitState int

const (
	circuitClosed circuitState = iota
	circuitHalfOpen
	circuitOpen
)

func (s circuitState) String() string {
	switch s {
	case circuitClosed:
		return "closed"
	case circuitHalfOpen:
		return "half-open"
	case circuitOpen:
		return "open"
	default:
		return "unknown"
	}
}

// BreakerSettings tunes when a module circuit trips and recovers.
type BreakerSettings struct {
	// TripAfter is the consecutive-failure count that opens the circuit.
	TripAfter uint32
	// Cooldown is how long the circuit stays open before probing.
	Cooldown time.Duration
	// Probes is the number of in-flight operations allowed while half-open.
	Probes uint32
	// Window is the closed-state interval after which failure counts reset.
	Window time.Duration
}

func (s BreakerSettings) withDefaults() BreakerSettings {
	if s.TripAfter == 0 {
		s.TripAfter = 5
	}
	if s.Cooldown == 0 {
		s.Cooldown = 30 * time.Second
	}
	if s.Probes == 0 {
		s.Probes = 1
	}
	if s.Window == 0 {
		s.Window = time.Minute
	}
	return s
}

// Breaker wraps a backend with a circuit breaker. A module that keeps
// failing trips the circuit, and further operations complete immediately
// with ErrModuleOpen instead of tying a dispatch goroutine to a dead
// endpoint. After the cooldown a bounded number of probes decides
// whether the module is back.
type Breaker struct {
	inner    sched.Backend
	settings BreakerSettings

	mu        sync.Mutex
	state     circuitState
	inFlight  uint32
	successes uint32
	failures  uint32
	expiry    time.Time
}

// WithBreaker wraps a backend in a circuit breaker.
func WithBreaker(inner sched.Backend, settings BreakerSettings) *Breaker {
	settings = settings.withDefaults()
	return &Breaker{
		inner:    inner,
		settings: settings,
		expiry:   time.Now().Add(settings.Window),
	}
}

func (b *Breaker) Execute(ctx context.Context, op sched.Operation) ([]byte, error) {
	gen, err := b.admit()
	if err != nil {
		return nil, err
	}
	out, err := b.inner.Execute(ctx, op)
	b.observe(gen, err == nil)
	return out, err
}

// State reports the current circuit state.
func (b *Breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	state, _ := b.advance(time.Now())
	return state.String()
}

func (b *Breaker) admit() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, gen := b.advance(time.Now())
	switch {
	case state == circuitOpen:
		return gen, ErrModuleOpen
	case state == circuitHalfOpen && b.inFlight >= b.settings.Probes:
		return gen, ErrModuleProbing
	}
	b.inFlight++
	return gen, nil
}

// observe records an outcome. Outcomes from before the last state
// change carry a stale generation and are discarded.
func (b *Breaker) observe(gen uint64, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	state, current := b.advance(now)
	if current != gen {
		return
	}
	b.inFlight--

	if success {
		b.failures = 0
		b.successes++
		if state == circuitHalfOpen && b.successes >= b.settings.Probes {
			b.transition(circuitClosed, now)
		}
		return
	}

	switch state {
	case circuitClosed:
		b.successes = 0
		b.failures++
		if b.failures >= b.settings.TripAfter {
			b.transition(circuitOpen, now)
		}
	case circuitHalfOpen:
		b.transition(circuitOpen, now)
	}
}

func (b *Breaker) advance(now time.Time) (circuitState, uint64) {
	switch b.state {
	case circuitClosed:
		if !b.expiry.IsZero() && b.expiry.Before(now) {
			b.resetCounts()
			b.expiry = now.Add(b.settings.Window)
		}
	case circuitOpen:
		if b.expiry.Before(now) {
			b.transition(circuitHalfOpen, now)
		}
	}
	return b.state, uint64(b.expiry.UnixNano())
}

func (b *Breaker) transition(state circuitState, now time.Time) {
	if b.state == state {
		return
	}
	b.state = state
	b.resetCounts()

	switch state {
	case circuitClosed:
		b.expiry = now.Add(b.settings.Window)
	case circuitOpen:
		b.expiry = now.Add(b.settings.Cooldown)
	case circuitHalfOpen:
		b.expiry = time.Time{}
	}
}

func (b *Breaker) resetCounts() {
	b.inFlight = 0
	b.successes = 0
	b.failures = 0
}
