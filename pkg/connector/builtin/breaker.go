package builtin

import (
	"errors"
	"sync"
	"time"
)

// errCircuitOpen is returned when the breaker rejects a call.
var errCircuitOpen = errors.New("endpoint circuit is open")

type breakerState string

const (
	breakerClosed   breakerState = "closed"
	breakerOpen     breakerState = "open"
	breakerHalfOpen breakerState = "half-open"
)

type breakerConfig struct {
	// MaxFailures consecutive failures open the circuit. Zero disables the
	// breaker.
	MaxFailures int `yaml:"maxFailures"`
	// OpenDuration is how long the circuit stays open before probing.
	OpenDuration time.Duration `yaml:"openDuration"`
	// HalfOpenRequests is the number of probes let through while half-open.
	HalfOpenRequests int `yaml:"halfOpenRequests"`
}

// breaker guards one endpoint. Upstream errors and 5xx responses count as
// failures; any success while half-open closes the circuit again.
type breaker struct {
	mu        sync.Mutex
	cfg       breakerConfig
	state     breakerState
	failures  int
	probes    int
	openUntil time.Time
	now       func() time.Time
}

func newBreaker(cfg breakerConfig) *breaker {
	if cfg.MaxFailures <= 0 {
		return nil
	}
	if cfg.OpenDuration <= 0 {
		cfg.OpenDuration = 30 * time.Second
	}
	if cfg.HalfOpenRequests <= 0 {
		cfg.HalfOpenRequests = 1
	}
	return &breaker{cfg: cfg, state: breakerClosed, now: time.Now}
}

// allow reports whether a call may go through. A nil breaker allows all.
func (b *breaker) allow() error {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerOpen:
		if b.now().Before(b.openUntil) {
			return errCircuitOpen
		}
		b.state = breakerHalfOpen
		b.probes = 1
		return nil
	case breakerHalfOpen:
		if b.probes >= b.cfg.HalfOpenRequests {
			return errCircuitOpen
		}
		b.probes++
		return nil
	default:
		return nil
	}
}

func (b *breaker) record(failed bool) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if !failed {
		b.state = breakerClosed
		b.failures = 0
		b.probes = 0
		return
	}
	b.failures++
	if b.state == breakerHalfOpen || b.failures >= b.cfg.MaxFailures {
		b.state = breakerOpen
		b.openUntil = b.now().Add(b.cfg.OpenDuration)
		b.failures = 0
		b.probes = 0
	}
}

// release returns the probe of a call that ended without an outcome.
func (b *breaker) release() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == breakerHalfOpen && b.probes > 0 {
		b.probes--
	}
}

func (b *breaker) current() breakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
