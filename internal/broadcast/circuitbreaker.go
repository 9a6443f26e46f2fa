package broadcast

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// relayState is the circuit state guarding calls out to the Redis relay.
type relayState int

const (
	relayClosed   relayState = iota // normal operation, publishes pass through
	relayOpen                       // relay looks down, publishes are rejected locally
	relayHalfOpen                   // probing: one publish allowed through to test recovery
)

func (s relayState) String() string {
	switch s {
	case relayClosed:
		return "closed"
	case relayOpen:
		return "open"
	case relayHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrRelayOpen is returned by relayBreaker.guard when the relay is known to
// be down and the reset timeout hasn't elapsed yet.
var ErrRelayOpen = errors.New("broadcast: redis relay circuit is open")

// relayBreaker protects the cross-instance Redis relay: after
// maxFailures consecutive publish/subscribe failures it stops trying for
// resetTimeout, so a down Redis doesn't pile up blocked goroutines across
// every match's tick; local (same-instance) delivery via Hub keeps working
// the whole time regardless of the relay's state. Adapted from
// RohanRaikwar-algo-sys-v1's `store/redis.CircuitBreaker` (Closed/Open/
// HalfOpen with a mutex-guarded probe), swapping its generic
// `OnStateChange` callback for direct zap logging since this breaker only
// ever guards one thing (the relay) rather than being a reusable library.
type relayBreaker struct {
	mu           sync.Mutex
	state        relayState
	failures     int
	maxFailures  int
	resetTimeout time.Duration
	lastFailure  time.Time
	log          *zap.Logger
}

func newRelayBreaker(maxFailures int, resetTimeout time.Duration, log *zap.Logger) *relayBreaker {
	return &relayBreaker{maxFailures: maxFailures, resetTimeout: resetTimeout, log: log}
}

// guard runs fn through the breaker, returning ErrRelayOpen instead of
// calling fn at all while the breaker is tripped.
func (b *relayBreaker) guard(fn func() error) error {
	b.mu.Lock()
	switch b.state {
	case relayOpen:
		if time.Since(b.lastFailure) > b.resetTimeout {
			b.transition(relayHalfOpen)
		} else {
			b.mu.Unlock()
			return ErrRelayOpen
		}
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.failures++
		b.lastFailure = time.Now()
		if b.state == relayHalfOpen || b.failures >= b.maxFailures {
			b.transition(relayOpen)
		}
		return err
	}

	if b.state == relayHalfOpen {
		b.transition(relayClosed)
	}
	b.failures = 0
	return nil
}

func (b *relayBreaker) currentState() relayState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *relayBreaker) transition(to relayState) {
	from := b.state
	b.state = to
	if to == relayClosed {
		b.failures = 0
	}
	if b.log != nil {
		b.log.Warn("broadcast relay circuit transitioned", zap.String("from", from.String()), zap.String("to", to.String()))
	}
}
