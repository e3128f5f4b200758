package errors

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// State is the circuit breaker's operating state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig tunes trip/recovery thresholds.
type CircuitBreakerConfig struct {
	FailureThreshold int           // consecutive failures before tripping open
	SuccessThreshold int           // consecutive successes in half-open before closing
	Timeout          time.Duration // how long the breaker stays open before probing
}

// CircuitBreaker wraps calls to an external collaborator (the app
// container wraps the LLM client with one) so repeated failures stop
// hammering a downed dependency instead of burning the queue's retry
// budget on guaranteed failures.
type CircuitBreaker struct {
	name   string
	config CircuitBreakerConfig

	mu              sync.Mutex
	state           State
	consecutiveFail int
	consecutiveOK   int
	openedAt        time.Time
}

// NewCircuitBreaker constructs a breaker starting in the closed state.
func NewCircuitBreaker(name string, config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 2
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	return &CircuitBreaker{name: name, config: config, state: StateClosed}
}

// State reports the current breaker state.
func (b *CircuitBreaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

var errCircuitOpen = New(KindUpstreamUnavailable, "circuit breaker open")

// Execute runs fn, tripping the breaker open after FailureThreshold
// consecutive failures and refusing calls (returning errCircuitOpen,
// itself an UpstreamUnavailable error) until Timeout elapses. It then
// moves to half-open, where calls go through until SuccessThreshold
// consecutive successes close it or one failure opens it again.
func (b *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if !b.allow() {
		return Wrap(KindUpstreamUnavailable, fmt.Sprintf("circuit %q open", b.name), errCircuitOpen)
	}
	err := fn(ctx)
	b.record(err == nil)
	return err
}

func (b *CircuitBreaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(b.openedAt) >= b.config.Timeout {
			b.state = StateHalfOpen
			b.consecutiveOK = 0
			return true
		}
		return false
	case StateHalfOpen:
		return true
	default:
		return true
	}
}

func (b *CircuitBreaker) record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if success {
		b.consecutiveFail = 0
		switch b.state {
		case StateHalfOpen:
			b.consecutiveOK++
			if b.consecutiveOK >= b.config.SuccessThreshold {
				b.state = StateClosed
			}
		case StateOpen:
			b.state = StateClosed
		}
		return
	}

	b.consecutiveOK = 0
	switch b.state {
	case StateHalfOpen:
		b.state = StateOpen
		b.openedAt = time.Now()
	case StateClosed:
		b.consecutiveFail++
		if b.consecutiveFail >= b.config.FailureThreshold {
			b.state = StateOpen
			b.openedAt = time.Now()
		}
	}
}
