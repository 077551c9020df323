// Package retry provides a connection manager wrapping an arbitrary connect
// operation with exponential backoff, jitter, and a circuit breaker. Each
// manager owns its own counters; two managers never share state.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrCircuitOpen is returned when the circuit breaker is open and the cooldown
// has not yet elapsed. Callers can detect it with errors.Is.
var ErrCircuitOpen = errors.New("circuit breaker open")

// CircuitState is the breaker position for a manager.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config tunes a Manager. Zero values fall back to the defaults below.
type Config struct {
	// MaxRetries bounds attempts per ConnectWithRetry call; 0 means unlimited.
	MaxRetries int
	// BaseDelay is doubled per consecutive failure (default 1s).
	BaseDelay time.Duration
	// MaxDelay caps the raw backoff delay (default 60s).
	MaxDelay time.Duration
	// FailureThreshold consecutive failures open the circuit (default 5).
	FailureThreshold int
	// SuccessThreshold consecutive successes close a half-open circuit (default 3).
	SuccessThreshold int
	// CircuitTimeout is the open-circuit cooldown (default 60s).
	CircuitTimeout time.Duration
	// Seed fixes the jitter source when non-zero so tests are reproducible.
	Seed int64
}

// Counters is a snapshot of a manager's bookkeeping.
type Counters struct {
	Retries   int
	Failures  int
	Successes int
}

// Manager retries a connect operation with capped exponential backoff and
// trips a circuit breaker after repeated failures.
type Manager struct {
	name string
	cfg  Config
	log  *logrus.Entry

	mu           sync.Mutex
	retryCount   int
	failureCount int
	successCount int
	lastFailure  time.Time
	state        CircuitState
	rng          *rand.Rand
}

// New creates a manager named for log correlation (e.g. "mqtt", "redis").
func New(name string, cfg Config) *Manager {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 60 * time.Second
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 3
	}
	if cfg.CircuitTimeout <= 0 {
		cfg.CircuitTimeout = 60 * time.Second
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Manager{
		name: name,
		cfg:  cfg,
		log:  logrus.WithField("component", "retry").WithField("target", name),
		rng:  rand.New(rand.NewSource(seed)),
	}
}

// ConnectWithRetry calls connect until it succeeds, retries are exhausted, the
// circuit opens, or ctx is cancelled. Backoff sleeps are context-cancellable.
func (m *Manager) ConnectWithRetry(ctx context.Context, connect func() error) error {
	if err := m.checkCircuit(); err != nil {
		return err
	}

	for {
		err := connect()
		if err == nil {
			m.recordSuccess()
			return nil
		}

		exhausted := m.recordFailure()
		if exhausted {
			return fmt.Errorf("%s: connect failed after %d attempts: %w", m.name, m.cfg.MaxRetries, err)
		}

		delay := m.nextDelay()
		m.log.WithFields(logrus.Fields{
			"attempt": m.Counters().Retries,
			"delay":   delay.Round(time.Millisecond).String(),
		}).WithError(err).Debug("connect attempt failed, backing off")

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: connect cancelled: %w", m.name, ctx.Err())
		case <-time.After(delay):
		}
	}
}

// checkCircuit fails fast while the breaker cooldown runs and moves an expired
// open circuit to half-open.
func (m *Manager) checkCircuit() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != CircuitOpen {
		return nil
	}

	elapsed := time.Since(m.lastFailure)
	if elapsed < m.cfg.CircuitTimeout {
		remaining := (m.cfg.CircuitTimeout - elapsed).Round(time.Second)
		return fmt.Errorf("%s: %w, retry in %s", m.name, ErrCircuitOpen, remaining)
	}

	m.state = CircuitHalfOpen
	m.retryCount = 0
	m.log.Info("circuit breaker half-open, allowing a probe attempt")
	return nil
}

func (m *Manager) recordSuccess() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.retryCount = 0
	m.failureCount = 0
	m.successCount++

	if m.state == CircuitHalfOpen && m.successCount >= m.cfg.SuccessThreshold {
		m.state = CircuitClosed
		m.successCount = 0
		m.log.Info("circuit breaker closed after successful probes")
	}
}

// recordFailure updates counters and reports whether retries are exhausted.
func (m *Manager) recordFailure() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.retryCount++
	m.failureCount++
	m.successCount = 0
	m.lastFailure = time.Now()

	if m.failureCount >= m.cfg.FailureThreshold && m.state != CircuitOpen {
		m.state = CircuitOpen
		m.log.WithField("failures", m.failureCount).Warn("circuit breaker opened")
	}

	return m.cfg.MaxRetries > 0 && m.retryCount >= m.cfg.MaxRetries
}

// rawDelay is the pre-jitter backoff for the given consecutive-failure count:
// min(base * 2^retry, max).
func (m *Manager) rawDelay(retry int) time.Duration {
	delay := m.cfg.BaseDelay
	for i := 0; i < retry; i++ {
		delay *= 2
		if delay >= m.cfg.MaxDelay {
			return m.cfg.MaxDelay
		}
	}
	if delay > m.cfg.MaxDelay {
		return m.cfg.MaxDelay
	}
	return delay
}

// nextDelay jitters the raw delay by a uniform ±10%.
func (m *Manager) nextDelay() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	raw := m.rawDelay(m.retryCount)
	factor := 0.9 + 0.2*m.rng.Float64()
	return time.Duration(float64(raw) * factor)
}

// State returns the current breaker position.
func (m *Manager) State() CircuitState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Counters returns a snapshot of the manager's counters.
func (m *Manager) Counters() Counters {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Counters{Retries: m.retryCount, Failures: m.failureCount, Successes: m.successCount}
}

// Reset clears all counters and closes the circuit.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retryCount = 0
	m.failureCount = 0
	m.successCount = 0
	m.lastFailure = time.Time{}
	m.state = CircuitClosed
}
