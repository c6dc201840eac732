// Package circuitbreaker implements the circuit-breaker pattern for outbound
// origins. Each origin (scheme+host) gets its own breaker, managed by a
// Registry.
//
// State transitions:
//
//	Closed → Open        when consecutive failures ≥ FailureThreshold
//	Open   → HalfOpen   after ResetTimeout elapses (lazy, on next query)
//	HalfOpen → Closed   when consecutive probe successes ≥ SuccessThreshold
//	HalfOpen → Open     on any probe failure
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// State represents the circuit breaker's current state.
type State int

const (
	// StateClosed — normal operation; calls pass through.
	StateClosed State = iota
	// StateOpen — origin is considered failing; calls are rejected immediately.
	StateOpen
	// StateHalfOpen — circuit is testing recovery with a bounded number of probes.
	StateHalfOpen
)

// String implements fmt.Stringer.
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

// ErrCircuitOpen is returned when a call is rejected because the circuit is
// open, or because all half-open probe slots are taken.
var ErrCircuitOpen = errors.New("circuit breaker open")

// Snapshot is a point-in-time view of a breaker, safe to hand to callers.
type Snapshot struct {
	State         State     `json:"state"`
	Failures      int       `json:"failures"`
	LastFailureAt time.Time `json:"last_failure_at,omitzero"`
	WillRetryAt   time.Time `json:"will_retry_at,omitzero"`
}

// Breaker guards a single downstream origin.
type Breaker struct {
	mu             sync.Mutex
	state          State
	failureCount   int
	successCount   int
	probesInFlight int
	cfg            Settings
	lastFailureAt  time.Time
	openUntil      time.Time
}

// Settings holds the thresholds shared by all breakers in a Registry.
type Settings struct {
	// FailureThreshold is the consecutive-failure count that opens a closed
	// circuit. Default 5.
	FailureThreshold int
	// SuccessThreshold is the probe-success count that closes a half-open
	// circuit. Default 1.
	SuccessThreshold int
	// ResetTimeout is how long an open circuit stays open before admitting
	// recovery probes. Default 30s.
	ResetTimeout time.Duration
	// HalfOpenProbes bounds how many probes may be in flight while half-open.
	// Default 1.
	HalfOpenProbes int
}

func (s Settings) withDefaults() Settings {
	if s.FailureThreshold <= 0 {
		s.FailureThreshold = 5
	}
	if s.SuccessThreshold <= 0 {
		s.SuccessThreshold = 1
	}
	if s.ResetTimeout <= 0 {
		s.ResetTimeout = 30 * time.Second
	}
	if s.HalfOpenProbes <= 0 {
		s.HalfOpenProbes = 1
	}
	return s
}

// NewBreaker creates a Breaker with the given settings. Zero/negative settings
// fall back to defaults.
func NewBreaker(cfg Settings) *Breaker {
	return &Breaker{state: StateClosed, cfg: cfg.withDefaults()}
}

// State returns the current state, transitioning Open→HalfOpen if the reset
// timeout has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.resolveState()
}

// resolveState must be called with b.mu held.
func (b *Breaker) resolveState() State {
	if b.state == StateOpen && time.Now().After(b.openUntil) {
		b.state = StateHalfOpen
		b.successCount = 0
		b.probesInFlight = 0
	}
	return b.state
}

// Allow reports whether a call may proceed. While half-open it also claims a
// probe slot, so at most HalfOpenProbes callers get true until the probe
// outcome is recorded.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.resolveState() {
	case StateClosed:
		return true
	case StateHalfOpen:
		if b.probesInFlight >= b.cfg.HalfOpenProbes {
			return false
		}
		b.probesInFlight++
		return true
	default:
		return false
	}
}

// ReleaseProbe returns a claimed probe slot without recording an outcome.
// Callers use it when a probe is abandoned before completing, such as on
// caller cancellation; otherwise a half-open circuit would sit at capacity
// with no way to test recovery.
func (b *Breaker) ReleaseProbe() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateHalfOpen && b.probesInFlight > 0 {
		b.probesInFlight--
	}
}

// RecordSuccess notifies the breaker that a call succeeded.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateHalfOpen:
		if b.probesInFlight > 0 {
			b.probesInFlight--
		}
		b.successCount++
		if b.successCount >= b.cfg.SuccessThreshold {
			b.state = StateClosed
			b.failureCount = 0
			b.successCount = 0
		}
	case StateClosed:
		b.failureCount = 0
	}
}

// RecordFailure notifies the breaker that a call failed. A failure while
// half-open reopens immediately regardless of the failure threshold.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastFailureAt = time.Now()
	switch b.state {
	case StateClosed:
		b.failureCount++
		if b.failureCount >= b.cfg.FailureThreshold {
			b.state = StateOpen
			b.openUntil = b.lastFailureAt.Add(b.cfg.ResetTimeout)
		}
	case StateHalfOpen:
		b.state = StateOpen
		b.openUntil = b.lastFailureAt.Add(b.cfg.ResetTimeout)
		b.successCount = 0
		b.probesInFlight = 0
	}
}

// Snapshot returns a consistent view of the breaker.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	snap := Snapshot{
		State:         b.resolveState(),
		Failures:      b.failureCount,
		LastFailureAt: b.lastFailureAt,
	}
	if snap.State == StateOpen {
		snap.WillRetryAt = b.openUntil
	}
	return snap
}

// reset returns the breaker to its initial closed state.
func (b *Breaker) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failureCount = 0
	b.successCount = 0
	b.probesInFlight = 0
	b.lastFailureAt = time.Time{}
	b.openUntil = time.Time{}
}
