// Package circuitbreaker guards calls to the schedule source. After a run of
// consecutive failures the breaker opens and every call fails fast until the
// cooldown elapses; then a limited number of probes decide whether to close
// it again or re-open it.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// STATE
// ══════════════════════════════════════════════════════════════════════════════

// State of the breaker.
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
		return "half-open"
	}
	return "unknown"
}

var (
	// ErrCircuitOpen - breaker is open, the call was not attempted.
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrTooManyRequests - half-open and all probe slots are taken.
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// ══════════════════════════════════════════════════════════════════════════════
// SETTINGS
// ══════════════════════════════════════════════════════════════════════════════

// Settings configures a breaker. Zero values fall back to defaults:
// 5 failures, 1 success, 30s cooldown, 1 probe.
type Settings struct {
	Name             string
	FailureThreshold int
	SuccessThreshold int
	Cooldown         time.Duration
	HalfOpenProbes   int

	// IsFailure decides whether an error counts against the breaker.
	// nil: every non-nil error counts.
	IsFailure func(error) bool

	// OnStateChange is called under the breaker lock; keep it short.
	OnStateChange func(name string, from, to State)

	Now func() time.Time
}

func (s *Settings) normalize() {
	if s.FailureThreshold <= 0 {
		s.FailureThreshold = 5
	}
	if s.SuccessThreshold <= 0 {
		s.SuccessThreshold = 1
	}
	if s.Cooldown <= 0 {
		s.Cooldown = 30 * time.Second
	}
	if s.HalfOpenProbes <= 0 {
		s.HalfOpenProbes = 1
	}
	if s.Now == nil {
		s.Now = time.Now
	}
}

// Option tweaks Settings on top of a preset.
type Option func(*Settings)

// WithFailureThreshold sets how many consecutive failures open the breaker.
func WithFailureThreshold(n int) Option {
	return func(s *Settings) { s.FailureThreshold = n }
}

// WithIsFailure sets the failure classifier.
func WithIsFailure(fn func(error) bool) Option {
	return func(s *Settings) { s.IsFailure = fn }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Settings) { s.Now = now }
}

// ══════════════════════════════════════════════════════════════════════════════
// BREAKER
// ══════════════════════════════════════════════════════════════════════════════

// Counts are cumulative, except the consecutive counters which reset on
// every state change.
type Counts struct {
	Requests             int `json:"requests"`
	TotalSuccesses       int `json:"total_successes"`
	TotalFailures        int `json:"total_failures"`
	ConsecutiveSuccesses int `json:"consecutive_successes"`
	ConsecutiveFailures  int `json:"consecutive_failures"`
}

// CircuitBreaker is safe for concurrent use.
type CircuitBreaker struct {
	settings Settings

	mu       sync.Mutex
	state    State
	counts   Counts
	openedAt time.Time
	probes   int
	// generation increments on every state change; results of calls started
	// in an older generation are dropped.
	generation uint64
}

// NewWithSettings creates a closed breaker.
func NewWithSettings(s Settings) *CircuitBreaker {
	s.normalize()
	return &CircuitBreaker{settings: s}
}

// New creates a closed breaker with default settings adjusted by opts.
func New(name string, opts ...Option) *CircuitBreaker {
	s := Settings{Name: name}
	for _, opt := range opts {
		opt(&s)
	}
	return NewWithSettings(s)
}

// SourceAPIBreaker returns the breaker used in front of the schedule source:
// opens after threshold consecutive failures, one probe after cooldown, one
// success closes it.
func SourceAPIBreaker(threshold int, cooldown time.Duration, onStateChange func(name string, from, to State), opts ...Option) *CircuitBreaker {
	s := Settings{
		Name:             "schedule-source",
		FailureThreshold: threshold,
		SuccessThreshold: 1,
		Cooldown:         cooldown,
		HalfOpenProbes:   1,
		OnStateChange:    onStateChange,
	}
	for _, opt := range opts {
		opt(&s)
	}
	return NewWithSettings(s)
}

// Execute runs fn unless the breaker rejects the call. The error of fn is
// returned unchanged.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	generation, err := cb.admit()
	if err != nil {
		return err
	}

	err = fn(ctx)
	cb.record(generation, err)
	return err
}

func (cb *CircuitBreaker) admit() (uint64, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.settings.Now().Sub(cb.openedAt) < cb.settings.Cooldown {
			return 0, ErrCircuitOpen
		}
		cb.transition(StateHalfOpen)
	}

	if cb.state == StateHalfOpen {
		if cb.probes >= cb.settings.HalfOpenProbes {
			return 0, ErrTooManyRequests
		}
		cb.probes++
	}

	return cb.generation, nil
}

func (cb *CircuitBreaker) record(generation uint64, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.counts.Requests++

	failed := err != nil
	if failed && cb.settings.IsFailure != nil {
		failed = cb.settings.IsFailure(err)
	}

	if failed {
		cb.counts.TotalFailures++
	} else {
		cb.counts.TotalSuccesses++
	}

	// stale result from before the last transition
	if generation != cb.generation {
		return
	}

	if failed {
		cb.counts.ConsecutiveFailures++
		cb.counts.ConsecutiveSuccesses = 0
		if cb.state == StateHalfOpen || cb.counts.ConsecutiveFailures >= cb.settings.FailureThreshold {
			cb.transition(StateOpen)
		}
		return
	}

	cb.counts.ConsecutiveSuccesses++
	cb.counts.ConsecutiveFailures = 0
	if cb.state == StateHalfOpen && cb.counts.ConsecutiveSuccesses >= cb.settings.SuccessThreshold {
		cb.transition(StateClosed)
	}
}

// transition must be called with mu held.
func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	if from == to {
		return
	}

	cb.state = to
	cb.generation++
	cb.probes = 0
	cb.counts.ConsecutiveFailures = 0
	cb.counts.ConsecutiveSuccesses = 0
	if to == StateOpen {
		cb.openedAt = cb.settings.Now()
	}

	if cb.settings.OnStateChange != nil {
		cb.settings.OnStateChange(cb.settings.Name, from, to)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Inspection
// ─────────────────────────────────────────────────────────────────────────────

// State reports the stored state. An open breaker whose cooldown has passed
// still reports open until the next call.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// IsOpen is State() == StateOpen.
func (cb *CircuitBreaker) IsOpen() bool { return cb.State() == StateOpen }

// Counts returns a copy of the counters.
func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.counts
}

// Reset closes the breaker and zeroes the counters without firing OnStateChange.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.counts = Counts{}
	cb.probes = 0
	cb.generation++
}

// Snapshot is the breaker as shown by the health endpoint.
type Snapshot struct {
	Name   string `json:"name"`
	State  string `json:"state"`
	Counts Counts `json:"counts"`
}

func (cb *CircuitBreaker) Snapshot() Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Snapshot{Name: cb.settings.Name, State: cb.state.String(), Counts: cb.counts}
}
