// Package breaker implements the circuit breaker registry: one breaker per
// backend tag, with persistence of every state mutation and reload on
// startup.
//
// sony/gobreaker's own Execute() drives transitions off a rolling window of
// Counts that resets on an Interval; this system needs a simpler
// consecutive-failure threshold with a fixed reset timeout and exactly one
// trial call in half-open, which an Interval-based rolling window does not
// express. Rather than hand-roll an equivalent three-value enum, this
// package reuses gobreaker.State directly (StateClosed/StateOpen/
// StateHalfOpen) for persistence and logging, and drives the three
// transitions itself; gobreaker's own Execute/Settings/ReadyToTrip
// machinery is not invoked. The denial error this package exports (ErrOpen)
// is its own classified errs.Error, not gobreaker's ErrOpenState sentinel,
// so it carries a Kind the rest of the system's error taxonomy can switch on.
package breaker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/githubnext/gh-aw-core/internal/errs"
	"github.com/githubnext/gh-aw-core/pkg/logger"
)

var log = logger.New("breaker:registry")

// DefaultThreshold and DefaultResetTimeout apply when the registry is
// constructed without explicit overrides.
const (
	DefaultThreshold    = 3
	DefaultResetTimeout = 5 * time.Minute
)

// State mirrors gobreaker.State's three values for persistence and logging.
type State = gobreaker.State

const (
	StateClosed   = gobreaker.StateClosed
	StateHalfOpen = gobreaker.StateHalfOpen
	StateOpen     = gobreaker.StateOpen
)

// ErrOpen is the classified error for a call the breaker denies outright.
// Nothing in this package returns it: a denial is reported by IsAvailable
// returning false.
var ErrOpen = errs.New(errs.KindPermanent, "backend unavailable: circuit breaker open")

// PersistedState is the row shape for the breaker-state table.
type PersistedState struct {
	Backend     string
	State       string
	Failures    int
	OpenedAtMs  int64
	UpdatedAtMs int64
}

// Persister is implemented by internal/store's breaker-state table.
type Persister interface {
	Save(ctx context.Context, s PersistedState) error
	LoadAll(ctx context.Context) ([]PersistedState, error)
}

// Breaker is one backend's state machine: Closed(failures) ->
// Open(opened_at) on failures>=threshold; Open -> HalfOpen on the first
// IsAvailable call after the reset timeout elapses, permitting one trial;
// HalfOpen -> Closed on success or -> Open on failure.
type Breaker struct {
	mu            sync.Mutex
	backend       string
	threshold     int
	resetTimeout  time.Duration
	state         State
	failures      int
	openedAt      time.Time
	trialGranted  bool
	persist       Persister
}

func newBreaker(backend string, threshold int, resetTimeout time.Duration, persist Persister) *Breaker {
	return &Breaker{
		backend:      backend,
		threshold:    threshold,
		resetTimeout: resetTimeout,
		state:        StateClosed,
		persist:      persist,
	}
}

// IsAvailable reports whether a call may currently be attempted, performing
// the Open -> HalfOpen transition as a side effect when reset_timeout has
// elapsed.
func (b *Breaker) IsAvailable() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.isAvailableLocked()
}

func (b *Breaker) isAvailableLocked() bool {
	switch b.state {
	case StateClosed:
		return true
	case StateHalfOpen:
		if b.trialGranted {
			return false
		}
		b.trialGranted = true
		return true
	case StateOpen:
		if time.Since(b.openedAt) >= b.resetTimeout {
			b.state = StateHalfOpen
			b.trialGranted = true
			b.persistLocked()
			return true
		}
		return false
	default:
		return false
	}
}

// OnSuccess records a successful call.
func (b *Breaker) OnSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateHalfOpen:
		b.state = StateClosed
		b.failures = 0
		b.trialGranted = false
	case StateClosed:
		b.failures = 0
	}
	b.persistLocked()
}

// OnFailure records a failed call.
func (b *Breaker) OnFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateHalfOpen:
		b.state = StateOpen
		b.openedAt = time.Now()
		b.trialGranted = false
	case StateClosed:
		b.failures++
		if b.failures >= b.threshold {
			b.state = StateOpen
			b.openedAt = time.Now()
		}
	}
	b.persistLocked()
}

func (b *Breaker) persistLocked() {
	if b.persist == nil {
		return
	}
	var openedAtMs int64
	if !b.openedAt.IsZero() {
		openedAtMs = b.openedAt.UnixMilli()
	}
	if err := b.persist.Save(context.Background(), PersistedState{
		Backend:     b.backend,
		State:       stateName(b.state),
		Failures:    b.failures,
		OpenedAtMs:  openedAtMs,
		UpdatedAtMs: time.Now().UnixMilli(),
	}); err != nil {
		log.Printf("failed to persist breaker state for %s: %v", b.backend, err)
	}
}

func stateName(s State) string {
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

// Reset clears both in-memory and persisted state back to Closed(0).
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.openedAt = time.Time{}
	b.trialGranted = false
	b.persistLocked()
}

// Snapshot returns the current state for status reporting.
func (b *Breaker) Snapshot() PersistedState {
	b.mu.Lock()
	defer b.mu.Unlock()
	var openedAtMs int64
	if !b.openedAt.IsZero() {
		openedAtMs = b.openedAt.UnixMilli()
	}
	return PersistedState{Backend: b.backend, State: stateName(b.state), Failures: b.failures, OpenedAtMs: openedAtMs}
}

// Registry is the map from backend tag to Breaker.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	persist  Persister
	threshold int
	resetTimeout time.Duration
}

// NewRegistry constructs an empty registry; call Load to seed from persisted
// state. Get creates a breaker for any backend not seen in the persisted set.
func NewRegistry(persist Persister, threshold int, resetTimeout time.Duration) *Registry {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if resetTimeout <= 0 {
		resetTimeout = DefaultResetTimeout
	}
	return &Registry{
		breakers:     map[string]*Breaker{},
		persist:      persist,
		threshold:    threshold,
		resetTimeout: resetTimeout,
	}
}

// Load seeds the registry from every backend's persisted state.
func (r *Registry) Load(ctx context.Context) error {
	if r.persist == nil {
		return nil
	}
	rows, err := r.persist.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("breaker: load persisted state: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range rows {
		b := newBreaker(row.Backend, r.threshold, r.resetTimeout, r.persist)
		switch row.State {
		case "open":
			b.state = StateOpen
			if row.OpenedAtMs > 0 {
				b.openedAt = time.UnixMilli(row.OpenedAtMs)
			}
		case "half_open":
			b.state = StateHalfOpen
		default:
			b.state = StateClosed
		}
		b.failures = row.Failures
		r.breakers[row.Backend] = b
	}
	return nil
}

// Get returns (creating if necessary) the breaker for backend.
func (r *Registry) Get(backend string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[backend]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[backend]; ok {
		return b
	}
	b = newBreaker(backend, r.threshold, r.resetTimeout, r.persist)
	r.breakers[backend] = b
	return b
}

// IsAvailable is a convenience pass-through for the AI Executor's
// availability gate.
func (r *Registry) IsAvailable(backend string) bool {
	return r.Get(backend).IsAvailable()
}

// Shutdown persists every breaker's current state. Safe to call once at
// process shutdown.
func (r *Registry) Shutdown() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, b := range r.breakers {
		b.mu.Lock()
		b.persistLocked()
		b.mu.Unlock()
	}
}

// Snapshot returns every breaker's current state, for the `breaker status`
// CLI subcommand.
func (r *Registry) Snapshot() []PersistedState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]PersistedState, 0, len(r.breakers))
	for _, b := range r.breakers {
		out = append(out, b.Snapshot())
	}
	return out
}
