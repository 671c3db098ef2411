// Package circuit isolates callers from failing external dependencies with
// a three-state circuit breaker keyed by dependency name.
//
// A circuit starts Closed. Reaching the failure threshold opens it; while
// Open every call is short-circuited to a fallback. Once the recovery
// timeout has passed since the last failure, exactly one probe call is let
// through (HalfOpen). The probe's outcome closes the circuit or re-opens it
// with a fresh failure timestamp.
package circuit

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrOpen is returned by Do when the circuit rejects a call.
var ErrOpen = errors.New("circuit open")

// State is the position of a circuit in the breaker state machine.
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

// MarshalText renders the state by name in JSON payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name produced by MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "closed":
		*s = StateClosed
	case "open":
		*s = StateOpen
	case "half_open":
		*s = StateHalfOpen
	default:
		return fmt.Errorf("unknown circuit state %q", text)
	}
	return nil
}

// Settings are the per-circuit thresholds.
type Settings struct {
	FailureThreshold int           `json:"failure_threshold" yaml:"failure_threshold"`
	RecoveryTimeout  time.Duration `json:"recovery_timeout" yaml:"recovery_timeout"`
}

// DefaultSettings returns 5 failures and a 30 second recovery timeout.
func DefaultSettings() Settings {
	return Settings{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
	}
}

// Validate rejects non-positive thresholds.
func (s Settings) Validate() error {
	if s.FailureThreshold <= 0 {
		return errors.New("failure threshold must be positive")
	}
	if s.RecoveryTimeout <= 0 {
		return errors.New("recovery timeout must be positive")
	}
	return nil
}

// StateChangeFunc observes circuit transitions. It is called after the
// breaker lock is released, on the goroutine that caused the transition.
type StateChangeFunc func(name string, from, to State)

// Option customizes a Breaker.
type Option func(*Breaker)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		if now != nil {
			b.now = now
		}
	}
}

// WithSettings overrides the thresholds of a single dependency.
func WithSettings(name string, s Settings) Option {
	return func(b *Breaker) {
		b.overrides[name] = s
	}
}

// WithStateChange registers a transition observer.
func WithStateChange(fn StateChangeFunc) Option {
	return func(b *Breaker) {
		b.onChange = fn
	}
}

// ticket identifies one admitted call. Outcomes reported while HalfOpen
// only count when they carry the ticket of the current probe.
type ticket uint64

// untracked is the ticket of outcomes reported through the public
// Success, Failure and Abandon methods.
const untracked ticket = 0

type record struct {
	state        State
	failureCount int
	lastFailure  time.Time
	settings     Settings

	probing      bool
	probeStarted time.Time
	probe        ticket
}

// counts reports whether an outcome carrying t may change the circuit.
func (r *record) counts(t ticket) bool {
	return r.state != StateHalfOpen || t == untracked || t == r.probe
}

type transition struct {
	name     string
	from, to State
}

// Breaker owns one circuit per dependency name. Circuits are created on
// first use and live as long as the breaker.
type Breaker struct {
	defaults  Settings
	overrides map[string]Settings
	now       func() time.Time
	onChange  StateChangeFunc

	fallbackLog rate.Sometimes

	mu       sync.Mutex
	circuits map[string]*record
	issued   ticket
}

// New creates a breaker whose circuits use defaults unless overridden.
func New(defaults Settings, opts ...Option) *Breaker {
	b := &Breaker{
		defaults:    defaults,
		overrides:   make(map[string]Settings),
		now:         time.Now,
		fallbackLog: rate.Sometimes{First: 5, Interval: 10 * time.Second},
		circuits:    make(map[string]*record),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// circuit returns the record for name, creating it closed. Caller must hold
// b.mu.
func (b *Breaker) circuit(name string) *record {
	r, ok := b.circuits[name]
	if !ok {
		s, overridden := b.overrides[name]
		if !overridden {
			s = b.defaults
		}
		r = &record{state: StateClosed, settings: s}
		b.circuits[name] = r
	}
	return r
}

// Allow reports whether a call to name may proceed. Checking an Open
// circuit whose recovery timeout has elapsed moves it to HalfOpen and
// admits the caller as the probe. Every admitted call must be followed by
// Success, Failure or Abandon.
//
// Outcomes reported through these methods are not tied to the call that
// was admitted; Execute and Do tag each call so a slow call admitted while
// Closed cannot decide a later HalfOpen circuit.
func (b *Breaker) Allow(name string) bool {
	_, allowed := b.admit(name)
	return allowed
}

func (b *Breaker) admit(name string) (ticket, bool) {
	b.mu.Lock()
	now := b.now()
	r := b.circuit(name)

	var change *transition
	allowed, probe := false, false
	switch r.state {
	case StateClosed:
		allowed = true
	case StateOpen:
		if now.Sub(r.lastFailure) >= r.settings.RecoveryTimeout {
			change = b.setState(name, r, StateHalfOpen)
			allowed, probe = true, true
		}
	case StateHalfOpen:
		// A probe that never reported back must not wedge the circuit.
		if !r.probing || now.Sub(r.probeStarted) >= r.settings.RecoveryTimeout {
			allowed, probe = true, true
		}
	}

	var t ticket
	if allowed {
		b.issued++
		t = b.issued
	}
	if probe {
		r.probing = true
		r.probeStarted = now
		r.probe = t
	}
	b.mu.Unlock()

	b.notify(change)
	return t, allowed
}

// Success records a successful call.
func (b *Breaker) Success(name string) {
	b.success(name, untracked)
}

func (b *Breaker) success(name string, t ticket) {
	b.mu.Lock()
	r := b.circuit(name)
	if !r.counts(t) {
		b.mu.Unlock()
		return
	}

	var change *transition
	switch r.state {
	case StateHalfOpen:
		change = b.setState(name, r, StateClosed)
	case StateClosed:
		r.failureCount = 0
	}
	b.mu.Unlock()

	b.notify(change)
}

// Failure records a failed call.
func (b *Breaker) Failure(name string) {
	b.failure(name, untracked)
}

func (b *Breaker) failure(name string, t ticket) {
	b.mu.Lock()
	now := b.now()
	r := b.circuit(name)
	if !r.counts(t) {
		b.mu.Unlock()
		return
	}

	var change *transition
	r.failureCount++
	switch r.state {
	case StateClosed:
		r.lastFailure = now
		if r.failureCount >= r.settings.FailureThreshold {
			change = b.setState(name, r, StateOpen)
		}
	case StateHalfOpen:
		r.lastFailure = now
		change = b.setState(name, r, StateOpen)
	}
	b.mu.Unlock()

	b.notify(change)
}

// Abandon releases a HalfOpen probe whose outcome says nothing about the
// dependency, such as a call cancelled by its caller.
func (b *Breaker) Abandon(name string) {
	b.abandon(name, untracked)
}

func (b *Breaker) abandon(name string, t ticket) {
	b.mu.Lock()
	defer b.mu.Unlock()

	r := b.circuit(name)
	if r.state == StateHalfOpen && r.counts(t) {
		r.probing = false
		r.probe = untracked
	}
}

// setState performs a transition. Caller must hold b.mu.
func (b *Breaker) setState(name string, r *record, to State) *transition {
	from := r.state
	r.state = to
	r.probing = false
	r.probe = untracked
	if to == StateClosed {
		r.failureCount = 0
	}
	return &transition{name: name, from: from, to: to}
}

func (b *Breaker) notify(t *transition) {
	if t == nil || b.onChange == nil {
		return
	}
	b.onChange(t.name, t.from, t.to)
}

// Status is a read-only view of one circuit.
type Status struct {
	Name             string        `json:"name"`
	State            State         `json:"state"`
	FailureCount     int           `json:"failure_count"`
	FailureThreshold int           `json:"failure_threshold"`
	RecoveryTimeout  time.Duration `json:"recovery_timeout"`
	LastFailure      time.Time     `json:"last_failure,omitzero"`
	RetryAt          time.Time     `json:"retry_at,omitzero"`
}

func (r *record) status(name string) Status {
	s := Status{
		Name:             name,
		State:            r.state,
		FailureCount:     r.failureCount,
		FailureThreshold: r.settings.FailureThreshold,
		RecoveryTimeout:  r.settings.RecoveryTimeout,
		LastFailure:      r.lastFailure,
	}
	if r.state == StateOpen {
		s.RetryAt = r.lastFailure.Add(r.settings.RecoveryTimeout)
	}
	return s
}

// Snapshot returns the status of name, or false if no call has been made
// through it yet.
func (b *Breaker) Snapshot(name string) (Status, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	r, ok := b.circuits[name]
	if !ok {
		return Status{}, false
	}
	return r.status(name), true
}

// Snapshots returns every known circuit ordered by name.
func (b *Breaker) Snapshots() []Status {
	b.mu.Lock()
	out := make([]Status, 0, len(b.circuits))
	for name, r := range b.circuits {
		out = append(out, r.status(name))
	}
	b.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
