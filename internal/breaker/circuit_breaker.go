// Package breaker guards calls to downstream services (analytics, ads
// platform) with per-service circuit breakers. Breaker state is per-process
// and resets on restart.
package breaker

import (
	"context"
	"sync"
	"time"

	"github.com/lotwise/driveline/pkg/schema"
)

// State is the lifecycle position of one circuit.
type State int

const (
	StateClosed   State = iota // normal operation
	StateOpen                  // failing, rejecting calls
	StateHalfOpen              // testing recovery
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config controls when circuits trip and recover.
type Config struct {
	// FailureThreshold is the number of consecutive failures before opening.
	FailureThreshold int
	// Cooldown is how long the circuit stays open before allowing a trial.
	Cooldown time.Duration
	// HalfOpenMax is the number of trial requests allowed while half-open.
	HalfOpenMax int
	// CallTimeout bounds each guarded call made through Do. Zero disables it.
	CallTimeout time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		HalfOpenMax:      1,
		CallTimeout:      30 * time.Second,
	}
}

// StateReporter observes state changes, usually backed by Prometheus.
type StateReporter interface {
	SetCircuitState(service, state string)
}

// circuit tracks failure state for a single downstream service.
type circuit struct {
	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	lastFailureTime     time.Time
	halfOpenAttempts    int
	config              Config
}

// Registry manages per-service circuit breakers, created lazily on first use.
type Registry struct {
	mu       sync.Mutex
	circuits map[string]*circuit
	config   Config
	reporter StateReporter
}

// NewRegistry creates a registry. reporter may be nil.
func NewRegistry(config Config, reporter StateReporter) *Registry {
	return &Registry{
		circuits: make(map[string]*circuit),
		config:   config,
		reporter: reporter,
	}
}

// Allow checks whether a call to the service may proceed. Returns nil if
// allowed, or a CIRCUIT_OPEN error when the breaker is rejecting calls. An
// open circuit whose cooldown elapsed flips to half-open and admits the
// caller as its trial request.
func (r *Registry) Allow(service string) error {
	cb := r.getOrCreate(service)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil

	case StateOpen:
		if time.Since(cb.lastFailureTime) >= cb.config.Cooldown {
			r.transition(cb, service, StateHalfOpen)
			cb.halfOpenAttempts = 1 // this request is the trial
			return nil
		}
		return schema.NewCircuitOpen(service).WithDetails(map[string]any{
			"consecutive_failures": cb.consecutiveFailures,
			"state":                cb.state.String(),
			"cooldown_remaining":   (cb.config.Cooldown - time.Since(cb.lastFailureTime)).String(),
		})

	case StateHalfOpen:
		if cb.halfOpenAttempts >= cb.config.HalfOpenMax {
			return schema.NewCircuitOpen(service).WithDetails(map[string]any{
				"state": cb.state.String(),
			})
		}
		cb.halfOpenAttempts++
		return nil
	}

	return nil
}

// RecordSuccess closes the circuit and clears its failure count.
func (r *Registry) RecordSuccess(service string) {
	cb := r.getOrCreate(service)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures = 0
	cb.halfOpenAttempts = 0
	r.transition(cb, service, StateClosed)
}

// RecordFailure counts a failure and returns the resulting state. Any
// failure while half-open reopens the circuit immediately.
func (r *Registry) RecordFailure(service string) State {
	cb := r.getOrCreate(service)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures++
	cb.lastFailureTime = time.Now()

	if cb.state == StateHalfOpen {
		r.transition(cb, service, StateOpen)
		return StateOpen
	}
	if cb.consecutiveFailures >= cb.config.FailureThreshold {
		r.transition(cb, service, StateOpen)
		return StateOpen
	}
	return cb.state
}

// State returns the circuit's current state, applying the open-to-half-open
// transition when the cooldown has elapsed.
func (r *Registry) State(service string) State {
	cb := r.getOrCreate(service)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && time.Since(cb.lastFailureTime) >= cb.config.Cooldown {
		r.transition(cb, service, StateHalfOpen)
		cb.halfOpenAttempts = 0
	}
	return cb.state
}

// Stats returns diagnostic information about a service's circuit.
func (r *Registry) Stats(service string) map[string]any {
	cb := r.getOrCreate(service)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return map[string]any{
		"service":              service,
		"state":                cb.state.String(),
		"consecutive_failures": cb.consecutiveFailures,
		"failure_threshold":    cb.config.FailureThreshold,
		"cooldown":             cb.config.Cooldown.String(),
	}
}

// Services lists every service a circuit has been created for.
func (r *Registry) Services() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.circuits))
	for name := range r.circuits {
		names = append(names, name)
	}
	return names
}

// Do runs fn under the service's breaker: a rejected call returns
// CIRCUIT_OPEN without invoking fn, timeouts and errors count as failures,
// and success closes the circuit. The timeout error carries code TIMEOUT so
// callers can tell it apart from the downstream's own failure.
func (r *Registry) Do(ctx context.Context, service string, fn func(context.Context) (any, error)) (any, error) {
	if err := r.Allow(service); err != nil {
		return nil, err
	}

	callCtx := ctx
	if r.config.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.config.CallTimeout)
		defer cancel()
	}

	result, err := fn(callCtx)
	if err != nil {
		r.RecordFailure(service)
		if callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return nil, schema.NewErrorf(schema.ErrCodeTimeout,
				"call to %s timed out after %s", service, r.config.CallTimeout).WithCause(err)
		}
		return nil, err
	}

	r.RecordSuccess(service)
	return result, nil
}

// transition flips the circuit state and reports it. Callers hold cb.mu.
func (r *Registry) transition(cb *circuit, service string, to State) {
	if cb.state == to {
		return
	}
	cb.state = to
	if r.reporter != nil {
		r.reporter.SetCircuitState(service, to.String())
	}
}

func (r *Registry) getOrCreate(service string) *circuit {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.circuits[service]
	if !ok {
		cb = &circuit{state: StateClosed, config: r.config}
		r.circuits[service] = cb
	}
	return cb
}
