package circuitbreaker

import (
	"sync"
	"time"

	"github.com/oh-yeah-zzy/Hermes/internal/errors"
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = iota // Normal operation
	StateOpen                  // Failing, reject requests
	StateHalfOpen              // Testing recovery with a single probe
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

// Outcome is the result reported for an admitted request. Canceled means
// the request never produced an upstream verdict (client went away or a
// later policy short-circuited); it releases the half-open probe slot
// without moving the state machine.
type Outcome int

const (
	Success Outcome = iota
	Failure
	Canceled
)

// Breaker is the per-target state machine. Callers must invoke the done
// callback returned by Allow on every completion path; whether the attempt
// counts as a failure is the caller's call (upstream 5xx and transport
// errors do, 4xx does not).
type Breaker struct {
	mu sync.Mutex

	state            State
	failureCount     int
	successCount     int
	probeInFlight    bool
	lastTransition   time.Time
	failureThreshold int
	successThreshold int
	timeout          time.Duration
}

// NewBreaker creates a closed breaker.
func NewBreaker(failureThreshold, successThreshold int, timeout time.Duration) *Breaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if successThreshold <= 0 {
		successThreshold = 1
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Breaker{
		state:            StateClosed,
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		timeout:          timeout,
	}
}

// Allow decides whether a request may proceed. On admission it returns a
// done callback recording the outcome; on rejection it returns an error.
// While half-open only one probe is in flight; further requests are
// rejected until the probe resolves.
func (b *Breaker) Allow() (func(Outcome), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return b.doneFunc(), nil

	case StateOpen:
		if time.Since(b.lastTransition) >= b.timeout {
			b.transition(StateHalfOpen)
			b.probeInFlight = true
			return b.doneFunc(), nil
		}
		return nil, errors.ErrCircuitOpen

	case StateHalfOpen:
		if b.probeInFlight {
			return nil, errors.ErrCircuitOpen
		}
		b.probeInFlight = true
		return b.doneFunc(), nil
	}

	return nil, errors.ErrCircuitOpen
}

// doneFunc builds the completion callback for an admitted request.
// Safe against double invocation.
func (b *Breaker) doneFunc() func(Outcome) {
	var once sync.Once
	return func(outcome Outcome) {
		once.Do(func() {
			b.record(outcome)
		})
	}
}

func (b *Breaker) record(outcome Outcome) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		switch outcome {
		case Failure:
			b.failureCount++
			if b.failureCount >= b.failureThreshold {
				b.transition(StateOpen)
			}
		case Success:
			b.failureCount = 0
		}

	case StateHalfOpen:
		b.probeInFlight = false
		switch outcome {
		case Failure:
			b.transition(StateOpen)
		case Success:
			b.successCount++
			if b.successCount >= b.successThreshold {
				b.transition(StateClosed)
			}
		}

	case StateOpen:
		// Late completion from before the trip; counters already reset.
	}
}

// transition moves to a new state and resets counters. Caller holds the lock.
func (b *Breaker) transition(next State) {
	b.state = next
	b.lastTransition = time.Now()
	b.failureCount = 0
	b.successCount = 0
	if next != StateHalfOpen {
		b.probeInFlight = false
	}
}

// State returns the current state without side effects.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Timeout returns the configured open-state reset timeout.
func (b *Breaker) Timeout() time.Duration {
	return b.timeout
}

// Snapshot is a point-in-time view of a breaker.
type Snapshot struct {
	State          string    `json:"state"`
	FailureCount   int       `json:"failure_count"`
	SuccessCount   int       `json:"success_count"`
	LastTransition time.Time `json:"last_transition"`
}

// Snapshot returns a point-in-time view of the breaker.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		State:          b.state.String(),
		FailureCount:   b.failureCount,
		SuccessCount:   b.successCount,
		LastTransition: b.lastTransition,
	}
}

// Manager holds one breaker per upstream target key (service ID or direct
// URL). Transitions are serialized per key and independent across keys.
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker

	failureThreshold int
	successThreshold int
	timeout          time.Duration
}

// NewManager creates a breaker manager with shared settings.
func NewManager(failureThreshold, successThreshold int, timeout time.Duration) *Manager {
	return &Manager{
		breakers:         make(map[string]*Breaker),
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		timeout:          timeout,
	}
}

// Get returns the breaker for a target, creating it on first use.
func (m *Manager) Get(target string) *Breaker {
	m.mu.RLock()
	b, ok := m.breakers[target]
	m.mu.RUnlock()
	if ok {
		return b
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.breakers[target]; ok {
		return b
	}
	b = NewBreaker(m.failureThreshold, m.successThreshold, m.timeout)
	m.breakers[target] = b
	return b
}

// Snapshots returns point-in-time views of all breakers.
func (m *Manager) Snapshots() map[string]Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]Snapshot, len(m.breakers))
	for target, b := range m.breakers {
		out[target] = b.Snapshot()
	}
	return out
}
