package resilience

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for circuit breaker activity.
var (
	breakerStateChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "search_breaker_transitions_total",
		Help: "Circuit breaker state transitions by source and new state",
	}, []string{"source", "state"})

	breakerRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "search_breaker_rejected_total",
		Help: "Calls rejected while the breaker was open, by source",
	}, []string{"source"})
)

// State is the circuit breaker state for one source.
type State string

const (
	// StateClosed is normal operation; failures are counted.
	StateClosed State = "closed"

	// StateOpen fails fast without invoking the adapter.
	StateOpen State = "open"

	// StateHalfOpen admits exactly one trial call after the recovery timeout.
	StateHalfOpen State = "half_open"
)

// ErrCircuitOpen is returned when a call is rejected because the breaker for
// its source is open.
var ErrCircuitOpen = errors.New("circuit breaker open")

// BreakerConfig holds per-source circuit breaker thresholds.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold int

	// RecoveryTimeout is how long the circuit stays open before a trial call.
	RecoveryTimeout time.Duration
}

// DefaultBreakerConfig returns safe defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
	}
}

// Breaker is a circuit breaker for a single source. All state transitions
// happen under the mutex so failure counting stays race-free across
// concurrent requests.
type Breaker struct {
	source string
	cfg    BreakerConfig
	logger zerolog.Logger

	mu            sync.Mutex
	state         State
	failures      int
	openedAt      time.Time
	trialInFlight bool
	rejected      uint64
	transitions   uint64
}

// Snapshot is a point-in-time view of a breaker's state.
type Snapshot struct {
	Source          string        `json:"source"`
	State           State         `json:"state"`
	Failures        int           `json:"failures"`
	OpenedAt        time.Time     `json:"opened_at,omitempty"`
	Rejected        uint64        `json:"rejected"`
	Transitions     uint64        `json:"transitions"`
	RecoveryTimeout time.Duration `json:"recovery_timeout"`
}

// NewBreaker creates a closed breaker for the named source.
func NewBreaker(source string, cfg BreakerConfig, logger zerolog.Logger) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 60 * time.Second
	}
	return &Breaker{
		source: source,
		cfg:    cfg,
		logger: logger.With().Str("source", source).Logger(),
		state:  StateClosed,
	}
}

// Do runs fn under the breaker. While open and within the recovery timeout
// the call is rejected without invoking fn. After the timeout one trial call
// is admitted; its outcome decides between closing the circuit and restarting
// the open timer. Authentication failures trip the circuit immediately since
// they will not self-heal through retries.
func (b *Breaker) Do(fn func() error) error {
	if err := b.allow(); err != nil {
		return err
	}

	err := fn()
	if err != nil {
		b.onFailure(err)
		return err
	}
	b.onSuccess()
	return nil
}

// allow decides whether a call may proceed, moving Open → HalfOpen when the
// recovery timeout has elapsed.
func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil

	case StateOpen:
		if time.Since(b.openedAt) < b.cfg.RecoveryTimeout {
			b.rejected++
			breakerRejectedTotal.WithLabelValues(b.source).Inc()
			return fmt.Errorf("%w: %s (retry in %s)", ErrCircuitOpen, b.source,
				(b.cfg.RecoveryTimeout - time.Since(b.openedAt)).Round(time.Millisecond))
		}
		b.transition(StateHalfOpen)
		b.trialInFlight = true
		return nil

	case StateHalfOpen:
		// Exactly one trial call at a time.
		if b.trialInFlight {
			b.rejected++
			breakerRejectedTotal.WithLabelValues(b.source).Inc()
			return fmt.Errorf("%w: %s (trial call in flight)", ErrCircuitOpen, b.source)
		}
		b.trialInFlight = true
		return nil
	}
	return nil
}

func (b *Breaker) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.trialInFlight = false
		b.transition(StateClosed)
		b.logger.Info().Msg("Circuit closed after successful trial call")
	}
	b.failures = 0
}

func (b *Breaker) onFailure(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++

	cls := Classify(err)

	switch {
	case b.state == StateHalfOpen:
		b.trialInFlight = false
		b.openedAt = time.Now()
		b.transition(StateOpen)
		b.logger.Warn().Err(err).Msg("Circuit reopened after failed trial call")

	case cls.Kind == KindAuthentication:
		b.openedAt = time.Now()
		b.transition(StateOpen)
		b.logger.Error().Err(err).Msg("Circuit opened immediately on authentication failure")

	case b.state == StateClosed && b.failures >= b.cfg.FailureThreshold:
		b.openedAt = time.Now()
		b.transition(StateOpen)
		b.logger.Warn().
			Int("failures", b.failures).
			Msg("Circuit opened after consecutive failures")
	}
}

// transition switches state; callers hold the mutex.
func (b *Breaker) transition(next State) {
	if b.state == next {
		return
	}
	b.state = next
	b.transitions++
	breakerStateChanges.WithLabelValues(b.source, string(next)).Inc()
}

// Snapshot returns the current breaker state.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Source:          b.source,
		State:           b.state,
		Failures:        b.failures,
		OpenedAt:        b.openedAt,
		Rejected:        b.rejected,
		Transitions:     b.transitions,
		RecoveryTimeout: b.cfg.RecoveryTimeout,
	}
}

// Registry owns one breaker per source for the whole process. It is created
// at startup with the configured sources and injected by reference; breakers
// are never re-created mid-process.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	cfg      BreakerConfig
	logger   zerolog.Logger
}

// NewRegistry creates breakers for the named sources.
func NewRegistry(sources []string, cfg BreakerConfig, logger zerolog.Logger) *Registry {
	r := &Registry{
		breakers: make(map[string]*Breaker, len(sources)),
		cfg:      cfg,
		logger:   logger,
	}
	for _, s := range sources {
		r.breakers[s] = NewBreaker(s, cfg, logger)
	}
	return r
}

// Get returns the breaker for a source, creating one lazily for sources
// registered after startup (tests mostly).
func (r *Registry) Get(source string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[source]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok = r.breakers[source]; ok {
		return b
	}
	b = NewBreaker(source, r.cfg, r.logger)
	r.breakers[source] = b
	return b
}

// Snapshots returns the state of every registered breaker.
func (r *Registry) Snapshots() map[string]Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Snapshot, len(r.breakers))
	for name, b := range r.breakers {
		out[name] = b.Snapshot()
	}
	return out
}
