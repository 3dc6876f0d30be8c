// Package breaker protects calls to the remote vector service with a circuit
// breaker that backs off exponentially and can trip early on sustained
// slowness.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/apperr"
	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/metrics"
)

// ErrCircuitOpen is returned when a call is short-circuited.
var ErrCircuitOpen = errors.New("circuit breaker is open: remote vector service unavailable")

const maxTransitions = 100

// maxOutcomes bounds the recent call outcomes kept for RecentFailureRate.
const maxOutcomes = 200

// State is the breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
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

// MarshalText renders the state name in JSON payloads.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Config holds breaker settings. Zero fields take the defaults.
type Config struct {
	// FailureThreshold failures open the circuit.
	FailureThreshold int
	// ResetTimeout is the base OPEN duration before a trial call is allowed.
	ResetTimeout time.Duration
	// HalfOpenMaxRequests is both the number of consecutive trial successes
	// that close the circuit and the cap on concurrent trial calls.
	HalfOpenMaxRequests int
	// RequestTimeout bounds each protected call.
	RequestTimeout time.Duration
	// FailureWindow enables sliding-window counting when > 0.
	FailureWindow time.Duration
	// MaxResetTimeout caps the exponential backoff of ResetTimeout.
	MaxResetTimeout time.Duration
	// ResponseTimeThreshold marks a response as slow.
	ResponseTimeThreshold time.Duration
	// SlowResponseThreshold consecutive slow responses raise a degraded signal.
	SlowResponseThreshold int
	// PredictiveFailure trips early when consecutive failures reach half the
	// threshold and the average response time is above ResponseTimeThreshold.
	PredictiveFailure bool
	// ResponseWindow is the number of response times averaged.
	ResponseWindow int
}

// DefaultConfig returns the breaker defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:      5,
		ResetTimeout:          60 * time.Second,
		HalfOpenMaxRequests:   3,
		RequestTimeout:        30 * time.Second,
		MaxResetTimeout:       5 * time.Minute,
		ResponseTimeThreshold: 5 * time.Second,
		SlowResponseThreshold: 3,
		ResponseWindow:        20,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = d.ResetTimeout
	}
	if c.HalfOpenMaxRequests <= 0 {
		c.HalfOpenMaxRequests = d.HalfOpenMaxRequests
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.MaxResetTimeout <= 0 {
		c.MaxResetTimeout = d.MaxResetTimeout
	}
	if c.MaxResetTimeout < c.ResetTimeout {
		c.MaxResetTimeout = c.ResetTimeout
	}
	if c.ResponseTimeThreshold <= 0 {
		c.ResponseTimeThreshold = d.ResponseTimeThreshold
	}
	if c.SlowResponseThreshold <= 0 {
		c.SlowResponseThreshold = d.SlowResponseThreshold
	}
	if c.ResponseWindow <= 0 {
		c.ResponseWindow = d.ResponseWindow
	}
	return c
}

// Transition is one recorded state change.
type Transition struct {
	From   State     `json:"from"`
	To     State     `json:"to"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// Option customizes a Breaker.
type Option func(*Breaker)

// WithClock replaces the time source used for state timing.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// Breaker is safe for concurrent use; all counters and the state are guarded
// by a single mutex.
type Breaker struct {
	name   string
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	mu                  sync.Mutex
	state               State
	stateSince          time.Time
	epoch               uint64
	failureCount        int
	consecutiveFailures int
	successCount        int
	halfOpenInFlight    int
	failureTimes        []time.Time
	lastFailure         time.Time
	currentResetTimeout time.Duration
	responseTimes       []time.Duration
	slowResponses       int
	outcomes            []outcome

	total         int64
	succeeded     int64
	failed        int64
	shortCircuits int64
	transitions   []Transition

	timer    *time.Timer
	timerGen uint64

	subMu   sync.RWMutex
	subs    map[int]func(Event)
	nextSub int
}

type outcome struct {
	at     time.Time
	failed bool
}

// New creates a closed breaker.
func New(name string, cfg Config, logger *zap.Logger, opts ...Option) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	b := &Breaker{
		name:   name,
		cfg:    cfg,
		logger: logger.Named("breaker").With(zap.String("breaker", name)),
		now:    time.Now,
		subs:   make(map[int]func(Event)),
	}
	for _, o := range opts {
		o(b)
	}
	b.state = StateClosed
	b.stateSince = b.now()
	b.currentResetTimeout = cfg.ResetTimeout
	metrics.Default().SetBreakerState(name, int(StateClosed))
	return b
}

// Name returns the breaker name.
func (b *Breaker) Name() string { return b.name }

// Config returns the effective configuration.
func (b *Breaker) Config() Config { return b.cfg }

// State returns the current state. An OPEN breaker whose reset timeout has
// elapsed is still reported OPEN until a call or the timer moves it.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// CurrentResetTimeout returns the OPEN duration in effect.
func (b *Breaker) CurrentResetTimeout() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentResetTimeout
}

type ticket struct {
	epoch    uint64
	halfOpen bool
}

// Execute runs fn under the breaker. While the circuit is open the call is
// short-circuited: fallback is invoked if non-nil, otherwise ErrCircuitOpen
// is returned and fn is not called. Cancellation of ctx by the caller is not
// counted as a failure.
func Execute[T any](ctx context.Context, b *Breaker, op string, fn func(context.Context) (T, error), fallback func(context.Context, error) (T, error)) (T, error) {
	var zero T
	t, err := b.allow(op)
	if err != nil {
		if fallback != nil {
			return fallback(ctx, err)
		}
		return zero, err
	}

	start := time.Now()
	val, err := callWithTimeout(ctx, b.cfg.RequestTimeout, fn)
	elapsed := time.Since(start)

	switch {
	case err == nil:
		b.onSuccess(t, op, elapsed)
		return val, nil
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		b.onAbandon(t)
		return zero, err
	default:
		b.onFailure(t, op, err, elapsed)
		return zero, err
	}
}

// Do is Execute for operations without a result.
func (b *Breaker) Do(ctx context.Context, op string, fn func(context.Context) error) error {
	_, err := Execute(ctx, b, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	}, nil)
	return err
}

func callWithTimeout[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		val T
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := fn(cctx)
		done <- outcome{v, err}
	}()

	select {
	case o := <-done:
		return o.val, o.err
	case <-cctx.Done():
		var zero T
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, apperr.Wrap(apperr.Timeout, "breaker", fmt.Errorf("request timed out after %s: %w", timeout, cctx.Err()))
	}
}

func (b *Breaker) allow(op string) (ticket, error) {
	b.mu.Lock()
	b.total++
	var events []Event

	if b.state == StateOpen && b.now().Sub(b.stateSince) >= b.currentResetTimeout {
		events = append(events, b.setStateLocked(StateHalfOpen, "reset timeout elapsed")...)
	}

	short := false
	switch b.state {
	case StateOpen:
		short = true
	case StateHalfOpen:
		if b.halfOpenInFlight >= b.cfg.HalfOpenMaxRequests {
			short = true
		} else {
			b.halfOpenInFlight++
		}
	}

	if short {
		b.shortCircuits++
		events = append(events, Event{Type: EventShortCircuit, Breaker: b.name, Op: op, State: b.state, At: b.now()})
		b.mu.Unlock()
		metrics.Default().IncBreakerCall(b.name, "short_circuit")
		b.emit(events)
		return ticket{}, ErrCircuitOpen
	}

	t := ticket{epoch: b.epoch, halfOpen: b.state == StateHalfOpen}
	b.mu.Unlock()
	b.emit(events)
	return t, nil
}

func (b *Breaker) onSuccess(t ticket, op string, elapsed time.Duration) {
	b.mu.Lock()
	b.succeeded++
	b.recordOutcomeLocked(false)
	b.failureCount = 0
	b.consecutiveFailures = 0
	events := b.observeResponseLocked(op, elapsed)
	events = append(events, Event{Type: EventSuccess, Breaker: b.name, Op: op, State: b.state, Duration: elapsed, At: b.now()})

	if t.halfOpen && t.epoch == b.epoch && b.state == StateHalfOpen {
		b.halfOpenInFlight--
		b.successCount++
		if b.successCount >= b.cfg.HalfOpenMaxRequests {
			events = append(events, b.setStateLocked(StateClosed, fmt.Sprintf("%d consecutive trial successes", b.successCount))...)
		}
	}
	b.mu.Unlock()

	metrics.Default().IncBreakerCall(b.name, "success")
	b.emit(events)
}

func (b *Breaker) onFailure(t ticket, op string, err error, elapsed time.Duration) {
	b.mu.Lock()
	now := b.now()
	b.failed++
	b.recordOutcomeLocked(true)
	b.failureCount++
	b.consecutiveFailures++
	b.lastFailure = now
	if b.cfg.FailureWindow > 0 {
		b.failureTimes = append(b.failureTimes, now)
		b.pruneWindowLocked(now)
	}
	events := b.observeResponseLocked(op, elapsed)
	events = append(events, Event{Type: EventFailure, Breaker: b.name, Op: op, State: b.state, Duration: elapsed, Err: err, At: now})

	switch b.state {
	case StateHalfOpen:
		if t.halfOpen && t.epoch == b.epoch {
			events = append(events, b.setStateLocked(StateOpen, "trial call failed: "+err.Error())...)
		}
	case StateClosed:
		count := b.failureCount
		if b.cfg.FailureWindow > 0 {
			count = len(b.failureTimes)
		}
		if count >= b.cfg.FailureThreshold {
			events = append(events, b.setStateLocked(StateOpen, fmt.Sprintf("failure threshold reached (%d/%d)", count, b.cfg.FailureThreshold))...)
		} else if b.cfg.PredictiveFailure && b.consecutiveFailures*2 >= b.cfg.FailureThreshold {
			if avg := b.averageResponseLocked(); avg > b.cfg.ResponseTimeThreshold {
				events = append(events, b.setStateLocked(StateOpen, fmt.Sprintf("predictive trip: %d consecutive failures, average response %s", b.consecutiveFailures, avg))...)
			}
		}
	}
	b.mu.Unlock()

	b.logger.Debug("protected call failed", zap.String("op", op), zap.Duration("elapsed", elapsed), zap.Error(err))
	metrics.Default().IncBreakerCall(b.name, "failure")
	b.emit(events)
}

func (b *Breaker) onAbandon(t ticket) {
	b.mu.Lock()
	if t.halfOpen && t.epoch == b.epoch && b.state == StateHalfOpen {
		b.halfOpenInFlight--
	}
	b.mu.Unlock()
}

func (b *Breaker) recordOutcomeLocked(failed bool) {
	b.outcomes = append(b.outcomes, outcome{at: b.now(), failed: failed})
	if len(b.outcomes) > maxOutcomes {
		b.outcomes = b.outcomes[len(b.outcomes)-maxOutcomes:]
	}
}

func (b *Breaker) pruneWindowLocked(now time.Time) {
	cutoff := now.Add(-b.cfg.FailureWindow)
	i := 0
	for i < len(b.failureTimes) && !b.failureTimes[i].After(cutoff) {
		i++
	}
	b.failureTimes = b.failureTimes[i:]
}

// observeResponseLocked records the response time and tracks slow responses.
// The slow counter decays by one on each fast response.
func (b *Breaker) observeResponseLocked(op string, elapsed time.Duration) []Event {
	b.responseTimes = append(b.responseTimes, elapsed)
	if len(b.responseTimes) > b.cfg.ResponseWindow {
		b.responseTimes = b.responseTimes[len(b.responseTimes)-b.cfg.ResponseWindow:]
	}
	if elapsed <= b.cfg.ResponseTimeThreshold {
		if b.slowResponses > 0 {
			b.slowResponses--
		}
		return nil
	}
	b.slowResponses++
	if b.slowResponses != b.cfg.SlowResponseThreshold {
		return nil
	}
	b.logger.Warn("remote service degraded",
		zap.Int("slow_responses", b.slowResponses),
		zap.Duration("threshold", b.cfg.ResponseTimeThreshold))
	return []Event{{
		Type:          EventDegradedService,
		Breaker:       b.name,
		Op:            op,
		State:         b.state,
		Duration:      elapsed,
		SlowResponses: b.slowResponses,
		At:            b.now(),
	}}
}

func (b *Breaker) averageResponseLocked() time.Duration {
	if len(b.responseTimes) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range b.responseTimes {
		sum += d
	}
	return sum / time.Duration(len(b.responseTimes))
}

// setStateLocked is the only mutator of currentResetTimeout. Every OPEN
// entry doubles it up to MaxResetTimeout; a HALF_OPEN to CLOSED recovery
// restores the base. Entering CLOSED starts a fresh outcome sample.
func (b *Breaker) setStateLocked(to State, reason string) []Event {
	from := b.state
	if from == to {
		return nil
	}
	now := b.now()
	b.state = to
	b.stateSince = now
	b.epoch++
	b.successCount = 0
	b.halfOpenInFlight = 0

	switch to {
	case StateOpen:
		next := b.currentResetTimeout * 2
		if next > b.cfg.MaxResetTimeout {
			next = b.cfg.MaxResetTimeout
		}
		b.currentResetTimeout = next
		b.armTimerLocked(b.currentResetTimeout)
	case StateHalfOpen:
		b.stopTimerLocked()
	case StateClosed:
		b.stopTimerLocked()
		if from == StateHalfOpen {
			b.currentResetTimeout = b.cfg.ResetTimeout
			b.consecutiveFailures = 0
			b.slowResponses = 0
		}
		b.failureCount = 0
		b.failureTimes = nil
		b.outcomes = nil
	}

	b.transitions = append(b.transitions, Transition{From: from, To: to, Reason: reason, At: now})
	if len(b.transitions) > maxTransitions {
		b.transitions = b.transitions[len(b.transitions)-maxTransitions:]
	}

	metrics.Default().SetBreakerState(b.name, int(to))
	metrics.Default().IncBreakerTransition(b.name, from.String(), to.String())
	b.logger.Info("state change",
		zap.Stringer("from", from),
		zap.Stringer("to", to),
		zap.String("reason", reason),
		zap.Duration("reset_timeout", b.currentResetTimeout))

	return []Event{{Type: EventStateChange, Breaker: b.name, From: from, State: to, Reason: reason, At: now}}
}

func (b *Breaker) armTimerLocked(d time.Duration) {
	b.stopTimerLocked()
	gen := b.timerGen
	b.timer = time.AfterFunc(d, func() { b.onTimer(gen) })
}

func (b *Breaker) stopTimerLocked() {
	b.timerGen++
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}

func (b *Breaker) onTimer(gen uint64) {
	b.mu.Lock()
	if gen != b.timerGen || b.state != StateOpen {
		b.mu.Unlock()
		return
	}
	b.timer = nil
	events := b.setStateLocked(StateHalfOpen, "reset timer fired")
	b.mu.Unlock()
	b.emit(events)
}

// Reset forces the circuit CLOSED and restores the base reset timeout.
func (b *Breaker) Reset() {
	b.mu.Lock()
	events := b.setStateLocked(StateClosed, "manual reset")
	b.currentResetTimeout = b.cfg.ResetTimeout
	b.outcomes = nil
	b.failureCount = 0
	b.consecutiveFailures = 0
	b.slowResponses = 0
	b.failureTimes = nil
	b.mu.Unlock()
	b.emit(events)
}

// Trip forces the circuit OPEN.
func (b *Breaker) Trip(reason string) {
	if reason == "" {
		reason = "manual trip"
	}
	b.mu.Lock()
	events := b.setStateLocked(StateOpen, reason)
	b.mu.Unlock()
	b.emit(events)
}

// Close stops the pending reset timer.
func (b *Breaker) Close() {
	b.mu.Lock()
	b.stopTimerLocked()
	b.mu.Unlock()
}

// RecentFailureRate is the failure ratio over calls completed within window
// since the circuit last entered CLOSED, and the number of those calls.
// Metrics().FailureRate, by contrast, covers the breaker's whole lifetime.
func (b *Breaker) RecentFailureRate(window time.Duration) (float64, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cutoff := b.now().Add(-window)
	var n, failed int
	for i := len(b.outcomes) - 1; i >= 0; i-- {
		o := b.outcomes[i]
		if !o.at.After(cutoff) {
			break
		}
		n++
		if o.failed {
			failed++
		}
	}
	if n == 0 {
		return 0, 0
	}
	return float64(failed) / float64(n), n
}

// Metrics is a point-in-time breaker snapshot.
type Metrics struct {
	Name                string        `json:"name"`
	State               State         `json:"state"`
	TotalRequests       int64         `json:"totalRequests"`
	SuccessfulRequests  int64         `json:"successfulRequests"`
	FailedRequests      int64         `json:"failedRequests"`
	ShortCircuited      int64         `json:"shortCircuited"`
	FailureRate         float64       `json:"failureRate"`
	FailureCount        int           `json:"failureCount"`
	ConsecutiveFailures int           `json:"consecutiveFailures"`
	HalfOpenSuccesses   int           `json:"halfOpenSuccesses"`
	SlowResponses       int           `json:"slowResponses"`
	StateSince          time.Time     `json:"stateSince"`
	TimeInState         time.Duration `json:"timeInState"`
	CurrentResetTimeout time.Duration `json:"currentResetTimeout"`
	AverageResponseTime time.Duration `json:"averageResponseTime"`
	LastFailure         time.Time     `json:"lastFailure"`
	Transitions         []Transition  `json:"transitions"`
}

// Metrics returns a snapshot of counters and the transition history.
func (b *Breaker) Metrics() Metrics {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := Metrics{
		Name:                b.name,
		State:               b.state,
		TotalRequests:       b.total,
		SuccessfulRequests:  b.succeeded,
		FailedRequests:      b.failed,
		ShortCircuited:      b.shortCircuits,
		FailureCount:        b.failureCount,
		ConsecutiveFailures: b.consecutiveFailures,
		HalfOpenSuccesses:   b.successCount,
		SlowResponses:       b.slowResponses,
		StateSince:          b.stateSince,
		TimeInState:         b.now().Sub(b.stateSince),
		CurrentResetTimeout: b.currentResetTimeout,
		AverageResponseTime: b.averageResponseLocked(),
		LastFailure:         b.lastFailure,
		Transitions:         append([]Transition(nil), b.transitions...),
	}
	if done := b.succeeded + b.failed; done > 0 {
		m.FailureRate = float64(b.failed) / float64(done)
	}
	return m
}
