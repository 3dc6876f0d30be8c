// Package retry runs a single operation with bounded, category-aware retries.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/apperr"
	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/metrics"
)

// Config holds retry settings. Zero fields take the defaults.
type Config struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	JitterFactor   float64
	AttemptTimeout time.Duration
}

// DefaultConfig returns 3 attempts, 1s base, 30s cap, 10% jitter and a 30s
// attempt timeout.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    3,
		BaseDelay:      time.Second,
		MaxDelay:       30 * time.Second,
		JitterFactor:   0.1,
		AttemptTimeout: 30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = d.BaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	if c.JitterFactor < 0 {
		c.JitterFactor = 0
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = d.AttemptTimeout
	}
	return c
}

// ShouldRetry decides whether a failed attempt is retried. A caller-supplied
// predicate replaces the default category policy entirely.
type ShouldRetry func(err error, category apperr.Category) bool

// DefaultShouldRetry retries everything except permanent and auth failures.
func DefaultShouldRetry(_ error, category apperr.Category) bool {
	return apperr.Retryable(category)
}

// Result is the outcome of Execute. Err and Category describe the last failure.
type Result[T any] struct {
	Value     T
	Success   bool
	Attempts  int
	TotalTime time.Duration
	Err       error
	Category  apperr.Category
}

// Metrics is a snapshot of cumulative retry statistics.
type Metrics struct {
	TotalOperations      int64
	SuccessfulOperations int64
	FailedOperations     int64
	RetriedOperations    int64
	TotalRetryAttempts   int64
	AverageAttempts      float64
	SuccessRate          float64
	AverageDuration      time.Duration
	FailuresByCategory   map[apperr.Category]int64
}

// Strategy executes operations under a fixed Config and accumulates metrics.
type Strategy struct {
	cfg    Config
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error

	mu            sync.Mutex
	total         int64
	succeeded     int64
	failed        int64
	retried       int64
	retryAttempts int64
	attempts      int64
	duration      time.Duration
	byCategory    map[apperr.Category]int64
}

// New creates a Strategy. A nil logger is replaced by a no-op logger.
func New(cfg Config, logger *zap.Logger) *Strategy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Strategy{
		cfg:        cfg.withDefaults(),
		logger:     logger.Named("retry"),
		sleep:      sleepCtx,
		byCategory: make(map[apperr.Category]int64),
	}
}

// Config returns the effective configuration.
func (s *Strategy) Config() Config { return s.cfg }

// Delay returns the wait before the attempt following attempt n (1-based):
// min(base*2^(n-1) + jitter, max).
func (s *Strategy) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	exp := float64(s.cfg.BaseDelay) * math.Pow(2, float64(n-1))
	jitter := rand.Float64() * s.cfg.JitterFactor * exp
	d := exp + jitter
	if d > float64(s.cfg.MaxDelay) {
		return s.cfg.MaxDelay
	}
	return time.Duration(d)
}

// Execute runs op up to MaxAttempts times. Each attempt receives a context
// bounded by AttemptTimeout; an attempt that outlives it is abandoned and
// counted as a timeout. Execute never panics on operation errors; the outcome
// is reported in the Result.
func Execute[T any](ctx context.Context, s *Strategy, name string, op func(context.Context) (T, error), shouldRetry ShouldRetry) Result[T] {
	if shouldRetry == nil {
		shouldRetry = DefaultShouldRetry
	}
	start := time.Now()
	var res Result[T]

	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		res.Attempts = attempt
		val, err := runAttempt(ctx, s.cfg.AttemptTimeout, op)
		if err == nil {
			res.Value, res.Success, res.Err, res.Category = val, true, nil, ""
			break
		}

		cat := apperr.Classify(err)
		res.Err, res.Category = err, cat
		s.recordFailure(name, cat)

		if ctx.Err() != nil {
			break
		}
		if attempt == s.cfg.MaxAttempts || !shouldRetry(err, cat) {
			s.logger.Debug("giving up", zap.String("op", name), zap.Int("attempt", attempt),
				zap.String("category", string(cat)), zap.Error(err))
			break
		}

		delay := s.Delay(attempt)
		s.logger.Debug("retrying", zap.String("op", name), zap.Int("attempt", attempt),
			zap.String("category", string(cat)), zap.Duration("delay", delay), zap.Error(err))
		if err := s.sleep(ctx, delay); err != nil {
			res.Err = fmt.Errorf("%s: retry wait interrupted: %w", name, err)
			res.Category = apperr.Classify(err)
			break
		}
	}

	res.TotalTime = time.Since(start)
	s.recordOperation(name, res.Success, res.Attempts, res.TotalTime)
	return res
}

// runAttempt runs op under a per-attempt deadline. The deadline is propagated
// to op; if op ignores it, its result is discarded when the deadline fires.
func runAttempt[T any](ctx context.Context, timeout time.Duration, op func(context.Context) (T, error)) (T, error) {
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		val T
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := op(actx)
		done <- outcome{v, err}
	}()

	select {
	case o := <-done:
		return o.val, o.err
	case <-actx.Done():
		var zero T
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, apperr.Wrap(apperr.Timeout, "attempt", fmt.Errorf("timed out after %s: %w", timeout, actx.Err()))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s *Strategy) recordFailure(name string, cat apperr.Category) {
	s.mu.Lock()
	s.byCategory[cat]++
	s.mu.Unlock()
	metrics.Default().IncRetryAttempt(name, string(cat))
}

func (s *Strategy) recordOperation(name string, success bool, attempts int, d time.Duration) {
	s.mu.Lock()
	s.total++
	s.attempts += int64(attempts)
	s.duration += d
	if success {
		s.succeeded++
	} else {
		s.failed++
	}
	if attempts > 1 {
		s.retried++
		s.retryAttempts += int64(attempts - 1)
	}
	s.mu.Unlock()
	metrics.Default().IncRetryOperation(name, success)
}

// Metrics returns a snapshot of cumulative statistics.
func (s *Strategy) Metrics() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := Metrics{
		TotalOperations:      s.total,
		SuccessfulOperations: s.succeeded,
		FailedOperations:     s.failed,
		RetriedOperations:    s.retried,
		TotalRetryAttempts:   s.retryAttempts,
		FailuresByCategory:   make(map[apperr.Category]int64, len(s.byCategory)),
	}
	for k, v := range s.byCategory {
		m.FailuresByCategory[k] = v
	}
	if s.total > 0 {
		m.AverageAttempts = float64(s.attempts) / float64(s.total)
		m.SuccessRate = float64(s.succeeded) / float64(s.total)
		m.AverageDuration = s.duration / time.Duration(s.total)
	}
	return m
}

// ResetMetrics zeroes the cumulative statistics.
func (s *Strategy) ResetMetrics() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total, s.succeeded, s.failed, s.retried, s.retryAttempts, s.attempts = 0, 0, 0, 0, 0, 0
	s.duration = 0
	s.byCategory = make(map[apperr.Category]int64)
}
