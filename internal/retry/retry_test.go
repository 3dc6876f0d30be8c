package retry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/apperr"
)

func newFast(cfg Config) (*Strategy, *[]time.Duration) {
	s := New(cfg, nil)
	var waits []time.Duration
	s.sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return ctx.Err()
	}
	return s, &waits
}

func TestAuthenticationErrorIsNeverRetried(t *testing.T) {
	s, waits := newFast(Config{MaxAttempts: 5})
	var calls int32
	res := Execute(context.Background(), s, "embed", func(context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "", errors.New("Request failed: 401 Unauthorized")
	}, nil)

	assert.False(t, res.Success)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, apperr.Authentication, res.Category)
	assert.Empty(t, *waits)
}

func TestTransientErrorRetriesUntilSuccess(t *testing.T) {
	s, waits := newFast(Config{MaxAttempts: 4, BaseDelay: 10 * time.Millisecond, JitterFactor: 0.0001})
	var calls int32
	res := Execute(context.Background(), s, "search", func(context.Context) (int, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return 0, errors.New("503 service unavailable")
		}
		return 42, nil
	}, nil)

	require.True(t, res.Success)
	assert.Equal(t, 42, res.Value)
	assert.Equal(t, 3, res.Attempts)
	require.Len(t, *waits, 2)
	assert.Less(t, (*waits)[0], (*waits)[1])

	m := s.Metrics()
	assert.Equal(t, int64(1), m.SuccessfulOperations)
	assert.Equal(t, int64(1), m.RetriedOperations)
	assert.Equal(t, int64(2), m.TotalRetryAttempts)
	assert.Equal(t, int64(2), m.FailuresByCategory[apperr.Transient])
	assert.InDelta(t, 3.0, m.AverageAttempts, 0.001)
	assert.InDelta(t, 1.0, m.SuccessRate, 0.001)
}

func TestExhaustsMaxAttempts(t *testing.T) {
	s, _ := newFast(Config{MaxAttempts: 3})
	var calls int32
	res := Execute(context.Background(), s, "store", func(context.Context) (int, error) {
		atomic.AddInt32(&calls, 1)
		return 0, errors.New("connection reset by peer")
	}, nil)

	assert.False(t, res.Success)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, apperr.Network, res.Category)
	assert.Equal(t, int64(1), s.Metrics().FailedOperations)
}

func TestPredicateOverridesPolicy(t *testing.T) {
	s, _ := newFast(Config{MaxAttempts: 3})
	var calls int32
	res := Execute(context.Background(), s, "op", func(context.Context) (int, error) {
		atomic.AddInt32(&calls, 1)
		return 0, errors.New("403 forbidden")
	}, func(error, apperr.Category) bool { return true })

	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, apperr.Authorization, res.Category)
}

func TestAttemptTimeoutCountsAsTimeout(t *testing.T) {
	s, _ := newFast(Config{MaxAttempts: 2, AttemptTimeout: 20 * time.Millisecond})
	res := Execute(context.Background(), s, "slow", func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	}, nil)

	assert.False(t, res.Success)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, apperr.Timeout, res.Category)
}

func TestAttemptIgnoringContextIsDiscarded(t *testing.T) {
	s, _ := newFast(Config{MaxAttempts: 1, AttemptTimeout: 20 * time.Millisecond})
	release := make(chan struct{})
	defer close(release)
	start := time.Now()
	res := Execute(context.Background(), s, "stuck", func(context.Context) (int, error) {
		<-release
		return 1, nil
	}, nil)

	assert.False(t, res.Success)
	assert.Equal(t, apperr.Timeout, res.Category)
	assert.Less(t, time.Since(start), time.Second)
}

func TestDelayGrowsAndCaps(t *testing.T) {
	s := New(Config{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, JitterFactor: 0.1}, nil)
	prevMax := time.Duration(0)
	for n := 1; n <= 4; n++ {
		base := 100 * time.Millisecond * time.Duration(1<<(n-1))
		d := s.Delay(n)
		assert.GreaterOrEqual(t, d, base)
		assert.LessOrEqual(t, d, base+base/10)
		assert.Greater(t, d, prevMax)
		prevMax = d
	}
	assert.Equal(t, time.Second, s.Delay(10))
}

func TestCancelledContextStopsRetrying(t *testing.T) {
	s := New(Config{MaxAttempts: 5, BaseDelay: time.Hour}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	var calls int32
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	res := Execute(ctx, s, "op", func(context.Context) (int, error) {
		atomic.AddInt32(&calls, 1)
		return 0, errors.New("temporarily unavailable")
	}, nil)

	assert.False(t, res.Success)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.ErrorIs(t, res.Err, context.Canceled)
}

func TestResetMetrics(t *testing.T) {
	s, _ := newFast(Config{})
	Execute(context.Background(), s, "ok", func(context.Context) (int, error) { return 1, nil }, nil)
	require.Equal(t, int64(1), s.Metrics().TotalOperations)
	s.ResetMetrics()
	assert.Equal(t, Metrics{FailuresByCategory: map[apperr.Category]int64{}}, s.Metrics())
}
