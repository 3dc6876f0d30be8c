package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Manager layers tiers from fastest to slowest. Tier failures are logged and
// swallowed; the cache never fails a caller.
type Manager[T any] struct {
	tiers  []Tier[T]
	logger *zap.Logger

	mu       sync.Mutex
	requests int64
	hits     int64
}

// Stats aggregates manager and per-tier counters.
type Stats struct {
	Requests       int64       `json:"requests"`
	Hits           int64       `json:"hits"`
	Misses         int64       `json:"misses"`
	OverallHitRate float64     `json:"overallHitRate"`
	Tiers          []TierStats `json:"tiers"`
}

// NewManager requires at least two tiers, ordered fast to slow.
func NewManager[T any](logger *zap.Logger, tiers ...Tier[T]) (*Manager[T], error) {
	if len(tiers) < 2 {
		return nil, errors.New("cache: at least two tiers are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager[T]{tiers: tiers, logger: logger.Named("cache")}, nil
}

// Get probes tiers in order. A hit below the first tier is copied into every
// faster tier with that tier's default TTL.
func (m *Manager[T]) Get(ctx context.Context, key string) (T, bool) {
	var zero T
	for i, tier := range m.tiers {
		v, ok, err := tier.Get(ctx, key)
		if err != nil {
			m.logger.Warn("tier read failed", zap.String("tier", tier.Name()), zap.String("key", key), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		for _, faster := range m.tiers[:i] {
			if err := faster.Set(ctx, key, v, 0); err != nil {
				m.logger.Warn("promotion failed", zap.String("tier", faster.Name()), zap.String("key", key), zap.Error(err))
			}
		}
		m.record(true)
		return v, true
	}
	m.record(false)
	return zero, false
}

func (m *Manager[T]) record(hit bool) {
	m.mu.Lock()
	m.requests++
	if hit {
		m.hits++
	}
	m.mu.Unlock()
}

// Set writes to every tier concurrently. A ttl of zero uses each tier's default.
func (m *Manager[T]) Set(ctx context.Context, key string, value T, ttl time.Duration) {
	m.fanOut("write", key, func(t Tier[T]) error { return t.Set(ctx, key, value, ttl) })
}

// Delete removes key from every tier.
func (m *Manager[T]) Delete(ctx context.Context, key string) {
	m.fanOut("delete", key, func(t Tier[T]) error { return t.Delete(ctx, key) })
}

// Clear empties every tier.
func (m *Manager[T]) Clear(ctx context.Context) {
	m.fanOut("clear", "", func(t Tier[T]) error { return t.Clear(ctx) })
}

func (m *Manager[T]) fanOut(op, key string, fn func(Tier[T]) error) {
	var g errgroup.Group
	for _, tier := range m.tiers {
		g.Go(func() error {
			if err := fn(tier); err != nil {
				m.logger.Warn("tier "+op+" failed", zap.String("tier", tier.Name()), zap.String("key", key), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Stats returns manager-level and per-tier statistics.
func (m *Manager[T]) Stats() Stats {
	m.mu.Lock()
	s := Stats{Requests: m.requests, Hits: m.hits, Misses: m.requests - m.hits}
	m.mu.Unlock()
	s.OverallHitRate = hitRate(s.Hits, s.Misses)
	for _, t := range m.tiers {
		s.Tiers = append(s.Tiers, t.Stats())
	}
	return s
}

// OverallHitRate is the share of Get calls served by any tier.
func (m *Manager[T]) OverallHitRate() float64 {
	return m.Stats().OverallHitRate
}
