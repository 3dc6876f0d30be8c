package cache

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"go.uber.org/zap"

	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/metrics"
)

type memEntry[T any] struct {
	Entry[T]
	timer *time.Timer
}

// MemoryTier is an in-process LRU tier. Every entry carries its own TTL,
// checked on read and enforced by a timer that deletes it on expiry.
type MemoryTier[T any] struct {
	cfg    TierConfig
	logger *zap.Logger

	mu          sync.Mutex
	lru         *simplelru.LRU[string, *memEntry[T]]
	hits        int64
	misses      int64
	evictions   int64
	expirations int64
}

// NewMemoryTier creates a memory tier bounded by cfg.MaxEntries.
func NewMemoryTier[T any](cfg TierConfig, logger *zap.Logger) *MemoryTier[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults("memory")
	t := &MemoryTier[T]{cfg: cfg, logger: logger.Named("cache").With(zap.String("tier", cfg.Name))}
	// Removal always stops the entry's timer.
	l, _ := simplelru.NewLRU[string, *memEntry[T]](cfg.MaxEntries, func(_ string, e *memEntry[T]) {
		if e.timer != nil {
			e.timer.Stop()
		}
	})
	t.lru = l
	return t
}

func (t *MemoryTier[T]) Name() string { return t.cfg.Name }

func (t *MemoryTier[T]) Get(_ context.Context, key string) (T, bool, error) {
	var zero T
	now := time.Now()

	t.mu.Lock()
	e, ok := t.lru.Get(key)
	if ok && e.Expired(now) {
		t.lru.Remove(key)
		t.expirations++
		ok = false
	}
	if !ok {
		t.misses++
		t.mu.Unlock()
		metrics.Default().IncCacheLookup(t.cfg.Name, false)
		return zero, false, nil
	}
	e.AccessCount++
	e.LastAccessed = now
	v := e.Data
	t.hits++
	t.mu.Unlock()

	metrics.Default().IncCacheLookup(t.cfg.Name, true)
	return v, true, nil
}

func (t *MemoryTier[T]) Set(_ context.Context, key string, value T, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = t.cfg.TTL
	}
	now := time.Now()
	e := &memEntry[T]{Entry: Entry[T]{
		Data:          value,
		Timestamp:     now,
		TTL:           ttl,
		LastAccessed:  now,
		EstimatedSize: estimateSize(value),
	}}

	t.mu.Lock()
	defer t.mu.Unlock()
	if old, ok := t.lru.Peek(key); ok {
		if old.timer != nil {
			old.timer.Stop()
		}
	} else if t.lru.Len() >= t.cfg.MaxEntries {
		if k, _, ok := t.lru.RemoveOldest(); ok {
			t.evictions++
			metrics.Default().IncCacheEviction(t.cfg.Name)
			t.logger.Debug("evicted least recently used entry", zap.String("key", k))
		}
	}
	e.timer = time.AfterFunc(ttl, func() { t.expire(key, e) })
	t.lru.Add(key, e)
	return nil
}

// expire removes key only if it still maps to the entry the timer was armed for.
func (t *MemoryTier[T]) expire(key string, e *memEntry[T]) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.lru.Peek(key); ok && cur == e {
		t.lru.Remove(key)
		t.expirations++
	}
}

func (t *MemoryTier[T]) Delete(_ context.Context, key string) error {
	t.mu.Lock()
	t.lru.Remove(key)
	t.mu.Unlock()
	return nil
}

func (t *MemoryTier[T]) Clear(_ context.Context) error {
	t.mu.Lock()
	t.lru.Purge()
	t.mu.Unlock()
	return nil
}

func (t *MemoryTier[T]) Stats() TierStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return TierStats{
		Name:        t.cfg.Name,
		Hits:        t.hits,
		Misses:      t.misses,
		Evictions:   t.evictions,
		Expirations: t.expirations,
		Entries:     t.lru.Len(),
		HitRate:     hitRate(t.hits, t.misses),
	}
}

// Len returns the number of stored entries, expired or not.
func (t *MemoryTier[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lru.Len()
}
