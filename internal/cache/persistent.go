package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"go.uber.org/zap"

	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/metrics"
)

// keyStripes is the number of per-key write locks.
const keyStripes = 64

// PersistentTier stores JSON-encoded entries in a KVStore. Recency is tracked
// in process; the index is seeded from the store's keys on first use.
type PersistentTier[T any] struct {
	cfg    TierConfig
	store  KVStore
	logger *zap.Logger

	seedOnce sync.Once

	// keyMu serializes store writes and expiry deletes of the same key.
	keyMu [keyStripes]sync.Mutex

	mu          sync.Mutex
	index       *simplelru.LRU[string, struct{}]
	timers      map[string]*time.Timer
	hits        int64
	misses      int64
	evictions   int64
	expirations int64
}

// NewPersistentTier wraps store as a cache tier.
func NewPersistentTier[T any](cfg TierConfig, store KVStore, logger *zap.Logger) *PersistentTier[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults("persistent")
	// Capacity is enforced here before each insert, so the index never evicts on its own.
	idx, _ := simplelru.NewLRU[string, struct{}](cfg.MaxEntries+1, nil)
	return &PersistentTier[T]{
		cfg:    cfg,
		store:  store,
		logger: logger.Named("cache").With(zap.String("tier", cfg.Name)),
		index:  idx,
		timers: make(map[string]*time.Timer),
	}
}

func (t *PersistentTier[T]) Name() string { return t.cfg.Name }

func (t *PersistentTier[T]) seed(ctx context.Context) {
	t.seedOnce.Do(func() {
		keys, err := t.store.Keys(ctx)
		if err != nil {
			t.logger.Warn("could not enumerate persisted keys", zap.Error(err))
			return
		}
		t.mu.Lock()
		for _, k := range keys {
			if t.index.Len() >= t.cfg.MaxEntries {
				break
			}
			t.index.Add(k, struct{}{})
		}
		t.mu.Unlock()
	})
}

func (t *PersistentTier[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var zero T
	t.seed(ctx)

	raw, ok, err := t.store.Get(ctx, key)
	if err != nil {
		t.countMiss()
		return zero, false, fmt.Errorf("%s get %q: %w", t.cfg.Name, key, err)
	}
	if !ok {
		t.mu.Lock()
		t.index.Remove(key)
		t.mu.Unlock()
		t.countMiss()
		return zero, false, nil
	}

	var e Entry[T]
	if err := json.Unmarshal(raw, &e); err != nil {
		t.logger.Warn("dropping undecodable entry", zap.String("key", key), zap.Error(err))
		t.remove(ctx, key)
		t.countMiss()
		return zero, false, nil
	}
	if e.Expired(time.Now()) {
		t.remove(ctx, key)
		t.mu.Lock()
		t.expirations++
		t.mu.Unlock()
		t.countMiss()
		return zero, false, nil
	}

	t.mu.Lock()
	t.index.Add(key, struct{}{})
	t.hits++
	t.mu.Unlock()
	metrics.Default().IncCacheLookup(t.cfg.Name, true)
	return e.Data, true, nil
}

func (t *PersistentTier[T]) countMiss() {
	t.mu.Lock()
	t.misses++
	t.mu.Unlock()
	metrics.Default().IncCacheLookup(t.cfg.Name, false)
}

// Set writes through to the store. On a quota error it evicts the least
// recently used entry and retries exactly once; a second failure is logged
// and dropped.
func (t *PersistentTier[T]) Set(ctx context.Context, key string, value T, ttl time.Duration) error {
	t.seed(ctx)
	if ttl <= 0 {
		ttl = t.cfg.TTL
	}
	now := time.Now()
	e := Entry[T]{Data: value, Timestamp: now, TTL: ttl, LastAccessed: now}
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("%s encode %q: %w", t.cfg.Name, key, err)
	}
	e.EstimatedSize = len(raw)
	if raw, err = json.Marshal(e); err != nil {
		return fmt.Errorf("%s encode %q: %w", t.cfg.Name, key, err)
	}

	kl := t.keyLock(key)
	kl.Lock()
	defer kl.Unlock()

	t.mu.Lock()
	full := !t.index.Contains(key) && t.index.Len() >= t.cfg.MaxEntries
	t.mu.Unlock()
	if full {
		t.evictOldest(ctx)
	}

	err = t.store.Set(ctx, key, raw, ttl)
	if errors.Is(err, ErrQuotaExceeded) {
		t.logger.Debug("quota exceeded, evicting before retry", zap.String("key", key))
		t.evictOldest(ctx)
		if err = t.store.Set(ctx, key, raw, ttl); err != nil {
			t.logger.Warn("giving up on cache write", zap.String("key", key), zap.Error(err))
			return nil
		}
	}
	if err != nil {
		return fmt.Errorf("%s set %q: %w", t.cfg.Name, key, err)
	}

	t.mu.Lock()
	t.index.Add(key, struct{}{})
	t.armTimerLocked(key, ttl)
	t.mu.Unlock()
	return nil
}

func (t *PersistentTier[T]) armTimerLocked(key string, ttl time.Duration) {
	if old, ok := t.timers[key]; ok {
		old.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(ttl, func() {
		kl := t.keyLock(key)
		kl.Lock()
		defer kl.Unlock()
		t.mu.Lock()
		if t.timers[key] != timer {
			t.mu.Unlock()
			return
		}
		delete(t.timers, key)
		t.index.Remove(key)
		t.expirations++
		t.mu.Unlock()
		if err := t.store.Delete(context.Background(), key); err != nil {
			t.logger.Debug("expiry delete failed", zap.String("key", key), zap.Error(err))
		}
	})
	t.timers[key] = timer
}

func (t *PersistentTier[T]) keyLock(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &t.keyMu[h.Sum32()%keyStripes]
}

func (t *PersistentTier[T]) evictOldest(ctx context.Context) {
	t.mu.Lock()
	key, _, ok := t.index.RemoveOldest()
	if ok {
		if timer, found := t.timers[key]; found {
			timer.Stop()
			delete(t.timers, key)
		}
		t.evictions++
	}
	t.mu.Unlock()
	if !ok {
		return
	}
	metrics.Default().IncCacheEviction(t.cfg.Name)
	if err := t.store.Delete(ctx, key); err != nil {
		t.logger.Debug("eviction delete failed", zap.String("key", key), zap.Error(err))
	}
}

func (t *PersistentTier[T]) remove(ctx context.Context, key string) {
	if err := t.Delete(ctx, key); err != nil {
		t.logger.Debug("delete failed", zap.String("key", key), zap.Error(err))
	}
}

func (t *PersistentTier[T]) Delete(ctx context.Context, key string) error {
	t.mu.Lock()
	t.index.Remove(key)
	if timer, ok := t.timers[key]; ok {
		timer.Stop()
		delete(t.timers, key)
	}
	t.mu.Unlock()
	return t.store.Delete(ctx, key)
}

func (t *PersistentTier[T]) Clear(ctx context.Context) error {
	t.mu.Lock()
	t.index.Purge()
	for k, timer := range t.timers {
		timer.Stop()
		delete(t.timers, k)
	}
	t.mu.Unlock()
	return t.store.Clear(ctx)
}

func (t *PersistentTier[T]) Stats() TierStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return TierStats{
		Name:        t.cfg.Name,
		Hits:        t.hits,
		Misses:      t.misses,
		Evictions:   t.evictions,
		Expirations: t.expirations,
		Entries:     t.index.Len(),
		HitRate:     hitRate(t.hits, t.misses),
	}
}
