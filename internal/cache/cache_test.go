package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mapStore is an in-memory KVStore with optional quota and outage simulation.
type mapStore struct {
	mu       sync.Mutex
	data     map[string][]byte
	quota    int
	down     bool
	setCalls int
}

func newMapStore() *mapStore { return &mapStore{data: make(map[string][]byte)} }

var errDown = errors.New("storage unavailable")

func (s *mapStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return nil, false, errDown
	}
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *mapStore) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setCalls++
	if s.down {
		return errDown
	}
	if _, exists := s.data[key]; !exists && s.quota > 0 && len(s.data) >= s.quota {
		return fmt.Errorf("put %q: %w", key, ErrQuotaExceeded)
	}
	s.data[key] = value
	return nil
}

func (s *mapStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *mapStore) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[string][]byte)
	return nil
}

func (s *mapStore) Keys(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *mapStore) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[key]
	return ok
}

func (s *mapStore) setDown(down bool) {
	s.mu.Lock()
	s.down = down
	s.mu.Unlock()
}

func newTestManager(t *testing.T) (*Manager[string], *MemoryTier[string], *PersistentTier[string], *mapStore) {
	t.Helper()
	store := newMapStore()
	mem := NewMemoryTier[string](TierConfig{Name: "memory", MaxEntries: 10, TTL: time.Minute}, nil)
	per := NewPersistentTier[string](TierConfig{Name: "persistent", MaxEntries: 10, TTL: time.Minute}, store, nil)
	m, err := NewManager[string](nil, mem, per)
	require.NoError(t, err)
	return m, mem, per, store
}

func TestNewManagerRequiresTwoTiers(t *testing.T) {
	_, err := NewManager[string](nil, NewMemoryTier[string](TierConfig{}, nil))
	assert.Error(t, err)
}

func TestPerEntryTTLIndependence(t *testing.T) {
	ctx := context.Background()
	m, _, _, _ := newTestManager(t)
	m.Set(ctx, "short", "a", 100*time.Millisecond)
	m.Set(ctx, "long", "b", 10*time.Second)

	time.Sleep(150 * time.Millisecond)

	_, ok := m.Get(ctx, "short")
	assert.False(t, ok)
	v, ok := m.Get(ctx, "long")
	require.True(t, ok)
	assert.Equal(t, "b", v)
}

func TestExpiryTimerDeletesWithoutRead(t *testing.T) {
	ctx := context.Background()
	m, mem, per, store := newTestManager(t)
	m.Set(ctx, "k", "v", 30*time.Millisecond)
	require.Equal(t, 1, mem.Len())

	assert.Eventually(t, func() bool {
		return mem.Len() == 0 && !store.has("k")
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(1), mem.Stats().Expirations)
	assert.Equal(t, int64(1), per.Stats().Expirations)
}

// gatedStore holds every Delete until release is closed.
type gatedStore struct {
	*mapStore
	deleting chan string
	release  chan struct{}
}

func (s *gatedStore) Delete(ctx context.Context, key string) error {
	select {
	case s.deleting <- key:
	default:
	}
	<-s.release
	return s.mapStore.Delete(ctx, key)
}

func TestExpiryDoesNotDeleteNewerWrite(t *testing.T) {
	ctx := context.Background()
	store := &gatedStore{mapStore: newMapStore(), deleting: make(chan string, 1), release: make(chan struct{})}
	per := NewPersistentTier[string](TierConfig{Name: "persistent", MaxEntries: 10, TTL: time.Hour}, store, nil)

	require.NoError(t, per.Set(ctx, "k", "stale", 10*time.Millisecond))
	select {
	case <-store.deleting:
	case <-time.After(time.Second):
		t.Fatal("expiry timer never fired")
	}

	// the rewrite lands while the expiry delete is in flight
	done := make(chan error, 1)
	go func() { done <- per.Set(ctx, "k", "fresh", time.Hour) }()
	time.Sleep(20 * time.Millisecond)
	close(store.release)
	require.NoError(t, <-done)

	v, ok, err := per.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "fresh", v)
}

func TestPromotionSurvivesSlowTierOutage(t *testing.T) {
	ctx := context.Background()
	m, mem, per, store := newTestManager(t)
	require.NoError(t, per.Set(ctx, "campaign:1", "dragon", 0))

	_, ok, _ := mem.Get(ctx, "campaign:1")
	require.False(t, ok)

	v, ok := m.Get(ctx, "campaign:1")
	require.True(t, ok)
	assert.Equal(t, "dragon", v)

	store.setDown(true)
	v, ok = m.Get(ctx, "campaign:1")
	require.True(t, ok)
	assert.Equal(t, "dragon", v)
	assert.Equal(t, int64(1), mem.Stats().Hits)
}

func TestSetSwallowsTierFailure(t *testing.T) {
	ctx := context.Background()
	m, mem, _, store := newTestManager(t)
	store.setDown(true)
	m.Set(ctx, "k", "v", 0)

	v, ok, err := mem.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v", v)

	got, ok := m.Get(ctx, "k")
	assert.True(t, ok)
	assert.Equal(t, "v", got)
}

func TestMissEverywhere(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	_, ok := m.Get(context.Background(), "nope")
	assert.False(t, ok)
	s := m.Stats()
	assert.Equal(t, int64(1), s.Misses)
	assert.Len(t, s.Tiers, 2)
	assert.Equal(t, 0.0, m.OverallHitRate())
}

func TestMemoryTierEvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryTier[int](TierConfig{MaxEntries: 2, TTL: time.Minute}, nil)
	require.NoError(t, mem.Set(ctx, "a", 1, 0))
	require.NoError(t, mem.Set(ctx, "b", 2, 0))
	_, _, _ = mem.Get(ctx, "a")
	require.NoError(t, mem.Set(ctx, "c", 3, 0))

	_, ok, _ := mem.Get(ctx, "b")
	assert.False(t, ok)
	_, ok, _ = mem.Get(ctx, "a")
	assert.True(t, ok)
	assert.Equal(t, int64(1), mem.Stats().Evictions)
}

func TestMemoryTierOverwriteKeepsNewTTL(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryTier[string](TierConfig{MaxEntries: 2}, nil)
	require.NoError(t, mem.Set(ctx, "k", "old", 20*time.Millisecond))
	require.NoError(t, mem.Set(ctx, "k", "new", time.Minute))
	time.Sleep(50 * time.Millisecond)
	v, ok, _ := mem.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "new", v)
}

func TestPersistentTierQuotaEvictsAndRetriesOnce(t *testing.T) {
	ctx := context.Background()
	store := newMapStore()
	store.quota = 2
	per := NewPersistentTier[string](TierConfig{MaxEntries: 10, TTL: time.Minute}, store, nil)

	require.NoError(t, per.Set(ctx, "a", "1", 0))
	require.NoError(t, per.Set(ctx, "b", "2", 0))
	_, _, _ = per.Get(ctx, "a")

	before := store.setCalls
	require.NoError(t, per.Set(ctx, "c", "3", 0))
	assert.Equal(t, 2, store.setCalls-before)
	assert.False(t, store.has("b"))
	assert.True(t, store.has("a"))
	assert.True(t, store.has("c"))
	assert.Equal(t, int64(1), per.Stats().Evictions)
}

func TestPersistentTierGivesUpSilently(t *testing.T) {
	ctx := context.Background()
	store := newMapStore()
	store.quota = 1
	store.data["foreign"] = []byte(`{}`)
	per := NewPersistentTier[string](TierConfig{MaxEntries: 10}, store, nil)
	// Seeding indexes "foreign"; evicting it makes room for the retry.
	require.NoError(t, per.Set(ctx, "k", "v", 0))
	assert.True(t, store.has("k"))

	before := store.setCalls
	store.mu.Lock()
	store.data["other"] = []byte(`{}`)
	store.mu.Unlock()
	// Only "k" is indexed; after evicting it the store is still full.
	require.NoError(t, per.Set(ctx, "z", "v", 0))
	assert.Equal(t, 2, store.setCalls-before)
	assert.False(t, store.has("z"))
}

func TestPersistentTierCapacity(t *testing.T) {
	ctx := context.Background()
	store := newMapStore()
	per := NewPersistentTier[int](TierConfig{MaxEntries: 2}, store, nil)
	for i, k := range []string{"a", "b", "c"} {
		require.NoError(t, per.Set(ctx, k, i, 0))
	}
	assert.False(t, store.has("a"))
	assert.Equal(t, 2, per.Stats().Entries)
}

func TestPersistentTierEnvelope(t *testing.T) {
	ctx := context.Background()
	store := newMapStore()
	per := NewPersistentTier[[]float32](TierConfig{}, store, nil)
	require.NoError(t, per.Set(ctx, "emb", []float32{0.5, 0.25}, time.Minute))

	raw, ok, _ := store.Get(ctx, "emb")
	require.True(t, ok)
	assert.Contains(t, string(raw), `"data":[0.5,0.25]`)
	assert.Contains(t, string(raw), `"estimatedSize"`)

	v, ok, err := per.Get(ctx, "emb")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []float32{0.5, 0.25}, v)
}

func TestClearAndDelete(t *testing.T) {
	ctx := context.Background()
	m, mem, _, store := newTestManager(t)
	m.Set(ctx, "a", "1", 0)
	m.Set(ctx, "b", "2", 0)
	m.Delete(ctx, "a")
	_, ok := m.Get(ctx, "a")
	assert.False(t, ok)
	m.Clear(ctx)
	assert.Equal(t, 0, mem.Len())
	assert.False(t, store.has("b"))
}
