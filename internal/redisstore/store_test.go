package redisstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/cache"
)

func setup(t *testing.T) (*miniredis.Miniredis, *Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := New(context.Background(), Options{Addr: mr.Addr(), Prefix: "cv:emb:"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return mr, s
}

func TestGetSetDelete(t *testing.T) {
	_, s := setup(t)
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "tarrasque", []byte("vec"), time.Minute))
	v, ok, err := s.Get(ctx, "tarrasque")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "vec", string(v))

	require.NoError(t, s.Delete(ctx, "tarrasque"))
	_, ok, _ = s.Get(ctx, "tarrasque")
	assert.False(t, ok)
}

func TestTTL(t *testing.T) {
	mr, s := setup(t)
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "k", []byte("v"), time.Second))
	mr.FastForward(2 * time.Second)
	_, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestKeysAndClearAreNamespaced(t *testing.T) {
	mr, s := setup(t)
	ctx := context.Background()
	other := s.WithPrefix("cv:search:")
	require.NoError(t, s.Set(ctx, "a", []byte("1"), 0))
	require.NoError(t, s.Set(ctx, "b", []byte("2"), 0))
	require.NoError(t, other.Set(ctx, "a", []byte("3"), 0))

	keys, err := s.Keys(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, keys)

	require.NoError(t, s.Clear(ctx))
	keys, err = s.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
	assert.True(t, mr.Exists("cv:search:a"))
}

func TestOOMMapsToQuota(t *testing.T) {
	err := mapErr("redis set", redis.Error("OOM command not allowed when used memory > 'maxmemory'."))
	assert.True(t, errors.Is(err, cache.ErrQuotaExceeded))
	err = mapErr("redis set", errors.New("connection refused"))
	assert.False(t, errors.Is(err, cache.ErrQuotaExceeded))
}

func TestPersistentTierOverRedis(t *testing.T) {
	_, s := setup(t)
	ctx := context.Background()
	tier := cache.NewPersistentTier[[]float32](cache.TierConfig{Name: "redis", MaxEntries: 2}, s, nil)
	require.NoError(t, tier.Set(ctx, "a", []float32{1}, time.Minute))
	require.NoError(t, tier.Set(ctx, "b", []float32{2}, time.Minute))
	require.NoError(t, tier.Set(ctx, "c", []float32{3}, time.Minute))

	_, ok, err := tier.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)
	v, ok, err := tier.Get(ctx, "c")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []float32{3}, v)
}

func TestNewFailsWithoutServer(t *testing.T) {
	_, err := New(context.Background(), Options{Addr: "127.0.0.1:1"}, nil)
	assert.Error(t, err)
}
