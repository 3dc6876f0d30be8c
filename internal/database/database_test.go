package database

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/apptype"
	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/cache"
)

func setupTestDB(t *testing.T) *DBManager {
	t.Helper()
	config := NewConfig()
	// Use an in-memory database for testing. `cache=shared` lets every
	// sql.Open in the process see the same database; the name is per test.
	config.URL = "file:" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared"
	config.EmbeddingDims = 4
	config.MaxCacheRows = 3
	db, err := NewDBManager(config, nil)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, db.Close()) })
	return db
}

func seed(t *testing.T, db *DBManager) {
	t.Helper()
	ctx := context.Background()
	recs := []apptype.EmbeddingRecord{
		{EntityID: "strahd", EntityType: "character", Vector: []float32{1, 0, 0, 0}, Text: "vampire lord of barovia", WorldID: "ravenloft"},
		{EntityID: "ireena", EntityType: "character", Vector: []float32{0.9, 0.1, 0, 0}, Text: "burgomaster's daughter in barovia", WorldID: "ravenloft"},
		{EntityID: "castle-ravenloft", EntityType: "location", Vector: []float32{0, 1, 0, 0}, Text: "gothic castle above the village", WorldID: "ravenloft", Metadata: map[string]any{"region": "barovia"}},
		{EntityID: "sunsword", EntityType: "item", Vector: []float32{0, 0, 1, 0}, Text: "radiant blade", WorldID: "ravenloft"},
	}
	for _, r := range recs {
		require.NoError(t, db.UpsertEmbedding(ctx, r))
	}
}

func TestUpsertAndGet(t *testing.T) {
	db := setupTestDB(t)
	seed(t, db)
	ctx := context.Background()

	rec, err := db.GetEmbedding(ctx, "", "castle-ravenloft")
	require.NoError(t, err)
	assert.Equal(t, "location", rec.EntityType)
	assert.Equal(t, []float32{0, 1, 0, 0}, rec.Vector)
	assert.Equal(t, "barovia", rec.Metadata["region"])

	// replace
	require.NoError(t, db.UpsertEmbedding(ctx, apptype.EmbeddingRecord{EntityID: "castle-ravenloft", EntityType: "location", Vector: []float32{0, 0, 0, 1}}))
	rec, err = db.GetEmbedding(ctx, "", "castle-ravenloft")
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0, 0, 1}, rec.Vector)

	n, err := db.CountEmbeddings(ctx, "", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	require.NoError(t, db.DeleteEmbedding(ctx, "", "sunsword"))
	_, err = db.GetEmbedding(ctx, "", "sunsword")
	assert.True(t, errors.Is(err, ErrNotFound))

	assert.Error(t, db.UpsertEmbedding(ctx, apptype.EmbeddingRecord{EntityID: "x", EntityType: "item", Vector: []float32{1}}))
	assert.Error(t, db.UpsertEmbedding(ctx, apptype.EmbeddingRecord{EntityType: "item", Vector: []float32{1, 0, 0, 0}}))
}

func TestSearchSimilar(t *testing.T) {
	db := setupTestDB(t)
	seed(t, db)
	ctx := context.Background()

	res, err := db.SearchSimilar(ctx, "", []float32{1, 0, 0, 0}, apptype.SearchOptions{Limit: 2})
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "strahd", res[0].EntityID)
	assert.InDelta(t, 1.0, res[0].Score, 1e-4)
	assert.Equal(t, "ireena", res[1].EntityID)

	res, err = db.SearchSimilar(ctx, "", []float32{1, 0, 0, 0}, apptype.SearchOptions{EntityTypes: []string{"location", "item"}})
	require.NoError(t, err)
	for _, r := range res {
		assert.NotEqual(t, "character", r.EntityType)
	}

	res, err = db.SearchSimilar(ctx, "", []float32{1, 0, 0, 0}, apptype.SearchOptions{MinScore: 0.9})
	require.NoError(t, err)
	assert.Len(t, res, 2)

	res, err = db.SearchSimilar(ctx, "", []float32{1, 0, 0, 0}, apptype.SearchOptions{WorldID: "faerun"})
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestSearchKeyword(t *testing.T) {
	db := setupTestDB(t)
	seed(t, db)
	ctx := context.Background()

	res, err := db.SearchKeyword(ctx, "", "Barovia vampire", apptype.SearchOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, res)
	assert.Equal(t, "strahd", res[0].EntityID)
	assert.Equal(t, "keyword", res[0].Source)

	res, err = db.SearchKeyword(ctx, "", "castle", apptype.SearchOptions{EntityTypes: []string{"character"}})
	require.NoError(t, err)
	assert.Empty(t, res)

	_, err = db.SearchKeyword(ctx, "", "  !! ", apptype.SearchOptions{})
	assert.Error(t, err)
}

func TestListEmbeddings(t *testing.T) {
	db := setupTestDB(t)
	seed(t, db)
	recs, err := db.ListEmbeddings(context.Background(), "", []string{"character"}, 10)
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestIndexMetadata(t *testing.T) {
	db := setupTestDB(t)
	seed(t, db)
	idx := db.Index(apptype.IndexMetadata{EntityTypes: []string{"character"}})
	meta, err := idx.Metadata(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "libsql", meta.ID)
	assert.Equal(t, 4, meta.Dimensions)
	assert.Equal(t, int64(2), meta.VectorCount)
	assert.Equal(t, "ready", meta.Status)
}

func TestCacheStoreQuotaAndNamespaces(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	emb := db.CacheStore("emb")
	srch := db.CacheStore("search")

	require.NoError(t, emb.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, emb.Set(ctx, "b", []byte("2"), 0))
	require.NoError(t, srch.Set(ctx, "a", []byte("s"), time.Minute))

	err := emb.Set(ctx, "c", []byte("3"), time.Minute)
	assert.ErrorIs(t, err, cache.ErrQuotaExceeded)
	// overwriting an existing key is allowed at the quota
	require.NoError(t, emb.Set(ctx, "a", []byte("1b"), time.Minute))

	v, ok, err := emb.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1b", string(v))
	v, ok, err = srch.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "s", string(v))

	keys, err := emb.Keys(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, keys)

	require.NoError(t, emb.Clear(ctx))
	keys, err = emb.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
	_, ok, _ = srch.Get(ctx, "a")
	assert.True(t, ok)
}

func TestCacheStoreExpiry(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	s := db.CacheStore("emb")
	now := time.Now()
	s.now = func() time.Time { return now }
	require.NoError(t, s.Set(ctx, "k", []byte("v"), time.Second))

	s.now = func() time.Time { return now.Add(2 * time.Second) }
	_, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "gone", []byte("v"), time.Millisecond))
	time.Sleep(5 * time.Millisecond)
	n, err := db.SweepExpired(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, int64(1))
}

func TestPersistentTierOverLibSQL(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	tier := cache.NewPersistentTier[[]float32](cache.TierConfig{Name: "libsql", MaxEntries: 10}, db.CacheStore("emb"), nil)
	for _, k := range []string{"a", "b", "c", "d"} {
		require.NoError(t, tier.Set(ctx, k, []float32{1, 2}, time.Minute))
	}
	// quota of 3 rows forced one eviction of the oldest key
	_, ok, err := tier.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)
	v, ok, err := tier.Get(ctx, "d")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []float32{1, 2}, v)
}

func TestMultiCampaign(t *testing.T) {
	dir := t.TempDir()
	db, err := NewDBManager(&Config{CampaignsDir: dir, MultiCampaignMode: true, EmbeddingDims: 4}, nil)
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	require.NoError(t, db.UpsertEmbedding(ctx, apptype.EmbeddingRecord{EntityID: "e1", EntityType: "npc", CampaignID: "curse", Vector: []float32{1, 0, 0, 0}}))
	require.NoError(t, db.UpsertEmbedding(ctx, apptype.EmbeddingRecord{EntityID: "e2", EntityType: "npc", CampaignID: "tomb", Vector: []float32{1, 0, 0, 0}}))

	_, err = db.GetEmbedding(ctx, "curse", "e1")
	require.NoError(t, err)
	_, err = db.GetEmbedding(ctx, "curse", "e2")
	assert.Error(t, err)
	_, err = os.Stat(dir + "/tomb/vectors.db")
	assert.NoError(t, err)
}

func TestCoerceVector(t *testing.T) {
	for _, in := range []any{
		[]float32{0.1, 0.2},
		[]float64{0.1, 0.2},
		[]any{0.1, 0.2},
		[]any{"0.1", "0.2"},
	} {
		v, ok, err := CoerceVector(in)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Len(t, v, 2)
	}
	_, ok, _ := CoerceVector("dragon")
	assert.False(t, ok)
	_, _, err := CoerceVector([]any{map[string]any{}})
	assert.Error(t, err)
}
