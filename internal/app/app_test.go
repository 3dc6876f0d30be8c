package app

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/apptype"
	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/config"
	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/vectorservice"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Database.URL = "file:" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared"
	cfg.Embeddings.Provider = "hash"
	cfg.Embeddings.Dimensions = 8
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestBuildLibsqlBackend(t *testing.T) {
	ctx := context.Background()
	a, err := Build(ctx, testConfig(t), zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, a.Start(ctx))
	defer func() { assert.NoError(t, a.Close()) }()

	assert.Equal(t, vectorservice.LevelFull, a.Service.Level())
	id, err := a.Service.StoreEmbedding(ctx, apptype.EmbeddingRecord{EntityType: "location", Text: "castle ravenloft"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	res, err := a.Service.FindSimilar(ctx, apptype.Query{Text: "castle ravenloft"}, apptype.SearchOptions{Limit: 5})
	require.NoError(t, err)
	require.NotEmpty(t, res)
	assert.Equal(t, id, res[0].EntityID)

	keys, err := a.DB.CacheStore("emb").Keys(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, keys, "embedding written through to the persistent tier")
}

func TestBuildRedisBackend(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Database.CacheBackend = "redis"
	cfg.Redis.Addr = mr.Addr()

	ctx := context.Background()
	a, err := Build(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	defer func() { assert.NoError(t, a.Close()) }()

	_, err = a.Service.GenerateEmbedding(ctx, "the sunsword", apptype.EmbeddingOptions{})
	require.NoError(t, err)

	var found bool
	for _, k := range mr.Keys() {
		if strings.HasPrefix(k, cfg.Redis.Prefix+"emb:") {
			found = true
		}
	}
	assert.True(t, found, "embedding cached in redis under %q: %v", cfg.Redis.Prefix+"emb:", mr.Keys())
}

func TestBuildFailsOnUnreachableRedis(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.CacheBackend = "redis"
	cfg.Redis.Addr = "127.0.0.1:1"
	_, err := Build(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
}

type recordingIndex struct {
	upserts []string
	deletes []string
	err     error
}

func (r *recordingIndex) Metadata(context.Context) (apptype.IndexMetadata, error) {
	return apptype.IndexMetadata{ID: "rec"}, nil
}

func (r *recordingIndex) Search(context.Context, []float32, apptype.SearchOptions) ([]apptype.SearchResult, error) {
	return nil, nil
}

func (r *recordingIndex) Upsert(_ context.Context, rec apptype.EmbeddingRecord) error {
	if r.err != nil {
		return r.err
	}
	r.upserts = append(r.upserts, rec.EntityID)
	return nil
}

func (r *recordingIndex) Delete(_ context.Context, id string) error {
	if r.err != nil {
		return r.err
	}
	r.deletes = append(r.deletes, id)
	return nil
}

func TestMirroredIndex(t *testing.T) {
	ctx := context.Background()
	primary, mirror := &recordingIndex{}, &recordingIndex{}
	m := &mirroredIndex{Index: primary, mirror: mirror, logger: zap.NewNop()}

	require.NoError(t, m.Upsert(ctx, apptype.EmbeddingRecord{EntityID: "strahd"}))
	require.NoError(t, m.Delete(ctx, "strahd"))
	assert.Equal(t, []string{"strahd"}, primary.upserts)
	assert.Equal(t, []string{"strahd"}, mirror.upserts)
	assert.Equal(t, []string{"strahd"}, mirror.deletes)

	// mirror failures are logged, not returned
	mirror.err = errors.New("disk full")
	require.NoError(t, m.Upsert(ctx, apptype.EmbeddingRecord{EntityID: "ireena"}))

	// primary failures skip the mirror
	primary.err = errors.New("milvus down")
	mirror.err = nil
	require.Error(t, m.Upsert(ctx, apptype.EmbeddingRecord{EntityID: "van-richten"}))
	assert.Equal(t, []string{"strahd"}, mirror.upserts)
}
