package vectordb

import (
	"context"
	"errors"
	"testing"

	mclient "github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/apptype"
)

type fakeClient struct {
	has       bool
	created   *entity.Schema
	indexed   string
	loaded    bool
	upserted  []entity.Column
	deleted   string
	lastExpr  string
	lastTopK  int
	result    mclient.SearchResult
	statsErr  error
	rowCount  string
	searchErr error
}

func (f *fakeClient) HasCollection(context.Context, string) (bool, error) { return f.has, nil }
func (f *fakeClient) CreateCollection(_ context.Context, s *entity.Schema, _ int32, _ ...mclient.CreateCollectionOption) error {
	f.created = s
	return nil
}
func (f *fakeClient) CreateIndex(_ context.Context, _ string, field string, _ entity.Index, _ bool, _ ...mclient.IndexOption) error {
	f.indexed = field
	return nil
}
func (f *fakeClient) LoadCollection(context.Context, string, bool, ...mclient.LoadCollectionOption) error {
	f.loaded = true
	return nil
}
func (f *fakeClient) GetCollectionStatistics(context.Context, string) (map[string]string, error) {
	if f.statsErr != nil {
		return nil, f.statsErr
	}
	return map[string]string{"row_count": f.rowCount}, nil
}
func (f *fakeClient) Upsert(_ context.Context, _ string, _ string, cols ...entity.Column) (entity.Column, error) {
	f.upserted = cols
	return cols[0], nil
}
func (f *fakeClient) Delete(_ context.Context, _ string, _ string, expr string) error {
	f.deleted = expr
	return nil
}
func (f *fakeClient) Search(_ context.Context, _ string, _ []string, expr string, _ []string, _ []entity.Vector, _ string, _ entity.MetricType, topK int, _ entity.SearchParam, _ ...mclient.SearchQueryOptionFunc) ([]mclient.SearchResult, error) {
	f.lastExpr = expr
	f.lastTopK = topK
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return []mclient.SearchResult{f.result}, nil
}
func (f *fakeClient) Close() error { return nil }

func newTestIndex(t *testing.T, f *fakeClient) *Index {
	t.Helper()
	idx, err := New(f, Config{Collection: "npcs", Dimensions: 3, Meta: apptype.IndexMetadata{EntityTypes: []string{"character"}}}, nil)
	require.NoError(t, err)
	return idx
}

func TestEnsureCollectionCreatesWhenMissing(t *testing.T) {
	f := &fakeClient{}
	idx := newTestIndex(t, f)
	require.NoError(t, idx.EnsureCollection(context.Background()))
	require.NotNil(t, f.created)
	assert.Equal(t, "npcs", f.created.CollectionName)
	assert.Equal(t, fieldVector, f.indexed)
	assert.True(t, f.loaded)

	f2 := &fakeClient{has: true}
	require.NoError(t, newTestIndex(t, f2).EnsureCollection(context.Background()))
	assert.Nil(t, f2.created)
	assert.True(t, f2.loaded)
}

func TestUpsertValidatesAndWritesColumns(t *testing.T) {
	f := &fakeClient{}
	idx := newTestIndex(t, f)
	ctx := context.Background()

	assert.Error(t, idx.Upsert(ctx, apptype.EmbeddingRecord{EntityID: "vecna", Vector: []float32{1}}))
	assert.Error(t, idx.Upsert(ctx, apptype.EmbeddingRecord{Vector: []float32{1, 2, 3}}))

	require.NoError(t, idx.Upsert(ctx, apptype.EmbeddingRecord{
		EntityID: "vecna", EntityType: "character", Vector: []float32{1, 2, 3},
		Metadata: map[string]any{"alignment": "evil"},
	}))
	require.Len(t, f.upserted, 7)
	id, err := f.upserted[0].GetAsString(0)
	require.NoError(t, err)
	assert.Equal(t, "vecna", id)
}

func TestSearchBuildsFilterAndParses(t *testing.T) {
	f := &fakeClient{result: mclient.SearchResult{
		ResultCount: 2,
		IDs:         entity.NewColumnVarChar(fieldID, []string{"vecna", "kas"}),
		Fields: mclient.ResultSet{
			entity.NewColumnVarChar(fieldType, []string{"character", "character"}),
			entity.NewColumnVarChar(fieldContent, []string{"the whispered one", "the bloody handed"}),
			entity.NewColumnJSONBytes(fieldMetadata, [][]byte{[]byte(`{"tier":"god"}`), []byte(`{}`)}),
		},
		Scores: []float32{0.92, 0.2},
	}}
	idx := newTestIndex(t, f)

	res, err := idx.Search(context.Background(), []float32{1, 0, 0}, apptype.SearchOptions{
		EntityTypes: []string{"character"}, WorldID: "greyhawk", MinScore: 0.5, Limit: 4,
	})
	require.NoError(t, err)
	assert.Equal(t, `entity_type in ["character"] && world_id == "greyhawk"`, f.lastExpr)
	assert.Equal(t, 4, f.lastTopK)
	require.Len(t, res, 1)
	assert.Equal(t, "vecna", res[0].EntityID)
	assert.Equal(t, "the whispered one", res[0].Text)
	assert.Equal(t, "god", res[0].Metadata["tier"])
	assert.InDelta(t, 0.92, res[0].Score, 1e-6)

	_, err = idx.Search(context.Background(), []float32{1}, apptype.SearchOptions{})
	assert.Error(t, err)
}

func TestMetadataAndDelete(t *testing.T) {
	f := &fakeClient{rowCount: "42"}
	idx := newTestIndex(t, f)
	ctx := context.Background()

	m, err := idx.Metadata(ctx)
	require.NoError(t, err)
	assert.Equal(t, "milvus", m.ID)
	assert.Equal(t, int64(42), m.VectorCount)
	assert.Equal(t, 3, m.Dimensions)
	assert.Equal(t, "ready", m.Status)

	f.statsErr = errors.New("connection refused")
	m, err = idx.Metadata(ctx)
	assert.Error(t, err)
	assert.Equal(t, "unavailable", m.Status)

	require.NoError(t, idx.Delete(ctx, "vecna"))
	assert.Equal(t, `entity_id in ["vecna"]`, f.deleted)
}

func TestFilterExprEmpty(t *testing.T) {
	assert.Equal(t, "", filterExpr(apptype.SearchOptions{}))
	assert.Equal(t, `campaign_id == "c\"1"`, filterExpr(apptype.SearchOptions{CampaignID: `c"1`}))
}
