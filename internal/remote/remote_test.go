package remote

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/apperr"
	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/apptype"
	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/embeddings"
)

type memIndex struct {
	meta     apptype.IndexMetadata
	metaErr  error
	records  map[string]apptype.EmbeddingRecord
	searched int
}

func newMemIndex(meta apptype.IndexMetadata) *memIndex {
	return &memIndex{meta: meta, records: map[string]apptype.EmbeddingRecord{}}
}

func (m *memIndex) Metadata(context.Context) (apptype.IndexMetadata, error) {
	return m.meta, m.metaErr
}

func (m *memIndex) Search(_ context.Context, _ []float32, opts apptype.SearchOptions) ([]apptype.SearchResult, error) {
	m.searched++
	var out []apptype.SearchResult
	for id, r := range m.records {
		if opts.AllowsType(r.EntityType) {
			out = append(out, apptype.SearchResult{EntityID: id, EntityType: r.EntityType, Score: 0.9})
		}
	}
	return out, nil
}

func (m *memIndex) Upsert(_ context.Context, rec apptype.EmbeddingRecord) error {
	m.records[rec.EntityID] = rec
	return nil
}

func (m *memIndex) Delete(_ context.Context, id string) error {
	delete(m.records, id)
	return nil
}

func TestRoutingByEntityTypeAndScope(t *testing.T) {
	chars := newMemIndex(apptype.IndexMetadata{ID: "characters", EntityTypes: []string{"character", "faction"}, Dimensions: 4})
	places := newMemIndex(apptype.IndexMetadata{ID: "places", EntityTypes: []string{"location"}, Dimensions: 4, WorldID: "faerun"})
	c := NewClient(embeddings.NewHashProvider(4), nil, chars, places)
	ctx := context.Background()

	require.NoError(t, c.StoreEmbedding(ctx, apptype.EmbeddingRecord{EntityID: "drizzt", EntityType: "character", Text: "dark elf ranger"}))
	require.NoError(t, c.StoreEmbedding(ctx, apptype.EmbeddingRecord{EntityID: "waterdeep", EntityType: "location", Vector: []float32{1, 0, 0, 0}, WorldID: "faerun"}))
	assert.Contains(t, chars.records, "drizzt")
	assert.Len(t, chars.records["drizzt"].Vector, 4)
	assert.Contains(t, places.records, "waterdeep")

	err := c.StoreEmbedding(ctx, apptype.EmbeddingRecord{EntityID: "sigil", EntityType: "location", Vector: []float32{1, 0, 0, 0}, WorldID: "planescape"})
	require.Error(t, err)
	assert.Equal(t, apperr.Permanent, apperr.Classify(err))

	res, err := c.FindSimilar(ctx, []float32{1, 0, 0, 0}, apptype.SearchOptions{EntityTypes: []string{"location"}})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "remote", res[0].Source)
	assert.Equal(t, 1, places.searched)
}

func TestDimensionMismatchIsPermanent(t *testing.T) {
	idx := newMemIndex(apptype.IndexMetadata{ID: "all", Dimensions: 8})
	c := NewClient(nil, nil, idx)
	_, err := c.FindSimilar(context.Background(), []float32{1, 2}, apptype.SearchOptions{})
	require.Error(t, err)
	assert.Equal(t, apperr.Permanent, apperr.Classify(err))
}

func TestGenerateEmbeddingWithoutProvider(t *testing.T) {
	c := NewClient(nil, nil)
	_, err := c.GenerateEmbedding(context.Background(), "beholder", apptype.EmbeddingOptions{})
	assert.ErrorIs(t, err, ErrNoProvider)
}

func TestStatus(t *testing.T) {
	ok := newMemIndex(apptype.IndexMetadata{ID: "ok"})
	bad := newMemIndex(apptype.IndexMetadata{ID: "bad"})
	bad.metaErr = errors.New("connection refused")

	st, err := NewClient(nil, nil, ok, bad).Status(context.Background())
	require.NoError(t, err)
	assert.True(t, st.Available)
	assert.True(t, st.Degraded)
	assert.Len(t, st.Indexes, 1)

	st, err = NewClient(nil, nil, bad).Status(context.Background())
	require.Error(t, err)
	assert.False(t, st.Available)
	assert.Equal(t, apperr.Network, apperr.Classify(err))
}

func TestDeleteFromEveryIndex(t *testing.T) {
	a := newMemIndex(apptype.IndexMetadata{ID: "a"})
	b := newMemIndex(apptype.IndexMetadata{ID: "b"})
	a.records["x"] = apptype.EmbeddingRecord{EntityID: "x"}
	b.records["x"] = apptype.EmbeddingRecord{EntityID: "x"}
	require.NoError(t, NewClient(nil, nil, a, b).DeleteEmbedding(context.Background(), "x"))
	assert.Empty(t, a.records)
	assert.Empty(t, b.records)
}
