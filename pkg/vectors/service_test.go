package vectors

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceRoundTrip(t *testing.T) {
	ctx := context.Background()
	svc, err := NewService(&Config{
		URL:                "file:" + filepath.Join(t.TempDir(), "vectors.db"),
		EmbeddingDims:      8,
		EmbeddingsProvider: "hash",
		SnapshotPath:       filepath.Join(t.TempDir(), "local.json"),
	})
	require.NoError(t, err)
	defer func() { assert.NoError(t, svc.Close()) }()

	assert.Equal(t, LevelFull, svc.Level())
	id, err := svc.StoreEmbedding(ctx, EmbeddingRecord{EntityID: "ireena", EntityType: "character", Text: "burgomaster's daughter"})
	require.NoError(t, err)
	assert.Equal(t, "ireena", id)

	res, err := svc.SearchText(ctx, "burgomaster's daughter", SearchOptions{EntityTypes: []string{"character"}})
	require.NoError(t, err)
	require.NotEmpty(t, res)
	assert.Equal(t, "ireena", res[0].EntityID)

	vec, err := svc.GenerateEmbedding(ctx, "burgomaster's daughter", EmbeddingOptions{})
	require.NoError(t, err)
	res, err = svc.SearchVector(ctx, vec, SearchOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, res)

	var levels []Level
	unsubscribe := svc.Subscribe(func(e Event) {
		if e.Type == "level_change" && e.Source == "service" {
			levels = append(levels, svc.Level())
		}
	})
	defer unsubscribe()
	svc.TripBreaker("test")
	assert.NotEqual(t, LevelFull, svc.Level())
	assert.NotEmpty(t, levels)

	// remote skipped while the circuit is open; local results still served
	res, err = svc.SearchVector(ctx, vec, SearchOptions{})
	require.NoError(t, err)
	assert.NotEmpty(t, res)

	// the local copy is dropped; the remote delete is refused by the open circuit
	err = svc.RemoveEmbedding(ctx, "ireena")
	assert.ErrorIs(t, err, ErrServiceUnavailable)

	svc.ResetBreaker()
	require.NoError(t, svc.RemoveEmbedding(ctx, "ireena"))
}

func TestInvalidConfig(t *testing.T) {
	_, err := NewService(&Config{CacheBackend: "etcd"})
	require.Error(t, err)
}
