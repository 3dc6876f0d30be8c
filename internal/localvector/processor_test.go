package localvector

import (
	"math"
	"math/rand/v2"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomVector(rng *rand.Rand, dims int) []float32 {
	v := make([]float32, dims)
	for i := range v {
		v[i] = float32(rng.NormFloat64())
	}
	return v
}

func testConfig(dims int) Config {
	cfg := DefaultConfig()
	cfg.Dimensions = dims
	return cfg
}

func TestSelfMatchCosine(t *testing.T) {
	p := New(testConfig(64), nil)
	rng := rand.New(rand.NewPCG(1, 2))
	target := randomVector(rng, 64)
	require.True(t, p.AddVector("npc-strahd", "character", target, map[string]any{"name": "Strahd"}))
	for i := 0; i < 20; i++ {
		require.True(t, p.AddVector(string(rune('a'+i)), "location", randomVector(rng, 64), nil))
	}

	res := p.FindSimilar(target, nil, 1, 0)
	require.Len(t, res, 1)
	assert.Equal(t, "npc-strahd", res[0].EntityID)
	assert.GreaterOrEqual(t, res[0].Score, 0.99)
	assert.Equal(t, "local", res[0].Source)
	assert.Equal(t, "Strahd", res[0].Metadata["name"])
}

func TestInsertionOrderEviction(t *testing.T) {
	cfg := testConfig(2)
	cfg.MaxCachedVectors = 2
	p := New(cfg, nil)
	p.AddVector("first", "item", []float32{1, 0}, nil)
	p.AddVector("second", "item", []float32{0, 1}, nil)
	// Searching must not refresh "first".
	p.FindSimilar([]float32{1, 0}, nil, 5, 0)
	p.AddVector("third", "item", []float32{1, 1}, nil)

	assert.False(t, p.Has("first"))
	assert.True(t, p.Has("second"))
	assert.True(t, p.Has("third"))
	assert.Equal(t, int64(1), p.Stats().Evictions)
}

func TestFilterLimitAndOrdering(t *testing.T) {
	p := New(testConfig(2), nil)
	p.AddVector("tavern", "location", []float32{1, 0}, nil)
	p.AddVector("inn", "location", []float32{0.9, 0.1}, nil)
	p.AddVector("sword", "item", []float32{1, 0}, nil)
	p.AddVector("cave", "location", []float32{-1, 0}, nil)

	res := p.FindSimilar([]float32{1, 0}, []string{"location"}, 10, 0.5)
	require.Len(t, res, 2)
	assert.Equal(t, "tavern", res[0].EntityID)
	assert.Equal(t, "inn", res[1].EntityID)
	assert.Greater(t, res[0].Score, res[1].Score)

	res = p.FindSimilar([]float32{1, 0}, nil, 1, 0)
	require.Len(t, res, 1)
}

func TestSimilarityFunctions(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{0, 1}
	assert.InDelta(t, 1.0, Similarity(Cosine, a, a), 1e-9)
	assert.InDelta(t, 0.5, Similarity(Cosine, a, b), 1e-9)
	assert.InDelta(t, 0.0, Similarity(Cosine, a, []float32{-1, 0}), 1e-9)
	assert.Equal(t, 0.0, Similarity(Cosine, a, []float32{0, 0}))
	assert.InDelta(t, 3.0, Similarity(DotProduct, []float32{1, 1}, []float32{1, 2}), 1e-9)
	assert.InDelta(t, 1/(1+math.Sqrt2), Similarity(Euclidean, a, b), 1e-9)
	assert.Equal(t, 1.0, Similarity(Euclidean, a, a))
	assert.Equal(t, 0.0, Similarity(Cosine, a, []float32{1}))
}

func TestCompressionProjectsDeterministically(t *testing.T) {
	cfg := testConfig(128)
	cfg.CompressionRatio = 0.25
	p1 := New(cfg, nil)
	p2 := New(cfg, nil)
	rng := rand.New(rand.NewPCG(3, 4))
	v := randomVector(rng, 128)
	p1.AddVector("x", "item", v, nil)
	p2.AddVector("x", "item", v, nil)

	s1, s2 := p1.Export(), p2.Export()
	require.Len(t, s1.Vectors, 1)
	assert.Equal(t, 32, p1.Stats().CompressedDimensions)

	res := p1.FindSimilar(v, nil, 1, 0)
	require.Len(t, res, 1)
	assert.InDelta(t, 1.0, res[0].Score, 1e-6)
	assert.Equal(t, s1.Vectors[0].Vector, s2.Vectors[0].Vector)
}

func TestUpdateConfigRebuildsProjection(t *testing.T) {
	p := New(testConfig(16), nil)
	rng := rand.New(rand.NewPCG(5, 6))
	v := randomVector(rng, 16)
	p.AddVector("x", "item", v, nil)

	cfg := p.Config()
	cfg.CompressionRatio = 0.5
	require.NoError(t, p.UpdateConfig(cfg))
	assert.Equal(t, 8, p.Stats().CompressedDimensions)
	res := p.FindSimilar(v, nil, 1, 0)
	require.Len(t, res, 1)
	assert.InDelta(t, 1.0, res[0].Score, 1e-6)

	cfg.MaxCachedVectors = 0
	assert.Error(t, p.UpdateConfig(cfg))
}

func TestUpdateConfigShrinksCapacity(t *testing.T) {
	p := New(testConfig(2), nil)
	for _, id := range []string{"a", "b", "c"} {
		p.AddVector(id, "item", []float32{1, 1}, nil)
	}
	cfg := p.Config()
	cfg.MaxCachedVectors = 1
	require.NoError(t, p.UpdateConfig(cfg))
	assert.Equal(t, 1, p.Len())
	assert.True(t, p.Has("c"))
}

func TestRejectsWrongDimensionsAndDisabled(t *testing.T) {
	p := New(testConfig(3), nil)
	assert.False(t, p.AddVector("x", "item", []float32{1, 2}, nil))
	assert.Empty(t, p.FindSimilar([]float32{1, 2}, nil, 5, 0))

	cfg := testConfig(3)
	cfg.Enabled = false
	off := New(cfg, nil)
	assert.False(t, off.AddVector("x", "item", []float32{1, 2, 3}, nil))
	assert.NotNil(t, off.FindSimilar([]float32{1, 2, 3}, nil, 5, 0))
}

func TestSnapshotRoundTripThroughFile(t *testing.T) {
	p := New(testConfig(2), nil)
	p.AddVector("a", "character", []float32{1, 0}, map[string]any{"campaign": "curse"})
	p.AddVector("b", "location", []float32{0, 1}, nil)

	path := filepath.Join(t.TempDir(), "local", "vectors.json")
	require.NoError(t, p.SaveFile(path))

	q := New(testConfig(2), nil)
	n, err := q.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	res := q.FindSimilar([]float32{1, 0}, nil, 1, 0)
	require.Len(t, res, 1)
	assert.Equal(t, "a", res[0].EntityID)
	assert.Equal(t, "curse", res[0].Metadata["campaign"])

	n, err = New(testConfig(2), nil).LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestImportSkipsMismatchedVectors(t *testing.T) {
	p := New(testConfig(2), nil)
	n, err := p.Import(Snapshot{Version: snapshotVersion, Vectors: []CachedVector{
		{EntityID: "ok", Vector: []float32{1, 0}},
		{EntityID: "bad", Vector: []float32{1, 0, 0}},
		{Vector: []float32{1, 0}},
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = p.Import(Snapshot{Version: 99})
	assert.Error(t, err)
}

func TestRemoveVector(t *testing.T) {
	p := New(testConfig(2), nil)
	p.AddVector("a", "item", []float32{1, 0}, nil)
	assert.True(t, p.RemoveVector("a"))
	assert.False(t, p.RemoveVector("a"))
	assert.Empty(t, p.FindSimilar([]float32{1, 0}, nil, 5, 0))
}
