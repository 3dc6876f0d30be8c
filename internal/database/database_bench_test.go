package database

import (
	"context"
	"math/rand"
	"strconv"
	"testing"

	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/apptype"
)

func setupBenchDB(b *testing.B, n int) *DBManager {
	b.Helper()
	cfg := NewConfig()
	cfg.URL = "file:benchdb?mode=memory&cache=shared"
	cfg.EmbeddingDims = 4
	dbm, err := NewDBManager(cfg, nil)
	if err != nil {
		b.Fatalf("NewDBManager: %v", err)
	}
	b.Cleanup(func() { _ = dbm.Close() })

	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))
	types := []string{apptype.EntityCharacter, apptype.EntityLocation, apptype.EntityItem}
	for i := range n {
		vec := make([]float32, cfg.EmbeddingDims)
		for d := range vec {
			vec[d] = rng.Float32()
		}
		rec := apptype.EmbeddingRecord{
			EntityID:   "e_" + strconv.Itoa(i),
			EntityType: types[i%len(types)],
			Vector:     vec,
			Text:       "tavern rumor about the lich",
		}
		if err := dbm.UpsertEmbedding(ctx, rec); err != nil {
			b.Fatalf("UpsertEmbedding: %v", err)
		}
	}
	return dbm
}

func BenchmarkSearchSimilar(b *testing.B) {
	dbm := setupBenchDB(b, 2000)
	ctx := context.Background()
	q := []float32{0.1, 0.2, 0.3, 0.4}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := dbm.SearchSimilar(ctx, "", q, apptype.SearchOptions{Limit: 10}); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkSearchKeyword(b *testing.B) {
	dbm := setupBenchDB(b, 2000)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := dbm.SearchKeyword(ctx, "", "lich", apptype.SearchOptions{Limit: 10}); err != nil {
			b.Fatal(err)
		}
	}
}
