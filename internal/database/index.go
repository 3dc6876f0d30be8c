package database

import (
	"context"

	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/apptype"
)

// Index exposes one campaign's embeddings as a remote vector index.
type Index struct {
	dm   *DBManager
	meta apptype.IndexMetadata
}

// Index returns a vector index over the campaign's entity_embeddings table.
// meta.EntityTypes, WorldID and CampaignID scope what the index serves; ID
// defaults to "libsql".
func (dm *DBManager) Index(meta apptype.IndexMetadata) *Index {
	if meta.ID == "" {
		meta.ID = "libsql"
	}
	meta.DistanceMeasure = "cosine"
	return &Index{dm: dm, meta: meta}
}

// Metadata reports the index scope and live vector count.
func (i *Index) Metadata(ctx context.Context) (apptype.IndexMetadata, error) {
	m := i.meta
	m.Dimensions = i.dm.EmbeddingDims()
	n, err := i.dm.CountEmbeddings(ctx, m.CampaignID, m.EntityTypes)
	if err != nil {
		m.Status = "unavailable"
		return m, err
	}
	m.VectorCount = n
	m.Status = "ready"
	return m, nil
}

func (i *Index) Search(ctx context.Context, vector []float32, opts apptype.SearchOptions) ([]apptype.SearchResult, error) {
	return i.dm.SearchSimilar(ctx, i.campaign(opts.CampaignID), vector, opts)
}

func (i *Index) Upsert(ctx context.Context, rec apptype.EmbeddingRecord) error {
	return i.dm.UpsertEmbedding(ctx, rec)
}

func (i *Index) Delete(ctx context.Context, entityID string) error {
	return i.dm.DeleteEmbedding(ctx, i.meta.CampaignID, entityID)
}

func (i *Index) campaign(requested string) string {
	if requested != "" {
		return requested
	}
	return i.meta.CampaignID
}

// Keyword runs keyword search over the same campaign.
func (i *Index) Keyword(ctx context.Context, text string, opts apptype.SearchOptions) ([]apptype.SearchResult, error) {
	return i.dm.SearchKeyword(ctx, i.campaign(opts.CampaignID), text, opts)
}
