// Package vectordb serves campaign embeddings from a Milvus collection.
package vectordb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	mclient "github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/apptype"
)

// Client is the part of the Milvus SDK client the index uses.
type Client interface {
	HasCollection(ctx context.Context, collName string) (bool, error)
	CreateCollection(ctx context.Context, schema *entity.Schema, shardsNum int32, opts ...mclient.CreateCollectionOption) error
	CreateIndex(ctx context.Context, collName string, fieldName string, idx entity.Index, async bool, opts ...mclient.IndexOption) error
	LoadCollection(ctx context.Context, collName string, async bool, opts ...mclient.LoadCollectionOption) error
	GetCollectionStatistics(ctx context.Context, collName string) (map[string]string, error)
	Upsert(ctx context.Context, collName string, partitionName string, columns ...entity.Column) (entity.Column, error)
	Delete(ctx context.Context, collName string, partitionName string, expr string) error
	Search(ctx context.Context, collName string, partitions []string, expr string, outputFields []string, vectors []entity.Vector, vectorField string, metricType entity.MetricType, topK int, sp entity.SearchParam, opts ...mclient.SearchQueryOptionFunc) ([]mclient.SearchResult, error)
	Close() error
}

var _ Client = mclient.Client(nil)

const (
	fieldID       = "entity_id"
	fieldType     = "entity_type"
	fieldWorld    = "world_id"
	fieldCampaign = "campaign_id"
	fieldContent  = "content"
	fieldMetadata = "metadata"
	fieldVector   = "vector"

	maxContentLen = 4096
)

var outputFields = []string{fieldType, fieldContent, fieldMetadata}

// DefaultCollection is used when Config.Collection is empty.
const DefaultCollection = "campaign_embeddings"

// Config locates the collection.
type Config struct {
	Address    string
	Username   string
	Password   string
	DBName     string
	Collection string
	Dimensions int
	// Meta scopes what the index serves. ID defaults to "milvus".
	Meta apptype.IndexMetadata
}

// Index implements remote.Index over one collection.
type Index struct {
	cli         Client
	collection  string
	dims        int
	meta        apptype.IndexMetadata
	searchParam entity.SearchParam
	logger      *zap.Logger
}

// Dial connects to Milvus, creates the collection when missing and loads it.
func Dial(ctx context.Context, cfg Config, logger *zap.Logger) (*Index, error) {
	cli, err := mclient.NewClient(ctx, mclient.Config{
		Address:  strings.TrimSpace(cfg.Address),
		Username: strings.TrimSpace(cfg.Username),
		Password: strings.TrimSpace(cfg.Password),
		DBName:   strings.TrimSpace(cfg.DBName),
	})
	if err != nil {
		return nil, fmt.Errorf("milvus connect: %w", err)
	}
	idx, err := New(cli, cfg, logger)
	if err != nil {
		_ = cli.Close()
		return nil, err
	}
	if err := idx.EnsureCollection(ctx); err != nil {
		_ = cli.Close()
		return nil, err
	}
	return idx, nil
}

// New wraps an existing client.
func New(cli Client, cfg Config, logger *zap.Logger) (*Index, error) {
	if cli == nil {
		return nil, errors.New("milvus client is nil")
	}
	if strings.TrimSpace(cfg.Collection) == "" {
		cfg.Collection = DefaultCollection
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("invalid vector dimensions: %d", cfg.Dimensions)
	}
	sp, err := entity.NewIndexAUTOINDEXSearchParam(1)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	meta := cfg.Meta
	if meta.ID == "" {
		meta.ID = "milvus"
	}
	meta.Dimensions = cfg.Dimensions
	meta.DistanceMeasure = "cosine"
	return &Index{
		cli:         cli,
		collection:  cfg.Collection,
		dims:        cfg.Dimensions,
		meta:        meta,
		searchParam: sp,
		logger:      logger.Named("milvus"),
	}, nil
}

func (i *Index) schema() *entity.Schema {
	varchar := func(name string, n int, pk bool) *entity.Field {
		return &entity.Field{
			Name:       name,
			DataType:   entity.FieldTypeVarChar,
			PrimaryKey: pk,
			TypeParams: map[string]string{entity.TypeParamMaxLength: strconv.Itoa(n)},
		}
	}
	return &entity.Schema{
		CollectionName: i.collection,
		Description:    "campaign entity embeddings",
		Fields: []*entity.Field{
			varchar(fieldID, 128, true),
			varchar(fieldType, 32, false),
			varchar(fieldWorld, 128, false),
			varchar(fieldCampaign, 128, false),
			varchar(fieldContent, maxContentLen, false),
			{Name: fieldMetadata, DataType: entity.FieldTypeJSON},
			{
				Name:       fieldVector,
				DataType:   entity.FieldTypeFloatVector,
				TypeParams: map[string]string{entity.TypeParamDim: strconv.Itoa(i.dims)},
			},
		},
	}
}

// EnsureCollection creates the collection and its cosine AUTOINDEX when
// missing, then loads it for search.
func (i *Index) EnsureCollection(ctx context.Context) error {
	ok, err := i.cli.HasCollection(ctx, i.collection)
	if err != nil {
		return fmt.Errorf("milvus has collection: %w", err)
	}
	if !ok {
		if err := i.cli.CreateCollection(ctx, i.schema(), entity.DefaultShardNumber); err != nil {
			return fmt.Errorf("milvus create collection: %w", err)
		}
		idx, err := entity.NewIndexAUTOINDEX(entity.COSINE)
		if err != nil {
			return err
		}
		if err := i.cli.CreateIndex(ctx, i.collection, fieldVector, idx, false); err != nil {
			return fmt.Errorf("milvus create index: %w", err)
		}
		i.logger.Info("created collection", zap.String("collection", i.collection), zap.Int("dims", i.dims))
	}
	if err := i.cli.LoadCollection(ctx, i.collection, false); err != nil {
		return fmt.Errorf("milvus load collection: %w", err)
	}
	return nil
}

// Metadata reports the collection scope and row count.
func (i *Index) Metadata(ctx context.Context) (apptype.IndexMetadata, error) {
	m := i.meta
	stats, err := i.cli.GetCollectionStatistics(ctx, i.collection)
	if err != nil {
		m.Status = "unavailable"
		return m, err
	}
	if n, err := strconv.ParseInt(stats["row_count"], 10, 64); err == nil {
		m.VectorCount = n
	}
	m.Status = "ready"
	return m, nil
}

func (i *Index) Upsert(ctx context.Context, rec apptype.EmbeddingRecord) error {
	if rec.EntityID == "" {
		return errors.New("upsert record missing entity id")
	}
	if len(rec.Vector) != i.dims {
		return fmt.Errorf("vector dim mismatch for id=%s, got=%d want=%d", rec.EntityID, len(rec.Vector), i.dims)
	}
	meta := []byte("{}")
	if len(rec.Metadata) > 0 {
		b, err := json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		meta = b
	}
	content := rec.Text
	if len(content) > maxContentLen {
		content = content[:maxContentLen]
	}
	_, err := i.cli.Upsert(ctx, i.collection, "",
		entity.NewColumnVarChar(fieldID, []string{rec.EntityID}),
		entity.NewColumnVarChar(fieldType, []string{rec.EntityType}),
		entity.NewColumnVarChar(fieldWorld, []string{rec.WorldID}),
		entity.NewColumnVarChar(fieldCampaign, []string{rec.CampaignID}),
		entity.NewColumnVarChar(fieldContent, []string{content}),
		entity.NewColumnJSONBytes(fieldMetadata, [][]byte{meta}),
		entity.NewColumnFloatVector(fieldVector, i.dims, [][]float32{rec.Vector}),
	)
	return err
}

func (i *Index) Delete(ctx context.Context, entityID string) error {
	return i.cli.Delete(ctx, i.collection, "", fmt.Sprintf("%s in [%s]", fieldID, strconv.Quote(entityID)))
}

// Search runs a cosine ANN query filtered by the options' scope. Scores are
// cosine similarity clamped to [0,1].
func (i *Index) Search(ctx context.Context, vector []float32, opts apptype.SearchOptions) ([]apptype.SearchResult, error) {
	if len(vector) != i.dims {
		return nil, fmt.Errorf("vector dim mismatch, got=%d want=%d", len(vector), i.dims)
	}
	opts = opts.Normalized()
	res, err := i.cli.Search(ctx, i.collection, []string{}, filterExpr(opts), outputFields,
		[]entity.Vector{entity.FloatVector(vector)}, fieldVector, entity.COSINE, opts.Limit, i.searchParam)
	if err != nil {
		return nil, err
	}
	if len(res) == 0 {
		return []apptype.SearchResult{}, nil
	}
	hits, err := parseSearchResult(res[0])
	if err != nil {
		return nil, err
	}
	out := hits[:0]
	for _, h := range hits {
		if h.Score >= opts.MinScore {
			out = append(out, h)
		}
	}
	return out, nil
}

func filterExpr(opts apptype.SearchOptions) string {
	var clauses []string
	if len(opts.EntityTypes) > 0 {
		quoted := make([]string, len(opts.EntityTypes))
		for k, t := range opts.EntityTypes {
			quoted[k] = strconv.Quote(t)
		}
		clauses = append(clauses, fmt.Sprintf("%s in [%s]", fieldType, strings.Join(quoted, ",")))
	}
	if opts.WorldID != "" {
		clauses = append(clauses, fmt.Sprintf("%s == %s", fieldWorld, strconv.Quote(opts.WorldID)))
	}
	if opts.CampaignID != "" {
		clauses = append(clauses, fmt.Sprintf("%s == %s", fieldCampaign, strconv.Quote(opts.CampaignID)))
	}
	return strings.Join(clauses, " && ")
}

func parseSearchResult(sr mclient.SearchResult) ([]apptype.SearchResult, error) {
	if sr.Err != nil {
		return nil, sr.Err
	}
	hits := make([]apptype.SearchResult, 0, sr.ResultCount)
	typeCol := columnByName(sr.Fields, fieldType)
	contentCol := columnByName(sr.Fields, fieldContent)
	metaCol := columnByName(sr.Fields, fieldMetadata)

	for k := 0; k < sr.ResultCount; k++ {
		id, _ := sr.IDs.GetAsString(k)
		h := apptype.SearchResult{EntityID: id}
		if k < len(sr.Scores) {
			h.Score = clamp01(float64(sr.Scores[k]))
		}
		if typeCol != nil {
			h.EntityType, _ = typeCol.GetAsString(k)
		}
		if contentCol != nil {
			h.Text, _ = contentCol.GetAsString(k)
		}
		if metaCol != nil {
			v, _ := metaCol.Get(k)
			if bs, ok := v.([]byte); ok && len(bs) > 2 {
				var m map[string]any
				if json.Unmarshal(bs, &m) == nil && len(m) > 0 {
					h.Metadata = m
				}
			}
		}
		hits = append(hits, h)
	}
	return hits, nil
}

func columnByName(cols mclient.ResultSet, name string) entity.Column {
	for _, c := range cols {
		if c != nil && c.Name() == name {
			return c
		}
	}
	return nil
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

// Close releases the client.
func (i *Index) Close() error { return i.cli.Close() }
