// Package remote is the client side of the vector search backend: an
// embedding provider plus one or more vector indexes, routed by index scope.
package remote

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/apperr"
	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/apptype"
	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/embeddings"
)

// ServiceStatus is the result of a remote health probe.
type ServiceStatus struct {
	Available bool                    `json:"available"`
	Degraded  bool                    `json:"degraded"`
	Latency   time.Duration           `json:"latency"`
	Provider  string                  `json:"provider,omitempty"`
	Indexes   []apptype.IndexMetadata `json:"indexes,omitempty"`
	CheckedAt time.Time               `json:"checkedAt"`
}

// Service is what the resilience layer calls. Errors are *apperr.Error.
type Service interface {
	GenerateEmbedding(ctx context.Context, text string, opts apptype.EmbeddingOptions) ([]float32, error)
	FindSimilar(ctx context.Context, vector []float32, opts apptype.SearchOptions) ([]apptype.SearchResult, error)
	StoreEmbedding(ctx context.Context, rec apptype.EmbeddingRecord) error
	DeleteEmbedding(ctx context.Context, entityID string) error
	Status(ctx context.Context) (ServiceStatus, error)
}

// Index is one vector index backend.
type Index interface {
	Metadata(ctx context.Context) (apptype.IndexMetadata, error)
	Search(ctx context.Context, vector []float32, opts apptype.SearchOptions) ([]apptype.SearchResult, error)
	Upsert(ctx context.Context, rec apptype.EmbeddingRecord) error
	Delete(ctx context.Context, entityID string) error
}

// ErrNoProvider is returned by GenerateEmbedding when no provider is configured.
var ErrNoProvider = apperr.New(apperr.Permanent, "remote.embed", "no embeddings provider configured")

// Client implements Service over an embeddings.Provider and a list of indexes.
type Client struct {
	provider embeddings.Provider
	indexes  []Index
	logger   *zap.Logger

	// SlowThreshold marks a healthy probe as degraded.
	SlowThreshold time.Duration

	mu    sync.RWMutex
	metas map[int]apptype.IndexMetadata
}

var _ Service = (*Client)(nil)

// NewClient builds a client. provider may be nil when only vector queries
// are served.
func NewClient(provider embeddings.Provider, logger *zap.Logger, indexes ...Index) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		provider:      provider,
		indexes:       indexes,
		logger:        logger.Named("remote"),
		SlowThreshold: 2 * time.Second,
		metas:         make(map[int]apptype.IndexMetadata),
	}
}

// Provider returns the configured embeddings provider, possibly nil.
func (c *Client) Provider() embeddings.Provider { return c.provider }

// GenerateEmbedding embeds one text.
func (c *Client) GenerateEmbedding(ctx context.Context, text string, _ apptype.EmbeddingOptions) ([]float32, error) {
	if c.provider == nil {
		return nil, ErrNoProvider
	}
	vecs, err := c.provider.Embed(ctx, []string{text})
	if err != nil {
		return nil, ensureCategorized("remote.embed", err)
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return nil, apperr.New(apperr.Transient, "remote.embed", "empty embedding result")
	}
	return vecs[0], nil
}

// FindSimilar searches the first index serving the options' scope.
func (c *Client) FindSimilar(ctx context.Context, vector []float32, opts apptype.SearchOptions) ([]apptype.SearchResult, error) {
	opts = opts.Normalized()
	idx, meta, err := c.route(ctx, opts.EntityTypes, opts.WorldID, opts.CampaignID)
	if err != nil {
		return nil, err
	}
	if meta.Dimensions > 0 && len(vector) != meta.Dimensions {
		return nil, apperr.New(apperr.Permanent, "remote.search", fmt.Sprintf("query has %d dimensions, index %s expects %d", len(vector), meta.ID, meta.Dimensions))
	}
	res, err := idx.Search(ctx, vector, opts)
	if err != nil {
		return nil, ensureCategorized("remote.search", err)
	}
	for i := range res {
		res[i].Source = "remote"
	}
	return res, nil
}

// StoreEmbedding upserts rec into the index serving its type and scope. A
// record without a vector is embedded from its text first.
func (c *Client) StoreEmbedding(ctx context.Context, rec apptype.EmbeddingRecord) error {
	if len(rec.Vector) == 0 {
		if rec.Text == "" {
			return apperr.New(apperr.Permanent, "remote.store", "record has neither vector nor text")
		}
		v, err := c.GenerateEmbedding(ctx, rec.Text, apptype.EmbeddingOptions{})
		if err != nil {
			return err
		}
		rec.Vector = v
	}
	var types []string
	if rec.EntityType != "" {
		types = []string{rec.EntityType}
	}
	idx, meta, err := c.route(ctx, types, rec.WorldID, rec.CampaignID)
	if err != nil {
		return err
	}
	if meta.Dimensions > 0 && len(rec.Vector) != meta.Dimensions {
		return apperr.New(apperr.Permanent, "remote.store", fmt.Sprintf("vector has %d dimensions, index %s expects %d", len(rec.Vector), meta.ID, meta.Dimensions))
	}
	if err := idx.Upsert(ctx, rec); err != nil {
		return ensureCategorized("remote.store", err)
	}
	return nil
}

// DeleteEmbedding removes the entity from every index.
func (c *Client) DeleteEmbedding(ctx context.Context, entityID string) error {
	var errs []error
	for _, idx := range c.indexes {
		if err := idx.Delete(ctx, entityID); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return ensureCategorized("remote.delete", errors.Join(errs...))
	}
	return nil
}

// Status probes every index and refreshes the cached metadata used for routing.
func (c *Client) Status(ctx context.Context) (ServiceStatus, error) {
	start := time.Now()
	st := ServiceStatus{CheckedAt: start}
	if c.provider != nil {
		st.Provider = c.provider.Name()
	}
	var failed int
	var firstErr error
	for i, idx := range c.indexes {
		meta, err := idx.Metadata(ctx)
		if err != nil {
			failed++
			if firstErr == nil {
				firstErr = err
			}
			c.logger.Debug("index probe failed", zap.Int("index", i), zap.Error(err))
			continue
		}
		c.mu.Lock()
		c.metas[i] = meta
		c.mu.Unlock()
		st.Indexes = append(st.Indexes, meta)
	}
	st.Latency = time.Since(start)
	switch {
	case len(c.indexes) == 0:
		st.Available = c.provider != nil
	default:
		st.Available = failed < len(c.indexes)
	}
	st.Degraded = st.Available && (failed > 0 || st.Latency > c.SlowThreshold)
	if !st.Available && firstErr != nil {
		return st, ensureCategorized("remote.status", firstErr)
	}
	return st, nil
}

func (c *Client) metadata(ctx context.Context, i int) (apptype.IndexMetadata, error) {
	c.mu.RLock()
	m, ok := c.metas[i]
	c.mu.RUnlock()
	if ok {
		return m, nil
	}
	m, err := c.indexes[i].Metadata(ctx)
	if err != nil {
		return m, err
	}
	c.mu.Lock()
	c.metas[i] = m
	c.mu.Unlock()
	return m, nil
}

func (c *Client) route(ctx context.Context, types []string, worldID, campaignID string) (Index, apptype.IndexMetadata, error) {
	if len(c.indexes) == 0 {
		return nil, apptype.IndexMetadata{}, apperr.New(apperr.Permanent, "remote.route", "no vector indexes configured")
	}
	var lastErr error
	for i, idx := range c.indexes {
		meta, err := c.metadata(ctx, i)
		if err != nil {
			lastErr = err
			continue
		}
		if meta.Serves(types, worldID, campaignID) {
			return idx, meta, nil
		}
	}
	if lastErr != nil {
		return nil, apptype.IndexMetadata{}, ensureCategorized("remote.route", lastErr)
	}
	return nil, apptype.IndexMetadata{}, apperr.New(apperr.Permanent, "remote.route",
		fmt.Sprintf("no index serves types=%v world=%q campaign=%q", types, worldID, campaignID))
}

func ensureCategorized(op string, err error) error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	return apperr.Wrap(apperr.Classify(err), op, err)
}
